package sink

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Arsene94/dacarsfe-sub002/internal/event"
	"github.com/Arsene94/dacarsfe-sub002/internal/logging"
	"github.com/Arsene94/dacarsfe-sub002/internal/metrics"
)

var errNotStarted = errors.New("sink not started")

// pendingBatches bounds the buffer at this many full batches while writes
// keep failing.
const pendingBatches = 20

// batcher buffers records for a database sink. It writes when the buffer
// reaches size and on every interval tick; a failed write puts the records
// back. Past limit the oldest records are dropped and counted as sink errors.
type batcher struct {
	name     string
	size     int
	limit    int
	interval time.Duration
	clock    clockwork.Clock
	metrics  *metrics.Metrics
	write    func(ctx context.Context, recs []event.Record) error

	mu    sync.Mutex
	batch []event.Record

	// writeMu serializes writes so records reach the database in order.
	writeMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newBatcher(name string, size int, flushMS int, write func(context.Context, []event.Record) error) *batcher {
	if size <= 0 {
		size = 500
	}
	if flushMS <= 0 {
		flushMS = 500
	}
	return &batcher{
		name:     name,
		size:     size,
		limit:    size * pendingBatches,
		interval: time.Duration(flushMS) * time.Millisecond,
		clock:    clockwork.NewRealClock(),
		metrics:  metrics.Default(),
		write:    write,
		batch:    make([]event.Record, 0, size),
	}
}

// start launches the interval flusher.
func (b *batcher) start(ctx context.Context) {
	b.ctx, b.cancel = context.WithCancel(ctx)
	b.done = make(chan struct{})
	go b.flushRoutine()
}

// add buffers rec. A full buffer is written right away unless another write
// is in flight; that write or the next tick picks the records up.
func (b *batcher) add(rec event.Record) error {
	b.mu.Lock()
	b.batch = append(b.batch, rec)
	b.trimLocked()
	full := len(b.batch) >= b.size
	b.mu.Unlock()

	if !full || !b.writeMu.TryLock() {
		return nil
	}
	defer b.writeMu.Unlock()
	return b.writeBuffered()
}

func (b *batcher) flush() error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	return b.writeBuffered()
}

// writeBuffered takes the buffer and writes it without holding mu. Callers
// hold writeMu.
func (b *batcher) writeBuffered() error {
	b.mu.Lock()
	recs := b.batch
	b.batch = make([]event.Record, 0, b.size)
	b.mu.Unlock()

	if len(recs) == 0 {
		return nil
	}
	ctx := b.ctx
	if ctx == nil || ctx.Err() != nil {
		ctx = context.Background()
	}
	err := b.write(ctx, recs)
	if err == nil {
		return nil
	}

	b.mu.Lock()
	b.batch = append(recs, b.batch...)
	b.trimLocked()
	b.mu.Unlock()
	return err
}

func (b *batcher) trimLocked() {
	over := len(b.batch) - b.limit
	if b.limit <= 0 || over <= 0 {
		return
	}
	b.batch = append(make([]event.Record, 0, b.limit), b.batch[over:]...)
	b.metrics.AddSinkErrors(b.name, "dropped", over)
	logging.Warn().Str("sink", b.name).Int("dropped", over).Int("limit", b.limit).
		Msg("sink: buffer full, dropping oldest records")
}

func (b *batcher) pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.batch)
}

func (b *batcher) flushRoutine() {
	defer close(b.done)
	ticker := b.clock.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.Chan():
			if err := b.flush(); err != nil {
				logging.Error().Err(err).Str("sink", b.name).Int("pending", b.pending()).Msg("sink: periodic flush failed")
			}
		}
	}
}

// stop ends the flusher and writes whatever is left.
func (b *batcher) stop() error {
	if b.cancel != nil {
		b.cancel()
		<-b.done
		b.cancel = nil
	}
	return b.flush()
}
