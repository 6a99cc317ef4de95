// Package analytics is the event queue and batcher of the tracking client.
// A Client owns the queue, the flush timer and the enabled flag; hosts build
// one at startup and hand it to whatever emits events.
package analytics

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Arsene94/dacarsfe-sub002/internal/environment"
	"github.com/Arsene94/dacarsfe-sub002/internal/event"
	"github.com/Arsene94/dacarsfe-sub002/internal/geo"
	"github.com/Arsene94/dacarsfe-sub002/internal/identity"
	"github.com/Arsene94/dacarsfe-sub002/internal/metrics"
	"github.com/Arsene94/dacarsfe-sub002/internal/transport"
	"github.com/Arsene94/dacarsfe-sub002/pkg/config"
)

// Defaults used when Options leave a knob at zero.
const (
	DefaultMaxBatchSize  = 50
	DefaultMinBatchSize  = 10
	DefaultFlushInterval = 7 * time.Second
)

// Sender delivers one batch. transport.Transport implements it.
type Sender interface {
	Send(ctx context.Context, events []event.Queued, useBeacon bool) bool
}

// FlushOptions select the delivery mode of a flush.
type FlushOptions struct {
	// UseBeacon is set at page hide/unload. Beacon flushes run even while
	// another flush is in flight.
	UseBeacon bool
}

// Options configure a Client. Only Env is required; Sender defaults to a
// transport.Transport built from Config, Requester and Beacon.
type Options struct {
	Env    environment.Environment
	Config config.Client

	Requester transport.Requester
	Beacon    transport.Beacon
	Sender    Sender

	Identity *identity.Store
	Resolver *geo.Resolver
	Clock    clockwork.Clock
	Metrics  *metrics.Metrics
}

type entry struct {
	seq uint64
	ev  event.Queued
}

// Client queues normalized events and flushes them in FIFO batches.
type Client struct {
	env      environment.Environment
	ids      *identity.Store
	resolver *geo.Resolver
	sender   Sender
	clock    clockwork.Clock
	metrics  *metrics.Metrics

	maxBatch int
	minBatch int
	interval time.Duration

	mu       sync.Mutex
	queue    []entry
	seq      uint64
	timer    clockwork.Timer
	enabled  bool
	flushing bool
	closed   bool
	lastPage string
}

// New builds a client. Nil options fall back to a headless environment, a
// real clock and an HTTP requester.
func New(o Options) *Client {
	env := o.Env
	if env == nil {
		env = environment.Headless{}
	}
	ids := o.Identity
	if ids == nil {
		ids = identity.NewStore(env)
	}
	resolver := o.Resolver
	if resolver == nil {
		resolver = geo.NewResolver(env)
	}
	clock := o.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	c := &Client{
		env:      env,
		ids:      ids,
		resolver: resolver,
		clock:    clock,
		metrics:  o.Metrics,
		maxBatch: positive(o.Config.MaxBatchSize, DefaultMaxBatchSize),
		minBatch: positive(o.Config.MinBatchSize, DefaultMinBatchSize),
		interval: o.Config.FlushInterval,
	}
	if c.interval <= 0 {
		c.interval = DefaultFlushInterval
	}

	c.sender = o.Sender
	if c.sender == nil {
		requester := o.Requester
		if requester == nil {
			requester = &transport.HTTPRequester{}
		}
		if o.Config.Breaker {
			requester = transport.NewBreakerRequester(requester, transport.BreakerSettings{})
		}
		c.sender = transport.New(transport.Options{
			Endpoint:  o.Config.Endpoint,
			Requester: requester,
			Beacon:    o.Beacon,
			Identity:  ids,
			Country:   func() string { return resolver.ResolveCountry("") },
			Metrics:   o.Metrics,
		})
	}
	return c
}

func positive(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Identity exposes the store backing the envelope ids.
func (c *Client) Identity() *identity.Store { return c.ids }

// Enable turns tracking on and warms the visitor and session ids.
func (c *Client) Enable() {
	c.mu.Lock()
	c.enabled = true
	c.mu.Unlock()
	c.ids.VisitorID()
	c.ids.SessionID()
}

// Disable stops new events from being queued. Queued events stay.
func (c *Client) Disable() {
	c.mu.Lock()
	c.enabled = false
	c.mu.Unlock()
}

// Enabled reports whether Track currently queues events.
func (c *Client) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// Len reports how many events wait in the queue.
func (c *Client) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Track normalizes in and appends it to the queue. It is a no-op while
// tracking is disabled, for a blank type, or outside a DOM host. Track never
// blocks on the network.
func (c *Client) Track(in event.Input) {
	if strings.TrimSpace(in.Type) == "" || !c.env.HasDOM() {
		return
	}
	c.mu.Lock()
	if !c.enabled {
		c.mu.Unlock()
		return
	}
	lastPage := c.lastPage
	c.mu.Unlock()

	ev := c.normalize(in, lastPage)

	c.mu.Lock()
	c.seq++
	c.queue = append(c.queue, entry{seq: c.seq, ev: ev})
	depth := len(c.queue)
	c.mu.Unlock()

	c.metrics.IncrementEventsEnqueued(ev.Type)
	c.metrics.SetQueueDepth(depth)
	c.schedule()
}

// TrackPageView queues a page_view for pageURL (the current location when
// blank) and remembers it as the referrer of the next event.
func (c *Client) TrackPageView(pageURL string) {
	if !c.Enabled() {
		return
	}
	resolved := c.pageURL(pageURL)
	c.Track(event.Input{Type: event.TypePageView, PageURL: resolved})

	c.mu.Lock()
	c.lastPage = resolved
	c.mu.Unlock()
}

// ResetReferrer forgets the last tracked page.
func (c *Client) ResetReferrer() {
	c.mu.Lock()
	c.lastPage = ""
	c.mu.Unlock()
}

// schedule flushes right away once the queue reaches the minimum batch and
// otherwise arms a single delayed flush.
func (c *Client) schedule() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if len(c.queue) >= c.minBatch {
		c.mu.Unlock()
		go c.Flush(context.Background(), FlushOptions{})
		return
	}
	if c.timer == nil {
		var t clockwork.Timer
		t = c.clock.AfterFunc(c.interval, func() {
			c.mu.Lock()
			if c.timer == t {
				c.timer = nil
			}
			c.mu.Unlock()
			c.Flush(context.Background(), FlushOptions{})
		})
		c.timer = t
	}
	c.mu.Unlock()
}

func (c *Client) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// Flush drains the queue in chunks of at most the max batch size. A chunk is
// removed only after a confirmed send; the first failure stops the drain and
// leaves that chunk and everything behind it queued in order.
func (c *Client) Flush(ctx context.Context, opts FlushOptions) {
	c.mu.Lock()
	if len(c.queue) == 0 {
		c.mu.Unlock()
		return
	}
	c.stopTimerLocked()
	if !opts.UseBeacon {
		if c.flushing {
			c.mu.Unlock()
			return
		}
		c.flushing = true
	}
	c.mu.Unlock()

	if !opts.UseBeacon {
		defer func() {
			c.mu.Lock()
			c.flushing = false
			c.mu.Unlock()
		}()
	}

	mode := "request"
	if opts.UseBeacon {
		mode = "beacon"
	}
	start := c.clock.Now()
	defer func() { c.metrics.ObserveFlushLatency(mode, c.clock.Since(start)) }()

	for {
		c.mu.Lock()
		n := min(len(c.queue), c.maxBatch)
		if n == 0 {
			c.mu.Unlock()
			return
		}
		first, last := c.queue[0].seq, c.queue[n-1].seq
		events := make([]event.Queued, n)
		for i := range events {
			events[i] = c.queue[i].ev
		}
		c.mu.Unlock()

		if !c.sender.Send(ctx, events, opts.UseBeacon) {
			return
		}

		c.mu.Lock()
		c.removeLocked(first, last)
		depth := len(c.queue)
		c.mu.Unlock()

		c.metrics.AddEventsSent(mode, n)
		c.metrics.SetQueueDepth(depth)
	}
}

// removeLocked drops entries with sequence numbers in [first, last]. Another
// flush may already have removed some of them.
func (c *Client) removeLocked(first, last uint64) {
	kept := c.queue[:0]
	for _, e := range c.queue {
		if e.seq < first || e.seq > last {
			kept = append(kept, e)
		}
	}
	clear(c.queue[len(kept):])
	c.queue = kept
}

// Close stops the flush timer and makes a final beacon flush. Events queued
// after Close wait for an explicit Flush.
func (c *Client) Close(ctx context.Context) {
	c.mu.Lock()
	c.closed = true
	c.stopTimerLocked()
	c.mu.Unlock()
	c.Flush(ctx, FlushOptions{UseBeacon: true})
}
