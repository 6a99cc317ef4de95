package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Arsene94/dacarsfe-sub002/internal/event"
	"github.com/Arsene94/dacarsfe-sub002/internal/metrics"
)

func TestBatcherDropsOldestPastLimit(t *testing.T) {
	b := newBatcher("test", 2, 0, func(context.Context, []event.Record) error {
		return errors.New("database down")
	})
	b.metrics = metrics.NewMetrics(nil)
	b.limit = 4

	for i := 0; i < 7; i++ {
		_ = b.add(testRecord(fmt.Sprintf("e%d", i), event.TypePageView))
	}

	if b.pending() != 4 {
		t.Fatalf("pending = %d, want 4", b.pending())
	}
	if got := b.batch[0].EventID; got != "e3" {
		t.Errorf("oldest kept = %q, want e3", got)
	}
	if got := b.batch[3].EventID; got != "e6" {
		t.Errorf("newest kept = %q, want e6", got)
	}
	if got := testutil.ToFloat64(b.metrics.SinkErrors.WithLabelValues("test", "dropped")); got != 3 {
		t.Errorf("dropped metric = %v, want 3", got)
	}
}

func TestBatcherAddDuringWrite(t *testing.T) {
	var (
		mu      sync.Mutex
		written [][]string
	)
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	b := newBatcher("test", 1, 0, func(_ context.Context, recs []event.Record) error {
		started <- struct{}{}
		<-release
		ids := make([]string, len(recs))
		for i, r := range recs {
			ids[i] = r.EventID
		}
		mu.Lock()
		written = append(written, ids)
		mu.Unlock()
		return nil
	})
	b.metrics = metrics.NewMetrics(nil)

	first := make(chan error, 1)
	go func() { first <- b.add(testRecord("e0", event.TypePageView)) }()
	<-started

	second := make(chan error, 1)
	go func() { second <- b.add(testRecord("e1", event.TypePageView)) }()
	select {
	case err := <-second:
		if err != nil {
			t.Errorf("add() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("add blocked behind an in-flight write")
	}
	if b.pending() != 1 {
		t.Errorf("pending = %d, want 1", b.pending())
	}

	close(release)
	if err := <-first; err != nil {
		t.Fatalf("first add() error = %v", err)
	}
	if err := b.flush(); err != nil {
		t.Fatalf("flush() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(written) != 2 || written[0][0] != "e0" || written[1][0] != "e1" {
		t.Errorf("written = %v, want [[e0] [e1]]", written)
	}
}

func TestBatcherFailedWriteKeepsOrder(t *testing.T) {
	fail := true
	var got []string
	b := newBatcher("test", 10, 0, func(_ context.Context, recs []event.Record) error {
		if fail {
			return errors.New("database down")
		}
		for _, r := range recs {
			got = append(got, r.EventID)
		}
		return nil
	})
	b.metrics = metrics.NewMetrics(nil)

	_ = b.add(testRecord("e0", event.TypePageView))
	if err := b.flush(); err == nil {
		t.Fatal("flush should fail")
	}
	_ = b.add(testRecord("e1", event.TypePageView))

	fail = false
	if err := b.flush(); err != nil {
		t.Fatalf("flush() error = %v", err)
	}
	if len(got) != 2 || got[0] != "e0" || got[1] != "e1" {
		t.Errorf("written = %v, want [e0 e1]", got)
	}
}
