package httpx

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Arsene94/dacarsfe-sub002/internal/metrics"
)

func TestSessionManagerResolve(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	m := metrics.NewMetrics(nil)
	s := NewSessionManager(30*time.Minute, clock, m)

	id, rotated := s.Resolve(" s-1 ")
	if id != "s-1" || rotated {
		t.Errorf("Resolve(s-1) = %q, %v; want adopted", id, rotated)
	}

	clock.Advance(30 * time.Minute)
	if id, rotated := s.Resolve("s-1"); id != "s-1" || rotated {
		t.Errorf("exactly idle timeout should keep the session, got %q %v", id, rotated)
	}

	clock.Advance(30*time.Minute + time.Second)
	id, rotated = s.Resolve("s-1")
	if id == "s-1" || !rotated {
		t.Errorf("idle session should rotate, got %q %v", id, rotated)
	}
	if got := testutil.ToFloat64(m.SessionsRotated); got != 1 {
		t.Errorf("sessions rotated = %v, want 1", got)
	}

	if again, rotated := s.Resolve(id); again != id || rotated {
		t.Errorf("new session should be kept, got %q %v", again, rotated)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1 (old id forgotten)", s.Len())
	}
}

func TestSessionManagerBlank(t *testing.T) {
	s := NewSessionManager(time.Minute, clockwork.NewFakeClock(), nil)
	a, _ := s.Resolve("")
	b, _ := s.Resolve("")
	if a == "" || b == "" || a == b {
		t.Errorf("blank sessions got %q and %q", a, b)
	}
}

func TestSessionManagerSweep(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	s := NewSessionManager(time.Minute, clock, nil)
	s.Resolve("old")
	clock.Advance(3 * time.Minute)

	for i := 0; i < sweepEvery; i++ {
		s.Resolve("fresh")
	}
	s.mu.Lock()
	_, ok := s.lastSeen["old"]
	s.mu.Unlock()
	if ok {
		t.Error("idle session should be swept")
	}
}

func TestNewSessionManagerDefaults(t *testing.T) {
	s := NewSessionManager(0, nil, nil)
	if s.idle != 30*time.Minute {
		t.Errorf("idle = %v, want 30m", s.idle)
	}
	if s.clock == nil {
		t.Error("clock should default to the real clock")
	}
}
