package httpx

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/Arsene94/dacarsfe-sub002/internal/metrics"
)

// sweepEvery is how many resolutions pass between scans for idle sessions.
const sweepEvery = 1024

// SessionManager tracks when each session was last seen and reissues a
// session id once the old one has been idle for longer than the timeout.
type SessionManager struct {
	clock   clockwork.Clock
	idle    time.Duration
	metrics *metrics.Metrics

	mu       sync.Mutex
	lastSeen map[string]time.Time
	calls    int
}

func NewSessionManager(idle time.Duration, clock clockwork.Clock, m *metrics.Metrics) *SessionManager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if idle <= 0 {
		idle = 30 * time.Minute
	}
	return &SessionManager{
		clock:    clock,
		idle:     idle,
		metrics:  m,
		lastSeen: make(map[string]time.Time),
	}
}

// Resolve returns the session id the batch should be stored under. A blank
// id gets a fresh one; an id idle past the timeout is replaced and rotated
// reports true. Unknown ids are adopted as-is.
func (s *SessionManager) Resolve(sessionID string) (id string, rotated bool) {
	now := s.clock.Now()
	sessionID = strings.TrimSpace(sessionID)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.calls%sweepEvery == 0 {
		s.sweepLocked(now)
	}

	if sessionID == "" {
		id = uuid.NewString()
		s.lastSeen[id] = now
		return id, false
	}

	if seen, ok := s.lastSeen[sessionID]; ok && now.Sub(seen) > s.idle {
		delete(s.lastSeen, sessionID)
		id = uuid.NewString()
		s.lastSeen[id] = now
		s.metrics.IncrementSessionsRotated()
		return id, true
	}

	s.lastSeen[sessionID] = now
	return sessionID, false
}

// Len reports how many sessions are tracked.
func (s *SessionManager) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lastSeen)
}

func (s *SessionManager) sweepLocked(now time.Time) {
	for id, seen := range s.lastSeen {
		// a batch arriving up to 2*idle late must still rotate
		if now.Sub(seen) > 2*s.idle {
			delete(s.lastSeen, id)
		}
	}
}
