package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/Arsene94/dacarsfe-sub002/internal/logging"
)

// BreakerRequester wraps a Requester in a circuit breaker so a dead
// collector is not hammered on every flush. Rejections surface as errors and
// the batch stays queued.
type BreakerRequester struct {
	next Requester
	cb   *gobreaker.CircuitBreaker[*Response]
}

// BreakerSettings tune the breaker. Zero values pick the defaults below.
type BreakerSettings struct {
	// ConsecutiveFailures that open the circuit. Default 5.
	ConsecutiveFailures uint32
	// Cooldown before a half-open probe. Default 30s.
	Cooldown time.Duration
}

func NewBreakerRequester(next Requester, s BreakerSettings) *BreakerRequester {
	if s.ConsecutiveFailures == 0 {
		s.ConsecutiveFailures = 5
	}
	if s.Cooldown <= 0 {
		s.Cooldown = 30 * time.Second
	}
	threshold := s.ConsecutiveFailures

	cb := gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
		Name:        "analytics-ingest",
		MaxRequests: 1,
		Timeout:     s.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("transport: breaker state change")
		},
	})
	return &BreakerRequester{next: next, cb: cb}
}

// Post implements Requester. Non-2xx responses count as breaker failures and
// are returned alongside ErrStatus.
func (b *BreakerRequester) Post(ctx context.Context, url string, body []byte, keepalive bool) (*Response, error) {
	resp, err := b.cb.Execute(func() (*Response, error) {
		resp, err := b.next.Post(ctx, url, body, keepalive)
		if err != nil {
			return nil, err
		}
		if !resp.OK() {
			return resp, fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)
		}
		return resp, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("transport: breaker rejected request: %w", err)
	}
	return resp, err
}

// State reports the breaker state, for diagnostics.
func (b *BreakerRequester) State() gobreaker.State {
	return b.cb.State()
}
