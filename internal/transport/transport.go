// Package transport delivers event batches to the ingestion endpoint. The
// beacon and request mechanisms are strategies so browser and native hosts
// can plug in their own.
package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/Arsene94/dacarsfe-sub002/internal/event"
	"github.com/Arsene94/dacarsfe-sub002/internal/logging"
	"github.com/Arsene94/dacarsfe-sub002/internal/metrics"
)

// ErrStatus marks a response outside the 2xx range.
var ErrStatus = errors.New("transport: non-2xx response")

// Beacon is a fire-and-forget sender usable while the page is going away.
// It reports only whether the payload was queued.
type Beacon interface {
	SendBeacon(url string, body []byte) bool
}

// Requester issues an awaited POST with Content-Type application/json and
// no credentials.
type Requester interface {
	Post(ctx context.Context, url string, body []byte, keepalive bool) (*Response, error)
}

// Response is the part of an HTTP response the transport looks at.
type Response struct {
	StatusCode int
	Body       []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Identity supplies the envelope ids and adopts server-issued sessions.
type Identity interface {
	VisitorID() string
	SessionID() string
	SetSessionID(string)
}

// Options configure a Transport. Beacon may be nil when the host has none.
type Options struct {
	Endpoint  string
	Requester Requester
	Beacon    Beacon
	Identity  Identity
	// Country returns the envelope-level default country, "" to omit.
	Country func() string
	Metrics *metrics.Metrics
}

// Transport builds envelopes and sends them through its strategies.
type Transport struct {
	endpoint  string
	requester Requester
	beacon    Beacon
	identity  Identity
	country   func() string
	metrics   *metrics.Metrics

	marshal func(any) ([]byte, error)
}

// New returns a Transport posting batch envelopes to o.Endpoint.
func New(o Options) *Transport {
	return &Transport{
		endpoint:  o.Endpoint,
		requester: o.Requester,
		beacon:    o.Beacon,
		identity:  o.Identity,
		country:   o.Country,
		metrics:   o.Metrics,
		marshal:   json.Marshal,
	}
}

// Endpoint returns the ingestion URL.
func (t *Transport) Endpoint() string { return t.endpoint }

// Send delivers one batch and reports whether it was accepted. An empty
// batch is trivially accepted. A beacon that queues the payload is terminal;
// a rejected beacon falls through to a keepalive request.
func (t *Transport) Send(ctx context.Context, events []event.Queued, useBeacon bool) bool {
	if len(events) == 0 {
		return true
	}

	body, err := t.encode(events)
	if err != nil {
		logging.Warn().Err(err).Int("events", len(events)).Msg("transport: could not serialize batch")
		return false
	}

	if useBeacon && t.beacon != nil {
		if t.sendBeacon(body) {
			t.metrics.IncrementBatches("beacon", true)
			return true
		}
		t.metrics.IncrementBatches("beacon", false)
	}

	ok := t.post(ctx, body, useBeacon)
	t.metrics.IncrementBatches("request", ok)
	return ok
}

func (t *Transport) encode(events []event.Queued) ([]byte, error) {
	batch := event.Batch{Events: events}
	if t.identity != nil {
		batch.VisitorUUID = t.identity.VisitorID()
		batch.SessionUUID = t.identity.SessionID()
	}
	if t.country != nil {
		batch.Country = t.country()
	}
	body, err := t.marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("marshal batch: %w", err)
	}
	return body, nil
}

func (t *Transport) sendBeacon(body []byte) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			logging.Warn().Interface("panic", rec).Msg("transport: beacon failed")
			ok = false
		}
	}()
	return t.beacon.SendBeacon(t.endpoint, body)
}

func (t *Transport) post(ctx context.Context, body []byte, keepalive bool) bool {
	if t.requester == nil {
		return false
	}
	resp, err := t.requester.Post(ctx, t.endpoint, body, keepalive)
	if err != nil {
		logging.Warn().Err(err).Str("endpoint", t.endpoint).Msg("transport: request failed")
		return false
	}
	if !resp.OK() {
		logging.Warn().Int("status", resp.StatusCode).Str("endpoint", t.endpoint).Msg("transport: request rejected")
		return false
	}
	t.adoptSession(resp.Body)
	return true
}

// adoptSession takes a non-blank session_uuid from the body. Bodies that are
// empty or not JSON are ignored.
func (t *Transport) adoptSession(body []byte) {
	if len(body) == 0 || t.identity == nil {
		return
	}
	var out event.BatchResponse
	if err := json.Unmarshal(body, &out); err != nil {
		logging.Debug().Err(err).Msg("transport: ignoring non-JSON response body")
		return
	}
	if sid := strings.TrimSpace(out.SessionUUID); sid != "" {
		t.identity.SetSessionID(sid)
	}
}
