package httpx

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/jonboulle/clockwork"

	"github.com/Arsene94/dacarsfe-sub002/internal/event"
	"github.com/Arsene94/dacarsfe-sub002/internal/logging"
	"github.com/Arsene94/dacarsfe-sub002/internal/metrics"
	cfg "github.com/Arsene94/dacarsfe-sub002/pkg/config"
)

type Env struct {
	Cfg      cfg.Config
	Emit     func(event.Record) // injected sink fan-out
	Metrics  *metrics.Metrics
	Sessions *SessionManager
	Clock    clockwork.Clock
	Ready    func() error // nil means always ready
}

func (e Env) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (e Env) Readyz(w http.ResponseWriter, r *http.Request) {
	if e.Ready != nil {
		if err := e.Ready(); err != nil {
			http.Error(w, "not ready: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// eventsResponse is the body of an accepted batch. The client adopts
// session_uuid for its next requests.
type eventsResponse struct {
	Accepted    int    `json:"accepted"`
	Rejected    int    `json:"rejected,omitempty"`
	SessionUUID string `json:"session_uuid"`
}

// Events handles POST /api/analytics/events with one batch envelope.
func (e Env) Events(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	// sendBeacon posts text/plain when the page builds the body as a string.
	if ct := r.Header.Get("Content-Type"); ct != "" &&
		!strings.Contains(ct, "application/json") && !strings.HasPrefix(ct, "text/plain") {
		http.Error(w, "content-type must be application/json", http.StatusUnsupportedMediaType)
		return
	}
	defer r.Body.Close()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, e.Cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	var batch event.Batch
	if err := json.Unmarshal(body, &batch); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(batch.VisitorUUID) == "" {
		http.Error(w, "visitor_uuid is required", http.StatusBadRequest)
		return
	}
	if len(batch.Events) == 0 {
		http.Error(w, "events must not be empty", http.StatusBadRequest)
		return
	}

	if e.Sessions == nil {
		logging.Error().Msg("collector: no session manager configured")
		http.Error(w, "session manager not configured", http.StatusInternalServerError)
		return
	}
	sessionID, rotated := e.Sessions.Resolve(batch.SessionUUID)
	if rotated {
		logging.Debug().Str("visitor_uuid", batch.VisitorUUID).Str("previous", batch.SessionUUID).
			Str("session_uuid", sessionID).Msg("collector: session rotated")
	}

	received := e.clock().Now()
	resp := eventsResponse{SessionUUID: sessionID}
	for _, ev := range batch.Events {
		// malformed events are dropped, the rest of the batch is kept
		if err := validateEvent(ev); err != nil {
			resp.Rejected++
			logging.Debug().Err(err).Str("type", ev.Type).Msg("collector: dropping event")
			continue
		}
		rec := event.NewRecord(batch, ev, sessionID, received)
		event.EnrichServerFields(r, &rec, e.Cfg)
		if e.Emit != nil {
			e.Emit(rec)
		}
		resp.Accepted++
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Analytics-Accepted", strconv.Itoa(resp.Accepted))
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(resp)
}

func validateEvent(ev event.Queued) error {
	switch {
	case strings.TrimSpace(ev.Type) == "":
		return errors.New("type is required")
	case strings.TrimSpace(ev.PageURL) == "":
		return errors.New("page_url is required")
	case ev.OccurredAt == "":
		return errors.New("occurred_at is required")
	}
	return nil
}

func (e Env) clock() clockwork.Clock {
	if e.Clock == nil {
		return clockwork.NewRealClock()
	}
	return e.Clock
}
