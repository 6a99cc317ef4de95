package event

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Arsene94/dacarsfe-sub002/pkg/config"
)

// Record is one event as the dev collector stores it: the client event, the
// envelope ids, and what the server saw of the request.
type Record struct {
	EventID     string     `json:"event_id"`
	ReceivedAt  string     `json:"received_at"`
	VisitorUUID string     `json:"visitor_uuid"`
	SessionUUID string     `json:"session_uuid"`
	Country     string     `json:"country,omitempty"`
	Event       Queued     `json:"event"`
	Server      ServerInfo `json:"server"`
}

// ServerInfo holds request-derived fields.
type ServerInfo struct {
	IP           string            `json:"ip,omitempty"`
	UserAgent    string            `json:"user_agent,omitempty"`
	Origin       string            `json:"origin,omitempty"`
	PageHost     string            `json:"page_host,omitempty"`
	ReferrerHost string            `json:"referrer_host,omitempty"`
	UTM          UTM               `json:"utm"`
	ClickIDs     map[string]string `json:"click_ids,omitempty"`
}

// UTM are the campaign parameters of the page URL.
type UTM struct {
	Source   string `json:"source,omitempty"`
	Medium   string `json:"medium,omitempty"`
	Campaign string `json:"campaign,omitempty"`
	Term     string `json:"term,omitempty"`
	Content  string `json:"content,omitempty"`
	ID       string `json:"id,omitempty"`
}

// NewRecord wraps one event of batch. The envelope country backs up a
// missing per-event country.
func NewRecord(batch Batch, ev Queued, sessionID string, received time.Time) Record {
	country := ev.Country
	if country == "" {
		country = batch.Country
	}
	return Record{
		EventID:     uuid.NewString(),
		ReceivedAt:  received.UTC().Format(time.RFC3339Nano),
		VisitorUUID: batch.VisitorUUID,
		SessionUUID: sessionID,
		Country:     country,
		Event:       ev,
	}
}

// EnrichServerFields fills the request-derived fields of rec.
func EnrichServerFields(r *http.Request, rec *Record, cfg config.Config) {
	rec.Server.UserAgent = r.UserAgent()
	rec.Server.Origin = r.Header.Get("Origin")
	rec.Server.IP = clientIPFromRequest(r, cfg.TrustProxy)

	if rec.Event.ReferrerURL != "" {
		if u, err := url.Parse(rec.Event.ReferrerURL); err == nil {
			rec.Server.ReferrerHost = u.Hostname()
		}
	}
	// The request URL is the ingestion endpoint; campaign data lives on the
	// tracked page.
	if page, err := url.Parse(rec.Event.PageURL); err == nil {
		rec.Server.PageHost = page.Hostname()
		parseUTMAndClickIDs(page.Query(), &rec.Server)
	}
}

func parseUTMAndClickIDs(q url.Values, s *ServerInfo) {
	s.UTM = UTM{
		Source:   q.Get("utm_source"),
		Medium:   q.Get("utm_medium"),
		Campaign: q.Get("utm_campaign"),
		Term:     q.Get("utm_term"),
		Content:  q.Get("utm_content"),
		ID:       q.Get("utm_id"),
	}
	ids := map[string]string{}
	copyIf(q, ids, "gclid", "gbraid", "wbraid", "fbclid", "msclkid", "ttclid", "li_fat_id", "twclid", "dclid")
	if len(ids) > 0 {
		s.ClickIDs = ids
	}
}

func copyIf(q url.Values, dst map[string]string, keys ...string) {
	for _, k := range keys {
		if v := strings.TrimSpace(q.Get(k)); v != "" {
			dst[k] = v
		}
	}
}

func clientIPFromRequest(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			if ip := strings.TrimSpace(parts[0]); ip != "" {
				return ip
			}
		}
		if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
			return strings.TrimSpace(xrip)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
