package analytics

import (
	"math"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/Arsene94/dacarsfe-sub002/internal/event"
	"github.com/Arsene94/dacarsfe-sub002/internal/logging"
)

// isoMillis matches the shape of JavaScript's Date.toISOString.
const isoMillis = "2006-01-02T15:04:05.000Z"

var occurredLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.DateOnly,
}

func (c *Client) normalize(in event.Input, lastPage string) event.Queued {
	ev := event.Queued{
		Type:       in.Type,
		OccurredAt: c.occurredAt(in),
		PageURL:    c.pageURL(in.PageURL),
		Country:    c.resolver.ResolveCountry(in.Country),
	}

	switch {
	case in.ReferrerURL != nil:
		ev.ReferrerURL = *in.ReferrerURL
	case lastPage != "":
		ev.ReferrerURL = lastPage
	default:
		ev.ReferrerURL = c.env.Referrer()
	}

	ev.Metadata = sanitizeMetadata(in.Metadata)

	if !in.OmitDevice {
		ev.Device = c.resolver.ResolveDevice()
	}
	return ev
}

func (c *Client) occurredAt(in event.Input) string {
	if !in.At.IsZero() {
		return in.At.UTC().Format(isoMillis)
	}
	if raw := strings.TrimSpace(in.OccurredAt); raw != "" {
		for _, layout := range occurredLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				return t.UTC().Format(isoMillis)
			}
		}
		logging.Warn().Str("occurred_at", raw).Msg("analytics: unparsable occurred_at, using now")
	}
	return c.clock.Now().UTC().Format(isoMillis)
}

func (c *Client) pageURL(explicit string) string {
	if strings.TrimSpace(explicit) != "" {
		return explicit
	}
	if !c.env.HasDOM() {
		return ""
	}
	loc, err := c.env.Location()
	if err != nil {
		logging.Warn().Err(err).Msg("analytics: could not read page location")
		return ""
	}
	return loc
}

// sanitizeMetadata copies m, deep-cloning Additional through a JSON round
// trip. An Additional bag that cannot be serialized is dropped, as is a
// non-finite scroll percentage.
func sanitizeMetadata(m *event.Metadata) *event.Metadata {
	if m.IsEmpty() {
		return nil
	}
	out := *m
	if p := out.ScrollPercentage; p != nil && (math.IsNaN(*p) || math.IsInf(*p, 0)) {
		logging.Warn().Float64("scroll_percentage", *p).Msg("analytics: dropping non-finite scroll_percentage")
		out.ScrollPercentage = nil
	}
	out.Additional = nil
	if len(m.Additional) > 0 {
		out.Additional = cloneAdditional(m.Additional)
	}
	if out.IsEmpty() {
		return nil
	}
	return &out
}

func cloneAdditional(in map[string]any) map[string]any {
	raw, err := json.Marshal(in)
	if err != nil {
		logging.Warn().Err(err).Msg("analytics: dropping unserializable metadata.additional")
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		logging.Warn().Err(err).Msg("analytics: could not clone metadata.additional")
		return nil
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
