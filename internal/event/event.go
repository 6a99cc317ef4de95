// Package event holds the analytics wire model shared by the client and the
// dev collector. Optional fields are omitted when empty.
package event

import "time"

// Well-known event types. Callers may use any other non-empty string.
const (
	TypePageView     = "page_view"
	TypePageDuration = "page_duration"
	TypeScroll       = "scroll"
	TypeCTAClick     = "cta_click"
	TypeFormStart    = "form_start"
	TypeFormSubmit   = "form_submit"
)

// Input is what instrumentation hands to the client before normalization.
type Input struct {
	Type string

	// At wins over OccurredAt when set.
	At time.Time
	// OccurredAt is a raw timestamp; unparsable values fall back to now.
	OccurredAt string

	PageURL string
	// ReferrerURL set to a non-nil pointer overrides referrer resolution,
	// including with an empty string (which omits the field).
	ReferrerURL *string
	Country     string
	Metadata    *Metadata
	OmitDevice  bool
}

// Queued is one normalized, wire-ready event.
type Queued struct {
	Type        string      `json:"type"`
	OccurredAt  string      `json:"occurred_at"` // ISO8601 UTC
	PageURL     string      `json:"page_url"`
	Country     string      `json:"country,omitempty"`
	ReferrerURL string      `json:"referrer_url,omitempty"`
	Metadata    *Metadata   `json:"metadata,omitempty"`
	Device      *DeviceInfo `json:"device,omitempty"`
}

// Metadata carries the recognized keys plus a free-form Additional bag.
type Metadata struct {
	ScrollPercentage  *float64       `json:"scroll_percentage,omitempty"`
	ScrollPixels      *int64         `json:"scroll_pixels,omitempty"`
	DurationMs        *int64         `json:"duration_ms,omitempty"`
	InteractionTarget string         `json:"interaction_target,omitempty"`
	InteractionLabel  string         `json:"interaction_label,omitempty"`
	Additional        map[string]any `json:"additional,omitempty"`
}

// IsEmpty reports whether no field is set.
func (m *Metadata) IsEmpty() bool {
	return m == nil || (m.ScrollPercentage == nil && m.ScrollPixels == nil && m.DurationMs == nil &&
		m.InteractionTarget == "" && m.InteractionLabel == "" && len(m.Additional) == 0)
}

// DeviceInfo is the viewport/navigator snapshot attached to events.
type DeviceInfo struct {
	Width    *int   `json:"width,omitempty"`
	Height   *int   `json:"height,omitempty"`
	Platform string `json:"platform,omitempty"`
	Language string `json:"language,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// Batch is the envelope POSTed to the ingestion endpoint.
type Batch struct {
	VisitorUUID string   `json:"visitor_uuid"`
	SessionUUID string   `json:"session_uuid"`
	Events      []Queued `json:"events"`
	Country     string   `json:"country,omitempty"`
}

// BatchResponse is the optional JSON body of a successful ingestion call.
type BatchResponse struct {
	SessionUUID string `json:"session_uuid,omitempty"`
	Accepted    int    `json:"accepted,omitempty"`
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }

// String returns a pointer to v.
func String(v string) *string { return &v }
