// Package tracker is the route-aware instrumentation controller. Host
// bindings forward DOM events to a Tracker, which turns them into page view,
// scroll, CTA, form and page duration events on an analytics client.
package tracker

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Arsene94/dacarsfe-sub002/internal/analytics"
	"github.com/Arsene94/dacarsfe-sub002/internal/event"
	"github.com/Arsene94/dacarsfe-sub002/internal/logging"
)

// Client is the part of analytics.Client the tracker drives.
type Client interface {
	Enable()
	Disable()
	Enabled() bool
	Track(event.Input)
	TrackPageView(pageURL string)
	ResetReferrer()
	Flush(ctx context.Context, opts analytics.FlushOptions)
}

// Page duration reasons.
const (
	ReasonRouteChange  = "route_change"
	ReasonBeforeUnload = "before_unload"
)

var excludedPrefixes = []string{"/admin", "/api"}

// IsPublicPath reports whether pathname may be tracked.
func IsPublicPath(pathname string) bool {
	if pathname == "" {
		return false
	}
	for _, p := range excludedPrefixes {
		if strings.HasPrefix(pathname, p) {
			return false
		}
	}
	return true
}

type pageTiming struct {
	totalVisible time.Duration
	visibleSince time.Time
	visible      bool
}

// Tracker holds per-view instrumentation state. All methods are safe for
// concurrent use.
type Tracker struct {
	client Client
	doc    Document
	frames FrameScheduler
	clock  clockwork.Clock

	mu       sync.Mutex
	public   bool
	resetKey string
	lastURL  string

	timing       *pageTiming
	durationSent bool

	scroll *scrollTracker
	// forms maps a form to the time its form_start fired; rebuilt per view.
	forms map[ElementKey]time.Time
}

// Options configure a Tracker. Clock defaults to the real clock and Frames
// to a ~60Hz timer on that clock.
type Options struct {
	Client Client
	Doc    Document
	Frames FrameScheduler
	Clock  clockwork.Clock
}

// New returns a tracker for o.Client. Call Navigate with the current route
// to start tracking.
func New(o Options) *Tracker {
	clock := o.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	frames := o.Frames
	if frames == nil {
		frames = ClockFrames{Clock: clock}
	}
	t := &Tracker{
		client: o.Client,
		doc:    o.Doc,
		frames: frames,
		clock:  clock,
		forms:  map[ElementKey]time.Time{},
	}
	t.scroll = newScrollTracker(t)
	return t
}

// frameInterval approximates one display frame.
const frameInterval = 16 * time.Millisecond

// ClockFrames schedules frame callbacks on a clock, for hosts without
// requestAnimationFrame.
type ClockFrames struct {
	Clock clockwork.Clock
}

func (f ClockFrames) RequestFrame(fn func()) func() {
	timer := f.Clock.AfterFunc(frameInterval, fn)
	return func() { timer.Stop() }
}

// Navigate applies a route change. search may carry a leading "?".
func (t *Tracker) Navigate(pathname, search string) {
	search = strings.TrimPrefix(search, "?")
	public := IsPublicPath(pathname)

	key := pathname
	if key == "" {
		key = "__unknown__"
	}
	if search != "" {
		key += "?" + search
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	wasPublic := t.public
	t.public = public
	if public {
		t.client.Enable()
	} else {
		t.client.Disable()
	}

	if !public {
		t.lastURL = ""
		t.timing = nil
		t.durationSent = false
		t.resetKey = ""
		t.client.ResetReferrer()
		t.scroll.reset()
		t.forms = map[ElementKey]time.Time{}
		return
	}

	url := t.buildURL(pathname, search)
	if t.lastURL != "" && t.lastURL != url {
		t.emitPageDurationLocked(ReasonRouteChange)
		t.resetTimingLocked()
	} else if t.timing == nil {
		t.resetTimingLocked()
	}

	if !wasPublic || key != t.resetKey {
		t.resetKey = key
		t.forms = map[ElementKey]time.Time{}
		t.scroll.reset()
		t.scroll.scheduleLocked(nil)
	}

	if t.lastURL == url {
		return
	}
	t.lastURL = url
	t.durationSent = false
	t.client.TrackPageView(url)
}

func (t *Tracker) buildURL(pathname, search string) string {
	suffix := ""
	if search != "" {
		suffix = "?" + search
	}
	if t.doc == nil {
		return pathname + suffix
	}
	origin := t.doc.Origin()
	if origin == "" {
		logging.Warn().Str("path", pathname).Msg("tracker: page origin unavailable, using path only")
	}
	return origin + pathname + suffix
}

func (t *Tracker) resetTimingLocked() {
	visible := true
	if t.doc != nil {
		visible = !t.doc.Hidden()
	}
	t.timing = &pageTiming{visibleSince: t.clock.Now(), visible: visible}
	t.durationSent = false
}

// pageElapsedLocked is the visible time of the current view in ms.
func (t *Tracker) pageElapsedLocked() int64 {
	if t.timing == nil {
		return 0
	}
	total := t.timing.totalVisible
	if t.timing.visible {
		total += t.clock.Since(t.timing.visibleSince)
	}
	return roundMs(float64(total) / float64(time.Millisecond))
}

func (t *Tracker) finalizeTimingLocked() (int64, bool) {
	if t.timing == nil {
		return 0, false
	}
	now := t.clock.Now()
	if t.timing.visible {
		t.timing.totalVisible += now.Sub(t.timing.visibleSince)
		t.timing.visibleSince = now
		t.timing.visible = false
	}
	return roundMs(float64(t.timing.totalVisible) / float64(time.Millisecond)), true
}

func (t *Tracker) emitPageDurationLocked(reason string) {
	if t.lastURL == "" {
		return
	}
	if reason == ReasonBeforeUnload && t.durationSent {
		return
	}
	duration, ok := t.finalizeTimingLocked()
	if !ok {
		return
	}
	t.client.Track(event.Input{
		Type:    event.TypePageDuration,
		PageURL: t.lastURL,
		Metadata: &event.Metadata{
			DurationMs: event.Int64(duration),
			Additional: map[string]any{
				"reason":       reason,
				"page_time_ms": duration,
			},
		},
		OmitDevice: true,
	})
	if reason == ReasonBeforeUnload {
		t.durationSent = true
	}
}

// HandleVisibilityChange updates visible-time accounting and, when the page
// becomes hidden, forces a beacon flush.
func (t *Tracker) HandleVisibilityChange(hidden bool) {
	t.mu.Lock()
	if !t.public {
		t.mu.Unlock()
		return
	}
	if t.timing == nil {
		t.resetTimingLocked()
	}
	now := t.clock.Now()
	if hidden {
		if t.timing.visible {
			t.timing.totalVisible += now.Sub(t.timing.visibleSince)
			t.timing.visibleSince = now
			t.timing.visible = false
		}
	} else {
		t.timing.visibleSince = now
		t.timing.visible = true
	}
	t.mu.Unlock()

	if hidden {
		t.client.Flush(context.Background(), analytics.FlushOptions{UseBeacon: true})
	}
}

// HandleBeforeUnload emits the page duration of the current view, once,
// then forces a beacon flush.
func (t *Tracker) HandleBeforeUnload() {
	t.mu.Lock()
	if !t.public {
		t.mu.Unlock()
		return
	}
	t.emitPageDurationLocked(ReasonBeforeUnload)
	t.mu.Unlock()

	t.client.Flush(context.Background(), analytics.FlushOptions{UseBeacon: true})
}

// Close tears the instrumentation down and disables tracking.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.public = false
	t.scroll.reset()
	t.forms = map[ElementKey]time.Time{}
	t.client.Disable()
}
