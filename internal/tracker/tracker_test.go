package tracker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Arsene94/dacarsfe-sub002/internal/analytics"
	"github.com/Arsene94/dacarsfe-sub002/internal/environment"
	"github.com/Arsene94/dacarsfe-sub002/internal/event"
	"github.com/Arsene94/dacarsfe-sub002/pkg/config"
)

type trackerFixture struct {
	doc     *fakeDoc
	frames  *manualFrames
	clock   *clockwork.FakeClock
	client  *fakeClient
	tracker *Tracker
}

func newTrackerFixture(t *testing.T) *trackerFixture {
	t.Helper()
	f := &trackerFixture{
		doc:    newFakeDoc(),
		frames: &manualFrames{},
		clock:  clockwork.NewFakeClockAt(time.Date(2025, 5, 1, 9, 30, 0, 0, time.UTC)),
		client: &fakeClient{},
	}
	f.tracker = New(Options{Client: f.client, Doc: f.doc, Frames: f.frames, Clock: f.clock})
	return f
}

func thresholdsOf(events []event.Input) []any {
	var out []any
	for _, e := range events {
		out = append(out, e.Metadata.Additional["threshold"])
	}
	return out
}

func TestIsPublicPath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/", true},
		{"/oferte", true},
		{"/flota/dacia-logan", true},
		{"/admin", false},
		{"/admin/bookings", false},
		{"/api/analytics/events", false},
		{"/administrator", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, IsPublicPath(tt.path))
		})
	}
}

func TestNavigate(t *testing.T) {
	f := newTrackerFixture(t)

	f.tracker.Navigate("/", "")
	assert.True(t, f.client.Enabled())
	f.tracker.Navigate("/", "")
	f.tracker.Navigate("/oferte", "?tip=suv")
	f.tracker.Navigate("/oferte", "tip=suv")
	assert.Equal(t, []string{"https://dacars.ro/", "https://dacars.ro/oferte?tip=suv"}, f.client.pageViews,
		"one page view per distinct URL")

	f.tracker.Navigate("/admin/bookings", "")
	assert.False(t, f.client.Enabled())
	assert.Equal(t, 1, f.client.resets)

	f.tracker.Navigate("/", "")
	assert.True(t, f.client.Enabled())
	assert.Len(t, f.client.pageViews, 3, "returning from an excluded route tracks the page again")
}

func TestNavigateWithoutOrigin(t *testing.T) {
	f := newTrackerFixture(t)
	f.doc.origin = ""

	f.tracker.Navigate("/oferte", "tip=suv")
	assert.Equal(t, []string{"/oferte?tip=suv"}, f.client.pageViews)
}

func TestWindowScrollThresholds(t *testing.T) {
	f := newTrackerFixture(t)
	f.tracker.Navigate("/", "")
	require.Equal(t, 1, f.frames.pending(), "a view starts with a window measurement")
	f.frames.run()
	assert.Empty(t, f.client.ofType(event.TypeScroll), "top of the page crosses nothing")

	f.doc.window.Top = 300
	f.tracker.HandleScroll(nil)
	f.frames.run()

	events := f.client.take()
	require.Len(t, events, 2)
	assert.Equal(t, []any{10, 25}, thresholdsOf(events))
	md := events[0].Metadata
	assert.Equal(t, event.TypeScroll, events[0].Type)
	assert.Equal(t, 30.0, *md.ScrollPercentage)
	assert.Equal(t, int64(300), *md.ScrollPixels)
	assert.Equal(t, "window", md.InteractionTarget)
	assert.Equal(t, "window", md.InteractionLabel)
	assert.Equal(t, "window", md.Additional["scroll_context"])
	assert.Equal(t, "body", md.Additional["scroll_container_selector"])
	assert.Equal(t, int64(0), md.Additional["page_time_ms"])
	assert.Nil(t, md.DurationMs, "no section under the probe point")
	assert.NotContains(t, md.Additional, "component_visible_ms")
	assert.Equal(t, [2]float64{640, 400}, f.doc.probes[len(f.doc.probes)-1])

	t.Run("no regression", func(t *testing.T) {
		f.doc.window.Top = 200
		f.tracker.HandleScroll(nil)
		f.frames.run()
		f.doc.window.Top = 300
		f.tracker.HandleScroll(nil)
		f.frames.run()
		assert.Empty(t, f.client.take())
	})

	t.Run("remaining thresholds once", func(t *testing.T) {
		f.doc.window.Top = 1000
		f.tracker.HandleScroll(nil)
		f.frames.run()
		events := f.client.take()
		assert.Equal(t, []any{50, 75, 90, 100}, thresholdsOf(events))
		for _, e := range events {
			assert.Equal(t, 100.0, *e.Metadata.ScrollPercentage)
		}

		f.tracker.HandleResize()
		f.frames.run()
		assert.Empty(t, f.client.take())
	})
}

func TestScrollPercentage(t *testing.T) {
	tests := []struct {
		name       string
		metrics    ScrollMetrics
		thresholds []any
		pct        float64
	}{
		{"not scrollable", ScrollMetrics{Top: 0, ViewportHeight: 800, ScrollHeight: 800}, []any{10, 25, 50, 75, 90, 100}, 100},
		{"rounded to two decimals", ScrollMetrics{Top: 100, ViewportHeight: 100, ScrollHeight: 400}, []any{10, 25}, 33.33},
		{"overscroll clamped", ScrollMetrics{Top: 1500, ViewportHeight: 1000, ScrollHeight: 2000}, []any{10, 25, 50, 75, 90, 100}, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTrackerFixture(t)
			f.doc.window = tt.metrics
			f.tracker.Navigate("/", "")
			f.frames.run()

			events := f.client.ofType(event.TypeScroll)
			require.NotEmpty(t, events)
			assert.Equal(t, tt.thresholds, thresholdsOf(events))
			assert.Equal(t, tt.pct, *events[0].Metadata.ScrollPercentage)
		})
	}
}

func TestScrollCoalescing(t *testing.T) {
	f := newTrackerFixture(t)
	f.tracker.Navigate("/", "")
	f.frames.run()
	requested := f.frames.requested

	list := f.doc.element("div", f.doc.body, "id", "list")
	f.tracker.HandleScroll(nil)
	f.tracker.HandleScroll(nil)
	f.tracker.HandleScroll(list)
	f.tracker.HandleScroll(list)
	f.tracker.HandleResize()

	assert.Equal(t, 1, f.frames.pending())
	assert.Equal(t, requested+1, f.frames.requested)
}

func TestScrollResetPerView(t *testing.T) {
	f := newTrackerFixture(t)
	f.doc.window.Top = 1000
	f.tracker.Navigate("/", "")
	f.frames.run()
	require.Len(t, f.client.ofType(event.TypeScroll), 6)
	f.client.take()

	f.tracker.Navigate("/oferte", "tip=suv")
	f.frames.run()
	assert.Len(t, f.client.ofType(event.TypeScroll), 6, "a new view reports every threshold again")
	f.client.take()

	f.tracker.Navigate("/oferte", "?tip=suv")
	assert.Zero(t, f.frames.pending(), "same view keeps its state")

	t.Run("pending frame dropped on route change", func(t *testing.T) {
		f.tracker.HandleScroll(nil)
		require.Equal(t, 1, f.frames.pending())
		f.tracker.Navigate("/admin", "")
		assert.Zero(t, f.frames.pending())

		f.tracker.HandleScroll(nil)
		f.frames.run()
		assert.Empty(t, f.client.take())
	})
}

func TestElementScroll(t *testing.T) {
	f := newTrackerFixture(t)
	doc := f.doc

	section := doc.element("section", doc.body,
		"data-analytics-scroll-section", "",
		"data-analytics-scroll-target", "fleet-section",
		"data-analytics-scroll-tier", "premium",
		"data-analytics-scroll-metadata", `{"slot":2}`,
	)
	section.heading = "Flota noastră"
	card := doc.element("div", section, "class", "card")

	list := doc.element("div", doc.body,
		"id", "car-list",
		"class", "list scroll-y extra",
		"data-analytics-scroll-target", "fleet",
		"data-analytics-scroll-label", "Lista mașini",
		"data-analytics-scroll-variant", "grid",
		"data-analytics-scroll-empty", "",
		"data-analytics-scroll-metadata", `{"list":"cars"}`,
	)
	list.metrics = ScrollMetrics{Top: 500, ViewportHeight: 100, ScrollHeight: 1100}
	list.rect = Rect{Left: 100, Top: 200, Width: 400, Height: 300}

	f.tracker.Navigate("/", "")
	f.frames.run()

	t.Run("without a section", func(t *testing.T) {
		f.tracker.HandleScroll(list)
		f.frames.run()

		events := f.client.take()
		require.Len(t, events, 3)
		assert.Equal(t, []any{10, 25, 50}, thresholdsOf(events))
		assert.Equal(t, [2]float64{300, 320}, doc.probes[len(doc.probes)-1])

		md := events[2].Metadata
		assert.Equal(t, 50.0, *md.ScrollPercentage)
		assert.Equal(t, int64(500), *md.ScrollPixels)
		assert.Equal(t, "fleet", md.InteractionTarget)
		assert.Equal(t, "Lista mașini", md.InteractionLabel)
		assert.Equal(t, "element", md.Additional["scroll_context"])
		assert.Equal(t, "body > div#car-list.list.scroll-y", md.Additional["scroll_container_selector"])
		assert.Equal(t, "car-list", md.Additional["scroll_container_id"])
		assert.Equal(t, "fleet", md.Additional["scroll_container"])
		assert.Equal(t, map[string]any{"list": "cars"}, md.Additional["scroll_container_additional"])
		assert.Equal(t, map[string]any{"analyticsScrollVariant": "grid"}, md.Additional["scroll_container_dataset"])
		assert.NotContains(t, md.Additional, "section_selector")
	})

	t.Run("section under the probe point", func(t *testing.T) {
		doc.atPoint = card
		list.metrics.Top = 800
		f.tracker.HandleScroll(list)
		f.frames.run()

		events := f.client.take()
		require.Len(t, events, 1)
		md := events[0].Metadata
		assert.Equal(t, 75, md.Additional["threshold"])
		assert.Equal(t, "fleet-section", md.InteractionTarget)
		assert.Equal(t, "Flota noastră", md.InteractionLabel)
		assert.Equal(t, "body > section", md.Additional["section_selector"])
		assert.Equal(t, "fleet-section", md.Additional["section_target"])
		assert.NotContains(t, md.Additional, "section_id")
		assert.Equal(t, map[string]any{"slot": float64(2)}, md.Additional["section_additional"])
		assert.Equal(t, map[string]any{"analyticsScrollTier": "premium"}, md.Additional["section_dataset"])
		assert.Equal(t, int64(0), md.Additional["component_visible_ms"])
		assert.Equal(t, int64(0), *md.DurationMs)
	})

	t.Run("section visible time", func(t *testing.T) {
		f.clock.Advance(2 * time.Second)
		list.metrics.Top = 950
		f.tracker.HandleScroll(list)
		f.frames.run()

		events := f.client.take()
		require.Len(t, events, 1)
		md := events[0].Metadata
		assert.Equal(t, 90, md.Additional["threshold"])
		assert.Equal(t, int64(2000), md.Additional["component_visible_ms"])
		assert.Equal(t, int64(2000), *md.DurationMs)
		assert.Equal(t, int64(2000), md.Additional["page_time_ms"])
	})

	t.Run("detached container", func(t *testing.T) {
		doc.detached[list.key] = true
		list.metrics.Top = 1000
		f.tracker.HandleScroll(list)
		f.frames.run()
		assert.Empty(t, f.client.take())

		delete(doc.detached, list.key)
		f.tracker.HandleScroll(list)
		f.frames.run()
		assert.Len(t, f.client.take(), 6, "state of a detached container is forgotten")
	})
}

func TestScrollFallsBackToContainerSection(t *testing.T) {
	f := newTrackerFixture(t)
	doc := f.doc
	section := doc.element("section", doc.body, "id", "faq", "data-analytics-scroll-section", "faq")
	inner := doc.element("div", section, "class", "faq-list")
	inner.metrics = ScrollMetrics{Top: 100, ViewportHeight: 100, ScrollHeight: 1100}

	f.tracker.Navigate("/", "")
	f.frames.run()
	f.tracker.HandleScroll(inner)
	f.frames.run()

	events := f.client.take()
	require.Len(t, events, 1)
	md := events[0].Metadata
	assert.Equal(t, "body > section#faq", md.InteractionTarget)
	assert.Equal(t, "faq", md.InteractionLabel)
	assert.Equal(t, "faq", md.Additional["section_id"])
}

func TestCTAClick(t *testing.T) {
	f := newTrackerFixture(t)
	doc := f.doc
	hero := doc.element("div", doc.body, "id", "hero", "class", "hero")
	cta := doc.element("a", hero,
		"class", "btn btn-primary big",
		"data-analytics-cta", "hero",
		"data-analytics-label", "Rezervă acum",
		"data-analytics-target", "hero-cta",
		"data-analytics-metadata", `{"position":"hero"}`,
		"data-car-id", "42",
		"data-promo", "",
	)
	icon := doc.element("span", cta)

	f.tracker.Navigate("/", "")
	f.frames.run()
	f.clock.Advance(1500 * time.Millisecond)
	f.tracker.HandleClick(icon)

	events := f.client.take()
	require.Len(t, events, 1)
	assert.Equal(t, event.TypeCTAClick, events[0].Type)
	md := events[0].Metadata
	assert.Equal(t, "Rezervă acum", md.InteractionLabel)
	assert.Equal(t, "hero-cta", md.InteractionTarget)
	assert.Equal(t, int64(1500), *md.DurationMs)
	assert.Equal(t, map[string]any{
		"position":     "hero",
		"dataset":      map[string]any{"carId": "42", "promo": ""},
		"page_time_ms": int64(1500),
	}, md.Additional)

	t.Run("event attribute names the type", func(t *testing.T) {
		btn := doc.element("button", hero, "data-analytics-event", "booking_start", "data-analytics-cta", "x")
		f.tracker.HandleClick(btn)
		events := f.client.take()
		require.Len(t, events, 1)
		assert.Equal(t, "booking_start", events[0].Type)
	})

	t.Run("empty marker is ignored", func(t *testing.T) {
		btn := doc.element("button", hero, "data-analytics-cta", "")
		f.tracker.HandleClick(btn)
		assert.Empty(t, f.client.take())
	})

	t.Run("label and target fallbacks", func(t *testing.T) {
		btn := doc.element("button", hero, "data-analytics-cta", "1")
		btn.text = "  Vezi oferta  "
		f.tracker.HandleClick(btn)
		events := f.client.take()
		require.Len(t, events, 1)
		md := events[0].Metadata
		assert.Equal(t, "Vezi oferta", md.InteractionLabel)
		assert.Equal(t, "body > div#hero.hero > button", md.InteractionTarget)
		assert.NotContains(t, md.Additional, "dataset")
	})

	t.Run("unmarked element", func(t *testing.T) {
		f.tracker.HandleClick(hero)
		f.tracker.HandleClick(nil)
		assert.Empty(t, f.client.take())
	})

	t.Run("excluded route", func(t *testing.T) {
		f.tracker.Navigate("/admin", "")
		f.tracker.HandleClick(icon)
		assert.Empty(t, f.client.take())
	})
}

func TestFormLifecycle(t *testing.T) {
	f := newTrackerFixture(t)
	doc := f.doc
	form := doc.element("form", doc.body,
		"id", "booking",
		"name", "booking-form",
		"method", "POST",
		"action", "/rezervare",
		"data-analytics-form", "",
	)
	email := doc.element("input", form, "name", "email")
	phone := doc.element("input", form, "name", "phone")

	f.tracker.Navigate("/rezervare", "")
	f.frames.run()
	f.clock.Advance(time.Second)
	f.tracker.HandleFocusIn(email)
	f.tracker.HandleFocusIn(phone)

	starts := f.client.ofType(event.TypeFormStart)
	require.Len(t, starts, 1, "form_start fires once per form and view")
	md := starts[0].Metadata
	assert.Equal(t, "body > form#booking", md.InteractionTarget)
	assert.Equal(t, "booking-form", md.InteractionLabel)
	assert.Equal(t, int64(1000), *md.DurationMs)
	assert.Equal(t, map[string]any{
		"form_id":      "booking",
		"form_name":    "booking-form",
		"method":       "post",
		"page_time_ms": int64(1000),
	}, md.Additional)

	f.clock.Advance(4 * time.Second)
	f.tracker.HandleSubmit(form)
	submits := f.client.ofType(event.TypeFormSubmit)
	require.Len(t, submits, 1)
	md = submits[0].Metadata
	assert.Equal(t, int64(4000), *md.DurationMs)
	assert.Equal(t, true, md.Additional["started"])
	assert.Equal(t, int64(4000), md.Additional["form_completion_ms"])
	assert.Equal(t, int64(5000), md.Additional["page_time_ms"])
	assert.Equal(t, "/rezervare", md.Additional["action"])
	f.client.take()

	t.Run("new view forgets started forms", func(t *testing.T) {
		f.tracker.Navigate("/rezervare", "step=2")
		f.client.take()
		f.clock.Advance(2 * time.Second)
		f.tracker.HandleSubmit(form)

		submits := f.client.ofType(event.TypeFormSubmit)
		require.Len(t, submits, 1)
		md := submits[0].Metadata
		assert.Equal(t, false, md.Additional["started"])
		assert.NotContains(t, md.Additional, "form_completion_ms")
		assert.Equal(t, int64(2000), *md.DurationMs)
		f.client.take()
	})

	t.Run("bare form", func(t *testing.T) {
		bare := doc.element("form", doc.body, "data-analytics-form", "")
		field := doc.element("textarea", bare)
		f.tracker.HandleFocusIn(field)
		f.tracker.HandleSubmit(bare)

		events := f.client.take()
		require.Len(t, events, 2)
		md := events[1].Metadata
		assert.Equal(t, "form", md.InteractionLabel)
		assert.Equal(t, "body > form", md.InteractionTarget)
		assert.Nil(t, md.Additional["form_id"])
		assert.Nil(t, md.Additional["form_name"])
		assert.Nil(t, md.Additional["action"])
		assert.Equal(t, "get", md.Additional["method"])
		assert.Contains(t, md.Additional, "form_id")
	})

	t.Run("untracked form", func(t *testing.T) {
		plain := doc.element("form", doc.body, "id", "newsletter")
		field := doc.element("input", plain)
		f.tracker.HandleFocusIn(field)
		f.tracker.HandleSubmit(plain)
		f.tracker.HandleSubmit(field)
		assert.Empty(t, f.client.take())
	})
}

func TestPageDuration(t *testing.T) {
	t.Run("route change", func(t *testing.T) {
		f := newTrackerFixture(t)
		f.tracker.Navigate("/", "")
		f.clock.Advance(4 * time.Second)
		f.tracker.Navigate("/oferte", "")

		durations := f.client.ofType(event.TypePageDuration)
		require.Len(t, durations, 1)
		d := durations[0]
		assert.Equal(t, "https://dacars.ro/", d.PageURL)
		assert.True(t, d.OmitDevice)
		assert.Equal(t, int64(4000), *d.Metadata.DurationMs)
		assert.Equal(t, ReasonRouteChange, d.Metadata.Additional["reason"])
	})

	t.Run("hidden time excluded and unload reported once", func(t *testing.T) {
		f := newTrackerFixture(t)
		f.tracker.Navigate("/", "")
		f.clock.Advance(3 * time.Second)
		f.tracker.HandleVisibilityChange(true)
		f.clock.Advance(10 * time.Second)
		f.tracker.HandleVisibilityChange(false)
		f.clock.Advance(2 * time.Second)
		f.tracker.HandleBeforeUnload()
		f.tracker.HandleBeforeUnload()

		durations := f.client.ofType(event.TypePageDuration)
		require.Len(t, durations, 1)
		md := durations[0].Metadata
		assert.Equal(t, int64(5000), *md.DurationMs)
		assert.Equal(t, ReasonBeforeUnload, md.Additional["reason"])
		assert.Equal(t, int64(5000), md.Additional["page_time_ms"])

		assert.Equal(t, []analytics.FlushOptions{{UseBeacon: true}, {UseBeacon: true}, {UseBeacon: true}}, f.client.flushes)
	})

	t.Run("leaving to an excluded route", func(t *testing.T) {
		f := newTrackerFixture(t)
		f.tracker.Navigate("/", "")
		f.clock.Advance(time.Second)
		f.tracker.Navigate("/admin", "")
		f.tracker.HandleVisibilityChange(true)
		f.tracker.HandleBeforeUnload()

		assert.Empty(t, f.client.ofType(event.TypePageDuration))
		assert.Empty(t, f.client.flushes)
	})
}

func TestClose(t *testing.T) {
	f := newTrackerFixture(t)
	f.tracker.Navigate("/", "")
	f.tracker.HandleScroll(nil)
	f.tracker.Close()

	assert.False(t, f.client.Enabled())
	assert.Zero(t, f.frames.pending())
}

func TestClockFrames(t *testing.T) {
	clock := clockwork.NewFakeClock()
	frames := ClockFrames{Clock: clock}

	ran := make(chan struct{}, 2)
	frames.RequestFrame(func() { ran <- struct{}{} })
	cancel := frames.RequestFrame(func() { ran <- struct{}{} })
	cancel()

	clock.Advance(frameInterval)
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("frame did not run")
	}
	select {
	case <-ran:
		t.Fatal("cancelled frame ran")
	case <-time.After(50 * time.Millisecond):
	}
}

type batchRecorder struct {
	mu     sync.Mutex
	events []event.Queued
}

func (r *batchRecorder) Send(_ context.Context, events []event.Queued, _ bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
	return true
}

func TestReferrerChaining(t *testing.T) {
	env := environment.NewStatic("https://dacars.ro/")
	env.ReferrerURL = "https://www.google.com/"
	clock := clockwork.NewFakeClockAt(time.Date(2025, 5, 1, 9, 30, 0, 0, time.UTC))
	sender := &batchRecorder{}
	client := analytics.New(analytics.Options{
		Env:    env,
		Config: config.Client{MaxBatchSize: 50, MinBatchSize: 1 << 20, FlushInterval: time.Hour},
		Sender: sender,
		Clock:  clock,
	})
	tr := New(Options{Client: client, Doc: newFakeDoc(), Frames: &manualFrames{}, Clock: clock})

	tr.Navigate("/", "")
	clock.Advance(time.Second)
	tr.Navigate("/oferte", "tip=suv")
	tr.Navigate("/admin", "")
	client.Track(event.Input{Type: event.TypeCTAClick})
	tr.Navigate("/contact", "")

	client.Flush(context.Background(), analytics.FlushOptions{})

	type hop struct{ typ, page, referrer string }
	var got []hop
	for _, e := range sender.events {
		got = append(got, hop{e.Type, e.PageURL, e.ReferrerURL})
	}
	assert.Equal(t, []hop{
		{event.TypePageView, "https://dacars.ro/", "https://www.google.com/"},
		{event.TypePageDuration, "https://dacars.ro/", "https://dacars.ro/"},
		{event.TypePageView, "https://dacars.ro/oferte?tip=suv", "https://dacars.ro/"},
		{event.TypePageView, "https://dacars.ro/contact", "https://www.google.com/"},
	}, got)
	require.Len(t, sender.events, 4)
	assert.Nil(t, sender.events[1].Device, "page_duration carries no device")
}
