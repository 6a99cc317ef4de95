package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Arsene94/dacarsfe-sub002/internal/analytics"
	"github.com/Arsene94/dacarsfe-sub002/internal/environment"
	"github.com/Arsene94/dacarsfe-sub002/internal/event"
	"github.com/Arsene94/dacarsfe-sub002/internal/logging"
	"github.com/Arsene94/dacarsfe-sub002/internal/transport"
	"github.com/Arsene94/dacarsfe-sub002/pkg/config"
)

const smokeOrigin = "https://dacars.ro"

// smokeStep is one interaction of the scripted visit.
type smokeStep struct {
	page string // navigates here first when set
	in   event.Input
}

// smokeJourney is a visitor arriving from a paid search ad, browsing offers
// and sending the contact form.
func smokeJourney() []smokeStep {
	return []smokeStep{
		{page: "/?utm_source=google&utm_medium=cpc&utm_campaign=smoke&gclid=smoke-gclid"},
		{in: event.Input{Type: event.TypeScroll, Metadata: &event.Metadata{
			ScrollPercentage:  event.Float(25),
			ScrollPixels:      event.Int64(450),
			InteractionTarget: "window",
			InteractionLabel:  "window",
		}}},
		{in: event.Input{Type: event.TypeCTAClick, Metadata: &event.Metadata{
			InteractionTarget: "#hero-cta",
			InteractionLabel:  "Vezi ofertele",
			Additional:        map[string]any{"placement": "hero"},
		}}},
		{page: "/oferte"},
		{page: "/contact"},
		{in: event.Input{Type: event.TypeFormStart, Metadata: &event.Metadata{
			InteractionTarget: "#contact-form",
			InteractionLabel:  "contact",
			Additional:        map[string]any{"form_id": "contact-form", "method": "post"},
		}}},
		{in: event.Input{Type: event.TypeFormSubmit, Metadata: &event.Metadata{
			InteractionTarget: "#contact-form",
			InteractionLabel:  "contact",
			DurationMs:        event.Int64(12500),
			Additional:        map[string]any{"started": true, "form_completion_ms": 12500},
		}}},
	}
}

// runSmoke plays smokeJourney through a native analytics client posting to
// endpoint, then sends a closing page_duration by beacon. It fails when the
// collector leaves anything queued.
func runSmoke(ctx context.Context, endpoint string) error {
	env := environment.NewStatic(smokeOrigin + "/")
	env.ReferrerURL = "https://www.google.com/"
	env.Width, env.Height = 1440, 900
	env.PlatformID = "Linux x86_64"
	env.Langs = []string{"ro-RO", "en-US"}
	env.LocaleTag = "ro-RO"
	env.Zone = "Europe/Bucharest"

	httpClient := &http.Client{Timeout: 5 * time.Second}
	beacon := &transport.AsyncBeacon{Client: httpClient}
	client := analytics.New(analytics.Options{
		Env: env,
		Config: config.Client{
			Endpoint:      endpoint,
			MaxBatchSize:  analytics.DefaultMaxBatchSize,
			MinBatchSize:  1000,
			FlushInterval: time.Hour,
		},
		Requester: &transport.HTTPRequester{Client: httpClient},
		Beacon:    beacon,
	})
	defer client.Close(ctx)
	client.Enable()

	steps := smokeJourney()
	for i, step := range steps {
		if step.page != "" {
			env.URL = smokeOrigin + step.page
			client.TrackPageView("")
			logging.Info().Int("step", i+1).Int("of", len(steps)).Str("page", step.page).Msg("smoke: page view")
			continue
		}
		client.Track(step.in)
		logging.Info().Int("step", i+1).Int("of", len(steps)).Str("type", step.in.Type).Msg("smoke: event")
	}

	client.Flush(ctx, analytics.FlushOptions{})
	if n := client.Len(); n > 0 {
		return fmt.Errorf("%d events still queued after flush to %s", n, endpoint)
	}

	client.Track(event.Input{
		Type:     event.TypePageDuration,
		Metadata: &event.Metadata{DurationMs: event.Int64(42000), Additional: map[string]any{"reason": "before_unload"}},
	})
	client.Flush(ctx, analytics.FlushOptions{UseBeacon: true})
	beacon.Wait()
	if n := client.Len(); n > 0 {
		return fmt.Errorf("beacon was not queued, %d events left", n)
	}
	return nil
}
