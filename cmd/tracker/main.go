//go:build js && wasm

// Command tracker is the WebAssembly build of the analytics client. Load it
// with wasm_exec.js; configuration comes from go.env in the loader.
// dacarsAnalytics.stop() detaches the tracker and flushes what is queued.
package main

import (
	"context"

	"github.com/Arsene94/dacarsfe-sub002/internal/analytics"
	"github.com/Arsene94/dacarsfe-sub002/internal/browser"
	"github.com/Arsene94/dacarsfe-sub002/internal/logging"
	"github.com/Arsene94/dacarsfe-sub002/internal/tracker"
	"github.com/Arsene94/dacarsfe-sub002/pkg/config"
)

func main() {
	logging.Init(logging.ConfigFromEnv())
	cfg := config.LoadClient()

	client := analytics.New(analytics.Options{
		Env:       browser.NewEnvironment(),
		Config:    cfg,
		Requester: browser.FetchRequester{},
		Beacon:    browser.Beacon{},
	})

	doc := browser.NewDocument()
	tr := tracker.New(tracker.Options{
		Client: client,
		Doc:    doc,
		Frames: browser.AnimationFrames{},
	})

	stopped := make(chan struct{})
	unexpose := browser.Expose("dacarsAnalytics", client, func() { close(stopped) })
	unbind := browser.Bind(tr, doc)
	logging.Info().Str("endpoint", cfg.Endpoint).Msg("analytics tracker started")

	<-stopped
	unbind()
	client.Close(context.Background())
	logging.Info().Msg("analytics tracker stopped")
	unexpose()
}
