//go:build js && wasm

package browser

import (
	"context"
	"sync"

	"syscall/js"

	"github.com/goccy/go-json"

	"github.com/Arsene94/dacarsfe-sub002/internal/analytics"
	"github.com/Arsene94/dacarsfe-sub002/internal/event"
	"github.com/Arsene94/dacarsfe-sub002/internal/logging"
	"github.com/Arsene94/dacarsfe-sub002/internal/tracker"
)

type listener struct {
	target  js.Value
	name    string
	fn      js.Func
	options any
}

// Bind wires page events to tr and reports the current route. Handlers
// return to JavaScript right away and do their work on a new goroutine. The
// returned function removes everything Bind installed.
func Bind(tr *tracker.Tracker, doc *Document) (release func()) {
	win, document := global("window"), global("document")
	var listeners []listener

	on := func(target js.Value, name string, options any, handle func(ev js.Value)) {
		fn := js.FuncOf(func(_ js.Value, args []js.Value) any {
			if len(args) > 0 {
				handle(args[0])
			}
			return nil
		})
		target.Call("addEventListener", name, fn, options)
		listeners = append(listeners, listener{target: target, name: name, fn: fn, options: options})
	}

	navigate := func() {
		loc := global("location")
		path, search := loc.Get("pathname").String(), loc.Get("search").String()
		go tr.Navigate(path, search)
	}

	on(win, "scroll", map[string]any{"passive": true}, func(js.Value) { go tr.HandleScroll(nil) })
	on(win, "resize", false, func(js.Value) { go tr.HandleResize() })
	on(document, "scroll", true, func(ev js.Value) {
		if el := doc.wrap(ev.Get("target")); el != nil {
			go tr.HandleScroll(el)
		}
	})
	on(win, "click", false, func(ev js.Value) {
		if el := doc.wrap(ev.Get("target")); el != nil {
			go tr.HandleClick(el)
		}
	})
	on(document, "focusin", false, func(ev js.Value) {
		if el := doc.wrap(ev.Get("target")); el != nil {
			go tr.HandleFocusIn(el)
		}
	})
	on(document, "submit", false, func(ev js.Value) {
		if el := doc.wrap(ev.Get("target")); el != nil {
			go tr.HandleSubmit(el)
		}
	})
	on(document, "visibilitychange", false, func(js.Value) {
		go tr.HandleVisibilityChange(doc.Hidden())
	})
	on(win, "beforeunload", false, func(js.Value) { go tr.HandleBeforeUnload() })
	on(win, "popstate", false, func(js.Value) { navigate() })

	restoreHistory := patchHistory(navigate)
	navigate()

	return func() {
		for _, l := range listeners {
			l.target.Call("removeEventListener", l.name, l.fn, l.options)
			l.fn.Release()
		}
		restoreHistory()
		tr.Close()
	}
}

// patchHistory reports client-side navigations made through pushState and
// replaceState.
func patchHistory(onChange func()) (restore func()) {
	history := global("history")
	var restores []func()
	for _, method := range []string{"pushState", "replaceState"} {
		orig := history.Get(method)
		if orig.Type() != js.TypeFunction {
			continue
		}
		fn := js.FuncOf(func(this js.Value, args []js.Value) any {
			params := make([]any, len(args))
			for i, a := range args {
				params[i] = a
			}
			res := orig.Call("apply", this, params)
			onChange()
			return res
		})
		history.Set(method, fn)
		restores = append(restores, func() {
			history.Set(method, orig)
			fn.Release()
		})
	}
	return func() {
		for _, r := range restores {
			r()
		}
	}
}

// Expose publishes a small API on globalThis[name] so page scripts can send
// custom events: track(type, metadata?), flush(useBeacon?), stop(). stop
// calls onStop once.
func Expose(name string, client *analytics.Client, onStop func()) (release func()) {
	track := js.FuncOf(func(_ js.Value, args []js.Value) any {
		if len(args) == 0 {
			return nil
		}
		in := event.Input{Type: stringOr(args[0], "")}
		if len(args) > 1 && defined(args[1]) {
			raw := global("JSON").Call("stringify", args[1]).String()
			var md event.Metadata
			if err := json.Unmarshal([]byte(raw), &md); err != nil {
				logging.Warn().Err(err).Msg("browser: ignoring malformed metadata")
			} else {
				in.Metadata = &md
			}
		}
		go client.Track(in)
		return nil
	})
	flush := js.FuncOf(func(_ js.Value, args []js.Value) any {
		opts := analytics.FlushOptions{UseBeacon: len(args) > 0 && args[0].Truthy()}
		go client.Flush(context.Background(), opts)
		return nil
	})

	var once sync.Once
	stop := js.FuncOf(func(js.Value, []js.Value) any {
		if onStop != nil {
			once.Do(onStop)
		}
		return nil
	})

	js.Global().Set(name, map[string]any{"track": track, "flush": flush, "stop": stop})
	return func() {
		js.Global().Delete(name)
		track.Release()
		flush.Release()
		stop.Release()
	}
}
