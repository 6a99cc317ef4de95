//go:build js && wasm

package browser

import (
	"context"

	"syscall/js"

	"github.com/Arsene94/dacarsfe-sub002/internal/transport"
)

// Beacon queues payloads with navigator.sendBeacon.
type Beacon struct{}

func (Beacon) SendBeacon(url string, body []byte) bool {
	ok := false
	_ = safely(func() {
		nav := global("navigator")
		if !defined(nav) || nav.Get("sendBeacon").Type() != js.TypeFunction {
			return
		}
		blob := newJSONBlob(body)
		ok = nav.Call("sendBeacon", url, blob).Truthy()
	})
	return ok
}

func newJSONBlob(body []byte) js.Value {
	buf := global("Uint8Array").New(len(body))
	js.CopyBytesToJS(buf, body)
	opts := map[string]any{"type": "application/json"}
	return global("Blob").New([]any{buf}, opts)
}

// FetchRequester posts through window.fetch without credentials.
type FetchRequester struct{}

func (FetchRequester) Post(ctx context.Context, url string, body []byte, keepalive bool) (*transport.Response, error) {
	var promise js.Value
	if err := safely(func() {
		init := map[string]any{
			"method":      "POST",
			"headers":     map[string]any{"Content-Type": "application/json"},
			"body":        string(body),
			"keepalive":   keepalive,
			"credentials": "omit",
		}
		promise = global("fetch").Invoke(url, init)
	}); err != nil {
		return nil, err
	}

	res, err := await(ctx, promise)
	if err != nil {
		return nil, err
	}
	out := &transport.Response{StatusCode: res.Get("status").Int()}

	var text js.Value
	if err := safely(func() { text = res.Call("text") }); err != nil {
		return out, nil
	}
	if v, err := await(ctx, text); err == nil {
		out.Body = []byte(stringOr(v, ""))
	}
	return out, nil
}
