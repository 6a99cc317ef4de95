package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/Arsene94/dacarsfe-sub002/internal/logging"
)

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 64 << 10

// MaxBeaconBytes is the payload limit browsers apply to sendBeacon.
const MaxBeaconBytes = 64 << 10

// HTTPRequester posts with net/http. The zero value uses a client without a
// cookie jar, so no credentials are ever attached.
type HTTPRequester struct {
	Client *http.Client
}

func (h *HTTPRequester) client() *http.Client {
	if h.Client != nil {
		return h.Client
	}
	return http.DefaultClient
}

// Post implements Requester. keepalive has no native equivalent and is
// ignored.
func (h *HTTPRequester) Post(ctx context.Context, url string, body []byte, keepalive bool) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := h.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", url, err)
	}
	defer res.Body.Close()

	// body read errors never turn a status into a failure
	data, _ := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	return &Response{StatusCode: res.StatusCode, Body: data}, nil
}

// AsyncBeacon emulates navigator.sendBeacon for native hosts: the payload is
// posted on a background goroutine and the call only reports whether it was
// queued.
type AsyncBeacon struct {
	Client  *http.Client
	Timeout time.Duration

	wg sync.WaitGroup
}

func (b *AsyncBeacon) SendBeacon(url string, body []byte) bool {
	if len(body) > MaxBeaconBytes {
		return false
	}
	payload := append([]byte(nil), body...)
	timeout := b.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		r := &HTTPRequester{Client: b.Client}
		res, err := r.Post(ctx, url, payload, true)
		if err != nil {
			logging.Debug().Err(err).Msg("transport: beacon delivery failed")
			return
		}
		if !res.OK() {
			logging.Debug().Int("status", res.StatusCode).Msg("transport: beacon rejected")
		}
	}()
	return true
}

// Wait blocks until queued beacons have been delivered or given up.
func (b *AsyncBeacon) Wait() {
	b.wg.Wait()
}
