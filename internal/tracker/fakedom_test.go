package tracker

import (
	"context"
	"strings"
	"sync"

	"github.com/Arsene94/dacarsfe-sub002/internal/analytics"
	"github.com/Arsene94/dacarsfe-sub002/internal/event"
)

type fakeElement struct {
	key     ElementKey
	tag     string
	attrs   map[string]string
	text    string
	heading string
	parent  *fakeElement
	metrics ScrollMetrics
	rect    Rect
}

func (e *fakeElement) Key() ElementKey   { return e.key }
func (e *fakeElement) TagName() string   { return e.tag }
func (e *fakeElement) ID() string        { return e.attrs["id"] }
func (e *fakeElement) ClassName() string { return e.attrs["class"] }

func (e *fakeElement) Attr(name string) (string, bool) {
	v, ok := e.attrs[name]
	return v, ok
}

func (e *fakeElement) DataAttrs() map[string]string {
	out := map[string]string{}
	for k, v := range e.attrs {
		if name, ok := strings.CutPrefix(k, "data-"); ok {
			out[name] = v
		}
	}
	return out
}

func (e *fakeElement) TextContent() string          { return e.text }
func (e *fakeElement) HeadingText() string          { return e.heading }
func (e *fakeElement) ScrollMetrics() ScrollMetrics { return e.metrics }
func (e *fakeElement) Rect() Rect                   { return e.rect }

func (e *fakeElement) Parent() Element {
	if e.parent == nil {
		return nil
	}
	return e.parent
}

type fakeDoc struct {
	next     ElementKey
	origin   string
	body     *fakeElement
	vw, vh   float64
	window   ScrollMetrics
	noBody   bool
	atPoint  Element
	probes   [][2]float64
	detached map[ElementKey]bool
	hidden   bool
}

func newFakeDoc() *fakeDoc {
	d := &fakeDoc{
		origin:   "https://dacars.ro",
		vw:       1280,
		vh:       1000,
		window:   ScrollMetrics{ViewportHeight: 1000, ScrollHeight: 2000},
		detached: map[ElementKey]bool{},
	}
	d.body = d.element("body", nil)
	return d
}

// element builds a node; attrs are name/value pairs.
func (d *fakeDoc) element(tag string, parent *fakeElement, attrs ...string) *fakeElement {
	d.next++
	el := &fakeElement{key: d.next, tag: tag, parent: parent, attrs: map[string]string{}}
	for i := 0; i+1 < len(attrs); i += 2 {
		el.attrs[attrs[i]] = attrs[i+1]
	}
	return el
}

func (d *fakeDoc) Origin() string { return d.origin }
func (d *fakeDoc) Body() Element  { return d.body }

func (d *fakeDoc) Viewport() (float64, float64) { return d.vw, d.vh }

func (d *fakeDoc) WindowScroll() (ScrollMetrics, bool) {
	return d.window, !d.noBody
}

func (d *fakeDoc) ElementFromPoint(x, y float64) Element {
	d.probes = append(d.probes, [2]float64{x, y})
	return d.atPoint
}

func (d *fakeDoc) Contains(el Element) bool { return !d.detached[el.Key()] }
func (d *fakeDoc) Hidden() bool             { return d.hidden }

// manualFrames runs frame callbacks only when the test says so.
type manualFrames struct {
	mu        sync.Mutex
	next      int
	fns       map[int]func()
	requested int
}

func (f *manualFrames) RequestFrame(fn func()) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fns == nil {
		f.fns = map[int]func(){}
	}
	f.next++
	id := f.next
	f.fns[id] = fn
	f.requested++
	return func() {
		f.mu.Lock()
		delete(f.fns, id)
		f.mu.Unlock()
	}
}

func (f *manualFrames) pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fns)
}

func (f *manualFrames) run() {
	f.mu.Lock()
	fns := f.fns
	f.fns = map[int]func(){}
	f.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// fakeClient records what the tracker asks of the analytics client.
type fakeClient struct {
	mu        sync.Mutex
	enabled   bool
	events    []event.Input
	pageViews []string
	resets    int
	flushes   []analytics.FlushOptions
}

func (c *fakeClient) Enable() {
	c.mu.Lock()
	c.enabled = true
	c.mu.Unlock()
}

func (c *fakeClient) Disable() {
	c.mu.Lock()
	c.enabled = false
	c.mu.Unlock()
}

func (c *fakeClient) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

func (c *fakeClient) Track(in event.Input) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enabled {
		c.events = append(c.events, in)
	}
}

func (c *fakeClient) TrackPageView(pageURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enabled {
		c.pageViews = append(c.pageViews, pageURL)
	}
}

func (c *fakeClient) ResetReferrer() {
	c.mu.Lock()
	c.resets++
	c.mu.Unlock()
}

func (c *fakeClient) Flush(_ context.Context, opts analytics.FlushOptions) {
	c.mu.Lock()
	c.flushes = append(c.flushes, opts)
	c.mu.Unlock()
}

func (c *fakeClient) ofType(typ string) []event.Input {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []event.Input
	for _, e := range c.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func (c *fakeClient) take() []event.Input {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.events
	c.events = nil
	return out
}
