//go:build js && wasm

package browser

import (
	"math"
	"strings"
	"sync"

	"syscall/js"

	"github.com/Arsene94/dacarsfe-sub002/internal/tracker"
)

// Document adapts window.document. Element keys live in a WeakMap so a node
// keeps its key while it exists.
type Document struct {
	mu   sync.Mutex
	keys js.Value
	next tracker.ElementKey
}

func NewDocument() *Document {
	return &Document{keys: global("WeakMap").New()}
}

var _ tracker.Document = (*Document)(nil)

func (d *Document) keyFor(v js.Value) tracker.ElementKey {
	d.mu.Lock()
	defer d.mu.Unlock()
	if k := d.keys.Call("get", v); k.Type() == js.TypeNumber {
		return tracker.ElementKey(k.Int())
	}
	d.next++
	d.keys.Call("set", v, float64(d.next))
	return d.next
}

// wrap returns nil for anything that is not an HTMLElement.
func (d *Document) wrap(v js.Value) tracker.Element {
	var ok bool
	_ = safely(func() {
		ok = defined(v) && v.InstanceOf(global("HTMLElement"))
	})
	if !ok {
		return nil
	}
	return &element{doc: d, v: v, key: d.keyFor(v)}
}

func (d *Document) Origin() string {
	var o string
	_ = safely(func() { o = stringOr(global("location").Get("origin"), "") })
	return o
}

func (d *Document) Body() tracker.Element {
	return d.wrap(global("document").Get("body"))
}

func (d *Document) Viewport() (float64, float64) {
	var w, h float64
	_ = safely(func() {
		win, root := global("window"), global("document").Get("documentElement")
		w = firstPositive(win.Get("innerWidth"), root.Get("clientWidth"))
		h = firstPositive(win.Get("innerHeight"), root.Get("clientHeight"))
	})
	return w, h
}

func (d *Document) WindowScroll() (tracker.ScrollMetrics, bool) {
	var m tracker.ScrollMetrics
	ok := false
	_ = safely(func() {
		doc := global("document")
		root, body := doc.Get("documentElement"), doc.Get("body")
		if !defined(root) || !defined(body) {
			return
		}
		win := global("window")
		m.Top = firstPositive(win.Get("scrollY"), root.Get("scrollTop"), body.Get("scrollTop"))
		m.ViewportHeight = firstPositive(win.Get("innerHeight"), root.Get("clientHeight"), body.Get("clientHeight"))
		for _, v := range []js.Value{
			body.Get("scrollHeight"), root.Get("scrollHeight"),
			body.Get("offsetHeight"), root.Get("offsetHeight"),
			body.Get("clientHeight"), root.Get("clientHeight"),
		} {
			m.ScrollHeight = math.Max(m.ScrollHeight, numberOr(v, 0))
		}
		ok = true
	})
	return m, ok
}

func (d *Document) ElementFromPoint(x, y float64) tracker.Element {
	var v js.Value
	if err := safely(func() { v = global("document").Call("elementFromPoint", x, y) }); err != nil {
		return nil
	}
	return d.wrap(v)
}

func (d *Document) Contains(el tracker.Element) bool {
	e, ok := el.(*element)
	if !ok {
		return false
	}
	contains := false
	_ = safely(func() { contains = global("document").Call("contains", e.v).Truthy() })
	return contains
}

func (d *Document) Hidden() bool {
	var state string
	_ = safely(func() { state = stringOr(global("document").Get("visibilityState"), "") })
	return state == "hidden"
}

type element struct {
	doc *Document
	v   js.Value
	key tracker.ElementKey
}

func (e *element) Key() tracker.ElementKey { return e.key }

func (e *element) TagName() string {
	return strings.ToLower(stringOr(e.v.Get("tagName"), ""))
}

func (e *element) ID() string {
	return stringOr(e.v.Get("id"), "")
}

func (e *element) ClassName() string {
	v, _ := e.Attr("class")
	return v
}

func (e *element) Attr(name string) (string, bool) {
	var v js.Value
	if err := safely(func() { v = e.v.Call("getAttribute", name) }); err != nil || v.IsNull() {
		return "", false
	}
	return stringOr(v, ""), true
}

func (e *element) DataAttrs() map[string]string {
	out := map[string]string{}
	_ = safely(func() {
		attrs := e.v.Get("attributes")
		for i := 0; i < attrs.Length(); i++ {
			a := attrs.Index(i)
			if name, ok := strings.CutPrefix(a.Get("name").String(), "data-"); ok {
				out[name] = a.Get("value").String()
			}
		}
	})
	return out
}

func (e *element) TextContent() string {
	return stringOr(e.v.Get("textContent"), "")
}

func (e *element) HeadingText() string {
	var text string
	_ = safely(func() {
		h := e.v.Call("querySelector", "h1, h2, h3, h4, h5, h6")
		if defined(h) {
			text = stringOr(h.Get("textContent"), "")
		}
	})
	return text
}

func (e *element) Parent() tracker.Element {
	return e.doc.wrap(e.v.Get("parentElement"))
}

func (e *element) ScrollMetrics() tracker.ScrollMetrics {
	return tracker.ScrollMetrics{
		Top:            numberOr(e.v.Get("scrollTop"), 0),
		ViewportHeight: numberOr(e.v.Get("clientHeight"), 0),
		ScrollHeight:   numberOr(e.v.Get("scrollHeight"), 0),
	}
}

func (e *element) Rect() tracker.Rect {
	var r tracker.Rect
	_ = safely(func() {
		b := e.v.Call("getBoundingClientRect")
		r = tracker.Rect{
			Left:   numberOr(b.Get("left"), 0),
			Top:    numberOr(b.Get("top"), 0),
			Width:  numberOr(b.Get("width"), 0),
			Height: numberOr(b.Get("height"), 0),
		}
	})
	return r
}

// AnimationFrames schedules work with requestAnimationFrame. Callbacks run on
// their own goroutine since the tracker may block on its mutex.
type AnimationFrames struct{}

func (AnimationFrames) RequestFrame(fn func()) func() {
	var (
		cb   js.Func
		once sync.Once
	)
	release := func() { once.Do(cb.Release) }
	cb = js.FuncOf(func(js.Value, []js.Value) any {
		release()
		go fn()
		return nil
	})
	id := global("window").Call("requestAnimationFrame", cb)
	return func() {
		global("window").Call("cancelAnimationFrame", id)
		release()
	}
}
