//go:build js && wasm

package browser

import (
	"strings"

	"syscall/js"

	"github.com/Arsene94/dacarsfe-sub002/internal/environment"
)

// Environment reads the host page through window, document, navigator and
// Intl.
type Environment struct {
	durable *WebStorage
	session *WebStorage
}

func NewEnvironment() *Environment {
	return &Environment{
		durable: &WebStorage{name: "localStorage"},
		session: &WebStorage{name: "sessionStorage"},
	}
}

var _ environment.Environment = (*Environment)(nil)

func (e *Environment) HasDOM() bool {
	return defined(global("window")) && defined(global("document"))
}

// Location is origin + pathname + search, without the fragment.
func (e *Environment) Location() (string, error) {
	var out string
	err := safely(func() {
		loc := global("location")
		out = loc.Get("origin").String() + loc.Get("pathname").String() + loc.Get("search").String()
	})
	return out, err
}

func (e *Environment) Referrer() string {
	var ref string
	_ = safely(func() { ref = stringOr(global("document").Get("referrer"), "") })
	return ref
}

func (e *Environment) DurableStorage() environment.Storage { return e.durable }
func (e *Environment) SessionStorage() environment.Storage { return e.session }

func (e *Environment) Viewport() (int, int, bool) {
	var w, h js.Value
	if err := safely(func() {
		win := global("window")
		w, h = win.Get("innerWidth"), win.Get("innerHeight")
	}); err != nil {
		return 0, 0, false
	}
	if w.Type() != js.TypeNumber || h.Type() != js.TypeNumber {
		return 0, 0, false
	}
	return w.Int(), h.Int(), true
}

func (e *Environment) Platform() string {
	var p string
	_ = safely(func() { p = stringOr(global("navigator").Get("platform"), "") })
	return p
}

// Languages is navigator.language followed by navigator.languages.
func (e *Environment) Languages() []string {
	var out []string
	_ = safely(func() {
		nav := global("navigator")
		if l := stringOr(nav.Get("language"), ""); l != "" {
			out = append(out, l)
		}
		list := nav.Get("languages")
		if !defined(list) {
			return
		}
		for i := 0; i < list.Length(); i++ {
			if l := stringOr(list.Index(i), ""); l != "" {
				out = append(out, l)
			}
		}
	})
	return out
}

func (e *Environment) Locale() string {
	return resolvedOption("locale")
}

func (e *Environment) TimeZone() string {
	return resolvedOption("timeZone")
}

func resolvedOption(name string) string {
	var v string
	_ = safely(func() {
		intl := global("Intl")
		if !defined(intl) {
			return
		}
		opts := intl.Get("DateTimeFormat").New().Call("resolvedOptions")
		v = strings.TrimSpace(stringOr(opts.Get(name), ""))
	})
	return v
}

// WebStorage wraps window.localStorage or window.sessionStorage. Access that
// throws, as in some private modes, reports ErrStorageUnavailable.
type WebStorage struct {
	name string
}

func (s *WebStorage) store() (js.Value, error) {
	var st js.Value
	if err := safely(func() { st = global("window").Get(s.name) }); err != nil {
		return js.Undefined(), environment.ErrStorageUnavailable
	}
	if !defined(st) {
		return js.Undefined(), environment.ErrStorageUnavailable
	}
	return st, nil
}

func (s *WebStorage) GetItem(key string) (string, error) {
	st, err := s.store()
	if err != nil {
		return "", err
	}
	var v string
	err = safely(func() { v = stringOr(st.Call("getItem", key), "") })
	return v, err
}

func (s *WebStorage) SetItem(key, value string) error {
	st, err := s.store()
	if err != nil {
		return err
	}
	return safely(func() { st.Call("setItem", key, value) })
}

func (s *WebStorage) RemoveItem(key string) error {
	st, err := s.store()
	if err != nil {
		return err
	}
	return safely(func() { st.Call("removeItem", key) })
}
