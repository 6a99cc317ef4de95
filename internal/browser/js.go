//go:build js && wasm

// Package browser binds the analytics client and the tracker to a real page
// through syscall/js. Everything here runs only in a GOOS=js build.
package browser

import (
	"context"
	"fmt"

	"syscall/js"
)

// safely runs fn and turns a thrown JavaScript exception into an error.
func safely(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if jsErr, ok := r.(js.Error); ok {
				err = fmt.Errorf("browser: %s", jsErr.Error())
				return
			}
			err = fmt.Errorf("browser: %v", r)
		}
	}()
	fn()
	return nil
}

func global(name string) js.Value {
	return js.Global().Get(name)
}

func defined(v js.Value) bool {
	return !v.IsUndefined() && !v.IsNull()
}

// stringOr returns v as a string, or def for anything that is not a string.
func stringOr(v js.Value, def string) string {
	if v.Type() != js.TypeString {
		return def
	}
	return v.String()
}

func numberOr(v js.Value, def float64) float64 {
	if v.Type() != js.TypeNumber {
		return def
	}
	return v.Float()
}

// firstPositive mirrors `a || b || c` over numeric properties.
func firstPositive(values ...js.Value) float64 {
	for _, v := range values {
		if n := numberOr(v, 0); n > 0 {
			return n
		}
	}
	return 0
}

// await blocks until p settles. It must not be called on the goroutine of a
// js.Func callback.
func await(ctx context.Context, p js.Value) (js.Value, error) {
	type outcome struct {
		value js.Value
		err   error
	}
	done := make(chan outcome, 1)

	onResolve := js.FuncOf(func(_ js.Value, args []js.Value) any {
		v := js.Undefined()
		if len(args) > 0 {
			v = args[0]
		}
		done <- outcome{value: v}
		return nil
	})
	onReject := js.FuncOf(func(_ js.Value, args []js.Value) any {
		reason := "rejected"
		if len(args) > 0 && defined(args[0]) {
			reason = args[0].Call("toString").String()
		}
		done <- outcome{err: fmt.Errorf("browser: promise %s", reason)}
		return nil
	})
	release := func() {
		onResolve.Release()
		onReject.Release()
	}

	if err := safely(func() { p.Call("then", onResolve, onReject) }); err != nil {
		release()
		return js.Undefined(), err
	}

	select {
	case o := <-done:
		release()
		return o.value, o.err
	case <-ctx.Done():
		// The callbacks must outlive the promise.
		go func() {
			<-done
			release()
		}()
		return js.Undefined(), ctx.Err()
	}
}
