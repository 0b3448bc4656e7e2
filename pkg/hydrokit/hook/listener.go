package hook

import (
	"context"
	"errors"
	"fmt"
	"reflect"
)

// Func is a listener callback. The result is only consulted by Bail.
type Func func(ctx context.Context, args ...any) (any, error)

// Listener is a subscribed callback. Identity is the pointer: subscribing the
// same *Listener twice creates two entries, and Unsubscribe matches by pointer.
type Listener struct {
	// Name appears in logs and wrapped errors.
	Name string

	// Func is invoked on dispatch.
	Func Func

	// origin is the wrapped listener for once-wrappers.
	origin *Listener
}

// NewListener wraps fn in a named Listener.
func NewListener(name string, fn Func) *Listener {
	return &Listener{Name: name, Func: fn}
}

// matches reports whether l is target or a once-wrapper of target.
func (l *Listener) matches(target *Listener) bool {
	return l == target || (l.origin != nil && l.origin == target)
}

// Disposer removes the subscription it was returned for and reports whether
// anything was removed.
type Disposer func() bool

// Sentinel errors.
var (
	ErrNilListener   = errors.New("hook: nil listener")
	ErrListenerPanic = errors.New("hook: listener panicked")
)

func validate(l *Listener) error {
	if l == nil || l.Func == nil {
		return ErrNilListener
	}
	return nil
}

// invoke calls l, converting a panic into ErrListenerPanic.
func invoke(ctx context.Context, l *Listener, args []any) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s: %v", ErrListenerPanic, l.Name, r)
		}
	}()
	return l.Func(ctx, args...)
}

// Meaningful reports whether a listener result stops a Bail chain:
// anything except nil and false. A typed nil pointer, map, slice, func
// or channel counts as nil.
func Meaningful(v any) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok && !b {
		return false
	}
	switch rv := reflect.ValueOf(v); rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return !rv.IsNil()
	}
	return true
}
