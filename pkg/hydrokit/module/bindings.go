package module

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	lua "github.com/Shopify/go-lua"

	"github.com/randalmurphal/hydrokit/pkg/hydrokit/hook"
)

// Bindings is what add-on code reaches through the table passed to its
// exported apply function.
type Bindings interface {
	Hooks() *hook.Registry
	Publish(ctx context.Context, event string, payload any) error
	Setting(key string) (any, bool)
	Translate(lang, key string) string
	Logger() *slog.Logger
}

// subscription remembers a script listener so off can find it again.
type subscription struct {
	event    string
	ref      int
	listener *hook.Listener
}

type binder struct {
	ld     *Loader
	addon  string
	b      Bindings
	subs   []*subscription
	serial int
}

// Apply calls the exported apply(ctx) of m, if any, with a table of
// bindings for addon. found reports whether m exports apply.
func (ld *Loader) Apply(ctx context.Context, m *Module, addon string, b Bindings) (found bool, err error) {
	bd := &binder{ld: ld, addon: addon, b: b}
	_, found, err = ld.Call(ctx, m, "apply", bd.table())
	return found, err
}

func (bd *binder) table() map[string]any {
	return map[string]any{
		"addon":   bd.addon,
		"on":      lua.Function(bd.on),
		"once":    lua.Function(bd.once),
		"off":     lua.Function(bd.off),
		"emit":    lua.Function(bd.emit),
		"serial":  lua.Function(bd.serialDispatch),
		"bail":    lua.Function(bd.bail),
		"publish": lua.Function(bd.publish),
		"log":     lua.Function(bd.log),
		"setting": lua.Function(bd.setting),
		"t":       lua.Function(bd.translate),
	}
}

// listener wraps the script function at idx as a hook listener.
func (bd *binder) listener(l *lua.State, event string, idx int) *subscription {
	lua.CheckType(l, idx, lua.TypeFunction)
	bd.serial++
	sub := &subscription{event: event, ref: bd.ld.ref(idx)}
	name := fmt.Sprintf("%s:%s#%d", bd.addon, event, bd.serial)
	sub.listener = hook.NewListener(name, bd.ld.scriptFunc(bd.addon, sub.ref))
	return sub
}

// scriptFunc calls the referenced script function with the mutex held.
func (ld *Loader) scriptFunc(path string, ref int) hook.Func {
	return func(ctx context.Context, args ...any) (any, error) {
		ld.mu.Lock()
		defer ld.mu.Unlock()
		if ld.closed {
			return nil, ErrClosed
		}
		prev := ld.current
		ld.current = ctx
		defer func() { ld.current = prev }()

		l := ld.state
		base := l.Top()
		defer l.SetTop(base)

		ld.pushRef(ref)
		for _, a := range args {
			push(l, a)
		}
		if err := ld.call(path, len(args), 1); err != nil {
			return nil, err
		}
		return value(l, -1), nil
	}
}

func (bd *binder) subscribe(l *lua.State, once bool) int {
	event := lua.CheckString(l, 1)
	sub := bd.listener(l, event, 2)

	var (
		dispose hook.Disposer
		err     error
	)
	if once {
		dispose, err = bd.b.Hooks().Once(event, sub.listener)
	} else {
		dispose, err = bd.b.Hooks().Subscribe(event, sub.listener)
	}
	if err != nil {
		bd.ld.unref(sub.ref)
		lua.Errorf(l, "%s", err.Error())
		return 0
	}
	bd.subs = append(bd.subs, sub)

	l.PushGoFunction(func(l *lua.State) int {
		l.PushBoolean(dispose())
		return 1
	})
	return 1
}

func (bd *binder) on(l *lua.State) int   { return bd.subscribe(l, false) }
func (bd *binder) once(l *lua.State) int { return bd.subscribe(l, true) }

// off removes the listener registered for the same event and function.
func (bd *binder) off(l *lua.State) int {
	event := lua.CheckString(l, 1)
	lua.CheckType(l, 2, lua.TypeFunction)

	for i, sub := range bd.subs {
		if sub.event != event {
			continue
		}
		bd.ld.pushRef(sub.ref)
		same := l.RawEqual(-1, 2)
		l.Pop(1)
		if !same {
			continue
		}
		removed := bd.b.Hooks().Unsubscribe(event, sub.listener)
		bd.subs = append(bd.subs[:i], bd.subs[i+1:]...)
		bd.ld.unref(sub.ref)
		l.PushBoolean(removed)
		return 1
	}
	l.PushBoolean(false)
	return 1
}

// args converts the stack values from index from up to the top.
func args(l *lua.State, from int) []any {
	var out []any
	for i := from; i <= l.Top(); i++ {
		out = append(out, value(l, i))
	}
	return out
}

// dispatch runs fn with the state unlocked so listeners can re-enter it.
func (bd *binder) dispatch(l *lua.State, fn func(ctx context.Context) error) {
	var err error
	ctx := bd.ld.current
	bd.ld.unlocked(func() {
		err = fn(ctx)
	})
	if err != nil {
		lua.Errorf(l, "%s", err.Error())
	}
}

func (bd *binder) emit(l *lua.State) int {
	event, rest := lua.CheckString(l, 1), args(l, 2)
	bd.dispatch(l, func(ctx context.Context) error {
		return bd.b.Hooks().Parallel(ctx, event, rest...)
	})
	return 0
}

func (bd *binder) serialDispatch(l *lua.State) int {
	event, rest := lua.CheckString(l, 1), args(l, 2)
	bd.dispatch(l, func(ctx context.Context) error {
		return bd.b.Hooks().Serial(ctx, event, rest...)
	})
	return 0
}

func (bd *binder) bail(l *lua.State) int {
	event, rest := lua.CheckString(l, 1), args(l, 2)
	var result any
	bd.dispatch(l, func(ctx context.Context) error {
		var err error
		result, err = bd.b.Hooks().Bail(ctx, event, rest...)
		return err
	})
	push(l, result)
	return 1
}

func (bd *binder) publish(l *lua.State) int {
	event := lua.CheckString(l, 1)
	payload := value(l, 2)
	bd.dispatch(l, func(ctx context.Context) error {
		return bd.b.Publish(ctx, event, payload)
	})
	return 0
}

// log(level, message, key, value, ...)
func (bd *binder) log(l *lua.State) int {
	level := strings.ToLower(lua.CheckString(l, 1))
	msg := lua.CheckString(l, 2)
	logger := bd.b.Logger()
	if logger == nil {
		return 0
	}

	attrs := []any{slog.String("addon", bd.addon)}
	rest := args(l, 3)
	for i := 0; i+1 < len(rest); i += 2 {
		attrs = append(attrs, slog.Any(fmt.Sprint(rest[i]), rest[i+1]))
	}

	switch level {
	case "debug":
		logger.Debug(msg, attrs...)
	case "warn", "warning":
		logger.Warn(msg, attrs...)
	case "error":
		logger.Error(msg, attrs...)
	default:
		logger.Info(msg, attrs...)
	}
	return 0
}

// setting(key) looks key up in the add-on's namespace first, then globally.
func (bd *binder) setting(l *lua.State) int {
	key := lua.CheckString(l, 1)
	if v, ok := bd.b.Setting(bd.addon + "." + key); ok {
		push(l, v)
		return 1
	}
	v, _ := bd.b.Setting(key)
	push(l, v)
	return 1
}

func (bd *binder) translate(l *lua.State) int {
	lang := lua.CheckString(l, 1)
	key := lua.CheckString(l, 2)
	l.PushString(bd.b.Translate(lang, key))
	return 1
}
