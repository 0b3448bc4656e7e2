package hook

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/hydrokit/pkg/hydrokit/observability"
)

// Dispatch modes, as reported to logs and metrics.
const (
	ModeParallel = "parallel"
	ModeSerial   = "serial"
	ModeBail     = "bail"
)

// DefaultMaxListeners is the per-event count above which a leak warning is logged.
const DefaultMaxListeners = 2048

// Registry maps event names to ordered listener lists. Every dispatch works
// on a copy of the list taken when it starts, so listeners added or removed
// during a dispatch only affect later dispatches.
type Registry struct {
	mu     sync.RWMutex
	events map[string][]*Listener
	warned map[string]bool

	maxListeners int
	showBus      bool
	logger       *slog.Logger
	metrics      observability.MetricsRecorder
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger for listener failures and dispatch tracing.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(r *Registry) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithMaxListeners changes the leak warning threshold. Zero or less disables it.
func WithMaxListeners(n int) Option {
	return func(r *Registry) {
		r.maxListeners = n
	}
}

// WithShowBus logs every dispatch at debug level.
func WithShowBus(on bool) Option {
	return func(r *Registry) {
		r.showBus = on
	}
}

// New creates an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		events:       make(map[string][]*Listener),
		warned:       make(map[string]bool),
		maxListeners: DefaultMaxListeners,
		metrics:      observability.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Subscribe appends l to event's listeners.
func (r *Registry) Subscribe(event string, l *Listener) (Disposer, error) {
	if err := validate(l); err != nil {
		return nil, err
	}
	return r.add(event, l, false), nil
}

// Prepend inserts l before event's existing listeners.
func (r *Registry) Prepend(event string, l *Listener) (Disposer, error) {
	if err := validate(l); err != nil {
		return nil, err
	}
	return r.add(event, l, true), nil
}

// On subscribes fn under name.
func (r *Registry) On(event, name string, fn Func) (Disposer, error) {
	if fn == nil {
		return nil, ErrNilListener
	}
	return r.Subscribe(event, NewListener(name, fn))
}

// Once subscribes a wrapper that removes itself on first invocation and then
// delegates to l. l runs at most once even when several dispatches captured
// the wrapper before it was removed. Unsubscribe(event, l) removes the wrapper.
func (r *Registry) Once(event string, l *Listener) (Disposer, error) {
	if err := validate(l); err != nil {
		return nil, err
	}

	var fired atomic.Bool
	wrapper := &Listener{Name: "once(" + l.Name + ")", origin: l}
	wrapper.Func = func(ctx context.Context, args ...any) (any, error) {
		if !fired.CompareAndSwap(false, true) {
			return nil, nil
		}
		r.remove(event, wrapper)
		return l.Func(ctx, args...)
	}
	return r.add(event, wrapper, false), nil
}

// Unsubscribe removes the first entry that is l or a once-wrapper of l.
// It reports whether an entry was removed.
func (r *Registry) Unsubscribe(event string, l *Listener) bool {
	if l == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.events[event]
	for i, entry := range list {
		if entry.matches(l) {
			r.setLocked(event, append(list[:i:i], list[i+1:]...))
			return true
		}
	}
	return false
}

func (r *Registry) add(event string, l *Listener, front bool) Disposer {
	r.mu.Lock()
	list := r.events[event]
	next := make([]*Listener, 0, len(list)+1)
	if front {
		next = append(next, l)
		next = append(next, list...)
	} else {
		next = append(next, list...)
		next = append(next, l)
	}
	r.events[event] = next

	count := len(next)
	warn := r.maxListeners > 0 && count > r.maxListeners && !r.warned[event]
	if warn {
		r.warned[event] = true
	}
	r.mu.Unlock()

	if warn {
		observability.LogListenerOverflow(r.logger, event, count, r.maxListeners)
	}
	return func() bool { return r.remove(event, l) }
}

// remove deletes the exact entry l, without once-origin matching.
func (r *Registry) remove(event string, l *Listener) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.events[event]
	for i, entry := range list {
		if entry == l {
			r.setLocked(event, append(list[:i:i], list[i+1:]...))
			return true
		}
	}
	return false
}

// setLocked stores list, dropping the event when empty. Caller holds r.mu.
func (r *Registry) setLocked(event string, list []*Listener) {
	if len(list) == 0 {
		delete(r.events, event)
		delete(r.warned, event)
		return
	}
	r.events[event] = list
}

// snapshot copies event's listeners.
func (r *Registry) snapshot(event string) []*Listener {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.events[event]
	if len(list) == 0 {
		return nil
	}
	out := make([]*Listener, len(list))
	copy(out, list)
	return out
}

// Count returns the number of entries for event.
func (r *Registry) Count(event string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.events[event])
}

// Listeners returns a copy of event's entries in dispatch order.
func (r *Registry) Listeners(event string) []*Listener {
	return r.snapshot(event)
}

// Events returns the events that have at least one listener, sorted.
func (r *Registry) Events() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.events))
	for name := range r.events {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Parallel starts every listener concurrently and waits for all of them.
// It returns the first error; the remaining listeners still run to completion.
func (r *Registry) Parallel(ctx context.Context, event string, args ...any) error {
	listeners := r.snapshot(event)
	if len(listeners) == 0 {
		return nil
	}
	start := r.begin(ModeParallel, event, len(listeners))

	var g errgroup.Group
	for _, l := range listeners {
		g.Go(func() error {
			_, err := invoke(ctx, l, args)
			if err != nil {
				observability.LogListenerError(r.logger, event, l.Name, err)
				return fmt.Errorf("%s: %s: %w", event, l.Name, err)
			}
			return nil
		})
	}
	err := g.Wait()

	r.metrics.RecordDispatch(ctx, event, ModeParallel, len(listeners), time.Since(start), err)
	return err
}

// Emit is Parallel.
func (r *Registry) Emit(ctx context.Context, event string, args ...any) error {
	return r.Parallel(ctx, event, args...)
}

// Serial runs listeners one at a time in subscription order. The first error
// stops the chain and is returned.
func (r *Registry) Serial(ctx context.Context, event string, args ...any) error {
	listeners := r.snapshot(event)
	if len(listeners) == 0 {
		return nil
	}
	start := r.begin(ModeSerial, event, len(listeners))

	var err error
	for _, l := range listeners {
		if _, lerr := invoke(ctx, l, args); lerr != nil {
			observability.LogListenerError(r.logger, event, l.Name, lerr)
			err = fmt.Errorf("%s: %s: %w", event, l.Name, lerr)
			break
		}
	}

	r.metrics.RecordDispatch(ctx, event, ModeSerial, len(listeners), time.Since(start), err)
	return err
}

// Bail runs listeners one at a time and returns the first meaningful result
// (see Meaningful). Later listeners are not invoked. It returns (nil, nil)
// when no listener produced a meaningful result.
func (r *Registry) Bail(ctx context.Context, event string, args ...any) (any, error) {
	listeners := r.snapshot(event)
	if len(listeners) == 0 {
		return nil, nil
	}
	start := r.begin(ModeBail, event, len(listeners))

	var (
		result any
		err    error
	)
	for _, l := range listeners {
		v, lerr := invoke(ctx, l, args)
		if lerr != nil {
			observability.LogListenerError(r.logger, event, l.Name, lerr)
			err = fmt.Errorf("%s: %s: %w", event, l.Name, lerr)
			break
		}
		if Meaningful(v) {
			result = v
			break
		}
	}

	r.metrics.RecordDispatch(ctx, event, ModeBail, len(listeners), time.Since(start), err)
	return result, err
}

func (r *Registry) begin(mode, event string, n int) time.Time {
	if r.showBus {
		observability.LogDispatch(r.logger, mode, event, n)
	}
	return time.Now()
}
