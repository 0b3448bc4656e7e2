package container

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Sentinel errors.
var (
	ErrNotProvided   = errors.New("container: service not provided")
	ErrAlreadyExists = errors.New("container: service already provided")
	ErrWrongType     = errors.New("container: service has unexpected type")
)

// Factory builds a service the first time it is resolved.
type Factory func(c *Container) (any, error)

type entry struct {
	once    sync.Once
	factory Factory
	value   any
	err     error
}

func (e *entry) resolve(c *Container) (any, error) {
	e.once.Do(func() {
		if e.factory != nil {
			e.value, e.err = e.factory(c)
			e.factory = nil
		}
	})
	return e.value, e.err
}

// Container is a thread-safe, name-keyed service locator.
// It uses sync.RWMutex for read-heavy workloads.
type Container struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// New creates an empty container.
func New() *Container {
	return &Container{entries: make(map[string]*entry)}
}

// Provide registers value under name. Providing a name twice is an error;
// use Replace to overwrite deliberately.
func (c *Container) Provide(name string, value any) error {
	e := &entry{value: value}
	e.once.Do(func() {})
	return c.add(name, e)
}

// ProvideFunc registers a lazily built service. factory runs at most once,
// on first resolution. A factory must not resolve its own name.
func (c *Container) ProvideFunc(name string, factory Factory) error {
	return c.add(name, &entry{factory: factory})
}

func (c *Container) add(name string, e *entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[name]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, name)
	}
	c.entries[name] = e
	return nil
}

// Replace registers value under name, overwriting any previous service.
func (c *Container) Replace(name string, value any) {
	e := &entry{value: value}
	e.once.Do(func() {})

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[name] = e
}

// Get resolves the service registered under name.
func (c *Container) Get(name string) (any, error) {
	c.mu.RLock()
	e, ok := c.entries[name]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotProvided, name)
	}
	v, err := e.resolve(c)
	if err != nil {
		return nil, fmt.Errorf("container: build %s: %w", name, err)
	}
	return v, nil
}

// GetOrProvide returns the service under name, registering the result of
// build first if the name is free. build is called at most once per name,
// even under concurrent access.
func (c *Container) GetOrProvide(name string, build Factory) (any, error) {
	c.mu.RLock()
	e, ok := c.entries[name]
	c.mu.RUnlock()

	if !ok {
		c.mu.Lock()
		if e, ok = c.entries[name]; !ok {
			e = &entry{factory: build}
			c.entries[name] = e
		}
		c.mu.Unlock()
	}
	v, err := e.resolve(c)
	if err != nil {
		return nil, fmt.Errorf("container: build %s: %w", name, err)
	}
	return v, nil
}

// Has reports whether name is registered.
func (c *Container) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[name]
	return ok
}

// Remove unregisters name.
func (c *Container) Remove(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, name)
}

// Names returns the registered names in sorted order.
func (c *Container) Names() []string {
	c.mu.RLock()
	names := make([]string, 0, len(c.entries))
	for k := range c.entries {
		names = append(names, k)
	}
	c.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Range resolves and visits every service in name order, stopping when fn
// returns false. It iterates over a snapshot, so fn may Provide or Remove.
// Services whose factory fails are skipped.
func (c *Container) Range(fn func(name string, value any) bool) {
	for _, name := range c.Names() {
		v, err := c.Get(name)
		if err != nil {
			continue
		}
		if !fn(name, v) {
			return
		}
	}
}

// Resolve returns the service under name as T.
func Resolve[T any](c *Container, name string) (T, error) {
	var zero T
	v, err := c.Get(name)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s is %T, want %T", ErrWrongType, name, v, zero)
	}
	return t, nil
}

// MustResolve is Resolve that panics on error. Use during wiring only.
func MustResolve[T any](c *Container, name string) T {
	t, err := Resolve[T](c, name)
	if err != nil {
		panic(err)
	}
	return t
}
