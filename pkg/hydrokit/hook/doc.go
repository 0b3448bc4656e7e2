/*
Package hook is the in-process event dispatcher every add-on hangs off.

Listeners subscribe to named events and are dispatched with one of three
disciplines:

  - Parallel (alias Emit): every listener starts concurrently; the call
    returns once all have finished, with the first error if any.
  - Serial: one at a time in subscription order; the first error aborts.
  - Bail: one at a time; the first result other than nil or false is
    returned and nothing after it runs.

Every dispatch runs over a copy of the listener list taken at its start, so a
listener that subscribes during its own invocation is not called again in
that dispatch.

	hooks := hook.New(hook.WithLogger(logger))
	dispose, _ := hooks.On("user/login", "audit", func(ctx context.Context, args ...any) (any, error) {
	    return nil, audit(ctx, args[0])
	})
	defer dispose()

	err := hooks.Parallel(ctx, "user/login", user)

Broadcast to sibling worker processes is layered on top by package bus.
*/
package hook
