/*
Package hydrokit is the extensibility kernel of a pooled add-on server.

# Overview

A primary process expands add-on packages once, then runs a pool of worker
processes behind one listening socket. Each worker builds a Kernel:

  - a hook registry, the in-process event dispatcher (package hook)
  - a bus that replicates published events to sibling workers through a
    shared task queue, without re-delivering to the sender (packages bus
    and taskqueue)
  - a script loader for add-on code (package module)
  - a host that loads add-ons phase by phase and drives start-up and
    shutdown (package host)

# Basic Usage

	cfg, err := config.LoadOptional("hydrokit.yaml")
	if err != nil {
	    return err
	}
	k, err := hydrokit.NewKernel(hydrokit.WithConfig(cfg))
	if err != nil {
	    return err
	}
	defer k.Close(ctx)

	if _, err := k.Load(ctx); err != nil {
	    return err
	}
	if err := k.Start(ctx); err != nil {
	    return err
	}
	err = k.App.Publish(ctx, "problem/add", map[string]any{"pid": 7})

# Compiled-in Add-ons

Go add-ons implement host.Plugin and register themselves from init:

	func init() {
	    host.Register(host.PluginFunc("audit", host.PhaseService, func(ctx context.Context, app *host.App) error {
	        _, err := app.Hooks().On("user/login", "audit", audit)
	        return err
	    }))
	}

# Process Model

Package cluster runs the primary and the workers. The primary passes each
worker its id, the pool size and the queue path through HYDRO_WORKER_ID,
HYDRO_POOL_SIZE and HYDRO_QUEUE_PATH; NewKernel reads them from the
environment.
*/
package hydrokit
