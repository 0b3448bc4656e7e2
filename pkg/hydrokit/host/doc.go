/*
Package host loads add-ons into an App and drives the worker lifecycle.

Add-ons come from two places: plugins compiled into the binary and
registered with Register, and script add-ons listed in the manifest written
by package addon. Both load through the same phases, in order:

	locale, template, lib, setting, service, model, handler, script

The data phases fill the App's services (I18n, Templates, Settings). The
code phases require the add-on's section file and call its exported
apply with the binding table described in package module. After each phase
the host dispatches app/load/<phase>.

An add-on or plugin whose phase fails is logged and left out of every later
phase; the rest keep loading.

	app := host.NewApp(host.WithHooks(hooks), host.WithBus(replicator))
	h := host.New(app, host.WithManifest(manifest))
	report, err := h.Load(ctx)
	...
	err = h.Start(ctx) // app/started, app/listen, app/ready
	defer h.Stop(ctx)  // app/exit
*/
package host
