/*
Package container provides the kernel's service locator.

Add-ons and the kernel publish services by name (settings, i18n, the bus,
the module loader) and look them up without import cycles between packages.

	c := container.New()
	_ = c.Provide("settings", store)
	_ = c.ProvideFunc("templates", func(c *container.Container) (any, error) {
	    return template.NewRegistry(), nil
	})

	store, err := container.Resolve[*setting.Store](c, "settings")

Eager services are stored as given. Lazy services are built once, on first
resolution, and the result (or error) is remembered.

All methods are safe for concurrent use.
*/
package container
