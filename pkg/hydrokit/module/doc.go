/*
Package module loads add-on code into an embedded Lua state.

Two kinds of files are accepted. Source modules (.lua) run as they are when
they parse; modules opening with the marker line

	--!hydro

or that fail to parse go through Transform first, which accepts import and
export statements, const, and await inside functions, and keeps every line
where it was. Cache modules (.hbc) carry a precompiled chunk behind a header
that must match the running runtime (see package codecache); a rejected
cache is fatal for that module.

Every chunk is called with (exports, require, module, __filename,
__dirname, process, _G). Its result, or module.exports when it returns
nothing, becomes the module's exports:

	ld := module.New(module.WithLogger(logger))
	m, err := ld.Require(ctx, "addons/demo/handler.lua")
	if err != nil {
	    return err
	}
	found, err := ld.Apply(ctx, m, "demo", app)

Runtime errors name the original line when the module carried an inline
source map on its last line.
*/
package module
