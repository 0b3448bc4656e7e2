package module

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	lua "github.com/Shopify/go-lua"

	hkerrors "github.com/randalmurphal/hydrokit/pkg/hydrokit/errors"
	"github.com/randalmurphal/hydrokit/pkg/hydrokit/module/codecache"
	"github.com/randalmurphal/hydrokit/pkg/hydrokit/observability"
)

// Module kinds, by file extension.
const (
	KindSource = "source"
	KindCache  = "cache"
)

// File extensions handled by the loader.
const (
	SourceExt = ".lua"
	CacheExt  = ".hbc"
)

var extensions = map[string]string{
	SourceExt: KindSource,
	CacheExt:  KindCache,
}

var (
	ErrUnsupportedExtension = errors.New("module: unsupported extension")
	ErrNotFound             = errors.New("module: not found")
	ErrClosed               = errors.New("module: loader closed")
)

// refsKey names the registry table holding values referenced from Go.
const refsKey = "hydrokit.refs"

// ScriptError is a load or runtime failure inside a module, with positions
// rewritten through the recorded source maps.
type ScriptError struct {
	Path    string
	Message string
	Err     error
}

func (e *ScriptError) Error() string {
	return e.Message
}

func (e *ScriptError) Unwrap() error {
	return e.Err
}

// Module is a loaded module. Its exports stay inside the loader's state.
type Module struct {
	Path    string
	Dir     string
	Kind    string
	Exports []string

	ref int
}

// Loader loads modules into a single script state. All access to the state
// is serialized by the loader's mutex.
type Loader struct {
	mu      sync.Mutex
	resumed *sync.Cond // broadcast when a paused frame resumes
	paused  int        // frames paused in a binding with mu released
	state   *lua.State
	modules map[string]*Module
	maps    *SourceMaps
	current context.Context
	nextRef int
	process int
	closed  bool

	builtins  map[string]any
	dumpCode  string
	goVersion string
	env       map[string]string

	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(ld *Loader) {
		ld.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(ld *Loader) {
		if m != nil {
			ld.metrics = m
		}
	}
}

// WithSpans sets the span manager.
func WithSpans(s observability.SpanManager) Option {
	return func(ld *Loader) {
		if s != nil {
			ld.spans = s
		}
	}
}

// WithSourceMaps shares a source map store between loaders.
func WithSourceMaps(s *SourceMaps) Option {
	return func(ld *Loader) {
		if s != nil {
			ld.maps = s
		}
	}
}

// WithDumpCode logs the transformed code of modules whose file name is name.
func WithDumpCode(name string) Option {
	return func(ld *Loader) {
		ld.dumpCode = name
	}
}

// WithHostVersion overrides the Go version used when patching cache blobs.
func WithHostVersion(v string) Option {
	return func(ld *Loader) {
		ld.goVersion = v
	}
}

// WithBuiltin makes v available to require(name) without a file.
func WithBuiltin(name string, v any) Option {
	return func(ld *Loader) {
		ld.builtins[name] = v
	}
}

// WithEnv sets process.env as seen by modules. Defaults to the variables
// prefixed HYDRO_.
func WithEnv(env map[string]string) Option {
	return func(ld *Loader) {
		ld.env = env
	}
}

// New creates a Loader with a fresh script state.
func New(opts ...Option) *Loader {
	ld := &Loader{
		modules:   make(map[string]*Module),
		maps:      NewSourceMaps(),
		builtins:  make(map[string]any),
		goVersion: runtime.Version(),
		metrics:   observability.NoopMetrics{},
		spans:     observability.NoopSpanManager{},
		current:   context.Background(),
	}
	ld.resumed = sync.NewCond(&ld.mu)
	for _, opt := range opts {
		opt(ld)
	}
	if ld.env == nil {
		ld.env = hydroEnv()
	}

	l := lua.NewState()
	lua.OpenLibraries(l)
	l.NewTable()
	l.SetField(lua.RegistryIndex, refsKey)
	l.PushGoFunction(await)
	l.SetGlobal("__await")
	ld.state = l

	push(l, map[string]any{
		"env":      ld.env,
		"platform": runtime.GOOS,
		"arch":     runtime.GOARCH,
		"pid":      os.Getpid(),
		"version":  ld.goVersion,
	})
	ld.process = ld.ref(-1)
	l.Pop(1)
	return ld
}

func hydroEnv() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		k, v, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(k, "HYDRO_") {
			env[k] = v
		}
	}
	return env
}

// await returns its arguments unchanged, or the results of calling the
// first argument when it is a function.
func await(l *lua.State) int {
	n := l.Top()
	if n > 0 && l.TypeOf(1) == lua.TypeFunction {
		l.Call(n-1, lua.MultipleReturns)
	}
	return l.Top()
}

// SourceMaps returns the loader's source map store.
func (ld *Loader) SourceMaps() *SourceMaps {
	return ld.maps
}

// Modules returns the paths of loaded modules, sorted.
func (ld *Loader) Modules() []string {
	ld.mu.Lock()
	defer ld.mu.Unlock()
	paths := make([]string, 0, len(ld.modules))
	for p := range ld.modules {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Close releases the state. Later calls fail with ErrClosed.
func (ld *Loader) Close() {
	ld.mu.Lock()
	defer ld.mu.Unlock()
	ld.closed = true
	ld.modules = make(map[string]*Module)
}

// Require loads path once and returns the cached module afterwards.
func (ld *Loader) Require(ctx context.Context, path string) (*Module, error) {
	ld.mu.Lock()
	defer ld.mu.Unlock()
	if ld.closed {
		return nil, ErrClosed
	}

	prev := ld.current
	ld.current = ctx
	defer func() { ld.current = prev }()

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("module: resolve %s: %w", path, err)
	}
	return ld.requireLocked(ctx, abs)
}

// requireLocked loads abs with the mutex held. A module that is still
// loading is returned as is, so cycles see partial exports.
func (ld *Loader) requireLocked(ctx context.Context, abs string) (*Module, error) {
	if m, ok := ld.modules[abs]; ok {
		return m, nil
	}
	kind, ok := extensions[filepath.Ext(abs)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedExtension, abs)
	}

	ctx, span := ld.spans.StartModuleSpan(ctx, abs)
	elapsed := observability.TimedOperation()
	start := time.Now()

	m, err := ld.execute(ctx, abs, kind)

	ld.metrics.RecordModuleLoad(ctx, kind, time.Since(start), err)
	ld.spans.EndSpanWithError(span, err)
	if err != nil {
		return nil, err
	}
	observability.LogModuleLoaded(ld.logger, abs, kind, elapsed())
	return m, nil
}

func (ld *Loader) execute(ctx context.Context, abs, kind string) (*Module, error) {
	l := ld.state
	base := l.Top()
	defer l.SetTop(base)

	m := &Module{Path: abs, Dir: filepath.Dir(abs), Kind: kind}

	l.NewTable()
	exports := l.Top()
	l.NewTable()
	mod := l.Top()
	l.PushValue(exports)
	l.SetField(mod, "exports")
	l.PushString(abs)
	l.SetField(mod, "id")
	l.PushString(abs)
	l.SetField(mod, "filename")

	m.ref = ld.ref(exports)
	ld.modules[abs] = m

	var err error
	if kind == KindCache {
		err = ld.loadCache(ctx, m)
	} else {
		err = ld.loadSource(m)
	}
	if err != nil {
		delete(ld.modules, abs)
		ld.unref(m.ref)
		return nil, err
	}

	l.PushValue(exports)
	l.PushGoFunction(ld.requireFunc(m.Dir))
	l.PushValue(mod)
	l.PushString(abs)
	l.PushString(m.Dir)
	ld.pushRef(ld.process)
	l.PushGlobalTable()
	if err := ld.call(abs, 7, 1); err != nil {
		delete(ld.modules, abs)
		ld.unref(m.ref)
		return nil, err
	}

	if l.IsNil(-1) {
		l.Pop(1)
		l.Field(mod, "exports")
	}
	ld.setRef(m.ref, -1)
	if l.TypeOf(-1) == lua.TypeTable {
		m.Exports = keys(l, -1)
	}
	return m, nil
}

// loadSource leaves the compiled chunk of a source module on the stack.
func (ld *Loader) loadSource(m *Module) error {
	data, err := os.ReadFile(m.Path)
	if err != nil {
		return fmt.Errorf("module: read %s: %w", m.Path, err)
	}
	src := string(data)

	inline, err := InlineMap(ChunkName(m.Path), src)
	if err != nil && ld.logger != nil {
		ld.logger.Warn("ignoring inline source map", "path", m.Path, "error", err)
	}
	if inline != nil {
		ld.maps.Set(ChunkName(m.Path), inline)
	}

	if !HasMarker(src) {
		if err := ld.compile(m.Path, src); err == nil {
			return nil
		}
	}

	code, err := ld.transform(m.Path, src, inline == nil)
	if err != nil {
		return err
	}
	return ld.compile(m.Path, code)
}

// transform rewrites src, retrying once without "await import(" when the
// module uses top-level await.
func (ld *Loader) transform(path, src string, recordMap bool) (string, error) {
	res, err := Transform(ChunkName(path), src)
	if errors.Is(err, ErrTopLevelAwait) {
		observability.LogTransformRetry(ld.logger, path)
		res, err = Transform(ChunkName(path), RewriteAwaitImport(src))
		if err != nil {
			return "", hkerrors.Retried(err, path, 2)
		}
	}
	if err != nil {
		return "", err
	}

	if recordMap {
		ld.maps.Set(ChunkName(path), res.Map)
	}
	if ld.dumpCode != "" && filepath.Base(path) == ld.dumpCode && ld.logger != nil {
		ld.logger.Debug("transformed module", "path", path, "code", res.Code)
	}
	return res.Code, nil
}

// loadCache validates a cache blob and leaves its chunk on the stack.
// A rejected blob is fatal for this module; source is not consulted.
func (ld *Loader) loadCache(ctx context.Context, m *Module) error {
	blob, err := os.ReadFile(m.Path)
	if err != nil {
		return fmt.Errorf("module: read %s: %w", m.Path, err)
	}

	payload, err := ld.accept(blob)
	if err != nil {
		err = fmt.Errorf("%w on %s", err, m.Path)
		observability.LogCacheRejected(ld.logger, m.Path, err)
		ld.metrics.RecordCacheRejected(ctx, m.Path)
		return hkerrors.Unrecoverable(err, m.Path)
	}
	return ld.compile(m.Path, string(payload))
}

func (ld *Loader) accept(blob []byte) ([]byte, error) {
	patched, err := codecache.Patch(blob, codecache.Reference(), ld.goVersion)
	if err != nil {
		return nil, err
	}
	n, err := codecache.DecodeLength(patched)
	if err != nil {
		return nil, err
	}
	return codecache.Compile(codecache.Placeholder(n), patched)
}

// ChunkName is the name a module's code runs under, and the key of its
// source map: the file and its parent directory. Error positions carry it.
func ChunkName(path string) string {
	return filepath.ToSlash(filepath.Join(filepath.Base(filepath.Dir(path)), filepath.Base(path)))
}

// compile parses code and pushes the chunk, or returns the syntax error.
func (ld *Loader) compile(path, code string) error {
	l := ld.state
	top := l.Top()
	if err := l.Load(strings.NewReader(code), "@"+ChunkName(path), ""); err != nil {
		return ld.scriptError(path, top, err)
	}
	return nil
}

// call runs the function below the top args values in protected mode.
func (ld *Loader) call(path string, args, results int) error {
	l := ld.state
	top := l.Top() - args - 1
	if err := l.ProtectedCall(args, results, 0); err != nil {
		return ld.scriptError(path, top, err)
	}
	return nil
}

// scriptError builds a ScriptError from the message left on the stack and
// resets the stack to top.
func (ld *Loader) scriptError(path string, top int, err error) error {
	l := ld.state
	msg, ok := l.ToString(-1)
	if !ok || msg == "" {
		msg = err.Error()
	}
	l.SetTop(top)
	return &ScriptError{Path: path, Message: ld.maps.Rewrite(msg), Err: err}
}

// CompileFile produces a cache blob for the source module at path.
func (ld *Loader) CompileFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("module: read %s: %w", path, err)
	}
	src := string(data)

	ld.mu.Lock()
	defer ld.mu.Unlock()
	if ld.closed {
		return nil, ErrClosed
	}

	code := src
	if HasMarker(src) || ld.compile(path, src) != nil {
		if code, err = ld.transform(path, src, false); err != nil {
			return nil, err
		}
		if err := ld.compile(path, code); err != nil {
			return nil, err
		}
	}
	ld.state.Pop(1)
	return codecache.Build(src, []byte(code)), nil
}

// Call invokes the exported function fn of m with args and returns its
// first result. found is false when m exports no such function.
func (ld *Loader) Call(ctx context.Context, m *Module, fn string, args ...any) (result any, found bool, err error) {
	ld.mu.Lock()
	defer ld.mu.Unlock()
	if ld.closed {
		return nil, false, ErrClosed
	}
	prev := ld.current
	ld.current = ctx
	defer func() { ld.current = prev }()

	l := ld.state
	base := l.Top()
	defer l.SetTop(base)

	ld.pushRef(m.ref)
	if l.TypeOf(-1) != lua.TypeTable {
		return nil, false, nil
	}
	l.Field(-1, fn)
	if l.TypeOf(-1) != lua.TypeFunction {
		return nil, false, nil
	}
	for _, a := range args {
		push(l, a)
	}
	if err := ld.call(m.Path, len(args), 1); err != nil {
		return nil, true, err
	}
	return value(l, -1), true, nil
}

// Export returns the exported value name of m converted to Go.
func (ld *Loader) Export(m *Module, name string) any {
	ld.mu.Lock()
	defer ld.mu.Unlock()
	l := ld.state
	base := l.Top()
	defer l.SetTop(base)

	ld.pushRef(m.ref)
	if l.TypeOf(-1) != lua.TypeTable {
		if name == "" {
			return value(l, -1)
		}
		return nil
	}
	if name == "" {
		return value(l, -1)
	}
	l.Field(-1, name)
	return value(l, -1)
}

// requireFunc is the require visible to a module in dir.
func (ld *Loader) requireFunc(dir string) lua.Function {
	return func(l *lua.State) int {
		name := lua.CheckString(l, 1)
		if v, ok := ld.builtins[name]; ok {
			push(l, v)
			return 1
		}
		path, err := resolve(dir, name)
		if err == nil {
			var m *Module
			if m, err = ld.requireLocked(ld.current, path); err == nil {
				ld.pushRef(m.ref)
				return 1
			}
		}
		lua.Errorf(l, "%s", err.Error())
		return 0
	}
}

// resolve maps a require name to a file. Names without a known extension
// try SourceExt, then CacheExt.
func resolve(dir, name string) (string, error) {
	p := name
	if !filepath.IsAbs(p) {
		p = filepath.Join(dir, p)
	}
	if _, ok := extensions[filepath.Ext(p)]; ok {
		return p, nil
	}
	for _, ext := range []string{SourceExt, CacheExt} {
		if _, err := os.Stat(p + ext); err == nil {
			return p + ext, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, name)
}

// ref stores the value at idx in the refs table and returns its key.
func (ld *Loader) ref(idx int) int {
	ld.nextRef++
	ld.setRef(ld.nextRef, idx)
	return ld.nextRef
}

func (ld *Loader) setRef(n, idx int) {
	l := ld.state
	idx = l.AbsIndex(idx)
	l.Field(lua.RegistryIndex, refsKey)
	l.PushValue(idx)
	l.RawSetInt(-2, n)
	l.Pop(1)
}

func (ld *Loader) pushRef(n int) {
	l := ld.state
	l.Field(lua.RegistryIndex, refsKey)
	l.RawGetInt(-1, n)
	l.Remove(-2)
}

func (ld *Loader) unref(n int) {
	l := ld.state
	l.Field(lua.RegistryIndex, refsKey)
	l.PushNil()
	l.RawSetInt(-2, n)
	l.Pop(1)
}

// unlocked runs fn with the mutex released so listeners can re-enter the
// state. The caller's frame is paused inside a Go binding; frames entered
// meanwhile, from fn or any other goroutine, sit above it on the same
// stack. The caller resumes only after every frame paused above it has
// resumed, which keeps the stack unwinding in order.
func (ld *Loader) unlocked(fn func()) {
	ld.paused++
	depth := ld.paused
	ctx := ld.current
	ld.mu.Unlock()
	defer func() {
		ld.mu.Lock()
		for ld.paused > depth {
			ld.resumed.Wait()
		}
		ld.paused--
		ld.current = ctx
		ld.resumed.Broadcast()
	}()
	fn()
}
