// Package sandbox provides an isolated JavaScript execution environment for
// media provider plugins. Each plugin gets its own engine instance with a
// restricted global surface, an injected host environment, and deadline
// enforcement on every call into plugin code.
package sandbox

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/dop251/goja"

	"norelock.dev/resonate/pluginhost/internal/models"
	"norelock.dev/resonate/pluginhost/internal/utils"
)

// Options configures the sandbox runtime.
type Options struct {
	// CallTimeout is the deadline applied to a single call into plugin code.
	CallTimeout time.Duration

	// FetchTimeout is the deadline applied to a plugin-initiated HTTP request.
	FetchTimeout time.Duration

	// FetchUserAgent is stamped on every plugin-initiated request.
	FetchUserAgent string

	// MaxResponseBytes caps the size of a fetched response body.
	MaxResponseBytes int64
}

// DefaultOptions returns sandbox options suitable for interactive use.
func DefaultOptions() Options {
	return Options{
		CallTimeout:      15 * time.Second,
		FetchTimeout:     10 * time.Second,
		FetchUserAgent:   "Resonate/1.0",
		MaxResponseBytes: 8 << 20,
	}
}

// Runtime creates sandboxed plugin instances. It is safe for concurrent use;
// the instances it produces serialize their own calls.
type Runtime struct {
	opts    Options
	logger  *utils.Logger
	fetcher *fetcher
}

// NewRuntime creates a sandbox runtime with the given options.
func NewRuntime(opts Options, logger *utils.Logger) *Runtime {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultOptions().CallTimeout
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultOptions().FetchTimeout
	}
	if opts.MaxResponseBytes <= 0 {
		opts.MaxResponseBytes = DefaultOptions().MaxResponseBytes
	}
	if opts.FetchUserAgent == "" {
		opts.FetchUserAgent = DefaultOptions().FetchUserAgent
	}

	return &Runtime{
		opts:   opts,
		logger: logger.Named("sandbox"),
		fetcher: &fetcher{
			client:    &http.Client{Timeout: opts.FetchTimeout},
			userAgent: opts.FetchUserAgent,
			maxBytes:  opts.MaxResponseBytes,
		},
	}
}

// Execute evaluates plugin source in a fresh engine and returns an instance
// wrapping whatever the source exported. The source is wrapped in a module
// scope so plugins written against module.exports or exports both work.
func (r *Runtime) Execute(pluginID, source string) (*Instance, error) {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	env := newEnvironment(pluginID, r.logger, r.fetcher)

	if err := r.installGlobals(vm, env); err != nil {
		return nil, models.NewPluginError(pluginID, "execute", fmt.Errorf("%w: %v", models.ErrLoad, err))
	}

	wrapped := "(function(module, exports) {\n\"use strict\";\n" + source + "\nreturn module.exports;\n})"
	prog, err := goja.Compile(pluginID, wrapped, true)
	if err != nil {
		return nil, models.NewPluginError(pluginID, "execute", fmt.Errorf("%w: %v", models.ErrLoad, err))
	}

	fnVal, err := vm.RunProgram(prog)
	if err != nil {
		return nil, models.NewPluginError(pluginID, "execute", fmt.Errorf("%w: %v", models.ErrLoad, err))
	}

	fn, ok := goja.AssertFunction(fnVal)
	if !ok {
		return nil, models.NewPluginError(pluginID, "execute", fmt.Errorf("%w: source did not compile to a module", models.ErrLoad))
	}

	module := vm.NewObject()
	exports := vm.NewObject()
	if err := module.Set("exports", exports); err != nil {
		return nil, models.NewPluginError(pluginID, "execute", err)
	}

	result, err := fn(goja.Undefined(), module, exports)
	if err != nil {
		return nil, models.NewPluginError(pluginID, "execute", fmt.Errorf("%w: %v", models.ErrLoad, translateException(err)))
	}

	exported := result
	if goja.IsUndefined(exported) || goja.IsNull(exported) {
		exported = module.Get("exports")
	}

	obj, ok := exported.(*goja.Object)
	if !ok {
		return nil, models.NewPluginError(pluginID, "execute", fmt.Errorf("%w: plugin must export an object", models.ErrLoad))
	}

	r.logger.Debug("plugin source evaluated", "pluginId", pluginID)

	return &Instance{
		pluginID:    pluginID,
		vm:          vm,
		exports:     obj,
		env:         env,
		callTimeout: r.opts.CallTimeout,
		logger:      r.logger,
	}, nil
}

// installGlobals sets up the restricted global surface plugins see. Engine
// builtins (Object, JSON, Promise, encodeURIComponent, ...) are already
// present; only host bridges are added here.
func (r *Runtime) installGlobals(vm *goja.Runtime, env *environment) error {
	console := vm.NewObject()
	logAt := func(level string) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			env.log(level, formatConsoleArgs(call.Arguments))
			return goja.Undefined()
		}
	}
	if err := console.Set("log", logAt("info")); err != nil {
		return err
	}
	if err := console.Set("info", logAt("info")); err != nil {
		return err
	}
	if err := console.Set("warn", logAt("warn")); err != nil {
		return err
	}
	if err := console.Set("error", logAt("error")); err != nil {
		return err
	}
	if err := vm.Set("console", console); err != nil {
		return err
	}

	if err := vm.Set("fetch", env.bindFetch(vm)); err != nil {
		return err
	}

	if err := vm.Set("btoa", func(s string) string {
		return base64.StdEncoding.EncodeToString([]byte(s))
	}); err != nil {
		return err
	}
	if err := vm.Set("atob", func(s string) (string, error) {
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return "", err
		}
		return string(decoded), nil
	}); err != nil {
		return err
	}

	// No event loop: timers fire inline so synchronous plugins keep working.
	if err := vm.Set("setTimeout", func(call goja.FunctionCall) goja.Value {
		if fn, ok := goja.AssertFunction(call.Argument(0)); ok {
			_, _ = fn(goja.Undefined())
		}
		return vm.ToValue(0)
	}); err != nil {
		return err
	}
	if err := vm.Set("clearTimeout", func(goja.FunctionCall) goja.Value { return goja.Undefined() }); err != nil {
		return err
	}

	// Placeholder until a call injects the real environment.
	return vm.Set("env", goja.Null())
}

func formatConsoleArgs(args []goja.Value) string {
	out := ""
	for i, a := range args {
		if i > 0 {
			out += " "
		}
		out += a.String()
	}
	return out
}

// translateException flattens engine errors into plain Go errors so callers
// never see engine types.
func translateException(err error) error {
	if ex, ok := err.(*goja.Exception); ok {
		return fmt.Errorf("%s", ex.Value().String())
	}
	return err
}
