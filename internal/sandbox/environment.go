package sandbox

import (
	"sync"

	"github.com/dop251/goja"

	"norelock.dev/resonate/pluginhost/internal/utils"
)

// environment is the host surface injected into plugin code as the global
// env object: user variable access, a namespaced logger, and restricted
// network access.
type environment struct {
	pluginID string
	logger   *utils.Logger
	fetch    *fetcher

	mu       sync.Mutex
	vars     map[string]string
	onChange func(key, value string)
}

func newEnvironment(pluginID string, logger *utils.Logger, fetch *fetcher) *environment {
	return &environment{
		pluginID: pluginID,
		logger:   logger.Named("plugin." + pluginID),
		fetch:    fetch,
		vars:     make(map[string]string),
	}
}

func (e *environment) setVariables(vars map[string]string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vars = make(map[string]string, len(vars))
	for k, v := range vars {
		e.vars[k] = v
	}
}

func (e *environment) variables() map[string]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]string, len(e.vars))
	for k, v := range e.vars {
		out[k] = v
	}
	return out
}

func (e *environment) setVariable(key, value string) {
	e.mu.Lock()
	e.vars[key] = value
	hook := e.onChange
	e.mu.Unlock()

	if hook != nil {
		hook(key, value)
	}
}

func (e *environment) log(level, message string) {
	switch level {
	case "warn":
		e.logger.Warn(message)
	case "error":
		e.logger.Error(message, nil)
	default:
		e.logger.Info(message)
	}
}

// inject binds this environment to the engine's global env variable and
// returns a function restoring whatever was there before. Calls nest, so the
// previous value is kept rather than cleared.
func (e *environment) inject(vm *goja.Runtime) func() {
	prev := vm.GlobalObject().Get("env")
	_ = vm.GlobalObject().Set("env", e.bind(vm))
	return func() {
		if prev == nil {
			prev = goja.Null()
		}
		_ = vm.GlobalObject().Set("env", prev)
	}
}

// bind builds the JS-facing env object.
func (e *environment) bind(vm *goja.Runtime) *goja.Object {
	obj := vm.NewObject()

	_ = obj.Set("getUserVariables", func(goja.FunctionCall) goja.Value {
		return vm.ToValue(e.variables())
	})

	_ = obj.Set("setUserVariable", func(call goja.FunctionCall) goja.Value {
		key := call.Argument(0).String()
		value := call.Argument(1).String()
		e.setVariable(key, value)
		return goja.Undefined()
	})

	_ = obj.Set("log", func(call goja.FunctionCall) goja.Value {
		level := call.Argument(0).String()
		e.log(level, formatConsoleArgs(call.Arguments[1:]))
		return goja.Undefined()
	})

	_ = obj.Set("fetch", e.bindFetch(vm))

	return obj
}

// bindFetch exposes the restricted HTTP client. The call is synchronous from
// the plugin's point of view so providers can be written without promise
// plumbing; async plugins that wrap it in a promise still settle before the
// call returns.
func (e *environment) bindFetch(vm *goja.Runtime) func(call goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		url := call.Argument(0).String()

		var opts fetchOptions
		if arg := call.Argument(1); !goja.IsUndefined(arg) && !goja.IsNull(arg) {
			if err := vm.ExportTo(arg, &opts); err != nil {
				panic(vm.ToValue("fetch: invalid options: " + err.Error()))
			}
		}

		resp, err := e.fetch.do(url, opts)
		if err != nil {
			e.logger.Warn("plugin fetch failed", "url", url, "error", err.Error())
			panic(vm.ToValue("fetch: " + err.Error()))
		}

		return resp.toJS(vm)
	}
}
