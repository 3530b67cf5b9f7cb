package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"

	"norelock.dev/resonate/pluginhost/internal/models"
	"norelock.dev/resonate/pluginhost/internal/utils"
)

// Instance wraps a single evaluated plugin. The underlying engine is not
// goroutine safe, so every call into plugin code is serialized by a mutex.
type Instance struct {
	pluginID    string
	vm          *goja.Runtime
	exports     *goja.Object
	env         *environment
	callTimeout time.Duration
	logger      *utils.Logger

	mu sync.Mutex
}

// PluginID returns the identifier this instance was created for.
func (i *Instance) PluginID() string {
	return i.pluginID
}

// Has reports whether the plugin exports a callable member with the given
// name. Dotted paths ("playbackCallback.onPlaybackStart") resolve through
// nested exported objects.
func (i *Instance) Has(method string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	_, _, ok := i.resolve(method)
	return ok
}

// resolve walks a dotted member path and returns the callable plus its
// receiver object. Caller must hold the mutex.
func (i *Instance) resolve(path string) (goja.Callable, goja.Value, bool) {
	obj := i.exports
	parts := strings.Split(path, ".")
	for _, part := range parts[:len(parts)-1] {
		v := obj.Get(part)
		if v == nil {
			return nil, nil, false
		}
		next, ok := v.(*goja.Object)
		if !ok {
			return nil, nil, false
		}
		obj = next
	}

	v := obj.Get(parts[len(parts)-1])
	if v == nil {
		return nil, nil, false
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return nil, nil, false
	}
	return fn, obj, true
}

// Member returns the exported value with the given name as a plain Go value,
// or nil if absent. Used to read declarative fields like platform or version.
func (i *Instance) Member(name string) any {
	i.mu.Lock()
	defer i.mu.Unlock()

	v := i.exports.Get(name)
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	if _, isFn := goja.AssertFunction(v); isFn {
		return nil
	}
	return v.Export()
}

// SetVariables replaces the user variables visible to the plugin environment.
func (i *Instance) SetVariables(vars map[string]string) {
	i.env.setVariables(vars)
}

// Variables returns a copy of the environment's current user variables,
// including any the plugin set itself.
func (i *Instance) Variables() map[string]string {
	return i.env.variables()
}

// OnVariableChange registers a hook invoked whenever the plugin writes a
// user variable through its environment.
func (i *Instance) OnVariableChange(fn func(key, value string)) {
	i.env.onChange = fn
}

// Call invokes an exported plugin method and returns its settled result as a
// plain Go value. The environment is injected for the duration of the call
// and the context deadline (or the instance's call timeout) interrupts
// runaway scripts.
func (i *Instance) Call(ctx context.Context, method string, args ...any) (any, error) {
	var result any
	err := i.call(ctx, method, func(v goja.Value) error {
		if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
			result = nil
			return nil
		}
		result = v.Export()
		return nil
	}, args...)
	return result, err
}

// CallInto invokes an exported plugin method and decodes its settled result
// into out, which must be a pointer.
func (i *Instance) CallInto(ctx context.Context, method string, out any, args ...any) error {
	return i.call(ctx, method, func(v goja.Value) error {
		if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
			return nil
		}
		if err := i.vm.ExportTo(v, out); err != nil {
			return models.NewPluginError(i.pluginID, method, fmt.Errorf("%w: %v", models.ErrInvalidResult, err))
		}
		return nil
	}, args...)
}

func (i *Instance) call(ctx context.Context, method string, consume func(goja.Value) error, args ...any) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	fn, receiver, ok := i.resolve(method)
	if !ok {
		return models.NewPluginError(i.pluginID, method, models.ErrUnsupportedOperation)
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.callTimeout)
		defer cancel()
	}

	jsArgs := make([]goja.Value, len(args))
	for idx, a := range args {
		jsArgs[idx] = i.vm.ToValue(a)
	}

	restore := i.env.inject(i.vm)

	// The watchdog may fire Interrupt at any moment until it acknowledges
	// exit on idle, so ClearInterrupt must wait for that acknowledgement or
	// a late interrupt would poison the next call on this instance.
	done := make(chan struct{})
	idle := make(chan struct{})
	go func() {
		defer close(idle)
		select {
		case <-ctx.Done():
			i.vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	torndown := false
	teardown := func() {
		if torndown {
			return
		}
		torndown = true
		close(done)
		<-idle
		i.vm.ClearInterrupt()
		restore()
	}
	defer teardown()

	v, callErr := fn(receiver, jsArgs...)

	teardown()

	if callErr != nil {
		var interrupted *goja.InterruptedError
		if errors.As(callErr, &interrupted) || ctx.Err() != nil {
			return models.NewPluginError(i.pluginID, method, fmt.Errorf("%w: call timed out", models.ErrExecution))
		}
		return models.NewPluginError(i.pluginID, method, fmt.Errorf("%w: %v", models.ErrExecution, translateException(callErr)))
	}

	// The engine drains the microtask queue before returning, so a promise
	// produced by plugin code is settled here unless it awaits something the
	// sandbox never resolves.
	if p, ok := v.Export().(*goja.Promise); ok {
		switch p.State() {
		case goja.PromiseStateFulfilled:
			v = p.Result()
		case goja.PromiseStateRejected:
			return models.NewPluginError(i.pluginID, method, fmt.Errorf("%w: %s", models.ErrExecution, p.Result().String()))
		default:
			return models.NewPluginError(i.pluginID, method, fmt.Errorf("%w: asynchronous result never settled", models.ErrExecution))
		}
	}

	return consume(v)
}
