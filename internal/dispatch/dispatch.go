// Package dispatch implements the Request Dispatcher (spec.md §4.5): it
// resolves a request document through the Invocation Registry, builds
// callback wrappers for function-typed parameters, invokes the target,
// and populates the reply document. It never touches MQTT — that is the
// Agent Runtime's job (spec.md §4.5 "Reply publication ... is
// orchestrated by the Agent Runtime").
package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/oriys/vrpc/internal/callback"
	"github.com/oriys/vrpc/internal/registry"
	"github.com/oriys/vrpc/internal/signature"
	"github.com/oriys/vrpc/internal/wire"
)

// Dispatcher is a pure function of (request, registry state) to reply;
// it holds no MQTT state of its own.
type Dispatcher struct {
	registry  *registry.Registry
	callbacks *callback.Registry
}

// New constructs a Dispatcher bound to a registry and a callback sink.
func New(reg *registry.Registry, callbacks *callback.Registry) *Dispatcher {
	return &Dispatcher{registry: reg, callbacks: callbacks}
}

// Dispatch mutates req in place into its reply: data.r on success, data.e
// on failure, never both. req.Method keeps its base name. It returns the
// resolved method+sig name, which the Agent Runtime uses for metrics and
// invocation logs; Dispatch itself never fails — all failure is carried
// as data.e.
func (d *Dispatcher) Dispatch(req *wire.Request) (resolvedMethod string) {
	values := signature.Ordered(req.Data.Args)
	sig := signature.Of(values)
	resolvedMethod = req.Method + sig

	target, err := d.registry.Resolve(req.Context, resolvedMethod)
	if err != nil {
		req.Data.E = toWireError(err, req.Context, resolvedMethod)
		req.Data.R = nil
		return resolvedMethod
	}

	args := make([]registry.Arg, len(values))
	for i, v := range values {
		if i < len(target.ArgTypes) && target.ArgTypes[i] == registry.ArgFunction {
			args[i] = registry.Arg{Value: v, Callback: d.buildCallback(req.S, v)}
			continue
		}
		args[i] = registry.Arg{Value: v}
	}

	result, err := target.Invoke(args)
	if err != nil {
		req.Data.E = err.Error()
		req.Data.R = nil
		return resolvedMethod
	}
	if result == nil {
		result = json.RawMessage("null")
	}
	req.Data.R = result
	req.Data.E = ""
	return resolvedMethod
}

// buildCallback decodes a callback-id string argument and returns a
// Callback that packs its values into a V, stamps id and s, and emits
// through the Callback Registry (spec.md §4.3).
func (d *Dispatcher) buildCallback(replyTopic string, idValue json.RawMessage) registry.Callback {
	var callbackID string
	_ = json.Unmarshal(idValue, &callbackID)
	return func(values ...json.RawMessage) {
		args := make(map[string]json.RawMessage, len(values))
		for i, v := range values {
			args[fmt.Sprintf("_%d", i+1)] = v
		}
		d.callbacks.Emit(wire.CallbackEnvelope{
			ID:   callbackID,
			Data: wire.Data{Args: args},
			S:    replyTopic,
		})
	}
}

func toWireError(err error, context, methodSig string) string {
	switch {
	case errors.Is(err, registry.ErrContextNotFound):
		return fmt.Sprintf("Could not find context: %s", context)
	case errors.Is(err, registry.ErrFunctionNotFound):
		return fmt.Sprintf("Could not find function: %s", methodSig)
	default:
		return err.Error()
	}
}
