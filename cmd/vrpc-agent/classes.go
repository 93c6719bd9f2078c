package main

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/oriys/vrpc/internal/registry"
)

// registerDemoClasses wires up the sample classes used to exercise the
// runtime end to end: Foo (plain getter/setter, spec.md §8 S2/S5) and
// Counter (a member function taking a function-typed argument, to
// exercise the callback protocol).
func registerDemoClasses(reg *registry.Registry) {
	registerFoo(reg)
	registerCounter(reg)
}

type foo struct {
	mu    sync.Mutex
	value int
}

func registerFoo(reg *registry.Registry) {
	reg.RegisterConstructor("Foo", nil, func(args []registry.Arg) (any, error) {
		return &foo{}, nil
	})

	reg.RegisterMemberFunction("Foo", "setValue", "null", []registry.ArgType{registry.ArgNumber},
		func(obj any, args []registry.Arg) (json.RawMessage, error) {
			f := obj.(*foo)
			var v float64
			if err := json.Unmarshal(args[0].Value, &v); err != nil {
				return nil, fmt.Errorf("setValue: %w", err)
			}
			f.mu.Lock()
			f.value = int(v)
			f.mu.Unlock()
			return json.RawMessage("null"), nil
		})

	reg.RegisterMemberFunction("Foo", "getValue", "number", nil,
		func(obj any, args []registry.Arg) (json.RawMessage, error) {
			f := obj.(*foo)
			f.mu.Lock()
			v := f.value
			f.mu.Unlock()
			return json.Marshal(v)
		})
}

type counter struct {
	mu    sync.Mutex
	value int
}

func registerCounter(reg *registry.Registry) {
	reg.RegisterConstructor("Counter", nil, func(args []registry.Arg) (any, error) {
		return &counter{}, nil
	})

	reg.RegisterMemberFunction("Counter", "increment", "number", nil,
		func(obj any, args []registry.Arg) (json.RawMessage, error) {
			c := obj.(*counter)
			c.mu.Lock()
			c.value++
			v := c.value
			c.mu.Unlock()
			return json.Marshal(v)
		})

	// onChange(callback) invokes the callback once immediately with the
	// current value, exercising the asynchronous callback protocol
	// (spec.md §4.3).
	reg.RegisterMemberFunction("Counter", "onChange", "null", []registry.ArgType{registry.ArgFunction},
		func(obj any, args []registry.Arg) (json.RawMessage, error) {
			c := obj.(*counter)
			c.mu.Lock()
			v := c.value
			c.mu.Unlock()
			payload, _ := json.Marshal(v)
			args[0].Callback(payload)
			return json.RawMessage("null"), nil
		})
}
