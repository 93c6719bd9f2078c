package dispatch

import (
	"encoding/json"
	"testing"

	"github.com/oriys/vrpc/internal/callback"
	"github.com/oriys/vrpc/internal/registry"
	"github.com/oriys/vrpc/internal/wire"
)

func num(n int) json.RawMessage { b, _ := json.Marshal(n); return b }
func str(s string) json.RawMessage { b, _ := json.Marshal(s); return b }

func newFixture() (*registry.Registry, *callback.Registry, *Dispatcher) {
	reg := registry.New()
	cb := callback.New()
	return reg, cb, New(reg, cb)
}

// S1 — static add.
func TestDispatchStaticAdd(t *testing.T) {
	reg, _, d := newFixture()
	reg.RegisterStaticFunction("Calc", "add", "int", []registry.ArgType{registry.ArgNumber, registry.ArgNumber}, func(args []registry.Arg) (json.RawMessage, error) {
		var a, b int
		json.Unmarshal(args[0].Value, &a)
		json.Unmarshal(args[1].Value, &b)
		return json.Marshal(a + b)
	})

	req := &wire.Request{
		Context: "Calc",
		Method:  "add",
		Data:    wire.Data{Args: map[string]json.RawMessage{"_1": num(2), "_2": num(3)}, S: "reply/1"},
		S:       "reply/1",
	}
	d.Dispatch(req)

	if req.Data.E != "" {
		t.Fatalf("unexpected error: %s", req.Data.E)
	}
	var got int
	json.Unmarshal(req.Data.R, &got)
	if got != 5 {
		t.Fatalf("r = %d, want 5", got)
	}
}

// S3 — callback delivery, I3 callback-id echo.
func TestDispatchCallbackDelivery(t *testing.T) {
	reg, cb, d := newFixture()
	var delivered wire.CallbackEnvelope
	cb.Install(func(e wire.CallbackEnvelope) { delivered = e })

	reg.RegisterStaticFunction("Scheduler", "schedule", "void",
		[]registry.ArgType{registry.ArgFunction, registry.ArgNumber},
		func(args []registry.Arg) (json.RawMessage, error) {
			// Invoke the callback synchronously for test determinism; the
			// contract allows any goroutine.
			args[0].Callback(args[1].Value)
			return nil, nil
		})

	req := &wire.Request{
		Context: "Scheduler",
		Method:  "schedule",
		Data: wire.Data{Args: map[string]json.RawMessage{
			"_1": str("cb-7"),
			"_2": num(100),
		}, S: "reply/2"},
		S: "reply/2",
	}
	d.Dispatch(req)

	if req.Data.E != "" {
		t.Fatalf("unexpected error: %s", req.Data.E)
	}
	if string(req.Data.R) != "null" {
		t.Fatalf("r = %s, want null", req.Data.R)
	}
	if delivered.ID != "cb-7" {
		t.Fatalf("callback id = %q, want cb-7", delivered.ID)
	}
	if delivered.S != "reply/2" {
		t.Fatalf("callback s = %q, want reply/2", delivered.S)
	}
	var n int
	json.Unmarshal(delivered.Data.Args["_1"], &n)
	if n != 100 {
		t.Fatalf("callback payload _1 = %d, want 100", n)
	}
}

// S4-adjacent — ContextNotFound for unknown instance.
func TestDispatchContextNotFound(t *testing.T) {
	_, _, d := newFixture()
	req := &wire.Request{
		Context: "iso-9",
		Method:  "setValue",
		Data:    wire.Data{Args: map[string]json.RawMessage{"_1": num(1)}, S: "r"},
		S:       "r",
	}
	d.Dispatch(req)
	if req.Data.R != nil {
		t.Fatalf("expected no result, got %s", req.Data.R)
	}
	if want := "Could not find context: iso-9"; req.Data.E != want {
		t.Fatalf("e = %q, want %q", req.Data.E, want)
	}
}

// S5 — arity mismatch.
func TestDispatchArityMismatch(t *testing.T) {
	reg, _, d := newFixture()
	reg.RegisterConstructor("Foo", nil, func(args []registry.Arg) (any, error) { return struct{}{}, nil })
	reg.RegisterMemberFunction("Foo", "setValue", "void", []registry.ArgType{registry.ArgNumber}, func(obj any, args []registry.Arg) (json.RawMessage, error) {
		return nil, nil
	})
	createReq := &wire.Request{Context: "Foo", Method: "__create__", Data: wire.Data{Args: map[string]json.RawMessage{}, S: "r"}, S: "r"}
	d.Dispatch(createReq)
	var id string
	json.Unmarshal(createReq.Data.R, &id)

	req := &wire.Request{Context: id, Method: "setValue", Data: wire.Data{Args: map[string]json.RawMessage{}, S: "r"}, S: "r"}
	d.Dispatch(req)
	if req.Data.R != nil {
		t.Fatalf("expected no result for arity mismatch")
	}
	if req.Data.E == "" {
		t.Fatalf("expected FunctionNotFound error")
	}
}

// I4 — resolved signature equals signature computed from ordered values;
// zero-arg calls carry the empty signature.
func TestDispatchZeroArgSignature(t *testing.T) {
	reg, _, d := newFixture()
	reg.RegisterStaticFunction("Foo", "ping", "string", nil, func(args []registry.Arg) (json.RawMessage, error) {
		return json.Marshal("pong")
	})
	req := &wire.Request{Context: "Foo", Method: "ping", Data: wire.Data{Args: map[string]json.RawMessage{}, S: "r"}, S: "r"}
	d.Dispatch(req)
	if req.Data.E != "" {
		t.Fatalf("unexpected error: %s", req.Data.E)
	}
	var got string
	json.Unmarshal(req.Data.R, &got)
	if got != "pong" {
		t.Fatalf("r = %q, want pong", got)
	}
}

// Target errors surface as TargetFailure in data.e, never data.r.
func TestDispatchTargetFailure(t *testing.T) {
	reg, _, d := newFixture()
	reg.RegisterStaticFunction("Foo", "boom", "void", nil, func(args []registry.Arg) (json.RawMessage, error) {
		return nil, errBoom
	})
	req := &wire.Request{Context: "Foo", Method: "boom", Data: wire.Data{Args: map[string]json.RawMessage{}, S: "r"}, S: "r"}
	d.Dispatch(req)
	if req.Data.R != nil {
		t.Fatalf("expected no result on target failure")
	}
	if req.Data.E != errBoom.Error() {
		t.Fatalf("e = %q, want %q", req.Data.E, errBoom.Error())
	}
}

var errBoom = boomError{}

type boomError struct{}

func (boomError) Error() string { return "kaboom" }
