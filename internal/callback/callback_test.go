package callback

import (
	"encoding/json"
	"strconv"
	"sync"
	"testing"

	"github.com/oriys/vrpc/internal/wire"
)

func TestEmitDropsWithoutSink(t *testing.T) {
	r := New()
	// Must not panic or block.
	r.Emit(wire.CallbackEnvelope{ID: "cb-1"})
}

func TestEmitDeliversThroughSink(t *testing.T) {
	r := New()
	var got []wire.CallbackEnvelope
	var mu sync.Mutex
	r.Install(func(e wire.CallbackEnvelope) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e)
	})

	r.Emit(wire.CallbackEnvelope{ID: "cb-7", S: "reply/2"})

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].ID != "cb-7" || got[0].S != "reply/2" {
		t.Fatalf("unexpected deliveries: %+v", got)
	}
}

func TestEmitPreservesPerIDOrder(t *testing.T) {
	r := New()
	var got []int
	var mu sync.Mutex
	r.Install(func(e wire.CallbackEnvelope) {
		mu.Lock()
		defer mu.Unlock()
		var n int
		_ = json.Unmarshal(e.Data.Args["_1"], &n)
		got = append(got, n)
	})

	for i := 1; i <= 5; i++ {
		r.Emit(wire.CallbackEnvelope{
			ID:   "cb-1",
			Data: wire.Data{Args: map[string]wire.Value{"_1": wire.Value(strconv.Itoa(i))}},
		})
	}

	mu.Lock()
	defer mu.Unlock()
	want := []int{1, 2, 3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestUninstallStopsDelivery(t *testing.T) {
	r := New()
	calls := 0
	r.Install(func(wire.CallbackEnvelope) { calls++ })
	r.Uninstall()
	r.Emit(wire.CallbackEnvelope{ID: "x"})
	if calls != 0 {
		t.Fatalf("expected no delivery after Uninstall, got %d calls", calls)
	}
}
