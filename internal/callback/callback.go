// Package callback implements the process-wide callback delivery sink
// described in spec.md §4.3: a single dispatch point that publishes
// asynchronous callback envelopes produced by target-function invocations
// back to the caller's reply topic.
package callback

import (
	"sync"
	"sync/atomic"

	"github.com/oriys/vrpc/internal/wire"
)

// Sink delivers a callback envelope through the transport. Implementations
// must be safe for concurrent use — callback wrappers may be invoked from
// any goroutine the target function chose.
type Sink func(envelope wire.CallbackEnvelope)

// Registry is the single process-wide callback dispatcher. The agent
// runtime installs its sink each time the MQTT connection comes up; each
// Install replaces the previous sink.
//
// Emit serializes all deliveries behind a single mutex. Per-callback-id
// emissions therefore preserve invocation order trivially (the caller of
// Emit for a given id is always the same target invocation, calling in
// its own order); serialization across unrelated ids costs nothing
// callers observe, since spec.md only requires that cross-id ordering be
// unconstrained, not that it be concurrent.
type Registry struct {
	sink atomic.Pointer[Sink]
	mu   sync.Mutex
}

// New constructs a Registry with no sink installed. Emit is a no-op until
// Install is called.
func New() *Registry {
	return &Registry{}
}

// Install registers the process-wide sink; a second Install replaces the
// prior sink.
func (r *Registry) Install(sink Sink) {
	r.sink.Store(&sink)
}

// Uninstall clears the sink, e.g. when bracketing repeated Run calls in
// the same process.
func (r *Registry) Uninstall() {
	r.sink.Store(nil)
}

// Emit delivers an envelope through the installed sink. If no sink is
// installed the envelope is dropped.
func (r *Registry) Emit(envelope wire.CallbackEnvelope) {
	sink := r.sink.Load()
	if sink == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	(*sink)(envelope)
}
