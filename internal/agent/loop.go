package agent

import (
	"context"
	"encoding/json"
	"time"

	"github.com/eclipse/paho.golang/paho"

	"github.com/oriys/vrpc/internal/logging"
	"github.com/oriys/vrpc/internal/registry"
	"github.com/oriys/vrpc/internal/topic"
	"github.com/oriys/vrpc/internal/wire"
)

// loop is the agent's single cooperative event-loop goroutine (spec.md
// §5): it drains tasks strictly in arrival order, so no two requests and
// no request and a client-info reap ever touch the registry concurrently.
func (rt *Runtime) loop() {
	for {
		select {
		case <-rt.done:
			return
		case t := <-rt.tasks:
			rt.handleTask(t)
		}
	}
}

func (rt *Runtime) handleTask(t task) {
	switch t.kind {
	case taskClientInfo:
		rt.handleClientInfo(t)
	default:
		rt.handleRequest(t)
	}
}

func (rt *Runtime) handleRequest(t task) {
	parsed, err := topic.ParseRequest(t.topic)
	if err != nil {
		logging.Op().Warn("discarding publish on unrecognized topic", "topic", t.topic, "error", err)
		return
	}

	var inbound wire.Request
	if err := json.Unmarshal(t.payload, &inbound); err != nil {
		logging.Op().Warn("discarding malformed request payload", "topic", t.topic, "error", err)
		return
	}

	req := wire.Request{
		Context: parsed.Context(),
		Method:  parsed.Function,
		Data:    inbound.Data,
		S:       firstNonEmpty(inbound.S, inbound.Data.S),
	}

	// For __delete__, the class owning the instance must be captured
	// before Dispatch runs the synthesized deletion, which removes the
	// instance from the registry.
	var pendingDeleteID, pendingDeleteClass string
	if req.Method == registry.MethodDelete {
		if raw, ok := req.Data.Args["_1"]; ok {
			var id string
			if json.Unmarshal(raw, &id) == nil {
				if class, ok := rt.registry.ClassOf(id); ok {
					pendingDeleteID, pendingDeleteClass = id, class
				}
			}
		}
	}

	start := time.Now()
	resolvedMethod := rt.dispatch.Dispatch(&req)
	elapsed := time.Since(start)

	success := req.Data.E == ""
	outcome := "success"
	if !success {
		outcome = "error"
	}
	rt.metrics.ObserveRequest(parsed.Class, resolvedMethod, outcome, elapsed.Seconds())
	rt.invokeLog.Log(logging.InvocationLog{
		Context:    req.Context,
		Method:     resolvedMethod,
		DurationMs: elapsed.Milliseconds(),
		Success:    success,
		Error:      req.Data.E,
	})

	ctx := context.Background()
	if success {
		switch req.Method {
		case registry.MethodCreate:
			rt.onIsolatedCreated(ctx, parsed.Class, req)
		case registry.MethodCreateNamed:
			rt.onNamedCreated(ctx, parsed.Class, req)
		case registry.MethodDelete:
			rt.onDeleted(ctx, pendingDeleteID, pendingDeleteClass)
		}
	}

	rt.publishReply(ctx, req)
}

func (rt *Runtime) handleClientInfo(t task) {
	parsed, ok := topic.ParseClientInfo(t.topic)
	if !ok {
		return
	}
	var info wire.ClientInfo
	if err := json.Unmarshal(t.payload, &info); err != nil {
		logging.Op().Warn("discarding malformed client-info payload", "topic", t.topic, "error", err)
		return
	}
	if info.Status != wire.StatusOffline {
		return
	}
	rt.reap(context.Background(), parsed.ClientID)
}

// onIsolatedCreated subscribes the new anonymous instance's member topics
// and records it in the ownership index; if this is the owning caller's
// first isolated instance, the caller's liveness topic is subscribed too
// (spec.md §4.7, §8 I5/S4).
func (rt *Runtime) onIsolatedCreated(ctx context.Context, class string, req wire.Request) {
	id, ok := decodeStringResult(req.Data.R)
	if !ok {
		return
	}
	rt.subscribeMember(ctx, class, id)
	if first := rt.ownership.Record(req.S, id, class); first {
		rt.subscribeClientInfo(ctx, req.S)
	}
}

// onNamedCreated subscribes the new shared instance's member topics and
// republishes class-info so new instance is visible to discovery.
func (rt *Runtime) onNamedCreated(ctx context.Context, class string, req wire.Request) {
	id, ok := decodeStringResult(req.Data.R)
	if !ok {
		return
	}
	rt.subscribeMember(ctx, class, id)
	rt.publishClassInfo(ctx, class)
}

// onDeleted unsubscribes a deleted instance's member topics, republishes
// class-info, and — when the instance was isolated — drops it from the
// ownership index, unsubscribing the owning caller's liveness topic if it
// now owns nothing (spec.md §4.7, §8 I6).
func (rt *Runtime) onDeleted(ctx context.Context, id, class string) {
	if id == "" {
		return
	}
	rt.unsubscribeMember(ctx, class, id)
	rt.publishClassInfo(ctx, class)

	clientID, emptied, wasOwned := rt.ownership.Forget(id)
	if wasOwned && emptied {
		rt.unsubscribeClientInfo(ctx, clientID)
	}
}

// reap deletes every isolated instance owned by clientID, unsubscribes
// their topics, republishes the affected classes' class-info, and drops
// the client's own liveness subscription (spec.md §8 S4).
func (rt *Runtime) reap(ctx context.Context, clientID string) {
	instances := rt.ownership.Instances(clientID)
	if len(instances) == 0 {
		rt.unsubscribeClientInfo(ctx, clientID)
		return
	}
	touchedClasses := make(map[string]bool, len(instances))
	for id, class := range instances {
		rt.registry.Delete(id)
		rt.unsubscribeMember(ctx, class, id)
		touchedClasses[class] = true
	}
	for class := range touchedClasses {
		rt.publishClassInfo(ctx, class)
	}
	rt.ownership.Release(clientID)
	rt.unsubscribeClientInfo(ctx, clientID)
	logging.Op().Info("reaped orphaned isolated instances", "client", clientID, "count", len(instances))
}

func (rt *Runtime) publishReply(ctx context.Context, reply wire.Reply) {
	payload, err := json.Marshal(reply)
	if err != nil {
		logging.Op().Error("marshal reply failed", "error", err)
		return
	}
	if reply.S == "" {
		return
	}
	if _, err := rt.cm.Publish(ctx, &paho.Publish{
		Topic:   reply.S,
		Payload: payload,
		QoS:     1,
	}); err != nil {
		logging.Op().Error("publish reply failed", "topic", reply.S, "error", err)
	}
}

func decodeStringResult(raw wire.Value) (string, bool) {
	if raw == nil {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
