package agent

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/eclipse/paho.golang/paho"

	"github.com/oriys/vrpc/internal/config"
	"github.com/oriys/vrpc/internal/metrics"
	"github.com/oriys/vrpc/internal/registry"
	"github.com/oriys/vrpc/internal/wire"
)

// fakeSession is a recording stand-in for *autopaho.ConnectionManager,
// letting the agent loop and lifecycle side-effects be exercised without
// a broker.
type fakeSession struct {
	mu           sync.Mutex
	published    []*paho.Publish
	subscribed   []string
	unsubscribed []string
}

func (f *fakeSession) Publish(_ context.Context, p *paho.Publish) (*paho.PublishResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, p)
	return &paho.PublishResponse{}, nil
}

func (f *fakeSession) Subscribe(_ context.Context, s *paho.Subscribe) (*paho.Suback, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sub := range s.Subscriptions {
		f.subscribed = append(f.subscribed, sub.Topic)
	}
	return &paho.Suback{}, nil
}

func (f *fakeSession) Unsubscribe(_ context.Context, u *paho.Unsubscribe) (*paho.Unsuback, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, u.Topics...)
	return &paho.Unsuback{}, nil
}

func (f *fakeSession) Disconnect(context.Context) error { return nil }

func (f *fakeSession) lastPublishTo(topic string) *paho.Publish {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.published) - 1; i >= 0; i-- {
		if f.published[i].Topic == topic {
			return f.published[i]
		}
	}
	return nil
}

func (f *fakeSession) contains(haystack []string, suffix string) bool {
	for _, s := range haystack {
		if strings.HasSuffix(s, suffix) {
			return true
		}
	}
	return false
}

func newTestRuntime(t *testing.T) (*Runtime, *registry.Registry, *fakeSession) {
	t.Helper()
	reg := registry.New()
	reg.RegisterConstructor("Foo", nil, func(args []registry.Arg) (any, error) {
		return &struct{}{}, nil
	})
	reg.RegisterMemberFunction("Foo", "ping", "null", nil,
		func(obj any, args []registry.Arg) (json.RawMessage, error) {
			return json.RawMessage("null"), nil
		})

	opts := config.Defaults()
	opts.Domain = "dom"
	opts.Agent = "ag"

	rt := New(opts, reg, metrics.New("test"))
	fake := &fakeSession{}
	rt.cm = fake
	return rt, reg, fake
}

func requestTask(topicStr, sender string, args map[string]json.RawMessage) task {
	req := wire.Request{Data: wire.Data{Args: args, S: sender}, S: sender}
	payload, _ := json.Marshal(req)
	return task{kind: taskRequest, topic: topicStr, payload: payload}
}

func TestIsolatedCreateSubscribesAndTracksOwnership(t *testing.T) {
	rt, _, fake := newTestRuntime(t)

	rt.handleTask(requestTask("dom/ag/Foo/__static__/__create__", "caller/reply", nil))

	clients := rt.ownership.Clients()
	if len(clients) != 1 || clients[0] != "caller/reply" {
		t.Fatalf("ownership.Clients() = %v, want [caller/reply]", clients)
	}
	instances := rt.ownership.Instances("caller/reply")
	if len(instances) != 1 {
		t.Fatalf("expected exactly one isolated instance, got %d", len(instances))
	}

	if !fake.contains(fake.subscribed, "/ping") {
		t.Fatalf("expected a member subscription for ping, got %v", fake.subscribed)
	}
	if !fake.contains(fake.subscribed, "caller/reply/__clientInfo__") {
		t.Fatalf("expected client-info subscription on first isolated instance, got %v", fake.subscribed)
	}

	reply := fake.lastPublishTo("caller/reply")
	if reply == nil {
		t.Fatalf("expected a reply published to caller/reply")
	}
	var decoded wire.Reply
	if err := json.Unmarshal(reply.Payload, &decoded); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if decoded.Data.E != "" {
		t.Fatalf("expected successful create, got error %q", decoded.Data.E)
	}
	var id string
	if err := json.Unmarshal(decoded.Data.R, &id); err != nil || id == "" {
		t.Fatalf("expected a non-empty instance id in r, got %s", decoded.Data.R)
	}
}

func TestNamedCreateIsIdempotentAndNotOwned(t *testing.T) {
	rt, reg, fake := newTestRuntime(t)

	idArg, _ := json.Marshal("foo-1")
	args := map[string]json.RawMessage{"_1": idArg}

	rt.handleTask(requestTask("dom/ag/Foo/__static__/__createNamed__", "r", args))
	rt.handleTask(requestTask("dom/ag/Foo/__static__/__createNamed__", "r", args))

	instances := reg.GetInstances("Foo")
	if len(instances) != 1 || instances[0] != "foo-1" {
		t.Fatalf("GetInstances(Foo) = %v, want [foo-1]", instances)
	}
	if len(rt.ownership.Clients()) != 0 {
		t.Fatalf("named instances must never appear in the ownership index")
	}
	if !fake.contains(fake.subscribed, "/ping") {
		t.Fatalf("expected member subscription for the named instance")
	}
}

func TestDeleteUnsubscribesAndReleasesOwnership(t *testing.T) {
	rt, reg, fake := newTestRuntime(t)

	rt.handleTask(requestTask("dom/ag/Foo/__static__/__create__", "caller/reply", nil))
	instances := rt.ownership.Instances("caller/reply")
	var id string
	for instanceID := range instances {
		id = instanceID
	}
	if id == "" {
		t.Fatalf("setup: no isolated instance recorded")
	}

	idArg, _ := json.Marshal(id)
	rt.handleTask(requestTask("dom/ag/Foo/__static__/__delete__", "caller/reply", map[string]json.RawMessage{"_1": idArg}))

	if reg.IsInstance(id) {
		t.Fatalf("instance %s should have been deleted", id)
	}
	if len(rt.ownership.Instances("caller/reply")) != 0 {
		t.Fatalf("ownership entry should have been released")
	}
	if !fake.contains(fake.unsubscribed, "caller/reply/__clientInfo__") {
		t.Fatalf("expected client-info unsubscribe once the owner's last isolated instance is gone, got %v", fake.unsubscribed)
	}
}

func TestClientOfflineReapsIsolatedInstances(t *testing.T) {
	rt, reg, fake := newTestRuntime(t)

	rt.handleTask(requestTask("dom/ag/Foo/__static__/__create__", "caller/reply", nil))
	rt.handleTask(requestTask("dom/ag/Foo/__static__/__create__", "caller/reply", nil))

	instances := rt.ownership.Instances("caller/reply")
	if len(instances) != 2 {
		t.Fatalf("setup: expected 2 isolated instances, got %d", len(instances))
	}

	offlinePayload, _ := json.Marshal(wire.ClientInfo{Status: wire.StatusOffline})
	rt.handleTask(task{kind: taskClientInfo, topic: "caller/reply/__clientInfo__", payload: offlinePayload})

	for id := range instances {
		if reg.IsInstance(id) {
			t.Fatalf("instance %s should have been reaped", id)
		}
	}
	if len(rt.ownership.Instances("caller/reply")) != 0 {
		t.Fatalf("ownership index should be empty after reap")
	}
	if !fake.contains(fake.unsubscribed, "caller/reply/__clientInfo__") {
		t.Fatalf("expected client-info unsubscribe after reap, got %v", fake.unsubscribed)
	}
}

func TestReconnectResubscribesLiveInstances(t *testing.T) {
	rt, _, fake := newTestRuntime(t)

	rt.handleTask(requestTask("dom/ag/Foo/__static__/__create__", "caller/reply", nil))

	fake.mu.Lock()
	fake.subscribed = nil
	fake.mu.Unlock()

	rt.onConnectionUp(context.Background(), nil)

	if !fake.contains(fake.subscribed, "__static__/__create__") {
		t.Fatalf("reconnect must re-subscribe static topics, got %v", fake.subscribed)
	}
	if !fake.contains(fake.subscribed, "/ping") {
		t.Fatalf("reconnect must re-subscribe live isolated instances' member topics, got %v", fake.subscribed)
	}
	if !fake.contains(fake.subscribed, "caller/reply/__clientInfo__") {
		t.Fatalf("reconnect must re-subscribe owning clients' liveness topics, got %v", fake.subscribed)
	}
}

func TestArityMismatchRepliesWithError(t *testing.T) {
	rt, _, fake := newTestRuntime(t)

	rt.handleTask(requestTask("dom/ag/Foo/__static__/__getNamed__", "r", nil))

	reply := fake.lastPublishTo("r")
	if reply == nil {
		t.Fatalf("expected a reply")
	}
	var decoded wire.Reply
	if err := json.Unmarshal(reply.Payload, &decoded); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if !strings.Contains(decoded.Data.E, "Could not find function") {
		t.Fatalf("expected a function-not-found error, got %q", decoded.Data.E)
	}
}
