// Package agent implements the Agent Runtime (spec.md §4.7): it owns the
// MQTT session, the discovery and liveness publications, the inbound
// message pump, the isolated-instance reaper, and graceful shutdown.
//
// Concurrency is realized as a single dedicated goroutine (the agent
// loop, spec.md §5) that owns the Invocation Registry and every
// subscribe/publish call it makes directly; it is fed by an inbound task
// channel populated from the MQTT client's own receive callback, and
// drains it strictly in arrival order. Callback wrappers built by the
// dispatcher bypass this channel entirely and publish straight through
// the (thread-safe) paho connection manager, per spec.md §4.3/§5.
package agent

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/oriys/vrpc/internal/callback"
	"github.com/oriys/vrpc/internal/config"
	"github.com/oriys/vrpc/internal/dispatch"
	"github.com/oriys/vrpc/internal/logging"
	"github.com/oriys/vrpc/internal/metrics"
	"github.com/oriys/vrpc/internal/registry"
	"github.com/oriys/vrpc/internal/topic"
	"github.com/oriys/vrpc/internal/wire"
)

// taskKind distinguishes the two inbound message shapes the agent loop
// processes: a 5-token invocation request and a client-liveness notice
// (an arbitrary-length client id followed by "/__clientInfo__").
type taskKind int

const (
	taskRequest taskKind = iota
	taskClientInfo
)

type task struct {
	kind    taskKind
	topic   string
	payload []byte
}

// Runtime is the agent's MQTT adapter and single-goroutine event loop.
type Runtime struct {
	opts      config.Options
	registry  *registry.Registry
	callbacks *callback.Registry
	dispatch  *dispatch.Dispatcher
	metrics   *metrics.Metrics
	invokeLog *logging.Logger

	cm mqttSession

	tasks chan task
	done  chan struct{}

	ownership *ownershipIndex
}

// New constructs a Runtime. The registry should already carry every class
// registration the application wants served — registrations made after
// Run has started a subscription snapshot are invisible to already-issued
// subscriptions (classes are immutable after startup per spec.md §3).
func New(opts config.Options, reg *registry.Registry, m *metrics.Metrics) *Runtime {
	callbacks := callback.New()
	return &Runtime{
		opts:      opts,
		registry:  reg,
		callbacks: callbacks,
		dispatch:  dispatch.New(reg, callbacks),
		metrics:   m,
		invokeLog: logging.Default(),
		tasks:     make(chan task, 4096),
		done:      make(chan struct{}),
		ownership: newOwnershipIndex(),
	}
}

// Run connects to the broker and blocks, draining the agent loop, until
// ctx is cancelled; it then publishes offline agent-info and disconnects.
func (rt *Runtime) Run(ctx context.Context) error {
	broker, err := config.ResolveBroker(rt.opts.Broker)
	if err != nil {
		return err
	}

	brokerURL := &url.URL{Scheme: broker.Scheme, Host: fmt.Sprintf("%s:%s", broker.Host, broker.Port)}
	username, password := rt.opts.EffectiveCredentials()

	willTopic := topic.AgentInfo(rt.opts.Domain, rt.opts.Agent)
	willPayload, err := marshalAgentInfo(rt.opts, wire.StatusOffline)
	if err != nil {
		return err
	}

	cfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: username,
		ConnectPassword: []byte(password),
		WillMessage: &paho.WillMessage{
			Topic:   willTopic,
			Payload: willPayload,
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			rt.onConnectionUp(ctx, cm)
		},
		OnConnectError: func(err error) {
			rt.metrics.IncReconnect()
			logging.Op().Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: rt.opts.Agent,
		},
	}
	if broker.TLS {
		cfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, cfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	rt.cm = cm

	cm.AddOnPublishReceived(func(pr autopaho.PublishReceived) (bool, error) {
		rt.enqueue(pr.Packet.Topic, pr.Packet.Payload)
		return true, nil
	})

	go rt.loop()

	<-ctx.Done()
	return rt.shutdown()
}

// enqueue classifies an inbound publish by its __clientInfo__ suffix
// (spec.md §4.6) and queues it for the agent loop, preserving arrival
// order.
func (rt *Runtime) enqueue(topicStr string, payload []byte) {
	if _, ok := topic.ParseClientInfo(topicStr); ok {
		rt.tasks <- task{kind: taskClientInfo, topic: topicStr, payload: payload}
		return
	}
	rt.tasks <- task{kind: taskRequest, topic: topicStr, payload: payload}
}

// onConnectionUp runs the startup/reconnect sequence from spec.md §4.7:
// publish agent-info online, subscribe to the static topic set, publish
// class-info per class, and (re-)install the callback sink.
func (rt *Runtime) onConnectionUp(ctx context.Context, _ *autopaho.ConnectionManager) {
	logging.Op().Info("mqtt connected", "broker", rt.opts.Broker, "agent", rt.opts.Agent)

	publishCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rt.callbacks.Install(func(envelope wire.CallbackEnvelope) {
		rt.publishCallback(context.Background(), envelope)
	})

	if err := rt.publishAgentInfo(publishCtx, wire.StatusOnline); err != nil {
		logging.Op().Error("publish agent-info failed", "error", err)
	}

	for _, class := range rt.registry.GetClasses() {
		rt.subscribeStatic(publishCtx, class)
		rt.publishClassInfo(publishCtx, class)
		for _, instance := range rt.registry.GetInstances(class) {
			rt.subscribeMember(publishCtx, class, instance)
		}
	}

	// Re-establish per-instance subscriptions for isolated instances and
	// their owners' liveness topics, so a reconnect never loses the
	// ability to reach a live instance or reap an orphan (spec.md §8 S6).
	for id, class := range rt.ownership.AllInstances() {
		rt.subscribeMember(publishCtx, class, id)
	}
	for _, client := range rt.ownership.Clients() {
		rt.subscribeClientInfo(publishCtx, client)
	}
}

func (rt *Runtime) shutdown() error {
	close(rt.done)
	if rt.cm == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rt.publishAgentInfo(ctx, wire.StatusOffline); err != nil {
		logging.Op().Warn("publish offline agent-info failed", "error", err)
	}
	return rt.cm.Disconnect(ctx)
}
