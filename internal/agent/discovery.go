package agent

import (
	"context"
	"encoding/json"

	"github.com/eclipse/paho.golang/paho"

	"github.com/oriys/vrpc/internal/config"
	"github.com/oriys/vrpc/internal/identity"
	"github.com/oriys/vrpc/internal/logging"
	"github.com/oriys/vrpc/internal/topic"
	"github.com/oriys/vrpc/internal/wire"
)

// marshalAgentInfo builds the agent-info document payload. Used both for
// the connect-time publish and for the last-will payload (status forced
// offline).
func marshalAgentInfo(opts config.Options, status wire.AgentStatus) ([]byte, error) {
	return json.Marshal(wire.AgentInfo{
		Status:   status,
		Hostname: identity.Hostname(),
		Version:  opts.Version,
		V:        wire.ProtocolVersion,
	})
}

func (rt *Runtime) publishAgentInfo(ctx context.Context, status wire.AgentStatus) error {
	payload, err := marshalAgentInfo(rt.opts, status)
	if err != nil {
		return err
	}
	_, err = rt.cm.Publish(ctx, &paho.Publish{
		Topic:   topic.AgentInfo(rt.opts.Domain, rt.opts.Agent),
		Payload: payload,
		QoS:     1,
		Retain:  true,
	})
	return err
}

func (rt *Runtime) publishClassInfo(ctx context.Context, class string) {
	info, ok := rt.registry.ClassInfo(class)
	if !ok {
		return
	}
	payload, err := json.Marshal(info)
	if err != nil {
		logging.Op().Error("marshal class-info failed", "class", class, "error", err)
		return
	}
	if _, err := rt.cm.Publish(ctx, &paho.Publish{
		Topic:   topic.ClassInfo(rt.opts.Domain, rt.opts.Agent, class),
		Payload: payload,
		QoS:     1,
		Retain:  true,
	}); err != nil {
		logging.Op().Error("publish class-info failed", "class", class, "error", err)
	}
}

// subscribeStatic subscribes to every static/constructor/lifecycle base
// topic of class, the fixed subscription set every agent carries from
// startup regardless of which instances exist (spec.md §4.6).
func (rt *Runtime) subscribeStatic(ctx context.Context, class string) {
	names := rt.registry.StaticBaseNames(class)
	topics := topic.StaticSubscriptions(rt.opts.Domain, rt.opts.Agent, class, names)
	rt.subscribeTopics(ctx, topics)
}

func (rt *Runtime) subscribeMember(ctx context.Context, class, instance string) {
	names := rt.registry.MemberBaseNames(class)
	if len(names) == 0 {
		return
	}
	topics := topic.MemberSubscriptions(rt.opts.Domain, rt.opts.Agent, class, instance, names)
	rt.subscribeTopics(ctx, topics)
}

func (rt *Runtime) unsubscribeMember(ctx context.Context, class, instance string) {
	names := rt.registry.MemberBaseNames(class)
	if len(names) == 0 {
		return
	}
	topics := topic.MemberSubscriptions(rt.opts.Domain, rt.opts.Agent, class, instance, names)
	rt.unsubscribeTopics(ctx, topics)
}

func (rt *Runtime) subscribeClientInfo(ctx context.Context, clientID string) {
	rt.subscribeTopics(ctx, []string{topic.ClientInfoTopic(clientID)})
}

func (rt *Runtime) unsubscribeClientInfo(ctx context.Context, clientID string) {
	rt.unsubscribeTopics(ctx, []string{topic.ClientInfoTopic(clientID)})
}

func (rt *Runtime) subscribeTopics(ctx context.Context, topics []string) {
	if len(topics) == 0 {
		return
	}
	subs := make([]paho.SubscribeOptions, len(topics))
	for i, t := range topics {
		subs[i] = paho.SubscribeOptions{Topic: t, QoS: 1}
	}
	if _, err := rt.cm.Subscribe(ctx, &paho.Subscribe{Subscriptions: subs}); err != nil {
		logging.Op().Error("subscribe failed", "topics", topics, "error", err)
	}
}

func (rt *Runtime) unsubscribeTopics(ctx context.Context, topics []string) {
	if len(topics) == 0 {
		return
	}
	if _, err := rt.cm.Unsubscribe(ctx, &paho.Unsubscribe{Topics: topics}); err != nil {
		logging.Op().Error("unsubscribe failed", "topics", topics, "error", err)
	}
}

// publishCallback delivers one asynchronous callback envelope to its
// caller's reply topic (spec.md §4.3).
func (rt *Runtime) publishCallback(ctx context.Context, envelope wire.CallbackEnvelope) {
	payload, err := json.Marshal(envelope)
	if err != nil {
		logging.Op().Error("marshal callback envelope failed", "error", err)
		return
	}
	if _, err := rt.cm.Publish(ctx, &paho.Publish{
		Topic:   envelope.S,
		Payload: payload,
		QoS:     1,
	}); err != nil {
		logging.Op().Error("publish callback failed", "topic", envelope.S, "error", err)
		return
	}
	rt.metrics.IncCallbackEmission()
}
