// Package topic implements the bidirectional mapping between MQTT topic
// tokens and (class, instance, function) triples (spec.md §4.6).
package topic

import (
	"fmt"
	"strings"
)

// StaticToken marks the instance slot for static calls and constructors.
const StaticToken = "__static__"

const (
	agentInfoSuffix  = "__agentInfo__"
	classInfoSuffix  = "__classInfo__"
	clientInfoSuffix = "__clientInfo__"
)

// Request is a decoded 5-token request topic.
type Request struct {
	Domain   string
	Agent    string
	Class    string
	Instance string
	Function string
}

// IsStatic reports whether this request topic addresses a static
// function/constructor/lifecycle call rather than an instance member.
func (r Request) IsStatic() bool { return r.Instance == StaticToken }

// ParseRequest tokenizes topic and rejects anything that does not yield
// exactly five tokens.
func ParseRequest(topic string) (Request, error) {
	tokens := strings.Split(topic, "/")
	if len(tokens) != 5 {
		return Request{}, fmt.Errorf("topic %q: expected 5 tokens, got %d", topic, len(tokens))
	}
	return Request{
		Domain:   tokens[0],
		Agent:    tokens[1],
		Class:    tokens[2],
		Instance: tokens[3],
		Function: tokens[4],
	}, nil
}

// Context returns the registry lookup context for a parsed request topic:
// the class name for static calls, the literal instance id otherwise.
func (r Request) Context() string {
	if r.IsStatic() {
		return r.Class
	}
	return r.Instance
}

// ClientInfo is a decoded client-liveness topic:
// "<client-id>/__clientInfo__", where the client id may span any number
// of tokens.
type ClientInfo struct {
	ClientID string
}

// ParseClientInfo recognizes a client-info topic by its trailing
// "/__clientInfo__" suffix, same as ClientInfoTopic builds it. The client
// id prefix is of arbitrary length — it is the caller-chosen reply topic,
// not a fixed number of tokens — so this must not assume a token count.
func ParseClientInfo(t string) (ClientInfo, bool) {
	suffix := "/" + clientInfoSuffix
	if !strings.HasSuffix(t, suffix) {
		return ClientInfo{}, false
	}
	clientID := strings.TrimSuffix(t, suffix)
	if clientID == "" {
		return ClientInfo{}, false
	}
	return ClientInfo{ClientID: clientID}, true
}

// ClientInfoTopic builds the subscription topic for a client's liveness
// channel from the prefix recorded in the ownership index.
func ClientInfoTopic(clientPrefix string) string {
	return clientPrefix + "/" + clientInfoSuffix
}

// Static builds the subscription/publish topic for a static function
// base name on class.
func Static(domain, agent, class, baseName string) string {
	return strings.Join([]string{domain, agent, class, StaticToken, baseName}, "/")
}

// Member builds the subscription/publish topic for a member-function
// base name on a specific instance.
func Member(domain, agent, class, instance, baseName string) string {
	return strings.Join([]string{domain, agent, class, instance, baseName}, "/")
}

// AgentInfo builds the agent-info topic.
func AgentInfo(domain, agent string) string {
	return strings.Join([]string{domain, agent, agentInfoSuffix}, "/")
}

// ClassInfo builds the class-info topic for class.
func ClassInfo(domain, agent, class string) string {
	return strings.Join([]string{domain, agent, class, classInfoSuffix}, "/")
}

// StaticSubscriptions returns one topic per base name in baseNames,
// deduplicated, under class's __static__ instance slot.
func StaticSubscriptions(domain, agent, class string, baseNames []string) []string {
	out := make([]string, 0, len(baseNames))
	seen := make(map[string]bool, len(baseNames))
	for _, name := range baseNames {
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, Static(domain, agent, class, name))
	}
	return out
}

// MemberSubscriptions returns one topic per base name in baseNames,
// deduplicated, under a specific instance.
func MemberSubscriptions(domain, agent, class, instance string, baseNames []string) []string {
	out := make([]string, 0, len(baseNames))
	seen := make(map[string]bool, len(baseNames))
	for _, name := range baseNames {
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, Member(domain, agent, class, instance, name))
	}
	return out
}
