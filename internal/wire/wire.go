// Package wire defines the JSON shapes exchanged between a vrpc agent and
// its remote callers: requests, replies, and the retained discovery and
// liveness documents.
package wire

import "encoding/json"

// ProtocolVersion is advertised in agent-info and class-info documents.
const ProtocolVersion = 3

// Value is a JSON value of unspecified shape.
type Value = json.RawMessage

// Data carries positional arguments _1.._N plus the reply/error slots and
// the sender reply topic. Positional keys are assigned in call order; the
// first missing _k marks the end of the argument list, and any later
// positional keys are ignored.
type Data struct {
	Args map[string]Value `json:"-"`
	R    Value             `json:"r,omitempty"`
	E    string            `json:"e,omitempty"`
	S    string            `json:"s,omitempty"`
}

// MarshalJSON flattens Args alongside r/e/s into one object, matching the
// wire shape `{ _1: ..., _2: ..., r?: ..., e?: ..., s?: ... }`.
func (d Data) MarshalJSON() ([]byte, error) {
	m := make(map[string]json.RawMessage, len(d.Args)+3)
	for k, v := range d.Args {
		m[k] = v
	}
	if d.R != nil {
		m["r"] = d.R
	}
	if d.E != "" {
		b, _ := json.Marshal(d.E)
		m["e"] = b
	}
	if d.S != "" {
		b, _ := json.Marshal(d.S)
		m["s"] = b
	}
	return json.Marshal(m)
}

// UnmarshalJSON splits the flat object back into positional args and the
// reserved r/e/s fields.
func (d *Data) UnmarshalJSON(b []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	d.Args = make(map[string]json.RawMessage, len(m))
	for k, v := range m {
		switch k {
		case "r":
			d.R = v
		case "e":
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				return err
			}
			d.E = s
		case "s":
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				return err
			}
			d.S = s
		default:
			d.Args[k] = v
		}
	}
	return nil
}

// Request is the document an inbound MQTT publish decodes into.
type Request struct {
	Context string `json:"context"`
	Method  string `json:"method"`
	Data    Data   `json:"data"`
	S       string `json:"s"`
}

// Reply is a Request mutated in place: data.r on success, data.e on
// failure. Both are never present at once.
type Reply = Request

// ParamMeta describes one formal parameter for class-info documents.
type ParamMeta struct {
	Name        string `json:"name"`
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
	Default     Value  `json:"default,omitempty"`
}

// FunctionMeta is a human-facing descriptor attached via register_meta.
type FunctionMeta struct {
	Description string      `json:"description,omitempty"`
	Params      []ParamMeta `json:"params,omitempty"`
	ReturnType  string      `json:"returnType,omitempty"`
	ReturnDesc  string      `json:"returnDescription,omitempty"`
}

// ClassInfo is published retained, QoS1, per registered class.
type ClassInfo struct {
	ClassName        string                  `json:"className"`
	Instances        []string                `json:"instances"`
	MemberFunctions  []string                `json:"memberFunctions"`
	StaticFunctions  []string                `json:"staticFunctions"`
	Meta             map[string]FunctionMeta `json:"meta"`
	V                int                     `json:"v"`
}

// AgentStatus is the liveness state carried in agent-info and client-info.
type AgentStatus string

const (
	StatusOnline  AgentStatus = "online"
	StatusOffline AgentStatus = "offline"
)

// AgentInfo is published retained, QoS1, at connect and at shutdown; the
// offline document is also registered as the connection's last will.
type AgentInfo struct {
	Status   AgentStatus `json:"status"`
	Hostname string      `json:"hostname"`
	Version  string      `json:"version,omitempty"`
	V        int         `json:"v"`
}

// ClientInfo is produced by remote clients and consumed by the agent to
// drive orphan reaping.
type ClientInfo struct {
	Status AgentStatus `json:"status"`
}

// CallbackEnvelope is published to a request's sender topic whenever a
// target function invokes one of its function-typed arguments.
type CallbackEnvelope struct {
	ID   string `json:"id"`
	Data Data   `json:"data"`
	S    string `json:"s"`
}
