// Package config holds the agent's connect options and their defaults,
// which cmd/vrpc-agent overlays with CLI flags, mirroring the layered
// default-then-override shape the teacher's internal/config package used
// for its nested settings structs.
package config

import (
	"fmt"
	"net/url"

	"github.com/oriys/vrpc/internal/identity"
)

// Options holds the resolved MQTT connect options (spec.md §6) plus the
// ambient logging/metrics settings SPEC_FULL.md §4.8 adds.
type Options struct {
	Domain   string
	Agent    string
	Broker   string
	Username string
	Password string
	Token    string
	Version  string
	Plugin   string

	LogLevel    string
	LogFormat   string
	MetricsAddr string
}

// Defaults returns the option set with every spec-mandated default
// applied, before flags are overlaid.
func Defaults() Options {
	return Options{
		Domain:    "public.vrpc",
		Agent:     identity.DefaultAgent(),
		Broker:    "tcp://127.0.0.1:1883",
		Version:   "0.0.0",
		LogLevel:  "info",
		LogFormat: "text",
	}
}

var brokerDefaultPorts = map[string]string{
	"tcp":   "1883",
	"mqtt":  "1883",
	"ssl":   "8883",
	"mqtts": "8883",
}

// ResolvedBroker is a validated, port-defaulted broker URL.
type ResolvedBroker struct {
	Scheme string
	Host   string
	Port   string
	TLS    bool
}

// ResolveBroker validates the broker URL's scheme and fills in the
// scheme's default port when the operator didn't specify one.
func ResolveBroker(raw string) (ResolvedBroker, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return ResolvedBroker{}, fmt.Errorf("invalid broker URL %q: %w", raw, err)
	}
	defaultPort, ok := brokerDefaultPorts[u.Scheme]
	if !ok {
		return ResolvedBroker{}, fmt.Errorf("invalid broker URL %q: unsupported scheme %q (want tcp, mqtt, ssl, or mqtts)", raw, u.Scheme)
	}
	port := u.Port()
	if port == "" {
		port = defaultPort
	}
	host := u.Hostname()
	if host == "" {
		return ResolvedBroker{}, fmt.Errorf("invalid broker URL %q: missing host", raw)
	}
	return ResolvedBroker{
		Scheme: u.Scheme,
		Host:   host,
		Port:   port,
		TLS:    u.Scheme == "ssl" || u.Scheme == "mqtts",
	}, nil
}

// EffectiveCredentials resolves the username/password pair actually sent
// to the broker: when a token is configured, the sentinel username
// "__token__" is used and the token stands in for the password
// (spec.md §6). Otherwise Username/Password pass through unchanged.
func (o Options) EffectiveCredentials() (username, password string) {
	if o.Token != "" {
		return "__token__", o.Token
	}
	return o.Username, o.Password
}
