// Command vrpc-agent is a thin CLI wrapper over the agent runtime's
// connect options (spec.md §6): it parses flags, resolves demo class
// registrations, and blocks running the runtime until a shutdown signal
// arrives.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oriys/vrpc/internal/agent"
	"github.com/oriys/vrpc/internal/config"
	"github.com/oriys/vrpc/internal/logging"
	"github.com/oriys/vrpc/internal/metrics"
	"github.com/oriys/vrpc/internal/registry"
)

var version = "dev"

func main() {
	opts := config.Defaults()

	root := &cobra.Command{
		Use:     "vrpc-agent",
		Short:   "vrpc-agent - MQTT remote-procedure-call agent runtime",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts)
		},
	}

	root.Flags().StringVarP(&opts.Domain, "domain", "d", opts.Domain, "vrpc domain prefix")
	root.Flags().StringVarP(&opts.Agent, "agent", "a", opts.Agent, "agent identity (default derived from host/pid/user/platform)")
	root.Flags().StringVarP(&opts.Username, "username", "u", "", "broker username")
	root.Flags().StringVarP(&opts.Password, "password", "p", "", "broker password")
	root.Flags().StringVarP(&opts.Token, "token", "t", "", "broker bearer token (overrides username/password with the __token__ sentinel)")
	root.Flags().StringVarP(&opts.Version, "version-tag", "v", opts.Version, "application version advertised in agent-info")
	root.Flags().StringVarP(&opts.Broker, "broker", "b", opts.Broker, "broker URL (tcp|mqtt|ssl|mqtts)")
	root.Flags().StringVarP(&opts.Plugin, "plugin", "l", "", "optional dynamic binding to load (no-op when unset)")
	root.Flags().StringVar(&opts.LogLevel, "log-level", opts.LogLevel, "operational log level (debug, info, warn, error)")
	root.Flags().StringVar(&opts.LogFormat, "log-format", opts.LogFormat, "operational log format (text, json)")
	root.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", opts.MetricsAddr, "address to serve Prometheus metrics on (empty disables)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(opts config.Options) error {
	logging.InitStructured(opts.LogFormat, opts.LogLevel)

	reg := registry.New()
	registerDemoClasses(reg)

	m := metrics.New("vrpc")
	if opts.MetricsAddr != "" {
		serveMetrics(opts.MetricsAddr, m)
	}

	rt := agent.New(opts, reg, m)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Op().Info("agent starting", "domain", opts.Domain, "agent", opts.Agent, "broker", opts.Broker)
	if opts.Plugin != "" {
		logging.Op().Warn("plugin option is accepted but not loaded in this build", "plugin", opts.Plugin)
	}
	if err := rt.Run(ctx); err != nil {
		return fmt.Errorf("agent runtime: %w", err)
	}
	logging.Op().Info("agent stopped")
	return nil
}
