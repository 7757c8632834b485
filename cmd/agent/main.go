// Package main is the entry point for the agent binary: the in-cluster
// process that registers with a director over HTTP and reverse-proxies
// Kubernetes API requests back through a chisel tunnel.
//
// Dependencies are assembled via Google Wire; see wire.go.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nitecon/director/internal/agent"
	"github.com/nitecon/director/internal/config"
)

// version is injected at build time via -ldflags
// (e.g. -ldflags "-X main.version=v1.2.3").
var version = "devel"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	conf, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	rootCmd := &cobra.Command{
		Use:           "agent",
		Short:         "agent registers with a director and tunnels Kubernetes API access to it.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, cleanup, err := wireAgent()
			if err != nil {
				return fmt.Errorf("failed to initialize agent: %w", err)
			}
			defer cleanup()

			return a.Run(cmd.Context(), agent.Config{
				ServerURL:       conf.AgentServerURL(),
				TunnelServerURL: conf.AgentTunnelServerURL(),
			})
		},
	}

	if err := conf.BindFlags(rootCmd.Flags(), config.AgentOptions); err != nil {
		return fmt.Errorf("failed to bind flags: %w", err)
	}

	return rootCmd.ExecuteContext(ctx)
}
