// Package main is the entry point for the director binary: the
// control plane that accepts query-server connections, runs the
// configured data planes, and — in tunneled mode — signs agent
// certificates and terminates the reverse tunnel.
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

	"github.com/nitecon/director/internal/config"
)

// version is injected at build time via -ldflags
// (e.g. -ldflags "-X main.version=v1.2.3").
var version = "devel"

func main() {
	// Cancel on SIGINT (Ctrl+C) or SIGTERM (container runtime).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		// Cobra is configured with SilenceErrors: true, so we
		// print the error here for consistent formatting.
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
		Use:           "director",
		Short:         "director is the Kubernetes-aware stateful L4 traffic control plane.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			director, cleanup, err := wireDirector(conf)
			if err != nil {
				return fmt.Errorf("failed to initialize director: %w", err)
			}
			defer cleanup()

			return director.Run(cmd.Context())
		},
	}

	if err := conf.BindFlags(rootCmd.Flags(), config.DirectorOptions); err != nil {
		return fmt.Errorf("failed to bind flags: %w", err)
	}

	return rootCmd.ExecuteContext(ctx)
}
