package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/go-gst/internal/server"
)

func newHealthCmd() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Query a running gst server's /health endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if addr == "" {
				addr = cfg.Server.ListenAddr
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			hl, err := server.FetchHealth(ctx, addr)
			if err != nil {
				return fmt.Errorf("health %s: %w", addr, err)
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), hl)
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "ok backend=%s version=%s\n", hl.Backend, hl.Version)

			return err
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "server address (default server.listen_addr)")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "give up after this long")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the health body as JSON")

	return cmd
}
