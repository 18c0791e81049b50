package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/example/go-gst/internal/gst"
	"github.com/spf13/cobra"
)

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a randomly initialised checkpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			path := cfg.Paths.Checkpoint
			if _, statErr := os.Stat(path); statErr == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if statErr != nil && !errors.Is(statErr, fs.ErrNotExist) {
				return statErr
			}

			mcfg := modelConfig(cfg.Model)
			params, err := gst.NewParams(mcfg, newRNG(cfg.Seed))
			if err != nil {
				return err
			}

			if dir := filepath.Dir(path); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return err
				}
			}

			if err := gst.SaveParams(path, mcfg, params); err != nil {
				return err
			}

			slog.Info("checkpoint written",
				slog.String("path", path),
				slog.Int("params", params.Count()),
				slog.Uint64("seed", cfg.Seed),
			)
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d parameters)\n", path, params.Count())
			return err
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing checkpoint")

	return cmd
}
