package main

import (
	"fmt"
	"maps"
	"slices"

	"github.com/example/go-gst/internal/safetensors"
	"github.com/spf13/cobra"
)

func newInspectCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "List tensors and metadata stored in a checkpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			if path == "" {
				path = cfg.Paths.Checkpoint
			}

			store, err := safetensors.OpenStore(path, safetensors.StoreOptions{})
			if err != nil {
				return err
			}
			defer store.Close()

			w := cmd.OutOrStdout()
			for _, name := range store.Names() {
				t, err := store.Tensor(name)
				if err != nil {
					return err
				}
				if _, err := fmt.Fprintf(w, "%-40s %v\n", name, t.Shape); err != nil {
					return err
				}
			}

			meta := store.Metadata()
			for _, k := range slices.Sorted(maps.Keys(meta)) {
				if _, err := fmt.Fprintf(w, "meta %s=%s\n", k, meta[k]); err != nil {
					return err
				}
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&path, "file", "", "Safetensors file to inspect (default: configured checkpoint)")

	return cmd
}
