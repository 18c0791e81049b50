package main

import (
	"errors"
	"fmt"

	"github.com/example/go-gst/internal/runtime/tensor"
	"github.com/spf13/cobra"
)

func newInferCmd() *cobra.Command {
	var (
		weights []float32
		token   int
	)

	cmd := &cobra.Command{
		Use:   "infer",
		Short: "Synthesize a style embedding from token weights",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			model, params, err := loadModel(cfg)
			if err != nil {
				return err
			}

			tokens := model.Config().TokenNum

			switch {
			case len(weights) > 0 && token >= 0:
				return errors.New("--weights and --token are mutually exclusive")
			case token >= 0:
				if int64(token) >= tokens {
					return fmt.Errorf("--token %d out of range [0, %d)", token, tokens)
				}
				weights = make([]float32, tokens)
				weights[token] = 1
			case len(weights) == 0:
				return errors.New("one of --weights or --token is required")
			}

			w, err := tensor.New(weights, []int64{int64(len(weights))})
			if err != nil {
				return err
			}

			style, err := model.Inference(params, w)
			if err != nil {
				return err
			}

			return writeJSON(cmd.OutOrStdout(), struct {
				Style [][]float32 `json:"style"`
			}{Style: nested(style)})
		},
	}

	cmd.Flags().Float32SliceVar(&weights, "weights", nil, "Comma-separated weight per style token")
	cmd.Flags().IntVar(&token, "token", -1, "Select a single style token (one-hot weights)")

	return cmd
}
