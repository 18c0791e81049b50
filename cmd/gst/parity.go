package main

import (
	"errors"
	"fmt"

	"github.com/example/go-gst/internal/gst"
	"github.com/example/go-gst/internal/runtime/ops"
	"github.com/example/go-gst/internal/runtime/tensor"
	"github.com/spf13/cobra"
)

func newParityCmd() *cobra.Command {
	var (
		contoursPath string
		batch        int
		frames       int
	)

	cmd := &cobra.Command{
		Use:   "parity",
		Short: "Compare native and ONNX style embeddings on the same contours",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			model, params, err := loadModel(cfg)
			if err != nil {
				return err
			}

			var contours *tensor.Tensor
			if contoursPath != "" {
				contours, err = loadContourFile(contoursPath)
			} else {
				if batch < 1 || frames < 1 {
					return errors.New("--batch and --frames must be at least 1")
				}
				contours, err = randomContours(cfg.Seed, int64(batch), model.Config().Bands, int64(frames))
			}
			if err != nil {
				return err
			}

			graph, err := openGraph(cfg)
			if err != nil {
				return err
			}
			defer graph.Close()

			want, err := model.Forward(params, contours, gst.EvalMode())
			if err != nil {
				return fmt.Errorf("native: %w", err)
			}

			style, scores, err := graph.Embed(cmd.Context(), contours)
			if err != nil {
				return fmt.Errorf("onnx: %w", err)
			}

			w := cmd.OutOrStdout()
			failed := false

			for _, c := range []struct {
				name      string
				got, want *tensor.Tensor
			}{
				{"style_embed", style, want.Style},
				{"gst_scores", scores, want.Scores},
			} {
				tol, err := ops.KernelTolerance(c.name)
				if err != nil {
					return err
				}

				worst, err := ops.Compare(c.got.Data(), c.want.Data(), tol)
				if err != nil {
					failed = true
					_, _ = fmt.Fprintf(w, "FAIL %s: %v\n", c.name, err)
					continue
				}
				_, _ = fmt.Fprintf(w, "ok   %s: max |diff| %.3g\n", c.name, worst)
			}

			if failed {
				return errors.New("native and onnx outputs diverge")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&contoursPath, "contours", "", "Safetensors contour batch (default: random contours)")
	cmd.Flags().IntVar(&batch, "batch", 2, "Random contour batch size")
	cmd.Flags().IntVar(&frames, "frames", 100, "Random contour length")

	return cmd
}

func randomContours(seed uint64, n, bands, frames int64) (*tensor.Tensor, error) {
	rng := newRNG(seed)
	data := make([]float32, n*bands*frames)
	for i := range data {
		data[i] = rng.Float32()
	}

	return tensor.New(data, []int64{n, bands, frames})
}
