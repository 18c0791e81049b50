package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/example/go-gst/internal/config"
	"github.com/example/go-gst/internal/contour"
	"github.com/example/go-gst/internal/gst"
	"github.com/example/go-gst/internal/runtime/tensor"
	"github.com/example/go-gst/internal/safetensors"
	"github.com/spf13/cobra"
)

type embedOutput struct {
	Style        [][]float32   `json:"style"`
	Scores       [][][]float32 `json:"scores"`
	TokenWeights [][]float32   `json:"token_weights"`
}

func newEmbedCmd() *cobra.Command {
	var (
		contoursPath string
		wavPaths     []string
		frames       int
	)

	cmd := &cobra.Command{
		Use:   "embed",
		Short: "Compute style embeddings from pitch contours or WAV files",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if (contoursPath == "") == (len(wavPaths) == 0) {
				return errors.New("exactly one of --contours or --wav is required")
			}

			model, params, err := loadModel(cfg)
			if err != nil {
				return err
			}

			var batch *tensor.Tensor
			if contoursPath != "" {
				batch, err = loadContourFile(contoursPath)
			} else {
				batch, err = contoursFromWAV(wavPaths, cfg.Contour, model.Config().Bands, frames)
			}
			if err != nil {
				return err
			}

			out, err := model.Forward(params, batch, gst.EvalMode())
			if err != nil {
				return err
			}

			weights, err := out.TokenWeights()
			if err != nil {
				return err
			}

			heads := int(out.Scores.Dim(0))
			perHead := nested(out.Scores)
			rows := len(perHead) / max(heads, 1)
			scores := make([][][]float32, heads)
			for h := range heads {
				scores[h] = perHead[h*rows : (h+1)*rows]
			}

			return writeJSON(cmd.OutOrStdout(), embedOutput{
				Style:        nested(out.Style),
				Scores:       scores,
				TokenWeights: nested(weights),
			})
		},
	}

	cmd.Flags().StringVar(&contoursPath, "contours", "", "Safetensors file holding bin locations [N, F, T] or [F, T]")
	cmd.Flags().StringSliceVar(&wavPaths, "wav", nil, "WAV files to extract pitch contours from (repeatable)")
	cmd.Flags().IntVar(&frames, "frames", 0, "Pad or truncate WAV contours to this many frames (0 = longest)")

	return cmd
}

func loadContourFile(path string) (*tensor.Tensor, error) {
	data, shape, err := safetensors.LoadBinLocations(path)
	if err != nil {
		return nil, err
	}

	return tensor.New(data, shape)
}

// contoursFromWAV decodes each file, extracts bin locations and collates
// them into one [N, bands, T] batch.
func contoursFromWAV(paths []string, cc config.ContourConfig, bands int64, frames int) (*tensor.Tensor, error) {
	opts := contour.DefaultOptions()
	opts.Bands = int(bands)
	if cc.HopLength > 0 {
		opts.HopLength = cc.HopLength
	}
	if cc.FrameLength > 0 {
		opts.FrameLength = cc.FrameLength
	}
	if cc.FMin > 0 {
		opts.FMin = cc.FMin
	}
	if cc.FMax > 0 {
		opts.FMax = cc.FMax
	}

	items := make([]*tensor.Tensor, 0, len(paths))
	for _, p := range paths {
		raw, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}

		samples, rate, err := contour.DecodeWAV(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}

		bins, err := contour.ExtractBinLocations(samples, rate, opts)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}

		items = append(items, bins)
	}

	return contour.Collate(items, frames, max(cc.FramesStep, 1))
}
