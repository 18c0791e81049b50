package main

import (
	"errors"
	"fmt"
	"os"
	"runtime/pprof"
	"time"

	"github.com/example/go-gst/internal/bench"
	"github.com/example/go-gst/internal/gst"
	"github.com/spf13/cobra"
)

func newBenchCmd() *cobra.Command {
	var (
		runs        int
		batch       int
		frames      int
		format      string
		thresholdMS float64
		random      bool
		cpuProfile  string
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark forward-pass latency on random contours",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if runs < 1 {
				return errors.New("--runs must be at least 1")
			}
			if batch < 1 || frames < 1 {
				return errors.New("--batch and --frames must be at least 1")
			}
			if format != "table" && format != "json" {
				return errors.New("--format must be 'table' or 'json'")
			}

			rng := newRNG(cfg.Seed)

			var (
				model  *gst.Model
				params *gst.Params
			)
			if random {
				model, err = gst.NewModel(modelConfig(cfg.Model))
				if err == nil {
					params, err = gst.NewParams(model.Config(), rng)
				}
			} else {
				model, params, err = loadModel(cfg)
			}
			if err != nil {
				return err
			}

			contours, err := randomContours(cfg.Seed+1, int64(batch), model.Config().Bands, int64(frames))
			if err != nil {
				return err
			}

			if cpuProfile != "" {
				f, err := os.Create(cpuProfile)
				if err != nil {
					return err
				}
				defer func() { _ = f.Close() }()

				if err := pprof.StartCPUProfile(f); err != nil {
					return fmt.Errorf("start cpu profile: %w", err)
				}
				defer pprof.StopCPUProfile()
			}

			results, err := bench.Measure(runs, batch*frames, func() error {
				_, err := model.Forward(params, contours, gst.EvalMode())
				return err
			})
			if err != nil {
				return err
			}

			stats := bench.ComputeStats(bench.Durations(results))

			switch format {
			case "json":
				if err := bench.FormatJSON(results, stats, cmd.OutOrStdout()); err != nil {
					return err
				}
			default:
				bench.FormatTable(results, stats, cmd.OutOrStdout())
			}

			threshold := time.Duration(thresholdMS * float64(time.Millisecond))
			return bench.CheckLatencyThreshold(stats.Mean, threshold)
		},
	}

	cmd.Flags().IntVar(&runs, "runs", 5, "Number of forward passes")
	cmd.Flags().IntVar(&batch, "batch", 4, "Contours per batch")
	cmd.Flags().IntVar(&frames, "frames", 200, "Frames per contour")
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table|json")
	cmd.Flags().Float64Var(&thresholdMS, "threshold-ms", 0, "Exit non-zero if mean latency exceeds this many milliseconds (0 = disabled)")
	cmd.Flags().BoolVar(&random, "random-params", false, "Benchmark freshly initialised parameters instead of the checkpoint")
	cmd.Flags().StringVar(&cpuProfile, "cpuprofile", "", "Write a CPU profile of the measured runs to this file")

	return cmd
}
