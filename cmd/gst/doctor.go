package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/example/go-gst/internal/config"
	"github.com/example/go-gst/internal/doctor"
	"github.com/example/go-gst/internal/onnx"
	"github.com/example/go-gst/internal/server"
	"github.com/spf13/cobra"
)

func newDoctorCmd() *cobra.Command {
	var probe string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run local runtime and model checks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			backend, err := config.NormalizeBackend(cfg.Backend)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(w, "backend: %s\n", backend)

			result := doctor.Run(doctor.Config{
				Checkpoint: func() (string, error) {
					return describeCheckpoint(cfg)
				},
				ORTRuntime: func() (string, error) {
					info, err := onnx.DetectRuntime(cfg.Runtime)
					if err != nil {
						return "", err
					}
					return info.Version, nil
				},
				SkipORT: backend == config.BackendNative,
			}, w)

			if backend == config.BackendONNX {
				if _, err := os.Stat(cfg.Paths.ONNXModel); err != nil {
					result.AddFailure(fmt.Sprintf("onnx graph: %v", err))
					_, _ = fmt.Fprintf(w, "%s onnx graph: %v\n", doctor.FailMark, err)
				} else {
					_, _ = fmt.Fprintf(w, "%s onnx graph: %s\n", doctor.PassMark, cfg.Paths.ONNXModel)
				}
			}

			if probe != "" {
				if err := server.ProbeHTTP(probe); err != nil {
					result.AddFailure(fmt.Sprintf("server %s: %v", probe, err))
					_, _ = fmt.Fprintf(w, "%s server %s: %v\n", doctor.FailMark, probe, err)
				} else {
					_, _ = fmt.Fprintf(w, "%s server %s: healthy\n", doctor.PassMark, probe)
				}
			}

			if result.Failed() {
				return errors.New("doctor checks failed")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&probe, "probe", "", "Also probe a running server's /health at this address")

	return cmd
}

func describeCheckpoint(cfg config.Config) (string, error) {
	model, params, err := loadModel(cfg)
	if err != nil {
		return "", err
	}

	mc := model.Config()
	return fmt.Sprintf("%s (%d params, %d tokens, %d heads, width %d)",
		cfg.Paths.Checkpoint, params.Count(), mc.TokenNum, mc.NumHeads, mc.EmbeddingWidth), nil
}
