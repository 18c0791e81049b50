package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"

	"github.com/example/go-gst/internal/config"
	"github.com/example/go-gst/internal/doctor"
	"github.com/example/go-gst/internal/gst"
	"github.com/example/go-gst/internal/runtime/ops"
	"github.com/example/go-gst/internal/runtime/tensor"
	"github.com/example/go-gst/internal/server"
	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	activeCfg config.Config
)

func NewRootCmd() *cobra.Command {
	defaults := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:           "gst",
		Short:         "Global style token prosody embeddings",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := config.Load(config.LoadOptions{
				Cmd:        cmd,
				ConfigFile: cfgFile,
				Defaults:   defaults,
			})
			if err != nil {
				return err
			}
			activeCfg = loaded
			setupLogger(loaded.LogLevel)
			applyRuntime(loaded.Runtime)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Optional config file (yaml|toml|json)")
	config.RegisterFlags(cmd.PersistentFlags(), defaults)

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newEmbedCmd())
	cmd.AddCommand(newInferCmd())
	cmd.AddCommand(newInspectCmd())
	cmd.AddCommand(newBenchCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newHealthCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newParityCmd())

	return cmd
}

// setupLogger configures the process-wide slog default logger.
func setupLogger(levelStr string) {
	lvl, err := server.ParseLogLevel(levelStr)
	if err != nil {
		lvl = slog.LevelInfo
	}
	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(h))
}

func requireConfig() (config.Config, error) {
	if activeCfg.Paths.Checkpoint == "" {
		return config.Config{}, fmt.Errorf("configuration not loaded")
	}
	return activeCfg, nil
}

// applyRuntime sizes the tensor and convolution worker pools. Non-positive
// values fall back to the physical core count.
func applyRuntime(rc config.RuntimeConfig) {
	workers := rc.Workers
	if workers <= 0 {
		workers = doctor.RecommendedWorkers()
	}

	conv := rc.ConvWorkers
	if conv <= 0 {
		conv = workers
	}

	tensor.SetWorkers(workers)
	ops.SetConvWorkers(conv)
}

func modelConfig(mc config.ModelConfig) gst.Config {
	return gst.Config{
		Bands:          int64(mc.Bands),
		OutChannels:    toInt64(mc.OutChannels),
		KernelHeights:  toInt64(mc.KernelHeights),
		KernelWidth:    int64(mc.KernelWidth),
		HiddenSize:     int64(mc.HiddenSize),
		TokenNum:       int64(mc.TokenNum),
		EmbeddingWidth: int64(mc.EmbeddingWidth),
		NumHeads:       mc.NumHeads,
		Dropout:        float32(mc.Dropout),
		BatchNormEps:   float32(mc.BatchNormEps),
	}
}

func toInt64(v []int) []int64 {
	out := make([]int64, len(v))
	for i, x := range v {
		out[i] = int64(x)
	}
	return out
}

// loadModel reads the configured checkpoint. The model section of the
// config only applies where the checkpoint metadata is silent.
func loadModel(cfg config.Config) (*gst.Model, *gst.Params, error) {
	mcfg, params, err := gst.LoadCheckpoint(cfg.Paths.Checkpoint, modelConfig(cfg.Model))
	if err != nil {
		return nil, nil, fmt.Errorf("load checkpoint %s: %w", cfg.Paths.Checkpoint, err)
	}

	model, err := gst.NewModel(mcfg)
	if err != nil {
		return nil, nil, err
	}

	slog.Debug("checkpoint loaded",
		slog.String("path", cfg.Paths.Checkpoint),
		slog.Int("params", params.Count()),
		slog.Int64("tokens", mcfg.TokenNum),
		slog.Int64("embedding_width", mcfg.EmbeddingWidth),
	)

	return model, params, nil
}

func newRNG(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// nested reshapes a tensor's flat data into rows of its last dimension.
func nested(t *tensor.Tensor) [][]float32 {
	if t == nil || t.Rank() == 0 {
		return nil
	}

	width := int(t.Dim(-1))
	data := t.Data()
	rows := make([][]float32, 0, len(data)/max(width, 1))

	for off := 0; off+width <= len(data) && width > 0; off += width {
		rows = append(rows, data[off:off+width])
	}

	return rows
}
