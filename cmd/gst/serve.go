package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/example/go-gst/internal/config"
	"github.com/example/go-gst/internal/onnx"
	"github.com/example/go-gst/internal/server"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the GST HTTP server",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			emb, closeFn, err := buildEmbedder(cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return server.New(cfg, emb).Start(ctx)
		},
	}
}

// buildEmbedder wires the configured backend. The returned close function
// releases ONNX Runtime resources and is always safe to call.
func buildEmbedder(cfg config.Config) (server.Embedder, func(), error) {
	noop := func() {}

	backend, err := config.NormalizeBackend(cfg.Backend)
	if err != nil {
		return nil, noop, err
	}

	model, params, err := loadModel(cfg)
	if err != nil {
		return nil, noop, err
	}

	native, err := server.NewNativeEmbedder(model, params)
	if err != nil {
		return nil, noop, err
	}

	if backend == config.BackendNative {
		return native, noop, nil
	}

	graph, err := openGraph(cfg)
	if err != nil {
		return nil, noop, err
	}

	emb, err := server.NewONNXEmbedder(graph, native)
	if err != nil {
		graph.Close()
		return nil, noop, err
	}

	return emb, graph.Close, nil
}

func openGraph(cfg config.Config) (*onnx.Graph, error) {
	info, err := onnx.DetectRuntime(cfg.Runtime)
	if err != nil {
		return nil, err
	}

	slog.Info("onnx runtime",
		slog.String("library", info.LibraryPath),
		slog.String("version", info.Version),
		slog.String("graph", cfg.Paths.ONNXModel),
	)

	return onnx.OpenGraph(cfg.Paths.ONNXModel, onnx.RunnerConfig{LibraryPath: info.LibraryPath})
}
