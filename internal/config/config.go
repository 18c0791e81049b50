package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Paths    PathsConfig   `mapstructure:"paths"`
	Runtime  RuntimeConfig `mapstructure:"runtime"`
	Model    ModelConfig   `mapstructure:"model"`
	Contour  ContourConfig `mapstructure:"contour"`
	Server   ServerConfig  `mapstructure:"server"`
	Backend  string        `mapstructure:"backend"`
	LogLevel string        `mapstructure:"log_level"`
	Seed     uint64        `mapstructure:"seed"`
}

type PathsConfig struct {
	Checkpoint string `mapstructure:"checkpoint"`
	ONNXModel  string `mapstructure:"onnx_model"`
}

type RuntimeConfig struct {
	Workers        int    `mapstructure:"workers"`
	ConvWorkers    int    `mapstructure:"conv_workers"`
	ORTLibraryPath string `mapstructure:"ort_library_path"`
	ORTVersion     string `mapstructure:"ort_version"`
}

// ModelConfig mirrors the GST hyper-parameters. It is used when a
// checkpoint carries no configuration of its own and by `gst init`.
type ModelConfig struct {
	Bands          int     `mapstructure:"bands"`
	OutChannels    []int   `mapstructure:"out_channels"`
	KernelHeights  []int   `mapstructure:"kernel_heights"`
	KernelWidth    int     `mapstructure:"kernel_width"`
	HiddenSize     int     `mapstructure:"hidden_size"`
	TokenNum       int     `mapstructure:"token_num"`
	EmbeddingWidth int     `mapstructure:"embedding_width"`
	NumHeads       int     `mapstructure:"num_heads"`
	Dropout        float64 `mapstructure:"dropout"`
	BatchNormEps   float64 `mapstructure:"batch_norm_eps"`
}

// ContourConfig configures the WAV to bin-location frontend.
type ContourConfig struct {
	HopLength   int     `mapstructure:"hop_length"`
	FrameLength int     `mapstructure:"frame_length"`
	FMin        float64 `mapstructure:"fmin"`
	FMax        float64 `mapstructure:"fmax"`
	FramesStep  int     `mapstructure:"frames_step"`
}

type ServerConfig struct {
	ListenAddr      string `mapstructure:"listen_addr"`
	Workers         int    `mapstructure:"workers"`
	RequestTimeout  int    `mapstructure:"request_timeout"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"`
	MaxBatch        int    `mapstructure:"max_batch"`
	MaxFrames       int    `mapstructure:"max_frames"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	return Config{
		Paths: PathsConfig{
			Checkpoint: "models/gst.safetensors",
			ONNXModel:  "models/gst.onnx",
		},
		Runtime: RuntimeConfig{
			Workers:     1,
			ConvWorkers: 1,
		},
		Model: ModelConfig{
			Bands:          13,
			OutChannels:    []int{32, 32},
			KernelHeights:  []int{3, 3},
			KernelWidth:    3,
			HiddenSize:     512,
			TokenNum:       10,
			EmbeddingWidth: 256,
			NumHeads:       8,
			Dropout:        0.5,
			BatchNormEps:   1e-5,
		},
		Contour: ContourConfig{
			HopLength:   256,
			FrameLength: 1024,
			FMin:        65,
			FMax:        1000,
			FramesStep:  1,
		},
		Server: ServerConfig{
			ListenAddr:      ":8080",
			Workers:         2,
			RequestTimeout:  30,
			ShutdownTimeout: 30,
			MaxBatch:        32,
			MaxFrames:       4000,
		},
		Backend:  BackendNative,
		LogLevel: "info",
		Seed:     1234,
	}
}

// flagKeys maps every flag to its nested configuration key.
var flagKeys = []struct {
	flag string
	key  string
}{
	{"checkpoint", "paths.checkpoint"},
	{"onnx-model", "paths.onnx_model"},
	{"workers", "runtime.workers"},
	{"conv-workers", "runtime.conv_workers"},
	{"ort-lib", "runtime.ort_library_path"},
	{"ort-version", "runtime.ort_version"},
	{"model-bands", "model.bands"},
	{"model-out-channels", "model.out_channels"},
	{"model-kernel-heights", "model.kernel_heights"},
	{"model-hidden-size", "model.hidden_size"},
	{"model-token-num", "model.token_num"},
	{"model-embedding-width", "model.embedding_width"},
	{"model-num-heads", "model.num_heads"},
	{"contour-hop-length", "contour.hop_length"},
	{"contour-frames-step", "contour.frames_step"},
	{"server-listen-addr", "server.listen_addr"},
	{"server-workers", "server.workers"},
	{"server-request-timeout", "server.request_timeout"},
	{"server-max-batch", "server.max_batch"},
	{"backend", "backend"},
	{"log-level", "log_level"},
	{"seed", "seed"},
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("checkpoint", defaults.Paths.Checkpoint, "Path to GST checkpoint (.safetensors)")
	fs.String("onnx-model", defaults.Paths.ONNXModel, "Path to exported GST ONNX graph")
	fs.Int("workers", defaults.Runtime.Workers, "Goroutines for matmul/linear kernels")
	fs.Int("conv-workers", defaults.Runtime.ConvWorkers, "Goroutines for conv2d kernels")
	fs.String("ort-lib", defaults.Runtime.ORTLibraryPath, "Path to ONNX Runtime shared library")
	fs.String("ort-version", defaults.Runtime.ORTVersion, "Expected ONNX Runtime version")
	fs.Int("model-bands", defaults.Model.Bands, "Contour sub-band count (F)")
	fs.IntSlice("model-out-channels", defaults.Model.OutChannels, "Per-stage convolution output channels")
	fs.IntSlice("model-kernel-heights", defaults.Model.KernelHeights, "Per-stage convolution kernel heights (odd)")
	fs.Int("model-hidden-size", defaults.Model.HiddenSize, "Bidirectional LSTM output width")
	fs.Int("model-token-num", defaults.Model.TokenNum, "Number of style tokens")
	fs.Int("model-embedding-width", defaults.Model.EmbeddingWidth, "Style embedding width (E)")
	fs.Int("model-num-heads", defaults.Model.NumHeads, "Attention heads (must divide E)")
	fs.Int("contour-hop-length", defaults.Contour.HopLength, "Pitch tracker hop in samples")
	fs.Int("contour-frames-step", defaults.Contour.FramesStep, "Round collated frame counts up to a multiple of this")
	fs.String("server-listen-addr", defaults.Server.ListenAddr, "HTTP listen address")
	fs.Int("server-workers", defaults.Server.Workers, "Max concurrent model calls in the HTTP server")
	fs.Int("server-request-timeout", defaults.Server.RequestTimeout, "Per-request timeout in seconds")
	fs.Int("server-max-batch", defaults.Server.MaxBatch, "Max contours per /v1/embed request")
	fs.String("backend", defaults.Backend, "Inference backend (native|onnx)")
	fs.String("log-level", defaults.LogLevel, "Log level (debug|info|warn|error)")
	fs.Uint64("seed", defaults.Seed, "Seed for parameter init and dropout")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)

	if opts.Cmd != nil {
		fs := opts.Cmd.Flags()
		for _, fk := range flagKeys {
			f := fs.Lookup(fk.flag)
			if f == nil {
				continue
			}

			if err := v.BindPFlag(fk.key, f); err != nil {
				return Config{}, fmt.Errorf("bind flag %s: %w", fk.flag, err)
			}
		}
	}

	v.SetEnvPrefix("GST")
	replacer := strings.NewReplacer("-", "_", ".", "_")
	v.SetEnvKeyReplacer(replacer)

	if err := v.BindEnv("runtime.ort_library_path", "GST_ORT_LIB", "ORT_LIBRARY_PATH"); err != nil {
		return Config{}, fmt.Errorf("bind ort env vars: %w", err)
	}

	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)

		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("gst")
		v.AddConfigPath(".")

		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	backend, err := NormalizeBackend(cfg.Backend)
	if err != nil {
		return Config{}, err
	}

	cfg.Backend = backend

	return cfg, nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("paths.checkpoint", c.Paths.Checkpoint)
	v.SetDefault("paths.onnx_model", c.Paths.ONNXModel)
	v.SetDefault("runtime.workers", c.Runtime.Workers)
	v.SetDefault("runtime.conv_workers", c.Runtime.ConvWorkers)
	v.SetDefault("runtime.ort_library_path", c.Runtime.ORTLibraryPath)
	v.SetDefault("runtime.ort_version", c.Runtime.ORTVersion)
	v.SetDefault("model.bands", c.Model.Bands)
	v.SetDefault("model.out_channels", c.Model.OutChannels)
	v.SetDefault("model.kernel_heights", c.Model.KernelHeights)
	v.SetDefault("model.kernel_width", c.Model.KernelWidth)
	v.SetDefault("model.hidden_size", c.Model.HiddenSize)
	v.SetDefault("model.token_num", c.Model.TokenNum)
	v.SetDefault("model.embedding_width", c.Model.EmbeddingWidth)
	v.SetDefault("model.num_heads", c.Model.NumHeads)
	v.SetDefault("model.dropout", c.Model.Dropout)
	v.SetDefault("model.batch_norm_eps", c.Model.BatchNormEps)
	v.SetDefault("contour.hop_length", c.Contour.HopLength)
	v.SetDefault("contour.frame_length", c.Contour.FrameLength)
	v.SetDefault("contour.fmin", c.Contour.FMin)
	v.SetDefault("contour.fmax", c.Contour.FMax)
	v.SetDefault("contour.frames_step", c.Contour.FramesStep)
	v.SetDefault("server.listen_addr", c.Server.ListenAddr)
	v.SetDefault("server.workers", c.Server.Workers)
	v.SetDefault("server.request_timeout", c.Server.RequestTimeout)
	v.SetDefault("server.shutdown_timeout", c.Server.ShutdownTimeout)
	v.SetDefault("server.max_batch", c.Server.MaxBatch)
	v.SetDefault("server.max_frames", c.Server.MaxFrames)
	v.SetDefault("backend", c.Backend)
	v.SetDefault("log_level", c.LogLevel)
	v.SetDefault("seed", c.Seed)
}
