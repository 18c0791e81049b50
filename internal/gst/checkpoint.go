package gst

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/example/go-gst/internal/runtime/ops"
	"github.com/example/go-gst/internal/runtime/tensor"
	"github.com/example/go-gst/internal/safetensors"
)

// metaConfig is the safetensors metadata key holding the JSON Config.
const metaConfig = "gst_config"

// paramEntry names one tensor of the PyTorch state dict. path and leaf join
// with dots, e.g. prosody_extractor.convs2D.0 + weight.
type paramEntry struct {
	path []string
	leaf string
	t    **tensor.Tensor
}

func (e paramEntry) name() string {
	return strings.Join(append(append([]string(nil), e.path...), e.leaf), ".")
}

// stateDict lists every tensor of p in checkpoint order. p.Encoder.Stages
// must already have its final length.
func stateDict(p *Params) []paramEntry {
	var out []paramEntry

	for i := range p.Encoder.Stages {
		st := &p.Encoder.Stages[i]
		idx := strconv.Itoa(i)
		conv := []string{"prosody_extractor", "convs2D", idx}
		bn := []string{"prosody_extractor", "bns2D", idx}

		out = append(out,
			paramEntry{conv, "weight", &st.Weight},
			paramEntry{conv, "bias", &st.Bias},
			paramEntry{bn, "weight", &st.Gamma},
			paramEntry{bn, "bias", &st.Beta},
			paramEntry{bn, "running_mean", &st.RunningMean},
			paramEntry{bn, "running_var", &st.RunningVar},
		)
	}

	lstm := []string{"prosody_extractor", "prosody_bi_lstm"}
	for _, dir := range []struct {
		suffix string
		w      *ops.LSTMWeights
	}{{"", &p.Encoder.Forward}, {"_reverse", &p.Encoder.Backward}} {
		w := dir.w

		out = append(out,
			paramEntry{lstm, "weight_ih_l0" + dir.suffix, &w.WeightIH},
			paramEntry{lstm, "weight_hh_l0" + dir.suffix, &w.WeightHH},
			paramEntry{lstm, "bias_ih_l0" + dir.suffix, &w.BiasIH},
			paramEntry{lstm, "bias_hh_l0" + dir.suffix, &w.BiasHH},
		)
	}

	out = append(out,
		paramEntry{[]string{"stl"}, "embed", &p.STL.Tokens},
		paramEntry{[]string{"stl", "attention", "W_query"}, "weight", &p.STL.Attention.Query},
		paramEntry{[]string{"stl", "attention", "W_key"}, "weight", &p.STL.Attention.Key},
		paramEntry{[]string{"stl", "attention", "W_value"}, "weight", &p.STL.Attention.Value},
	)

	return out
}

// CheckpointKeyMapper normalizes checkpoint tensor names. A leading
// "module." (DataParallel) and "gst." (the attribute name inside a full
// synthesizer) are stripped, and anything
// outside the encoder and token layer, including BatchNorm
// num_batches_tracked counters, is dropped.
func CheckpointKeyMapper(name string) (string, bool) {
	name = strings.TrimPrefix(name, "module.")
	name = strings.TrimPrefix(name, "gst.")

	if strings.HasSuffix(name, ".num_batches_tracked") {
		return "", false
	}

	if strings.HasPrefix(name, "prosody_extractor.") || strings.HasPrefix(name, "stl.") {
		return name, true
	}

	return "", false
}

// EncodeParams serializes p as F32 safetensors with PyTorch state-dict names.
// cfg is stored in the metadata so LoadCheckpoint can rebuild the model.
func EncodeParams(cfg Config, p *Params) ([]byte, error) {
	tensors, meta, err := checkpointTensors(cfg, p)
	if err != nil {
		return nil, err
	}

	return safetensors.EncodeTensors(tensors, meta)
}

// SaveParams writes p to path. See EncodeParams.
func SaveParams(path string, cfg Config, p *Params) error {
	tensors, meta, err := checkpointTensors(cfg, p)
	if err != nil {
		return err
	}

	return safetensors.WriteFile(path, tensors, meta)
}

func checkpointTensors(cfg Config, p *Params) ([]safetensors.Tensor, map[string]string, error) {
	if err := p.Validate(cfg); err != nil {
		return nil, nil, err
	}

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("gst: encode config: %w", err)
	}

	entries := stateDict(p)
	tensors := make([]safetensors.Tensor, 0, len(entries))

	for _, e := range entries {
		t := *e.t
		tensors = append(tensors, safetensors.Tensor{Name: e.name(), Shape: t.Shape(), Data: t.RawData()})
	}

	return tensors, map[string]string{"format": "pt", metaConfig: string(cfgJSON)}, nil
}

// LoadParams reads a checkpoint and checks every tensor against cfg.
func LoadParams(path string, cfg Config) (*Params, error) {
	store, err := safetensors.OpenStore(path, safetensors.StoreOptions{KeyMapper: CheckpointKeyMapper})
	if err != nil {
		return nil, err
	}
	defer store.Close()

	return LoadParamsFromStore(store, cfg)
}

// LoadParamsFromBytes is LoadParams over an in-memory checkpoint.
func LoadParamsFromBytes(data []byte, cfg Config) (*Params, error) {
	store, err := safetensors.OpenStoreFromBytes(data, safetensors.StoreOptions{KeyMapper: CheckpointKeyMapper})
	if err != nil {
		return nil, err
	}
	defer store.Close()

	return LoadParamsFromStore(store, cfg)
}

// LoadParamsFromStore fills a Params from an opened store whose names have
// been normalized by CheckpointKeyMapper.
func LoadParamsFromStore(store *safetensors.Store, cfg Config) (*Params, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Params{Encoder: EncoderParams{Stages: make([]ConvStage, len(cfg.OutChannels))}}
	vb := NewVarBuilder(store)

	for _, e := range stateDict(p) {
		t, err := vb.Path(e.path...).Tensor(e.leaf)
		if err != nil {
			return nil, fmt.Errorf("gst: checkpoint: %w", err)
		}

		*e.t = t
	}

	if err := p.Validate(cfg); err != nil {
		return nil, fmt.Errorf("gst: checkpoint: %w", err)
	}

	return p, nil
}

// LoadCheckpoint opens path and returns the configuration stored in its
// metadata (fallback when absent) together with the parameters.
func LoadCheckpoint(path string, fallback Config) (Config, *Params, error) {
	store, err := safetensors.OpenStore(path, safetensors.StoreOptions{KeyMapper: CheckpointKeyMapper})
	if err != nil {
		return Config{}, nil, err
	}
	defer store.Close()

	cfg, err := ConfigFromMetadata(store.Metadata(), fallback)
	if err != nil {
		return Config{}, nil, err
	}

	p, err := LoadParamsFromStore(store, cfg)
	if err != nil {
		return Config{}, nil, err
	}

	return cfg, p, nil
}

// ConfigFromMetadata decodes the stored Config over fallback. Fields absent
// from the stored JSON keep their fallback value.
func ConfigFromMetadata(meta map[string]string, fallback Config) (Config, error) {
	raw, ok := meta[metaConfig]
	if !ok {
		return fallback, nil
	}

	cfg := fallback
	cfg.OutChannels = append([]int64(nil), fallback.OutChannels...)
	cfg.KernelHeights = append([]int64(nil), fallback.KernelHeights...)

	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: checkpoint metadata: %v", ErrConfig, err)
	}

	return cfg, nil
}
