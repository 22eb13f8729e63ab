package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Defaults applied to fields left empty in a config file.
const (
	DefaultModelFilename   = "__model__"
	DefaultParamsFilename  = "__params__"
	DefaultScratchPath     = "quant_model_tmp"
	DefaultMaxEvalSamples  = 200
	DefaultRuncountLimit   = 30
	DefaultSeed            = 42
	DefaultWeightType      = "channel_wise_abs_max"
	DefaultActivationType  = "moving_average_abs_max"
	DefaultBits            = 8
	DefaultPublishAttempts = 3
)

// DefaultQuantizableOpTypes are the operator kinds quantized unless configured otherwise.
var DefaultQuantizableOpTypes = []string{"conv2d", "depthwise_conv2d", "mul"}

// LoadConfig loads and parses a configuration file. Relative paths inside the
// file are resolved against the file's directory.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	cfg, err := ParseConfigYAML(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	cfg.ResolvePaths(filepath.Dir(path))
	return cfg, nil
}

// ResolvePaths rewrites relative filesystem paths to be rooted at baseDir.
func (c *Config) ResolvePaths(baseDir string) {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(baseDir, p)
	}
	c.Model.Dir = resolve(c.Model.Dir)
	c.Output.Path = resolve(c.Output.Path)
	c.Output.ScratchPath = resolve(c.Output.ScratchPath)
	for _, src := range []*Source{&c.Data.Calibration, &c.Data.Evaluation} {
		src.Root = resolve(src.Root)
		src.ListFile = resolve(src.ListFile)
		src.Path = resolve(src.Path)
	}
}

// applyDefaults fills in zero-valued fields
func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
	if cfg.Model.ModelFilename == "" {
		cfg.Model.ModelFilename = DefaultModelFilename
	}
	if cfg.Model.SaveModelFilename == "" {
		cfg.Model.SaveModelFilename = DefaultModelFilename
	}
	if cfg.Model.SaveParamsFilename == "" {
		cfg.Model.SaveParamsFilename = DefaultParamsFilename
	}
	if cfg.Model.ParamsCodec == "" {
		cfg.Model.ParamsCodec = "zstd"
	}
	if cfg.Output.ScratchPath == "" {
		cfg.Output.ScratchPath = DefaultScratchPath
	}

	q := &cfg.Quantization
	if len(q.QuantizableOpTypes) == 0 {
		q.QuantizableOpTypes = append([]string(nil), DefaultQuantizableOpTypes...)
	}
	if q.WeightBits == 0 {
		q.WeightBits = DefaultBits
	}
	if q.ActivationBits == 0 {
		q.ActivationBits = DefaultBits
	}
	if q.WeightQuantizeType == "" {
		q.WeightQuantizeType = DefaultWeightType
	}
	if q.ActivationQuantizeType == "" {
		q.ActivationQuantizeType = DefaultActivationType
	}

	if cfg.Data.MaxEvalSamples == 0 {
		cfg.Data.MaxEvalSamples = DefaultMaxEvalSamples
	}
	for _, src := range []*Source{&cfg.Data.Calibration, &cfg.Data.Evaluation} {
		if src.Type == "image_list" {
			if src.ResizeShort == 0 {
				src.ResizeShort = 256
			}
			if src.CropSize == 0 {
				src.CropSize = 224
			}
			if len(src.Mean) == 0 {
				src.Mean = []float64{0.485, 0.456, 0.406}
			}
			if len(src.Std) == 0 {
				src.Std = []float64{0.229, 0.224, 0.225}
			}
		}
	}

	if cfg.Search.RuncountLimit == 0 {
		cfg.Search.RuncountLimit = DefaultRuncountLimit
	}
	if cfg.Search.Seed == 0 {
		cfg.Search.Seed = DefaultSeed
	}
	if cfg.Publish != nil && cfg.Publish.Attempts == 0 {
		cfg.Publish.Attempts = DefaultPublishAttempts
	}
}

// validateConfig performs validation on the configuration
func validateConfig(cfg *Config) error {
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("invalid log_level: %s (must be debug, info, warn, or error)", cfg.LogLevel)
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return fmt.Errorf("invalid log_format: %s (must be text or json)", cfg.LogFormat)
	}

	if cfg.Model.Dir == "" {
		return fmt.Errorf("model.dir is required")
	}
	validCodecs := map[string]bool{"none": true, "zstd": true, "lz4": true}
	if !validCodecs[cfg.Model.ParamsCodec] {
		return fmt.Errorf("invalid model.params_codec: %s (must be none, zstd, or lz4)", cfg.Model.ParamsCodec)
	}

	if cfg.Output.Path == "" {
		return fmt.Errorf("output.path is required")
	}
	if filepath.Clean(cfg.Output.Path) == filepath.Clean(cfg.Output.ScratchPath) {
		return fmt.Errorf("output.path and output.scratch_path must differ")
	}

	if err := validateQuantization(&cfg.Quantization); err != nil {
		return fmt.Errorf("quantization validation failed: %w", err)
	}
	if err := validateSource("calibration", &cfg.Data.Calibration); err != nil {
		return fmt.Errorf("data validation failed: %w", err)
	}
	if err := validateSource("evaluation", &cfg.Data.Evaluation); err != nil {
		return fmt.Errorf("data validation failed: %w", err)
	}
	if cfg.Data.MaxEvalSamples < 0 {
		return fmt.Errorf("data.max_eval_samples cannot be negative, got %d", cfg.Data.MaxEvalSamples)
	}

	if err := validateSearch(&cfg.Search); err != nil {
		return fmt.Errorf("search validation failed: %w", err)
	}

	if cfg.Resources != nil && cfg.Resources.MinAvailableMemoryMB < 0 {
		return fmt.Errorf("resources.min_available_memory_mb cannot be negative")
	}

	if cfg.Publish != nil && cfg.Publish.Enabled {
		if cfg.Publish.Endpoint == "" {
			return fmt.Errorf("publish.endpoint is required when publishing is enabled")
		}
		if cfg.Publish.Bucket == "" {
			return fmt.Errorf("publish.bucket is required when publishing is enabled")
		}
	}

	return nil
}

// validateQuantization validates the fixed quantization settings
func validateQuantization(q *Quantization) error {
	validOps := map[string]bool{
		"conv2d":           true,
		"depthwise_conv2d": true,
		"mul":              true,
	}
	for _, op := range q.QuantizableOpTypes {
		if !validOps[op] {
			return fmt.Errorf("unsupported quantizable op type: %s", op)
		}
	}
	if q.WeightBits < 2 || q.WeightBits > 16 {
		return fmt.Errorf("weight_bits must be between 2 and 16, got %d", q.WeightBits)
	}
	if q.ActivationBits < 2 || q.ActivationBits > 16 {
		return fmt.Errorf("activation_bits must be between 2 and 16, got %d", q.ActivationBits)
	}
	if q.WeightQuantizeType != "abs_max" && q.WeightQuantizeType != "channel_wise_abs_max" {
		return fmt.Errorf("invalid weight_quantize_type: %s (must be abs_max or channel_wise_abs_max)", q.WeightQuantizeType)
	}
	return nil
}

// validateSource validates a single sample source
func validateSource(name string, s *Source) error {
	switch s.Type {
	case "image_list":
		if s.ListFile == "" {
			return fmt.Errorf("%s: list_file is required for image_list", name)
		}
		if s.CropSize <= 0 || s.ResizeShort < s.CropSize {
			return fmt.Errorf("%s: resize_short (%d) must be >= crop_size (%d) > 0", name, s.ResizeShort, s.CropSize)
		}
		if len(s.Mean) != 3 || len(s.Std) != 3 {
			return fmt.Errorf("%s: mean and std must have 3 entries", name)
		}
		for _, v := range s.Std {
			if v <= 0 {
				return fmt.Errorf("%s: std entries must be positive", name)
			}
		}
	case "tensor_file":
		if s.Path == "" {
			return fmt.Errorf("%s: path is required for tensor_file", name)
		}
		if len(s.Shape) == 0 {
			return fmt.Errorf("%s: shape is required for tensor_file", name)
		}
		for _, d := range s.Shape {
			if d <= 0 {
				return fmt.Errorf("%s: shape dimensions must be positive, got %v", name, s.Shape)
			}
		}
	case "":
		return fmt.Errorf("%s: source type is required", name)
	default:
		return fmt.Errorf("%s: invalid source type %s (must be image_list or tensor_file)", name, s.Type)
	}
	if s.Limit < 0 {
		return fmt.Errorf("%s: limit cannot be negative", name)
	}
	return nil
}

// validateSearch validates the optimizer settings
func validateSearch(s *Search) error {
	if s.RuncountLimit <= 0 {
		return fmt.Errorf("runcount_limit must be positive, got %d", s.RuncountLimit)
	}
	if _, err := s.GetEvalTimeout(); err != nil {
		return fmt.Errorf("invalid eval_timeout %s: %w", s.EvalTimeout, err)
	}
	if s.InitialRandom < 0 {
		return fmt.Errorf("initial_random cannot be negative, got %d", s.InitialRandom)
	}
	if s.RandomProbability < 0 || s.RandomProbability > 1 {
		return fmt.Errorf("random_probability must be between 0 and 1, got %f", s.RandomProbability)
	}

	if c := s.Convergence; c != nil {
		validStrategies := map[string]bool{
			"no_improvement": true,
			"plateau":        true,
			"threshold":      true,
			"variance":       true,
			"combined":       true,
		}
		if !validStrategies[c.Strategy] {
			return fmt.Errorf("invalid convergence strategy: %s", c.Strategy)
		}
	}

	if sp := s.Space; sp != nil {
		validAlgos := map[string]bool{
			"KL":      true,
			"hist":    true,
			"avg":     true,
			"mse":     true,
			"abs_max": true,
		}
		for _, a := range sp.Algos {
			if !validAlgos[a] {
				return fmt.Errorf("invalid algo in space: %s", a)
			}
		}
		if r := sp.HistPercent; r != nil {
			if r.Min <= 0 || r.Max > 1 || r.Min >= r.Max {
				return fmt.Errorf("hist_percent range must satisfy 0 < min < max <= 1")
			}
			if r.Default < r.Min || r.Default > r.Max {
				return fmt.Errorf("hist_percent default %f outside [%f, %f]", r.Default, r.Min, r.Max)
			}
		}
		for name, r := range map[string]*IntRange{"batch_size": sp.BatchSize, "batch_num": sp.BatchNum} {
			if r == nil {
				continue
			}
			if r.Min <= 0 || r.Min > r.Max {
				return fmt.Errorf("%s range must satisfy 0 < min <= max", name)
			}
			if r.Default < r.Min || r.Default > r.Max {
				return fmt.Errorf("%s default %d outside [%d, %d]", name, r.Default, r.Min, r.Max)
			}
		}
	}
	return nil
}
