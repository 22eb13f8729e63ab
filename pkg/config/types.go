package config

import "time"

// Config represents a quantization search job
type Config struct {
	LogLevel     string       `yaml:"log_level"`
	LogFormat    string       `yaml:"log_format,omitempty"` // text or json
	Model        Model        `yaml:"model"`
	Output       Output       `yaml:"output"`
	Quantization Quantization `yaml:"quantization"`
	Data         Data         `yaml:"data"`
	Search       Search       `yaml:"search"`
	Resources    *Resources   `yaml:"resources,omitempty"`
	Publish      *Publish     `yaml:"publish,omitempty"`
}

// Model describes the float inference model and how quantized models are saved
type Model struct {
	Dir                string `yaml:"dir"`
	ModelFilename      string `yaml:"model_filename,omitempty"`
	ParamsFilename     string `yaml:"params_filename,omitempty"` // empty = one file per parameter
	SaveModelFilename  string `yaml:"save_model_filename,omitempty"`
	SaveParamsFilename string `yaml:"save_params_filename,omitempty"`
	ParamsCodec        string `yaml:"params_codec,omitempty"` // none, zstd, lz4
}

// Output holds the promoted artifact path and the per-evaluation scratch path
type Output struct {
	Path        string `yaml:"path"`
	ScratchPath string `yaml:"scratch_path,omitempty"`
}

// Quantization holds the fixed (non-searched) quantization settings
type Quantization struct {
	QuantizableOpTypes     []string `yaml:"quantizable_op_types,omitempty"`
	IsFullQuantize         bool     `yaml:"is_full_quantize"`
	WeightBits             int      `yaml:"weight_bits"`
	ActivationBits         int      `yaml:"activation_bits"`
	WeightQuantizeType     string   `yaml:"weight_quantize_type"` // abs_max or channel_wise_abs_max
	ActivationQuantizeType string   `yaml:"activation_quantize_type,omitempty"`
	OptimizeModel          bool     `yaml:"optimize_model"`
}

// Data configures calibration and evaluation sample sources
type Data struct {
	Calibration    Source `yaml:"calibration"`
	Evaluation     Source `yaml:"evaluation"`
	MaxEvalSamples int    `yaml:"max_eval_samples,omitempty"`
}

// Source describes one sample source
type Source struct {
	Type string `yaml:"type"` // image_list or tensor_file

	// image_list
	Root        string    `yaml:"root,omitempty"`
	ListFile    string    `yaml:"list_file,omitempty"`
	ResizeShort int       `yaml:"resize_short,omitempty"`
	CropSize    int       `yaml:"crop_size,omitempty"`
	Mean        []float64 `yaml:"mean,omitempty"`
	Std         []float64 `yaml:"std,omitempty"`

	// tensor_file
	Path  string `yaml:"path,omitempty"`
	Shape []int  `yaml:"shape,omitempty"`

	Limit int `yaml:"limit,omitempty"`
}

// Search configures the optimizer loop
type Search struct {
	RuncountLimit     int          `yaml:"runcount_limit"`
	Seed              int64        `yaml:"seed"`
	EvalTimeout       string       `yaml:"eval_timeout,omitempty"` // e.g. "10m"
	TolerateFailures  bool         `yaml:"tolerate_failures"`
	InitialRandom     int          `yaml:"initial_random,omitempty"`
	RandomProbability float64      `yaml:"random_probability,omitempty"`
	Convergence       *Convergence `yaml:"convergence,omitempty"`
	Space             *Space       `yaml:"space,omitempty"`
}

// Convergence selects an early-stopping strategy
type Convergence struct {
	Strategy                string  `yaml:"strategy"` // no_improvement, plateau, threshold, variance, combined
	NoImprovementIterations int     `yaml:"no_improvement_iterations,omitempty"`
	ImprovementThreshold    float64 `yaml:"improvement_threshold,omitempty"`
	ScoreTolerance          float64 `yaml:"score_tolerance,omitempty"`
	MinIterations           int     `yaml:"min_iterations,omitempty"`
	PlateauIterations       int     `yaml:"plateau_iterations,omitempty"`
}

// Space narrows the default quantization search space
type Space struct {
	Algos       []string    `yaml:"algos,omitempty"`
	BiasCorrect []bool      `yaml:"bias_correct,omitempty"`
	HistPercent *FloatRange `yaml:"hist_percent,omitempty"`
	BatchSize   *IntRange   `yaml:"batch_size,omitempty"`
	BatchNum    *IntRange   `yaml:"batch_num,omitempty"`
}

// FloatRange is a continuous domain with a default
type FloatRange struct {
	Min     float64 `yaml:"min"`
	Max     float64 `yaml:"max"`
	Default float64 `yaml:"default"`
}

// IntRange is an integer domain with a default
type IntRange struct {
	Min     int `yaml:"min"`
	Max     int `yaml:"max"`
	Default int `yaml:"default"`
}

// Resources guards host resources before each evaluation
type Resources struct {
	MinAvailableMemoryMB int `yaml:"min_available_memory_mb"`
}

// Publish uploads the promoted artifact to S3-compatible storage after a search
type Publish struct {
	Enabled      bool   `yaml:"enabled"`
	Endpoint     string `yaml:"endpoint"`
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix,omitempty"`
	Region       string `yaml:"region,omitempty"`
	Secure       bool   `yaml:"secure"`
	AccessKeyEnv string `yaml:"access_key_env,omitempty"`
	SecretKeyEnv string `yaml:"secret_key_env,omitempty"`
	Attempts     int    `yaml:"attempts,omitempty"`
}

// GetEvalTimeout parses the per-evaluation timeout; zero means no timeout
func (s *Search) GetEvalTimeout() (time.Duration, error) {
	if s.EvalTimeout == "" {
		return 0, nil
	}
	return time.ParseDuration(s.EvalTimeout)
}
