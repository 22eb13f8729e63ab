package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	// Test loading the bundled example config
	cfg, err := LoadConfig("../../config/quanthpo.yaml")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("Expected log_level 'info', got '%s'", cfg.LogLevel)
	}
	if !filepath.IsAbs(cfg.Model.Dir) && !strings.HasPrefix(cfg.Model.Dir, filepath.Join("..", "..", "config")) {
		t.Errorf("Expected model dir resolved against config dir, got '%s'", cfg.Model.Dir)
	}
	if cfg.Model.ParamsFilename != "__params__" {
		t.Errorf("Expected params filename '__params__', got '%s'", cfg.Model.ParamsFilename)
	}
	if cfg.Quantization.WeightQuantizeType != "channel_wise_abs_max" {
		t.Errorf("Expected channel_wise_abs_max, got '%s'", cfg.Quantization.WeightQuantizeType)
	}
	if len(cfg.Quantization.QuantizableOpTypes) != 3 {
		t.Errorf("Expected 3 quantizable op types, got %d", len(cfg.Quantization.QuantizableOpTypes))
	}

	if cfg.Data.Evaluation.Limit != 200 {
		t.Errorf("Expected evaluation limit 200, got %d", cfg.Data.Evaluation.Limit)
	}
	// image_list defaults fill mean/std
	if len(cfg.Data.Evaluation.Mean) != 3 {
		t.Errorf("Expected default mean to be filled, got %v", cfg.Data.Evaluation.Mean)
	}

	if cfg.Search.RuncountLimit != 30 {
		t.Errorf("Expected runcount_limit 30, got %d", cfg.Search.RuncountLimit)
	}
	timeout, err := cfg.Search.GetEvalTimeout()
	if err != nil {
		t.Errorf("Failed to parse eval timeout: %v", err)
	}
	if timeout != 10*time.Minute {
		t.Errorf("Expected 10m timeout, got %v", timeout)
	}

	if cfg.Search.Convergence == nil {
		t.Fatal("Convergence should not be nil")
	}
	if cfg.Search.Convergence.Strategy != "no_improvement" {
		t.Errorf("Expected strategy no_improvement, got '%s'", cfg.Search.Convergence.Strategy)
	}

	if cfg.Resources == nil || cfg.Resources.MinAvailableMemoryMB != 512 {
		t.Errorf("Expected resources.min_available_memory_mb 512, got %+v", cfg.Resources)
	}
}

func TestLoadConfigResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "job.yaml")
	writeFile(t, path, minimalYAML)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Model.Dir != filepath.Join(dir, "model") {
		t.Errorf("Expected model dir %s, got %s", filepath.Join(dir, "model"), cfg.Model.Dir)
	}
	if cfg.Output.ScratchPath != filepath.Join(dir, DefaultScratchPath) {
		t.Errorf("Expected scratch path %s, got %s", filepath.Join(dir, DefaultScratchPath), cfg.Output.ScratchPath)
	}
	if cfg.Data.Evaluation.Path != filepath.Join(dir, "eval.bin") {
		t.Errorf("Expected evaluation path resolved, got %s", cfg.Data.Evaluation.Path)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig("nonexistent.yaml")
	if err == nil {
		t.Error("Expected error for nonexistent file, got nil")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg, err := ParseConfigYAMLString(minimalYAML)
	if err != nil {
		t.Fatalf("ParseConfigYAMLString failed: %v", err)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("Expected default log level info, got %s", cfg.LogLevel)
	}
	if cfg.Model.ModelFilename != DefaultModelFilename {
		t.Errorf("Expected default model filename, got %s", cfg.Model.ModelFilename)
	}
	if cfg.Model.ParamsFilename != "" {
		t.Errorf("Expected empty params filename to stay empty, got %s", cfg.Model.ParamsFilename)
	}
	if cfg.Model.ParamsCodec != "zstd" {
		t.Errorf("Expected default codec zstd, got %s", cfg.Model.ParamsCodec)
	}
	if cfg.Quantization.WeightBits != 8 || cfg.Quantization.ActivationBits != 8 {
		t.Errorf("Expected 8-bit defaults, got %d/%d", cfg.Quantization.WeightBits, cfg.Quantization.ActivationBits)
	}
	if cfg.Data.MaxEvalSamples != DefaultMaxEvalSamples {
		t.Errorf("Expected max eval samples %d, got %d", DefaultMaxEvalSamples, cfg.Data.MaxEvalSamples)
	}
	if cfg.Search.RuncountLimit != DefaultRuncountLimit {
		t.Errorf("Expected runcount limit %d, got %d", DefaultRuncountLimit, cfg.Search.RuncountLimit)
	}
	if cfg.Search.Seed != DefaultSeed {
		t.Errorf("Expected seed %d, got %d", DefaultSeed, cfg.Search.Seed)
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }, "invalid log_level"},
		{"missing model dir", func(c *Config) { c.Model.Dir = "" }, "model.dir is required"},
		{"bad codec", func(c *Config) { c.Model.ParamsCodec = "gzip" }, "params_codec"},
		{"same output and scratch", func(c *Config) { c.Output.ScratchPath = c.Output.Path }, "must differ"},
		{"bad op type", func(c *Config) { c.Quantization.QuantizableOpTypes = []string{"pool2d"} }, "unsupported quantizable op type"},
		{"bad weight type", func(c *Config) { c.Quantization.WeightQuantizeType = "range_abs_max" }, "weight_quantize_type"},
		{"bad bits", func(c *Config) { c.Quantization.WeightBits = 32 }, "weight_bits"},
		{"missing source type", func(c *Config) { c.Data.Calibration.Type = "" }, "source type is required"},
		{"tensor file without shape", func(c *Config) { c.Data.Evaluation.Shape = nil }, "shape is required"},
		{"zero runcount", func(c *Config) { c.Search.RuncountLimit = -1 }, "runcount_limit"},
		{"bad timeout", func(c *Config) { c.Search.EvalTimeout = "soon" }, "eval_timeout"},
		{"bad probability", func(c *Config) { c.Search.RandomProbability = 1.5 }, "random_probability"},
		{"bad strategy", func(c *Config) { c.Search.Convergence = &Convergence{Strategy: "never"} }, "convergence strategy"},
		{"bad algo", func(c *Config) { c.Search.Space = &Space{Algos: []string{"entropy"}} }, "invalid algo"},
		{"bad hist range", func(c *Config) {
			c.Search.Space = &Space{HistPercent: &FloatRange{Min: 0.99, Max: 0.98, Default: 0.99}}
		}, "hist_percent"},
		{"batch default outside range", func(c *Config) {
			c.Search.Space = &Space{BatchSize: &IntRange{Min: 10, Max: 30, Default: 5}}
		}, "batch_size default"},
		{"publish without bucket", func(c *Config) {
			c.Publish = &Publish{Enabled: true, Endpoint: "localhost:9000"}
		}, "publish.bucket"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := ParseConfigYAMLString(minimalYAML)
			if err != nil {
				t.Fatalf("ParseConfigYAMLString failed: %v", err)
			}
			tt.mutate(cfg)
			err = validateConfig(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

const minimalYAML = `
model:
  dir: model
output:
  path: best
data:
  calibration:
    type: tensor_file
    path: calib.bin
    shape: [1, 4]
  evaluation:
    type: tensor_file
    path: eval.bin
    shape: [1, 4]
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}
