package config

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"

	"github.com/Brownie44l1/lesion-api/internal/logging"
	"github.com/Brownie44l1/lesion-api/internal/preprocess"
)

type Config struct {
	Addr        string         `json:"addr"`
	Model       ModelConfig    `json:"model"`
	MaxUploadMB int64          `json:"max_upload_mb"`
	CacheSize   int            `json:"cache_size"`
	CORSOrigins []string       `json:"cors_origins"`
	Log         logging.Config `json:"log"`
}

type ModelConfig struct {
	Path         string `json:"path"`
	MetadataPath string `json:"metadata_path"`
	// RuntimeLibrary is the onnxruntime shared library to load.
	RuntimeLibrary string `json:"runtime_library"`
	Interpolation  string `json:"interpolation"`
}

const (
	DefaultModelPath    = "models/cancer_cnn_model.onnx"
	DefaultMetadataPath = "models/cancer_cnn_model.json"
	DefaultPort         = "8080"
)

func Default() *Config {
	return &Config{
		Model: ModelConfig{
			Path:          DefaultModelPath,
			MetadataPath:  DefaultMetadataPath,
			Interpolation: preprocess.DefaultInterpolation,
		},
		MaxUploadMB: 200,
		CacheSize:   128,
		Log:         logging.DefaultConfig(),
	}
}

// Load reads a YAML or JSON config file over the defaults. An empty path
// returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate fills zero values that have a sensible default and rejects the rest.
func (c *Config) Validate() error {
	if c.Addr == "" {
		port := os.Getenv("PORT")
		if port == "" {
			port = DefaultPort
		}
		c.Addr = ":" + port
	}
	if c.Model.Path == "" {
		return fmt.Errorf("model.path is required")
	}
	if _, err := preprocess.New(c.Model.Interpolation); err != nil {
		return fmt.Errorf("model.interpolation: %w", err)
	}
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("max_upload_mb must be positive")
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("cache_size must not be negative")
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	return nil
}

func (c *Config) MaxUploadBytes() int64 {
	return c.MaxUploadMB << 20
}
