package config

import (
	"os"
	"strings"

	"github.com/gear6io/annolake/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the process configuration. It is built once (LoadConfig or
// LoadDefaultConfig) by the command entry point and passed explicitly to
// every component that needs it.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Library LibraryConfig `yaml:"library"`
	Storage StorageConfig `yaml:"storage"`
	Search  SearchConfig  `yaml:"search"`
	Import  ImportConfig  `yaml:"import"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`    // "json" or "console"
	FilePath string `yaml:"file_path"` // empty disables file logging
	Console  bool   `yaml:"console"`
	MaxSize  int    `yaml:"max_size"` // MB before the file is rotated
}

// LibraryConfig locates the dataset library
type LibraryConfig struct {
	Path            string   `yaml:"path"`
	ModelsDir       string   `yaml:"models_dir"`
	ModelExtensions []string `yaml:"model_extensions"`
}

// StorageConfig tunes the columnar store
type StorageConfig struct {
	Compression string `yaml:"compression"` // snappy, zstd, gzip, none
}

// SearchConfig tunes similarity search
type SearchConfig struct {
	Metric      string `yaml:"metric"` // l2 or cosine
	DefaultTopK int    `yaml:"default_top_k"`
}

// ImportConfig tunes importers
type ImportConfig struct {
	ThumbnailSize int  `yaml:"thumbnail_size"`
	CopyMedia     bool `yaml:"copy_media"`
}

// LoadDefaultConfig returns a default configuration
func LoadDefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Console: true,
			MaxSize: 100,
		},
		Library: LibraryConfig{
			Path:            "./library",
			ModelsDir:       "models",
			ModelExtensions: []string{".onnx"},
		},
		Storage: StorageConfig{
			Compression: "snappy",
		},
		Search: SearchConfig{
			Metric:      "l2",
			DefaultTopK: 20,
		},
		Import: ImportConfig{
			ThumbnailSize: 128,
			CopyMedia:     true,
		},
	}
}

// LoadConfig loads configuration from a file. Keys absent from the file
// keep their default values.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.New(ErrConfigFileReadFailed, "failed to read config file", err).AddContext("path", filename)
	}

	config := LoadDefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.New(ErrConfigFileParseFailed, "failed to parse config file", err).AddContext("path", filename)
	}

	if err := config.Validate(); err != nil {
		return nil, errors.New(ErrConfigValidationFailed, "configuration validation failed", err)
	}

	return config, nil
}

// SaveConfig saves configuration to a file
func SaveConfig(config *Config, filename string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return errors.New(ErrConfigFileMarshalFailed, "failed to marshal config", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return errors.New(ErrConfigFileWriteFailed, "failed to write config file", err).AddContext("path", filename)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Library.Path) == "" {
		return errors.New(ErrLibraryPathRequired, "library.path is required", nil)
	}

	switch strings.ToLower(c.Storage.Compression) {
	case "", "snappy", "zstd", "gzip", "none":
	default:
		return errors.New(ErrUnknownCompression, "unknown compression codec", nil).AddContext("compression", c.Storage.Compression)
	}

	switch strings.ToLower(c.Search.Metric) {
	case "", "l2", "cosine":
	default:
		return errors.New(ErrUnknownMetric, "unknown search metric", nil).AddContext("metric", c.Search.Metric)
	}

	if c.Import.ThumbnailSize < 0 {
		return errors.New(ErrInvalidThumbnailSize, "thumbnail_size must not be negative", nil)
	}

	return nil
}

// GetLibraryPath returns the dataset library root
func (c *Config) GetLibraryPath() string {
	return c.Library.Path
}
