package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gear6io/annolake/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := LoadDefaultConfig()

	assert.Equal(t, "./library", cfg.GetLibraryPath())
	assert.Equal(t, "snappy", cfg.Storage.Compression)
	assert.Equal(t, "l2", cfg.Search.Metric)
	assert.Equal(t, []string{".onnx"}, cfg.Library.ModelExtensions)
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidation(t *testing.T) {
	t.Run("EmptyLibraryPath", func(t *testing.T) {
		cfg := LoadDefaultConfig()
		cfg.Library.Path = " "
		assert.True(t, errors.Is(cfg.Validate(), ErrLibraryPathRequired))
	})

	t.Run("UnknownCompression", func(t *testing.T) {
		cfg := LoadDefaultConfig()
		cfg.Storage.Compression = "lzma"
		assert.True(t, errors.Is(cfg.Validate(), ErrUnknownCompression))
	})

	t.Run("UnknownMetric", func(t *testing.T) {
		cfg := LoadDefaultConfig()
		cfg.Search.Metric = "manhattan"
		assert.True(t, errors.Is(cfg.Validate(), ErrUnknownMetric))
	})
}

func TestLoadConfigKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "annolake.yml")
	require.NoError(t, os.WriteFile(path, []byte("library:\n  path: /data/library\nsearch:\n  metric: cosine\n"), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/data/library", cfg.GetLibraryPath())
	assert.Equal(t, "cosine", cfg.Search.Metric)
	assert.Equal(t, "snappy", cfg.Storage.Compression)
	assert.Equal(t, 128, cfg.Import.ThumbnailSize)
}

func TestSaveAndLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "annolake.yml")
	cfg := LoadDefaultConfig()
	cfg.Library.Path = "/srv/datasets"

	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yml"))
	assert.True(t, errors.Is(err, ErrConfigFileReadFailed))
}

func TestSetupLoggerWritesFile(t *testing.T) {
	cfg := LoadDefaultConfig()
	cfg.Log.Console = false
	cfg.Log.FilePath = filepath.Join(t.TempDir(), "logs", "annolake.log")

	logger, lm, err := SetupLogger(cfg)
	require.NoError(t, err)
	require.NotNil(t, lm)
	defer lm.Close()

	logger.Info().Str("dataset", "coco").Msg("opened")

	data, err := os.ReadFile(cfg.Log.FilePath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"dataset":"coco"`)
	assert.Contains(t, string(data), `"component":"annolake"`)
}
