package cli

import (
	"context"
	"os"
	"path/filepath"

	"github.com/gear6io/annolake/server/config"
	"github.com/gear6io/annolake/server/dataset"
	"github.com/gear6io/annolake/server/paths"
	"github.com/gear6io/annolake/server/storage"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "annolake",
	Short: "Store, compose and search computer-vision annotation datasets",
	Long: `annolake keeps annotated image datasets as partitioned columnar tables.

Datasets live in a library directory. Each dataset holds its metadata in
spec.json, its tables under db/ partitioned by split, its media under media/
and optional precomputed statistics in stats.json.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

type rootOptions struct {
	configFile string
	library    string
	format     string
	verbose    bool
}

var rootOpts = &rootOptions{}

func init() {
	rootCmd.PersistentFlags().StringVarP(&rootOpts.configFile, "config", "c", "", "path to the YAML configuration")
	rootCmd.PersistentFlags().StringVar(&rootOpts.library, "library", "", "library directory (overrides library.path)")
	rootCmd.PersistentFlags().StringVar(&rootOpts.format, "format", "auto", "output format: auto, table, json")
	rootCmd.PersistentFlags().BoolVarP(&rootOpts.verbose, "verbose", "v", false, "verbose output")
}

// Execute runs the root command
func Execute() error {
	return ExecuteWithContext(context.Background())
}

// ExecuteWithContext runs the root command; cancelling ctx stops long
// running imports and exports
func ExecuteWithContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// env is what every command needs: the configuration, a logger and the
// dataset library
type env struct {
	cfg     *config.Config
	logger  zerolog.Logger
	library *dataset.Library
	paths   *paths.Library
	display Display
	closer  func()
}

func loadEnv(_ *cobra.Command) (*env, error) {
	cfg := config.LoadDefaultConfig()
	if rootOpts.configFile != "" {
		loaded, err := config.LoadConfig(rootOpts.configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if rootOpts.library != "" {
		cfg.Library.Path = rootOpts.library
	}
	if rootOpts.verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, logManager, err := config.SetupLogger(cfg)
	if err != nil {
		return nil, err
	}

	lib := paths.NewLibrary(cfg.GetLibraryPath(), cfg.Library.ModelsDir)
	e := &env{
		cfg:     cfg,
		logger:  logger,
		library: dataset.NewLibrary(lib, logger),
		paths:   lib,
		display: NewDisplay(rootOpts.format),
		closer:  func() {},
	}
	if logManager != nil {
		e.closer = func() { _ = logManager.Close() }
	}
	return e, nil
}

func (e *env) close() {
	e.closer()
}

func (e *env) storageOptions() []storage.Option {
	return []storage.Option{
		storage.WithLogger(e.logger),
		storage.WithCompression(e.cfg.Storage.Compression),
	}
}

// openDataset opens a dataset by directory name inside the library, or by id
func (e *env) openDataset(ref string) (*dataset.Dataset, error) {
	dir := e.paths.GetDatasetPath(ref)
	if _, err := os.Stat(paths.NewManager(dir).GetInfoFile()); err == nil {
		return dataset.Open(dir, e.logger, e.storageOptions()...)
	}
	if abs, err := filepath.Abs(ref); err == nil {
		if _, err := os.Stat(paths.NewManager(abs).GetInfoFile()); err == nil {
			return dataset.Open(abs, e.logger, e.storageOptions()...)
		}
	}
	return e.library.Open(ref, e.storageOptions()...)
}
