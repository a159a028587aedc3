// Package dataset ties a dataset directory to its declarations and store,
// and discovers datasets in a library.
package dataset

import (
	"os"

	"github.com/gear6io/annolake/pkg/errors"
	"github.com/gear6io/annolake/server/paths"
	"github.com/gear6io/annolake/server/schema"
	"github.com/gear6io/annolake/server/stats"
	"github.com/gear6io/annolake/server/storage"
	"github.com/rs/zerolog"
)

// Dataset is an opened dataset directory
type Dataset struct {
	Info     *Info
	Registry *schema.Registry
	Handle   *storage.Handle
	Paths    *paths.Manager

	logger zerolog.Logger
}

// Open opens an existing dataset
func Open(dir string, logger zerolog.Logger, opts ...storage.Option) (*Dataset, error) {
	info, err := LoadInfo(dir)
	if err != nil {
		return nil, err
	}
	return open(dir, info, logger, opts)
}

// Create writes spec.json and the directory layout for a new dataset and
// opens it. A directory that already holds a dataset or table data is
// refused with ErrDatasetExists.
func Create(dir string, info *Info, logger zerolog.Logger, opts ...storage.Option) (*Dataset, error) {
	pm := paths.NewManager(dir)
	if err := checkVacant(pm); err != nil {
		return nil, err
	}
	if err := pm.EnsureDirectoryStructure(); err != nil {
		return nil, err
	}
	if err := SaveInfo(dir, info); err != nil {
		return nil, err
	}
	return open(dir, info, logger, opts)
}

func checkVacant(pm *paths.Manager) error {
	if _, err := os.Stat(pm.GetInfoFile()); err == nil {
		return errors.New(ErrDatasetExists, "dataset already exists", nil).AddContext("path", pm.GetBasePath())
	}
	entries, err := os.ReadDir(pm.GetDBPath())
	if err != nil && !os.IsNotExist(err) {
		return errors.New(ErrWriteFailed, "failed to inspect dataset tables", err).AddContext("path", pm.GetDBPath())
	}
	if len(entries) > 0 {
		return errors.New(ErrDatasetExists, "dataset directory already holds tables", nil).AddContext("path", pm.GetDBPath())
	}
	return nil
}

func open(dir string, info *Info, logger zerolog.Logger, opts []storage.Option) (*Dataset, error) {
	registry, err := schema.NewRegistryFromTables(info.Tables)
	if err != nil {
		return nil, err
	}

	opts = append([]storage.Option{storage.WithLogger(logger)}, opts...)
	handle, err := storage.Open(dir, registry, opts...)
	if err != nil {
		return nil, err
	}

	return &Dataset{
		Info:     info,
		Registry: registry,
		Handle:   handle,
		Paths:    paths.NewManager(dir),
		logger:   logger,
	}, nil
}

// SaveInfo persists the current info
func (d *Dataset) SaveInfo() error {
	return SaveInfo(d.Paths.GetBasePath(), d.Info)
}

// Stats loads the dataset's precomputed statistics
func (d *Dataset) Stats() ([]stats.DatasetStat, error) {
	return stats.Load(d.Paths.GetBasePath())
}
