package dataset

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gear6io/annolake/pkg/errors"
	"github.com/gear6io/annolake/server/paths"
	"github.com/gear6io/annolake/server/stats"
	"github.com/gear6io/annolake/server/storage"
	"github.com/rs/zerolog"
)

// Entry is a dataset found in a library
type Entry struct {
	Dir  string
	Info *Info
}

// Library discovers datasets and models under a root directory
type Library struct {
	paths  *paths.Library
	logger zerolog.Logger
}

// NewLibrary creates a library
func NewLibrary(lib *paths.Library, logger zerolog.Logger) *Library {
	return &Library{paths: lib, logger: logger}
}

// List returns every valid dataset, sorted by directory name. Directories
// without a readable spec.json are skipped. With loadStats each info also
// carries its statistics.
func (l *Library) List(loadStats bool) ([]Entry, error) {
	root := l.paths.GetLibraryPath()

	dirs, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return []Entry{}, nil
		}
		return nil, errors.New(ErrDatasetNotFound, "failed to read library", err).AddContext("path", root)
	}

	entries := []Entry{}
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		dir := l.paths.GetDatasetPath(d.Name())
		if filepath.Clean(dir) == filepath.Clean(l.paths.GetModelsPath()) {
			continue
		}

		info, err := LoadInfo(dir)
		if err != nil {
			l.logger.Debug().Err(err).Str("dir", d.Name()).Msg("Skipping directory without a valid dataset")
			continue
		}

		if loadStats {
			s, err := stats.Load(dir)
			if err != nil {
				l.logger.Warn().Err(err).Str("dataset", info.Name).Msg("Failed to load dataset stats")
			} else {
				info.Stats = s
			}
		}

		entries = append(entries, Entry{Dir: dir, Info: info})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Dir < entries[j].Dir })
	return entries, nil
}

// Find returns the dataset with the given id
func (l *Library) Find(id string) (Entry, error) {
	entries, err := l.List(false)
	if err != nil {
		return Entry{}, err
	}
	for _, e := range entries {
		if e.Info.ID == id {
			return e, nil
		}
	}
	return Entry{}, errors.New(ErrDatasetNotFound, "dataset not found", nil).
		AddContext("id", id).
		AddContext("library", l.paths.GetLibraryPath())
}

// Open finds a dataset by id and opens it
func (l *Library) Open(id string, opts ...storage.Option) (*Dataset, error) {
	entry, err := l.Find(id)
	if err != nil {
		return nil, err
	}
	return Open(entry.Dir, l.logger, opts...)
}

// Models lists the model files in the models directory whose extension is
// one of exts, sorted by name
func (l *Library) Models(exts []string) ([]string, error) {
	dir := l.paths.GetModelsPath()

	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, errors.New(ErrDatasetNotFound, "failed to read models directory", err).AddContext("path", dir)
	}

	models := []string{}
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(f.Name()))
		for _, want := range exts {
			if ext == strings.ToLower(want) {
				models = append(models, f.Name())
				break
			}
		}
	}
	sort.Strings(models)
	return models, nil
}
