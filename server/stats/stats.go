// Package stats reads the precomputed statistics stored next to a dataset.
// Statistics are produced offline; this package only loads and persists them.
package stats

import (
	"encoding/json"
	"os"

	"github.com/gear6io/annolake/pkg/errors"
	"github.com/gear6io/annolake/server/paths"
)

// StatType tells how a histogram is binned
type StatType string

const (
	Numerical   StatType = "numerical"
	Categorical StatType = "categorical"
)

// DatasetStat is one precomputed histogram. Numerical bins carry bin_start,
// bin_end, counts and split; categorical bins carry the category under the
// stat name plus counts and split.
type DatasetStat struct {
	Name      string           `json:"name"`
	Type      StatType         `json:"type"`
	Histogram []map[string]any `json:"histogram"`
	Range     []float64        `json:"range,omitempty"`
}

// Load reads stats.json from a dataset directory. A missing file means the
// dataset has no statistics.
func Load(datasetPath string) ([]DatasetStat, error) {
	path := paths.NewManager(datasetPath).GetStatsFile()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []DatasetStat{}, nil
		}
		return nil, errors.New(ErrReadFailed, "failed to read stats file", err).AddContext("path", path)
	}

	var stats []DatasetStat
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, errors.New(ErrMalformed, "failed to parse stats file", err).AddContext("path", path)
	}

	for i, s := range stats {
		if s.Name == "" {
			return nil, errors.New(ErrMalformed, "stat has no name", nil).AddContext("path", path)
		}
		if s.Type != Numerical && s.Type != Categorical {
			return nil, errors.New(ErrMalformed, "unknown stat type", nil).
				AddContext("path", path).
				AddContext("stat", s.Name).
				AddContext("type", string(s.Type))
		}
		if s.Histogram == nil {
			stats[i].Histogram = []map[string]any{}
		}
	}
	if stats == nil {
		stats = []DatasetStat{}
	}
	return stats, nil
}

// Save writes stats.json into a dataset directory
func Save(datasetPath string, stats []DatasetStat) error {
	path := paths.NewManager(datasetPath).GetStatsFile()

	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return errors.New(ErrWriteFailed, "failed to encode stats", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.New(ErrWriteFailed, "failed to write stats file", err).AddContext("path", path)
	}
	return nil
}

// Find returns the stat with the given name
func Find(stats []DatasetStat, name string) (DatasetStat, bool) {
	for _, s := range stats {
		if s.Name == name {
			return s, true
		}
	}
	return DatasetStat{}, false
}
