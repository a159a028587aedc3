package dataset

import (
	"encoding/json"
	"os"

	"github.com/gear6io/annolake/pkg/errors"
	"github.com/gear6io/annolake/server/paths"
	"github.com/gear6io/annolake/server/schema"
	"github.com/gear6io/annolake/server/stats"
	"github.com/gear6io/annolake/server/types"
	"github.com/gear6io/annolake/utils"
)

// Info describes a dataset. It is persisted as spec.json and carries the
// dataset's own table declarations.
type Info struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description"`
	NumElements int                 `json:"num_elements"`
	Preview     string              `json:"preview,omitempty"`
	Splits      []string            `json:"splits"`
	Tables      schema.Tables       `json:"tables"`
	Categories  []types.Category    `json:"categories,omitempty"`
	Stats       []stats.DatasetStat `json:"stats,omitempty"`
}

// Validate checks the fields every dataset needs
func (i *Info) Validate() error {
	if i.Name == "" {
		return errors.New(ErrInvalidInfo, "dataset has no name", nil)
	}
	for _, split := range i.Splits {
		if err := paths.ValidateName("split", split); err != nil {
			return errors.New(ErrInvalidInfo, "invalid split", err).AddContext("dataset", i.Name)
		}
	}
	if len(i.Tables[schema.GroupMain]) != 1 {
		return errors.New(ErrInvalidInfo, "dataset must declare exactly one main table", nil).AddContext("dataset", i.Name)
	}
	return nil
}

// LoadInfo reads spec.json from a dataset directory
func LoadInfo(dir string) (*Info, error) {
	path := paths.NewManager(dir).GetInfoFile()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(ErrDatasetNotFound, "dataset info not found", err).AddContext("path", path)
		}
		return nil, errors.New(ErrMalformedInfo, "failed to read dataset info", err).AddContext("path", path)
	}

	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, errors.New(ErrMalformedInfo, "failed to parse dataset info", err).AddContext("path", path)
	}
	if err := info.Validate(); err != nil {
		return nil, errors.New(ErrMalformedInfo, "invalid dataset info", err).AddContext("path", path)
	}
	return &info, nil
}

// SaveInfo writes spec.json into a dataset directory, assigning an id when
// the info has none. Stats are never persisted here.
func SaveInfo(dir string, info *Info) error {
	if info.ID == "" {
		info.ID = utils.NewDatasetID()
	}
	if err := info.Validate(); err != nil {
		return err
	}

	out := *info
	out.Stats = nil

	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return errors.New(ErrWriteFailed, "failed to encode dataset info", err)
	}

	path := paths.NewManager(dir).GetInfoFile()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.New(ErrWriteFailed, "failed to create dataset directory", err).AddContext("path", dir)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.New(ErrWriteFailed, "failed to write dataset info", err).AddContext("path", path)
	}
	return nil
}
