package paths

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/gear6io/annolake/pkg/errors"
	"github.com/gear6io/annolake/utils"
)

const (
	InfoFileName  = "spec.json"
	StatsFileName = "stats.json"
	DBDirName     = "db"
	MediaDirName  = "media"

	// PartitionKey is the hive partition column used for every table
	PartitionKey = "split"
)

// Manager implements PathManager for one dataset directory
type Manager struct {
	basePath string
}

var _ PathManager = (*Manager)(nil)

// NewManager creates a path manager rooted at a dataset directory
func NewManager(basePath string) *Manager {
	return &Manager{
		basePath: basePath,
	}
}

// GetBasePath returns the dataset directory
func (pm *Manager) GetBasePath() string {
	return pm.basePath
}

// GetInfoFile returns the dataset info file path
func (pm *Manager) GetInfoFile() string {
	return filepath.Join(pm.basePath, InfoFileName)
}

// GetStatsFile returns the precomputed statistics file path
func (pm *Manager) GetStatsFile() string {
	return filepath.Join(pm.basePath, StatsFileName)
}

// GetMediaPath returns the managed media directory
func (pm *Manager) GetMediaPath() string {
	return filepath.Join(pm.basePath, MediaDirName)
}

// GetDBPath returns the directory holding all tables
func (pm *Manager) GetDBPath() string {
	return filepath.Join(pm.basePath, DBDirName)
}

// GetTablePath returns the directory of one table
func (pm *Manager) GetTablePath(table string) string {
	return filepath.Join(pm.GetDBPath(), table)
}

// GetPartitionPath returns the directory of one split partition
func (pm *Manager) GetPartitionPath(table, split string) string {
	return filepath.Join(pm.GetTablePath(table), PartitionDirName(split))
}

// GetPartFilePattern returns a glob matching every part file of a partition
func (pm *Manager) GetPartFilePattern(table, split string) string {
	return filepath.Join(pm.GetPartitionPath(table, split), "part-*.parquet")
}

// NewPartFilePath returns a fresh, lexically increasing part file path
func (pm *Manager) NewPartFilePath(table, split string) string {
	name := "part-" + strings.ToLower(utils.GenerateULIDString()) + ".parquet"
	return filepath.Join(pm.GetPartitionPath(table, split), name)
}

// EnsureDirectoryStructure creates db/ and media/
func (pm *Manager) EnsureDirectoryStructure() error {
	for _, dir := range []string{pm.GetDBPath(), pm.GetMediaPath()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.New(ErrDirectoryCreationFailed, "failed to create dataset directory", err).AddContext("path", dir)
		}
	}
	return nil
}

// PartitionDirName returns the hive directory name for a split
func PartitionDirName(split string) string {
	return PartitionKey + "=" + split
}

// ParsePartitionDirName extracts the split from a hive directory name
func ParsePartitionDirName(name string) (string, bool) {
	prefix := PartitionKey + "="
	if !strings.HasPrefix(name, prefix) || len(name) == len(prefix) {
		return "", false
	}
	return name[len(prefix):], true
}

// ValidateName rejects names that cannot be used as a single path element
func ValidateName(kind, name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.Contains(name, "=") {
		return errors.New(ErrInvalidName, "invalid "+kind+" name", nil).AddContext(kind, name)
	}
	return nil
}
