package paths

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gear6io/annolake/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathManager(t *testing.T) {
	pm := NewManager("/tmp/lib/coco")
	require.NotNil(t, pm)

	t.Run("DatasetFiles", func(t *testing.T) {
		assert.Equal(t, "/tmp/lib/coco", pm.GetBasePath())
		assert.Equal(t, "/tmp/lib/coco/spec.json", pm.GetInfoFile())
		assert.Equal(t, "/tmp/lib/coco/stats.json", pm.GetStatsFile())
		assert.Equal(t, "/tmp/lib/coco/media", pm.GetMediaPath())
		assert.Equal(t, "/tmp/lib/coco/db", pm.GetDBPath())
	})

	t.Run("TablePaths", func(t *testing.T) {
		assert.Equal(t, "/tmp/lib/coco/db/objects", pm.GetTablePath("objects"))
		assert.Equal(t, "/tmp/lib/coco/db/objects/split=val", pm.GetPartitionPath("objects", "val"))
		assert.Equal(t, "/tmp/lib/coco/db/objects/split=val/part-*.parquet", pm.GetPartFilePattern("objects", "val"))
	})

	t.Run("PartFilesAreOrdered", func(t *testing.T) {
		a := pm.NewPartFilePath("db", "train")
		b := pm.NewPartFilePath("db", "train")
		assert.True(t, strings.HasPrefix(filepath.Base(a), "part-"))
		assert.Less(t, a, b)
	})
}

func TestPartitionDirName(t *testing.T) {
	assert.Equal(t, "split=train", PartitionDirName("train"))

	split, ok := ParsePartitionDirName("split=test")
	assert.True(t, ok)
	assert.Equal(t, "test", split)

	_, ok = ParsePartitionDirName("split=")
	assert.False(t, ok)
	_, ok = ParsePartitionDirName("train")
	assert.False(t, ok)
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("split", "train"))
	for _, bad := range []string{"", ".", "..", "a/b", `a\b`, "k=v"} {
		assert.True(t, errors.Is(ValidateName("split", bad), ErrInvalidName), bad)
	}
}

func TestEnsureDirectoryStructure(t *testing.T) {
	pm := NewManager(filepath.Join(t.TempDir(), "ds"))
	require.NoError(t, pm.EnsureDirectoryStructure())

	for _, dir := range []string{pm.GetDBPath(), pm.GetMediaPath()} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestLibrary(t *testing.T) {
	lib := NewLibrary("/srv/library", "")
	assert.Equal(t, "/srv/library/models", lib.GetModelsPath())
	assert.Equal(t, "/srv/library/coco", lib.GetDatasetPath("coco"))
	assert.Equal(t, "/srv/library/coco/spec.json", lib.Dataset("coco").GetInfoFile())

	abs := NewLibrary("/srv/library", "/opt/models")
	assert.Equal(t, "/opt/models", abs.GetModelsPath())
}
