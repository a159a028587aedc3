package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/gear6io/annolake/pkg/errors"
	"github.com/gear6io/annolake/server/schema"
	"github.com/gear6io/annolake/server/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()

	r := schema.NewRegistry()
	_, err := r.Declare(schema.GroupMain, "db", schema.Fields{
		{Name: "id", Type: schema.TypeString},
		{Name: "split", Type: schema.TypeString},
		{Name: "views", Type: schema.TypeStringList},
		{Name: "score", Type: schema.TypeNumber},
	}, "")
	require.NoError(t, err)
	_, err = r.Declare(schema.GroupMedia, "image", schema.Fields{
		{Name: "id", Type: schema.TypeString},
		{Name: "image", Type: schema.TypeImage},
	}, "")
	require.NoError(t, err)
	_, err = r.Declare(schema.GroupObjects, "objects", schema.Fields{
		{Name: "id", Type: schema.TypeString},
		{Name: "item_id", Type: schema.TypeString},
		{Name: "bbox", Type: schema.TypeBBox},
		{Name: "category", Type: schema.TypeString},
		{Name: "category_id", Type: schema.TypeInt},
	}, "")
	require.NoError(t, err)
	_, err = r.Declare(schema.GroupEmbeddings, "clip", schema.Fields{
		{Name: "id", Type: schema.TypeString},
		{Name: "vector", Type: schema.TypeEmbedding},
	}, "")
	require.NoError(t, err)
	return r
}

func openTestHandle(t *testing.T, dir string, r *schema.Registry) *Handle {
	t.Helper()
	h, err := Open(dir, r)
	require.NoError(t, err)
	return h
}

func mainRow(id, split string) Row {
	return Row{"id": id, "split": split, "views": []string{"image"}, "score": 0.5}
}

func objectRow(id, itemID, category string) Row {
	return Row{
		"id":          id,
		"item_id":     itemID,
		"bbox":        types.BBox{Coords: []float64{0.1, 0.2, 0.3, 0.4}, Format: types.FormatXYXY, IsNormalized: true},
		"category":    category,
		"category_id": 3,
	}
}

func itemIDs(rows []Row, key string) []string {
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.String(key))
	}
	sort.Strings(ids)
	return ids
}

func TestWriteRowsAndReadBack(t *testing.T) {
	h := openTestHandle(t, t.TempDir(), testRegistry(t))

	require.NoError(t, h.WriteRows(schema.GroupMain, "db", []Row{mainRow("a", "train"), mainRow("b", "train")}, "train"))
	require.NoError(t, h.WriteRows(schema.GroupMain, "db", []Row{mainRow("c", "val")}, "val"))
	require.NoError(t, h.WriteRows(schema.GroupMedia, "image", []Row{
		{"id": "a", "image": types.Image{URI: "a.png", Preview: []byte{1, 2, 3}}},
		{"id": "b", "image": types.Image{URI: "b.png"}},
	}, "train"))
	require.NoError(t, h.WriteRows(schema.GroupObjects, "objects", []Row{objectRow("o1", "a", "plane")}, "train"))
	require.NoError(t, h.WriteRows(schema.GroupEmbeddings, "clip", []Row{
		{"id": "a", "vector": []float32{1, 2, 3}},
	}, "train"))

	t.Run("AllSplits", func(t *testing.T) {
		rows, err := h.ReadTable(schema.GroupMain, "db", Filter{})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, itemIDs(rows, "id"))
	})

	t.Run("SplitFilter", func(t *testing.T) {
		rows, err := h.ReadTable(schema.GroupMain, "db", Filter{Split: "val"})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "c", rows[0]["id"])
		assert.Equal(t, []string{"image"}, rows[0]["views"])
		assert.Equal(t, 0.5, rows[0]["score"])
	})

	t.Run("UnknownSplitIsEmpty", func(t *testing.T) {
		rows, err := h.ReadTable(schema.GroupMain, "db", Filter{Split: "test"})
		require.NoError(t, err)
		assert.Empty(t, rows)
	})

	t.Run("Media", func(t *testing.T) {
		rows, err := h.Lookup(schema.GroupMedia, "image", "a")
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, types.Image{URI: "a.png", Preview: []byte{1, 2, 3}}, rows[0]["image"])
		assert.Equal(t, "train", rows[0].Split())

		rows, err = h.Lookup(schema.GroupMedia, "image", "b")
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Nil(t, rows[0]["image"].(types.Image).Preview)
	})

	t.Run("Objects", func(t *testing.T) {
		rows, err := h.Lookup(schema.GroupObjects, "objects", "a")
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "o1", rows[0]["id"])
		assert.Equal(t, int64(3), rows[0]["category_id"])
		box := rows[0]["bbox"].(types.BBox)
		assert.Equal(t, []float64{0.1, 0.2, 0.3, 0.4}, box.Coords)
		assert.Equal(t, types.FormatXYXY, box.Format)
		assert.True(t, box.IsNormalized)
	})

	t.Run("Embeddings", func(t *testing.T) {
		rows, err := h.Lookup(schema.GroupEmbeddings, "clip", "a")
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, []float32{1, 2, 3}, rows[0]["vector"])
	})

	t.Run("Splits", func(t *testing.T) {
		splits, err := h.Splits(schema.GroupMain, "db")
		require.NoError(t, err)
		assert.Equal(t, []string{"train", "val"}, splits)

		tables, err := h.Tables()
		require.NoError(t, err)
		assert.Equal(t, []string{"clip", "db", "image", "objects"}, tables)
	})

	t.Run("ReopenedHandle", func(t *testing.T) {
		other := openTestHandle(t, h.Paths().GetBasePath(), h.Registry())
		rows, err := other.ReadTable(schema.GroupMain, "db", Filter{})
		require.NoError(t, err)
		assert.Len(t, rows, 3)
	})
}

func TestWriteRowsValidation(t *testing.T) {
	h := openTestHandle(t, t.TempDir(), testRegistry(t))

	t.Run("UnknownTable", func(t *testing.T) {
		err := h.WriteRows(schema.GroupObjects, "missing", []Row{{"id": "x", "item_id": "a"}}, "train")
		assert.True(t, errors.Is(err, schema.SchemaNotFound))
	})

	t.Run("MissingItemKey", func(t *testing.T) {
		err := h.WriteRows(schema.GroupObjects, "objects", []Row{{"id": "x"}}, "train")
		assert.True(t, errors.Is(err, ErrInvalidRow))
	})

	t.Run("TypeMismatch", func(t *testing.T) {
		err := h.WriteRows(schema.GroupMain, "db", []Row{{"id": "a", "score": "high"}}, "train")
		assert.True(t, errors.Is(err, ErrTypeMismatch))
	})

	t.Run("InvalidSplit", func(t *testing.T) {
		err := h.WriteRows(schema.GroupMain, "db", []Row{mainRow("a", "../x")}, "../x")
		assert.True(t, errors.Is(err, ErrSplitUnknown))
	})

	t.Run("NothingWritten", func(t *testing.T) {
		rows, err := h.ReadTable(schema.GroupMain, "db", Filter{})
		require.NoError(t, err)
		assert.Empty(t, rows)
	})
}

func TestOpenRejectsUnknownCompression(t *testing.T) {
	_, err := Open(t.TempDir(), testRegistry(t), WithCompression("rar"))
	assert.True(t, errors.Is(err, ErrUnsupportedCodec))

	for _, codec := range []string{"snappy", "zstd", "gzip", "none"} {
		h, err := Open(t.TempDir(), testRegistry(t), WithCompression(codec))
		require.NoError(t, err, codec)
		require.NoError(t, h.WriteRows(schema.GroupMain, "db", []Row{mainRow("a", "train")}, "train"), codec)
		rows, err := h.ReadTable(schema.GroupMain, "db", Filter{})
		require.NoError(t, err, codec)
		assert.Len(t, rows, 1, codec)
	}
}

func TestCorruptPartFile(t *testing.T) {
	h := openTestHandle(t, t.TempDir(), testRegistry(t))
	require.NoError(t, h.WriteRows(schema.GroupMain, "db", []Row{mainRow("a", "train")}, "train"))

	dir := h.Paths().GetPartitionPath("db", "val")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "part-broken.parquet"), []byte("not parquet"), 0644))

	t.Run("PrunedSplitIsNeverOpened", func(t *testing.T) {
		rows, err := h.ReadTable(schema.GroupMain, "db", Filter{Split: "train"})
		require.NoError(t, err)
		assert.Len(t, rows, 1)
	})

	t.Run("FullScanFails", func(t *testing.T) {
		_, err := h.Scan(schema.GroupMain, "db", Filter{})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrStorageCorruption))
		assert.Contains(t, errors.GetContext(err)["path"], "part-broken.parquet")
	})
}

func TestCacheSeesWrites(t *testing.T) {
	h := openTestHandle(t, t.TempDir(), testRegistry(t))
	require.NoError(t, h.WriteRows(schema.GroupMain, "db", []Row{mainRow("a", "train")}, "train"))

	rows, err := h.ReadTable(schema.GroupMain, "db", Filter{Split: "train"})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	require.NoError(t, h.WriteRows(schema.GroupMain, "db", []Row{mainRow("b", "train")}, "train"))

	rows, err = h.ReadTable(schema.GroupMain, "db", Filter{Split: "train"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, itemIDs(rows, "id"))

	// Changes made behind the handle's back need an explicit invalidation
	other := openTestHandle(t, h.Paths().GetBasePath(), h.Registry())
	require.NoError(t, other.WriteRows(schema.GroupMain, "db", []Row{mainRow("c", "train")}, "train"))

	rows, err = h.ReadTable(schema.GroupMain, "db", Filter{Split: "train"})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	h.Invalidate()
	rows, err = h.ReadTable(schema.GroupMain, "db", Filter{Split: "train"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, itemIDs(rows, "id"))
}

func TestScanStopsEarly(t *testing.T) {
	h := openTestHandle(t, t.TempDir(), testRegistry(t))
	require.NoError(t, h.WriteRows(schema.GroupMain, "db", []Row{mainRow("a", "train"), mainRow("b", "train"), mainRow("c", "train")}, "train"))

	seq, err := h.Scan(schema.GroupMain, "db", Filter{})
	require.NoError(t, err)

	n := 0
	for range seq {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}

func TestReplaceItem(t *testing.T) {
	h := openTestHandle(t, t.TempDir(), testRegistry(t))
	require.NoError(t, h.WriteRows(schema.GroupMain, "db", []Row{mainRow("a", "train"), mainRow("b", "train")}, "train"))
	require.NoError(t, h.WriteRows(schema.GroupObjects, "objects", []Row{
		objectRow("o1", "a", "plane"),
		objectRow("o2", "a", "ship"),
		objectRow("o3", "b", "plane"),
	}, "train"))

	t.Run("SameSplit", func(t *testing.T) {
		batch := RowsByTable{}
		batch.Add(schema.GroupObjects, "objects", objectRow("o4", "a", "harbor"))
		require.NoError(t, h.ReplaceItem("a", batch))

		rows, err := h.Lookup(schema.GroupObjects, "objects", "a")
		require.NoError(t, err)
		assert.Equal(t, []string{"o4"}, itemIDs(rows, "id"))

		rows, err = h.Lookup(schema.GroupObjects, "objects", "b")
		require.NoError(t, err)
		assert.Equal(t, []string{"o3"}, itemIDs(rows, "id"))

		// one file per rewritten partition
		files, err := listPartFiles(h.Paths().GetPartitionPath("objects", "train"))
		require.NoError(t, err)
		assert.Len(t, files, 1)
	})

	t.Run("MoveSplit", func(t *testing.T) {
		batch := RowsByTable{}
		batch.Add(schema.GroupMain, "db", mainRow("a", "val"))
		batch.Add(schema.GroupObjects, "objects", objectRow("o5", "", "plane"))
		require.NoError(t, h.ReplaceItem("a", batch))

		train, err := h.ReadTable(schema.GroupMain, "db", Filter{Split: "train"})
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, itemIDs(train, "id"))

		val, err := h.ReadTable(schema.GroupMain, "db", Filter{Split: "val"})
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, itemIDs(val, "id"))

		objects, err := h.ReadTable(schema.GroupObjects, "objects", Filter{Split: "val"})
		require.NoError(t, err)
		require.Len(t, objects, 1)
		assert.Equal(t, "a", objects[0]["item_id"])
	})

	t.Run("EmptyRowsDeleteItem", func(t *testing.T) {
		batch := RowsByTable{}
		batch[schema.GroupObjects] = map[string][]Row{"objects": nil}
		require.NoError(t, h.ReplaceItem("a", batch))

		rows, err := h.Lookup(schema.GroupObjects, "objects", "a")
		require.NoError(t, err)
		assert.Empty(t, rows)

		// the val partition held only item a
		_, err = os.Stat(h.Paths().GetPartitionPath("objects", "val"))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("ForeignRow", func(t *testing.T) {
		batch := RowsByTable{}
		batch.Add(schema.GroupObjects, "objects", objectRow("o6", "b", "plane"))
		err := h.ReplaceItem("a", batch)
		assert.True(t, errors.Is(err, ErrInvalidRow))
	})

	t.Run("UnknownItemWithoutSplit", func(t *testing.T) {
		batch := RowsByTable{}
		batch.Add(schema.GroupObjects, "objects", objectRow("o7", "zzz", "plane"))
		err := h.ReplaceItem("zzz", batch)
		assert.True(t, errors.Is(err, ErrSplitUnknown))
	})
}

func TestReplaceItemKeepsUndeclaredColumns(t *testing.T) {
	dir := t.TempDir()

	wide := schema.NewRegistry()
	_, err := wide.Declare(schema.GroupMain, "db", schema.Fields{
		{Name: "id", Type: schema.TypeString},
		{Name: "split", Type: schema.TypeString},
		{Name: "weather", Type: schema.TypeString},
	}, "")
	require.NoError(t, err)

	writer := openTestHandle(t, dir, wide)
	require.NoError(t, writer.WriteRows(schema.GroupMain, "db", []Row{
		{"id": "a", "split": "train", "weather": "sunny"},
		{"id": "b", "split": "train", "weather": "rain"},
	}, "train"))

	narrow := schema.NewRegistry()
	_, err = narrow.Declare(schema.GroupMain, "db", schema.Fields{
		{Name: "id", Type: schema.TypeString},
		{Name: "split", Type: schema.TypeString},
	}, "")
	require.NoError(t, err)

	h := openTestHandle(t, dir, narrow)
	columns, err := h.Columns(schema.GroupMain, "db")
	require.NoError(t, err)
	names := make([]string, 0, len(columns))
	for _, c := range columns {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"id", "split", "weather"}, names)

	batch := RowsByTable{}
	batch.Add(schema.GroupMain, "db", Row{"id": "a", "split": "train"})
	require.NoError(t, h.ReplaceItem("a", batch))

	rows, err := h.Lookup(schema.GroupMain, "db", "b")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "rain", rows[0]["weather"])
}

func TestConcurrentReadsAndWrites(t *testing.T) {
	h := openTestHandle(t, t.TempDir(), testRegistry(t))
	require.NoError(t, h.WriteRows(schema.GroupMain, "db", []Row{mainRow("seed", "train")}, "train"))

	const writers = 4
	const perWriter = 5

	var wg sync.WaitGroup
	errs := make(chan error, 64)

	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				id := fmt.Sprintf("w%d-%d", w, i)
				if err := h.WriteRows(schema.GroupMain, "db", []Row{mainRow(id, "train")}, "train"); err != nil {
					errs <- err
					return
				}
			}
		}(w)
	}

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				rows, err := h.ReadTable(schema.GroupMain, "db", Filter{Split: "train"})
				if err != nil {
					errs <- err
					return
				}
				if len(rows) < 1 {
					errs <- fmt.Errorf("lost seed row")
					return
				}
			}
		}()
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}

	rows, err := h.ReadTable(schema.GroupMain, "db", Filter{Split: "train"})
	require.NoError(t, err)
	assert.Len(t, rows, 1+writers*perWriter)
}

func TestPartFilesAppearWhole(t *testing.T) {
	h := openTestHandle(t, t.TempDir(), testRegistry(t))
	dir := h.Paths().GetPartitionPath("db", "train")
	require.NoError(t, os.MkdirAll(dir, 0755))

	// an interrupted write leaves only a temporary file behind
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".tmp-interrupted.parquet"), []byte("partial"), 0644))

	require.NoError(t, h.WriteRows(schema.GroupMain, "db", []Row{mainRow("a", "train")}, "train"))
	rows, err := h.ReadTable(schema.GroupMain, "db", Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, itemIDs(rows, "id"))

	parts, err := filepath.Glob(h.Paths().GetPartFilePattern("db", "train"))
	require.NoError(t, err)
	assert.Len(t, parts, 1)
}

func TestConcurrentReadsAndReplaces(t *testing.T) {
	h := openTestHandle(t, t.TempDir(), testRegistry(t))
	for i := 0; i < 4; i++ {
		require.NoError(t, h.WriteRows(schema.GroupMain, "db", []Row{mainRow(fmt.Sprintf("item-%d", i), "train")}, "train"))
	}

	var wg sync.WaitGroup
	errs := make(chan error, 64)

	for w := 0; w < 2; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				id := fmt.Sprintf("item-%d", (w+i)%4)
				rows := RowsByTable{}
				rows.Add(schema.GroupMain, "db", mainRow(id, "train"))
				if err := h.ReplaceItem(id, rows); err != nil {
					errs <- err
					return
				}
			}
		}(w)
	}

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				h.Invalidate()
				rows, err := h.ReadTable(schema.GroupMain, "db", Filter{})
				if err != nil {
					errs <- err
					return
				}
				if len(rows) != 4 {
					errs <- fmt.Errorf("read %d rows, want 4", len(rows))
					return
				}
			}
		}()
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}

func TestRemoveItems(t *testing.T) {
	h := openTestHandle(t, t.TempDir(), testRegistry(t))
	require.NoError(t, h.WriteRows(schema.GroupObjects, "objects", []Row{
		objectRow("o1", "a", "plane"),
		objectRow("o2", "b", "ship"),
		objectRow("o3", "c", "plane"),
	}, "train"))
	require.NoError(t, h.WriteRows(schema.GroupObjects, "objects", []Row{objectRow("o4", "a", "ship")}, "val"))

	require.NoError(t, h.RemoveItems(schema.GroupObjects, "objects", "train", []string{"a", "c", "missing"}))

	train, err := h.ReadTable(schema.GroupObjects, "objects", Filter{Split: "train"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, itemIDs(train, "item_id"))

	val, err := h.ReadTable(schema.GroupObjects, "objects", Filter{Split: "val"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, itemIDs(val, "item_id"))

	t.Run("LastItemRemovesPartition", func(t *testing.T) {
		require.NoError(t, h.RemoveItems(schema.GroupObjects, "objects", "val", []string{"a"}))
		splits, err := h.Splits(schema.GroupObjects, "objects")
		require.NoError(t, err)
		assert.Equal(t, []string{"train"}, splits)
	})

	t.Run("UnknownTable", func(t *testing.T) {
		err := h.RemoveItems(schema.GroupObjects, "missing", "train", []string{"a"})
		assert.True(t, errors.Is(err, schema.SchemaNotFound))
	})
}
