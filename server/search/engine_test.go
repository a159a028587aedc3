package search

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/gear6io/annolake/pkg/errors"
	"github.com/gear6io/annolake/server/item"
	"github.com/gear6io/annolake/server/schema"
	"github.com/gear6io/annolake/server/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *storage.Handle {
	t.Helper()

	r := schema.NewRegistry()
	_, err := r.Declare(schema.GroupMain, "db", schema.Fields{
		{Name: "id", Type: schema.TypeString},
		{Name: "views", Type: schema.TypeStringList},
		{Name: "split", Type: schema.TypeString},
	}, "")
	require.NoError(t, err)
	_, err = r.Declare(schema.GroupEmbeddings, "clip", schema.Fields{
		{Name: "id", Type: schema.TypeString},
		{Name: "image", Type: schema.TypeEmbedding},
	}, "CLIP")
	require.NoError(t, err)

	h, err := storage.Open(t.TempDir(), r)
	require.NoError(t, err)

	vectors := map[string][]float32{
		"a": {0, 0},
		"b": {1, 0},
		"c": {0, 1},
		"d": {3, 4},
	}
	for _, split := range []string{"train", "val"} {
		var mains, embs []storage.Row
		for id, vec := range vectors {
			if (split == "train") != (id == "a" || id == "b") {
				continue
			}
			mains = append(mains, storage.Row{"id": id, "views": []string{}})
			embs = append(embs, storage.Row{"id": id, "image": vec})
		}
		require.NoError(t, h.WriteRows(schema.GroupMain, "db", mains, split))
		require.NoError(t, h.WriteRows(schema.GroupEmbeddings, "clip", embs, split))
	}
	return h
}

func TestMetrics(t *testing.T) {
	assert.InDelta(t, 5.0, L2([]float32{0, 0}, []float32{3, 4}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 1}, []float32{2, 2}), 1e-9)
	assert.InDelta(t, 1.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, 2.0, Cosine([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Equal(t, 1.0, Cosine([]float32{0, 0}, []float32{1, 0}))

	m, err := ParseMetric("")
	require.NoError(t, err)
	assert.Equal(t, MetricL2, m)
	m, err = ParseMetric("Cosine")
	require.NoError(t, err)
	assert.Equal(t, MetricCosine, m)
	_, err = ParseMetric("dot")
	assert.True(t, errors.Is(err, ErrUnknownMetric))
}

func TestSearch(t *testing.T) {
	e := NewEngine(testStore(t))
	ctx := context.Background()

	t.Run("OrderedWithTies", func(t *testing.T) {
		results, err := e.Search(ctx, "clip", Query{Vector: []float32{0, 0}}, 3)
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.Equal(t, Result{ItemID: "a", Distance: 0}, results[0])
		// b and c are both at distance 1
		assert.Equal(t, "b", results[1].ItemID)
		assert.Equal(t, "c", results[2].ItemID)
		assert.InDelta(t, 1.0, results[2].Distance, 1e-9)
	})

	t.Run("TopKLargerThanTable", func(t *testing.T) {
		results, err := e.Search(ctx, "clip", Query{Vector: []float32{3, 4}}, 10)
		require.NoError(t, err)
		require.Len(t, results, 4)
		assert.Equal(t, "d", results[0].ItemID)
		assert.Equal(t, "a", results[3].ItemID)
	})

	t.Run("NonPositiveTopKReturnsAll", func(t *testing.T) {
		results, err := e.Search(ctx, "clip", Query{Vector: []float32{1, 1}}, 0)
		require.NoError(t, err)
		assert.Len(t, results, 4)
	})

	t.Run("BySourceLabel", func(t *testing.T) {
		results, err := e.Search(ctx, "CLIP", Query{Vector: []float32{1, 0}}, 1)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "b", results[0].ItemID)
	})

	t.Run("Cosine", func(t *testing.T) {
		ce := NewEngine(testStore(t), WithMetric(MetricCosine))
		results, err := ce.Search(ctx, "clip", Query{Vector: []float32{0, 2}}, 2)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "c", results[0].ItemID)
		assert.InDelta(t, 0.0, results[0].Distance, 1e-9)
		assert.Equal(t, "d", results[1].ItemID)
		assert.InDelta(t, 0.2, results[1].Distance, 1e-6)
	})
}

func TestSearchErrors(t *testing.T) {
	e := NewEngine(testStore(t))
	ctx := context.Background()

	_, err := e.Search(ctx, "dino", Query{Vector: []float32{0, 0}}, 3)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEmbeddingsNotFound))
	assert.Equal(t, "dino", errors.GetContext(err)["model"])

	_, err = e.Search(ctx, "clip", Query{Text: "a bear"}, 3)
	assert.True(t, errors.Is(err, ErrUnsupportedQuery))

	_, err = e.Search(ctx, "clip", Query{}, 3)
	assert.True(t, errors.Is(err, ErrUnsupportedQuery))

	_, err = e.Search(ctx, "clip", Query{Vector: []float32{0, 0, 0}}, 3)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = e.Search(cancelled, "clip", Query{Vector: []float32{0, 0}}, 3)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSearchCorruptEmbeddings(t *testing.T) {
	h := testStore(t)
	files, err := filepath.Glob(h.Paths().GetPartFilePattern("clip", "train"))
	require.NoError(t, err)
	require.NotEmpty(t, files)
	for _, f := range files {
		require.NoError(t, os.WriteFile(f, []byte("not parquet"), 0644))
	}
	h.Invalidate()

	e := NewEngine(h)
	_, err = e.Search(context.Background(), "clip", Query{Vector: []float32{0, 0}}, 3)
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrStorageCorruption))
	assert.False(t, errors.Is(err, ErrEmbeddingsNotFound))

	_, err = e.GetEmbedding("clip", "a")
	assert.True(t, errors.Is(err, storage.ErrStorageCorruption))
	assert.False(t, errors.Is(err, item.ErrItemNotFound))
}

func TestSearchMultipleRowsPerItem(t *testing.T) {
	h := testStore(t)
	require.NoError(t, h.WriteRows(schema.GroupEmbeddings, "clip", []storage.Row{
		{"id": "d", "image": []float32{0.5, 0}},
	}, "val"))

	results, err := NewEngine(h).Search(context.Background(), "clip", Query{Vector: []float32{0, 0}}, 0)
	require.NoError(t, err)
	require.Len(t, results, 4)
	assert.Equal(t, "a", results[0].ItemID)
	assert.Equal(t, "d", results[1].ItemID)
	assert.InDelta(t, 0.5, results[1].Distance, 1e-9)
}

func TestSearchByItemAndEmbedding(t *testing.T) {
	h := testStore(t)
	e := NewEngine(h)

	vec, err := e.GetEmbedding("clip", "d")
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 4}, vec)

	_, err = e.GetEmbedding("clip", "missing")
	assert.True(t, errors.Is(err, item.ErrItemNotFound))

	results, err := e.SearchByItem(context.Background(), "clip", "b", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "b", results[0].ItemID)
	assert.Equal(t, "a", results[1].ItemID)

	items, err := Items(item.NewAssembler(h), results)
	require.NoError(t, err)
	require.Len(t, items, 2)
	f, ok := items[1].Feature(item.SearchDistanceFeature)
	require.True(t, ok)
	assert.Equal(t, 1.0, f.Value)
}
