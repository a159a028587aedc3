package search

import (
	"cmp"
	"context"
	"slices"
	"strconv"
	"strings"

	"github.com/gear6io/annolake/pkg/errors"
	"github.com/gear6io/annolake/server/item"
	"github.com/gear6io/annolake/server/schema"
	"github.com/gear6io/annolake/server/storage"
	"github.com/rs/zerolog"
)

// Query is a similarity query. Only vector queries can be answered; text
// would need the model itself.
type Query struct {
	Vector []float32 `json:"vector,omitempty"`
	Text   string    `json:"text,omitempty"`
}

// Result is one ranked item
type Result struct {
	ItemID   string  `json:"item_id"`
	Distance float64 `json:"distance"`
}

// Option configures an Engine
type Option func(*Engine)

// WithMetric sets the distance metric
func WithMetric(m Metric) Option {
	return func(e *Engine) { e.metric = m }
}

// WithLogger sets the engine logger
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// Engine ranks the items of a dataset by the distance of their stored
// embeddings to a query vector. It scans the embedding table on every call.
type Engine struct {
	reader storage.Reader
	metric Metric
	logger zerolog.Logger
}

// NewEngine creates a search engine over a dataset reader
func NewEngine(reader storage.Reader, opts ...Option) *Engine {
	e := &Engine{reader: reader, metric: MetricL2, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Metric returns the engine metric
func (e *Engine) Metric() Metric {
	return e.metric
}

// Search returns the topK items closest to the query, ascending by distance
// with ties broken by item id. Items with several vectors rank by their
// closest one. A non-positive topK returns every item.
func (e *Engine) Search(ctx context.Context, model string, query Query, topK int) ([]Result, error) {
	if len(query.Vector) == 0 {
		if strings.TrimSpace(query.Text) != "" {
			return nil, errors.New(ErrUnsupportedQuery, "text queries are not supported, pass a vector", nil).AddContext("model", model)
		}
		return nil, errors.New(ErrUnsupportedQuery, "empty query vector", nil).AddContext("model", model)
	}

	table, field, err := e.embeddingTable(model)
	if err != nil {
		return nil, err
	}

	rows, err := e.reader.Scan(schema.GroupEmbeddings, table.Name, storage.Filter{})
	if err != nil {
		return nil, err
	}

	dist := e.metric.Func()
	best := make(map[string]float64)
	scanned := 0
	for row := range rows {
		if scanned%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		scanned++

		id := row.String("id")
		vec, ok := row[field].([]float32)
		if id == "" || !ok || len(vec) == 0 {
			continue
		}
		if len(vec) != len(query.Vector) {
			return nil, errors.New(ErrDimensionMismatch, "query and stored vectors differ in length", nil).
				AddContext("model", model).
				AddContext("item_id", id).
				AddContext("query_dim", strconv.Itoa(len(query.Vector))).
				AddContext("stored_dim", strconv.Itoa(len(vec)))
		}

		d := dist(query.Vector, vec)
		if prev, seen := best[id]; !seen || d < prev {
			best[id] = d
		}
	}

	results := make([]Result, 0, len(best))
	for id, d := range best {
		results = append(results, Result{ItemID: id, Distance: d})
	}
	slices.SortFunc(results, func(a, b Result) int {
		if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
			return c
		}
		return strings.Compare(a.ItemID, b.ItemID)
	})
	if topK > 0 && topK < len(results) {
		results = results[:topK]
	}

	e.logger.Debug().
		Str("model", model).
		Str("metric", string(e.metric)).
		Int("scanned", scanned).
		Int("results", len(results)).
		Msg("Search completed")
	return results, nil
}

// SearchByItem uses the stored vector of an item as the query. The item
// itself is part of the results.
func (e *Engine) SearchByItem(ctx context.Context, model, itemID string, topK int) ([]Result, error) {
	vec, err := e.GetEmbedding(model, itemID)
	if err != nil {
		return nil, err
	}
	return e.Search(ctx, model, Query{Vector: vec}, topK)
}

// GetEmbedding returns the stored vector of an item for a model
func (e *Engine) GetEmbedding(model, itemID string) ([]float32, error) {
	table, field, err := e.embeddingTable(model)
	if err != nil {
		return nil, err
	}
	rows, err := e.reader.Lookup(schema.GroupEmbeddings, table.Name, itemID)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if vec, ok := row[field].([]float32); ok && len(vec) > 0 {
			return vec, nil
		}
	}
	return nil, errors.New(item.ErrItemNotFound, "item has no embedding for model", nil).
		AddContext("model", model).
		AddContext("item_id", itemID)
}

// embeddingTable finds the embedding table of a model by table name, then by
// source label
func (e *Engine) embeddingTable(model string) (schema.DatasetTable, string, error) {
	tables := e.reader.Registry().Tables(schema.GroupEmbeddings)
	idx := slices.IndexFunc(tables, func(t schema.DatasetTable) bool { return t.Name == model })
	if idx < 0 {
		idx = slices.IndexFunc(tables, func(t schema.DatasetTable) bool { return t.Source != "" && t.Source == model })
	}
	if idx >= 0 {
		for _, f := range tables[idx].Fields {
			if f.Type == schema.TypeEmbedding {
				return tables[idx], f.Name, nil
			}
		}
	}
	return schema.DatasetTable{}, "", errors.New(ErrEmbeddingsNotFound, "no embedding table for model", nil).AddContext("model", model)
}

// Items assembles the ranked items, each carrying its search distance
func Items(a *item.Assembler, results []Result) ([]*item.DatasetItem, error) {
	items := make([]*item.DatasetItem, 0, len(results))
	for _, r := range results {
		it, err := a.GetItem(r.ItemID)
		if err != nil {
			return nil, err
		}
		items = append(items, it.WithDistance(r.Distance))
	}
	return items, nil
}
