package storage

import (
	"fmt"
	"slices"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/gear6io/annolake/server/schema"
)

// maxLoadAttempts bounds how often a read retries a partition load that
// raced with a write
const maxLoadAttempts = 3

// tableState is the cache of one table. generation changes on every write.
// Loads hold the read lock while listing and decoding part files, so they
// never observe a partition a writer is rewriting; a load finished under an
// older generation is returned to its caller but never installed.
type tableState struct {
	mu         sync.RWMutex
	generation uint64
	partitions map[string]*partition
}

// partition is one decoded split directory. Rows are read-only once built.
type partition struct {
	split string
	rows  []Row
	index map[string][]int
	extra []arrow.Field
}

// loadResult is a decoded partition with the generation it was read at
type loadResult struct {
	partition  *partition
	generation uint64
}

func (h *Handle) state(table string) *tableState {
	h.mu.Lock()
	defer h.mu.Unlock()

	ts, ok := h.tables[table]
	if !ok {
		ts = &tableState{partitions: make(map[string]*partition)}
		h.tables[table] = ts
	}
	return ts
}

// partitions returns the partitions a split filter selects. Other split
// directories are never opened.
func (h *Handle) partitions(group schema.TableGroup, table schema.DatasetTable, split string) ([]*partition, error) {
	var splits []string
	if split != "" {
		if err := validateSplit(split); err != nil {
			return nil, err
		}
		splits = []string{split}
	} else {
		var err error
		if splits, err = h.Splits(group, table.Name); err != nil {
			return nil, err
		}
	}

	parts := make([]*partition, 0, len(splits))
	for _, s := range splits {
		p, err := h.partitionFor(group, table, s)
		if err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}
	return parts, nil
}

func (h *Handle) partitionFor(group schema.TableGroup, table schema.DatasetTable, split string) (*partition, error) {
	ts := h.state(table.Name)

	for attempt := 1; ; attempt++ {
		ts.mu.RLock()
		p, ok := ts.partitions[split]
		gen := ts.generation
		ts.mu.RUnlock()
		if ok {
			return p, nil
		}

		key := fmt.Sprintf("%s/%s@%d", table.Name, split, gen)
		v, err, _ := h.loads.Do(key, func() (any, error) {
			ts.mu.RLock()
			defer ts.mu.RUnlock()

			p, err := h.loadPartition(group, table, split)
			if err != nil {
				return nil, err
			}
			return loadResult{partition: p, generation: ts.generation}, nil
		})
		if err != nil {
			return nil, err
		}
		res := v.(loadResult)
		loaded := res.partition

		ts.mu.Lock()
		if ts.generation == res.generation {
			if existing, ok := ts.partitions[split]; ok {
				loaded = existing
			} else {
				ts.partitions[split] = loaded
			}
			ts.mu.Unlock()
			return loaded, nil
		}
		ts.mu.Unlock()

		if attempt == maxLoadAttempts {
			return loaded, nil
		}
	}
}

// loadPartition decodes every part file of a split and indexes the rows by
// item id
func (h *Handle) loadPartition(group schema.TableGroup, table schema.DatasetTable, split string) (*partition, error) {
	files, err := listPartFiles(h.paths.GetPartitionPath(table.Name, split))
	if err != nil {
		return nil, err
	}

	key := schema.ItemKey(group)
	p := &partition{
		split: split,
		index: make(map[string][]int),
	}

	for _, file := range files {
		rows, fileSchema, err := readPartFile(file, h.mem)
		if err != nil {
			return nil, err
		}

		for _, f := range fileSchema.Fields() {
			if f.Name == splitColumn || table.HasField(f.Name) {
				continue
			}
			if !slices.ContainsFunc(p.extra, func(g arrow.Field) bool { return g.Name == f.Name }) {
				p.extra = append(p.extra, f)
			}
		}

		for _, row := range rows {
			if row[splitColumn] == nil {
				row[splitColumn] = split
			}
			id := row.String(key)
			p.index[id] = append(p.index[id], len(p.rows))
			p.rows = append(p.rows, row)
		}
	}

	h.logger.Debug().
		Str("table", table.Name).
		Str("split", split).
		Int("files", len(files)).
		Int("rows", len(p.rows)).
		Msg("Loaded partition")
	return p, nil
}
