package storage

import (
	"github.com/gear6io/annolake/server/paths"
	"github.com/gear6io/annolake/server/schema"
)

// Row is one table row keyed by column name. Values use one Go type per
// declared field type:
//
//	string      string
//	number      float64
//	int         int64
//	boolean     bool
//	string-list []string
//	image       types.Image
//	bbox        types.BBox
//	embedding   []float32
//
// Rows read back from disk also carry the partition column "split". Rows
// yielded by Scan are shared with the cache and must not be modified.
type Row map[string]any

// Clone returns a shallow copy
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// String returns a string column, or "" when absent or not a string
func (r Row) String(key string) string {
	s, _ := r[key].(string)
	return s
}

// Split returns the partition the row belongs to
func (r Row) Split() string {
	return r.String(splitColumn)
}

// RowsByTable groups rows by table group and table name
type RowsByTable map[schema.TableGroup]map[string][]Row

// Add appends rows for a table
func (b RowsByTable) Add(group schema.TableGroup, table string, rows ...Row) {
	tables, ok := b[group]
	if !ok {
		tables = make(map[string][]Row)
		b[group] = tables
	}
	tables[table] = append(tables[table], rows...)
}

// Len returns the total row count
func (b RowsByTable) Len() int {
	n := 0
	for _, tables := range b {
		for _, rows := range tables {
			n += len(rows)
		}
	}
	return n
}

// Filter restricts a scan. Empty fields match everything.
type Filter struct {
	Split  string
	ItemID string
}

const splitColumn = paths.PartitionKey
