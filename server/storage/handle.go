package storage

import (
	"iter"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/gear6io/annolake/pkg/errors"
	"github.com/gear6io/annolake/server/paths"
	"github.com/gear6io/annolake/server/schema"
	"github.com/gear6io/annolake/utils"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Reader is the read side of a dataset store
type Reader interface {
	Registry() *schema.Registry
	Scan(group schema.TableGroup, name string, filter Filter) (iter.Seq[Row], error)
	ReadTable(group schema.TableGroup, name string, filter Filter) ([]Row, error)
	Lookup(group schema.TableGroup, name, itemID string) ([]Row, error)
	Columns(group schema.TableGroup, name string) ([]arrow.Field, error)
	Splits(group schema.TableGroup, name string) ([]string, error)
}

// Writer is the write side of a dataset store
type Writer interface {
	WriteRows(group schema.TableGroup, name string, rows []Row, split string) error
	ReplaceItem(itemID string, rows RowsByTable) error
	RemoveItems(group schema.TableGroup, name, split string, itemIDs []string) error
}

// Store reads and writes one dataset
type Store interface {
	Reader
	Writer
}

// Option configures a Handle
type Option func(*options)

type options struct {
	logger      zerolog.Logger
	compression string
	mem         memory.Allocator
}

// WithLogger sets the handle logger
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithCompression sets the parquet codec used for new part files
func WithCompression(name string) Option {
	return func(o *options) { o.compression = name }
}

// WithAllocator sets the arrow allocator
func WithAllocator(mem memory.Allocator) Option {
	return func(o *options) { o.mem = mem }
}

// Handle is an open dataset store. Each table directory holds one
// sub-directory per split with append-only parquet part files; decoded
// partitions are cached per table and dropped on write.
type Handle struct {
	paths    *paths.Manager
	registry *schema.Registry
	logger   zerolog.Logger
	mem      memory.Allocator
	props    *parquet.WriterProperties

	mu     sync.Mutex
	tables map[string]*tableState
	loads  singleflight.Group
}

var _ Store = (*Handle)(nil)

// Open opens the store of the dataset at datasetPath
func Open(datasetPath string, registry *schema.Registry, opts ...Option) (*Handle, error) {
	o := options{
		logger:      zerolog.Nop(),
		compression: "snappy",
		mem:         memory.DefaultAllocator,
	}
	for _, opt := range opts {
		opt(&o)
	}

	codec, err := compressionCodec(o.compression)
	if err != nil {
		return nil, err
	}

	return &Handle{
		paths:    paths.NewManager(datasetPath),
		registry: registry,
		logger:   o.logger.With().Str("dataset", filepath.Base(datasetPath)).Logger(),
		mem:      o.mem,
		props:    parquet.NewWriterProperties(parquet.WithCompression(codec), parquet.WithAllocator(o.mem)),
		tables:   make(map[string]*tableState),
	}, nil
}

// Registry returns the dataset's table declarations
func (h *Handle) Registry() *schema.Registry {
	return h.registry
}

// Paths returns the dataset path layout
func (h *Handle) Paths() *paths.Manager {
	return h.paths
}

// Scan returns a lazy sequence over a table's rows. The partitions the filter
// selects are materialized before Scan returns, so a corrupt part file fails
// here and not during iteration.
func (h *Handle) Scan(group schema.TableGroup, name string, filter Filter) (iter.Seq[Row], error) {
	table, err := h.registry.Resolve(group, name)
	if err != nil {
		return nil, err
	}

	parts, err := h.partitions(group, table, filter.Split)
	if err != nil {
		return nil, err
	}

	return func(yield func(Row) bool) {
		for _, p := range parts {
			if filter.ItemID != "" {
				for _, idx := range p.index[filter.ItemID] {
					if !yield(p.rows[idx]) {
						return
					}
				}
				continue
			}
			for _, row := range p.rows {
				if !yield(row) {
					return
				}
			}
		}
	}, nil
}

// ReadTable returns copies of the rows selected by the filter
func (h *Handle) ReadTable(group schema.TableGroup, name string, filter Filter) ([]Row, error) {
	seq, err := h.Scan(group, name, filter)
	if err != nil {
		return nil, err
	}

	var rows []Row
	for row := range seq {
		rows = append(rows, row.Clone())
	}
	return rows, nil
}

// Lookup returns the rows of one item through the partition indexes
func (h *Handle) Lookup(group schema.TableGroup, name, itemID string) ([]Row, error) {
	return h.ReadTable(group, name, Filter{ItemID: itemID})
}

// Columns returns the declared columns followed by any column found in the
// part files that the table does not declare.
func (h *Handle) Columns(group schema.TableGroup, name string) ([]arrow.Field, error) {
	table, err := h.registry.Resolve(group, name)
	if err != nil {
		return nil, err
	}

	parts, err := h.partitions(group, table, "")
	if err != nil {
		return nil, err
	}

	fields := table.ArrowSchema().Fields()
	for _, p := range parts {
		for _, f := range p.extra {
			if !slices.ContainsFunc(fields, func(g arrow.Field) bool { return g.Name == f.Name }) {
				fields = append(fields, f)
			}
		}
	}
	return fields, nil
}

// Splits lists the partitions present on disk for a table
func (h *Handle) Splits(group schema.TableGroup, name string) ([]string, error) {
	table, err := h.registry.Resolve(group, name)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(h.paths.GetTablePath(table.Name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.New(ErrStorageCorruption, "failed to list partitions", err).AddContext("table", table.Name)
	}

	var splits []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if split, ok := paths.ParsePartitionDirName(e.Name()); ok {
			splits = append(splits, split)
		}
	}
	sort.Strings(splits)
	return splits, nil
}

// Tables lists the table directories present under db/
func (h *Handle) Tables() ([]string, error) {
	entries, err := os.ReadDir(h.paths.GetDBPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.New(ErrStorageCorruption, "failed to list tables", err).AddContext("path", h.paths.GetDBPath())
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Invalidate drops every cached partition
func (h *Handle) Invalidate() {
	h.mu.Lock()
	states := make([]*tableState, 0, len(h.tables))
	for _, ts := range h.tables {
		states = append(states, ts)
	}
	h.mu.Unlock()

	for _, ts := range states {
		ts.mu.Lock()
		ts.generation++
		clear(ts.partitions)
		ts.mu.Unlock()
	}
}

// WriteRows appends rows to a split as one new part file
func (h *Handle) WriteRows(group schema.TableGroup, name string, rows []Row, split string) error {
	if len(rows) == 0 {
		return nil
	}

	table, err := h.registry.Resolve(group, name)
	if err != nil {
		return err
	}
	if err := validateSplit(split); err != nil {
		return err
	}

	key := schema.ItemKey(group)
	for i, row := range rows {
		if row.String(key) == "" {
			return errors.New(ErrInvalidRow, "row has no item key", nil).
				AddContext("table", table.Name).
				AddContext("column", key).
				AddContext("row_index", strconv.Itoa(i))
		}
	}

	ts := h.state(table.Name)
	ts.mu.Lock()
	defer ts.mu.Unlock()

	dir := h.paths.GetPartitionPath(table.Name, split)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.New(ErrDirectoryFailed, "failed to create partition directory", err).AddContext("path", dir)
	}

	path, err := h.commitPartFile(table, split, rows)
	if err != nil {
		return err
	}

	ts.generation++
	delete(ts.partitions, split)

	h.logger.Debug().
		Str("table", table.Name).
		Str("split", split).
		Int("rows", len(rows)).
		Str("file", filepath.Base(path)).
		Msg("Wrote part file")
	return nil
}

// ReplaceItem replaces every row of an item in the tables present in rows.
// The item's previous rows are removed from all partitions of each touched
// table and the new rows land in the target split: the split of the main
// row when given, else the split the item currently lives in. Tables are
// rewritten one after another, so a failure can leave an item partially
// replaced.
func (h *Handle) ReplaceItem(itemID string, rows RowsByTable) error {
	if itemID == "" {
		return errors.New(ErrInvalidRow, "empty item id", nil)
	}

	target, err := h.targetSplit(itemID, rows)
	if err != nil {
		return err
	}

	type work struct {
		group schema.TableGroup
		table schema.DatasetTable
		rows  []Row
	}

	var plan []work
	for group := range rows {
		if _, err := schema.ParseGroup(string(group)); err != nil {
			return err
		}
	}
	for _, group := range schema.Groups {
		names := make([]string, 0, len(rows[group]))
		for name := range rows[group] {
			names = append(names, name)
		}
		sort.Strings(names)

		key := schema.ItemKey(group)
		for _, name := range names {
			table, err := h.registry.Resolve(group, name)
			if err != nil {
				return err
			}

			out := make([]Row, 0, len(rows[group][name]))
			for _, row := range rows[group][name] {
				switch id := row.String(key); id {
				case itemID:
					out = append(out, row)
				case "":
					row = row.Clone()
					row[key] = itemID
					out = append(out, row)
				default:
					return errors.New(ErrInvalidRow, "row belongs to another item", nil).
						AddContext("table", name).
						AddContext("item_id", itemID).
						AddContext("row_item_id", id)
				}
			}
			plan = append(plan, work{group: group, table: table, rows: out})
		}
	}

	for _, w := range plan {
		if err := h.replaceInTable(w.group, w.table, itemID, target, w.rows); err != nil {
			return err
		}
	}

	h.logger.Debug().
		Str("item_id", itemID).
		Str("split", target).
		Int("tables", len(plan)).
		Msg("Replaced item")
	return nil
}

// RemoveItems deletes every row of the given items from one split of a
// table. Partitions holding none of the items are left untouched.
func (h *Handle) RemoveItems(group schema.TableGroup, name, split string, itemIDs []string) error {
	table, err := h.registry.Resolve(group, name)
	if err != nil {
		return err
	}
	if err := validateSplit(split); err != nil {
		return err
	}
	if len(itemIDs) == 0 {
		return nil
	}

	key := schema.ItemKey(group)
	drop := make(map[string]bool, len(itemIDs))
	for _, id := range itemIDs {
		drop[id] = true
	}

	ts := h.state(table.Name)
	ts.mu.Lock()
	defer ts.mu.Unlock()

	p, ok := ts.partitions[split]
	if !ok {
		if p, err = h.loadPartition(group, table, split); err != nil {
			return err
		}
	}

	kept := make([]Row, 0, len(p.rows))
	for _, row := range p.rows {
		if !drop[row.String(key)] {
			kept = append(kept, row)
		}
	}
	if len(kept) == len(p.rows) {
		return nil
	}

	if err := h.rewritePartition(withColumns(table, p.extra), split, kept); err != nil {
		return err
	}
	ts.generation++
	delete(ts.partitions, split)

	h.logger.Debug().
		Str("table", table.Name).
		Str("split", split).
		Int("items", len(itemIDs)).
		Int("rows", len(p.rows)-len(kept)).
		Msg("Removed item rows")
	return nil
}

func (h *Handle) targetSplit(itemID string, rows RowsByTable) (string, error) {
	for _, mainRows := range rows[schema.GroupMain] {
		for _, row := range mainRows {
			if split := row.Split(); split != "" {
				return split, validateSplit(split)
			}
		}
	}

	for _, table := range h.registry.Tables(schema.GroupMain) {
		current, err := h.Lookup(schema.GroupMain, table.Name, itemID)
		if err != nil {
			return "", err
		}
		for _, row := range current {
			if split := row.Split(); split != "" {
				return split, nil
			}
		}
	}

	return "", errors.New(ErrSplitUnknown, "cannot determine the split of the item", nil).AddContext("item_id", itemID)
}

func (h *Handle) replaceInTable(group schema.TableGroup, table schema.DatasetTable, itemID, target string, rows []Row) error {
	splits, err := h.Splits(group, table.Name)
	if err != nil {
		return err
	}
	if !slices.Contains(splits, target) {
		splits = append(splits, target)
	}

	key := schema.ItemKey(group)

	ts := h.state(table.Name)
	ts.mu.Lock()
	defer ts.mu.Unlock()

	for _, split := range splits {
		p, ok := ts.partitions[split]
		if !ok {
			if p, err = h.loadPartition(group, table, split); err != nil {
				return err
			}
		}

		hasItem := len(p.index[itemID]) > 0
		if !hasItem && (split != target || len(rows) == 0) {
			continue
		}

		kept := make([]Row, 0, len(p.rows)+len(rows))
		for _, row := range p.rows {
			if row.String(key) != itemID {
				kept = append(kept, row)
			}
		}
		if split == target {
			kept = append(kept, rows...)
		}

		if err := h.rewritePartition(withColumns(table, p.extra), split, kept); err != nil {
			return err
		}
		ts.generation++
		delete(ts.partitions, split)
	}
	return nil
}

// rewritePartition replaces every part file of a partition with one file
// holding rows. The new file is written under a temporary name and renamed
// into place before the old files are removed.
func (h *Handle) rewritePartition(table schema.DatasetTable, split string, rows []Row) error {
	dir := h.paths.GetPartitionPath(table.Name, split)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.New(ErrDirectoryFailed, "failed to create partition directory", err).AddContext("path", dir)
	}

	old, err := listPartFiles(dir)
	if err != nil {
		return err
	}

	if len(rows) > 0 {
		if _, err := h.commitPartFile(table, split, rows); err != nil {
			return err
		}
	}

	for _, f := range old {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			return errors.New(ErrWriteFailed, "failed to remove replaced part file", err).AddContext("path", f)
		}
	}
	if len(rows) == 0 {
		// only succeeds once the directory is empty
		os.Remove(dir)
	}

	h.logger.Debug().
		Str("table", table.Name).
		Str("split", split).
		Int("rows", len(rows)).
		Int("replaced_files", len(old)).
		Msg("Rewrote partition")
	return nil
}

// commitPartFile writes rows under a temporary name and renames the file
// into place, so a part file is never visible half-written.
func (h *Handle) commitPartFile(table schema.DatasetTable, split string, rows []Row) (string, error) {
	dir := h.paths.GetPartitionPath(table.Name, split)
	tmp := filepath.Join(dir, ".tmp-"+utils.NewObjectID()+".parquet")
	if err := writePartFile(tmp, table, rows, h.mem, h.props); err != nil {
		return "", err
	}

	final := h.paths.NewPartFilePath(table.Name, split)
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return "", errors.New(ErrWriteFailed, "failed to rename part file", err).AddContext("path", final)
	}
	return final, nil
}

// withColumns extends a declaration with undeclared physical columns that
// map back to a declared type, so rewrites keep them.
func withColumns(table schema.DatasetTable, extra []arrow.Field) schema.DatasetTable {
	if len(extra) == 0 {
		return table
	}
	out := table
	out.Fields = append(schema.Fields(nil), table.Fields...)
	for _, f := range extra {
		if ft, ok := schema.FieldTypeOf(f.Type); ok {
			out.Fields = append(out.Fields, schema.Field{Name: f.Name, Type: ft})
		}
	}
	return out
}

func validateSplit(split string) error {
	if err := paths.ValidateName("split", split); err != nil {
		return errors.New(ErrSplitUnknown, "invalid split name", err).AddContext("split", split)
	}
	return nil
}

// listPartFiles returns the part files of a partition in write order
func listPartFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.New(ErrStorageCorruption, "failed to list part files", err).AddContext("path", dir)
	}

	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "part-") || !strings.HasSuffix(name, ".parquet") {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	sort.Strings(files)
	return files, nil
}
