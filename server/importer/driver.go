package importer

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/gear6io/annolake/pkg/errors"
	"github.com/gear6io/annolake/server/dataset"
	"github.com/gear6io/annolake/server/schema"
	"github.com/gear6io/annolake/server/storage"
	"github.com/gear6io/annolake/server/types"
	"github.com/rs/zerolog"
)

// DefaultFlushItems is how many items are buffered before their rows are
// written as part files
const DefaultFlushItems = 256

// Driver runs an importer and persists its output as a dataset
type Driver struct {
	logger      zerolog.Logger
	copyMedia   bool
	flushItems  int
	storageOpts []storage.Option
}

// NewDriver creates an import driver. With copyMedia, media files are copied
// into the dataset; otherwise rows reference the source files by absolute
// file:// URI.
func NewDriver(logger zerolog.Logger, copyMedia bool, storageOpts ...storage.Option) *Driver {
	return &Driver{
		logger:      logger,
		copyMedia:   copyMedia,
		flushItems:  DefaultFlushItems,
		storageOpts: storageOpts,
	}
}

// SetFlushItems changes the write buffer size
func (d *Driver) SetFlushItems(n int) {
	if n > 0 {
		d.flushItems = n
	}
}

// Import creates the dataset at importDir and writes every batch the
// importer yields. When a batch fails the items already read are still
// written and the dataset info reflects the items actually stored.
func (d *Driver) Import(ctx context.Context, imp Importer, importDir string) (*dataset.Dataset, error) {
	start := time.Now()

	info := imp.Info()
	ds, err := dataset.Create(importDir, info, d.logger, d.storageOpts...)
	if err != nil {
		return nil, err
	}

	d.logger.Info().
		Str("dataset", info.Name).
		Str("path", importDir).
		Strs("splits", info.Splits).
		Bool("copy_media", d.copyMedia).
		Msg("Starting import")

	pending := make(map[string]storage.RowsByTable)
	pendingItems := make(map[string]int)
	buffered := 0
	written := 0

	// flush writes the buffered items split by split. A split either lands
	// whole or not at all; written counts the items that landed.
	flush := func() error {
		splits := make([]string, 0, len(pending))
		for split := range pending {
			splits = append(splits, split)
		}
		sort.Strings(splits)

		defer func() {
			clear(pending)
			clear(pendingItems)
			buffered = 0
		}()

		for _, split := range splits {
			if err := d.writeBatch(ds.Handle, split, pending[split]); err != nil {
				return err
			}
			written += pendingItems[split]
		}
		return nil
	}

	var importErr error
	for batch, err := range imp.ImportRows(ctx) {
		if err != nil {
			importErr = err
			break
		}

		if err := d.placeMedia(ds, imp.MediaDirs(), batch.Rows[schema.GroupMedia]); err != nil {
			importErr = err
			break
		}
		if info.Preview == "" {
			info.Preview = findPreview(batch.Rows[schema.GroupMedia])
		}

		rows, ok := pending[batch.Split]
		if !ok {
			rows = storage.RowsByTable{}
			pending[batch.Split] = rows
		}
		for group, tables := range batch.Rows {
			for name, r := range tables {
				rows.Add(group, name, r...)
			}
		}
		pendingItems[batch.Split]++
		buffered++

		if buffered >= d.flushItems {
			if err := flush(); err != nil {
				importErr = err
				break
			}
			d.logger.Debug().Int("items", written).Msg("Flushed import batch")
		}
	}

	if importErr == nil {
		importErr = flush()
	} else if len(pending) > 0 {
		if err := flush(); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to write items read before the import stopped")
		}
	}
	info.NumElements = written
	if err := ds.SaveInfo(); err != nil {
		return nil, err
	}

	if importErr != nil {
		d.logger.Error().Err(importErr).Int("items", written).Msg("Import stopped")
		return ds, importErr
	}

	d.logger.Info().
		Str("dataset", info.Name).
		Int("items", written).
		Dur("duration", time.Since(start)).
		Msg("Import complete")
	return ds, nil
}

// writeBatch writes the buffered rows of one split. Main rows go last so an
// item only becomes visible once its other rows are stored; on failure the
// rows already written for the batch are removed again.
func (d *Driver) writeBatch(h *storage.Handle, split string, rows storage.RowsByTable) error {
	type tableRef struct {
		group schema.TableGroup
		name  string
	}

	order := append(slices.Clone(schema.Groups[1:]), schema.GroupMain)
	var done []tableRef
	for _, group := range order {
		names := make([]string, 0, len(rows[group]))
		for name := range rows[group] {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			if err := h.WriteRows(group, name, rows[group][name], split); err != nil {
				ids := batchItemIDs(rows)
				for _, ref := range done {
					if rerr := h.RemoveItems(ref.group, ref.name, split, ids); rerr != nil {
						d.logger.Error().
							Err(rerr).
							Str("table", ref.name).
							Str("split", split).
							Msg("Failed to remove rows of a failed import batch")
					}
				}
				return err
			}
			done = append(done, tableRef{group: group, name: name})
		}
	}
	return nil
}

// batchItemIDs collects the item ids referenced by any row of a batch
func batchItemIDs(rows storage.RowsByTable) []string {
	seen := make(map[string]bool)
	var ids []string
	for group, tables := range rows {
		key := schema.ItemKey(group)
		for _, r := range tables {
			for _, row := range r {
				if id := row.String(key); id != "" && !seen[id] {
					seen[id] = true
					ids = append(ids, id)
				}
			}
		}
	}
	sort.Strings(ids)
	return ids
}

// placeMedia copies referenced media into the dataset, or rewrites the
// references to absolute file:// URIs
func (d *Driver) placeMedia(ds *dataset.Dataset, sources map[string]string, tables map[string][]storage.Row) error {
	for _, rows := range tables {
		for _, row := range rows {
			for col, v := range row {
				img, ok := v.(types.Image)
				if !ok {
					continue
				}
				view, rel, ok := strings.Cut(img.URI, "/")
				if !ok {
					continue
				}
				srcDir, ok := sources[view]
				if !ok {
					continue
				}

				src := filepath.Join(srcDir, filepath.FromSlash(rel))
				if d.copyMedia {
					dst := filepath.Join(ds.Paths.GetMediaPath(), filepath.FromSlash(img.URI))
					if err := copyFile(src, dst); err != nil {
						return err
					}
					continue
				}

				abs, err := filepath.Abs(src)
				if err != nil {
					return errors.New(ErrMediaCopy, "failed to resolve media path", err).AddContext("path", src)
				}
				img.URI = FileURI(abs)
				row[col] = img
			}
		}
	}
	return nil
}

func findPreview(tables map[string][]storage.Row) string {
	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for _, row := range tables[name] {
			for _, v := range row {
				if img, ok := v.(types.Image); ok && len(img.Preview) > 0 {
					return PreviewURI(img.Preview)
				}
			}
		}
	}
	return ""
}

// FileURI returns the file:// URI of an absolute path
func FileURI(abs string) string {
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.New(ErrMediaCopy, "failed to open media file", err).AddContext("path", src)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return errors.New(ErrMediaCopy, "failed to create media directory", err).AddContext("path", dst)
	}

	out, err := os.Create(dst)
	if err != nil {
		return errors.New(ErrMediaCopy, "failed to create media file", err).AddContext("path", dst)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.New(ErrMediaCopy, "failed to copy media file", err).AddContext("path", dst)
	}
	if err := out.Close(); err != nil {
		return errors.New(ErrMediaCopy, "failed to close media file", err).AddContext("path", dst)
	}
	return nil
}
