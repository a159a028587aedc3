// Package exporter writes annolake datasets back out in common annotation
// formats.
package exporter

import (
	"context"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/gear6io/annolake/pkg/errors"
	"github.com/gear6io/annolake/server/dataset"
	"github.com/gear6io/annolake/server/schema"
	"github.com/gear6io/annolake/server/storage"
	"github.com/gear6io/annolake/server/types"
)

// Exporter writes the dataset stored in inputDir into exportDir
type Exporter interface {
	ExportDataset(ctx context.Context, inputDir, exportDir string) error
}

// exportItem is one item with its primary image resolved on disk
type exportItem struct {
	id        string
	split     string
	imagePath string
	width     int
	height    int
	objects   []storage.Row
}

// forEachItem visits every item split by split, ids in order. Items are
// resolved against the first media table's first image column.
func forEachItem(ctx context.Context, ds *dataset.Dataset, fn func(exportItem) error) error {
	main, err := ds.Registry.Main()
	if err != nil {
		return err
	}

	splits, err := ds.Handle.Splits(schema.GroupMain, main.Name)
	if err != nil {
		return err
	}

	for _, split := range splits {
		rows, err := ds.Handle.ReadTable(schema.GroupMain, main.Name, storage.Filter{Split: split})
		if err != nil {
			return err
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i].String("id") < rows[j].String("id") })

		for _, row := range rows {
			if err := ctx.Err(); err != nil {
				return err
			}

			item := exportItem{id: row.String("id"), split: split}
			if item.imagePath, err = imagePath(ds, item.id); err != nil {
				return err
			}
			if item.width, item.height, err = imageSize(item.imagePath); err != nil {
				return err
			}
			for _, table := range ds.Registry.Tables(schema.GroupObjects) {
				objects, err := ds.Handle.Lookup(schema.GroupObjects, table.Name, item.id)
				if err != nil {
					return err
				}
				item.objects = append(item.objects, objects...)
			}
			sort.Slice(item.objects, func(i, j int) bool {
				return item.objects[i].String("id") < item.objects[j].String("id")
			})

			if err := fn(item); err != nil {
				return err
			}
		}
	}
	return nil
}

func imagePath(ds *dataset.Dataset, itemID string) (string, error) {
	for _, table := range ds.Registry.Tables(schema.GroupMedia) {
		rows, err := ds.Handle.Lookup(schema.GroupMedia, table.Name, itemID)
		if err != nil {
			return "", err
		}
		for _, row := range rows {
			for _, f := range table.Fields {
				img, ok := row[f.Name].(types.Image)
				if !ok {
					continue
				}
				if p, ok := img.LocalPath(ds.Paths.GetMediaPath()); ok {
					return p, nil
				}
			}
		}
	}
	return "", errors.New(ErrMediaUnavailable, "item has no local image", nil).AddContext("item_id", itemID)
}

func imageSize(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, errors.New(ErrMediaUnavailable, "failed to open image", err).AddContext("path", path)
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, errors.New(ErrMediaUnavailable, "failed to read image size", err).AddContext("path", path)
	}
	return cfg.Width, cfg.Height, nil
}

// pixelBox returns an object's box as pixel xyxy
func pixelBox(row storage.Row, width, height int) (types.BBox, bool) {
	box, ok := row["bbox"].(types.BBox)
	if !ok || len(box.Coords) != 4 || box.IsZero() {
		return types.BBox{}, false
	}
	return box.XYXY().Denormalize(width, height), true
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.New(ErrMediaUnavailable, "failed to open image", err).AddContext("path", src)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return errors.New(ErrWriteFailed, "failed to create directory", err).AddContext("path", dst)
	}
	out, err := os.Create(dst)
	if err != nil {
		return errors.New(ErrWriteFailed, "failed to create file", err).AddContext("path", dst)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.New(ErrWriteFailed, "failed to copy image", err).AddContext("path", dst)
	}
	if err := out.Close(); err != nil {
		return errors.New(ErrWriteFailed, "failed to close file", err).AddContext("path", dst)
	}
	return nil
}
