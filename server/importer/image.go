package importer

import (
	"context"
	"iter"
	"path"
	"path/filepath"

	"github.com/gear6io/annolake/server/dataset"
	"github.com/gear6io/annolake/server/schema"
	"github.com/gear6io/annolake/server/storage"
	"github.com/gear6io/annolake/server/types"
)

// FlatSplit is the split name used for image folders without per-split
// subdirectories
const FlatSplit = "dataset"

// ImageImporter imports a folder of images without annotations
type ImageImporter struct {
	info      *dataset.Info
	inputDirs map[string]string
	opts      options
}

// NewImageImporter creates an importer over imageDir, which holds one
// subdirectory per split, or the images themselves for the split "dataset"
func NewImageImporter(name, description, imageDir string, splits []string, opts ...Option) (*ImageImporter, error) {
	inputDirs := map[string]string{ImageDir: imageDir}
	if err := checkInputDirs(inputDirs, ImageDir); err != nil {
		return nil, err
	}

	return &ImageImporter{
		info: &dataset.Info{
			Name:        name,
			Description: description,
			Splits:      splits,
			Tables: schema.Tables{
				schema.GroupMain:  {mainTable()},
				schema.GroupMedia: {imageTable()},
			},
		},
		inputDirs: inputDirs,
		opts:      buildOptions(opts),
	}, nil
}

// Info returns the dataset description
func (i *ImageImporter) Info() *dataset.Info {
	return i.info
}

// MediaDirs returns the source directory of each view
func (i *ImageImporter) MediaDirs() map[string]string {
	return i.inputDirs
}

// ImportRows yields one batch per image
func (i *ImageImporter) ImportRows(ctx context.Context) iter.Seq2[Batch, error] {
	return func(yield func(Batch, error) bool) {
		for _, split := range i.info.Splits {
			dir := filepath.Join(i.inputDirs[ImageDir], split)
			prefix := path.Join(ImageDir, split)
			if split == FlatSplit {
				dir = i.inputDirs[ImageDir]
				prefix = ImageDir
			}

			files, err := listImages(dir)
			if err != nil {
				yield(Batch{}, err)
				return
			}

			for _, file := range files {
				if err := ctx.Err(); err != nil {
					yield(Batch{}, err)
					return
				}

				img, err := decodeImage(file)
				if err != nil {
					yield(Batch{}, err)
					return
				}
				thumb, err := Thumbnail(img, i.opts.thumbnailSize)
				if err != nil {
					yield(Batch{}, err)
					return
				}

				id := stem(file)
				batch := Batch{Split: split, Rows: storage.RowsByTable{}}
				batch.Rows.Add(schema.GroupMain, "db", storage.Row{
					"id":    id,
					"views": []string{ImageDir},
					"split": split,
				})
				batch.Rows.Add(schema.GroupMedia, ImageDir, storage.Row{
					"id":    id,
					"image": types.Image{URI: path.Join(prefix, filepath.Base(file)), Preview: thumb},
				})

				if !yield(batch, nil) {
					return
				}
			}
		}
	}
}
