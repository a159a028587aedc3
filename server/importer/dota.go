package importer

import (
	"bufio"
	"context"
	"image"
	"iter"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gear6io/annolake/pkg/errors"
	"github.com/gear6io/annolake/server/dataset"
	"github.com/gear6io/annolake/server/schema"
	"github.com/gear6io/annolake/server/storage"
	"github.com/gear6io/annolake/server/types"
	"github.com/gear6io/annolake/utils"
)

// DOTACategories is the fixed DOTA v2.0 label table
var DOTACategories = []types.Category{
	{ID: 1, Name: "plane"},
	{ID: 2, Name: "ship"},
	{ID: 3, Name: "storage tank"},
	{ID: 4, Name: "baseball diamond"},
	{ID: 5, Name: "tennis court"},
	{ID: 6, Name: "basketball court"},
	{ID: 7, Name: "ground track field"},
	{ID: 8, Name: "harbor"},
	{ID: 9, Name: "bridge"},
	{ID: 10, Name: "large vehicle"},
	{ID: 11, Name: "small vehicle"},
	{ID: 12, Name: "helicopter"},
	{ID: 13, Name: "roundabout"},
	{ID: 14, Name: "soccer ball field"},
	{ID: 15, Name: "swimming pool"},
	{ID: 16, Name: "container crane"},
	{ID: 17, Name: "airport"},
	{ID: 18, Name: "helipad"},
}

// DOTAImporter imports DOTA horizontal bounding box annotations. Images live
// in <image>/<split>/ and labels in <objects>/<split>/hbb/<stem>.txt.
type DOTAImporter struct {
	info      *dataset.Info
	inputDirs map[string]string
	opts      options
}

// NewDOTAImporter creates a DOTA importer. inputDirs needs the "image" and
// "objects" keys.
func NewDOTAImporter(name, description string, inputDirs map[string]string, splits []string, opts ...Option) (*DOTAImporter, error) {
	if err := checkInputDirs(inputDirs, ImageDir, ObjectsDir); err != nil {
		return nil, err
	}

	return &DOTAImporter{
		info: &dataset.Info{
			Name:        name,
			Description: description,
			Splits:      splits,
			Tables: schema.Tables{
				schema.GroupMain:    {mainTable()},
				schema.GroupMedia:   {imageTable()},
				schema.GroupObjects: {objectsTable()},
			},
			Categories: DOTACategories,
		},
		inputDirs: inputDirs,
		opts:      buildOptions(opts),
	}, nil
}

// Info returns the dataset description
func (d *DOTAImporter) Info() *dataset.Info {
	return d.info
}

// MediaDirs returns the source directory of each view
func (d *DOTAImporter) MediaDirs() map[string]string {
	return map[string]string{ImageDir: d.inputDirs[ImageDir]}
}

// ImportRows yields one batch per image
func (d *DOTAImporter) ImportRows(ctx context.Context) iter.Seq2[Batch, error] {
	return func(yield func(Batch, error) bool) {
		for _, split := range d.info.Splits {
			files, err := listImages(filepath.Join(d.inputDirs[ImageDir], split))
			if err != nil {
				yield(Batch{}, err)
				return
			}

			for _, file := range files {
				if err := ctx.Err(); err != nil {
					yield(Batch{}, err)
					return
				}

				batch, err := d.importImage(split, file)
				if !yield(batch, err) || err != nil {
					return
				}
			}
		}
	}
}

func (d *DOTAImporter) importImage(split, file string) (Batch, error) {
	img, err := decodeImage(file)
	if err != nil {
		return Batch{}, err
	}
	thumb, err := Thumbnail(img, d.opts.thumbnailSize)
	if err != nil {
		return Batch{}, err
	}

	id := stem(file)
	labels := filepath.Join(d.inputDirs[ObjectsDir], split, "hbb", id+".txt")
	objects, err := d.readLabels(labels, id, img.Bounds())
	if err != nil {
		return Batch{}, err
	}

	batch := Batch{Split: split, Rows: storage.RowsByTable{}}
	batch.Rows.Add(schema.GroupMain, "db", storage.Row{
		"id":    id,
		"views": []string{ImageDir},
		"split": split,
	})
	batch.Rows.Add(schema.GroupMedia, ImageDir, storage.Row{
		"id":    id,
		"image": types.Image{URI: path.Join(ImageDir, split, filepath.Base(file)), Preview: thumb},
	})
	batch.Rows.Add(schema.GroupObjects, "objects", objects...)
	return batch, nil
}

// readLabels parses one hbb label file. Lines are
// "x1 y1 x2 y2 x3 y3 x4 y4 category difficult"; the box spans corners 1
// and 3. Header lines such as "gsd:0.14" are skipped. An image without a
// label file has no objects.
func (d *DOTAImporter) readLabels(file, itemID string, bounds image.Rectangle) ([]storage.Row, error) {
	f, err := os.Open(file)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.New(ErrInvalidAnnotation, "failed to open label file", err).AddContext("path", file)
	}
	defer f.Close()

	var rows []storage.Row
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		fields := strings.Fields(scanner.Text())
		if len(fields) < 9 {
			continue
		}

		var coords [4]float64
		for i, idx := range []int{0, 1, 4, 5} {
			v, err := strconv.ParseFloat(fields[idx], 64)
			if err != nil {
				return nil, errors.New(ErrInvalidAnnotation, "invalid coordinate", err).
					AddContext("path", file).
					AddContext("line", strconv.Itoa(lineNo))
			}
			coords[i] = v
		}

		name := strings.ReplaceAll(fields[8], "-", " ")
		category, ok := findCategory(DOTACategories, name)
		if !ok {
			return nil, errors.New(ErrInvalidAnnotation, "unknown DOTA category", nil).
				AddContext("path", file).
				AddContext("line", strconv.Itoa(lineNo)).
				AddContext("category", fields[8])
		}

		box, err := types.NormalizeXYXY(coords[0], coords[1], coords[2], coords[3], bounds.Dx(), bounds.Dy())
		if err != nil {
			return nil, errors.New(ErrInvalidAnnotation, "cannot normalize box", err).AddContext("path", file)
		}

		rows = append(rows, storage.Row{
			"id":            utils.NewObjectID(),
			"item_id":       itemID,
			"view_id":       ImageDir,
			"bbox":          box,
			"category_id":   category.ID,
			"category_name": category.Name,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.New(ErrInvalidAnnotation, "failed to read label file", err).AddContext("path", file)
	}
	return rows, nil
}

func findCategory(categories []types.Category, name string) (types.Category, bool) {
	for _, c := range categories {
		if c.Name == name {
			return c, true
		}
	}
	return types.Category{}, false
}
