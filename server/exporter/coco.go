package exporter

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gear6io/annolake/pkg/errors"
	"github.com/gear6io/annolake/server/dataset"
	"github.com/gear6io/annolake/server/types"
	"github.com/rs/zerolog"
)

type cocoFile struct {
	Info        cocoInfo         `json:"info"`
	Images      []cocoImage      `json:"images"`
	Annotations []cocoAnnotation `json:"annotations"`
	Categories  []types.Category `json:"categories"`
}

type cocoInfo struct {
	Description string `json:"description"`
	DateCreated string `json:"date_created"`
}

type cocoImage struct {
	ID       int64  `json:"id"`
	FileName string `json:"file_name"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

type cocoAnnotation struct {
	ID         int64     `json:"id"`
	ImageID    int64     `json:"image_id"`
	CategoryID int64     `json:"category_id"`
	BBox       []float64 `json:"bbox"`
	Area       float64   `json:"area"`
	IsCrowd    int       `json:"iscrowd"`
}

// COCOExporter writes instances_<split>.json with xywh pixel boxes and
// copies images into image/<split>/, the layout COCOImporter reads back
type COCOExporter struct {
	logger zerolog.Logger
}

// NewCOCOExporter creates a COCO exporter
func NewCOCOExporter(logger zerolog.Logger) *COCOExporter {
	return &COCOExporter{logger: logger}
}

// ExportDataset exports every split to its own annotation file
func (e *COCOExporter) ExportDataset(ctx context.Context, inputDir, exportDir string) error {
	start := time.Now()

	ds, err := dataset.Open(inputDir, e.logger)
	if err != nil {
		return err
	}

	categories := newCategoryTable(ds.Info.Categories)
	files := make(map[string]*cocoFile)
	var imageID, annotationID int64

	err = forEachItem(ctx, ds, func(item exportItem) error {
		file, ok := files[item.split]
		if !ok {
			file = &cocoFile{
				Info:        cocoInfo{Description: ds.Info.Description, DateCreated: start.UTC().Format(time.RFC3339)},
				Images:      []cocoImage{},
				Annotations: []cocoAnnotation{},
			}
			files[item.split] = file
		}

		name := item.id + filepath.Ext(item.imagePath)
		if err := copyFile(item.imagePath, filepath.Join(exportDir, "image", item.split, name)); err != nil {
			return err
		}

		imageID++
		file.Images = append(file.Images, cocoImage{ID: imageID, FileName: name, Width: item.width, Height: item.height})

		for _, obj := range item.objects {
			box, ok := pixelBox(obj, item.width, item.height)
			if !ok {
				continue
			}
			category := obj.String("category_name")
			if category == "" {
				continue
			}
			stored, _ := obj["category_id"].(int64)

			xywh := box.XYWH().Coords
			annotationID++
			file.Annotations = append(file.Annotations, cocoAnnotation{
				ID:         annotationID,
				ImageID:    imageID,
				CategoryID: categories.id(category, stored),
				BBox:       xywh,
				Area:       xywh[2] * xywh[3],
			})
		}
		return nil
	})
	if err != nil {
		return err
	}

	splits := make([]string, 0, len(files))
	for split := range files {
		splits = append(splits, split)
	}
	sort.Strings(splits)

	for _, split := range splits {
		file := files[split]
		file.Categories = categories.list()

		data, err := json.MarshalIndent(file, "", "  ")
		if err != nil {
			return errors.New(ErrWriteFailed, "failed to encode annotations", err).AddContext("split", split)
		}
		path := filepath.Join(exportDir, "instances_"+split+".json")
		if err := os.WriteFile(path, data, 0644); err != nil {
			return errors.New(ErrWriteFailed, "failed to write annotations", err).AddContext("path", path)
		}
	}

	e.logger.Info().
		Str("dataset", ds.Info.Name).
		Str("format", "coco").
		Int64("images", imageID).
		Int64("annotations", annotationID).
		Dur("duration", time.Since(start)).
		Msg("Export complete")
	return nil
}

// categoryTable assigns stable ids to category names, preferring the
// dataset's label table, then the ids stored with the objects
type categoryTable struct {
	byName map[string]int64
	owner  map[int64]string
	used   map[int64]bool
	next   int64
}

func newCategoryTable(known []types.Category) *categoryTable {
	t := &categoryTable{
		byName: make(map[string]int64),
		owner:  make(map[int64]string),
		used:   make(map[int64]bool),
	}
	for _, c := range known {
		t.byName[c.Name] = c.ID
		t.owner[c.ID] = c.Name
		t.next = max(t.next, c.ID)
	}
	return t
}

func (t *categoryTable) id(name string, stored int64) int64 {
	id, ok := t.byName[name]
	if !ok {
		id = stored
		if _, taken := t.owner[id]; id <= 0 || taken {
			t.next++
			id = t.next
		}
		t.next = max(t.next, id)
		t.byName[name] = id
		t.owner[id] = name
	}
	t.used[id] = true
	return id
}

// list returns the categories referenced by at least one annotation
func (t *categoryTable) list() []types.Category {
	out := make([]types.Category, 0, len(t.used))
	for id := range t.used {
		out = append(out, types.Category{ID: id, Name: t.owner[id]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
