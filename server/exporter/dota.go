package exporter

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gear6io/annolake/pkg/errors"
	"github.com/gear6io/annolake/server/dataset"
	"github.com/rs/zerolog"
)

// DOTAExporter writes images/<split>/<id>.<ext> and
// labelTxt/<split>/hbb/<id>.txt, the layout DOTAImporter reads back
type DOTAExporter struct {
	logger zerolog.Logger
}

// NewDOTAExporter creates a DOTA exporter
func NewDOTAExporter(logger zerolog.Logger) *DOTAExporter {
	return &DOTAExporter{logger: logger}
}

// ExportDataset exports every item with its horizontal boxes in pixels
func (e *DOTAExporter) ExportDataset(ctx context.Context, inputDir, exportDir string) error {
	start := time.Now()

	ds, err := dataset.Open(inputDir, e.logger)
	if err != nil {
		return err
	}

	items, skipped := 0, 0
	err = forEachItem(ctx, ds, func(item exportItem) error {
		image := filepath.Join(exportDir, "images", item.split, item.id+filepath.Ext(item.imagePath))
		if err := copyFile(item.imagePath, image); err != nil {
			return err
		}

		var b strings.Builder
		for _, obj := range item.objects {
			box, ok := pixelBox(obj, item.width, item.height)
			category := strings.ReplaceAll(obj.String("category_name"), " ", "-")
			if !ok || category == "" {
				skipped++
				continue
			}
			x1, y1, x2, y2 := formatCoord(box.Coords[0]), formatCoord(box.Coords[1]), formatCoord(box.Coords[2]), formatCoord(box.Coords[3])
			b.WriteString(strings.Join([]string{x1, y1, x2, y1, x2, y2, x1, y2, category, "0"}, " "))
			b.WriteByte('\n')
		}

		labels := filepath.Join(exportDir, "labelTxt", item.split, "hbb", item.id+".txt")
		if err := os.MkdirAll(filepath.Dir(labels), 0755); err != nil {
			return errors.New(ErrWriteFailed, "failed to create label directory", err).AddContext("path", labels)
		}
		if err := os.WriteFile(labels, []byte(b.String()), 0644); err != nil {
			return errors.New(ErrWriteFailed, "failed to write label file", err).AddContext("path", labels)
		}
		items++
		return nil
	})
	if err != nil {
		return err
	}

	e.logger.Info().
		Str("dataset", ds.Info.Name).
		Str("format", "dota").
		Int("items", items).
		Int("skipped_objects", skipped).
		Dur("duration", time.Since(start)).
		Msg("Export complete")
	return nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
