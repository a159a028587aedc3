// Package importer converts source datasets on disk into annolake datasets.
// Each format implements Importer; Driver persists what they produce.
package importer

import (
	"context"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gear6io/annolake/pkg/errors"
	"github.com/gear6io/annolake/server/dataset"
	"github.com/gear6io/annolake/server/schema"
	"github.com/gear6io/annolake/server/storage"
)

// Input directory keys
const (
	ImageDir   = "image"
	ObjectsDir = "objects"
)

// Importer produces the rows of one source dataset, one item per batch.
// Media values carry URIs relative to the media directory whose first path
// element is a key of MediaDirs.
type Importer interface {
	Info() *dataset.Info
	MediaDirs() map[string]string
	ImportRows(ctx context.Context) iter.Seq2[Batch, error]
}

// Batch holds the rows of one item across every table
type Batch struct {
	Split string
	Rows  storage.RowsByTable
}

// Option configures an importer
type Option func(*options)

type options struct {
	thumbnailSize int
}

// WithThumbnailSize sets the longest side of generated previews
func WithThumbnailSize(size int) Option {
	return func(o *options) {
		if size > 0 {
			o.thumbnailSize = size
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{thumbnailSize: DefaultThumbnailSize}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// checkInputDirs verifies that every required input directory exists and
// is not empty
func checkInputDirs(dirs map[string]string, required ...string) error {
	for _, key := range required {
		dir, ok := dirs[key]
		if !ok || dir == "" {
			return errors.New(ErrSourceNotFound, "input directory not given", nil).AddContext("input", key)
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			return errors.New(ErrSourceNotFound, "input directory does not exist", err).
				AddContext("input", key).
				AddContext("path", dir)
		}
		if len(entries) == 0 {
			return errors.New(ErrSourceNotFound, "input directory is empty", nil).
				AddContext("input", key).
				AddContext("path", dir)
		}
	}
	return nil
}

// Standard table declarations shared by the image based formats

func mainTable() schema.DatasetTable {
	return schema.DatasetTable{
		Name: "db",
		Fields: schema.Fields{
			{Name: "id", Type: schema.TypeString},
			{Name: "views", Type: schema.TypeStringList},
			{Name: "split", Type: schema.TypeString},
		},
	}
}

func imageTable() schema.DatasetTable {
	return schema.DatasetTable{
		Name: "image",
		Fields: schema.Fields{
			{Name: "id", Type: schema.TypeString},
			{Name: "image", Type: schema.TypeImage},
		},
	}
}

func objectsTable() schema.DatasetTable {
	return schema.DatasetTable{
		Name: "objects",
		Fields: schema.Fields{
			{Name: "id", Type: schema.TypeString},
			{Name: "item_id", Type: schema.TypeString},
			{Name: "view_id", Type: schema.TypeString},
			{Name: "bbox", Type: schema.TypeBBox},
			{Name: "category_id", Type: schema.TypeInt},
			{Name: "category_name", Type: schema.TypeString},
		},
		Source: "Ground Truth",
	}
}

var imageExtensions = []string{".png", ".jpg", ".jpeg"}

// listImages returns the image files of a directory in natural order. A
// missing directory has no images.
func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.New(ErrSourceNotFound, "failed to list images", err).AddContext("path", dir)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		for _, want := range imageExtensions {
			if ext == want {
				names = append(names, e.Name())
				break
			}
		}
	}
	sort.Slice(names, func(i, j int) bool { return naturalLess(names[i], names[j]) })

	files := make([]string, len(names))
	for i, n := range names {
		files[i] = filepath.Join(dir, n)
	}
	return files, nil
}

// stem strips directory and extension: "a/b/img_01.png" -> "img_01"
func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// naturalLess orders names with embedded numbers numerically, so img2
// sorts before img10
func naturalLess(a, b string) bool {
	for a != "" && b != "" {
		if isDigit(a[0]) && isDigit(b[0]) {
			na, ra := leadingDigits(a)
			nb, rb := leadingDigits(b)
			ta, tb := strings.TrimLeft(na, "0"), strings.TrimLeft(nb, "0")
			if len(ta) != len(tb) {
				return len(ta) < len(tb)
			}
			if ta != tb {
				return ta < tb
			}
			if len(na) != len(nb) {
				return len(na) < len(nb)
			}
			a, b = ra, rb
			continue
		}
		if a[0] != b[0] {
			return a[0] < b[0]
		}
		a, b = a[1:], b[1:]
	}
	return len(a) < len(b)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func leadingDigits(s string) (string, string) {
	i := 0
	for i < len(s) && isDigit(s[i]) {
		i++
	}
	return s[:i], s[i:]
}
