package importer

import (
	"context"
	"iter"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/gear6io/annolake/pkg/errors"
	"github.com/gear6io/annolake/server/dataset"
	"github.com/gear6io/annolake/server/schema"
	"github.com/gear6io/annolake/server/storage"
	"github.com/gear6io/annolake/server/types"
	"github.com/gear6io/annolake/utils"
	"github.com/tidwall/gjson"
)

// COCOCategories is the COCO 2017 detection label table with its original ids
var COCOCategories = []types.Category{
	{ID: 1, Name: "person"}, {ID: 2, Name: "bicycle"}, {ID: 3, Name: "car"},
	{ID: 4, Name: "motorcycle"}, {ID: 5, Name: "airplane"}, {ID: 6, Name: "bus"},
	{ID: 7, Name: "train"}, {ID: 8, Name: "truck"}, {ID: 9, Name: "boat"},
	{ID: 10, Name: "traffic light"}, {ID: 11, Name: "fire hydrant"}, {ID: 13, Name: "stop sign"},
	{ID: 14, Name: "parking meter"}, {ID: 15, Name: "bench"}, {ID: 16, Name: "bird"},
	{ID: 17, Name: "cat"}, {ID: 18, Name: "dog"}, {ID: 19, Name: "horse"},
	{ID: 20, Name: "sheep"}, {ID: 21, Name: "cow"}, {ID: 22, Name: "elephant"},
	{ID: 23, Name: "bear"}, {ID: 24, Name: "zebra"}, {ID: 25, Name: "giraffe"},
	{ID: 27, Name: "backpack"}, {ID: 28, Name: "umbrella"}, {ID: 31, Name: "handbag"},
	{ID: 32, Name: "tie"}, {ID: 33, Name: "suitcase"}, {ID: 34, Name: "frisbee"},
	{ID: 35, Name: "skis"}, {ID: 36, Name: "snowboard"}, {ID: 37, Name: "sports ball"},
	{ID: 38, Name: "kite"}, {ID: 39, Name: "baseball bat"}, {ID: 40, Name: "baseball glove"},
	{ID: 41, Name: "skateboard"}, {ID: 42, Name: "surfboard"}, {ID: 43, Name: "tennis racket"},
	{ID: 44, Name: "bottle"}, {ID: 46, Name: "wine glass"}, {ID: 47, Name: "cup"},
	{ID: 48, Name: "fork"}, {ID: 49, Name: "knife"}, {ID: 50, Name: "spoon"},
	{ID: 51, Name: "bowl"}, {ID: 52, Name: "banana"}, {ID: 53, Name: "apple"},
	{ID: 54, Name: "sandwich"}, {ID: 55, Name: "orange"}, {ID: 56, Name: "broccoli"},
	{ID: 57, Name: "carrot"}, {ID: 58, Name: "hot dog"}, {ID: 59, Name: "pizza"},
	{ID: 60, Name: "donut"}, {ID: 61, Name: "cake"}, {ID: 62, Name: "chair"},
	{ID: 63, Name: "couch"}, {ID: 64, Name: "potted plant"}, {ID: 65, Name: "bed"},
	{ID: 67, Name: "dining table"}, {ID: 70, Name: "toilet"}, {ID: 72, Name: "tv"},
	{ID: 73, Name: "laptop"}, {ID: 74, Name: "mouse"}, {ID: 75, Name: "remote"},
	{ID: 76, Name: "keyboard"}, {ID: 77, Name: "cell phone"}, {ID: 78, Name: "microwave"},
	{ID: 79, Name: "oven"}, {ID: 80, Name: "toaster"}, {ID: 81, Name: "sink"},
	{ID: 82, Name: "refrigerator"}, {ID: 84, Name: "book"}, {ID: 85, Name: "clock"},
	{ID: 86, Name: "vase"}, {ID: 87, Name: "scissors"}, {ID: 88, Name: "teddy bear"},
	{ID: 89, Name: "hair drier"}, {ID: 90, Name: "toothbrush"},
}

// cocoCategoryNames resolves annotation category ids. The "categories"
// array of an annotation file is not consulted.
var cocoCategoryNames = func() map[int64]string {
	names := make(map[int64]string, len(COCOCategories))
	for _, cat := range COCOCategories {
		names[cat.ID] = cat.Name
	}
	return names
}()

// COCOImporter imports COCO object detection annotations. Images live in
// <image>/<split>/ and annotations in <objects>/instances_<split>.json.
type COCOImporter struct {
	info      *dataset.Info
	inputDirs map[string]string
	opts      options
}

// NewCOCOImporter creates a COCO importer. inputDirs needs the "image" and
// "objects" keys.
func NewCOCOImporter(name, description string, inputDirs map[string]string, splits []string, opts ...Option) (*COCOImporter, error) {
	if err := checkInputDirs(inputDirs, ImageDir, ObjectsDir); err != nil {
		return nil, err
	}

	return &COCOImporter{
		info: &dataset.Info{
			Name:        name,
			Description: description,
			Splits:      splits,
			Tables: schema.Tables{
				schema.GroupMain:    {mainTable()},
				schema.GroupMedia:   {imageTable()},
				schema.GroupObjects: {objectsTable()},
			},
			Categories: COCOCategories,
		},
		inputDirs: inputDirs,
		opts:      buildOptions(opts),
	}, nil
}

// Info returns the dataset description
func (c *COCOImporter) Info() *dataset.Info {
	return c.info
}

// MediaDirs returns the source directory of each view
func (c *COCOImporter) MediaDirs() map[string]string {
	return map[string]string{ImageDir: c.inputDirs[ImageDir]}
}

// cocoImage is one entry of the "images" array
type cocoImage struct {
	id       int64
	fileName string
	width    int
	height   int
}

// ImportRows yields one batch per annotated image
func (c *COCOImporter) ImportRows(ctx context.Context) iter.Seq2[Batch, error] {
	return func(yield func(Batch, error) bool) {
		for _, split := range c.info.Splits {
			file := filepath.Join(c.inputDirs[ObjectsDir], "instances_"+split+".json")
			doc, err := readAnnotationFile(file)
			if err != nil {
				yield(Batch{}, err)
				return
			}

			annotations := make(map[int64][]gjson.Result)
			doc.Get("annotations").ForEach(func(_, v gjson.Result) bool {
				imageID := v.Get("image_id").Int()
				annotations[imageID] = append(annotations[imageID], v)
				return true
			})

			var images []cocoImage
			doc.Get("images").ForEach(func(_, v gjson.Result) bool {
				images = append(images, cocoImage{
					id:       v.Get("id").Int(),
					fileName: v.Get("file_name").String(),
					width:    int(v.Get("width").Int()),
					height:   int(v.Get("height").Int()),
				})
				return true
			})
			sort.Slice(images, func(i, j int) bool { return naturalLess(images[i].fileName, images[j].fileName) })

			for _, im := range images {
				if err := ctx.Err(); err != nil {
					yield(Batch{}, err)
					return
				}

				batch, err := c.importImage(split, im, annotations[im.id], file)
				if !yield(batch, err) || err != nil {
					return
				}
			}
		}
	}
}

func readAnnotationFile(file string) (gjson.Result, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return gjson.Result{}, errors.New(ErrSourceNotFound, "annotation file not found", err).AddContext("path", file)
	}
	if !gjson.ValidBytes(data) {
		return gjson.Result{}, errors.New(ErrInvalidAnnotation, "annotation file is not valid JSON", nil).AddContext("path", file)
	}
	return gjson.ParseBytes(data), nil
}

func (c *COCOImporter) importImage(split string, im cocoImage, anns []gjson.Result, file string) (Batch, error) {
	imagePath := filepath.Join(c.inputDirs[ImageDir], split, filepath.FromSlash(im.fileName))
	img, err := decodeImage(imagePath)
	if err != nil {
		return Batch{}, err
	}
	thumb, err := Thumbnail(img, c.opts.thumbnailSize)
	if err != nil {
		return Batch{}, err
	}

	width, height := im.width, im.height
	if width <= 0 || height <= 0 {
		width, height = img.Bounds().Dx(), img.Bounds().Dy()
	}

	id := stem(im.fileName)
	batch := Batch{Split: split, Rows: storage.RowsByTable{}}
	batch.Rows.Add(schema.GroupMain, "db", storage.Row{
		"id":    id,
		"views": []string{ImageDir},
		"split": split,
	})
	batch.Rows.Add(schema.GroupMedia, ImageDir, storage.Row{
		"id":    id,
		"image": types.Image{URI: path.Join(ImageDir, split, im.fileName), Preview: thumb},
	})

	for _, ann := range anns {
		bbox := ann.Get("bbox").Array()
		if len(bbox) != 4 {
			continue
		}
		x, y, w, h := bbox[0].Float(), bbox[1].Float(), bbox[2].Float(), bbox[3].Float()

		categoryID := ann.Get("category_id").Int()
		name, ok := cocoCategoryNames[categoryID]
		if !ok {
			return Batch{}, errors.New(ErrInvalidAnnotation, "unknown COCO category", nil).
				AddContext("path", file).
				AddContext("category_id", strconv.FormatInt(categoryID, 10))
		}

		box, err := types.NormalizeXYXY(x, y, x+w, y+h, width, height)
		if err != nil {
			return Batch{}, errors.New(ErrInvalidAnnotation, "cannot normalize box", err).AddContext("path", file)
		}

		batch.Rows.Add(schema.GroupObjects, "objects", storage.Row{
			"id":            utils.NewObjectID(),
			"item_id":       id,
			"view_id":       ImageDir,
			"bbox":          box,
			"category_id":   categoryID,
			"category_name": name,
		})
	}
	return batch, nil
}
