package importer

import (
	"bytes"
	"encoding/base64"
	"image"
	_ "image/jpeg"
	"image/png"
	"math"
	"os"

	"github.com/gear6io/annolake/pkg/errors"
	"golang.org/x/image/draw"
)

// DefaultThumbnailSize is the longest side of a preview in pixels
const DefaultThumbnailSize = 128

// decodeImage reads and decodes a PNG or JPEG file
func decodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.New(ErrImageDecode, "failed to open image", err).AddContext("path", path)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.New(ErrImageDecode, "failed to decode image", err).AddContext("path", path)
	}
	return img, nil
}

// Thumbnail scales an image down so its longest side is at most maxSize
// and encodes it as PNG. Smaller images keep their size.
func Thumbnail(src image.Image, maxSize int) ([]byte, error) {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return nil, errors.New(ErrImageDecode, "image is empty", nil)
	}

	scale := math.Min(1, float64(maxSize)/float64(max(w, h)))
	tw := max(1, int(math.Round(float64(w)*scale)))
	th := max(1, int(math.Round(float64(h)*scale)))

	dst := image.NewRGBA(image.Rect(0, 0, tw, th))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Src, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, errors.New(ErrImageDecode, "failed to encode thumbnail", err)
	}
	return buf.Bytes(), nil
}

// PreviewURI renders a PNG thumbnail as a data URI
func PreviewURI(thumbnail []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(thumbnail)
}
