package loaders

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	"github.com/anthonynsimon/bild/transform"
	"github.com/h2non/filetype"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"

	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

type ImageResourceParams struct {
	// Flip rows so the first row is the bottom of the image.
	FlipY bool
	// Larger images are scaled down so their longest side fits. Zero keeps
	// the original size.
	MaxSize int
}

// sniffLen is the header size filetype needs to classify a file.
const sniffLen = 262

// ImageLoader decodes PNG, JPEG, BMP and TIFF files to RGBA8.
type ImageLoader struct{}

func (il *ImageLoader) Load(path string, params interface{}) (*metadata.Resource, error) {
	var p ImageResourceParams
	if typed, ok := params.(*ImageResourceParams); ok && typed != nil {
		p = *typed
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	head := make([]byte, sniffLen)
	n, _ := io.ReadFull(f, head)
	if !filetype.IsImage(head[:n]) {
		kind, _ := filetype.Match(head[:n])
		return nil, fmt.Errorf("decode %s: not an image (%s)", path, kind.Extension)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	src, format, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	rgba := Fit(ToRGBA(src), p.MaxSize)
	if p.FlipY {
		flipRows(rgba)
	}
	return &metadata.Resource{
		Type:     metadata.ResourceTypeImage,
		Name:     format,
		FullPath: path,
		DataSize: uint64(len(rgba.Pix)),
		Data:     rgba,
	}, nil
}

// ToRGBA converts any image to tightly packed RGBA8 with its origin at 0,0.
func ToRGBA(src image.Image) *image.RGBA {
	b := src.Bounds()
	if rgba, ok := src.(*image.RGBA); ok && b.Min == (image.Point{}) && rgba.Stride == 4*b.Dx() {
		return rgba
	}
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

// Fit scales img down, keeping its aspect ratio, until neither side exceeds
// maxSize.
func Fit(img *image.RGBA, maxSize int) *image.RGBA {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	if maxSize <= 0 || (w <= maxSize && h <= maxSize) {
		return img
	}
	if w >= h {
		h = max(1, h*maxSize/w)
		w = maxSize
	} else {
		w = max(1, w*maxSize/h)
		h = maxSize
	}
	return transform.Resize(img, w, h, transform.Linear)
}

func flipRows(img *image.RGBA) {
	h := img.Bounds().Dy()
	row := make([]byte, img.Stride)
	for y := 0; y < h/2; y++ {
		top := img.Pix[y*img.Stride : (y+1)*img.Stride]
		bottom := img.Pix[(h-1-y)*img.Stride : (h-y)*img.Stride]
		copy(row, top)
		copy(top, bottom)
		copy(bottom, row)
	}
}
