package loaders

import (
	"bufio"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

func TestParseMaterial(t *testing.T) {
	src := `
# a shiny red surface
name = red
albedo_colour = 1 0 0 1
emission = 2.5
roughness = 0.2
metalness = 1
normal_map = red_n.png
colour_grading = ignored
`
	cfg, err := parseMaterial(bufio.NewScanner(strings.NewReader(src)))
	require.NoError(t, err)
	assert.Equal(t, "red", cfg.Name)
	assert.Equal(t, math.NewVec4(1, 0, 0, 1), cfg.AlbedoColor)
	assert.Equal(t, float32(2.5), cfg.Emission)
	assert.Equal(t, float32(0.2), cfg.Roughness)
	assert.Equal(t, float32(1), cfg.Metalness)
	assert.Equal(t, "red_n.png", cfg.NormalMap)
}

func TestParseMaterialErrors(t *testing.T) {
	tests := map[string]string{
		"missing name":     "roughness = 0.5\n",
		"short colour":     "name = a\nalbedo_colour = 1 1 1\n",
		"bad number":       "name = a\nroughness = rough\n",
		"out of range":     "name = a\nmetalness = 2\n",
		"negative emitter": "name = a\nemission = -1\n",
	}
	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := parseMaterial(bufio.NewScanner(strings.NewReader(src)))
			assert.Error(t, err)
		})
	}
}

func TestDecodeSPIRV(t *testing.T) {
	code, err := DecodeSPIRV([]byte{0x03, 0x02, 0x23, 0x07, 0x01, 0x00, 0x00, 0x00})
	require.NoError(t, err)
	assert.Equal(t, []uint32{0x07230203, 1}, code)

	_, err = DecodeSPIRV([]byte{0, 0, 0, 0})
	assert.Error(t, err)
	_, err = DecodeSPIRV(nil)
	assert.Error(t, err)
}

func TestImageLoaderFlipY(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 1, 2))
	src.SetRGBA(0, 0, color.RGBA{R: 255, A: 255})
	src.SetRGBA(0, 1, color.RGBA{B: 255, A: 255})
	path := filepath.Join(t.TempDir(), "strip.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, src))
	require.NoError(t, f.Close())

	res, err := (&ImageLoader{}).Load(path, &ImageResourceParams{FlipY: true})
	require.NoError(t, err)
	img := res.Data.(*image.RGBA)
	assert.Equal(t, color.RGBA{B: 255, A: 255}, img.RGBAAt(0, 0))
	assert.Equal(t, color.RGBA{R: 255, A: 255}, img.RGBAAt(0, 1))
	assert.Equal(t, "png", res.Name)
	assert.Equal(t, uint64(8), res.DataSize)
}

func TestToRGBAKeepsPackedImages(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	assert.Same(t, img, ToRGBA(img))

	sub := image.NewRGBA(image.Rect(0, 0, 4, 4)).SubImage(image.Rect(1, 1, 3, 3))
	out := ToRGBA(sub)
	assert.Equal(t, image.Rect(0, 0, 2, 2), out.Bounds())
	assert.Len(t, out.Pix, 16)
}

func TestFitKeepsAspectRatio(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 16))
	assert.Same(t, img, Fit(img, 0))
	assert.Same(t, img, Fit(img, 64))

	out := Fit(img, 32)
	assert.Equal(t, image.Rect(0, 0, 32, 8), out.Bounds())

	tall := Fit(image.NewRGBA(image.Rect(0, 0, 2, 200)), 100)
	assert.Equal(t, image.Rect(0, 0, 1, 100), tall.Bounds())
}

func TestImageLoaderRejectsOtherFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.png")
	require.NoError(t, os.WriteFile(path, []byte("just some text"), 0o644))
	_, err := (&ImageLoader{}).Load(path, nil)
	assert.ErrorContains(t, err, "not an image")
}

func TestImageLoaderMaxSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wide.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, image.NewRGBA(image.Rect(0, 0, 40, 20))))
	require.NoError(t, f.Close())

	res, err := (&ImageLoader{}).Load(path, &ImageResourceParams{MaxSize: 10})
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 10, 5), res.Data.(*image.RGBA).Bounds())
}

func TestBinaryLoaderTagsResource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "room.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: room\n"), 0o644))

	res, err := (&BinaryLoader{Type: metadata.ResourceTypeScene}).Load(path, "room")
	require.NoError(t, err)
	assert.Equal(t, metadata.ResourceTypeScene, res.Type)
	assert.Equal(t, "room", res.Name)
	assert.Equal(t, []byte("name: room\n"), res.Data)
	assert.Equal(t, uint64(11), res.DataSize)
}
