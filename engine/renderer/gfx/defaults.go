package gfx

import (
	"image"
	"image/color"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

type DefaultTexture int

const (
	White DefaultTexture = iota
	Black
	FlatNormal
)

func (t DefaultTexture) String() string {
	return [...]string{"default-white", "default-black", "default-normal"}[t]
}

func (t DefaultTexture) color() color.RGBA {
	switch t {
	case Black:
		return color.RGBA{0, 0, 0, 255}
	case FlatNormal:
		return color.RGBA{128, 128, 255, 255}
	}
	return color.RGBA{255, 255, 255, 255}
}

// Default returns the cached 1x1 placeholder of the given kind, creating
// it on first use. Failing to create a placeholder is fatal.
func (c *Context) Default(kind DefaultTexture) gpu.Image {
	c.mu.Lock()
	defer c.mu.Unlock()
	if img, ok := c.defaults[kind]; ok {
		return img
	}
	px := image.NewRGBA(image.Rect(0, 0, 1, 1))
	px.SetRGBA(0, 0, kind.color())
	img, err := c.UploadImage(kind.String(), px)
	if err != nil {
		core.CheckFatal(err, "failed to create "+kind.String())
		return nil
	}
	c.defaults[kind] = img
	core.LogDebug("default texture %s created", kind)
	return img
}

// Resolve returns img, or the placeholder when img is nil.
func (c *Context) Resolve(img gpu.Image, fallback DefaultTexture) gpu.Image {
	if img != nil {
		return img
	}
	return c.Default(fallback)
}
