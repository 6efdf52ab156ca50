// Package target manages render target images, one per frame slot, and
// notifies subscribers whenever they are reallocated.
package target

import (
	"fmt"
	"slices"
	"sync"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gfx"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

// Observer is told after a target replaced its images. Anything holding
// descriptors that reference the old images must rebind.
type Observer interface {
	TargetRecreated(t *RenderTarget)
}

// Desc is the size-independent part of a target's specification.
type Desc struct {
	Name    string
	Format  gpu.Format
	Usage   gpu.ImageUsage
	Samples uint32
	// MipMapped targets get a full chain of MipCount(width, height) levels.
	MipMapped bool
}

type RenderTarget struct {
	ctx  *gfx.Context
	desc Desc

	mu        sync.RWMutex
	spec      gpu.ImageSpec
	images    []gpu.Image
	observers []Observer
}

func New(ctx *gfx.Context, desc Desc, width, height uint32) (*RenderTarget, error) {
	t := &RenderTarget{ctx: ctx, desc: desc}
	if err := t.allocate(width, height); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *RenderTarget) specFor(width, height uint32) gpu.ImageSpec {
	samples := t.desc.Samples
	if samples == 0 {
		samples = 1
	}
	mips := uint32(1)
	if t.desc.MipMapped {
		mips = gpu.MipCount(width, height)
	}
	return gpu.ImageSpec{
		Name:    t.desc.Name,
		Width:   width,
		Height:  height,
		Format:  t.desc.Format,
		Usage:   t.desc.Usage,
		Samples: samples,
		Mips:    mips,
	}
}

func (t *RenderTarget) allocate(width, height uint32) error {
	if width == 0 || height == 0 {
		return fmt.Errorf("%w: target %q %dx%d", core.ErrInvalidDimensions, t.desc.Name, width, height)
	}
	spec := t.specFor(width, height)
	images := make([]gpu.Image, t.ctx.FramesInFlight)
	for i := range images {
		s := spec
		s.Name = fmt.Sprintf("%s-%d", spec.Name, i)
		img, err := t.ctx.Device.CreateImage(s)
		if err != nil {
			for _, created := range images[:i] {
				created.Destroy()
			}
			return fmt.Errorf("failed to create target %q: %w", s.Name, err)
		}
		images[i] = img
	}

	t.mu.Lock()
	t.spec = spec
	t.images = images
	t.mu.Unlock()
	return nil
}

func (t *RenderTarget) Name() string { return t.desc.Name }

// Spec returns the current specification. The name carries no slot suffix.
func (t *RenderTarget) Spec() gpu.ImageSpec {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.spec
}

// Image returns the image backing frame slot frame.
func (t *RenderTarget) Image(frame int) gpu.Image {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.images[frame]
}

// Recreate replaces every image with one of the new size and then notifies
// observers. The old images are queued on the render thread's deletion
// queue.
func (t *RenderTarget) Recreate(width, height uint32) error {
	t.mu.RLock()
	old := t.images
	t.mu.RUnlock()

	if err := t.allocate(width, height); err != nil {
		return err
	}
	t.ctx.Thread.SubmitToDeletion(func() {
		for _, img := range old {
			img.Destroy()
		}
	})

	t.mu.RLock()
	observers := slices.Clone(t.observers)
	t.mu.RUnlock()
	for _, o := range observers {
		o.TargetRecreated(t)
	}
	return nil
}

// Subscribe registers o once. Subscribing the same observer twice is a
// no-op.
func (t *RenderTarget) Subscribe(o Observer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if slices.Contains(t.observers, o) {
		return
	}
	t.observers = append(t.observers, o)
}

func (t *RenderTarget) Unsubscribe(o Observer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i := slices.Index(t.observers, o); i >= 0 {
		t.observers = slices.Delete(t.observers, i, i+1)
	}
}

// Observers returns the number of subscribers.
func (t *RenderTarget) Observers() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.observers)
}

// Destroy releases the images immediately. The GPU must be idle.
func (t *RenderTarget) Destroy() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, img := range t.images {
		img.Destroy()
	}
	t.images = nil
	t.observers = nil
}
