package target

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gfx"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/renderer/headless"
	"github.com/spaghettifunk/lumen/engine/renderer/thread"
)

type recorder struct {
	calls int
}

func (r *recorder) TargetRecreated(*RenderTarget) { r.calls++ }

func newContext() (*gfx.Context, *headless.Device) {
	dev := headless.NewDevice(headless.Options{})
	cfg := core.DefaultConfig().Renderer
	return gfx.NewContext(dev, thread.New(thread.SingleThreaded), cfg), dev
}

var sceneColor = Desc{
	Name:      "scene-color",
	Format:    gpu.FormatRGBA16F,
	Usage:     gpu.UsageSampled | gpu.UsageTransferDst | gpu.UsageTransferSrc,
	MipMapped: true,
}

func TestTargetAllocatesOneImagePerSlot(t *testing.T) {
	ctx, dev := newContext()
	rt, err := New(ctx, sceneColor, 1920, 1080)
	require.NoError(t, err)

	assert.NotSame(t, rt.Image(0), rt.Image(1))
	assert.Equal(t, 2, dev.Live())
	spec := rt.Spec()
	assert.Equal(t, uint32(11), spec.Mips)
	assert.Equal(t, "scene-color", spec.Name)
	assert.Equal(t, "scene-color-1", rt.Image(1).Spec().Name)
}

func TestRecreateNotifiesObserversAndDefersDeletion(t *testing.T) {
	ctx, dev := newContext()
	rt, err := New(ctx, sceneColor, 1920, 1080)
	require.NoError(t, err)

	obs := &recorder{}
	rt.Subscribe(obs)
	rt.Subscribe(obs)
	assert.Equal(t, 1, rt.Observers())

	old := rt.Image(0)
	require.NoError(t, rt.Recreate(1280, 720))
	assert.Equal(t, 1, obs.calls)
	assert.NotSame(t, old, rt.Image(0))
	assert.Equal(t, uint32(1280), rt.Spec().Width)
	assert.Equal(t, uint32(11), rt.Spec().Mips)

	// Old images stay alive until the deletion queue runs.
	assert.Equal(t, 4, dev.Live())
	ctx.Thread.ExecuteDeletionQueue()
	assert.Equal(t, 2, dev.Live())

	rt.Unsubscribe(obs)
	require.NoError(t, rt.Recreate(1280, 720))
	assert.Equal(t, 1, obs.calls)
}

func TestRecreateIsIdempotent(t *testing.T) {
	ctx, _ := newContext()
	rt, err := New(ctx, Desc{Name: "depth", Format: gpu.FormatD32, Usage: gpu.UsageDepthAttachment, Samples: 4}, 800, 600)
	require.NoError(t, err)

	require.NoError(t, rt.Recreate(640, 480))
	first := rt.Spec()
	require.NoError(t, rt.Recreate(640, 480))
	assert.Equal(t, first, rt.Spec())
	assert.Equal(t, uint32(4), first.Samples)
	assert.Equal(t, uint32(1), first.Mips)
}

func TestRecreateRejectsZeroSize(t *testing.T) {
	ctx, _ := newContext()
	rt, err := New(ctx, sceneColor, 64, 64)
	require.NoError(t, err)
	assert.ErrorIs(t, rt.Recreate(0, 64), core.ErrInvalidDimensions)
	assert.Equal(t, uint32(64), rt.Spec().Width)
}
