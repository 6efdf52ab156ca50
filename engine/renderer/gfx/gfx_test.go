package gfx

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/renderer/headless"
	"github.com/spaghettifunk/lumen/engine/renderer/thread"
)

func newTestContext(t *testing.T) (*Context, *headless.Device) {
	t.Helper()
	dev := headless.NewDevice(headless.Options{Width: 320, Height: 240})
	cfg := core.DefaultConfig().Renderer
	cfg.Backend = core.BackendHeadless
	return NewContext(dev, thread.New(thread.SingleThreaded), cfg), dev
}

func TestUploadBufferCopiesThroughStaging(t *testing.T) {
	ctx, _ := newTestContext(t)
	buf, err := ctx.UploadBuffer("data", gpu.BufferStorage, []byte{9, 8, 7, 6})
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 8, 7, 6}, buf.(*headless.Buffer).Bytes())
	assert.False(t, buf.Spec().HostVisible)
	assert.NotZero(t, buf.Spec().Usage&gpu.BufferTransferDst)
}

func TestCreateMesh(t *testing.T) {
	ctx, dev := newTestContext(t)
	mesh, err := ctx.CreateMesh(math.GenerateCube(1, 1, 1, "cube"))
	require.NoError(t, err)

	assert.Equal(t, uint32(36), mesh.IndexCount)
	assert.Equal(t, uint32(24), mesh.VertexCount)
	require.Len(t, mesh.Submeshes, 1)
	assert.Equal(t, uint32(36), mesh.Submeshes[0].IndexCount)
	assert.NotZero(t, mesh.VertexBuffer.DeviceAddress())
	assert.NotZero(t, mesh.IndexBuffer.DeviceAddress())

	mesh.Destroy()
	assert.Equal(t, 0, dev.Live())
}

func TestCreateMeshRejectsEmptyGeometry(t *testing.T) {
	ctx, _ := newTestContext(t)
	_, err := ctx.CreateMesh(math.GeometryConfig{Name: "empty"})
	assert.Error(t, err)
}

func TestDefaultTexturesAreCached(t *testing.T) {
	ctx, dev := newTestContext(t)
	white := ctx.Default(White)
	require.NotNil(t, white)
	assert.Same(t, white, ctx.Default(White))
	assert.NotSame(t, white, ctx.Default(FlatNormal))
	assert.Equal(t, uint32(1), white.Spec().Width)

	uploads := 0
	for _, cmd := range dev.Commands() {
		if cmd.Op == headless.OpCopyToImage {
			uploads++
		}
	}
	assert.Equal(t, 2, uploads)

	ctx.Destroy()
	assert.Equal(t, 0, dev.Live())
}

func TestResolveFallsBackToPlaceholder(t *testing.T) {
	ctx, _ := newTestContext(t)
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.SetRGBA(1, 1, color.RGBA{255, 0, 0, 255})
	tex, err := ctx.UploadImage("albedo", img)
	require.NoError(t, err)

	assert.Same(t, tex, ctx.Resolve(tex, White))
	assert.Same(t, ctx.Default(Black), ctx.Resolve(nil, Black))
}

func TestProfilerCollectsPassTimings(t *testing.T) {
	ctx, dev := newTestContext(t)
	p, err := NewProfiler(ctx)
	require.NoError(t, err)
	require.True(t, p.Enabled())

	cmd, _ := dev.CreateCommandBuffer()
	require.NoError(t, cmd.Begin())
	p.Reset(cmd, 0)
	for pass := Pass(0); pass < PassCount; pass++ {
		p.Begin(cmd, 0, pass)
		p.End(cmd, 0, pass)
	}
	require.NoError(t, cmd.End())
	require.NoError(t, dev.Submit(gpu.Submission{CommandBuffers: []gpu.CommandBuffer{cmd}}))

	p.Collect(0)
	timings := p.Timings()
	assert.Len(t, timings, int(PassCount))
	assert.Greater(t, timings["bloom"], 0.0)

	// Slot 1 never ran, so nothing is collected for it.
	p.Collect(1)
	assert.Equal(t, timings, p.Timings())
	p.Destroy()
}

func TestProfilerDisabledWithoutTimestamps(t *testing.T) {
	ctx, dev := newTestContext(t)
	ctx.Config.Timestamps = false
	p, err := NewProfiler(ctx)
	require.NoError(t, err)
	assert.False(t, p.Enabled())

	cmd, _ := dev.CreateCommandBuffer()
	require.NoError(t, cmd.Begin())
	p.Reset(cmd, 0)
	p.Begin(cmd, 0, PassGeometry)
	assert.Empty(t, cmd.(*headless.CommandBuffer).Commands())
}

func TestSamplesClampedToDevice(t *testing.T) {
	dev := headless.NewDevice(headless.Options{Features: &gpu.Features{MaxSamples: 2}})
	cfg := core.DefaultConfig().Renderer
	ctx := NewContext(dev, thread.New(thread.SingleThreaded), cfg)
	assert.Equal(t, uint32(2), ctx.Samples())
	assert.False(t, ctx.RayTracing())
}
