package material

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gfx"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/renderer/headless"
	"github.com/spaghettifunk/lumen/engine/renderer/target"
	"github.com/spaghettifunk/lumen/engine/renderer/thread"
)

type fixture struct {
	ctx      *gfx.Context
	dev      *headless.Device
	pipeline gpu.Pipeline
	color    *target.RenderTarget
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dev := headless.NewDevice(headless.Options{})
	ctx := gfx.NewContext(dev, thread.New(thread.SingleThreaded), core.DefaultConfig().Renderer)
	p, err := dev.CreateComputePipeline(gpu.ComputePipelineSpec{
		Name:   "bloom",
		Shader: "bloom.comp",
		Sets: []gpu.SetLayout{{Bindings: []gpu.BindingLayout{
			{Binding: 0, Kind: gpu.BindingStorageImage},
			{Binding: 1, Kind: gpu.BindingSampledImage},
			{Binding: 2, Kind: gpu.BindingSampledImage},
			{Binding: 3, Kind: gpu.BindingUniformBuffer},
		}}},
	})
	require.NoError(t, err)
	color, err := target.New(ctx, target.Desc{
		Name:      "bloom-ping",
		Format:    gpu.FormatRGBA16F,
		Usage:     gpu.UsageStorage | gpu.UsageSampled,
		MipMapped: true,
	}, 1920, 1080)
	require.NoError(t, err)
	return &fixture{ctx: ctx, dev: dev, pipeline: p, color: color}
}

func written(t *testing.T, ds gpu.DescriptorSet, binding uint32) any {
	t.Helper()
	v, ok := ds.(*headless.DescriptorSet).Written(binding)
	require.True(t, ok, "binding %d not written", binding)
	return v
}

func TestPrepareWritesBindingsPerSlot(t *testing.T) {
	f := newFixture(t)
	m, err := New(f.ctx, "bloom-prefilter", f.pipeline, 0, nil)
	require.NoError(t, err)

	uniforms := []gpu.Buffer{}
	for i := 0; i < f.ctx.FramesInFlight; i++ {
		b, err := f.dev.CreateBuffer(gpu.BufferSpec{Name: "params", Size: 64, Usage: gpu.BufferUniform, HostVisible: true})
		require.NoError(t, err)
		uniforms = append(uniforms, b)
	}

	m.SetTargetMip(0, f.color, 3)
	m.SetTexture(1, nil, gfx.Black)
	m.SetTarget(2, f.color)
	m.SetBuffer(3, 64, uniforms...)

	for slot := 0; slot < f.ctx.FramesInFlight; slot++ {
		assert.True(t, m.Dirty(slot))
		m.Prepare(slot)
		assert.False(t, m.Dirty(slot))

		ds := m.Set(slot)
		view := written(t, ds, 0).(gpu.ImageView)
		assert.Same(t, f.color.Image(slot), view.Image)
		assert.Equal(t, uint32(3), view.BaseMip)
		assert.Equal(t, uint32(1), view.MipCount)

		placeholder := written(t, ds, 1).(gpu.ImageView)
		assert.Same(t, f.ctx.Default(gfx.Black), placeholder.Image)

		all := written(t, ds, 2).(gpu.ImageView)
		assert.Equal(t, uint32(0), all.MipCount)

		ub := written(t, ds, 3).(headless.BufferBinding)
		assert.Same(t, uniforms[slot], ub.Buffer)
	}
}

func TestPrepareSkipsCleanSlots(t *testing.T) {
	f := newFixture(t)
	m, err := New(f.ctx, "m", f.pipeline, 0, nil)
	require.NoError(t, err)
	m.SetTarget(0, f.color)

	m.Prepare(0)
	count := m.Set(0).(*headless.DescriptorSet).WriteCount()
	m.Prepare(0)
	assert.Equal(t, count, m.Set(0).(*headless.DescriptorSet).WriteCount())
}

func TestTargetRecreationRebindsMaterial(t *testing.T) {
	f := newFixture(t)
	rebinder := NewRebinder()
	m, err := New(f.ctx, "bloom-downsample", f.pipeline, 0, rebinder)
	require.NoError(t, err)
	m.SetTargetMip(0, f.color, 0)
	m.Prepare(0)
	m.Prepare(1)
	assert.Equal(t, 0, rebinder.Pending())
	assert.Equal(t, 1, f.color.Observers())

	require.NoError(t, f.color.Recreate(1280, 720))
	assert.True(t, m.Dirty(0))
	assert.True(t, m.Dirty(1))
	assert.Equal(t, 1, rebinder.Pending())

	rebinder.Flush(0)
	assert.False(t, m.Dirty(0))
	assert.Equal(t, 1, rebinder.Pending())
	rebinder.Flush(1)
	assert.Equal(t, 0, rebinder.Pending())

	view := written(t, m.Set(1), 0).(gpu.ImageView)
	assert.Same(t, f.color.Image(1), view.Image)
	assert.Equal(t, uint32(1280), view.Image.Spec().Width)
}

func TestBindPreparesAndBinds(t *testing.T) {
	f := newFixture(t)
	m, err := New(f.ctx, "m", f.pipeline, 0, nil)
	require.NoError(t, err)
	m.SetTarget(0, f.color)

	cmd, _ := f.dev.CreateCommandBuffer()
	require.NoError(t, cmd.Begin())
	m.Bind(cmd, 1)
	require.NoError(t, cmd.End())

	cmds := cmd.(*headless.CommandBuffer).Commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, headless.OpBindSet, cmds[0].Op)
	assert.Same(t, m.Set(1), cmds[0].Set)
	assert.False(t, m.Dirty(1))
	assert.True(t, m.Dirty(0))
}

func TestDestroyUnsubscribes(t *testing.T) {
	f := newFixture(t)
	rebinder := NewRebinder()
	m, err := New(f.ctx, "m", f.pipeline, 0, rebinder)
	require.NoError(t, err)
	m.SetTarget(0, f.color)
	m.Invalidate()
	require.Equal(t, 1, rebinder.Pending())

	m.Destroy()
	assert.Equal(t, 0, f.color.Observers())
	assert.Equal(t, 0, rebinder.Pending())
}

func TestInvalidSetIndex(t *testing.T) {
	f := newFixture(t)
	_, err := New(f.ctx, "m", f.pipeline, 4, nil)
	assert.Error(t, err)
}

func TestAccelerationStructureBindsPerSlot(t *testing.T) {
	f := newFixture(t)
	m, err := New(f.ctx, "scene", f.pipeline, 0, nil)
	require.NoError(t, err)
	m.Prepare(0)
	m.Prepare(1)

	tlas, err := f.dev.CreateAccelerationStructure(gpu.TopLevel, 1024)
	require.NoError(t, err)
	m.SetAccelerationStructure(4, 0, tlas)
	assert.True(t, m.Dirty(0))
	assert.False(t, m.Dirty(1))

	m.Prepare(0)
	assert.Same(t, tlas, written(t, m.Set(0), 4))
	_, ok := m.Set(1).(*headless.DescriptorSet).Written(4)
	assert.False(t, ok)

	m.SetAccelerationStructure(4, 0, tlas)
	assert.False(t, m.Dirty(0))
}
