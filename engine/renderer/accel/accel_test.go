package accel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/gfx"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/renderer/headless"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
	"github.com/spaghettifunk/lumen/engine/renderer/thread"
)

type fixture struct {
	dev     *headless.Device
	ctx     *gfx.Context
	builder *Builder
	cube    *metadata.Mesh
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dev := headless.NewDevice(headless.Options{})
	ctx := gfx.NewContext(dev, thread.New(thread.SingleThreaded), core.DefaultConfig().Renderer)
	b, err := NewBuilder(ctx)
	require.NoError(t, err)
	cube, err := ctx.CreateMesh(math.GenerateCube(1, 1, 1, "cube"))
	require.NoError(t, err)
	return &fixture{dev: dev, ctx: ctx, builder: b, cube: cube}
}

func (f *fixture) record(t *testing.T, fn func(cmd gpu.CommandBuffer)) []headless.Command {
	t.Helper()
	cmd, err := f.dev.CreateCommandBuffer()
	require.NoError(t, err)
	require.NoError(t, cmd.Begin())
	fn(cmd)
	require.NoError(t, cmd.End())
	require.NoError(t, f.dev.Submit(gpu.Submission{CommandBuffers: []gpu.CommandBuffer{cmd}}))
	return cmd.(*headless.CommandBuffer).Commands()
}

func transforms(n int) []math.Mat4 {
	out := make([]math.Mat4, n)
	for i := range out {
		out[i] = math.NewMat4Translation(math.NewVec3(float32(i), 0, 0))
	}
	return out
}

func TestBuildPatchesInstanceReferences(t *testing.T) {
	f := newFixture(t)
	f.builder.SubmitMeshDrawData(f.cube, 0, transforms(2), 2)

	var tlas *TopLevel
	cmds := f.record(t, func(cmd gpu.CommandBuffer) {
		var err error
		tlas, err = f.builder.Build(cmd, 0)
		require.NoError(t, err)
	})
	require.NotNil(t, tlas)
	assert.Equal(t, uint32(2), tlas.InstanceCount())

	structure := tlas.Structure().(*headless.AccelerationStructure)
	assert.True(t, structure.Built())
	instances := structure.Instances()
	require.Len(t, instances, 2)

	blas := f.builder.blas[Key{Mesh: f.cube.ID}]
	require.NotNil(t, blas)
	for i, in := range instances {
		assert.Equal(t, blas.structure.Address(), in.AccelAddress)
		assert.Equal(t, uint32(i), in.CustomIndex)
		assert.Equal(t, uint8(0xFF), in.Mask)
		assert.Equal(t, float32(i), in.Transform[3])
	}

	var ops []headless.Op
	for _, c := range cmds {
		ops = append(ops, c.Op)
	}
	assert.Equal(t, []headless.Op{
		headless.OpBuildAccel, headless.OpBarrier,
		headless.OpCopyBuffer, headless.OpBarrier,
		headless.OpBuildAccel, headless.OpBarrier,
	}, ops)
	assert.Equal(t, gpu.BottomLevel, cmds[0].Accel[0].Kind)
	assert.Equal(t, gpu.TopLevel, cmds[4].Accel[0].Kind)
}

func TestBottomLevelStructuresAreCached(t *testing.T) {
	f := newFixture(t)
	for frame := 0; frame < 3; frame++ {
		f.builder.SubmitMeshDrawData(f.cube, 0, transforms(1), 1)
		cmds := f.record(t, func(cmd gpu.CommandBuffer) {
			_, err := f.builder.Build(cmd, frame%2)
			require.NoError(t, err)
		})
		blasBuilds := 0
		for _, c := range cmds {
			if c.Op == headless.OpBuildAccel && c.Accel[0].Kind == gpu.BottomLevel {
				blasBuilds++
			}
		}
		if frame == 0 {
			assert.Equal(t, 1, blasBuilds)
		} else {
			assert.Equal(t, 0, blasBuilds)
		}
	}
	assert.Equal(t, 1, f.builder.Cached())

	f.builder.Evict(f.cube.ID)
	assert.Equal(t, 0, f.builder.Cached())
}

func TestUnpatchedInstancesAreRejected(t *testing.T) {
	f := newFixture(t)
	f.builder.SubmitMeshDrawData(f.cube, 0, transforms(3), 3)
	c := f.builder.CollectGeometry()

	raw := &PatchedInstances{builder: f.builder}
	for _, e := range c.entries {
		raw.instances = append(raw.instances, e.instances...)
	}
	require.Len(t, raw.instances, 3)

	cmd, _ := f.dev.CreateCommandBuffer()
	require.NoError(t, cmd.Begin())
	_, err := raw.BuildTLAS(cmd, 0)
	assert.ErrorIs(t, err, core.ErrUnpatchedInstance)
	assert.Empty(t, cmd.(*headless.CommandBuffer).Commands())

	_, err = c.PatchInstances(AddressMap{})
	assert.ErrorIs(t, err, core.ErrMissingAddress)

	addrs, err := c.BuildBLAS(cmd)
	require.NoError(t, err)
	p, err := c.PatchInstances(addrs)
	require.NoError(t, err)
	assert.NoError(t, p.Validate())
}

func TestInstanceCountIsCapped(t *testing.T) {
	f := newFixture(t)
	f.builder.SubmitMeshDrawData(f.cube, 0, transforms(4), 2)
	f.builder.SubmitMeshDrawData(f.cube, 0, transforms(1), 5)
	c := f.builder.CollectGeometry()
	assert.Equal(t, 3, c.InstanceCount())
	assert.Len(t, c.Keys(), 1)

	// Collecting resets the builder.
	assert.Equal(t, 0, f.builder.CollectGeometry().InstanceCount())
}

func TestUpdateModeRefitsWhenCountIsStable(t *testing.T) {
	f := newFixture(t)
	f.builder.SetUpdateMode(true)

	build := func(n int) *TopLevel {
		f.builder.SubmitMeshDrawData(f.cube, 0, transforms(n), uint32(n))
		var tlas *TopLevel
		f.record(t, func(cmd gpu.CommandBuffer) {
			var err error
			tlas, err = f.builder.Build(cmd, 0)
			require.NoError(t, err)
		})
		return tlas
	}

	first := build(2)
	assert.False(t, first.Updated())
	assert.True(t, first.Structure().(*headless.AccelerationStructure).Updatable())
	second := build(2)
	assert.True(t, second.Updated())
	assert.Equal(t, 1, second.Structure().(*headless.AccelerationStructure).Updates())

	third := build(3)
	assert.False(t, third.Updated())
}

func TestRebuildModeNeverRefits(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 2; i++ {
		f.builder.SubmitMeshDrawData(f.cube, 0, transforms(2), 2)
		f.record(t, func(cmd gpu.CommandBuffer) {
			tlas, err := f.builder.Build(cmd, 0)
			require.NoError(t, err)
			assert.False(t, tlas.Updated())
			assert.False(t, tlas.Structure().(*headless.AccelerationStructure).Updatable())
		})
	}
}

func TestSwitchingToUpdateModeRebuildsFirst(t *testing.T) {
	f := newFixture(t)
	build := func() *TopLevel {
		f.builder.SubmitMeshDrawData(f.cube, 0, transforms(2), 2)
		var tlas *TopLevel
		f.record(t, func(cmd gpu.CommandBuffer) {
			var err error
			tlas, err = f.builder.Build(cmd, 0)
			require.NoError(t, err)
		})
		return tlas
	}

	// Built without AllowUpdate, so the first frame in update mode cannot
	// refit it.
	build()
	f.builder.SetUpdateMode(true)
	assert.False(t, build().Updated())
	assert.True(t, build().Updated())
}

func TestBuilderRequiresRayTracing(t *testing.T) {
	dev := headless.NewDevice(headless.Options{Features: &gpu.Features{Timestamps: true}})
	ctx := gfx.NewContext(dev, thread.New(thread.SingleThreaded), core.DefaultConfig().Renderer)
	_, err := NewBuilder(ctx)
	assert.ErrorIs(t, err, core.ErrUnsupported)
}

func TestDestroyReleasesStructures(t *testing.T) {
	f := newFixture(t)
	f.builder.SubmitMeshDrawData(f.cube, 0, transforms(1), 1)
	f.record(t, func(cmd gpu.CommandBuffer) {
		_, err := f.builder.Build(cmd, 1)
		require.NoError(t, err)
	})
	f.builder.Destroy()
	f.cube.Destroy()
	assert.Equal(t, 0, f.dev.Live())
}
