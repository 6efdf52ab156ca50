package graph

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

type harness struct {
	dev   *headless.Device
	ctx   *gfx.Context
	scene *SceneRenderer
	cube  *metadata.Mesh
	cmds  []gpu.CommandBuffer
	frame uint64
}

func newHarness(t *testing.T, cfg core.RendererConfig, features *gpu.Features, width, height uint32) *harness {
	t.Helper()
	dev := headless.NewDevice(headless.Options{Width: width, Height: height, Features: features})
	ctx := gfx.NewContext(dev, thread.New(thread.SingleThreaded), cfg)
	cube, err := ctx.CreateMesh(math.GenerateCube(1, 1, 1, "cube"))
	require.NoError(t, err)

	h := &harness{dev: dev, ctx: ctx, cube: cube}
	for i := 0; i < ctx.FramesInFlight; i++ {
		cmd, err := dev.CreateCommandBuffer()
		require.NoError(t, err)
		h.cmds = append(h.cmds, cmd)
	}
	h.scene, err = New(ctx, width, height)
	require.NoError(t, err)
	return h
}

func defaultHarness(t *testing.T) *harness {
	return newHarness(t, core.DefaultConfig().Renderer, nil, 1280, 720)
}

// render records one frame into the next slot's command buffer and returns
// what was recorded.
func (h *harness) render(t *testing.T, packet *metadata.RenderPacket) []headless.Command {
	t.Helper()
	frame := &gfx.Frame{Number: h.frame, Slot: int(h.frame % uint64(len(h.cmds)))}
	frame.Cmd = h.cmds[frame.Slot]
	require.NoError(t, frame.Cmd.Begin())

	h.scene.SetScene(packet)
	h.scene.Render(frame)
	h.ctx.Thread.WaitAndSet()

	require.NoError(t, frame.Cmd.End())
	require.NoError(t, h.dev.Submit(gpu.Submission{CommandBuffers: []gpu.CommandBuffer{frame.Cmd}}))
	h.frame++
	return frame.Cmd.(*headless.CommandBuffer).Commands()
}

func camera() metadata.CameraData {
	return metadata.CameraData{
		View:       math.NewMat4LookAt(math.NewVec3(0, 2, 8), math.NewVec3(0, 0, 0), math.NewVec3(0, 1, 0)),
		Projection: math.NewMat4Perspective(math.DegToRad(45), 16.0/9.0, 0.1, 100),
		Position:   math.NewVec3(0, 2, 8),
		Near:       0.1,
		Far:        100,
	}
}

func (h *harness) packet(cubes int) *metadata.RenderPacket {
	p := &metadata.RenderPacket{Camera: camera()}
	for i := 0; i < cubes; i++ {
		p.Meshes = append(p.Meshes, metadata.MeshSubmission{
			Mesh:      h.cube,
			Transform: math.NewMat4Translation(math.NewVec3(float32(i)*2, 0, 0)),
		})
	}
	return p
}

func filter(cmds []headless.Command, op headless.Op, pipeline string) []headless.Command {
	var out []headless.Command
	for _, c := range cmds {
		if c.Op == op && (pipeline == "" || c.Pipeline == pipeline) {
			out = append(out, c)
		}
	}
	return out
}

func TestSingleMeshIsOneInstancedDraw(t *testing.T) {
	h := defaultHarness(t)
	cmds := h.render(t, h.packet(1))

	draws := filter(cmds, headless.OpDrawIndexed, "")
	require.Len(t, draws, 1)
	assert.Equal(t, "geometry", draws[0].Pipeline)
	assert.Equal(t, uint32(1), draws[0].InstanceCount)
	assert.Equal(t, h.cube.Submeshes[0].IndexCount, draws[0].IndexCount)
	assert.Zero(t, h.dev.Violations())
}

func TestInstancesOfOneSubmeshShareADraw(t *testing.T) {
	h := defaultHarness(t)
	cmds := h.render(t, h.packet(3))

	draws := filter(cmds, headless.OpDrawIndexed, "geometry")
	require.Len(t, draws, 1)
	assert.Equal(t, uint32(3), draws[0].InstanceCount)
	assert.Equal(t, uint32(3), h.scene.DrawList().Count(h.scene.DrawList().Keys()[0]))
}

func TestDistinctMaterialsSplitDraws(t *testing.T) {
	h := defaultHarness(t)
	p := h.packet(2)
	p.Meshes[1].Materials = []*metadata.MaterialAsset{metadata.NewMaterialAsset("red")}

	cmds := h.render(t, p)
	draws := filter(cmds, headless.OpDrawIndexed, "geometry")
	require.Len(t, draws, 2)
	assert.Equal(t, uint32(1), draws[0].InstanceCount)
	assert.Equal(t, uint32(1), draws[1].InstanceCount)
}

func TestPointLightIsOneBillboardDraw(t *testing.T) {
	h := defaultHarness(t)
	p := h.packet(1)
	p.PointLights = []metadata.PointLight{{
		Position:  math.NewVec3(0, 3, 0),
		Color:     math.NewVec3(1, 0.9, 0.8),
		Intensity: 5,
		Radius:    10,
		Falloff:   1,
	}}

	cmds := h.render(t, p)
	billboards := filter(cmds, headless.OpDraw, "light-billboard")
	require.Len(t, billboards, 1)
	assert.Equal(t, uint32(6), billboards[0].VertexCount)
	assert.Equal(t, uint32(1), billboards[0].InstanceCount)
	assert.Zero(t, h.dev.Violations())
}

func TestNoLightsNoBillboards(t *testing.T) {
	h := defaultHarness(t)
	cmds := h.render(t, h.packet(1))
	assert.Empty(t, filter(cmds, headless.OpDraw, "light-billboard"))
}

func TestBloomDispatchesPerMip(t *testing.T) {
	for _, tc := range []struct {
		width, height uint32
		groups        [3]uint32
	}{
		{1280, 720, [3]uint32{80, 45, 1}},
		{1920, 1080, [3]uint32{120, 68, 1}},
	} {
		h := newHarness(t, core.DefaultConfig().Renderer, nil, tc.width, tc.height)
		cmds := h.render(t, h.packet(1))

		mips := int(gpu.MipCount(tc.width, tc.height))
		dispatches := filter(cmds, headless.OpDispatch, "bloom")
		require.Len(t, dispatches, 3*mips-1)
		assert.Equal(t, 3*mips-1, h.scene.BloomDispatches())
		assert.Equal(t, tc.groups, dispatches[0].Groups)
		// The last upsample writes mip 0 again.
		assert.Equal(t, tc.groups, dispatches[len(dispatches)-1].Groups)
		assert.Zero(t, h.dev.Violations())
	}
}

func TestBloomDisabledSkipsDispatches(t *testing.T) {
	h := defaultHarness(t)
	cfg := h.scene.Settings()
	cfg.Bloom.Enabled = false
	h.scene.ApplySettings(cfg)

	cmds := h.render(t, h.packet(1))
	assert.Empty(t, filter(cmds, headless.OpDispatch, "bloom"))
	assert.Len(t, filter(cmds, headless.OpDispatch, "dof"), 1)
}

func TestPassOrder(t *testing.T) {
	h := defaultHarness(t)
	cmds := h.render(t, h.packet(1))

	var passes []string
	for _, c := range filter(cmds, headless.OpBeginRenderPass, "") {
		passes = append(passes, c.Label)
	}
	assert.Equal(t, []string{"geometry", "composite", "final"}, passes)

	var order []headless.Op
	for _, c := range cmds {
		switch c.Op {
		case headless.OpBeginRenderPass, headless.OpDispatch, headless.OpBlit:
			if len(order) == 0 || order[len(order)-1] != c.Op {
				order = append(order, c.Op)
			}
		}
	}
	assert.Equal(t, []headless.Op{
		headless.OpBeginRenderPass, // geometry
		headless.OpBlit,            // mip chain
		headless.OpDispatch,        // bloom
		headless.OpBeginRenderPass, // composite
		headless.OpDispatch,        // dof
		headless.OpBeginRenderPass, // final
	}, order)
}

func TestTimestampsFollowPassOrder(t *testing.T) {
	h := defaultHarness(t)
	cmds := h.render(t, h.packet(1))

	var queries []uint32
	for _, c := range filter(cmds, headless.OpWriteTimestamp, "") {
		queries = append(queries, c.Query)
	}
	assert.Equal(t, []uint32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, queries)

	// Slot 0's results are read back the next time it records.
	h.render(t, h.packet(1))
	h.render(t, h.packet(1))
	timings := h.scene.Profiler().Timings()
	assert.Greater(t, timings["geometry"], 0.0)
	assert.Greater(t, timings["composite"], 0.0)
}

func TestCompositeTimingSpansPostChain(t *testing.T) {
	h := defaultHarness(t)
	cmds := h.render(t, h.packet(1))

	index := func(match func(headless.Command) bool) int {
		for i, c := range cmds {
			if match(c) {
				return i
			}
		}
		return -1
	}
	begin := index(func(c headless.Command) bool {
		return c.Op == headless.OpWriteTimestamp && c.Query == 2*uint32(gfx.PassComposite)
	})
	end := index(func(c headless.Command) bool {
		return c.Op == headless.OpWriteTimestamp && c.Query == 2*uint32(gfx.PassComposite)+1
	})
	dof := index(func(c headless.Command) bool { return c.Op == headless.OpDispatch && c.Pipeline == "dof" })
	final := index(func(c headless.Command) bool { return c.Op == headless.OpBeginRenderPass && c.Label == "final" })

	require.NotEqual(t, -1, begin)
	assert.Less(t, begin, dof)
	assert.Less(t, dof, final)
	assert.Less(t, final, end)
}

func TestMultisampledGeometryResolvesIntoSceneColor(t *testing.T) {
	h := defaultHarness(t)
	cmds := h.render(t, h.packet(1))

	begin := filter(cmds, headless.OpBeginRenderPass, "")[0]
	require.Len(t, begin.Pass.Color, 1)
	assert.Equal(t, h.scene.targets.sceneColor.Image(0), begin.Pass.Color[0].Resolve)

	blits := filter(cmds, headless.OpBlit, "")
	require.Len(t, blits, int(h.scene.targets.sceneColor.Spec().Mips)-1)
	assert.Equal(t, uint32(0), blits[0].Blit.SrcMip)
	assert.Equal(t, uint32(1), blits[0].Blit.DstMip)
}

func TestSingleSampledGeometryIsBlitted(t *testing.T) {
	cfg := core.DefaultConfig().Renderer
	cfg.MSAA = 1
	h := newHarness(t, cfg, nil, 1280, 720)
	cmds := h.render(t, h.packet(1))

	begin := filter(cmds, headless.OpBeginRenderPass, "")[0]
	assert.Nil(t, begin.Pass.Color[0].Resolve)

	blits := filter(cmds, headless.OpBlit, "")
	require.Len(t, blits, int(h.scene.targets.sceneColor.Spec().Mips))
	assert.Equal(t, h.scene.targets.geometryColor.Image(0), blits[0].Blit.Src)
	assert.Equal(t, h.scene.targets.sceneColor.Image(0), blits[0].Blit.Dst)
}

func TestResizeRecreatesTargets(t *testing.T) {
	h := newHarness(t, core.DefaultConfig().Renderer, nil, 1920, 1080)
	require.NoError(t, h.scene.Resize(1280, 720))

	specs := h.scene.TargetSpecs()
	require.Len(t, specs, 10)
	mipMapped := map[string]bool{"scene-color": true, "bloom-ping": true, "bloom-pong": true, "bloom-accumulation": true}
	multisampled := map[string]bool{"geometry-color": true, "geometry-depth": true}
	for _, s := range specs {
		assert.Equal(t, uint32(1280), s.Width, s.Name)
		assert.Equal(t, uint32(720), s.Height, s.Name)
		if mipMapped[s.Name] {
			assert.Equal(t, uint32(11), s.Mips, s.Name)
		} else {
			assert.Equal(t, uint32(1), s.Mips, s.Name)
		}
		if multisampled[s.Name] {
			assert.Equal(t, uint32(4), s.Samples, s.Name)
		} else {
			assert.Equal(t, uint32(1), s.Samples, s.Name)
		}
	}

	require.NoError(t, h.scene.Resize(1280, 720))
	assert.Equal(t, specs, h.scene.TargetSpecs())
	h.ctx.Thread.ExecuteDeletionQueue()
}

func TestResizeRejectsZeroExtent(t *testing.T) {
	h := defaultHarness(t)
	err := h.scene.Resize(0, 720)
	assert.ErrorIs(t, err, core.ErrInvalidDimensions)
	w, ht := h.scene.Extent()
	assert.Equal(t, uint32(1280), w)
	assert.Equal(t, uint32(720), ht)
}

func TestResizeRebindsMaterials(t *testing.T) {
	h := defaultHarness(t)
	h.render(t, h.packet(1))
	h.render(t, h.packet(1))

	require.NoError(t, h.scene.Resize(640, 360))
	assert.Equal(t, 3*int(gpu.MipCount(640, 360))-1, h.scene.BloomDispatches())

	h.render(t, h.packet(1))
	h.render(t, h.packet(1))
	assert.Zero(t, h.scene.rebinder.Pending())

	for slot := 0; slot < h.ctx.FramesInFlight; slot++ {
		v, ok := h.scene.composite.Set(slot).(*headless.DescriptorSet).Written(bindCompositeScene)
		require.True(t, ok)
		assert.Equal(t, h.scene.targets.sceneColor.Image(slot), v.(gpu.ImageView).Image)

		v, ok = h.scene.final.Set(slot).(*headless.DescriptorSet).Written(bindFinalColor)
		require.True(t, ok)
		assert.Equal(t, h.scene.targets.dof.Image(slot), v.(gpu.ImageView).Image)

		v, ok = h.scene.dof.Set(slot).(*headless.DescriptorSet).Written(bindDOFDepth)
		require.True(t, ok)
		assert.Equal(t, h.scene.targets.sceneDepth.Image(slot), v.(gpu.ImageView).Image)
	}
	h.ctx.Thread.ExecuteDeletionQueue()
}

func TestDepthOfFieldSamplesResolvedDepth(t *testing.T) {
	h := defaultHarness(t)
	cmds := h.render(t, h.packet(1))

	v, ok := h.scene.dof.Set(0).(*headless.DescriptorSet).Written(bindDOFDepth)
	require.True(t, ok)
	depth := v.(gpu.ImageView).Image
	assert.Equal(t, uint32(1), depth.Spec().Samples)
	assert.Equal(t, h.scene.targets.sceneDepth.Image(0), depth)

	v, ok = h.scene.depthResolve.Set(0).(*headless.DescriptorSet).Written(bindDepthResolveInput)
	require.True(t, ok)
	assert.Equal(t, h.scene.targets.geometryDepth.Image(0), v.(gpu.ImageView).Image)

	var dispatches []string
	for _, c := range filter(cmds, headless.OpDispatch, "") {
		if len(dispatches) == 0 || dispatches[len(dispatches)-1] != c.Pipeline {
			dispatches = append(dispatches, c.Pipeline)
		}
	}
	assert.Equal(t, []string{"depth-resolve", "bloom", "dof"}, dispatches)
}

func TestSingleSampledDepthIsSampledDirectly(t *testing.T) {
	cfg := core.DefaultConfig().Renderer
	cfg.MSAA = 1
	h := newHarness(t, cfg, nil, 1280, 720)
	cmds := h.render(t, h.packet(1))

	assert.Nil(t, h.scene.targets.sceneDepth)
	assert.Nil(t, h.scene.depthResolve)
	assert.Empty(t, filter(cmds, headless.OpDispatch, "depth-resolve"))
	assert.Len(t, h.scene.TargetSpecs(), 9)

	v, ok := h.scene.dof.Set(0).(*headless.DescriptorSet).Written(bindDOFDepth)
	require.True(t, ok)
	assert.Equal(t, h.scene.targets.geometryDepth.Image(0), v.(gpu.ImageView).Image)
	assert.Equal(t, uint32(1), v.(gpu.ImageView).Image.Spec().Samples)
}

func TestRayTracedFrameBindsTopLevel(t *testing.T) {
	h := defaultHarness(t)
	require.NotNil(t, h.scene.accel)
	cmds := h.render(t, h.packet(2))

	builds := filter(cmds, headless.OpBuildAccel, "")
	require.Len(t, builds, 2)
	assert.Equal(t, gpu.BottomLevel, builds[0].Accel[0].Kind)
	assert.Equal(t, gpu.TopLevel, builds[1].Accel[0].Kind)

	tlas := h.scene.accel.TopLevel(0)
	require.NotNil(t, tlas)
	assert.Equal(t, uint32(2), tlas.InstanceCount())
	v, ok := h.scene.sceneSet.Set(0).(*headless.DescriptorSet).Written(bindTLAS)
	require.True(t, ok)
	assert.Equal(t, tlas.Structure(), v)
}

func TestRasterOnlyWithoutRayTracing(t *testing.T) {
	features := &gpu.Features{Timestamps: true, TimestampPeriod: 1, MaxSamples: 8}
	h := newHarness(t, core.DefaultConfig().Renderer, features, 1280, 720)
	assert.Nil(t, h.scene.accel)

	cmds := h.render(t, h.packet(1))
	assert.Empty(t, filter(cmds, headless.OpBuildAccel, ""))
	assert.Len(t, filter(cmds, headless.OpDrawIndexed, "geometry"), 1)
}

func TestDrawListKeepsEntriesAcrossFrames(t *testing.T) {
	h := defaultHarness(t)
	h.render(t, h.packet(2))
	list := h.scene.DrawList()
	require.Equal(t, 1, list.Entries())
	key := list.Keys()[0]
	buf := list.order[0].instances[0].buffer
	require.NotNil(t, buf)

	h.render(t, h.packet(0))
	assert.Empty(t, list.Keys())
	assert.Equal(t, 1, list.Entries())
	assert.Zero(t, list.Count(key))

	// Slot 0 reuses its instance buffer.
	h.render(t, h.packet(1))
	assert.Same(t, buf, list.order[0].instances[0].buffer)
}

func TestSkippedFrameRecordsNothing(t *testing.T) {
	h := defaultHarness(t)
	cmd := h.cmds[0]
	require.NoError(t, cmd.Begin())
	h.scene.SetScene(h.packet(1))
	h.scene.Render(&gfx.Frame{Cmd: cmd, Skip: true})
	h.ctx.Thread.WaitAndSet()
	require.NoError(t, cmd.End())
	assert.Empty(t, cmd.(*headless.CommandBuffer).Commands())
}

func TestFinalImagePerSlot(t *testing.T) {
	h := defaultHarness(t)
	require.Equal(t, 2, h.ctx.FramesInFlight)
	assert.NotSame(t, h.scene.FinalImage(0), h.scene.FinalImage(1))
	assert.Equal(t, gpu.FormatRGBA8, h.scene.FinalImage(0).Spec().Format)
}

func TestLensDirtFallsBackToBlack(t *testing.T) {
	h := defaultHarness(t)
	h.render(t, h.packet(1))

	v, ok := h.scene.composite.Set(0).(*headless.DescriptorSet).Written(bindCompositeDirt)
	require.True(t, ok)
	assert.Equal(t, h.ctx.Default(gfx.Black), v.(gpu.ImageView).Image)
}

func TestDestroyReleasesEverything(t *testing.T) {
	h := defaultHarness(t)
	h.scene.Destroy()
	baseline := h.dev.Live()

	scene, err := New(h.ctx, 1280, 720)
	require.NoError(t, err)
	h.scene = scene
	h.render(t, h.packet(3))
	require.NoError(t, scene.Resize(800, 600))
	h.render(t, h.packet(1))

	scene.Destroy()
	h.ctx.Thread.ExecuteDeletionQueue()
	h.ctx.Destroy()
	assert.Equal(t, baseline, h.dev.Live())
}
