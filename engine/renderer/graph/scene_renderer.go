// Package graph records the per-frame pass sequence of the scene renderer:
//
//	geometry (meshes, skybox, light billboards)
//	resolve and mip chain of the scene color
//	depth resolve (MSAA only)
//	bloom compute
//	external composite
//	depth of field compute
//	final composite
//
// Every pass is enqueued on the render thread as a deferred command and
// records into the frame's command buffer. The order is fixed; each pass
// inserts the layout transitions it needs.
package graph

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/accel"
	"github.com/spaghettifunk/lumen/engine/renderer/gfx"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/renderer/material"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// frameData is everything a frame's commands read from the scene. It is
// built on the producer and never mutated afterwards.
type frameData struct {
	batches   []drawBatch
	camera    metadata.CameraData
	lights    lightData
	skyboxLod float32
	tint      math.Vec3
}

type SceneRenderer struct {
	ctx      *gfx.Context
	pipes    *pipelines
	targets  *targets
	rebinder *material.Rebinder
	profiler *gfx.Profiler
	// nil when the frame is raster only.
	accel *accel.Builder

	// Producer side.
	draws           *DrawList
	defaultMaterial *metadata.MaterialAsset
	scene           *frameData
	width, height   uint32

	// Render thread side.
	sceneSet   *material.Material
	surfaces   map[uuid.UUID]*material.Material
	cameraUBO  []gpu.Buffer
	lightSSBO  []gpu.Buffer
	billboards []gpu.Buffer
	bloom      *bloomChain
	composite  *material.Material
	dof        *material.Material
	final      *material.Material
	// nil without MSAA.
	depthResolve *material.Material

	mu       sync.Mutex
	settings core.RendererConfig
}

// New creates every pipeline, target and material of the graph for a
// viewport of width x height.
func New(ctx *gfx.Context, width, height uint32) (*SceneRenderer, error) {
	s := &SceneRenderer{
		ctx:             ctx,
		rebinder:        material.NewRebinder(),
		draws:           NewDrawList(ctx.FramesInFlight),
		defaultMaterial: metadata.NewMaterialAsset(metadata.DefaultMaterialName),
		scene:           &frameData{},
		surfaces:        make(map[uuid.UUID]*material.Material),
		settings:        ctx.Config,
		width:           width,
		height:          height,
	}
	if err := s.create(); err != nil {
		s.Destroy()
		return nil, err
	}
	core.LogInfo("scene renderer created: %dx%d, %d samples, ray tracing %t", width, height, ctx.Samples(), s.accel != nil)
	return s, nil
}

func (s *SceneRenderer) create() error {
	var err error
	if s.ctx.RayTracing() {
		if s.accel, err = accel.NewBuilder(s.ctx); err != nil {
			core.LogWarn("ray tracing unavailable, rendering raster only: %s", err)
			s.accel = nil
		}
	}
	if s.pipes, err = createPipelines(s.ctx, s.accel != nil); err != nil {
		return err
	}
	if s.targets, err = createTargets(s.ctx, s.width, s.height); err != nil {
		return err
	}
	if s.profiler, err = gfx.NewProfiler(s.ctx); err != nil {
		return err
	}

	buffers := []struct {
		out  *[]gpu.Buffer
		spec gpu.BufferSpec
	}{
		{&s.cameraUBO, gpu.BufferSpec{Name: "camera", Size: cameraUniformSize, Usage: gpu.BufferUniform, HostVisible: true}},
		{&s.lightSSBO, gpu.BufferSpec{Name: "lights", Size: lightBufferSize, Usage: gpu.BufferStorage, HostVisible: true}},
		{&s.billboards, gpu.BufferSpec{Name: "light-billboards", Size: billboardCapacity * billboardSize, Usage: gpu.BufferVertex, HostVisible: true}},
	}
	for _, b := range buffers {
		for i := 0; i < s.ctx.FramesInFlight; i++ {
			spec := b.spec
			spec.Name = fmt.Sprintf("%s-%d", spec.Name, i)
			buf, err := s.ctx.Device.CreateBuffer(spec)
			if err != nil {
				return fmt.Errorf("buffer %q: %w", spec.Name, err)
			}
			*b.out = append(*b.out, buf)
		}
	}

	if s.sceneSet, err = material.New(s.ctx, "scene", s.pipes.geometry, 0, s.rebinder); err != nil {
		return err
	}
	s.sceneSet.SetBuffer(bindCamera, cameraUniformSize, s.cameraUBO...)
	s.sceneSet.SetBuffer(bindLights, lightBufferSize, s.lightSSBO...)

	if s.bloom, err = newBloomChain(s.ctx, s.pipes.bloom, s.targets, s.rebinder); err != nil {
		return err
	}
	return s.createPostMaterials()
}

// SetScene builds the draw list and light lists of the next frame from a
// snapshot. Producer only.
func (s *SceneRenderer) SetScene(packet *metadata.RenderPacket) {
	s.draws.Reset()
	for _, m := range packet.Meshes {
		if m.Mesh == nil {
			continue
		}
		for i, sm := range m.Mesh.Submeshes {
			mat := s.defaultMaterial
			if int(sm.MaterialIndex) < len(m.Materials) && m.Materials[sm.MaterialIndex] != nil {
				mat = m.Materials[sm.MaterialIndex]
			}
			local := sm.Transform
			if local == (math.Mat4{}) {
				local = math.NewMat4Identity()
			}
			s.draws.Submit(m.Mesh, uint32(i), mat, local.Mul(m.Transform))
		}
	}
	s.scene = &frameData{
		batches:   s.draws.batches(),
		camera:    packet.Camera,
		lights:    packLights(packet.PointLights, packet.SpotLights),
		skyboxLod: packet.SkyboxLod,
		tint:      packet.EnvironmentTint,
	}
}

// DrawList exposes the accumulated draws of the last SetScene.
func (s *SceneRenderer) DrawList() *DrawList { return s.draws }

// Render enqueues the passes of one frame. frame is filled in by the
// begin-frame command on the render thread before these run.
func (s *SceneRenderer) Render(frame *gfx.Frame) {
	data := s.scene
	cfg := s.Settings()

	submit := func(pass func(cmd gpu.CommandBuffer, slot int)) {
		s.ctx.Thread.SubmitToThread(func() {
			if frame.Skip {
				return
			}
			pass(frame.Cmd, frame.Slot)
		})
	}
	submit(func(cmd gpu.CommandBuffer, slot int) { s.prepare(cmd, slot, data, cfg) })
	submit(func(cmd gpu.CommandBuffer, slot int) { s.geometryPass(cmd, slot, data) })
	submit(s.resolveSceneColor)
	submit(s.resolveDepth)
	submit(func(cmd gpu.CommandBuffer, slot int) { s.bloomPass(cmd, slot, cfg) })
	submit(func(cmd gpu.CommandBuffer, slot int) { s.compositePass(cmd, slot, cfg) })
	submit(func(cmd gpu.CommandBuffer, slot int) { s.dofPass(cmd, slot, data.camera, cfg) })
	submit(func(cmd gpu.CommandBuffer, slot int) { s.finalPass(cmd, slot, cfg) })
}

// prepare uploads the frame's uniforms and instances, rewrites materials
// invalidated by a resize and builds the acceleration structures.
func (s *SceneRenderer) prepare(cmd gpu.CommandBuffer, slot int, data *frameData, cfg core.RendererConfig) {
	s.profiler.Collect(slot)
	s.profiler.Reset(cmd, slot)
	s.rebinder.Flush(slot)

	core.CheckFatal(s.cameraUBO[slot].Write(0, cameraUniform(data.camera, cfg.Exposure, data.skyboxLod)), "camera uniform write")
	core.CheckFatal(s.lightSSBO[slot].Write(0, data.lights.storage), "light buffer write")
	if len(data.lights.billboards) > 0 {
		core.CheckFatal(s.billboards[slot].Write(0, data.lights.billboards), "billboard write")
	}

	for _, b := range data.batches {
		s.uploadInstances(b, slot)
	}

	if s.accel == nil {
		return
	}
	for _, b := range data.batches {
		s.accel.SubmitMeshDrawData(b.entry.mesh, b.entry.submesh, b.transforms, uint32(len(b.transforms)))
	}
	tlas, err := s.accel.Build(cmd, slot)
	core.CheckFatal(err, "acceleration structure build")
	s.sceneSet.SetAccelerationStructure(bindTLAS, slot, tlas.Structure())
}

func (s *SceneRenderer) uploadInstances(b drawBatch, slot int) {
	ib := &b.entry.instances[slot]
	need := uint32(len(b.transforms))
	if ib.capacity < need {
		if ib.buffer != nil {
			ib.buffer.Destroy()
		}
		capacity := max(uint32(16), nextPowerOfTwo(need))
		buf, err := s.ctx.Device.CreateBuffer(gpu.BufferSpec{
			Name:        fmt.Sprintf("instances-%s-%d-%d", b.entry.mesh.Name, b.entry.submesh, slot),
			Size:        uint64(capacity) * instanceStride,
			Usage:       gpu.BufferVertex,
			HostVisible: true,
		})
		core.CheckFatal(err, "instance buffer")
		*ib = instanceBuffer{buffer: buf, capacity: capacity}
	}
	core.CheckFatal(ib.buffer.Write(0, math.Mat4Bytes(b.transforms)), "instance write")
}

func nextPowerOfTwo(n uint32) uint32 {
	p := uint32(1)
	for p < n {
		p <<= 1
	}
	return p
}

// surface returns the descriptor set material of a material asset,
// creating it on first use. Render thread only.
func (s *SceneRenderer) surface(asset *metadata.MaterialAsset) *material.Material {
	if m, ok := s.surfaces[asset.ID]; ok {
		return m
	}
	m, err := material.New(s.ctx, "surface-"+asset.Name, s.pipes.geometry, 1, s.rebinder)
	core.CheckFatal(err, "surface material")
	m.SetTexture(bindAlbedo, asset.AlbedoMap, gfx.White)
	m.SetTexture(bindNormal, asset.NormalMap, gfx.FlatNormal)
	m.SetTexture(bindRoughness, asset.RoughnessMap, gfx.White)
	s.surfaces[asset.ID] = m
	return m
}

// Resize recreates every target at the new size. Materials referencing
// them are rebound through their subscriptions. The render thread must be
// idle and the GPU must be done with the previous frames.
func (s *SceneRenderer) Resize(width, height uint32) error {
	if width == 0 || height == 0 {
		return fmt.Errorf("%w: viewport %dx%d", core.ErrInvalidDimensions, width, height)
	}
	if err := s.targets.recreate(width, height); err != nil {
		return err
	}
	s.width, s.height = width, height

	if mips := s.targets.sceneColor.Spec().Mips; mips != s.bloom.mips {
		s.bloom.destroy()
		chain, err := newBloomChain(s.ctx, s.pipes.bloom, s.targets, s.rebinder)
		if err != nil {
			return err
		}
		s.bloom = chain
	}
	core.LogDebug("scene renderer resized to %dx%d", width, height)
	return nil
}

// Extent returns the viewport size.
func (s *SceneRenderer) Extent() (uint32, uint32) { return s.width, s.height }

// TargetSpecs lists the specification of every render target.
func (s *SceneRenderer) TargetSpecs() []gpu.ImageSpec { return s.targets.specs() }

// FinalImage returns the composited image of frame slot frame.
func (s *SceneRenderer) FinalImage(frame int) gpu.Image { return s.targets.final.Image(frame) }

// BloomDispatches is the number of bloom compute dispatches per frame.
func (s *SceneRenderer) BloomDispatches() int { return s.bloom.dispatches() }

func (s *SceneRenderer) Profiler() *gfx.Profiler { return s.profiler }

// ApplySettings replaces the live bloom, depth of field and exposure
// parameters. Frames enqueued afterwards use them.
func (s *SceneRenderer) ApplySettings(cfg core.RendererConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.Exposure = cfg.Exposure
	s.settings.Bloom = cfg.Bloom
	s.settings.DOF = cfg.DOF
}

func (s *SceneRenderer) Settings() core.RendererConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// SetLensDirt binds the lens dirt texture of the composite pass. nil
// restores the black placeholder.
func (s *SceneRenderer) SetLensDirt(img gpu.Image) {
	s.composite.SetTexture(bindCompositeDirt, img, gfx.Black)
}

// Destroy releases everything. The GPU must be idle.
func (s *SceneRenderer) Destroy() {
	for _, m := range s.surfaces {
		m.Destroy()
	}
	s.surfaces = nil
	for _, m := range []*material.Material{s.sceneSet, s.composite, s.dof, s.final, s.depthResolve} {
		if m != nil {
			m.Destroy()
		}
	}
	if s.bloom != nil {
		s.bloom.destroy()
	}
	s.draws.destroy()
	for _, bufs := range [][]gpu.Buffer{s.cameraUBO, s.lightSSBO, s.billboards} {
		for _, b := range bufs {
			b.Destroy()
		}
	}
	s.cameraUBO, s.lightSSBO, s.billboards = nil, nil, nil
	if s.accel != nil {
		s.accel.Destroy()
	}
	if s.profiler != nil {
		s.profiler.Destroy()
	}
	if s.targets != nil {
		s.targets.destroy()
	}
	if s.pipes != nil {
		s.pipes.destroy()
	}
}
