package graph

import (
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/gfx"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/renderer/material"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

var (
	labelGeometry = [4]float32{0.2, 0.6, 1.0, 1.0}
	labelPost     = [4]float32{1.0, 0.6, 0.2, 1.0}
)

func fullViewport(img gpu.Image) gpu.Viewport {
	spec := img.Spec()
	return gpu.Viewport{Width: float32(spec.Width), Height: float32(spec.Height)}
}

func (s *SceneRenderer) createPostMaterials() error {
	t := s.targets
	var err error
	if s.composite, err = material.New(s.ctx, "composite", s.pipes.composite, 0, s.rebinder); err != nil {
		return err
	}
	s.composite.SetTarget(bindCompositeScene, t.sceneColor)
	s.composite.SetTarget(bindCompositeBloom, t.bloomAccum)
	s.composite.SetTexture(bindCompositeDirt, nil, gfx.Black)

	if s.dof, err = material.New(s.ctx, "dof", s.pipes.dof, 0, s.rebinder); err != nil {
		return err
	}
	s.dof.SetTargetMip(bindDOFOutput, t.dof, 0)
	s.dof.SetTarget(bindDOFColor, t.composite)
	s.dof.SetTarget(bindDOFDepth, t.depth())

	if s.pipes.depthResolve != nil {
		if s.depthResolve, err = material.New(s.ctx, "depth-resolve", s.pipes.depthResolve, 0, s.rebinder); err != nil {
			return err
		}
		s.depthResolve.SetTargetMip(bindDepthResolveOutput, t.sceneDepth, 0)
		s.depthResolve.SetTarget(bindDepthResolveInput, t.geometryDepth)
	}

	if s.final, err = material.New(s.ctx, "final", s.pipes.final, 0, s.rebinder); err != nil {
		return err
	}
	s.final.SetTarget(bindFinalColor, t.dof)
	return nil
}

// geometryPass draws meshes, the skybox and the light billboards into the
// multisampled color target. With MSAA the pass resolves into mip 0 of the
// scene color.
func (s *SceneRenderer) geometryPass(cmd gpu.CommandBuffer, slot int, data *frameData) {
	t := s.targets
	color, depth, scene := t.geometryColor.Image(slot), t.geometryDepth.Image(slot), t.sceneColor.Image(slot)
	msaa := color.Spec().Samples > 1

	ts := []gpu.Transition{
		{Image: color, MipCount: 1, From: gpu.LayoutUndefined, To: gpu.LayoutColorAttachment,
			SrcStage: gpu.StageTop, DstStage: gpu.StageColorOutput, DstAccess: gpu.AccessColorWrite},
		{Image: depth, MipCount: 1, From: gpu.LayoutUndefined, To: gpu.LayoutDepthAttachment,
			SrcStage: gpu.StageTop, DstStage: gpu.StageDepthOutput, DstAccess: gpu.AccessDepthWrite},
	}
	colorAttachment := gpu.Attachment{Image: color, Clear: true, ClearColor: [4]float32{0, 0, 0, 1}}
	if msaa {
		ts = append(ts, gpu.Transition{Image: scene, MipCount: 1, From: gpu.LayoutUndefined, To: gpu.LayoutColorAttachment,
			SrcStage: gpu.StageTop, DstStage: gpu.StageColorOutput, DstAccess: gpu.AccessColorWrite})
		colorAttachment.Resolve = scene
	}
	cmd.Transition(ts...)

	cmd.BeginRenderPass(gpu.RenderPassDesc{
		Name:  "geometry",
		Color: []gpu.Attachment{colorAttachment},
		Depth: &gpu.Attachment{Image: depth, Clear: true, ClearDepth: 1},
	})
	cmd.SetViewport(fullViewport(color))

	s.profiler.Begin(cmd, slot, gfx.PassGeometry)
	s.ctx.BeginLabel(cmd, "meshes", labelGeometry)
	s.drawMeshes(cmd, slot, data.batches)
	s.ctx.EndLabel(cmd)
	s.profiler.End(cmd, slot, gfx.PassGeometry)

	s.profiler.Begin(cmd, slot, gfx.PassSkybox)
	s.ctx.BeginLabel(cmd, "skybox", labelGeometry)
	cmd.BindPipeline(s.pipes.skybox)
	s.sceneSet.Bind(cmd, slot)
	cmd.PushConstants(s.pipes.skybox, skyboxConstants(data.tint, data.skyboxLod))
	cmd.Draw(3, 1, 0, 0)
	s.ctx.EndLabel(cmd)
	s.profiler.End(cmd, slot, gfx.PassSkybox)

	s.profiler.Begin(cmd, slot, gfx.PassLights)
	s.ctx.BeginLabel(cmd, "light billboards", labelGeometry)
	s.drawLights(cmd, slot, data.lights)
	s.ctx.EndLabel(cmd)
	s.profiler.End(cmd, slot, gfx.PassLights)

	cmd.EndRenderPass()
}

// drawMeshes records one instanced draw per batch.
func (s *SceneRenderer) drawMeshes(cmd gpu.CommandBuffer, slot int, batches []drawBatch) {
	if len(batches) == 0 {
		return
	}
	cmd.BindPipeline(s.pipes.geometry)
	s.sceneSet.Bind(cmd, slot)

	var bound *metadata.MaterialAsset
	for _, b := range batches {
		e := b.entry
		sm := e.mesh.Submeshes[e.submesh]
		if e.material != bound {
			s.surface(e.material).Bind(cmd, slot)
			cmd.PushConstants(s.pipes.geometry, materialConstants(e.material))
			bound = e.material
		}
		cmd.BindVertexBuffers(0, []gpu.Buffer{e.mesh.VertexBuffer, e.instances[slot].buffer}, []uint64{0, 0})
		cmd.BindIndexBuffer(e.mesh.IndexBuffer, 0)
		cmd.DrawIndexed(sm.IndexCount, uint32(len(b.transforms)), sm.BaseIndex, int32(sm.BaseVertex), 0)
	}
}

// drawLights draws a camera facing quad per light. Spot lights follow the
// point lights in the billboard buffer.
func (s *SceneRenderer) drawLights(cmd gpu.CommandBuffer, slot int, lights lightData) {
	if lights.points+lights.spots == 0 {
		return
	}
	cmd.BindPipeline(s.pipes.lights)
	s.sceneSet.Bind(cmd, slot)
	cmd.BindVertexBuffers(1, []gpu.Buffer{s.billboards[slot]}, []uint64{0})
	if lights.points > 0 {
		cmd.Draw(6, lights.points, 0, 0)
	}
	if lights.spots > 0 {
		cmd.Draw(6, lights.spots, 0, lights.points)
	}
}

// resolveSceneColor fills mip 0 of the scene color when the geometry pass
// did not resolve into it, then blits the rest of the mip chain.
func (s *SceneRenderer) resolveSceneColor(cmd gpu.CommandBuffer, slot int) {
	t := s.targets
	color, depth, scene := t.geometryColor.Image(slot), t.geometryDepth.Image(slot), t.sceneColor.Image(slot)
	mips := scene.Spec().Mips

	s.ctx.BeginLabel(cmd, "scene mips", labelPost)
	if color.Spec().Samples > 1 {
		cmd.Transition(gpu.Transition{Image: scene, MipCount: 1, From: gpu.LayoutColorAttachment, To: gpu.LayoutTransferSrc,
			SrcStage: gpu.StageColorOutput, DstStage: gpu.StageTransfer, SrcAccess: gpu.AccessColorWrite, DstAccess: gpu.AccessTransferRead})
	} else {
		cmd.Transition(
			gpu.Transition{Image: color, MipCount: 1, From: gpu.LayoutColorAttachment, To: gpu.LayoutTransferSrc,
				SrcStage: gpu.StageColorOutput, DstStage: gpu.StageTransfer, SrcAccess: gpu.AccessColorWrite, DstAccess: gpu.AccessTransferRead},
			gpu.Transition{Image: scene, MipCount: 1, From: gpu.LayoutUndefined, To: gpu.LayoutTransferDst,
				SrcStage: gpu.StageTop, DstStage: gpu.StageTransfer, DstAccess: gpu.AccessTransferWrite},
		)
		cmd.Blit(gpu.Blit{Src: color, Dst: scene})
		cmd.Transition(gpu.Transition{Image: scene, MipCount: 1, From: gpu.LayoutTransferDst, To: gpu.LayoutTransferSrc,
			SrcStage: gpu.StageTransfer, DstStage: gpu.StageTransfer, SrcAccess: gpu.AccessTransferWrite, DstAccess: gpu.AccessTransferRead})
	}

	for mip := uint32(1); mip < mips; mip++ {
		cmd.Transition(gpu.Transition{Image: scene, BaseMip: mip, MipCount: 1, From: gpu.LayoutUndefined, To: gpu.LayoutTransferDst,
			SrcStage: gpu.StageTop, DstStage: gpu.StageTransfer, DstAccess: gpu.AccessTransferWrite})
		cmd.Blit(gpu.Blit{Src: scene, SrcMip: mip - 1, Dst: scene, DstMip: mip})
		cmd.Transition(gpu.Transition{Image: scene, BaseMip: mip, MipCount: 1, From: gpu.LayoutTransferDst, To: gpu.LayoutTransferSrc,
			SrcStage: gpu.StageTransfer, DstStage: gpu.StageTransfer, SrcAccess: gpu.AccessTransferWrite, DstAccess: gpu.AccessTransferRead})
	}

	cmd.Transition(
		gpu.Transition{Image: scene, MipCount: mips, From: gpu.LayoutTransferSrc, To: gpu.LayoutShaderRead,
			SrcStage: gpu.StageTransfer, DstStage: gpu.StageComputeShader | gpu.StageFragmentShader,
			SrcAccess: gpu.AccessTransferRead, DstAccess: gpu.AccessShaderRead},
		gpu.Transition{Image: depth, MipCount: 1, From: gpu.LayoutDepthAttachment, To: gpu.LayoutDepthRead,
			SrcStage: gpu.StageDepthOutput, DstStage: gpu.StageComputeShader,
			SrcAccess: gpu.AccessDepthWrite, DstAccess: gpu.AccessShaderRead},
	)
	s.ctx.EndLabel(cmd)
}

// resolveDepth keeps the closest sample of the multisampled depth in the
// single sampled target the depth of field reads.
func (s *SceneRenderer) resolveDepth(cmd gpu.CommandBuffer, slot int) {
	if s.depthResolve == nil {
		return
	}
	out := s.targets.sceneDepth.Image(slot)
	spec := out.Spec()

	s.ctx.BeginLabel(cmd, "depth resolve", labelPost)
	cmd.Transition(gpu.Transition{Image: out, MipCount: 1, From: gpu.LayoutUndefined, To: gpu.LayoutGeneral,
		SrcStage: gpu.StageTop, DstStage: gpu.StageComputeShader, DstAccess: gpu.AccessShaderWrite})
	cmd.BindPipeline(s.pipes.depthResolve)
	s.depthResolve.Bind(cmd, slot)
	cmd.Dispatch(math.DivCeil(spec.Width, workgroupSize), math.DivCeil(spec.Height, workgroupSize), 1)
	cmd.Transition(gpu.Transition{Image: out, MipCount: 1, From: gpu.LayoutGeneral, To: gpu.LayoutShaderRead,
		SrcStage: gpu.StageComputeShader, DstStage: gpu.StageComputeShader, SrcAccess: gpu.AccessShaderWrite, DstAccess: gpu.AccessShaderRead})
	s.ctx.EndLabel(cmd)
}

func (s *SceneRenderer) bloomPass(cmd gpu.CommandBuffer, slot int, cfg core.RendererConfig) {
	s.profiler.Begin(cmd, slot, gfx.PassBloom)
	if cfg.Bloom.Enabled {
		s.ctx.BeginLabel(cmd, "bloom", labelPost)
		s.bloom.record(cmd, slot, s.pipes.bloom, s.targets, cfg.Bloom)
		s.ctx.EndLabel(cmd)
	} else {
		// The composite still samples the accumulation target.
		cmd.Transition(gpu.Transition{Image: s.targets.bloomAccum.Image(slot), MipCount: s.bloom.mips,
			From: gpu.LayoutUndefined, To: gpu.LayoutShaderRead, SrcStage: gpu.StageTop, DstStage: gpu.StageFragmentShader})
	}
	s.profiler.End(cmd, slot, gfx.PassBloom)
}

// compositePass merges the scene color with the bloom and the lens dirt.
// It opens the gfx.PassComposite timestamp that finalPass closes.
func (s *SceneRenderer) compositePass(cmd gpu.CommandBuffer, slot int, cfg core.RendererConfig) {
	out := s.targets.composite.Image(slot)

	s.profiler.Begin(cmd, slot, gfx.PassComposite)
	s.ctx.BeginLabel(cmd, "composite", labelPost)
	cmd.Transition(gpu.Transition{Image: out, MipCount: 1, From: gpu.LayoutUndefined, To: gpu.LayoutColorAttachment,
		SrcStage: gpu.StageTop, DstStage: gpu.StageColorOutput, DstAccess: gpu.AccessColorWrite})
	cmd.BeginRenderPass(gpu.RenderPassDesc{
		Name:  "composite",
		Color: []gpu.Attachment{{Image: out, Clear: true}},
	})
	cmd.SetViewport(fullViewport(out))
	cmd.BindPipeline(s.pipes.composite)
	s.composite.Bind(cmd, slot)
	cmd.PushConstants(s.pipes.composite, compositeConstants(cfg.Bloom.Intensity, cfg.Bloom.DirtIntensity, cfg.Bloom.Enabled))
	cmd.Draw(3, 1, 0, 0)
	cmd.EndRenderPass()
	cmd.Transition(gpu.Transition{Image: out, MipCount: 1, From: gpu.LayoutColorAttachment, To: gpu.LayoutShaderRead,
		SrcStage: gpu.StageColorOutput, DstStage: gpu.StageComputeShader, SrcAccess: gpu.AccessColorWrite, DstAccess: gpu.AccessShaderRead})
	s.ctx.EndLabel(cmd)
}

// dofPass always runs. When disabled the shader copies its input.
func (s *SceneRenderer) dofPass(cmd gpu.CommandBuffer, slot int, camera metadata.CameraData, cfg core.RendererConfig) {
	out := s.targets.dof.Image(slot)
	spec := out.Spec()

	s.ctx.BeginLabel(cmd, "depth of field", labelPost)
	cmd.Transition(gpu.Transition{Image: out, MipCount: 1, From: gpu.LayoutUndefined, To: gpu.LayoutGeneral,
		SrcStage: gpu.StageTop, DstStage: gpu.StageComputeShader, DstAccess: gpu.AccessShaderWrite})
	cmd.BindPipeline(s.pipes.dof)
	s.dof.Bind(cmd, slot)
	cmd.PushConstants(s.pipes.dof, dofConstants(cfg.DOF.FocusDistance, cfg.DOF.FocusScale, camera.Near, camera.Far, cfg.DOF.Enabled))
	cmd.Dispatch(math.DivCeil(spec.Width, workgroupSize), math.DivCeil(spec.Height, workgroupSize), 1)
	cmd.Transition(gpu.Transition{Image: out, MipCount: 1, From: gpu.LayoutGeneral, To: gpu.LayoutShaderRead,
		SrcStage: gpu.StageComputeShader, DstStage: gpu.StageFragmentShader, SrcAccess: gpu.AccessShaderWrite, DstAccess: gpu.AccessShaderRead})
	s.ctx.EndLabel(cmd)
}

// finalPass tone maps into the 8 bit target the caller copies or samples.
func (s *SceneRenderer) finalPass(cmd gpu.CommandBuffer, slot int, cfg core.RendererConfig) {
	out := s.targets.final.Image(slot)

	s.ctx.BeginLabel(cmd, "final", labelPost)
	cmd.Transition(gpu.Transition{Image: out, MipCount: 1, From: gpu.LayoutUndefined, To: gpu.LayoutColorAttachment,
		SrcStage: gpu.StageTop, DstStage: gpu.StageColorOutput, DstAccess: gpu.AccessColorWrite})
	cmd.BeginRenderPass(gpu.RenderPassDesc{
		Name:  "final",
		Color: []gpu.Attachment{{Image: out, Clear: true}},
	})
	cmd.SetViewport(fullViewport(out))
	cmd.BindPipeline(s.pipes.final)
	s.final.Bind(cmd, slot)
	cmd.PushConstants(s.pipes.final, finalConstants(cfg.Exposure))
	cmd.Draw(3, 1, 0, 0)
	cmd.EndRenderPass()
	cmd.Transition(gpu.Transition{Image: out, MipCount: 1, From: gpu.LayoutColorAttachment, To: gpu.LayoutTransferSrc,
		SrcStage: gpu.StageColorOutput, DstStage: gpu.StageTransfer, SrcAccess: gpu.AccessColorWrite, DstAccess: gpu.AccessTransferRead})
	s.ctx.EndLabel(cmd)
	s.profiler.End(cmd, slot, gfx.PassComposite)
}
