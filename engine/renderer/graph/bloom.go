package graph

import (
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/gfx"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/renderer/material"
	"github.com/spaghettifunk/lumen/engine/renderer/target"
)

// bloomStage is one dispatch: a material writing one mip of its output.
type bloomStage struct {
	material *material.Material
	mip      uint32
	lod      float32
	mode     uint32
}

// bloomChain holds a material per stage and mip. The number of stages
// depends on the mip count, so the chain is rebuilt when that changes.
type bloomChain struct {
	mips   uint32
	stages []bloomStage
}

func newBloomChain(ctx *gfx.Context, pipeline gpu.Pipeline, t *targets, rebinder *material.Rebinder) (*bloomChain, error) {
	mips := t.sceneColor.Spec().Mips
	c := &bloomChain{mips: mips}

	add := func(name string, out *target.RenderTarget, mip uint32, input, accum, scene *target.RenderTarget, lod float32, mode uint32) error {
		m, err := material.New(ctx, name, pipeline, 0, rebinder)
		if err != nil {
			return err
		}
		m.SetTargetMip(bindBloomOutput, out, mip)
		inputs := []struct {
			binding uint32
			rt      *target.RenderTarget
		}{
			{bindBloomInput, input},
			{bindBloomAccumulation, accum},
			{bindBloomScene, scene},
		}
		for _, in := range inputs {
			if in.rt != nil {
				m.SetTarget(in.binding, in.rt)
			} else {
				m.SetTexture(in.binding, nil, gfx.Black)
			}
		}
		c.stages = append(c.stages, bloomStage{material: m, mip: mip, lod: lod, mode: mode})
		return nil
	}

	err := add("bloom-prefilter", t.bloomPing, 0, t.sceneColor, nil, nil, 0, bloomPrefilter)
	for mip := uint32(1); err == nil && mip < mips; mip++ {
		// Downsample into pong, then blur back into ping at the same mip.
		err = add("bloom-downsample-a", t.bloomPong, mip, t.bloomPing, nil, nil, float32(mip-1), bloomDownsample)
		if err == nil {
			err = add("bloom-downsample-b", t.bloomPing, mip, t.bloomPong, nil, nil, float32(mip), bloomDownsample)
		}
	}
	if err == nil {
		err = add("bloom-first-upsample", t.bloomAccum, mips-1, t.bloomPing, nil, t.sceneColor, float32(mips-1), bloomFirstUpsample)
	}
	for mip := int(mips) - 2; err == nil && mip >= 0; mip-- {
		err = add("bloom-upsample", t.bloomAccum, uint32(mip), t.bloomPing, t.bloomAccum, t.sceneColor, float32(mip), bloomUpsample)
	}
	if err != nil {
		c.destroy()
		return nil, err
	}
	return c, nil
}

// dispatches is the number of compute dispatches one frame records.
func (c *bloomChain) dispatches() int { return len(c.stages) }

func (c *bloomChain) record(cmd gpu.CommandBuffer, slot int, pipeline gpu.Pipeline, t *targets, cfg core.BloomConfig) {
	spec := t.bloomPing.Spec()
	var ts []gpu.Transition
	for _, rt := range []*target.RenderTarget{t.bloomPing, t.bloomPong, t.bloomAccum} {
		ts = append(ts, gpu.Transition{
			Image:     rt.Image(slot),
			MipCount:  spec.Mips,
			From:      gpu.LayoutUndefined,
			To:        gpu.LayoutGeneral,
			SrcStage:  gpu.StageTop,
			DstStage:  gpu.StageComputeShader,
			DstAccess: gpu.AccessShaderWrite,
		})
	}
	cmd.Transition(ts...)

	cmd.BindPipeline(pipeline)
	for _, s := range c.stages {
		s.material.Bind(cmd, slot)
		cmd.PushConstants(pipeline, bloomConstants(cfg.Threshold, cfg.Knee, s.lod, s.mode))
		w, h := gpu.MipExtent(spec.Width, spec.Height, s.mip)
		cmd.Dispatch(math.DivCeil(w, workgroupSize), math.DivCeil(h, workgroupSize), 1)
		cmd.Barrier(gpu.MemoryBarrier{
			SrcStage:  gpu.StageComputeShader,
			DstStage:  gpu.StageComputeShader,
			SrcAccess: gpu.AccessShaderWrite,
			DstAccess: gpu.AccessShaderRead,
		})
	}

	cmd.Transition(gpu.Transition{
		Image:     t.bloomAccum.Image(slot),
		MipCount:  spec.Mips,
		From:      gpu.LayoutGeneral,
		To:        gpu.LayoutShaderRead,
		SrcStage:  gpu.StageComputeShader,
		DstStage:  gpu.StageFragmentShader,
		SrcAccess: gpu.AccessShaderWrite,
		DstAccess: gpu.AccessShaderRead,
	})
}

func (c *bloomChain) destroy() {
	for _, s := range c.stages {
		s.material.Destroy()
	}
	c.stages = nil
}
