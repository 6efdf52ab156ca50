package graph

import (
	"fmt"

	"github.com/spaghettifunk/lumen/engine/renderer/gfx"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/renderer/target"
)

// targets are every intermediate image of the graph, all sized to the
// viewport.
type targets struct {
	geometryColor *target.RenderTarget
	geometryDepth *target.RenderTarget
	sceneColor    *target.RenderTarget
	bloomPing     *target.RenderTarget
	bloomPong     *target.RenderTarget
	bloomAccum    *target.RenderTarget
	composite     *target.RenderTarget
	dof           *target.RenderTarget
	final         *target.RenderTarget
	// Single sampled copy of geometryDepth, nil without MSAA.
	sceneDepth *target.RenderTarget
}

func (t *targets) all() []*target.RenderTarget {
	all := []*target.RenderTarget{
		t.geometryColor, t.geometryDepth, t.sceneColor,
		t.bloomPing, t.bloomPong, t.bloomAccum,
		t.composite, t.dof, t.final,
	}
	if t.sceneDepth != nil {
		all = append(all, t.sceneDepth)
	}
	return all
}

// depth is the depth target the post passes sample. Sampled images must
// be single sampled, so with MSAA it is the resolved copy.
func (t *targets) depth() *target.RenderTarget {
	if t.sceneDepth != nil {
		return t.sceneDepth
	}
	return t.geometryDepth
}

func createTargets(ctx *gfx.Context, width, height uint32) (*targets, error) {
	t := &targets{}
	bloom := gpu.UsageStorage | gpu.UsageSampled
	descs := []struct {
		out  **target.RenderTarget
		desc target.Desc
	}{
		{&t.geometryColor, target.Desc{
			Name:    "geometry-color",
			Format:  gpu.FormatRGBA16F,
			Usage:   gpu.UsageColorAttachment | gpu.UsageTransferSrc,
			Samples: ctx.Samples(),
		}},
		{&t.geometryDepth, target.Desc{
			Name:    "geometry-depth",
			Format:  gpu.FormatD32,
			Usage:   gpu.UsageDepthAttachment | gpu.UsageSampled,
			Samples: ctx.Samples(),
		}},
		{&t.sceneColor, target.Desc{
			Name:      "scene-color",
			Format:    gpu.FormatRGBA16F,
			Usage:     gpu.UsageColorAttachment | gpu.UsageSampled | gpu.UsageTransferSrc | gpu.UsageTransferDst,
			MipMapped: true,
		}},
		{&t.bloomPing, target.Desc{Name: "bloom-ping", Format: gpu.FormatRGBA16F, Usage: bloom, MipMapped: true}},
		{&t.bloomPong, target.Desc{Name: "bloom-pong", Format: gpu.FormatRGBA16F, Usage: bloom, MipMapped: true}},
		{&t.bloomAccum, target.Desc{Name: "bloom-accumulation", Format: gpu.FormatRGBA16F, Usage: bloom, MipMapped: true}},
		{&t.composite, target.Desc{
			Name:   "composite",
			Format: gpu.FormatRGBA16F,
			Usage:  gpu.UsageColorAttachment | gpu.UsageSampled,
		}},
		{&t.dof, target.Desc{Name: "dof", Format: gpu.FormatRGBA16F, Usage: gpu.UsageStorage | gpu.UsageSampled}},
		{&t.final, target.Desc{
			Name:   "final",
			Format: gpu.FormatRGBA8,
			Usage:  gpu.UsageColorAttachment | gpu.UsageSampled | gpu.UsageTransferSrc,
		}},
	}
	if ctx.Samples() > 1 {
		descs = append(descs, struct {
			out  **target.RenderTarget
			desc target.Desc
		}{&t.sceneDepth, target.Desc{Name: "scene-depth", Format: gpu.FormatR32F, Usage: gpu.UsageStorage | gpu.UsageSampled}})
	}
	for _, d := range descs {
		rt, err := target.New(ctx, d.desc, width, height)
		if err != nil {
			t.destroy()
			return nil, err
		}
		*d.out = rt
	}
	return t, nil
}

// recreate reallocates every target wholesale.
func (t *targets) recreate(width, height uint32) error {
	for _, rt := range t.all() {
		if err := rt.Recreate(width, height); err != nil {
			return fmt.Errorf("resize %q: %w", rt.Name(), err)
		}
	}
	return nil
}

func (t *targets) specs() []gpu.ImageSpec {
	all := t.all()
	out := make([]gpu.ImageSpec, len(all))
	for i, rt := range all {
		out[i] = rt.Spec()
	}
	return out
}

func (t *targets) destroy() {
	for _, rt := range t.all() {
		if rt != nil {
			rt.Destroy()
		}
	}
}
