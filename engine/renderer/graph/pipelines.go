package graph

import (
	"fmt"

	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/gfx"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

const workgroupSize = 16

// The geometry, skybox and light pipelines share one push constant range
// so the scene set stays compatible between them.
const rasterConstantsSize = 32

// Descriptor bindings of the scene set (set 0) shared by the raster
// pipelines.
const (
	bindCamera uint32 = iota
	bindLights
	bindTLAS
)

// Bindings of the per-material set (set 1) of the geometry pipeline.
const (
	bindAlbedo uint32 = iota
	bindNormal
	bindRoughness
)

// Bindings of the bloom compute set.
const (
	bindBloomOutput uint32 = iota
	bindBloomInput
	bindBloomAccumulation
	bindBloomScene
)

// Bindings of the composite and final sets.
const (
	bindCompositeScene uint32 = iota
	bindCompositeBloom
	bindCompositeDirt
)

const (
	bindDOFOutput uint32 = iota
	bindDOFColor
	bindDOFDepth
)

const bindFinalColor uint32 = 0

// Bindings of the depth resolve set.
const (
	bindDepthResolveOutput uint32 = iota
	bindDepthResolveInput
)

func sampled(bindings ...uint32) []gpu.BindingLayout {
	out := make([]gpu.BindingLayout, len(bindings))
	for i, b := range bindings {
		out[i] = gpu.BindingLayout{Binding: b, Kind: gpu.BindingSampledImage}
	}
	return out
}

func sceneSetLayout(rayTracing bool) gpu.SetLayout {
	l := gpu.SetLayout{Bindings: []gpu.BindingLayout{
		{Binding: bindCamera, Kind: gpu.BindingUniformBuffer},
		{Binding: bindLights, Kind: gpu.BindingStorageBuffer},
	}}
	if rayTracing {
		l.Bindings = append(l.Bindings, gpu.BindingLayout{Binding: bindTLAS, Kind: gpu.BindingAccelerationStructure})
	}
	return l
}

type pipelines struct {
	geometry  gpu.Pipeline
	skybox    gpu.Pipeline
	lights    gpu.Pipeline
	bloom     gpu.Pipeline
	composite gpu.Pipeline
	dof       gpu.Pipeline
	final     gpu.Pipeline
	// nil unless the geometry pass is multisampled.
	depthResolve gpu.Pipeline
}

func createPipelines(ctx *gfx.Context, rayTracing bool) (*pipelines, error) {
	samples := ctx.Samples()
	scene := sceneSetLayout(rayTracing)
	p := &pipelines{}

	graphics := []struct {
		out  *gpu.Pipeline
		spec gpu.GraphicsPipelineSpec
	}{
		{&p.geometry, gpu.GraphicsPipelineSpec{
			Name:             "geometry",
			Shader:           "geometry",
			ColorFormats:     []gpu.Format{gpu.FormatRGBA16F},
			DepthFormat:      gpu.FormatD32,
			Samples:          samples,
			VertexStride:     math.Vertex3DStride,
			InstanceStride:   instanceStride,
			Sets:             []gpu.SetLayout{scene, {Bindings: sampled(bindAlbedo, bindNormal, bindRoughness)}},
			PushConstantSize: rasterConstantsSize,
			Cull:             gpu.CullBack,
			DepthTest:        true,
			DepthWrite:       true,
		}},
		{&p.skybox, gpu.GraphicsPipelineSpec{
			Name:             "skybox",
			Shader:           "skybox",
			ColorFormats:     []gpu.Format{gpu.FormatRGBA16F},
			DepthFormat:      gpu.FormatD32,
			Samples:          samples,
			Sets:             []gpu.SetLayout{scene},
			PushConstantSize: rasterConstantsSize,
			DepthTest:        true,
		}},
		{&p.lights, gpu.GraphicsPipelineSpec{
			Name:             "light-billboard",
			Shader:           "light_billboard",
			ColorFormats:     []gpu.Format{gpu.FormatRGBA16F},
			DepthFormat:      gpu.FormatD32,
			Samples:          samples,
			InstanceStride:   billboardSize,
			Sets:             []gpu.SetLayout{scene},
			PushConstantSize: rasterConstantsSize,
			Blend:            gpu.BlendAdditive,
			DepthTest:        true,
		}},
		{&p.composite, gpu.GraphicsPipelineSpec{
			Name:             "composite",
			Shader:           "composite",
			ColorFormats:     []gpu.Format{gpu.FormatRGBA16F},
			Samples:          1,
			Sets:             []gpu.SetLayout{{Bindings: sampled(bindCompositeScene, bindCompositeBloom, bindCompositeDirt)}},
			PushConstantSize: 16,
		}},
		{&p.final, gpu.GraphicsPipelineSpec{
			Name:             "final",
			Shader:           "final",
			ColorFormats:     []gpu.Format{gpu.FormatRGBA8},
			Samples:          1,
			Sets:             []gpu.SetLayout{{Bindings: sampled(bindFinalColor)}},
			PushConstantSize: 16,
		}},
	}
	for _, g := range graphics {
		pl, err := ctx.Device.CreateGraphicsPipeline(g.spec)
		if err != nil {
			p.destroy()
			return nil, fmt.Errorf("pipeline %q: %w", g.spec.Name, err)
		}
		*g.out = pl
	}

	compute := []struct {
		out  *gpu.Pipeline
		spec gpu.ComputePipelineSpec
	}{
		{&p.bloom, gpu.ComputePipelineSpec{
			Name:   "bloom",
			Shader: "bloom",
			Sets: []gpu.SetLayout{{Bindings: []gpu.BindingLayout{
				{Binding: bindBloomOutput, Kind: gpu.BindingStorageImage},
				{Binding: bindBloomInput, Kind: gpu.BindingSampledImage},
				{Binding: bindBloomAccumulation, Kind: gpu.BindingSampledImage},
				{Binding: bindBloomScene, Kind: gpu.BindingSampledImage},
			}}},
			PushConstantSize: 32,
			WorkgroupSize:    [3]uint32{workgroupSize, workgroupSize, 1},
		}},
		{&p.dof, gpu.ComputePipelineSpec{
			Name:   "dof",
			Shader: "dof",
			Sets: []gpu.SetLayout{{Bindings: []gpu.BindingLayout{
				{Binding: bindDOFOutput, Kind: gpu.BindingStorageImage},
				{Binding: bindDOFColor, Kind: gpu.BindingSampledImage},
				{Binding: bindDOFDepth, Kind: gpu.BindingSampledImage},
			}}},
			PushConstantSize: 32,
			WorkgroupSize:    [3]uint32{workgroupSize, workgroupSize, 1},
		}},
	}
	if samples > 1 {
		compute = append(compute, struct {
			out  *gpu.Pipeline
			spec gpu.ComputePipelineSpec
		}{&p.depthResolve, gpu.ComputePipelineSpec{
			Name:   "depth-resolve",
			Shader: "depth_resolve",
			Sets: []gpu.SetLayout{{Bindings: []gpu.BindingLayout{
				{Binding: bindDepthResolveOutput, Kind: gpu.BindingStorageImage},
				{Binding: bindDepthResolveInput, Kind: gpu.BindingSampledImage},
			}}},
			WorkgroupSize: [3]uint32{workgroupSize, workgroupSize, 1},
		}})
	}
	for _, c := range compute {
		pl, err := ctx.Device.CreateComputePipeline(c.spec)
		if err != nil {
			p.destroy()
			return nil, fmt.Errorf("pipeline %q: %w", c.spec.Name, err)
		}
		*c.out = pl
	}
	return p, nil
}

func (p *pipelines) destroy() {
	for _, pl := range []gpu.Pipeline{p.geometry, p.skybox, p.lights, p.bloom, p.composite, p.dof, p.final, p.depthResolve} {
		if pl != nil {
			pl.Destroy()
		}
	}
}
