package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

/**
 * @brief Holds a Vulkan pipeline, its layout and the descriptor set layouts
 * it was built from.
 */
type VulkanPipeline struct {
	/** @brief The internal pipeline handle. */
	Handle vk.Pipeline
	/** @brief The pipeline layout. */
	PipelineLayout vk.PipelineLayout

	name       string
	kind       gpu.PipelineKind
	bindPoint  vk.PipelineBindPoint
	sets       []gpu.SetLayout
	setLayouts []vk.DescriptorSetLayout
	pushStages vk.ShaderStageFlags
	pushSize   uint32
	device     *Device
}

func (p *VulkanPipeline) Name() string           { return p.name }
func (p *VulkanPipeline) Kind() gpu.PipelineKind { return p.kind }

func (d *Device) CreateGraphicsPipeline(spec gpu.GraphicsPipelineSpec) (gpu.Pipeline, error) {
	ctx := d.context
	input, err := vertexInputState(spec.VertexStride, spec.InstanceStride)
	if err != nil {
		return nil, fmt.Errorf("pipeline %q: %w", spec.Name, err)
	}
	if spec.Samples > d.features.MaxSamples {
		return nil, fmt.Errorf("%w: pipeline %q wants %d samples, device allows %d", core.ErrUnsupported, spec.Name, spec.Samples, d.features.MaxSamples)
	}

	stages := vk.ShaderStageFlags(vk.ShaderStageVertexBit | vk.ShaderStageFragmentBit)
	p, err := d.newPipelineLayout(spec.Name, spec.Sets, spec.PushConstantSize, stages)
	if err != nil {
		return nil, err
	}
	p.kind = gpu.PipelineGraphics
	p.bindPoint = vk.PipelineBindPointGraphics

	vert, err := NewShaderStage(ctx, spec.Shader, "vert", vk.ShaderStageVertexBit)
	if err != nil {
		p.Destroy()
		return nil, err
	}
	defer vert.Destroy(ctx)
	frag, err := NewShaderStage(ctx, spec.Shader, "frag", vk.ShaderStageFragmentBit)
	if err != nil {
		p.Destroy()
		return nil, err
	}
	defer frag.Destroy(ctx)

	key, err := pipelineRenderPassKey(ctx, spec)
	if err != nil {
		p.Destroy()
		return nil, err
	}
	var renderPass vk.RenderPass
	if err := ctx.locks.SafeCall(CacheManagement, func() error {
		var err error
		renderPass, err = ctx.renderPass(key)
		return err
	}); err != nil {
		p.Destroy()
		return nil, err
	}

	// Viewport and scissor are dynamic; the counts still have to be set.
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}

	rasterizer := vk.PipelineRasterizationStateCreateInfo{
		SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        vk.False,
		RasterizerDiscardEnable: vk.False,
		PolygonMode:             vk.PolygonModeFill,
		LineWidth:               1.0,
		CullMode:                vkCullMode(spec.Cull),
		FrontFace:               vk.FrontFaceCounterClockwise,
		DepthBiasEnable:         vk.False,
	}

	multisampling := vk.PipelineMultisampleStateCreateInfo{
		SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
		SampleShadingEnable:  vk.False,
		RasterizationSamples: vkSamples(max(spec.Samples, 1)),
		MinSampleShading:     1.0,
	}

	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:             vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:   vk.False,
		DepthWriteEnable:  vk.False,
		DepthCompareOp:    vk.CompareOpLess,
		StencilTestEnable: vk.False,
	}
	if spec.DepthTest {
		depthStencil.DepthTestEnable = vk.True
	}
	if spec.DepthWrite {
		depthStencil.DepthWriteEnable = vk.True
	}

	blends := make([]vk.PipelineColorBlendAttachmentState, len(spec.ColorFormats))
	for i := range blends {
		blends[i] = blendAttachment(spec.Blend)
	}
	colorBlend := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vk.False,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: uint32(len(blends)),
		PAttachments:    blends,
	}

	dynamicStates := []vk.DynamicState{vk.DynamicStateViewport, vk.DynamicStateScissor}
	dynamicState := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	vertexInput := vk.PipelineVertexInputStateCreateInfo{
		SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount:   uint32(len(input.Bindings)),
		PVertexBindingDescriptions:      input.Bindings,
		VertexAttributeDescriptionCount: uint32(len(input.Attributes)),
		PVertexAttributeDescriptions:    input.Attributes,
	}

	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               vk.PrimitiveTopologyTriangleList,
		PrimitiveRestartEnable: vk.False,
	}

	info := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          2,
		PStages:             []vk.PipelineShaderStageCreateInfo{vert.ShaderStageCreateInfo, frag.ShaderStageCreateInfo},
		PVertexInputState:   &vertexInput,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizer,
		PMultisampleState:   &multisampling,
		PColorBlendState:    &colorBlend,
		PDynamicState:       &dynamicState,
		Layout:              p.PipelineLayout,
		RenderPass:          renderPass,
		Subpass:             0,
		BasePipelineHandle:  vk.NullPipeline,
		BasePipelineIndex:   -1,
	}
	if spec.DepthFormat != gpu.FormatUndefined {
		info.PDepthStencilState = &depthStencil
	}

	pipelines := make([]vk.Pipeline, 1)
	res := vk.CreateGraphicsPipelines(ctx.Device.LogicalDevice, vk.NullPipelineCache, 1, []vk.GraphicsPipelineCreateInfo{info}, ctx.Allocator, pipelines)
	if err := resultError("vkCreateGraphicsPipelines "+spec.Name, res); err != nil {
		p.Destroy()
		return nil, err
	}
	p.Handle = pipelines[0]

	d.live.Add(1)
	core.LogDebug("graphics pipeline %s created", spec.Name)
	return p, nil
}

func (d *Device) CreateComputePipeline(spec gpu.ComputePipelineSpec) (gpu.Pipeline, error) {
	ctx := d.context
	p, err := d.newPipelineLayout(spec.Name, spec.Sets, spec.PushConstantSize, vk.ShaderStageFlags(vk.ShaderStageComputeBit))
	if err != nil {
		return nil, err
	}
	p.kind = gpu.PipelineCompute
	p.bindPoint = vk.PipelineBindPointCompute

	comp, err := NewShaderStage(ctx, spec.Shader, "comp", vk.ShaderStageComputeBit)
	if err != nil {
		p.Destroy()
		return nil, err
	}
	defer comp.Destroy(ctx)

	pipelines := make([]vk.Pipeline, 1)
	res := vk.CreateComputePipelines(ctx.Device.LogicalDevice, vk.NullPipelineCache, 1, []vk.ComputePipelineCreateInfo{{
		SType:              vk.StructureTypeComputePipelineCreateInfo,
		Stage:              comp.ShaderStageCreateInfo,
		Layout:             p.PipelineLayout,
		BasePipelineHandle: vk.NullPipeline,
		BasePipelineIndex:  -1,
	}}, ctx.Allocator, pipelines)
	if err := resultError("vkCreateComputePipelines "+spec.Name, res); err != nil {
		p.Destroy()
		return nil, err
	}
	p.Handle = pipelines[0]

	d.live.Add(1)
	core.LogDebug("compute pipeline %s created", spec.Name)
	return p, nil
}

// newPipelineLayout builds the descriptor set layouts and the pipeline
// layout. Every binding is visible to all the given stages.
func (d *Device) newPipelineLayout(name string, sets []gpu.SetLayout, pushSize uint32, stages vk.ShaderStageFlags) (*VulkanPipeline, error) {
	ctx := d.context
	p := &VulkanPipeline{
		name:       name,
		sets:       sets,
		pushStages: stages,
		pushSize:   pushSize,
		device:     d,
	}

	for i, set := range sets {
		bindings := make([]vk.DescriptorSetLayoutBinding, 0, len(set.Bindings))
		for _, b := range set.Bindings {
			kind, ok := vkDescriptorType(b.Kind)
			if !ok {
				p.Destroy()
				return nil, fmt.Errorf("%w: pipeline %q set %d binding %d needs ray tracing", core.ErrUnsupported, name, i, b.Binding)
			}
			bindings = append(bindings, vk.DescriptorSetLayoutBinding{
				Binding:         b.Binding,
				DescriptorType:  kind,
				DescriptorCount: 1,
				StageFlags:      stages,
			})
		}
		var layout vk.DescriptorSetLayout
		res := vk.CreateDescriptorSetLayout(ctx.Device.LogicalDevice, &vk.DescriptorSetLayoutCreateInfo{
			SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
			BindingCount: uint32(len(bindings)),
			PBindings:    bindings,
		}, ctx.Allocator, &layout)
		if err := resultError("vkCreateDescriptorSetLayout", res); err != nil {
			p.Destroy()
			return nil, err
		}
		p.setLayouts = append(p.setLayouts, layout)
	}

	info := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: uint32(len(p.setLayouts)),
		PSetLayouts:    p.setLayouts,
	}
	if pushSize > 0 {
		info.PushConstantRangeCount = 1
		info.PPushConstantRanges = []vk.PushConstantRange{{
			StageFlags: stages,
			Offset:     0,
			Size:       pushSize,
		}}
	}
	var layout vk.PipelineLayout
	if err := resultError("vkCreatePipelineLayout", vk.CreatePipelineLayout(ctx.Device.LogicalDevice, &info, ctx.Allocator, &layout)); err != nil {
		p.Destroy()
		return nil, err
	}
	p.PipelineLayout = layout
	return p, nil
}

func (p *VulkanPipeline) Destroy() {
	ctx := p.device.context
	if p.Handle != vk.NullPipeline {
		vk.DestroyPipeline(ctx.Device.LogicalDevice, p.Handle, ctx.Allocator)
		p.Handle = vk.NullPipeline
		p.device.live.Add(-1)
	}
	if p.PipelineLayout != nil {
		vk.DestroyPipelineLayout(ctx.Device.LogicalDevice, p.PipelineLayout, ctx.Allocator)
		p.PipelineLayout = nil
	}
	for _, l := range p.setLayouts {
		vk.DestroyDescriptorSetLayout(ctx.Device.LogicalDevice, l, ctx.Allocator)
	}
	p.setLayouts = nil
}

func asPipeline(p gpu.Pipeline) *VulkanPipeline {
	vp, ok := p.(*VulkanPipeline)
	if !ok {
		core.LogFatal("vulkan: foreign pipeline %T", p)
	}
	return vp
}
