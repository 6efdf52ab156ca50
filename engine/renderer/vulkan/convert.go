package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

func vkFormat(f gpu.Format) vk.Format {
	switch f {
	case gpu.FormatRGBA8:
		return vk.FormatR8g8b8a8Unorm
	case gpu.FormatBGRA8:
		return vk.FormatB8g8r8a8Unorm
	case gpu.FormatRGBA16F:
		return vk.FormatR16g16b16a16Sfloat
	case gpu.FormatRGBA32F:
		return vk.FormatR32g32b32a32Sfloat
	case gpu.FormatR32F:
		return vk.FormatR32Sfloat
	case gpu.FormatD32:
		return vk.FormatD32Sfloat
	}
	return vk.FormatUndefined
}

// gpuFormat maps a surface format back to the engine formats. Only the
// 8-bit unorm colour formats can be presented.
func gpuFormat(f vk.Format) gpu.Format {
	switch f {
	case vk.FormatR8g8b8a8Unorm:
		return gpu.FormatRGBA8
	case vk.FormatB8g8r8a8Unorm:
		return gpu.FormatBGRA8
	}
	return gpu.FormatUndefined
}

func vkImageUsage(u gpu.ImageUsage) vk.ImageUsageFlags {
	var flags vk.ImageUsageFlagBits
	if u&gpu.UsageSampled != 0 {
		flags |= vk.ImageUsageSampledBit
	}
	if u&gpu.UsageStorage != 0 {
		flags |= vk.ImageUsageStorageBit
	}
	if u&gpu.UsageColorAttachment != 0 {
		flags |= vk.ImageUsageColorAttachmentBit
	}
	if u&gpu.UsageDepthAttachment != 0 {
		flags |= vk.ImageUsageDepthStencilAttachmentBit
	}
	if u&gpu.UsageTransferSrc != 0 {
		flags |= vk.ImageUsageTransferSrcBit
	}
	if u&gpu.UsageTransferDst != 0 {
		flags |= vk.ImageUsageTransferDstBit
	}
	return vk.ImageUsageFlags(flags)
}

func vkBufferUsage(u gpu.BufferUsage) vk.BufferUsageFlags {
	var flags vk.BufferUsageFlagBits
	if u&gpu.BufferVertex != 0 {
		flags |= vk.BufferUsageVertexBufferBit
	}
	if u&gpu.BufferIndex != 0 {
		flags |= vk.BufferUsageIndexBufferBit
	}
	if u&gpu.BufferUniform != 0 {
		flags |= vk.BufferUsageUniformBufferBit
	}
	if u&gpu.BufferStorage != 0 {
		flags |= vk.BufferUsageStorageBufferBit
	}
	if u&gpu.BufferTransferSrc != 0 {
		flags |= vk.BufferUsageTransferSrcBit
	}
	if u&gpu.BufferTransferDst != 0 {
		flags |= vk.BufferUsageTransferDstBit
	}
	return vk.BufferUsageFlags(flags)
}

func vkLayout(l gpu.Layout) vk.ImageLayout {
	switch l {
	case gpu.LayoutGeneral:
		return vk.ImageLayoutGeneral
	case gpu.LayoutColorAttachment:
		return vk.ImageLayoutColorAttachmentOptimal
	case gpu.LayoutDepthAttachment:
		return vk.ImageLayoutDepthStencilAttachmentOptimal
	case gpu.LayoutDepthRead:
		return vk.ImageLayoutDepthStencilReadOnlyOptimal
	case gpu.LayoutShaderRead:
		return vk.ImageLayoutShaderReadOnlyOptimal
	case gpu.LayoutTransferSrc:
		return vk.ImageLayoutTransferSrcOptimal
	case gpu.LayoutTransferDst:
		return vk.ImageLayoutTransferDstOptimal
	case gpu.LayoutPresent:
		return vk.ImageLayoutPresentSrc
	}
	return vk.ImageLayoutUndefined
}

// vkStages converts a stage mask. An empty mask becomes fallback since
// barriers need at least one stage.
func vkStages(s gpu.Stage, fallback vk.PipelineStageFlagBits) vk.PipelineStageFlags {
	if s == gpu.StageNone {
		return vk.PipelineStageFlags(fallback)
	}
	var flags vk.PipelineStageFlagBits
	if s&gpu.StageTop != 0 {
		flags |= vk.PipelineStageTopOfPipeBit
	}
	if s&gpu.StageVertexShader != 0 {
		flags |= vk.PipelineStageVertexShaderBit
	}
	if s&gpu.StageFragmentShader != 0 {
		flags |= vk.PipelineStageFragmentShaderBit
	}
	if s&gpu.StageComputeShader != 0 {
		flags |= vk.PipelineStageComputeShaderBit
	}
	if s&gpu.StageColorOutput != 0 {
		flags |= vk.PipelineStageColorAttachmentOutputBit
	}
	if s&gpu.StageDepthOutput != 0 {
		flags |= vk.PipelineStageEarlyFragmentTestsBit | vk.PipelineStageLateFragmentTestsBit
	}
	if s&gpu.StageTransfer != 0 {
		flags |= vk.PipelineStageTransferBit
	}
	if s&gpu.StageAccelBuild != 0 {
		flags |= vk.PipelineStageAllCommandsBit
	}
	if s&gpu.StageBottom != 0 {
		flags |= vk.PipelineStageBottomOfPipeBit
	}
	return vk.PipelineStageFlags(flags)
}

func vkAccess(a gpu.Access) vk.AccessFlags {
	var flags vk.AccessFlagBits
	if a&gpu.AccessShaderRead != 0 {
		flags |= vk.AccessShaderReadBit
	}
	if a&gpu.AccessShaderWrite != 0 {
		flags |= vk.AccessShaderWriteBit
	}
	if a&gpu.AccessColorWrite != 0 {
		flags |= vk.AccessColorAttachmentWriteBit
	}
	if a&gpu.AccessDepthWrite != 0 {
		flags |= vk.AccessDepthStencilAttachmentWriteBit
	}
	if a&gpu.AccessTransferRead != 0 {
		flags |= vk.AccessTransferReadBit
	}
	if a&gpu.AccessTransferWrite != 0 {
		flags |= vk.AccessTransferWriteBit
	}
	if a&gpu.AccessAccelRead != 0 {
		flags |= vk.AccessMemoryReadBit
	}
	if a&gpu.AccessAccelWrite != 0 {
		flags |= vk.AccessMemoryWriteBit
	}
	if a&gpu.AccessHostWrite != 0 {
		flags |= vk.AccessHostWriteBit
	}
	return vk.AccessFlags(flags)
}

func vkAspect(f gpu.Format) vk.ImageAspectFlags {
	if f.IsDepth() {
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	}
	return vk.ImageAspectFlags(vk.ImageAspectColorBit)
}

func vkSamples(n uint32) vk.SampleCountFlagBits {
	switch n {
	case 2:
		return vk.SampleCount2Bit
	case 4:
		return vk.SampleCount4Bit
	case 8:
		return vk.SampleCount8Bit
	}
	return vk.SampleCount1Bit
}

// maxSampleCount returns the highest count of 8 or less present in flags.
func maxSampleCount(flags vk.SampleCountFlags) uint32 {
	for _, n := range []uint32{8, 4, 2} {
		if flags&vk.SampleCountFlags(vkSamples(n)) != 0 {
			return n
		}
	}
	return 1
}

func vkDescriptorType(k gpu.BindingKind) (vk.DescriptorType, bool) {
	switch k {
	case gpu.BindingUniformBuffer:
		return vk.DescriptorTypeUniformBuffer, true
	case gpu.BindingStorageBuffer:
		return vk.DescriptorTypeStorageBuffer, true
	case gpu.BindingSampledImage:
		return vk.DescriptorTypeCombinedImageSampler, true
	case gpu.BindingStorageImage:
		return vk.DescriptorTypeStorageImage, true
	}
	return 0, false
}

func vkCullMode(c gpu.CullMode) vk.CullModeFlags {
	switch c {
	case gpu.CullBack:
		return vk.CullModeFlags(vk.CullModeBackBit)
	case gpu.CullFront:
		return vk.CullModeFlags(vk.CullModeFrontBit)
	}
	return vk.CullModeFlags(vk.CullModeNone)
}

func blendAttachment(b gpu.BlendMode) vk.PipelineColorBlendAttachmentState {
	state := vk.PipelineColorBlendAttachmentState{
		ColorWriteMask: vk.ColorComponentFlags(vk.ColorComponentRBit | vk.ColorComponentGBit |
			vk.ColorComponentBBit | vk.ColorComponentABit),
	}
	switch b {
	case gpu.BlendAlpha:
		state.BlendEnable = vk.True
		state.SrcColorBlendFactor = vk.BlendFactorSrcAlpha
		state.DstColorBlendFactor = vk.BlendFactorOneMinusSrcAlpha
		state.ColorBlendOp = vk.BlendOpAdd
		state.SrcAlphaBlendFactor = vk.BlendFactorOne
		state.DstAlphaBlendFactor = vk.BlendFactorOneMinusSrcAlpha
		state.AlphaBlendOp = vk.BlendOpAdd
	case gpu.BlendAdditive:
		state.BlendEnable = vk.True
		state.SrcColorBlendFactor = vk.BlendFactorOne
		state.DstColorBlendFactor = vk.BlendFactorOne
		state.ColorBlendOp = vk.BlendOpAdd
		state.SrcAlphaBlendFactor = vk.BlendFactorOne
		state.DstAlphaBlendFactor = vk.BlendFactorOne
		state.AlphaBlendOp = vk.BlendOpAdd
	}
	return state
}
