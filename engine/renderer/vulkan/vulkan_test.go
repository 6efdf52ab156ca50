package vulkan

import (
	"math"
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/lumen/engine/core"
	lmath "github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

func TestVertexInputForMeshes(t *testing.T) {
	in, err := vertexInputState(lmath.Vertex3DStride, 0)
	require.NoError(t, err)
	require.Len(t, in.Bindings, 1)
	assert.Equal(t, uint32(lmath.Vertex3DStride), in.Bindings[0].Stride)
	require.Len(t, in.Attributes, 4)

	offsets := []uint32{0, 12, 24, 32}
	for i, a := range in.Attributes {
		assert.Equal(t, uint32(i), a.Location)
		assert.Equal(t, offsets[i], a.Offset)
	}
	assert.Equal(t, vk.FormatR32g32Sfloat, in.Attributes[2].Format)
}

func TestVertexInputWithInstances(t *testing.T) {
	in, err := vertexInputState(lmath.Vertex3DStride, 80)
	require.NoError(t, err)
	require.Len(t, in.Bindings, 2)
	assert.Equal(t, vk.VertexInputRateInstance, in.Bindings[1].InputRate)

	rows := in.Attributes[4:]
	require.Len(t, rows, 5)
	for i, a := range rows {
		assert.Equal(t, uint32(firstInstanceLocation+i), a.Location)
		assert.Equal(t, uint32(1), a.Binding)
		assert.Equal(t, uint32(i*16), a.Offset)
	}
}

func TestVertexInputRejectsUnknownStrides(t *testing.T) {
	_, err := vertexInputState(32, 0)
	assert.Error(t, err)

	_, err = vertexInputState(0, 40)
	assert.Error(t, err)

	in, err := vertexInputState(0, 48)
	require.NoError(t, err)
	assert.Len(t, in.Attributes, 3)
}

func TestMaxSampleCount(t *testing.T) {
	all := vk.SampleCountFlags(vk.SampleCount1Bit | vk.SampleCount2Bit | vk.SampleCount4Bit | vk.SampleCount8Bit | vk.SampleCount16Bit)
	assert.Equal(t, uint32(8), maxSampleCount(all))
	assert.Equal(t, uint32(4), maxSampleCount(vk.SampleCountFlags(vk.SampleCount1Bit|vk.SampleCount4Bit)))
	assert.Equal(t, uint32(1), maxSampleCount(vk.SampleCountFlags(vk.SampleCount1Bit)))
}

func TestDescriptorTypes(t *testing.T) {
	kind, ok := vkDescriptorType(gpu.BindingSampledImage)
	require.True(t, ok)
	assert.Equal(t, vk.DescriptorTypeCombinedImageSampler, kind)

	_, ok = vkDescriptorType(gpu.BindingAccelerationStructure)
	assert.False(t, ok)
}

func TestAccelerationStructuresUnsupported(t *testing.T) {
	d := &Device{}
	assert.False(t, d.Features().RayTracing)
	_, err := d.AccelBuildSizes(gpu.AccelBuildInfo{Kind: gpu.TopLevel, AllowUpdate: true})
	assert.ErrorIs(t, err, core.ErrUnsupported)
	_, err = d.CreateAccelerationStructure(gpu.BottomLevel, 256)
	assert.ErrorIs(t, err, core.ErrUnsupported)
}

func TestStageFallback(t *testing.T) {
	assert.Equal(t, vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit), vkStages(gpu.StageNone, vk.PipelineStageTopOfPipeBit))
	got := vkStages(gpu.StageDepthOutput, vk.PipelineStageTopOfPipeBit)
	assert.NotZero(t, got&vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit))
	assert.NotZero(t, got&vk.PipelineStageFlags(vk.PipelineStageLateFragmentTestsBit))
}

func TestFormats(t *testing.T) {
	assert.Equal(t, vk.FormatR16g16b16a16Sfloat, vkFormat(gpu.FormatRGBA16F))
	assert.Equal(t, vk.FormatUndefined, vkFormat(gpu.FormatUndefined))
	assert.Equal(t, gpu.FormatBGRA8, gpuFormat(vk.FormatB8g8r8a8Unorm))
	assert.Equal(t, gpu.FormatUndefined, gpuFormat(vk.FormatB8g8r8a8Srgb))
}

func TestChoosePresentMode(t *testing.T) {
	modes := []vk.PresentMode{vk.PresentModeFifo, vk.PresentModeImmediate, vk.PresentModeMailbox}
	assert.Equal(t, vk.PresentModeFifo, choosePresentMode(modes, true))
	assert.Equal(t, vk.PresentModeMailbox, choosePresentMode(modes, false))
	assert.Equal(t, vk.PresentModeImmediate, choosePresentMode(modes[:2], false))
	assert.Equal(t, vk.PresentModeFifo, choosePresentMode(modes[:1], false))
}

func TestChooseSurfaceFormat(t *testing.T) {
	formats := []vk.SurfaceFormat{
		{Format: vk.FormatB8g8r8a8Srgb, ColorSpace: vk.ColorSpaceSrgbNonlinear},
		{Format: vk.FormatR8g8b8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear},
	}
	f, ok := chooseSurfaceFormat(formats)
	require.True(t, ok)
	assert.Equal(t, vk.FormatR8g8b8a8Unorm, f.Format)

	_, ok = chooseSurfaceFormat(formats[:1])
	assert.False(t, ok)
}

func TestClampExtent(t *testing.T) {
	caps := vk.SurfaceCapabilities{
		CurrentExtent:  vk.Extent2D{Width: math.MaxUint32, Height: math.MaxUint32},
		MinImageExtent: vk.Extent2D{Width: 16, Height: 16},
		MaxImageExtent: vk.Extent2D{Width: 4096, Height: 2048},
	}
	got := clampExtent(caps, 8000, 8)
	assert.Equal(t, vk.Extent2D{Width: 4096, Height: 16}, got)

	caps.CurrentExtent = vk.Extent2D{Width: 800, Height: 600}
	assert.Equal(t, caps.CurrentExtent, clampExtent(caps, 1, 1))
}

func TestChooseImageCount(t *testing.T) {
	caps := vk.SurfaceCapabilities{MinImageCount: 2, MaxImageCount: 3}
	assert.Equal(t, uint32(3), chooseImageCount(caps, 3))
	assert.Equal(t, uint32(2), chooseImageCount(caps, 0))
	assert.Equal(t, uint32(3), chooseImageCount(caps, 5))

	caps.MaxImageCount = 0
	assert.Equal(t, uint32(5), chooseImageCount(caps, 5))
}

func TestRenderPassCompatibleIgnoresLoadOps(t *testing.T) {
	a := renderPassKey{colorCount: 1, samples: 4, depth: vk.FormatD32Sfloat, depthClear: true}
	a.colors[0] = attachmentSignature{format: vk.FormatR16g16b16a16Sfloat, clear: true, resolve: true}
	b := a
	b.colors[0].clear = false
	b.depthClear = false

	assert.NotEqual(t, a, b)
	assert.Equal(t, a.compatible(), b.compatible())
	assert.Equal(t, 1, a.resolveCount())
}

func TestClearValuesFollowAttachmentOrder(t *testing.T) {
	key := renderPassKey{colorCount: 2, samples: 4, depth: vk.FormatD32Sfloat}
	key.colors[0] = attachmentSignature{format: vk.FormatR16g16b16a16Sfloat, resolve: true}
	key.colors[1] = attachmentSignature{format: vk.FormatR16g16b16a16Sfloat, resolve: true}
	desc := gpu.RenderPassDesc{
		Color: []gpu.Attachment{{}, {}},
		Depth: &gpu.Attachment{ClearDepth: 1},
	}
	assert.Len(t, clearValues(key, desc), 5)
}

func TestFramebufferKeyUsesOnlyCountedViews(t *testing.T) {
	var k framebufferKey
	k.count = 1
	assert.True(t, k.uses(nil))
	k.count = 0
	assert.False(t, k.uses(nil))
}

func TestSafeStrings(t *testing.T) {
	assert.Equal(t, "main\x00", VulkanSafeString("main"))
	assert.Equal(t, "main\x00", VulkanSafeString("main\x00"))

	in := []string{"a", "b"}
	out := VulkanSafeStrings(in)
	assert.Equal(t, []string{"a\x00", "b\x00"}, out)
	assert.Equal(t, "a", in[0])
}

func TestCString(t *testing.T) {
	name := make([]byte, 32)
	copy(name, validationLayerName)
	assert.Equal(t, len(validationLayerName), FindFirstZeroInByteArray(name))
	assert.Equal(t, validationLayerName, cString(name))
	assert.Equal(t, 3, FindFirstZeroInByteArray([]byte("abc")))
}

func TestResultError(t *testing.T) {
	assert.NoError(t, resultError("vkThing", vk.Success))
	assert.NoError(t, resultError("vkThing", vk.Suboptimal))
	err := resultError("vkThing", vk.ErrorDeviceLost)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vkThing")
}
