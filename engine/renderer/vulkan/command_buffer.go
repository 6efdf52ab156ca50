package vulkan

import (
	"fmt"
	"strings"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

type VulkanCommandBufferState int

const (
	CommandBufferStateReady VulkanCommandBufferState = iota
	CommandBufferStateRecording
	CommandBufferStateInRenderPass
	CommandBufferStateRecordingEnded
	CommandBufferStateSubmitted
	CommandBufferStateNotAllocated
)

func (s VulkanCommandBufferState) String() string {
	return [...]string{"ready", "recording", "in render pass", "ended", "submitted", "not allocated"}[s]
}

// VulkanCommandBuffer records into a primary command buffer of the graphics
// pool. The first recording error is kept and returned by End.
type VulkanCommandBuffer struct {
	Handle vk.CommandBuffer
	State  VulkanCommandBufferState

	device   *Device
	pipeline *VulkanPipeline
	labels   []string
	err      error
}

func (d *Device) CreateCommandBuffer() (gpu.CommandBuffer, error) {
	ctx := d.context
	handles := make([]vk.CommandBuffer, 1)
	err := ctx.locks.SafeCall(CommandPoolManagement, func() error {
		res := vk.AllocateCommandBuffers(ctx.Device.LogicalDevice, &vk.CommandBufferAllocateInfo{
			SType:              vk.StructureTypeCommandBufferAllocateInfo,
			CommandPool:        ctx.Device.GraphicsCommandPool,
			Level:              vk.CommandBufferLevelPrimary,
			CommandBufferCount: 1,
		}, handles)
		return resultError("vkAllocateCommandBuffers", res)
	})
	if err != nil {
		return nil, err
	}
	d.live.Add(1)
	return &VulkanCommandBuffer{Handle: handles[0], State: CommandBufferStateReady, device: d}, nil
}

func (v *VulkanCommandBuffer) Destroy() {
	if v.Handle == nil {
		return
	}
	ctx := v.device.context
	_ = ctx.locks.SafeCall(CommandPoolManagement, func() error {
		vk.FreeCommandBuffers(ctx.Device.LogicalDevice, ctx.Device.GraphicsCommandPool, 1, []vk.CommandBuffer{v.Handle})
		return nil
	})
	v.Handle = nil
	v.State = CommandBufferStateNotAllocated
	v.device.live.Add(-1)
}

func (v *VulkanCommandBuffer) fail(format string, args ...any) {
	if v.err != nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if len(v.labels) > 0 {
		msg = strings.Join(v.labels, "/") + ": " + msg
	}
	v.err = fmt.Errorf("command buffer: %s", msg)
}

// recording reports whether commands may be recorded. inPass selects
// whether the command belongs inside or outside a render pass.
func (v *VulkanCommandBuffer) recording(what string, inPass bool) bool {
	want := CommandBufferStateRecording
	if inPass {
		want = CommandBufferStateInRenderPass
	}
	if v.State != want {
		v.fail("%s while %s", what, v.State)
		return false
	}
	return v.err == nil
}

func (v *VulkanCommandBuffer) Begin() error {
	if v.State == CommandBufferStateRecording || v.State == CommandBufferStateInRenderPass {
		return fmt.Errorf("command buffer: begin while %s", v.State)
	}
	res := vk.BeginCommandBuffer(v.Handle, &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	})
	if err := resultError("vkBeginCommandBuffer", res); err != nil {
		return err
	}
	v.State = CommandBufferStateRecording
	v.pipeline = nil
	v.labels = v.labels[:0]
	v.err = nil
	return nil
}

func (v *VulkanCommandBuffer) End() error {
	if v.State == CommandBufferStateInRenderPass {
		v.fail("end inside render pass")
		vk.CmdEndRenderPass(v.Handle)
	}
	if v.State != CommandBufferStateRecording && v.State != CommandBufferStateInRenderPass {
		return fmt.Errorf("command buffer: end while %s", v.State)
	}
	if len(v.labels) > 0 {
		v.fail("%d labels left open", len(v.labels))
	}
	res := vk.EndCommandBuffer(v.Handle)
	v.State = CommandBufferStateRecordingEnded
	if v.err != nil {
		return v.err
	}
	return resultError("vkEndCommandBuffer", res)
}

func (v *VulkanCommandBuffer) Reset() error {
	if err := resultError("vkResetCommandBuffer", vk.ResetCommandBuffer(v.Handle, 0)); err != nil {
		return err
	}
	v.State = CommandBufferStateReady
	v.pipeline = nil
	v.labels = v.labels[:0]
	v.err = nil
	return nil
}

func (v *VulkanCommandBuffer) BeginRenderPass(desc gpu.RenderPassDesc) {
	if !v.recording("begin render pass "+desc.Name, false) {
		return
	}
	ctx := v.device.context
	key, err := renderPassKeyFor(ctx, desc)
	if err != nil {
		v.fail("%s", err)
		return
	}
	views, width, height, err := attachmentViews(desc)
	if err != nil {
		v.fail("%s", err)
		return
	}

	var rp vk.RenderPass
	var fb vk.Framebuffer
	if err := ctx.locks.SafeCall(CacheManagement, func() error {
		var err error
		if rp, err = ctx.renderPass(key); err != nil {
			return err
		}
		fb, err = ctx.framebuffer(key, views, width, height)
		return err
	}); err != nil {
		v.fail("render pass %s: %s", desc.Name, err)
		return
	}

	clears := clearValues(key, desc)
	vk.CmdBeginRenderPass(v.Handle, &vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  rp,
		Framebuffer: fb,
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: 0, Y: 0},
			Extent: vk.Extent2D{Width: width, Height: height},
		},
		ClearValueCount: uint32(len(clears)),
		PClearValues:    clears,
	}, vk.SubpassContentsInline)
	v.State = CommandBufferStateInRenderPass

	v.SetViewport(gpu.Viewport{Width: float32(width), Height: float32(height)})
}

func (v *VulkanCommandBuffer) EndRenderPass() {
	if !v.recording("end render pass", true) {
		return
	}
	vk.CmdEndRenderPass(v.Handle)
	v.State = CommandBufferStateRecording
}

// SetViewport sets the viewport and a scissor covering the same area.
func (v *VulkanCommandBuffer) SetViewport(vp gpu.Viewport) {
	if !v.recording("set viewport", true) {
		return
	}
	vk.CmdSetViewport(v.Handle, 0, 1, []vk.Viewport{{
		X:        vp.X,
		Y:        vp.Y,
		Width:    vp.Width,
		Height:   vp.Height,
		MinDepth: 0,
		MaxDepth: 1,
	}})
	vk.CmdSetScissor(v.Handle, 0, 1, []vk.Rect2D{{
		Offset: vk.Offset2D{X: int32(vp.X), Y: int32(vp.Y)},
		Extent: vk.Extent2D{Width: uint32(vp.Width), Height: uint32(vp.Height)},
	}})
}

func (v *VulkanCommandBuffer) BindPipeline(p gpu.Pipeline) {
	vp := asPipeline(p)
	if !v.recording("bind pipeline "+vp.name, vp.kind == gpu.PipelineGraphics) {
		return
	}
	vk.CmdBindPipeline(v.Handle, vp.bindPoint, vp.Handle)
	v.pipeline = vp
}

func (v *VulkanCommandBuffer) BindDescriptorSet(ds gpu.DescriptorSet) {
	set := ds.(*VulkanDescriptorSet)
	if v.err != nil {
		return
	}
	if v.pipeline == nil {
		v.fail("bind descriptor set %d with no pipeline bound", set.set)
		return
	}
	p := set.pipeline
	vk.CmdBindDescriptorSets(v.Handle, p.bindPoint, p.PipelineLayout, set.set, 1, []vk.DescriptorSet{set.Handle}, 0, nil)
}

func (v *VulkanCommandBuffer) PushConstants(p gpu.Pipeline, data []byte) {
	vp := asPipeline(p)
	if v.err != nil || len(data) == 0 {
		return
	}
	if uint32(len(data)) > vp.pushSize {
		v.fail("push constants of %d bytes exceed %d for %s", len(data), vp.pushSize, vp.name)
		return
	}
	vk.CmdPushConstants(v.Handle, vp.PipelineLayout, vp.pushStages, 0, uint32(len(data)), unsafe.Pointer(&data[0]))
}

func (v *VulkanCommandBuffer) BindVertexBuffers(first uint32, bufs []gpu.Buffer, offsets []uint64) {
	if !v.recording("bind vertex buffers", true) {
		return
	}
	handles := make([]vk.Buffer, len(bufs))
	offs := make([]vk.DeviceSize, len(bufs))
	for i, b := range bufs {
		handles[i] = asBuffer(b).Handle
		if i < len(offsets) {
			offs[i] = vk.DeviceSize(offsets[i])
		}
	}
	vk.CmdBindVertexBuffers(v.Handle, first, uint32(len(handles)), handles, offs)
}

func (v *VulkanCommandBuffer) BindIndexBuffer(buf gpu.Buffer, offset uint64) {
	if !v.recording("bind index buffer", true) {
		return
	}
	vk.CmdBindIndexBuffer(v.Handle, asBuffer(buf).Handle, vk.DeviceSize(offset), vk.IndexTypeUint32)
}

func (v *VulkanCommandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	if !v.recording("draw", true) {
		return
	}
	vk.CmdDraw(v.Handle, vertexCount, instanceCount, firstVertex, firstInstance)
}

func (v *VulkanCommandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	if !v.recording("draw indexed", true) {
		return
	}
	vk.CmdDrawIndexed(v.Handle, indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
}

func (v *VulkanCommandBuffer) Dispatch(x, y, z uint32) {
	if !v.recording("dispatch", false) {
		return
	}
	if v.pipeline == nil || v.pipeline.kind != gpu.PipelineCompute {
		v.fail("dispatch without a compute pipeline")
		return
	}
	vk.CmdDispatch(v.Handle, x, y, z)
}

func (v *VulkanCommandBuffer) Transition(ts ...gpu.Transition) {
	if len(ts) == 0 || !v.recording("transition", false) {
		return
	}
	var src, dst gpu.Stage
	barriers := make([]vk.ImageMemoryBarrier, 0, len(ts))
	for _, t := range ts {
		img := asImage(t.Image)
		count := t.MipCount
		if count == 0 {
			count = img.spec.Mips - t.BaseMip
		}
		src |= t.SrcStage
		dst |= t.DstStage
		barriers = append(barriers, vk.ImageMemoryBarrier{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       vkAccess(t.SrcAccess),
			DstAccessMask:       vkAccess(t.DstAccess),
			OldLayout:           vkLayout(t.From),
			NewLayout:           vkLayout(t.To),
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               img.Handle,
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask:     vkAspect(img.spec.Format),
				BaseMipLevel:   t.BaseMip,
				LevelCount:     count,
				BaseArrayLayer: 0,
				LayerCount:     1,
			},
		})
	}
	vk.CmdPipelineBarrier(v.Handle,
		vkStages(src, vk.PipelineStageTopOfPipeBit),
		vkStages(dst, vk.PipelineStageBottomOfPipeBit),
		0, 0, nil, 0, nil, uint32(len(barriers)), barriers)
}

func (v *VulkanCommandBuffer) Barrier(mb gpu.MemoryBarrier) {
	if !v.recording("barrier", false) {
		return
	}
	vk.CmdPipelineBarrier(v.Handle,
		vkStages(mb.SrcStage, vk.PipelineStageTopOfPipeBit),
		vkStages(mb.DstStage, vk.PipelineStageBottomOfPipeBit),
		0, 1, []vk.MemoryBarrier{{
			SType:         vk.StructureTypeMemoryBarrier,
			SrcAccessMask: vkAccess(mb.SrcAccess),
			DstAccessMask: vkAccess(mb.DstAccess),
		}}, 0, nil, 0, nil)
}

// Blit scales one mip into another. Src must be in LayoutTransferSrc and
// dst in LayoutTransferDst.
func (v *VulkanCommandBuffer) Blit(b gpu.Blit) {
	if !v.recording("blit", false) {
		return
	}
	src, dst := asImage(b.Src), asImage(b.Dst)
	sw, sh := gpu.MipExtent(src.Width, src.Height, b.SrcMip)
	dw, dh := gpu.MipExtent(dst.Width, dst.Height, b.DstMip)
	region := vk.ImageBlit{
		SrcSubresource: vk.ImageSubresourceLayers{
			AspectMask: vkAspect(src.spec.Format),
			MipLevel:   b.SrcMip,
			LayerCount: 1,
		},
		SrcOffsets: [2]vk.Offset3D{{}, {X: int32(sw), Y: int32(sh), Z: 1}},
		DstSubresource: vk.ImageSubresourceLayers{
			AspectMask: vkAspect(dst.spec.Format),
			MipLevel:   b.DstMip,
			LayerCount: 1,
		},
		DstOffsets: [2]vk.Offset3D{{}, {X: int32(dw), Y: int32(dh), Z: 1}},
	}
	vk.CmdBlitImage(v.Handle,
		src.Handle, vk.ImageLayoutTransferSrcOptimal,
		dst.Handle, vk.ImageLayoutTransferDstOptimal,
		1, []vk.ImageBlit{region}, vk.FilterLinear)
}

func (v *VulkanCommandBuffer) CopyBuffer(c gpu.BufferCopy) {
	if !v.recording("copy buffer", false) {
		return
	}
	vk.CmdCopyBuffer(v.Handle, asBuffer(c.Src).Handle, asBuffer(c.Dst).Handle, 1, []vk.BufferCopy{{
		SrcOffset: vk.DeviceSize(c.SrcOffset),
		DstOffset: vk.DeviceSize(c.DstOffset),
		Size:      vk.DeviceSize(c.Size),
	}})
}

func (v *VulkanCommandBuffer) CopyBufferToImage(c gpu.BufferImageCopy) {
	if !v.recording("copy buffer to image", false) {
		return
	}
	img := asImage(c.Dst)
	w, h := gpu.MipExtent(img.Width, img.Height, c.Mip)
	vk.CmdCopyBufferToImage(v.Handle, asBuffer(c.Src).Handle, img.Handle, vk.ImageLayoutTransferDstOptimal, 1, []vk.BufferImageCopy{{
		BufferOffset: vk.DeviceSize(c.Offset),
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask: vkAspect(img.spec.Format),
			MipLevel:   c.Mip,
			LayerCount: 1,
		},
		ImageExtent: vk.Extent3D{Width: w, Height: h, Depth: 1},
	}})
}

func (v *VulkanCommandBuffer) ResetQueries(pool gpu.QueryPool, first, count uint32) {
	if !v.recording("reset queries", false) {
		return
	}
	vk.CmdResetQueryPool(v.Handle, pool.(*VulkanQueryPool).Handle, first, count)
}

func (v *VulkanCommandBuffer) WriteTimestamp(pool gpu.QueryPool, query uint32, stage gpu.Stage) {
	if v.err != nil || (v.State != CommandBufferStateRecording && v.State != CommandBufferStateInRenderPass) {
		v.fail("write timestamp while %s", v.State)
		return
	}
	bits := vk.PipelineStageFlagBits(vkStages(stage, vk.PipelineStageBottomOfPipeBit))
	vk.CmdWriteTimestamp(v.Handle, bits, pool.(*VulkanQueryPool).Handle, query)
}

// BuildAccelerationStructures fails the recording; see Device.Features.
func (v *VulkanCommandBuffer) BuildAccelerationStructures(infos ...gpu.AccelBuildInfo) {
	if len(infos) == 0 {
		return
	}
	v.fail("%s", core.ErrUnsupported)
}

// Labels only annotate recording errors; no debug utils extension is
// loaded.
func (v *VulkanCommandBuffer) BeginLabel(name string, _ [4]float32) {
	v.labels = append(v.labels, name)
}

func (v *VulkanCommandBuffer) EndLabel() {
	if len(v.labels) == 0 {
		v.fail("end label without begin")
		return
	}
	v.labels = v.labels[:len(v.labels)-1]
}
