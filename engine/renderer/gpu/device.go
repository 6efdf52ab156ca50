// Package gpu defines the backend-neutral GPU abstraction used by the
// renderer. Each resource kind has its own interface; backends may assert
// values back to their own concrete types, callers never do.
package gpu

import "time"

// Destroyer is implemented by every GPU object.
type Destroyer interface {
	Destroy()
}

type Image interface {
	Destroyer
	Spec() ImageSpec
}

type Buffer interface {
	Destroyer
	Spec() BufferSpec
	// Write copies data into a host-visible buffer at offset.
	Write(offset uint64, data []byte) error
	// DeviceAddress is zero unless BufferDeviceAddress was requested.
	DeviceAddress() uint64
}

type Fence interface {
	Destroyer
	// Wait blocks until the fence is signaled or timeout elapses, in which
	// case core.ErrTimeout is returned. Pass Infinite to block.
	Wait(timeout time.Duration) error
	Reset() error
	Signaled() bool
}

type Semaphore interface {
	Destroyer
}

type Swapchain interface {
	Destroyer
	Images() []Image
	Extent() (width, height uint32)
	// Acquire returns the index of the next presentable image. The
	// semaphore is signaled when the image is ready to be written.
	Acquire(signal Semaphore) (int, Result, error)
	Present(index int, wait Semaphore) (Result, error)
}

type Pipeline interface {
	Destroyer
	Name() string
	Kind() PipelineKind
}

// ImageView selects a mip range of an image for a descriptor. A MipCount
// of zero covers all remaining levels.
type ImageView struct {
	Image    Image
	BaseMip  uint32
	MipCount uint32
}

// DescriptorSet is an instance of one set layout of a pipeline.
type DescriptorSet interface {
	Destroyer
	Pipeline() Pipeline
	Set() uint32
	WriteBuffer(binding uint32, buf Buffer, offset, size uint64)
	WriteImage(binding uint32, view ImageView)
	WriteAccel(binding uint32, as AccelerationStructure)
}

type QueryPool interface {
	Destroyer
	Count() uint32
	// Results returns raw timestamps; ok is false when any query in the
	// range is not yet available.
	Results(first, count uint32) (values []uint64, ok bool, err error)
}

type AccelerationStructure interface {
	Destroyer
	Kind() AccelKind
	Address() uint64
	Size() uint64
}

// CommandBuffer records GPU work. Recording methods do not fail; errors
// surface on End or Submit.
type CommandBuffer interface {
	Destroyer
	Begin() error
	End() error
	Reset() error

	BeginRenderPass(desc RenderPassDesc)
	EndRenderPass()
	SetViewport(vp Viewport)
	BindPipeline(p Pipeline)
	BindDescriptorSet(ds DescriptorSet)
	PushConstants(p Pipeline, data []byte)
	BindVertexBuffers(first uint32, bufs []Buffer, offsets []uint64)
	BindIndexBuffer(buf Buffer, offset uint64)
	Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32)
	DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32)
	Dispatch(x, y, z uint32)

	Transition(ts ...Transition)
	Barrier(mb MemoryBarrier)
	Blit(b Blit)
	CopyBuffer(c BufferCopy)
	CopyBufferToImage(c BufferImageCopy)

	ResetQueries(pool QueryPool, first, count uint32)
	WriteTimestamp(pool QueryPool, query uint32, stage Stage)

	BuildAccelerationStructures(infos ...AccelBuildInfo)

	BeginLabel(name string, color [4]float32)
	EndLabel()
}

// Device creates GPU objects and owns the submission queue.
type Device interface {
	Features() Features

	CreateImage(spec ImageSpec) (Image, error)
	CreateBuffer(spec BufferSpec) (Buffer, error)
	CreateFence(signaled bool) (Fence, error)
	CreateSemaphore() (Semaphore, error)
	CreateCommandBuffer() (CommandBuffer, error)
	// CreateSwapchain builds a swapchain for the device surface. When old is
	// not nil its resources are handed over and it must not be used again.
	CreateSwapchain(spec SwapchainSpec, old Swapchain) (Swapchain, error)
	CreateGraphicsPipeline(spec GraphicsPipelineSpec) (Pipeline, error)
	CreateComputePipeline(spec ComputePipelineSpec) (Pipeline, error)
	CreateDescriptorSet(p Pipeline, set uint32) (DescriptorSet, error)
	CreateQueryPool(count uint32) (QueryPool, error)

	AccelBuildSizes(info AccelBuildInfo) (AccelBuildSizes, error)
	CreateAccelerationStructure(kind AccelKind, size uint64) (AccelerationStructure, error)

	Submit(subs ...Submission) error
	WaitIdle() error
	Destroy()
}
