package gpu

import (
	"fmt"
	"math/bits"
	"time"
)

// Infinite makes fence waits block until the fence signals.
const Infinite time.Duration = -1

type Format int

const (
	FormatUndefined Format = iota
	FormatRGBA8
	FormatBGRA8
	FormatRGBA16F
	FormatRGBA32F
	FormatR32F
	FormatD32
)

func (f Format) String() string {
	switch f {
	case FormatRGBA8:
		return "RGBA8"
	case FormatBGRA8:
		return "BGRA8"
	case FormatRGBA16F:
		return "RGBA16F"
	case FormatRGBA32F:
		return "RGBA32F"
	case FormatR32F:
		return "R32F"
	case FormatD32:
		return "D32"
	default:
		return "Undefined"
	}
}

func (f Format) IsDepth() bool {
	return f == FormatD32
}

// ImageUsage flags.
type ImageUsage uint32

const (
	UsageSampled ImageUsage = 1 << iota
	UsageStorage
	UsageColorAttachment
	UsageDepthAttachment
	UsageTransferSrc
	UsageTransferDst
)

// Layout is the type of an image layout.
type Layout int

const (
	LayoutUndefined Layout = iota
	LayoutGeneral
	LayoutColorAttachment
	LayoutDepthAttachment
	LayoutDepthRead
	LayoutShaderRead
	LayoutTransferSrc
	LayoutTransferDst
	LayoutPresent
)

func (l Layout) String() string {
	return [...]string{
		"Undefined", "General", "ColorAttachment", "DepthAttachment", "DepthRead",
		"ShaderRead", "TransferSrc", "TransferDst", "Present",
	}[l]
}

// Stage is the type of a synchronization scope.
type Stage uint32

const (
	StageTop Stage = 1 << iota
	StageVertexShader
	StageFragmentShader
	StageComputeShader
	StageColorOutput
	StageDepthOutput
	StageTransfer
	StageAccelBuild
	StageBottom
	StageNone Stage = 0
)

// Access is the type of a memory access scope.
type Access uint32

const (
	AccessShaderRead Access = 1 << iota
	AccessShaderWrite
	AccessColorWrite
	AccessDepthWrite
	AccessTransferRead
	AccessTransferWrite
	AccessAccelRead
	AccessAccelWrite
	AccessHostWrite
	AccessNone Access = 0
)

// ImageSpec fully describes an image. Two images with equal specs are
// interchangeable.
type ImageSpec struct {
	Name    string
	Width   uint32
	Height  uint32
	Format  Format
	Usage   ImageUsage
	Samples uint32
	Mips    uint32
}

func (s ImageSpec) String() string {
	return fmt.Sprintf("%s %dx%d %s samples=%d mips=%d", s.Name, s.Width, s.Height, s.Format, s.Samples, s.Mips)
}

// MipCount returns floor(log2(max(width, height))) + 1.
func MipCount(width, height uint32) uint32 {
	m := width
	if height > m {
		m = height
	}
	if m == 0 {
		return 1
	}
	return uint32(bits.Len32(m))
}

// MipExtent returns the size of mip level mip, never below one texel.
func MipExtent(width, height, mip uint32) (uint32, uint32) {
	w, h := width>>mip, height>>mip
	if w == 0 {
		w = 1
	}
	if h == 0 {
		h = 1
	}
	return w, h
}

type BufferUsage uint32

const (
	BufferVertex BufferUsage = 1 << iota
	BufferIndex
	BufferUniform
	BufferStorage
	BufferTransferSrc
	BufferTransferDst
	BufferDeviceAddress
	BufferAccelStorage
	BufferAccelInput
)

type BufferSpec struct {
	Name  string
	Size  uint64
	Usage BufferUsage
	// HostVisible buffers can be written with Buffer.Write.
	HostVisible bool
}

// Result is the outcome of acquire and present operations.
type Result int

const (
	Success Result = iota
	// Suboptimal is still usable but the swapchain should be recreated soon.
	Suboptimal
	// OutOfDate must be recreated before the next frame; the frame is dropped.
	OutOfDate
)

func (r Result) String() string {
	switch r {
	case Success:
		return "Success"
	case Suboptimal:
		return "Suboptimal"
	case OutOfDate:
		return "OutOfDate"
	}
	return "Unknown"
}

type SwapchainSpec struct {
	Width      uint32
	Height     uint32
	ImageCount int
	VSync      bool
}

type CullMode int

const (
	CullNone CullMode = iota
	CullBack
	CullFront
)

type BlendMode int

const (
	BlendNone BlendMode = iota
	BlendAlpha
	BlendAdditive
)

type BindingKind int

const (
	BindingUniformBuffer BindingKind = iota
	BindingStorageBuffer
	BindingSampledImage
	BindingStorageImage
	BindingAccelerationStructure
)

// BindingLayout describes one descriptor slot of a pipeline set.
type BindingLayout struct {
	Binding uint32
	Kind    BindingKind
}

// SetLayout describes one descriptor set of a pipeline.
type SetLayout struct {
	Bindings []BindingLayout
}

// GraphicsPipelineSpec describes a raster pipeline. Attachment formats
// select a compatible render pass.
type GraphicsPipelineSpec struct {
	Name         string
	Shader       string
	ColorFormats []Format
	DepthFormat  Format
	Samples      uint32
	VertexStride uint32
	// InstanceStride is non-zero when the pipeline reads per-instance data
	// from vertex buffer binding 1.
	InstanceStride   uint32
	Sets             []SetLayout
	PushConstantSize uint32
	Cull             CullMode
	Blend            BlendMode
	DepthTest        bool
	DepthWrite       bool
}

type ComputePipelineSpec struct {
	Name             string
	Shader           string
	Sets             []SetLayout
	PushConstantSize uint32
	WorkgroupSize    [3]uint32
}

type PipelineKind int

const (
	PipelineGraphics PipelineKind = iota
	PipelineCompute
)

// Attachment is one render pass attachment. Mip selects the level used as
// the render target.
type Attachment struct {
	Image      Image
	Mip        uint32
	Clear      bool
	ClearColor [4]float32
	ClearDepth float32
	// Resolve, when set, receives the multisample resolve of Image.
	Resolve Image
}

type RenderPassDesc struct {
	Name  string
	Color []Attachment
	Depth *Attachment
}

type Viewport struct {
	X, Y, Width, Height float32
}

// Transition moves a mip range of an image between layouts.
type Transition struct {
	Image     Image
	BaseMip   uint32
	MipCount  uint32
	From      Layout
	To        Layout
	SrcStage  Stage
	DstStage  Stage
	SrcAccess Access
	DstAccess Access
}

type MemoryBarrier struct {
	SrcStage  Stage
	DstStage  Stage
	SrcAccess Access
	DstAccess Access
}

// Blit copies one mip of src into one mip of dst with linear filtering.
type Blit struct {
	Src    Image
	SrcMip uint32
	Dst    Image
	DstMip uint32
}

type BufferCopy struct {
	Src       Buffer
	SrcOffset uint64
	Dst       Buffer
	DstOffset uint64
	Size      uint64
}

// BufferImageCopy uploads tightly packed texels into one mip of an image in
// LayoutTransferDst.
type BufferImageCopy struct {
	Src    Buffer
	Offset uint64
	Dst    Image
	Mip    uint32
}

// Submission is one queue submission.
type Submission struct {
	CommandBuffers []CommandBuffer
	Wait           Semaphore
	WaitStage      Stage
	Signal         Semaphore
	Fence          Fence
}

type Features struct {
	RayTracing      bool
	Timestamps      bool
	DebugLabels     bool
	TimestampPeriod float32
	MaxSamples      uint32
}
