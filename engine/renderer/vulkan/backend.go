package vulkan

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

// Surface is the window the device presents to.
type Surface interface {
	RequiredInstanceExtensions() []string
	InstanceProcAddr() unsafe.Pointer
	CreateSurface(instance vk.Instance) (vk.Surface, error)
}

type Options struct {
	ApplicationName string
	Window          Surface
	// Validation enables the Khronos validation layer and the debug report
	// callback when they are available.
	Validation  bool
	DebugLabels bool
	// Shaders loads SPIR-V by name, e.g. "geometry.vert".
	Shaders func(name string) ([]uint32, error)
}

// Device is the Vulkan implementation of gpu.Device.
type Device struct {
	context  *VulkanContext
	features gpu.Features
	// Count of live objects created through the device, reported on Destroy.
	live atomic.Int64
}

var _ gpu.Device = (*Device)(nil)

func NewDevice(opts Options) (*Device, error) {
	if opts.Window == nil {
		return nil, fmt.Errorf("%w: no window to present to", core.ErrInvalidConfig)
	}
	procAddr := opts.Window.InstanceProcAddr()
	if procAddr == nil {
		return nil, fmt.Errorf("%w: GetInstanceProcAddress is nil", core.ErrUnsupported)
	}
	vk.SetGetInstanceProcAddr(procAddr)
	if err := vk.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize vk: %w", err)
	}

	d := &Device{
		context: &VulkanContext{
			Allocator:    nil,
			Device:       &VulkanDevice{},
			locks:        NewVulkanLockPool(),
			renderpasses: make(map[renderPassKey]vk.RenderPass),
			framebuffers: make(map[framebufferKey]vk.Framebuffer),
			shaders:      opts.Shaders,
		},
	}
	if err := d.initialize(opts); err != nil {
		d.Destroy()
		return nil, err
	}
	return d, nil
}

func (d *Device) initialize(opts Options) error {
	ctx := d.context

	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 1, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(opts.ApplicationName),
		PEngineName:        VulkanSafeString("Lumen"),
	}
	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	extensions := append([]string{"VK_KHR_surface"}, opts.Window.RequiredInstanceExtensions()...)
	if runtime.GOOS == "darwin" {
		extensions = append(extensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		// VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR
		createInfo.Flags |= 1
	}

	var layers []string
	validation := opts.Validation && validationLayerAvailable()
	if opts.Validation && !validation {
		core.LogWarn("validation requested but %s is not installed", validationLayerName)
	}
	if validation {
		layers = append(layers, validationLayerName)
		extensions = append(extensions, vk.ExtDebugReportExtensionName)
	}
	for _, ext := range extensions {
		core.LogDebug("required instance extension: %s", ext)
	}

	createInfo.EnabledExtensionCount = uint32(len(extensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(extensions)
	createInfo.EnabledLayerCount = uint32(len(layers))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(layers)

	if err := resultError("vkCreateInstance", vk.CreateInstance(&createInfo, ctx.Allocator, &ctx.Instance)); err != nil {
		return err
	}
	if err := vk.InitInstance(ctx.Instance); err != nil {
		return err
	}
	core.LogInfo("Vulkan instance created")

	if validation {
		var dbg vk.DebugReportCallback
		res := vk.CreateDebugReportCallback(ctx.Instance, &vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: dbgCallbackFunc,
		}, nil, &dbg)
		if err := resultError("vkCreateDebugReportCallback", res); err != nil {
			return err
		}
		ctx.debugMessenger = dbg
		core.LogDebug("Vulkan debug callback created")
	}

	surface, err := opts.Window.CreateSurface(ctx.Instance)
	if err != nil {
		return fmt.Errorf("failed to create platform surface: %w", err)
	}
	ctx.Surface = surface

	if err := DeviceCreate(ctx); err != nil {
		return err
	}
	if err := ctx.createSampler(); err != nil {
		return err
	}
	if err := ctx.createDescriptorPool(); err != nil {
		return err
	}

	limits := ctx.Device.Properties.Limits
	d.features = gpu.Features{
		RayTracing:      false,
		Timestamps:      limits.TimestampComputeAndGraphics == vk.True && limits.TimestampPeriod > 0,
		DebugLabels:     false,
		TimestampPeriod: limits.TimestampPeriod,
		MaxSamples:      maxSampleCount(limits.FramebufferColorSampleCounts & limits.FramebufferDepthSampleCounts),
	}
	if opts.DebugLabels {
		core.LogDebug("debug labels requested; labels only annotate recording errors")
	}
	core.LogInfo("Vulkan device ready: msaa up to %dx, timestamps %t", d.features.MaxSamples, d.features.Timestamps)
	return nil
}

func validationLayerAvailable() bool {
	var count uint32
	if vk.EnumerateInstanceLayerProperties(&count, nil) != vk.Success {
		return false
	}
	layers := make([]vk.LayerProperties, count)
	if vk.EnumerateInstanceLayerProperties(&count, layers) != vk.Success {
		return false
	}
	for i := range layers {
		layers[i].Deref()
		if cString(layers[i].LayerName[:]) == validationLayerName {
			return true
		}
	}
	return false
}

// Features never reports RayTracing or DebugLabels. The device is created
// without VK_KHR_acceleration_structure, VK_KHR_buffer_device_address and
// VK_EXT_debug_utils, and none of vkGetAccelerationStructureBuildSizesKHR,
// vkCreateAccelerationStructureKHR, vkCmdBuildAccelerationStructuresKHR,
// vkGetAccelerationStructureDeviceAddressKHR, vkGetBufferDeviceAddress or
// vkCmdBeginDebugUtilsLabelEXT are called through goki/vulkan. The
// acceleration structure entry points below return core.ErrUnsupported and
// the scene renderer falls back to raster only.
func (d *Device) Features() gpu.Features { return d.features }

func (d *Device) AccelBuildSizes(gpu.AccelBuildInfo) (gpu.AccelBuildSizes, error) {
	return gpu.AccelBuildSizes{}, core.ErrUnsupported
}

func (d *Device) CreateAccelerationStructure(gpu.AccelKind, uint64) (gpu.AccelerationStructure, error) {
	return nil, core.ErrUnsupported
}

// Submit hands the command buffers to the graphics queue. Every command
// buffer must have ended recording.
func (d *Device) Submit(subs ...gpu.Submission) error {
	infos := make([]vk.SubmitInfo, 0, len(subs))
	var fence vk.Fence = vk.NullFence
	for i, sub := range subs {
		handles := make([]vk.CommandBuffer, len(sub.CommandBuffers))
		for j, cb := range sub.CommandBuffers {
			vcb := cb.(*VulkanCommandBuffer)
			if vcb.State != CommandBufferStateRecordingEnded {
				return fmt.Errorf("submit: command buffer %d is %s", j, vcb.State)
			}
			handles[j] = vcb.Handle
		}
		info := vk.SubmitInfo{
			SType:              vk.StructureTypeSubmitInfo,
			CommandBufferCount: uint32(len(handles)),
			PCommandBuffers:    handles,
		}
		if sub.Wait != nil {
			info.WaitSemaphoreCount = 1
			info.PWaitSemaphores = []vk.Semaphore{asSemaphore(sub.Wait)}
			info.PWaitDstStageMask = []vk.PipelineStageFlags{vkStages(sub.WaitStage, vk.PipelineStageAllCommandsBit)}
		}
		if sub.Signal != nil {
			info.SignalSemaphoreCount = 1
			info.PSignalSemaphores = []vk.Semaphore{asSemaphore(sub.Signal)}
		}
		// vkQueueSubmit takes a single fence for the whole batch.
		if sub.Fence != nil {
			if fence != vk.NullFence {
				return fmt.Errorf("submit: only one fence per batch, submission %d has a second", i)
			}
			fence = asFence(sub.Fence)
		}
		infos = append(infos, info)
	}

	err := d.context.locks.SafeCall(QueueManagement, func() error {
		return resultError("vkQueueSubmit", vk.QueueSubmit(d.context.Device.GraphicsQueue, uint32(len(infos)), infos, fence))
	})
	if err != nil {
		return err
	}
	for _, sub := range subs {
		for _, cb := range sub.CommandBuffers {
			cb.(*VulkanCommandBuffer).State = CommandBufferStateSubmitted
		}
	}
	return nil
}

func (d *Device) WaitIdle() error {
	return d.context.locks.SafeCall(QueueManagement, func() error {
		return resultError("vkDeviceWaitIdle", vk.DeviceWaitIdle(d.context.Device.LogicalDevice))
	})
}

// Destroy tears the device down in reverse creation order. Objects still
// alive are reported, not freed.
func (d *Device) Destroy() {
	ctx := d.context
	if ctx == nil {
		return
	}
	if ctx.Device.LogicalDevice != nil {
		if err := d.WaitIdle(); err != nil {
			core.LogWarn("wait idle on destroy: %s", err)
		}
		if n := d.live.Load(); n != 0 {
			core.LogWarn("destroying vulkan device with %d live objects", n)
		}
		_ = ctx.locks.SafeCall(CacheManagement, func() error {
			ctx.destroyFramebuffers()
			ctx.destroyRenderPasses()
			return nil
		})
		if ctx.sampler != nil {
			vk.DestroySampler(ctx.Device.LogicalDevice, ctx.sampler, ctx.Allocator)
			ctx.sampler = nil
		}
		if ctx.descriptorPool != nil {
			vk.DestroyDescriptorPool(ctx.Device.LogicalDevice, ctx.descriptorPool, ctx.Allocator)
			ctx.descriptorPool = nil
		}
	}
	DeviceDestroy(ctx)

	if ctx.debugMessenger != vk.NullDebugReportCallback {
		vk.DestroyDebugReportCallback(ctx.Instance, ctx.debugMessenger, ctx.Allocator)
		ctx.debugMessenger = vk.NullDebugReportCallback
	}
	if ctx.Surface != vk.NullSurface {
		vk.DestroySurface(ctx.Instance, ctx.Surface, ctx.Allocator)
		ctx.Surface = vk.NullSurface
	}
	if ctx.Instance != nil {
		vk.DestroyInstance(ctx.Instance, ctx.Allocator)
		ctx.Instance = nil
	}
	d.context = nil
	core.LogInfo("Vulkan device destroyed")
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("vulkan: [%s] code %d: %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("vulkan: [%s] code %d: %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("vulkan performance: [%s] code %d: %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogDebug("vulkan: [%s] code %d: %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}
