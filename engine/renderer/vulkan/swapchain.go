package vulkan

import (
	"fmt"
	"math"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

type VulkanSwapchainSupportInfo struct {
	Capabilities vk.SurfaceCapabilities
	Formats      []vk.SurfaceFormat
	PresentModes []vk.PresentMode
}

type VulkanSwapchain struct {
	Handle      vk.Swapchain
	ImageFormat vk.SurfaceFormat
	PresentMode vk.PresentMode
	extent      vk.Extent2D

	device *Device
	images []gpu.Image
}

func (d *Device) CreateSwapchain(spec gpu.SwapchainSpec, old gpu.Swapchain) (gpu.Swapchain, error) {
	if spec.Width == 0 || spec.Height == 0 {
		return nil, fmt.Errorf("%w: swapchain %dx%d", core.ErrInvalidDimensions, spec.Width, spec.Height)
	}
	device := d.context.Device

	// Support changes with the surface, so query it again on every create.
	if err := DeviceQuerySwapchainSupport(device.PhysicalDevice, d.context.Surface, &device.SwapchainSupport); err != nil {
		return nil, err
	}
	support := device.SwapchainSupport

	format, ok := chooseSurfaceFormat(support.Formats)
	if !ok {
		return nil, fmt.Errorf("%w: no 8-bit unorm surface format", core.ErrUnsupported)
	}
	presentMode := choosePresentMode(support.PresentModes, spec.VSync)
	extent := clampExtent(support.Capabilities, spec.Width, spec.Height)
	if extent.Width == 0 || extent.Height == 0 {
		return nil, fmt.Errorf("%w: surface extent is %dx%d", core.ErrInvalidDimensions, extent.Width, extent.Height)
	}
	imageCount := chooseImageCount(support.Capabilities, uint32(max(spec.ImageCount, 0)))

	info := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          d.context.Surface,
		MinImageCount:    imageCount,
		ImageFormat:      format.Format,
		ImageColorSpace:  format.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageTransferDstBit),
		PreTransform:     support.Capabilities.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      presentMode,
		Clipped:          vk.True,
		OldSwapchain:     vk.NullSwapchain,
	}
	if device.GraphicsQueueIndex != device.PresentQueueIndex {
		info.ImageSharingMode = vk.SharingModeConcurrent
		info.QueueFamilyIndexCount = 2
		info.PQueueFamilyIndices = []uint32{uint32(device.GraphicsQueueIndex), uint32(device.PresentQueueIndex)}
	} else {
		info.ImageSharingMode = vk.SharingModeExclusive
	}

	var previous *VulkanSwapchain
	if old != nil {
		previous = old.(*VulkanSwapchain)
		info.OldSwapchain = previous.Handle
	}

	var handle vk.Swapchain
	res := vk.CreateSwapchain(device.LogicalDevice, &info, d.context.Allocator, &handle)
	if previous != nil {
		previous.Destroy()
	}
	if err := resultError("vkCreateSwapchain", res); err != nil {
		return nil, err
	}

	var count uint32
	if err := resultError("vkGetSwapchainImages", vk.GetSwapchainImages(device.LogicalDevice, handle, &count, nil)); err != nil {
		vk.DestroySwapchain(device.LogicalDevice, handle, d.context.Allocator)
		return nil, err
	}
	handles := make([]vk.Image, count)
	if err := resultError("vkGetSwapchainImages", vk.GetSwapchainImages(device.LogicalDevice, handle, &count, handles)); err != nil {
		vk.DestroySwapchain(device.LogicalDevice, handle, d.context.Allocator)
		return nil, err
	}

	sc := &VulkanSwapchain{
		Handle:      handle,
		ImageFormat: format,
		PresentMode: presentMode,
		extent:      extent,
		device:      d,
		images:      make([]gpu.Image, count),
	}
	for i, h := range handles {
		sc.images[i] = wrapSwapchainImage(d, h, gpu.ImageSpec{
			Name:    fmt.Sprintf("swapchain_%d", i),
			Width:   extent.Width,
			Height:  extent.Height,
			Format:  gpuFormat(format.Format),
			Usage:   gpu.UsageColorAttachment | gpu.UsageTransferDst,
			Samples: 1,
			Mips:    1,
		})
	}

	d.live.Add(1)
	core.LogInfo("swapchain created: %dx%d, %d images, present mode %d", extent.Width, extent.Height, count, presentMode)
	return sc, nil
}

func (vs *VulkanSwapchain) Images() []gpu.Image { return vs.images }

func (vs *VulkanSwapchain) Extent() (uint32, uint32) { return vs.extent.Width, vs.extent.Height }

func (vs *VulkanSwapchain) Acquire(signal gpu.Semaphore) (int, gpu.Result, error) {
	var index uint32
	res := vk.AcquireNextImage(vs.device.context.Device.LogicalDevice, vs.Handle, math.MaxUint64, asSemaphore(signal), vk.NullFence, &index)
	switch res {
	case vk.Success:
		return int(index), gpu.Success, nil
	case vk.Suboptimal:
		return int(index), gpu.Suboptimal, nil
	case vk.ErrorOutOfDate:
		return 0, gpu.OutOfDate, nil
	}
	return 0, gpu.OutOfDate, resultError("vkAcquireNextImage", res)
}

func (vs *VulkanSwapchain) Present(index int, wait gpu.Semaphore) (gpu.Result, error) {
	info := vk.PresentInfo{
		SType:          vk.StructureTypePresentInfo,
		SwapchainCount: 1,
		PSwapchains:    []vk.Swapchain{vs.Handle},
		PImageIndices:  []uint32{uint32(index)},
	}
	if wait != nil {
		info.WaitSemaphoreCount = 1
		info.PWaitSemaphores = []vk.Semaphore{asSemaphore(wait)}
	}

	var res vk.Result
	_ = vs.device.context.locks.SafeCall(QueueManagement, func() error {
		res = vk.QueuePresent(vs.device.context.Device.PresentQueue, &info)
		return nil
	})
	switch res {
	case vk.Success:
		return gpu.Success, nil
	case vk.Suboptimal:
		return gpu.Suboptimal, nil
	case vk.ErrorOutOfDate:
		return gpu.OutOfDate, nil
	}
	return gpu.OutOfDate, resultError("vkQueuePresent", res)
}

func (vs *VulkanSwapchain) Destroy() {
	if vs.Handle == vk.NullSwapchain {
		return
	}
	for _, img := range vs.images {
		img.Destroy()
	}
	vs.images = nil
	vk.DestroySwapchain(vs.device.context.Device.LogicalDevice, vs.Handle, vs.device.context.Allocator)
	vs.Handle = vk.NullSwapchain
	vs.device.live.Add(-1)
}

// chooseSurfaceFormat prefers BGRA8 then RGBA8, both unorm so the final
// pass controls the transfer curve.
func chooseSurfaceFormat(formats []vk.SurfaceFormat) (vk.SurfaceFormat, bool) {
	for _, want := range []vk.Format{vk.FormatB8g8r8a8Unorm, vk.FormatR8g8b8a8Unorm} {
		for _, f := range formats {
			if f.Format == want && f.ColorSpace == vk.ColorSpaceSrgbNonlinear {
				return f, true
			}
		}
	}
	return vk.SurfaceFormat{}, false
}

func choosePresentMode(modes []vk.PresentMode, vsync bool) vk.PresentMode {
	if vsync {
		return vk.PresentModeFifo
	}
	for _, want := range []vk.PresentMode{vk.PresentModeMailbox, vk.PresentModeImmediate} {
		for _, m := range modes {
			if m == want {
				return m
			}
		}
	}
	return vk.PresentModeFifo
}

func clampExtent(caps vk.SurfaceCapabilities, width, height uint32) vk.Extent2D {
	if caps.CurrentExtent.Width != math.MaxUint32 {
		return caps.CurrentExtent
	}
	return vk.Extent2D{
		Width:  min(max(width, caps.MinImageExtent.Width), caps.MaxImageExtent.Width),
		Height: min(max(height, caps.MinImageExtent.Height), caps.MaxImageExtent.Height),
	}
}

func chooseImageCount(caps vk.SurfaceCapabilities, requested uint32) uint32 {
	count := max(requested, caps.MinImageCount)
	if caps.MaxImageCount > 0 && count > caps.MaxImageCount {
		count = caps.MaxImageCount
	}
	return count
}
