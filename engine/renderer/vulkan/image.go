package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

type viewKey struct {
	baseMip  uint32
	mipCount uint32
}

// VulkanImage is an image with its memory and one view per mip range that
// was asked for. Swapchain images do not own their handle or memory.
type VulkanImage struct {
	Handle vk.Image
	Memory vk.DeviceMemory
	Width  uint32
	Height uint32

	device *Device
	spec   gpu.ImageSpec
	owned  bool
	views  map[viewKey]vk.ImageView
}

func (d *Device) CreateImage(spec gpu.ImageSpec) (gpu.Image, error) {
	if spec.Width == 0 || spec.Height == 0 {
		return nil, fmt.Errorf("%w: image %q is %dx%d", core.ErrInvalidDimensions, spec.Name, spec.Width, spec.Height)
	}
	if spec.Samples == 0 {
		spec.Samples = 1
	}
	if spec.Mips == 0 {
		spec.Mips = 1
	}
	format := vkFormat(spec.Format)
	if spec.Format.IsDepth() {
		format = d.context.Device.DepthFormat
	}
	if format == vk.FormatUndefined {
		return nil, fmt.Errorf("%w: image format %s", core.ErrUnsupported, spec.Format)
	}

	logical := d.context.Device.LogicalDevice
	var handle vk.Image
	res := vk.CreateImage(logical, &vk.ImageCreateInfo{
		SType:         vk.StructureTypeImageCreateInfo,
		ImageType:     vk.ImageType2d,
		Format:        format,
		Extent:        vk.Extent3D{Width: spec.Width, Height: spec.Height, Depth: 1},
		MipLevels:     spec.Mips,
		ArrayLayers:   1,
		Samples:       vkSamples(spec.Samples),
		Tiling:        vk.ImageTilingOptimal,
		Usage:         vkImageUsage(spec.Usage),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}, d.context.Allocator, &handle)
	if err := resultError("vkCreateImage "+spec.Name, res); err != nil {
		return nil, err
	}

	var reqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(logical, handle, &reqs)
	reqs.Deref()
	memory, err := d.context.allocate(reqs, vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
	if err != nil {
		vk.DestroyImage(logical, handle, d.context.Allocator)
		return nil, fmt.Errorf("image %q: %w", spec.Name, err)
	}
	if err := resultError("vkBindImageMemory", vk.BindImageMemory(logical, handle, memory, 0)); err != nil {
		vk.DestroyImage(logical, handle, d.context.Allocator)
		vk.FreeMemory(logical, memory, d.context.Allocator)
		return nil, err
	}

	d.live.Add(1)
	return &VulkanImage{
		Handle: handle,
		Memory: memory,
		Width:  spec.Width,
		Height: spec.Height,
		device: d,
		spec:   spec,
		owned:  true,
		views:  make(map[viewKey]vk.ImageView),
	}, nil
}

func wrapSwapchainImage(d *Device, handle vk.Image, spec gpu.ImageSpec) *VulkanImage {
	return &VulkanImage{
		Handle: handle,
		Width:  spec.Width,
		Height: spec.Height,
		device: d,
		spec:   spec,
		views:  make(map[viewKey]vk.ImageView),
	}
}

func (img *VulkanImage) Spec() gpu.ImageSpec { return img.spec }

func (img *VulkanImage) format() vk.Format {
	if img.spec.Format.IsDepth() {
		return img.device.context.Device.DepthFormat
	}
	return vkFormat(img.spec.Format)
}

// View returns the view of mipCount levels starting at baseMip, creating it
// on first use. A mipCount of zero covers the remaining levels.
func (img *VulkanImage) View(baseMip, mipCount uint32) (vk.ImageView, error) {
	if mipCount == 0 || baseMip+mipCount > img.spec.Mips {
		mipCount = img.spec.Mips - baseMip
	}
	key := viewKey{baseMip: baseMip, mipCount: mipCount}

	var view vk.ImageView
	err := img.device.context.locks.SafeCall(CacheManagement, func() error {
		if v, ok := img.views[key]; ok {
			view = v
			return nil
		}
		res := vk.CreateImageView(img.device.context.Device.LogicalDevice, &vk.ImageViewCreateInfo{
			SType:    vk.StructureTypeImageViewCreateInfo,
			Image:    img.Handle,
			ViewType: vk.ImageViewType2d,
			Format:   img.format(),
			Components: vk.ComponentMapping{
				R: vk.ComponentSwizzleIdentity,
				G: vk.ComponentSwizzleIdentity,
				B: vk.ComponentSwizzleIdentity,
				A: vk.ComponentSwizzleIdentity,
			},
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask:     vkAspect(img.spec.Format),
				BaseMipLevel:   baseMip,
				LevelCount:     mipCount,
				BaseArrayLayer: 0,
				LayerCount:     1,
			},
		}, img.device.context.Allocator, &view)
		if err := resultError("vkCreateImageView "+img.spec.Name, res); err != nil {
			return err
		}
		img.views[key] = view
		return nil
	})
	return view, err
}

func (img *VulkanImage) destroyViews() {
	ctx := img.device.context
	_ = ctx.locks.SafeCall(CacheManagement, func() error {
		for key, view := range img.views {
			ctx.forgetView(view)
			vk.DestroyImageView(ctx.Device.LogicalDevice, view, ctx.Allocator)
			delete(img.views, key)
		}
		return nil
	})
}

func (img *VulkanImage) Destroy() {
	if img.Handle == nil {
		return
	}
	img.destroyViews()
	if img.owned {
		logical := img.device.context.Device.LogicalDevice
		vk.DestroyImage(logical, img.Handle, img.device.context.Allocator)
		vk.FreeMemory(logical, img.Memory, img.device.context.Allocator)
		img.device.live.Add(-1)
	}
	img.Handle = nil
	img.Memory = vk.NullDeviceMemory
}

func asImage(i gpu.Image) *VulkanImage {
	if i == nil {
		return nil
	}
	img, ok := i.(*VulkanImage)
	if !ok {
		core.LogFatal("vulkan: foreign image %T", i)
	}
	return img
}
