package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

const maxFramebufferAttachments = 2*maxColorAttachments + 1

type framebufferKey struct {
	pass   renderPassKey
	views  [maxFramebufferAttachments]vk.ImageView
	count  int
	width  uint32
	height uint32
}

func (k framebufferKey) uses(view vk.ImageView) bool {
	for i := 0; i < k.count; i++ {
		if k.views[i] == view {
			return true
		}
	}
	return false
}

// attachmentViews collects the views of desc in framebuffer order: colours,
// resolves, then depth. Views are created before CacheManagement is taken.
func attachmentViews(desc gpu.RenderPassDesc) ([]vk.ImageView, uint32, uint32, error) {
	views := make([]vk.ImageView, 0, maxFramebufferAttachments)
	var width, height uint32
	add := func(img gpu.Image, mip uint32) error {
		vi := asImage(img)
		view, err := vi.View(mip, 1)
		if err != nil {
			return err
		}
		w, h := gpu.MipExtent(vi.Width, vi.Height, mip)
		if width == 0 {
			width, height = w, h
		} else if w != width || h != height {
			return fmt.Errorf("render pass %q: attachment %s is %dx%d, expected %dx%d", desc.Name, vi.spec.Name, w, h, width, height)
		}
		views = append(views, view)
		return nil
	}

	for _, att := range desc.Color {
		if err := add(att.Image, att.Mip); err != nil {
			return nil, 0, 0, err
		}
	}
	for _, att := range desc.Color {
		if att.Resolve == nil {
			continue
		}
		if err := add(att.Resolve, 0); err != nil {
			return nil, 0, 0, err
		}
	}
	if desc.Depth != nil {
		if err := add(desc.Depth.Image, desc.Depth.Mip); err != nil {
			return nil, 0, 0, err
		}
	}
	return views, width, height, nil
}

// framebuffer returns the cached framebuffer for the views. Callers must
// hold CacheManagement.
func (vc *VulkanContext) framebuffer(pass renderPassKey, views []vk.ImageView, width, height uint32) (vk.Framebuffer, error) {
	key := framebufferKey{pass: pass.compatible(), count: len(views), width: width, height: height}
	copy(key.views[:], views)
	if fb, ok := vc.framebuffers[key]; ok {
		return fb, nil
	}

	rp, err := vc.renderPass(key.pass)
	if err != nil {
		return nil, err
	}
	var fb vk.Framebuffer
	res := vk.CreateFramebuffer(vc.Device.LogicalDevice, &vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      rp,
		AttachmentCount: uint32(len(views)),
		PAttachments:    views,
		Width:           width,
		Height:          height,
		Layers:          1,
	}, vc.Allocator, &fb)
	if err := resultError("vkCreateFramebuffer", res); err != nil {
		return nil, err
	}
	vc.framebuffers[key] = fb
	return fb, nil
}

// forgetView destroys every framebuffer built on view. Callers must hold
// CacheManagement.
func (vc *VulkanContext) forgetView(view vk.ImageView) {
	for key, fb := range vc.framebuffers {
		if key.uses(view) {
			vk.DestroyFramebuffer(vc.Device.LogicalDevice, fb, vc.Allocator)
			delete(vc.framebuffers, key)
		}
	}
}

func (vc *VulkanContext) destroyFramebuffers() {
	for key, fb := range vc.framebuffers {
		vk.DestroyFramebuffer(vc.Device.LogicalDevice, fb, vc.Allocator)
		delete(vc.framebuffers, key)
	}
}
