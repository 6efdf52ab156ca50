package vulkan

import (
	"fmt"
	"math"
	"time"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

type VulkanFence struct {
	Handle vk.Fence

	device *Device
}

func (d *Device) CreateFence(signaled bool) (gpu.Fence, error) {
	info := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	// Signaled fences let the first wait on a frame slot return at once.
	if signaled {
		info.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}

	var handle vk.Fence
	if err := resultError("vkCreateFence", vk.CreateFence(d.context.Device.LogicalDevice, &info, d.context.Allocator, &handle)); err != nil {
		return nil, err
	}
	d.live.Add(1)
	return &VulkanFence{Handle: handle, device: d}, nil
}

func (vf *VulkanFence) Destroy() {
	if vf.Handle == vk.NullFence {
		return
	}
	vk.DestroyFence(vf.device.context.Device.LogicalDevice, vf.Handle, vf.device.context.Allocator)
	vf.Handle = vk.NullFence
	vf.device.live.Add(-1)
}

func (vf *VulkanFence) Wait(timeout time.Duration) error {
	ns := uint64(math.MaxUint64)
	if timeout >= 0 {
		ns = uint64(timeout.Nanoseconds())
	}
	res := vk.WaitForFences(vf.device.context.Device.LogicalDevice, 1, []vk.Fence{vf.Handle}, vk.True, ns)
	switch res {
	case vk.Success:
		return nil
	case vk.Timeout:
		return fmt.Errorf("%w: fence after %s", core.ErrTimeout, timeout)
	}
	return resultError("vkWaitForFences", res)
}

func (vf *VulkanFence) Reset() error {
	return resultError("vkResetFences", vk.ResetFences(vf.device.context.Device.LogicalDevice, 1, []vk.Fence{vf.Handle}))
}

func (vf *VulkanFence) Signaled() bool {
	return vk.GetFenceStatus(vf.device.context.Device.LogicalDevice, vf.Handle) == vk.Success
}

type VulkanSemaphore struct {
	Handle vk.Semaphore

	device *Device
}

func (d *Device) CreateSemaphore() (gpu.Semaphore, error) {
	var handle vk.Semaphore
	res := vk.CreateSemaphore(d.context.Device.LogicalDevice, &vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}, d.context.Allocator, &handle)
	if err := resultError("vkCreateSemaphore", res); err != nil {
		return nil, err
	}
	d.live.Add(1)
	return &VulkanSemaphore{Handle: handle, device: d}, nil
}

func (vs *VulkanSemaphore) Destroy() {
	if vs.Handle == nil {
		return
	}
	vk.DestroySemaphore(vs.device.context.Device.LogicalDevice, vs.Handle, vs.device.context.Allocator)
	vs.Handle = nil
	vs.device.live.Add(-1)
}

func asFence(f gpu.Fence) vk.Fence {
	if f == nil {
		return vk.NullFence
	}
	return f.(*VulkanFence).Handle
}

func asSemaphore(s gpu.Semaphore) vk.Semaphore {
	if s == nil {
		return nil
	}
	return s.(*VulkanSemaphore).Handle
}
