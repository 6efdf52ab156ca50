package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

// VulkanBuffer is a buffer with dedicated memory. Host visible buffers stay
// mapped for their whole lifetime.
type VulkanBuffer struct {
	Handle vk.Buffer
	Memory vk.DeviceMemory

	device *Device
	spec   gpu.BufferSpec
	mapped unsafe.Pointer
}

func (d *Device) CreateBuffer(spec gpu.BufferSpec) (gpu.Buffer, error) {
	if spec.Size == 0 {
		return nil, fmt.Errorf("%w: buffer %q has zero size", core.ErrInvalidDimensions, spec.Name)
	}
	logical := d.context.Device.LogicalDevice

	var handle vk.Buffer
	res := vk.CreateBuffer(logical, &vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(spec.Size),
		Usage:       vkBufferUsage(spec.Usage),
		SharingMode: vk.SharingModeExclusive,
	}, d.context.Allocator, &handle)
	if err := resultError("vkCreateBuffer "+spec.Name, res); err != nil {
		return nil, err
	}

	props := vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)
	if spec.HostVisible {
		props = vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit)
	}

	var reqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(logical, handle, &reqs)
	reqs.Deref()
	memory, err := d.context.allocate(reqs, props)
	if err != nil {
		vk.DestroyBuffer(logical, handle, d.context.Allocator)
		return nil, fmt.Errorf("buffer %q: %w", spec.Name, err)
	}
	if err := resultError("vkBindBufferMemory", vk.BindBufferMemory(logical, handle, memory, 0)); err != nil {
		vk.DestroyBuffer(logical, handle, d.context.Allocator)
		vk.FreeMemory(logical, memory, d.context.Allocator)
		return nil, err
	}

	buf := &VulkanBuffer{Handle: handle, Memory: memory, device: d, spec: spec}
	if spec.HostVisible {
		var ptr unsafe.Pointer
		res := vk.MapMemory(logical, memory, 0, vk.DeviceSize(spec.Size), 0, &ptr)
		if err := resultError("vkMapMemory "+spec.Name, res); err != nil {
			vk.DestroyBuffer(logical, handle, d.context.Allocator)
			vk.FreeMemory(logical, memory, d.context.Allocator)
			return nil, err
		}
		buf.mapped = ptr
	}

	d.live.Add(1)
	return buf, nil
}

func (b *VulkanBuffer) Spec() gpu.BufferSpec { return b.spec }

func (b *VulkanBuffer) Write(offset uint64, data []byte) error {
	if b.mapped == nil {
		return fmt.Errorf("buffer %q is not host visible", b.spec.Name)
	}
	if offset+uint64(len(data)) > b.spec.Size {
		return fmt.Errorf("buffer %q: write of %d bytes at %d overflows size %d", b.spec.Name, len(data), offset, b.spec.Size)
	}
	if len(data) == 0 {
		return nil
	}
	vk.Memcopy(unsafe.Add(b.mapped, offset), data)
	return nil
}

// DeviceAddress is always zero: the backend does not enable buffer device
// addresses.
func (b *VulkanBuffer) DeviceAddress() uint64 { return 0 }

func (b *VulkanBuffer) Destroy() {
	if b.Handle == vk.NullBuffer {
		return
	}
	logical := b.device.context.Device.LogicalDevice
	if b.mapped != nil {
		vk.UnmapMemory(logical, b.Memory)
		b.mapped = nil
	}
	vk.DestroyBuffer(logical, b.Handle, b.device.context.Allocator)
	vk.FreeMemory(logical, b.Memory, b.device.context.Allocator)
	b.Handle = vk.NullBuffer
	b.Memory = vk.NullDeviceMemory
	b.device.live.Add(-1)
}

func asBuffer(buf gpu.Buffer) *VulkanBuffer {
	if buf == nil {
		return nil
	}
	b, ok := buf.(*VulkanBuffer)
	if !ok {
		core.LogFatal("vulkan: foreign buffer %T", buf)
	}
	return b
}
