package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
)

// VulkanContext holds the instance level state shared by every object the
// device creates.
type VulkanContext struct {
	Instance  vk.Instance
	Allocator *vk.AllocationCallbacks
	Surface   vk.Surface

	debugMessenger vk.DebugReportCallback

	Device *VulkanDevice

	locks *VulkanLockPool

	// Linear clamp sampler used by every combined image sampler binding.
	sampler        vk.Sampler
	descriptorPool vk.DescriptorPool

	renderpasses map[renderPassKey]vk.RenderPass
	framebuffers map[framebufferKey]vk.Framebuffer

	shaders func(name string) ([]uint32, error)
}

// FindMemoryIndex returns the first memory type allowed by typeFilter that
// has all of propertyFlags.
func (vc *VulkanContext) FindMemoryIndex(typeFilter uint32, propertyFlags vk.MemoryPropertyFlags) (uint32, error) {
	memoryProperties := vc.Device.Memory
	for i := uint32(0); i < memoryProperties.MemoryTypeCount; i++ {
		memoryProperties.MemoryTypes[i].Deref()
		if typeFilter&(1<<i) != 0 && memoryProperties.MemoryTypes[i].PropertyFlags&propertyFlags == propertyFlags {
			return i, nil
		}
	}
	return 0, fmt.Errorf("no memory type matches filter %#x with properties %#x", typeFilter, uint32(propertyFlags))
}

func (vc *VulkanContext) allocate(reqs vk.MemoryRequirements, props vk.MemoryPropertyFlags) (vk.DeviceMemory, error) {
	index, err := vc.FindMemoryIndex(reqs.MemoryTypeBits, props)
	if err != nil {
		return vk.NullDeviceMemory, err
	}
	var memory vk.DeviceMemory
	res := vk.AllocateMemory(vc.Device.LogicalDevice, &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  reqs.Size,
		MemoryTypeIndex: index,
	}, vc.Allocator, &memory)
	if err := resultError("vkAllocateMemory", res); err != nil {
		return vk.NullDeviceMemory, err
	}
	return memory, nil
}

func (vc *VulkanContext) createSampler() error {
	var sampler vk.Sampler
	res := vk.CreateSampler(vc.Device.LogicalDevice, &vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               vk.FilterLinear,
		MinFilter:               vk.FilterLinear,
		MipmapMode:              vk.SamplerMipmapModeLinear,
		AddressModeU:            vk.SamplerAddressModeClampToEdge,
		AddressModeV:            vk.SamplerAddressModeClampToEdge,
		AddressModeW:            vk.SamplerAddressModeClampToEdge,
		MaxLod:                  1000,
		BorderColor:             vk.BorderColorFloatTransparentBlack,
		UnnormalizedCoordinates: vk.False,
		CompareEnable:           vk.False,
	}, vc.Allocator, &sampler)
	if err := resultError("vkCreateSampler", res); err != nil {
		return err
	}
	vc.sampler = sampler
	return nil
}

func (vc *VulkanContext) createDescriptorPool() error {
	sizes := []vk.DescriptorPoolSize{
		{Type: vk.DescriptorTypeUniformBuffer, DescriptorCount: maxDescriptorsPerType},
		{Type: vk.DescriptorTypeStorageBuffer, DescriptorCount: maxDescriptorsPerType},
		{Type: vk.DescriptorTypeCombinedImageSampler, DescriptorCount: maxDescriptorsPerType},
		{Type: vk.DescriptorTypeStorageImage, DescriptorCount: maxDescriptorsPerType},
	}
	var pool vk.DescriptorPool
	res := vk.CreateDescriptorPool(vc.Device.LogicalDevice, &vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		Flags:         vk.DescriptorPoolCreateFlags(vk.DescriptorPoolCreateFreeDescriptorSetBit),
		MaxSets:       maxDescriptorSets,
		PoolSizeCount: uint32(len(sizes)),
		PPoolSizes:    sizes,
	}, vc.Allocator, &pool)
	if err := resultError("vkCreateDescriptorPool", res); err != nil {
		return err
	}
	vc.descriptorPool = pool
	return nil
}
