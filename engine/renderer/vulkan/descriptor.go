package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

/**
 * @brief One instance of a pipeline set layout, allocated from the shared
 * descriptor pool. Writes are applied immediately.
 */
type VulkanDescriptorSet struct {
	/** @brief The internal descriptor set handle. */
	Handle vk.DescriptorSet

	pipeline *VulkanPipeline
	set      uint32
}

func (d *Device) CreateDescriptorSet(p gpu.Pipeline, set uint32) (gpu.DescriptorSet, error) {
	vp := asPipeline(p)
	if int(set) >= len(vp.setLayouts) {
		return nil, fmt.Errorf("pipeline %q has no descriptor set %d", vp.name, set)
	}

	var handle vk.DescriptorSet
	err := d.context.locks.SafeCall(DescriptorManagement, func() error {
		res := vk.AllocateDescriptorSets(d.context.Device.LogicalDevice, &vk.DescriptorSetAllocateInfo{
			SType:              vk.StructureTypeDescriptorSetAllocateInfo,
			DescriptorPool:     d.context.descriptorPool,
			DescriptorSetCount: 1,
			PSetLayouts:        []vk.DescriptorSetLayout{vp.setLayouts[set]},
		}, &handle)
		return resultError("vkAllocateDescriptorSets "+vp.name, res)
	})
	if err != nil {
		return nil, err
	}
	d.live.Add(1)
	return &VulkanDescriptorSet{Handle: handle, pipeline: vp, set: set}, nil
}

func (ds *VulkanDescriptorSet) Pipeline() gpu.Pipeline { return ds.pipeline }
func (ds *VulkanDescriptorSet) Set() uint32            { return ds.set }

func (ds *VulkanDescriptorSet) kind(binding uint32) (gpu.BindingKind, bool) {
	for _, b := range ds.pipeline.sets[ds.set].Bindings {
		if b.Binding == binding {
			return b.Kind, true
		}
	}
	return 0, false
}

func (ds *VulkanDescriptorSet) WriteBuffer(binding uint32, buf gpu.Buffer, offset, size uint64) {
	kind, ok := ds.kind(binding)
	if !ok {
		core.LogError("descriptor set %s/%d has no binding %d", ds.pipeline.name, ds.set, binding)
		return
	}
	descriptorType, _ := vkDescriptorType(kind)
	ds.update(vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          ds.Handle,
		DstBinding:      binding,
		DescriptorCount: 1,
		DescriptorType:  descriptorType,
		PBufferInfo: []vk.DescriptorBufferInfo{{
			Buffer: asBuffer(buf).Handle,
			Offset: vk.DeviceSize(offset),
			Range:  vk.DeviceSize(size),
		}},
	})
}

func (ds *VulkanDescriptorSet) WriteImage(binding uint32, view gpu.ImageView) {
	kind, ok := ds.kind(binding)
	if !ok {
		core.LogError("descriptor set %s/%d has no binding %d", ds.pipeline.name, ds.set, binding)
		return
	}
	img := asImage(view.Image)
	handle, err := img.View(view.BaseMip, view.MipCount)
	if err != nil {
		core.LogError("descriptor set %s/%d binding %d: %s", ds.pipeline.name, ds.set, binding, err)
		return
	}

	info := vk.DescriptorImageInfo{ImageView: handle}
	descriptorType, _ := vkDescriptorType(kind)
	switch kind {
	case gpu.BindingStorageImage:
		info.ImageLayout = vk.ImageLayoutGeneral
	default:
		info.Sampler = ds.pipeline.device.context.sampler
		info.ImageLayout = vk.ImageLayoutShaderReadOnlyOptimal
		if img.spec.Format.IsDepth() {
			info.ImageLayout = vk.ImageLayoutDepthStencilReadOnlyOptimal
		}
	}
	ds.update(vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          ds.Handle,
		DstBinding:      binding,
		DescriptorCount: 1,
		DescriptorType:  descriptorType,
		PImageInfo:      []vk.DescriptorImageInfo{info},
	})
}

// WriteAccel is a no-op here: pipelines with acceleration structure bindings
// are refused at creation.
func (ds *VulkanDescriptorSet) WriteAccel(binding uint32, _ gpu.AccelerationStructure) {
	core.LogWarn("descriptor set %s/%d binding %d: acceleration structures are not supported", ds.pipeline.name, ds.set, binding)
}

func (ds *VulkanDescriptorSet) update(write vk.WriteDescriptorSet) {
	vk.UpdateDescriptorSets(ds.pipeline.device.context.Device.LogicalDevice, 1, []vk.WriteDescriptorSet{write}, 0, nil)
}

func (ds *VulkanDescriptorSet) Destroy() {
	if ds.Handle == nil {
		return
	}
	ctx := ds.pipeline.device.context
	_ = ctx.locks.SafeCall(DescriptorManagement, func() error {
		return resultError("vkFreeDescriptorSets", vk.FreeDescriptorSets(ctx.Device.LogicalDevice, ctx.descriptorPool, 1, &ds.Handle))
	})
	ds.Handle = nil
	ds.pipeline.device.live.Add(-1)
}
