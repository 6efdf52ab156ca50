package vulkan

import (
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

// VulkanQueryPool is a pool of timestamp queries.
type VulkanQueryPool struct {
	Handle vk.QueryPool

	device *Device
	count  uint32
}

func (d *Device) CreateQueryPool(count uint32) (gpu.QueryPool, error) {
	if !d.features.Timestamps {
		return nil, core.ErrUnsupported
	}
	var handle vk.QueryPool
	res := vk.CreateQueryPool(d.context.Device.LogicalDevice, &vk.QueryPoolCreateInfo{
		SType:      vk.StructureTypeQueryPoolCreateInfo,
		QueryType:  vk.QueryTypeTimestamp,
		QueryCount: count,
	}, d.context.Allocator, &handle)
	if err := resultError("vkCreateQueryPool", res); err != nil {
		return nil, err
	}
	d.live.Add(1)
	return &VulkanQueryPool{Handle: handle, device: d, count: count}, nil
}

func (q *VulkanQueryPool) Count() uint32 { return q.count }

func (q *VulkanQueryPool) Results(first, count uint32) ([]uint64, bool, error) {
	values := make([]uint64, count)
	if count == 0 {
		return values, true, nil
	}
	res := vk.GetQueryPoolResults(q.device.context.Device.LogicalDevice, q.Handle, first, count,
		uint64(count*8), unsafe.Pointer(&values[0]), 8, vk.QueryResultFlags(vk.QueryResult64Bit))
	switch res {
	case vk.Success:
		return values, true, nil
	case vk.NotReady:
		return nil, false, nil
	}
	return nil, false, resultError("vkGetQueryPoolResults", res)
}

func (q *VulkanQueryPool) Destroy() {
	if q.Handle == nil {
		return
	}
	vk.DestroyQueryPool(q.device.context.Device.LogicalDevice, q.Handle, q.device.context.Allocator)
	q.Handle = nil
	q.device.live.Add(-1)
}
