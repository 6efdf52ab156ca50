package accel

import (
	"fmt"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

// TopLevel is the per-slot top-level structure together with the buffers
// that feed it. It is reused by later frames of the same slot.
type TopLevel struct {
	structure gpu.AccelerationStructure
	scratch   gpu.Buffer
	staging   gpu.Buffer
	instances gpu.Buffer

	capacity uint32
	count    uint32
	updated  bool
	// The structure was last built with AllowUpdate.
	updatable bool
}

func (t *TopLevel) Structure() gpu.AccelerationStructure { return t.structure }

func (t *TopLevel) InstanceCount() uint32 { return t.count }

// Updated reports whether the last build refit the structure in place.
func (t *TopLevel) Updated() bool { return t.updated }

func (t *TopLevel) destroy() {
	for _, d := range []gpu.Destroyer{t.structure, t.scratch, t.staging, t.instances} {
		if d != nil {
			d.Destroy()
		}
	}
}

// BuildTLAS stages the instances into the slot's instance buffer and
// records the top-level build. The slot's previous frame must have
// retired.
func (p *PatchedInstances) BuildTLAS(cmd gpu.CommandBuffer, slot int) (*TopLevel, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	b := p.builder
	count := uint32(len(p.instances))
	t, err := b.instanceStorage(slot, count)
	if err != nil {
		return nil, err
	}

	data := make([]byte, int(max(count, 1))*gpu.InstanceSize)
	for i, in := range p.instances {
		in.Encode(data[i*gpu.InstanceSize:])
	}
	if err := t.staging.Write(0, data); err != nil {
		return nil, fmt.Errorf("instance staging: %w", err)
	}
	cmd.CopyBuffer(gpu.BufferCopy{Src: t.staging, Dst: t.instances, Size: uint64(len(data))})
	cmd.Barrier(gpu.MemoryBarrier{
		SrcStage:  gpu.StageTransfer,
		DstStage:  gpu.StageAccelBuild,
		SrcAccess: gpu.AccessTransferWrite,
		DstAccess: gpu.AccessAccelRead,
	})

	info := gpu.AccelBuildInfo{
		Kind: gpu.TopLevel,
		Mode: gpu.AccelBuild,
		Instances: gpu.InstanceInput{
			Address: t.instances.DeviceAddress(),
			Count:   count,
			Buffer:  t.instances,
		},
		AllowUpdate: b.update,
	}
	sizes, err := b.ctx.Device.AccelBuildSizes(info)
	if err != nil {
		return nil, fmt.Errorf("top-level sizes: %w", err)
	}

	canUpdate := b.update && t.updatable && t.structure != nil && t.count == count && t.structure.Size() >= sizes.StructureSize
	if !canUpdate && (t.structure == nil || t.structure.Size() < sizes.StructureSize) {
		if t.structure != nil {
			t.structure.Destroy()
		}
		if t.structure, err = b.ctx.Device.CreateAccelerationStructure(gpu.TopLevel, sizes.StructureSize); err != nil {
			return nil, fmt.Errorf("top-level structure: %w", err)
		}
	}

	scratchSize := sizes.BuildScratchSize
	if canUpdate {
		scratchSize = sizes.UpdateScratchSize
	}
	if t.scratch == nil || t.scratch.Spec().Size < scratchSize {
		if t.scratch != nil {
			t.scratch.Destroy()
		}
		t.scratch, err = b.ctx.Device.CreateBuffer(gpu.BufferSpec{
			Name:  "tlas-scratch",
			Size:  max(scratchSize, 1),
			Usage: gpu.BufferStorage | gpu.BufferDeviceAddress,
		})
		if err != nil {
			return nil, fmt.Errorf("top-level scratch: %w", err)
		}
	}

	info.Dst = t.structure
	info.Scratch = t.scratch
	if canUpdate {
		info.Mode = gpu.AccelUpdate
		info.Src = t.structure
	}
	cmd.BuildAccelerationStructures(info)
	cmd.Barrier(gpu.MemoryBarrier{
		SrcStage:  gpu.StageAccelBuild,
		DstStage:  gpu.StageFragmentShader | gpu.StageComputeShader,
		SrcAccess: gpu.AccessAccelWrite,
		DstAccess: gpu.AccessAccelRead,
	})

	t.count = count
	t.updated = canUpdate
	t.updatable = info.AllowUpdate
	return t, nil
}

// instanceStorage returns the slot's TopLevel with buffers large enough
// for count instances.
func (b *Builder) instanceStorage(slot int, count uint32) (*TopLevel, error) {
	t := b.tlas[slot]
	if t == nil {
		t = &TopLevel{}
		b.tlas[slot] = t
	}
	if t.capacity >= max(count, 1) {
		return t, nil
	}

	capacity := max(count, 16)
	size := uint64(capacity) * gpu.InstanceSize
	if t.staging != nil {
		t.staging.Destroy()
		t.instances.Destroy()
	}
	var err error
	t.staging, err = b.ctx.Device.CreateBuffer(gpu.BufferSpec{
		Name:        "tlas-instances-staging",
		Size:        size,
		Usage:       gpu.BufferTransferSrc,
		HostVisible: true,
	})
	if err != nil {
		return nil, err
	}
	t.instances, err = b.ctx.Device.CreateBuffer(gpu.BufferSpec{
		Name:  "tlas-instances",
		Size:  size,
		Usage: gpu.BufferTransferDst | gpu.BufferDeviceAddress | gpu.BufferAccelInput,
	})
	if err != nil {
		return nil, err
	}
	t.capacity = capacity
	// The instance buffer moved, so the next build cannot be a refit.
	t.count = ^uint32(0)
	core.LogDebug("top-level instance storage of slot %d resized to %d", slot, capacity)
	return t, nil
}
