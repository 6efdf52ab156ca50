// Package accel builds the ray tracing acceleration structures.
//
// A frame goes through four typed stages:
//
//	b.SubmitMeshDrawData(...)         // per draw-list key
//	c := b.CollectGeometry()          // *Collection
//	addrs, _ := c.BuildBLAS(cmd)      // AddressMap
//	p, _ := c.PatchInstances(addrs)   // *PatchedInstances
//	tlas, _ := p.BuildTLAS(cmd, slot) // *TopLevel
//
// Instances only reach BuildTLAS after their bottom-level addresses have
// been patched in.
package accel

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/gfx"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// Key identifies one bottom-level structure.
type Key struct {
	Mesh    uuid.UUID
	Submesh uint32
}

// AddressMap maps each key to the device address of its built BLAS.
type AddressMap map[Key]uint64

type entry struct {
	key       Key
	geometry  gpu.TriangleGeometry
	instances []gpu.Instance
}

type bottomLevel struct {
	structure gpu.AccelerationStructure
	scratch   gpu.Buffer
}

func (b *bottomLevel) destroy() {
	b.structure.Destroy()
	b.scratch.Destroy()
}

type Builder struct {
	ctx    *gfx.Context
	update bool

	entries []*entry
	index   map[Key]*entry

	blas map[Key]*bottomLevel
	tlas []*TopLevel
}

func NewBuilder(ctx *gfx.Context) (*Builder, error) {
	if !ctx.Features().RayTracing {
		return nil, core.ErrUnsupported
	}
	return &Builder{
		ctx:    ctx,
		update: ctx.Config.TLASUpdate == core.TLASUpdate,
		index:  make(map[Key]*entry),
		blas:   make(map[Key]*bottomLevel),
		tlas:   make([]*TopLevel, ctx.FramesInFlight),
	}, nil
}

// SetUpdateMode switches between full top-level rebuilds and in-place
// updates when the instance count is unchanged.
func (b *Builder) SetUpdateMode(update bool) { b.update = update }

// SubmitMeshDrawData records the geometry of one submesh and one instance
// per transform. Instances carry a zero BLAS reference until patched.
func (b *Builder) SubmitMeshDrawData(mesh *metadata.Mesh, submesh uint32, transforms []math.Mat4, instanceCount uint32) {
	if int(instanceCount) > len(transforms) {
		instanceCount = uint32(len(transforms))
	}
	key := Key{Mesh: mesh.ID, Submesh: submesh}
	e, ok := b.index[key]
	if !ok {
		sm := mesh.Submeshes[submesh]
		e = &entry{
			key: key,
			geometry: gpu.TriangleGeometry{
				VertexAddress: mesh.VertexBuffer.DeviceAddress() + uint64(sm.BaseVertex)*uint64(mesh.VertexStride),
				IndexAddress:  mesh.IndexBuffer.DeviceAddress(),
				VertexStride:  mesh.VertexStride,
				VertexCount:   sm.VertexCount,
				IndexCount:    sm.IndexCount,
				FirstIndex:    sm.BaseIndex,
				Opaque:        true,
			},
		}
		b.index[key] = e
		b.entries = append(b.entries, e)
	}
	for _, t := range transforms[:instanceCount] {
		e.instances = append(e.instances, gpu.Instance{
			Transform: t.Affine3x4(),
			Mask:      0xFF,
			Flags:     gpu.InstanceFlagCullDisable,
		})
	}
}

// CollectGeometry hands the accumulated frame data over and resets the
// builder for the next frame.
func (b *Builder) CollectGeometry() *Collection {
	c := &Collection{builder: b, entries: b.entries}
	b.entries = nil
	b.index = make(map[Key]*entry)
	var custom uint32
	for _, e := range c.entries {
		for i := range e.instances {
			e.instances[i].CustomIndex = custom
			custom++
		}
	}
	return c
}

// Evict drops cached bottom-level structures of a mesh. The GPU must be
// done with them.
func (b *Builder) Evict(mesh uuid.UUID) {
	for k, bl := range b.blas {
		if k.Mesh == mesh {
			bl.destroy()
			delete(b.blas, k)
		}
	}
}

// Build runs every stage for one frame.
func (b *Builder) Build(cmd gpu.CommandBuffer, slot int) (*TopLevel, error) {
	c := b.CollectGeometry()
	addrs, err := c.BuildBLAS(cmd)
	if err != nil {
		return nil, err
	}
	p, err := c.PatchInstances(addrs)
	if err != nil {
		return nil, err
	}
	return p.BuildTLAS(cmd, slot)
}

// TopLevel returns the structure last built for slot, or nil.
func (b *Builder) TopLevel(slot int) *TopLevel { return b.tlas[slot] }

// Cached returns the number of bottom-level structures kept alive.
func (b *Builder) Cached() int { return len(b.blas) }

// Destroy releases everything. The GPU must be idle.
func (b *Builder) Destroy() {
	for k, bl := range b.blas {
		bl.destroy()
		delete(b.blas, k)
	}
	for i, t := range b.tlas {
		if t != nil {
			t.destroy()
			b.tlas[i] = nil
		}
	}
}

// Collection is the frame's geometry, ready for bottom-level builds.
type Collection struct {
	builder *Builder
	entries []*entry
}

func (c *Collection) Keys() []Key {
	keys := make([]Key, len(c.entries))
	for i, e := range c.entries {
		keys[i] = e.key
	}
	return keys
}

// InstanceCount is the number of instances across all keys.
func (c *Collection) InstanceCount() int {
	n := 0
	for _, e := range c.entries {
		n += len(e.instances)
	}
	return n
}

// BuildBLAS records builds for every key without a cached structure and
// returns the device address of every key.
func (c *Collection) BuildBLAS(cmd gpu.CommandBuffer) (AddressMap, error) {
	b := c.builder
	addrs := make(AddressMap, len(c.entries))
	var builds []gpu.AccelBuildInfo

	for _, e := range c.entries {
		if bl, ok := b.blas[e.key]; ok {
			addrs[e.key] = bl.structure.Address()
			continue
		}
		info := gpu.AccelBuildInfo{
			Kind:      gpu.BottomLevel,
			Mode:      gpu.AccelBuild,
			Triangles: []gpu.TriangleGeometry{e.geometry},
		}
		sizes, err := b.ctx.Device.AccelBuildSizes(info)
		if err != nil {
			return nil, fmt.Errorf("bottom-level sizes for %v: %w", e.key, err)
		}
		as, err := b.ctx.Device.CreateAccelerationStructure(gpu.BottomLevel, sizes.StructureSize)
		if err != nil {
			return nil, fmt.Errorf("bottom-level structure for %v: %w", e.key, err)
		}
		scratch, err := b.ctx.Device.CreateBuffer(gpu.BufferSpec{
			Name:  "blas-scratch",
			Size:  max(sizes.BuildScratchSize, 1),
			Usage: gpu.BufferStorage | gpu.BufferDeviceAddress,
		})
		if err != nil {
			as.Destroy()
			return nil, fmt.Errorf("bottom-level scratch for %v: %w", e.key, err)
		}
		info.Dst = as
		info.Scratch = scratch
		builds = append(builds, info)

		b.blas[e.key] = &bottomLevel{structure: as, scratch: scratch}
		addrs[e.key] = as.Address()
	}

	if len(builds) > 0 {
		cmd.BuildAccelerationStructures(builds...)
		cmd.Barrier(gpu.MemoryBarrier{
			SrcStage:  gpu.StageAccelBuild,
			DstStage:  gpu.StageAccelBuild,
			SrcAccess: gpu.AccessAccelWrite,
			DstAccess: gpu.AccessAccelRead,
		})
		core.LogDebug("built %d bottom-level structures (%d cached)", len(builds), len(b.blas))
	}
	return addrs, nil
}

// PatchInstances writes each key's BLAS address into its instances.
func (c *Collection) PatchInstances(addrs AddressMap) (*PatchedInstances, error) {
	p := &PatchedInstances{builder: c.builder, instances: make([]gpu.Instance, 0, c.InstanceCount())}
	for _, e := range c.entries {
		addr, ok := addrs[e.key]
		if !ok || addr == 0 {
			return nil, fmt.Errorf("%w: no bottom-level address for %v", core.ErrMissingAddress, e.key)
		}
		for _, in := range e.instances {
			in.AccelAddress = addr
			p.instances = append(p.instances, in)
		}
	}
	return p, nil
}

// PatchedInstances are instance records ready for the top-level build.
type PatchedInstances struct {
	builder   *Builder
	instances []gpu.Instance
}

func (p *PatchedInstances) Instances() []gpu.Instance { return p.instances }

// Validate checks every instance references a bottom-level structure.
func (p *PatchedInstances) Validate() error {
	for i, in := range p.instances {
		if in.AccelAddress == 0 {
			return fmt.Errorf("%w: instance %d", core.ErrUnpatchedInstance, i)
		}
	}
	return nil
}
