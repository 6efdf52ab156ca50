// Package material implements descriptor-binding records: one descriptor
// set per frame slot for a fixed pipeline set layout, with resources bound
// by reference so they can be rewritten after their images change.
package material

import (
	"fmt"
	"sort"
	"sync"

	"github.com/spaghettifunk/lumen/engine/renderer/gfx"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/renderer/target"
)

type bindingKind int

const (
	bindTarget bindingKind = iota
	bindTexture
	bindBuffer
	bindAccel
)

type binding struct {
	kind bindingKind

	target   *target.RenderTarget
	baseMip  uint32
	mipCount uint32

	texture  gpu.Image
	fallback gfx.DefaultTexture

	// One buffer per frame slot, or a single buffer shared by all slots.
	buffers []gpu.Buffer
	size    uint64

	// One structure per frame slot.
	accels []gpu.AccelerationStructure
}

type Material struct {
	ctx      *gfx.Context
	name     string
	pipeline gpu.Pipeline
	set      uint32
	rebinder *Rebinder

	mu       sync.Mutex
	sets     []gpu.DescriptorSet
	bindings map[uint32]binding
	dirty    []bool
	targets  []*target.RenderTarget
}

// New allocates one descriptor set per frame slot for the given set of
// pipeline. rebinder may be nil.
func New(ctx *gfx.Context, name string, pipeline gpu.Pipeline, set uint32, rebinder *Rebinder) (*Material, error) {
	m := &Material{
		ctx:      ctx,
		name:     name,
		pipeline: pipeline,
		set:      set,
		rebinder: rebinder,
		bindings: make(map[uint32]binding),
		dirty:    make([]bool, ctx.FramesInFlight),
	}
	for i := 0; i < ctx.FramesInFlight; i++ {
		ds, err := ctx.Device.CreateDescriptorSet(pipeline, set)
		if err != nil {
			m.Destroy()
			return nil, fmt.Errorf("material %q: %w", name, err)
		}
		m.sets = append(m.sets, ds)
	}
	return m, nil
}

func (m *Material) Name() string { return m.name }

func (m *Material) Pipeline() gpu.Pipeline { return m.pipeline }

func (m *Material) put(slot uint32, b binding) {
	m.mu.Lock()
	m.bindings[slot] = b
	for i := range m.dirty {
		m.dirty[i] = true
	}
	m.mu.Unlock()
}

func (m *Material) subscribe(t *target.RenderTarget) {
	m.mu.Lock()
	for _, known := range m.targets {
		if known == t {
			m.mu.Unlock()
			return
		}
	}
	m.targets = append(m.targets, t)
	m.mu.Unlock()
	t.Subscribe(m)
}

// SetTarget binds every mip of the frame's image of t.
func (m *Material) SetTarget(slot uint32, t *target.RenderTarget) {
	m.put(slot, binding{kind: bindTarget, target: t})
	m.subscribe(t)
}

// SetTargetMip binds a single mip of the frame's image of t, as storage
// images require.
func (m *Material) SetTargetMip(slot uint32, t *target.RenderTarget, mip uint32) {
	m.put(slot, binding{kind: bindTarget, target: t, baseMip: mip, mipCount: 1})
	m.subscribe(t)
}

// SetTexture binds img, or the fallback placeholder while img is nil.
func (m *Material) SetTexture(slot uint32, img gpu.Image, fallback gfx.DefaultTexture) {
	m.put(slot, binding{kind: bindTexture, texture: img, fallback: fallback})
}

// SetBuffer binds buffers[frame] for each frame slot, or buffers[0] for
// all slots when a single buffer is given.
func (m *Material) SetBuffer(slot uint32, size uint64, buffers ...gpu.Buffer) {
	m.put(slot, binding{kind: bindBuffer, buffers: buffers, size: size})
}

// SetAccelerationStructure binds as for frame slot frame only. Only that
// slot becomes dirty, and only when the structure changed.
func (m *Material) SetAccelerationStructure(slot uint32, frame int, as gpu.AccelerationStructure) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bindings[slot]
	if !ok || b.kind != bindAccel {
		b = binding{kind: bindAccel, accels: make([]gpu.AccelerationStructure, len(m.dirty))}
	}
	if b.accels[frame] == as {
		return
	}
	b.accels[frame] = as
	m.bindings[slot] = b
	m.dirty[frame] = true
}

// TargetRecreated marks every slot dirty and queues the material for
// rebinding.
func (m *Material) TargetRecreated(*target.RenderTarget) {
	m.Invalidate()
}

// Invalidate forces every slot to be rewritten before its next use.
func (m *Material) Invalidate() {
	m.mu.Lock()
	for i := range m.dirty {
		m.dirty[i] = true
	}
	m.mu.Unlock()
	if m.rebinder != nil {
		m.rebinder.Enqueue(m)
	}
}

// Dirty reports whether frame slot frame needs rewriting.
func (m *Material) Dirty(frame int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dirty[frame]
}

func (m *Material) clean() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.dirty {
		if d {
			return false
		}
	}
	return true
}

// Prepare rewrites the descriptor set of frame slot frame if it is dirty.
// Runs on the render thread before the set is bound.
func (m *Material) Prepare(frame int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.dirty[frame] {
		return
	}
	ds := m.sets[frame]

	slots := make([]uint32, 0, len(m.bindings))
	for s := range m.bindings {
		slots = append(slots, s)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })

	for _, s := range slots {
		b := m.bindings[s]
		switch b.kind {
		case bindTarget:
			ds.WriteImage(s, gpu.ImageView{Image: b.target.Image(frame), BaseMip: b.baseMip, MipCount: b.mipCount})
		case bindTexture:
			ds.WriteImage(s, gpu.ImageView{Image: m.ctx.Resolve(b.texture, b.fallback), MipCount: 1})
		case bindBuffer:
			buf := b.buffers[0]
			if len(b.buffers) > 1 {
				buf = b.buffers[frame%len(b.buffers)]
			}
			ds.WriteBuffer(s, buf, 0, b.size)
		case bindAccel:
			if as := b.accels[frame]; as != nil {
				ds.WriteAccel(s, as)
			}
		}
	}
	m.dirty[frame] = false
}

// Bind prepares and binds the set of frame slot frame.
func (m *Material) Bind(cmd gpu.CommandBuffer, frame int) {
	m.Prepare(frame)
	cmd.BindDescriptorSet(m.Set(frame))
}

// Set returns the descriptor set of frame slot frame.
func (m *Material) Set(frame int) gpu.DescriptorSet {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sets[frame]
}

func (m *Material) Destroy() {
	m.mu.Lock()
	targets := m.targets
	m.targets = nil
	sets := m.sets
	m.sets = nil
	m.mu.Unlock()

	for _, t := range targets {
		t.Unsubscribe(m)
	}
	for _, ds := range sets {
		ds.Destroy()
	}
	if m.rebinder != nil {
		m.rebinder.remove(m)
	}
}
