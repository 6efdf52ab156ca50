package graph

import (
	"github.com/google/uuid"

	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// DrawKey identifies one instanced draw: a submesh drawn with a material.
type DrawKey struct {
	Mesh     uuid.UUID
	Submesh  uint32
	Material uuid.UUID
}

type drawEntry struct {
	key      DrawKey
	mesh     *metadata.Mesh
	submesh  uint32
	material *metadata.MaterialAsset

	// Written by the producer between frames.
	transforms []math.Mat4
	count      uint32

	// Owned by the render thread, one per frame slot.
	instances []instanceBuffer
}

type instanceBuffer struct {
	buffer   gpu.Buffer
	capacity uint32
}

// drawBatch is an immutable copy of one entry's instances for a frame.
type drawBatch struct {
	entry      *drawEntry
	transforms []math.Mat4
}

// DrawList accumulates instance transforms per key. Entries persist across
// frames so their instance buffers are reused; Reset only clears counts.
type DrawList struct {
	frames  int
	entries map[DrawKey]*drawEntry
	order   []*drawEntry
}

func NewDrawList(framesInFlight int) *DrawList {
	return &DrawList{
		frames:  framesInFlight,
		entries: make(map[DrawKey]*drawEntry),
	}
}

// Submit adds one instance of a submesh.
func (l *DrawList) Submit(mesh *metadata.Mesh, submesh uint32, material *metadata.MaterialAsset, transform math.Mat4) {
	key := DrawKey{Mesh: mesh.ID, Submesh: submesh, Material: material.ID}
	e, ok := l.entries[key]
	if !ok {
		e = &drawEntry{
			key:       key,
			mesh:      mesh,
			submesh:   submesh,
			material:  material,
			instances: make([]instanceBuffer, l.frames),
		}
		l.entries[key] = e
		l.order = append(l.order, e)
	}
	e.transforms = append(e.transforms[:e.count], transform)
	e.count++
}

// Reset zeroes every count and keeps the entries.
func (l *DrawList) Reset() {
	for _, e := range l.order {
		e.transforms = e.transforms[:0]
		e.count = 0
	}
}

// Count returns the instances submitted for key this frame.
func (l *DrawList) Count(key DrawKey) uint32 {
	if e, ok := l.entries[key]; ok {
		return e.count
	}
	return 0
}

// Keys returns the keys with at least one instance, in first-submission
// order.
func (l *DrawList) Keys() []DrawKey {
	var keys []DrawKey
	for _, e := range l.order {
		if e.count > 0 {
			keys = append(keys, e.key)
		}
	}
	return keys
}

// Entries returns the number of keys ever submitted.
func (l *DrawList) Entries() int { return len(l.order) }

func (l *DrawList) batches() []drawBatch {
	var out []drawBatch
	for _, e := range l.order {
		if e.count == 0 {
			continue
		}
		out = append(out, drawBatch{entry: e, transforms: append([]math.Mat4(nil), e.transforms...)})
	}
	return out
}

func (l *DrawList) destroy() {
	for _, e := range l.order {
		for i, ib := range e.instances {
			if ib.buffer != nil {
				ib.buffer.Destroy()
				e.instances[i] = instanceBuffer{}
			}
		}
	}
}
