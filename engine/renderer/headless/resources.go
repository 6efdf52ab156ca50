package headless

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

// lifetime tracks a single Destroy per object.
type lifetime struct {
	destroyed atomic.Bool
}

func (l *lifetime) release(d *Device) {
	if l.destroyed.CompareAndSwap(false, true) {
		d.live.Add(-1)
	}
}

// Destroyed reports whether Destroy was called.
func (l *lifetime) Destroyed() bool {
	return l.destroyed.Load()
}

type Image struct {
	lifetime
	device    *Device
	spec      gpu.ImageSpec
	swapchain bool
}

func (i *Image) Spec() gpu.ImageSpec { return i.spec }

func (i *Image) Destroy() {
	if i.swapchain {
		return
	}
	i.release(i.device)
}

type Buffer struct {
	lifetime
	device  *Device
	spec    gpu.BufferSpec
	data    []byte
	address uint64
}

func (b *Buffer) Spec() gpu.BufferSpec { return b.spec }

func (b *Buffer) DeviceAddress() uint64 { return b.address }

func (b *Buffer) Write(offset uint64, data []byte) error {
	if !b.spec.HostVisible {
		return fmt.Errorf("buffer %q is not host visible", b.spec.Name)
	}
	if offset+uint64(len(data)) > b.spec.Size {
		return fmt.Errorf("write of %d bytes at %d overflows buffer %q (%d bytes)", len(data), offset, b.spec.Name, b.spec.Size)
	}
	b.device.mu.Lock()
	defer b.device.mu.Unlock()
	copy(b.data[offset:], data)
	return nil
}

// Bytes returns a copy of the simulated buffer memory.
func (b *Buffer) Bytes() []byte {
	b.device.mu.Lock()
	defer b.device.mu.Unlock()
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

func (b *Buffer) Destroy() {
	b.device.mu.Lock()
	if b.address != 0 {
		delete(b.device.buffers, b.address)
	}
	b.device.mu.Unlock()
	b.release(b.device)
}

type Fence struct {
	lifetime
	device *Device

	mu       sync.Mutex
	signaled bool
	ch       chan struct{}
}

func (f *Fence) Wait(timeout time.Duration) error {
	f.mu.Lock()
	ch := f.ch
	f.mu.Unlock()

	if timeout < 0 {
		<-ch
		return nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return nil
	case <-timer.C:
		return core.ErrTimeout
	}
}

func (f *Fence) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signaled {
		f.signaled = false
		f.ch = make(chan struct{})
	}
	return nil
}

func (f *Fence) Signaled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signaled
}

func (f *Fence) signal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.signaled {
		f.signaled = true
		close(f.ch)
	}
}

func (f *Fence) Destroy() { f.release(f.device) }

type Semaphore struct {
	lifetime
	device *Device
}

func (s *Semaphore) Destroy() { s.release(s.device) }

type Swapchain struct {
	lifetime
	device  *Device
	spec    gpu.SwapchainSpec
	images  []*Image
	next    int
	retired bool

	mu        sync.Mutex
	presented []int
}

func (s *Swapchain) Images() []gpu.Image {
	out := make([]gpu.Image, len(s.images))
	for i, img := range s.images {
		out[i] = img
	}
	return out
}

func (s *Swapchain) Extent() (uint32, uint32) {
	return s.spec.Width, s.spec.Height
}

func (s *Swapchain) matchesSurface() bool {
	w, h := s.device.surfaceExtent()
	return w == s.spec.Width && h == s.spec.Height
}

func (s *Swapchain) Acquire(signal gpu.Semaphore) (int, gpu.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.retired {
		return 0, gpu.OutOfDate, fmt.Errorf("acquire on retired swapchain")
	}
	if !s.matchesSurface() {
		return 0, gpu.OutOfDate, nil
	}
	idx := s.next
	s.next = (s.next + 1) % len(s.images)
	return idx, gpu.Success, nil
}

func (s *Swapchain) Present(index int, wait gpu.Semaphore) (gpu.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.images) {
		return gpu.OutOfDate, fmt.Errorf("present of invalid image index %d", index)
	}
	s.presented = append(s.presented, index)
	if !s.matchesSurface() {
		return gpu.Suboptimal, nil
	}
	return gpu.Success, nil
}

// Presented returns the image indices presented so far.
func (s *Swapchain) Presented() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.presented...)
}

func (s *Swapchain) retire() {
	s.mu.Lock()
	s.retired = true
	s.mu.Unlock()
	s.release(s.device)
}

func (s *Swapchain) Destroy() { s.retire() }

type Pipeline struct {
	lifetime
	device   *Device
	name     string
	kind     gpu.PipelineKind
	sets     []gpu.SetLayout
	graphics gpu.GraphicsPipelineSpec
}

func (p *Pipeline) Name() string           { return p.name }
func (p *Pipeline) Kind() gpu.PipelineKind { return p.kind }
func (p *Pipeline) Destroy()               { p.release(p.device) }

// GraphicsSpec returns the creation spec of a graphics pipeline.
func (p *Pipeline) GraphicsSpec() gpu.GraphicsPipelineSpec { return p.graphics }

// BufferBinding is what a descriptor write of a buffer records.
type BufferBinding struct {
	Buffer gpu.Buffer
	Offset uint64
	Size   uint64
}

type DescriptorSet struct {
	lifetime
	device   *Device
	pipeline *Pipeline
	set      uint32

	mu     sync.Mutex
	writes map[uint32]any
	count  int
}

func (s *DescriptorSet) Pipeline() gpu.Pipeline { return s.pipeline }
func (s *DescriptorSet) Set() uint32            { return s.set }
func (s *DescriptorSet) Destroy()               { s.release(s.device) }

func (s *DescriptorSet) write(binding uint32, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes[binding] = v
	s.count++
}

func (s *DescriptorSet) WriteBuffer(binding uint32, buf gpu.Buffer, offset, size uint64) {
	s.write(binding, BufferBinding{Buffer: buf, Offset: offset, Size: size})
}

func (s *DescriptorSet) WriteImage(binding uint32, view gpu.ImageView) {
	s.write(binding, view)
}

func (s *DescriptorSet) WriteAccel(binding uint32, as gpu.AccelerationStructure) {
	s.write(binding, as)
}

// Written returns the last value written to binding: a BufferBinding, a
// gpu.ImageView or a gpu.AccelerationStructure.
func (s *DescriptorSet) Written(binding uint32) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.writes[binding]
	return v, ok
}

// WriteCount is the total number of descriptor writes.
func (s *DescriptorSet) WriteCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

type QueryPool struct {
	lifetime
	device  *Device
	values  []uint64
	written []bool
}

func (q *QueryPool) Count() uint32 { return uint32(len(q.values)) }
func (q *QueryPool) Destroy()      { q.release(q.device) }

func (q *QueryPool) Results(first, count uint32) ([]uint64, bool, error) {
	if first+count > uint32(len(q.values)) {
		return nil, false, fmt.Errorf("query range %d+%d exceeds pool of %d", first, count, len(q.values))
	}
	q.device.mu.Lock()
	defer q.device.mu.Unlock()
	out := make([]uint64, count)
	copy(out, q.values[first:first+count])
	for _, ok := range q.written[first : first+count] {
		if !ok {
			return out, false, nil
		}
	}
	return out, true, nil
}

type AccelerationStructure struct {
	lifetime
	device  *Device
	kind    gpu.AccelKind
	size    uint64
	address uint64

	// Set when a build of this structure has been replayed.
	built      bool
	instances  []gpu.Instance
	primitives uint32
	updates    int
	updatable  bool
}

func (a *AccelerationStructure) Kind() gpu.AccelKind { return a.kind }
func (a *AccelerationStructure) Address() uint64     { return a.address }
func (a *AccelerationStructure) Size() uint64        { return a.size }

func (a *AccelerationStructure) Destroy() {
	a.device.mu.Lock()
	delete(a.device.accels, a.address)
	a.device.mu.Unlock()
	a.release(a.device)
}

// Built reports whether a build of this structure has been submitted.
func (a *AccelerationStructure) Built() bool {
	a.device.mu.Lock()
	defer a.device.mu.Unlock()
	return a.built
}

// Instances returns the instance records consumed by the last top-level
// build.
func (a *AccelerationStructure) Instances() []gpu.Instance {
	a.device.mu.Lock()
	defer a.device.mu.Unlock()
	return append([]gpu.Instance(nil), a.instances...)
}

// Updatable reports whether the last build allowed later refits.
func (a *AccelerationStructure) Updatable() bool {
	a.device.mu.Lock()
	defer a.device.mu.Unlock()
	return a.updatable
}

// Updates counts in-place refits.
func (a *AccelerationStructure) Updates() int {
	a.device.mu.Lock()
	defer a.device.mu.Unlock()
	return a.updates
}
