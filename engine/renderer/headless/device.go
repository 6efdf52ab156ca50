// Package headless implements gpu.Device without a GPU. Submitted command
// buffers are recorded and replayed against simulated memory so tests and
// CI can observe exactly what the renderer asked for.
package headless

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

const (
	addressBase      uint64 = 0x10000
	addressAlignment uint64 = 256
	ticksPerQuery    uint64 = 1000
)

// ErrInjected is returned by creations made to fail with FailAfter.
var ErrInjected = errors.New("injected device failure")

type Options struct {
	// Surface extent the swapchain is checked against.
	Width  uint32
	Height uint32
	// ManualFences keeps submitted fences unsignaled until CompleteNext or
	// CompleteAll is called.
	ManualFences bool
	Features     *gpu.Features
}

// SubmissionRecord is one replayed queue submission.
type SubmissionRecord struct {
	Index    int
	Commands []Command
	Fence    *Fence
	Signal   gpu.Semaphore
	Wait     gpu.Semaphore
}

type Device struct {
	mu sync.Mutex

	opts     Options
	features gpu.Features

	surfaceWidth  uint32
	surfaceHeight uint32

	nextAddress uint64
	clock       uint64

	submissions []SubmissionRecord
	pending     []*Fence

	buffers map[uint64]*Buffer
	accels  map[uint64]*AccelerationStructure

	live       atomic.Int64
	violations atomic.Int64
	destroyed  bool
	// Sync objects left before creation fails; negative is unlimited.
	syncBudget int
}

func NewDevice(opts Options) *Device {
	features := gpu.Features{
		RayTracing:      true,
		Timestamps:      true,
		DebugLabels:     true,
		TimestampPeriod: 1,
		MaxSamples:      8,
	}
	if opts.Features != nil {
		features = *opts.Features
	}
	if opts.Width == 0 || opts.Height == 0 {
		opts.Width, opts.Height = 1280, 720
	}
	core.LogDebug("headless device created: %dx%d, manual fences %t", opts.Width, opts.Height, opts.ManualFences)
	return &Device{
		opts:          opts,
		features:      features,
		surfaceWidth:  opts.Width,
		surfaceHeight: opts.Height,
		nextAddress:   addressBase,
		buffers:       make(map[uint64]*Buffer),
		accels:        make(map[uint64]*AccelerationStructure),
		syncBudget:    -1,
	}
}

func (d *Device) Features() gpu.Features {
	return d.features
}

// SetSurfaceExtent simulates a window resize. Swapchains created for a
// different extent report OutOfDate from then on.
func (d *Device) SetSurfaceExtent(width, height uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.surfaceWidth, d.surfaceHeight = width, height
}

func (d *Device) surfaceExtent() (uint32, uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.surfaceWidth, d.surfaceHeight
}

// Live returns the number of created and not yet destroyed objects.
func (d *Device) Live() int {
	return int(d.live.Load())
}

// Violations returns the number of commands recorded in an invalid state,
// such as draws outside a render pass.
func (d *Device) Violations() int {
	return int(d.violations.Load())
}

func (d *Device) Submissions() []SubmissionRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]SubmissionRecord, len(d.submissions))
	copy(out, d.submissions)
	return out
}

// Commands flattens every submitted command in submission order.
func (d *Device) Commands() []Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Command
	for _, s := range d.submissions {
		out = append(out, s.Commands...)
	}
	return out
}

// ClearSubmissions drops the recorded history.
func (d *Device) ClearSubmissions() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.submissions = nil
}

// CompleteNext signals the oldest pending fence. It reports false when no
// fence is pending.
func (d *Device) CompleteNext() bool {
	d.mu.Lock()
	if len(d.pending) == 0 {
		d.mu.Unlock()
		return false
	}
	f := d.pending[0]
	d.pending = d.pending[1:]
	d.mu.Unlock()
	f.signal()
	return true
}

func (d *Device) CompleteAll() {
	for d.CompleteNext() {
	}
}

// Pending returns the number of submitted fences not yet signaled.
func (d *Device) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (d *Device) allocAddress(size uint64) uint64 {
	addr := d.nextAddress
	d.nextAddress += (size + addressAlignment - 1) / addressAlignment * addressAlignment
	if size == 0 {
		d.nextAddress += addressAlignment
	}
	return addr
}

func (d *Device) CreateImage(spec gpu.ImageSpec) (gpu.Image, error) {
	if spec.Width == 0 || spec.Height == 0 {
		return nil, fmt.Errorf("%w: image %q is %dx%d", core.ErrInvalidDimensions, spec.Name, spec.Width, spec.Height)
	}
	if spec.Samples == 0 {
		spec.Samples = 1
	}
	if spec.Mips == 0 {
		spec.Mips = 1
	}
	d.live.Add(1)
	return &Image{device: d, spec: spec}, nil
}

func (d *Device) CreateBuffer(spec gpu.BufferSpec) (gpu.Buffer, error) {
	if spec.Size == 0 {
		return nil, fmt.Errorf("%w: buffer %q has zero size", core.ErrInvalidDimensions, spec.Name)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	b := &Buffer{device: d, spec: spec, data: make([]byte, spec.Size)}
	if spec.Usage&gpu.BufferDeviceAddress != 0 {
		b.address = d.allocAddress(spec.Size)
		d.buffers[b.address] = b
	}
	d.live.Add(1)
	return b, nil
}

// FailAfter lets n more fences and semaphores be created and fails every
// one after that. A negative n removes the limit.
func (d *Device) FailAfter(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.syncBudget = n
}

func (d *Device) takeSync() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case d.syncBudget < 0:
		return nil
	case d.syncBudget == 0:
		return ErrInjected
	}
	d.syncBudget--
	return nil
}

func (d *Device) CreateFence(signaled bool) (gpu.Fence, error) {
	if err := d.takeSync(); err != nil {
		return nil, err
	}
	f := &Fence{device: d, ch: make(chan struct{})}
	if signaled {
		f.signaled = true
		close(f.ch)
	}
	d.live.Add(1)
	return f, nil
}

func (d *Device) CreateSemaphore() (gpu.Semaphore, error) {
	if err := d.takeSync(); err != nil {
		return nil, err
	}
	d.live.Add(1)
	return &Semaphore{device: d}, nil
}

func (d *Device) CreateCommandBuffer() (gpu.CommandBuffer, error) {
	return &CommandBuffer{device: d}, nil
}

func (d *Device) CreateSwapchain(spec gpu.SwapchainSpec, old gpu.Swapchain) (gpu.Swapchain, error) {
	if spec.Width == 0 || spec.Height == 0 {
		return nil, fmt.Errorf("%w: swapchain %dx%d", core.ErrInvalidDimensions, spec.Width, spec.Height)
	}
	if spec.ImageCount < 2 {
		spec.ImageCount = 2
	}
	if old != nil {
		old.(*Swapchain).retire()
	}
	sc := &Swapchain{device: d, spec: spec}
	for i := 0; i < spec.ImageCount; i++ {
		sc.images = append(sc.images, &Image{
			device:    d,
			swapchain: true,
			spec: gpu.ImageSpec{
				Name:    fmt.Sprintf("swapchain-%d", i),
				Width:   spec.Width,
				Height:  spec.Height,
				Format:  gpu.FormatBGRA8,
				Usage:   gpu.UsageColorAttachment | gpu.UsageTransferDst,
				Samples: 1,
				Mips:    1,
			},
		})
	}
	d.live.Add(1)
	return sc, nil
}

func (d *Device) CreateGraphicsPipeline(spec gpu.GraphicsPipelineSpec) (gpu.Pipeline, error) {
	if len(spec.ColorFormats) == 0 && spec.DepthFormat == gpu.FormatUndefined {
		return nil, fmt.Errorf("pipeline %q has no attachments", spec.Name)
	}
	d.live.Add(1)
	return &Pipeline{device: d, name: spec.Name, kind: gpu.PipelineGraphics, sets: spec.Sets, graphics: spec}, nil
}

func (d *Device) CreateComputePipeline(spec gpu.ComputePipelineSpec) (gpu.Pipeline, error) {
	d.live.Add(1)
	return &Pipeline{device: d, name: spec.Name, kind: gpu.PipelineCompute, sets: spec.Sets}, nil
}

func (d *Device) CreateDescriptorSet(p gpu.Pipeline, set uint32) (gpu.DescriptorSet, error) {
	hp := p.(*Pipeline)
	if int(set) >= len(hp.sets) {
		return nil, fmt.Errorf("pipeline %q has no descriptor set %d", hp.name, set)
	}
	d.live.Add(1)
	return &DescriptorSet{device: d, pipeline: hp, set: set, writes: make(map[uint32]any)}, nil
}

func (d *Device) CreateQueryPool(count uint32) (gpu.QueryPool, error) {
	if !d.features.Timestamps {
		return nil, core.ErrUnsupported
	}
	d.live.Add(1)
	return &QueryPool{device: d, values: make([]uint64, count), written: make([]bool, count)}, nil
}

func (d *Device) AccelBuildSizes(info gpu.AccelBuildInfo) (gpu.AccelBuildSizes, error) {
	if !d.features.RayTracing {
		return gpu.AccelBuildSizes{}, core.ErrUnsupported
	}
	var size uint64 = 256
	switch info.Kind {
	case gpu.BottomLevel:
		for _, tri := range info.Triangles {
			size += uint64(tri.IndexCount/3) * 64
		}
	case gpu.TopLevel:
		size += uint64(info.Instances.Count) * 128
	}
	return gpu.AccelBuildSizes{
		StructureSize:     size,
		BuildScratchSize:  size / 2,
		UpdateScratchSize: size / 4,
	}, nil
}

func (d *Device) CreateAccelerationStructure(kind gpu.AccelKind, size uint64) (gpu.AccelerationStructure, error) {
	if !d.features.RayTracing {
		return nil, core.ErrUnsupported
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	as := &AccelerationStructure{device: d, kind: kind, size: size}
	as.address = d.allocAddress(size)
	d.accels[as.address] = as
	d.live.Add(1)
	return as, nil
}

// Submit replays the command buffers in order. Fences are signaled
// immediately unless ManualFences is set.
func (d *Device) Submit(subs ...gpu.Submission) error {
	for _, s := range subs {
		var fence *Fence
		if s.Fence != nil {
			fence = s.Fence.(*Fence)
			if fence.Signaled() {
				return fmt.Errorf("submit with signaled fence")
			}
		}

		d.mu.Lock()
		rec := SubmissionRecord{Index: len(d.submissions), Fence: fence, Signal: s.Signal, Wait: s.Wait}
		for _, cb := range s.CommandBuffers {
			hcb := cb.(*CommandBuffer)
			if hcb.recording {
				d.mu.Unlock()
				return fmt.Errorf("submit of command buffer still recording")
			}
			for _, cmd := range hcb.commands {
				if err := d.execute(cmd); err != nil {
					d.mu.Unlock()
					return err
				}
			}
			rec.Commands = append(rec.Commands, hcb.commands...)
		}
		d.submissions = append(d.submissions, rec)
		if fence != nil && d.opts.ManualFences {
			d.pending = append(d.pending, fence)
			fence = nil
		}
		d.mu.Unlock()

		if fence != nil {
			fence.signal()
		}
	}
	return nil
}

func (d *Device) WaitIdle() error {
	if d.opts.ManualFences {
		d.CompleteAll()
	}
	return nil
}

func (d *Device) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return
	}
	d.destroyed = true
	core.LogDebug("headless device destroyed after %d submissions, %d live objects", len(d.submissions), d.live.Load())
}
