// Package frame manages the frames in flight and the swapchain they
// present to.
package frame

import (
	"fmt"
	"time"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

type SlotState int

const (
	Idle SlotState = iota
	Acquiring
	Recording
	Submitted
)

func (s SlotState) String() string {
	return [...]string{"Idle", "Acquiring", "Recording", "Submitted"}[s]
}

type Options struct {
	FramesInFlight int
	ImageCount     int
	VSync          bool
	// FenceTimeout bounds every fence wait; gpu.Infinite by default.
	FenceTimeout time.Duration
}

type slot struct {
	imageAvailable gpu.Semaphore
	renderFinished gpu.Semaphore
	inFlight       gpu.Fence
	cmd            gpu.CommandBuffer
	state          SlotState
	deletions      []func()
}

// AcquiredFrame is what a successful acquire hands to the recorder.
type AcquiredFrame struct {
	Slot          int
	ImageIndex    int
	Image         gpu.Image
	CommandBuffer gpu.CommandBuffer
}

type FrameSync struct {
	device gpu.Device
	opts   Options

	swapchain      gpu.Swapchain
	slots          []*slot
	imagesInFlight []gpu.Fence
	current        int
}

func New(device gpu.Device, width, height uint32, opts Options) (*FrameSync, error) {
	if opts.FramesInFlight <= 0 {
		opts.FramesInFlight = 2
	}
	if opts.ImageCount < opts.FramesInFlight {
		opts.ImageCount = opts.FramesInFlight + 1
	}
	if opts.FenceTimeout == 0 {
		opts.FenceTimeout = gpu.Infinite
	}
	f := &FrameSync{device: device, opts: opts}
	if err := f.create(width, height, nil); err != nil {
		if f.swapchain != nil {
			f.swapchain.Destroy()
		}
		return nil, err
	}
	return f, nil
}

func (f *FrameSync) create(width, height uint32, old gpu.Swapchain) error {
	sc, err := f.device.CreateSwapchain(gpu.SwapchainSpec{
		Width:      width,
		Height:     height,
		ImageCount: f.opts.ImageCount,
		VSync:      f.opts.VSync,
	}, old)
	if err != nil {
		return fmt.Errorf("failed to create swapchain: %w", err)
	}
	f.swapchain = sc

	slots := make([]*slot, 0, f.opts.FramesInFlight)
	for i := 0; i < f.opts.FramesInFlight; i++ {
		s, err := f.newSlot()
		if err != nil {
			for _, done := range slots {
				done.destroy()
			}
			return fmt.Errorf("frame slot %d: %w", i, err)
		}
		slots = append(slots, s)
	}
	f.slots = slots
	f.imagesInFlight = make([]gpu.Fence, len(sc.Images()))
	f.current = 0

	w, h := sc.Extent()
	core.LogDebug("frame sync created: %dx%d, %d frames in flight, %d images", w, h, len(f.slots), len(f.imagesInFlight))
	return nil
}

// newSlot releases whatever it created when a later object fails.
func (f *FrameSync) newSlot() (*slot, error) {
	s := &slot{}
	var err error
	defer func() {
		if err != nil {
			s.destroy()
		}
	}()
	if s.imageAvailable, err = f.device.CreateSemaphore(); err != nil {
		return nil, err
	}
	if s.renderFinished, err = f.device.CreateSemaphore(); err != nil {
		return nil, err
	}
	// Signaled so the first wait on every slot returns immediately.
	if s.inFlight, err = f.device.CreateFence(true); err != nil {
		return nil, err
	}
	if s.cmd, err = f.device.CreateCommandBuffer(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *slot) destroy() {
	s.runDeletions()
	if s.cmd != nil {
		s.cmd.Destroy()
	}
	if s.inFlight != nil {
		s.inFlight.Destroy()
	}
	if s.renderFinished != nil {
		s.renderFinished.Destroy()
	}
	if s.imageAvailable != nil {
		s.imageAvailable.Destroy()
	}
}

func (f *FrameSync) destroySlots() {
	for _, s := range f.slots {
		s.destroy()
	}
	f.slots = nil
	f.imagesInFlight = nil
}

func (s *slot) runDeletions() {
	for _, fn := range s.deletions {
		fn()
	}
	s.deletions = nil
}

// AcquireNextImage waits for the previous use of the current slot to
// retire, then acquires a swapchain image. On OutOfDate the frame must be
// dropped and Recreate called.
func (f *FrameSync) AcquireNextImage() (AcquiredFrame, gpu.Result, error) {
	s := f.slots[f.current]

	if err := s.inFlight.Wait(f.opts.FenceTimeout); err != nil {
		return AcquiredFrame{}, gpu.Success, fmt.Errorf("waiting for frame slot %d: %w", f.current, err)
	}
	s.state = Idle
	s.runDeletions()

	s.state = Acquiring
	idx, res, err := f.swapchain.Acquire(s.imageAvailable)
	if err != nil {
		s.state = Idle
		return AcquiredFrame{}, res, fmt.Errorf("failed to acquire swapchain image: %w", err)
	}
	if res == gpu.OutOfDate {
		s.state = Idle
		return AcquiredFrame{}, res, nil
	}
	s.state = Recording
	return AcquiredFrame{
		Slot:          f.current,
		ImageIndex:    idx,
		Image:         f.swapchain.Images()[idx],
		CommandBuffer: s.cmd,
	}, res, nil
}

// SubmitCommandBuffers submits the current slot and presents imageIndex.
// The returned result tells the caller whether to recreate.
func (f *FrameSync) SubmitCommandBuffers(cmds []gpu.CommandBuffer, imageIndex int) (gpu.Result, error) {
	s := f.slots[f.current]
	if s.state != Recording {
		return gpu.Success, fmt.Errorf("submit of frame slot %d in state %s", f.current, s.state)
	}

	// Another slot may still be rendering into this image.
	if prev := f.imagesInFlight[imageIndex]; prev != nil && prev != s.inFlight {
		if err := prev.Wait(f.opts.FenceTimeout); err != nil {
			return gpu.Success, fmt.Errorf("waiting for image %d: %w", imageIndex, err)
		}
	}
	f.imagesInFlight[imageIndex] = s.inFlight

	if err := s.inFlight.Reset(); err != nil {
		return gpu.Success, err
	}
	err := f.device.Submit(gpu.Submission{
		CommandBuffers: cmds,
		Wait:           s.imageAvailable,
		WaitStage:      gpu.StageColorOutput,
		Signal:         s.renderFinished,
		Fence:          s.inFlight,
	})
	if err != nil {
		return gpu.Success, fmt.Errorf("failed to submit draw command buffer: %w", err)
	}
	s.state = Submitted

	res, err := f.swapchain.Present(imageIndex, s.renderFinished)
	f.current = (f.current + 1) % len(f.slots)
	if err != nil {
		return res, fmt.Errorf("failed to present swapchain image: %w", err)
	}
	return res, nil
}

// Skip releases the current slot without submitting. Used when a frame
// is dropped after a successful acquire.
func (f *FrameSync) Skip() {
	f.slots[f.current].state = Idle
}

// DeferDeletion runs fn the next time the current slot's fence is known to
// be signaled, which is after every GPU use of this frame.
func (f *FrameSync) DeferDeletion(fn func()) {
	s := f.slots[f.current]
	s.deletions = append(s.deletions, fn)
}

// Recreate drains the GPU and rebuilds the swapchain and every per-slot
// object. The old swapchain is handed to the new one.
func (f *FrameSync) Recreate(width, height uint32) error {
	if width == 0 || height == 0 {
		return fmt.Errorf("%w: swapchain %dx%d", core.ErrInvalidDimensions, width, height)
	}
	if err := f.device.WaitIdle(); err != nil {
		return err
	}
	old := f.swapchain
	f.destroySlots()
	if err := f.create(width, height, old); err != nil {
		return err
	}
	core.LogInfo("swapchain recreated: %dx%d", width, height)
	return nil
}

func (f *FrameSync) Destroy() {
	if f.swapchain == nil {
		return
	}
	if err := f.device.WaitIdle(); err != nil {
		core.LogError("wait idle failed during frame sync shutdown: %s", err)
	}
	f.destroySlots()
	f.swapchain.Destroy()
	f.swapchain = nil
}

// Current is the slot the next acquire will use.
func (f *FrameSync) Current() int { return f.current }

func (f *FrameSync) FramesInFlight() int { return len(f.slots) }

func (f *FrameSync) ImageCount() int { return len(f.imagesInFlight) }

func (f *FrameSync) SlotState(i int) SlotState { return f.slots[i].state }

func (f *FrameSync) CommandBuffer(i int) gpu.CommandBuffer { return f.slots[i].cmd }

func (f *FrameSync) Extent() (uint32, uint32) { return f.swapchain.Extent() }

func (f *FrameSync) Swapchain() gpu.Swapchain { return f.swapchain }
