package frame

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/renderer/headless"
)

func recordEmpty(t *testing.T, cmd gpu.CommandBuffer) {
	t.Helper()
	require.NoError(t, cmd.Begin())
	require.NoError(t, cmd.End())
}

func runFrame(t *testing.T, fs *FrameSync) AcquiredFrame {
	t.Helper()
	af, res, err := fs.AcquireNextImage()
	require.NoError(t, err)
	require.Equal(t, gpu.Success, res)
	recordEmpty(t, af.CommandBuffer)
	res, err = fs.SubmitCommandBuffers([]gpu.CommandBuffer{af.CommandBuffer}, af.ImageIndex)
	require.NoError(t, err)
	require.Equal(t, gpu.Success, res)
	return af
}

func TestAcquireBlocksOnSlotFence(t *testing.T) {
	dev := headless.NewDevice(headless.Options{Width: 640, Height: 480, ManualFences: true})
	fs, err := New(dev, 640, 480, Options{FramesInFlight: 2, ImageCount: 3})
	require.NoError(t, err)

	first := runFrame(t, fs)
	second := runFrame(t, fs)
	assert.Equal(t, 0, first.Slot)
	assert.Equal(t, 1, second.Slot)
	assert.Equal(t, Submitted, fs.SlotState(0))
	assert.Equal(t, 2, dev.Pending())

	acquired := make(chan AcquiredFrame)
	go func() {
		af, _, err := fs.AcquireNextImage()
		assert.NoError(t, err)
		acquired <- af
	}()

	select {
	case <-acquired:
		t.Fatal("third acquire returned while slot 0 was still in flight")
	case <-time.After(20 * time.Millisecond):
	}

	require.True(t, dev.CompleteNext())
	af := <-acquired
	assert.Equal(t, 0, af.Slot)
	assert.Equal(t, Recording, fs.SlotState(0))
	dev.CompleteAll()
}

func TestSubmitWaitsForImageOwner(t *testing.T) {
	dev := headless.NewDevice(headless.Options{Width: 640, Height: 480, ManualFences: true})
	fs, err := New(dev, 640, 480, Options{FramesInFlight: 2, ImageCount: 3})
	require.NoError(t, err)

	runFrame(t, fs) // slot 0, image 0
	runFrame(t, fs) // slot 1, image 1
	require.True(t, dev.CompleteNext())
	third := runFrame(t, fs)
	assert.Equal(t, 0, third.Slot)
	assert.Equal(t, 2, third.ImageIndex)
	require.True(t, dev.CompleteNext())

	// Slot 1 is free but image 0 still belongs to slot 0's fence.
	af, res, err := fs.AcquireNextImage()
	require.NoError(t, err)
	require.Equal(t, gpu.Success, res)
	assert.Equal(t, 1, af.Slot)
	assert.Equal(t, 0, af.ImageIndex)
	recordEmpty(t, af.CommandBuffer)

	submitted := make(chan error)
	go func() {
		_, err := fs.SubmitCommandBuffers([]gpu.CommandBuffer{af.CommandBuffer}, af.ImageIndex)
		submitted <- err
	}()

	select {
	case <-submitted:
		t.Fatal("submit returned while the image was still in flight on slot 0")
	case <-time.After(20 * time.Millisecond):
	}

	require.True(t, dev.CompleteNext())
	assert.NoError(t, <-submitted)
	assert.Equal(t, Submitted, fs.SlotState(1))
	dev.CompleteAll()
}

func TestFenceTimeoutSurfaces(t *testing.T) {
	dev := headless.NewDevice(headless.Options{Width: 64, Height: 64, ManualFences: true})
	fs, err := New(dev, 64, 64, Options{FramesInFlight: 1, ImageCount: 2, FenceTimeout: 5 * time.Millisecond})
	require.NoError(t, err)

	runFrame(t, fs)
	_, _, err = fs.AcquireNextImage()
	assert.Error(t, err)
}

func TestImagesInFlightSizedBySwapchain(t *testing.T) {
	dev := headless.NewDevice(headless.Options{Width: 64, Height: 64})
	fs, err := New(dev, 64, 64, Options{FramesInFlight: 2, ImageCount: 3})
	require.NoError(t, err)
	assert.Equal(t, 2, fs.FramesInFlight())
	assert.Equal(t, 3, fs.ImageCount())

	for i := 0; i < 7; i++ {
		af := runFrame(t, fs)
		assert.Equal(t, i%2, af.Slot)
		assert.Equal(t, i%3, af.ImageIndex)
	}
}

func TestOutOfDateThenRecreate(t *testing.T) {
	dev := headless.NewDevice(headless.Options{Width: 800, Height: 600})
	fs, err := New(dev, 800, 600, Options{FramesInFlight: 2, ImageCount: 3})
	require.NoError(t, err)
	runFrame(t, fs)

	old := fs.Swapchain()
	dev.SetSurfaceExtent(1024, 768)
	_, res, err := fs.AcquireNextImage()
	require.NoError(t, err)
	assert.Equal(t, gpu.OutOfDate, res)

	require.NoError(t, fs.Recreate(1024, 768))
	assert.NotSame(t, old, fs.Swapchain())
	w, h := fs.Extent()
	assert.Equal(t, uint32(1024), w)
	assert.Equal(t, uint32(768), h)
	assert.Equal(t, 0, fs.Current())

	runFrame(t, fs)
}

func TestSuboptimalPresentIsReported(t *testing.T) {
	dev := headless.NewDevice(headless.Options{Width: 320, Height: 240})
	fs, err := New(dev, 320, 240, Options{FramesInFlight: 2, ImageCount: 2})
	require.NoError(t, err)

	af, _, err := fs.AcquireNextImage()
	require.NoError(t, err)
	recordEmpty(t, af.CommandBuffer)
	dev.SetSurfaceExtent(321, 240)
	res, err := fs.SubmitCommandBuffers([]gpu.CommandBuffer{af.CommandBuffer}, af.ImageIndex)
	require.NoError(t, err)
	assert.Equal(t, gpu.Suboptimal, res)
}

func TestDeferredDeletionRunsAfterSlotRetires(t *testing.T) {
	dev := headless.NewDevice(headless.Options{Width: 64, Height: 64, ManualFences: true})
	fs, err := New(dev, 64, 64, Options{FramesInFlight: 2, ImageCount: 2})
	require.NoError(t, err)

	af, _, err := fs.AcquireNextImage()
	require.NoError(t, err)
	deleted := false
	fs.DeferDeletion(func() { deleted = true })
	recordEmpty(t, af.CommandBuffer)
	_, err = fs.SubmitCommandBuffers([]gpu.CommandBuffer{af.CommandBuffer}, af.ImageIndex)
	require.NoError(t, err)

	runFrame(t, fs)
	assert.False(t, deleted)

	dev.CompleteAll()
	_, _, err = fs.AcquireNextImage()
	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestSubmitWithoutAcquireFails(t *testing.T) {
	dev := headless.NewDevice(headless.Options{Width: 64, Height: 64})
	fs, err := New(dev, 64, 64, Options{})
	require.NoError(t, err)
	_, err = fs.SubmitCommandBuffers(nil, 0)
	assert.Error(t, err)
}

func TestFailedCreateLeavesNoPartialSlots(t *testing.T) {
	dev := headless.NewDevice(headless.Options{Width: 64, Height: 64})
	fs, err := New(dev, 64, 64, Options{FramesInFlight: 2, ImageCount: 3})
	require.NoError(t, err)
	runFrame(t, fs)

	dev.FailAfter(3)
	require.Error(t, fs.Recreate(64, 64))
	assert.Empty(t, fs.slots)

	// Destroy after the failed rebuild must not touch missing slots.
	assert.NotPanics(t, fs.Destroy)
	assert.Equal(t, 0, dev.Live())
}

func TestDestroyReleasesEverything(t *testing.T) {
	dev := headless.NewDevice(headless.Options{Width: 64, Height: 64})
	fs, err := New(dev, 64, 64, Options{FramesInFlight: 2, ImageCount: 3})
	require.NoError(t, err)
	runFrame(t, fs)
	require.NoError(t, fs.Recreate(64, 64))
	fs.Destroy()
	assert.Equal(t, 0, dev.Live())
}
