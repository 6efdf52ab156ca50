// Package gfx holds the render context shared by every renderer component.
package gfx

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/renderer/thread"
)

// Context owns the device and the render thread for the lifetime of the
// renderer. It is passed explicitly to every component constructor.
type Context struct {
	Device         gpu.Device
	Thread         *thread.RenderThread
	Config         core.RendererConfig
	FramesInFlight int

	features gpu.Features

	mu       sync.Mutex
	defaults map[DefaultTexture]gpu.Image
}

func NewContext(device gpu.Device, rt *thread.RenderThread, cfg core.RendererConfig) *Context {
	frames := cfg.FramesInFlight
	if frames <= 0 {
		frames = 2
	}
	return &Context{
		Device:         device,
		Thread:         rt,
		Config:         cfg,
		FramesInFlight: frames,
		features:       device.Features(),
		defaults:       make(map[DefaultTexture]gpu.Image),
	}
}

func (c *Context) Features() gpu.Features { return c.features }

// RayTracing reports whether the ray-traced path is both requested and
// supported by the device.
func (c *Context) RayTracing() bool {
	return c.Config.RayTracing && c.features.RayTracing
}

// Samples clamps the configured MSAA count to what the device supports.
func (c *Context) Samples() uint32 {
	s := c.Config.MSAA
	if s <= 0 {
		s = 1
	}
	if c.features.MaxSamples > 0 && uint32(s) > c.features.MaxSamples {
		return c.features.MaxSamples
	}
	return uint32(s)
}

// Immediate records and submits a one-shot command buffer and waits for
// it to complete.
func (c *Context) Immediate(record func(cmd gpu.CommandBuffer)) error {
	cmd, err := c.Device.CreateCommandBuffer()
	if err != nil {
		return err
	}
	defer cmd.Destroy()
	fence, err := c.Device.CreateFence(false)
	if err != nil {
		return err
	}
	defer fence.Destroy()

	if err := cmd.Begin(); err != nil {
		return err
	}
	record(cmd)
	if err := cmd.End(); err != nil {
		return err
	}
	if err := c.Device.Submit(gpu.Submission{CommandBuffers: []gpu.CommandBuffer{cmd}, Fence: fence}); err != nil {
		return fmt.Errorf("immediate submit: %w", err)
	}
	if err := c.Device.WaitIdle(); err != nil {
		return err
	}
	return fence.Wait(gpu.Infinite)
}

// BeginLabel opens a debug label when labels are enabled and supported.
func (c *Context) BeginLabel(cmd gpu.CommandBuffer, name string, color [4]float32) {
	if c.Config.DebugLabels && c.features.DebugLabels {
		cmd.BeginLabel(name, color)
	}
}

func (c *Context) EndLabel(cmd gpu.CommandBuffer) {
	if c.Config.DebugLabels && c.features.DebugLabels {
		cmd.EndLabel()
	}
}

// Destroy releases the cached default textures. The caller waits for the
// device to go idle first.
func (c *Context) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, img := range c.defaults {
		img.Destroy()
		delete(c.defaults, k)
	}
}

// Frame is shared by every command recorded for one frame. The begin-frame
// command fills it on the render thread; later commands of the same frame
// read it.
type Frame struct {
	Number     uint64
	Slot       int
	ImageIndex int
	Cmd        gpu.CommandBuffer
	// Target is the swapchain image acquired for this frame.
	Target gpu.Image
	// Skip is set when the acquire failed and the frame must be dropped.
	Skip bool
}
