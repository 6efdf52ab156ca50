// Package renderer is the entry point of the rendering system. A Renderer
// owns the device, the render thread, the frames in flight and the scene
// graph, and turns one RenderPacket per call into one presented frame.
package renderer

import (
	"fmt"
	"image"
	"sync/atomic"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/frame"
	"github.com/spaghettifunk/lumen/engine/renderer/gfx"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/renderer/graph"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
	"github.com/spaghettifunk/lumen/engine/renderer/thread"
)

type Renderer struct {
	device gpu.Device
	ctx    *gfx.Context
	thread *thread.RenderThread
	frames *frame.FrameSync
	scene  *graph.SceneRenderer

	// Producer side.
	frameNumber   uint64
	width, height uint32
	meshes        []*metadata.Mesh
	textures      []gpu.Image

	// Set by the render thread when the swapchain must be rebuilt, and by
	// Resize.
	recreate atomic.Bool
	reload   atomic.Bool
	lensDirt gpu.Image
	shutdown bool
}

// New takes ownership of device. The render thread is started when the
// threading policy asks for one.
func New(cfg core.RendererConfig, device gpu.Device, width, height uint32) (*Renderer, error) {
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("%w: viewport %dx%d", core.ErrInvalidDimensions, width, height)
	}
	policy, err := thread.ParsePolicy(cfg.Threading)
	if err != nil {
		return nil, err
	}
	r := &Renderer{
		device: device,
		thread: thread.New(policy),
		width:  width,
		height: height,
	}
	r.ctx = gfx.NewContext(device, r.thread, cfg)

	r.frames, err = frame.New(device, width, height, frame.Options{
		FramesInFlight: r.ctx.FramesInFlight,
		ImageCount:     cfg.SwapchainImages,
		VSync:          cfg.VSync,
	})
	if err != nil {
		return nil, err
	}
	if r.scene, err = graph.New(r.ctx, width, height); err != nil {
		r.frames.Destroy()
		return nil, err
	}
	r.thread.Run()
	core.LogInfo("renderer initialized: %dx%d, %d frames in flight, threading %q", width, height, r.ctx.FramesInFlight, cfg.Threading)
	return r, nil
}

// Context exposes the render context for components that create GPU
// resources directly.
func (r *Renderer) Context() *gfx.Context { return r.ctx }

// CreateMesh uploads geometry. The renderer destroys the mesh on shutdown.
func (r *Renderer) CreateMesh(geometry math.GeometryConfig) (*metadata.Mesh, error) {
	m, err := r.ctx.CreateMesh(geometry)
	if err != nil {
		return nil, err
	}
	r.meshes = append(r.meshes, m)
	return m, nil
}

// CreateTexture uploads img as a sampled texture owned by the renderer.
func (r *Renderer) CreateTexture(name string, img *image.RGBA) (gpu.Image, error) {
	tex, err := r.ctx.UploadImage(name, img)
	if err != nil {
		return nil, err
	}
	r.textures = append(r.textures, tex)
	return tex, nil
}

// DrawFrame records and presents one frame of packet. It returns once the
// frame is queued on the render thread; the previous frame has finished
// executing by then.
func (r *Renderer) DrawFrame(packet *metadata.RenderPacket) error {
	if r.shutdown {
		return core.ErrRenderThreadStopped
	}
	if r.width == 0 || r.height == 0 {
		// Minimized.
		return nil
	}
	if r.recreate.Load() {
		if err := r.recreateSwapchain(); err != nil {
			return err
		}
	}
	if r.reload.Load() {
		if err := r.rebuildScene(); err != nil {
			return err
		}
	}

	f := &gfx.Frame{Number: r.frameNumber}
	r.frameNumber++

	r.scene.SetScene(packet)
	r.thread.SubmitToThread(func() { r.beginFrame(f) })
	r.scene.Render(f)
	r.thread.SubmitToThread(func() { r.endFrame(f) })
	r.thread.WaitAndSet()
	return nil
}

// beginFrame acquires the swapchain image and starts the slot's command
// buffer. An out-of-date swapchain drops the frame.
func (r *Renderer) beginFrame(f *gfx.Frame) {
	acquired, res, err := r.frames.AcquireNextImage()
	core.CheckFatal(err, "acquire next image")
	switch res {
	case gpu.OutOfDate:
		core.LogDebug("frame %d dropped: %s", f.Number, core.ErrSwapchainOutOfDate)
		r.recreate.Store(true)
		f.Skip = true
		return
	case gpu.Suboptimal:
		r.recreate.Store(true)
	}

	f.Slot = acquired.Slot
	f.ImageIndex = acquired.ImageIndex
	f.Target = acquired.Image
	f.Cmd = acquired.CommandBuffer
	core.CheckFatal(f.Cmd.Reset(), "command buffer reset")
	core.CheckFatal(f.Cmd.Begin(), "command buffer begin")
}

// endFrame copies the final image to the swapchain image, submits and
// presents.
func (r *Renderer) endFrame(f *gfx.Frame) {
	if f.Skip {
		return
	}
	cmd := f.Cmd
	r.ctx.BeginLabel(cmd, "present", [4]float32{0.6, 0.6, 0.6, 1})
	cmd.Transition(gpu.Transition{Image: f.Target, MipCount: 1, From: gpu.LayoutUndefined, To: gpu.LayoutTransferDst,
		SrcStage: gpu.StageTop, DstStage: gpu.StageTransfer, DstAccess: gpu.AccessTransferWrite})
	cmd.Blit(gpu.Blit{Src: r.scene.FinalImage(f.Slot), Dst: f.Target})
	cmd.Transition(gpu.Transition{Image: f.Target, MipCount: 1, From: gpu.LayoutTransferDst, To: gpu.LayoutPresent,
		SrcStage: gpu.StageTransfer, DstStage: gpu.StageBottom, SrcAccess: gpu.AccessTransferWrite})
	r.ctx.EndLabel(cmd)
	core.CheckFatal(cmd.End(), "command buffer end")

	res, err := r.frames.SubmitCommandBuffers([]gpu.CommandBuffer{cmd}, f.ImageIndex)
	core.CheckFatal(err, "submit frame")
	if res != gpu.Success {
		r.recreate.Store(true)
	}
}

// recreateSwapchain drains the render thread and the GPU, then rebuilds the
// swapchain and every viewport-sized target. Producer only.
func (r *Renderer) recreateSwapchain() error {
	r.thread.Wait()
	if err := r.frames.Recreate(r.width, r.height); err != nil {
		return err
	}
	if err := r.scene.Resize(r.width, r.height); err != nil {
		return err
	}
	// Old targets were queued for deletion and the device is idle.
	r.thread.ExecuteDeletionQueue()
	r.recreate.Store(false)
	return nil
}

// ReloadShaders rebuilds every pipeline of the scene graph from the shader
// files at the start of the next frame.
func (r *Renderer) ReloadShaders() { r.reload.Store(true) }

// rebuildScene replaces the scene renderer once the render thread and the
// GPU are idle. Live settings and the lens dirt texture carry over. On
// failure the previous graph keeps rendering.
func (r *Renderer) rebuildScene() error {
	r.reload.Store(false)
	r.thread.Wait()
	if err := r.device.WaitIdle(); err != nil {
		return err
	}
	next, err := graph.New(r.ctx, r.width, r.height)
	if err != nil {
		core.LogError("shader reload failed, keeping the current pipelines: %s", err)
		return nil
	}
	next.ApplySettings(r.scene.Settings())
	if r.lensDirt != nil {
		next.SetLensDirt(r.lensDirt)
	}
	r.scene.Destroy()
	r.scene = next
	r.thread.ExecuteDeletionQueue()
	core.LogInfo("shaders reloaded")
	return nil
}

// Resize records the new viewport size. The swapchain and the targets are
// rebuilt at the start of the next frame. A zero size pauses rendering.
func (r *Renderer) Resize(width, height uint32) {
	if width == r.width && height == r.height {
		return
	}
	r.width, r.height = width, height
	if width == 0 || height == 0 {
		core.LogDebug("viewport minimized, rendering paused")
		return
	}
	r.recreate.Store(true)
}

func (r *Renderer) Extent() (uint32, uint32) { return r.scene.Extent() }

// ViewportImage returns the final composited image of frame slot frame.
func (r *Renderer) ViewportImage(frame int) gpu.Image { return r.scene.FinalImage(frame) }

// PassTimings returns the averaged GPU time of every pass in milliseconds.
func (r *Renderer) PassTimings() map[string]float64 { return r.scene.Profiler().Timings() }

func (r *Renderer) TargetSpecs() []gpu.ImageSpec { return r.scene.TargetSpecs() }

// FramesRendered returns the number of frames the render thread executed.
func (r *Renderer) FramesRendered() uint64 { return r.thread.ConsumerFrame() }

// ApplySettings updates the post-processing parameters of the next frames.
func (r *Renderer) ApplySettings(cfg core.RendererConfig) {
	r.scene.ApplySettings(cfg)
	core.LogInfo("renderer settings applied: exposure %.2f, bloom %t, dof %t", cfg.Exposure, cfg.Bloom.Enabled, cfg.DOF.Enabled)
}

// SetLensDirt uploads img on the render thread and binds it to the
// composite pass. The previous texture is destroyed once no frame uses it.
func (r *Renderer) SetLensDirt(img *image.RGBA) {
	r.thread.SubmitToThread(func() {
		tex, err := r.ctx.UploadImage("lens-dirt", img)
		if err != nil {
			core.LogWarn("lens dirt upload failed, keeping the previous texture: %s", err)
			return
		}
		r.scene.SetLensDirt(tex)
		if old := r.lensDirt; old != nil {
			r.thread.SubmitToDeletion(old.Destroy)
		}
		r.lensDirt = tex
	})
}

// Shutdown drains every queued frame, waits for the GPU and releases all
// resources, the device included.
func (r *Renderer) Shutdown() error {
	if r.shutdown {
		return nil
	}
	r.shutdown = true
	r.thread.WaitAndDestroy()
	if err := r.device.WaitIdle(); err != nil {
		core.LogError("wait idle failed during shutdown: %s", err)
	}

	r.scene.Destroy()
	for _, m := range r.meshes {
		m.Destroy()
	}
	r.meshes = nil
	for _, t := range r.textures {
		t.Destroy()
	}
	r.textures = nil
	if r.lensDirt != nil {
		r.lensDirt.Destroy()
		r.lensDirt = nil
	}
	r.frames.Destroy()
	r.ctx.Destroy()
	r.device.Destroy()
	core.LogInfo("renderer shut down after %d frames", r.frameNumber)
	return nil
}
