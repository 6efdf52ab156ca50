// Package platform owns the native window. It is only used by the Vulkan
// backend; headless runs never initialise GLFW.
package platform

import (
	"runtime"
	"time"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
)

func init() {
	// GLFW event handling must run on the main OS thread
	runtime.LockOSThread()
}

var startTime = time.Now()

type Platform struct {
	Window *glfw.Window

	bus   *core.EventBus
	input *core.Input
}

func New(bus *core.EventBus, input *core.Input) *Platform {
	return &Platform{bus: bus, input: input}
}

func (p *Platform) Startup(cfg core.ApplicationConfig) error {
	if err := glfw.Init(); err != nil {
		return err
	}
	if !glfw.VulkanSupported() {
		glfw.Terminate()
		return core.ErrUnsupported
	}

	glfw.WindowHint(glfw.Visible, glfw.False)
	glfw.WindowHint(glfw.Resizable, glfw.True)
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI) // Required for Vulkan.

	window, err := glfw.CreateWindow(int(cfg.Width), int(cfg.Height), cfg.Name, nil, nil)
	if err != nil {
		glfw.Terminate()
		return err
	}
	p.Window = window

	p.Window.SetKeyCallback(p.keyCallback)
	p.Window.SetMouseButtonCallback(p.mouseButtonCallback)
	p.Window.SetCursorPosCallback(p.cursorPosCallback)
	p.Window.SetFramebufferSizeCallback(p.framebufferSizeCallback)
	p.Window.SetCloseCallback(p.closeCallback)
	p.Window.SetPos(int(cfg.PosX), int(cfg.PosY))
	p.Window.Show()

	core.LogInfo("window %q created: %dx%d", cfg.Name, cfg.Width, cfg.Height)
	return nil
}

func (p *Platform) Shutdown() error {
	if p.Window != nil {
		p.Window.Destroy()
		p.Window = nil
	}
	glfw.Terminate()
	return nil
}

// PumpMessages processes pending window events and reports whether the
// window is still open.
func (p *Platform) PumpMessages() bool {
	glfw.PollEvents()
	return !p.Window.ShouldClose()
}

func (p *Platform) ShouldClose() bool { return p.Window.ShouldClose() }

func (p *Platform) FramebufferSize() (uint32, uint32) {
	w, h := p.Window.GetFramebufferSize()
	return uint32(w), uint32(h)
}

// RequiredInstanceExtensions lists the instance extensions needed to
// present to this window.
func (p *Platform) RequiredInstanceExtensions() []string {
	return p.Window.GetRequiredInstanceExtensions()
}

// InstanceProcAddr returns vkGetInstanceProcAddr as loaded by GLFW.
func (p *Platform) InstanceProcAddr() unsafe.Pointer {
	return glfw.GetVulkanGetInstanceProcAddress()
}

func (p *Platform) CreateSurface(instance vk.Instance) (vk.Surface, error) {
	ptr, err := p.Window.CreateWindowSurface(instance, nil)
	if err != nil {
		return vk.NullSurface, err
	}
	return vk.SurfaceFromPointer(ptr), nil
}

// GetAbsoluteTime returns seconds since the process started.
func GetAbsoluteTime() float64 {
	return time.Since(startTime).Seconds()
}

func (p *Platform) keyCallback(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
	if action == glfw.Repeat {
		return
	}
	if code, ok := translateKey(key); ok {
		p.input.ProcessKey(code, action == glfw.Press)
	}
}

func (p *Platform) mouseButtonCallback(w *glfw.Window, button glfw.MouseButton, action glfw.Action, mods glfw.ModifierKey) {
	var b core.Button
	switch button {
	case glfw.MouseButtonLeft:
		b = core.ButtonLeft
	case glfw.MouseButtonRight:
		b = core.ButtonRight
	case glfw.MouseButtonMiddle:
		b = core.ButtonMiddle
	default:
		return
	}
	p.input.ProcessButton(b, action == glfw.Press)
}

func (p *Platform) cursorPosCallback(w *glfw.Window, xpos, ypos float64) {
	p.input.ProcessMouseMove(int32(xpos), int32(ypos))
}

func (p *Platform) framebufferSizeCallback(w *glfw.Window, width, height int) {
	p.bus.Fire(core.EventCodeResized, p, core.EventContext{Width: uint32(width), Height: uint32(height)})
}

func (p *Platform) closeCallback(w *glfw.Window) {
	p.bus.Fire(core.EventCodeApplicationQuit, p, core.EventContext{})
}

func translateKey(key glfw.Key) (core.KeyCode, bool) {
	switch {
	case key >= glfw.KeyA && key <= glfw.KeyZ:
		// GLFW and the engine both use ASCII for letters.
		return core.KeyCode(key), true
	case key >= glfw.KeyF1 && key <= glfw.KeyF5:
		return core.KeyF1 + core.KeyCode(key-glfw.KeyF1), true
	}
	switch key {
	case glfw.KeyEnter:
		return core.KeyEnter, true
	case glfw.KeyTab:
		return core.KeyTab, true
	case glfw.KeyEscape:
		return core.KeyEscape, true
	case glfw.KeySpace:
		return core.KeySpace, true
	case glfw.KeyLeft:
		return core.KeyLeft, true
	case glfw.KeyRight:
		return core.KeyRight, true
	case glfw.KeyUp:
		return core.KeyUp, true
	case glfw.KeyDown:
		return core.KeyDown, true
	case glfw.KeyLeftShift:
		return core.KeyLShift, true
	case glfw.KeyRightShift:
		return core.KeyRShift, true
	case glfw.KeyLeftControl:
		return core.KeyLControl, true
	case glfw.KeyRightControl:
		return core.KeyRControl, true
	}
	return 0, false
}
