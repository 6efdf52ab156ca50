package testbed

import (
	"github.com/spaghettifunk/lumen/engine"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
)

const (
	moveSpeed float32 = 5.0
	turnSpeed float32 = 1.0
	// Radians per pixel of mouse movement while the right button is held.
	mouseSensitivity float32 = 0.003
)

type TestGame struct {
	*engine.Game
}

type gameState struct {
	width  uint32
	height uint32

	bloom bool
	dof   bool
}

func NewTestGame() *TestGame {
	tg := &TestGame{
		Game: &engine.Game{
			Name:  "Lumen Testbed",
			State: &gameState{},
		},
	}
	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnOnResize = tg.OnResize
	tg.FnShutdown = tg.Shutdown
	return tg
}

func (g *TestGame) state() *gameState { return g.State.(*gameState) }

func (g *TestGame) Initialize(e *engine.Engine) error {
	state := g.state()
	state.width, state.height = e.GetFramebufferSize()
	state.bloom = e.Config().Renderer.Bloom.Enabled
	state.dof = e.Config().Renderer.DOF.Enabled
	core.LogInfo("testbed ready: WASD/QE to fly, arrows or right mouse to look, B bloom, F depth of field, P position")
	return nil
}

// Update flies the scene camera from the keyboard and mouse and toggles
// post effects.
func (g *TestGame) Update(e *engine.Engine, deltaTime float64) error {
	in := e.Input()
	camera := e.Scene().Camera
	dt := float32(deltaTime)

	if in.IsKeyDown(core.KeyLeft) {
		camera.Yaw(turnSpeed * dt)
	}
	if in.IsKeyDown(core.KeyRight) {
		camera.Yaw(-turnSpeed * dt)
	}
	if in.IsKeyDown(core.KeyUp) {
		camera.Pitch(turnSpeed * dt)
	}
	if in.IsKeyDown(core.KeyDown) {
		camera.Pitch(-turnSpeed * dt)
	}
	if in.IsButtonDown(core.ButtonRight) {
		dx, dy := in.MouseDelta()
		camera.Yaw(-float32(dx) * mouseSensitivity)
		camera.Pitch(-float32(dy) * mouseSensitivity)
	}

	speed := moveSpeed * dt
	if in.IsKeyDown(core.KeyShift) {
		speed *= 3
	}
	if in.IsKeyDown(core.KeyW) {
		camera.MoveForward(speed)
	}
	if in.IsKeyDown(core.KeyS) {
		camera.MoveBackward(speed)
	}
	if in.IsKeyDown(core.KeyA) {
		camera.MoveLeft(speed)
	}
	if in.IsKeyDown(core.KeyD) {
		camera.MoveRight(speed)
	}
	if in.IsKeyDown(core.KeyE) {
		camera.MoveUp(speed)
	}
	if in.IsKeyDown(core.KeyQ) {
		camera.MoveDown(speed)
	}

	state := g.state()
	toggled := false
	if released(in, core.KeyB) {
		state.bloom = !state.bloom
		toggled = true
	}
	if released(in, core.KeyF) {
		state.dof = !state.dof
		toggled = true
	}
	if toggled {
		settings := e.Config().Renderer
		settings.Bloom.Enabled = state.bloom
		settings.DOF.Enabled = state.dof
		e.Config().Renderer = settings
		e.Renderer().ApplySettings(settings)
	}

	if released(in, core.KeyP) {
		pos := camera.Position()
		rot := camera.EulerRotation()
		core.LogInfo("camera pos: [%.3f, %.3f, %.3f] rot: [%.3f, %.3f, %.3f]",
			pos.X, pos.Y, pos.Z, math.RadToDeg(rot.X), math.RadToDeg(rot.Y), math.RadToDeg(rot.Z))
	}
	return nil
}

func released(in *core.Input, key core.KeyCode) bool {
	return in.IsKeyUp(key) && in.WasKeyDown(key)
}

func (g *TestGame) OnResize(width uint32, height uint32) error {
	state := g.state()
	state.width, state.height = width, height
	return nil
}

func (g *TestGame) Shutdown() error {
	core.LogInfo("testbed shut down")
	return nil
}
