package core

import "sync"

type Button uint16

const (
	ButtonLeft Button = iota
	ButtonRight
	ButtonMiddle
	ButtonMaxButtons
)

// Key code definitions
type KeyCode uint16

const (
	KeyEnter    KeyCode = 0x0D
	KeyTab      KeyCode = 0x09
	KeyShift    KeyCode = 0x10
	KeyControl  KeyCode = 0x11
	KeyEscape   KeyCode = 0x1B
	KeySpace    KeyCode = 0x20
	KeyLeft     KeyCode = 0x25
	KeyUp       KeyCode = 0x26
	KeyRight    KeyCode = 0x27
	KeyDown     KeyCode = 0x28
	KeyA        KeyCode = 0x41
	KeyB        KeyCode = 0x42
	KeyC        KeyCode = 0x43
	KeyD        KeyCode = 0x44
	KeyE        KeyCode = 0x45
	KeyF        KeyCode = 0x46
	KeyP        KeyCode = 0x50
	KeyQ        KeyCode = 0x51
	KeyR        KeyCode = 0x52
	KeyS        KeyCode = 0x53
	KeyW        KeyCode = 0x57
	KeyX        KeyCode = 0x58
	KeyZ        KeyCode = 0x5A
	KeyF1       KeyCode = 0x70
	KeyF2       KeyCode = 0x71
	KeyF3       KeyCode = 0x72
	KeyF4       KeyCode = 0x73
	KeyF5       KeyCode = 0x74
	KeyLShift   KeyCode = 0xA0
	KeyRShift   KeyCode = 0xA1
	KeyLControl KeyCode = 0xA2
	KeyRControl KeyCode = 0xA3
	KeysMaxKeys KeyCode = 0xFF
)

// Mouse state structure
type MouseState struct {
	X       int32
	Y       int32
	Buttons [ButtonMaxButtons]bool // button states (pressed/released)
}

// Keyboard state structure
type KeyboardState struct {
	Keys [256]bool
}

// Input holds the current and previous states for keyboard and mouse. The
// platform layer feeds it and the logical thread reads it.
type Input struct {
	mu  sync.RWMutex
	bus *EventBus

	keyboardCurrent  KeyboardState
	keyboardPrevious KeyboardState
	mouseCurrent     MouseState
	mousePrevious    MouseState
}

// NewInput creates an input state that reports transitions on bus. bus may
// be nil.
func NewInput(bus *EventBus) *Input {
	return &Input{bus: bus}
}

// Update copies current states to previous states. Call it once per frame
// after everything that reads input.
func (in *Input) Update() {
	in.mu.Lock()
	in.keyboardPrevious = in.keyboardCurrent
	in.mousePrevious = in.mouseCurrent
	in.mu.Unlock()
}

func (in *Input) IsKeyDown(key KeyCode) bool {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.keyboardCurrent.Keys[key]
}

func (in *Input) IsKeyUp(key KeyCode) bool { return !in.IsKeyDown(key) }

func (in *Input) WasKeyDown(key KeyCode) bool {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.keyboardPrevious.Keys[key]
}

func (in *Input) WasKeyUp(key KeyCode) bool { return !in.WasKeyDown(key) }

func (in *Input) ProcessKey(key KeyCode, pressed bool) {
	in.mu.Lock()
	changed := in.keyboardCurrent.Keys[key] != pressed
	in.keyboardCurrent.Keys[key] = pressed
	in.mu.Unlock()

	// Only fire when the state actually changed.
	if !changed || in.bus == nil {
		return
	}
	code := EventCodeKeyReleased
	if pressed {
		code = EventCodeKeyPressed
	}
	in.bus.Fire(code, in, EventContext{Data: key})
}

func (in *Input) IsButtonDown(button Button) bool {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.mouseCurrent.Buttons[button]
}

func (in *Input) WasButtonDown(button Button) bool {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.mousePrevious.Buttons[button]
}

func (in *Input) ProcessButton(button Button, pressed bool) {
	if button >= ButtonMaxButtons {
		return
	}
	in.mu.Lock()
	changed := in.mouseCurrent.Buttons[button] != pressed
	in.mouseCurrent.Buttons[button] = pressed
	in.mu.Unlock()

	if !changed || in.bus == nil {
		return
	}
	code := EventCodeButtonReleased
	if pressed {
		code = EventCodeButtonPressed
	}
	in.bus.Fire(code, in, EventContext{Data: button})
}

func (in *Input) MousePosition() (int32, int32) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.mouseCurrent.X, in.mouseCurrent.Y
}

func (in *Input) PreviousMousePosition() (int32, int32) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.mousePrevious.X, in.mousePrevious.Y
}

// MouseDelta returns how far the cursor moved since the last Update.
func (in *Input) MouseDelta() (int32, int32) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.mouseCurrent.X - in.mousePrevious.X, in.mouseCurrent.Y - in.mousePrevious.Y
}

func (in *Input) ProcessMouseMove(x, y int32) {
	in.mu.Lock()
	changed := in.mouseCurrent.X != x || in.mouseCurrent.Y != y
	in.mouseCurrent.X = x
	in.mouseCurrent.Y = y
	in.mu.Unlock()

	if !changed || in.bus == nil {
		return
	}
	in.bus.Fire(EventCodeMouseMoved, in, EventContext{Width: uint32(x), Height: uint32(y)})
}
