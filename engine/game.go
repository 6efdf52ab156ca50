package engine

// Game hooks application code into the engine lifecycle. Every hook is
// optional and runs on the logical thread.
type Game struct {
	// The application name used in windowing, if applicable.
	Name         string
	State        interface{}
	FnInitialize Initialize
	FnUpdate     Update
	FnOnResize   OnResize
	FnShutdown   Shutdown
}

type Initialize func(e *Engine) error
type Update func(e *Engine, deltaTime float64) error
type OnResize func(width uint32, height uint32) error
type Shutdown func() error
