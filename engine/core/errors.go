package core

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrSwapchainBooting    = errors.New("swapchain resized or recreated, booting")
	ErrSwapchainOutOfDate  = errors.New("swapchain out of date")
	ErrTimeout             = errors.New("wait timed out")
	ErrUnsupported         = errors.New("operation not supported by the device")
	ErrInvalidDimensions   = errors.New("invalid dimensions")
	ErrInvalidConfig       = errors.New("invalid configuration")
	ErrUnpatchedInstance   = errors.New("instance references an unbuilt bottom-level structure")
	ErrMissingAddress      = errors.New("no device address for geometry key")
	ErrRenderThreadStopped = errors.New("render thread stopped")
	ErrUnknown             = errors.New("unknown")
)

var (
	fatalMu      sync.Mutex
	fatalHandler = func(msg string) { LogFatal(msg) }
)

// Fatal reports an unrecoverable GPU failure. The default handler logs and
// exits the process.
func Fatal(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fatalMu.Lock()
	h := fatalHandler
	fatalMu.Unlock()
	h(msg)
}

// CheckFatal calls Fatal when err is not nil.
func CheckFatal(err error, what string) {
	if err != nil {
		Fatal("%s: %v", what, err)
	}
}

// SetFatalHandler replaces the terminal action taken by Fatal and returns a
// function restoring the previous one.
func SetFatalHandler(h func(msg string)) (restore func()) {
	fatalMu.Lock()
	prev := fatalHandler
	fatalHandler = h
	fatalMu.Unlock()
	return func() {
		fatalMu.Lock()
		fatalHandler = prev
		fatalMu.Unlock()
	}
}
