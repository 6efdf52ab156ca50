package core

import "sync"

type SystemEventCode int

const (
	EventCodeApplicationQuit SystemEventCode = 0x01

	/* Context usage:
	 * ctx.Width, ctx.Height
	 */
	EventCodeResized SystemEventCode = 0x02

	/* Context usage:
	 * ctx.Width, ctx.Height of the editor viewport.
	 */
	EventCodeViewportResized SystemEventCode = 0x03

	/* Context usage:
	 * ctx.Path of the reloaded file, ctx.Data holds the new *Config.
	 */
	EventCodeConfigReloaded SystemEventCode = 0x04

	/* Context usage:
	 * ctx.Path of the changed file, ctx.Data holds its metadata.ResourceType.
	 */
	EventCodeAssetChanged SystemEventCode = 0x05

	/* Context usage:
	 * ctx.Data holds the KeyCode.
	 */
	EventCodeKeyPressed  SystemEventCode = 0x06
	EventCodeKeyReleased SystemEventCode = 0x07

	/* Context usage:
	 * ctx.Data holds the Button.
	 */
	EventCodeButtonPressed  SystemEventCode = 0x08
	EventCodeButtonReleased SystemEventCode = 0x09

	/* Context usage:
	 * ctx.Width, ctx.Height hold the cursor x and y.
	 */
	EventCodeMouseMoved SystemEventCode = 0x0A

	MaxEventCode SystemEventCode = 0xFF
)

type EventContext struct {
	Width  uint32
	Height uint32
	Path   string
	Data   interface{}
}

// FnOnEvent returns true when the event is handled and must not reach the
// remaining listeners.
type FnOnEvent func(code SystemEventCode, sender interface{}, listener interface{}, ctx EventContext) bool

type registeredEvent struct {
	listener interface{}
	callback FnOnEvent
}

type EventBus struct {
	mu         sync.RWMutex
	registered [MaxEventCode + 1][]registeredEvent
}

func NewEventBus() *EventBus {
	return &EventBus{}
}

/**
 * Register to listen for when events are sent with the provided code. Events with duplicate
 * listener/callback combos will not be registered again and will cause this to return false.
 */
func (b *EventBus) Register(code SystemEventCode, listener interface{}, onEvent FnOnEvent) bool {
	if code < 0 || code > MaxEventCode || onEvent == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.registered[code] {
		if e.listener == listener {
			return false
		}
	}
	b.registered[code] = append(b.registered[code], registeredEvent{
		listener: listener,
		callback: onEvent,
	})
	return true
}

func (b *EventBus) Unregister(code SystemEventCode, listener interface{}) bool {
	if code < 0 || code > MaxEventCode {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	events := b.registered[code]
	for i, e := range events {
		if e.listener == listener {
			b.registered[code] = append(events[:i], events[i+1:]...)
			return true
		}
	}
	return false
}

/**
 * Fire an event to listeners of the given code. If an event handler returns
 * true, the event is considered handled and is not passed on to any more listeners.
 */
func (b *EventBus) Fire(code SystemEventCode, sender interface{}, ctx EventContext) bool {
	if code < 0 || code > MaxEventCode {
		return false
	}
	b.mu.RLock()
	events := make([]registeredEvent, len(b.registered[code]))
	copy(events, b.registered[code])
	b.mu.RUnlock()

	for _, e := range events {
		if e.callback(code, sender, e.listener, ctx) {
			return true
		}
	}
	return false
}

func (b *EventBus) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.registered {
		b.registered[i] = nil
	}
}
