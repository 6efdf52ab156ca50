package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigOverridesDefaults(t *testing.T) {
	data := []byte(`
[application]
width = 1280
height = 720

[renderer]
backend = "headless"
frames_in_flight = 3
swapchain_images = 4
threading = "single"

[renderer.bloom]
threshold = 1.5

[physics]
step_hz = 120
`)
	cfg, err := ParseConfig(data)
	require.NoError(t, err)

	assert.Equal(t, uint32(1280), cfg.Application.Width)
	assert.Equal(t, "Lumen", cfg.Application.Name)
	assert.Equal(t, BackendHeadless, cfg.Renderer.Backend)
	assert.Equal(t, 3, cfg.Renderer.FramesInFlight)
	assert.Equal(t, ThreadingSingle, cfg.Renderer.Threading)
	assert.InDelta(t, 1.5, cfg.Renderer.Bloom.Threshold, 1e-6)
	assert.InDelta(t, 0.1, cfg.Renderer.Bloom.Knee, 1e-6)
	assert.Equal(t, 120, cfg.Physics.StepHz)
	assert.Equal(t, TLASRebuild, cfg.Renderer.TLASUpdate)
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"zero width", func(c *Config) { c.Application.Width = 0 }},
		{"unknown backend", func(c *Config) { c.Renderer.Backend = "metal" }},
		{"too many frames", func(c *Config) { c.Renderer.FramesInFlight = 4 }},
		{"images below frames", func(c *Config) { c.Renderer.SwapchainImages = 1 }},
		{"bad msaa", func(c *Config) { c.Renderer.MSAA = 3 }},
		{"bad threading", func(c *Config) { c.Renderer.Threading = "pool" }},
		{"bad tlas mode", func(c *Config) { c.Renderer.TLASUpdate = "refit" }},
		{"no physics rate", func(c *Config) { c.Physics.StepHz = 0 }},
		{"negative workers", func(c *Config) { c.Assets.LoaderWorkers = -1 }},
		{"negative texture size", func(c *Config) { c.Assets.MaxTextureSize = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
	assert.NoError(t, DefaultConfig().Validate())
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[renderer]\nmsaa = 8\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Renderer.MSAA)

	require.NoError(t, os.WriteFile(path, []byte("[renderer\n"), 0o644))
	_, err = LoadConfig(path)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoadConfigExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	homedir.DisableCache = true
	t.Cleanup(func() { homedir.DisableCache = false })

	data := "[assets]\nroot = \"~/lumen/assets\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(home, "lumen.toml"), []byte(data), 0o644))

	cfg, err := LoadConfig("~/lumen.toml")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "lumen", "assets"), cfg.Assets.Root)
}

func TestEventBus(t *testing.T) {
	bus := NewEventBus()
	type listener struct{ name string }
	a, b := &listener{"a"}, &listener{"b"}

	var got []string
	handler := func(handled bool) FnOnEvent {
		return func(code SystemEventCode, sender interface{}, l interface{}, ctx EventContext) bool {
			got = append(got, fmt.Sprintf("%s:%dx%d", l.(*listener).name, ctx.Width, ctx.Height))
			return handled
		}
	}

	require.True(t, bus.Register(EventCodeResized, a, handler(false)))
	require.True(t, bus.Register(EventCodeResized, b, handler(true)))
	assert.False(t, bus.Register(EventCodeResized, a, handler(false)), "duplicate listener")

	assert.True(t, bus.Fire(EventCodeResized, nil, EventContext{Width: 800, Height: 600}))
	assert.Equal(t, []string{"a:800x600", "b:800x600"}, got)

	require.True(t, bus.Unregister(EventCodeResized, b))
	got = nil
	assert.False(t, bus.Fire(EventCodeResized, nil, EventContext{Width: 1, Height: 2}))
	assert.Equal(t, []string{"a:1x2"}, got)

	assert.False(t, bus.Fire(EventCodeApplicationQuit, nil, EventContext{}))
}

func TestFatalHandler(t *testing.T) {
	var msg string
	restore := SetFatalHandler(func(m string) { msg = m })
	defer restore()

	CheckFatal(nil, "noop")
	assert.Empty(t, msg)

	CheckFatal(errors.New("device lost"), "queue submit")
	assert.Equal(t, "queue submit: device lost", msg)
}

func TestClockAdvancesOnUpdate(t *testing.T) {
	now := time.Unix(100, 0)
	c := NewClockWithSource(func() time.Time { return now })

	now = now.Add(time.Second)
	c.Update()
	assert.Zero(t, c.Elapsed())

	c.Start()
	now = now.Add(1500 * time.Millisecond)
	assert.Zero(t, c.Elapsed())
	c.Update()
	assert.InDelta(t, 1.5, c.Elapsed(), 1e-9)

	c.Stop()
	now = now.Add(time.Second)
	c.Update()
	assert.False(t, c.Running())
	assert.InDelta(t, 1.5, c.Elapsed(), 1e-9)
}

func TestFrameMetricsAverage(t *testing.T) {
	m := NewFrameMetrics()
	for i := 0; i < AVG_COUNT+5; i++ {
		m.Update(0.010)
	}
	assert.InDelta(t, 10.0, m.FrameTime(), 1e-9)
}

func TestInputTransitionsFireEvents(t *testing.T) {
	bus := NewEventBus()
	var pressed, released []KeyCode
	bus.Register(EventCodeKeyPressed, t, func(_ SystemEventCode, _ interface{}, _ interface{}, ctx EventContext) bool {
		pressed = append(pressed, ctx.Data.(KeyCode))
		return false
	})
	bus.Register(EventCodeKeyReleased, t, func(_ SystemEventCode, _ interface{}, _ interface{}, ctx EventContext) bool {
		released = append(released, ctx.Data.(KeyCode))
		return false
	})

	in := NewInput(bus)
	in.ProcessKey(KeyW, true)
	in.ProcessKey(KeyW, true)
	assert.True(t, in.IsKeyDown(KeyW))
	assert.False(t, in.WasKeyDown(KeyW))

	in.Update()
	assert.True(t, in.WasKeyDown(KeyW))
	in.ProcessKey(KeyW, false)
	assert.True(t, in.IsKeyUp(KeyW))

	assert.Equal(t, []KeyCode{KeyW}, pressed)
	assert.Equal(t, []KeyCode{KeyW}, released)
}

func TestInputMouseDelta(t *testing.T) {
	in := NewInput(nil)
	in.ProcessMouseMove(10, 20)
	in.Update()
	in.ProcessMouseMove(15, 18)
	dx, dy := in.MouseDelta()
	assert.Equal(t, int32(5), dx)
	assert.Equal(t, int32(-2), dy)

	in.ProcessButton(ButtonLeft, true)
	assert.True(t, in.IsButtonDown(ButtonLeft))
	assert.False(t, in.WasButtonDown(ButtonLeft))
}
