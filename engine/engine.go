package engine

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"

	"github.com/spaghettifunk/lumen/engine/assets"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/jobs"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/platform"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
	"github.com/spaghettifunk/lumen/engine/renderer/vulkan"
	"github.com/spaghettifunk/lumen/engine/scene"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently booting up
	EngineStageBooting
	// Engine completed boot process and is ready to be initialized
	EngineStageBootComplete
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

func (s Stage) String() string {
	switch s {
	case EngineStageBooting:
		return "booting"
	case EngineStageBootComplete:
		return "boot complete"
	case EngineStageInitializing:
		return "initializing"
	case EngineStageInitialized:
		return "initialized"
	case EngineStageRunning:
		return "running"
	case EngineStageShuttingDown:
		return "shutting down"
	}
	return "uninitialized"
}

// Seconds between two metrics log lines.
const metricsInterval = 5.0

type Engine struct {
	currentStage Stage
	gameInstance *Game
	options      Options
	config       *core.Config

	isRunning   atomic.Bool
	isSuspended bool
	width       uint32
	height      uint32

	bus          *core.EventBus
	input        *core.Input
	platform     *platform.Platform
	assetManager *assets.AssetManager
	loaders      *jobs.Pool
	renderer     *renderer.Renderer
	library      *Library
	scene        *scene.Scene

	clock       *core.Clock
	metrics     *core.FrameMetrics
	lastTime    float64
	lastMetrics float64
	frames      uint64
}

// New loads the configuration and applies the command line overrides. A
// missing config file falls back to the defaults.
func New(g *Game, opts Options) (*Engine, error) {
	e := &Engine{
		currentStage: EngineStageBooting,
		gameInstance: g,
		options:      opts,
		clock:        core.NewClock(),
		metrics:      core.NewFrameMetrics(),
	}

	cfg, err := core.LoadConfig(opts.ConfigPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		core.LogWarn("config %s not found, using defaults", opts.ConfigPath)
		cfg = core.DefaultConfig()
	case err != nil:
		return nil, err
	}
	if opts.Headless {
		cfg.Renderer.Backend = core.BackendHeadless
	}
	if g != nil && g.Name != "" {
		cfg.Application.Name = g.Name
	}
	core.SetLogLevel(cfg.Log.Level)

	e.config = cfg
	e.width = cfg.Application.Width
	e.height = cfg.Application.Height
	e.currentStage = EngineStageBootComplete
	return e, nil
}

func (e *Engine) Initialize() error {
	if e.currentStage != EngineStageBootComplete {
		return fmt.Errorf("engine cannot initialize while %s", e.currentStage)
	}
	e.currentStage = EngineStageInitializing

	e.bus = core.NewEventBus()
	e.input = core.NewInput(e.bus)

	e.bus.Register(core.EventCodeApplicationQuit, e, e.onEvent)
	e.bus.Register(core.EventCodeKeyPressed, e, e.onKey)
	e.bus.Register(core.EventCodeResized, e, e.onResized)
	e.bus.Register(core.EventCodeConfigReloaded, e, e.onConfigReloaded)
	e.bus.Register(core.EventCodeAssetChanged, e, e.onAssetChanged)

	var window vulkan.Surface
	if e.config.Renderer.Backend != core.BackendHeadless {
		e.platform = platform.New(e.bus, e.input)
		if err := e.platform.Startup(e.config.Application); err != nil {
			return err
		}
		e.width, e.height = e.platform.FramebufferSize()
		window = e.platform
	}

	e.assetManager = assets.NewAssetManager(e.config.Assets.Root)
	if err := e.assetManager.Initialize(); err != nil {
		return err
	}
	if e.config.Assets.Watch {
		var extra []string
		if _, err := os.Stat(e.options.ConfigPath); err == nil {
			extra = append(extra, e.options.ConfigPath)
		}
		if err := e.assetManager.Watch(extra...); err != nil {
			core.LogWarn("hot reload disabled: %s", err)
		}
	}

	device, err := renderer.NewDevice(e.config, window)
	if err != nil {
		return err
	}
	e.renderer, err = renderer.New(e.config.Renderer, device, e.width, e.height)
	if err != nil {
		device.Destroy()
		return err
	}
	workers := e.config.Assets.LoaderWorkers
	if workers == 0 {
		workers = runtime.NumCPU()
	}
	if e.loaders, err = jobs.NewPool(workers, 0); err != nil {
		return err
	}
	e.library = NewLibrary(e.renderer, e.assetManager, e.loaders)
	e.library.MaxTextureSize = e.config.Assets.MaxTextureSize

	if e.scene, err = e.loadScene(); err != nil {
		return err
	}
	e.loadLensDirt()

	if g := e.gameInstance; g != nil && g.FnInitialize != nil {
		if err := g.FnInitialize(e); err != nil {
			return err
		}
	}
	e.currentStage = EngineStageInitialized
	core.LogInfo("engine initialized: %s backend, %dx%d, scene %q", e.config.Renderer.Backend, e.width, e.height, e.scene.Name)
	return nil
}

// loadScene reads the configured scene document, or builds the demo scene
// when none is configured.
func (e *Engine) loadScene() (*scene.Scene, error) {
	name := e.config.Assets.Scene
	if name == "" {
		return DemoScene(e.library, e.config.Physics)
	}
	path, err := e.assetManager.Path(name, metadata.ResourceTypeScene)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	s, err := scene.LoadDocument(f, e.library)
	if err != nil {
		return nil, err
	}
	s.ConfigurePhysics(e.config.Physics)
	return s, nil
}

// DemoScene builds a lit floor with a falling, spinning cube on top.
func DemoScene(lib *Library, physics core.PhysicsConfig) (*scene.Scene, error) {
	s := scene.New("demo")
	s.ConfigurePhysics(physics)
	s.Camera.SetPosition(math.NewVec3(0, 3, 10))
	s.Camera.Pitch(math.DegToRad(-10))

	floorMesh, err := lib.Mesh("floor")
	if err != nil {
		return nil, err
	}
	cubeMesh, err := lib.Mesh("cube")
	if err != nil {
		return nil, err
	}
	material, err := lib.Material(metadata.DefaultMaterialName)
	if err != nil {
		return nil, err
	}

	floor := s.CreateEntity("floor")
	s.Transform(floor).SetPosition(math.NewVec3(0, -0.1, 0))
	if err := s.AddMeshRenderer(floor, scene.MeshRenderer{Mesh: floorMesh, Materials: []*metadata.MaterialAsset{material}}); err != nil {
		return nil, err
	}

	cube := s.CreateEntity("cube")
	s.Transform(cube).SetPosition(math.NewVec3(0, 4, 0))
	if err := s.AddMeshRenderer(cube, scene.MeshRenderer{Mesh: cubeMesh, Materials: []*metadata.MaterialAsset{material}}); err != nil {
		return nil, err
	}
	if err := s.AddRigidBody(cube, scene.RigidBody{
		Mass:            1,
		AngularVelocity: math.NewVec3(0, 1, 0),
		UseGravity:      true,
		Restitution:     0.4,
		HalfHeight:      0.5,
	}); err != nil {
		return nil, err
	}

	lamp := s.CreateEntity("lamp")
	s.Transform(lamp).SetPosition(math.NewVec3(2, 3, 2))
	if err := s.AddPointLight(lamp, scene.PointLight{Color: math.NewVec3(1, 0.9, 0.8), Intensity: 20, Radius: 12, Falloff: 1}); err != nil {
		return nil, err
	}
	return s, nil
}

// loadLensDirt uploads the configured lens dirt texture. Failures keep the
// current texture.
func (e *Engine) loadLensDirt() {
	file := e.config.Renderer.Bloom.LensDirt
	if file == "" {
		return
	}
	img, err := e.library.Image(file)
	if err != nil {
		core.LogWarn("lens dirt %q: %s", file, err)
		return
	}
	e.renderer.SetLensDirt(img)
}

func (e *Engine) Run() error {
	if e.currentStage != EngineStageInitialized {
		return fmt.Errorf("engine cannot run while %s", e.currentStage)
	}
	e.currentStage = EngineStageRunning
	e.isRunning.Store(true)

	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	for e.isRunning.Load() {
		if e.platform != nil && !e.platform.PumpMessages() {
			e.isRunning.Store(false)
			break
		}
		e.assetManager.Poll(e.bus)

		if e.isSuspended {
			continue
		}

		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := currentTime - e.lastTime
		frameStartTime := platform.GetAbsoluteTime()

		if err := e.Frame(delta); err != nil {
			core.LogError("frame %d failed, shutting down: %s", e.frames, err)
			e.isRunning.Store(false)
			return err
		}

		e.metrics.Update(platform.GetAbsoluteTime() - frameStartTime)
		if currentTime-e.lastMetrics >= metricsInterval {
			e.logMetrics()
			e.lastMetrics = currentTime
		}

		// Input state is copied last so the next frame sees this one as
		// previous.
		e.input.Update()
		e.lastTime = currentTime

		if e.options.Frames > 0 && e.frames >= e.options.Frames {
			core.LogInfo("rendered %d frames, stopping", e.frames)
			e.isRunning.Store(false)
		}
	}
	return nil
}

// Frame runs one logical tick: game update, fixed-step physics, snapshot
// and submission to the renderer.
func (e *Engine) Frame(delta float64) error {
	if g := e.gameInstance; g != nil && g.FnUpdate != nil {
		if err := g.FnUpdate(e, delta); err != nil {
			return err
		}
	}
	e.scene.Update(delta)

	aspect := float32(e.width) / float32(max(e.height, 1))
	packet := e.scene.Snapshot(aspect, delta)
	if err := e.renderer.DrawFrame(packet); err != nil {
		return err
	}
	e.frames++
	return nil
}

func (e *Engine) logMetrics() {
	fps, frameTime := e.metrics.Frame()
	core.LogInfo("%.0f fps, %.2f ms/frame, %d frames", fps, frameTime, e.frames)
	for pass, ms := range e.renderer.PassTimings() {
		core.LogDebug("  %-12s %.3f ms", pass, ms)
	}
}

// Stop asks the main loop to return after the current frame. Safe to call
// from any goroutine.
func (e *Engine) Stop() {
	e.isRunning.Store(false)
}

func (e *Engine) Shutdown() error {
	if e.currentStage == EngineStageShuttingDown || e.currentStage == EngineStageUninitialized {
		return nil
	}
	e.currentStage = EngineStageShuttingDown
	e.isRunning.Store(false)

	var errs []error
	if g := e.gameInstance; g != nil && g.FnShutdown != nil {
		errs = append(errs, g.FnShutdown())
	}
	if e.assetManager != nil {
		errs = append(errs, e.assetManager.Close())
	}
	if e.loaders != nil {
		e.loaders.Shutdown()
	}
	if e.renderer != nil {
		errs = append(errs, e.renderer.Shutdown())
	}
	if e.platform != nil {
		errs = append(errs, e.platform.Shutdown())
	}
	if e.bus != nil {
		e.bus.Shutdown()
	}
	core.LogInfo("engine stopped after %d frames", e.frames)
	return errors.Join(errs...)
}

// GetFramebufferSize returns the width and height (in this order) of the
// viewport.
func (e *Engine) GetFramebufferSize() (uint32, uint32) {
	return e.width, e.height
}

func (e *Engine) Config() *core.Config         { return e.config }
func (e *Engine) Bus() *core.EventBus          { return e.bus }
func (e *Engine) Input() *core.Input           { return e.input }
func (e *Engine) Scene() *scene.Scene          { return e.scene }
func (e *Engine) Renderer() *renderer.Renderer { return e.renderer }
func (e *Engine) Library() *Library            { return e.library }
func (e *Engine) Frames() uint64               { return e.frames }
func (e *Engine) Stage() Stage                 { return e.currentStage }

func (e *Engine) onEvent(code core.SystemEventCode, sender interface{}, listener interface{}, ctx core.EventContext) bool {
	if code == core.EventCodeApplicationQuit {
		core.LogInfo("application quit received, shutting down")
		e.isRunning.Store(false)
		return true
	}
	return false
}

func (e *Engine) onKey(code core.SystemEventCode, sender interface{}, listener interface{}, ctx core.EventContext) bool {
	key, ok := ctx.Data.(core.KeyCode)
	if !ok {
		core.LogError("wrong data associated with the event code `%d`", code)
		return false
	}
	switch key {
	case core.KeyEscape:
		// NOTE: Technically firing an event to itself, but there may be other listeners.
		e.bus.Fire(core.EventCodeApplicationQuit, e, core.EventContext{})
		return true
	case core.KeyF5:
		e.renderer.ReloadShaders()
		return true
	}
	return false
}

func (e *Engine) onResized(code core.SystemEventCode, sender interface{}, listener interface{}, ctx core.EventContext) bool {
	width, height := ctx.Width, ctx.Height
	if width == e.width && height == e.height {
		return false
	}
	e.width, e.height = width, height
	core.LogDebug("Window resize: %d, %d", width, height)

	// Handle minimization
	if width == 0 || height == 0 {
		core.LogInfo("Window minimized, suspending application.")
		e.isSuspended = true
	} else if e.isSuspended {
		core.LogInfo("Window restored, resuming application.")
		e.isSuspended = false
	}
	e.renderer.Resize(width, height)
	if g := e.gameInstance; g != nil && g.FnOnResize != nil {
		if err := g.FnOnResize(width, height); err != nil {
			core.LogError("game resize: %s", err)
		}
	}
	e.bus.Fire(core.EventCodeViewportResized, e, core.EventContext{Width: width, Height: height})
	return false
}

// onConfigReloaded applies the settings that can change at runtime. Window,
// backend and threading changes need a restart.
func (e *Engine) onConfigReloaded(code core.SystemEventCode, sender interface{}, listener interface{}, ctx core.EventContext) bool {
	cfg, ok := ctx.Data.(*core.Config)
	if !ok {
		core.LogError("wrong data associated with the event code `%d`", code)
		return false
	}
	dirt := e.config.Renderer.Bloom.LensDirt

	e.config.Log = cfg.Log
	e.config.Physics = cfg.Physics
	e.config.Renderer.Exposure = cfg.Renderer.Exposure
	e.config.Renderer.Bloom = cfg.Renderer.Bloom
	e.config.Renderer.DOF = cfg.Renderer.DOF

	core.SetLogLevel(cfg.Log.Level)
	e.scene.ConfigurePhysics(cfg.Physics)
	e.renderer.ApplySettings(e.config.Renderer)
	if cfg.Renderer.Bloom.LensDirt != dirt {
		e.loadLensDirt()
	}
	return false
}

func (e *Engine) onAssetChanged(code core.SystemEventCode, sender interface{}, listener interface{}, ctx core.EventContext) bool {
	kind, ok := ctx.Data.(metadata.ResourceType)
	if !ok {
		core.LogError("wrong data associated with the event code `%d`", code)
		return false
	}
	switch kind {
	case metadata.ResourceTypeShader:
		e.renderer.ReloadShaders()
	case metadata.ResourceTypeMaterial:
		e.reloadMaterial(assetName(ctx.Path))
	case metadata.ResourceTypeImage:
		file, err := filepath.Rel(filepath.Join(e.assetManager.Root(), "textures"), ctx.Path)
		if err != nil {
			return false
		}
		file = filepath.ToSlash(file)
		if file == e.config.Renderer.Bloom.LensDirt {
			e.loadLensDirt()
		}
		users := e.library.MaterialsUsing(file)
		e.library.Forget(file)
		for _, name := range users {
			e.reloadMaterial(name)
		}
	case metadata.ResourceTypeScene:
		if assetName(ctx.Path) == e.config.Assets.Scene {
			e.reloadScene()
		}
	}
	return false
}

func (e *Engine) reloadMaterial(name string) {
	old, next, err := e.library.ReloadMaterial(name)
	switch {
	case err != nil:
		core.LogError("material %q reload failed: %s", name, err)
	case old != nil:
		n := e.scene.ReplaceMaterial(old, next)
		core.LogInfo("material %q reloaded, %d slots updated", name, n)
	}
}

// reloadScene replaces the scene and keeps the camera where it was.
func (e *Engine) reloadScene() {
	s, err := e.loadScene()
	if err != nil {
		core.LogError("scene reload failed: %s", err)
		return
	}
	s.Camera = e.scene.Camera
	e.scene = s
	core.LogInfo("scene %q reloaded", s.Name)
}
