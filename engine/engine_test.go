package engine

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

const testScene = `
name: test-room
camera:
  position: [0, 2, 8]
entities:
  - name: floor
    mesh: floor
    materials: [default]
  - name: crate
    mesh: cube
    materials: [red]
    transform:
      position: [0, 3, 0]
    rigid_body:
      mass: 1
      half_height: 0.5
  - name: lamp
    transform:
      position: [1, 4, 1]
    point_light:
      intensity: 10
      radius: 8
      falloff: 1
`

const redMaterial = `# crate
name = red
albedo_colour = 1.0 0.1 0.1 1.0
roughness = 0.7
albedo_map = dot.png
`

const maskedMaterial = `name = masked
albedo_map = dot.png
normal_map = dirt.png
roughness_map = missing.png
`

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
}

func writePNG(t *testing.T, path string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(1, 1, color.RGBA{255, 255, 255, 255})
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

// testProject lays out a config file and an asset root in a temp dir.
func testProject(t *testing.T, scene string) (dir string, configPath string) {
	t.Helper()
	dir = t.TempDir()
	root := filepath.Join(dir, "assets")
	writeFile(t, filepath.Join(root, "materials", "red.mat"), redMaterial)
	writeFile(t, filepath.Join(root, "materials", "masked.mat"), maskedMaterial)
	writeFile(t, filepath.Join(root, "scenes", "room.yaml"), testScene)
	writePNG(t, filepath.Join(root, "textures", "dot.png"))
	writePNG(t, filepath.Join(root, "textures", "dirt.png"))

	configPath = filepath.Join(dir, "config.toml")
	writeFile(t, configPath, fmt.Sprintf(`
[application]
width = 320
height = 180

[renderer]
backend = "headless"
threading = "single"

[renderer.bloom]
lens_dirt = "dirt.png"

[assets]
root = %q
watch = false
scene = %q
`, root, scene))
	return dir, configPath
}

func newEngine(t *testing.T, scene string, frames uint64) *Engine {
	t.Helper()
	_, cfg := testProject(t, scene)
	e, err := New(nil, Options{ConfigPath: cfg, Frames: frames})
	require.NoError(t, err)
	require.NoError(t, e.Initialize())
	t.Cleanup(func() { _ = e.Shutdown() })
	return e
}

func TestRunHeadlessStopsAfterFrames(t *testing.T) {
	e := newEngine(t, "room", 3)
	assert.Equal(t, EngineStageInitialized, e.Stage())
	assert.Equal(t, "test-room", e.Scene().Name)

	require.NoError(t, e.Run())
	assert.Equal(t, uint64(3), e.Frames())
	assert.Equal(t, uint64(3), e.Renderer().FramesRendered())

	require.NoError(t, e.Shutdown())
	assert.Equal(t, EngineStageShuttingDown, e.Stage())
}

func TestDemoSceneWithoutDocument(t *testing.T) {
	e := newEngine(t, "", 1)
	assert.Equal(t, "demo", e.Scene().Name)
	_, ok := e.Scene().FindEntity("cube")
	assert.True(t, ok)
	require.NoError(t, e.Run())
}

func TestMissingConfigUsesDefaults(t *testing.T) {
	e, err := New(nil, Options{ConfigPath: filepath.Join(t.TempDir(), "missing.toml"), Headless: true})
	require.NoError(t, err)
	assert.Equal(t, core.BackendHeadless, e.Config().Renderer.Backend)
	assert.Equal(t, core.DefaultConfig().Application.Width, e.Config().Application.Width)
}

func TestInvalidConfigIsRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, path, "[renderer]\nframes_in_flight = 9\n")
	_, err := New(nil, Options{ConfigPath: path})
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestRunTwiceIsRefused(t *testing.T) {
	e := newEngine(t, "room", 1)
	require.NoError(t, e.Run())
	assert.Error(t, e.Run())
	assert.Error(t, e.Initialize())
}

func TestGameHooksRun(t *testing.T) {
	_, cfg := testProject(t, "room")
	var initialized, updates, shutdowns int
	g := &Game{
		Name: "hooks",
		FnInitialize: func(e *Engine) error {
			initialized++
			return nil
		},
		FnUpdate: func(e *Engine, dt float64) error {
			updates++
			e.Scene().Camera.MoveForward(1)
			return nil
		},
		FnShutdown: func() error {
			shutdowns++
			return nil
		},
	}
	e, err := New(g, Options{ConfigPath: cfg, Frames: 2})
	require.NoError(t, err)
	require.NoError(t, e.Initialize())
	require.NoError(t, e.Run())
	require.NoError(t, e.Shutdown())
	require.NoError(t, e.Shutdown())

	assert.Equal(t, 1, initialized)
	assert.Equal(t, 2, updates)
	assert.Equal(t, 1, shutdowns)
	assert.Equal(t, "hooks", e.Config().Application.Name)
}

func TestEscapeQuits(t *testing.T) {
	e := newEngine(t, "room", 0)
	e.isRunning.Store(true)
	handled := e.Bus().Fire(core.EventCodeKeyPressed, nil, core.EventContext{Data: core.KeyEscape})
	assert.True(t, handled)
	assert.False(t, e.isRunning.Load())
}

func TestResizeSuspendsWhenMinimized(t *testing.T) {
	e := newEngine(t, "room", 0)
	var viewport []uint32
	e.Bus().Register(core.EventCodeViewportResized, t, func(code core.SystemEventCode, sender, listener interface{}, ctx core.EventContext) bool {
		viewport = append(viewport, ctx.Width)
		return false
	})

	e.Bus().Fire(core.EventCodeResized, nil, core.EventContext{Width: 0, Height: 0})
	assert.True(t, e.isSuspended)
	e.Bus().Fire(core.EventCodeResized, nil, core.EventContext{Width: 640, Height: 360})
	assert.False(t, e.isSuspended)

	w, h := e.GetFramebufferSize()
	assert.Equal(t, uint32(640), w)
	assert.Equal(t, uint32(360), h)
	assert.Equal(t, []uint32{0, 640}, viewport)
}

func TestConfigReloadAppliesLiveSettings(t *testing.T) {
	e := newEngine(t, "room", 0)
	next := core.DefaultConfig()
	next.Renderer.Exposure = 3
	next.Renderer.Bloom.Enabled = false
	next.Renderer.MSAA = 1
	next.Physics.StepHz = 120

	e.Bus().Fire(core.EventCodeConfigReloaded, nil, core.EventContext{Data: next})
	assert.Equal(t, float32(3), e.Config().Renderer.Exposure)
	assert.False(t, e.Config().Renderer.Bloom.Enabled)
	// Restart-only settings are kept.
	assert.Equal(t, core.BackendHeadless, e.Config().Renderer.Backend)
	assert.Equal(t, core.DefaultConfig().Renderer.MSAA, e.Config().Renderer.MSAA)
	assert.InDelta(t, 1.0/120, e.Scene().Physics().StepSize(), 1e-9)
}

func TestMaterialChangeSwapsTheAsset(t *testing.T) {
	e := newEngine(t, "room", 0)
	crate, ok := e.Scene().FindEntity("crate")
	require.True(t, ok)
	before := e.Scene().MeshRenderer(crate).Materials[0]
	assert.Equal(t, float32(0.7), before.Roughness)
	assert.NotNil(t, before.AlbedoMap)

	path := filepath.Join(e.assetManager.Root(), "materials", "red.mat")
	writeFile(t, path, "name = red\nroughness = 0.2\n")
	e.Bus().Fire(core.EventCodeAssetChanged, nil, core.EventContext{Path: path, Data: metadata.ResourceTypeMaterial})

	after := e.Scene().MeshRenderer(crate).Materials[0]
	assert.NotSame(t, before, after)
	assert.Equal(t, float32(0.2), after.Roughness)
	assert.Nil(t, after.AlbedoMap)
}

func TestImageChangeReloadsItsMaterials(t *testing.T) {
	e := newEngine(t, "room", 0)
	crate, _ := e.Scene().FindEntity("crate")
	before := e.Scene().MeshRenderer(crate).Materials[0]

	path := filepath.Join(e.assetManager.Root(), "textures", "dot.png")
	e.Bus().Fire(core.EventCodeAssetChanged, nil, core.EventContext{Path: path, Data: metadata.ResourceTypeImage})

	after := e.Scene().MeshRenderer(crate).Materials[0]
	assert.NotSame(t, before, after)
	require.NotNil(t, after.AlbedoMap)
	assert.NotSame(t, before.AlbedoMap, after.AlbedoMap)
}

func TestSceneChangeKeepsTheCamera(t *testing.T) {
	e := newEngine(t, "room", 0)
	e.Scene().Camera.MoveUp(5)
	camera := e.Scene().Camera

	path := filepath.Join(e.assetManager.Root(), "scenes", "room.yaml")
	writeFile(t, path, "name: emptied\n")
	e.Bus().Fire(core.EventCodeAssetChanged, nil, core.EventContext{Path: path, Data: metadata.ResourceTypeScene})

	assert.Equal(t, "emptied", e.Scene().Name)
	assert.Same(t, camera, e.Scene().Camera)
	assert.Empty(t, e.Scene().Entities())
}

func TestLibraryCachesMeshes(t *testing.T) {
	e := newEngine(t, "room", 0)
	lib := e.Library()
	a, err := lib.Mesh("cube")
	require.NoError(t, err)
	b, err := lib.Mesh("cube")
	require.NoError(t, err)
	assert.Same(t, a, b)

	_, err = lib.Mesh("teapot")
	assert.Error(t, err)
	_, err = lib.Material("missing")
	assert.Error(t, err)

	assert.Equal(t, []string{"red"}, lib.MaterialsUsing("dot.png"))
	assert.True(t, lib.Forget("dot.png"))
	assert.False(t, lib.Forget("dot.png"))
}

func TestLibraryDecodesMapsOnThePool(t *testing.T) {
	e := newEngine(t, "room", 0)
	lib := e.Library()
	m, err := lib.Material("masked")
	require.NoError(t, err)
	assert.NotNil(t, m.AlbedoMap)
	assert.NotNil(t, m.NormalMap)
	// A map that cannot be read falls back to the placeholder.
	assert.Nil(t, m.RoughnessMap)
	assert.Empty(t, lib.decoded)

	red, err := lib.Material("red")
	require.NoError(t, err)
	assert.Same(t, m.AlbedoMap, red.AlbedoMap)
	assert.Equal(t, []string{"masked", "red"}, lib.MaterialsUsing("dot.png"))
}
