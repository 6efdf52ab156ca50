package assets

import (
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func spirv(words ...uint32) []byte {
	out := make([]byte, 4*(len(words)+1))
	binary.LittleEndian.PutUint32(out, metadata.SPIRVMagic)
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[4*(i+1):], w)
	}
	return out
}

type recorder struct {
	codes []core.SystemEventCode
	ctxs  []core.EventContext
}

func (r *recorder) listen(bus *core.EventBus, code core.SystemEventCode) {
	bus.Register(code, r, func(code core.SystemEventCode, _ interface{}, _ interface{}, ctx core.EventContext) bool {
		r.codes = append(r.codes, code)
		r.ctxs = append(r.ctxs, ctx)
		return false
	})
}

func TestDetermineAssetType(t *testing.T) {
	tests := map[string]metadata.ResourceType{
		"config.toml":        metadata.ResourceTypeConfig,
		"shaders/bloom.spv":  metadata.ResourceTypeShader,
		"textures/dirt.png":  metadata.ResourceTypeImage,
		"textures/dirt.tiff": metadata.ResourceTypeImage,
		"textures/dirt.bmp":  metadata.ResourceTypeImage,
		"materials/red.mat":  metadata.ResourceTypeMaterial,
		"scenes/demo.yaml":   metadata.ResourceTypeScene,
		"README.md":          metadata.ResourceTypeNone,
	}
	for path, want := range tests {
		assert.Equal(t, want, DetermineAssetType(path), path)
	}
}

func TestInitializeIndexesKnownFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "shaders", "final.spv"), spirv(1))
	writeFile(t, filepath.Join(root, "notes.txt"), []byte("x"))
	writeFile(t, filepath.Join(root, "stray.toml"), []byte("x = 1"))

	am := NewAssetManager(root)
	require.NoError(t, am.Initialize())
	infos := am.Assets()
	require.Len(t, infos, 1)
	assert.Equal(t, metadata.ResourceTypeShader, infos[0].Type)
}

func TestLoadShader(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "shaders", "bloom.spv"), spirv(7, 8))
	writeFile(t, filepath.Join(root, "shaders", "broken.spv"), []byte{1, 2, 3, 4, 5})

	code, err := LoadShader(root, "bloom")
	require.NoError(t, err)
	assert.Equal(t, []uint32{metadata.SPIRVMagic, 7, 8}, code)

	_, err = LoadShader(root, "broken")
	assert.Error(t, err)
	_, err = LoadShader(root, "missing")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadImageRGBA(t *testing.T) {
	dir := t.TempDir()
	src := image.NewRGBA(image.Rect(0, 0, 3, 2))
	for i := 3; i < len(src.Pix); i += 4 {
		src.Pix[i] = 255
	}
	src.SetRGBA(2, 1, color.RGBA{R: 255, A: 255})

	pngPath := filepath.Join(dir, "a.png")
	f, err := os.Create(pngPath)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, src))
	require.NoError(t, f.Close())

	bmpPath := filepath.Join(dir, "a.bmp")
	f, err = os.Create(bmpPath)
	require.NoError(t, err)
	require.NoError(t, bmp.Encode(f, src))
	require.NoError(t, f.Close())

	for _, path := range []string{pngPath, bmpPath} {
		img, err := LoadImageRGBA(path)
		require.NoError(t, err, path)
		assert.Equal(t, image.Rect(0, 0, 3, 2), img.Bounds())
		assert.Equal(t, color.RGBA{R: 255, A: 255}, img.RGBAAt(2, 1), path)
	}

	writeFile(t, filepath.Join(dir, "bad.png"), []byte("not an image"))
	_, err = LoadImageRGBA(filepath.Join(dir, "bad.png"))
	assert.Error(t, err)
}

func TestLoadAssetMaterial(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "materials", "stone.mat"), []byte(
		"# stone\nname = stone\nalbedo_colour = 0.5 0.5 0.5 1\nroughness = 0.9\nalbedo_map = stone.png\n"))

	am := NewAssetManager(root)
	res, err := am.LoadAsset("stone", metadata.ResourceTypeMaterial, nil)
	require.NoError(t, err)
	cfg := res.Data.(*metadata.MaterialConfig)
	assert.Equal(t, "stone", cfg.Name)
	assert.Equal(t, float32(0.9), cfg.Roughness)
	assert.Equal(t, "stone.png", cfg.AlbedoMap)
	assert.Len(t, am.Assets(), 1)

	_, err = am.LoadAsset("stone", metadata.ResourceTypeNone, nil)
	assert.Error(t, err)
}

func TestPollDebouncesChanges(t *testing.T) {
	root := t.TempDir()
	am := NewAssetManager(root)
	clock := time.Unix(1000, 0)
	am.now = func() time.Time { return clock }

	bus := core.NewEventBus()
	rec := &recorder{}
	rec.listen(bus, core.EventCodeAssetChanged)

	path := filepath.Join(root, "shaders", "bloom.spv")
	am.handleEvent(fsnotify.Event{Name: path, Op: fsnotify.Write})
	clock = clock.Add(50 * time.Millisecond)
	am.handleEvent(fsnotify.Event{Name: path, Op: fsnotify.Write})
	am.handleEvent(fsnotify.Event{Name: filepath.Join(root, "notes.txt"), Op: fsnotify.Write})

	clock = clock.Add(100 * time.Millisecond)
	assert.Zero(t, am.Poll(bus))

	clock = clock.Add(100 * time.Millisecond)
	assert.Equal(t, 1, am.Poll(bus))
	require.Len(t, rec.ctxs, 1)
	assert.Equal(t, path, rec.ctxs[0].Path)
	assert.Equal(t, metadata.ResourceTypeShader, rec.ctxs[0].Data)

	assert.Zero(t, am.Poll(bus))
}

func TestRemovedFileIsForgotten(t *testing.T) {
	root := t.TempDir()
	am := NewAssetManager(root)
	am.Debounce = 0
	path := filepath.Join(root, "textures", "dirt.png")
	am.handleEvent(fsnotify.Event{Name: path, Op: fsnotify.Create})
	am.handleEvent(fsnotify.Event{Name: path, Op: fsnotify.Remove})
	assert.Zero(t, am.Poll(core.NewEventBus()))
	assert.Empty(t, am.Assets())
}

func TestConfigChangeFiresReload(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "assets")
	require.NoError(t, os.MkdirAll(root, 0o755))
	cfgPath := filepath.Join(dir, "config.toml")
	writeFile(t, cfgPath, []byte("[renderer]\nexposure = 1.5\n"))

	am := NewAssetManager(root)
	am.Debounce = 0
	require.NoError(t, am.Watch(cfgPath))
	defer am.Close()

	bus := core.NewEventBus()
	rec := &recorder{}
	rec.listen(bus, core.EventCodeConfigReloaded)

	writeFile(t, cfgPath, []byte("[renderer]\nexposure = 2.5\n"))
	// The truncating write may be seen first; wait for the final content.
	require.Eventually(t, func() bool {
		am.Poll(bus)
		if len(rec.ctxs) == 0 {
			return false
		}
		cfg := rec.ctxs[len(rec.ctxs)-1].Data.(*core.Config)
		return cfg.Renderer.Exposure == 2.5
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, cfgPath, rec.ctxs[len(rec.ctxs)-1].Path)
}

func TestInvalidConfigIsRejected(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.toml")
	writeFile(t, cfgPath, []byte("[renderer]\nmsaa = 3\n"))

	am := NewAssetManager(filepath.Join(dir, "assets"))
	am.Debounce = 0
	am.extra[cfgPath] = true

	bus := core.NewEventBus()
	rec := &recorder{}
	rec.listen(bus, core.EventCodeConfigReloaded)

	am.handleEvent(fsnotify.Event{Name: cfgPath, Op: fsnotify.Write})
	assert.Zero(t, am.Poll(bus))
	assert.Empty(t, rec.codes)
}

func TestWatchPicksUpNewDirectories(t *testing.T) {
	root := t.TempDir()
	am := NewAssetManager(root)
	am.Debounce = 0
	require.NoError(t, am.Watch())
	defer am.Close()

	bus := core.NewEventBus()
	rec := &recorder{}
	rec.listen(bus, core.EventCodeAssetChanged)

	dir := filepath.Join(root, "textures")
	require.NoError(t, os.Mkdir(dir, 0o755))
	// Give the watcher a moment to add the new directory.
	require.Eventually(t, func() bool {
		_ = os.WriteFile(filepath.Join(dir, "dirt.png"), []byte("x"), 0o644)
		return am.Poll(bus) > 0
	}, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, filepath.Join(dir, "dirt.png"), rec.ctxs[0].Path)
}
