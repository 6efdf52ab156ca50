package engine

import (
	"fmt"
	"image"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spaghettifunk/lumen/engine/assets"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/jobs"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// GPUResources creates the GPU side of meshes and textures. The renderer
// implements it.
type GPUResources interface {
	CreateMesh(geometry math.GeometryConfig) (*metadata.Mesh, error)
	CreateTexture(name string, img *image.RGBA) (gpu.Image, error)
}

// Library resolves mesh and material names for scene documents. Meshes are
// generated primitives; materials are loaded from the asset root. Both are
// created once and shared.
type Library struct {
	gpu    GPUResources
	assets *assets.AssetManager
	// Decodes texture files in parallel. Uploads stay on the caller.
	pool *jobs.Pool

	// Longest side of uploaded textures; zero keeps decoded sizes.
	MaxTextureSize int

	meshes    map[string]*metadata.Mesh
	materials map[string]*metadata.MaterialAsset
	textures  map[string]gpu.Image
	decoded   map[string]*image.RGBA
}

func NewLibrary(resources GPUResources, am *assets.AssetManager, pool *jobs.Pool) *Library {
	return &Library{
		gpu:       resources,
		assets:    am,
		pool:      pool,
		meshes:    make(map[string]*metadata.Mesh),
		materials: make(map[string]*metadata.MaterialAsset),
		textures:  make(map[string]gpu.Image),
		decoded:   make(map[string]*image.RGBA),
	}
}

// primitive returns the geometry of a built-in mesh name.
func primitive(name string) (math.GeometryConfig, bool) {
	switch name {
	case "cube":
		return math.GenerateCube(1, 1, 1, name), true
	case "quad":
		return math.GenerateQuad(name), true
	case "floor":
		return math.GenerateCube(20, 0.2, 20, name), true
	case "pillar":
		return math.GenerateCube(0.5, 4, 0.5, name), true
	}
	return math.GeometryConfig{}, false
}

func (l *Library) Mesh(name string) (*metadata.Mesh, error) {
	if m, ok := l.meshes[name]; ok {
		return m, nil
	}
	geometry, ok := primitive(name)
	if !ok {
		return nil, fmt.Errorf("unknown mesh %q", name)
	}
	m, err := l.gpu.CreateMesh(geometry)
	if err != nil {
		return nil, fmt.Errorf("mesh %q: %w", name, err)
	}
	l.meshes[name] = m
	return m, nil
}

func (l *Library) Material(name string) (*metadata.MaterialAsset, error) {
	if m, ok := l.materials[name]; ok {
		return m, nil
	}
	if name == metadata.DefaultMaterialName {
		m := metadata.NewMaterialAsset(name)
		l.materials[name] = m
		return m, nil
	}
	m, err := l.loadMaterial(name)
	if err != nil {
		return nil, err
	}
	l.materials[name] = m
	return m, nil
}

// assetName strips the directory and extension of an asset path.
func assetName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

// ReloadMaterial reads a material file again. It returns the previous and
// the new asset; old is nil when the material was never used.
func (l *Library) ReloadMaterial(name string) (old, next *metadata.MaterialAsset, err error) {
	old, ok := l.materials[name]
	if !ok {
		return nil, nil, nil
	}
	if next, err = l.loadMaterial(name); err != nil {
		return old, nil, err
	}
	l.materials[name] = next
	return old, next, nil
}

func (l *Library) loadMaterial(name string) (*metadata.MaterialAsset, error) {
	res, err := l.assets.LoadAsset(name, metadata.ResourceTypeMaterial, nil)
	if err != nil {
		return nil, fmt.Errorf("material %q: %w", name, err)
	}
	cfg, ok := res.Data.(*metadata.MaterialConfig)
	if !ok {
		return nil, fmt.Errorf("material %q: unexpected resource data %T", name, res.Data)
	}

	m := metadata.NewMaterialAsset(name)
	m.AlbedoColor = cfg.AlbedoColor
	m.Emission = cfg.Emission
	m.Roughness = cfg.Roughness
	m.Metalness = cfg.Metalness

	maps := []struct {
		file string
		dst  *gpu.Image
	}{
		{cfg.AlbedoMap, &m.AlbedoMap},
		{cfg.NormalMap, &m.NormalMap},
		{cfg.RoughnessMap, &m.RoughnessMap},
	}
	var files []string
	for _, tm := range maps {
		if tm.file != "" {
			files = append(files, tm.file)
		}
	}
	l.decode(files)
	for _, tm := range maps {
		if tm.file == "" {
			continue
		}
		tex, err := l.Texture(tm.file)
		if err != nil {
			// The placeholder texture is used instead.
			core.LogWarn("material %q: %s", name, err)
			continue
		}
		*tm.dst = tex
	}
	return m, nil
}

// decode reads the files not uploaded yet on the worker pool and keeps the
// results for the next Texture calls.
func (l *Library) decode(files []string) {
	var missing []string
	for _, f := range files {
		if _, ok := l.textures[f]; !ok && l.decoded[f] == nil {
			missing = append(missing, f)
		}
	}
	if l.pool == nil || len(missing) < 2 {
		return
	}
	images := make([]*image.RGBA, len(missing))
	errs := l.pool.Each(len(missing), func(i int) error {
		img, err := l.Image(missing[i])
		images[i] = img
		return err
	})
	for i, f := range missing {
		if errs[i] == nil {
			l.decoded[f] = images[i]
		}
	}
}

// Texture loads an image from the texture directory and uploads it. Textures
// are cached by file name until Forget is called.
func (l *Library) Texture(file string) (gpu.Image, error) {
	if t, ok := l.textures[file]; ok {
		return t, nil
	}
	img, ok := l.decoded[file]
	delete(l.decoded, file)
	if !ok {
		var err error
		if img, err = l.Image(file); err != nil {
			return nil, err
		}
	}
	tex, err := l.gpu.CreateTexture(file, img)
	if err != nil {
		return nil, fmt.Errorf("texture %q: %w", file, err)
	}
	l.textures[file] = tex
	return tex, nil
}

// Image decodes an image of the texture directory without uploading it.
func (l *Library) Image(file string) (*image.RGBA, error) {
	path, err := l.assets.Path(file, metadata.ResourceTypeImage)
	if err != nil {
		return nil, err
	}
	return assets.LoadTexture(path, l.MaxTextureSize)
}

// Forget drops the cached texture of an image file so the next material
// load uploads it again.
func (l *Library) Forget(file string) bool {
	if _, ok := l.textures[file]; !ok {
		return false
	}
	delete(l.textures, file)
	return true
}

// MaterialsUsing lists the loaded materials whose files reference the image.
func (l *Library) MaterialsUsing(file string) []string {
	var names []string
	for name, m := range l.materials {
		for _, t := range []gpu.Image{m.AlbedoMap, m.NormalMap, m.RoughnessMap} {
			if t != nil && t == l.textures[file] {
				names = append(names, name)
				break
			}
		}
	}
	sort.Strings(names)
	return names
}
