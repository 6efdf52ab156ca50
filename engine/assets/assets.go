package assets

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/spaghettifunk/lumen/engine/assets/loaders"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// DefaultDebounce is how long a file must stay quiet before its change is
// reported. Editors usually write a file in several steps.
const DefaultDebounce = 150 * time.Millisecond

var errClosed = errors.New("asset watcher already closed")

type AssetInfo struct {
	Path       string
	Type       metadata.ResourceType
	LastLoaded time.Time
}

type change struct {
	kind metadata.ResourceType
	at   time.Time
}

// AssetManager indexes the asset root, loads files through per-type loaders
// and reports changed files on the event bus.
type AssetManager struct {
	root    string
	assets  map[string]AssetInfo
	loaders map[metadata.ResourceType]Loader

	mutex sync.RWMutex

	Debounce time.Duration
	now      func() time.Time

	// Files watched outside the asset root, such as the config file.
	extra    map[string]bool
	pending  map[string]change
	done     chan struct{}
	wg       sync.WaitGroup
	fsnotify *fsnotify.Watcher
	isClosed bool
}

func NewAssetManager(root string) *AssetManager {
	am := &AssetManager{
		root:     filepath.Clean(root),
		assets:   make(map[string]AssetInfo),
		loaders:  make(map[metadata.ResourceType]Loader),
		Debounce: DefaultDebounce,
		now:      time.Now,
		extra:    make(map[string]bool),
		pending:  make(map[string]change),
	}
	am.registerLoader(metadata.ResourceTypeShader, &loaders.ShaderLoader{})
	am.registerLoader(metadata.ResourceTypeImage, &loaders.ImageLoader{})
	am.registerLoader(metadata.ResourceTypeMaterial, &loaders.MaterialLoader{})
	am.registerLoader(metadata.ResourceTypeScene, &loaders.BinaryLoader{Type: metadata.ResourceTypeScene})
	return am
}

func (am *AssetManager) Root() string { return am.root }

// Initialize indexes every known file under the root.
func (am *AssetManager) Initialize() error {
	return filepath.WalkDir(am.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			am.index(path)
		}
		return nil
	})
}

// Register loaders for each asset type
func (am *AssetManager) registerLoader(assetType metadata.ResourceType, loader Loader) {
	am.loaders[assetType] = loader
}

// Path returns where an asset of the given type and name lives.
func (am *AssetManager) Path(name string, resourceType metadata.ResourceType) (string, error) {
	switch resourceType {
	case metadata.ResourceTypeShader:
		return filepath.Join(am.root, "shaders", name+".spv"), nil
	case metadata.ResourceTypeImage:
		return filepath.Join(am.root, "textures", name), nil
	case metadata.ResourceTypeMaterial:
		return filepath.Join(am.root, "materials", name+".mat"), nil
	case metadata.ResourceTypeScene:
		return filepath.Join(am.root, "scenes", name+".yaml"), nil
	}
	return "", fmt.Errorf("unknown resource type %s", resourceType)
}

// LoadAsset loads an asset using the loader registered for its type.
func (am *AssetManager) LoadAsset(name string, resourceType metadata.ResourceType, params interface{}) (*metadata.Resource, error) {
	path, err := am.Path(name, resourceType)
	if err != nil {
		return nil, err
	}
	loader, ok := am.loaders[resourceType]
	if !ok {
		return nil, fmt.Errorf("no loader registered for asset type %s", resourceType)
	}
	res, err := loader.Load(path, params)
	if err != nil {
		return nil, err
	}
	res.Type = resourceType

	am.mutex.Lock()
	am.assets[path] = AssetInfo{Path: path, Type: resourceType, LastLoaded: am.now()}
	am.mutex.Unlock()
	return res, nil
}

// Assets returns the indexed files sorted by path.
func (am *AssetManager) Assets() []AssetInfo {
	am.mutex.RLock()
	out := make([]AssetInfo, 0, len(am.assets))
	for _, a := range am.assets {
		out = append(out, a)
	}
	am.mutex.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Watch starts watching the asset root recursively, plus any extra files.
// Changes are reported by Poll.
func (am *AssetManager) Watch(files ...string) error {
	if am.isClosed {
		return errClosed
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	am.fsnotify = w
	am.done = make(chan struct{})

	if err := am.watchRecursive(am.root); err != nil {
		w.Close()
		return err
	}
	for _, f := range files {
		f = filepath.Clean(f)
		// Watch the directory: editors replace files instead of writing them.
		if err := w.Add(filepath.Dir(f)); err != nil {
			w.Close()
			return err
		}
		am.mutex.Lock()
		am.extra[f] = true
		am.mutex.Unlock()
	}

	am.wg.Add(1)
	go am.start()
	core.LogInfo("watching %s for changes", am.root)
	return nil
}

func (am *AssetManager) start() {
	defer am.wg.Done()
	for {
		select {
		case e, ok := <-am.fsnotify.Events:
			if !ok {
				return
			}
			am.handleEvent(e)
		case err, ok := <-am.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError("asset watcher: %s", err)
		case <-am.done:
			return
		}
	}
}

// watchRecursive adds all directories under the given one to the watch list.
func (am *AssetManager) watchRecursive(path string) error {
	return filepath.WalkDir(path, func(walkPath string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return am.fsnotify.Add(walkPath)
		}
		return nil
	})
}

func (am *AssetManager) handleEvent(e fsnotify.Event) {
	path := filepath.Clean(e.Name)
	if e.Has(fsnotify.Create) {
		if s, err := os.Stat(path); err == nil && s.IsDir() {
			if err := am.watchRecursive(path); err != nil {
				core.LogWarn("cannot watch %s: %s", path, err)
			}
			return
		}
	}
	if e.Has(fsnotify.Remove) || e.Has(fsnotify.Rename) {
		am.mutex.Lock()
		delete(am.assets, path)
		delete(am.pending, path)
		am.mutex.Unlock()
		return
	}
	if !e.Has(fsnotify.Create) && !e.Has(fsnotify.Write) {
		return
	}
	kind := am.index(path)
	if kind == metadata.ResourceTypeNone {
		return
	}
	am.mutex.Lock()
	am.pending[path] = change{kind: kind, at: am.now()}
	am.mutex.Unlock()
}

// index records path when it is an asset the engine understands. Config
// files only count when they were passed to Watch.
func (am *AssetManager) index(path string) metadata.ResourceType {
	kind := DetermineAssetType(path)
	if kind == metadata.ResourceTypeNone {
		return kind
	}
	am.mutex.Lock()
	defer am.mutex.Unlock()
	if kind == metadata.ResourceTypeConfig && !am.extra[path] {
		return metadata.ResourceTypeNone
	}
	if !am.extra[path] && !am.underRoot(path) {
		return metadata.ResourceTypeNone
	}
	info := am.assets[path]
	info.Path = path
	info.Type = kind
	am.assets[path] = info
	return kind
}

func (am *AssetManager) underRoot(path string) bool {
	rel, err := filepath.Rel(am.root, path)
	return err == nil && !strings.HasPrefix(rel, "..")
}

// Poll fires one event per file whose last change is older than the
// debounce window and returns how many were fired. It runs on the caller's
// goroutine so listeners need no locking.
func (am *AssetManager) Poll(bus *core.EventBus) int {
	now := am.now()
	var ready []string
	am.mutex.Lock()
	for path, c := range am.pending {
		if now.Sub(c.at) >= am.Debounce {
			ready = append(ready, path)
		}
	}
	sort.Strings(ready)
	changes := make([]change, len(ready))
	for i, path := range ready {
		changes[i] = am.pending[path]
		delete(am.pending, path)
	}
	am.mutex.Unlock()

	fired := 0
	for i, path := range ready {
		if changes[i].kind == metadata.ResourceTypeConfig {
			cfg, err := core.LoadConfig(path)
			if err != nil {
				core.LogError("config reload rejected: %s", err)
				continue
			}
			core.LogInfo("config %s changed", path)
			bus.Fire(core.EventCodeConfigReloaded, am, core.EventContext{Path: path, Data: cfg})
		} else {
			core.LogInfo("%s %s changed", changes[i].kind, path)
			bus.Fire(core.EventCodeAssetChanged, am, core.EventContext{Path: path, Data: changes[i].kind})
		}
		fired++
	}
	return fired
}

// Close stops the watcher. Pending changes are discarded.
func (am *AssetManager) Close() error {
	if am.isClosed {
		return nil
	}
	am.isClosed = true
	if am.fsnotify == nil {
		return nil
	}
	close(am.done)
	err := am.fsnotify.Close()
	am.wg.Wait()
	return err
}

func DetermineAssetType(path string) metadata.ResourceType {
	switch filepath.Ext(path) {
	case ".toml":
		return metadata.ResourceTypeConfig
	case ".spv":
		return metadata.ResourceTypeShader
	case ".png", ".jpg", ".jpeg", ".bmp", ".tif", ".tiff":
		return metadata.ResourceTypeImage
	case ".mat":
		return metadata.ResourceTypeMaterial
	case ".yaml", ".yml":
		return metadata.ResourceTypeScene
	default:
		return metadata.ResourceTypeNone
	}
}

// LoadShader reads the SPIR-V module <root>/shaders/<name>.spv.
func LoadShader(root, name string) ([]uint32, error) {
	res, err := (&loaders.ShaderLoader{}).Load(filepath.Join(root, "shaders", name+".spv"), name)
	if err != nil {
		return nil, err
	}
	return res.Data.([]uint32), nil
}

// LoadImageRGBA decodes an image file to RGBA8.
func LoadImageRGBA(path string) (*image.RGBA, error) {
	return LoadTexture(path, 0)
}

// LoadTexture decodes an image file to RGBA8 and scales it down to fit
// maxSize.
func LoadTexture(path string, maxSize int) (*image.RGBA, error) {
	res, err := (&loaders.ImageLoader{}).Load(path, &loaders.ImageResourceParams{MaxSize: maxSize})
	if err != nil {
		return nil, err
	}
	return res.Data.(*image.RGBA), nil
}
