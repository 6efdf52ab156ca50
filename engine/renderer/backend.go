package renderer

import (
	"fmt"

	"github.com/spaghettifunk/lumen/engine/assets"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/renderer/headless"
	"github.com/spaghettifunk/lumen/engine/renderer/vulkan"
)

// NewDevice creates the backend named by cfg.Renderer.Backend. window is
// only used by the Vulkan backend and may be nil for headless runs.
func NewDevice(cfg *core.Config, window vulkan.Surface) (gpu.Device, error) {
	switch cfg.Renderer.Backend {
	case core.BackendHeadless:
		return headless.NewDevice(headless.Options{
			Width:  cfg.Application.Width,
			Height: cfg.Application.Height,
		}), nil
	case core.BackendVulkan:
		if window == nil {
			return nil, fmt.Errorf("%w: the vulkan backend needs a window", core.ErrInvalidConfig)
		}
		root := cfg.Assets.Root
		dev, err := vulkan.NewDevice(vulkan.Options{
			ApplicationName: cfg.Application.Name,
			Window:          window,
			Validation:      cfg.Log.Level == "debug",
			DebugLabels:     cfg.Renderer.DebugLabels,
			Shaders: func(name string) ([]uint32, error) {
				return assets.LoadShader(root, name)
			},
		})
		if err != nil {
			return nil, err
		}
		return dev, nil
	}
	return nil, fmt.Errorf("%w: unknown backend %q", core.ErrInvalidConfig, cfg.Renderer.Backend)
}
