package core

import (
	"fmt"
	"os"

	"github.com/mitchellh/go-homedir"
	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	Application ApplicationConfig `toml:"application"`
	Log         LogConfig         `toml:"log"`
	Renderer    RendererConfig    `toml:"renderer"`
	Physics     PhysicsConfig     `toml:"physics"`
	Assets      AssetsConfig      `toml:"assets"`
}

type ApplicationConfig struct {
	Name   string `toml:"name"`
	Width  uint32 `toml:"width"`
	Height uint32 `toml:"height"`
	PosX   uint32 `toml:"pos_x"`
	PosY   uint32 `toml:"pos_y"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

type RendererConfig struct {
	// "vulkan" or "headless".
	Backend        string `toml:"backend"`
	FramesInFlight int    `toml:"frames_in_flight"`
	// Only honoured by the headless backend; real swapchains pick their own.
	SwapchainImages int  `toml:"swapchain_images"`
	MSAA            int  `toml:"msaa"`
	VSync           bool `toml:"vsync"`
	// "multi" runs a dedicated render thread, "single" executes command
	// batches inline on the caller.
	Threading   string  `toml:"threading"`
	RayTracing  bool    `toml:"ray_tracing"`
	TLASUpdate  string  `toml:"tlas_update"`
	Exposure    float32 `toml:"exposure"`
	Timestamps  bool    `toml:"timestamps"`
	DebugLabels bool    `toml:"debug_labels"`

	Bloom BloomConfig `toml:"bloom"`
	DOF   DOFConfig   `toml:"dof"`
}

type BloomConfig struct {
	Enabled       bool    `toml:"enabled"`
	Threshold     float32 `toml:"threshold"`
	Knee          float32 `toml:"knee"`
	Intensity     float32 `toml:"intensity"`
	DirtIntensity float32 `toml:"dirt_intensity"`
	LensDirt      string  `toml:"lens_dirt"`
}

type DOFConfig struct {
	Enabled       bool    `toml:"enabled"`
	FocusDistance float32 `toml:"focus_distance"`
	FocusScale    float32 `toml:"focus_scale"`
}

type PhysicsConfig struct {
	StepHz           int `toml:"step_hz"`
	MaxStepsPerFrame int `toml:"max_steps_per_frame"`
}

type AssetsConfig struct {
	Root  string `toml:"root"`
	Watch bool   `toml:"watch"`
	Scene string `toml:"scene"`
	// Goroutines decoding textures. Zero uses one per CPU.
	LoaderWorkers int `toml:"loader_workers"`
	// Textures are scaled down to this size on load. Zero disables it.
	MaxTextureSize int `toml:"max_texture_size"`
}

const (
	BackendVulkan   = "vulkan"
	BackendHeadless = "headless"

	ThreadingMulti  = "multi"
	ThreadingSingle = "single"

	TLASRebuild = "rebuild"
	TLASUpdate  = "update"
)

func DefaultConfig() *Config {
	return &Config{
		Application: ApplicationConfig{
			Name:   "Lumen",
			Width:  1920,
			Height: 1080,
			PosX:   100,
			PosY:   100,
		},
		Log: LogConfig{Level: "info"},
		Renderer: RendererConfig{
			Backend:         BackendVulkan,
			FramesInFlight:  2,
			SwapchainImages: 3,
			MSAA:            4,
			VSync:           true,
			Threading:       ThreadingMulti,
			RayTracing:      true,
			TLASUpdate:      TLASRebuild,
			Exposure:        1.0,
			Timestamps:      true,
			DebugLabels:     true,
			Bloom: BloomConfig{
				Enabled:       true,
				Threshold:     1.0,
				Knee:          0.1,
				Intensity:     1.0,
				DirtIntensity: 1.0,
			},
			DOF: DOFConfig{
				Enabled:       false,
				FocusDistance: 5.0,
				FocusScale:    2.0,
			},
		},
		Physics: PhysicsConfig{
			StepHz:           60,
			MaxStepsPerFrame: 8,
		},
		Assets: AssetsConfig{
			Root:           "assets",
			Watch:          true,
			MaxTextureSize: 4096,
		},
	}
}

// ParseConfig decodes TOML on top of the defaults, so a file only needs to
// name the keys it overrides.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig reads a TOML file. A leading ~ in the path or in the asset
// root expands to the home directory.
func LoadConfig(path string) (*Config, error) {
	path, err := homedir.Expand(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	if cfg.Assets.Root, err = homedir.Expand(cfg.Assets.Root); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Application.Width == 0 || c.Application.Height == 0 {
		return fmt.Errorf("%w: window size %dx%d", ErrInvalidConfig, c.Application.Width, c.Application.Height)
	}
	r := &c.Renderer
	switch r.Backend {
	case BackendVulkan, BackendHeadless:
	default:
		return fmt.Errorf("%w: unknown renderer backend %q", ErrInvalidConfig, r.Backend)
	}
	if r.FramesInFlight < 1 || r.FramesInFlight > 3 {
		return fmt.Errorf("%w: frames_in_flight must be in [1,3], got %d", ErrInvalidConfig, r.FramesInFlight)
	}
	if r.SwapchainImages < r.FramesInFlight {
		return fmt.Errorf("%w: swapchain_images (%d) below frames_in_flight (%d)", ErrInvalidConfig, r.SwapchainImages, r.FramesInFlight)
	}
	switch r.MSAA {
	case 1, 2, 4, 8:
	default:
		return fmt.Errorf("%w: msaa must be 1, 2, 4 or 8, got %d", ErrInvalidConfig, r.MSAA)
	}
	switch r.Threading {
	case ThreadingMulti, ThreadingSingle:
	default:
		return fmt.Errorf("%w: unknown threading policy %q", ErrInvalidConfig, r.Threading)
	}
	switch r.TLASUpdate {
	case TLASRebuild, TLASUpdate:
	default:
		return fmt.Errorf("%w: unknown tlas_update mode %q", ErrInvalidConfig, r.TLASUpdate)
	}
	if c.Assets.LoaderWorkers < 0 || c.Assets.MaxTextureSize < 0 {
		return fmt.Errorf("%w: assets loader_workers and max_texture_size must not be negative", ErrInvalidConfig)
	}
	if c.Physics.StepHz <= 0 {
		return fmt.Errorf("%w: physics step_hz must be positive", ErrInvalidConfig)
	}
	return nil
}
