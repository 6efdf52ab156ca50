package engine

// Options are the command line overrides of a run.
type Options struct {
	// Path of the TOML configuration. A missing file means defaults.
	ConfigPath string
	// Headless forces the headless backend and skips window creation.
	Headless bool
	// Frames stops the main loop after this many frames. Zero runs until
	// the window closes or Stop is called.
	Frames uint64
}
