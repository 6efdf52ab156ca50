/*
This is an example of application that will use the
engine package to test things out
*/
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/lumen/engine"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/testbed"
)

func main() {
	configPath := flag.String("config", "config.toml", "path of the engine configuration")
	headless := flag.Bool("headless", false, "render without a window on the headless backend")
	frames := flag.Uint64("frames", 0, "stop after this many frames (0 runs until closed)")
	flag.Parse()

	opts := engine.Options{
		ConfigPath: *configPath,
		Headless:   *headless,
		Frames:     *frames,
	}
	if opts.Headless && opts.Frames == 0 {
		opts.Frames = 600
	}

	tb := testbed.NewTestGame()
	e, err := engine.New(tb.Game, opts)
	if err != nil {
		core.LogFatal("boot failed: %s", err)
	}
	if err := e.Initialize(); err != nil {
		_ = e.Shutdown()
		core.LogFatal("initialization failed: %s", err)
	}

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	go func() {
		sig := <-sigCh
		core.LogInfo("received %s, stopping", sig)
		e.Stop()
	}()

	runErr := e.Run()
	if err := e.Shutdown(); err != nil {
		core.LogError("shutdown: %s", err)
	}
	if runErr != nil {
		core.LogFatal("engine stopped with an error: %s", runErr)
	}
}
