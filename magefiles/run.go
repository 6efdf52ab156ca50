//go:build mage

package main

import (
	"fmt"
	"strconv"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Compiles the shaders and runs the engine in a window.
func (Run) Engine() error {
	if err := buildShaders(); err != nil {
		return err
	}
	fmt.Println("Run engine...")
	return goCmd("run", ".", "-config", "config.toml")
}

// Runs the engine on the headless backend for the given number of frames.
func (Run) Headless(frames int) error {
	fmt.Println("Run engine headless...")
	return goCmd("run", ".", "-config", "config.toml", "-headless", "-frames", strconv.Itoa(frames))
}
