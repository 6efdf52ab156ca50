//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
)

type Test mg.Namespace

// Runs every package test with the race detector.
func (Test) All() error {
	return goCmd("test", "-race", "-count=1", "./...")
}

// Runs the tests that need no GPU or window.
func (Test) Headless() error {
	return goCmd("test", "-count=1",
		"./engine/core/...", "./engine/containers/...", "./engine/math/...", "./engine/assets/...",
		"./engine/jobs/...", "./engine/scene/...", "./engine/renderer/...")
}
