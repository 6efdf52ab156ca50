//go:build mage

package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
	"github.com/magefile/mage/target"
)

// goEnv is passed to every go invocation; glfw and the Vulkan loader are
// reached through cgo.
var goEnv = map[string]string{"CGO_ENABLED": "1"}

// run executes a command. Output is streamed with -v or when loud is set;
// otherwise it is only printed if the command fails.
func run(loud bool, env map[string]string, cmd string, args ...string) error {
	fmt.Printf("Executing: %s %s\n", cmd, strings.Join(args, " "))
	if loud || mg.Verbose() {
		if err := sh.RunWithV(env, cmd, args...); err != nil {
			return fmt.Errorf("error executing %s: %w", cmd, err)
		}
		return nil
	}
	out, err := sh.OutputWith(env, cmd, args...)
	if err != nil {
		fmt.Println("... failed command output:")
		fmt.Println(out)
		return fmt.Errorf("error executing %s: %w", cmd, err)
	}
	return nil
}

func goCmd(args ...string) error {
	return run(true, goEnv, "go", args...)
}

// stale reports whether out is missing or older than src or any shared
// include next to it.
func stale(out, src string) (bool, error) {
	includes, err := filepath.Glob(filepath.Join(filepath.Dir(src), "*.glsl"))
	if err != nil {
		return false, err
	}
	return target.Path(out, append(includes, src)...)
}
