//go:build mage

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

const (
	shaderSrcDir = "assets/shaders/src"
	shaderOutDir = "assets/shaders"
)

var shaderStages = []string{".vert", ".frag", ".comp"}

// Compiles every GLSL stage under assets/shaders/src to SPIR-V.
func (Build) Shaders() error {
	return buildShaders()
}

// Compiles the shaders and builds the engine binary.
func (Build) Engine() error {
	mg.Deps(Build.Shaders)
	return goCmd("build", "-o", "bin/lumen", ".")
}

// buildShaders writes <name>.<stage>.spv next to the sources' parent
// directory, which is where the engine loads them from. Up to date
// outputs are skipped.
func buildShaders() error {
	entries, err := os.ReadDir(shaderSrcDir)
	if err != nil {
		return err
	}
	compiled, skipped := 0, 0
	for _, e := range entries {
		if e.IsDir() || !isShaderStage(e.Name()) {
			continue
		}
		src := filepath.Join(shaderSrcDir, e.Name())
		out := filepath.Join(shaderOutDir, e.Name()+".spv")
		rebuild, err := stale(out, src)
		if err != nil {
			return err
		}
		if !rebuild {
			skipped++
			continue
		}
		if err := run(false, nil, "glslc", "--target-env=vulkan1.1", "-I", shaderSrcDir, src, "-o", out); err != nil {
			return fmt.Errorf("compile %s: %w", src, err)
		}
		compiled++
	}
	fmt.Printf("compiled %d shaders, %d up to date\n", compiled, skipped)
	return nil
}

func isShaderStage(name string) bool {
	for _, ext := range shaderStages {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}
