package platform

import (
	"testing"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/stretchr/testify/assert"

	"github.com/spaghettifunk/lumen/engine/core"
)

func TestTranslateKey(t *testing.T) {
	tests := map[glfw.Key]core.KeyCode{
		glfw.KeyW:         core.KeyW,
		glfw.KeyA:         core.KeyA,
		glfw.KeyEscape:    core.KeyEscape,
		glfw.KeyF3:        core.KeyF3,
		glfw.KeyLeftShift: core.KeyLShift,
	}
	for key, want := range tests {
		got, ok := translateKey(key)
		assert.True(t, ok)
		assert.Equal(t, want, got)
	}
	_, ok := translateKey(glfw.KeyKPAdd)
	assert.False(t, ok)
}
