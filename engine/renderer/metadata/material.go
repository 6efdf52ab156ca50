package metadata

import (
	"github.com/google/uuid"

	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

/** @brief The name of the default material. */
const DefaultMaterialName string = "default"

/**
 * @brief Surface parameters of a mesh. Textures left nil fall back to the
 * renderer's 1x1 placeholders.
 */
type MaterialAsset struct {
	ID   uuid.UUID
	Name string

	/** @brief Base colour multiplied with the albedo map. */
	AlbedoColor math.Vec4
	Emission    float32
	Roughness   float32
	Metalness   float32

	AlbedoMap    gpu.Image
	NormalMap    gpu.Image
	RoughnessMap gpu.Image
}

func NewMaterialAsset(name string) *MaterialAsset {
	return &MaterialAsset{
		ID:          uuid.New(),
		Name:        name,
		AlbedoColor: math.NewVec4(1, 1, 1, 1),
		Roughness:   0.5,
	}
}

/**
 * @brief Material description as stored on disk. Map fields name image
 * files relative to the texture directory.
 */
type MaterialConfig struct {
	Name         string
	AlbedoColor  math.Vec4
	Emission     float32
	Roughness    float32
	Metalness    float32
	AlbedoMap    string
	NormalMap    string
	RoughnessMap string
}
