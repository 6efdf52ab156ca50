package metadata

import (
	"github.com/spaghettifunk/lumen/engine/math"
)

/**
 * @brief View and projection of the active camera for one frame.
 */
type CameraData struct {
	View       math.Mat4
	Projection math.Mat4
	Position   math.Vec3
	Near       float32
	Far        float32
}

/** @brief An entity with a mesh renderer, flattened for one frame. */
type MeshSubmission struct {
	Mesh *Mesh
	/** @brief One material per submesh, indexed by Submesh.MaterialIndex. */
	Materials []*MaterialAsset
	Transform math.Mat4
}

type PointLight struct {
	Position  math.Vec3
	Color     math.Vec3
	Intensity float32
	Radius    float32
	Falloff   float32
}

type SpotLight struct {
	Position  math.Vec3
	Direction math.Vec3
	Color     math.Vec3
	Intensity float32
	Range     float32
	// Cone angle in degrees.
	Angle   float32
	Falloff float32
}

/**
 * @brief A read-only snapshot of the scene generated by the application
 * and sent once to the renderer to render a given frame. Everything is
 * copied by value so the scene may keep mutating while the frame is in
 * flight.
 */
type RenderPacket struct {
	DeltaTime   float64
	Camera      CameraData
	Meshes      []MeshSubmission
	PointLights []PointLight
	SpotLights  []SpotLight
	/** @brief Mip level the skybox is sampled at. */
	SkyboxLod       float32
	EnvironmentTint math.Vec3
}
