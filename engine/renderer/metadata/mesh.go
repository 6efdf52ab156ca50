package metadata

import (
	"github.com/google/uuid"

	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

/**
 * @brief A contiguous index range of a mesh drawn with one material.
 */
type Submesh struct {
	Name string
	/** @brief First index inside the mesh index buffer. */
	BaseIndex  uint32
	IndexCount uint32
	/** @brief Offset added to every index. */
	BaseVertex  uint32
	VertexCount uint32
	/** @brief Index into MeshRenderer.Materials. */
	MaterialIndex uint32
	/** @brief Transform of the submesh relative to the mesh. */
	Transform math.Mat4
	Extents   math.Extents3D
}

/**
 * @brief GPU-resident geometry: one vertex buffer and one index buffer
 * shared by all submeshes.
 */
type Mesh struct {
	ID   uuid.UUID
	Name string

	VertexBuffer gpu.Buffer
	IndexBuffer  gpu.Buffer
	VertexCount  uint32
	IndexCount   uint32
	VertexStride uint32

	Submeshes []Submesh
	Extents   math.Extents3D
}

func (m *Mesh) Destroy() {
	if m.VertexBuffer != nil {
		m.VertexBuffer.Destroy()
		m.VertexBuffer = nil
	}
	if m.IndexBuffer != nil {
		m.IndexBuffer.Destroy()
		m.IndexBuffer = nil
	}
}
