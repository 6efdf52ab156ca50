package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/math"
)

/**
 * @brief Vertex input layout of a graphics pipeline. Binding 0 carries
 * math.Vertex3D, binding 1 (when present) carries per-instance vec4 rows.
 */
type vertexInput struct {
	/** @brief Buffer bindings, per-vertex first. */
	Bindings []vk.VertexInputBindingDescription
	/** @brief Attribute locations across both bindings. */
	Attributes []vk.VertexInputAttributeDescription
}

// vertexInputState returns the layout for the given strides. A zero vertex
// stride means the pipeline generates its vertices in the shader.
func vertexInputState(vertexStride, instanceStride uint32) (vertexInput, error) {
	var in vertexInput
	if vertexStride != 0 {
		if vertexStride != math.Vertex3DStride {
			return in, fmt.Errorf("unsupported vertex stride %d, expected %d", vertexStride, math.Vertex3DStride)
		}
		in.Bindings = append(in.Bindings, vk.VertexInputBindingDescription{
			Binding:   0,
			Stride:    vertexStride,
			InputRate: vk.VertexInputRateVertex,
		})
		// Position, normal, texcoord, tangent.
		formats := []vk.Format{vk.FormatR32g32b32Sfloat, vk.FormatR32g32b32Sfloat, vk.FormatR32g32Sfloat, vk.FormatR32g32b32Sfloat}
		offsets := []uint32{0, 12, 24, 32}
		for i := range formats {
			in.Attributes = append(in.Attributes, vk.VertexInputAttributeDescription{
				Location: uint32(i),
				Binding:  0,
				Format:   formats[i],
				Offset:   offsets[i],
			})
		}
	}

	if instanceStride != 0 {
		if instanceStride%16 != 0 {
			return in, fmt.Errorf("instance stride %d is not a multiple of 16", instanceStride)
		}
		in.Bindings = append(in.Bindings, vk.VertexInputBindingDescription{
			Binding:   1,
			Stride:    instanceStride,
			InputRate: vk.VertexInputRateInstance,
		})
		for row := uint32(0); row < instanceStride/16; row++ {
			in.Attributes = append(in.Attributes, vk.VertexInputAttributeDescription{
				Location: firstInstanceLocation + row,
				Binding:  1,
				Format:   vk.FormatR32g32b32a32Sfloat,
				Offset:   row * 16,
			})
		}
	}
	return in, nil
}
