package math

import (
	"encoding/binary"
	stdmath "math"
)

/**
 * @brief A single vertex, packed as position, normal, texcoord and tangent
 * (locations 0 to 3 of the geometry pipeline).
 */
type Vertex3D struct {
	Position Vec3
	Normal   Vec3
	Texcoord Vec2
	Tangent  Vec3
}

// Vertex3DStride is the packed byte size of a Vertex3D.
const Vertex3DStride = 11 * 4

// GeometryConfig is raw vertex and index data ready for upload.
type GeometryConfig struct {
	Name     string
	Vertices []Vertex3D
	Indices  []uint32
	Extents  Extents3D
}

func GeometryGenerateNormals(vertices []Vertex3D, indices []uint32) {
	for i := 0; i+2 < len(indices); i += 3 {
		i0 := indices[i+0]
		i1 := indices[i+1]
		i2 := indices[i+2]

		edge1 := vertices[i1].Position.Sub(vertices[i0].Position)
		edge2 := vertices[i2].Position.Sub(vertices[i0].Position)
		normal := edge1.Cross(edge2).Normalized()

		// NOTE: This just generates a face normal.
		vertices[i0].Normal = normal
		vertices[i1].Normal = normal
		vertices[i2].Normal = normal
	}
}

/**
 * @brief Generates an axis-aligned box centred on the origin with
 * per-face normals, texture coordinates and tangents.
 */
func GenerateCube(width, height, depth float32, name string) GeometryConfig {
	if width == 0 {
		width = 1
	}
	if height == 0 {
		height = 1
	}
	if depth == 0 {
		depth = 1
	}
	hw, hh, hd := width*0.5, height*0.5, depth*0.5

	type face struct {
		normal, tangent Vec3
		corners         [4]Vec3
	}
	faces := []face{
		{Vec3{0, 0, 1}, Vec3{1, 0, 0}, [4]Vec3{{-hw, -hh, hd}, {hw, -hh, hd}, {hw, hh, hd}, {-hw, hh, hd}}},
		{Vec3{0, 0, -1}, Vec3{-1, 0, 0}, [4]Vec3{{hw, -hh, -hd}, {-hw, -hh, -hd}, {-hw, hh, -hd}, {hw, hh, -hd}}},
		{Vec3{-1, 0, 0}, Vec3{0, 0, 1}, [4]Vec3{{-hw, -hh, -hd}, {-hw, -hh, hd}, {-hw, hh, hd}, {-hw, hh, -hd}}},
		{Vec3{1, 0, 0}, Vec3{0, 0, -1}, [4]Vec3{{hw, -hh, hd}, {hw, -hh, -hd}, {hw, hh, -hd}, {hw, hh, hd}}},
		{Vec3{0, -1, 0}, Vec3{1, 0, 0}, [4]Vec3{{-hw, -hh, -hd}, {hw, -hh, -hd}, {hw, -hh, hd}, {-hw, -hh, hd}}},
		{Vec3{0, 1, 0}, Vec3{1, 0, 0}, [4]Vec3{{-hw, hh, hd}, {hw, hh, hd}, {hw, hh, -hd}, {-hw, hh, -hd}}},
	}
	uvs := [4]Vec2{{0, 1}, {1, 1}, {1, 0}, {0, 0}}

	cfg := GeometryConfig{
		Name:     name,
		Vertices: make([]Vertex3D, 0, 24),
		Indices:  make([]uint32, 0, 36),
		Extents: Extents3D{
			Min: Vec3{-hw, -hh, -hd},
			Max: Vec3{hw, hh, hd},
		},
	}
	for _, f := range faces {
		base := uint32(len(cfg.Vertices))
		for i, c := range f.corners {
			cfg.Vertices = append(cfg.Vertices, Vertex3D{
				Position: c,
				Normal:   f.normal,
				Texcoord: uvs[i],
				Tangent:  f.tangent,
			})
		}
		cfg.Indices = append(cfg.Indices, base, base+1, base+2, base, base+2, base+3)
	}
	return cfg
}

// GenerateQuad returns a unit quad in the XY plane facing +Z.
func GenerateQuad(name string) GeometryConfig {
	return GeometryConfig{
		Name: name,
		Vertices: []Vertex3D{
			{Position: Vec3{-0.5, -0.5, 0}, Normal: Vec3{0, 0, 1}, Texcoord: Vec2{0, 1}, Tangent: Vec3{1, 0, 0}},
			{Position: Vec3{0.5, -0.5, 0}, Normal: Vec3{0, 0, 1}, Texcoord: Vec2{1, 1}, Tangent: Vec3{1, 0, 0}},
			{Position: Vec3{0.5, 0.5, 0}, Normal: Vec3{0, 0, 1}, Texcoord: Vec2{1, 0}, Tangent: Vec3{1, 0, 0}},
			{Position: Vec3{-0.5, 0.5, 0}, Normal: Vec3{0, 0, 1}, Texcoord: Vec2{0, 0}, Tangent: Vec3{1, 0, 0}},
		},
		Indices: []uint32{0, 1, 2, 0, 2, 3},
		Extents: Extents3D{Min: Vec3{-0.5, -0.5, 0}, Max: Vec3{0.5, 0.5, 0}},
	}
}

// VertexBytes packs vertices into the little-endian layout described by
// Vertex3DStride.
func VertexBytes(vertices []Vertex3D) []byte {
	out := make([]byte, 0, len(vertices)*Vertex3DStride)
	put := func(f float32) {
		out = binary.LittleEndian.AppendUint32(out, stdmath.Float32bits(f))
	}
	for _, v := range vertices {
		put(v.Position.X)
		put(v.Position.Y)
		put(v.Position.Z)
		put(v.Normal.X)
		put(v.Normal.Y)
		put(v.Normal.Z)
		put(v.Texcoord.X)
		put(v.Texcoord.Y)
		put(v.Tangent.X)
		put(v.Tangent.Y)
		put(v.Tangent.Z)
	}
	return out
}

func IndexBytes(indices []uint32) []byte {
	out := make([]byte, 0, len(indices)*4)
	for _, i := range indices {
		out = binary.LittleEndian.AppendUint32(out, i)
	}
	return out
}

// Mat4Bytes packs matrices back to back as 16 little-endian float32 each.
func Mat4Bytes(ms []Mat4) []byte {
	out := make([]byte, 0, len(ms)*64)
	for _, m := range ms {
		for _, f := range m.Data {
			out = binary.LittleEndian.AppendUint32(out, stdmath.Float32bits(f))
		}
	}
	return out
}

// Float32Bytes packs values as little-endian float32.
func Float32Bytes(values ...float32) []byte {
	out := make([]byte, 0, len(values)*4)
	for _, f := range values {
		out = binary.LittleEndian.AppendUint32(out, stdmath.Float32bits(f))
	}
	return out
}
