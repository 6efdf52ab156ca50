package gpu

import (
	"encoding/binary"
	"math"
)

type AccelKind int

const (
	BottomLevel AccelKind = iota
	TopLevel
)

func (k AccelKind) String() string {
	if k == TopLevel {
		return "TLAS"
	}
	return "BLAS"
}

type AccelBuildMode int

const (
	AccelBuild AccelBuildMode = iota
	// AccelUpdate refits an existing structure in place. The geometry and
	// instance counts must match the original build.
	AccelUpdate
)

// TriangleGeometry is one triangle-mesh input of a bottom-level build.
type TriangleGeometry struct {
	VertexAddress uint64
	IndexAddress  uint64
	VertexStride  uint32
	VertexCount   uint32
	IndexCount    uint32
	FirstIndex    uint32
	Opaque        bool
}

// InstanceInput references the instance array of a top-level build.
type InstanceInput struct {
	Address uint64
	Count   uint32
	// Buffer is the device buffer holding Count records of InstanceSize
	// bytes starting at Address.
	Buffer Buffer
}

type AccelBuildInfo struct {
	Kind      AccelKind
	Mode      AccelBuildMode
	Triangles []TriangleGeometry
	Instances InstanceInput
	Src       AccelerationStructure
	Dst       AccelerationStructure
	Scratch   Buffer
	// AllowUpdate builds Dst so a later AccelUpdate may use it as Src.
	AllowUpdate bool
}

type AccelBuildSizes struct {
	StructureSize     uint64
	BuildScratchSize  uint64
	UpdateScratchSize uint64
}

// InstanceSize is the byte size of one encoded instance record.
const InstanceSize = 64

// Instance mirrors the packed acceleration structure instance record.
type Instance struct {
	// Row-major 3x4 transform.
	Transform    [12]float32
	CustomIndex  uint32 // 24 bits
	Mask         uint8
	SBTOffset    uint32 // 24 bits
	Flags        uint8
	AccelAddress uint64
}

const (
	InstanceFlagCullDisable uint8 = 1 << 0
	InstanceFlagForceOpaque uint8 = 1 << 2
)

// Encode writes the 64-byte little-endian record into dst.
func (in Instance) Encode(dst []byte) {
	_ = dst[InstanceSize-1]
	for i, f := range in.Transform {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(f))
	}
	binary.LittleEndian.PutUint32(dst[48:], (in.CustomIndex&0xFFFFFF)|uint32(in.Mask)<<24)
	binary.LittleEndian.PutUint32(dst[52:], (in.SBTOffset&0xFFFFFF)|uint32(in.Flags)<<24)
	binary.LittleEndian.PutUint64(dst[56:], in.AccelAddress)
}

// DecodeInstance is the inverse of Instance.Encode.
func DecodeInstance(src []byte) Instance {
	_ = src[InstanceSize-1]
	var in Instance
	for i := range in.Transform {
		in.Transform[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
	}
	w := binary.LittleEndian.Uint32(src[48:])
	in.CustomIndex = w & 0xFFFFFF
	in.Mask = uint8(w >> 24)
	w = binary.LittleEndian.Uint32(src[52:])
	in.SBTOffset = w & 0xFFFFFF
	in.Flags = uint8(w >> 24)
	in.AccelAddress = binary.LittleEndian.Uint64(src[56:])
	return in
}
