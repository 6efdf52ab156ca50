package graph

import (
	"encoding/binary"
	stdmath "math"

	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

const (
	maxPointLights = 256
	maxSpotLights  = 128

	// view, projection, view-projection, then position/near and
	// far/exposure/lod/pad.
	cameraUniformSize = 3*64 + 16 + 16

	lightHeaderSize = 16
	pointLightSize  = 48
	spotLightSize   = 64
	lightBufferSize = lightHeaderSize + maxPointLights*pointLightSize + maxSpotLights*spotLightSize

	// position/size, color/intensity, direction/angle.
	billboardSize     = 48
	billboardCapacity = maxPointLights + maxSpotLights

	instanceStride = 64
)

// std140 writer over a byte slice.
type packer struct {
	buf []byte
}

func (p *packer) f32(values ...float32) *packer {
	for _, v := range values {
		p.buf = binary.LittleEndian.AppendUint32(p.buf, stdmath.Float32bits(v))
	}
	return p
}

func (p *packer) u32(values ...uint32) *packer {
	for _, v := range values {
		p.buf = binary.LittleEndian.AppendUint32(p.buf, v)
	}
	return p
}

func (p *packer) vec3(v math.Vec3, w float32) *packer {
	return p.f32(v.X, v.Y, v.Z, w)
}

func (p *packer) mat4(m math.Mat4) *packer {
	p.buf = append(p.buf, math.Mat4Bytes([]math.Mat4{m})...)
	return p
}

func (p *packer) pad(size int) *packer {
	for len(p.buf) < size {
		p.buf = append(p.buf, 0)
	}
	return p
}

func cameraUniform(c metadata.CameraData, exposure, skyboxLod float32) []byte {
	p := &packer{buf: make([]byte, 0, cameraUniformSize)}
	p.mat4(c.View).
		mat4(c.Projection).
		mat4(c.View.Mul(c.Projection)).
		vec3(c.Position, c.Near).
		f32(c.Far, exposure, skyboxLod, 0)
	return p.buf
}

// lightData packs the light storage buffer and the billboard instances.
type lightData struct {
	storage    []byte
	billboards []byte
	points     uint32
	spots      uint32
}

func packLights(points []metadata.PointLight, spots []metadata.SpotLight) lightData {
	if len(points) > maxPointLights {
		points = points[:maxPointLights]
	}
	if len(spots) > maxSpotLights {
		spots = spots[:maxSpotLights]
	}
	d := lightData{points: uint32(len(points)), spots: uint32(len(spots))}

	s := &packer{buf: make([]byte, 0, lightBufferSize)}
	s.u32(d.points, d.spots, 0, 0)
	for _, l := range points {
		s.vec3(l.Position, l.Intensity).vec3(l.Color, l.Radius).f32(l.Falloff, 0, 0, 0)
	}
	s.pad(lightHeaderSize + maxPointLights*pointLightSize)
	for _, l := range spots {
		s.vec3(l.Position, l.Intensity).
			vec3(l.Direction, l.Range).
			vec3(l.Color, math.DegToRad(l.Angle)).
			f32(l.Falloff, 0, 0, 0)
	}
	d.storage = s.pad(lightBufferSize).buf

	b := &packer{buf: make([]byte, 0, (len(points)+len(spots))*billboardSize)}
	for _, l := range points {
		b.vec3(l.Position, l.Radius).vec3(l.Color, l.Intensity).f32(0, 0, 0, 0)
	}
	for _, l := range spots {
		b.vec3(l.Position, l.Range).vec3(l.Color, l.Intensity).vec3(l.Direction, math.DegToRad(l.Angle))
	}
	d.billboards = b.buf
	return d
}

func materialConstants(m *metadata.MaterialAsset) []byte {
	p := &packer{buf: make([]byte, 0, 32)}
	p.f32(m.AlbedoColor.X, m.AlbedoColor.Y, m.AlbedoColor.Z, m.AlbedoColor.W).
		f32(m.Emission, m.Roughness, m.Metalness, 0)
	return p.buf
}

func skyboxConstants(tint math.Vec3, lod float32) []byte {
	return (&packer{}).vec3(tint, lod).pad(rasterConstantsSize).buf
}

// Bloom stage modes, read by the bloom shader.
const (
	bloomPrefilter uint32 = iota
	bloomDownsample
	bloomFirstUpsample
	bloomUpsample
)

func bloomConstants(threshold, knee, lod float32, mode uint32) []byte {
	return (&packer{}).f32(threshold, threshold-knee, knee*2, 0.25/max(knee, 1e-4)).f32(lod).u32(mode).pad(32).buf
}

func compositeConstants(bloomIntensity, dirtIntensity float32, bloomEnabled bool) []byte {
	enabled := uint32(0)
	if bloomEnabled {
		enabled = 1
	}
	return (&packer{}).f32(bloomIntensity, dirtIntensity).u32(enabled).pad(16).buf
}

func dofConstants(focusDistance, focusScale, near, far float32, enabled bool) []byte {
	e := uint32(0)
	if enabled {
		e = 1
	}
	return (&packer{}).f32(focusDistance, focusScale, near, far).u32(e).pad(32).buf
}

func finalConstants(exposure float32) []byte {
	return (&packer{}).f32(exposure).pad(16).buf
}
