package gfx

import (
	"fmt"
	"image"

	"github.com/google/uuid"

	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// UploadBuffer creates a device-local buffer filled with data through a
// host-visible staging buffer.
func (c *Context) UploadBuffer(name string, usage gpu.BufferUsage, data []byte) (gpu.Buffer, error) {
	size := uint64(len(data))
	staging, err := c.Device.CreateBuffer(gpu.BufferSpec{
		Name:        name + "-staging",
		Size:        size,
		Usage:       gpu.BufferTransferSrc,
		HostVisible: true,
	})
	if err != nil {
		return nil, err
	}
	defer staging.Destroy()
	if err := staging.Write(0, data); err != nil {
		return nil, err
	}

	buf, err := c.Device.CreateBuffer(gpu.BufferSpec{
		Name:  name,
		Size:  size,
		Usage: usage | gpu.BufferTransferDst,
	})
	if err != nil {
		return nil, err
	}
	err = c.Immediate(func(cmd gpu.CommandBuffer) {
		cmd.CopyBuffer(gpu.BufferCopy{Src: staging, Dst: buf, Size: size})
	})
	if err != nil {
		buf.Destroy()
		return nil, err
	}
	return buf, nil
}

// UploadImage creates a sampled RGBA8 image from img and leaves it in
// LayoutShaderRead.
func (c *Context) UploadImage(name string, img *image.RGBA) (gpu.Image, error) {
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("image %q is empty", name)
	}
	pixels := img.Pix
	if img.Stride != b.Dx()*4 {
		pixels = make([]byte, 0, b.Dx()*b.Dy()*4)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			start := img.PixOffset(b.Min.X, y)
			pixels = append(pixels, img.Pix[start:start+b.Dx()*4]...)
		}
	}

	staging, err := c.Device.CreateBuffer(gpu.BufferSpec{
		Name:        name + "-staging",
		Size:        uint64(len(pixels)),
		Usage:       gpu.BufferTransferSrc,
		HostVisible: true,
	})
	if err != nil {
		return nil, err
	}
	defer staging.Destroy()
	if err := staging.Write(0, pixels); err != nil {
		return nil, err
	}

	tex, err := c.Device.CreateImage(gpu.ImageSpec{
		Name:    name,
		Width:   uint32(b.Dx()),
		Height:  uint32(b.Dy()),
		Format:  gpu.FormatRGBA8,
		Usage:   gpu.UsageSampled | gpu.UsageTransferDst,
		Samples: 1,
		Mips:    1,
	})
	if err != nil {
		return nil, err
	}
	err = c.Immediate(func(cmd gpu.CommandBuffer) {
		cmd.Transition(gpu.Transition{
			Image: tex, MipCount: 1,
			From: gpu.LayoutUndefined, To: gpu.LayoutTransferDst,
			SrcStage: gpu.StageTop, DstStage: gpu.StageTransfer,
			DstAccess: gpu.AccessTransferWrite,
		})
		cmd.CopyBufferToImage(gpu.BufferImageCopy{Src: staging, Dst: tex})
		cmd.Transition(gpu.Transition{
			Image: tex, MipCount: 1,
			From: gpu.LayoutTransferDst, To: gpu.LayoutShaderRead,
			SrcStage: gpu.StageTransfer, DstStage: gpu.StageFragmentShader | gpu.StageComputeShader,
			SrcAccess: gpu.AccessTransferWrite, DstAccess: gpu.AccessShaderRead,
		})
	})
	if err != nil {
		tex.Destroy()
		return nil, err
	}
	return tex, nil
}

// CreateMesh uploads geometry as a single-submesh mesh.
func (c *Context) CreateMesh(geometry math.GeometryConfig) (*metadata.Mesh, error) {
	return c.CreateMeshWithSubmeshes(geometry, []metadata.Submesh{{
		Name:        geometry.Name,
		IndexCount:  uint32(len(geometry.Indices)),
		VertexCount: uint32(len(geometry.Vertices)),
		Transform:   math.NewMat4Identity(),
		Extents:     geometry.Extents,
	}})
}

// CreateMeshWithSubmeshes uploads geometry shared by several submeshes.
// Vertex and index buffers are usable as acceleration structure inputs.
func (c *Context) CreateMeshWithSubmeshes(geometry math.GeometryConfig, submeshes []metadata.Submesh) (*metadata.Mesh, error) {
	if len(geometry.Vertices) == 0 || len(geometry.Indices) == 0 {
		return nil, fmt.Errorf("mesh %q has no geometry", geometry.Name)
	}
	usage := gpu.BufferStorage | gpu.BufferDeviceAddress | gpu.BufferAccelInput
	vb, err := c.UploadBuffer(geometry.Name+"-vertices", usage|gpu.BufferVertex, math.VertexBytes(geometry.Vertices))
	if err != nil {
		return nil, err
	}
	ib, err := c.UploadBuffer(geometry.Name+"-indices", usage|gpu.BufferIndex, math.IndexBytes(geometry.Indices))
	if err != nil {
		vb.Destroy()
		return nil, err
	}
	return &metadata.Mesh{
		ID:           uuid.New(),
		Name:         geometry.Name,
		VertexBuffer: vb,
		IndexBuffer:  ib,
		VertexCount:  uint32(len(geometry.Vertices)),
		IndexCount:   uint32(len(geometry.Indices)),
		VertexStride: math.Vertex3DStride,
		Submeshes:    submeshes,
		Extents:      geometry.Extents,
	}, nil
}
