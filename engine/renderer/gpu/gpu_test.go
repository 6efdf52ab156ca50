package gpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMipCount(t *testing.T) {
	assert.Equal(t, uint32(11), MipCount(1920, 1080))
	assert.Equal(t, uint32(11), MipCount(1280, 720))
	assert.Equal(t, uint32(1), MipCount(1, 1))
	assert.Equal(t, uint32(1), MipCount(0, 0))
	assert.Equal(t, uint32(9), MipCount(256, 128))
}

func TestMipExtentClampsToOne(t *testing.T) {
	w, h := MipExtent(1920, 1080, 10)
	assert.Equal(t, uint32(1), w)
	assert.Equal(t, uint32(1), h)

	w, h = MipExtent(1920, 1080, 1)
	assert.Equal(t, uint32(960), w)
	assert.Equal(t, uint32(540), h)
}

func TestInstanceEncodeLayout(t *testing.T) {
	in := Instance{
		Transform:    [12]float32{1, 0, 0, 4, 0, 1, 0, 5, 0, 0, 1, 6},
		CustomIndex:  0x123456,
		Mask:         0xFF,
		SBTOffset:    2,
		Flags:        InstanceFlagCullDisable,
		AccelAddress: 0xDEADBEEF00,
	}
	buf := make([]byte, InstanceSize)
	in.Encode(buf)

	assert.Equal(t, []byte{0x56, 0x34, 0x12, 0xFF}, buf[48:52])
	assert.Equal(t, []byte{0x02, 0x00, 0x00, 0x01}, buf[52:56])

	out := DecodeInstance(buf)
	require.Equal(t, in, out)
}

func TestInstanceCustomIndexTruncatesTo24Bits(t *testing.T) {
	buf := make([]byte, InstanceSize)
	Instance{CustomIndex: 0xFF000001, Mask: 0x0F}.Encode(buf)
	out := DecodeInstance(buf)
	assert.Equal(t, uint32(1), out.CustomIndex)
	assert.Equal(t, uint8(0x0F), out.Mask)
}
