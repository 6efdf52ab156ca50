package math

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func assertMatEqual(t *testing.T, want, got Mat4) {
	t.Helper()
	for i := range want.Data {
		assert.InDelta(t, want.Data[i], got.Data[i], 1e-5, "element %d", i)
	}
}

func TestMat4InverseRoundTrip(t *testing.T) {
	tr := NewTransformFromPositionRotationScale(
		NewVec3(1, 2, 3),
		NewQuatFromAxisAngle(NewVec3(0, 1, 0), DegToRad(45), true),
		NewVec3(2, 2, 2),
	)
	m := tr.GetLocal()
	assertMatEqual(t, NewMat4Identity(), m.Mul(m.Inverse()))
}

func TestTransformTranslationAndParent(t *testing.T) {
	parent := NewTransformFromPosition(NewVec3(10, 0, 0))
	child := NewTransformFromPosition(NewVec3(0, 5, 0))
	assert.NoError(t, child.SetParent(parent))

	world := child.GetWorld()
	assert.Equal(t, NewVec3(10, 5, 0), world.Translation())

	child.Translate(NewVec3(0, 1, 0))
	assert.True(t, child.IsDirty)
	assert.Equal(t, NewVec3(10, 6, 0), child.GetWorld().Translation())

	assert.ErrorIs(t, parent.SetParent(child), ErrTransformCycle)
	assert.ErrorIs(t, parent.SetParent(parent), ErrTransformCycle)

	parent.Detach(child)
	assert.Nil(t, child.Parent)
	assert.Equal(t, NewVec3(0, 6, 0), child.GetWorld().Translation())
}

func TestAffine3x4(t *testing.T) {
	m := NewMat4Translation(NewVec3(4, 5, 6))
	a := m.Affine3x4()
	assert.Equal(t, [12]float32{
		1, 0, 0, 4,
		0, 1, 0, 5,
		0, 0, 1, 6,
	}, a)
}

func TestQuaternionRotatesVector(t *testing.T) {
	q := NewQuatFromAxisAngle(NewVec3(0, 0, 1), DegToRad(90), true)
	m := q.ToMat4()
	// Row vector (1,0,0) times the rotation lands on +Y.
	x := Vec3{
		m.Data[0],
		m.Data[1],
		m.Data[2],
	}
	assert.InDelta(t, 0, x.X, 1e-5)
	assert.InDelta(t, 1, x.Y, 1e-5)
}

func TestGenerateCube(t *testing.T) {
	cube := GenerateCube(2, 2, 2, "cube")
	assert.Len(t, cube.Vertices, 24)
	assert.Len(t, cube.Indices, 36)
	assert.Equal(t, NewVec3(-1, -1, -1), cube.Extents.Min)
	assert.Len(t, VertexBytes(cube.Vertices), 24*Vertex3DStride)
}

func TestClampAndDivCeil(t *testing.T) {
	assert.Equal(t, 5, Clamp(7, 0, 5))
	assert.Equal(t, float32(0.5), Clamp(float32(0.5), 0, 1))
	assert.Equal(t, uint32(2), DivCeil(uint32(17), 16))
	assert.Equal(t, uint32(1), DivCeil(uint32(16), 16))
}

func TestEulerMatchesAxisAngle(t *testing.T) {
	angle := DegToRad(30)
	q := NewQuatFromAxisAngle(NewVec3(0, 1, 0), angle, true)
	assertMatEqual(t, q.ToMat4(), NewMat4EulerXYZ(0, angle, 0))

	q = NewQuatFromAxisAngle(NewVec3(1, 0, 0), angle, true)
	assertMatEqual(t, q.ToMat4(), NewMat4EulerXYZ(angle, 0, 0))
}

func TestViewAxes(t *testing.T) {
	view := NewMat4LookAt(NewVec3(0, 0, 5), NewVec3(0, 0, 0), NewVec3(0, 1, 0))
	f := view.Forward()
	assert.InDelta(t, -1, f.Z, 1e-5)
	r := view.Right()
	assert.InDelta(t, 1, r.X, 1e-5)
	assert.InDelta(t, 1, view.Left().MulScalar(-1).X, 1e-5)

	p := view.TransformPoint(NewVec3(0, 0, 5))
	assert.InDelta(t, 0, p.Length(), 1e-5)
}
