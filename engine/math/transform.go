package math

import "errors"

var ErrTransformCycle = errors.New("transform would become its own ancestor")

/**
 * @brief Position, rotation and scale of an object, optionally relative to
 * a parent. Use the setters so the cached local matrix is rebuilt.
 */
type Transform struct {
	Position Vec3
	Rotation Quaternion
	Scale    Vec3
	// Set whenever Position, Rotation or Scale change.
	IsDirty bool
	Local   Mat4
	Parent  *Transform
}

func NewTransform() *Transform {
	return &Transform{
		Position: Vec3{},
		Rotation: NewQuatIdentity(),
		Scale:    NewVec3One(),
		Local:    NewMat4Identity(),
		IsDirty:  true,
	}
}

func NewTransformFromPosition(position Vec3) *Transform {
	t := NewTransform()
	t.Position = position
	return t
}

func NewTransformFromPositionRotationScale(position Vec3, rotation Quaternion, scale Vec3) *Transform {
	t := NewTransform()
	t.Position = position
	t.Rotation = rotation
	t.Scale = scale
	return t
}

func (t *Transform) SetPosition(position Vec3) {
	t.Position = position
	t.IsDirty = true
}

func (t *Transform) Translate(translation Vec3) {
	t.Position = t.Position.Add(translation)
	t.IsDirty = true
}

func (t *Transform) SetRotation(rotation Quaternion) {
	t.Rotation = rotation
	t.IsDirty = true
}

func (t *Transform) Rotate(rotation Quaternion) {
	t.Rotation = t.Rotation.Mul(rotation)
	t.IsDirty = true
}

func (t *Transform) SetScale(scale Vec3) {
	t.Scale = scale
	t.IsDirty = true
}

// GetLocal rebuilds the local matrix (scale, then rotation, then
// translation) when the transform is dirty.
func (t *Transform) GetLocal() Mat4 {
	if t == nil {
		return NewMat4Identity()
	}
	if t.IsDirty {
		s := NewMat4Scale(t.Scale)
		r := t.Rotation.ToMat4()
		t.Local = s.Mul(r).Mul(NewMat4Translation(t.Position))
		t.IsDirty = false
	}
	return t.Local
}

func (t *Transform) GetWorld() Mat4 {
	if t == nil {
		return NewMat4Identity()
	}
	l := t.GetLocal()
	if t.Parent != nil {
		return l.Mul(t.Parent.GetWorld())
	}
	return l
}

// SetParent attaches t under parent, or detaches it when parent is nil.
func (t *Transform) SetParent(parent *Transform) error {
	for anc := parent; anc != nil; anc = anc.Parent {
		if anc == t {
			return ErrTransformCycle
		}
	}
	t.Parent = parent
	t.IsDirty = true
	return nil
}

// Detach clears the parent of every transform in children that points at t.
func (t *Transform) Detach(children ...*Transform) {
	for _, c := range children {
		if c.Parent == t {
			c.Parent = nil
			c.IsDirty = true
		}
	}
}
