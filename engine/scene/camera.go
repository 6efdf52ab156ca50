package scene

import (
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// 89 degrees.
const pitchLimit float32 = 1.55334306

/**
 * @brief A perspective camera driven by a position and Euler angles
 * (pitch, yaw, roll) in radians. The view matrix is rebuilt lazily.
 */
type Camera struct {
	position      math.Vec3
	eulerRotation math.Vec3
	isDirty       bool
	viewMatrix    math.Mat4

	/** @brief Vertical field of view in radians. */
	FOV  float32
	Near float32
	Far  float32
}

func NewCamera() *Camera {
	c := &Camera{}
	c.Reset()
	return c
}

func (c *Camera) Reset() {
	c.eulerRotation = math.NewVec3Zero()
	c.position = math.NewVec3Zero()
	c.isDirty = false
	c.viewMatrix = math.NewMat4Identity()
	c.FOV = math.DegToRad(60)
	c.Near = 0.1
	c.Far = 1000
}

func (c *Camera) Position() math.Vec3 {
	return c.position
}

func (c *Camera) SetPosition(position math.Vec3) {
	c.position = position
	c.isDirty = true
}

func (c *Camera) EulerRotation() math.Vec3 {
	return c.eulerRotation
}

func (c *Camera) SetEulerRotation(rotation math.Vec3) {
	c.eulerRotation = rotation
	c.eulerRotation.X = math.Clamp(c.eulerRotation.X, -pitchLimit, pitchLimit)
	c.isDirty = true
}

func (c *Camera) View() math.Mat4 {
	if c.isDirty {
		rotation := math.NewMat4EulerXYZ(c.eulerRotation.X, c.eulerRotation.Y, c.eulerRotation.Z)
		translation := math.NewMat4Translation(c.position)
		c.viewMatrix = rotation.Mul(translation).Inverse()
		c.isDirty = false
	}
	return c.viewMatrix
}

func (c *Camera) Projection(aspect float32) math.Mat4 {
	if aspect <= 0 {
		aspect = 1
	}
	return math.NewMat4Perspective(c.FOV, aspect, c.Near, c.Far)
}

// Data flattens the camera for a render packet.
func (c *Camera) Data(aspect float32) metadata.CameraData {
	return metadata.CameraData{
		View:       c.View(),
		Projection: c.Projection(aspect),
		Position:   c.position,
		Near:       c.Near,
		Far:        c.Far,
	}
}

func (c *Camera) Forward() math.Vec3  { return c.View().Forward() }
func (c *Camera) Backward() math.Vec3 { return c.View().Backward() }
func (c *Camera) Left() math.Vec3     { return c.View().Left() }
func (c *Camera) Right() math.Vec3    { return c.View().Right() }

func (c *Camera) move(direction math.Vec3, amount float32) {
	c.position = c.position.Add(direction.MulScalar(amount))
	c.isDirty = true
}

func (c *Camera) MoveForward(amount float32)  { c.move(c.Forward(), amount) }
func (c *Camera) MoveBackward(amount float32) { c.move(c.Backward(), amount) }
func (c *Camera) MoveLeft(amount float32)     { c.move(c.Left(), amount) }
func (c *Camera) MoveRight(amount float32)    { c.move(c.Right(), amount) }
func (c *Camera) MoveUp(amount float32)       { c.move(math.NewVec3Up(), amount) }
func (c *Camera) MoveDown(amount float32)     { c.move(math.NewVec3Down(), amount) }

func (c *Camera) Yaw(amount float32) {
	c.eulerRotation.Y += amount
	c.isDirty = true
}

func (c *Camera) Pitch(amount float32) {
	c.eulerRotation.X += amount
	// Clamp to avoid gimbal lock.
	c.eulerRotation.X = math.Clamp(c.eulerRotation.X, -pitchLimit, pitchLimit)
	c.isDirty = true
}
