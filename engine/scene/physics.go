package scene

import (
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
)

/**
 * @brief Dynamic state of an entity moved by the physics world.
 */
type RigidBody struct {
	Mass            float32
	Velocity        math.Vec3
	AngularVelocity math.Vec3
	UseGravity      bool
	/** @brief Fraction of the vertical speed kept when bouncing off the ground. */
	Restitution float32
	/** @brief Distance from the origin of the entity to its lowest point. */
	HalfHeight float32
	/** @brief Kinematic bodies are never integrated. */
	Kinematic bool
}

// PhysicsWorld advances bodies at a fixed rate. Frame time is accumulated
// and consumed in whole steps; the remainder carries over to the next frame
// and is never used to interpolate transforms.
type PhysicsWorld struct {
	Gravity      math.Vec3
	Ground       bool
	GroundHeight float32

	step        float64
	maxSteps    int
	accumulator float64
	steps       uint64
}

func NewPhysicsWorld(cfg core.PhysicsConfig) *PhysicsWorld {
	w := &PhysicsWorld{
		Gravity: math.NewVec3(0, -9.81, 0),
		Ground:  true,
	}
	w.Configure(cfg)
	return w
}

// Configure changes the step rate. Accumulated time is kept.
func (w *PhysicsWorld) Configure(cfg core.PhysicsConfig) {
	hz := cfg.StepHz
	if hz <= 0 {
		hz = 60
	}
	w.step = 1.0 / float64(hz)
	w.maxSteps = max(cfg.MaxStepsPerFrame, 1)
}

// StepSize returns the fixed step in seconds.
func (w *PhysicsWorld) StepSize() float64 { return w.step }

// Steps returns the number of steps taken since creation.
func (w *PhysicsWorld) Steps() uint64 { return w.steps }

// Advance adds dt to the accumulator and calls step once per whole fixed
// step, at most maxSteps times. The backlog beyond the cap is dropped.
func (w *PhysicsWorld) Advance(dt float64, step func(h float32)) int {
	if dt <= 0 {
		return 0
	}
	w.accumulator += dt
	n := 0
	for w.accumulator >= w.step && n < w.maxSteps {
		step(float32(w.step))
		w.accumulator -= w.step
		n++
	}
	if w.accumulator >= w.step {
		core.LogWarn("physics fell behind, dropping %.0f steps", w.accumulator/w.step)
		w.accumulator = 0
	}
	w.steps += uint64(n)
	return n
}

// integrate moves one body by h seconds with semi-implicit Euler.
func (w *PhysicsWorld) integrate(t *math.Transform, b *RigidBody, h float32) {
	if b.Kinematic {
		return
	}
	if b.UseGravity {
		b.Velocity = b.Velocity.Add(w.Gravity.MulScalar(h))
	}
	t.Translate(b.Velocity.MulScalar(h))

	if speed := b.AngularVelocity.Length(); speed > math.FLOAT_EPSILON {
		axis := b.AngularVelocity.MulScalar(1 / speed)
		t.Rotate(math.NewQuatFromAxisAngle(axis, speed*h, true))
		t.Rotation = t.Rotation.Normalize()
	}

	if !w.Ground {
		return
	}
	floor := w.GroundHeight + b.HalfHeight
	if t.Position.Y < floor {
		t.Position.Y = floor
		t.IsDirty = true
		if b.Velocity.Y < 0 {
			b.Velocity.Y = -b.Velocity.Y * b.Restitution
		}
	}
}
