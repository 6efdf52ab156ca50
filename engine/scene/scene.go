// Package scene holds the entities of the logical thread and flattens them
// into render packets. Components live in per-kind maps keyed by entity ID;
// the entity slice fixes the iteration order so snapshots are stable.
package scene

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

var ErrEntityNotFound = errors.New("entity not found")

type MeshRenderer struct {
	Mesh *metadata.Mesh
	// One material per submesh. Missing entries use the default material.
	Materials []*metadata.MaterialAsset
}

// PointLight is positioned by the entity transform.
type PointLight struct {
	Color     math.Vec3
	Intensity float32
	Radius    float32
	Falloff   float32
}

// SpotLight points along the entity's forward axis (-Z).
type SpotLight struct {
	Color     math.Vec3
	Intensity float32
	Range     float32
	// Cone angle in degrees.
	Angle   float32
	Falloff float32
}

type Environment struct {
	SkyboxLod float32
	Tint      math.Vec3
}

type Scene struct {
	Name        string
	Camera      *Camera
	Environment Environment

	entities   []uuid.UUID
	names      map[uuid.UUID]string
	transforms map[uuid.UUID]*math.Transform
	renderers  map[uuid.UUID]*MeshRenderer
	points     map[uuid.UUID]*PointLight
	spots      map[uuid.UUID]*SpotLight
	bodies     map[uuid.UUID]*RigidBody

	physics *PhysicsWorld
}

func New(name string) *Scene {
	return &Scene{
		Name:        name,
		Camera:      NewCamera(),
		Environment: Environment{Tint: math.NewVec3One()},
		names:       make(map[uuid.UUID]string),
		transforms:  make(map[uuid.UUID]*math.Transform),
		renderers:   make(map[uuid.UUID]*MeshRenderer),
		points:      make(map[uuid.UUID]*PointLight),
		spots:       make(map[uuid.UUID]*SpotLight),
		bodies:      make(map[uuid.UUID]*RigidBody),
		physics:     NewPhysicsWorld(core.DefaultConfig().Physics),
	}
}

func (s *Scene) Physics() *PhysicsWorld { return s.physics }

func (s *Scene) ConfigurePhysics(cfg core.PhysicsConfig) { s.physics.Configure(cfg) }

// CreateEntity adds an entity with an identity transform.
func (s *Scene) CreateEntity(name string) uuid.UUID {
	id := uuid.New()
	s.entities = append(s.entities, id)
	s.names[id] = name
	s.transforms[id] = math.NewTransform()
	return id
}

// DestroyEntity removes the entity and all of its components. Children keep
// their local transform and become roots.
func (s *Scene) DestroyEntity(id uuid.UUID) error {
	t, ok := s.transforms[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrEntityNotFound, id)
	}
	for _, other := range s.transforms {
		t.Detach(other)
	}
	for i, e := range s.entities {
		if e == id {
			s.entities = append(s.entities[:i], s.entities[i+1:]...)
			break
		}
	}
	delete(s.names, id)
	delete(s.transforms, id)
	delete(s.renderers, id)
	delete(s.points, id)
	delete(s.spots, id)
	delete(s.bodies, id)
	return nil
}

// Entities returns the entity IDs in creation order.
func (s *Scene) Entities() []uuid.UUID {
	return append([]uuid.UUID(nil), s.entities...)
}

func (s *Scene) EntityName(id uuid.UUID) string { return s.names[id] }

// FindEntity returns the first entity with the given name.
func (s *Scene) FindEntity(name string) (uuid.UUID, bool) {
	for _, id := range s.entities {
		if s.names[id] == name {
			return id, true
		}
	}
	return uuid.Nil, false
}

func (s *Scene) Transform(id uuid.UUID) *math.Transform { return s.transforms[id] }

func (s *Scene) SetParent(child, parent uuid.UUID) error {
	c, ok := s.transforms[child]
	if !ok {
		return fmt.Errorf("%w: %s", ErrEntityNotFound, child)
	}
	if parent == uuid.Nil {
		return c.SetParent(nil)
	}
	p, ok := s.transforms[parent]
	if !ok {
		return fmt.Errorf("%w: %s", ErrEntityNotFound, parent)
	}
	if err := c.SetParent(p); err != nil {
		return fmt.Errorf("parenting %s under %s: %w", child, parent, err)
	}
	return nil
}

func (s *Scene) check(id uuid.UUID) error {
	if _, ok := s.transforms[id]; !ok {
		return fmt.Errorf("%w: %s", ErrEntityNotFound, id)
	}
	return nil
}

func (s *Scene) AddMeshRenderer(id uuid.UUID, mr MeshRenderer) error {
	if err := s.check(id); err != nil {
		return err
	}
	if mr.Mesh == nil {
		return fmt.Errorf("mesh renderer of %q has no mesh", s.names[id])
	}
	s.renderers[id] = &mr
	return nil
}

func (s *Scene) AddPointLight(id uuid.UUID, l PointLight) error {
	if err := s.check(id); err != nil {
		return err
	}
	s.points[id] = &l
	return nil
}

func (s *Scene) AddSpotLight(id uuid.UUID, l SpotLight) error {
	if err := s.check(id); err != nil {
		return err
	}
	s.spots[id] = &l
	return nil
}

func (s *Scene) AddRigidBody(id uuid.UUID, b RigidBody) error {
	if err := s.check(id); err != nil {
		return err
	}
	s.bodies[id] = &b
	return nil
}

func (s *Scene) MeshRenderer(id uuid.UUID) *MeshRenderer { return s.renderers[id] }
func (s *Scene) PointLight(id uuid.UUID) *PointLight     { return s.points[id] }
func (s *Scene) SpotLight(id uuid.UUID) *SpotLight       { return s.spots[id] }
func (s *Scene) RigidBody(id uuid.UUID) *RigidBody       { return s.bodies[id] }

// ReplaceMaterial swaps every use of old for next and returns how many
// slots changed. Packets already taken keep the old material.
func (s *Scene) ReplaceMaterial(old, next *metadata.MaterialAsset) int {
	n := 0
	for _, id := range s.entities {
		mr, ok := s.renderers[id]
		if !ok {
			continue
		}
		for i, m := range mr.Materials {
			if m == old {
				mr.Materials[i] = next
				n++
			}
		}
	}
	return n
}

// Update advances physics by dt seconds and returns the number of fixed
// steps taken.
func (s *Scene) Update(dt float64) int {
	return s.physics.Advance(dt, func(h float32) {
		for _, id := range s.entities {
			if b, ok := s.bodies[id]; ok {
				s.physics.integrate(s.transforms[id], b, h)
			}
		}
	})
}

// Snapshot copies everything the renderer needs for one frame. The packet
// shares no mutable state with the scene.
func (s *Scene) Snapshot(aspect float32, dt float64) *metadata.RenderPacket {
	p := &metadata.RenderPacket{
		DeltaTime:       dt,
		Camera:          s.Camera.Data(aspect),
		SkyboxLod:       s.Environment.SkyboxLod,
		EnvironmentTint: s.Environment.Tint,
	}
	for _, id := range s.entities {
		world := s.transforms[id].GetWorld()
		if mr, ok := s.renderers[id]; ok {
			p.Meshes = append(p.Meshes, metadata.MeshSubmission{
				Mesh:      mr.Mesh,
				Materials: append([]*metadata.MaterialAsset(nil), mr.Materials...),
				Transform: world,
			})
		}
		if l, ok := s.points[id]; ok {
			p.PointLights = append(p.PointLights, metadata.PointLight{
				Position:  world.Translation(),
				Color:     l.Color,
				Intensity: l.Intensity,
				Radius:    l.Radius,
				Falloff:   l.Falloff,
			})
		}
		if l, ok := s.spots[id]; ok {
			forward := math.NewVec3(-world.Data[8], -world.Data[9], -world.Data[10]).Normalized()
			p.SpotLights = append(p.SpotLights, metadata.SpotLight{
				Position:  world.Translation(),
				Direction: forward,
				Color:     l.Color,
				Intensity: l.Intensity,
				Range:     l.Range,
				Angle:     l.Angle,
				Falloff:   l.Falloff,
			})
		}
	}
	return p
}
