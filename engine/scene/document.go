package scene

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// MeshLibrary resolves the asset names used by a scene document.
type MeshLibrary interface {
	Mesh(name string) (*metadata.Mesh, error)
	Material(name string) (*metadata.MaterialAsset, error)
}

// vec3 decodes a YAML sequence of exactly three numbers.
type vec3 math.Vec3

func (v *vec3) UnmarshalYAML(node *yaml.Node) error {
	var xs []float32
	if err := node.Decode(&xs); err != nil {
		return err
	}
	if len(xs) != 3 {
		return fmt.Errorf("line %d: expected 3 components, got %d", node.Line, len(xs))
	}
	*v = vec3{X: xs[0], Y: xs[1], Z: xs[2]}
	return nil
}

func (v *vec3) get(fallback math.Vec3) math.Vec3 {
	if v == nil {
		return fallback
	}
	return math.Vec3(*v)
}

type document struct {
	Name        string          `yaml:"name"`
	Camera      *cameraDoc      `yaml:"camera"`
	Environment *environmentDoc `yaml:"environment"`
	Entities    []entityDoc     `yaml:"entities"`
}

type cameraDoc struct {
	Position *vec3   `yaml:"position"`
	Rotation *vec3   `yaml:"rotation"`
	FOV      float32 `yaml:"fov"`
	Near     float32 `yaml:"near"`
	Far      float32 `yaml:"far"`
}

type environmentDoc struct {
	SkyboxLod float32 `yaml:"skybox_lod"`
	Tint      *vec3   `yaml:"tint"`
}

type transformDoc struct {
	Position *vec3 `yaml:"position"`
	// Euler angles in degrees.
	Rotation *vec3 `yaml:"rotation"`
	Scale    *vec3 `yaml:"scale"`
}

type pointLightDoc struct {
	Color     *vec3   `yaml:"color"`
	Intensity float32 `yaml:"intensity"`
	Radius    float32 `yaml:"radius"`
	Falloff   float32 `yaml:"falloff"`
}

type spotLightDoc struct {
	Color     *vec3   `yaml:"color"`
	Intensity float32 `yaml:"intensity"`
	Range     float32 `yaml:"range"`
	Angle     float32 `yaml:"angle"`
	Falloff   float32 `yaml:"falloff"`
}

type rigidBodyDoc struct {
	Mass            float32 `yaml:"mass"`
	Velocity        *vec3   `yaml:"velocity"`
	AngularVelocity *vec3   `yaml:"angular_velocity"`
	Gravity         *bool   `yaml:"gravity"`
	Restitution     float32 `yaml:"restitution"`
	HalfHeight      float32 `yaml:"half_height"`
	Kinematic       bool    `yaml:"kinematic"`
}

type entityDoc struct {
	Name       string         `yaml:"name"`
	Parent     string         `yaml:"parent"`
	Transform  transformDoc   `yaml:"transform"`
	Mesh       string         `yaml:"mesh"`
	Materials  []string       `yaml:"materials"`
	PointLight *pointLightDoc `yaml:"point_light"`
	SpotLight  *spotLightDoc  `yaml:"spot_light"`
	RigidBody  *rigidBodyDoc  `yaml:"rigid_body"`
}

// eulerDegrees builds the rotation X, then Y, then Z.
func eulerDegrees(v math.Vec3) math.Quaternion {
	qx := math.NewQuatFromAxisAngle(math.NewVec3(1, 0, 0), math.DegToRad(v.X), true)
	qy := math.NewQuatFromAxisAngle(math.NewVec3(0, 1, 0), math.DegToRad(v.Y), true)
	qz := math.NewQuatFromAxisAngle(math.NewVec3(0, 0, 1), math.DegToRad(v.Z), true)
	return qx.Mul(qy).Mul(qz).Normalize()
}

// LoadDocument decodes a YAML scene description. Unknown keys are errors.
// Parents must be declared before their children.
func LoadDocument(r io.Reader, meshes MeshLibrary) (*Scene, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc document
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode scene: %w", err)
	}

	s := New(doc.Name)
	if c := doc.Camera; c != nil {
		s.Camera.SetPosition(c.Position.get(math.NewVec3Zero()))
		rot := c.Rotation.get(math.NewVec3Zero())
		s.Camera.SetEulerRotation(math.NewVec3(math.DegToRad(rot.X), math.DegToRad(rot.Y), math.DegToRad(rot.Z)))
		if c.FOV > 0 {
			s.Camera.FOV = math.DegToRad(c.FOV)
		}
		if c.Near > 0 {
			s.Camera.Near = c.Near
		}
		if c.Far > 0 {
			s.Camera.Far = c.Far
		}
	}
	if e := doc.Environment; e != nil {
		s.Environment.SkyboxLod = e.SkyboxLod
		s.Environment.Tint = e.Tint.get(math.NewVec3One())
	}

	for i, ed := range doc.Entities {
		if err := s.addEntity(ed, meshes); err != nil {
			name := ed.Name
			if name == "" {
				name = fmt.Sprintf("#%d", i)
			}
			return nil, fmt.Errorf("scene %q: entity %s: %w", doc.Name, name, err)
		}
	}
	return s, nil
}

func (s *Scene) addEntity(ed entityDoc, meshes MeshLibrary) error {
	id := s.CreateEntity(ed.Name)
	t := s.Transform(id)
	t.Position = ed.Transform.Position.get(math.NewVec3Zero())
	t.Rotation = eulerDegrees(ed.Transform.Rotation.get(math.NewVec3Zero()))
	t.Scale = ed.Transform.Scale.get(math.NewVec3One())
	t.IsDirty = true

	if ed.Parent != "" {
		parent, ok := s.FindEntity(ed.Parent)
		if !ok || parent == id {
			return fmt.Errorf("%w: parent %q", ErrEntityNotFound, ed.Parent)
		}
		if err := s.SetParent(id, parent); err != nil {
			return err
		}
	}

	if ed.Mesh != "" {
		mesh, err := meshes.Mesh(ed.Mesh)
		if err != nil {
			return err
		}
		mr := MeshRenderer{Mesh: mesh}
		for _, name := range ed.Materials {
			mat, err := meshes.Material(name)
			if err != nil {
				return err
			}
			mr.Materials = append(mr.Materials, mat)
		}
		if err := s.AddMeshRenderer(id, mr); err != nil {
			return err
		}
	}

	if l := ed.PointLight; l != nil {
		if err := s.AddPointLight(id, PointLight{
			Color:     l.Color.get(math.NewVec3One()),
			Intensity: l.Intensity,
			Radius:    l.Radius,
			Falloff:   l.Falloff,
		}); err != nil {
			return err
		}
	}
	if l := ed.SpotLight; l != nil {
		if err := s.AddSpotLight(id, SpotLight{
			Color:     l.Color.get(math.NewVec3One()),
			Intensity: l.Intensity,
			Range:     l.Range,
			Angle:     l.Angle,
			Falloff:   l.Falloff,
		}); err != nil {
			return err
		}
	}
	if b := ed.RigidBody; b != nil {
		gravity := true
		if b.Gravity != nil {
			gravity = *b.Gravity
		}
		if err := s.AddRigidBody(id, RigidBody{
			Mass:            b.Mass,
			Velocity:        b.Velocity.get(math.NewVec3Zero()),
			AngularVelocity: b.AngularVelocity.get(math.NewVec3Zero()),
			UseGravity:      gravity,
			Restitution:     b.Restitution,
			HalfHeight:      b.HalfHeight,
			Kinematic:       b.Kinematic,
		}); err != nil {
			return err
		}
	}
	return nil
}
