package math

type Vec2 struct {
	X, Y float32
}

type Vec3 struct {
	X, Y, Z float32
}

// Vec4 doubles as an RGBA colour in materials and light data.
type Vec4 struct {
	X, Y, Z, W float32
}

/** @brief A quaternion, used to represent rotational orientation. */
type Quaternion Vec4

/**
 * @brief a 4x4 matrix, typically used to represent object transformations.
 * Elements are stored row by row for row vectors, so the translation lives
 * in Data[12], Data[13] and Data[14].
 */
type Mat4 struct {
	/** @brief The matrix elements */
	Data [16]float32
}

// Extents3D is an axis-aligned bounding box in object space.
type Extents3D struct {
	Min Vec3
	Max Vec3
}
