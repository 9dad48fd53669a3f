package geometry

import "math"

// Transform3d is a rigid motion in 3-space: a 3x3 rotation matrix R
// (row-major) plus a translation vector (X, Y, Z). It is used only for
// fusing camera/AprilTag detections into the planar pose estimate, so the
// only operations required are composition, inversion, yaw extraction, and
// projection down to Transform2d.
type Transform3d struct {
	R    [3][3]float64
	X, Y, Z float64
}

// Identity3d is the identity transform.
var Identity3d = Transform3d{R: [3][3]float64{
	{1, 0, 0},
	{0, 1, 0},
	{0, 0, 1},
}}

func matMul3(a, b [3][3]float64) [3][3]float64 {
	var out [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var sum float64
			for k := 0; k < 3; k++ {
				sum += a[i][k] * b[k][j]
			}
			out[i][j] = sum
		}
	}
	return out
}

func matVec3(m [3][3]float64, x, y, z float64) (float64, float64, float64) {
	return m[0][0]*x + m[0][1]*y + m[0][2]*z,
		m[1][0]*x + m[1][1]*y + m[1][2]*z,
		m[2][0]*x + m[2][1]*y + m[2][2]*z
}

// Compose returns a ⊕ b: rotation R_a*R_b, translation t_a + R_a*t_b.
func (a Transform3d) Compose(b Transform3d) Transform3d {
	rx, ry, rz := matVec3(a.R, b.X, b.Y, b.Z)
	return Transform3d{
		R: matMul3(a.R, b.R),
		X: a.X + rx,
		Y: a.Y + ry,
		Z: a.Z + rz,
	}
}

// Inverse returns (Rᵀ, −Rᵀ·t).
func (a Transform3d) Inverse() Transform3d {
	var rt [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			rt[i][j] = a.R[j][i]
		}
	}
	nx, ny, nz := matVec3(rt, -a.X, -a.Y, -a.Z)
	return Transform3d{R: rt, X: nx, Y: ny, Z: nz}
}

// Yaw returns the Z-axis Euler angle of the rotation.
func (a Transform3d) Yaw() float64 {
	return math.Atan2(a.R[1][0], a.R[0][0])
}

// ToTransform2d projects the transform onto the plane: (X, Y, yaw()).
func (a Transform3d) ToTransform2d() Transform2d {
	return Transform2d{X: a.X, Y: a.Y, Theta: a.Yaw()}
}

// Transform3dFromYaw builds a Transform3d with only a yaw rotation about Z
// and the given translation, the common case for projecting a fused
// Transform2d estimate back into 3-space for logging or visualization.
func Transform3dFromYaw(x, y, z, yaw float64) Transform3d {
	c, s := math.Cos(yaw), math.Sin(yaw)
	return Transform3d{
		R: [3][3]float64{
			{c, -s, 0},
			{s, c, 0},
			{0, 0, 1},
		},
		X: x, Y: y, Z: z,
	}
}
