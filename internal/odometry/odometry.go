// Package odometry integrates wheel-encoder and gyro readings into a
// running Transform2d pose estimate, using the body-frame twist exp map
// from internal/geometry to compose successive motion increments.
package odometry

import "github.com/fieldcortex/slamcore/internal/geometry"

// WheelPositions holds the signed left/right arc lengths (meters) reported
// by the drivetrain encoders. These are monotone integrators; rollover is
// not expected at robot-lifetime scales.
type WheelPositions struct {
	Left, Right float64
}

// WheelGyroOdometry integrates wheel and gyro deltas into a Transform2d
// pose. Update takes its heading from the gyro; UpdateWheelsOnly is the
// separate wheel-only differential estimate for callers with no gyro
// sample.
type WheelGyroOdometry struct {
	pose         geometry.Transform2d
	gyroOffset   float64
	prevAngle    float64
	prevWheels   WheelPositions
	wheelSep     float64
	hasPrevAngle bool
}

// NewWheelGyroOdometry builds an odometry integrator starting at the
// identity pose, with the given wheel separation (track width, meters).
func NewWheelGyroOdometry(wheelSeparationMeters float64) *WheelGyroOdometry {
	return &WheelGyroOdometry{wheelSep: wheelSeparationMeters}
}

// Pose returns the current integrated pose.
func (o *WheelGyroOdometry) Pose() geometry.Transform2d {
	return o.pose
}

// Update integrates one gyro+wheel sample. gyro is the raw gyro heading
// reading (radians); wheels are the current cumulative left/right arc
// lengths. The body twist is ((Δl+Δr)/2, 0, Δθ) where Δθ is the gyro-based
// heading change since the previous sample — the gyro-preferred branch.
// Use UpdateWheelsOnly when no gyro is available.
func (o *WheelGyroOdometry) Update(gyro float64, wheels WheelPositions) {
	dl := wheels.Left - o.prevWheels.Left
	dr := wheels.Right - o.prevWheels.Right

	angle := gyro - o.gyroOffset
	var dtheta float64
	if o.hasPrevAngle {
		dtheta = angle - o.prevAngle
	}

	xi := geometry.Twist2d{Dx: (dl + dr) / 2, Dy: 0, Dtheta: dtheta}
	o.pose = o.pose.Compose(xi.Exp())

	o.prevAngle = angle
	o.hasPrevAngle = true
	o.prevWheels = wheels
}

// UpdateWheelsOnly integrates one wheel-only sample, deriving heading
// change purely from the differential drive kinematics Δθ = (Δr−Δl)/b.
// This is the documented fallback for platforms without a gyro; it is
// less accurate under wheel slip than the gyro-preferred Update.
func (o *WheelGyroOdometry) UpdateWheelsOnly(wheels WheelPositions) {
	dl := wheels.Left - o.prevWheels.Left
	dr := wheels.Right - o.prevWheels.Right

	var dtheta float64
	if o.wheelSep != 0 {
		dtheta = (dr - dl) / o.wheelSep
	}

	xi := geometry.Twist2d{Dx: (dl + dr) / 2, Dy: 0, Dtheta: dtheta}
	o.pose = o.pose.Compose(xi.Exp())

	o.prevWheels = wheels
}

// ResetPose overwrites the current pose and re-derives the gyro offset so
// that the next Update call continues smoothly from the new pose's
// heading. Used when an external correction (e.g. a vision fix folded
// back through the pose estimator) needs to override the dead-reckoned
// estimate directly.
func (o *WheelGyroOdometry) ResetPose(gyro float64, wheels WheelPositions, pose geometry.Transform2d) {
	o.gyroOffset = gyro - pose.Theta
	o.prevWheels = wheels
	o.prevAngle = pose.Theta
	o.hasPrevAngle = true
	o.pose = pose
}
