// Package poseestimator fuses dead-reckoned odometry poses with
// intermittent absolute-pose measurements (e.g. AprilTag detections) into
// a single world-frame pose estimate, using a world->odom correction map
// layered on top of a time-interpolatable buffer of odometry poses.
package poseestimator

import (
	"sort"

	"github.com/fieldcortex/slamcore/internal/geometry"
	"github.com/fieldcortex/slamcore/internal/interp"
	"github.com/fieldcortex/slamcore/internal/slamerrors"
)

// Sigma holds the reported standard deviations of a vision measurement
// along x, y, and theta. FusionGain derives a blend gain from these.
type Sigma struct {
	X, Y, Theta float64
}

// FusionGain derives the vision-fusion blend gain α from the reported
// measurement uncertainty σ. When any σ component is supplied (non-zero),
// α decreases as uncertainty grows, approximating a Kalman-style trust
// weighting: higher σ -> lower trust in the new measurement. When σ is
// the zero value (unspecified), a fixed default of 0.1 applies.
func FusionGain(sigma Sigma) float64 {
	const defaultGain = 0.1
	mag := sigma.X + sigma.Y + sigma.Theta
	if mag <= 0 {
		return defaultGain
	}
	// Map magnitude to (0, defaultGain], converging to 0 as sigma grows.
	gain := defaultGain / (1 + mag)
	return gain
}

// correction is one entry in the world->odom correction map.
type correction struct {
	t float64
	v geometry.Transform2d
}

// Estimator tracks a buffer of odometry-frame poses keyed by timestamp and
// a sorted map from timestamp to a world->odom correction transform,
// fusing in vision measurements as they arrive.
type Estimator struct {
	odomBuffer  *interp.TimeInterpolatableBuffer[geometry.Transform2d]
	corrections []correction
	retention   float64
}

// NewEstimator builds an Estimator retaining odometry and corrections for
// retentionSeconds.
func NewEstimator(retentionSeconds float64) *Estimator {
	return &Estimator{
		odomBuffer: interp.NewTimeInterpolatableBuffer[geometry.Transform2d](retentionSeconds),
		retention:  retentionSeconds,
	}
}

// AddOdometryPose records the odometry-frame pose at time t.
func (e *Estimator) AddOdometryPose(t float64, pose geometry.Transform2d) {
	e.odomBuffer.Add(t, pose)
}

// latestCorrectionAt returns the latest correction with time <= t, or the
// identity if the correction map is empty (no fusion has occurred yet).
// When t precedes every correction, the earliest correction is returned.
func (e *Estimator) latestCorrectionAt(t float64) geometry.Transform2d {
	if len(e.corrections) == 0 {
		return geometry.Identity2d
	}
	i := sort.Search(len(e.corrections), func(i int) bool { return e.corrections[i].t > t })
	if i == 0 {
		return e.corrections[0].v
	}
	return e.corrections[i-1].v
}

// SampleAt returns T_world_robot(t) = T_world_odom(t_k<=t) ⊕ T_odom(t),
// where t_k is the latest correction at or before t. Returns
// slamerrors.ErrBufferMiss if the odometry buffer lacks data spanning t.
func (e *Estimator) SampleAt(t float64) (geometry.Transform2d, error) {
	if e.odomBuffer.Empty() {
		return geometry.Transform2d{}, slamerrors.ErrBufferMiss
	}
	oldest, _ := e.odomBuffer.Oldest()
	newest, _ := e.odomBuffer.Newest()
	if t < oldest || t > newest {
		return geometry.Transform2d{}, slamerrors.ErrBufferMiss
	}
	odomPose, err := e.odomBuffer.Get(t)
	if err != nil {
		return geometry.Transform2d{}, err
	}
	worldOdom := e.latestCorrectionAt(t)
	return worldOdom.Compose(odomPose), nil
}

// AddVisionMeasurement folds a vision-derived world->robot pose estimate
// at time t into the correction map, blending it with the current
// odometry-implied estimate by FusionGain(sigma). Returns
// slamerrors.ErrBufferMiss if no odometry sample covers t.
func (e *Estimator) AddVisionMeasurement(worldVision geometry.Transform2d, t float64, sigma Sigma) error {
	worldEst, err := e.SampleAt(t)
	if err != nil {
		return err
	}

	alpha := FusionGain(sigma)
	worldRobot := worldEst.Lerp(worldVision, alpha)

	odomRobot, err := e.odomBuffer.Get(t)
	if err != nil {
		return err
	}
	worldOdom := worldRobot.Compose(odomRobot.Inverse())

	e.insertCorrection(t, worldOdom)
	return nil
}

// insertCorrection inserts (t, v) into the correction map in time order
// and prunes entries older than the retention window.
func (e *Estimator) insertCorrection(t float64, v geometry.Transform2d) {
	i := sort.Search(len(e.corrections), func(i int) bool { return e.corrections[i].t >= t })
	entry := correction{t: t, v: v}
	if i < len(e.corrections) && e.corrections[i].t == t {
		e.corrections[i] = entry
	} else {
		e.corrections = append(e.corrections, correction{})
		copy(e.corrections[i+1:], e.corrections[i:])
		e.corrections[i] = entry
	}

	cutoff := t - e.retention
	j := 0
	for j < len(e.corrections) && e.corrections[j].t < cutoff {
		j++
	}
	if j > 0 {
		e.corrections = e.corrections[j:]
	}
}

// ResetPose overwrites the estimator's world-frame pose at time t,
// asserting t is newer than any existing correction. Fatal
// (slamerrors.Fatal) if t is not strictly newer, matching the
// InvariantViolation taxonomy for a pose reset in the past.
func (e *Estimator) ResetPose(worldRobot geometry.Transform2d, t float64) {
	if n := len(e.corrections); n > 0 && t <= e.corrections[n-1].t {
		slamerrors.Fatal("pose reset at a time not newer than the latest correction")
	}
	odomRobot, err := e.odomBuffer.Get(t)
	if err != nil {
		odomRobot = geometry.Identity2d
	}
	worldOdom := worldRobot.Compose(odomRobot.Inverse())
	e.insertCorrection(t, worldOdom)
}
