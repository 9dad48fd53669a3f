// Package pursuit implements the pure-pursuit path follower: waypoint
// projection onto the nearest path segment and the lookahead twist
// computation that drives the robot toward it.
package pursuit

import (
	"math"

	"github.com/fieldcortex/slamcore/internal/geometry"
)

// Path is an ordered list of waypoints; progress along it is parametrized
// by t in [0, N-1], where the integer part is the waypoint index and the
// fractional part interpolates linearly across that segment.
type Path struct {
	Waypoints []geometry.Transform2d
}

// NewPath builds a Path from at least two waypoints.
func NewPath(waypoints ...geometry.Transform2d) Path {
	return Path{Waypoints: waypoints}
}

// Eval returns the pose at progress t, linearly interpolating the
// translation across the segment t falls within. t is clamped to
// [0, N-1].
func (p Path) Eval(t float64) geometry.Transform2d {
	n := len(p.Waypoints)
	if n == 0 {
		return geometry.Identity2d
	}
	if t <= 0 {
		return p.Waypoints[0]
	}
	maxT := float64(n - 1)
	if t >= maxT {
		return p.Waypoints[n-1]
	}

	i := int(math.Floor(t))
	frac := t - float64(i)
	a, b := p.Waypoints[i], p.Waypoints[i+1]
	return geometry.NewTransform2d(
		a.X+frac*(b.X-a.X),
		a.Y+frac*(b.Y-a.Y),
		a.Theta+frac*(b.Theta-a.Theta),
	)
}

// MaxT returns the largest valid progress value, N-1.
func (p Path) MaxT() float64 {
	if len(p.Waypoints) == 0 {
		return 0
	}
	return float64(len(p.Waypoints) - 1)
}

// Project finds the progress value t minimizing the Euclidean distance
// from pose to the path, searching every segment and clamping the
// per-segment parameter to [0, 1].
func (p Path) Project(pose geometry.Transform2d) float64 {
	n := len(p.Waypoints)
	if n < 2 {
		return 0
	}

	bestT := 0.0
	bestDist := math.Inf(1)

	for i := 0; i < n-1; i++ {
		a, b := p.Waypoints[i], p.Waypoints[i+1]
		abx, aby := b.X-a.X, b.Y-a.Y
		segLenSq := abx*abx + aby*aby

		var frac float64
		if segLenSq > 0 {
			frac = ((pose.X-a.X)*abx + (pose.Y-a.Y)*aby) / segLenSq
			frac = geometry.Clamp(frac, 0, 1)
		}

		px := a.X + frac*abx
		py := a.Y + frac*aby
		dx, dy := pose.X-px, pose.Y-py
		dist := dx*dx + dy*dy

		if dist < bestDist {
			bestDist = dist
			bestT = float64(i) + frac
		}
	}

	return bestT
}

// LookaheadDistance is the fixed progress-space lookahead used by
// PurePursuit (0.1 units of path parameter ahead of the projected point).
const LookaheadDistance = 0.1

// ArrivalThreshold is how close (in progress units) to the path's end the
// robot must be to switch to the arrival-twist branch.
const ArrivalThreshold = 0.02

// PurePursuit computes the commanded twist and the lookahead target pose
// for the given current pose along path p.
func PurePursuit(p Path, current geometry.Transform2d) (geometry.Twist2d, geometry.Transform2d) {
	tCurr := p.Project(current)
	maxT := p.MaxT()
	tTarget := math.Min(tCurr+LookaheadDistance, maxT)
	target := p.Eval(tTarget)

	err := current.Inverse().Compose(target)

	if maxT-tCurr < ArrivalThreshold {
		return geometry.Twist2d{
			Dx:     0.2 * err.X,
			Dy:     0.2 * err.Y,
			Dtheta: geometry.Clamp(10*geometry.WrapAngleSigned(err.Theta), -1, 1),
		}, target
	}

	phi := math.Atan2(err.Y, err.X)
	v := geometry.Clamp(0.4-10*phi*phi, 0, 0.2)
	return geometry.Twist2d{
		Dx:     v,
		Dy:     0,
		Dtheta: geometry.Clamp(10*phi, -1, 1),
	}, target
}
