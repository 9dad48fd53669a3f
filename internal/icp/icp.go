// Package icp implements 2D iterative-closest-point least-squares scan
// matching: given a source point cloud and a reference point cloud, it
// recovers the rigid transform that best aligns them via Gauss-Newton
// iteration over nearest-neighbor correspondences.
package icp

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/fieldcortex/slamcore/internal/geometry"
)

// Point2 is a single 2D scan point.
type Point2 struct {
	X, Y float64
}

// Result holds the recovered transform and a quality summary.
type Result struct {
	Pose       geometry.Transform2d
	Iterations int
	RMSE       float64
	Converged  bool
}

// Params bundles the iteration controls, mirroring internal/config's
// ICP knobs so callers can pass config.TuningConfig values straight
// through.
type Params struct {
	MaxIterations int
	Epsilon       float64 // damping added to the Hessian diagonal
	Convergence   float64 // step-size convergence threshold
}

// DefaultParams returns the reference tuning: 50 iterations, ε=1e-6,
// convergence 1e-9.
func DefaultParams() Params {
	return Params{MaxIterations: 50, Epsilon: 1e-6, Convergence: 1e-9}
}

// Align runs Gauss-Newton ICP aligning source onto reference, starting
// from the given initial guess. Nearest-neighbor correspondence search is
// brute-force O(|source|*|reference|), acceptable at scan-sized point
// counts. The rotational Jacobian column is evaluated at theta=0, a
// linearization around the identity rather than the current estimate;
// it converges at scan-matching scales, just at a slower rate than the
// fully linearized form.
func Align(source, reference []Point2, initial geometry.Transform2d, p Params) Result {
	x := initial
	res := Result{Pose: x}

	for iter := 0; iter < p.MaxIterations; iter++ {
		res.Iterations = iter + 1

		cos, sin := math.Cos(x.Theta), math.Sin(x.Theta)
		transformed := make([]Point2, len(source))
		for i, pt := range source {
			transformed[i] = Point2{
				X: cos*pt.X - sin*pt.Y + x.X,
				Y: sin*pt.X + cos*pt.Y + x.Y,
			}
		}

		if len(reference) == 0 {
			break
		}

		var hData [9]float64
		var g [3]float64
		var sqErr float64
		var pairCount int

		for i, tp := range transformed {
			nearest, dist2 := nearestNeighbor(tp, reference)
			if nearest < 0 {
				continue
			}
			q := reference[nearest]
			ex := tp.X - q.X
			ey := tp.Y - q.Y

			// Jacobian evaluated at theta=0, not the current estimate.
			px, py := source[i].X, source[i].Y
			j := [2][3]float64{
				{1, 0, -py},
				{0, 1, px},
			}

			for r := 0; r < 2; r++ {
				e := ex
				if r == 1 {
					e = ey
				}
				for c := 0; c < 3; c++ {
					g[c] += j[r][c] * e
					for c2 := 0; c2 < 3; c2++ {
						hData[c*3+c2] += j[r][c] * j[r][c2]
					}
				}
			}
			sqErr += dist2
			pairCount++
		}

		if pairCount == 0 {
			break
		}
		res.RMSE = math.Sqrt(sqErr / float64(pairCount))

		for d := 0; d < 3; d++ {
			hData[d*3+d] += p.Epsilon
		}

		H := mat.NewDense(3, 3, hData[:])
		gVec := mat.NewVecDense(3, []float64{-g[0], -g[1], -g[2]})
		var delta mat.VecDense
		if err := delta.SolveVec(H, gVec); err != nil {
			// Singular Hessian: give up and return the last iterate.
			break
		}

		stepNorm := math.Sqrt(delta.AtVec(0)*delta.AtVec(0) + delta.AtVec(1)*delta.AtVec(1) + delta.AtVec(2)*delta.AtVec(2))

		x.X += delta.AtVec(0)
		x.Y += delta.AtVec(1)
		x.Theta = geometry.WrapAngle(x.Theta + delta.AtVec(2))
		res.Pose = x

		if stepNorm < p.Convergence {
			res.Converged = true
			break
		}
	}

	return res
}

func nearestNeighbor(p Point2, reference []Point2) (int, float64) {
	best := -1
	bestDist := math.Inf(1)
	for j, q := range reference {
		dx, dy := p.X-q.X, p.Y-q.Y
		d2 := dx*dx + dy*dy
		if d2 < bestDist {
			bestDist = d2
			best = j
		}
	}
	return best, bestDist
}

// CloudRMSE reports the RMS nearest-neighbor distance between two point
// clouds, using gonum/stat for the underlying mean computation.
// Useful as a standalone alignment-quality metric outside the Align loop.
func CloudRMSE(a, b []Point2) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	dists := make([]float64, len(a))
	for i, p := range a {
		_, d2 := nearestNeighbor(p, b)
		dists[i] = d2
	}
	mean := stat.Mean(dists, nil)
	return math.Sqrt(mean)
}
