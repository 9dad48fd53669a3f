// Package posegraph implements the pose-graph back-end: a set of
// (x, y, theta) nodes connected by relative-transform edge constraints,
// optimized by Gauss-Newton with node 0 gauge-fixed to the origin.
//
// The linear solve at each iteration uses a dense Cholesky factorization
// rather than a sparse one. The coordinate-list assembly into H below
// produces exactly the sparsity structure a sparse solver would exploit,
// but gonum has no sparse SPD solver, so the factorization step stays
// dense even though the assembly is sparse-shaped.
package posegraph

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/fieldcortex/slamcore/internal/geometry"
	"github.com/fieldcortex/slamcore/internal/slamerrors"
)

// Node is a point in pose space, identified by its index in Graph.Nodes.
type Node struct {
	X, Y, Theta float64
}

// Edge asserts that node I transformed by T equals node J.
type Edge struct {
	I, J int
	T    geometry.Transform2d
}

// Graph holds the pose-graph nodes and edges, plus a dirty flag set by
// every edge addition and cleared by Optimize.
type Graph struct {
	Nodes []Node
	Edges []Edge
	Dirty bool
}

// NewGraph returns a graph with a single node 0 anchored at the origin.
func NewGraph() *Graph {
	return &Graph{Nodes: []Node{{}}}
}

// AddNodeWithOdometry appends a node at the previous node's pose composed
// with tPrevNew, and an edge (N-1, N, tPrevNew).
func (g *Graph) AddNodeWithOdometry(tPrevNew geometry.Transform2d) int {
	n := len(g.Nodes) - 1
	prev := g.Nodes[n]
	prevTransform := geometry.NewTransform2d(prev.X, prev.Y, prev.Theta)
	next := prevTransform.Compose(tPrevNew)

	g.Nodes = append(g.Nodes, Node{X: next.X, Y: next.Y, Theta: next.Theta})
	g.Edges = append(g.Edges, Edge{I: n, J: n + 1, T: tPrevNew})
	g.Dirty = true
	return n + 1
}

// AddLoopClosure appends an edge (i, j, tIJ) without creating new nodes.
// i and j MUST reference existing nodes.
func (g *Graph) AddLoopClosure(i, j int, tIJ geometry.Transform2d) {
	if i < 0 || i >= len(g.Nodes) || j < 0 || j >= len(g.Nodes) {
		slamerrors.Fatal("loop closure references a node outside the graph")
	}
	g.Edges = append(g.Edges, Edge{I: i, J: j, T: tIJ})
	g.Dirty = true
}

// Optimize runs up to maxIters Gauss-Newton iterations, gauge-fixing node
// 0 by adding identity to its diagonal Hessian block. Stops early once the
// update step's norm falls below 1e-10. Returns a slamerrors.NumericError
// (and leaves nodes at the last good iterate) if a factorization fails.
func (g *Graph) Optimize(maxIters int) error {
	n := len(g.Nodes)
	dim := 3 * n

	for iter := 0; iter < maxIters; iter++ {
		h := make([]float64, dim*dim)
		b := make([]float64, dim)

		for _, e := range g.Edges {
			ni, nj := g.Nodes[e.I], g.Nodes[e.J]
			xij, yij, thetaij := e.T.X, e.T.Y, e.T.Theta

			cosI, sinI := math.Cos(ni.Theta), math.Sin(ni.Theta)
			dx, dy := nj.X-ni.X, nj.Y-ni.Y

			u := cosI*dx + sinI*dy - xij
			v := -sinI*dx + cosI*dy - yij

			cosIJ, sinIJ := math.Cos(thetaij), math.Sin(thetaij)
			errVec := [3]float64{
				cosIJ*u + sinIJ*v,
				-sinIJ*u + cosIJ*v,
				nj.Theta - ni.Theta - thetaij,
			}

			alpha := ni.Theta + thetaij
			p := cosI*dy - sinI*dx
			q := -cosI*dx - sinI*dy

			cosA, sinA := math.Cos(alpha), math.Sin(alpha)
			ai := [3][3]float64{
				{-cosA, -sinA, cosIJ*p + sinIJ*q},
				{sinA, -cosA, -sinIJ*p + cosIJ*q},
				{0, 0, -1},
			}
			aj := [3][3]float64{
				{cosA, sinA, 0},
				{-sinA, cosA, 0},
				{0, 0, 1},
			}

			scatterHessian(h, dim, e.I, e.I, ai, ai)
			scatterHessian(h, dim, e.I, e.J, ai, aj)
			scatterHessian(h, dim, e.J, e.I, aj, ai)
			scatterHessian(h, dim, e.J, e.J, aj, aj)

			scatterGradient(b, e.I, ai, errVec)
			scatterGradient(b, e.J, aj, errVec)
		}

		// Gauge-fix node 0.
		for d := 0; d < 3; d++ {
			h[d*dim+d] += 1
		}

		sym := mat.NewSymDense(dim, nil)
		for r := 0; r < dim; r++ {
			for c := r; c < dim; c++ {
				sym.SetSym(r, c, h[r*dim+c])
			}
		}
		rhs := mat.NewVecDense(dim, negate(b))

		var chol mat.Cholesky
		if ok := chol.Factorize(sym); !ok {
			return slamerrors.NewNumericError("posegraph.optimize", "cholesky factorization failed; system not positive definite")
		}
		var delta mat.VecDense
		if err := chol.SolveVecTo(&delta, rhs); err != nil {
			return slamerrors.NewNumericError("posegraph.optimize", err.Error())
		}

		stepNormSq := 0.0
		for i := 0; i < dim; i++ {
			stepNormSq += delta.AtVec(i) * delta.AtVec(i)
		}

		for i := 0; i < n; i++ {
			g.Nodes[i].X += delta.AtVec(3 * i)
			g.Nodes[i].Y += delta.AtVec(3*i + 1)
			g.Nodes[i].Theta += delta.AtVec(3*i + 2)
		}

		if math.Sqrt(stepNormSq) < 1e-10 {
			break
		}
	}

	g.Dirty = false
	return nil
}

func negate(v []float64) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = -x
	}
	return out
}

// scatterHessian adds aᵀ*b into H's (nodeA, nodeB) 3x3 block.
func scatterHessian(h []float64, dim, nodeA, nodeB int, a, b [3][3]float64) {
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			var sum float64
			for k := 0; k < 3; k++ {
				sum += a[k][r] * b[k][c]
			}
			row := 3*nodeA + r
			col := 3*nodeB + c
			h[row*dim+col] += sum
		}
	}
}

// scatterGradient adds aᵀ*e into b's node block.
func scatterGradient(b []float64, node int, a [3][3]float64, e [3]float64) {
	for r := 0; r < 3; r++ {
		var sum float64
		for k := 0; k < 3; k++ {
			sum += a[k][r] * e[k]
		}
		b[3*node+r] += sum
	}
}
