package posegraph

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/fieldcortex/slamcore/internal/geometry"
	"github.com/fieldcortex/slamcore/internal/testutil"
)

func TestNewGraph_HasOriginNode(t *testing.T) {
	g := NewGraph()
	if len(g.Nodes) != 1 {
		t.Fatalf("expected 1 node, got %d", len(g.Nodes))
	}
	if g.Nodes[0] != (Node{}) {
		t.Errorf("node 0 must be the origin, got %+v", g.Nodes[0])
	}
}

func TestAddNodeWithOdometry_ChainsPoses(t *testing.T) {
	g := NewGraph()
	idx := g.AddNodeWithOdometry(geometry.NewTransform2d(1, 0, 0))
	if idx != 1 {
		t.Fatalf("expected new node index 1, got %d", idx)
	}
	if g.Nodes[1].X != 1 {
		t.Errorf("node 1 X = %v, want 1", g.Nodes[1].X)
	}
	if len(g.Edges) != 1 || g.Edges[0].I != 0 || g.Edges[0].J != 1 {
		t.Errorf("expected edge (0,1), got %+v", g.Edges)
	}
	if !g.Dirty {
		t.Error("expected graph to be marked dirty after adding a node")
	}
}

func TestAddLoopClosure_RejectsUnknownNode(t *testing.T) {
	g := NewGraph()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for loop closure referencing unknown node")
		}
	}()
	g.AddLoopClosure(0, 5, geometry.Identity2d)
}

// buildSquareLoop constructs a chain of 4 odometry edges (ending at node 4
// = (1, 1, 3pi/2)) plus a loop-closure edge from node 4 back to node 0
// whose transform (1, -1, -3pi/2) agrees with the chain, so ground truth is
// well defined and the graph is over-constrained (a genuine optimization
// problem).
func buildSquareLoop() (*Graph, []Node) {
	g := NewGraph()
	g.AddNodeWithOdometry(geometry.NewTransform2d(1, 0, 0))
	g.AddNodeWithOdometry(geometry.NewTransform2d(1, 0, math.Pi/2))
	g.AddNodeWithOdometry(geometry.NewTransform2d(1, 0, math.Pi/2))
	g.AddNodeWithOdometry(geometry.NewTransform2d(1, 0, math.Pi/2))
	groundTruth := make([]Node, len(g.Nodes))
	copy(groundTruth, g.Nodes)

	g.AddLoopClosure(4, 0, geometry.NewTransform2d(1, -1, -3*math.Pi/2))
	return g, groundTruth
}

func TestOptimize_RecoversGroundTruthFromNoisyInit(t *testing.T) {
	g, groundTruth := buildSquareLoop()

	// Perturb every node except node 0 (the gauge-fixed anchor).
	for i := 1; i < len(g.Nodes); i++ {
		g.Nodes[i].X += 0.05
		g.Nodes[i].Y -= 0.03
		g.Nodes[i].Theta += 0.02
	}

	if err := g.Optimize(50); err != nil {
		t.Fatalf("Optimize: %v", err)
	}

	for i, want := range groundTruth {
		got := g.Nodes[i]
		testutil.AssertFloatClose(t, got.X, want.X, 1e-6, "node X")
		testutil.AssertFloatClose(t, got.Y, want.Y, 1e-6, "node Y")
		testutil.AssertFloatClose(t, got.Theta, want.Theta, 1e-6, "node Theta")
	}
	if g.Dirty {
		t.Error("expected Dirty to be cleared after Optimize")
	}
}

// TestOptimize_RecoversLargeSpiralAtDoublePrecisionTolerance lays 1500
// nodes out on a spiral via the odometry edge (2, 0, 0.2) after the anchor
// and one straight (2, 0, 0) node (1502 nodes in all), perturbs every
// coordinate of every non-anchor node by +1.0, and runs 10 GN iterations.
// It exercises the dense Cholesky solve at a scale (4506x4506) and
// tolerance (1e-9) the 5-node square-loop test above does not reach.
func TestOptimize_RecoversLargeSpiralAtDoublePrecisionTolerance(t *testing.T) {
	const nodeCount = 1500

	g := NewGraph()
	g.AddNodeWithOdometry(geometry.NewTransform2d(2, 0, 0))
	for i := 0; i < nodeCount; i++ {
		g.AddNodeWithOdometry(geometry.NewTransform2d(2, 0, 0.2))
	}

	groundTruth := make([]Node, len(g.Nodes))
	copy(groundTruth, g.Nodes)

	for i := 1; i < len(g.Nodes); i++ {
		g.Nodes[i].X += 1.0
		g.Nodes[i].Y += 1.0
		g.Nodes[i].Theta += 1.0
	}

	if err := g.Optimize(10); err != nil {
		t.Fatalf("Optimize: %v", err)
	}

	for i, want := range groundTruth {
		got := g.Nodes[i]
		testutil.AssertFloatClose(t, got.X, want.X, 1e-9, "node X")
		testutil.AssertFloatClose(t, got.Y, want.Y, 1e-9, "node Y")
		testutil.AssertFloatClose(t, got.Theta, want.Theta, 1e-9, "node Theta")
	}
}

func TestAddLoopClosure_EdgeTopologyMatchesExpected(t *testing.T) {
	g, _ := buildSquareLoop()

	want := []Edge{
		{I: 0, J: 1, T: geometry.NewTransform2d(1, 0, 0)},
		{I: 1, J: 2, T: geometry.NewTransform2d(1, 0, math.Pi/2)},
		{I: 2, J: 3, T: geometry.NewTransform2d(1, 0, math.Pi/2)},
		{I: 3, J: 4, T: geometry.NewTransform2d(1, 0, math.Pi/2)},
		{I: 4, J: 0, T: geometry.NewTransform2d(1, -1, -3*math.Pi/2)},
	}

	if diff := cmp.Diff(want, g.Edges); diff != "" {
		t.Errorf("edge topology mismatch (-want +got):\n%s", diff)
	}
}

func TestOptimize_ClearsDirtyFlag(t *testing.T) {
	g := NewGraph()
	g.AddNodeWithOdometry(geometry.NewTransform2d(1, 0, 0))
	if !g.Dirty {
		t.Fatal("expected Dirty after adding a node")
	}
	if err := g.Optimize(10); err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if g.Dirty {
		t.Error("Optimize must clear the dirty flag")
	}
}
