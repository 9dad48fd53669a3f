package posegraph

import (
	"testing"

	"github.com/fieldcortex/slamcore/internal/geometry"
	"github.com/fieldcortex/slamcore/internal/icp"
	"github.com/fieldcortex/slamcore/internal/testutil"
)

func TestAddScan_FirstScanTrustsOdometry(t *testing.T) {
	l := NewLidarPoseGraph(icp.DefaultParams())
	delta := geometry.NewTransform2d(1, 0, 0)
	idx := l.AddScan(delta, []icp.Point2{{X: 0, Y: 0}})

	if idx != 1 {
		t.Fatalf("expected node index 1, got %d", idx)
	}
	testutil.AssertFloatClose(t, l.Graph.Nodes[1].X, 1.0, 1e-9, "first scan trusts odometry X")
}

func TestAddScan_SubsequentScanUsesICP(t *testing.T) {
	l := NewLidarPoseGraph(icp.DefaultParams())
	scan1 := []icp.Point2{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 2, Y: 0}}
	l.AddScan(geometry.Identity2d, scan1)

	// scan2's local points are scan1's shifted by -0.5: applying the robot's
	// +0.5 forward motion to scan2 should register it back onto scan1.
	scan2 := []icp.Point2{{X: -0.5, Y: 0}, {X: 0.5, Y: 0}, {X: 1.5, Y: 0}}
	l.AddScan(geometry.NewTransform2d(0.4, 0, 0), scan2)

	testutil.AssertFloatClose(t, l.Graph.Nodes[2].X, 0.5, 1e-6, "ICP-corrected node X")
}

func TestLatestScan_ReturnsMostRecent(t *testing.T) {
	l := NewLidarPoseGraph(icp.DefaultParams())
	if l.LatestScan() != nil {
		t.Fatal("expected nil before any scan added")
	}
	scan := []icp.Point2{{X: 1, Y: 1}}
	l.AddScan(geometry.Identity2d, scan)
	got := l.LatestScan()
	if len(got) != 1 || got[0] != scan[0] {
		t.Errorf("LatestScan = %+v, want %+v", got, scan)
	}
}
