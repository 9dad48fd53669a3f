package posegraph

import (
	"github.com/fieldcortex/slamcore/internal/geometry"
	"github.com/fieldcortex/slamcore/internal/icp"
)

// LidarPoseGraph pairs the pose-graph back-end with a per-node Cartesian
// scan, so later scans can be matched against the most recent one for
// loop-closure-quality edges instead of trusting odometry verbatim.
type LidarPoseGraph struct {
	Graph     *Graph
	scans     [][]icp.Point2
	icpParams icp.Params
}

// NewLidarPoseGraph builds an empty lidar-backed pose graph using the
// given ICP parameters for scan-to-scan matching.
func NewLidarPoseGraph(icpParams icp.Params) *LidarPoseGraph {
	return &LidarPoseGraph{
		Graph:     NewGraph(),
		icpParams: icpParams,
	}
}

// AddScan adds a new pose-graph node for this scan. If a previous scan
// exists, the new node's edge is the ICP alignment of scanPoints against
// the most recent scan, seeded with tOdomDelta as the initial guess.
// Otherwise (the first scan), tOdomDelta is trusted verbatim.
func (l *LidarPoseGraph) AddScan(tOdomDelta geometry.Transform2d, scanPoints []icp.Point2) int {
	edge := tOdomDelta
	if len(l.scans) > 0 {
		result := icp.Align(scanPoints, l.scans[len(l.scans)-1], tOdomDelta, l.icpParams)
		edge = result.Pose
	}

	idx := l.Graph.AddNodeWithOdometry(edge)
	l.scans = append(l.scans, scanPoints)
	return idx
}

// LatestScan returns the most recently added scan, or nil if none exists.
func (l *LidarPoseGraph) LatestScan() []icp.Point2 {
	if len(l.scans) == 0 {
		return nil
	}
	return l.scans[len(l.scans)-1]
}

// NodeScan returns the scan backing node i. The origin anchor (node 0)
// carries no scan; the first AddScan call creates node 1.
func (l *LidarPoseGraph) NodeScan(i int) []icp.Point2 {
	if i <= 0 || i > len(l.scans) {
		return nil
	}
	return l.scans[i-1]
}
