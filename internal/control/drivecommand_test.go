package control

import (
	"testing"

	"github.com/fieldcortex/slamcore/internal/geometry"
	"github.com/fieldcortex/slamcore/internal/pursuit"
	"github.com/fieldcortex/slamcore/internal/testutil"
)

func straightPathForControl() pursuit.Path {
	return pursuit.NewPath(
		geometry.NewTransform2d(0, 0, 0),
		geometry.NewTransform2d(1, 0, 0),
		geometry.NewTransform2d(2, 0, 0),
	)
}

func TestResolve_TeleopVelocityPassesThrough(t *testing.T) {
	cmd := NewTeleopVelocity(geometry.Twist2d{Dx: 0.3, Dy: 0, Dtheta: 0.1})
	twist, lookahead := Resolve(&cmd, geometry.Identity2d)
	testutil.AssertFloatClose(t, twist.Dx, 0.3, 1e-9, "teleop dx")
	testutil.AssertFloatClose(t, twist.Dtheta, 0.1, 1e-9, "teleop dtheta")
	testutil.AssertFloatClose(t, lookahead.X, 0, 1e-9, "teleop lookahead is current pose")
	if cmd.Kind != TeleopVelocity {
		t.Errorf("expected command to remain TeleopVelocity, got %v", cmd.Kind)
	}
}

func TestResolve_PathfindTransitionsToFollowPath(t *testing.T) {
	cmd := NewPathfindToPosition(geometry.NewTransform2d(2, 0, 0))
	current := geometry.Identity2d

	_, _ = Resolve(&cmd, current)

	if cmd.Kind != FollowPath {
		t.Fatalf("expected transition to FollowPath, got %v", cmd.Kind)
	}
	if len(cmd.Path.Waypoints) != 3 {
		t.Fatalf("expected synthesized 3-waypoint path, got %d", len(cmd.Path.Waypoints))
	}
	testutil.AssertFloatClose(t, cmd.Path.Waypoints[0].X, current.X, 1e-9, "first waypoint is current pose")
	testutil.AssertFloatClose(t, cmd.Path.Waypoints[2].X, 2, 1e-9, "last waypoint is goal")
	testutil.AssertFloatClose(t, cmd.Path.Waypoints[1].X, 1, 1e-9, "midpoint hint halfway to goal")
}

func TestResolve_FollowPathStaysInStateNearArrival(t *testing.T) {
	cmd := NewFollowPath(straightPathForControl())
	current := geometry.NewTransform2d(1.99, 0, 0)

	twist, _ := Resolve(&cmd, current)

	if cmd.Kind != FollowPath {
		t.Errorf("expected to remain in FollowPath near arrival, got %v", cmd.Kind)
	}
	if twist.Dx < 0 {
		t.Errorf("expected non-negative damped approach twist, got %v", twist.Dx)
	}
}
