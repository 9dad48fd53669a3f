// Package control implements the fixed-period control-loop orchestrator
// and the drive-command state machine it resolves each tick, with each
// hardware resource owned by exactly one goroutine.
package control

import (
	"github.com/fieldcortex/slamcore/internal/geometry"
	"github.com/fieldcortex/slamcore/internal/pursuit"
)

// DriveCommandKind discriminates the active DriveCommand variant.
type DriveCommandKind int

const (
	TeleopVelocity DriveCommandKind = iota
	PathfindToPosition
	FollowPath
)

// DriveCommand is the web-settable operator command. Exactly one field is
// meaningful depending on Kind.
type DriveCommand struct {
	Kind         DriveCommandKind
	Twist        geometry.Twist2d      // TeleopVelocity
	Goal         geometry.Transform2d  // PathfindToPosition
	Path         pursuit.Path          // FollowPath
}

// NewTeleopVelocity builds a TeleopVelocity command.
func NewTeleopVelocity(xi geometry.Twist2d) DriveCommand {
	return DriveCommand{Kind: TeleopVelocity, Twist: xi}
}

// NewPathfindToPosition builds a PathfindToPosition command.
func NewPathfindToPosition(goal geometry.Transform2d) DriveCommand {
	return DriveCommand{Kind: PathfindToPosition, Goal: goal}
}

// NewFollowPath builds a FollowPath command.
func NewFollowPath(p pursuit.Path) DriveCommand {
	return DriveCommand{Kind: FollowPath, Path: p}
}

// synthesizePath builds [current, midpoint_hint, goal] for a
// PathfindToPosition transition. The midpoint hint is the straight-line
// average of current and goal, giving pure-pursuit a smoother heading
// reference than jumping straight to the goal.
func synthesizePath(current, goal geometry.Transform2d) pursuit.Path {
	midpoint := geometry.NewTransform2d(
		(current.X+goal.X)/2,
		(current.Y+goal.Y)/2,
		(current.Theta+goal.Theta)/2,
	)
	return pursuit.NewPath(current, midpoint, goal)
}

// Resolve advances the drive-command state machine by one tick given the
// current pose, returning the commanded twist to write to the drivetrain
// and the pursuit lookahead pose (the current pose when no path is being
// followed). A PathfindToPosition command transitions itself into
// FollowPath on its first resolution; FollowPath stays in place at the
// end of its path, letting pure-pursuit's own arrival branch emit
// near-zero commands rather than switching state.
func Resolve(cmd *DriveCommand, current geometry.Transform2d) (geometry.Twist2d, geometry.Transform2d) {
	switch cmd.Kind {
	case TeleopVelocity:
		return cmd.Twist, current

	case PathfindToPosition:
		path := synthesizePath(current, cmd.Goal)
		*cmd = NewFollowPath(path)
		return pursuit.PurePursuit(path, current)

	case FollowPath:
		return pursuit.PurePursuit(cmd.Path, current)

	default:
		return geometry.Twist2d{}, current
	}
}
