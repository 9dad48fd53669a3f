package control

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fieldcortex/slamcore/internal/config"
	"github.com/fieldcortex/slamcore/internal/drivetrain"
	"github.com/fieldcortex/slamcore/internal/geometry"
	"github.com/fieldcortex/slamcore/internal/icp"
	"github.com/fieldcortex/slamcore/internal/lidarproto"
	"github.com/fieldcortex/slamcore/internal/monitoring"
	"github.com/fieldcortex/slamcore/internal/odometry"
	"github.com/fieldcortex/slamcore/internal/poseestimator"
	"github.com/fieldcortex/slamcore/internal/posegraph"
)

// Telemetry is the set of per-tick outbound events published at the end
// of each orchestrator loop iteration.
type Telemetry struct {
	Odom          geometry.Transform2d
	PointCloud    []icp.Point2
	PoseGraphNode int
	Path          []geometry.Transform2d
	PursuitPose   geometry.Transform2d
	LidarStatus   bool
	ArduinoStatus bool
}

// Publisher receives one Telemetry snapshot per control-loop tick. The
// telemetry package's websocket broadcaster implements this.
type Publisher interface {
	Publish(Telemetry)
}

// noopPublisher discards telemetry; used when no publisher is wired, e.g.
// in tests that only care about the motion/estimation pipeline.
type noopPublisher struct{}

func (noopPublisher) Publish(Telemetry) {}

// Loop is the fixed-period control-loop orchestrator. It owns no serial
// ports directly; the drivetrain and lidar tasks run independently and
// publish into the shared state / scan queue this loop reads from, so
// each hardware resource stays owned by exactly one task.
type Loop struct {
	SessionID uuid.UUID

	clock  ClockLike
	period time.Duration

	port          drivetrainPort
	scanQueue     *ScanQueue
	mountTf       mountTransform
	wheelSep      float64
	maxWheelSpeed float64
	deadband      float64

	keyframeDistance float64
	keyframeRotation float64
	pgMaxIters       int

	odom        *odometry.WheelGyroOdometry
	estimator   *poseestimator.Estimator
	graph       *posegraph.LidarPoseGraph
	lastKeyframe geometry.Transform2d
	hasKeyframe  bool

	mu      sync.Mutex
	command DriveCommand

	publisher  Publisher
	lidarHealth func() bool
}

// ClockLike is the subset of timeutil.Clock the loop needs.
type ClockLike interface {
	Now() time.Time
	Sleep(time.Duration)
}

// drivetrainPort is the subset of *drivetrain.Port the loop reads and
// writes each tick. Expressed as an interface so tests can substitute a
// fake instead of opening a real serial connection. The commanded twist
// is staged into shared state; the drivetrain task owns the serial write.
type drivetrainPort interface {
	Heading() float64
	Wheels() odometry.WheelPositions
	Health() drivetrain.HealthStatus
	SetCommandedTwist(dx, dtheta, wheelSeparation, maxWheelSpeed, deadband float64)
}

// mountTransform is the robot->lidar mount offset, stored locally so
// PushLidarScan can project raw lidarproto scans without every caller
// threading the mount transform through itself.
type mountTransform = lidarproto.MountTransform

// NewLoop builds an orchestrator wired to the given drivetrain port and
// tuning configuration, starting with a fresh odometry/estimator/pose
// graph and a TeleopVelocity(0,0,0) command.
func NewLoop(clock ClockLike, port drivetrainPort, cfg *config.TuningConfig) *Loop {
	mx, my, mtheta := cfg.GetLidarMount()
	icpParams := icp.Params{
		MaxIterations: cfg.GetICPMaxIterations(),
		Epsilon:       cfg.GetICPEpsilon(),
		Convergence:   cfg.GetICPConvergence(),
	}
	return &Loop{
		SessionID:        uuid.New(),
		clock:            clock,
		period:           cfg.GetControlPeriod(),
		port:             port,
		scanQueue:        NewScanQueue(4),
		mountTf:          mountTransform{X: mx, Y: my, Theta: mtheta},
		wheelSep:         cfg.GetWheelSeparationMeters(),
		maxWheelSpeed:    cfg.GetMaxWheelSpeed(),
		deadband:         cfg.GetVelocityDeadband(),
		keyframeDistance: cfg.GetKeyframeDistance(),
		keyframeRotation: cfg.GetKeyframeRotation(),
		pgMaxIters:       cfg.GetPoseGraphMaxIterations(),
		odom:             odometry.NewWheelGyroOdometry(cfg.GetWheelSeparationMeters()),
		estimator:        poseestimator.NewEstimator(cfg.GetBufferRetention().Seconds()),
		graph:            posegraph.NewLidarPoseGraph(icpParams),
		command:          NewTeleopVelocity(geometry.Twist2d{}),
		publisher:        noopPublisher{},
		lidarHealth:      func() bool { return true },
	}
}

// SetPublisher wires a telemetry publisher; must be called before Run.
func (l *Loop) SetPublisher(p Publisher) {
	l.publisher = p
}

// SetLidarHealthSource wires a callback reporting whether the lidar task
// is currently Healthy, so the loop's per-tick "lidarStatus" telemetry
// reflects the owning task's HealthStatus instead of the hardcoded
// "always up" default used before a lidar task is wired.
func (l *Loop) SetLidarHealthSource(f func() bool) {
	l.lidarHealth = f
}

func (l *Loop) lidarHealthy() bool {
	if l.lidarHealth == nil {
		return true
	}
	return l.lidarHealth()
}

// SetCommand replaces the active drive command, e.g. on receipt of a
// driveWithSpeeds or pathfindToPosition event from the telemetry channel.
// An arriving operator command always replaces the state outright.
func (l *Loop) SetCommand(cmd DriveCommand) {
	l.mu.Lock()
	l.command = cmd
	l.mu.Unlock()
}

// PushScan enqueues a completed scan's Cartesian points (already projected
// into the robot frame) for the next tick to consider as a keyframe
// candidate.
func (l *Loop) PushScan(points []icp.Point2) {
	l.scanQueue.Push(points)
}

// PushLidarScan projects a raw lidarproto scan through the configured
// mount transform and enqueues it, bridging the lidar task's output to
// the loop's scan queue.
func (l *Loop) PushLidarScan(scan lidarproto.Scan) {
	cartesian := scan.ToCartesian(l.mountTf)
	points := make([]icp.Point2, len(cartesian))
	for i, p := range cartesian {
		points[i] = icp.Point2{X: p.X, Y: p.Y}
	}
	l.scanQueue.Push(points)
}

// Pose returns the current fused world-frame pose estimate.
func (l *Loop) Pose() geometry.Transform2d {
	pose, err := l.estimator.SampleAt(l.nowSeconds())
	if err != nil {
		return l.odom.Pose()
	}
	return pose
}

// GraphSnapshot returns a defensive copy of the pose graph's current nodes
// and edges, safe to read from the telemetry task concurrently with the
// control loop's tick (which mutates the graph under l.mu in step 2).
func (l *Loop) GraphSnapshot() ([]posegraph.Node, []posegraph.Edge) {
	l.mu.Lock()
	defer l.mu.Unlock()
	nodes := append([]posegraph.Node(nil), l.graph.Graph.Nodes...)
	edges := append([]posegraph.Edge(nil), l.graph.Graph.Edges...)
	return nodes, edges
}

// NodeScan returns the Cartesian scan backing pose-graph node i, or nil
// for the origin anchor and out-of-range indices. Used by the persistence
// task to save each keyframe's scan alongside the node estimate.
func (l *Loop) NodeScan(i int) []icp.Point2 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.graph.NodeScan(i)
}

// OptimizeGraph runs the pose-graph Gauss-Newton optimizer over the
// current node estimates, up to the configured iteration cap. Exposed on
// the dashboard's admin surface; the tick itself never optimizes, so a
// slow solve cannot starve the control period.
func (l *Loop) OptimizeGraph() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.graph.Graph.Optimize(l.pgMaxIters)
}

// SessionUUID returns the loop's session identifier, used by the
// telemetry and persistence layers to tag this run's events.
func (l *Loop) SessionUUID() uuid.UUID {
	return l.SessionID
}

func (l *Loop) nowSeconds() float64 {
	return float64(l.clock.Now().UnixNano()) / 1e9
}

// Run executes the fixed-period loop until ctx is cancelled. Callers run
// this in its own goroutine under a sync.WaitGroup and cancel ctx to stop
// it, the same shutdown shape used by every other per-task goroutine.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		tickStart := l.clock.Now()
		l.tick()

		elapsed := l.clock.Now().Sub(tickStart)
		remaining := l.period - elapsed
		if remaining <= 0 {
			monitoring.Warnf("control loop overrun by %v", -remaining)
			continue
		}
		l.clock.Sleep(remaining)
	}
}

// tick runs exactly one iteration of the loop's five steps: integrate
// odometry, drain the scan queue and keyframe-gate, resolve the drive
// command, write the twist, and publish telemetry.
func (l *Loop) tick() {
	t := l.nowSeconds()

	// 1. Read drivetrain shared state, integrate odometry.
	heading := l.port.Heading()
	wheels := l.port.Wheels()
	l.odom.Update(heading, wheels)
	l.estimator.AddOdometryPose(t, l.odom.Pose())

	// 2. Non-blocking scan-queue drain; keyframe gating.
	nodeIdx := -1
	if scan, ok := l.scanQueue.TryDrainLatest(); ok {
		current := l.odom.Pose()
		if l.shouldKeyframe(current) {
			delta := l.lastKeyframe.Inverse().Compose(current)
			l.mu.Lock()
			nodeIdx = l.graph.AddScan(delta, scan)
			l.mu.Unlock()
			l.lastKeyframe = current
			l.hasKeyframe = true
		}
	}

	// 3. Resolve drive-command state machine, write commanded twist.
	pose := l.Pose()
	l.mu.Lock()
	cmd := l.command
	twist, pursuitPose := Resolve(&cmd, pose)
	l.command = cmd
	l.mu.Unlock()

	l.port.SetCommandedTwist(twist.Dx, twist.Dtheta, l.wheelSep, l.maxWheelSpeed, l.deadband)

	// 4. Publish telemetry.
	var path []geometry.Transform2d
	if cmd.Kind == FollowPath {
		path = cmd.Path.Waypoints
	}
	l.publisher.Publish(Telemetry{
		Odom:          pose,
		PointCloud:    l.graph.LatestScan(),
		PoseGraphNode: nodeIdx,
		Path:          path,
		PursuitPose:   pursuitPose,
		LidarStatus:   l.lidarHealthy(),
		ArduinoStatus: l.port.Health() == drivetrain.Healthy,
	})

	// 5. sleep handled by Run.
}

// shouldKeyframe reports whether current has moved far enough from the
// last keyframe pose to warrant a new pose-graph node.
func (l *Loop) shouldKeyframe(current geometry.Transform2d) bool {
	if !l.hasKeyframe {
		return true
	}
	delta := l.lastKeyframe.Inverse().Compose(current)
	distanceSq := delta.X*delta.X + delta.Y*delta.Y
	return distanceSq > l.keyframeDistance*l.keyframeDistance || absf(delta.Theta) > l.keyframeRotation
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
