package drivetrain

import (
	"context"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/fieldcortex/slamcore/internal/monitoring"
	"github.com/fieldcortex/slamcore/internal/odometry"
	"github.com/fieldcortex/slamcore/internal/slamerrors"
	"github.com/fieldcortex/slamcore/internal/timeutil"
)

// HealthStatus is the drivetrain task's health enumeration.
type HealthStatus int

const (
	Initializing HealthStatus = iota
	Healthy
	Disconnected
)

func (h HealthStatus) String() string {
	switch h {
	case Initializing:
		return "Initializing"
	case Healthy:
		return "Healthy"
	case Disconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// Port owns the MCU serial connection exclusively: one task reads
// telemetry frames and writes commands for the port's whole lifetime.
// Shared state (heading, wheels, health) is guarded by a mutex; writers
// hold it only long enough to move the value in/out.
type Port struct {
	conn     serial.Port
	portName string

	mu          sync.Mutex
	headingRad  float64
	wheels      odometry.WheelPositions
	health      HealthStatus
	wheelRadius float64
	cmd         commandedTwist
}

// commandedTwist is the staged drive command, written by the control loop
// and consumed by the Run task so the serial connection stays owned by
// exactly one goroutine.
type commandedTwist struct {
	dx, dtheta    float64
	wheelSep      float64
	maxWheelSpeed float64
	deadband      float64
}

func serialMode() *serial.Mode {
	return &serial.Mode{
		BaudRate: 115200,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

// Open connects to the MCU at 115200 8N1, clears both buffers, and
// returns a Port ready for Run.
func Open(portName string, wheelRadiusMeters float64) (*Port, error) {
	conn, err := serial.Open(portName, serialMode())
	if err != nil {
		return nil, slamerrors.NewIoError("drivetrain", err)
	}
	if err := conn.ResetInputBuffer(); err != nil {
		return nil, slamerrors.NewIoError("drivetrain", err)
	}
	if err := conn.ResetOutputBuffer(); err != nil {
		return nil, slamerrors.NewIoError("drivetrain", err)
	}
	return &Port{conn: conn, portName: portName, health: Initializing, wheelRadius: wheelRadiusMeters}, nil
}

// Close releases the underlying serial connection.
func (p *Port) Close() error {
	return p.conn.Close()
}

// Reopen closes and reopens the underlying serial connection after a read
// or write failure, clearing both buffers as Open does. The owning task
// calls this between Run attempts; the port never changes owner.
func (p *Port) Reopen() error {
	p.conn.Close()
	conn, err := serial.Open(p.portName, serialMode())
	if err != nil {
		p.setHealth(Disconnected)
		return slamerrors.NewIoError("drivetrain", err)
	}
	if err := conn.ResetInputBuffer(); err != nil {
		conn.Close()
		p.setHealth(Disconnected)
		return slamerrors.NewIoError("drivetrain", err)
	}
	if err := conn.ResetOutputBuffer(); err != nil {
		conn.Close()
		p.setHealth(Disconnected)
		return slamerrors.NewIoError("drivetrain", err)
	}
	p.conn = conn
	p.setHealth(Initializing)
	return nil
}

// ReAlign disables streaming, sleeps 250ms, clears the input buffer, then
// re-enables streaming — the sequence that re-synchronizes telemetry
// frame boundaries after a reconnect.
func (p *Port) ReAlign(clock timeutil.Clock) error {
	if _, err := p.conn.Write(EncodeDisableOdometry()); err != nil {
		return slamerrors.NewIoError("drivetrain", err)
	}
	clock.Sleep(250 * time.Millisecond)
	if err := p.conn.ResetInputBuffer(); err != nil {
		return slamerrors.NewIoError("drivetrain", err)
	}
	if _, err := p.conn.Write(EncodeEnableOdometry()); err != nil {
		return slamerrors.NewIoError("drivetrain", err)
	}
	return nil
}

// Heading returns the current fused heading (radians) under lock.
func (p *Port) Heading() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.headingRad
}

// Wheels returns the current wheel positions (meters) under lock.
func (p *Port) Wheels() odometry.WheelPositions {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.wheels
}

// Health returns the current health status under lock.
func (p *Port) Health() HealthStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.health
}

// SetCommandedTwist stages a body-frame twist for the Run task to convert
// and write on its next cycle. The lock is held only to move the value in.
func (p *Port) SetCommandedTwist(dx, dtheta, wheelSeparation, maxWheelSpeed, deadband float64) {
	p.mu.Lock()
	p.cmd = commandedTwist{
		dx:            dx,
		dtheta:        dtheta,
		wheelSep:      wheelSeparation,
		maxWheelSpeed: maxWheelSpeed,
		deadband:      deadband,
	}
	p.mu.Unlock()
}

// writeCommandedTwist converts the staged twist into desaturated,
// deadbanded wheel speeds and writes the command frame to the MCU. Called
// only from Run.
func (p *Port) writeCommandedTwist() error {
	p.mu.Lock()
	cmd := p.cmd
	p.mu.Unlock()

	speeds := Kinematics(cmd.dx, cmd.dtheta, cmd.wheelSep).Desaturate(cmd.maxWheelSpeed).Deadband(cmd.deadband)
	left := MetersPerSecondToClicksPerSecond(speeds.Left, p.wheelRadius)
	right := MetersPerSecondToClicksPerSecond(speeds.Right, p.wheelRadius)
	if _, err := p.conn.Write(EncodeSetSpeeds(left, right)); err != nil {
		p.setHealth(Disconnected)
		return slamerrors.NewIoError("drivetrain", err)
	}
	return nil
}

func (p *Port) setHealth(h HealthStatus) {
	p.mu.Lock()
	p.health = h
	p.mu.Unlock()
}

// Run reads telemetry frames until ctx is cancelled, updating the shared
// heading/wheels/health state for each decoded frame. Reconnect-on-failure
// never aborts the process: read errors raise Disconnected and the loop
// returns so the caller can reopen the port.
func (p *Port) Run(ctx context.Context) error {
	if _, err := p.conn.Write(EncodeEnableOdometry()); err != nil {
		p.setHealth(Disconnected)
		return slamerrors.NewIoError("drivetrain", err)
	}
	p.setHealth(Healthy)

	buf := make([]byte, TelemetryFrameSize)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if _, err := io.ReadFull(p.conn, buf); err != nil {
			p.setHealth(Disconnected)
			return slamerrors.NewIoError("drivetrain", err)
		}

		tel, err := DecodeTelemetry(buf)
		if err != nil {
			monitoring.Errorf("drivetrain: %v", err)
			continue
		}

		left, right := tel.WheelPositionsMeters(p.wheelRadius)
		p.mu.Lock()
		p.wheels = odometry.WheelPositions{Left: left, Right: right}
		p.headingRad = tel.HeadingRadians()
		p.health = Healthy
		p.mu.Unlock()

		if err := p.writeCommandedTwist(); err != nil {
			return err
		}
	}
}
