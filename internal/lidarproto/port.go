package lidarproto

import (
	"context"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/fieldcortex/slamcore/internal/monitoring"
	"github.com/fieldcortex/slamcore/internal/slamerrors"
	"github.com/fieldcortex/slamcore/internal/timeutil"
)

// HealthStatus is the lidar task's health enumeration.
type HealthStatus int

const (
	Initializing HealthStatus = iota
	Healthy
	ProtocolErrorStatus
	UnknownError
)

func (h HealthStatus) String() string {
	switch h {
	case Initializing:
		return "Initializing"
	case Healthy:
		return "Healthy"
	case ProtocolErrorStatus:
		return "ProtocolError"
	case UnknownError:
		return "UnknownError"
	default:
		return "Unknown"
	}
}

// HandshakeTimeout bounds each attempt at reading the express-scan response
// descriptor. Each attempt gets its own timeout window; a timed-out attempt
// is retried rather than treated as fatal.
const HandshakeTimeout = 500 * time.Millisecond

// stopDrainWaitMin and stopDrainWaitMax bound how long Connect waits
// after sending STOP before draining the input buffer, giving any
// in-flight scan data time to land. A range rather than a fixed value,
// so repeated handshake attempts don't all land on the same cadence
// relative to the device's internal scan timing.
const (
	stopDrainWaitMin = 500 * time.Millisecond
	stopDrainWaitMax = 800 * time.Millisecond
)

// Port owns the lidar serial connection exclusively: one task reads and
// writes it for its whole lifetime. It performs the handshake on Connect
// and, once Run is started, decodes frames into complete scans published
// on a channel.
type Port struct {
	conn     serial.Port
	portName string

	mu     sync.Mutex
	health HealthStatus

	minScanPoints int
}

func serialMode() *serial.Mode {
	return &serial.Mode{
		BaudRate: 115200,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

// Open connects to the lidar at 115200 8N1. The caller must still call
// Connect to run the handshake before Run.
func Open(portName string) (*Port, error) {
	conn, err := serial.Open(portName, serialMode())
	if err != nil {
		return nil, slamerrors.NewIoError("lidar", err)
	}
	return &Port{conn: conn, portName: portName, health: Initializing, minScanPoints: 10}, nil
}

// Reopen closes and reopens the underlying serial connection after an I/O
// failure. The caller must run Connect again before Run; the port never
// changes owner.
func (p *Port) Reopen() error {
	p.conn.Close()
	conn, err := serial.Open(p.portName, serialMode())
	if err != nil {
		p.setHealth(UnknownError)
		return slamerrors.NewIoError("lidar", err)
	}
	p.conn = conn
	p.setHealth(Initializing)
	return nil
}

// SetMinScanPoints overrides the default usable-scan threshold (10 points).
func (p *Port) SetMinScanPoints(n int) { p.minScanPoints = n }

// Close releases the underlying serial connection.
func (p *Port) Close() error {
	return p.conn.Close()
}

// Health returns the current health status under lock.
func (p *Port) Health() HealthStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.health
}

func (p *Port) setHealth(h HealthStatus) {
	p.mu.Lock()
	p.health = h
	p.mu.Unlock()
}

// Connect runs the handshake: send STOP, wait, drain input, send the
// express-scan start command, then read the 7-byte response descriptor
// and verify it exactly. On mismatch it retries up to MaxHandshakeRetries
// times; beyond that the retry budget is effectively unbounded across
// restarts of the owning task, so the caller is expected to call Connect
// again (with backoff) on a returned ProtocolError.
func (p *Port) Connect(clock timeutil.Clock) error {
	if _, err := p.conn.Write(StopCommand); err != nil {
		p.setHealth(UnknownError)
		return slamerrors.NewIoError("lidar", err)
	}
	clock.Sleep(timeutil.JitterRange(stopDrainWaitMin, stopDrainWaitMax))
	if err := p.conn.ResetInputBuffer(); err != nil {
		p.setHealth(UnknownError)
		return slamerrors.NewIoError("lidar", err)
	}

	if _, err := p.conn.Write(ExpressScanStartCommand); err != nil {
		p.setHealth(UnknownError)
		return slamerrors.NewIoError("lidar", err)
	}

	for attempt := 0; attempt < MaxHandshakeRetries; attempt++ {
		resp := make([]byte, len(ExpressScanResponseDescriptor))
		if err := p.conn.SetReadTimeout(HandshakeTimeout); err != nil {
			p.setHealth(UnknownError)
			return slamerrors.NewIoError("lidar", err)
		}
		if _, err := io.ReadFull(p.conn, resp); err != nil {
			monitoring.Warnf("lidar: handshake read failed (attempt %d/%d): %v", attempt+1, MaxHandshakeRetries, err)
			continue
		}
		if VerifyExpressScanResponse(resp) {
			p.setHealth(Healthy)
			return nil
		}
		monitoring.Warnf("lidar: handshake response mismatch (attempt %d/%d)", attempt+1, MaxHandshakeRetries)
	}

	p.setHealth(ProtocolErrorStatus)
	return slamerrors.NewProtocolError("lidar", "express-scan response descriptor mismatch after retries")
}

// Run reads 132-byte frames until ctx is cancelled, decoding cabins into
// points and segmenting them into scans. Complete scans with at least
// minScanPoints points are sent to out; shorter scans are dropped
// silently. Sync mismatches resync by consuming one byte; checksum
// mismatches drop the frame; neither aborts the task, consistent with
// ProtocolError being a recoverable condition rather than a fatal one.
func (p *Port) Run(ctx context.Context, out chan<- Scan) error {
	seg := NewSegmenter()
	buf := make([]byte, FrameSize)

	var prev *Packet
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if _, err := io.ReadFull(p.conn, buf); err != nil {
			p.setHealth(UnknownError)
			return slamerrors.NewIoError("lidar", err)
		}

		pkt, err := DecodePacket(buf)
		for err != nil && IsSyncMismatch(err) {
			if resyncErr := p.resync(buf); resyncErr != nil {
				p.setHealth(UnknownError)
				return slamerrors.NewIoError("lidar", resyncErr)
			}
			pkt, err = DecodePacket(buf)
		}
		if err != nil {
			// checksum mismatch: drop the whole frame.
			monitoring.Warnf("lidar: %v", err)
			continue
		}
		p.setHealth(Healthy)

		if prev != nil {
			points := DecodeCabins(*prev, pkt)
			for _, scan := range seg.Add(points) {
				if len(scan.Points) < p.minScanPoints {
					continue
				}
				select {
				case out <- scan:
				default:
					// consumer busy; drop the scan rather than block the
					// read loop.
				}
			}
		}
		cp := pkt
		prev = &cp
	}
}

// resync shifts buf left by one byte and reads a single replacement byte
// at the tail, re-attempting frame alignment on the next DecodePacket
// call one byte later in the stream.
func (p *Port) resync(buf []byte) error {
	copy(buf, buf[1:])
	_, err := io.ReadFull(p.conn, buf[len(buf)-1:])
	return err
}
