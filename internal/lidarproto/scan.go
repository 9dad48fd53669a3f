package lidarproto

import "math"

// Point2 is a single Cartesian scan point in the robot frame (meters).
type Point2 struct {
	X, Y float64
}

// Scan is an ordered sequence of cabin points whose angle wraps
// monotonically; it is considered complete once a point arrives with an
// angle smaller than the previous one (the device has wrapped around).
type Scan struct {
	Points []CabinPoint
}

// Segmenter accumulates cabin points into scans, closing the current scan
// and starting a new one whenever the angle wraps backward. Only the most
// recently closed scan is retained; a long-running read loop never grows
// the segmenter's memory.
type Segmenter struct {
	current   Scan
	latest    Scan
	hasLatest bool
	lastAngle uint16
	hasLast   bool
}

// NewSegmenter returns an empty segmenter.
func NewSegmenter() *Segmenter {
	return &Segmenter{}
}

// Add appends pts in order, closing scans on angle wraparound. It returns
// the scans closed by this batch, in completion order, so callers publish
// each complete scan exactly once.
func (s *Segmenter) Add(pts []CabinPoint) []Scan {
	var closed []Scan
	for _, p := range pts {
		if s.hasLast && p.AngleQ6 < s.lastAngle {
			closed = append(closed, s.current)
			s.latest = s.current
			s.hasLatest = true
			s.current = Scan{}
		}
		s.current.Points = append(s.current.Points, p)
		s.lastAngle = p.AngleQ6
		s.hasLast = true
	}
	return closed
}

// GetLatestCompleteScan returns the most recently closed scan. Counting
// the in-progress scan being actively accumulated (s.current) as the
// "most recent" one (which may still be growing), the returned scan is
// the "second-most-recent" overall -- the newest one guaranteed to be
// finished.
func (s *Segmenter) GetLatestCompleteScan() (Scan, bool) {
	if !s.hasLatest {
		return Scan{}, false
	}
	return s.latest, true
}

// MountTransform describes the robot->lidar mount offset: a translation
// (meters) and a rotation (radians).
type MountTransform struct {
	X, Y, Theta float64
}

// ToCartesian projects a scan's cabin points into robot-frame Cartesian
// points through the given mount transform:
// x = d*cos(theta_mount - phi)/1000 + x_mount
// y = d*sin(theta_mount - phi)/1000 + y_mount
func (s Scan) ToCartesian(mount MountTransform) []Point2 {
	out := make([]Point2, 0, len(s.Points))
	for _, p := range s.Points {
		phi := float64(p.AngleQ6) / 64 * math.Pi / 180
		d := float64(p.DistMM)
		angle := mount.Theta - phi
		out = append(out, Point2{
			X: d*math.Cos(angle)/1000 + mount.X,
			Y: d*math.Sin(angle)/1000 + mount.Y,
		})
	}
	return out
}
