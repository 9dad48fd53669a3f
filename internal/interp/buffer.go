// Package interp implements a time-keyed, retention-windowed buffer that
// supports linear interpolation between samples — the mechanism the pose
// estimator uses to look up "what was the odometry pose at time t" between
// the discrete frames it actually received.
package interp

import (
	"sort"

	"github.com/fieldcortex/slamcore/internal/slamerrors"
)

// Interpolatable is implemented by any value type usable inside a
// TimeInterpolatableBuffer. Lerp(b, frac) returns the value a fraction
// frac of the way from the receiver toward b.
type Interpolatable[T any] interface {
	Lerp(b T, frac float64) T
}

type sample[T any] struct {
	t float64
	v T
}

// TimeInterpolatableBuffer holds (t, v) samples ordered by strictly
// non-decreasing t, retaining only samples within retention seconds of the
// latest sample. Times are plain float64 (seconds); callers own the clock.
type TimeInterpolatableBuffer[T Interpolatable[T]] struct {
	samples   []sample[T]
	retention float64
}

// NewTimeInterpolatableBuffer builds an empty buffer with the given
// retention window in seconds.
func NewTimeInterpolatableBuffer[T Interpolatable[T]](retentionSeconds float64) *TimeInterpolatableBuffer[T] {
	return &TimeInterpolatableBuffer[T]{retention: retentionSeconds}
}

// Add inserts (t, v). Panics via slamerrors.Fatal if t is older than the
// latest sample already present — the buffer invariant is strictly
// non-decreasing arrival time, and a violation means the caller is
// misusing the clock.
func (b *TimeInterpolatableBuffer[T]) Add(t float64, v T) {
	if n := len(b.samples); n > 0 && t < b.samples[n-1].t {
		slamerrors.Fatal("time-interpolatable buffer sample arrived out of order")
	}
	b.samples = append(b.samples, sample[T]{t: t, v: v})
	b.evict(t)
}

func (b *TimeInterpolatableBuffer[T]) evict(latest float64) {
	cutoff := latest - b.retention
	i := 0
	for i < len(b.samples) && b.samples[i].t < cutoff {
		i++
	}
	if i > 0 {
		b.samples = b.samples[i:]
	}
}

// Get returns the value at time t: the first sample's value if t is at or
// before the first sample, the last sample's value if t is at or after
// the last, or a linear interpolation between the bracketing pair
// otherwise. Returns slamerrors.ErrBufferMiss if the buffer is empty.
func (b *TimeInterpolatableBuffer[T]) Get(t float64) (T, error) {
	var zero T
	n := len(b.samples)
	if n == 0 {
		return zero, slamerrors.ErrBufferMiss
	}
	if t <= b.samples[0].t {
		return b.samples[0].v, nil
	}
	if t >= b.samples[n-1].t {
		return b.samples[n-1].v, nil
	}

	// Find the first sample with time >= t; the bracketing pair is the one
	// before it and that one itself.
	hi := sort.Search(n, func(i int) bool { return b.samples[i].t >= t })
	lo := hi - 1
	tLo, tHi := b.samples[lo].t, b.samples[hi].t
	if tHi == tLo {
		return b.samples[lo].v, nil
	}
	frac := (t - tLo) / (tHi - tLo)
	return b.samples[lo].v.Lerp(b.samples[hi].v, frac), nil
}

// Empty reports whether the buffer currently holds no samples.
func (b *TimeInterpolatableBuffer[T]) Empty() bool {
	return len(b.samples) == 0
}

// Oldest returns the timestamp of the earliest retained sample.
func (b *TimeInterpolatableBuffer[T]) Oldest() (float64, bool) {
	if len(b.samples) == 0 {
		return 0, false
	}
	return b.samples[0].t, true
}

// Newest returns the timestamp of the most recent sample.
func (b *TimeInterpolatableBuffer[T]) Newest() (float64, bool) {
	n := len(b.samples)
	if n == 0 {
		return 0, false
	}
	return b.samples[n-1].t, true
}
