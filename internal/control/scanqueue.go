package control

import (
	"sync"

	"github.com/fieldcortex/slamcore/internal/icp"
)

// ScanQueue is a bounded, mutex-guarded single-producer/single-consumer
// queue of completed lidar scans. Push drops the oldest entry when full:
// a stale scan is acceptable loss, a blocked producer is not.
type ScanQueue struct {
	mu       sync.Mutex
	items    [][]icp.Point2
	capacity int
}

// NewScanQueue builds a ScanQueue holding at most capacity scans.
func NewScanQueue(capacity int) *ScanQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &ScanQueue{capacity: capacity}
}

// Push appends a scan, dropping the oldest if the queue is already full.
func (q *ScanQueue) Push(scan []icp.Point2) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.capacity {
		q.items = q.items[1:]
	}
	q.items = append(q.items, scan)
}

// TryDrainLatest removes and returns the most recently pushed scan,
// discarding any older queued scans, matching the "consumers may drop and
// only act on the freshest" ordering guarantee. Returns false if the
// queue was empty.
func (q *ScanQueue) TryDrainLatest() ([]icp.Point2, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	latest := q.items[len(q.items)-1]
	q.items = nil
	return latest, true
}
