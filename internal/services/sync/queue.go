package sync

import (
	"sync"

	"github.com/pagesmith/pagesync/internal/models"
)

// OfflineQueue buffers mutations made while disconnected. Operations drain
// in FIFO order on reconnect.
type OfflineQueue struct {
	mu      sync.Mutex
	ops     []models.OfflineOperation
	nextSeq int64
}

// NewOfflineQueue creates an empty queue.
func NewOfflineQueue() *OfflineQueue {
	return &OfflineQueue{}
}

// Enqueue appends one operation.
func (q *OfflineQueue) Enqueue(op models.OfflineOperation) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.nextSeq++
	op.Seq = q.nextSeq
	q.ops = append(q.ops, op)
}

// Drain removes and returns all queued operations in arrival order.
func (q *OfflineQueue) Drain() []models.OfflineOperation {
	q.mu.Lock()
	defer q.mu.Unlock()

	ops := q.ops
	q.ops = nil
	return ops
}

// Len returns the number of queued operations.
func (q *OfflineQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}
