package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pagesmith/pagesync/internal/events"
	"github.com/pagesmith/pagesync/internal/models"
)

// RetryManager runs network-bound tasks with exponential backoff. Retries
// are explicit scheduled attempts carrying the task's retry count, so
// in-flight work is inspectable and cancellable rather than hidden behind
// timers.
type RetryManager struct {
	maxAttempts int
	baseDelay   time.Duration
	logger      *events.Logger

	mu      sync.Mutex
	pending map[string]*models.SyncTask
}

// NewRetryManager creates a retry manager.
func NewRetryManager(maxAttempts int, baseDelay time.Duration, logger *events.Logger) *RetryManager {
	return &RetryManager{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		logger:      logger.WithField("component", "retry_manager"),
		pending:     make(map[string]*models.SyncTask),
	}
}

// Run executes fn under the task's retry budget. RetryCount increments
// exactly once per failed attempt; the task fails when RetryCount reaches
// the budget, and the last error is surfaced rather than dropped. Errors
// that are not retryable fail the task immediately.
func (r *RetryManager) Run(ctx context.Context, task *models.SyncTask, fn func(context.Context) error) error {
	r.track(task)
	defer r.untrack(task)

	task.Status = models.TaskRunning

	for {
		err := fn(ctx)
		if err == nil {
			task.Status = models.TaskCompleted
			task.Progress = 1
			return nil
		}

		task.RetryCount++

		if !models.IsRetryable(err) || task.RetryCount >= r.maxAttempts {
			task.Status = models.TaskFailed
			r.logger.WithError(err).WithFields(map[string]interface{}{
				"task_id": task.ID,
				"retries": task.RetryCount,
			}).Error("Task failed")
			return fmt.Errorf("task %s failed after %d attempts: %w", task.ID, task.RetryCount, err)
		}

		delay := r.backoff(task.RetryCount)
		r.logger.WithFields(map[string]interface{}{
			"task_id": task.ID,
			"retry":   task.RetryCount,
			"delay":   delay,
		}).Debug("Rescheduling task")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			task.Status = models.TaskFailed
			return ctx.Err()
		}
	}
}

// Pending returns a snapshot of in-flight tasks.
func (r *RetryManager) Pending() []models.SyncTask {
	r.mu.Lock()
	defer r.mu.Unlock()

	tasks := make([]models.SyncTask, 0, len(r.pending))
	for _, task := range r.pending {
		tasks = append(tasks, *task)
	}
	return tasks
}

// backoff computes retryDelay * 2^retryCount, capped at one minute.
func (r *RetryManager) backoff(retryCount int) time.Duration {
	delay := r.baseDelay
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay > time.Minute {
			return time.Minute
		}
	}
	return delay
}

func (r *RetryManager) track(task *models.SyncTask) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[task.ID] = task
}

func (r *RetryManager) untrack(task *models.SyncTask) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, task.ID)
}
