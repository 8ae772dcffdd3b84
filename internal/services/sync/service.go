package sync

import (
	"context"

	"github.com/pagesmith/pagesync/internal/events"
	"github.com/pagesmith/pagesync/internal/models"
	"github.com/pagesmith/pagesync/internal/store"
	"github.com/pagesmith/pagesync/internal/transport"
)

// Service provides high-level sync operations.
type Service struct {
	orchestrator *Orchestrator
	logger       *events.Logger
}

// NewService creates a sync service.
func NewService(
	transport transport.Transport,
	store store.Store,
	bus *events.Bus,
	config *Config,
	logger *events.Logger,
) *Service {
	return &Service{
		orchestrator: NewOrchestrator(config, store, transport, bus, logger),
		logger:       logger.WithField("service", "sync"),
	}
}

// SyncOptions control one sync cycle.
type SyncOptions struct {
	// Full resyncs from the beginning of time instead of the last
	// checkpoint.
	Full bool
}

// Sync performs a full or incremental sync cycle.
func (s *Service) Sync(ctx context.Context, opts SyncOptions) (*CycleResult, error) {
	return s.orchestrator.Sync(ctx, opts.Full)
}

// RequestSync schedules a non-blocking cycle, coalescing concurrent
// requests.
func (s *Service) RequestSync(ctx context.Context) {
	s.orchestrator.RequestSync(ctx)
}

// Cancel aborts the running cycle, if any.
func (s *Service) Cancel() {
	s.orchestrator.Cancel()
}

// Status returns the user-visible engine status.
func (s *Service) Status() models.SyncStatus {
	return s.orchestrator.Status()
}

// Phase returns the current cycle phase.
func (s *Service) Phase() Phase {
	return s.orchestrator.Phase()
}

// LastError returns the most recent cycle failure.
func (s *Service) LastError() error {
	return s.orchestrator.LastError()
}

// SetOnline flips connectivity.
func (s *Service) SetOnline(ctx context.Context, online bool) {
	s.orchestrator.SetOnline(ctx, online)
}

// QueueMutation records a local mutation for the next cycle.
func (s *Service) QueueMutation(op models.OfflineOperation) {
	s.orchestrator.QueueMutation(op)
}

// QueueLen reports queued mutations awaiting the next cycle.
func (s *Service) QueueLen() int {
	return s.orchestrator.QueueLen()
}

// PendingConflicts lists conflicts awaiting user resolution.
func (s *Service) PendingConflicts() ([]*models.ConflictRecord, error) {
	return s.orchestrator.PendingConflicts()
}

// PendingTasks snapshots in-flight network tasks.
func (s *Service) PendingTasks() []models.SyncTask {
	return s.orchestrator.PendingTasks()
}

// ResolveManual settles a pending conflict with user-chosen data.
func (s *Service) ResolveManual(ctx context.Context, conflictID string, data []byte) error {
	return s.orchestrator.ResolveManual(ctx, conflictID, data)
}

// Watch consumes server change notices and syncs on each until the stream
// closes or ctx is cancelled.
func (s *Service) Watch(ctx context.Context) error {
	return s.orchestrator.Watch(ctx)
}
