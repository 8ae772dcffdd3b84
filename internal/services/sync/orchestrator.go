package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pagesmith/pagesync/internal/checksum"
	"github.com/pagesmith/pagesync/internal/events"
	"github.com/pagesmith/pagesync/internal/models"
	"github.com/pagesmith/pagesync/internal/store"
	"github.com/pagesmith/pagesync/internal/transport"
)

// Phase is the orchestrator's position in the cycle state machine.
type Phase string

const (
	PhaseIdle          Phase = "idle"
	PhasePreparing     Phase = "preparing"
	PhaseExchanging    Phase = "exchanging"
	PhaseResolving     Phase = "resolving"
	PhaseApplying      Phase = "applying"
	PhasePushing       Phase = "pushing"
	PhaseCheckpointing Phase = "checkpointing"
	PhaseValidating    Phase = "validating"
	PhaseError         Phase = "error"
)

// CycleResult summarizes one completed sync cycle.
type CycleResult struct {
	Checkpoint    *models.SyncCheckpoint
	Applied       int
	Skipped       int
	Failed        int
	Pushed        int
	PushConflicts int
	Conflicts     int
	ManualPending int
	IntegrityOK   bool
	Duration      time.Duration
}

// Orchestrator drives the sync cycle: drain the offline queue, exchange
// deltas with the server, resolve conflicts, apply, push, checkpoint,
// validate. At most one cycle runs at a time.
type Orchestrator struct {
	cfg       *Config
	store     store.Store
	transport transport.Transport
	bus       *events.Bus
	logger    *events.Logger

	generator   *Generator
	fetcher     *Fetcher
	detector    *Detector
	resolver    *Resolver
	applier     *Applier
	queue       *OfflineQueue
	retries     *RetryManager
	checkpoints *CheckpointManager
	integrity   *IntegrityValidator

	mu         sync.Mutex
	phase      Phase
	syncing    bool
	rerun      bool
	retryWait  bool
	online     bool
	fullResync bool
	lastErr    error
	cancel     context.CancelFunc
	taskSeq    int64
}

// NewOrchestrator wires the engine components together.
func NewOrchestrator(cfg *Config, st store.Store, tr transport.Transport, bus *events.Bus, logger *events.Logger) *Orchestrator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cs := checksum.NewService()
	log := logger.WithField("component", "sync_orchestrator")

	return &Orchestrator{
		cfg:       cfg,
		store:     st,
		transport: tr,
		bus:       bus,
		logger:    log,

		generator:   NewGenerator(st, cs, logger),
		fetcher:     NewFetcher(tr, cfg.BatchSize, logger),
		detector:    NewDetector(cfg.TimestampWindow, cfg.Strategy, logger),
		resolver:    NewResolver(st, cs, bus, logger),
		applier:     NewApplier(st, cs, cfg.MaxConcurrent, cfg.RetryAttempts, logger),
		queue:       NewOfflineQueue(),
		retries:     NewRetryManager(cfg.RetryAttempts, cfg.RetryDelay, logger),
		checkpoints: NewCheckpointManager(st, cs, logger),
		integrity:   NewIntegrityValidator(st, tr, cs, bus, logger),

		phase:  PhaseIdle,
		online: true,
	}
}

// Sync runs one full cycle. It returns models.ErrSyncInProgress when a
// cycle is already running and models.ErrOffline when the client is
// offline. full forces a resync from the beginning of time.
func (o *Orchestrator) Sync(ctx context.Context, full bool) (*CycleResult, error) {
	o.mu.Lock()
	if !o.online {
		o.mu.Unlock()
		return nil, models.ErrOffline
	}
	if o.syncing {
		o.mu.Unlock()
		return nil, models.ErrSyncInProgress
	}
	o.syncing = true
	o.lastErr = nil
	if o.fullResync {
		full = true
		o.fullResync = false
	}
	ctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.mu.Unlock()

	defer func() {
		cancel()
		o.mu.Lock()
		o.syncing = false
		o.cancel = nil
		o.mu.Unlock()
	}()

	result, err := o.cycle(ctx, full)
	if err != nil {
		o.mu.Lock()
		o.lastErr = err
		o.phase = PhaseError
		o.mu.Unlock()
		o.bus.Publish(events.Event{Type: events.SyncFailed, Err: err})
		return nil, err
	}

	o.setPhase(PhaseIdle)
	o.bus.Publish(events.Event{Type: events.SyncCompleted, Checkpoint: result.Checkpoint})
	return result, nil
}

// RequestSync schedules a cycle without blocking. Requests made while a
// cycle runs coalesce into a single follow-up cycle.
func (o *Orchestrator) RequestSync(ctx context.Context) {
	o.mu.Lock()
	if o.syncing || o.retryWait {
		o.rerun = true
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	go func() {
		delay := o.cfg.RetryDelay
		for {
			_, err := o.Sync(ctx, false)

			retry := false
			switch {
			case err == nil:
				delay = o.cfg.RetryDelay
			case errors.Is(err, models.ErrSyncInProgress),
				errors.Is(err, models.ErrOffline),
				errors.Is(err, models.ErrCycleCancelled):
				// Another cycle owns the retry, or there is nothing
				// to retry toward.
			case models.IsFatal(err):
				// Authentication and other unrecoverable failures
				// need user action, not rescheduling.
				o.logger.WithError(err).Error("Background sync failed, not retrying")
			default:
				o.logger.WithError(err).WithField("retry_in", delay.String()).
					Warn("Background sync failed, backing off")
				retry = true
			}

			o.mu.Lock()
			again := o.rerun && o.online
			o.rerun = false
			o.mu.Unlock()

			if ctx.Err() != nil {
				return
			}

			if retry {
				o.mu.Lock()
				o.retryWait = true
				o.mu.Unlock()

				select {
				case <-time.After(delay):
				case <-ctx.Done():
				}

				o.mu.Lock()
				o.retryWait = false
				o.mu.Unlock()

				if ctx.Err() != nil {
					return
				}
				if delay *= 2; delay > time.Minute {
					delay = time.Minute
				}
				continue
			}

			if !again {
				return
			}
		}
	}()
}

// Cancel aborts the running cycle, if any. A cancelled cycle commits no
// checkpoint; the next cycle resumes from the previous one.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		o.cancel()
	}
}

// SetOnline flips connectivity. Coming back online triggers a sync when
// mutations queued while disconnected.
func (o *Orchestrator) SetOnline(ctx context.Context, online bool) {
	o.mu.Lock()
	was := o.online
	o.online = online
	o.mu.Unlock()

	if online && !was && o.queue.Len() > 0 {
		o.logger.WithField("queued", o.queue.Len()).Info("Back online, draining offline queue")
		o.RequestSync(ctx)
	}
}

// QueueMutation records a local mutation for the next cycle. While offline
// the queue is the only write path; while online the mutation rides along
// with the next cycle's drain.
func (o *Orchestrator) QueueMutation(op models.OfflineOperation) {
	if op.QueuedAt.IsZero() {
		op.QueuedAt = time.Now()
	}
	o.queue.Enqueue(op)
}

// QueueLen returns the number of operations awaiting the next cycle.
func (o *Orchestrator) QueueLen() int {
	return o.queue.Len()
}

// ResolveManual settles a pending conflict with user-chosen data. The
// authoritative delta is applied immediately and pushed on the next cycle.
func (o *Orchestrator) ResolveManual(ctx context.Context, conflictID string, data []byte) error {
	resolved, err := o.resolver.ResolveManual(conflictID, data)
	if err != nil {
		return err
	}

	if _, err := o.applier.Apply(ctx, []models.DeltaData{*resolved}); err != nil {
		return fmt.Errorf("apply resolved conflict %s: %w", conflictID, err)
	}

	// Leave the item dirty so the next cycle pushes it.
	item, err := o.store.Get(resolved.EntityType, resolved.EntityID)
	if err != nil {
		return err
	}
	item.Status = models.ItemModified
	if err := o.store.Put(item); err != nil {
		return err
	}

	o.RequestSync(ctx)
	return nil
}

// PendingConflicts lists conflicts awaiting user resolution.
func (o *Orchestrator) PendingConflicts() ([]*models.ConflictRecord, error) {
	return o.store.ListConflicts(models.ConflictPending)
}

// PendingTasks snapshots in-flight network tasks.
func (o *Orchestrator) PendingTasks() []models.SyncTask {
	return o.retries.Pending()
}

// Status maps the orchestrator state to the user-visible status.
func (o *Orchestrator) Status() models.SyncStatus {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch {
	case !o.online:
		return models.StatusOffline
	case o.syncing:
		return models.StatusSyncing
	case o.lastErr != nil:
		return models.StatusError
	}

	if pending, err := o.store.ListConflicts(models.ConflictPending); err == nil && len(pending) > 0 {
		return models.StatusConflict
	}
	return models.StatusIdle
}

// Phase returns the current cycle phase.
func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// LastError returns the most recent cycle failure, cleared when the next
// cycle starts.
func (o *Orchestrator) LastError() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

// Watch consumes server change notices and schedules a cycle for each.
// It blocks until the stream closes or ctx is cancelled.
func (o *Orchestrator) Watch(ctx context.Context) error {
	notices, err := o.transport.WatchChanges(ctx)
	if err != nil {
		return fmt.Errorf("open change stream: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case notice, ok := <-notices:
			if !ok {
				return nil
			}
			o.logger.WithFields(map[string]interface{}{
				"since": notice.Since,
				"count": notice.Count,
			}).Debug("Change notice received")
			o.RequestSync(ctx)
		}
	}
}

// cycle runs the pipeline once.
func (o *Orchestrator) cycle(ctx context.Context, full bool) (*CycleResult, error) {
	started := time.Now()
	ctx = events.WithCycleID(events.WithLogger(ctx, o.logger),
		fmt.Sprintf("cycle-%d", started.UnixNano()))
	log := events.FromContext(ctx)

	o.setPhase(PhasePreparing)
	o.bus.Publish(events.Event{Type: events.SyncStarted, Timestamp: started})

	since := time.Time{}
	if !full {
		cp, err := o.checkpoints.Latest()
		if err != nil {
			return nil, fmt.Errorf("load checkpoint: %w", err)
		}
		if cp != nil {
			since = cp.Timestamp
		}
	}

	// Queued offline mutations become dirty items before generation so
	// they collapse naturally (a create followed by a delete of the same
	// entity produces no delta at all).
	if ops := o.queue.Drain(); len(ops) > 0 {
		log.WithField("operations", len(ops)).Info("Draining offline queue")
		if err := o.applier.ApplyLocal(ops); err != nil {
			return nil, fmt.Errorf("drain offline queue: %w", err)
		}
	}

	o.setPhase(PhaseExchanging)
	var (
		wg        sync.WaitGroup
		localRes  *GenerateResult
		remoteRes *FetchResult
		genErr    error
		fetchErr  error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		localRes, genErr = o.generator.Generate(since)
	}()
	go func() {
		defer wg.Done()
		remoteRes, fetchErr = o.fetcher.FetchAll(ctx, since)
	}()
	wg.Wait()

	if genErr != nil {
		return nil, genErr
	}
	if fetchErr != nil {
		return nil, o.wrapCancelled(ctx, fetchErr)
	}

	detection := o.detector.Detect(localRes.Deltas, remoteRes.Deltas, localRes.Repairs)

	o.setPhase(PhaseResolving)
	result := &CycleResult{Conflicts: len(detection.Conflicts)}
	var resolved []models.DeltaData
	for _, rec := range detection.Conflicts {
		delta, err := o.resolver.Resolve(rec)
		if errors.Is(err, models.ErrConflictPending) {
			result.ManualPending++
			continue
		}
		if err != nil {
			log.WithError(err).WithField("conflict_id", rec.ID).Error("Conflict resolution failed")
			result.Failed++
			continue
		}
		resolved = append(resolved, *delta)
	}

	o.setPhase(PhaseApplying)
	toApply := append(detection.ToApply, resolved...)
	models.SortDeltas(toApply)
	applyRes, err := o.applier.Apply(ctx, toApply)
	if err != nil {
		return nil, o.wrapCancelled(ctx, err)
	}
	result.Applied = applyRes.Applied
	result.Skipped = applyRes.Skipped
	result.Failed += applyRes.Failed

	o.setPhase(PhasePushing)
	toPush := append(detection.ToPush, resolved...)
	models.SortDeltas(toPush)
	pushed, pushConflicts, err := o.push(ctx, toPush)
	if err != nil {
		return nil, o.wrapCancelled(ctx, err)
	}
	result.Pushed = len(pushed)
	result.PushConflicts = pushConflicts

	if err := ctx.Err(); err != nil {
		return nil, o.wrapCancelled(ctx, err)
	}

	o.setPhase(PhaseCheckpointing)
	processed := make([]models.DeltaData, 0, len(applyRes.Processed)+len(pushed))
	lastSyncedID := ""
	for _, outcome := range applyRes.Processed {
		processed = append(processed, outcome.Delta)
		if outcome.Err == nil {
			lastSyncedID = outcome.Delta.EntityID
		}
	}
	processed = append(processed, pushed...)
	if len(pushed) > 0 {
		lastSyncedID = pushed[len(pushed)-1].EntityID
	}

	synced := applyRes.Applied + applyRes.Skipped + len(pushed)
	cp, err := o.checkpoints.Commit(processed, synced, lastSyncedID)
	if err != nil {
		return nil, err
	}
	result.Checkpoint = cp

	result.IntegrityOK = true
	if o.cfg.ValidateIntegrity {
		o.setPhase(PhaseValidating)
		ok, err := o.integrity.Validate(ctx, cp)
		if err != nil {
			log.WithError(err).Warn("Integrity validation unavailable")
		} else if !ok {
			// Non-fatal. The cycle's data stands; the next cycle
			// walks the full history to reconverge.
			result.IntegrityOK = false
			o.mu.Lock()
			o.fullResync = true
			o.mu.Unlock()
		}
	}

	result.Duration = time.Since(started)
	log.WithFields(map[string]interface{}{
		"applied":   result.Applied,
		"skipped":   result.Skipped,
		"pushed":    result.Pushed,
		"conflicts": result.Conflicts,
		"failed":    result.Failed,
		"duration":  result.Duration,
	}).Info("Sync cycle completed")

	return result, nil
}

// push uploads local deltas under the retry budget and marks the entities
// the server accepted. Server-reported push conflicts stay dirty locally;
// the next cycle fetches the competing remote deltas and resolves them.
func (o *Orchestrator) push(ctx context.Context, deltas []models.DeltaData) ([]models.DeltaData, int, error) {
	if len(deltas) == 0 {
		return nil, 0, nil
	}

	o.mu.Lock()
	o.taskSeq++
	task := &models.SyncTask{
		ID:        fmt.Sprintf("push-%d", o.taskSeq),
		Operation: models.OpUpdate,
		Direction: models.DirectionPush,
		Status:    models.TaskPending,
	}
	o.mu.Unlock()

	var pushRes *models.PushResult
	err := o.retries.Run(ctx, task, func(ctx context.Context) error {
		var pushErr error
		pushRes, pushErr = o.transport.PushChanges(ctx, deltas)
		return pushErr
	})
	if err != nil {
		return nil, 0, fmt.Errorf("push %d changes: %w", len(deltas), err)
	}

	accepted := make(map[string]bool, len(pushRes.Succeeded))
	for _, id := range pushRes.Succeeded {
		accepted[id] = true
	}

	var (
		pushed []models.DeltaData
		keys   []models.EntityKey
	)
	for _, delta := range deltas {
		if accepted[delta.EntityID] {
			pushed = append(pushed, delta)
			keys = append(keys, delta.Key())
		}
	}

	if err := o.applier.MarkSynced(keys); err != nil {
		return nil, 0, fmt.Errorf("mark pushed entities synced: %w", err)
	}

	if len(pushRes.Conflicts) > 0 {
		events.FromContext(ctx).WithField("conflicts", len(pushRes.Conflicts)).
			Warn("Server rejected changes, deferring to next cycle")
	}
	return pushed, len(pushRes.Conflicts), nil
}

func (o *Orchestrator) setPhase(phase Phase) {
	o.mu.Lock()
	o.phase = phase
	o.mu.Unlock()
}

// wrapCancelled maps a context cancellation into the cycle sentinel.
func (o *Orchestrator) wrapCancelled(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", models.ErrCycleCancelled, err)
	}
	return err
}
