// Package reconcile applies resolved canonical state to a destination store in
// dry-run, incremental or full-resync mode.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/Ramsey-B/clover/internal/tracing"
	"github.com/Ramsey-B/clover/pkg/changes"
	"github.com/Ramsey-B/clover/pkg/ingest"
	"github.com/Ramsey-B/clover/pkg/matching"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/resolver"
)

const maxBackoff = time.Minute

// Option customises an Executor.
type Option func(*Executor)

// WithPublisher announces every committed batch.
func WithPublisher(p Publisher) Option {
	return func(e *Executor) { e.publisher = p }
}

// WithProjector mirrors every committed batch into a secondary view.
func WithProjector(p Projector) Option {
	return func(e *Executor) { e.projector = p }
}

// WithClock replaces the clock used for run, history and checkpoint timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// WithSleep replaces the wait between retry attempts.
func WithSleep(sleep func(time.Duration)) Option {
	return func(e *Executor) { e.sleep = sleep }
}

// Executor reconciles one source into one destination under a fixed Config.
type Executor struct {
	cfg         Config
	logger      ectologger.Logger
	source      Source
	destination Destination
	checkpoints CheckpointStore
	publisher   Publisher
	projector   Projector
	resolver    *resolver.Resolver
	detector    *changes.Detector
	engine      *matching.Engine
	now         func() time.Time
	sleep       func(time.Duration)
}

func NewExecutor(cfg Config, logger ectologger.Logger, source Source, destination Destination, checkpoints CheckpointStore, opts ...Option) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if source == nil || destination == nil || checkpoints == nil {
		return nil, Classify(models.CategoryFatalConfiguration, errors.New("source, destination and checkpoint store are required"))
	}

	e := &Executor{
		cfg:         cfg,
		logger:      logger,
		source:      source,
		destination: destination,
		checkpoints: checkpoints,
		resolver:    resolver.New(cfg.Resolver),
		detector:    changes.NewDetector(cfg.Changes),
		now:         func() time.Time { return time.Now().UTC() },
		sleep:       time.Sleep,
	}
	if cfg.AnalyzeDuplicates || cfg.SkipDuplicateCandidates {
		engine, err := matching.NewEngine(cfg.Matching, logger)
		if err != nil {
			return nil, Classify(models.CategoryFatalConfiguration, err)
		}
		e.engine = engine
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// run is the state of one Run call. Nothing in it outlives the call.
type run struct {
	*Executor
	id            string
	report        *Report
	log           ectologger.Logger
	relationships []models.Relationship
	members       map[string]int
	seen          map[string]struct{}
	limiter       *rate.Limiter
}

// Run reconciles the whole source once. The report is returned even when the
// run halts, is cancelled or fails; only a completed run returns a nil error.
func (e *Executor) Run(ctx context.Context) (*Report, error) {
	ctx, span := tracing.StartSpan(ctx, "reconcile.Executor.Run")
	defer span.End()

	runID := uuid.New().String()
	started := e.now()
	r := &run{
		Executor: e,
		id:       runID,
		report:   newReport(runID, e.cfg, started),
		log: e.logger.WithContext(ctx).WithFields(map[string]any{
			"run_id":      runID,
			"mode":        string(e.cfg.Mode),
			"destination": e.cfg.Destination,
		}),
		members: map[string]int{},
		seen:    map[string]struct{}{},
	}
	if e.cfg.BatchPause > 0 {
		r.limiter = rate.NewLimiter(rate.Every(e.cfg.BatchPause), 1)
	}

	r.log.Info("Starting reconciliation run")
	err := r.execute(ctx)

	outcome := outcomeOf(err)
	r.report.finish(outcome, e.now())
	metrics.RunsTotal.WithLabelValues(e.cfg.Destination, string(e.cfg.Mode), string(outcome)).Inc()
	metrics.RunDuration.WithLabelValues(e.cfg.Destination, string(e.cfg.Mode)).Observe(r.report.Duration.Seconds())
	for category, n := range r.report.Errors {
		if n > 0 {
			metrics.ErrorsTotal.WithLabelValues(e.cfg.Destination, string(category)).Add(float64(n))
		}
	}

	log := r.log.WithFields(map[string]any{
		"outcome":        string(outcome),
		"considered":     r.report.Considered,
		"eligible":       r.report.Eligible,
		"applied":        r.report.Applied,
		"already_synced": r.report.AlreadySynced,
		"conflicting":    r.report.Conflicting,
		"failed":         r.report.Failed,
		"duration_ms":    r.report.Duration.Milliseconds(),
	})
	if err != nil {
		log.WithError(err).Error("Reconciliation run did not complete")
		return r.report, err
	}
	log.Info("Completed reconciliation run")
	return r.report, nil
}

func outcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeCompleted
	case errors.Is(err, ErrCancelled):
		return OutcomeCancelled
	case errors.Is(err, ErrHalted):
		return OutcomeHalted
	default:
		return OutcomeFailed
	}
}

func (r *run) execute(ctx context.Context) error {
	var stats ingest.Stats
	err := r.retry(ctx, "source_stats", func(ctx context.Context) error {
		var err error
		stats, err = r.source.Stats(ctx)
		return err
	})
	if err != nil {
		return r.halt("", nil, err)
	}
	r.report.addIngestStats(stats)

	err = r.retry(ctx, "source_relationships", func(ctx context.Context) error {
		var err error
		r.relationships, err = r.source.Relationships(ctx)
		return err
	})
	if err != nil {
		return r.halt("", nil, err)
	}

	if r.engine != nil {
		if err := r.analyze(ctx); err != nil {
			return err
		}
	}

	err = r.eachPage(ctx, func(ctx context.Context, cursor string, page *Page) error {
		return r.processPage(ctx, cursor, page)
	})
	if err != nil {
		return err
	}

	r.findDisappeared(ctx)
	return nil
}

// eachPage walks the source by cursor, checking for cancellation before every fetch.
func (r *run) eachPage(ctx context.Context, fn func(ctx context.Context, cursor string, page *Page) error) error {
	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrCancelled, err)
		}

		var page *Page
		err := r.retry(ctx, "fetch_page", func(ctx context.Context) error {
			var err error
			page, err = r.source.FetchPage(ctx, cursor, r.cfg.PageSize)
			return err
		})
		if err != nil {
			return r.halt(cursor, nil, err)
		}

		if err := fn(ctx, cursor, page); err != nil {
			return err
		}
		if page.Done || page.Next == cursor {
			return nil
		}
		cursor = page.Next
	}
}

// analyze runs duplicate and capacity detection over every resolved entity
// before anything is written, so duplicate members can be held back.
func (r *run) analyze(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "reconcile.Executor.analyze")
	defer span.End()

	var nodes []matching.Node
	err := r.eachPage(ctx, func(_ context.Context, _ string, page *Page) error {
		for _, entity := range page.Entities {
			res, err := r.resolver.Resolve(entity)
			if err != nil {
				continue
			}
			state := r.stateFrom(entity, res.Winner)
			nodes = append(nodes, matching.Node{Key: entity.Key, EntityType: entity.EntityType, Attributes: state.Attributes})
		}
		return nil
	})
	if err != nil {
		return err
	}

	analysis := r.engine.Analyze(ctx, nodes, r.relationships)
	r.members = analysis.Members()
	if analysis.Groups != nil {
		r.report.DuplicateGroups = analysis.Groups
	}
	if analysis.Violations != nil {
		r.report.CapacityViolations = analysis.Violations
	}

	metrics.DuplicateGroups.Reset()
	for _, g := range analysis.Groups {
		metrics.DuplicateGroups.WithLabelValues(g.EntityType).Inc()
	}
	metrics.CapacityViolations.Set(float64(len(analysis.Violations)))
	return nil
}

func (r *run) processPage(ctx context.Context, cursor string, page *Page) error {
	ctx, span := tracing.StartSpan(ctx, "reconcile.Executor.processPage")
	defer span.End()

	r.report.Pages++
	if len(page.Entities) == 0 {
		return nil
	}

	keys := make([]string, len(page.Entities))
	for i, entity := range page.Entities {
		keys[i] = entity.Key
		r.seen[entity.Key] = struct{}{}
	}

	var current map[string]models.CanonicalState
	err := r.retry(ctx, "read_destination", func(ctx context.Context) error {
		var err error
		current, err = r.destination.Current(ctx, keys)
		return err
	})
	if err != nil {
		return r.halt(cursor, keys, err)
	}

	var checkpoints map[string]models.SyncCheckpoint
	err = r.retry(ctx, "read_checkpoints", func(ctx context.Context) error {
		var err error
		checkpoints, err = r.checkpoints.Checkpoints(ctx, r.cfg.Destination, keys)
		return err
	})
	if err != nil {
		return r.halt(cursor, keys, err)
	}

	plans := r.planPage(page.Entities, current, checkpoints)

	var eligible []*plan
	var repairs []models.SyncCheckpoint
	for _, p := range plans {
		r.report.Considered++
		for _, issue := range p.issues {
			r.report.addIssue(issue)
		}
		metrics.EntitiesTotal.WithLabelValues(r.cfg.Destination, string(p.decision)).Inc()
		if p.change != nil {
			r.report.countChange(p.change.Kind)
		}

		switch p.decision {
		case DecisionAlreadySynced:
			r.report.AlreadySynced++
			r.report.Skipped++
			if p.repair != nil {
				repairs = append(repairs, *p.repair)
			}
		case DecisionConflict:
			r.report.Conflicting++
			r.report.Skipped++
			r.report.ConflictKeys = append(r.report.ConflictKeys, p.key)
		case DecisionExcluded:
			r.report.Excluded++
			r.report.Skipped++
		case DecisionEligible:
			r.report.countEligible(p, r.cfg)
			eligible = append(eligible, p)
		}
	}

	if r.cfg.Mode == models.RunModeDryRun {
		return nil
	}

	if len(repairs) > 0 {
		err := r.retry(ctx, "repair_checkpoints", func(ctx context.Context) error {
			return r.checkpoints.Advance(ctx, repairs)
		})
		if err != nil {
			r.log.WithError(err).WithFields(map[string]any{"checkpoints": len(repairs)}).Warn("Failed to repair lagging checkpoints")
		} else {
			r.report.CheckpointsRepaired += len(repairs)
		}
	}

	for start := 0; start < len(eligible); start += r.cfg.BatchSize {
		end := min(start+r.cfg.BatchSize, len(eligible))
		if err := r.applyBatch(ctx, cursor, eligible[start:end]); err != nil {
			return err
		}
	}
	return nil
}

// planPage plans every entity of a page on the bounded worker pool. Output order
// follows input order regardless of scheduling.
func (r *run) planPage(entities []models.LogicalEntity, current map[string]models.CanonicalState, checkpoints map[string]models.SyncCheckpoint) []*plan {
	plans := make([]*plan, len(entities))
	now := r.now()

	var g errgroup.Group
	g.SetLimit(r.cfg.Workers)
	for i, entity := range entities {
		in := planInput{entity: entity}
		if prev, ok := current[entity.Key]; ok {
			in.previous = &prev
		}
		if cp, ok := checkpoints[entity.Key]; ok {
			in.checkpoint = &cp
		}
		_, in.duplicate = r.members[entity.Key]

		g.Go(func() error {
			plans[i] = r.planEntity(in, r.id, now)
			return nil
		})
	}
	_ = g.Wait()
	return plans
}

// applyBatch commits one batch and then advances its checkpoints. Cancellation
// is only observed before the batch starts.
func (r *run) applyBatch(ctx context.Context, cursor string, batch []*plan) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %w", ErrCancelled, err)
		}
	}

	ctx, span := tracing.StartSpan(ctx, "reconcile.Executor.applyBatch")
	defer span.End()

	writes := make([]Write, len(batch))
	keys := make([]string, len(batch))
	entries := 0
	for i, p := range batch {
		writes[i] = p.write()
		keys[i] = p.key
		entries += len(p.entries)
	}

	start := time.Now()
	err := r.retry(ctx, "apply_batch", func(ctx context.Context) error {
		return r.destination.Apply(ctx, writes)
	})
	metrics.BatchDuration.WithLabelValues(r.cfg.Destination).Observe(time.Since(start).Seconds())
	if err != nil {
		return r.halt(cursor, keys, err)
	}

	r.report.Applied += len(batch)
	r.report.AppliedKeys = append(r.report.AppliedKeys, keys...)
	metrics.HistoryEntriesTotal.WithLabelValues(r.cfg.Destination).Add(float64(entries))

	r.log.WithFields(map[string]any{
		"entities":    len(batch),
		"entries":     entries,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("Committed batch")

	now := r.now()
	checkpoints := make([]models.SyncCheckpoint, len(batch))
	for i, p := range batch {
		checkpoints[i] = p.checkpoint(r.cfg.Destination, r.id, now)
	}
	err = r.retry(ctx, "advance_checkpoints", func(ctx context.Context) error {
		return r.checkpoints.Advance(ctx, checkpoints)
	})
	if err != nil {
		// The next run finds the committed rows unchanged and repairs these.
		r.log.WithError(err).WithFields(map[string]any{"entities": len(batch)}).Warn("Failed to advance checkpoints after commit")
	}

	if r.publisher != nil {
		err := r.retry(ctx, "publish_applied", func(ctx context.Context) error {
			return r.publisher.PublishApplied(ctx, r.cfg.Destination, writes)
		})
		if err != nil {
			r.log.WithError(err).Warn("Failed to publish applied events")
		}
	}

	if r.projector != nil {
		states := make([]models.CanonicalState, len(writes))
		for i, w := range writes {
			states[i] = w.State
		}
		err := r.retry(ctx, "project_graph", func(ctx context.Context) error {
			return r.projector.Project(ctx, states, r.relationships)
		})
		if err != nil {
			r.log.WithError(err).Warn("Failed to project applied entities")
		}
	}
	return nil
}

func (r *run) findDisappeared(ctx context.Context) {
	var keys []string
	err := r.retry(ctx, "destination_keys", func(ctx context.Context) error {
		var err error
		keys, err = r.destination.Keys(ctx)
		return err
	})
	if err != nil {
		r.log.WithError(err).Warn("Skipped disappeared-key detection")
		return
	}
	if found := r.detector.Disappeared(keys, r.seen); found != nil {
		r.report.Disappeared = found
	}
}

// retry runs fn until it succeeds, fails permanently, or exhausts MaxRetries.
// Each attempt is detached from caller cancellation and bounded by BatchTimeout.
func (r *run) retry(ctx context.Context, operation string, fn func(context.Context) error) error {
	var err error
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			metrics.RetriesTotal.WithLabelValues(r.cfg.Destination, operation).Inc()
			r.sleep(backoff(r.cfg.BackoffBaseDelay, attempt))
		}

		err = r.attempt(ctx, fn)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		r.report.Errors[models.CategoryTransient]++
		r.log.WithError(err).WithFields(map[string]any{
			"operation": operation,
			"attempt":   attempt + 1,
		}).Warn("Store operation failed")
	}
	return err
}

func (r *run) attempt(ctx context.Context, fn func(context.Context) error) error {
	opCtx := context.WithoutCancel(ctx)
	if r.cfg.BatchTimeout > 0 {
		var cancel context.CancelFunc
		opCtx, cancel = context.WithTimeout(opCtx, r.cfg.BatchTimeout)
		defer cancel()
	}
	return fn(opCtx)
}

// backoff is base * 2^(attempt-1), capped at maxBackoff.
func backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 || attempt <= 0 {
		return 0
	}
	if attempt > 30 {
		return maxBackoff
	}
	d := base << (attempt - 1)
	if d <= 0 || d > maxBackoff {
		return maxBackoff
	}
	return d
}

// halt records the unresolved work and ends the run.
func (r *run) halt(cursor string, keys []string, err error) error {
	category := models.CategoryFatalConfiguration
	switch {
	case errors.Is(err, ErrRevisionMismatch):
		category = models.CategoryConflict
	case CategoryOf(err) != models.CategoryTransient:
		category = CategoryOf(err)
	}
	r.report.Errors[category]++
	r.report.Failed += len(keys)
	r.report.Unresolved = &UnresolvedPage{Cursor: cursor, Keys: keys, Error: err.Error()}
	return fmt.Errorf("%w: %w", ErrHalted, err)
}
