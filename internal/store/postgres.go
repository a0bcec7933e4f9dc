// Package store adapts the Postgres repositories to the reconciliation executor.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/internal/database"
	"github.com/Ramsey-B/clover/internal/repositories/canonicalstate"
	"github.com/Ramsey-B/clover/internal/repositories/checkpoint"
	"github.com/Ramsey-B/clover/internal/repositories/history"
	"github.com/Ramsey-B/clover/internal/repositories/observation"
	"github.com/Ramsey-B/clover/internal/repositories/relationship"
	"github.com/Ramsey-B/clover/internal/tracing"
	"github.com/Ramsey-B/clover/pkg/ingest"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/reconcile"
)

var (
	_ reconcile.Source          = (*Source)(nil)
	_ reconcile.Destination     = (*Destination)(nil)
	_ reconcile.CheckpointStore = (*Checkpoints)(nil)
)

// Source pages the staged observations by business key.
type Source struct {
	observations  *observation.Repository
	relationships *relationship.Repository
}

func NewSource(observations *observation.Repository, relationships *relationship.Repository) *Source {
	return &Source{observations: observations, relationships: relationships}
}

func (s *Source) FetchPage(ctx context.Context, cursor string, limit int) (*reconcile.Page, error) {
	ctx, span := tracing.StartSpan(ctx, "store.Source.FetchPage")
	defer span.End()

	keys, err := s.observations.KeysAfter(ctx, cursor, limit)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return &reconcile.Page{Next: cursor, Done: true}, nil
	}

	obs, err := s.observations.ListByKeys(ctx, keys)
	if err != nil {
		return nil, err
	}
	byKey := make(map[string][]models.RawObservation, len(keys))
	for _, o := range obs {
		byKey[o.BusinessKey] = append(byKey[o.BusinessKey], o)
	}

	page := &reconcile.Page{
		Entities: make([]models.LogicalEntity, 0, len(keys)),
		Next:     keys[len(keys)-1],
		Done:     len(keys) < limit,
	}
	for _, k := range keys {
		page.Entities = append(page.Entities, ingest.Group(k, byKey[k]))
	}
	return page, nil
}

func (s *Source) Relationships(ctx context.Context) ([]models.Relationship, error) {
	return s.relationships.List(ctx)
}

func (s *Source) Stats(ctx context.Context) (ingest.Stats, error) {
	return s.observations.Stats(ctx)
}

// Destination writes canonical state and history for one named destination.
type Destination struct {
	name    string
	db      database.DB
	states  *canonicalstate.Repository
	history *history.Repository
	logger  ectologger.Logger
}

func NewDestination(name string, db database.DB, states *canonicalstate.Repository, history *history.Repository, logger ectologger.Logger) *Destination {
	return &Destination{name: name, db: db, states: states, history: history, logger: logger}
}

func (d *Destination) Current(ctx context.Context, keys []string) (map[string]models.CanonicalState, error) {
	return d.states.GetByKeys(ctx, d.name, keys)
}

func (d *Destination) Keys(ctx context.Context) ([]string, error) {
	return d.states.Keys(ctx, d.name)
}

// Apply writes the batch in one transaction: every canonical document with its
// history, or nothing.
func (d *Destination) Apply(ctx context.Context, writes []reconcile.Write) error {
	ctx, span := tracing.StartSpan(ctx, "store.Destination.Apply")
	defer span.End()

	ctx, tx, err := d.db.GetTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var entries []models.HistoryEntry
	for _, w := range writes {
		if err := d.states.Save(ctx, d.name, w.State, w.ExpectedRevision); err != nil {
			if errors.Is(err, canonicalstate.ErrStaleRevision) {
				return fmt.Errorf("%w: %w", reconcile.ErrRevisionMismatch, err)
			}
			return err
		}
		entries = append(entries, w.Entries...)
	}

	if err := d.history.Append(ctx, d.name, entries); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	d.logger.WithContext(ctx).WithFields(map[string]any{
		"destination": d.name,
		"entities":    len(writes),
		"entries":     len(entries),
	}).Debug("Applied batch")
	return nil
}

// History serves the journal's reads.
func (d *Destination) History(ctx context.Context, key string) ([]models.HistoryEntry, error) {
	return d.history.ListByKey(ctx, d.name, key)
}

// Checkpoints adapts the checkpoint repository.
type Checkpoints struct {
	repo *checkpoint.Repository
}

func NewCheckpoints(repo *checkpoint.Repository) *Checkpoints {
	return &Checkpoints{repo: repo}
}

func (c *Checkpoints) Checkpoints(ctx context.Context, destination string, keys []string) (map[string]models.SyncCheckpoint, error) {
	return c.repo.GetByKeys(ctx, destination, keys)
}

func (c *Checkpoints) Advance(ctx context.Context, checkpoints []models.SyncCheckpoint) error {
	return c.repo.Advance(ctx, checkpoints)
}
