package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/internal/database"
	"github.com/Ramsey-B/clover/internal/repositories/observation"
	"github.com/Ramsey-B/clover/internal/repositories/relationship"
	"github.com/Ramsey-B/clover/internal/tracing"
	"github.com/Ramsey-B/clover/pkg/ingest"
	"github.com/Ramsey-B/clover/pkg/models"
)

// Stager persists one ingested batch into the staging tables.
type Stager struct {
	db            database.DB
	observations  *observation.Repository
	relationships *relationship.Repository
	logger        ectologger.Logger
}

func NewStager(db database.DB, observations *observation.Repository, relationships *relationship.Repository, logger ectologger.Logger) *Stager {
	return &Stager{db: db, observations: observations, relationships: relationships, logger: logger}
}

// Stage writes the snapshot's accepted observations, its rejections and its
// relationships in one transaction.
func (s *Stager) Stage(ctx context.Context, batchID string, snapshotDate *time.Time, snap *ingest.Snapshot) error {
	ctx, span := tracing.StartSpan(ctx, "store.Stager.Stage")
	defer span.End()

	ctx, tx, err := s.db.GetTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var obs []models.RawObservation
	for _, k := range snap.Keys {
		obs = append(obs, snap.Entities[k].Observations...)
	}
	if err := s.observations.InsertBatch(ctx, batchID, snapshotDate, obs); err != nil {
		return err
	}
	if err := s.observations.InsertRejections(ctx, batchID, snap.Stats.Issues); err != nil {
		return err
	}
	if err := s.relationships.Upsert(ctx, snap.Relationships); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"batch_id":      batchID,
		"observations":  len(obs),
		"entities":      len(snap.Keys),
		"rejected":      snap.Stats.InvalidTotal(),
		"relationships": len(snap.Relationships),
	}).Info("Staged batch")
	return nil
}
