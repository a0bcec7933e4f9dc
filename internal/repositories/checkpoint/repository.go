package checkpoint

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/clover/internal/database"
	"github.com/Ramsey-B/clover/internal/tracing"
	"github.com/Ramsey-B/clover/pkg/models"
)

// Repository persists SyncCheckpoints with compare-and-set on revision.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

func (r *Repository) GetByKeys(ctx context.Context, destination string, keys []string) (map[string]models.SyncCheckpoint, error) {
	ctx, span := tracing.StartSpan(ctx, "checkpoint.Repository.GetByKeys")
	defer span.End()

	out := make(map[string]models.SyncCheckpoint, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("destination", "business_key", "revision", "content_hash", "run_id", "updated_at")
	sb.From("sync_checkpoints")
	sb.Where(
		sb.Equal("destination", destination),
		sb.In("business_key", sqlbuilder.Flatten(keys)...),
	)

	query, args := sb.Build()
	var rows []models.SyncCheckpoint
	if err := database.FromContext(ctx, r.db).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"destination": destination, "keys": len(keys)}).Error("Failed to get checkpoints")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get checkpoints")
	}

	for _, cp := range rows {
		cp.UpdatedAt = cp.UpdatedAt.UTC()
		out[cp.Key] = cp
	}
	return out, nil
}

// Advance upserts checkpoints. A stored row with a newer revision is left untouched,
// so a slow writer can never move a checkpoint backwards.
func (r *Repository) Advance(ctx context.Context, checkpoints []models.SyncCheckpoint) error {
	ctx, span := tracing.StartSpan(ctx, "checkpoint.Repository.Advance")
	defer span.End()

	checkpoints = newestPerKey(checkpoints)
	if len(checkpoints) == 0 {
		return nil
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("sync_checkpoints")
	sb.Cols("destination", "business_key", "revision", "content_hash", "run_id", "updated_at")
	for _, cp := range checkpoints {
		sb.Values(cp.Destination, cp.Key, cp.Revision, cp.ContentHash, cp.RunID, cp.UpdatedAt)
	}

	query, args := sb.Build()
	query += ` ON CONFLICT (destination, business_key)
	DO UPDATE SET
		revision = EXCLUDED.revision,
		content_hash = EXCLUDED.content_hash,
		run_id = EXCLUDED.run_id,
		updated_at = EXCLUDED.updated_at
	WHERE sync_checkpoints.revision <= EXCLUDED.revision`

	result, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"checkpoints": len(checkpoints)}).Error("Failed to advance checkpoints")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to advance checkpoints")
	}

	rows, _ := result.RowsAffected()
	r.logger.WithContext(ctx).WithFields(map[string]any{
		"checkpoints": len(checkpoints),
		"advanced":    rows,
	}).Debug("Advanced checkpoints")
	return nil
}

// newestPerKey keeps one checkpoint per destination and key; Postgres rejects an
// upsert that touches the same row twice.
func newestPerKey(checkpoints []models.SyncCheckpoint) []models.SyncCheckpoint {
	type id struct{ destination, key string }
	index := make(map[id]int, len(checkpoints))
	out := make([]models.SyncCheckpoint, 0, len(checkpoints))
	for _, cp := range checkpoints {
		k := id{cp.Destination, cp.Key}
		if i, ok := index[k]; ok {
			if cp.Revision >= out[i].Revision {
				out[i] = cp
			}
			continue
		}
		index[k] = len(out)
		out = append(out, cp)
	}
	return out
}
