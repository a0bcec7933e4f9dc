package observation

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/clover/internal/database"
	"github.com/Ramsey-B/clover/internal/tracing"
	"github.com/Ramsey-B/clover/pkg/ingest"
	"github.com/Ramsey-B/clover/pkg/models"
)

const (
	insertBatchSize = 500
	maxIssueRows    = 1000
)

type row struct {
	ID          string                                           `db:"id"`
	BatchID     string                                           `db:"batch_id"`
	BusinessKey string                                           `db:"business_key"`
	EntityType  string                                           `db:"entity_type"`
	Status      string                                           `db:"status"`
	Attributes  database.JSONB[map[string]any]                   `db:"attributes"`
	Timestamps  database.JSONB[map[models.TimestampField]string] `db:"timestamps"`
	SourceID    string                                           `db:"source_id"`
}

func (r row) model() models.RawObservation {
	return models.RawObservation{
		ID:          r.ID,
		BusinessKey: r.BusinessKey,
		EntityType:  r.EntityType,
		Status:      r.Status,
		Attributes:  r.Attributes.Data,
		Timestamps:  r.Timestamps.Data,
		SourceID:    r.SourceID,
	}
}

type rejectionRow struct {
	Reason        string `db:"reason"`
	ObservationID string `db:"observation_id"`
	SourceID      string `db:"source_id"`
	RawKey        string `db:"raw_key"`
}

type reasonCount struct {
	Reason string `db:"reason"`
	Count  int    `db:"count"`
}

// Repository is the staging store of raw observations and rejected rows.
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

// DB exposes the underlying database handle for transactional operations.
func (r *Repository) DB() database.DB {
	return r.db
}

// InsertBatch stages observations whose keys are already normalized. Replaying a
// batch is a no-op.
func (r *Repository) InsertBatch(ctx context.Context, batchID string, snapshotDate *time.Time, observations []models.RawObservation) error {
	ctx, span := tracing.StartSpan(ctx, "observation.Repository.InsertBatch")
	defer span.End()

	q := database.FromContext(ctx, r.db)
	now := time.Now().UTC()
	for i := 0; i < len(observations); i += insertBatchSize {
		end := min(i+insertBatchSize, len(observations))

		sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
		sb.InsertInto("raw_observations")
		sb.Cols("id", "batch_id", "business_key", "entity_type", "status", "attributes", "timestamps", "source_id", "snapshot_date", "ingested_at")
		for _, o := range observations[i:end] {
			sb.Values(o.ID, batchID, o.BusinessKey, o.EntityType, o.Status,
				database.NewJSONB(nonNilAttributes(o.Attributes)), database.NewJSONB(nonNilTimestamps(o.Timestamps)),
				o.SourceID, snapshotDate, now)
		}

		query, args := sb.Build()
		query += " ON CONFLICT (source_id, id) DO NOTHING"
		if _, err := q.ExecContext(ctx, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"batch_id": batchID, "observations": end - i}).Error("Failed to stage observations")
			return httperror.NewHTTPError(http.StatusInternalServerError, "failed to stage observations")
		}
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"batch_id": batchID, "observations": len(observations)}).Debug("Staged observations")
	return nil
}

// InsertRejections records observations and relationships the ingestor refused.
func (r *Repository) InsertRejections(ctx context.Context, batchID string, issues []ingest.Issue) error {
	ctx, span := tracing.StartSpan(ctx, "observation.Repository.InsertRejections")
	defer span.End()

	if len(issues) == 0 {
		return nil
	}

	q := database.FromContext(ctx, r.db)
	for i := 0; i < len(issues); i += insertBatchSize {
		end := min(i+insertBatchSize, len(issues))

		sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
		sb.InsertInto("ingest_rejections")
		sb.Cols("batch_id", "reason", "observation_id", "source_id", "raw_key")
		for _, is := range issues[i:end] {
			sb.Values(batchID, string(is.Reason), is.ObservationID, is.SourceID, is.RawKey)
		}

		query, args := sb.Build()
		if _, err := q.ExecContext(ctx, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"batch_id": batchID}).Error("Failed to record rejections")
			return httperror.NewHTTPError(http.StatusInternalServerError, "failed to record rejections")
		}
	}
	return nil
}

// KeysAfter returns up to limit distinct business keys greater than cursor, in order.
func (r *Repository) KeysAfter(ctx context.Context, cursor string, limit int) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "observation.Repository.KeysAfter")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("business_key").Distinct()
	sb.From("raw_observations")
	sb.Where(sb.GreaterThan("business_key", cursor))
	sb.OrderBy("business_key")
	sb.Limit(limit)

	query, args := sb.Build()
	var keys []string
	if err := database.FromContext(ctx, r.db).SelectContext(ctx, &keys, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"cursor": cursor, "limit": limit}).Error("Failed to page business keys")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to page business keys")
	}
	return keys, nil
}

// ListByKeys returns every staged observation of keys.
func (r *Repository) ListByKeys(ctx context.Context, keys []string) ([]models.RawObservation, error) {
	ctx, span := tracing.StartSpan(ctx, "observation.Repository.ListByKeys")
	defer span.End()

	if len(keys) == 0 {
		return nil, nil
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "batch_id", "business_key", "entity_type", "status", "attributes", "timestamps", "source_id")
	sb.From("raw_observations")
	sb.Where(sb.In("business_key", sqlbuilder.Flatten(keys)...))
	sb.OrderBy("business_key", "source_id", "id")

	query, args := sb.Build()
	var rows []row
	if err := database.FromContext(ctx, r.db).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"keys": len(keys)}).Error("Failed to list observations")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list observations")
	}

	out := make([]models.RawObservation, len(rows))
	for i, res := range rows {
		out[i] = res.model()
	}
	return out, nil
}

// Stats summarises everything staged so far.
func (r *Repository) Stats(ctx context.Context) (ingest.Stats, error) {
	ctx, span := tracing.StartSpan(ctx, "observation.Repository.Stats")
	defer span.End()

	q := database.FromContext(ctx, r.db)
	stats := ingest.Stats{Invalid: map[ingest.InvalidReason]int{}}

	var totals struct {
		Batches  int `db:"batches"`
		Accepted int `db:"accepted"`
	}
	if err := q.GetContext(ctx, &totals, `SELECT COUNT(DISTINCT batch_id) AS batches, COUNT(*) AS accepted FROM raw_observations`); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count staged observations")
		return stats, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count staged observations")
	}
	stats.Batches = totals.Batches
	stats.Accepted = totals.Accepted

	var counts []reasonCount
	if err := q.SelectContext(ctx, &counts, `SELECT reason, COUNT(*) AS count FROM ingest_rejections GROUP BY reason`); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count rejections")
		return stats, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count rejections")
	}
	for _, c := range counts {
		stats.Invalid[ingest.InvalidReason(c.Reason)] = c.Count
		if ingest.InvalidReason(c.Reason) != ingest.ReasonInvalidRelationship {
			stats.Observations += c.Count
		}
	}
	stats.Observations += stats.Accepted

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("reason", "observation_id", "source_id", "raw_key")
	sb.From("ingest_rejections")
	sb.OrderBy("id")
	sb.Limit(maxIssueRows)
	query, args := sb.Build()

	var rejections []rejectionRow
	if err := q.SelectContext(ctx, &rejections, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list rejections")
		return stats, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list rejections")
	}
	for _, rej := range rejections {
		stats.Issues = append(stats.Issues, ingest.Issue{
			Reason:        ingest.InvalidReason(rej.Reason),
			ObservationID: rej.ObservationID,
			SourceID:      rej.SourceID,
			RawKey:        rej.RawKey,
		})
	}
	return stats, nil
}

func nonNilAttributes(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func nonNilTimestamps(m map[models.TimestampField]string) map[models.TimestampField]string {
	if m == nil {
		return map[models.TimestampField]string{}
	}
	return m
}
