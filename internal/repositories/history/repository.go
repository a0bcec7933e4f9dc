package history

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/clover/internal/database"
	"github.com/Ramsey-B/clover/internal/tracing"
	"github.com/Ramsey-B/clover/pkg/models"
)

const insertBatchSize = 500

var columns = []string{
	"id", "destination", "business_key", "revision", "previous_hash", "new_hash", "previous_status", "new_status",
	"attributes", "observation_id", "source_id", "run_id", "effective_at", "recorded_at",
}

type row struct {
	ID             string                         `db:"id"`
	Destination    string                         `db:"destination"`
	Key            string                         `db:"business_key"`
	Revision       int64                          `db:"revision"`
	PreviousHash   string                         `db:"previous_hash"`
	NewHash        string                         `db:"new_hash"`
	PreviousStatus string                         `db:"previous_status"`
	NewStatus      string                         `db:"new_status"`
	Attributes     database.JSONB[map[string]any] `db:"attributes"`
	ObservationID  string                         `db:"observation_id"`
	SourceID       string                         `db:"source_id"`
	RunID          string                         `db:"run_id"`
	EffectiveAt    time.Time                      `db:"effective_at"`
	RecordedAt     time.Time                      `db:"recorded_at"`
}

func (r row) model() models.HistoryEntry {
	return models.HistoryEntry{
		ID:             r.ID,
		Key:            r.Key,
		Revision:       r.Revision,
		PreviousHash:   r.PreviousHash,
		NewHash:        r.NewHash,
		PreviousStatus: r.PreviousStatus,
		NewStatus:      r.NewStatus,
		Attributes:     r.Attributes.Data,
		ObservationID:  r.ObservationID,
		SourceID:       r.SourceID,
		RunID:          r.RunID,
		EffectiveAt:    r.EffectiveAt.UTC(),
		RecordedAt:     r.RecordedAt.UTC(),
	}
}

// Repository appends and reads entity history. Rows are never updated.
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

// Append inserts entries, joining the transaction carried by ctx if there is one.
// A duplicate (key, revision) fails the insert.
func (r *Repository) Append(ctx context.Context, destination string, entries []models.HistoryEntry) error {
	ctx, span := tracing.StartSpan(ctx, "history.Repository.Append")
	defer span.End()

	q := database.FromContext(ctx, r.db)
	for i := 0; i < len(entries); i += insertBatchSize {
		end := min(i+insertBatchSize, len(entries))

		sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
		sb.InsertInto("entity_history")
		sb.Cols(columns...)
		for _, e := range entries[i:end] {
			sb.Values(e.ID, destination, e.Key, e.Revision, e.PreviousHash, e.NewHash, e.PreviousStatus, e.NewStatus,
				database.NewJSONB(e.Attributes), e.ObservationID, e.SourceID, e.RunID, e.EffectiveAt, e.RecordedAt)
		}

		query, args := sb.Build()
		if _, err := q.ExecContext(ctx, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"destination": destination, "entries": end - i}).Error("Failed to append history")
			return httperror.NewHTTPError(http.StatusInternalServerError, "failed to append history")
		}
	}
	return nil
}

// ListByKey returns the full history of one key in revision order.
func (r *Repository) ListByKey(ctx context.Context, destination, key string) ([]models.HistoryEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "history.Repository.ListByKey")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("entity_history")
	sb.Where(
		sb.Equal("destination", destination),
		sb.Equal("business_key", key),
	)
	sb.OrderBy("revision").Asc()

	query, args := sb.Build()
	var rows []row
	if err := database.FromContext(ctx, r.db).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"destination": destination, "business_key": key}).Error("Failed to list history")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list history")
	}

	entries := make([]models.HistoryEntry, len(rows))
	for i, res := range rows {
		entries[i] = res.model()
	}
	return entries, nil
}
