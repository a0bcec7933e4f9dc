package canonicalstate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/clover/internal/database"
	"github.com/Ramsey-B/clover/internal/tracing"
	"github.com/Ramsey-B/clover/pkg/models"
)

// ErrStaleRevision is returned when the stored revision is not the one the write expected.
var ErrStaleRevision = errors.New("canonical state revision changed")

var columns = []string{
	"destination", "business_key", "entity_type", "attributes", "content_hash", "status",
	"observation_id", "source_id", "revision", "last_synced_from", "effective_at", "updated_at",
}

type row struct {
	Destination    string                         `db:"destination"`
	Key            string                         `db:"business_key"`
	EntityType     string                         `db:"entity_type"`
	Attributes     database.JSONB[map[string]any] `db:"attributes"`
	ContentHash    string                         `db:"content_hash"`
	Status         string                         `db:"status"`
	ObservationID  string                         `db:"observation_id"`
	SourceID       string                         `db:"source_id"`
	Revision       int64                          `db:"revision"`
	LastSyncedFrom string                         `db:"last_synced_from"`
	EffectiveAt    time.Time                      `db:"effective_at"`
	UpdatedAt      time.Time                      `db:"updated_at"`
}

func (r row) model() models.CanonicalState {
	return models.CanonicalState{
		Key:            r.Key,
		EntityType:     r.EntityType,
		Attributes:     r.Attributes.Data,
		ContentHash:    r.ContentHash,
		Status:         r.Status,
		ObservationID:  r.ObservationID,
		SourceID:       r.SourceID,
		Revision:       r.Revision,
		LastSyncedFrom: r.LastSyncedFrom,
		EffectiveAt:    r.EffectiveAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
}

// Repository stores one canonical document per destination and business key.
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

// Get retrieves the canonical state of one key.
func (r *Repository) Get(ctx context.Context, destination, key string) (*models.CanonicalState, error) {
	ctx, span := tracing.StartSpan(ctx, "canonicalstate.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("canonical_states")
	sb.Where(
		sb.Equal("destination", destination),
		sb.Equal("business_key", key),
	)

	query, args := sb.Build()
	var res row
	if err := database.FromContext(ctx, r.db).GetContext(ctx, &res, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "entity %s not found", key)
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"destination": destination, "business_key": key}).Error("Failed to get canonical state")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get canonical state")
	}

	state := res.model()
	return &state, nil
}

// GetByKeys returns the stored states of keys, omitting keys with no row.
func (r *Repository) GetByKeys(ctx context.Context, destination string, keys []string) (map[string]models.CanonicalState, error) {
	ctx, span := tracing.StartSpan(ctx, "canonicalstate.Repository.GetByKeys")
	defer span.End()

	out := make(map[string]models.CanonicalState, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("canonical_states")
	sb.Where(
		sb.Equal("destination", destination),
		sb.In("business_key", sqlbuilder.Flatten(keys)...),
	)

	query, args := sb.Build()
	var rows []row
	if err := database.FromContext(ctx, r.db).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"destination": destination, "keys": len(keys)}).Error("Failed to get canonical states")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get canonical states")
	}

	for _, res := range rows {
		out[res.Key] = res.model()
	}
	return out, nil
}

// Keys lists every business key held for destination.
func (r *Repository) Keys(ctx context.Context, destination string) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "canonicalstate.Repository.Keys")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("business_key")
	sb.From("canonical_states")
	sb.Where(sb.Equal("destination", destination))
	sb.OrderBy("business_key")

	query, args := sb.Build()
	var keys []string
	if err := database.FromContext(ctx, r.db).SelectContext(ctx, &keys, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"destination": destination}).Error("Failed to list canonical keys")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list canonical keys")
	}
	return keys, nil
}

// Save writes state if the stored revision equals expectedRevision. An
// expectedRevision of 0 means no row may exist yet.
func (r *Repository) Save(ctx context.Context, destination string, state models.CanonicalState, expectedRevision int64) error {
	ctx, span := tracing.StartSpan(ctx, "canonicalstate.Repository.Save")
	defer span.End()

	var query string
	var args []any
	if expectedRevision == 0 {
		sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
		sb.InsertInto("canonical_states")
		sb.Cols(columns...)
		sb.Values(destination, state.Key, state.EntityType, database.NewJSONB(state.Attributes), state.ContentHash, state.Status,
			state.ObservationID, state.SourceID, state.Revision, state.LastSyncedFrom, state.EffectiveAt, state.UpdatedAt)
		query, args = sb.Build()
		query += " ON CONFLICT (destination, business_key) DO NOTHING"
	} else {
		sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
		sb.Update("canonical_states")
		sb.Set(
			sb.Assign("entity_type", state.EntityType),
			sb.Assign("attributes", database.NewJSONB(state.Attributes)),
			sb.Assign("content_hash", state.ContentHash),
			sb.Assign("status", state.Status),
			sb.Assign("observation_id", state.ObservationID),
			sb.Assign("source_id", state.SourceID),
			sb.Assign("revision", state.Revision),
			sb.Assign("last_synced_from", state.LastSyncedFrom),
			sb.Assign("effective_at", state.EffectiveAt),
			sb.Assign("updated_at", state.UpdatedAt),
		)
		sb.Where(
			sb.Equal("destination", destination),
			sb.Equal("business_key", state.Key),
			sb.Equal("revision", expectedRevision),
		)
		query, args = sb.Build()
	}

	result, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"destination": destination, "business_key": state.Key}).Error("Failed to save canonical state")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to save canonical state")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%s expected revision %d: %w", state.Key, expectedRevision, ErrStaleRevision)
	}
	return nil
}
