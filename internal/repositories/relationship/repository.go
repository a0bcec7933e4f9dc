package relationship

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

const insertBatchSize = 500

// Repository stages directed relationships between business keys.
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

// Upsert stores relationships; an identical edge from the same source is kept once.
func (r *Repository) Upsert(ctx context.Context, relationships []models.Relationship) error {
	ctx, span := tracing.StartSpan(ctx, "relationship.Repository.Upsert")
	defer span.End()

	q := database.FromContext(ctx, r.db)
	for i := 0; i < len(relationships); i += insertBatchSize {
		end := min(i+insertBatchSize, len(relationships))

		sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
		sb.InsertInto("relationships")
		sb.Cols("relationship_type", "from_key", "from_type", "to_key", "to_type", "source_id")
		for _, rel := range relationships[i:end] {
			sb.Values(rel.Type, rel.FromKey, rel.FromType, rel.ToKey, rel.ToType, rel.SourceID)
		}

		query, args := sb.Build()
		query += ` ON CONFLICT (relationship_type, from_key, to_key, source_id)
		DO UPDATE SET from_type = EXCLUDED.from_type, to_type = EXCLUDED.to_type`
		if _, err := q.ExecContext(ctx, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"relationships": end - i}).Error("Failed to stage relationships")
			return httperror.NewHTTPError(http.StatusInternalServerError, "failed to stage relationships")
		}
	}
	return nil
}

// List returns every staged relationship in a stable order.
func (r *Repository) List(ctx context.Context) ([]models.Relationship, error) {
	ctx, span := tracing.StartSpan(ctx, "relationship.Repository.List")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("relationship_type", "from_key", "from_type", "to_key", "to_type", "source_id")
	sb.From("relationships")
	sb.OrderBy("from_key", "relationship_type", "to_key", "source_id")

	query, args := sb.Build()
	var rels []models.Relationship
	if err := database.FromContext(ctx, r.db).SelectContext(ctx, &rels, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list relationships")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list relationships")
	}
	return rels, nil
}
