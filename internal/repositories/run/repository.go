package run

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/clover/internal/database"
	"github.com/Ramsey-B/clover/internal/tracing"
	"github.com/Ramsey-B/clover/pkg/reconcile"
)

// Summary is one row of the run log.
type Summary struct {
	RunID       string    `json:"run_id" db:"run_id"`
	Destination string    `json:"destination" db:"destination"`
	Mode        string    `json:"mode" db:"mode"`
	Outcome     string    `json:"outcome" db:"outcome"`
	StartedAt   time.Time `json:"started_at" db:"started_at"`
	FinishedAt  time.Time `json:"finished_at" db:"finished_at"`
}

// Repository keeps the report of every run.
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

func (r *Repository) Save(ctx context.Context, report *reconcile.Report) error {
	ctx, span := tracing.StartSpan(ctx, "run.Repository.Save")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("reconciliation_runs")
	sb.Cols("run_id", "destination", "mode", "outcome", "report", "started_at", "finished_at")
	sb.Values(report.RunID, report.Destination, string(report.Mode), string(report.Outcome), database.NewJSONB(report), report.StartedAt, report.FinishedAt)

	query, args := sb.Build()
	query += " ON CONFLICT (run_id) DO UPDATE SET outcome = EXCLUDED.outcome, report = EXCLUDED.report, finished_at = EXCLUDED.finished_at"
	if _, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"run_id": report.RunID}).Error("Failed to save run report")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to save run report")
	}
	return nil
}

// List returns the newest runs first, limited to destination when it is set.
func (r *Repository) List(ctx context.Context, destination string, limit int) ([]Summary, error) {
	ctx, span := tracing.StartSpan(ctx, "run.Repository.List")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("run_id", "destination", "mode", "outcome", "started_at", "finished_at")
	sb.From("reconciliation_runs")
	if destination != "" {
		sb.Where(sb.Equal("destination", destination))
	}
	sb.OrderBy("started_at").Desc()
	sb.Limit(limit)

	query, args := sb.Build()
	runs := []Summary{}
	if err := database.FromContext(ctx, r.db).SelectContext(ctx, &runs, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"destination": destination}).Error("Failed to list runs")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list runs")
	}
	return runs, nil
}

// Get returns the stored report of one run.
func (r *Repository) Get(ctx context.Context, runID string) (*reconcile.Report, error) {
	ctx, span := tracing.StartSpan(ctx, "run.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("report")
	sb.From("reconciliation_runs")
	sb.Where(sb.Equal("run_id", runID))

	query, args := sb.Build()
	var report database.JSONB[reconcile.Report]
	if err := database.FromContext(ctx, r.db).GetContext(ctx, &report, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "run %s not found", runID)
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"run_id": runID}).Error("Failed to get run report")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get run report")
	}
	return &report.Data, nil
}
