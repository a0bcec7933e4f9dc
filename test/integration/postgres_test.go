//go:build integration

package integration

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/internal/database"
	"github.com/Ramsey-B/clover/internal/logging"
	"github.com/Ramsey-B/clover/internal/repositories/canonicalstate"
	"github.com/Ramsey-B/clover/internal/repositories/checkpoint"
	"github.com/Ramsey-B/clover/internal/repositories/history"
	"github.com/Ramsey-B/clover/internal/repositories/observation"
	"github.com/Ramsey-B/clover/internal/repositories/relationship"
	runrepo "github.com/Ramsey-B/clover/internal/repositories/run"
	"github.com/Ramsey-B/clover/internal/store"
	"github.com/Ramsey-B/clover/pkg/ingest"
	"github.com/Ramsey-B/clover/pkg/journal"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/reconcile"
)

// openDB connects with the DB_* environment and applies the migrations.
// Tests skip when DB_HOST is not set.
func openDB(t *testing.T) database.DB {
	t.Helper()
	host := os.Getenv("DB_HOST")
	if host == "" {
		t.Skip("DB_HOST not set")
	}

	env := func(key, fallback string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return fallback
	}
	cfg := database.Config{
		Host:     host,
		Port:     env("DB_PORT", "5432"),
		User:     env("DB_USER", "postgres"),
		Password: env("DB_PASSWORD", "postgres"),
		Name:     env("DB_NAME", "clover_test"),
		SSLMode:  env("DB_SSL_MODE", "disable"),
	}

	logger := logging.Nop()
	db, err := database.Connect(context.Background(), cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	driver, err := database.PostgresDriver(db)
	require.NoError(t, err)
	svc := database.NewMigrationService(logger, &database.MigrationConfig{MigrationFolderPath: "../../db/pg"})
	require.NoError(t, svc.Migrate(cfg.Name, driver))

	_, err = db.ExecContext(context.Background(), "TRUNCATE raw_observations, ingest_rejections, relationships")
	require.NoError(t, err)
	return db
}

func pole(key, status, changedAt, project string) models.RawObservation {
	return models.RawObservation{
		BusinessKey: key,
		EntityType:  "pole",
		Status:      status,
		Attributes:  map[string]any{"project": project},
		Timestamps:  map[models.TimestampField]string{models.TimestampStatusChanged: changedAt},
	}
}

func stage(t *testing.T, db database.DB, batches ...models.Batch) *ingest.Snapshot {
	t.Helper()
	logger := logging.Nop()
	ing, err := ingest.NewIngestor(ingest.DefaultConfig(), logger)
	require.NoError(t, err)
	for _, b := range batches {
		ing.Add(context.Background(), b)
	}
	snap := ing.Result()

	stager := store.NewStager(db, observation.NewRepository(db, logger), relationship.NewRepository(db, logger), logger)
	require.NoError(t, stager.Stage(context.Background(), "batch-"+uuid.NewString(), nil, snap))
	return snap
}

func TestCanonicalStateSave(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	repo := canonicalstate.NewRepository(db, logging.Nop())
	dest := "it-" + uuid.NewString()

	state := models.CanonicalState{
		Key:         "P1",
		EntityType:  "pole",
		Status:      "Requested",
		Attributes:  map[string]any{"project": "North"},
		ContentHash: "h1",
		Revision:    1,
	}

	t.Run("insert at revision zero", func(t *testing.T) {
		require.NoError(t, repo.Save(ctx, dest, state, 0))

		got, err := repo.Get(ctx, dest, "P1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, int64(1), got.Revision)
		assert.Equal(t, "Requested", got.Status)
	})

	t.Run("stale expected revision", func(t *testing.T) {
		next := state
		next.Revision = 2
		err := repo.Save(ctx, dest, next, 0)
		assert.ErrorIs(t, err, canonicalstate.ErrStaleRevision)
	})

	t.Run("update from current revision", func(t *testing.T) {
		next := state
		next.Status = "Approved"
		next.Revision = 2
		require.NoError(t, repo.Save(ctx, dest, next, 1))

		keys, err := repo.Keys(ctx, dest)
		require.NoError(t, err)
		assert.Equal(t, []string{"P1"}, keys)
	})
}

func TestCheckpointAdvanceKeepsNewest(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	repo := checkpoint.NewRepository(db, logging.Nop())
	dest := "it-" + uuid.NewString()

	require.NoError(t, repo.Advance(ctx, []models.SyncCheckpoint{
		{Destination: dest, Key: "P1", Revision: 3, ContentHash: "h3", RunID: "r1"},
	}))
	require.NoError(t, repo.Advance(ctx, []models.SyncCheckpoint{
		{Destination: dest, Key: "P1", Revision: 2, ContentHash: "h2", RunID: "r2"},
	}))

	got, err := repo.GetByKeys(ctx, dest, []string{"P1", "P2"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(3), got["P1"].Revision)
	assert.Equal(t, "r1", got["P1"].RunID)
}

func TestSourcePagesStagedObservations(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	logger := logging.Nop()

	stage(t, db, models.Batch{ID: "b1", Observations: []models.RawObservation{
		pole("P1", "Requested", "2025-01-01", "North"),
		pole("P2", "Requested", "2025-01-01", "South"),
		pole("P3", "Installed", "2025-01-02", "South"),
	}})

	src := store.NewSource(observation.NewRepository(db, logger), relationship.NewRepository(db, logger))

	first, err := src.FetchPage(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, first.Entities, 2)
	assert.Equal(t, "P1", first.Entities[0].Key)
	assert.False(t, first.Done)

	second, err := src.FetchPage(ctx, first.Next, 2)
	require.NoError(t, err)
	require.Len(t, second.Entities, 1)
	assert.Equal(t, "P3", second.Entities[0].Key)
	assert.True(t, second.Done)
}

func TestIncrementalRunAgainstPostgres(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	logger := logging.Nop()
	dest := "it-" + uuid.NewString()

	stage(t, db,
		models.Batch{ID: "b1", Observations: []models.RawObservation{pole("P100", "Requested", "2025-01-01", "North")}},
		models.Batch{ID: "b2", Observations: []models.RawObservation{pole("P100", "Approved", "2025-01-03", "North")}},
	)

	states := canonicalstate.NewRepository(db, logger)
	hist := history.NewRepository(db, logger)
	destination := store.NewDestination(dest, db, states, hist, logger)
	checkpoints := store.NewCheckpoints(checkpoint.NewRepository(db, logger))
	source := store.NewSource(observation.NewRepository(db, logger), relationship.NewRepository(db, logger))

	cfg := reconcile.DefaultConfig()
	cfg.Mode = models.RunModeIncremental
	cfg.Destination = dest
	cfg.BatchTimeout = 10 * time.Second

	run := func() *reconcile.Report {
		e, err := reconcile.NewExecutor(cfg, logger, source, destination, checkpoints)
		require.NoError(t, err)
		report, err := e.Run(ctx)
		require.NoError(t, err)
		return report
	}

	report := run()
	assert.Equal(t, reconcile.OutcomeCompleted, report.Outcome)
	assert.Equal(t, 1, report.Applied)
	assert.Equal(t, 2, report.Transitions)

	entries, err := destination.History(ctx, "P100")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.NoError(t, journal.Verify(entries))

	at := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	asOf, err := journal.StateAt(entries, at, journal.BasisEffective)
	require.NoError(t, err)
	assert.Equal(t, "Requested", asOf.NewStatus)

	again := run()
	assert.Equal(t, reconcile.OutcomeCompleted, again.Outcome)
	assert.Equal(t, 0, again.Applied)
	assert.Equal(t, 1, again.AlreadySynced)

	runs := runrepo.NewRepository(db, logger)
	require.NoError(t, runs.Save(ctx, report))
	saved, err := runs.Get(ctx, report.RunID)
	require.NoError(t, err)
	assert.Equal(t, report.Applied, saved.Applied)

	list, err := runs.List(ctx, dest, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, report.RunID, list[0].RunID)
}
