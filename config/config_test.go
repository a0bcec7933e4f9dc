package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/matching"
	"github.com/Ramsey-B/clover/pkg/models"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", "")
	require.NoError(t, err)

	assert.Equal(t, "clover", cfg.AppName)
	assert.Equal(t, "clover", cfg.DatabaseName)
	assert.Equal(t, 10*time.Second, cfg.DatabaseConnMaxLifetime)
	assert.Equal(t, 5*time.Minute, cfg.RunLockTTL)
	assert.Empty(t, cfg.KafkaBrokers)

	run, err := cfg.Reconcile()
	require.NoError(t, err)
	assert.Equal(t, models.RunModeDryRun, run.Mode)
	assert.Equal(t, 500, run.BatchSize)
	assert.Equal(t, 100*time.Millisecond, run.BatchPause)
	assert.Equal(t, models.DisappearedReport, run.Changes.DisappearedPolicy)
	assert.Equal(t, matching.ClusterGreedy, run.Matching.Mode)
	assert.Equal(t, matching.DefaultConfig().Secondary, run.Matching.Secondary)
	assert.Equal(t, matching.DefaultConfig().GraphWeight, run.Matching.GraphWeight)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("RUN_MODE", "incremental")
	t.Setenv("BATCH_SIZE", "100")
	t.Setenv("BACKOFF_BASE_DELAY", "250ms")
	t.Setenv("STATUS_PRIORITY", "Installed,Designed,Requested")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("CLUSTER_MODE", "connected")
	t.Setenv("DISAPPEARED_POLICY", "archive")

	cfg, err := Load("", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka().Brokers)

	run, err := cfg.Reconcile()
	require.NoError(t, err)
	assert.Equal(t, models.RunModeIncremental, run.Mode)
	assert.Equal(t, 100, run.BatchSize)
	assert.Equal(t, 250*time.Millisecond, run.BackoffBaseDelay)
	assert.Equal(t, []string{"Installed", "Designed", "Requested"}, run.Resolver.StatusPriority)
	assert.Equal(t, matching.ClusterConnected, run.Matching.Mode)
	assert.Equal(t, models.DisappearedArchive, run.Changes.DisappearedPolicy)
}

func TestLoadFiles(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("DB_HOST=db.internal\n"), 0o600))
	yamlFile := filepath.Join(dir, "clover.yaml")
	yaml := `destination: staging
workers: 8
source_tag: nightly
matching:
  defining_attributes:
    pole: pole_number
    drop: address
  graph_weight: 0.4
  secondary:
    - name: project
      weight: 0.35
      comparator: exact
      normalizers: [trim, lowercase]
    - name: crew
      weight: 0.15
      comparator: jaro_winkler
      min_similarity: 0.9
`
	require.NoError(t, os.WriteFile(yamlFile, []byte(yaml), 0o600))
	t.Cleanup(func() { os.Unsetenv("DB_HOST") })

	cfg, err := Load(envFile, yamlFile)
	require.NoError(t, err)
	assert.Equal(t, "db.internal", cfg.Database().Host)
	assert.Equal(t, "staging", cfg.Destination)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, "nightly", cfg.SourceTag)

	run, err := cfg.Reconcile()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"pole": "pole_number", "drop": "address"}, run.Matching.DefiningAttributes)
	assert.Equal(t, 1.0, run.Matching.DefiningWeight)
	assert.Equal(t, 0.4, run.Matching.GraphWeight)
	assert.Equal(t, []matching.AttributeRule{
		{Name: "project", Weight: 0.35, Comparator: matching.CompareExact, Normalizers: []string{"trim", "lowercase"}},
		{Name: "crew", Weight: 0.15, Comparator: matching.CompareJaroWinkler, MinSimilarity: 0.9},
	}, run.Matching.Secondary)
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing named env file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.env"), "")
		assert.Error(t, err)
	})
	t.Run("missing named config file", func(t *testing.T) {
		_, err := Load("", filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})
	t.Run("invalid cluster mode", func(t *testing.T) {
		t.Setenv("CLUSTER_MODE", "kmeans")
		_, err := Load("", "")
		assert.Error(t, err)
	})
}

func TestReconcileRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "unknown mode", mutate: func(c *Config) { c.RunMode = "yolo" }},
		{name: "unknown policy", mutate: func(c *Config) { c.DisappearedPolicy = "shred" }},
		{name: "batch too large", mutate: func(c *Config) { c.BatchSize = 501 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("", "")
			require.NoError(t, err)
			tt.mutate(cfg)
			_, err = cfg.Reconcile()
			assert.Error(t, err)
		})
	}
}
