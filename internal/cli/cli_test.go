package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/reconcile"
)

const poleMapping = `
entity_type: pole
columns:
  business_key: Pole
  status: Status
  timestamps:
    status_changed_at: Changed
`

const servesMapping = `
kind: relationships
relationship_type: serves
columns:
  from_key: Pole
  to_key: Address
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func fixtures(t *testing.T) (dir string, args []string) {
	t.Helper()
	dir = t.TempDir()
	jan := writeFile(t, dir, "jan.csv", "Pole,Status,Changed\np1,Requested,2024-01-01\nP2,Designed,2024-01-03\n")
	feb := writeFile(t, dir, "feb.csv", "Pole,Status,Changed\nP1,Installed,2024-02-01\n,Designed,2024-02-02\n")
	links := writeFile(t, dir, "links.csv", "Pole,Address\nP1,A1\n")
	return dir, []string{
		"--input", jan, "--input", feb,
		"--mapping", writeFile(t, dir, "poles.yaml", poleMapping),
		"--relationships", links,
		"--relationship-mapping", writeFile(t, dir, "serves.yaml", servesMapping),
	}
}

// executeCLI runs the root command with flag state reset between calls.
func executeCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("DB_HOST", "")
	t.Setenv("REDIS_HOST", "")
	t.Setenv("GRAPH_DB_HOST", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	runMode, runDestination, runReportPath = "", "", ""
	runOverrideConflicts, runSkipDuplicates = false, false
	runInputs = inputFiles{}
	ingestBatchID, ingestSnapshotDate = "", ""
	ingestInputs = inputFiles{}

	out := &bytes.Buffer{}
	rootCmd.SetOut(out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestRunDryRunFromFiles(t *testing.T) {
	_, args := fixtures(t)

	out, err := executeCLI(t, append([]string{"run"}, args...)...)
	require.NoError(t, err)

	var report reconcile.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, reconcile.OutcomeCompleted, report.Outcome)
	assert.Equal(t, models.RunModeDryRun, report.Mode)
	assert.Equal(t, 2, report.Considered)
	assert.Equal(t, 2, report.Eligible)
	assert.Equal(t, []string{"P1", "P2"}, report.EligibleKeys)
	assert.Equal(t, 1, report.InvalidKeys)
	assert.Equal(t, 2, report.New)
	assert.Equal(t, 0, report.Applied)
}

func TestRunWritesReportFile(t *testing.T) {
	dir, args := fixtures(t)
	path := filepath.Join(dir, "report.json")

	out, err := executeCLI(t, append([]string{"run", "--report", path, "--destination", "staging"}, args...)...)
	require.NoError(t, err)
	assert.Empty(t, out)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var report reconcile.Report
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, "staging", report.Destination)
}

func TestRunRejects(t *testing.T) {
	dir, args := fixtures(t)

	tests := []struct {
		name string
		args []string
	}{
		{name: "writes without database", args: append([]string{"run", "--mode", "incremental"}, args...)},
		{name: "unknown mode", args: append([]string{"run", "--mode", "sideways"}, args...)},
		{name: "no input and no database", args: []string{"run"}},
		{name: "input without mapping", args: []string{"run", "--input", filepath.Join(dir, "jan.csv")}},
		{name: "wrong relationship mapping kind", args: []string{"run",
			"--relationships", filepath.Join(dir, "links.csv"),
			"--relationship-mapping", filepath.Join(dir, "poles.yaml")}},
		{name: "ingest without database", args: append([]string{"ingest"}, args...)},
		{name: "ingest bad snapshot date", args: append([]string{"ingest", "--snapshot-date", "soon"}, args...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := executeCLI(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, 2, ExitCode(err))
		})
	}
}

func TestOutcomeError(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name   string
		report *reconcile.Report
		err    error
		want   int
	}{
		{name: "success", report: &reconcile.Report{Outcome: reconcile.OutcomeCompleted}, want: 0},
		{name: "no report", err: boom, want: 1},
		{name: "halted", report: &reconcile.Report{Outcome: reconcile.OutcomeHalted}, err: boom, want: 3},
		{name: "cancelled", report: &reconcile.Report{Outcome: reconcile.OutcomeCancelled}, err: boom, want: 4},
		{name: "failed", report: &reconcile.Report{Outcome: reconcile.OutcomeFailed}, err: boom, want: 1},
		{name: "failed on configuration", report: &reconcile.Report{Outcome: reconcile.OutcomeFailed},
			err: reconcile.Classify(models.CategoryFatalConfiguration, boom), want: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(outcomeError(tt.report, tt.err)))
		})
	}
}
