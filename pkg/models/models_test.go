package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Time
		ok   bool
	}{
		{"2024-03-01", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), true},
		{"2024-03-01T10:00:00Z", time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), true},
		{"03/01/2024", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), true},
		{"  ", time.Time{}, false},
		{"yesterday", time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := ParseTimestamp(tt.raw)
			assert.Equal(t, tt.ok, ok)
			assert.True(t, tt.want.Equal(got), "got %v", got)
		})
	}
}

func TestRawObservation_BestTimestamp(t *testing.T) {
	obs := RawObservation{Timestamps: map[TimestampField]string{
		TimestampStatusChanged: "garbage",
		TimestampLastModified:  "2024-02-01",
		TimestampImported:      "2024-03-01",
	}}

	ts, field, ok := obs.BestTimestamp()
	require.True(t, ok)
	assert.Equal(t, TimestampLastModified, field)
	assert.Equal(t, 2024, ts.Year())
	assert.Equal(t, []TimestampField{TimestampStatusChanged}, obs.UnparseableTimestamps())
}

func TestSortObservations(t *testing.T) {
	obs := []RawObservation{
		{ID: "3", SourceID: "b", Timestamps: map[TimestampField]string{TimestampImported: "2024-01-02"}},
		{ID: "1", SourceID: "a"},
		{ID: "2", SourceID: "a", Timestamps: map[TimestampField]string{TimestampImported: "2024-01-02"}},
		{ID: "4", SourceID: "a", Timestamps: map[TimestampField]string{TimestampImported: "2024-01-01"}},
	}

	SortObservations(obs)

	var ids []string
	for _, o := range obs {
		ids = append(ids, o.ID)
	}
	assert.Equal(t, []string{"1", "4", "2", "3"}, ids)
}

func TestParseRunMode(t *testing.T) {
	mode, err := ParseRunMode("full-resync")
	require.NoError(t, err)
	assert.Equal(t, RunModeFullResync, mode)

	_, err = ParseRunMode("apply")
	assert.Error(t, err)
}

func TestParseDisappearedPolicy(t *testing.T) {
	policy, err := ParseDisappearedPolicy("")
	require.NoError(t, err)
	assert.Equal(t, DisappearedReport, policy)

	_, err = ParseDisappearedPolicy("purge")
	assert.Error(t, err)
}
