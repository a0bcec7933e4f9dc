package journal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/internal/logging"
	"github.com/Ramsey-B/clover/pkg/models"
)

type staticReader map[string][]models.HistoryEntry

func (r staticReader) History(_ context.Context, key string) ([]models.HistoryEntry, error) {
	return append([]models.HistoryEntry(nil), r[key]...), nil
}

var (
	jan = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	feb = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	mar = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
)

func p100History() []models.HistoryEntry {
	first, e1 := Transition(nil, models.CanonicalState{Key: "P100", Status: "Requested", ContentHash: "h1", EffectiveAt: jan}, "run-1", jan)
	_, e2 := Transition(&first, models.CanonicalState{Key: "P100", Status: "Approved", ContentHash: "h2", EffectiveAt: feb}, "run-2", mar)
	return []models.HistoryEntry{e1, e2}
}

func TestTransition(t *testing.T) {
	state, entry := Transition(nil, models.CanonicalState{Key: "P100", Status: "Requested", ContentHash: "h1"}, "run-1", jan)
	assert.Equal(t, int64(1), state.Revision)
	assert.Equal(t, int64(1), entry.Revision)
	assert.Empty(t, entry.PreviousHash)
	assert.Equal(t, jan, state.UpdatedAt)
	assert.NotEmpty(t, entry.ID)

	next, entry2 := Transition(&state, models.CanonicalState{Key: "P100", Status: "Approved", ContentHash: "h2"}, "run-2", feb)
	assert.Equal(t, int64(2), next.Revision)
	assert.Equal(t, "h1", entry2.PreviousHash)
	assert.Equal(t, "Requested", entry2.PreviousStatus)
	assert.Equal(t, "Approved", entry2.NewStatus)
}

func TestVerify(t *testing.T) {
	history := p100History()
	require.NoError(t, Verify(history))

	gap := []models.HistoryEntry{history[0], {Key: "P100", Revision: 3, PreviousHash: "h1"}}
	assert.Error(t, Verify(gap))

	broken := []models.HistoryEntry{history[0], {Key: "P100", Revision: 2, PreviousHash: "other"}}
	assert.Error(t, Verify(broken))

	assert.NoError(t, Verify(nil))
}

func TestStateAt(t *testing.T) {
	history := p100History()

	tests := []struct {
		name    string
		at      time.Time
		basis   Basis
		want    string
		wantErr error
	}{
		{"before anything", jan.Add(-time.Hour), BasisRecorded, "", ErrNoState},
		{"recorded after first", feb, BasisRecorded, "Requested", nil},
		{"recorded after second", mar, BasisRecorded, "Approved", nil},
		{"effective in february", feb, BasisEffective, "Approved", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := StateAt(history, tt.at, tt.basis)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.NewStatus)
		})
	}
}

func TestJournal_HistorySortsByRevision(t *testing.T) {
	history := p100History()
	j := New(staticReader{"P100": {history[1], history[0]}}, logging.Nop())

	got, err := j.History(context.Background(), "P100")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].Revision)

	entry, err := j.AsOf(context.Background(), "P100", mar, BasisRecorded)
	require.NoError(t, err)
	assert.Equal(t, "Approved", entry.NewStatus)
}
