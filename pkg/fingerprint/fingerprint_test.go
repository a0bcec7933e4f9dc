package fingerprint

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_Deterministic(t *testing.T) {
	a := map[string]any{"Status": "Approved ", "height": 40.0, "project": "North"}
	b := map[string]any{"project": "North", "status": "Approved", "HEIGHT": 40}

	assert.Equal(t, Generate(a), Generate(b))
	assert.Len(t, Generate(a), 64)
}

func TestGenerate_DetectsRealChange(t *testing.T) {
	tests := []struct {
		name string
		a, b map[string]any
	}{
		{"value", map[string]any{"status": "Requested"}, map[string]any{"status": "Approved"}},
		{"null vs empty", map[string]any{"owner": nil}, map[string]any{"owner": ""}},
		{"extra key", map[string]any{"a": 1}, map[string]any{"a": 1, "b": 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, Generate(tt.a), Generate(tt.b))
		})
	}
}

func TestGenerateWithExclusions(t *testing.T) {
	base := map[string]any{"status": "Approved", "imported_at": "2024-01-01", "meta": map[string]any{"batch": "b1", "kept": true}}
	other := map[string]any{"status": "Approved", "imported_at": "2024-02-01", "meta": map[string]any{"batch": "b2", "kept": true}}

	exclude := map[string]bool{"Imported_At": true, "meta.batch": true}
	assert.Equal(t, GenerateWithExclusions(base, exclude), GenerateWithExclusions(other, exclude))
	assert.NotEqual(t, Generate(base), Generate(other))
}

func TestGenerate_NilEqualsEmpty(t *testing.T) {
	assert.Equal(t, Generate(nil), Generate(map[string]any{}))
}

func TestGenerateFromJSON(t *testing.T) {
	fromJSON, err := GenerateFromJSON(json.RawMessage(`{"height": 40, "status": "Approved"}`))
	require.NoError(t, err)
	assert.Equal(t, Generate(map[string]any{"height": 40, "status": "Approved"}), fromJSON)

	_, err = GenerateFromJSON(json.RawMessage(`not json`))
	assert.Error(t, err)
}

func TestHasChanged(t *testing.T) {
	assert.True(t, HasChanged("", "abc"))
	assert.True(t, HasChanged("abc", "def"))
	assert.False(t, HasChanged("abc", "abc"))
}
