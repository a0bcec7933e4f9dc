package normalizers

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestApplyChain(t *testing.T) {
	tests := []struct {
		name  string
		value string
		chain []string
		want  string
	}{
		{"business key", "  p100 ", []string{"trim", "uppercase"}, "P100"},
		{"unknown normalizer is ignored", "abc", []string{"nope"}, "abc"},
		{"collapse", " 12  Main\tSt ", []string{"collapse_whitespace"}, "12 Main St"},
		{"address", "12 Main Street, North", []string{"naddress"}, "12 main st n"},
		{"name", "Acme Poles, Inc.", []string{"nname"}, "acme poles"},
		{"digits", "P-100-A", []string{"digits_only"}, "100"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ApplyChain(tt.value, tt.chain...))
		})
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate("trim", "uppercase"))
	assert.EqualError(t, Validate("trim", "bogus"), `unknown normalizer "bogus"`)
}

func TestAttributes(t *testing.T) {
	got := Attributes(map[string]any{
		" Status ": " Approved ",
		"Height":   float64(40),
		"ratio":    0.5,
		"owner":    nil,
		"note":     "",
		"count":    json.Number("7"),
		"seen":     time.Date(2024, 1, 1, 0, 0, 0, 0, time.FixedZone("x", 3600)),
		"tags":     []any{" a ", 1.0},
	})

	assert.Equal(t, map[string]any{
		"status": "Approved",
		"height": int64(40),
		"ratio":  0.5,
		"owner":  nil,
		"note":   "",
		"count":  int64(7),
		"seen":   "2023-12-31T23:00:00Z",
		"tags":   []any{"a", int64(1)},
	}, got)
}

func TestAttributes_NullDistinctFromEmpty(t *testing.T) {
	a := Attributes(map[string]any{"owner": nil})
	b := Attributes(map[string]any{"owner": ""})
	assert.NotEqual(t, a, b)
}
