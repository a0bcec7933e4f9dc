package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScorer_Compare(t *testing.T) {
	s := NewScorer()

	tests := []struct {
		name string
		cmp  Comparator
		a, b string
		want float64
	}{
		{"exact equal ignores case", CompareExact, "North", "north", 1},
		{"exact differs", CompareExact, "north", "south", 0},
		{"empty never matches", CompareExact, "", "", 0},
		{"jaro winkler identical", CompareJaroWinkler, "acme", "acme", 1},
		{"levenshtein one edit", CompareLevenshtein, "pole", "pale", 0.75},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, s.Compare(tt.cmp, tt.a, tt.b), 1e-9)
		})
	}
}

func TestScorer_JaroWinkler(t *testing.T) {
	s := NewScorer()
	assert.InDelta(t, 0.961, s.JaroWinkler("martha", "marhta"), 0.001)
	assert.Greater(t, s.JaroWinkler("acme utility", "acme utilities"), 0.9)
	assert.Equal(t, s.JaroWinkler("dwayne", "duane"), s.JaroWinkler("duane", "dwayne"))
}

func TestScorer_Jaccard(t *testing.T) {
	s := NewScorer()
	set := func(items ...string) map[string]struct{} {
		m := make(map[string]struct{})
		for _, i := range items {
			m[i] = struct{}{}
		}
		return m
	}

	j, shared := s.Jaccard(set("a", "b", "c"), set("a", "b", "c", "d"))
	assert.InDelta(t, 0.75, j, 1e-9)
	assert.Equal(t, 3, shared)

	j, shared = s.Jaccard(set(), set("a"))
	assert.Zero(t, j)
	assert.Zero(t, shared)
}
