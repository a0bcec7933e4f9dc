package matching

import "strings"

// Comparator names how a secondary attribute is compared.
type Comparator string

const (
	CompareExact       Comparator = "exact"
	CompareJaroWinkler Comparator = "jaro_winkler"
	CompareLevenshtein Comparator = "levenshtein"
)

// Scorer provides the string and set similarity measures used for pair scoring.
type Scorer struct{}

func NewScorer() *Scorer {
	return &Scorer{}
}

// Compare returns a similarity in [0,1] for two already-normalized strings.
// Empty values never match.
func (s *Scorer) Compare(cmp Comparator, a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	switch cmp {
	case CompareJaroWinkler:
		return s.JaroWinkler(a, b)
	case CompareLevenshtein:
		return s.Levenshtein(a, b)
	default:
		return s.ExactMatch(a, b)
	}
}

func (s *Scorer) ExactMatch(a, b string) float64 {
	if strings.EqualFold(a, b) {
		return 1.0
	}
	return 0.0
}

// JaroWinkler is Jaro similarity boosted by up to four characters of common prefix.
func (s *Scorer) JaroWinkler(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	jaro := jaro(ra, rb)

	prefix := 0
	for prefix < len(ra) && prefix < len(rb) && prefix < 4 && ra[prefix] == rb[prefix] {
		prefix++
	}
	return jaro + float64(prefix)*0.1*(1.0-jaro)
}

func (s *Scorer) Jaro(a, b string) float64 {
	return jaro([]rune(a), []rune(b))
}

func jaro(a, b []rune) float64 {
	if string(a) == string(b) {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	window := max(len(a), len(b))/2 - 1
	if window < 0 {
		window = 0
	}

	aMatched := make([]bool, len(a))
	bMatched := make([]bool, len(b))
	matches := 0
	for i := range a {
		lo := max(0, i-window)
		hi := min(len(b), i+window+1)
		for j := lo; j < hi; j++ {
			if bMatched[j] || a[i] != b[j] {
				continue
			}
			aMatched[i], bMatched[j] = true, true
			matches++
			break
		}
	}
	if matches == 0 {
		return 0.0
	}

	transpositions := 0
	k := 0
	for i := range a {
		if !aMatched[i] {
			continue
		}
		for !bMatched[k] {
			k++
		}
		if a[i] != b[k] {
			transpositions++
		}
		k++
	}

	m := float64(matches)
	return (m/float64(len(a)) + m/float64(len(b)) + (m-float64(transpositions)/2)/m) / 3
}

// Levenshtein is one minus the edit distance over the longer length.
func (s *Scorer) Levenshtein(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	longest := max(len(ra), len(rb))
	if longest == 0 {
		return 1.0
	}
	return 1.0 - float64(editDistance(ra, rb))/float64(longest)
}

func editDistance(a, b []rune) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

// Jaccard returns |a∩b| / |a∪b| and the intersection size. Two empty sets score 0.
func (s *Scorer) Jaccard(a, b map[string]struct{}) (float64, int) {
	if len(a) == 0 || len(b) == 0 {
		return 0, 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	shared := 0
	for k := range small {
		if _, ok := large[k]; ok {
			shared++
		}
	}
	union := len(a) + len(b) - shared
	return float64(shared) / float64(union), shared
}
