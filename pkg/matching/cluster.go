package matching

import (
	"sort"
	"strconv"
	"strings"

	"github.com/Ramsey-B/clover/pkg/models"
)

// Cluster groups same-typed nodes whose pair score reaches the threshold. In
// greedy mode each seed, taken in key order, claims every unclaimed node that
// scores against it; in connected mode groups are the connected components of
// the above-threshold graph. Either way a node joins at most one group and the
// result is independent of input order.
func (s *Similarity) Cluster(nodes []Node) []models.DuplicateGroup {
	byType := make(map[string][]prepared)
	for _, n := range nodes {
		byType[n.EntityType] = append(byType[n.EntityType], s.prepare(n))
	}

	types := make([]string, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Strings(types)

	var groups []models.DuplicateGroup
	for _, t := range types {
		ps := byType[t]
		sort.Slice(ps, func(i, j int) bool { return ps[i].Key < ps[j].Key })
		ps = dedupeKeys(ps)

		blocks := s.newBlocker(ps)
		if s.cfg.Mode == ClusterConnected {
			groups = append(groups, s.connected(t, ps, blocks)...)
		} else {
			groups = append(groups, s.greedy(t, ps, blocks)...)
		}
	}
	return groups
}

func (s *Similarity) greedy(entityType string, ps []prepared, blocks *blocker) []models.DuplicateGroup {
	var groups []models.DuplicateGroup
	assigned := make([]bool, len(ps))

	for i := range ps {
		if assigned[i] {
			continue
		}
		members := []int{i}
		acc := newAccumulator()
		for _, j := range blocks.candidates(i) {
			if assigned[j] {
				continue
			}
			pair := s.score(ps[i], ps[j])
			if pair.Score >= s.cfg.Threshold {
				members = append(members, j)
				acc.add(pair)
			}
		}
		if len(members) < 2 {
			continue
		}
		for _, m := range members {
			assigned[m] = true
		}
		groups = append(groups, acc.group(entityType, ps, members))
	}
	return groups
}

func (s *Similarity) connected(entityType string, ps []prepared, blocks *blocker) []models.DuplicateGroup {
	uf := newUnionFind(len(ps))
	type edge struct {
		a, b int
		pair PairScore
	}
	var edges []edge

	for i := range ps {
		for _, j := range blocks.candidates(i) {
			pair := s.score(ps[i], ps[j])
			if pair.Score >= s.cfg.Threshold {
				uf.union(i, j)
				edges = append(edges, edge{a: i, b: j, pair: pair})
			}
		}
	}

	members := make(map[int][]int)
	for i := range ps {
		root := uf.find(i)
		members[root] = append(members[root], i)
	}
	accs := make(map[int]*accumulator)
	for _, e := range edges {
		root := uf.find(e.a)
		if accs[root] == nil {
			accs[root] = newAccumulator()
		}
		accs[root].add(e.pair)
	}

	var roots []int
	for root, m := range members {
		if len(m) > 1 {
			roots = append(roots, root)
		}
	}
	// members are appended in index order so m[0] is the smallest key
	sort.Slice(roots, func(i, j int) bool { return members[roots[i]][0] < members[roots[j]][0] })

	groups := make([]models.DuplicateGroup, 0, len(roots))
	for _, root := range roots {
		groups = append(groups, accs[root].group(entityType, ps, members[root]))
	}
	return groups
}

// accumulator folds pair scores into a group score (the weakest link) and reasons.
type accumulator struct {
	score   float64
	reasons []string
	seen    map[string]bool
}

func newAccumulator() *accumulator {
	return &accumulator{score: 1.0, seen: make(map[string]bool)}
}

func (a *accumulator) add(pair PairScore) {
	if pair.Score < a.score {
		a.score = pair.Score
	}
	for _, r := range pair.Reasons {
		if !a.seen[r] {
			a.seen[r] = true
			a.reasons = append(a.reasons, r)
		}
	}
}

func (a *accumulator) group(entityType string, ps []prepared, members []int) models.DuplicateGroup {
	keys := make([]string, len(members))
	for i, m := range members {
		keys[i] = ps[m].Key
	}
	sort.Strings(keys)
	return models.DuplicateGroup{
		EntityType: entityType,
		Keys:       keys,
		Score:      a.score,
		Reasons:    append([]string(nil), a.reasons...),
	}
}

// blocker limits pair comparisons to nodes that share at least one scoring token.
// When unblockable rules alone could reach the threshold every later node is a candidate.
type blocker struct {
	n      int
	all    bool
	tokens [][]string
	index  map[string][]int
}

func (s *Similarity) newBlocker(ps []prepared) *blocker {
	b := &blocker{n: len(ps), tokens: make([][]string, len(ps)), index: make(map[string][]int)}

	var unblockable float64
	for _, rule := range s.cfg.Secondary {
		if rule.Comparator != CompareExact && rule.Comparator != "" {
			unblockable += rule.Weight
		}
	}
	if unblockable >= s.cfg.Threshold {
		b.all = true
		return b
	}

	for i, p := range ps {
		var toks []string
		if p.defining != "" {
			toks = append(toks, "d|"+p.defining)
		}
		for r, rule := range s.cfg.Secondary {
			if (rule.Comparator == CompareExact || rule.Comparator == "") && p.secondary[r] != "" {
				toks = append(toks, "s|"+strconv.Itoa(r)+"|"+strings.ToLower(p.secondary[r]))
			}
		}
		for endpoint := range s.graph.Endpoints(p.Key) {
			toks = append(toks, "e|"+endpoint)
		}
		b.tokens[i] = toks
		for _, tok := range toks {
			b.index[tok] = append(b.index[tok], i)
		}
	}
	return b
}

// candidates returns the positions after i that may score above zero, ascending.
func (b *blocker) candidates(i int) []int {
	if b.all {
		out := make([]int, 0, b.n-i-1)
		for j := i + 1; j < b.n; j++ {
			out = append(out, j)
		}
		return out
	}

	seen := make(map[int]bool)
	var out []int
	for _, tok := range b.tokens[i] {
		for _, j := range b.index[tok] {
			if j > i && !seen[j] {
				seen[j] = true
				out = append(out, j)
			}
		}
	}
	sort.Ints(out)
	return out
}

type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), rank: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (uf *unionFind) find(x int) int {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]]
		x = uf.parent[x]
	}
	return x
}

func (uf *unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return
	}
	switch {
	case uf.rank[ra] < uf.rank[rb]:
		uf.parent[ra] = rb
	case uf.rank[ra] > uf.rank[rb]:
		uf.parent[rb] = ra
	default:
		uf.parent[rb] = ra
		uf.rank[ra]++
	}
}

func dedupeKeys(ps []prepared) []prepared {
	out := ps[:0]
	for i, p := range ps {
		if i > 0 && p.Key == ps[i-1].Key {
			continue
		}
		out = append(out, p)
	}
	return out
}
