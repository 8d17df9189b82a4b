package engine

import (
	"slices"
	"sort"

	xxhash "github.com/cespare/xxhash/v2"
	"github.com/paveg/tabula/internal/chart"
)

const (
	groupIndexLoadFactor = 0.75
	groupIndexGrowth     = 2
)

// group accumulates the values of one group key.
type group struct {
	key      string
	firstRow int
	rows     int64
	n        int64
	sum      float64
	values   []float64 // kept only for median
}

func (g *group) add(v float64, ok bool, keepValues bool) {
	g.rows++
	if !ok {
		return
	}
	g.n++
	g.sum += v
	if keepValues {
		g.values = append(g.values, v)
	}
}

// value reduces the group under agg. Sum of no values is 0; mean and median
// of no values are nil.
func (g *group) value(agg chart.Aggregation, hasValue bool) *float64 {
	switch agg {
	case chart.AggSum:
		return float(g.sum)
	case chart.AggMean:
		if g.n == 0 {
			return nil
		}
		return float(g.sum / float64(g.n))
	case chart.AggMedian:
		return median(g.values)
	default:
		if hasValue {
			return float(float64(g.n))
		}
		return float(float64(g.rows))
	}
}

func median(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	sorted := slices.Clone(values)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return float(sorted[mid])
	}
	return float((sorted[mid-1] + sorted[mid]) / 2)
}

type groupEntry struct {
	key string
	id  int
}

// groupIndex maps keys to groups in first-seen order. Keys are bucketed by
// their xxhash digest.
type groupIndex struct {
	buckets    [][]groupEntry
	groups     []*group
	keepValues bool
}

func newGroupIndex(keepValues bool) *groupIndex {
	return &groupIndex{buckets: make([][]groupEntry, 16), keepValues: keepValues}
}

func (gi *groupIndex) bucket(key string, capacity int) int {
	//nolint:gosec // capacity is a positive power of two
	return int(xxhash.Sum64String(key) % uint64(capacity))
}

// get returns the group for key, creating it at row when first seen.
func (gi *groupIndex) get(key string, row int) *group {
	b := gi.bucket(key, len(gi.buckets))
	for _, e := range gi.buckets[b] {
		if e.key == key {
			return gi.groups[e.id]
		}
	}
	g := &group{key: key, firstRow: row}
	gi.buckets[b] = append(gi.buckets[b], groupEntry{key: key, id: len(gi.groups)})
	gi.groups = append(gi.groups, g)
	if float64(len(gi.groups)) > float64(len(gi.buckets))*groupIndexLoadFactor {
		gi.resize()
	}
	return g
}

func (gi *groupIndex) resize() {
	capacity := len(gi.buckets) * groupIndexGrowth
	buckets := make([][]groupEntry, capacity)
	for _, bucket := range gi.buckets {
		for _, e := range bucket {
			b := gi.bucket(e.key, capacity)
			buckets[b] = append(buckets[b], e)
		}
	}
	gi.buckets = buckets
}

func (gi *groupIndex) len() int { return len(gi.groups) }

type rankedGroup struct {
	*group
	result *float64
}

// rank orders groups by aggregate descending, undefined aggregates last,
// ties by first-seen row.
func (gi *groupIndex) rank(agg chart.Aggregation, hasValue bool) []rankedGroup {
	ranked := make([]rankedGroup, len(gi.groups))
	for i, g := range gi.groups {
		ranked[i] = rankedGroup{group: g, result: g.value(agg, hasValue)}
	}
	slices.SortStableFunc(ranked, func(a, b rankedGroup) int {
		switch {
		case a.result == nil && b.result == nil:
		case a.result == nil:
			return 1
		case b.result == nil:
			return -1
		case *a.result > *b.result:
			return -1
		case *a.result < *b.result:
			return 1
		}
		return a.firstRow - b.firstRow
	})
	return ranked
}
