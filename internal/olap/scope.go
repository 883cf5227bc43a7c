package olap

import (
	"fmt"
	"sort"
	"strings"
)

// Join describes one join clause attached to a scope's base table.
type Join struct {
	ToTable string
	OnSQL   string
}

// QueryScope is the grouping context a measure is evaluated in: the base
// table, any joins, the grouping columns, rollup columns, grouping sets,
// row filters and limit. Two scopes are equal iff all fields are
// structurally equal.
type QueryScope struct {
	TableRef      string
	Joins         []Join
	Columns       []string // grouping dimension field expressions
	RollupColumns []string
	GroupingSets  [][]string
	Filters       []string
	Limit         int
	VirtualTables []string
}

// CopyWithNewLimit yields a scope identical to s except for Limit.
func (s QueryScope) CopyWithNewLimit(limit int) QueryScope {
	c := s
	c.Limit = limit
	return c
}

// key returns a canonical, comparable string fingerprint of the scope,
// used both as a Go map key (QueryScope itself is not comparable because it
// holds slices) and as the single-flight key component in the prefetch
// stage.
func (s QueryScope) key() string {
	var b strings.Builder
	b.WriteString(s.TableRef)
	b.WriteByte('|')
	for _, j := range s.Joins {
		fmt.Fprintf(&b, "J(%s,%s)", j.ToTable, j.OnSQL)
	}
	b.WriteByte('|')
	cols := append([]string(nil), s.Columns...)
	sort.Strings(cols)
	b.WriteString(strings.Join(cols, ","))
	b.WriteByte('|')
	rollups := append([]string(nil), s.RollupColumns...)
	sort.Strings(rollups)
	b.WriteString(strings.Join(rollups, ","))
	b.WriteByte('|')
	for _, gs := range s.GroupingSets {
		g := append([]string(nil), gs...)
		sort.Strings(g)
		fmt.Fprintf(&b, "{%s}", strings.Join(g, ","))
	}
	b.WriteByte('|')
	filters := append([]string(nil), s.Filters...)
	sort.Strings(filters)
	b.WriteString(strings.Join(filters, ","))
	b.WriteByte('|')
	fmt.Fprintf(&b, "limit=%d", s.Limit)
	b.WriteByte('|')
	vt := append([]string(nil), s.VirtualTables...)
	sort.Strings(vt)
	b.WriteString(strings.Join(vt, ","))
	return b.String()
}

// HasRollup reports whether this scope aggregates ROLLUP or GROUPING SETS
// super-aggregates, which produce null grouping cells the post-processor
// must substitute with total markers.
func (s QueryScope) HasRollup() bool {
	return len(s.RollupColumns) > 0 || len(s.GroupingSets) > 0
}

// RollupFields returns the union of RollupColumns and all GroupingSets
// columns, the set GenerateGroupingMeasures needs a GROUPING(...) measure
// for.
func (s QueryScope) RollupFields() []string {
	seen := map[string]bool{}
	var out []string
	for _, c := range s.RollupColumns {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	for _, gs := range s.GroupingSets {
		for _, c := range gs {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	return out
}
