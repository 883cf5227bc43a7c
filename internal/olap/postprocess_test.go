package olap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func rollupScope(columns []string) QueryScope {
	return QueryScope{TableRef: "sales", Columns: columns, RollupColumns: columns, Limit: 10}
}

func TestPostProcessor_ApplyGroup_MergesMeasuresAcrossMembers(t *testing.T) {
	table := NewColumnarTable(
		[]Field{
			{Name: "region", Type: FieldTypeString},
			{Name: "revenue", Type: FieldTypeFloating},
		},
		[]Column{
			{"north", "south", "east", "west"},
			{10.0, 20.0, 30.0, 40.0},
		},
		map[string]bool{"revenue": true},
	)
	group := &GroupColumnSet{
		NewField: "hemisphere",
		Field:    "region",
		Values: map[string][]string{
			"upper": {"north", "east"},
			"lower": {"south", "west"},
		},
	}

	pp := NewPostProcessor(nil)
	out := pp.ApplyGroup(table, group)

	require.Equal(t, 2, out.Count())
	hemiCol, ok := out.Column("hemisphere")
	require.True(t, ok)
	revCol, ok := out.Column("revenue")
	require.True(t, ok)

	totals := map[string]float64{}
	for i, h := range hemiCol {
		v, _ := toFloat(revCol[i])
		totals[h.(string)] += v
	}
	require.InDelta(t, 40.0, totals["upper"], 0.0001)
	require.InDelta(t, 60.0, totals["lower"], 0.0001)
}

func TestPostProcessor_ReplaceTotalCellValues(t *testing.T) {
	table := NewColumnarTable(
		[]Field{
			{Name: "region", Type: FieldTypeString},
			{Name: "revenue", Type: FieldTypeFloating},
		},
		[]Column{
			{"east", nil},
			{10.0, 30.0},
		},
		map[string]bool{"revenue": true},
	)
	pp := NewPostProcessor(nil)
	pp.ReplaceTotalCellValues(table, rollupScope([]string{"region"}))

	col, _ := table.Column("region")
	require.Equal(t, DefaultTotalMarker, col[1])
	require.Equal(t, "east", col[0])
}

func TestPostProcessor_ReplaceTotalCellValues_CustomMarker(t *testing.T) {
	table := NewColumnarTable(
		[]Field{{Name: "region", Type: FieldTypeString}},
		[]Column{{nil}},
		map[string]bool{},
	)
	pp := NewPostProcessor(map[string]interface{}{"region": "ALL REGIONS"})
	pp.ReplaceTotalCellValues(table, rollupScope([]string{"region"}))

	col, _ := table.Column("region")
	require.Equal(t, "ALL REGIONS", col[0])
}

func TestPostProcessor_OrderRows_TotalsSortLastByDefault(t *testing.T) {
	table := NewColumnarTable(
		[]Field{
			{Name: "region", Type: FieldTypeString},
			{Name: "revenue", Type: FieldTypeFloating},
		},
		[]Column{
			{DefaultTotalMarker, "east", "west"},
			{100.0, 10.0, 20.0},
		},
		map[string]bool{"revenue": true},
	)
	pp := NewPostProcessor(nil)
	pp.OrderRows(table, []ColumnOrderSpec{{Field: "region"}})

	col, _ := table.Column("region")
	require.Equal(t, []interface{}{"east", "west", DefaultTotalMarker}, []interface{}(col))
}

func TestPostProcessor_OrderRows_ExplicitOrder(t *testing.T) {
	table := NewColumnarTable(
		[]Field{{Name: "quarter", Type: FieldTypeString}},
		[]Column{{"Q3", "Q1", "Q2"}},
		map[string]bool{},
	)
	pp := NewPostProcessor(nil)
	pp.OrderRows(table, []ColumnOrderSpec{{Field: "quarter", Explicit: []string{"Q1", "Q2", "Q3"}}})

	col, _ := table.Column("quarter")
	require.Equal(t, []interface{}{"Q1", "Q2", "Q3"}, []interface{}(col))
}

func TestTruncateToLimit(t *testing.T) {
	table := NewColumnarTable(
		[]Field{{Name: "region", Type: FieldTypeString}},
		[]Column{{"a", "b", "c"}},
		map[string]bool{},
	)
	var truncated bool
	TruncateToLimit(table, 2, func(t bool) { truncated = t })

	require.True(t, truncated)
	require.Equal(t, 2, table.Count())
}

func TestTruncateToLimit_NoOpWhenWithinLimit(t *testing.T) {
	table := NewColumnarTable(
		[]Field{{Name: "region", Type: FieldTypeString}},
		[]Column{{"a", "b"}},
		map[string]bool{},
	)
	var truncated bool
	TruncateToLimit(table, 10, func(t bool) { truncated = t })

	require.False(t, truncated)
	require.Equal(t, 2, table.Count())
}
