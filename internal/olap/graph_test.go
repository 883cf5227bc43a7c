package olap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildDependencyGraph_ClosesComparisonAndComputedPrerequisites(t *testing.T) {
	scope := salesScope([]string{"region", "quarter"}, 100)
	base := &PrimitiveMeasure{AliasName: "revenue", Field: "amount", Function: AggSum}
	cost := &PrimitiveMeasure{AliasName: "cost", Field: "cost", Function: AggSum}
	margin := &ComputedMeasure{AliasName: "margin", Operator: OpDivide, Left: base, Right: cost, Ratio: true}
	growth := &ComparisonMeasure{
		AliasName: "growth", Base: base, Reference: RefPreviousPeriod, ShiftField: "quarter", Operator: OpMinus,
	}

	graph := BuildDependencyGraph([]Measure{margin, growth}, scope)
	nodes := graph.Nodes()

	byAlias := map[string]int{}
	for _, nk := range nodes {
		byAlias[nk.Measure.Alias()]++
	}

	// margin and growth are themselves nodes (computed/comparison get
	// evaluated, not just their leaves)...
	require.Equal(t, 1, byAlias["margin"])
	require.Equal(t, 1, byAlias["growth"])
	// ...and their primitive leaves are present too, including revenue at
	// the shifted scope the comparison measure needs.
	require.GreaterOrEqual(t, byAlias["revenue"], 2)
	require.Equal(t, 1, byAlias["cost"])
	// COUNT is always required.
	require.Equal(t, 1, byAlias["count"])
}

func TestBuildDependencyGraph_RollupAddsGroupingMeasures(t *testing.T) {
	scope := QueryScope{TableRef: "sales", Columns: []string{"region", "quarter"}, RollupColumns: []string{"region", "quarter"}, Limit: 100}
	revenue := &PrimitiveMeasure{AliasName: "revenue", Field: "amount", Function: AggSum}

	graph := BuildDependencyGraph([]Measure{revenue}, scope)
	var groupingAliases []string
	for _, nk := range graph.Nodes() {
		if pm, ok := nk.Measure.(*PrimitiveMeasure); ok && pm.Grouping {
			groupingAliases = append(groupingAliases, pm.Alias())
		}
	}
	require.Len(t, groupingAliases, 2)
}

func TestExecutionPlan_VisitsDependenciesBeforeDependents(t *testing.T) {
	scope := salesScope([]string{"region"}, 100)
	base := &PrimitiveMeasure{AliasName: "revenue", Field: "amount", Function: AggSum}
	cost := &PrimitiveMeasure{AliasName: "cost", Field: "cost", Function: AggSum}
	margin := &ComputedMeasure{AliasName: "margin", Operator: OpDivide, Left: base, Right: cost, Ratio: true}

	graph := BuildDependencyGraph([]Measure{margin}, scope)

	var visitOrder []string
	NewExecutionPlan(graph, func(nk NodeKey) {
		visitOrder = append(visitOrder, nk.Measure.Alias())
	}).Execute()

	position := map[string]int{}
	for i, a := range visitOrder {
		position[a] = i
	}
	require.Less(t, position["revenue"], position["margin"])
	require.Less(t, position["cost"], position["margin"])
}
