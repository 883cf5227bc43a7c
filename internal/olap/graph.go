package olap

// NodeKey identifies one (scope, measure) pair in the dependency graph.
// Two nodes with the same key are fungible; deduplication happens by
// equality of this composite key.
type NodeKey struct {
	Scope   QueryScope
	Measure Measure
}

func (k NodeKey) id() string { return k.Scope.key() + "||" + k.Measure.Alias() }

// DependencyGraph is an acyclic multi-rooted DAG of NodeKeys. Insertion
// order is preserved so ExecutionPlan's topological sort is deterministic
// across runs.
type DependencyGraph struct {
	nodes map[string]NodeKey
	order []string   // insertion order of node ids
	needs map[string][]string // id -> ids it depends on (edges: needed -> needs)
}

func newDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		nodes: map[string]NodeKey{},
		needs: map[string][]string{},
	}
}

func (g *DependencyGraph) addNode(nk NodeKey) {
	id := nk.id()
	if _, ok := g.nodes[id]; !ok {
		g.nodes[id] = nk
		g.order = append(g.order, id)
	}
}

func (g *DependencyGraph) addEdge(from, to string) {
	for _, existing := range g.needs[from] {
		if existing == to {
			return
		}
	}
	g.needs[from] = append(g.needs[from], to)
}

// Nodes returns all nodes in insertion order.
func (g *DependencyGraph) Nodes() []NodeKey {
	out := make([]NodeKey, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id])
	}
	return out
}

// GenerateGroupingMeasures returns the GROUPING(field) measures a scope
// requires because it rolls up or uses grouping sets over those fields.
func GenerateGroupingMeasures(scope QueryScope) []Measure {
	fields := scope.RollupFields()
	out := make([]Measure, 0, len(fields))
	for _, f := range fields {
		out = append(out, &PrimitiveMeasure{
			AliasName: groupingAlias(f),
			Field:     f,
			Function:  AggGrouping,
			Grouping:  true,
		})
	}
	return out
}

func dedupMeasures(measures []Measure) []Measure {
	seen := map[string]bool{}
	out := make([]Measure, 0, len(measures))
	for _, m := range measures {
		if !seen[m.Alias()] {
			seen[m.Alias()] = true
			out = append(out, m)
		}
	}
	return out
}

// BuildDependencyGraph closes the transitive requirement set of the
// user-requested measures (plus the always-required COUNT and any
// grouping measures implied by rollups/grouping-sets) into a DAG.
// Termination is guaranteed because measure trees are finite and scope
// transformations (shiftedScope) are monotone.
func BuildDependencyGraph(measures []Measure, rootScope QueryScope) *DependencyGraph {
	g := newDependencyGraph()

	queried := append([]Measure(nil), measures...)
	queried = append(queried, CountMeasure)
	queried = append(queried, GenerateGroupingMeasures(rootScope)...)
	queried = dedupMeasures(queried)

	type workItem struct{ nk NodeKey }
	var worklist []workItem
	for _, m := range queried {
		worklist = append(worklist, workItem{NodeKey{rootScope, m}})
	}

	visited := map[string]bool{}
	for len(worklist) > 0 {
		item := worklist[0]
		worklist = worklist[1:]
		id := item.nk.id()
		if visited[id] {
			continue
		}
		visited[id] = true
		g.addNode(item.nk)

		deps := prerequisites(item.nk.Measure, item.nk.Scope)
		var depNodes []NodeKey
		for _, dep := range deps.entries() {
			for _, m := range dep.Measures {
				depNodes = append(depNodes, NodeKey{dep.Scope, m})
			}
			for _, gm := range GenerateGroupingMeasures(dep.Scope) {
				depNodes = append(depNodes, NodeKey{dep.Scope, gm})
			}
		}

		for _, dn := range depNodes {
			g.addEdge(id, dn.id())
			if !visited[dn.id()] {
				worklist = append(worklist, workItem{dn})
			}
		}
	}

	return g
}
