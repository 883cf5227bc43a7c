package olap

// ExecutionPlan topologically orders a DependencyGraph and invokes a
// callback once per node in that order. It uses Kahn's algorithm with a
// FIFO-queue tie-break on equal in-degree so that the
// resulting order is deterministic and matches insertion order whenever
// multiple orders are valid — this keeps tests reproducible.
type ExecutionPlan struct {
	graph    *DependencyGraph
	callback func(NodeKey)
}

// NewExecutionPlan builds a plan that will invoke callback once per node,
// in dependency order (a node's dependencies are visited before it).
func NewExecutionPlan(graph *DependencyGraph, callback func(NodeKey)) *ExecutionPlan {
	return &ExecutionPlan{graph: graph, callback: callback}
}

// Execute runs the plan. Edges in the graph point from a node to the nodes
// it needs, so execution order visits a node's dependencies first by
// walking the reversed graph (needs has no unresolved predecessor left).
func (p *ExecutionPlan) Execute() []NodeKey {
	g := p.graph

	// inDegree here counts, for each node, how many other nodes still need
	// to be executed before it (i.e. how many of its dependencies remain
	// unresolved).
	inDegree := map[string]int{}
	dependents := map[string][]string{} // dependency id -> ids that need it
	for _, id := range g.order {
		if _, ok := inDegree[id]; !ok {
			inDegree[id] = 0
		}
		for _, dep := range g.needs[id] {
			inDegree[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	queue := make([]string, 0, len(g.order))
	for _, id := range g.order {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	visited := make(map[string]bool, len(g.order))
	order := make([]NodeKey, 0, len(g.order))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true
		nk := g.nodes[id]
		order = append(order, nk)
		if p.callback != nil {
			p.callback(nk)
		}
		for _, dependent := range dependents[id] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	return order
}
