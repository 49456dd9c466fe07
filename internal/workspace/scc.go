package workspace

// tarjanSCC computes strongly connected components of the directed graph
// described by adj (id -> ids it has an edge to), per SPEC_FULL.md §4.3
// step 6's instruction to detect cycles with Tarjan's algorithm. Returns
// components in the order discovered; any component of size > 1, or a
// single-node component with a self-edge, is a cycle.
func tarjanSCC(ids []string, adj map[string][]string) [][]string {
	index := 0
	indices := make(map[string]int, len(ids))
	lowlink := make(map[string]int, len(ids))
	onStack := make(map[string]bool, len(ids))
	var stack []string
	var components [][]string

	var strongconnect func(v string)
	strongconnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range adj[v] {
			if _, seen := indices[w]; !seen {
				strongconnect(w)
				if lowlink[w] < lowlink[v] {
					lowlink[v] = lowlink[w]
				}
			} else if onStack[w] {
				if indices[w] < lowlink[v] {
					lowlink[v] = indices[w]
				}
			}
		}

		if lowlink[v] == indices[v] {
			var component []string
			for {
				n := len(stack) - 1
				w := stack[n]
				stack = stack[:n]
				onStack[w] = false
				component = append(component, w)
				if w == v {
					break
				}
			}
			components = append(components, component)
		}
	}

	for _, id := range ids {
		if _, seen := indices[id]; !seen {
			strongconnect(id)
		}
	}
	return components
}

// findCycle returns the first non-trivial cycle (SCC of size > 1, or a
// single node with a self-edge) as an ordered id path v0 -> v1 -> ... ->
// v0, or nil if the graph is acyclic.
func findCycle(ids []string, adj map[string][]string) []string {
	for _, comp := range tarjanSCC(ids, adj) {
		if len(comp) > 1 {
			return orderCycle(comp, adj)
		}
		if len(comp) == 1 {
			v := comp[0]
			for _, w := range adj[v] {
				if w == v {
					return []string{v, v}
				}
			}
		}
	}
	return nil
}

// orderCycle walks a strongly connected component following real edges to
// produce a readable a -> b -> c -> a path instead of an arbitrary SCC
// member order.
func orderCycle(comp []string, adj map[string][]string) []string {
	in := make(map[string]bool, len(comp))
	for _, v := range comp {
		in[v] = true
	}
	start := comp[0]
	for _, v := range comp {
		if v < start {
			start = v
		}
	}
	path := []string{start}
	cur := start
	for i := 0; i < len(comp); i++ {
		next := ""
		for _, w := range adj[cur] {
			if in[w] {
				next = w
				break
			}
		}
		if next == "" {
			break
		}
		path = append(path, next)
		if next == start {
			break
		}
		cur = next
	}
	return path
}
