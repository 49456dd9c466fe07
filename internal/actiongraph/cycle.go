package actiongraph

// tarjanSCC and findCycle duplicate the small Tarjan's-SCC walk in
// internal/workspace/scc.go over this package's own node-key adjacency;
// kept package-local since the workspace package's implementation is
// unexported and the two graphs have different vertex identities.
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

func orderCycle(comp []string, adj map[string][]string) []string {
	in := make(map[string]bool, len(comp))
	for _, v := range comp {
		in[v] = true
	}
	start := comp[0]
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
