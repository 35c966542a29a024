package flowgraph

import "sort"

// Status values of an AnalysisResult.
const (
	StatusHealthy  = "healthy"
	StatusWarnings = "warnings"
)

// AnalysisResult contains the results of connectivity analysis
type AnalysisResult struct {
	ConnectedComponents [][]string `json:"connected_components"`
	DisconnectedNodes   []string   `json:"disconnected_nodes"`
	UnconnectedInputs   []PortRef  `json:"unconnected_inputs"`
	UnreadOutputs       []PortRef  `json:"unread_outputs"`
	Cyclic              bool       `json:"cyclic"`
	ValidationStatus    string     `json:"validation_status"`
}

// AnalyzeConnectivity reports clusters, isolated handlers and dangling ports.
// An unconnected input reads nothing and is reported as a warning; an
// unread output is informational, since sinks of a graph are legitimate.
// Feedback loops are legal with latest-read ports and only flagged.
func (g *FlowGraph) AnalyzeConnectivity() *AnalysisResult {
	result := &AnalysisResult{
		ConnectedComponents: g.findConnectedComponents(),
		DisconnectedNodes:   []string{},
		UnconnectedInputs:   []PortRef{},
		UnreadOutputs:       []PortRef{},
		Cyclic:              g.hasCycle(),
		ValidationStatus:    StatusHealthy,
	}

	linkedIn := make(map[PortRef]bool)
	linkedOut := make(map[PortRef]bool)
	touched := make(map[string]bool)
	for _, e := range g.edges {
		linkedOut[e.From] = true
		linkedIn[e.To] = true
		touched[e.From.HandlerID] = true
		touched[e.To.HandlerID] = true
	}

	for _, id := range g.order {
		node := g.nodes[id]
		if !touched[id] && len(g.nodes) > 1 {
			result.DisconnectedNodes = append(result.DisconnectedNodes, id)
		}
		for _, p := range node.Inputs {
			ref := PortRef{HandlerID: id, PortName: p.Name}
			if !linkedIn[ref] && !p.Connected {
				result.UnconnectedInputs = append(result.UnconnectedInputs, ref)
			}
		}
		for _, p := range node.Outputs {
			ref := PortRef{HandlerID: id, PortName: p.Name}
			if !linkedOut[ref] && !p.Connected {
				result.UnreadOutputs = append(result.UnreadOutputs, ref)
			}
		}
	}

	if len(result.DisconnectedNodes) > 0 || len(result.UnconnectedInputs) > 0 {
		result.ValidationStatus = StatusWarnings
	}
	return result
}

// findConnectedComponents uses DFS over edges treated as undirected.
func (g *FlowGraph) findConnectedComponents() [][]string {
	adj := make(map[string][]string)
	for _, e := range g.edges {
		adj[e.From.HandlerID] = append(adj[e.From.HandlerID], e.To.HandlerID)
		adj[e.To.HandlerID] = append(adj[e.To.HandlerID], e.From.HandlerID)
	}

	visited := make(map[string]bool)
	components := [][]string{}
	for _, id := range g.order {
		if visited[id] {
			continue
		}
		var cluster []string
		dfs(id, adj, visited, &cluster)
		sort.Strings(cluster)
		components = append(components, cluster)
	}
	return components
}

func dfs(node string, adj map[string][]string, visited map[string]bool, cluster *[]string) {
	visited[node] = true
	*cluster = append(*cluster, node)

	for _, neighbor := range adj[node] {
		if !visited[neighbor] {
			dfs(neighbor, adj, visited, cluster)
		}
	}
}

// hasCycle runs a colored DFS over directed edges.
func (g *FlowGraph) hasCycle() bool {
	next := make(map[string][]string)
	for _, e := range g.edges {
		next[e.From.HandlerID] = append(next[e.From.HandlerID], e.To.HandlerID)
	}

	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int)

	var visit func(string) bool
	visit = func(n string) bool {
		color[n] = grey
		for _, m := range next[n] {
			switch color[m] {
			case grey:
				return true
			case white:
				if visit(m) {
					return true
				}
			}
		}
		color[n] = black
		return false
	}

	for _, id := range g.order {
		if color[id] == white && visit(id) {
			return true
		}
	}
	return false
}
