// Package flowgraph provides a snapshot of a runtime's handler graph and
// connectivity analysis over it.
package flowgraph

import (
	"fmt"
	"sort"

	"github.com/tatolab/streamlib-sub000/component"
)

// FlowGraph is a directed graph of handlers connected port to port.
type FlowGraph struct {
	nodes map[string]*Node
	order []string
	edges []Edge
}

// Node is one handler in the graph.
type Node struct {
	ID      string     `json:"id"`
	State   string     `json:"state"`
	Lane    string     `json:"lane,omitempty"`
	Bridge  bool       `json:"bridge,omitempty"`
	Inputs  []PortInfo `json:"inputs"`
	Outputs []PortInfo `json:"outputs"`
}

// PortInfo describes a port at snapshot time.
type PortInfo struct {
	Name         string   `json:"name"`
	Kind         string   `json:"kind"`
	ElemType     string   `json:"elem_type"`
	Capabilities []string `json:"capabilities"`
	Negotiated   string   `json:"negotiated,omitempty"`
	// Links holds an output's negotiated capability per connection.
	Links     []string `json:"links,omitempty"`
	Connected bool     `json:"connected"`
}

// PortRef references a port on a handler.
type PortRef struct {
	HandlerID string `json:"handler_id"`
	PortName  string `json:"port_name"`
}

func (r PortRef) String() string {
	return r.HandlerID + "." + r.PortName
}

// Edge is a direct output to input link.
type Edge struct {
	From       PortRef `json:"from"`
	To         PortRef `json:"to"`
	Capability string  `json:"capability"`
	// Bridged marks the two halves of a connection routed through a bridge handler.
	Bridged bool `json:"bridged,omitempty"`
}

// NodeOption annotates a node.
type NodeOption func(*Node)

// WithLane records the execution lane.
func WithLane(lane string) NodeOption {
	return func(n *Node) { n.Lane = lane }
}

// AsBridge marks the node as a runtime-inserted bridge.
func AsBridge() NodeOption {
	return func(n *Node) { n.Bridge = true }
}

// NewFlowGraph creates a new empty FlowGraph
func NewFlowGraph() *FlowGraph {
	return &FlowGraph{
		nodes: make(map[string]*Node),
	}
}

// AddHandlerNode adds a handler as a node, reading its declared ports.
func (g *FlowGraph) AddHandlerNode(h component.Handler, state component.State, opts ...NodeOption) error {
	if h == nil {
		return fmt.Errorf("handler cannot be nil")
	}
	id := h.ID()
	if id == "" {
		return fmt.Errorf("handler id cannot be empty")
	}
	if _, exists := g.nodes[id]; exists {
		return fmt.Errorf("handler %s already exists in graph", id)
	}

	node := &Node{
		ID:      id,
		State:   state.String(),
		Inputs:  make([]PortInfo, 0),
		Outputs: make([]PortInfo, 0),
	}
	for _, in := range h.Ports().Inputs() {
		node.Inputs = append(node.Inputs, PortInfo{
			Name:         in.Name(),
			Kind:         string(in.Kind()),
			ElemType:     in.ElemType().String(),
			Capabilities: in.Accepts().Strings(),
			Negotiated:   string(in.Negotiated()),
			Connected:    in.Connected(),
		})
	}
	for _, out := range h.Ports().Outputs() {
		node.Outputs = append(node.Outputs, PortInfo{
			Name:         out.Name(),
			Kind:         string(out.Kind()),
			ElemType:     out.ElemType().String(),
			Capabilities: out.Capabilities().Strings(),
			Links:        component.Capabilities(out.Links()).Strings(),
			Connected:    out.Connections() > 0,
		})
	}
	for _, opt := range opts {
		opt(node)
	}

	g.nodes[id] = node
	g.order = append(g.order, id)
	return nil
}

// AddEdge records a link between two nodes already in the graph.
func (g *FlowGraph) AddEdge(e Edge) error {
	from, ok := g.nodes[e.From.HandlerID]
	if !ok {
		return fmt.Errorf("edge source %s not in graph", e.From.HandlerID)
	}
	to, ok := g.nodes[e.To.HandlerID]
	if !ok {
		return fmt.Errorf("edge target %s not in graph", e.To.HandlerID)
	}
	if !hasPort(from.Outputs, e.From.PortName) {
		return fmt.Errorf("handler %s has no output %s", from.ID, e.From.PortName)
	}
	if !hasPort(to.Inputs, e.To.PortName) {
		return fmt.Errorf("handler %s has no input %s", to.ID, e.To.PortName)
	}
	g.edges = append(g.edges, e)
	return nil
}

func hasPort(ports []PortInfo, name string) bool {
	for _, p := range ports {
		if p.Name == name {
			return true
		}
	}
	return false
}

// Node returns a copy of the node for id.
func (g *FlowGraph) Node(id string) (Node, bool) {
	n, ok := g.nodes[id]
	if !ok {
		return Node{}, false
	}
	return copyNode(n), true
}

// Nodes returns copies of all nodes in insertion order.
func (g *FlowGraph) Nodes() []Node {
	result := make([]Node, 0, len(g.order))
	for _, id := range g.order {
		result = append(result, copyNode(g.nodes[id]))
	}
	return result
}

func copyNode(n *Node) Node {
	c := *n
	c.Inputs = append([]PortInfo(nil), n.Inputs...)
	c.Outputs = append([]PortInfo(nil), n.Outputs...)
	return c
}

// Edges returns a copy of the edges.
func (g *FlowGraph) Edges() []Edge {
	return append([]Edge(nil), g.edges...)
}

// Downstream returns the IDs fed by id, sorted.
func (g *FlowGraph) Downstream(id string) []string {
	seen := make(map[string]bool)
	for _, e := range g.edges {
		if e.From.HandlerID == id {
			seen[e.To.HandlerID] = true
		}
	}
	return sortedKeys(seen)
}

// Upstream returns the IDs feeding id, sorted.
func (g *FlowGraph) Upstream(id string) []string {
	seen := make(map[string]bool)
	for _, e := range g.edges {
		if e.To.HandlerID == id {
			seen[e.From.HandlerID] = true
		}
	}
	return sortedKeys(seen)
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Snapshot is the serializable form of a FlowGraph.
type Snapshot struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Snapshot returns the serializable form.
func (g *FlowGraph) Snapshot() Snapshot {
	return Snapshot{Nodes: g.Nodes(), Edges: g.Edges()}
}
