package graph

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"rcgraph/pkg/memory"
)

// Leak and cycle introspection
//
// Every node's strong count splits into:
// - internal: strong edges from other registered nodes
// - external: everything else (caller handles, standalone nodes, other graphs)
//
// Nodes with external > 0 are roots. A live node that cannot be reached
// from a root through strong edges is kept alive only by other unreachable
// nodes: a strong cycle, or a chain hanging off one. Those are reported as
// leaked. Nothing here breaks the cycle; the caller decides which edge
// should have been weak.

// Report is the result of Analyze.
type Report struct {
	Live   []NodeID
	Leaked []NodeID
	// Cycles are strongly connected components over strong edges: rings
	// of two or more nodes and self loops.
	Cycles [][]NodeID
}

type nodeView struct {
	id       NodeID
	payload  int
	handle   *memory.Strong[Node] // nil once dropped
	strong   int64                // excluding the analysis handle
	weak     int64                // excluding the registry handle
	link     Link
	internal int64
}

// gather upgrades every registry entry under the lock and reads the
// counts and edges. The caller must release the views.
func (g *Graph) gather() map[NodeID]*nodeView {
	views := make(map[NodeID]*nodeView)
	g.mu.Lock()
	for id, w := range g.nodes {
		v := &nodeView{id: id}
		if h, ok := w.Upgrade(); ok {
			v.handle = h
		} else {
			v.weak = w.WeakCount() - 1
		}
		views[id] = v
	}
	g.mu.Unlock()

	for _, v := range views {
		if v.handle == nil {
			continue
		}
		n := v.handle.Ptr()
		v.payload = n.Payload
		v.link = memory.Load(n.next)
	}
	for _, v := range views {
		if v.handle == nil || v.link.kind != LinkStrong {
			continue
		}
		if t, ok := views[v.link.target]; ok && t.handle != nil {
			t.internal++
		}
	}
	for _, v := range views {
		if v.handle == nil {
			continue
		}
		v.strong = v.handle.StrongCount() - 1
		v.weak = v.handle.WeakCount() - 1
	}
	return views
}

func releaseViews(views map[NodeID]*nodeView) {
	for _, v := range views {
		if v.handle != nil {
			v.handle.Release()
		}
	}
}

// Analyze computes live, leaked and cyclic nodes.
func (g *Graph) Analyze() Report {
	views := g.gather()
	defer releaseViews(views)
	return g.analyze(views)
}

func (g *Graph) analyze(views map[NodeID]*nodeView) Report {
	var rep Report
	reachable := make(map[NodeID]bool)
	var stack []NodeID
	for id, v := range views {
		if v.handle == nil {
			continue
		}
		rep.Live = append(rep.Live, id)
		if v.strong-v.internal > 0 {
			reachable[id] = true
			stack = append(stack, id)
		}
	}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		v := views[id]
		if v.link.kind != LinkStrong {
			continue
		}
		if t, ok := views[v.link.target]; ok && t.handle != nil && !reachable[t.id] {
			reachable[t.id] = true
			stack = append(stack, t.id)
		}
	}
	for _, id := range rep.Live {
		if !reachable[id] {
			rep.Leaked = append(rep.Leaked, id)
		}
	}
	sortIDs(rep.Live)
	sortIDs(rep.Leaked)
	rep.Cycles = strongCycles(views)

	if len(rep.Leaked) > 0 {
		g.lggr.Warnw("leaked nodes: strong cycle with no external owner",
			"leaked", rep.Leaked, "cycles", len(rep.Cycles))
	}
	return rep
}

// Leaked returns live nodes kept alive only by unreachable strong edges.
func (g *Graph) Leaked() []NodeID {
	return g.Analyze().Leaked
}

// Cycles returns the strong cycles among live nodes.
func (g *Graph) Cycles() [][]NodeID {
	views := g.gather()
	defer releaseViews(views)
	return strongCycles(views)
}

// tarjan holds Tarjan's SCC state over the strong edges of a gather.
type tarjan struct {
	views   map[NodeID]*nodeView
	index   map[NodeID]int
	lowlink map[NodeID]int
	onStack map[NodeID]bool
	stack   []NodeID
	next    int
	sccs    [][]NodeID
}

func strongCycles(views map[NodeID]*nodeView) [][]NodeID {
	t := &tarjan{
		views:   views,
		index:   make(map[NodeID]int),
		lowlink: make(map[NodeID]int),
		onStack: make(map[NodeID]bool),
	}
	ids := make([]NodeID, 0, len(views))
	for id, v := range views {
		if v.handle != nil {
			ids = append(ids, id)
		}
	}
	sortIDs(ids)
	for _, id := range ids {
		if _, seen := t.index[id]; !seen {
			t.strongConnect(id)
		}
	}
	return t.sccs
}

func (t *tarjan) successor(id NodeID) (NodeID, bool) {
	v := t.views[id]
	if v.link.kind != LinkStrong {
		return 0, false
	}
	s, ok := t.views[v.link.target]
	if !ok || s.handle == nil {
		return 0, false
	}
	return s.id, true
}

func (t *tarjan) strongConnect(v NodeID) {
	t.index[v] = t.next
	t.lowlink[v] = t.next
	t.next++
	t.stack = append(t.stack, v)
	t.onStack[v] = true

	if w, ok := t.successor(v); ok {
		if _, seen := t.index[w]; !seen {
			t.strongConnect(w)
			t.lowlink[v] = min(t.lowlink[v], t.lowlink[w])
		} else if t.onStack[w] {
			t.lowlink[v] = min(t.lowlink[v], t.index[w])
		}
	}

	if t.lowlink[v] != t.index[v] {
		return
	}
	var scc []NodeID
	for {
		w := t.stack[len(t.stack)-1]
		t.stack = t.stack[:len(t.stack)-1]
		t.onStack[w] = false
		scc = append(scc, w)
		if w == v {
			break
		}
	}
	if len(scc) > 1 || t.selfLoop(v) {
		sortIDs(scc)
		t.sccs = append(t.sccs, scc)
	}
}

func (t *tarjan) selfLoop(id NodeID) bool {
	w, ok := t.successor(id)
	return ok && w == id
}

// Snapshot is a serialisable view of a graph at one moment.
type Snapshot struct {
	GraphID string         `yaml:"graph_id"`
	Mode    string         `yaml:"mode"`
	Nodes   []NodeSnapshot `yaml:"nodes"`
	Leaked  []NodeID       `yaml:"leaked,omitempty"`
	Cycles  [][]NodeID     `yaml:"cycles,omitempty"`
	Stats   Stats          `yaml:"stats"`
}

// NodeSnapshot reports counts as seen by callers: the registry's weak
// handle and the snapshot's own temporary strong handle are excluded.
type NodeSnapshot struct {
	ID      NodeID        `yaml:"id"`
	Payload int           `yaml:"payload"`
	Dropped bool          `yaml:"dropped,omitempty"`
	Strong  int64         `yaml:"strong"`
	Weak    int64         `yaml:"weak"`
	Next    *EdgeSnapshot `yaml:"next,omitempty"`
}

// EdgeSnapshot is a node's outgoing edge at snapshot time.
type EdgeSnapshot struct {
	Kind   string `yaml:"kind"`
	Target NodeID `yaml:"target"`
}

// Snapshot captures every registry entry with its counts and edge.
func (g *Graph) Snapshot() Snapshot {
	views := g.gather()
	defer releaseViews(views)
	rep := g.analyze(views)

	ids := make([]NodeID, 0, len(views))
	for id := range views {
		ids = append(ids, id)
	}
	sortIDs(ids)

	snap := Snapshot{
		GraphID: g.id.String(),
		Mode:    g.mode.String(),
		Leaked:  rep.Leaked,
		Cycles:  rep.Cycles,
		Stats:   g.Stats(),
	}
	for _, id := range ids {
		v := views[id]
		ns := NodeSnapshot{
			ID:      id,
			Payload: v.payload,
			Dropped: v.handle == nil,
			Strong:  v.strong,
			Weak:    v.weak,
		}
		if v.handle != nil && v.link.kind != LinkEnd {
			ns.Next = &EdgeSnapshot{Kind: v.link.kind.String(), Target: v.link.target}
		}
		snap.Nodes = append(snap.Nodes, ns)
	}
	return snap
}

// WriteYAML encodes a snapshot of g to w.
func (g *Graph) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(g.Snapshot()); err != nil {
		return fmt.Errorf("encode graph snapshot: %w", err)
	}
	return enc.Close()
}
