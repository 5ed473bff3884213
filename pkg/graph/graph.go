package graph

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"rcgraph/pkg/logger"
	"rcgraph/pkg/memory"
)

// Graph is a registry of nodes allocated through it. It holds only weak
// handles, so it never keeps a node alive; callers own the strong
// handles Add returns. The registry exists for introspection: counts,
// leaked allocations, strong cycles and snapshots.
type Graph struct {
	id   uuid.UUID
	mode memory.Mode
	lggr logger.Logger

	mu     sync.Mutex
	nextID NodeID
	nodes  map[NodeID]*memory.Weak[Node]

	stats counters
}

// Stats tracks node lifecycle events for a Graph.
type Stats struct {
	NodesCreated   int64 `yaml:"nodes_created"`
	NodesDropped   int64 `yaml:"nodes_dropped"`
	StrongLinks    int64 `yaml:"strong_links"`
	WeakLinks      int64 `yaml:"weak_links"`
	Unlinks        int64 `yaml:"unlinks"`
	UpgradesOK     int64 `yaml:"upgrades_ok"`
	UpgradesFailed int64 `yaml:"upgrades_failed"`
	RegistryPruned int64 `yaml:"registry_pruned"`
}

type counters struct {
	created, dropped        atomic.Int64
	strongLinks, weakLinks  atomic.Int64
	unlinks                 atomic.Int64
	upgradesOK, upgradesBad atomic.Int64
	pruned                  atomic.Int64
}

// New creates an empty graph whose nodes use mode.
func New(mode memory.Mode, lggr logger.Logger) *Graph {
	if lggr == nil {
		lggr = logger.Nop()
	}
	id := uuid.New()
	return &Graph{
		id:    id,
		mode:  mode,
		lggr:  lggr.Named("graph").With("graph_id", id.String()),
		nodes: make(map[NodeID]*memory.Weak[Node]),
	}
}

// ID is unique per Graph and tags its log lines.
func (g *Graph) ID() uuid.UUID { return g.id }

// Mode is the mode every node of g is allocated with.
func (g *Graph) Mode() memory.Mode { return g.mode }

// Add allocates a node and returns the caller's strong handle to it.
func (g *Graph) Add(payload int) *memory.Strong[Node] {
	g.mu.Lock()
	g.nextID++
	id := g.nextID
	g.mu.Unlock()

	h := newNode(g.mode, id, payload, memory.WithDropHook(func(n Node) {
		g.stats.dropped.Add(1)
		g.lggr.Debugw("node dropped", "node", n.id, "payload", n.Payload)
	}))

	g.mu.Lock()
	g.nodes[id] = h.Downgrade()
	g.mu.Unlock()

	g.stats.created.Add(1)
	g.lggr.Debugw("node allocated", "node", id, "payload", payload)
	return h
}

// Link sets a strong edge from -> to. A nil to behaves like Unlink.
func (g *Graph) Link(from, to *memory.Strong[Node]) {
	if to == nil {
		g.Unlink(from)
		return
	}
	SetNext(from, to)
	g.stats.strongLinks.Add(1)
	g.lggr.Debugw("strong edge set", "from", from.Ptr().ID(), "to", to.Ptr().ID())
}

// LinkWeak sets a weak edge from -> to. A nil to behaves like Unlink.
func (g *Graph) LinkWeak(from, to *memory.Strong[Node]) {
	if to == nil {
		g.Unlink(from)
		return
	}
	SetNextWeak(from, to)
	g.stats.weakLinks.Add(1)
	g.lggr.Debugw("weak edge set", "from", from.Ptr().ID(), "to", to.Ptr().ID())
}

// Unlink sets the edge of from to End.
func (g *Graph) Unlink(from *memory.Strong[Node]) {
	ClearNext(from)
	g.stats.unlinks.Add(1)
	g.lggr.Debugw("edge cleared", "from", from.Get().id)
}

// Next is the package level Next with upgrade accounting.
func (g *Graph) Next(node *memory.Strong[Node]) (*memory.Strong[Node], bool) {
	kind := NextKind(node)
	next, ok := Next(node)
	if kind == LinkWeak {
		if ok {
			g.stats.upgradesOK.Add(1)
		} else {
			g.stats.upgradesBad.Add(1)
			g.lggr.Debugw("weak edge target gone", "from", node.Get().id)
		}
	}
	return next, ok
}

// Node returns a new strong handle to a live node by id.
func (g *Graph) Node(id NodeID) (*memory.Strong[Node], bool) {
	g.mu.Lock()
	w, ok := g.nodes[id]
	g.mu.Unlock()
	if !ok {
		return nil, false
	}
	return w.Upgrade()
}

// Live returns the ids of nodes whose values have not been dropped.
func (g *Graph) Live() []NodeID {
	g.mu.Lock()
	defer g.mu.Unlock()
	var ids []NodeID
	for id, w := range g.nodes {
		if !w.Dropped() {
			ids = append(ids, id)
		}
	}
	sortIDs(ids)
	return ids
}

// Len returns the number of registry entries, live or not.
func (g *Graph) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.nodes)
}

// Prune removes registry entries for dropped nodes and releases the
// registry's weak handles to them.
func (g *Graph) Prune() int {
	g.mu.Lock()
	var dead []*memory.Weak[Node]
	for id, w := range g.nodes {
		if w.Dropped() {
			dead = append(dead, w)
			delete(g.nodes, id)
		}
	}
	g.mu.Unlock()

	for _, w := range dead {
		w.Release()
	}
	g.stats.pruned.Add(int64(len(dead)))
	if len(dead) > 0 {
		g.lggr.Debugw("registry pruned", "entries", len(dead))
	}
	return len(dead)
}

// Stats returns a copy of the lifecycle counters.
func (g *Graph) Stats() Stats {
	return Stats{
		NodesCreated:   g.stats.created.Load(),
		NodesDropped:   g.stats.dropped.Load(),
		StrongLinks:    g.stats.strongLinks.Load(),
		WeakLinks:      g.stats.weakLinks.Load(),
		Unlinks:        g.stats.unlinks.Load(),
		UpgradesOK:     g.stats.upgradesOK.Load(),
		UpgradesFailed: g.stats.upgradesBad.Load(),
		RegistryPruned: g.stats.pruned.Load(),
	}
}

// Close releases the registry's weak handles. Nodes still owned by
// callers (or by leaked cycles) are unaffected.
func (g *Graph) Close() {
	g.mu.Lock()
	nodes := g.nodes
	g.nodes = make(map[NodeID]*memory.Weak[Node])
	g.mu.Unlock()
	for _, w := range nodes {
		w.Release()
	}
}

func sortIDs(ids []NodeID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
