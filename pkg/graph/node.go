// Package graph builds linked, possibly cyclic structures out of
// reference-counted nodes.
//
// Each Node owns one outgoing edge held in a runtime-checked cell, so the
// edge can be set after the node has been shared. An edge is End, a
// strong handle, or a weak handle. Strong-only cycles leak by design; a
// weak edge anywhere in the cycle lets the whole structure drop.
package graph

import (
	"fmt"

	"rcgraph/pkg/memory"
)

// NodeID identifies a node inside a Graph. Standalone nodes have ID 0.
type NodeID uint64

// LinkKind is the kind of a node's outgoing edge.
type LinkKind int

// Edge kinds. LinkEnd is the zero value.
const (
	LinkEnd LinkKind = iota
	LinkStrong
	LinkWeak
)

func (k LinkKind) String() string {
	switch k {
	case LinkStrong:
		return "strong"
	case LinkWeak:
		return "weak"
	default:
		return "end"
	}
}

// Link is the value stored in a node's next cell. The zero Link is End.
type Link struct {
	kind   LinkKind
	target NodeID
	strong *memory.Strong[Node]
	weak   *memory.Weak[Node]
}

// EndLink returns a Link with no target.
func EndLink() Link { return Link{} }

// strongLink takes ownership of h.
func strongLink(h *memory.Strong[Node], target NodeID) Link {
	return Link{kind: LinkStrong, target: target, strong: h}
}

// weakLink takes ownership of w.
func weakLink(w *memory.Weak[Node], target NodeID) Link {
	return Link{kind: LinkWeak, target: target, weak: w}
}

// Kind reports whether the edge is strong, weak or absent.
func (l Link) Kind() LinkKind { return l.kind }

// Target is the id of the node the edge points at, 0 for End and for
// standalone targets.
func (l Link) Target() NodeID { return l.target }

// IsEnd reports whether l has no target.
func (l Link) IsEnd() bool { return l.kind == LinkEnd }

func (l Link) release() {
	switch l.kind {
	case LinkStrong:
		l.strong.Release()
	case LinkWeak:
		l.weak.Release()
	}
}

// resolve returns a new strong handle to the link target, if reachable.
func (l Link) resolve() (*memory.Strong[Node], bool) {
	switch l.kind {
	case LinkStrong:
		return l.strong.Clone(), true
	case LinkWeak:
		return l.weak.Upgrade()
	}
	return nil, false
}

// Node is one element of a linked structure.
type Node struct {
	Payload int

	id   NodeID
	next memory.Cell[Link]
}

// ID returns the id the owning Graph assigned, 0 for standalone nodes.
// Value receivers let callers use it directly on Strong.Get.
func (n Node) ID() NodeID { return n.id }

func (n Node) String() string {
	return fmt.Sprintf("Node(%d, id=%d)", n.Payload, n.id)
}

// Drop releases the outgoing edge when the node itself is dropped. A
// strong edge to a node with no other owners drops that node in turn.
func (n *Node) Drop() {
	if n.next == nil {
		return
	}
	memory.Replace(n.next, EndLink()).release()
}

// NewNode allocates a standalone node whose next edge is End.
func NewNode(mode memory.Mode, payload int, opts ...memory.Option[Node]) *memory.Strong[Node] {
	return newNode(mode, 0, payload, opts...)
}

func newNode(mode memory.Mode, id NodeID, payload int, opts ...memory.Option[Node]) *memory.Strong[Node] {
	return memory.Alloc(mode, Node{
		Payload: payload,
		id:      id,
		next:    memory.NewCell(mode, EndLink()),
	}, opts...)
}

// SetNext points node at next through a new strong reference. The
// previous edge is released after exclusive access to the cell ends.
// A nil next sets the edge to End.
func SetNext(node, next *memory.Strong[Node]) {
	link := EndLink()
	if next != nil {
		link = strongLink(next.Clone(), next.Ptr().id)
	}
	replaceNext(node, link)
}

// SetNextWeak points node at next through a weak reference.
func SetNextWeak(node, next *memory.Strong[Node]) {
	link := EndLink()
	if next != nil {
		link = weakLink(next.Downgrade(), next.Ptr().id)
	}
	replaceNext(node, link)
}

// ClearNext sets the edge of node to End.
func ClearNext(node *memory.Strong[Node]) {
	replaceNext(node, EndLink())
}

// replaceNext stores link in node's cell and releases the previous edge.
// If the cell rejects the access, link is released before the panic
// continues.
func replaceNext(node *memory.Strong[Node], link Link) {
	stored := false
	defer func() {
		if !stored {
			link.release()
		}
	}()
	old := memory.Replace(node.Ptr().next, link)
	stored = true
	old.release()
}

// NextKind reports the kind of node's outgoing edge.
func NextKind(node *memory.Strong[Node]) LinkKind {
	return memory.Load(node.Ptr().next).Kind()
}

// Next returns a new strong handle to the successor of node. A weak edge
// is upgraded; End and a failed upgrade both report false, meaning the
// reachable structure ends here.
func Next(node *memory.Strong[Node]) (*memory.Strong[Node], bool) {
	r := node.Ptr().next.Borrow()
	defer r.Release()
	return r.Get().resolve()
}

// Walk visits start and its successors until End, a failed upgrade, a
// node seen before, or limit visits (limit <= 0 means no limit). fn may
// stop the walk early by returning false. Handles passed to fn are
// released after fn returns. Walk returns the number of nodes visited.
func Walk(start *memory.Strong[Node], limit int, fn func(*memory.Strong[Node]) bool) int {
	seen := make(map[memory.Identity]struct{})
	cur := start.Clone()
	visited := 0
	for {
		if _, ok := seen[cur.Identity()]; ok {
			cur.Release()
			return visited
		}
		seen[cur.Identity()] = struct{}{}
		visited++

		cont := fn(cur)
		if !cont || (limit > 0 && visited >= limit) {
			cur.Release()
			return visited
		}

		next, ok := Next(cur)
		cur.Release()
		if !ok {
			return visited
		}
		cur = next
	}
}

// Payloads collects the payloads along a Walk from start.
func Payloads(start *memory.Strong[Node], limit int) []int {
	var out []int
	Walk(start, limit, func(n *memory.Strong[Node]) bool {
		out = append(out, n.Get().Payload)
		return true
	})
	return out
}
