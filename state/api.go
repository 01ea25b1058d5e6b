// Package state defines the interface the hierarchy cache consumes from the
// authoritative item-state manager: point lookups (child entry, existence,
// item state) and the structural event feed that drives cache invalidation.
//
// The cache only ever reads through Provider; it never mutates authoritative
// state. Implementations must be safe for concurrent use.
package state

import (
	"errors"

	"github.com/IvanBrykalov/hiercache/repo"
)

// ErrNoSuchItem is returned by Provider.GetItemState for identifiers the
// authoritative manager does not know about.
var ErrNoSuchItem = errors.New("state: no such item")

// ChildEntry is one slot in a node's ordered child list.
type ChildEntry struct {
	Name  string
	Index int // 1-based same-name-sibling index
	ID    repo.ItemID
}

// Segment returns the child's path segment relative to its parent.
func (e ChildEntry) Segment() repo.Segment {
	return repo.Segment{Name: e.Name, Index: e.Index}
}

// ItemState is the read-only view of one authoritative item.
type ItemState interface {
	// ID identifies the item.
	ID() repo.ItemID
	// Parent is the (primary) parent node, or the zero NodeID for the root.
	Parent() repo.NodeID
	// IsNew reports whether the state is transient and was never persisted.
	IsNew() bool
	// HasOverlayedState reports whether a persistent counterpart of this
	// state still exists (a transient state overlaying a stored one).
	HasOverlayedState() bool
}

// NodeState is the read-only view of an authoritative node.
type NodeState interface {
	ItemState
	// Children is the node's child list in authoritative order.
	Children() []ChildEntry
	// Shareable reports whether the node may be reachable from more than
	// one parent path at once.
	Shareable() bool
}

// Provider is the query surface of the authoritative state manager.
type Provider interface {
	// ChildEntry resolves one step of a path below parent: the child item
	// (node or property) called name with the given same-name-sibling
	// index (0 normalizes to 1). The second result is false when no such
	// child exists; a non-nil error means the authoritative state itself
	// could not be read.
	ChildEntry(parent repo.NodeID, name string, index int) (repo.ItemID, bool, error)

	// ItemExists reports whether the identifier resolves to a live item.
	ItemExists(id repo.ItemID) bool

	// GetItemState returns the state of the item, or ErrNoSuchItem.
	GetItemState(id repo.ItemID) (ItemState, error)
}

// Listener receives the structural event feed. Events for the same
// identifier are delivered in emission order; handlers run synchronously on
// the emitting goroutine.
type Listener interface {
	// ItemModified signals that the node's own state (including its child
	// list) changed in place.
	ItemModified(id repo.NodeID)
	// ItemDestroyed signals that the item was removed from authoritative
	// storage.
	ItemDestroyed(id repo.ItemID)
	// ItemDiscarded signals that a transient state was thrown away without
	// being persisted. The state passed is the discarded one.
	ItemDiscarded(st ItemState)
	// ChildAdded signals that parent gained the child (name, index).
	ChildAdded(parent NodeState, name string, index int, child repo.ItemID)
	// ChildRemoved signals that parent lost the child (name, index).
	ChildRemoved(parent NodeState, name string, index int, child repo.ItemID)
	// ChildrenReordered signals that parent's child list changed order.
	ChildrenReordered(parent NodeState)
}
