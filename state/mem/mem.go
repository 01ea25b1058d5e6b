// Package mem provides an in-memory authoritative state manager: a mutable
// node tree implementing state.Provider that dispatches state.Listener
// events in emission order.
//
// It exists for tests, examples and load harnesses; a real repository wires
// the cache to its persistent item-state manager instead.
package mem

import (
	"fmt"
	"sync"

	"github.com/IvanBrykalov/hiercache/repo"
	"github.com/IvanBrykalov/hiercache/state"
)

// Manager is an in-memory repository tree. All methods are safe for
// concurrent use.
//
// Locking: opMu serializes whole mutations including event dispatch, so
// listeners observe events in exactly the order mutations happened. mu only
// guards the tree data and is NOT held while listeners run, which lets a
// listener read back through the Provider interface without deadlocking.
type Manager struct {
	opMu sync.Mutex // serializes mutation + event dispatch

	mu        sync.RWMutex
	root      repo.NodeID
	nodes     map[repo.NodeID]*node
	listeners []state.Listener
	readErr   error // injected read failure, see SetReadError
}

type node struct {
	id        repo.NodeID
	parents   []repo.NodeID // primary first; len > 1 only for shared nodes
	shareable bool
	children  []state.ChildEntry // child nodes, authoritative order
	props     []string           // property names, insertion order
}

// event is one pending listener notification, captured with whatever state
// snapshots it needs at mutation time.
type event func(l state.Listener)

// NewManager creates a tree holding only the root node.
func NewManager() *Manager {
	root := repo.NewNodeID()
	return &Manager{
		root:  root,
		nodes: map[repo.NodeID]*node{root: {id: root}},
	}
}

// Root returns the root node identifier.
func (m *Manager) Root() repo.NodeID { return m.root }

// Subscribe registers a structural-event listener.
func (m *Manager) Subscribe(l state.Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// SetReadError makes every subsequent ChildEntry/GetItemState call fail with
// err until called again with nil. Test hook for simulating an unreadable
// backing store.
func (m *Manager) SetReadError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErr = err
}

func (m *Manager) dispatch(evs []event) {
	m.mu.RLock()
	ls := append([]state.Listener(nil), m.listeners...)
	m.mu.RUnlock()
	for _, ev := range evs {
		for _, l := range ls {
			ev(l)
		}
	}
}

// ---- mutations ----

// AddNode creates a new child node of parent with the given name. Same-name
// siblings get the next free index. Fires ChildAdded.
func (m *Manager) AddNode(parent repo.NodeID, name string, shareable bool) (repo.NodeID, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	p, ok := m.nodes[parent]
	if !ok {
		m.mu.Unlock()
		return repo.NodeID{}, fmt.Errorf("mem: add %q: %w", name, state.ErrNoSuchItem)
	}
	id := repo.NewNodeID()
	m.nodes[id] = &node{id: id, parents: []repo.NodeID{parent}, shareable: shareable}
	idx := nextIndex(p, name)
	p.children = append(p.children, state.ChildEntry{Name: name, Index: idx, ID: repo.NodeItem(id)})
	ps := snapshot(p)
	m.mu.Unlock()

	m.dispatch([]event{func(l state.Listener) {
		l.ChildAdded(ps, name, idx, repo.NodeItem(id))
	}})
	return id, nil
}

// Share makes the existing shareable node child reachable under parent as
// well. Fires ChildAdded for the new parent.
func (m *Manager) Share(parent, child repo.NodeID, name string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	p, ok := m.nodes[parent]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("mem: share under %v: %w", parent, state.ErrNoSuchItem)
	}
	c, ok := m.nodes[child]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("mem: share %v: %w", child, state.ErrNoSuchItem)
	}
	if !c.shareable {
		m.mu.Unlock()
		return fmt.Errorf("mem: node %v is not shareable", child)
	}
	if m.inSubtreeLocked(child, parent) {
		m.mu.Unlock()
		return fmt.Errorf("mem: cannot share %v into its own subtree", child)
	}
	c.parents = append(c.parents, parent)
	idx := nextIndex(p, name)
	p.children = append(p.children, state.ChildEntry{Name: name, Index: idx, ID: repo.NodeItem(child)})
	ps := snapshot(p)
	m.mu.Unlock()

	m.dispatch([]event{func(l state.Listener) {
		l.ChildAdded(ps, name, idx, repo.NodeItem(child))
	}})
	return nil
}

// RemoveShare detaches one parent link of a shared node, renumbering
// same-name siblings under that parent. Fires ChildRemoved; if the last
// parent link goes away the node is destroyed as well.
func (m *Manager) RemoveShare(parent, child repo.NodeID) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	c, ok := m.nodes[child]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("mem: remove share %v: %w", child, state.ErrNoSuchItem)
	}
	evs, err := m.detachLocked(parent, child)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	for i, pid := range c.parents {
		if pid == parent {
			c.parents = append(c.parents[:i], c.parents[i+1:]...)
			break
		}
	}
	if len(c.parents) == 0 {
		evs = append(evs, m.destroyLocked(c)...)
	}
	m.mu.Unlock()

	m.dispatch(evs)
	return nil
}

// RemoveNode destroys the node and its whole subtree: detaches it from every
// parent (ChildRemoved per parent, siblings renumbered), then fires
// ItemDestroyed for every destroyed item, deepest first.
func (m *Manager) RemoveNode(id repo.NodeID) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	n, ok := m.nodes[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("mem: remove %v: %w", id, state.ErrNoSuchItem)
	}
	if id == m.root {
		m.mu.Unlock()
		return fmt.Errorf("mem: cannot remove the root node")
	}
	var evs []event
	for _, pid := range append([]repo.NodeID(nil), n.parents...) {
		de, err := m.detachLocked(pid, id)
		if err != nil {
			m.mu.Unlock()
			return err
		}
		evs = append(evs, de...)
	}
	n.parents = nil
	evs = append(evs, m.destroyLocked(n)...)
	m.mu.Unlock()

	m.dispatch(evs)
	return nil
}

// Move reparents child under newParent with the given name. Fires
// ChildRemoved for the old parent, then ChildAdded for the new one.
func (m *Manager) Move(child, newParent repo.NodeID, name string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	c, ok := m.nodes[child]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("mem: move %v: %w", child, state.ErrNoSuchItem)
	}
	if child == m.root {
		m.mu.Unlock()
		return fmt.Errorf("mem: cannot move the root node")
	}
	np, ok := m.nodes[newParent]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("mem: move to %v: %w", newParent, state.ErrNoSuchItem)
	}
	if m.inSubtreeLocked(child, newParent) {
		m.mu.Unlock()
		return fmt.Errorf("mem: cannot move %v into its own subtree", child)
	}
	evs, err := m.detachLocked(c.parents[0], child)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	c.parents[0] = newParent
	idx := nextIndex(np, name)
	np.children = append(np.children, state.ChildEntry{Name: name, Index: idx, ID: repo.NodeItem(child)})
	ps := snapshot(np)
	m.mu.Unlock()

	evs = append(evs, func(l state.Listener) {
		l.ChildAdded(ps, name, idx, repo.NodeItem(child))
	})
	m.dispatch(evs)
	return nil
}

// Reorder moves the child at position from to position to within parent's
// child list and renumbers same-name-sibling indexes. Fires
// ChildrenReordered.
func (m *Manager) Reorder(parent repo.NodeID, from, to int) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	p, ok := m.nodes[parent]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("mem: reorder %v: %w", parent, state.ErrNoSuchItem)
	}
	if from < 0 || from >= len(p.children) || to < 0 || to >= len(p.children) {
		m.mu.Unlock()
		return fmt.Errorf("mem: reorder %v: position out of range", parent)
	}
	e := p.children[from]
	p.children = append(p.children[:from], p.children[from+1:]...)
	rest := append([]state.ChildEntry{e}, p.children[to:]...)
	p.children = append(p.children[:to], rest...)
	renumber(p)
	ps := snapshot(p)
	m.mu.Unlock()

	m.dispatch([]event{func(l state.Listener) { l.ChildrenReordered(ps) }})
	return nil
}

// SetProperty adds (or keeps) the property called name on the node and fires
// ItemModified for the node.
func (m *Manager) SetProperty(id repo.NodeID, name string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	n, ok := m.nodes[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("mem: set property on %v: %w", id, state.ErrNoSuchItem)
	}
	for _, p := range n.props {
		if p == name {
			m.mu.Unlock()
			return nil
		}
	}
	n.props = append(n.props, name)
	m.mu.Unlock()

	m.dispatch([]event{func(l state.Listener) { l.ItemModified(id) }})
	return nil
}

// RemoveProperty drops the property and fires ItemDestroyed for it plus
// ItemModified for the parent node.
func (m *Manager) RemoveProperty(id repo.NodeID, name string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	n, ok := m.nodes[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("mem: remove property on %v: %w", id, state.ErrNoSuchItem)
	}
	removed := false
	for i, p := range n.props {
		if p == name {
			n.props = append(n.props[:i], n.props[i+1:]...)
			removed = true
			break
		}
	}
	m.mu.Unlock()

	if !removed {
		return fmt.Errorf("mem: remove property %q on %v: %w", name, id, state.ErrNoSuchItem)
	}
	m.dispatch([]event{func(l state.Listener) {
		l.ItemDestroyed(repo.PropertyItem(id, name))
		l.ItemModified(id)
	}})
	return nil
}

// Forget drops the node and its subtree from the tree WITHOUT emitting any
// events. Test hook modelling external mutation the cache never hears about.
func (m *Manager) Forget(id repo.NodeID) {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.nodes[id]
	if !ok {
		return
	}
	for _, pid := range n.parents {
		if p, ok := m.nodes[pid]; ok {
			for i, e := range p.children {
				if e.ID == repo.NodeItem(id) {
					p.children = append(p.children[:i], p.children[i+1:]...)
					break
				}
			}
			renumber(p)
		}
	}
	m.forgetSubtreeLocked(n)
}

func (m *Manager) forgetSubtreeLocked(n *node) {
	for _, e := range n.children {
		if !e.ID.IsNode() {
			continue
		}
		if c, ok := m.nodes[e.ID.Node]; ok {
			m.forgetSubtreeLocked(c)
		}
	}
	delete(m.nodes, n.id)
}

// inSubtreeLocked reports whether id sits at or below root's subtree.
func (m *Manager) inSubtreeLocked(root, id repo.NodeID) bool {
	if root == id {
		return true
	}
	n, ok := m.nodes[root]
	if !ok {
		return false
	}
	for _, e := range n.children {
		if e.ID.IsNode() && m.inSubtreeLocked(e.ID.Node, id) {
			return true
		}
	}
	return false
}

// ---- state.Provider ----

// ChildEntry resolves one path step below parent.
func (m *Manager) ChildEntry(parent repo.NodeID, name string, index int) (repo.ItemID, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.readErr != nil {
		return repo.ItemID{}, false, m.readErr
	}
	p, ok := m.nodes[parent]
	if !ok {
		return repo.ItemID{}, false, fmt.Errorf("mem: child of %v: %w", parent, state.ErrNoSuchItem)
	}
	if index == 0 {
		index = 1
	}
	for _, e := range p.children {
		if e.Name == name && e.Index == index {
			return e.ID, true, nil
		}
	}
	if index == 1 {
		for _, prop := range p.props {
			if prop == name {
				return repo.PropertyItem(parent, name), true, nil
			}
		}
	}
	return repo.ItemID{}, false, nil
}

// ItemExists reports whether the identifier is live.
func (m *Manager) ItemExists(id repo.ItemID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n, ok := m.nodes[id.Node]
	if !ok {
		return false
	}
	if id.IsNode() {
		return true
	}
	for _, p := range n.props {
		if p == id.Name {
			return true
		}
	}
	return false
}

// GetItemState returns a point-in-time snapshot of the item's state.
func (m *Manager) GetItemState(id repo.ItemID) (state.ItemState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.readErr != nil {
		return nil, m.readErr
	}
	n, ok := m.nodes[id.Node]
	if !ok {
		return nil, fmt.Errorf("mem: state of %v: %w", id, state.ErrNoSuchItem)
	}
	if id.IsProperty() {
		for _, p := range n.props {
			if p == id.Name {
				return propState{id: id, parent: id.Node}, nil
			}
		}
		return nil, fmt.Errorf("mem: state of %v: %w", id, state.ErrNoSuchItem)
	}
	return snapshot(n), nil
}

var _ state.Provider = (*Manager)(nil)

// ---- internals (mu held) ----

func nextIndex(p *node, name string) int {
	max := 0
	for _, e := range p.children {
		if e.Name == name && e.Index > max {
			max = e.Index
		}
	}
	return max + 1
}

// detachLocked removes the child entry for id under parent and renumbers
// same-name siblings. Returns the pending ChildRemoved event.
func (m *Manager) detachLocked(parent, id repo.NodeID) ([]event, error) {
	p, ok := m.nodes[parent]
	if !ok {
		return nil, fmt.Errorf("mem: detach under %v: %w", parent, state.ErrNoSuchItem)
	}
	for i, e := range p.children {
		if e.ID == repo.NodeItem(id) {
			name, idx := e.Name, e.Index
			p.children = append(p.children[:i], p.children[i+1:]...)
			renumber(p)
			ps := snapshot(p)
			return []event{func(l state.Listener) {
				l.ChildRemoved(ps, name, idx, repo.NodeItem(id))
			}}, nil
		}
	}
	return nil, fmt.Errorf("mem: detach %v under %v: %w", id, parent, state.ErrNoSuchItem)
}

// destroyLocked removes the subtree from the map and returns ItemDestroyed
// events, deepest first. Shared descendants survive if reachable through
// another parent.
func (m *Manager) destroyLocked(n *node) []event {
	var evs []event
	for _, e := range n.children {
		if !e.ID.IsNode() {
			continue
		}
		c, ok := m.nodes[e.ID.Node]
		if !ok {
			continue
		}
		for i, pid := range c.parents {
			if pid == n.id {
				c.parents = append(c.parents[:i], c.parents[i+1:]...)
				break
			}
		}
		if len(c.parents) == 0 {
			evs = append(evs, m.destroyLocked(c)...)
		}
	}
	for _, prop := range n.props {
		id := repo.PropertyItem(n.id, prop)
		evs = append(evs, func(l state.Listener) { l.ItemDestroyed(id) })
	}
	delete(m.nodes, n.id)
	id := repo.NodeItem(n.id)
	evs = append(evs, func(l state.Listener) { l.ItemDestroyed(id) })
	return evs
}

func renumber(p *node) {
	seen := map[string]int{}
	for i := range p.children {
		seen[p.children[i].Name]++
		p.children[i].Index = seen[p.children[i].Name]
	}
}

func snapshot(n *node) state.NodeState {
	st := nodeState{
		id:        n.id,
		shareable: n.shareable,
		children:  make([]state.ChildEntry, 0, len(n.children)+len(n.props)),
	}
	if len(n.parents) > 0 {
		st.parent = n.parents[0]
	}
	st.children = append(st.children, n.children...)
	for _, prop := range n.props {
		st.children = append(st.children, state.ChildEntry{
			Name: prop, Index: 1, ID: repo.PropertyItem(n.id, prop),
		})
	}
	return st
}

// ---- state snapshots ----

type nodeState struct {
	id        repo.NodeID
	parent    repo.NodeID
	shareable bool
	children  []state.ChildEntry
}

func (s nodeState) ID() repo.ItemID              { return repo.NodeItem(s.id) }
func (s nodeState) Parent() repo.NodeID          { return s.parent }
func (s nodeState) IsNew() bool                  { return false }
func (s nodeState) HasOverlayedState() bool      { return true }
func (s nodeState) Children() []state.ChildEntry { return s.children }
func (s nodeState) Shareable() bool              { return s.shareable }

type propState struct {
	id     repo.ItemID
	parent repo.NodeID
}

func (s propState) ID() repo.ItemID         { return s.id }
func (s propState) Parent() repo.NodeID     { return s.parent }
func (s propState) IsNew() bool             { return false }
func (s propState) HasOverlayedState() bool { return true }
