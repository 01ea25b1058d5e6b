package hierarchy

import (
	"github.com/IvanBrykalov/hiercache/repo"
	"github.com/IvanBrykalov/hiercache/state"
)

// Invalidation protocol: the Manager consumes the provider's structural
// event feed and keeps the trie/index/LRU triple consistent with it. Each
// handler runs under the cache lock; events for one identifier are applied
// in the order the provider emits them.
//
// Handlers for parent-scoped events (modify, child add/remove, reorder)
// only ever touch paths under the parent that raised the event, which is
// what keeps shared items with several cached paths correct.

// parentRefs returns the cached trie nodes of the parent a parent-scoped
// event names. The root node never carries an index entry but its children
// are cached in the trie all the same, so it always reports the trie root.
func (m *Manager) parentRefs(id repo.ItemID) ([]nodeRef, bool) {
	if id == repo.NodeItem(m.opt.Root) {
		return []nodeRef{m.root}, true
	}
	e, ok := m.idx[id]
	if !ok {
		return nil, false
	}
	return append([]nodeRef(nil), m.entry(e).refs...), true
}

// childRefs returns the live (non-hole) cached children of n.
func (m *Manager) childRefs(n nodeRef) []nodeRef {
	var out []nodeRef
	for _, s := range m.node(n).children {
		for _, ch := range s {
			if ch != nilNode {
				out = append(out, ch)
			}
		}
	}
	return out
}

// ItemModified re-verifies the cached children of every cached path of the
// node: a cached child whose (name, index) slot no longer exists
// authoritatively, or whose identifier disagrees with the authoritative
// occupant, is evicted with sibling renumbering.
func (m *Manager) ItemModified(id repo.NodeID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.checkLocked()

	refs, ok := m.parentRefs(repo.NodeItem(id))
	if !ok {
		return
	}
	// Cannot verify the node: every cached fact below it is suspect. The
	// root has no entry of its own, so its cached children go instead.
	evictSuspect := func() {
		if e, ok := m.idx[repo.NodeItem(id)]; ok {
			m.evictEntry(e, false, EvictStale)
			return
		}
		for _, ch := range m.childRefs(m.root) {
			m.evictPath(ch, false, EvictStale)
		}
	}
	st, err := m.opt.Provider.GetItemState(repo.NodeItem(id))
	if err != nil {
		m.log.Errorf("hierarchy: verifying modified node %v: %v", id, err)
		evictSuspect()
		return
	}
	ns, ok := st.(state.NodeState)
	if !ok {
		evictSuspect()
		return
	}
	auth := ns.Children()

	for _, ref := range refs {
		var stale []nodeRef
		for _, ch := range m.childRefs(ref) {
			if !m.childMatches(ch, auth) {
				stale = append(stale, ch)
			}
		}
		for _, ch := range stale {
			m.evictPath(ch, true, EvictStale)
		}
	}
}

// childMatches reports whether the cached child node agrees with some
// authoritative child entry: same (name, index) and, when the child carries
// an identifier, the same identifier.
func (m *Manager) childMatches(ch nodeRef, auth []state.ChildEntry) bool {
	nd := m.node(ch)
	for _, a := range auth {
		if a.Name != nd.seg.Name || a.Index != nd.seg.NormIndex() {
			continue
		}
		if nd.entry == nilEntry {
			return true // bare prefix node, nothing to compare
		}
		return m.entry(nd.entry).id == a.ID
	}
	return false
}

// ItemDestroyed evicts every cached path of the item, renumbering siblings:
// the item is authoritatively gone.
func (m *Manager) ItemDestroyed(id repo.ItemID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.checkLocked()

	if e, ok := m.idx[id]; ok {
		m.evictEntry(e, true, EvictStructural)
	}
}

// ItemDiscarded evicts every cached path of a thrown-away transient state.
// Discarding a brand-new, never-persisted item undoes an insertion, so
// siblings renumber; when a persistent counterpart still exists the
// authoritative tree is unaffected and only the cached fact goes away.
func (m *Manager) ItemDiscarded(st state.ItemState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.checkLocked()

	e, ok := m.idx[st.ID()]
	if !ok {
		return
	}
	shift := true
	if !st.IsNew() && st.HasOverlayedState() {
		shift = false
	}
	m.evictEntry(e, shift, EvictStructural)
}

// ChildAdded inserts the new child below every cached path of the parent,
// renumbering equal-or-higher same-name siblings upward. A child identifier
// that is already cached elsewhere is relocated (ordinary move) or fanned
// out (shareable node) rather than duplicated.
func (m *Manager) ChildAdded(parent state.NodeState, name string, index int, child repo.ItemID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.checkLocked()

	pe, pok := m.idx[parent.ID()]
	if !pok {
		// The new location is unknown to the cache. If the child is cached
		// under some old path that path just stopped being its only truth:
		// evict rather than guess.
		if ce, ok := m.idx[child]; ok {
			m.evictEntry(ce, false, EvictStructural)
		}
		return
	}

	seg := repo.Segment{Name: name, Index: index}

	// An ordinary (non-shareable) child that is already cached under some
	// old path is being moved: its trie references relocate to the new
	// location instead of duplicating. The old refs are recorded now and
	// dropped after the new ones are attached, which keeps the entry (and
	// its LRU position) alive across the move. The old paths' cached
	// descendants are evicted; they re-cache on demand.
	var oldRefs []nodeRef
	if ce, ok := m.idx[child]; ok && !m.shareableChild(child) {
		oldRefs = append(oldRefs, m.entry(ce).refs...)
	}

	for _, ref := range append([]nodeRef(nil), m.entry(pe).refs...) {
		n := m.insertChild(ref, seg)
		m.cacheAtNode(n, child)
	}

	for _, r := range oldRefs {
		if e := m.node(r).entry; e != nilEntry && m.entry(e).id == child {
			m.evictPath(r, false, EvictStructural)
		}
	}
}

// cacheAtNode attaches child as the payload of the freshly inserted trie
// node n, fanning out the existing entry when the identifier is already
// cached (shared node), creating one otherwise.
func (m *Manager) cacheAtNode(n nodeRef, child repo.ItemID) {
	if e, ok := m.idx[child]; ok {
		ent := m.entry(e)
		ent.refs = append(ent.refs, n)
		m.node(n).entry = e
		m.touch(e)
		return
	}
	m.evictForCapacity()
	e := m.allocEntry(child)
	m.entry(e).refs = []nodeRef{n}
	m.node(n).entry = e
	m.idx[child] = e
	m.lruAppend(e)
	m.opt.Metrics.Size(len(m.idx))
}

// shareableChild reports whether the child identifier names a shareable
// node. Failing to read the state is treated as not shareable.
func (m *Manager) shareableChild(child repo.ItemID) bool {
	if child.IsProperty() {
		return false
	}
	st, err := m.opt.Provider.GetItemState(child)
	if err != nil {
		return false
	}
	ns, ok := st.(state.NodeState)
	return ok && ns.Shareable()
}

// ChildRemoved evicts the child's path under every cached path of the
// parent, renumbering siblings. A cached occupant with a different
// identifier is left untouched: the event concerned a same-name sibling of
// a different physical item. Only the path under this parent is evicted, so
// a shared item keeps its other cached paths.
func (m *Manager) ChildRemoved(parent state.NodeState, name string, index int, child repo.ItemID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.checkLocked()

	refs, ok := m.parentRefs(parent.ID())
	if !ok {
		return
	}
	for _, ref := range refs {
		ch := m.childAt(ref, name, index)
		if ch == nilNode {
			continue
		}
		if e := m.node(ch).entry; e != nilEntry && m.entry(e).id != child {
			continue
		}
		m.evictPath(ch, true, EvictStructural)
	}
}

// ChildrenReordered rebuilds the cached child segment set of every cached
// path of the parent from the authoritative order, atomically. Cached
// children with no authoritative counterpart are evicted without
// renumbering; their removal arrives as a separate event.
func (m *Manager) ChildrenReordered(parent state.NodeState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.checkLocked()

	refs, ok := m.parentRefs(parent.ID())
	if !ok {
		return
	}
	auth := parent.Children()

	for _, ref := range refs {
		var keep []nodeRef // children with a matched authoritative entry
		var segs []repo.Segment
		var drop []nodeRef
		used := make([]bool, len(auth))
		for _, ch := range m.childRefs(ref) {
			seg, ok := m.reorderedSegment(ch, auth, used)
			if !ok {
				drop = append(drop, ch)
				continue
			}
			keep = append(keep, ch)
			segs = append(segs, seg)
		}
		for _, ch := range drop {
			m.evictPath(ch, false, EvictStructural)
		}
		// Replace the child set in one step, re-slotting the survivors at
		// their authoritative positions.
		nd := m.node(ref)
		nd.children = make(map[string][]nodeRef, len(keep))
		nd.nchild = 0
		for i, ch := range keep {
			m.placeChild(ref, ch, segs[i])
		}
	}
}

// reorderedSegment finds the authoritative (name, index) of the cached
// child after a reorder, matching by identifier. A shared item can occupy
// several child slots of one parent, so each authoritative entry is
// consumed by at most one cached child, preferring the entry that also
// carries the child's current name. Bare interior nodes carry no
// identifier to match by and report no counterpart.
func (m *Manager) reorderedSegment(ch nodeRef, auth []state.ChildEntry, used []bool) (repo.Segment, bool) {
	e := m.node(ch).entry
	if e == nilEntry {
		return repo.Segment{}, false
	}
	id := m.entry(e).id
	name := m.node(ch).seg.Name
	fallback := -1
	for i, a := range auth {
		if used[i] || a.ID != id {
			continue
		}
		if a.Name == name {
			used[i] = true
			return a.Segment(), true
		}
		if fallback < 0 {
			fallback = i
		}
	}
	if fallback >= 0 {
		used[fallback] = true
		return auth[fallback].Segment(), true
	}
	return repo.Segment{}, false
}

// placeChild slots ch under parent at exactly seg.
func (m *Manager) placeChild(parent nodeRef, ch nodeRef, seg repo.Segment) {
	idx := seg.NormIndex()
	m.node(ch).seg = repo.Segment{Name: seg.Name, Index: idx}
	m.node(ch).parent = parent
	p := m.node(parent)
	s := p.children[seg.Name]
	for len(s) < idx {
		s = append(s, nilNode)
	}
	s[idx-1] = ch
	p.children[seg.Name] = s
	p.nchild++
}
