package hierarchy

import "github.com/IvanBrykalov/hiercache/repo"

// Trie operations. All of them run with m.mu held by the caller.
//
// Two removal flavors exist everywhere a node leaves the trie:
//   - shift=true mirrors an authoritative removal: same-name siblings with a
//     higher index are renumbered downward.
//   - shift=false is a cache-only fact (capacity eviction, stale repair): the
//     slot becomes a hole and remaining sibling indexes stay untouched.

// childAt returns the cached child of n at (name, index), or nilNode.
// Index 0 is the wildcard for 1.
func (m *Manager) childAt(n nodeRef, name string, index int) nodeRef {
	if index == 0 {
		index = 1
	}
	s := m.node(n).children[name]
	if index < 1 || index > len(s) {
		return nilNode
	}
	return s[index-1]
}

// lookup walks the trie from the root consuming segments of path and returns
// the deepest existing node together with the number of segments consumed.
// It never creates nodes.
func (m *Manager) lookup(path repo.Path) (nodeRef, int) {
	cur := m.root
	for i := 0; i < path.Depth(); i++ {
		seg := path.Segment(i)
		ch := m.childAt(cur, seg.Name, seg.NormIndex())
		if ch == nilNode {
			return cur, i
		}
		cur = ch
	}
	return cur, path.Depth()
}

// putChild returns the child of parent at seg, creating it in place if
// missing. Creation fills the exact slot (growing the sibling slice with
// holes as needed) and never shifts existing siblings: building a cached
// path must not imply anything about authoritative sibling order.
func (m *Manager) putChild(parent nodeRef, seg repo.Segment) nodeRef {
	name, idx := seg.Name, seg.NormIndex()
	if ch := m.childAt(parent, name, idx); ch != nilNode {
		return ch
	}
	r := m.allocNode(parent, repo.Segment{Name: name, Index: idx})
	p := m.node(parent)
	if p.children == nil {
		p.children = make(map[string][]nodeRef)
	}
	s := p.children[name]
	for len(s) < idx {
		s = append(s, nilNode)
	}
	s[idx-1] = r
	p.children[name] = s
	p.nchild++
	return r
}

// insertChild inserts a new child at seg the way an authoritative child-add
// does: existing same-name siblings with an equal or higher index are
// renumbered upward by one before the new node takes the slot.
func (m *Manager) insertChild(parent nodeRef, seg repo.Segment) nodeRef {
	name, idx := seg.Name, seg.NormIndex()
	r := m.allocNode(parent, repo.Segment{Name: name, Index: idx})
	p := m.node(parent)
	if p.children == nil {
		p.children = make(map[string][]nodeRef)
	}
	s := p.children[name]
	for len(s) < idx-1 {
		s = append(s, nilNode)
	}
	if idx-1 < len(s) {
		s = append(s[:idx-1], append([]nodeRef{r}, s[idx-1:]...)...)
		for i := idx; i < len(s); i++ {
			if s[i] != nilNode {
				m.node(s[i]).seg.Index = i + 1
			}
		}
	} else {
		s = append(s, r)
	}
	p.children[name] = s
	p.nchild++
	return r
}

// detachChild unlinks n from its parent. With shift, higher same-name
// siblings are renumbered downward; without, the slot becomes a hole.
// n itself is not freed.
func (m *Manager) detachChild(n nodeRef, shift bool) {
	nd := m.node(n)
	parent := nd.parent
	if parent == nilNode {
		return // the root is never detached
	}
	p := m.node(parent)
	name, idx := nd.seg.Name, nd.seg.NormIndex()
	s := p.children[name]
	if idx < 1 || idx > len(s) || s[idx-1] != n {
		return
	}
	if shift {
		s = append(s[:idx-1], s[idx:]...)
		for i := idx - 1; i < len(s); i++ {
			if s[i] != nilNode {
				m.node(s[i]).seg.Index = i + 1
			}
		}
	} else {
		s[idx-1] = nilNode
	}
	for len(s) > 0 && s[len(s)-1] == nilNode {
		s = s[:len(s)-1]
	}
	if len(s) == 0 {
		delete(p.children, name)
	} else {
		p.children[name] = s
	}
	p.nchild--
	nd.parent = nilNode
}

// removeSubtree detaches n from its parent (with or without sibling shift)
// and frees n and every descendant, invoking drop for each payload-bearing
// node before its slot is recycled.
func (m *Manager) removeSubtree(n nodeRef, shift bool, drop func(nodeRef)) {
	m.detachChild(n, shift)
	m.freeSubtree(n, drop)
}

func (m *Manager) freeSubtree(n nodeRef, drop func(nodeRef)) {
	for _, s := range m.node(n).children {
		for _, ch := range s {
			if ch != nilNode {
				m.freeSubtree(ch, drop)
			}
		}
	}
	if m.node(n).entry != nilEntry {
		drop(n)
	}
	m.freeNode(n)
}

// pruneAncestors frees the chain of payload-free, childless ancestors
// starting at n. Pruning is a cache-side cleanup and never shifts siblings.
func (m *Manager) pruneAncestors(n nodeRef) {
	for n != m.root && n != nilNode {
		nd := m.node(n)
		if nd.entry != nilEntry || nd.nchild > 0 {
			return
		}
		parent := nd.parent
		m.detachChild(n, false)
		m.freeNode(n)
		n = parent
	}
}

// pathTo rebuilds the absolute path of n by following parent links.
func (m *Manager) pathTo(n nodeRef) repo.Path {
	depth := int(m.node(n).depth)
	segs := make([]repo.Segment, depth)
	for i := depth - 1; i >= 0; i-- {
		nd := m.node(n)
		segs[i] = nd.seg
		n = nd.parent
	}
	return repo.NewPath(segs...)
}

// isDescendant reports whether desc sits strictly below anc in the trie.
func (m *Manager) isDescendant(anc, desc nodeRef) bool {
	for cur := m.node(desc).parent; cur != nilNode; cur = m.node(cur).parent {
		if cur == anc {
			return true
		}
	}
	return false
}

// traverse visits every payload-bearing trie node, depth first when df is
// true, breadth first otherwise.
func (m *Manager) traverse(visit func(nodeRef), df bool) {
	if df {
		m.traverseDepth(m.root, visit)
		return
	}
	queue := []nodeRef{m.root}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if m.node(n).entry != nilEntry {
			visit(n)
		}
		for _, s := range m.node(n).children {
			for _, ch := range s {
				if ch != nilNode {
					queue = append(queue, ch)
				}
			}
		}
	}
}

func (m *Manager) traverseDepth(n nodeRef, visit func(nodeRef)) {
	if m.node(n).entry != nilEntry {
		visit(n)
	}
	for _, s := range m.node(n).children {
		for _, ch := range s {
			if ch != nilNode {
				m.traverseDepth(ch, visit)
			}
		}
	}
}
