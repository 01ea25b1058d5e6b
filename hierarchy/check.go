package hierarchy

import "fmt"

// Consistency checker: a full traversal cross-checking the trie, the
// identifier index and the LRU list against each other. A mismatch is a
// defect in the invalidation protocol, never bad external input, so it
// panics instead of returning an error.

// checkLocked runs the cross-check when Options.CheckConsistency is set.
// Callers hold m.mu.
func (m *Manager) checkLocked() {
	if !m.opt.CheckConsistency {
		return
	}
	m.mustBeConsistentLocked()
}

func (m *Manager) mustBeConsistentLocked() {
	// Pass 1: every payload reachable in the trie is indexed, and its entry
	// points back at the carrying node.
	counted := make(map[entryRef]int, len(m.idx))
	m.traverse(func(n nodeRef) {
		e := m.node(n).entry
		ent := m.entry(e)
		got, ok := m.idx[ent.id]
		if !ok {
			panic(fmt.Sprintf("hierarchy: consistency: trie node %d carries %v which is not indexed", n, ent.id))
		}
		if got != e {
			panic(fmt.Sprintf("hierarchy: consistency: trie node %d carries entry %d but index maps %v to %d", n, e, ent.id, got))
		}
		back := false
		for _, r := range ent.refs {
			if r == n {
				back = true
				break
			}
		}
		if !back {
			panic(fmt.Sprintf("hierarchy: consistency: entry %d (%v) has no back-reference to trie node %d", e, ent.id, n))
		}
		counted[e]++
	}, true)

	// Pass 2: every indexed entry was seen exactly once per recorded
	// trie reference.
	for id, e := range m.idx {
		ent := m.entry(e)
		if ent.id != id {
			panic(fmt.Sprintf("hierarchy: consistency: index key %v maps to entry %d holding %v", id, e, ent.id))
		}
		if len(ent.refs) == 0 {
			panic(fmt.Sprintf("hierarchy: consistency: indexed entry %d (%v) has no trie references", e, id))
		}
		if counted[e] != len(ent.refs) {
			panic(fmt.Sprintf("hierarchy: consistency: entry %d (%v) records %d trie refs, traversal found %d", e, id, len(ent.refs), counted[e]))
		}
	}

	// Pass 3: the LRU list holds exactly the indexed entries, linked
	// coherently in both directions.
	seen := 0
	prev := nilEntry
	for e := m.lruHead; e != nilEntry; e = m.entry(e).next {
		if m.entry(e).prev != prev {
			panic(fmt.Sprintf("hierarchy: consistency: LRU entry %d has prev %d, want %d", e, m.entry(e).prev, prev))
		}
		if got, ok := m.idx[m.entry(e).id]; !ok || got != e {
			panic(fmt.Sprintf("hierarchy: consistency: LRU entry %d (%v) is not indexed", e, m.entry(e).id))
		}
		prev = e
		seen++
		if seen > len(m.idx) {
			panic("hierarchy: consistency: LRU list longer than index (cycle?)")
		}
	}
	if prev != m.lruTail {
		panic(fmt.Sprintf("hierarchy: consistency: LRU tail is %d, want %d", m.lruTail, prev))
	}
	if seen != len(m.idx) {
		panic(fmt.Sprintf("hierarchy: consistency: LRU holds %d entries, index holds %d", seen, len(m.idx)))
	}

	// Pass 4: incremental child counts match the actual child sets.
	m.checkChildCounts(m.root)
}

func (m *Manager) checkChildCounts(n nodeRef) {
	live := int32(0)
	for _, s := range m.node(n).children {
		for _, ch := range s {
			if ch == nilNode {
				continue
			}
			live++
			if m.node(ch).parent != n {
				panic(fmt.Sprintf("hierarchy: consistency: trie node %d is a child of %d but records parent %d", ch, n, m.node(ch).parent))
			}
			m.checkChildCounts(ch)
		}
	}
	if live != m.node(n).nchild {
		panic(fmt.Sprintf("hierarchy: consistency: trie node %d records %d children, found %d", n, m.node(n).nchild, live))
	}
}
