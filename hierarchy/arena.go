package hierarchy

import "github.com/IvanBrykalov/hiercache/repo"

// The trie, the identifier index and the LRU list reference each other.
// Instead of a web of mutually aliased pointers, trie nodes and cache
// entries live in two arenas and are addressed by stable integer handles;
// the index and the LRU links store handles only. Handle 0 is "nil" in both
// arenas (slot 0 is a reserved sentinel).

type nodeRef int32
type entryRef int32

const (
	nilNode  nodeRef  = 0
	nilEntry entryRef = 0
)

// trieNode is one path-trie node. Children are kept per name in an
// index-ordered slice: position i holds the child with same-name-sibling
// index i+1, nilNode marking a hole left by a shift-free removal.
type trieNode struct {
	seg      repo.Segment
	parent   nodeRef
	children map[string][]nodeRef
	entry    entryRef // payload, nilEntry when this is a bare interior node
	nchild   int32    // live (non-hole) children, maintained incrementally
	depth    int32
}

// cacheEntry is one cached item identifier: the payload shared by every trie
// node the item is reachable through (more than one only for shared nodes),
// threaded on the LRU list via handle links.
type cacheEntry struct {
	id   repo.ItemID
	refs []nodeRef // trie nodes whose payload this entry is; never empty

	// LRU links: head is the oldest entry, tail the most recently touched.
	prev, next entryRef
}

// ---- trie-node arena ----

func (m *Manager) node(r nodeRef) *trieNode { return &m.nodes[r] }

func (m *Manager) allocNode(parent nodeRef, seg repo.Segment) nodeRef {
	var r nodeRef
	if n := len(m.freeNodes); n > 0 {
		r = m.freeNodes[n-1]
		m.freeNodes = m.freeNodes[:n-1]
	} else {
		m.nodes = append(m.nodes, trieNode{})
		r = nodeRef(len(m.nodes) - 1)
	}
	depth := int32(0)
	if parent != nilNode {
		depth = m.nodes[parent].depth + 1
	}
	m.nodes[r] = trieNode{seg: seg, parent: parent, depth: depth}
	return r
}

func (m *Manager) freeNode(r nodeRef) {
	m.nodes[r] = trieNode{}
	m.freeNodes = append(m.freeNodes, r)
}

// ---- entry arena ----

func (m *Manager) entry(r entryRef) *cacheEntry { return &m.entries[r] }

func (m *Manager) allocEntry(id repo.ItemID) entryRef {
	var r entryRef
	if n := len(m.freeEntries); n > 0 {
		r = m.freeEntries[n-1]
		m.freeEntries = m.freeEntries[:n-1]
	} else {
		m.entries = append(m.entries, cacheEntry{})
		r = entryRef(len(m.entries) - 1)
	}
	m.entries[r] = cacheEntry{id: id}
	return r
}

func (m *Manager) freeEntry(r entryRef) {
	m.entries[r] = cacheEntry{}
	m.freeEntries = append(m.freeEntries, r)
}

// ---- LRU list (handle-linked, head = oldest) ----

func (m *Manager) lruAppend(r entryRef) {
	e := m.entry(r)
	e.prev, e.next = m.lruTail, nilEntry
	if m.lruTail != nilEntry {
		m.entry(m.lruTail).next = r
	}
	m.lruTail = r
	if m.lruHead == nilEntry {
		m.lruHead = r
	}
}

func (m *Manager) lruRemove(r entryRef) {
	e := m.entry(r)
	if e.prev != nilEntry {
		m.entry(e.prev).next = e.next
	}
	if e.next != nilEntry {
		m.entry(e.next).prev = e.prev
	}
	if m.lruHead == r {
		m.lruHead = e.next
	}
	if m.lruTail == r {
		m.lruTail = e.prev
	}
	e.prev, e.next = nilEntry, nilEntry
}

// touch moves the entry to the most-recently-used end in O(1).
func (m *Manager) touch(r entryRef) {
	if m.lruTail == r {
		return
	}
	m.lruRemove(r)
	m.lruAppend(r)
}
