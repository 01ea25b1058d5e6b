package hierarchy

import (
	"testing"

	"github.com/IvanBrykalov/hiercache/repo"
	"github.com/IvanBrykalov/hiercache/state/mem"
)

// newBareManager builds a manager whose trie can be manipulated directly.
// The provider is never consulted by the trie primitives themselves.
func newBareManager(t *testing.T) *Manager {
	t.Helper()
	tree := mem.NewManager()
	return New(Options{Provider: tree, Root: tree.Root()})
}

func seg(name string, idx int) repo.Segment { return repo.Segment{Name: name, Index: idx} }

func TestTrie_PutChildAndLookup(t *testing.T) {
	t.Parallel()

	m := newBareManager(t)
	a := m.putChild(m.root, seg("a", 1))
	b := m.putChild(a, seg("b", 1))

	if got := m.putChild(m.root, seg("a", 1)); got != a {
		t.Fatalf("putChild must reuse the existing node: %d vs %d", got, a)
	}

	n, consumed := m.lookup(repo.MustParsePath("/a/b"))
	if n != b || consumed != 2 {
		t.Fatalf("lookup /a/b: node=%d consumed=%d", n, consumed)
	}
	n, consumed = m.lookup(repo.MustParsePath("/a/x/y"))
	if n != a || consumed != 1 {
		t.Fatalf("lookup /a/x/y must stop at deepest prefix: node=%d consumed=%d", n, consumed)
	}
	if m.node(a).depth != 1 || m.node(b).depth != 2 {
		t.Fatalf("depths: a=%d b=%d", m.node(a).depth, m.node(b).depth)
	}
}

// putChild fills the exact slot without renumbering: a cache-side creation
// must not imply anything about authoritative sibling order.
func TestTrie_PutChildLeavesHoles(t *testing.T) {
	t.Parallel()

	m := newBareManager(t)
	f3 := m.putChild(m.root, seg("foo", 3))

	if m.childAt(m.root, "foo", 1) != nilNode || m.childAt(m.root, "foo", 2) != nilNode {
		t.Fatal("lower slots must stay holes")
	}
	if m.childAt(m.root, "foo", 3) != f3 {
		t.Fatal("slot 3 must hold the created node")
	}
	if m.node(m.root).nchild != 1 {
		t.Fatalf("nchild=%d, want 1", m.node(m.root).nchild)
	}
}

func TestTrie_InsertChildShiftsUp(t *testing.T) {
	t.Parallel()

	m := newBareManager(t)
	f1 := m.putChild(m.root, seg("foo", 1))
	f2 := m.putChild(m.root, seg("foo", 2))

	newborn := m.insertChild(m.root, seg("foo", 1))

	if m.childAt(m.root, "foo", 1) != newborn {
		t.Fatal("inserted node must take slot 1")
	}
	if m.childAt(m.root, "foo", 2) != f1 || m.childAt(m.root, "foo", 3) != f2 {
		t.Fatal("existing siblings must shift up")
	}
	if m.node(f1).seg.Index != 2 || m.node(f2).seg.Index != 3 {
		t.Fatalf("shifted indexes: f1=%d f2=%d", m.node(f1).seg.Index, m.node(f2).seg.Index)
	}
}

// The two removal flavors: with shifting, {foo[1],foo[2],foo[3]} minus
// foo[2] becomes {foo[1],foo[2]}; without, it stays {foo[1],foo[3]}.
func TestTrie_DetachShiftSemantics(t *testing.T) {
	t.Parallel()

	t.Run("with shift", func(t *testing.T) {
		t.Parallel()
		m := newBareManager(t)
		f1 := m.putChild(m.root, seg("foo", 1))
		f2 := m.putChild(m.root, seg("foo", 2))
		f3 := m.putChild(m.root, seg("foo", 3))

		m.detachChild(f2, true)
		m.freeNode(f2)

		if m.childAt(m.root, "foo", 1) != f1 || m.childAt(m.root, "foo", 2) != f3 {
			t.Fatal("want {foo[1], foo[2]} with old foo[3] renumbered")
		}
		if m.node(f3).seg.Index != 2 {
			t.Fatalf("foo[3] must renumber to 2, got %d", m.node(f3).seg.Index)
		}
		if m.childAt(m.root, "foo", 3) != nilNode {
			t.Fatal("slot 3 must be gone")
		}
	})

	t.Run("without shift", func(t *testing.T) {
		t.Parallel()
		m := newBareManager(t)
		f1 := m.putChild(m.root, seg("foo", 1))
		f2 := m.putChild(m.root, seg("foo", 2))
		f3 := m.putChild(m.root, seg("foo", 3))

		m.detachChild(f2, false)
		m.freeNode(f2)

		if m.childAt(m.root, "foo", 1) != f1 || m.childAt(m.root, "foo", 3) != f3 {
			t.Fatal("want {foo[1], foo[3]} unchanged")
		}
		if m.childAt(m.root, "foo", 2) != nilNode {
			t.Fatal("slot 2 must be a hole")
		}
		if m.node(f3).seg.Index != 3 {
			t.Fatalf("foo[3] must keep its index, got %d", m.node(f3).seg.Index)
		}
	})
}

func TestTrie_DetachTrimsTrailingHoles(t *testing.T) {
	t.Parallel()

	m := newBareManager(t)
	m.putChild(m.root, seg("foo", 1))
	f2 := m.putChild(m.root, seg("foo", 2))

	m.detachChild(f2, false)
	m.freeNode(f2)

	if got := len(m.node(m.root).children["foo"]); got != 1 {
		t.Fatalf("trailing holes must be trimmed, len=%d", got)
	}
	if m.node(m.root).nchild != 1 {
		t.Fatalf("nchild=%d, want 1", m.node(m.root).nchild)
	}
}

func TestTrie_PruneAncestors(t *testing.T) {
	t.Parallel()

	m := newBareManager(t)
	a := m.putChild(m.root, seg("a", 1))
	b := m.putChild(a, seg("b", 1))
	c := m.putChild(b, seg("c", 1))

	// Give a a payload so pruning must stop there.
	e := m.allocEntry(repo.NodeItem(repo.NewNodeID()))
	m.entry(e).refs = []nodeRef{a}
	m.node(a).entry = e
	m.idx[m.entry(e).id] = e
	m.lruAppend(e)

	m.detachChild(c, false)
	m.freeNode(c)
	m.pruneAncestors(b)

	if m.childAt(a, "b", 1) != nilNode {
		t.Fatal("payload-free childless b must be pruned")
	}
	if m.childAt(m.root, "a", 1) != a {
		t.Fatal("payload-bearing a must survive pruning")
	}
}

func TestTrie_PathTo(t *testing.T) {
	t.Parallel()

	m := newBareManager(t)
	a := m.putChild(m.root, seg("a", 1))
	f2 := m.putChild(a, seg("foo", 2))

	if got := m.pathTo(f2).String(); got != "/a/foo[2]" {
		t.Fatalf("pathTo: %s", got)
	}
	if got := m.pathTo(m.root).String(); got != "/" {
		t.Fatalf("pathTo root: %s", got)
	}
}

func TestTrie_TraverseVisitsPayloadsOnly(t *testing.T) {
	t.Parallel()

	m := newBareManager(t)
	a := m.putChild(m.root, seg("a", 1))
	b := m.putChild(a, seg("b", 1))

	e := m.allocEntry(repo.NodeItem(repo.NewNodeID()))
	m.entry(e).refs = []nodeRef{b}
	m.node(b).entry = e
	m.idx[m.entry(e).id] = e
	m.lruAppend(e)

	for _, df := range []bool{true, false} {
		var visited []nodeRef
		m.traverse(func(n nodeRef) { visited = append(visited, n) }, df)
		if len(visited) != 1 || visited[0] != b {
			t.Fatalf("df=%v: visited %v, want just %d", df, visited, b)
		}
	}
}

func TestArena_FreeListReuse(t *testing.T) {
	t.Parallel()

	m := newBareManager(t)
	a := m.putChild(m.root, seg("a", 1))
	m.detachChild(a, true)
	m.freeNode(a)

	b := m.putChild(m.root, seg("b", 1))
	if b != a {
		t.Fatalf("freed slot must be reused: got %d, want %d", b, a)
	}
}

func TestLRU_TouchMovesToTail(t *testing.T) {
	t.Parallel()

	m := newBareManager(t)
	var refs []entryRef
	for _, name := range []string{"a", "b", "c"} {
		n := m.putChild(m.root, seg(name, 1))
		e := m.allocEntry(repo.NodeItem(repo.NewNodeID()))
		m.entry(e).refs = []nodeRef{n}
		m.node(n).entry = e
		m.idx[m.entry(e).id] = e
		m.lruAppend(e)
		refs = append(refs, e)
	}

	if m.lruHead != refs[0] || m.lruTail != refs[2] {
		t.Fatalf("initial order: head=%d tail=%d", m.lruHead, m.lruTail)
	}
	m.touch(refs[0])
	if m.lruHead != refs[1] || m.lruTail != refs[0] {
		t.Fatalf("after touch: head=%d tail=%d", m.lruHead, m.lruTail)
	}
	m.mustBeConsistentLocked()
}
