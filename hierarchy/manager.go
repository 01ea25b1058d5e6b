package hierarchy

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/IvanBrykalov/hiercache/internal/ratelog"
	"github.com/IvanBrykalov/hiercache/internal/util"
	"github.com/IvanBrykalov/hiercache/repo"
	"github.com/IvanBrykalov/hiercache/state"
)

// Manager is the hierarchy path cache. It answers identifier⇄path lookups
// from the trie/index/LRU triple, falls back to the authoritative provider
// on miss, repairs itself on detected staleness and consumes the provider's
// structural events (it implements state.Listener).
//
// All methods are safe for concurrent use.
type Manager struct {
	opt Options
	log *ratelog.Logger

	// ---- guarded by mu ----
	mu          sync.Mutex
	nodes       []trieNode // trie arena; slot 0 reserved
	freeNodes   []nodeRef
	entries     []cacheEntry // entry arena; slot 0 reserved
	freeEntries []entryRef
	idx         map[repo.ItemID]entryRef
	lruHead     entryRef
	lruTail     entryRef
	root        nodeRef

	// ---- hot counters (separate cache lines to avoid false sharing) ----
	_      util.CacheLinePad
	hits   util.PaddedAtomicInt64
	misses util.PaddedAtomicInt64
	evicts util.PaddedAtomicUint64
}

// Stats is a point-in-time snapshot of the cache counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions uint64
	Entries   int
}

// New constructs a Manager with the provided Options.
// Panics if Provider is nil or Root is the zero NodeID.
func New(opt Options) *Manager {
	if opt.Provider == nil {
		panic("hierarchy: Options.Provider must not be nil")
	}
	if opt.Root.IsZero() {
		panic("hierarchy: Options.Root must be set")
	}
	if opt.MaxSize <= 0 {
		opt.MaxSize = DefaultMaxSize
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	if opt.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		opt.Logger = l
	}

	m := &Manager{
		opt:     opt,
		log:     ratelog.New(opt.Logger, time.Second, 5),
		nodes:   make([]trieNode, 1, 64),
		entries: make([]cacheEntry, 1, 64),
		idx:     make(map[repo.ItemID]entryRef),
	}
	m.root = m.allocNode(nilNode, repo.Segment{})
	return m
}

var (
	_ Resolver       = (*Manager)(nil)
	_ state.Listener = (*Manager)(nil)
)

// Stats returns a snapshot of the cache counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	entries := len(m.idx)
	m.mu.Unlock()
	return Stats{
		Hits:      m.hits.Load(),
		Misses:    m.misses.Load(),
		Evictions: m.evicts.Load(),
		Entries:   entries,
	}
}

// Len returns the number of cached identifiers.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.idx)
}

// ---- Resolver ----

// ResolvePath returns the identifier of the item at path.
func (m *Manager) ResolvePath(path repo.Path) (repo.ItemID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, err := m.resolveLocked(path)
	m.checkLocked()
	return id, err
}

func (m *Manager) resolveLocked(path repo.Path) (repo.ItemID, error) {
	if path.IsRoot() {
		return repo.NodeItem(m.opt.Root), nil
	}

	n, consumed := m.lookup(path)
	// Back off to the nearest payload-bearing node: interior nodes exist
	// only as prefixes for cached descendants and carry no identifier.
	for n != m.root && m.node(n).entry == nilEntry {
		n = m.node(n).parent
		consumed--
	}

	if consumed == path.Depth() {
		e := m.node(n).entry
		id := m.entry(e).id
		if m.opt.Provider.ItemExists(id) {
			m.touch(e)
			m.hits.Add(1)
			m.opt.Metrics.Hit()
			return id, nil
		}
		// The mapping is stale: the item is gone from the authoritative
		// state. Evict and resolve from scratch.
		m.evictEntry(e, false, EvictStale)
		m.misses.Add(1)
		m.opt.Metrics.Miss()
		return m.resolveFrom(path, m.root, 0, false)
	}

	m.misses.Add(1)
	m.opt.Metrics.Miss()
	return m.resolveFrom(path, n, consumed, true)
}

// resolveFrom resolves the suffix of path below the cached node n (the
// first consumed segments are already matched) by repeated one-level
// descent through the provider, caching every newly discovered item. When
// the provider fails mid-suffix the cached prefix entry is evicted whole
// and, if retry is set, the resolution restarts once from the root without
// consulting the cache.
func (m *Manager) resolveFrom(path repo.Path, n nodeRef, consumed int, retry bool) (repo.ItemID, error) {
	cur := repo.NodeItem(m.opt.Root)
	prefix := nilEntry
	if n != m.root {
		prefix = m.node(n).entry
		cur = m.entry(prefix).id
	}

	for i := consumed; i < path.Depth(); i++ {
		if cur.IsProperty() {
			// Properties have no children; the path goes below one.
			return repo.ItemID{}, fmt.Errorf("%w: %s", ErrPathNotFound, path)
		}
		seg := path.Segment(i)
		cid, ok, err := m.opt.Provider.ChildEntry(cur.Node, seg.Name, seg.NormIndex())
		if err != nil {
			// The cached prefix led us somewhere the authoritative state
			// cannot answer for: treat the whole prefix as suspect.
			if prefix != nilEntry {
				m.evictEntry(prefix, false, EvictStale)
			}
			m.log.Errorf("hierarchy: resolving %s below %v: %v", path, cur, err)
			if retry && prefix != nilEntry {
				return m.resolveFrom(path, m.root, 0, false)
			}
			return repo.ItemID{}, fmt.Errorf("%w: %s: %v", ErrPathNotFound, path, err)
		}
		if !ok {
			return repo.ItemID{}, fmt.Errorf("%w: %s", ErrPathNotFound, path)
		}
		n = m.cacheItemAt(n, repo.Segment{Name: seg.Name, Index: seg.NormIndex()}, cid)
		cur = cid
	}
	return cur, nil
}

// PathOf returns an absolute path the item is reachable under.
func (m *Manager) PathOf(id repo.ItemID) (repo.Path, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.pathLocked(id, true)
	m.checkLocked()
	return p, err
}

func (m *Manager) pathLocked(id repo.ItemID, count bool) (repo.Path, error) {
	if id == repo.NodeItem(m.opt.Root) {
		return repo.Root, nil
	}
	if e, ok := m.idx[id]; ok {
		m.touch(e)
		if count {
			m.hits.Add(1)
			m.opt.Metrics.Hit()
		}
		return m.pathTo(m.entry(e).refs[0]), nil
	}
	if count {
		m.misses.Add(1)
		m.opt.Metrics.Miss()
	}
	return m.buildPathLocked(id)
}

// buildPathLocked builds the item's path by walking parent states through
// the provider, then caches every item visited along the way.
func (m *Manager) buildPathLocked(id repo.ItemID) (repo.Path, error) {
	type hop struct {
		id  repo.ItemID
		seg repo.Segment
	}
	var hops []hop

	cur := id
	for cur != repo.NodeItem(m.opt.Root) {
		if cur.IsProperty() {
			if !m.opt.Provider.ItemExists(cur) {
				return repo.Path{}, fmt.Errorf("%w: %v", ErrItemNotFound, cur)
			}
			hops = append(hops, hop{cur, repo.Segment{Name: cur.Name, Index: 1}})
			cur = repo.NodeItem(cur.Node)
			continue
		}
		st, err := m.opt.Provider.GetItemState(cur)
		if err != nil {
			return repo.Path{}, m.itemLookupFailed(cur, err)
		}
		pid := st.Parent()
		if pid.IsZero() {
			// A parentless node that is not the configured root: the
			// authoritative tree does not reach it.
			return repo.Path{}, fmt.Errorf("%w: %v", ErrItemNotFound, id)
		}
		seg, ok, err := m.segmentUnder(pid, cur)
		if err != nil {
			return repo.Path{}, m.itemLookupFailed(cur, err)
		}
		if !ok {
			return repo.Path{}, fmt.Errorf("%w: %v", ErrItemNotFound, id)
		}
		hops = append(hops, hop{cur, seg})
		cur = repo.NodeItem(pid)
	}

	// Cache the whole chain, rootmost first.
	n := m.root
	for i := len(hops) - 1; i >= 0; i-- {
		n = m.cacheItemAt(n, hops[i].seg, hops[i].id)
	}
	return m.pathTo(n), nil
}

// segmentUnder locates child's (name, index) in parent's authoritative
// child list.
func (m *Manager) segmentUnder(parent repo.NodeID, child repo.ItemID) (repo.Segment, bool, error) {
	st, err := m.opt.Provider.GetItemState(repo.NodeItem(parent))
	if err != nil {
		return repo.Segment{}, false, err
	}
	ns, ok := st.(state.NodeState)
	if !ok {
		return repo.Segment{}, false, nil
	}
	for _, e := range ns.Children() {
		if e.ID == child {
			return e.Segment(), true, nil
		}
	}
	return repo.Segment{}, false, nil
}

// itemLookupFailed maps a provider failure to the caller-visible error,
// logging unexpected failures at a rate-limited cadence.
func (m *Manager) itemLookupFailed(id repo.ItemID, err error) error {
	if errors.Is(err, state.ErrNoSuchItem) {
		return fmt.Errorf("%w: %v", ErrItemNotFound, id)
	}
	m.log.Errorf("hierarchy: reading state of %v: %v", id, err)
	return fmt.Errorf("%w: %v: %v", ErrItemNotFound, id, err)
}

// NameOf returns the item's name; the root node's name is "".
func (m *Manager) NameOf(id repo.ItemID) (string, error) {
	if id.IsProperty() {
		// A property's name is intrinsic to its identifier.
		return id.Name, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if id == repo.NodeItem(m.opt.Root) {
		return "", nil
	}
	if e, ok := m.idx[id]; ok {
		m.touch(e)
		m.hits.Add(1)
		m.opt.Metrics.Hit()
		return m.node(m.entry(e).refs[0]).seg.Name, nil
	}
	m.misses.Add(1)
	m.opt.Metrics.Miss()

	st, err := m.opt.Provider.GetItemState(id)
	if err != nil {
		return "", m.itemLookupFailed(id, err)
	}
	seg, ok, err := m.segmentUnder(st.Parent(), id)
	if err != nil {
		return "", m.itemLookupFailed(id, err)
	}
	if !ok {
		return "", fmt.Errorf("%w: %v", ErrItemNotFound, id)
	}
	return seg.Name, nil
}

// DepthOf returns the item's depth; the root node has depth 0.
func (m *Manager) DepthOf(id repo.ItemID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id == repo.NodeItem(m.opt.Root) {
		return 0, nil
	}
	if e, ok := m.idx[id]; ok {
		m.touch(e)
		m.hits.Add(1)
		m.opt.Metrics.Hit()
		return int(m.node(m.entry(e).refs[0]).depth), nil
	}
	m.misses.Add(1)
	m.opt.Metrics.Miss()

	p, err := m.buildPathLocked(id)
	m.checkLocked()
	if err != nil {
		return 0, err
	}
	return p.Depth(), nil
}

// IsAncestor reports whether a is a strict ancestor of b along any cached
// or authoritative path.
func (m *Manager) IsAncestor(a, b repo.ItemID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a == b || a.IsProperty() {
		return false, nil
	}
	if b == repo.NodeItem(m.opt.Root) {
		return false, nil
	}
	if a == repo.NodeItem(m.opt.Root) {
		// The root is an ancestor of everything that exists.
		if _, ok := m.idx[b]; ok {
			return true, nil
		}
		if !m.opt.Provider.ItemExists(b) {
			return false, fmt.Errorf("%w: %v", ErrItemNotFound, b)
		}
		return true, nil
	}

	ea, aok := m.idx[a]
	eb, bok := m.idx[b]
	if aok && bok {
		for _, ra := range m.entry(ea).refs {
			for _, rb := range m.entry(eb).refs {
				if m.isDescendant(ra, rb) {
					m.touch(ea)
					m.touch(eb)
					return true, nil
				}
			}
		}
	}

	// The cache cannot prove a negative (only some of b's paths may be
	// cached), so delegate: compare authoritative paths.
	pa, err := m.pathLocked(a, false)
	if err != nil {
		return false, err
	}
	pb, err := m.pathLocked(b, false)
	m.checkLocked()
	if err != nil {
		return false, err
	}
	return pa.IsAncestorOf(pb), nil
}

// ---- cache bookkeeping (mu held) ----

// cacheItemAt attaches id as the payload of parent's child at seg, creating
// the trie node if needed. A second path of an already-cached identifier
// (shared node) fans out the existing entry rather than duplicating it.
func (m *Manager) cacheItemAt(parent nodeRef, seg repo.Segment, id repo.ItemID) nodeRef {
	n := m.putChild(parent, seg)

	if cur := m.node(n).entry; cur != nilEntry {
		if m.entry(cur).id == id {
			m.touch(cur)
			return n
		}
		// A different identifier was cached at this exact path: stale.
		m.dropPayload(n, EvictStale)
	}

	if e, ok := m.idx[id]; ok {
		ent := m.entry(e)
		ent.refs = append(ent.refs, n)
		m.node(n).entry = e
		m.touch(e)
		return n
	}

	m.evictForCapacity()
	e := m.allocEntry(id)
	m.entry(e).refs = []nodeRef{n}
	m.node(n).entry = e
	m.idx[id] = e
	m.lruAppend(e)
	m.opt.Metrics.Size(len(m.idx))
	return n
}

// dropPayload detaches the payload from trie node n. When the last
// trie reference goes away the entry leaves the index and the LRU list.
func (m *Manager) dropPayload(n nodeRef, reason EvictReason) {
	e := m.node(n).entry
	if e == nilEntry {
		return
	}
	m.node(n).entry = nilEntry
	ent := m.entry(e)
	for i, r := range ent.refs {
		if r == n {
			ent.refs = append(ent.refs[:i], ent.refs[i+1:]...)
			break
		}
	}
	if len(ent.refs) > 0 {
		return
	}
	id := ent.id
	delete(m.idx, id)
	m.lruRemove(e)
	m.freeEntry(e)
	m.evicts.Add(1)
	m.opt.Metrics.Evict(reason)
	m.opt.Metrics.Size(len(m.idx))
	if cb := m.opt.OnEvict; cb != nil {
		cb(id, reason)
	}
}

// evictEntry removes every path of the entry from the cache. shift mirrors
// an authoritative removal (siblings renumber); cache-side evictions pass
// false. Cached descendants of the removed paths are evicted with them to
// keep the trie connected.
func (m *Manager) evictEntry(e entryRef, shift bool, reason EvictReason) {
	refs := append([]nodeRef(nil), m.entry(e).refs...)
	for _, r := range refs {
		if m.node(r).entry != e {
			continue // already freed as a descendant of an earlier ref
		}
		m.evictPath(r, shift, reason)
	}
}

// evictPath removes the single trie node n (and its cached subtree),
// leaving any other paths of the same identifiers untouched.
func (m *Manager) evictPath(n nodeRef, shift bool, reason EvictReason) {
	parent := m.node(n).parent
	m.removeSubtree(n, shift, func(x nodeRef) { m.dropPayload(x, reason) })
	if parent != nilNode {
		m.pruneAncestors(parent)
	}
}

// evictForCapacity enforces the advisory size bound before a new entry is
// inserted: the oldest entry whose every trie reference has no cached
// children is evicted. Entries with cached children are skipped: removing
// one would break trie connectivity for its descendants. If nothing is
// evictable the insert simply proceeds past the bound.
func (m *Manager) evictForCapacity() {
	if len(m.idx) < m.opt.MaxSize {
		return
	}
	for e := m.lruHead; e != nilEntry; e = m.entry(e).next {
		evictable := true
		for _, r := range m.entry(e).refs {
			if m.node(r).nchild > 0 {
				evictable = false
				break
			}
		}
		if evictable {
			m.evictEntry(e, false, EvictCapacity)
			return
		}
	}
}
