// Package hierarchy implements the path cache of a hierarchical content
// repository: a write-through/read-through accelerator mapping item
// identifiers to the absolute paths they are reachable under, and back,
// on top of an authoritative item-state manager that remains the system
// of record.
//
// Design
//
//   - Storage: a path trie keyed by (name, same-name-sibling index)
//     segments, cross-indexed by item identifier, with every cached
//     identifier threaded on an LRU list. Trie nodes and cache entries live
//     in two arenas addressed by stable integer handles; the index and the
//     LRU links hold handles rather than pointers, so the three mutually
//     referencing structures share no aliased object graph.
//
//   - Concurrency: one mutex guards the whole trie/index/LRU triple. A
//     single logical operation (evicting a shared item, repairing a stale
//     prefix) touches all three structures, and partial visibility of such
//     an update would break their cross-invariants, so per-node locking is
//     deliberately not attempted. Simplicity over scalability.
//
//   - Fallback: on a miss or a detected stale mapping the manager evicts
//     the suspect entry and delegates to the authoritative provider while
//     still holding the lock, caching whatever the delegation discovers.
//     Callers never observe a half-repaired entry, and they see exactly the
//     same ErrPathNotFound/ErrItemNotFound whether or not the cache was
//     involved.
//
//   - Invalidation: the manager implements state.Listener; structural
//     events (modify, destroy, discard, child add/remove, reorder) update
//     the trie in place. Eviction distinguishes "every path of this
//     identifier" (destroy, discard) from "this one path" (move, remove,
//     capacity), which is what keeps shared nodes correct: unsharing one
//     parent leaves the other parent's path cached.
//
//   - Eviction: the entry count bound is advisory. The LRU scan walks from
//     the oldest entry and skips any entry that still has cached children,
//     because removing it would disconnect cached descendants from the
//     root; if every resident entry is load-bearing, insertion proceeds
//     past the bound.
//
//   - Shareable nodes: one cache entry fans out to several trie nodes, one
//     per parent the item is shared under. The identifier index maps each
//     identifier to exactly one entry regardless of how many paths it has.
//
// Basic usage
//
//	mgr := hierarchy.New(hierarchy.Options{
//	    Provider: provider,      // the authoritative state manager
//	    Root:     rootID,
//	    MaxSize:  10_000,
//	})
//	provider.Subscribe(mgr)      // feed structural events into the cache
//
//	id, err := mgr.ResolvePath(repo.MustParsePath("/content/articles/intro"))
//	path, err := mgr.PathOf(id)
//	ok, err := mgr.IsAncestor(parentID, childID)
//
// # Observability
//
// Options.Metrics receives hit/miss/evict/size signals; plug the
// metrics/prom adapter to export them to Prometheus. Provider failures on
// fallback paths are logged through Options.Logger at a rate-limited
// cadence so a hot path cannot cause a log storm.
package hierarchy
