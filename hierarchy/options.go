package hierarchy

import (
	"github.com/sirupsen/logrus"

	"github.com/IvanBrykalov/hiercache/repo"
	"github.com/IvanBrykalov/hiercache/state"
)

// DefaultMaxSize bounds the identifier index when Options.MaxSize is zero.
const DefaultMaxSize = 10_000

// EvictReason explains why a cached mapping was removed.
type EvictReason int

const (
	// EvictCapacity: removed by the capacity-bound LRU scan.
	EvictCapacity EvictReason = iota
	// EvictStale: removed after the cached mapping was found to disagree
	// with the authoritative state mid-operation.
	EvictStale
	// EvictStructural: removed in response to an authoritative structural
	// event (destroy, discard, child removed, reorder).
	EvictStructural
)

func (r EvictReason) String() string {
	switch r {
	case EvictCapacity:
		return "capacity"
	case EvictStale:
		return "stale"
	case EvictStructural:
		return "structural"
	default:
		return "unknown"
	}
}

// Metrics exposes cache-level observability hooks.
// A NoopMetrics implementation is provided and used by default.
type Metrics interface {
	Hit()
	Miss()
	Evict(reason EvictReason)
	Size(entries int)
}

// Options configures a Manager. Provider and Root are mandatory; everything
// else has a sane default applied in New:
//   - MaxSize <= 0   => DefaultMaxSize
//   - nil Metrics    => NoopMetrics
//   - nil Logger     => a logrus logger writing to io.Discard
type Options struct {
	// Provider is the authoritative state manager the cache reads through
	// on miss and falls back to on staleness.
	Provider state.Provider

	// Root is the identifier of the repository root node.
	Root repo.NodeID

	// MaxSize is the advisory entry-count bound. The LRU scan never evicts
	// an entry that still has cached children, so the resident count may
	// temporarily exceed the bound.
	MaxSize int

	// CheckConsistency runs a full trie/index/LRU cross-check after every
	// mutation and panics on any mismatch. It adds an O(n) scan per
	// mutation; intended for test builds only.
	CheckConsistency bool

	// OnEvict is called for every evicted identifier, under the cache
	// lock; keep callbacks lightweight.
	OnEvict func(id repo.ItemID, reason EvictReason)

	Metrics Metrics

	// Logger receives rate-limited reports of authoritative-manager
	// failures encountered on fallback paths.
	Logger logrus.FieldLogger
}
