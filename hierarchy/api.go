package hierarchy

import (
	"errors"

	"github.com/IvanBrykalov/hiercache/repo"
)

// ErrPathNotFound is returned by ResolvePath when no item exists at the
// path, cached or not.
var ErrPathNotFound = errors.New("hierarchy: path not found")

// ErrItemNotFound is returned by the identifier-keyed lookups when the
// identifier resolves to no live item.
var ErrItemNotFound = errors.New("hierarchy: item not found")

// Resolver is the hierarchy-lookup surface the rest of the repository
// consumes: identifier⇄path translation and ancestry tests, accelerated by
// the cache but authoritatively answered by the state manager. The cache is
// invisible in the error contract: callers see the same errors whether an
// answer came from the cache or from a fallback.
//
// All methods are safe for concurrent use by multiple goroutines.
type Resolver interface {
	// ResolvePath returns the identifier of the item at path.
	// Fails with ErrPathNotFound when no such item exists.
	ResolvePath(path repo.Path) (repo.ItemID, error)

	// PathOf returns an absolute path under which the item is reachable.
	// For a shared node any one of its paths may be returned.
	// Fails with ErrItemNotFound.
	PathOf(id repo.ItemID) (repo.Path, error)

	// NameOf returns the item's name ("" for the root node).
	NameOf(id repo.ItemID) (string, error)

	// DepthOf returns the item's depth (the root node has depth 0).
	DepthOf(id repo.ItemID) (int, error)

	// IsAncestor reports whether a is a strict ancestor of b along any
	// path b is reachable through.
	IsAncestor(a, b repo.ItemID) (bool, error)
}
