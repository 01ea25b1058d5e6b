//go:build go1.18

package hierarchy

import (
	"testing"

	"github.com/IvanBrykalov/hiercache/repo"
	"github.com/IvanBrykalov/hiercache/state/mem"
)

// Fuzz a random interleaving of tree mutations and cache reads. Every
// operation runs with the structural checker enabled, so any divergence
// between the trie, the identifier index and the LRU list panics on the
// spot. Mutation errors (dead identifiers, cycles) are expected and
// ignored; the point is that the cache never corrupts itself.
func FuzzManager_Operations(f *testing.F) {
	f.Add([]byte{0, 0, 2, 1, 3})
	f.Add([]byte{0, 8, 16, 2, 10, 4, 3, 1})
	f.Add([]byte{0, 0, 0, 5, 2, 2, 6, 1, 1, 1})
	f.Add([]byte{0, 32, 40, 7, 2, 3, 4, 5, 6})
	f.Add([]byte{0, 4, 0, 8, 6, 2, 2, 6, 8, 6, 5, 9, 3, 9, 6})

	names := []string{"a", "b", "foo"}

	f.Fuzz(func(t *testing.T, script []byte) {
		const limit = 256
		if len(script) > limit {
			script = script[:limit]
		}

		tree := mem.NewManager()
		m := New(Options{
			Provider:         tree,
			Root:             tree.Root(),
			MaxSize:          8,
			CheckConsistency: true,
		})
		tree.Subscribe(m)

		ids := []repo.NodeID{tree.Root()}
		pick := func(b byte) repo.NodeID { return ids[int(b)%len(ids)] }

		for i := 0; i < len(script); i++ {
			b := script[i]
			arg := byte(0)
			if i+1 < len(script) {
				arg = script[i+1]
			}
			switch b % 10 {
			case 0:
				id, err := tree.AddNode(pick(arg), names[int(arg)%len(names)], arg%4 == 0)
				if err == nil {
					ids = append(ids, id)
				}
			case 1:
				id := pick(arg)
				if id != tree.Root() {
					_ = tree.RemoveNode(id)
				}
			case 2:
				name := names[int(arg)%len(names)]
				idx := int(arg)%3 + 1
				path := repo.Root.Child(repo.Segment{Name: name, Index: 1}).
					Child(repo.Segment{Name: name, Index: idx})
				_, _ = m.ResolvePath(path)
			case 3:
				_, _ = m.PathOf(repo.NodeItem(pick(arg)))
			case 4:
				_ = tree.Move(pick(arg), pick(arg>>2), names[int(arg)%len(names)])
			case 5:
				_ = tree.Reorder(pick(arg), int(arg)%4, int(arg>>2)%4)
			case 6:
				_ = tree.SetProperty(pick(arg), "p")
			case 7:
				// Mutation behind the cache's back. Later reads must
				// detect and repair, never corrupt.
				id := pick(arg)
				if id != tree.Root() {
					tree.Forget(id)
				}
			case 8:
				_ = tree.Share(pick(arg), pick(arg>>2), names[int(arg)%len(names)])
			case 9:
				_ = tree.RemoveShare(pick(arg), pick(arg>>2))
			}
		}

		// A full sweep of reads over everything ever created must leave
		// the cache internally consistent.
		for _, id := range ids {
			_, _ = m.PathOf(repo.NodeItem(id))
			_, _ = m.DepthOf(repo.NodeItem(id))
		}
		// The capacity bound is advisory (ancestor chains pin their
		// entries), but it can never exceed one entry per item created.
		if got := m.Len(); got > len(ids)+len(script) {
			t.Fatalf("cache size %d exceeds every item ever created", got)
		}
	})
}
