package hierarchy

import (
	"errors"
	"math/rand"
	"runtime"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/hiercache/repo"
	"github.com/IvanBrykalov/hiercache/state/mem"
)

// A mixed workload of concurrent resolves, reverse lookups and tree
// mutations. Should pass under `-race` without detector reports, and the
// structural checker guards every handler invocation.
func TestRace_ResolveWhileMutating(t *testing.T) {
	tree := mem.NewManager()
	m := New(Options{
		Provider:         tree,
		Root:             tree.Root(),
		MaxSize:          64,
		CheckConsistency: true,
	})
	tree.Subscribe(m)

	// A stable spine the readers hammer while writers churn leaves.
	names := []string{"etc", "var", "usr"}
	spine := make([]repo.NodeID, len(names))
	for i, name := range names {
		id, err := tree.AddNode(tree.Root(), name, false)
		if err != nil {
			t.Fatal(err)
		}
		spine[i] = id
	}

	workers := 2 * runtime.GOMAXPROCS(0)
	deadline := time.Now().Add(2 * time.Second)

	var wg sync.WaitGroup
	wg.Add(workers + 2)
	for w := 0; w < workers; w++ {
		go func(id int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)*9973))
			for time.Now().Before(deadline) {
				name := names[r.Intn(len(names))]
				switch r.Intn(10) {
				case 0:
					_, _ = m.PathOf(repo.NodeItem(spine[r.Intn(len(spine))]))
				case 1:
					_, _ = m.IsAncestor(repo.NodeItem(tree.Root()),
						repo.NodeItem(spine[r.Intn(len(spine))]))
				default:
					path := repo.Root.
						Child(repo.Segment{Name: name}).
						Child(repo.Segment{Name: "leaf", Index: 1 + r.Intn(3)})
					_, _ = m.ResolvePath(path)
				}
			}
		}(w)
	}

	// Two writers keep adding and removing leaves under the spine.
	for w := 0; w < 2; w++ {
		go func(id int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() - int64(id)*7919))
			var leaves []repo.NodeID
			for time.Now().Before(deadline) {
				if len(leaves) < 8 || r.Intn(2) == 0 {
					leaf, err := tree.AddNode(spine[r.Intn(len(spine))], "leaf", false)
					if err == nil {
						leaves = append(leaves, leaf)
					}
				} else {
					i := r.Intn(len(leaves))
					_ = tree.RemoveNode(leaves[i])
					leaves = append(leaves[:i], leaves[i+1:]...)
				}
			}
		}(w)
	}
	wg.Wait()
}

// Many goroutines resolve the same cold path concurrently. Exactly one
// identifier comes back and the cache ends up with one entry per segment.
func TestRace_ColdPathSingleEntry(t *testing.T) {
	tree := mem.NewManager()
	a, err := tree.AddNode(tree.Root(), "a", false)
	if err != nil {
		t.Fatal(err)
	}
	b, err := tree.AddNode(a, "b", false)
	if err != nil {
		t.Fatal(err)
	}

	m := New(Options{Provider: tree, Root: tree.Root(), CheckConsistency: true})
	tree.Subscribe(m)

	path := repo.MustParsePath("/a/b")
	start := make(chan struct{})

	var g errgroup.Group
	for i := 0; i < 100; i++ {
		g.Go(func() error {
			<-start
			id, err := m.ResolvePath(path)
			if err != nil {
				return err
			}
			if id != repo.NodeItem(b) {
				return errors.New("resolved wrong identifier")
			}
			return nil
		})
	}
	close(start)
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	if got := m.Len(); got != 2 {
		t.Fatalf("cache size %d, want one entry for /a and one for /a/b", got)
	}
	st := m.Stats()
	if st.Hits+st.Misses != 100 {
		t.Fatalf("hits+misses = %d, want 100", st.Hits+st.Misses)
	}
}
