// Command bench runs a synthetic workload against the hierarchy cache and
// exposes optional pprof/Prometheus endpoints.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/IvanBrykalov/hiercache/hierarchy"
	pmet "github.com/IvanBrykalov/hiercache/metrics/prom"
	"github.com/IvanBrykalov/hiercache/repo"
	"github.com/IvanBrykalov/hiercache/state/mem"
)

func main() {
	// ---- Flags ----
	var (
		maxSize = flag.Int("max", 100_000, "cache capacity bound (entries)")
		width   = flag.Int("width", 20, "children per node")
		depth   = flag.Int("depth", 3, "tree depth")

		workers  = flag.Int("workers", 2*runtime.GOMAXPROCS(0), "number of worker goroutines")
		duration = flag.Duration("duration", 10*time.Second, "benchmark duration")
		mutPct   = flag.Int("mutations", 2, "mutation percentage [0..100]")

		zipfS = flag.Float64("zipf_s", 1.1, "Zipf s > 1 (skew)")
		zipfV = flag.Float64("zipf_v", 1.0, "Zipf v")
		seed  = flag.Int64("seed", time.Now().UnixNano(), "random seed")

		pprofAddr   = flag.String("pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
		metricsAddr = flag.String("http", ":8080", "serve Prometheus metrics at addr")
	)
	flag.Parse()

	// ---- pprof server (on DefaultServeMux) ----
	if *pprofAddr != "" {
		go func() {
			log.Printf("pprof: serving at %s", *pprofAddr)
			log.Println(http.ListenAndServe(*pprofAddr, nil))
		}()
	}

	// ---- Prometheus metrics (on DefaultServeMux) ----
	metrics := pmet.New(nil, "hiercache", "bench", nil)
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		log.Printf("metrics: serving at %s", *metricsAddr)
		log.Println(http.ListenAndServe(*metricsAddr, nil))
	}()

	// ---- Build tree and cache ----
	tree := mem.NewManager()
	cache := hierarchy.New(hierarchy.Options{
		Provider: tree,
		Root:     tree.Root(),
		MaxSize:  *maxSize,
		Metrics:  metrics,
	})
	tree.Subscribe(cache)

	fmt.Printf("building tree: width=%d depth=%d ...\n", *width, *depth)
	var paths []repo.Path
	var build func(parent repo.NodeID, prefix repo.Path, level int)
	build = func(parent repo.NodeID, prefix repo.Path, level int) {
		if level == *depth {
			return
		}
		for i := 0; i < *width; i++ {
			name := fmt.Sprintf("n%d", i)
			id, err := tree.AddNode(parent, name, false)
			if err != nil {
				log.Fatalf("build: %v", err)
			}
			p := prefix.Child(repo.Segment{Name: name})
			paths = append(paths, p)
			build(id, p, level+1)
		}
	}
	build(tree.Root(), repo.Root, 0)
	fmt.Printf("tree built: %d paths\n", len(paths))

	// ---- Snapshot flags for goroutines ----
	mutPctVal := *mutPct
	seedBase := *seed
	zipfSVal := *zipfS
	zipfVVal := *zipfV
	workersN := *workers
	if workersN <= 0 {
		workersN = 1
	}

	// ---- Load generation ----
	var resolves, reverses, mutations, failures uint64
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(workersN)
	for w := 0; w < workersN; w++ {
		go func(id int) {
			defer wg.Done()

			// Each worker gets its own RNG + Zipf (rand.Rand is NOT goroutine-safe).
			localR := rand.New(rand.NewSource(seedBase + int64(id)*9973))
			localZipf := rand.NewZipf(localR, zipfSVal, zipfVVal, uint64(len(paths)-1))

			for {
				select {
				case <-ctx.Done():
					return
				default:
				}

				p := paths[localZipf.Uint64()]
				switch {
				case int(localR.Int31n(100)) < mutPctVal:
					// Churn: grow a leaf and remove it again so sibling
					// renumbering and subtree eviction stay exercised.
					atomic.AddUint64(&mutations, 1)
					parent, err := cache.ResolvePath(p)
					if err != nil {
						atomic.AddUint64(&failures, 1)
						continue
					}
					leaf, err := tree.AddNode(parent.Node, "tmp", false)
					if err != nil {
						atomic.AddUint64(&failures, 1)
						continue
					}
					_, _ = cache.ResolvePath(p.Child(repo.Segment{Name: "tmp"}))
					_ = tree.RemoveNode(leaf)
				case localR.Intn(4) == 0:
					atomic.AddUint64(&reverses, 1)
					id, err := cache.ResolvePath(p)
					if err != nil {
						atomic.AddUint64(&failures, 1)
						continue
					}
					if _, err := cache.PathOf(id); err != nil {
						atomic.AddUint64(&failures, 1)
					}
				default:
					atomic.AddUint64(&resolves, 1)
					if _, err := cache.ResolvePath(p); err != nil {
						atomic.AddUint64(&failures, 1)
					}
				}
			}
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(start)

	// ---- Report ----
	st := cache.Stats()
	ops := atomic.LoadUint64(&resolves) + atomic.LoadUint64(&reverses) + atomic.LoadUint64(&mutations)
	hitRate := 0.0
	if st.Hits+st.Misses > 0 {
		hitRate = float64(st.Hits) / float64(st.Hits+st.Misses) * 100
	}

	fmt.Printf("max=%d width=%d depth=%d workers=%d dur=%v seed=%d\n",
		*maxSize, *width, *depth, workersN, elapsed, seedBase)
	fmt.Printf("ops=%d (%.0f ops/s)  resolves=%d  reverses=%d  mutations=%d  failures=%d\n",
		ops, float64(ops)/elapsed.Seconds(),
		atomic.LoadUint64(&resolves), atomic.LoadUint64(&reverses),
		atomic.LoadUint64(&mutations), atomic.LoadUint64(&failures))
	fmt.Printf("hits=%d  misses=%d  hit-rate=%.2f%%  evictions=%d  entries=%d\n",
		st.Hits, st.Misses, hitRate, st.Evictions, st.Entries)
}
