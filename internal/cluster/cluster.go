// Package cluster groups near-duplicate functions by the distance between their vectors.
package cluster

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/roojs/semantic-code-search/internal/vector"
)

// Item is one function to cluster. Vector must be L2-normalized.
type Item struct {
	ID        uint64
	Path      string
	StartLine int
	EndLine   int
	Vector    []float32
}

// Lines returns the number of source lines the function spans.
func (it Item) Lines() int {
	return it.EndLine - it.StartLine + 1
}

// Cluster is a group of functions linked by distances at or below the threshold.
// AvgDistance is the mean length of the links that joined the group.
type Cluster struct {
	AvgDistance float64
	Items       []Item
}

// Options filters the clusters Find returns.
type Options struct {
	// MaxDistance is the largest cosine distance that links two functions.
	MaxDistance float64
	// MinLines drops clusters containing a function of this many lines or fewer.
	MinLines int
	// MinClusterSize drops smaller clusters. Values below 2 mean 2.
	MinClusterSize int
	// IgnoreIdentical drops clusters whose functions are all identical.
	IgnoreIdentical bool
	// Workers bounds the goroutines computing distances.
	Workers int
}

// DefaultOptions mirrors the command-line defaults.
func DefaultOptions() Options {
	return Options{MaxDistance: 0.2, MinClusterSize: 2, IgnoreIdentical: true}
}

type edge struct {
	a, b int
	dist float64
}

// Find groups items by single linkage: two functions share a cluster when a chain of
// links no longer than MaxDistance connects them. Clusters are ordered by average
// distance, then by their smallest ID; items within a cluster by ID.
func Find(ctx context.Context, items []Item, opts Options) ([]Cluster, error) {
	if opts.MinClusterSize < 2 {
		opts.MinClusterSize = 2
	}
	items = append([]Item(nil), items...)
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })

	edges, err := links(ctx, items, opts)
	if err != nil {
		return nil, err
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].dist != edges[j].dist {
			return edges[i].dist < edges[j].dist
		}
		if edges[i].a != edges[j].a {
			return edges[i].a < edges[j].a
		}
		return edges[i].b < edges[j].b
	})

	uf := newUnionFind(len(items))
	sum := make(map[int]float64)
	count := make(map[int]int)
	for _, e := range edges {
		ra, rb := uf.find(e.a), uf.find(e.b)
		if ra == rb {
			continue
		}
		root := uf.union(ra, rb)
		other := ra
		if root == ra {
			other = rb
		}
		sum[root] += sum[other] + e.dist
		count[root] += count[other] + 1
		delete(sum, other)
		delete(count, other)
	}

	groups := make(map[int][]Item)
	for i, it := range items {
		r := uf.find(i)
		groups[r] = append(groups[r], it)
	}
	var out []Cluster
	for root, members := range groups {
		if len(members) < opts.MinClusterSize {
			continue
		}
		avg := sum[root] / float64(count[root])
		if opts.IgnoreIdentical && avg <= identicalEpsilon {
			continue
		}
		if tooShort(members, opts.MinLines) {
			continue
		}
		out = append(out, Cluster{AvgDistance: avg, Items: members})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AvgDistance != out[j].AvgDistance {
			return out[i].AvgDistance < out[j].AvgDistance
		}
		return out[i].Items[0].ID < out[j].Items[0].ID
	})
	return out, nil
}

// Float32 rounding keeps identical vectors a hair above zero.
const identicalEpsilon = 1e-6

func tooShort(members []Item, minLines int) bool {
	for _, m := range members {
		if m.Lines() <= minLines {
			return true
		}
	}
	return false
}

// links computes every pair within MaxDistance. Rows are split across workers.
func links(ctx context.Context, items []Item, opts Options) ([]edge, error) {
	var (
		mu    sync.Mutex
		edges []edge
	)
	g, gctx := errgroup.WithContext(ctx)
	if opts.Workers > 0 {
		g.SetLimit(opts.Workers)
	}
	for i := range items {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			var row []edge
			for j := i + 1; j < len(items); j++ {
				if d := vector.CosineDistance(items[i].Vector, items[j].Vector); d <= opts.MaxDistance {
					row = append(row, edge{a: i, b: j, dist: d})
				}
			}
			if len(row) > 0 {
				mu.Lock()
				edges = append(edges, row...)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return edges, nil
}

type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), rank: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

// union links two roots and returns the surviving root.
func (u *unionFind) union(a, b int) int {
	if u.rank[a] < u.rank[b] {
		a, b = b, a
	}
	u.parent[b] = a
	if u.rank[a] == u.rank[b] {
		u.rank[a]++
	}
	return a
}
