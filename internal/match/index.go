package match

import (
	"sync"

	"github.com/coder/hnsw"
)

// indexMaxNeighbors is the HNSW M parameter.
const indexMaxNeighbors = 16

// Index is an in-memory HNSW index over the gallery, used for approximate
// nearest-subject lookups such as the duplicate-enrollment check. It is an
// accelerator only: the authoritative mark path always uses the exact
// Nearest scan.
type Index struct {
	mu      sync.RWMutex
	graph   *hnsw.Graph[int64]
	entries map[int64]Entry
}

// NewIndex creates a new empty index.
func NewIndex() *Index {
	return &Index{entries: make(map[int64]Entry)}
}

// Build replaces the index contents with the given gallery. Entries with
// empty vectors are ignored.
func (ix *Index) Build(gallery []Entry) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if len(gallery) == 0 {
		ix.graph = nil
		ix.entries = make(map[int64]Entry)
		return
	}

	g := hnsw.NewGraph[int64]()
	g.M = indexMaxNeighbors
	g.Ml = 1.0 / float64(indexMaxNeighbors) // Standard HNSW formula
	g.Distance = hnsw.EuclideanDistance

	ix.entries = make(map[int64]Entry, len(gallery))
	for _, e := range gallery {
		if len(e.Vector) == 0 {
			continue
		}
		g.Add(hnsw.MakeNode(e.Ref, e.Vector))
		ix.entries[e.Ref] = e
	}
	ix.graph = g
}

// Search returns up to k entries nearest to the probe, closest first, with
// exact L2 distances recomputed from the stored vectors.
func (ix *Index) Search(probe []float32, k int) []Result {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if ix.graph == nil || k <= 0 {
		return nil
	}

	neighbors := ix.graph.Search(probe, k)
	results := make([]Result, 0, len(neighbors))
	for _, n := range neighbors {
		e, ok := ix.entries[n.Key]
		if !ok {
			continue
		}
		results = append(results, Result{
			Ref:      e.Ref,
			Distance: L2Distance(probe, e.Vector),
		})
	}
	return results
}

// Len returns the number of indexed entries.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}
