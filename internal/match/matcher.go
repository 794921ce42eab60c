// Package match implements nearest-embedding selection over a gallery of
// enrolled subjects. It is pure computation: no storage access, no side
// effects, safe for concurrent use.
package match

import (
	"runtime"
	"sync"
)

// Entry is one gallery member: a subject reference and its embedding.
type Entry struct {
	Ref    int64
	Vector []float32
}

// Result is the nearest gallery entry to a probe.
type Result struct {
	Ref      int64
	Distance float64
	index    int
}

// Skipped describes a gallery entry that could not be compared because its
// stored vector does not have the probe's dimensionality. One corrupt row
// must never abort the scan for everyone else.
type Skipped struct {
	Ref int64
	Dim int
}

// parallelMinGallery is the gallery size above which Nearest splits the scan
// across goroutines. Below it the goroutine overhead outweighs the work.
const parallelMinGallery = 2048

// Nearest returns the gallery entry with the minimum Euclidean distance to
// the probe, plus any entries skipped for dimensionality mismatch. Ties
// resolve to the first entry in gallery order (strict less-than tracking).
// An empty gallery yields a nil result, never an error.
func Nearest(probe []float32, gallery []Entry) (*Result, []Skipped) {
	if len(gallery) >= parallelMinGallery {
		return nearestParallel(probe, gallery)
	}
	return nearestRange(probe, gallery, 0)
}

// nearestRange scans gallery linearly. base offsets the reported indexes so
// parallel chunks can be merged with gallery-order tie-breaking intact.
func nearestRange(probe []float32, gallery []Entry, base int) (*Result, []Skipped) {
	var best *Result
	var skipped []Skipped

	for i := range gallery {
		e := &gallery[i]
		if len(e.Vector) != len(probe) {
			skipped = append(skipped, Skipped{Ref: e.Ref, Dim: len(e.Vector)})
			continue
		}
		d := L2Distance(probe, e.Vector)
		if best == nil || d < best.Distance {
			best = &Result{Ref: e.Ref, Distance: d, index: base + i}
		}
	}
	return best, skipped
}

// nearestParallel splits the gallery into per-worker chunks and merges the
// chunk minima. The merge prefers the lower gallery index on equal distance,
// matching the sequential first-entry-wins semantics exactly.
func nearestParallel(probe []float32, gallery []Entry) (*Result, []Skipped) {
	workers := runtime.GOMAXPROCS(0)
	chunk := (len(gallery) + workers - 1) / workers

	type chunkResult struct {
		best    *Result
		skipped []Skipped
	}
	results := make([]chunkResult, workers)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		lo := w * chunk
		if lo >= len(gallery) {
			break
		}
		hi := min(lo+chunk, len(gallery))

		wg.Add(1)
		go func(w, lo, hi int) {
			defer wg.Done()
			best, skipped := nearestRange(probe, gallery[lo:hi], lo)
			results[w] = chunkResult{best: best, skipped: skipped}
		}(w, lo, hi)
	}
	wg.Wait()

	var best *Result
	var skipped []Skipped
	for _, r := range results {
		skipped = append(skipped, r.skipped...)
		if r.best == nil {
			continue
		}
		if best == nil ||
			r.best.Distance < best.Distance ||
			(r.best.Distance == best.Distance && r.best.index < best.index) {
			best = r.best
		}
	}
	return best, skipped
}
