package tracking

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"

	"github.com/pthm-cable/swimmers/particle"
)

// candidate is a known position stored in the k-d tree. Only x and y take
// part in the search.
type candidate struct {
	x, y float64
	id   uint64
}

func (c candidate) Compare(o kdtree.Comparable, d kdtree.Dim) float64 {
	q := o.(candidate)
	switch d {
	case 0:
		return c.x - q.x
	case 1:
		return c.y - q.y
	default:
		panic("tracking: illegal dimension")
	}
}

func (c candidate) Dims() int { return 2 }

// Distance returns the squared distance, as kdtree expects.
func (c candidate) Distance(o kdtree.Comparable) float64 {
	q := o.(candidate)
	dx, dy := c.x-q.x, c.y-q.y
	return dx*dx + dy*dy
}

// candidates satisfies kdtree.Interface.
type candidates []candidate

func (c candidates) Index(i int) kdtree.Comparable         { return c[i] }
func (c candidates) Len() int                              { return len(c) }
func (c candidates) Pivot(d kdtree.Dim) int                { return plane{candidates: c, Dim: d}.Pivot() }
func (c candidates) Slice(start, end int) kdtree.Interface { return c[start:end] }

// plane pivots candidates on one dimension.
type plane struct {
	kdtree.Dim
	candidates
}

func (p plane) Less(i, j int) bool {
	if p.Dim == 0 {
		return p.candidates[i].x < p.candidates[j].x
	}
	return p.candidates[i].y < p.candidates[j].y
}
func (p plane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p plane) Slice(start, end int) kdtree.SortSlicer {
	p.candidates = p.candidates[start:end]
	return p
}
func (p plane) Swap(i, j int) {
	p.candidates[i], p.candidates[j] = p.candidates[j], p.candidates[i]
}

type ranked struct {
	id   uint64
	dist float64
}

// knownIndex answers k-nearest queries over the known positions.
type knownIndex struct {
	tree *kdtree.Tree
	size int
}

func newKnownIndex(known []particle.Known) *knownIndex {
	pts := make(candidates, len(known))
	for i, k := range known {
		pts[i] = candidate{x: k.Pos.X, y: k.Pos.Y, id: k.ID}
	}
	return &knownIndex{tree: kdtree.New(pts, false), size: len(pts)}
}

// nearest returns the k closest candidates ordered by (distance, ID). Every
// candidate tied with the k-th distance is considered before truncating, so
// the result does not depend on tree layout.
func (ix *knownIndex) nearest(x, y float64, k int) []ranked {
	if k > ix.size {
		k = ix.size
	}
	if k <= 0 {
		return nil
	}
	q := candidate{x: x, y: y}

	nk := kdtree.NewNKeeper(k)
	ix.tree.NearestSet(nk, q)
	heap := nk.Heap
	if len(heap) == k && k < ix.size {
		worst := 0.0
		for _, c := range heap {
			if c.Comparable != nil && c.Dist > worst {
				worst = c.Dist
			}
		}
		dk := kdtree.NewDistKeeper(worst)
		ix.tree.NearestSet(dk, q)
		heap = dk.Heap
	}

	out := make([]ranked, 0, len(heap))
	for _, c := range heap {
		if c.Comparable == nil {
			continue
		}
		out = append(out, ranked{id: c.Comparable.(candidate).id, dist: math.Sqrt(c.Dist)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].dist != out[j].dist {
			return out[i].dist < out[j].dist
		}
		return out[i].id < out[j].id
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}
