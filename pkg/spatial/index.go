// Package spatial answers nearest-neighbour queries over a fixed point set
// with a k-d tree.
package spatial

import (
	"math"

	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/chazu/meshcmp/pkg/parallel"
)

// point is a tree element remembering its position in the source slice.
type point struct {
	r3.Vec
	idx int
}

// Compare returns the signed distance of p from the plane through c
// perpendicular to dimension d.
func (p *point) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(*point)
	switch d {
	case 0:
		return p.X - q.X
	case 1:
		return p.Y - q.Y
	default:
		return p.Z - q.Z
	}
}

// Dims returns 3.
func (p *point) Dims() int { return 3 }

// Distance returns the squared Euclidean distance to c.
func (p *point) Distance(c kdtree.Comparable) float64 {
	q := c.(*point)
	return r3.Norm2(r3.Sub(p.Vec, q.Vec))
}

// points implements kdtree.Interface.
type points []point

func (ps points) Index(i int) kdtree.Comparable { return &ps[i] }
func (ps points) Len() int                      { return len(ps) }
func (ps points) Slice(start, end int) kdtree.Interface {
	return ps[start:end]
}

// Pivot partitions the list about the median along d.
func (ps points) Pivot(d kdtree.Dim) int {
	p := plane{dim: d, points: ps}
	return kdtree.Partition(p, kdtree.MedianOfMedians(p))
}

// plane sorts points along one dimension.
type plane struct {
	dim    kdtree.Dim
	points points
}

func (p plane) Less(i, j int) bool {
	return p.points[i].Compare(&p.points[j], p.dim) < 0
}
func (p plane) Swap(i, j int) { p.points[i], p.points[j] = p.points[j], p.points[i] }
func (p plane) Len() int      { return len(p.points) }
func (p plane) Slice(start, end int) kdtree.SortSlicer {
	p.points = p.points[start:end]
	return p
}

// Index is an immutable nearest-neighbour index. It is safe for concurrent
// queries.
type Index struct {
	tree *kdtree.Tree
	n    int
}

// NewIndex builds an index over a copy of pts. Later changes to pts do not
// affect the index.
func NewIndex(pts []r3.Vec) *Index {
	ps := make(points, len(pts))
	for i, p := range pts {
		ps[i] = point{Vec: p, idx: i}
	}
	ix := &Index{n: len(ps)}
	if len(ps) > 0 {
		ix.tree = kdtree.New(ps, false)
	}
	return ix
}

// Len returns the number of indexed points.
func (ix *Index) Len() int { return ix.n }

// Nearest returns the position in the source slice of the point closest to
// q, and the Euclidean distance to it. An empty index returns (-1, +Inf).
func (ix *Index) Nearest(q r3.Vec) (int, float64) {
	if ix.tree == nil {
		return -1, math.Inf(1)
	}
	c, d2 := ix.tree.Nearest(&point{Vec: q})
	if c == nil {
		return -1, math.Inf(1)
	}
	return c.(*point).idx, math.Sqrt(d2)
}

// NearestAll queries every point in qs, splitting the work across workers.
// Element i of each result slice answers qs[i].
func (ix *Index) NearestAll(qs []r3.Vec, workers int) (indices []int, dists []float64) {
	indices = make([]int, len(qs))
	dists = make([]float64, len(qs))
	parallel.For(len(qs), workers, func(start, end int) {
		for i := start; i < end; i++ {
			indices[i], dists[i] = ix.Nearest(qs[i])
		}
	})
	return indices, dists
}
