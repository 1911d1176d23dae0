// Package compare measures how far two point sets lie from each other.
package compare

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/chazu/meshcmp/pkg/logging"
	"github.com/chazu/meshcmp/pkg/mesh"
	"github.com/chazu/meshcmp/pkg/spatial"
)

const (
	// DefaultDistanceCap is how many raw distances DistanceStats keeps.
	DefaultDistanceCap = 1000
	// DefaultMatchThreshold is the match distance in model units.
	DefaultMatchThreshold = 0.1
)

// ErrEmptyPointSet is returned when either input has no points.
var ErrEmptyPointSet = errors.New("compare: empty point set")

// DistanceStats summarizes nearest-neighbour distances from every point of
// one set to another. Min, Max, Mean and Std cover every distance;
// Distances holds only the first ones, up to the requested cap.
type DistanceStats struct {
	Min       float64   `json:"min"`
	Max       float64   `json:"max"`
	Mean      float64   `json:"mean"`
	Std       float64   `json:"std"`
	Distances []float64 `json:"distances"`
}

// MatchStats aggregates a MatchResult.
type MatchStats struct {
	NumMatchingA     int     `json:"num_matching_a"`
	NumMatchingB     int     `json:"num_matching_b"`
	PercentMatchingA float64 `json:"percent_matching_a"`
	PercentMatchingB float64 `json:"percent_matching_b"`
	TotalVerticesA   int     `json:"total_vertices_a"`
	TotalVerticesB   int     `json:"total_vertices_b"`
}

// MatchResult flags, for each point of A and of B, whether the other set
// has a point within the threshold.
type MatchResult struct {
	MatchingA []bool     `json:"matching_vertices_a"`
	MatchingB []bool     `json:"matching_vertices_b"`
	Stats     MatchStats `json:"stats"`
}

// Distance computes the distance from every point of a to its nearest
// point in b. A negative cap keeps every distance.
func Distance(a, b []r3.Vec, limit, workers int) (DistanceStats, error) {
	if len(a) == 0 || len(b) == 0 {
		return DistanceStats{}, ErrEmptyPointSet
	}
	_, dists := spatial.NewIndex(b).NearestAll(a, workers)

	st := DistanceStats{Min: math.Inf(1), Max: math.Inf(-1)}
	var sum float64
	for _, d := range dists {
		st.Min = math.Min(st.Min, d)
		st.Max = math.Max(st.Max, d)
		sum += d
	}
	n := float64(len(dists))
	st.Mean = sum / n
	var ss float64
	for _, d := range dists {
		ss += (d - st.Mean) * (d - st.Mean)
	}
	st.Std = math.Sqrt(ss / n)

	if limit < 0 || limit > len(dists) {
		limit = len(dists)
	}
	st.Distances = dists[:limit:limit]

	logging.Logger().Debug("compare: distance",
		"points_a", len(a), "points_b", len(b), "mean", st.Mean, "max", st.Max)
	return st, nil
}

// Match runs the nearest-neighbour test in both directions.
func Match(a, b []r3.Vec, threshold float64, workers int) (MatchResult, error) {
	if len(a) == 0 || len(b) == 0 {
		return MatchResult{}, ErrEmptyPointSet
	}
	if threshold < 0 || math.IsNaN(threshold) {
		return MatchResult{}, fmt.Errorf("compare: invalid threshold %v", threshold)
	}

	var res MatchResult
	res.MatchingA, res.Stats.NumMatchingA = within(spatial.NewIndex(b), a, threshold, workers)
	res.MatchingB, res.Stats.NumMatchingB = within(spatial.NewIndex(a), b, threshold, workers)
	res.Stats.TotalVerticesA = len(a)
	res.Stats.TotalVerticesB = len(b)
	res.Stats.PercentMatchingA = 100 * float64(res.Stats.NumMatchingA) / float64(len(a))
	res.Stats.PercentMatchingB = 100 * float64(res.Stats.NumMatchingB) / float64(len(b))

	logging.Logger().Debug("compare: match", "threshold", threshold,
		"percent_a", res.Stats.PercentMatchingA, "percent_b", res.Stats.PercentMatchingB)
	return res, nil
}

func within(ix *spatial.Index, qs []r3.Vec, threshold float64, workers int) ([]bool, int) {
	_, dists := ix.NearestAll(qs, workers)
	flags := make([]bool, len(qs))
	n := 0
	for i, d := range dists {
		if d <= threshold {
			flags[i] = true
			n++
		}
	}
	return flags, n
}

// MeshDistance is Distance over the vertices of two meshes.
func MeshDistance(a, b *mesh.Mesh, limit, workers int) (DistanceStats, error) {
	return Distance(a.Points(), b.Points(), limit, workers)
}

// MatchVertices is Match over the vertices of two meshes.
func MatchVertices(a, b *mesh.Mesh, threshold float64, workers int) (MatchResult, error) {
	return Match(a.Points(), b.Points(), threshold, workers)
}
