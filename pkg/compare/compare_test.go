package compare_test

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/chazu/meshcmp/pkg/compare"
	"github.com/chazu/meshcmp/pkg/mesh"
)

func line(n int, offset r3.Vec) []r3.Vec {
	pts := make([]r3.Vec, n)
	for i := range pts {
		pts[i] = r3.Add(r3.Vec{X: float64(i)}, offset)
	}
	return pts
}

func TestDistanceSelfIsZero(t *testing.T) {
	pts := line(50, r3.Vec{})
	st, err := compare.Distance(pts, pts, compare.DefaultDistanceCap, 0)
	if err != nil {
		t.Fatalf("Distance failed: %v", err)
	}
	if st.Min != 0 || st.Max != 0 || st.Mean != 0 || st.Std != 0 {
		t.Errorf("stats = %+v, want all zero", st)
	}
	if len(st.Distances) != 50 {
		t.Errorf("len(Distances) = %d, want 50", len(st.Distances))
	}
}

func TestDistanceStats(t *testing.T) {
	a := []r3.Vec{{X: 0, Y: 1}, {X: 1, Y: 3}, {X: 2, Y: 2}, {X: 3, Y: 2}}
	b := line(4, r3.Vec{})
	st, err := compare.Distance(a, b, -1, 1)
	if err != nil {
		t.Fatalf("Distance failed: %v", err)
	}
	// Distances are 1, 3, 2, 2.
	if st.Min != 1 || st.Max != 3 || st.Mean != 2 {
		t.Errorf("min/max/mean = %v/%v/%v, want 1/3/2", st.Min, st.Max, st.Mean)
	}
	if want := math.Sqrt(0.5); math.Abs(st.Std-want) > 1e-12 {
		t.Errorf("Std = %v, want %v (population)", st.Std, want)
	}
}

func TestDistanceCapIsReportingOnly(t *testing.T) {
	a := line(10, r3.Vec{Y: 1})
	a[9].Y = 5 // the far point lies beyond the cap
	b := line(10, r3.Vec{})
	st, err := compare.Distance(a, b, 3, 0)
	if err != nil {
		t.Fatalf("Distance failed: %v", err)
	}
	if len(st.Distances) != 3 {
		t.Errorf("len(Distances) = %d, want 3", len(st.Distances))
	}
	if st.Max != 5 {
		t.Errorf("Max = %v, want 5 from the uncapped sequence", st.Max)
	}
}

func TestDistanceEmpty(t *testing.T) {
	pts := line(3, r3.Vec{})
	if _, err := compare.Distance(nil, pts, 10, 0); !errors.Is(err, compare.ErrEmptyPointSet) {
		t.Errorf("Distance(empty, b) error = %v, want ErrEmptyPointSet", err)
	}
	if _, err := compare.Distance(pts, nil, 10, 0); !errors.Is(err, compare.ErrEmptyPointSet) {
		t.Errorf("Distance(a, empty) error = %v, want ErrEmptyPointSet", err)
	}
}

func TestMatchSelf(t *testing.T) {
	pts := line(20, r3.Vec{})
	res, err := compare.Match(pts, pts, compare.DefaultMatchThreshold, 0)
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if res.Stats.PercentMatchingA != 100 || res.Stats.PercentMatchingB != 100 {
		t.Errorf("percentages = %v/%v, want 100/100", res.Stats.PercentMatchingA, res.Stats.PercentMatchingB)
	}
	for i, ok := range res.MatchingA {
		if !ok {
			t.Errorf("MatchingA[%d] = false", i)
		}
	}
}

func TestMatchAsymmetric(t *testing.T) {
	a := []r3.Vec{{X: 0}, {X: 1}}
	b := []r3.Vec{{X: 0.05}, {X: 1.5}, {X: 9}}
	res, err := compare.Match(a, b, 0.1, 0)
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if want := []bool{true, false}; !equalBools(res.MatchingA, want) {
		t.Errorf("MatchingA = %v, want %v", res.MatchingA, want)
	}
	if want := []bool{true, false, false}; !equalBools(res.MatchingB, want) {
		t.Errorf("MatchingB = %v, want %v", res.MatchingB, want)
	}
	want := compare.MatchStats{
		NumMatchingA: 1, NumMatchingB: 1,
		PercentMatchingA: 50, PercentMatchingB: 100.0 / 3,
		TotalVerticesA: 2, TotalVerticesB: 3,
	}
	if res.Stats != want {
		t.Errorf("Stats = %+v, want %+v", res.Stats, want)
	}
}

func TestMatchThresholdInclusive(t *testing.T) {
	a := []r3.Vec{{X: 0}}
	b := []r3.Vec{{X: 0.5}}
	res, err := compare.Match(a, b, 0.5, 0)
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if !res.MatchingA[0] || !res.MatchingB[0] {
		t.Errorf("distance equal to threshold should match: %+v", res)
	}
}

func TestMatchRejectsNegativeThreshold(t *testing.T) {
	pts := line(2, r3.Vec{})
	if _, err := compare.Match(pts, pts, -0.1, 0); err == nil {
		t.Fatal("expected error for negative threshold")
	}
}

func TestMeshWrappersAndJSON(t *testing.T) {
	a := mesh.FromPoints(line(5, r3.Vec{}))
	b := mesh.FromPoints(line(5, r3.Vec{Z: 0.5}))

	st, err := compare.MeshDistance(a, b, compare.DefaultDistanceCap, 0)
	if err != nil {
		t.Fatalf("MeshDistance failed: %v", err)
	}
	if st.Mean != 0.5 {
		t.Errorf("Mean = %v, want 0.5", st.Mean)
	}

	res, err := compare.MatchVertices(a, b, compare.DefaultMatchThreshold, 0)
	if err != nil {
		t.Fatalf("MatchVertices failed: %v", err)
	}
	data, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var wire map[string]json.RawMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	for _, key := range []string{"matching_vertices_a", "matching_vertices_b", "stats"} {
		if _, ok := wire[key]; !ok {
			t.Errorf("JSON missing key %q: %s", key, data)
		}
	}
}

func equalBools(a, b []bool) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
