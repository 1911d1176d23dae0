package spatial_test

import (
	"math"
	"math/rand/v2"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/chazu/meshcmp/pkg/spatial"
)

func randomPoints(rng *rand.Rand, n int) []r3.Vec {
	pts := make([]r3.Vec, n)
	for i := range pts {
		pts[i] = r3.Vec{X: rng.Float64()*10 - 5, Y: rng.Float64()*10 - 5, Z: rng.Float64()*10 - 5}
	}
	return pts
}

func bruteNearest(pts []r3.Vec, q r3.Vec) float64 {
	best := math.Inf(1)
	for _, p := range pts {
		if d := r3.Norm(r3.Sub(p, q)); d < best {
			best = d
		}
	}
	return best
}

func TestNearestMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	pts := randomPoints(rng, 2000)
	ix := spatial.NewIndex(pts)
	if ix.Len() != len(pts) {
		t.Fatalf("Len() = %d, want %d", ix.Len(), len(pts))
	}
	for i, q := range randomPoints(rng, 200) {
		idx, d := ix.Nearest(q)
		want := bruteNearest(pts, q)
		if math.Abs(d-want) > 1e-12 {
			t.Fatalf("query %d: distance = %v, want %v", i, d, want)
		}
		if got := r3.Norm(r3.Sub(pts[idx], q)); math.Abs(got-d) > 1e-12 {
			t.Fatalf("query %d: index %d is %v away, reported %v", i, idx, got, d)
		}
	}
}

func TestNearestExactHit(t *testing.T) {
	pts := []r3.Vec{{X: 1}, {Y: 2}, {Z: 3}, {X: -1, Y: -1, Z: -1}}
	ix := spatial.NewIndex(pts)
	for i, p := range pts {
		idx, d := ix.Nearest(p)
		if idx != i || d != 0 {
			t.Errorf("Nearest(%v) = (%d, %v), want (%d, 0)", p, idx, d, i)
		}
	}
}

func TestNearestEmpty(t *testing.T) {
	ix := spatial.NewIndex(nil)
	idx, d := ix.Nearest(r3.Vec{})
	if idx != -1 || !math.IsInf(d, 1) {
		t.Errorf("Nearest on empty index = (%d, %v), want (-1, +Inf)", idx, d)
	}
}

func TestIndexCopiesPoints(t *testing.T) {
	pts := []r3.Vec{{X: 0}, {X: 10}}
	ix := spatial.NewIndex(pts)
	pts[0] = r3.Vec{X: 100}
	idx, d := ix.Nearest(r3.Vec{X: 0.5})
	if idx != 0 || d != 0.5 {
		t.Errorf("Nearest after mutating source = (%d, %v), want (0, 0.5)", idx, d)
	}
}

func TestNearestAllMatchesSerial(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	pts := randomPoints(rng, 500)
	qs := randomPoints(rng, 3000)
	ix := spatial.NewIndex(pts)

	idx, dists := ix.NearestAll(qs, 4)
	if len(idx) != len(qs) || len(dists) != len(qs) {
		t.Fatalf("got %d/%d results, want %d", len(idx), len(dists), len(qs))
	}
	for i, q := range qs {
		wi, wd := ix.Nearest(q)
		if idx[i] != wi || dists[i] != wd {
			t.Fatalf("query %d: got (%d, %v), want (%d, %v)", i, idx[i], dists[i], wi, wd)
		}
	}
}
