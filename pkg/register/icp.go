// Package register aligns a moving point set onto a fixed one with
// point-to-point Iterative Closest Point.
//
// Each iteration pairs every moving point with its nearest fixed point,
// drops pairs farther apart than the threshold, solves the least-squares
// rigid motion for the rest (centroids plus an SVD of the cross-covariance)
// and composes it into the running transform. Iteration stops when fitness
// and inlier RMSE stop changing or the update is the identity, or at a
// hard cap.
package register

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/chazu/meshcmp/pkg/logging"
	"github.com/chazu/meshcmp/pkg/mesh"
	"github.com/chazu/meshcmp/pkg/spatial"
)

// Defaults applied to zero-valued Options fields.
const (
	DefaultThreshold     = 0.02
	DefaultMaxIterations = 30
	DefaultSampleCap     = 5000
	DefaultTolerance     = 1e-6
)

var (
	// ErrNoCorrespondences means no moving point lay within the threshold
	// of any fixed point.
	ErrNoCorrespondences = errors.New("no correspondences within threshold")
	// ErrDiverged means the alignment got worse over the run, or the
	// transform stopped being finite.
	ErrDiverged = errors.New("registration diverged")
)

// RegistrationFailure reports why ICP gave up. Err is one of the sentinel
// errors above.
type RegistrationFailure struct {
	Iteration int
	Threshold float64
	Err       error
}

func (e *RegistrationFailure) Error() string {
	return fmt.Sprintf("register: iteration %d (threshold %g): %v", e.Iteration, e.Threshold, e.Err)
}

func (e *RegistrationFailure) Unwrap() error { return e.Err }

// Options controls ICP.
type Options struct {
	// Threshold is the largest accepted correspondence distance.
	Threshold float64
	// Initial is the starting transform; nil means identity.
	Initial *mesh.Transform
	// MaxIterations caps the number of transform updates.
	MaxIterations int
	// SampleCap bounds the points taken from each side.
	SampleCap int
	// Sampling picks how meshes become point sets in Register.
	Sampling Sampling
	// Seed drives SampleSurface.
	Seed uint64
	// Workers bounds nearest-neighbour query goroutines.
	Workers int
	// FitnessTolerance and RMSETolerance are the convergence limits on the
	// change between iterations.
	FitnessTolerance float64
	RMSETolerance    float64
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{}.withDefaults()
}

func (o Options) withDefaults() Options {
	if o.Threshold == 0 {
		o.Threshold = DefaultThreshold
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = DefaultMaxIterations
	}
	if o.SampleCap == 0 {
		o.SampleCap = DefaultSampleCap
	}
	if o.Sampling == "" {
		o.Sampling = SampleStride
	}
	if o.FitnessTolerance <= 0 {
		o.FitnessTolerance = DefaultTolerance
	}
	if o.RMSETolerance <= 0 {
		o.RMSETolerance = DefaultTolerance
	}
	return o
}

// Result describes a finished registration. Fitness is the share of moving
// points with a correspondence; InlierRMSE is the RMS distance over those
// correspondences. Both are measured under the final transform.
type Result struct {
	Transform       mesh.Transform `json:"transformation"`
	Fitness         float64        `json:"fitness"`
	InlierRMSE      float64        `json:"inlier_rmse"`
	Iterations      int            `json:"iterations"`
	Converged       bool           `json:"converged"`
	Correspondences int            `json:"correspondences"`
}

// evaluation is the correspondence set under one transform.
type evaluation struct {
	src, dst []r3.Vec
	fitness  float64
	rmse     float64
}

// ICP registers moving onto fixed. Both point sets are stride-sampled down
// to opts.SampleCap. Neither slice is modified.
func ICP(fixed, moving []r3.Vec, opts Options) (Result, error) {
	opts = opts.withDefaults()
	return icp(Stride(fixed, opts.SampleCap), Stride(moving, opts.SampleCap), opts)
}

// Register samples both meshes, runs ICP and applies the resulting
// transform to the full-resolution moving mesh. The inputs are not
// modified.
func Register(fixed, moving *mesh.Mesh, opts Options) (Result, *mesh.Mesh, error) {
	opts = opts.withDefaults()
	res, err := icp(samplePoints(fixed, opts), samplePoints(moving, opts), opts)
	if err != nil {
		return res, nil, err
	}
	return res, res.Transform.Apply(moving), nil
}

func icp(fixed, moving []r3.Vec, opts Options) (Result, error) {
	if opts.Threshold < 0 || math.IsNaN(opts.Threshold) {
		return Result{}, fmt.Errorf("register: invalid threshold %v", opts.Threshold)
	}
	log := logging.Logger()

	tf := mesh.Identity()
	if opts.Initial != nil {
		tf = *opts.Initial
	}
	ix := spatial.NewIndex(fixed)

	ev := evaluate(ix, fixed, tf.ApplyPoints(moving), opts)
	if len(ev.src) == 0 {
		return Result{Transform: tf}, &RegistrationFailure{Iteration: 0, Threshold: opts.Threshold, Err: ErrNoCorrespondences}
	}
	first := ev

	res := Result{Transform: tf}
	for iter := 1; iter <= opts.MaxIterations; iter++ {
		delta := estimateRigid(ev.src, ev.dst)
		tf = mesh.Mul(delta, tf)
		if !finite(tf) {
			return res, &RegistrationFailure{Iteration: iter, Threshold: opts.Threshold, Err: ErrDiverged}
		}

		prev := ev
		ev = evaluate(ix, fixed, tf.ApplyPoints(moving), opts)
		if len(ev.src) == 0 {
			return res, &RegistrationFailure{Iteration: iter, Threshold: opts.Threshold, Err: ErrNoCorrespondences}
		}
		res.Transform = tf
		res.Iterations = iter
		log.Debug("register: iteration", "iter", iter,
			"fitness", ev.fitness, "rmse", ev.rmse, "correspondences", len(ev.src))

		if delta.IsIdentity(opts.RMSETolerance) ||
			(math.Abs(ev.fitness-prev.fitness) < opts.FitnessTolerance &&
				math.Abs(ev.rmse-prev.rmse) < opts.RMSETolerance) {
			res.Converged = true
			break
		}
	}

	res.Fitness = ev.fitness
	res.InlierRMSE = ev.rmse
	res.Correspondences = len(ev.src)

	if !res.Converged && ev.fitness < first.fitness && ev.rmse > first.rmse {
		return res, &RegistrationFailure{Iteration: res.Iterations, Threshold: opts.Threshold, Err: ErrDiverged}
	}
	log.Debug("register: done", "iterations", res.Iterations, "converged", res.Converged,
		"fitness", res.Fitness, "rmse", res.InlierRMSE)
	return res, nil
}

// evaluate pairs each transformed moving point with its nearest fixed point
// and keeps pairs within the threshold.
func evaluate(ix *spatial.Index, fixed, cur []r3.Vec, opts Options) evaluation {
	idx, dist := ix.NearestAll(cur, opts.Workers)
	var ev evaluation
	sum := 0.0
	for i, d := range dist {
		if idx[i] < 0 || d > opts.Threshold {
			continue
		}
		ev.src = append(ev.src, cur[i])
		ev.dst = append(ev.dst, fixed[idx[i]])
		sum += d * d
	}
	if n := len(ev.src); n > 0 {
		ev.fitness = float64(n) / float64(len(cur))
		ev.rmse = math.Sqrt(sum / float64(n))
	}
	return ev
}

func centroid(pts []r3.Vec) r3.Vec {
	var c r3.Vec
	for _, p := range pts {
		c = r3.Add(c, p)
	}
	return r3.Scale(1/float64(len(pts)), c)
}

// estimateRigid returns the rotation and translation minimizing the summed
// squared distance from src[i] to dst[i]. With fewer than three pairs only
// the translation is solved.
func estimateRigid(src, dst []r3.Vec) mesh.Transform {
	cs, cd := centroid(src), centroid(dst)
	if len(src) < 3 {
		return mesh.Translation(r3.Sub(cd, cs))
	}

	var h [9]float64
	for i := range src {
		a, b := r3.Sub(src[i], cs), r3.Sub(dst[i], cd)
		h[0] += a.X * b.X
		h[1] += a.X * b.Y
		h[2] += a.X * b.Z
		h[3] += a.Y * b.X
		h[4] += a.Y * b.Y
		h[5] += a.Y * b.Z
		h[6] += a.Z * b.X
		h[7] += a.Z * b.Y
		h[8] += a.Z * b.Z
	}

	var svd mat.SVD
	if !svd.Factorize(mat.NewDense(3, 3, h[:]), mat.SVDFull) {
		return mesh.Translation(r3.Sub(cd, cs))
	}
	var u, v, r mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	r.Mul(&v, u.T())
	if mat.Det(&r) < 0 {
		// Reflection: flip the axis of the smallest singular value.
		for i := 0; i < 3; i++ {
			v.Set(i, 2, -v.At(i, 2))
		}
		r.Mul(&v, u.T())
	}

	var rot [9]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			rot[i*3+j] = r.At(i, j)
		}
	}
	rcs := r3.Vec{
		X: rot[0]*cs.X + rot[1]*cs.Y + rot[2]*cs.Z,
		Y: rot[3]*cs.X + rot[4]*cs.Y + rot[5]*cs.Z,
		Z: rot[6]*cs.X + rot[7]*cs.Y + rot[8]*cs.Z,
	}
	return mesh.FromRotationTranslation(rot, r3.Sub(cd, rcs))
}

func finite(t mesh.Transform) bool {
	for _, x := range t {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
