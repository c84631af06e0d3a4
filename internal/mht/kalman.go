package mht

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/mht.report/internal/mht/geom"
)

var errNotPositiveDefinite = errors.New("innovation covariance not positive definite")

// MotionModel advances a state and covariance by dT seconds, returning fresh
// matrices.
type MotionModel func(x *mat.VecDense, p *mat.Dense, dT float64) (*mat.VecDense, *mat.Dense)

// KFilter is a Kalman-filtered position estimate: state x, covariance P and
// the motion model that propagates them.
type KFilter struct {
	Model MotionModel

	x *mat.VecDense
	p *mat.Dense
}

// NewKFilter builds a filter from an initial state and covariance. The
// matrices are owned by the filter afterwards.
func NewKFilter(model MotionModel, x0 *mat.VecDense, p0 *mat.Dense) *KFilter {
	return &KFilter{Model: model, x: x0, p: p0}
}

// Predict advances the estimate through the motion model.
func (f *KFilter) Predict(dT float64) {
	f.x, f.p = f.Model(f.x, f.p, dT)
}

// innovation computes dz, the innovation covariance factorisation and the
// H*P product for a report against the current prior.
func (f *KFilter) innovation(r *Report) (dz *mat.VecDense, chol *mat.Cholesky, hp *mat.Dense, err error) {
	zhat, h := r.Measure(f.x)

	m, _ := h.Dims()
	dz = mat.NewVecDense(m, nil)
	dz.SubVec(r.Z, zhat)

	hp = &mat.Dense{}
	hp.Mul(h, f.p)

	var hpht mat.Dense
	hpht.Mul(hp, h.T())

	s := mat.NewSymDense(m, nil)
	for i := 0; i < m; i++ {
		for j := i; j < m; j++ {
			v := 0.5*(hpht.At(i, j)+hpht.At(j, i)) + r.R.At(i, j)
			s.SetSym(i, j, v)
		}
	}

	chol = &mat.Cholesky{}
	if ok := chol.Factorize(s); !ok {
		return nil, nil, nil, errNotPositiveDefinite
	}
	return dz, chol, hp, nil
}

// score is the association cost 0.5*dz'*S^-1*dz + ln(2*pi*sqrt(det S)).
func score(dz *mat.VecDense, chol *mat.Cholesky) float64 {
	var sinvDz mat.VecDense
	if err := chol.SolveVecTo(&sinvDz, dz); err != nil {
		return math.Inf(1)
	}
	maha := 0.5 * mat.Dot(dz, &sinvDz)
	return maha + math.Log(2*math.Pi) + 0.5*chol.LogDet()
}

// Correct folds the report into the posterior and returns the association
// score.
func (f *KFilter) Correct(r *Report) (float64, error) {
	dz, chol, hp, err := f.innovation(r)
	if err != nil {
		return 0, err
	}
	sc := score(dz, chol)

	// K = P*H' * S^-1, computed transposed: K' = S^-1 * (H*P).
	var kt mat.Dense
	if err := chol.SolveTo(&kt, hp); err != nil {
		return 0, fmt.Errorf("kalman gain: %w", err)
	}

	var dx mat.VecDense
	dx.MulVec(kt.T(), dz)
	f.x.AddVec(f.x, &dx)

	var khp mat.Dense
	khp.Mul(kt.T(), hp)
	f.p.Sub(f.p, &khp)

	return sc, nil
}

// NLL scores the association without touching the posterior.
func (f *KFilter) NLL(r *Report) (float64, error) {
	dz, chol, _, err := f.innovation(r)
	if err != nil {
		return 0, err
	}
	return score(dz, chol), nil
}

// BBox is the 2-sigma bound of the position marginal.
func (f *KFilter) BBox() geom.BBox {
	p := mat.NewSymDense(2, []float64{
		f.p.At(0, 0), 0.5 * (f.p.At(0, 1) + f.p.At(1, 0)),
		0.5 * (f.p.At(0, 1) + f.p.At(1, 0)), f.p.At(1, 1),
	})
	x, y := f.Position()
	return geom.GaussianBBox(x, y, p, 2)
}

// Position returns the position-plane estimate.
func (f *KFilter) Position() (float64, float64) {
	return f.x.AtVec(0), f.x.AtVec(1)
}

// Clone returns an independent deep copy.
func (f *KFilter) Clone() Filter {
	x := mat.NewVecDense(f.x.Len(), nil)
	x.CopyVec(f.x)
	rows, cols := f.p.Dims()
	p := mat.NewDense(rows, cols, nil)
	p.Copy(f.p)
	return &KFilter{Model: f.Model, x: x, p: p}
}

// State exposes the current state vector for inspection.
func (f *KFilter) State() mat.Vector { return f.x }

// Covariance exposes the current covariance for inspection.
func (f *KFilter) Covariance() mat.Matrix { return f.p }
