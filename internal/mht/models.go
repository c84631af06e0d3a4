package mht

import "gonum.org/v1/gonum/mat"

// ConstantVelocity2D is the standard 2D constant-velocity motion model over
// state [x, y, vx, vy] with integrated-white-noise process covariance scaled
// by q.
func ConstantVelocity2D(q float64) MotionModel {
	return func(x *mat.VecDense, p *mat.Dense, dT float64) (*mat.VecDense, *mat.Dense) {
		f := mat.NewDense(4, 4, []float64{
			1, 0, dT, 0,
			0, 1, 0, dT,
			0, 0, 1, 0,
			0, 0, 0, 1,
		})
		qm := mat.NewDense(4, 4, []float64{
			dT * dT * dT / 3, 0, dT * dT / 2, 0,
			0, dT * dT * dT / 3, 0, dT * dT / 2,
			0, 0, dT, 0,
			0, 0, 0, dT,
		})
		qm.Scale(q, qm)

		nx := mat.NewVecDense(4, nil)
		nx.MulVec(f, x)

		var fp mat.Dense
		fp.Mul(f, p)
		np := mat.NewDense(4, 4, nil)
		np.Mul(&fp, f.T())
		np.Add(np, qm)

		return nx, np
	}
}

// PositionMeasurement observes state indices 0..1.
func PositionMeasurement(x mat.Vector) (*mat.VecDense, *mat.Dense) {
	h := mat.NewDense(2, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
	})
	z := mat.NewVecDense(2, []float64{x.AtVec(0), x.AtVec(1)})
	return z, h
}

// VelocityMeasurement observes state indices 2..3.
func VelocityMeasurement(x mat.Vector) (*mat.VecDense, *mat.Dense) {
	h := mat.NewDense(2, 4, []float64{
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
	z := mat.NewVecDense(2, []float64{x.AtVec(2), x.AtVec(3)})
	return z, h
}

// DefaultTargetInit returns the stock target initialiser: constant-velocity
// 2D with process noise q, state seeded from the report position with zero
// velocity, covariance block-diagonal from the report noise and pv*I for the
// velocity marginal. With a parent supplied it deep-clones the parent's
// posterior instead.
func DefaultTargetInit(q, pv float64) TargetInit {
	return func(r *Report, parent *Track) Filter {
		if parent != nil {
			return parent.Filter().Clone()
		}
		x0 := mat.NewVecDense(4, []float64{r.Z.AtVec(0), r.Z.AtVec(1), 0, 0})
		p0 := mat.NewDense(4, 4, nil)
		p0.Set(0, 0, r.R.At(0, 0))
		p0.Set(0, 1, r.R.At(0, 1))
		p0.Set(1, 0, r.R.At(1, 0))
		p0.Set(1, 1, r.R.At(1, 1))
		p0.Set(2, 2, pv)
		p0.Set(3, 3, pv)
		return NewKFilter(ConstantVelocity2D(q), x0, p0)
	}
}
