package mht

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/mht.report/internal/mht/geom"
)

// MeasurementModel maps a state vector to the predicted measurement and the
// linearised observation matrix H.
type MeasurementModel func(x mat.Vector) (*mat.VecDense, *mat.Dense)

// Report is a single sensor measurement: mean z, covariance R and the model
// that produced it. Reports live for exactly one scan.
type Report struct {
	Z       *mat.VecDense
	R       *mat.SymDense
	Measure MeasurementModel

	// Source tags the originating sensor.
	Source string

	// AssignedTracks collects the tracks spawned from or extended with this
	// report during the current scan.
	AssignedTracks []*Track

	bbox    geom.BBox
	hasBBox bool
}

// NewReport builds a report from a position-plane measurement.
func NewReport(z []float64, r *mat.SymDense, measure MeasurementModel, source string) *Report {
	return &Report{
		Z:       mat.NewVecDense(len(z), z),
		R:       r,
		Measure: measure,
		Source:  source,
	}
}

// BBox returns the 2-sigma ellipse bound of the measurement on the position
// plane, computed once.
func (r *Report) BBox() geom.BBox {
	if !r.hasBBox {
		p := mat.NewSymDense(2, []float64{
			r.R.At(0, 0), r.R.At(0, 1),
			r.R.At(1, 0), r.R.At(1, 1),
		})
		r.bbox = geom.GaussianBBox(r.Z.AtVec(0), r.Z.AtVec(1), p, 2)
		r.hasBBox = true
	}
	return r.bbox
}

func (r *Report) String() string {
	return fmt.Sprintf("R(%.2f, %.2f | %s)", r.Z.AtVec(0), r.Z.AtVec(1), r.Source)
}

// Scan is an ordered sequence of reports from one sensor.
type Scan struct {
	Sensor  Sensor
	Reports []*Report
}

// NewScan bundles reports with their sensor.
func NewScan(sensor Sensor, reports ...*Report) *Scan {
	return &Scan{Sensor: sensor, Reports: reports}
}
