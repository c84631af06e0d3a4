package mht

import "runtime"

// Track persistence bounds. A freshly spawned track starts at
// NewExistScore; consecutive detections raise it up to MaxExistScore and
// misses inside the field of view lower it. Tracks at or below 1 are not
// carried into missed-detection children.
const (
	NewExistScore = 1
	MaxExistScore = 4
)

// TargetInit builds the filter for a new target track. When parent is nil the
// filter is initialised from the report alone; otherwise it must return an
// independent deep copy of the parent's posterior.
type TargetInit func(r *Report, parent *Track) Filter

// Params holds the tracker configuration shared by all clusters.
type Params struct {
	// KMax bounds the number of hypotheses retained per cluster after each
	// scan.
	KMax int

	// HPLimit is the normalised-score tail threshold: hypothesis generation
	// stops once the next draw's normalised score would exceed it.
	HPLimit float64

	// NLLLimit gates report-to-track matches; pairs scoring above it are
	// forbidden.
	NLLLimit float64

	// InitTargetTracker creates filters for new targets and clones them for
	// track extensions.
	InitTargetTracker TargetInit

	// Workers bounds per-cluster parallelism in Predict and RegisterScan.
	// Zero means one worker per CPU.
	Workers int
}

// DefaultParams returns the stock configuration: constant-velocity targets
// with process noise 0.1 and initial velocity variance 0.1.
func DefaultParams() Params {
	return Params{
		KMax:              100,
		HPLimit:           10000,
		NLLLimit:          10000,
		InitTargetTracker: DefaultTargetInit(0.1, 0.1),
		Workers:           runtime.NumCPU(),
	}
}

func (p Params) workers() int {
	if p.Workers > 0 {
		return p.Workers
	}
	return runtime.NumCPU()
}
