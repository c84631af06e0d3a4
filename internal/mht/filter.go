package mht

import "github.com/banshee-data/mht.report/internal/mht/geom"

// Filter is the estimation capability a track carries. The engine is
// filter-agnostic: it only predicts, corrects, scores and bounds the
// estimate. Implementations must be deep-clonable so hypothesis branches
// never alias a posterior.
type Filter interface {
	// Predict advances the state estimate dT seconds.
	Predict(dT float64)

	// Correct folds the report into the posterior and returns the
	// negative-log-likelihood score of the association.
	Correct(r *Report) (float64, error)

	// NLL scores the association without mutating the posterior.
	NLL(r *Report) (float64, error)

	// BBox is the 2-sigma bound of the position marginal.
	BBox() geom.BBox

	// Position returns the position-plane estimate.
	Position() (x, y float64)

	// Clone returns an independent deep copy.
	Clone() Filter
}
