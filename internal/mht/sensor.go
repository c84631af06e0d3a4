package mht

import (
	"math"

	"github.com/banshee-data/mht.report/internal/mht/assignment"
	"github.com/banshee-data/mht.report/internal/mht/geom"
)

// Sensor describes the observation characteristics a scan was taken with:
// its field of view and the negative-log-likelihood costs of classifying a
// report as extraneous (false alarm or new target) and of missing a target
// inside the field of view.
type Sensor interface {
	// BBox is the field-of-view bound on the position plane.
	BBox() geom.BBox

	// InFOV reports whether a position is observable by this sensor.
	InFOV(x, y float64) bool

	// ScoreExtraneous is the cost of classifying a report as a false alarm
	// or new-target entrant.
	ScoreExtraneous() float64

	// ScoreMiss is the cost of a missed detection inside the field of view.
	ScoreMiss() float64

	// ScoreFound is the derived detection cost -ln(1 - exp(-ScoreMiss)).
	ScoreFound() float64
}

// foundScore derives the detection cost from a miss cost. A vanishing miss
// cost means detection is (numerically) never expected; such pairs are
// forbidden.
func foundScore(scoreMiss float64) float64 {
	if scoreMiss <= 1e-8 {
		return assignment.Large
	}
	return -math.Log(1 - math.Exp(-scoreMiss))
}

// OmniSensor observes the entire plane. The test and simulation sensor.
type OmniSensor struct {
	Extraneous float64
	Miss       float64
}

func (s *OmniSensor) BBox() geom.BBox          { return geom.Everywhere() }
func (s *OmniSensor) InFOV(x, y float64) bool  { return true }
func (s *OmniSensor) ScoreExtraneous() float64 { return s.Extraneous }
func (s *OmniSensor) ScoreMiss() float64       { return s.Miss }
func (s *OmniSensor) ScoreFound() float64      { return foundScore(s.Miss) }

// FOVSensor observes a rectangular field of view.
type FOVSensor struct {
	FOV        geom.BBox
	Extraneous float64
	Miss       float64
}

func (s *FOVSensor) BBox() geom.BBox          { return s.FOV }
func (s *FOVSensor) InFOV(x, y float64) bool  { return s.FOV.Contains(x, y) }
func (s *FOVSensor) ScoreExtraneous() float64 { return s.Extraneous }
func (s *FOVSensor) ScoreMiss() float64       { return s.Miss }
func (s *FOVSensor) ScoreFound() float64      { return foundScore(s.Miss) }
