package isochrone

import (
	"errors"
	"math"
)

type Params struct {
	WalkSpeed         float64 // meters per minute
	MaxWalkRadius     float64 // meters
	BatchSize         int     // pops per Step
	MaxSettled        int     // hard cap on settled locations per session
	DiscSides         int     // vertices per disc polygon
	LookupConcurrency int     // parallel route lookups per settled location

	// FirstLegWait estimates the wait before the first boarding of a trip from
	// the time already spent walking. When nil every boarding uses the
	// wait-time table.
	FirstLegWait func(tripMin float64) float64
}

func DefaultParams() Params {
	return Params{
		WalkSpeed:         83.3,
		MaxWalkRadius:     1500,
		BatchSize:         1000,
		MaxSettled:        50000,
		DiscSides:         32,
		LookupConcurrency: 8,
		FirstLegWait:      ProportionalFirstLegWait(0.25, 1),
	}
}

// ProportionalFirstLegWait returns max(minWait, tripMin*factor).
func ProportionalFirstLegWait(factor, minWait float64) func(float64) float64 {
	return func(tripMin float64) float64 {
		return math.Max(minWait, tripMin*factor)
	}
}

func (p Params) validate() error {
	switch {
	case p.WalkSpeed <= 0:
		return errors.New("walk speed must be positive")
	case p.MaxWalkRadius <= 0:
		return errors.New("max walk radius must be positive")
	case p.BatchSize <= 0:
		return errors.New("batch size must be positive")
	case p.MaxSettled <= 0:
		return errors.New("max settled must be positive")
	}
	return nil
}
