package isochrone

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/google/uuid"

	"transit-isochrones/internal/gtfs"
)

var ErrNoBudget = errors.New("request needs thresholds or a positive max budget")

var sessionNamespace = uuid.MustParse("6f1b7c9e-3d2a-4e8b-9a51-0c7d2e4f8a13")

// Request is one compute command.
type Request struct {
	SessionID     string
	Origin        gtfs.Point
	Thresholds    []float64 // minutes, ascending after Normalize
	MaxBudget     float64   // minutes
	EnabledRoutes []string
	Selector      gtfs.Selector
}

// Normalize fills in thresholds or budget from each other, sorts and
// de-duplicates inputs, and derives a session id when none was given.
// Without explicit thresholds, one is placed every step minutes up to and
// including the budget.
func (r *Request) Normalize(step float64) error {
	ts := make([]float64, 0, len(r.Thresholds))
	for _, t := range r.Thresholds {
		if t > 0 && !math.IsInf(t, 0) && !math.IsNaN(t) {
			ts = append(ts, t)
		}
	}
	slices.Sort(ts)
	ts = slices.Compact(ts)

	if len(ts) == 0 {
		if !(r.MaxBudget > 0) || math.IsInf(r.MaxBudget, 0) {
			return ErrNoBudget
		}
		if step <= 0 {
			step = 5
		}
		for i := 1; float64(i)*step < r.MaxBudget; i++ {
			ts = append(ts, float64(i)*step)
		}
		ts = append(ts, r.MaxBudget)
	}
	if last := ts[len(ts)-1]; r.MaxBudget < last {
		r.MaxBudget = last
	}
	r.Thresholds = ts

	routes := slices.Clone(r.EnabledRoutes)
	slices.Sort(routes)
	r.EnabledRoutes = slices.Compact(routes)

	if r.SessionID == "" {
		r.SessionID = DeriveSessionID(*r)
	}
	return nil
}

// DeriveSessionID is a name-based UUID over the parameters that determine a
// session's output.
func DeriveSessionID(r Request) string {
	routes := slices.Clone(r.EnabledRoutes)
	slices.Sort(routes)
	canonical := fmt.Sprintf("%.6f,%.6f|%g|%s|%s",
		r.Origin.Lat, r.Origin.Lng, r.MaxBudget, strings.Join(routes, ","), r.Selector.Key())
	return uuid.NewSHA1(sessionNamespace, []byte(canonical)).String()
}
