package isochrone

type Provenance int

const (
	Origin Provenance = iota
	Walked
	Transited
)

func (p Provenance) String() string {
	switch p {
	case Origin:
		return "origin"
	case Walked:
		return "walked"
	case Transited:
		return "transited"
	}
	return "unknown"
}

// Leg is one breadcrumb of a trip.
type Leg struct {
	Duration    float64 `json:"duration"`
	Description string  `json:"description"`
	RouteID     string  `json:"routeId,omitempty"`
	DirectionID string  `json:"directionId,omitempty"`
	FromStopID  string  `json:"fromStopId,omitempty"`
	ToStopID    string  `json:"toStopId,omitempty"`
}

// Candidate is a pending or settled arrival at a location.
type Candidate struct {
	TripMin    float64
	Loc        int // index into the spatial index, or originLoc
	Title      string
	Lat        float64
	Lng        float64
	Provenance Provenance
	RouteChain string
	Legs       []Leg

	seq uint64
}

func (c *Candidate) chain(routeID string) string {
	if c.RouteChain == "" {
		return routeID
	}
	return c.RouteChain + "/" + routeID
}

// legs returns a copy of c's legs with more appended, so siblings never share
// a backing array.
func (c *Candidate) legs(more ...Leg) []Leg {
	out := make([]Leg, 0, len(c.Legs)+len(more))
	out = append(out, c.Legs...)
	return append(out, more...)
}

// frontier is a min-heap on TripMin with insertion order breaking ties.
type frontier []*Candidate

func (f frontier) Len() int { return len(f) }

func (f frontier) Less(i, j int) bool {
	if f[i].TripMin != f[j].TripMin {
		return f[i].TripMin < f[j].TripMin
	}
	return f[i].seq < f[j].seq
}

func (f frontier) Swap(i, j int) { f[i], f[j] = f[j], f[i] }

func (f *frontier) Push(x any) { *f = append(*f, x.(*Candidate)) }

func (f *frontier) Pop() any {
	old := *f
	n := len(old)
	c := old[n-1]
	old[n-1] = nil
	*f = old[:n-1]
	return c
}
