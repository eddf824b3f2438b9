package scoring

import (
	"cmp"
	"math"
	"slices"

	"github.com/sells-group/cafe-cli/internal/model"
)

const earthRadiusMeters = 6371008.8

// Haversine returns the great-circle distance between a and b in metres.
func Haversine(a, b model.Location) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Scored is a cafe with its factor breakdown.
type Scored struct {
	Cafe           model.Cafe
	DistanceMeters float64
	Factors        Factors
	Combined       float64
}

// Score computes factors for every cafe relative to origin, preserving
// input order.
func (m Model) Score(cafes []model.Cafe, origin model.Location, p Preferences) []Scored {
	out := make([]Scored, len(cafes))
	for i := range cafes {
		d := Haversine(origin, cafes[i].Location)
		f := m.Factors(&cafes[i], p, d)
		out[i] = Scored{
			Cafe:           cafes[i],
			DistanceMeters: d,
			Factors:        f,
			Combined:       Combined(f, m.Weights),
		}
	}
	return out
}

// Rank sorts by combined score descending, then distance ascending. Equal
// items keep their input order.
func Rank(items []Scored) {
	slices.SortStableFunc(items, func(a, b Scored) int {
		if c := cmp.Compare(b.Combined, a.Combined); c != 0 {
			return c
		}
		return cmp.Compare(a.DistanceMeters, b.DistanceMeters)
	})
}

// Split returns the first n items and up to more following items.
func Split(items []Scored, n, more int) (primary, secondary []Scored) {
	if n > len(items) {
		n = len(items)
	}
	primary = items[:n]
	end := n + more
	if end > len(items) {
		end = len(items)
	}
	secondary = items[n:end]
	return primary, secondary
}
