// Package scoring ranks cafes against user preferences. Everything in this
// package is pure: no I/O, no clocks, no randomness.
package scoring

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/cafe-cli/internal/model"
)

const (
	// NeutralVibe is used when neither the target mood nor any complement
	// has a persisted confidence, so unanalyzed cafes stay rankable.
	NeutralVibe = 0.3

	// NeutralAmenity substitutes for a required amenity without a record.
	NeutralAmenity = 0.45

	// DefaultComplementScale discounts a complementary vibe's confidence.
	DefaultComplementScale = 0.75

	// Price factor levels by tier distance.
	priceExact    = 1.0
	priceAdjacent = 0.6
	priceFar      = 0.2
	priceNeutral  = 1.0

	weightEpsilon = 1e-9
)

// Weights is the linear combination applied to the four factors.
type Weights struct {
	Vibe     float64 `yaml:"vibe" mapstructure:"vibe"`
	Amenity  float64 `yaml:"amenity" mapstructure:"amenity"`
	Distance float64 `yaml:"distance" mapstructure:"distance"`
	Price    float64 `yaml:"price" mapstructure:"price"`
}

// DefaultWeights returns the reference weighting.
func DefaultWeights() Weights {
	return Weights{Vibe: 0.40, Amenity: 0.25, Distance: 0.20, Price: 0.15}
}

// Sum returns the total weight.
func (w Weights) Sum() float64 {
	return w.Vibe + w.Amenity + w.Distance + w.Price
}

// Validate checks that all weights are non-negative and sum to 1.
func (w Weights) Validate() error {
	if w.Vibe < 0 || w.Amenity < 0 || w.Distance < 0 || w.Price < 0 {
		return eris.New("scoring: weights must be non-negative")
	}
	if math.Abs(w.Sum()-1) > weightEpsilon {
		return eris.Errorf("scoring: weights sum to %.6f, want 1", w.Sum())
	}
	return nil
}

// DefaultComplements maps each mood to the vibes that can stand in for it.
func DefaultComplements() map[model.Vibe][]model.Vibe {
	return map[model.Vibe][]model.Vibe{
		model.VibeCozy:        {model.VibeQuiet, model.VibeTraditional},
		model.VibeQuiet:       {model.VibeCozy, model.VibeTraditional},
		model.VibeTraditional: {model.VibeCozy, model.VibeQuiet},
		model.VibeModern:      {model.VibeArtsy, model.VibeLively},
		model.VibeLively:      {model.VibeModern, model.VibeArtsy},
		model.VibeArtsy:       {model.VibeModern, model.VibeLively},
	}
}

// Model bundles the scoring configuration.
type Model struct {
	Weights            Weights
	Complements        map[model.Vibe][]model.Vibe
	ComplementScale    float64
	MaxPreferredMeters float64
}

// Default returns the reference model with the given preferred distance.
func Default(maxPreferredMeters float64) Model {
	return Model{
		Weights:            DefaultWeights(),
		Complements:        DefaultComplements(),
		ComplementScale:    DefaultComplementScale,
		MaxPreferredMeters: maxPreferredMeters,
	}
}

// VibeScore returns the direct confidence for target if recorded, otherwise
// the best complementary confidence scaled down, otherwise NeutralVibe.
func (m Model) VibeScore(target model.Vibe, vibes map[model.Vibe]float64) float64 {
	if v, ok := vibes[target]; ok {
		return clamp01(v)
	}
	best, found := 0.0, false
	for _, c := range m.Complements[target] {
		if v, ok := vibes[c]; ok && (!found || v > best) {
			best, found = v, true
		}
	}
	if found {
		return clamp01(best * m.ComplementScale)
	}
	return NeutralVibe
}

// AmenityScore averages the confidence of each required amenity. Amenities
// without a record count as NeutralAmenity. No requirements scores 1.
func AmenityScore(required []model.Amenity, amenities map[model.Amenity]float64) float64 {
	if len(required) == 0 {
		return 1
	}
	var sum float64
	for _, a := range required {
		if v, ok := amenities[a]; ok {
			sum += clamp01(v)
		} else {
			sum += NeutralAmenity
		}
	}
	return sum / float64(len(required))
}

// DistanceScore decays linearly from 1 at the origin to 0 at maxPreferred.
func DistanceScore(distanceMeters, maxPreferredMeters float64) float64 {
	if maxPreferredMeters <= 0 {
		return 0
	}
	if distanceMeters <= 0 {
		return 1
	}
	return math.Max(0, 1-distanceMeters/maxPreferredMeters)
}

// PriceScore compares tiers by distance. Unspecified on either side is
// not penalised.
func PriceScore(entity, target model.PriceTier) float64 {
	if !entity.Specified() || !target.Specified() {
		return priceNeutral
	}
	d := entity.Rank() - target.Rank()
	if d < 0 {
		d = -d
	}
	switch d {
	case 0:
		return priceExact
	case 1:
		return priceAdjacent
	default:
		return priceFar
	}
}

// Factors holds the per-factor scores of one candidate.
type Factors struct {
	Vibe     float64 `json:"vibe"`
	Amenity  float64 `json:"amenity"`
	Distance float64 `json:"distance"`
	Price    float64 `json:"price"`
}

// Combined returns the weighted sum of the factors.
func Combined(f Factors, w Weights) float64 {
	return f.Vibe*w.Vibe + f.Amenity*w.Amenity + f.Distance*w.Distance + f.Price*w.Price
}

// Preferences are the soft constraints of a recommendation request.
type Preferences struct {
	Mood         model.Vibe
	PriceTier    model.PriceTier
	Requirements []model.Amenity
}

// Factors scores a cafe at the given distance.
func (m Model) Factors(c *model.Cafe, p Preferences, distanceMeters float64) Factors {
	return Factors{
		Vibe:     m.VibeScore(p.Mood, c.VibeScores),
		Amenity:  AmenityScore(p.Requirements, c.AmenityScores),
		Distance: DistanceScore(distanceMeters, m.MaxPreferredMeters),
		Price:    PriceScore(c.PriceTier, p.PriceTier),
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
