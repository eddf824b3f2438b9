package model

import "time"

// MaxStoredReviews bounds the number of raw reviews kept per cafe.
const MaxStoredReviews = 5

// PriceTier is a coarse price bucket. The empty string and PriceTierNone
// both mean "unspecified".
type PriceTier string

const (
	PriceTierNone PriceTier = "none"
	PriceTierLow  PriceTier = "low"
	PriceTierMid  PriceTier = "mid"
	PriceTierHigh PriceTier = "high"
)

// Valid reports whether t is one of the known tiers or empty.
func (t PriceTier) Valid() bool {
	return t == "" || t == PriceTierNone || t.Rank() > 0
}

// Specified reports whether the tier carries a price signal.
func (t PriceTier) Specified() bool {
	return t.Rank() > 0
}

// Rank returns 1..3 for low..high and 0 for unspecified tiers.
func (t PriceTier) Rank() int {
	switch t {
	case PriceTierLow:
		return 1
	case PriceTierMid:
		return 2
	case PriceTierHigh:
		return 3
	default:
		return 0
	}
}

// Location is a WGS84 latitude/longitude pair.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Cafe is a point of interest tracked by the recommender. PlaceID is the
// provider's immutable identity; ID is assigned by the store on first upsert.
type Cafe struct {
	ID          int64     `json:"id"`
	PlaceID     string    `json:"place_id"`
	Name        string    `json:"name"`
	Location    Location  `json:"location"`
	Address     string    `json:"address"`
	PriceTier   PriceTier `json:"price_tier,omitempty"`
	Reviews     []string  `json:"reviews,omitempty"`
	Hours       []string  `json:"hours,omitempty"`
	Photos      []string  `json:"photos,omitempty"`
	LastFetched time.Time `json:"last_fetched"`

	// Persisted above-threshold confidences. A missing category means low
	// or unknown confidence, never zero.
	VibeScores    map[Vibe]float64    `json:"vibe_scores,omitempty"`
	AmenityScores map[Amenity]float64 `json:"amenity_scores,omitempty"`
}

// ReviewText returns the concatenated review bodies.
func (c *Cafe) ReviewText() string {
	n := 0
	for _, r := range c.Reviews {
		n += len(r)
	}
	b := make([]byte, 0, n+len(c.Reviews))
	for i, r := range c.Reviews {
		if i > 0 {
			b = append(b, '\n')
		}
		b = append(b, r...)
	}
	return string(b)
}

// PlaceSummary is a candidate returned by a nearby search.
type PlaceSummary struct {
	PlaceID   string    `json:"place_id"`
	Name      string    `json:"name"`
	Location  Location  `json:"location"`
	Address   string    `json:"address,omitempty"`
	PriceTier PriceTier `json:"price_tier,omitempty"`
}

// PlaceDetails holds the per-place fields fetched after a nearby search.
type PlaceDetails struct {
	Address   string    `json:"address"`
	Reviews   []string  `json:"reviews,omitempty"`
	PriceTier PriceTier `json:"price_tier,omitempty"`
	Hours     []string  `json:"hours,omitempty"`
	Photos    []string  `json:"photos,omitempty"`
}

// NewCafe merges a search summary with its (optional) details.
func NewCafe(s PlaceSummary, d *PlaceDetails, fetchedAt time.Time) Cafe {
	c := Cafe{
		PlaceID:     s.PlaceID,
		Name:        s.Name,
		Location:    s.Location,
		Address:     s.Address,
		PriceTier:   s.PriceTier,
		LastFetched: fetchedAt,
	}
	if d == nil {
		return c
	}
	if d.Address != "" {
		c.Address = d.Address
	}
	if d.PriceTier.Specified() {
		c.PriceTier = d.PriceTier
	}
	c.Reviews = d.Reviews
	if len(c.Reviews) > MaxStoredReviews {
		c.Reviews = c.Reviews[:MaxStoredReviews]
	}
	c.Hours = d.Hours
	c.Photos = d.Photos
	return c
}
