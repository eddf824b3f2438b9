package model

// Vibe is an atmosphere category scored from review text.
type Vibe string

const (
	VibeCozy        Vibe = "cozy"
	VibeModern      Vibe = "modern"
	VibeQuiet       Vibe = "quiet"
	VibeLively      Vibe = "lively"
	VibeTraditional Vibe = "traditional"
	VibeArtsy       Vibe = "artsy"
)

// Amenity is a facility category scored from review text.
type Amenity string

const (
	AmenityWifi           Amenity = "wifi"
	AmenityOutlets        Amenity = "outlets"
	AmenitySeating        Amenity = "seating"
	AmenityParking        Amenity = "parking"
	AmenityOutdoorSeating Amenity = "outdoor_seating"
	AmenityPetFriendly    Amenity = "pet_friendly"
)

// Vibes is the closed set of vibe categories, in prompt order.
var Vibes = []Vibe{VibeCozy, VibeModern, VibeQuiet, VibeLively, VibeTraditional, VibeArtsy}

// Amenities is the closed set of amenity categories, in prompt order.
var Amenities = []Amenity{AmenityWifi, AmenityOutlets, AmenitySeating, AmenityParking, AmenityOutdoorSeating, AmenityPetFriendly}

// Persistence thresholds. Confidences must be strictly greater to be stored.
const (
	VibeThreshold    = 0.4
	AmenityThreshold = 0.5
)

// Valid reports whether v is a known vibe.
func (v Vibe) Valid() bool {
	for _, k := range Vibes {
		if k == v {
			return true
		}
	}
	return false
}

// Valid reports whether a is a known amenity.
func (a Amenity) Valid() bool {
	for _, k := range Amenities {
		if k == a {
			return true
		}
	}
	return false
}

// Scores is the persisted view of one analysis: only the categories whose
// confidence cleared the threshold.
type Scores struct {
	Vibes     map[Vibe]float64
	Amenities map[Amenity]float64
}

// KeepAbove returns the scores strictly greater than their thresholds.
func KeepAbove(vibes map[Vibe]float64, vibeMin float64, amenities map[Amenity]float64, amenityMin float64) Scores {
	return Scores{
		Vibes:     above(vibes, vibeMin),
		Amenities: above(amenities, amenityMin),
	}
}

func above[K comparable](in map[K]float64, floor float64) map[K]float64 {
	out := make(map[K]float64, len(in))
	for k, v := range in {
		if v > floor {
			out[k] = v
		}
	}
	return out
}
