package recommend

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/sells-group/cafe-cli/internal/model"
	"github.com/sells-group/cafe-cli/internal/scoring"
)

// Request is a recommendation query.
type Request struct {
	Location     string          `json:"location" validate:"required,max=200"`
	Mood         model.Vibe      `json:"mood" validate:"required,vibe"`
	PriceRange   model.PriceTier `json:"priceRange,omitempty" validate:"price_tier"`
	Requirements []model.Amenity `json:"requirements,omitempty" validate:"max=6,dive,amenity"`
}

// Preferences converts the request into scoring preferences.
func (r Request) Preferences() scoring.Preferences {
	return scoring.Preferences{
		Mood:         r.Mood,
		PriceTier:    normalizeTier(r.PriceRange),
		Requirements: r.Requirements,
	}
}

// Item is one ranked recommendation.
type Item struct {
	EntityID       int64           `json:"entityId"`
	PlaceID        string          `json:"placeId"`
	Name           string          `json:"name"`
	Address        string          `json:"address,omitempty"`
	DistanceMeters float64         `json:"distanceMeters"`
	PriceTier      model.PriceTier `json:"priceTier,omitempty"`
	VibeScore      float64         `json:"vibeScore"`
	AmenityScore   float64         `json:"amenityScore"`
	DistanceScore  float64         `json:"distanceScore"`
	PriceScore     float64         `json:"priceScore"`
	CombinedScore  float64         `json:"combinedScore"`
	Photos         []string        `json:"photos,omitempty"`
	Hours          []string        `json:"hours,omitempty"`
}

func newItem(s scoring.Scored) Item {
	return Item{
		EntityID:       s.Cafe.ID,
		PlaceID:        s.Cafe.PlaceID,
		Name:           s.Cafe.Name,
		Address:        s.Cafe.Address,
		DistanceMeters: s.DistanceMeters,
		PriceTier:      s.Cafe.PriceTier,
		VibeScore:      s.Factors.Vibe,
		AmenityScore:   s.Factors.Amenity,
		DistanceScore:  s.Factors.Distance,
		PriceScore:     s.Factors.Price,
		CombinedScore:  s.Combined,
		Photos:         s.Cafe.Photos,
		Hours:          s.Cafe.Hours,
	}
}

// Source says where the candidate set came from.
type Source string

const (
	SourceCache    Source = "cache"
	SourceProvider Source = "provider"
	SourceStore    Source = "store"
)

// Response is the ranked result of a request.
type Response struct {
	RequestID       string         `json:"requestId"`
	Origin          model.Location `json:"origin"`
	SearchKey       string         `json:"searchKey"`
	Source          Source         `json:"source"`
	Recommendations []Item         `json:"recommendations"`
	More            []Item         `json:"more"`
	Unanalyzed      int            `json:"unanalyzed"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "" || name == "-" {
				return f.Name
			}
			return name
		})
		_ = validate.RegisterValidation("vibe", func(fl validator.FieldLevel) bool {
			return model.Vibe(fl.Field().String()).Valid()
		})
		_ = validate.RegisterValidation("amenity", func(fl validator.FieldLevel) bool {
			return model.Amenity(fl.Field().String()).Valid()
		})
		_ = validate.RegisterValidation("price_tier", func(fl validator.FieldLevel) bool {
			return model.PriceTier(fl.Field().String()).Valid()
		})
	})
	return validate
}

var fieldMessages = map[string]string{
	"required":   "%s is required",
	"vibe":       "%s must be one of: cozy, modern, quiet, lively, traditional, artsy",
	"amenity":    "%s must be one of: wifi, outlets, seating, parking, outdoor_seating, pet_friendly",
	"price_tier": "%s must be one of: none, low, mid, high",
}

// validateRequest returns a readable description of every field failure,
// or nil.
func validateRequest(r Request) error {
	err := getValidator().Struct(r)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	msgs := make([]string, len(fieldErrs))
	for i, fe := range fieldErrs {
		if tmpl, ok := fieldMessages[fe.Tag()]; ok {
			msgs[i] = fmt.Sprintf(tmpl, fe.Field())
		} else {
			msgs[i] = fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param())
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}

func normalizeTier(t model.PriceTier) model.PriceTier {
	if !t.Specified() {
		return ""
	}
	return t
}
