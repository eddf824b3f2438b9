// Package google is a thin client for the Google Places API (New).
package google

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/cafe-cli/internal/resilience"
)

const defaultBaseURL = "https://places.googleapis.com/v1"

const (
	nearbyFieldMask  = "places.id,places.displayName,places.location,places.formattedAddress,places.priceLevel"
	detailsFieldMask = "id,formattedAddress,priceLevel,reviews,regularOpeningHours.weekdayDescriptions,photos"
)

// DefaultIncludedTypes are the place types requested by SearchNearby when the
// request leaves IncludedTypes empty.
var DefaultIncludedTypes = []string{"cafe", "coffee_shop"}

// Client performs Google Places API operations.
type Client interface {
	SearchNearby(ctx context.Context, req NearbyRequest) (*NearbyResponse, error)
	GetDetails(ctx context.Context, placeID string) (*PlaceDetails, error)
}

// NearbyRequest describes a circular nearby search.
type NearbyRequest struct {
	Latitude       float64
	Longitude      float64
	RadiusMeters   float64
	IncludedTypes  []string
	MaxResultCount int
}

// NearbyResponse is the response from Places Nearby Search.
type NearbyResponse struct {
	Places []Place `json:"places"`
}

// Place represents a place returned by a search.
type Place struct {
	ID               string      `json:"id"`
	DisplayName      DisplayName `json:"displayName"`
	Location         LatLng      `json:"location"`
	FormattedAddress string      `json:"formattedAddress"`
	PriceLevel       string      `json:"priceLevel"`
}

// DisplayName holds the place's display name.
type DisplayName struct {
	Text string `json:"text"`
}

// LatLng is a WGS84 coordinate pair.
type LatLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// PlaceDetails holds the fields fetched for a single place.
type PlaceDetails struct {
	ID                  string        `json:"id"`
	FormattedAddress    string        `json:"formattedAddress"`
	PriceLevel          string        `json:"priceLevel"`
	Reviews             []Review      `json:"reviews"`
	RegularOpeningHours *OpeningHours `json:"regularOpeningHours,omitempty"`
	Photos              []Photo       `json:"photos"`
}

// Review is a single user review.
type Review struct {
	Rating int       `json:"rating"`
	Text   LocalText `json:"text"`
}

// LocalText is localized text.
type LocalText struct {
	Text string `json:"text"`
}

// OpeningHours carries human-readable per-weekday hours.
type OpeningHours struct {
	WeekdayDescriptions []string `json:"weekdayDescriptions"`
}

// Photo is a photo resource reference.
type Photo struct {
	Name string `json:"name"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a Google Places API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type nearbyRequestBody struct {
	IncludedTypes       []string            `json:"includedTypes"`
	MaxResultCount      int                 `json:"maxResultCount,omitempty"`
	LocationRestriction locationRestriction `json:"locationRestriction"`
}

type locationRestriction struct {
	Circle circle `json:"circle"`
}

type circle struct {
	Center LatLng  `json:"center"`
	Radius float64 `json:"radius"`
}

func (c *httpClient) SearchNearby(ctx context.Context, req NearbyRequest) (*NearbyResponse, error) {
	types := req.IncludedTypes
	if len(types) == 0 {
		types = DefaultIncludedTypes
	}
	body, err := json.Marshal(nearbyRequestBody{
		IncludedTypes:  types,
		MaxResultCount: req.MaxResultCount,
		LocationRestriction: locationRestriction{Circle: circle{
			Center: LatLng{Latitude: req.Latitude, Longitude: req.Longitude},
			Radius: req.RadiusMeters,
		}},
	})
	if err != nil {
		return nil, eris.Wrap(err, "google: marshal nearby request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/places:searchNearby", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "google: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var result NearbyResponse
	if err := c.do(httpReq, nearbyFieldMask, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *httpClient) GetDetails(ctx context.Context, placeID string) (*PlaceDetails, error) {
	if placeID == "" {
		return nil, eris.New("google: empty place id")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/places/"+url.PathEscape(placeID), nil)
	if err != nil {
		return nil, eris.Wrap(err, "google: create request")
	}

	var result PlaceDetails
	if err := c.do(httpReq, detailsFieldMask, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// do sends the request and decodes a 200 body into out. 429 and 5xx become
// resilience.TransientError; other statuses are terminal.
func (c *httpClient) do(req *http.Request, fieldMask string, out any) error {
	req.Header.Set("X-Goog-Api-Key", c.apiKey)
	req.Header.Set("X-Goog-FieldMask", fieldMask)

	resp, err := c.http.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return eris.Wrap(err, "google: send request")
		}
		return resilience.NewTransientError(eris.Wrap(err, "google: send request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "google: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return resilience.Upstream(
			eris.Errorf("google: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))),
			resp.StatusCode,
		)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return eris.Wrap(err, "google: unmarshal response")
	}
	return nil
}
