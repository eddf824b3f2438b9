package model

import "time"

// SearchCacheEntry maps a search key to the ordered cafe IDs it produced.
type SearchCacheEntry struct {
	Key       string    `json:"key"`
	CafeIDs   []int64   `json:"cafe_ids"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AnalysisStamps records when each kind of analysis last completed for a
// cafe. A zero time means that kind has never been analyzed, which is
// distinct from an analysis that stored no above-threshold scores.
type AnalysisStamps struct {
	VibesAt     time.Time `json:"vibes_analyzed_at"`
	AmenitiesAt time.Time `json:"amenities_analyzed_at"`
}

// FreshWithin reports whether both kinds were analyzed within ttl of now.
// An analysis exactly ttl old is still fresh.
func (s AnalysisStamps) FreshWithin(now time.Time, ttl time.Duration) bool {
	if s.VibesAt.IsZero() || s.AmenitiesAt.IsZero() {
		return false
	}
	return now.Sub(s.VibesAt) <= ttl && now.Sub(s.AmenitiesAt) <= ttl
}
