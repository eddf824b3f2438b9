package recommend

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/cafe-cli/internal/model"
)

// DefaultAllowTerms mark a name as a cafe regardless of deny terms.
var DefaultAllowTerms = []string{
	"cafe", "coffee", "espresso", "roaster", "roastery", "tea house", "teahouse", "kaffee", "caffe",
}

// DefaultDenyTerms mark establishments the type filter lets through but
// that are not somewhere to sit with a coffee.
var DefaultDenyTerms = []string{
	"gas station", "fuel", "petrol", "7-eleven", "convenience", "supermarket", "grocery",
	"pharmacy", "hotel", "motel", "hospital", "airport", "vending", "drive-thru", "drive thru",
}

// NameFilter is an allow/deny heuristic over establishment names. Matching
// is case- and accent-insensitive.
type NameFilter struct {
	allow []string
	deny  []string
}

// NewNameFilter builds a filter; nil slices take the defaults.
func NewNameFilter(allow, deny []string) *NameFilter {
	if allow == nil {
		allow = DefaultAllowTerms
	}
	if deny == nil {
		deny = DefaultDenyTerms
	}
	f := &NameFilter{}
	for _, a := range allow {
		if a = fold(a); a != "" {
			f.allow = append(f.allow, a)
		}
	}
	for _, d := range deny {
		if d = fold(d); d != "" {
			f.deny = append(f.deny, d)
		}
	}
	return f
}

// Keep reports whether a place with this name should stay a candidate.
// An allow term wins over a deny term; a name matching neither is kept.
func (f *NameFilter) Keep(name string) bool {
	n := fold(name)
	for _, a := range f.allow {
		if strings.Contains(n, a) {
			return true
		}
	}
	for _, d := range f.deny {
		if strings.Contains(n, d) {
			return false
		}
	}
	return true
}

// Apply returns the summaries whose names pass, deduplicated by PlaceID.
func (f *NameFilter) Apply(in []model.PlaceSummary) []model.PlaceSummary {
	seen := make(map[string]bool, len(in))
	out := make([]model.PlaceSummary, 0, len(in))
	for _, s := range in {
		if seen[s.PlaceID] || !f.Keep(s.Name) {
			continue
		}
		seen[s.PlaceID] = true
		out = append(out, s)
	}
	return out
}

// fold lowercases, strips diacritics and collapses whitespace.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.Join(strings.Fields(strings.ToLower(out)), " ")
}
