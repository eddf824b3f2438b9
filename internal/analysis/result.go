package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sells-group/cafe-cli/internal/model"
)

// Result is a fully validated scoring response. Both maps cover every
// category. Stored holds the subset the Recorder persisted.
type Result struct {
	Vibes     map[model.Vibe]float64    `json:"vibe_scores"`
	Amenities map[model.Amenity]float64 `json:"amenity_scores"`
	Stored    model.Scores              `json:"-"`
}

// InvalidResponse describes a scoring response rejected by validation.
// Nothing from an invalid response is ever persisted.
type InvalidResponse struct {
	Reason string
	Raw    string
}

func (e *InvalidResponse) Error() string {
	return "analysis: invalid response: " + e.Reason
}

func invalid(raw, format string, args ...any) *InvalidResponse {
	return &InvalidResponse{Reason: fmt.Sprintf(format, args...), Raw: raw}
}

// ParseResponse validates model output. The text may wrap the JSON object in
// prose or code fences; the outermost object is extracted and must carry a
// numeric value in [0,1] for every vibe and every amenity.
func ParseResponse(text string) (Result, *InvalidResponse) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return Result{}, invalid(text, "no JSON object")
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text[start:end+1]), &top); err != nil {
		return Result{}, invalid(text, "malformed JSON: %v", err)
	}

	vibes, err := parseSection(top, "vibe_scores", model.Vibes)
	if err != nil {
		err.Raw = text
		return Result{}, err
	}
	amenities, err := parseSection(top, "amenity_scores", model.Amenities)
	if err != nil {
		err.Raw = text
		return Result{}, err
	}
	return Result{Vibes: vibes, Amenities: amenities}, nil
}

func parseSection[K ~string](top map[string]json.RawMessage, name string, categories []K) (map[K]float64, *InvalidResponse) {
	raw, ok := top[name]
	if !ok {
		return nil, invalid("", "missing %s", name)
	}
	var section map[string]json.RawMessage
	if err := json.Unmarshal(raw, &section); err != nil || section == nil {
		return nil, invalid("", "%s is not an object", name)
	}

	out := make(map[K]float64, len(categories))
	for _, c := range categories {
		v, ok := section[string(c)]
		if !ok {
			return nil, invalid("", "%s missing %q", name, c)
		}
		v = bytes.TrimSpace(v)
		if bytes.Equal(v, []byte("null")) {
			return nil, invalid("", "%s.%s is null", name, c)
		}
		var f float64
		if err := json.Unmarshal(v, &f); err != nil {
			return nil, invalid("", "%s.%s is not a number", name, c)
		}
		if f < 0 || f > 1 {
			return nil, invalid("", "%s.%s out of range: %v", name, c, f)
		}
		out[c] = f
	}
	return out, nil
}
