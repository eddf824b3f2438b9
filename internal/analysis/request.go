// Package analysis extracts per-category confidence scores for cafes from
// their review text using a text-scoring model.
package analysis

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sells-group/cafe-cli/internal/model"
	"github.com/sells-group/cafe-cli/pkg/anthropic"
)

const (
	// MaxReviews is the number of reviews included per cafe.
	MaxReviews = 3

	// ReviewCharBudget truncates each review to this many characters.
	ReviewCharBudget = 150
)

// ScoringInput is everything the model sees about one cafe.
type ScoringInput struct {
	Name    string
	Address string
	Hours   []string
	Reviews []string
}

// InputFromCafe builds a ScoringInput from a stored cafe.
func InputFromCafe(c model.Cafe) ScoringInput {
	return ScoringInput{
		Name:    c.Name,
		Address: c.Address,
		Hours:   c.Hours,
		Reviews: c.Reviews,
	}
}

// RequestOptions carries the model parameters for a scoring request.
type RequestOptions struct {
	Model     string
	MaxTokens int64
}

var systemPrompt = buildSystemPrompt()

func buildSystemPrompt() string {
	vibes := make([]string, len(model.Vibes))
	for i, v := range model.Vibes {
		vibes[i] = string(v)
	}
	amenities := make([]string, len(model.Amenities))
	for i, a := range model.Amenities {
		amenities[i] = string(a)
	}

	var b strings.Builder
	b.WriteString("You rate cafes from short customer review excerpts. ")
	b.WriteString("For each category give your confidence from 0.0 to 1.0 that it describes the cafe. ")
	b.WriteString("Use the address and opening hours as context (a late-night spot reads differently from a breakfast counter). ")
	b.WriteString("Score every category; use a low value when the reviews say nothing about it.\n\n")
	fmt.Fprintf(&b, "Vibe categories: %s\n", strings.Join(vibes, ", "))
	fmt.Fprintf(&b, "Amenity categories: %s\n\n", strings.Join(amenities, ", "))
	b.WriteString("Respond with ONLY valid JSON, no other text:\n")
	b.WriteString(`{"vibe_scores": {"<vibe>": 0.0, ...}, "amenity_scores": {"<amenity>": 0.0, ...}}`)
	return b.String()
}

// BuildRequest serializes a ScoringInput into a Messages API request. It is
// a pure function of its inputs.
func BuildRequest(in ScoringInput, opts RequestOptions) anthropic.MessageRequest {
	var b strings.Builder
	fmt.Fprintf(&b, "Cafe: %s\n", in.Name)
	if in.Address != "" {
		fmt.Fprintf(&b, "Address: %s\n", in.Address)
	}
	if len(in.Hours) > 0 {
		fmt.Fprintf(&b, "Hours: %s\n", strings.Join(in.Hours, "; "))
	}
	b.WriteString("\nReviews:\n")
	n := 0
	for _, r := range in.Reviews {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		fmt.Fprintf(&b, "- %s\n", truncate(r, ReviewCharBudget))
		n++
		if n == MaxReviews {
			break
		}
	}

	temp := 0.0
	return anthropic.MessageRequest{
		Model:          opts.Model,
		MaxTokens:      opts.MaxTokens,
		System:         systemPrompt,
		SystemCacheTTL: "5m",
		Messages:       []anthropic.Message{{Role: "user", Content: b.String()}},
		Temperature:    &temp,
	}
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
