package recommend

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/cafe-cli/internal/model"
)

func TestNameFilter_Keep(t *testing.T) {
	f := NewNameFilter(nil, nil)

	tests := []struct {
		name string
		want bool
	}{
		{"Victrola Coffee Roasters", true},
		{"Shell Gas Station", false},
		{"Airport Coffee Bar", true}, // allow wins
		{"CAFÉ Allegro", true},
		{"Hotel Lobby", false},
		{"The Nook", true}, // neither list
		{"7-Eleven", false},
		{"Grocery  Outlet", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.Keep(tt.name))
		})
	}
}

func TestNameFilter_CustomTerms(t *testing.T) {
	f := NewNameFilter([]string{"boba"}, []string{"Bar"})
	assert.True(t, f.Keep("Boba Bar"))
	assert.False(t, f.Keep("Wine bar"))
	assert.True(t, f.Keep("Coffee House"))
}

func TestNameFilter_ApplyDedupsByPlaceID(t *testing.T) {
	f := NewNameFilter(nil, nil)
	out := f.Apply([]model.PlaceSummary{
		{PlaceID: "a", Name: "Cafe One"},
		{PlaceID: "b", Name: "Fuel Stop"},
		{PlaceID: "a", Name: "Cafe One"},
		{PlaceID: "c", Name: "Espresso Vivace"},
	})
	ids := make([]string, len(out))
	for i, s := range out {
		ids[i] = s.PlaceID
	}
	assert.Equal(t, []string{"a", "c"}, ids)
}

func TestFold(t *testing.T) {
	assert.Equal(t, "cafe creme", fold("  Café   Crème "))
	assert.Equal(t, "", fold("   "))
}
