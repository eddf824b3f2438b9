package scoring

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/cafe-cli/internal/model"
)

// Profile is the on-disk form of a scoring model override.
type Profile struct {
	Weights         *Weights            `yaml:"weights"`
	Complements     map[string][]string `yaml:"complements"`
	ComplementScale float64             `yaml:"complement_scale"`
}

// LoadProfile reads a YAML scoring profile and applies it on top of base.
// Unset sections keep the base values.
func LoadProfile(path string, base Model) (Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, eris.Wrapf(err, "scoring: read profile %s", path)
	}
	return ParseProfile(data, base)
}

// ParseProfile is LoadProfile over raw bytes.
func ParseProfile(data []byte, base Model) (Model, error) {
	// The YAML has a top-level "scoring" key
	var wrapper struct {
		Scoring Profile `yaml:"scoring"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return base, eris.Wrap(err, "scoring: parse profile")
	}
	p := wrapper.Scoring

	m := base
	if p.Weights != nil {
		if err := p.Weights.Validate(); err != nil {
			return base, err
		}
		m.Weights = *p.Weights
	}
	if p.ComplementScale != 0 {
		if p.ComplementScale < 0 || p.ComplementScale > 1 {
			return base, eris.Errorf("scoring: complement_scale %.3f out of range", p.ComplementScale)
		}
		m.ComplementScale = p.ComplementScale
	}
	if len(p.Complements) > 0 {
		comps := make(map[model.Vibe][]model.Vibe, len(p.Complements))
		for mood, list := range p.Complements {
			v := model.Vibe(mood)
			if !v.Valid() {
				return base, eris.Errorf("scoring: unknown mood %q in complements", mood)
			}
			for _, c := range list {
				cv := model.Vibe(c)
				if !cv.Valid() {
					return base, eris.Errorf("scoring: unknown vibe %q in complements of %s", c, mood)
				}
				comps[v] = append(comps[v], cv)
			}
		}
		m.Complements = comps
	}
	return m, nil
}
