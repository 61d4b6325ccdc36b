// Package mastery tracks a smoothed mastery estimate in [0,1] for every
// learning outcome a student works on within a course.
package mastery

import (
	"maps"
	"math"
	"slices"
)

const (
	// DefaultPrior seeds a new record before any evidence is applied.
	DefaultPrior = 0.3

	// DefaultAlpha is the weight of the newest observation when smoothing.
	DefaultAlpha = 0.3
)

// Config holds tracker settings.
type Config struct {
	Prior float64
	Alpha float64
}

// DefaultConfig returns sensible defaults for the tracker.
func DefaultConfig() Config {
	return Config{
		Prior: DefaultPrior,
		Alpha: DefaultAlpha,
	}
}

// Clamp limits v to [0,1]. NaN becomes 0. The second result reports
// whether v was changed.
func Clamp(v float64) (float64, bool) {
	switch {
	case math.IsNaN(v):
		return 0, true
	case v < 0:
		return 0, true
	case v > 1:
		return 1, true
	}
	return v, false
}

// Smooth blends a new observation into the previous estimate:
// alpha*score + (1-alpha)*prev. Both inputs are clamped first.
func Smooth(prev, score, alpha float64) float64 {
	prev, _ = Clamp(prev)
	score, _ = Clamp(score)
	alpha, _ = Clamp(alpha)
	v, _ := Clamp(alpha*score + (1-alpha)*prev)
	return v
}

// seedKey picks the outcome that seeds a new record: the lowest key of the
// update batch.
func seedKey(updates map[string]float64) string {
	keys := slices.Sorted(maps.Keys(updates))
	if len(keys) == 0 {
		return ""
	}
	return keys[0]
}
