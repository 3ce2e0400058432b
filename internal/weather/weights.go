package weather

import (
	"math"
)

// WeightTolerance is how far the sum of blend weights may drift from 1.0.
const WeightTolerance = 1e-6

// ModelWeight is the configured share of one model in the blend.
type ModelWeight struct {
	Name   string
	Label  string
	Weight float64
}

// ValidateWeights checks the blend weight table. It is meant to run once at
// startup; the Blender never re-checks weights per request.
func ValidateWeights(weights []ModelWeight) error {
	if len(weights) == 0 {
		return invalidConfiguration("no models configured")
	}

	seen := make(map[string]struct{}, len(weights))
	var sum float64
	for _, w := range weights {
		if w.Name == "" {
			return invalidConfiguration("model name must not be empty")
		}
		if _, dup := seen[w.Name]; dup {
			return invalidConfiguration("model %q configured twice", w.Name)
		}
		seen[w.Name] = struct{}{}

		if math.IsNaN(w.Weight) || w.Weight < 0 || w.Weight > 1 {
			return invalidConfiguration("weight of model %q must be in [0,1], got %v", w.Name, w.Weight)
		}
		sum += w.Weight
	}
	if math.Abs(sum-1) > WeightTolerance {
		return invalidConfiguration("model weights must sum to 1.0, got %.6f", sum)
	}
	return nil
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func roundInt(v float64) int {
	return int(math.Round(v))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
