package weather

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateWeights(t *testing.T) {
	assert.NoError(t, ValidateWeights(threeModels))
	assert.NoError(t, ValidateWeights([]ModelWeight{{Name: "a", Weight: 1}}))
	assert.NoError(t, ValidateWeights([]ModelWeight{
		{Name: "a", Weight: 1.0 / 3}, {Name: "b", Weight: 1.0 / 3}, {Name: "c", Weight: 1.0 / 3},
	}))

	tests := []struct {
		name    string
		weights []ModelWeight
	}{
		{"empty", nil},
		{"sum below one", []ModelWeight{{Name: "a", Weight: 0.5}, {Name: "b", Weight: 0.4}}},
		{"sum above one", []ModelWeight{{Name: "a", Weight: 0.7}, {Name: "b", Weight: 0.4}}},
		{"negative", []ModelWeight{{Name: "a", Weight: 1.2}, {Name: "b", Weight: -0.2}}},
		{"nan", []ModelWeight{{Name: "a", Weight: math.NaN()}}},
		{"duplicate", []ModelWeight{{Name: "a", Weight: 0.5}, {Name: "a", Weight: 0.5}}},
		{"unnamed", []ModelWeight{{Weight: 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, ValidateWeights(tt.weights), ErrInvalidConfiguration)
		})
	}
}

func TestRounding(t *testing.T) {
	assert.InDelta(t, 18.3, round1(18.275), 1e-9)
	assert.InDelta(t, -2.5, round1(-2.46), 1e-9)
	assert.Equal(t, 89, roundInt(88.625))
	assert.InDelta(t, 50.0, clamp(12, 50, 98), 1e-9)
	assert.InDelta(t, 98.0, clamp(120, 50, 98), 1e-9)
}
