package weather

import (
	"fmt"
	"math"
	"time"
)

// BlendPolicy holds the tunable constants of the ensemble blend.
type BlendPolicy struct {
	ConfidenceBase     float64
	LeadDayPenalty     float64
	SpreadPenalty      float64
	ConfidenceMin      float64
	ConfidenceMax      float64
	BandMargin         float64
	BackfillTempJitter float64
	BackfillPrecipMin  float64
	BackfillPrecipMax  float64
	RainThreshold      float64
}

// DefaultBlendPolicy returns the stock blend constants.
func DefaultBlendPolicy() BlendPolicy {
	return BlendPolicy{
		ConfidenceBase:     95,
		LeadDayPenalty:     3,
		SpreadPenalty:      5,
		ConfidenceMin:      50,
		ConfidenceMax:      98,
		BandMargin:         1,
		BackfillTempJitter: 1.5,
		BackfillPrecipMin:  0.8,
		BackfillPrecipMax:  1.2,
		RainThreshold:      1.0,
	}
}

// Validate checks the policy for internally consistent values.
func (p BlendPolicy) Validate() error {
	if p.ConfidenceMin < 0 || p.ConfidenceMax > 100 || p.ConfidenceMin > p.ConfidenceMax {
		return invalidConfiguration("ensemble confidence range [%v,%v] must lie within [0,100]",
			p.ConfidenceMin, p.ConfidenceMax)
	}
	if p.LeadDayPenalty < 0 || p.SpreadPenalty < 0 {
		return invalidConfiguration("ensemble confidence penalties must not be negative")
	}
	if p.BandMargin < 0 || p.BackfillTempJitter < 0 {
		return invalidConfiguration("band margin and back-fill jitter must not be negative")
	}
	if p.BackfillPrecipMin < 0 || p.BackfillPrecipMin > p.BackfillPrecipMax {
		return invalidConfiguration("back-fill precipitation scale [%v,%v] is invalid",
			p.BackfillPrecipMin, p.BackfillPrecipMax)
	}
	return nil
}

// ModelResult is the outcome of one model feed call, stored in the slot of
// its model.
type ModelResult struct {
	Model  string
	Series *ModelSeries
	Err    error
}

// Blender combines aligned per-day model values into ensemble days.
type Blender struct {
	weights []ModelWeight
	policy  BlendPolicy
}

// NewBlender validates weights and policy and returns a Blender that uses
// them for every request.
func NewBlender(weights []ModelWeight, policy BlendPolicy) (*Blender, error) {
	if err := ValidateWeights(weights); err != nil {
		return nil, err
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	w := make([]ModelWeight, len(weights))
	copy(w, weights)
	return &Blender{weights: w, policy: policy}, nil
}

// Weights returns a copy of the configured weights in slot order.
func (b *Blender) Weights() []ModelWeight {
	w := make([]ModelWeight, len(b.weights))
	copy(w, b.weights)
	return w
}

// Policy returns the blend policy.
func (b *Blender) Policy() BlendPolicy {
	return b.policy
}

// Blend produces exactly one forecast per lead day 0..days-1. results must
// hold one slot per configured model, in weight order. Missing model values
// are back-filled and flagged; only a day without any real value for a
// metric fails the whole blend.
func (b *Blender) Blend(start time.Time, days int, results []ModelResult, jitter Jitter) ([]DailyEnsembleForecast, error) {
	if days <= 0 {
		return nil, invalidRequest("horizon must be at least one day, got %d", days)
	}
	if len(results) != len(b.weights) {
		return nil, fmt.Errorf("blend: got %d model results for %d configured models", len(results), len(b.weights))
	}

	forecast := make([]DailyEnsembleForecast, 0, days)
	for i := 0; i < days; i++ {
		day, err := b.blendDay(start, i, results, jitter)
		if err != nil {
			return nil, err
		}
		forecast = append(forecast, day)
	}
	return forecast, nil
}

func (b *Blender) blendDay(start time.Time, lead int, results []ModelResult, jitter Jitter) (DailyEnsembleForecast, error) {
	n := len(b.weights)
	temps := make([]float64, n)
	precips := make([]float64, n)
	hasTemp := make([]bool, n)
	hasPrecip := make([]bool, n)
	refTemp, refPrecip := -1, -1
	date := dayStart(start).AddDate(0, 0, lead)

	for m, res := range results {
		sample, ok := res.Series.DayOn(date, lead)
		if !ok {
			continue
		}
		if sample.TempMax != nil && sample.TempMin != nil {
			temps[m] = (*sample.TempMax + *sample.TempMin) / 2
			hasTemp[m] = true
			if refTemp < 0 {
				refTemp = m
			}
		}
		if sample.Precipitation != nil {
			precips[m] = *sample.Precipitation
			hasPrecip[m] = true
			if refPrecip < 0 {
				refPrecip = m
			}
		}
	}

	if refTemp < 0 {
		return DailyEnsembleForecast{}, b.totalFailure(results, fmt.Sprintf("no model delivered temperature for day %d", lead))
	}
	if refPrecip < 0 {
		return DailyEnsembleForecast{}, b.totalFailure(results, fmt.Sprintf("no model delivered precipitation for day %d", lead))
	}
	contributions := make([]ModelContribution, n)
	var ensembleTemp, ensemblePrecip float64
	for m, w := range b.weights {
		c := ModelContribution{Model: w.Name, Weight: w.Weight}
		if !hasTemp[m] {
			temps[m] = temps[refTemp] + symmetric(jitter, b.policy.BackfillTempJitter)
			c.TemperatureEstimated = true
		}
		if !hasPrecip[m] {
			precips[m] = precips[refPrecip] * uniform(jitter, b.policy.BackfillPrecipMin, b.policy.BackfillPrecipMax)
			c.PrecipitationEstimated = true
		}
		ensembleTemp += w.Weight * temps[m]
		ensemblePrecip += w.Weight * precips[m]
		contributions[m] = c
	}

	var spread float64
	for m := range temps {
		spread = math.Max(spread, math.Abs(temps[m]-ensembleTemp))
	}

	confidence := clamp(
		b.policy.ConfidenceBase-b.policy.LeadDayPenalty*float64(lead)-b.policy.SpreadPenalty*spread,
		b.policy.ConfidenceMin, b.policy.ConfidenceMax,
	)

	estimated := false
	for m := range contributions {
		contributions[m].Temperature = round1(temps[m])
		contributions[m].Precipitation = round1(precips[m])
		estimated = estimated || contributions[m].Estimated()
	}

	return DailyEnsembleForecast{
		Date:    date,
		LeadDay: lead,
		Models:  contributions,
		Temperature: TemperatureBand{
			Ensemble: round1(ensembleTemp),
			Min:      round1(ensembleTemp - spread - b.policy.BandMargin),
			Max:      round1(ensembleTemp + spread + b.policy.BandMargin),
		},
		Precipitation: round1(ensemblePrecip),
		Spread:        round1(spread),
		Confidence:    roundInt(confidence),
		Estimated:     estimated,
	}, nil
}

func (b *Blender) totalFailure(results []ModelResult, reason string) error {
	e := &TotalFailureError{Reason: reason}
	for m, w := range b.weights {
		e.Models = append(e.Models, w.Name)
		if results[m].Err != nil {
			e.Causes = append(e.Causes, results[m].Err)
		}
	}
	return e
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
