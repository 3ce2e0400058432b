package weather

import (
	"math"
	"time"
)

// Algorithm identifiers reported with every response.
var (
	EnsembleAlgorithm = AlgorithmInfo{Name: "weighted-multi-model-ensemble", Version: "1.0"}
	NowcastAlgorithm  = AlgorithmInfo{Name: "single-feed-nowcast", Version: "1.0"}
)

// EnsembleResponse is the caller-facing result of an ensemble request.
type EnsembleResponse struct {
	ID        string                  `json:"id"`
	Location  Location                `json:"location"`
	IssuedAt  time.Time               `json:"issuedAt"`
	Forecast  []DailyEnsembleForecast `json:"forecast"`
	Summary   EnsembleSummary         `json:"summary"`
	Models    []ModelInfo             `json:"models"`
	Algorithm AlgorithmInfo           `json:"algorithm"`
}

// NowcastResponse is the caller-facing result of a nowcast request.
type NowcastResponse struct {
	ID        string          `json:"id"`
	Location  Location        `json:"location"`
	IssuedAt  time.Time       `json:"issuedAt"`
	Source    string          `json:"source"`
	Nowcast   []HourlyNowcast `json:"nowcast"`
	Summary   NowcastSummary  `json:"summary"`
	Algorithm AlgorithmInfo   `json:"algorithm"`
}

// ModelInfos converts blend weights into provenance entries.
func ModelInfos(weights []ModelWeight) []ModelInfo {
	infos := make([]ModelInfo, 0, len(weights))
	for _, w := range weights {
		infos = append(infos, ModelInfo{
			Name:          w.Name,
			WeightPercent: round1(w.Weight * 100),
			Source:        w.Label,
		})
	}
	return infos
}

// AssembleEnsemble packages blended days with their summary and provenance.
func AssembleEnsemble(id string, loc Location, issuedAt time.Time, days []DailyEnsembleForecast,
	weights []ModelWeight, rainThreshold float64,
) EnsembleResponse {
	return EnsembleResponse{
		ID:        id,
		Location:  loc,
		IssuedAt:  issuedAt,
		Forecast:  days,
		Summary:   SummarizeEnsemble(days, rainThreshold),
		Models:    ModelInfos(weights),
		Algorithm: EnsembleAlgorithm,
	}
}

// AssembleNowcast packages nowcast hours with their summary.
func AssembleNowcast(id string, loc Location, issuedAt time.Time, source string, hours []HourlyNowcast,
	rainThreshold float64,
) NowcastResponse {
	return NowcastResponse{
		ID:        id,
		Location:  loc,
		IssuedAt:  issuedAt,
		Source:    source,
		Nowcast:   hours,
		Summary:   SummarizeNowcast(hours, rainThreshold),
		Algorithm: NowcastAlgorithm,
	}
}

// SummarizeEnsemble derives request-level aggregates from blended days.
// A day is rainy when its ensemble precipitation exceeds rainThreshold.
func SummarizeEnsemble(days []DailyEnsembleForecast, rainThreshold float64) EnsembleSummary {
	var summary EnsembleSummary
	if len(days) == 0 {
		return summary
	}

	var confidence, precip float64
	high, low := math.Inf(-1), math.Inf(1)
	for i, d := range days {
		confidence += float64(d.Confidence)
		precip += d.Precipitation
		high = math.Max(high, d.Temperature.Max)
		low = math.Min(low, d.Temperature.Min)
		if d.Estimated {
			summary.EstimatedDays++
		}
		if d.Precipitation > rainThreshold && !summary.RainExpected {
			summary.RainExpected = true
			start := i
			summary.RainStartsIn = &start
		}
	}
	summary.AverageConfidence = round1(confidence / float64(len(days)))
	summary.TotalPrecipitation = round1(precip)
	summary.TemperatureHigh = high
	summary.TemperatureLow = low
	return summary
}

// SummarizeNowcast derives request-level aggregates from nowcast hours.
// RainStartsIn is the lead hour of the first hour above rainThreshold.
func SummarizeNowcast(hours []HourlyNowcast, rainThreshold float64) NowcastSummary {
	var summary NowcastSummary
	if len(hours) == 0 {
		return summary
	}

	var confidence float64
	for i, h := range hours {
		confidence += float64(h.Confidence)
		summary.MaxPrecipitation = math.Max(summary.MaxPrecipitation, h.Precipitation)
		if h.Estimated {
			summary.EstimatedHours++
		}
		if h.Precipitation > rainThreshold && !summary.RainExpected {
			summary.RainExpected = true
			start := i
			summary.RainStartsIn = &start
		}
	}
	summary.AverageConfidence = round1(confidence / float64(len(hours)))
	return summary
}
