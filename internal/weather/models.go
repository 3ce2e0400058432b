package weather

import (
	"fmt"
	"time"
)

// Condition represents a normalized near-term weather condition.
// Conditions are ordered by severity.
type Condition string

const (
	ConditionClear        Condition = "clear"
	ConditionPartlyCloudy Condition = "partly_cloudy"
	ConditionCloudy       Condition = "cloudy"
	ConditionFog          Condition = "fog"
	ConditionDrizzle      Condition = "drizzle"
	ConditionRain         Condition = "rain"
	ConditionHeavyRain    Condition = "heavy_rain"
	ConditionThunderstorm Condition = "thunderstorm"
)

// Conditions lists every condition from least to most severe.
var Conditions = []Condition{
	ConditionClear,
	ConditionPartlyCloudy,
	ConditionCloudy,
	ConditionFog,
	ConditionDrizzle,
	ConditionRain,
	ConditionHeavyRain,
	ConditionThunderstorm,
}

// Severity returns the position of c in Conditions, or -1 if c is unknown.
func (c Condition) Severity() int {
	for i, known := range Conditions {
		if known == c {
			return i
		}
	}
	return -1
}

// Location is a point the caller asks a forecast for.
type Location struct {
	ID        string  `json:"id"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

// Key returns a canonical string key for indexing this location in stores.
func (l Location) Key() string {
	if l.ID != "" {
		return l.ID
	}
	return fmt.Sprintf("%.4f,%.4f", l.Latitude, l.Longitude)
}

// Validate reports whether the coordinates are on the globe.
func (l Location) Validate() error {
	if l.Latitude < -90 || l.Latitude > 90 {
		return invalidRequest("latitude %.4f out of range [-90,90]", l.Latitude)
	}
	if l.Longitude < -180 || l.Longitude > 180 {
		return invalidRequest("longitude %.4f out of range [-180,180]", l.Longitude)
	}
	return nil
}

// DailySample is one model's output for one lead day. Nil fields were not
// delivered by the upstream.
type DailySample struct {
	Date          time.Time
	TempMax       *float64
	TempMin       *float64
	Precipitation *float64
}

// HourlySample is one feed's output for one lead hour.
type HourlySample struct {
	Time                     time.Time
	Temperature              *float64
	Precipitation            *float64
	PrecipitationProbability *float64
	WeatherCode              *float64
	WindSpeed                *float64
	WindDirection            *float64
}

// ModelSeries is the raw output of a single upstream model, indexed by lead
// offset. It is read-only once handed to the Blender or Nowcaster.
type ModelSeries struct {
	Model    string
	Source   string
	Location Location
	Daily    []DailySample
	Hourly   []HourlySample
}

// DayOn returns the sample dated on the UTC calendar day of date. A sample
// without a date is taken to sit at its position, so lead is used for those.
func (s *ModelSeries) DayOn(date time.Time, lead int) (DailySample, bool) {
	if s == nil {
		return DailySample{}, false
	}
	for i, sample := range s.Daily {
		if sample.Date.IsZero() {
			if i == lead {
				return sample, true
			}
			continue
		}
		if sameDay(sample.Date, date) {
			return sample, true
		}
	}
	return DailySample{}, false
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// Hour returns the sample for lead hour i.
func (s *ModelSeries) Hour(i int) (HourlySample, bool) {
	if s == nil || i < 0 || i >= len(s.Hourly) {
		return HourlySample{}, false
	}
	return s.Hourly[i], true
}

// Value returns a pointer to v. Feeds use it for delivered metrics.
func Value(v float64) *float64 {
	return &v
}

// ModelContribution is one model's input to a blended day, kept for transparency.
type ModelContribution struct {
	Model                  string  `json:"model"`
	Weight                 float64 `json:"weight"`
	Temperature            float64 `json:"temperature"`
	Precipitation          float64 `json:"precipitation"`
	TemperatureEstimated   bool    `json:"temperatureEstimated,omitempty"`
	PrecipitationEstimated bool    `json:"precipitationEstimated,omitempty"`
}

// Estimated reports whether any metric of this contribution was back-filled.
func (c ModelContribution) Estimated() bool {
	return c.TemperatureEstimated || c.PrecipitationEstimated
}

// TemperatureBand is the ensemble temperature with its uncertainty band.
type TemperatureBand struct {
	Ensemble float64 `json:"ensemble"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
}

// DailyEnsembleForecast is the blended forecast for one lead day.
type DailyEnsembleForecast struct {
	Date          time.Time           `json:"date"`
	LeadDay       int                 `json:"leadDay"`
	Models        []ModelContribution `json:"models"`
	Temperature   TemperatureBand     `json:"temperature"`
	Precipitation float64             `json:"precipitation"`
	Spread        float64             `json:"spread"`
	Confidence    int                 `json:"confidence"`
	Estimated     bool                `json:"estimated"`
}

// HourlyNowcast is the short-term forecast for one lead hour.
type HourlyNowcast struct {
	Time                     time.Time `json:"time"`
	LeadHour                 int       `json:"leadHour"`
	Temperature              float64   `json:"temperature"`
	Precipitation            float64   `json:"precipitation"`
	PrecipitationProbability int       `json:"precipitationProbability"`
	WeatherCode              int       `json:"weatherCode"`
	Condition                Condition `json:"condition"`
	WindSpeed                float64   `json:"windSpeed"`
	WindDirection            int       `json:"windDirection"`
	Confidence               int       `json:"confidence"`
	Estimated                bool      `json:"estimated"`
}

// EnsembleSummary aggregates a blended forecast.
type EnsembleSummary struct {
	AverageConfidence  float64 `json:"averageConfidence"`
	TotalPrecipitation float64 `json:"totalPrecipitation"`
	RainExpected       bool    `json:"rainExpected"`
	RainStartsIn       *int    `json:"rainStartsIn,omitempty"`
	TemperatureHigh    float64 `json:"temperatureHigh"`
	TemperatureLow     float64 `json:"temperatureLow"`
	EstimatedDays      int     `json:"estimatedDays"`
}

// NowcastSummary aggregates a nowcast.
type NowcastSummary struct {
	AverageConfidence float64 `json:"averageConfidence"`
	MaxPrecipitation  float64 `json:"maxPrecipitation"`
	RainExpected      bool    `json:"rainExpected"`
	RainStartsIn      *int    `json:"rainStartsIn,omitempty"`
	EstimatedHours    int     `json:"estimatedHours"`
}

// ModelInfo describes one blended model for provenance.
type ModelInfo struct {
	Name          string  `json:"name"`
	WeightPercent float64 `json:"weightPercent"`
	Source        string  `json:"source"`
}

// AlgorithmInfo names the algorithm that produced a response.
type AlgorithmInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}
