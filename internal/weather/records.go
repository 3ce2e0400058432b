package weather

import (
	"time"

	"github.com/google/uuid"
)

// Granularity of a forecast record.
type Granularity string

const (
	GranularityDaily  Granularity = "daily"
	GranularityHourly Granularity = "hourly"
)

// Model names used for records that are not a single upstream model.
const (
	RecordModelEnsemble = "ensemble"
	RecordModelNowcast  = "nowcast"
)

// ForecastRecord is one issued prediction in the shape the accuracy-tracking
// store expects. The actual and error fields are filled in later by that
// store and stay nil here.
type ForecastRecord struct {
	ID                     string      `json:"id"`
	IssueID                string      `json:"issueId"`
	LocationID             string      `json:"locationId"`
	Latitude               float64     `json:"lat"`
	Longitude              float64     `json:"lon"`
	IssuedAt               time.Time   `json:"issuedAt"`
	TargetTime             time.Time   `json:"targetTime"`
	Granularity            Granularity `json:"granularity"`
	LeadIndex              int         `json:"leadIndex"`
	Model                  string      `json:"model"`
	PredictedTemperature   float64     `json:"predictedTemperature"`
	PredictedPrecipitation float64     `json:"predictedPrecipitation"`
	Confidence             int         `json:"confidence"`
	Estimated              bool        `json:"estimated"`

	ActualTemperature   *float64 `json:"actualTemperature,omitempty"`
	ActualPrecipitation *float64 `json:"actualPrecipitation,omitempty"`
	Error               *float64 `json:"error,omitempty"`
	AbsError            *float64 `json:"absError,omitempty"`
	SquaredError        *float64 `json:"squaredError,omitempty"`
}

// EnsembleRecords flattens an ensemble response into one record per model
// per day plus one ensemble record per day.
func EnsembleRecords(resp EnsembleResponse) []ForecastRecord {
	records := make([]ForecastRecord, 0, len(resp.Forecast)*(len(resp.Models)+1))
	for _, day := range resp.Forecast {
		base := ForecastRecord{
			IssueID:     resp.ID,
			LocationID:  resp.Location.Key(),
			Latitude:    resp.Location.Latitude,
			Longitude:   resp.Location.Longitude,
			IssuedAt:    resp.IssuedAt,
			TargetTime:  day.Date,
			Granularity: GranularityDaily,
			LeadIndex:   day.LeadDay,
			Confidence:  day.Confidence,
		}
		for _, c := range day.Models {
			r := base
			r.ID = uuid.NewString()
			r.Model = c.Model
			r.PredictedTemperature = c.Temperature
			r.PredictedPrecipitation = c.Precipitation
			r.Estimated = c.Estimated()
			records = append(records, r)
		}
		r := base
		r.ID = uuid.NewString()
		r.Model = RecordModelEnsemble
		r.PredictedTemperature = day.Temperature.Ensemble
		r.PredictedPrecipitation = day.Precipitation
		r.Estimated = day.Estimated
		records = append(records, r)
	}
	return records
}

// NowcastRecords flattens a nowcast response into one record per hour.
func NowcastRecords(resp NowcastResponse) []ForecastRecord {
	records := make([]ForecastRecord, 0, len(resp.Nowcast))
	for _, h := range resp.Nowcast {
		records = append(records, ForecastRecord{
			ID:                     uuid.NewString(),
			IssueID:                resp.ID,
			LocationID:             resp.Location.Key(),
			Latitude:               resp.Location.Latitude,
			Longitude:              resp.Location.Longitude,
			IssuedAt:               resp.IssuedAt,
			TargetTime:             h.Time,
			Granularity:            GranularityHourly,
			LeadIndex:              h.LeadHour,
			Model:                  RecordModelNowcast,
			PredictedTemperature:   h.Temperature,
			PredictedPrecipitation: h.Precipitation,
			Confidence:             h.Confidence,
			Estimated:              h.Estimated,
		})
	}
	return records
}
