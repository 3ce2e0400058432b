package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/i474232898/ensemble-forecast/internal/weather"
)

const defaultOpenMeteoURL = "https://api.open-meteo.com/v1/forecast"

// OpenMeteoFeed serves the daily forecast of one NWP model hosted by
// Open-Meteo (e.g. ecmwf_ifs025, gfs_seamless, icon_seamless).
type OpenMeteoFeed struct {
	model    string
	baseURL  string
	upstream *upstream
}

// NewOpenMeteoFeed returns a feed for model. An empty baseURL selects the
// public Open-Meteo endpoint.
func NewOpenMeteoFeed(cfg HTTPClientConfig, baseURL, model string) *OpenMeteoFeed {
	if baseURL == "" {
		baseURL = defaultOpenMeteoURL
	}
	return &OpenMeteoFeed{
		model:    model,
		baseURL:  baseURL,
		upstream: newUpstream("openmeteo-"+model, cfg),
	}
}

func (f *OpenMeteoFeed) Model() string {
	return f.model
}

type openMeteoDaily struct {
	Daily struct {
		Time             []string   `json:"time"`
		TemperatureMax   []*float64 `json:"temperature_2m_max"`
		TemperatureMin   []*float64 `json:"temperature_2m_min"`
		PrecipitationSum []*float64 `json:"precipitation_sum"`
	} `json:"daily"`
}

func (f *OpenMeteoFeed) FetchDaily(ctx context.Context, loc weather.Location, days int) (*weather.ModelSeries, error) {
	buildRequest := func(ctx context.Context) (*http.Request, error) {
		values := url.Values{}
		values.Set("latitude", strconv.FormatFloat(loc.Latitude, 'f', 4, 64))
		values.Set("longitude", strconv.FormatFloat(loc.Longitude, 'f', 4, 64))
		values.Set("daily", "temperature_2m_max,temperature_2m_min,precipitation_sum")
		values.Set("models", f.model)
		values.Set("forecast_days", strconv.Itoa(days))
		values.Set("timezone", "GMT")

		return http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"?"+values.Encode(), nil)
	}

	var payload openMeteoDaily
	if err := f.upstream.getJSON(ctx, f.model, buildRequest, &payload); err != nil {
		return nil, err
	}
	if len(payload.Daily.Time) == 0 {
		return nil, weather.NewFeedError(f.model, weather.FailureMalformed, errors.New("response has no daily data"))
	}

	samples := make([]weather.DailySample, 0, len(payload.Daily.Time))
	for i, day := range payload.Daily.Time {
		date, err := time.Parse(time.DateOnly, day)
		if err != nil {
			return nil, weather.NewFeedError(f.model, weather.FailureMalformed, fmt.Errorf("parse date %q: %w", day, err))
		}
		samples = append(samples, weather.DailySample{
			Date:          date,
			TempMax:       at(payload.Daily.TemperatureMax, i),
			TempMin:       at(payload.Daily.TemperatureMin, i),
			Precipitation: at(payload.Daily.PrecipitationSum, i),
		})
	}

	return &weather.ModelSeries{
		Model:    f.model,
		Source:   "open-meteo",
		Location: loc,
		Daily:    trimDaily(samples, days),
	}, nil
}

// at returns vals[i], or nil when the upstream sent a shorter array.
func at(vals []*float64, i int) *float64 {
	if i < len(vals) {
		return vals[i]
	}
	return nil
}
