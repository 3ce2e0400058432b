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

const defaultWeatherAPIURL = "https://api.weatherapi.com/v1/forecast.json"

// WeatherAPIFeed serves the daily forecast of WeatherAPI.com as one model.
type WeatherAPIFeed struct {
	model    string
	apiKey   string
	baseURL  string
	upstream *upstream
}

func NewWeatherAPIFeed(cfg HTTPClientConfig, apiKey, model string) *WeatherAPIFeed {
	return &WeatherAPIFeed{
		model:    model,
		apiKey:   apiKey,
		baseURL:  defaultWeatherAPIURL,
		upstream: newUpstream("weatherapi", cfg),
	}
}

// WithBaseURL points the feed at another endpoint.
func (f *WeatherAPIFeed) WithBaseURL(u string) *WeatherAPIFeed {
	f.baseURL = u
	return f
}

func (f *WeatherAPIFeed) Model() string {
	return f.model
}

type weatherAPIForecast struct {
	Forecast struct {
		ForecastDay []struct {
			Date string `json:"date"`
			Day  struct {
				MaxTempC     *float64 `json:"maxtemp_c"`
				MinTempC     *float64 `json:"mintemp_c"`
				TotalPrecipM *float64 `json:"totalprecip_mm"`
			} `json:"day"`
		} `json:"forecastday"`
	} `json:"forecast"`
}

func (f *WeatherAPIFeed) FetchDaily(ctx context.Context, loc weather.Location, days int) (*weather.ModelSeries, error) {
	if f.apiKey == "" {
		return nil, weather.NewFeedError(f.model, weather.FailureUnreachable, errors.New("weatherapi api key is not configured"))
	}

	buildRequest := func(ctx context.Context) (*http.Request, error) {
		values := url.Values{}
		values.Set("key", f.apiKey)
		values.Set("q", fmt.Sprintf("%.4f,%.4f", loc.Latitude, loc.Longitude))
		values.Set("days", strconv.Itoa(days))
		values.Set("aqi", "no")
		values.Set("alerts", "no")

		return http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"?"+values.Encode(), nil)
	}

	var payload weatherAPIForecast
	if err := f.upstream.getJSON(ctx, f.model, buildRequest, &payload); err != nil {
		return nil, err
	}
	if len(payload.Forecast.ForecastDay) == 0 {
		return nil, weather.NewFeedError(f.model, weather.FailureMalformed, errors.New("response has no forecast days"))
	}

	samples := make([]weather.DailySample, 0, len(payload.Forecast.ForecastDay))
	for _, fd := range payload.Forecast.ForecastDay {
		date, err := time.Parse(time.DateOnly, fd.Date)
		if err != nil {
			return nil, weather.NewFeedError(f.model, weather.FailureMalformed, fmt.Errorf("parse date %q: %w", fd.Date, err))
		}
		samples = append(samples, weather.DailySample{
			Date:          date,
			TempMax:       fd.Day.MaxTempC,
			TempMin:       fd.Day.MinTempC,
			Precipitation: fd.Day.TotalPrecipM,
		})
	}

	return &weather.ModelSeries{
		Model:    f.model,
		Source:   "weatherapi",
		Location: loc,
		Daily:    trimDaily(samples, days),
	}, nil
}
