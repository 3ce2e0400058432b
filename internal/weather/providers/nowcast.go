package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hectormalot/omgo"

	"github.com/i474232898/ensemble-forecast/internal/weather"
)

// Open-Meteo hourly metrics read by the nowcast feed.
const (
	metricTemperature   = "temperature_2m"
	metricPrecipitation = "precipitation"
	metricPrecipProb    = "precipitation_probability"
	metricWeatherCode   = "weather_code"
	metricWindSpeed     = "wind_speed_10m"
	metricWindDirection = "wind_direction_10m"
)

var hourlyMetrics = []string{
	metricTemperature, metricPrecipitation, metricPrecipProb,
	metricWeatherCode, metricWindSpeed, metricWindDirection,
}

// forecaster is the part of omgo.Client the nowcast feed uses. The raw body
// is decoded here so that null hourly values stay missing.
type forecaster interface {
	Get(ctx context.Context, loc omgo.Location, opts *omgo.Options) ([]byte, error)
}

// NowcastFeed is the single hourly feed behind the nowcast, served by the
// Open-Meteo best-match model.
type NowcastFeed struct {
	name     string
	client   forecaster
	upstream *upstream
	now      func() time.Time
}

// NewNowcastFeed returns a nowcast feed backed by the public Open-Meteo API.
func NewNowcastFeed(cfg HTTPClientConfig) (*NowcastFeed, error) {
	client, err := omgo.NewClient()
	if err != nil {
		return nil, fmt.Errorf("failed to create open-meteo client: %w", err)
	}
	if cfg.Client != nil {
		client.Client = cfg.Client
	}
	return newNowcastFeed(client, cfg, time.Now), nil
}

func newNowcastFeed(client forecaster, cfg HTTPClientConfig, now func() time.Time) *NowcastFeed {
	return &NowcastFeed{
		name:     "open-meteo",
		client:   client,
		upstream: newUpstream("openmeteo-hourly", cfg),
		now:      now,
	}
}

func (f *NowcastFeed) Name() string {
	return f.name
}

// FetchHourly returns up to hours samples starting at the current UTC hour.
func (f *NowcastFeed) FetchHourly(ctx context.Context, loc weather.Location, hours int) (*weather.ModelSeries, error) {
	location, err := omgo.NewLocation(loc.Latitude, loc.Longitude)
	if err != nil {
		return nil, weather.NewFeedError(f.name, weather.FailureUnreachable, err)
	}
	opts := &omgo.Options{
		Timezone:          "GMT",
		TemperatureUnit:   "celsius",
		PrecipitationUnit: "mm",
		WindspeedUnit:     "kmh",
		HourlyMetrics:     hourlyMetrics,
	}

	if err := f.upstream.limiter.Wait(ctx); err != nil {
		return nil, classify(f.name, err)
	}
	result, err := f.upstream.circuit.Execute(func() (interface{}, error) {
		return f.client.Get(ctx, location, opts)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, classify(f.name, ctx.Err())
		}
		return nil, classify(f.name, err)
	}
	body, _ := result.([]byte)

	hourly, err := decodeHourly(body)
	if err != nil {
		return nil, weather.NewFeedError(f.name, weather.FailureMalformed, err)
	}

	current := f.now().UTC().Truncate(time.Hour)
	first := -1
	for i, t := range hourly.times {
		if !t.Before(current) {
			first = i
			break
		}
	}
	if first < 0 {
		return nil, weather.NewFeedError(f.name, weather.FailureMalformed,
			fmt.Errorf("no hourly data at or after %s", current.Format(time.RFC3339)))
	}

	samples := make([]weather.HourlySample, 0, hours)
	for i := first; i < len(hourly.times) && len(samples) < hours; i++ {
		samples = append(samples, weather.HourlySample{
			Time:                     hourly.times[i],
			Temperature:              hourly.at(metricTemperature, i),
			Precipitation:            hourly.at(metricPrecipitation, i),
			PrecipitationProbability: hourly.at(metricPrecipProb, i),
			WeatherCode:              hourly.at(metricWeatherCode, i),
			WindSpeed:                hourly.at(metricWindSpeed, i),
			WindDirection:            hourly.at(metricWindDirection, i),
		})
	}

	return &weather.ModelSeries{
		Model:    f.name,
		Source:   "open-meteo",
		Location: loc,
		Hourly:   samples,
	}, nil
}

// hourlyBlock is the hourly section of a forecast with nulls kept as nil.
type hourlyBlock struct {
	times   []time.Time
	metrics map[string][]*float64
}

func decodeHourly(body []byte) (*hourlyBlock, error) {
	var raw omgo.ForecastJSON
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode forecast: %w", err)
	}
	timesJSON, ok := raw.HourlyMetrics["time"]
	if !ok {
		return nil, errors.New("response has no hourly times")
	}
	var apiTimes []omgo.ApiTime
	if err := json.Unmarshal(timesJSON, &apiTimes); err != nil {
		return nil, fmt.Errorf("decode hourly times: %w", err)
	}

	block := &hourlyBlock{
		times:   make([]time.Time, 0, len(apiTimes)),
		metrics: make(map[string][]*float64, len(raw.HourlyMetrics)),
	}
	for _, t := range apiTimes {
		block.times = append(block.times, t.UTC())
	}
	for name, values := range raw.HourlyMetrics {
		if name == "time" {
			continue
		}
		var vals []*float64
		if err := json.Unmarshal(values, &vals); err != nil {
			return nil, fmt.Errorf("decode hourly %s: %w", name, err)
		}
		block.metrics[name] = vals
	}
	return block, nil
}

// at returns the value of a metric at index i, or nil when it is null or absent.
func (b *hourlyBlock) at(name string, i int) *float64 {
	vals, ok := b.metrics[name]
	if !ok || i >= len(vals) {
		return nil
	}
	return vals[i]
}
