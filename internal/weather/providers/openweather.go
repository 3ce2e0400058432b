package providers

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/i474232898/ensemble-forecast/internal/weather"
)

const defaultOpenWeatherURL = "https://api.openweathermap.org/data/2.5/forecast"

// slotsPerDay is the number of 3 hour entries covering a whole UTC day.
const slotsPerDay = 8

// OpenWeatherFeed serves OpenWeatherMap's 5 day / 3 hour forecast folded
// into UTC days. The list starts at the next 3 hour slot, so an incomplete
// first day is dropped rather than reported with a partial max and min.
// Horizons beyond five days come back short.
type OpenWeatherFeed struct {
	model    string
	apiKey   string
	baseURL  string
	upstream *upstream
}

func NewOpenWeatherFeed(cfg HTTPClientConfig, apiKey, model string) *OpenWeatherFeed {
	return &OpenWeatherFeed{
		model:    model,
		apiKey:   apiKey,
		baseURL:  defaultOpenWeatherURL,
		upstream: newUpstream("openweathermap", cfg),
	}
}

// WithBaseURL points the feed at another endpoint.
func (f *OpenWeatherFeed) WithBaseURL(u string) *OpenWeatherFeed {
	f.baseURL = u
	return f
}

func (f *OpenWeatherFeed) Model() string {
	return f.model
}

type openWeatherForecast struct {
	List []struct {
		Dt   int64 `json:"dt"`
		Main struct {
			TempMin *float64 `json:"temp_min"`
			TempMax *float64 `json:"temp_max"`
		} `json:"main"`
		Rain struct {
			ThreeH float64 `json:"3h"`
		} `json:"rain"`
		Snow struct {
			ThreeH float64 `json:"3h"`
		} `json:"snow"`
	} `json:"list"`
}

func (f *OpenWeatherFeed) FetchDaily(ctx context.Context, loc weather.Location, days int) (*weather.ModelSeries, error) {
	if f.apiKey == "" {
		return nil, weather.NewFeedError(f.model, weather.FailureUnreachable, errors.New("openweather api key is not configured"))
	}

	buildRequest := func(ctx context.Context) (*http.Request, error) {
		values := url.Values{}
		values.Set("appid", f.apiKey)
		values.Set("units", "metric")
		values.Set("lat", strconv.FormatFloat(loc.Latitude, 'f', 4, 64))
		values.Set("lon", strconv.FormatFloat(loc.Longitude, 'f', 4, 64))

		return http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"?"+values.Encode(), nil)
	}

	var payload openWeatherForecast
	if err := f.upstream.getJSON(ctx, f.model, buildRequest, &payload); err != nil {
		return nil, err
	}
	if len(payload.List) == 0 {
		return nil, weather.NewFeedError(f.model, weather.FailureMalformed, errors.New("response has no forecast entries"))
	}

	type dayAgg struct {
		date     time.Time
		max, min float64
		precip   float64
		temps    bool
		slots    int
	}
	var agg []*dayAgg
	for _, item := range payload.List {
		ts := time.Unix(item.Dt, 0).UTC()
		date := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
		if len(agg) == 0 || !agg[len(agg)-1].date.Equal(date) {
			agg = append(agg, &dayAgg{date: date, max: math.Inf(-1), min: math.Inf(1)})
		}
		d := agg[len(agg)-1]
		d.slots++
		if item.Main.TempMax != nil && item.Main.TempMin != nil {
			d.max = math.Max(d.max, *item.Main.TempMax)
			d.min = math.Min(d.min, *item.Main.TempMin)
			d.temps = true
		}
		d.precip += item.Rain.ThreeH + item.Snow.ThreeH
	}

	if agg[0].slots < slotsPerDay {
		agg = agg[1:]
	}
	if len(agg) == 0 {
		return nil, weather.NewFeedError(f.model, weather.FailureMalformed, errors.New("response covers no whole day"))
	}

	samples := make([]weather.DailySample, 0, len(agg))
	for _, d := range agg {
		s := weather.DailySample{Date: d.date, Precipitation: weather.Value(d.precip)}
		if d.temps {
			s.TempMax = weather.Value(d.max)
			s.TempMin = weather.Value(d.min)
		}
		samples = append(samples, s)
	}

	return &weather.ModelSeries{
		Model:    f.model,
		Source:   "openweathermap",
		Location: loc,
		Daily:    trimDaily(samples, days),
	}, nil
}
