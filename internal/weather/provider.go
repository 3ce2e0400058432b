package weather

import (
	"context"
	"time"
)

// ModelFeed abstracts one upstream NWP model's daily forecast
// (e.g. ECMWF IFS via Open-Meteo, WeatherAPI.com, OpenWeatherMap).
//
// FetchDaily returns at most days samples starting at the current day. A
// shorter series means the trailing days failed; nil sample fields mean the
// upstream omitted that metric.
type ModelFeed interface {
	Model() string
	FetchDaily(ctx context.Context, loc Location, days int) (*ModelSeries, error)
}

// HourlyFeed abstracts the single short-horizon feed behind the nowcast.
// Hour 0 of the returned series is the current hour.
type HourlyFeed interface {
	Name() string
	FetchHourly(ctx context.Context, loc Location, hours int) (*ModelSeries, error)
}

// Store is the contract forecast-record sinks (memory, redis, sqlite) must satisfy.
type Store interface {
	SaveRecords(ctx context.Context, records []ForecastRecord) error
	Records(ctx context.Context, locationID string, from, to time.Time) ([]ForecastRecord, error)
}
