package providers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/hectormalot/omgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/ensemble-forecast/internal/weather"
)

var paris = weather.Location{ID: "paris", Latitude: 48.8566, Longitude: 2.3522}

func testConfig() HTTPClientConfig {
	return DefaultHTTPClientConfig(&http.Client{Timeout: 2 * time.Second})
}

func TestOpenMeteoFeed(t *testing.T) {
	t.Run("decodes daily series and keeps missing values", func(t *testing.T) {
		var query map[string]string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			query = map[string]string{
				"models":        r.URL.Query().Get("models"),
				"forecast_days": r.URL.Query().Get("forecast_days"),
				"timezone":      r.URL.Query().Get("timezone"),
				"daily":         r.URL.Query().Get("daily"),
			}
			_, _ = w.Write([]byte(`{"daily":{
				"time":["2026-10-18","2026-10-19","2026-10-20"],
				"temperature_2m_max":[21.0,22.5,null],
				"temperature_2m_min":[15.0,16.5,null],
				"precipitation_sum":[0.0,null,3.2]}}`))
		}))
		defer srv.Close()

		feed := NewOpenMeteoFeed(testConfig(), srv.URL, "ecmwf_ifs025")
		series, err := feed.FetchDaily(context.Background(), paris, 2)
		require.NoError(t, err)

		assert.Equal(t, "ecmwf_ifs025", query["models"])
		assert.Equal(t, "2", query["forecast_days"])
		assert.Equal(t, "GMT", query["timezone"])
		assert.Equal(t, "temperature_2m_max,temperature_2m_min,precipitation_sum", query["daily"])

		require.Len(t, series.Daily, 2)
		assert.Equal(t, "ecmwf_ifs025", series.Model)
		assert.Equal(t, time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC), series.Daily[0].Date)
		assert.InDelta(t, 21.0, *series.Daily[0].TempMax, 1e-9)
		assert.InDelta(t, 0.0, *series.Daily[0].Precipitation, 1e-9)
		assert.Nil(t, series.Daily[1].Precipitation)
	})

	t.Run("server errors are unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		_, err := NewOpenMeteoFeed(testConfig(), srv.URL, "gfs_seamless").FetchDaily(context.Background(), paris, 3)
		var fe *weather.FeedError
		require.True(t, errors.As(err, &fe))
		assert.Equal(t, weather.FailureUnreachable, fe.Kind)
		assert.Equal(t, "gfs_seamless", fe.Model)
	})

	t.Run("undecodable bodies are malformed", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`<html>maintenance</html>`))
		}))
		defer srv.Close()

		_, err := NewOpenMeteoFeed(testConfig(), srv.URL, "icon_seamless").FetchDaily(context.Background(), paris, 3)
		var fe *weather.FeedError
		require.True(t, errors.As(err, &fe))
		assert.Equal(t, weather.FailureMalformed, fe.Kind)
	})

	t.Run("empty daily block is malformed", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"daily":{}}`))
		}))
		defer srv.Close()

		_, err := NewOpenMeteoFeed(testConfig(), srv.URL, "icon_seamless").FetchDaily(context.Background(), paris, 3)
		var fe *weather.FeedError
		require.True(t, errors.As(err, &fe))
		assert.Equal(t, weather.FailureMalformed, fe.Kind)
	})

	t.Run("deadline is a timeout", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(release)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err := NewOpenMeteoFeed(testConfig(), srv.URL, "ecmwf_ifs025").FetchDaily(ctx, paris, 3)
		var fe *weather.FeedError
		require.True(t, errors.As(err, &fe))
		assert.Equal(t, weather.FailureTimeout, fe.Kind)
	})
}

func TestOpenMeteoFeedRetries(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"daily":{"time":["2026-10-18"],"temperature_2m_max":[20],"temperature_2m_min":[10],"precipitation_sum":[1]}}`))
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.Backoff.MaxRetries = 1
	cfg.Backoff.InitialInterval = time.Millisecond

	series, err := NewOpenMeteoFeed(cfg, srv.URL, "ecmwf_ifs025").FetchDaily(context.Background(), paris, 1)
	require.NoError(t, err)
	assert.Len(t, series.Daily, 1)
	assert.Equal(t, 2, calls)
}

func TestWeatherAPIFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.URL.Query().Get("key"))
		assert.Equal(t, "48.8566,2.3522", r.URL.Query().Get("q"))
		assert.Equal(t, "2", r.URL.Query().Get("days"))
		_, _ = w.Write([]byte(`{"forecast":{"forecastday":[
			{"date":"2026-10-18","day":{"maxtemp_c":19.1,"mintemp_c":11.3,"totalprecip_mm":0.4}},
			{"date":"2026-10-19","day":{"maxtemp_c":17.0,"mintemp_c":9.0}}]}}`))
	}))
	defer srv.Close()

	feed := NewWeatherAPIFeed(testConfig(), "secret", "weatherapi").WithBaseURL(srv.URL)
	series, err := feed.FetchDaily(context.Background(), paris, 2)
	require.NoError(t, err)
	require.Len(t, series.Daily, 2)
	assert.InDelta(t, 19.1, *series.Daily[0].TempMax, 1e-9)
	assert.InDelta(t, 0.4, *series.Daily[0].Precipitation, 1e-9)
	assert.Nil(t, series.Daily[1].Precipitation)

	t.Run("missing key fails without a call", func(t *testing.T) {
		_, err := NewWeatherAPIFeed(testConfig(), "", "weatherapi").FetchDaily(context.Background(), paris, 2)
		var fe *weather.FeedError
		require.True(t, errors.As(err, &fe))
		assert.Equal(t, weather.FailureUnreachable, fe.Kind)
	})
}

func TestOpenWeatherFeedFoldsIntoDays(t *testing.T) {
	day := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)
	next := day.AddDate(0, 0, 1)

	entries := []string{
		// Only the last slot of the first day is left, so that day is dropped.
		`{"dt":` + unix(day.Add(21*time.Hour)) + `,"main":{"temp_min":30.0,"temp_max":31.0},"rain":{"3h":9.0}}`,
	}
	for i := 0; i < slotsPerDay; i++ {
		rain := ""
		if i == 4 {
			rain = `,"rain":{"3h":0.5}`
		}
		if i == 5 {
			rain = `,"snow":{"3h":1.0}`
		}
		entries = append(entries, `{"dt":`+unix(next.Add(time.Duration(3*i)*time.Hour))+
			`,"main":{"temp_min":`+strconv.Itoa(10+i)+`,"temp_max":`+strconv.Itoa(12+i)+`}`+rain+`}`)
	}
	entries = append(entries, `{"dt":`+unix(next.Add(27*time.Hour))+`,"main":{"temp_min":8.0,"temp_max":10.0}}`)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "metric", r.URL.Query().Get("units"))
		_, _ = w.Write([]byte(`{"list":[` + strings.Join(entries, ",") + `]}`))
	}))
	defer srv.Close()

	feed := NewOpenWeatherFeed(testConfig(), "secret", "owm").WithBaseURL(srv.URL)
	series, err := feed.FetchDaily(context.Background(), paris, 5)
	require.NoError(t, err)
	require.Len(t, series.Daily, 2)

	assert.Equal(t, next, series.Daily[0].Date)
	assert.InDelta(t, 19.0, *series.Daily[0].TempMax, 1e-9)
	assert.InDelta(t, 10.0, *series.Daily[0].TempMin, 1e-9)
	assert.InDelta(t, 1.5, *series.Daily[0].Precipitation, 1e-9)
	assert.Equal(t, next.AddDate(0, 0, 1), series.Daily[1].Date)
	assert.InDelta(t, 0.0, *series.Daily[1].Precipitation, 1e-9)
}

func TestOpenWeatherFeedWithoutWholeDay(t *testing.T) {
	day := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"list":[
			{"dt":` + unix(day.Add(18*time.Hour)) + `,"main":{"temp_min":12.0,"temp_max":14.0}},
			{"dt":` + unix(day.Add(21*time.Hour)) + `,"main":{"temp_min":11.0,"temp_max":13.0}}]}`))
	}))
	defer srv.Close()

	_, err := NewOpenWeatherFeed(testConfig(), "secret", "owm").WithBaseURL(srv.URL).
		FetchDaily(context.Background(), paris, 5)
	var fe *weather.FeedError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, weather.FailureMalformed, fe.Kind)
}

// openMeteoHourly serves a canned hourly payload in the Open-Meteo format and
// returns an omgo client pointed at it.
func openMeteoHourly(t *testing.T, status int, body string, query *url.Values) omgo.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if query != nil {
			*query = r.URL.Query()
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	return omgo.Client{URL: srv.URL, UserAgent: "ensemble-forecast-test", Client: srv.Client()}
}

func TestNowcastFeed(t *testing.T) {
	midnight := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)
	now := func() time.Time { return midnight.Add(2*time.Hour + 20*time.Minute) }

	const payload = `{"latitude":48.86,"longitude":2.35,"hourly":{
		"time":["2026-10-18T00:00","2026-10-18T01:00","2026-10-18T02:00","2026-10-18T03:00","2026-10-18T04:00","2026-10-18T05:00"],
		"temperature_2m":[10,11,12,13,14,15],
		"precipitation":[0,0,0,0.2,1.4,0],
		"weather_code":[0,0,1,3,61,2]}}`

	t.Run("series starts at the current hour", func(t *testing.T) {
		var query url.Values
		feed := newNowcastFeed(openMeteoHourly(t, http.StatusOK, payload, &query), testConfig(), now)

		series, err := feed.FetchHourly(context.Background(), paris, 3)
		require.NoError(t, err)
		require.Len(t, series.Hourly, 3)
		assert.Equal(t, midnight.Add(2*time.Hour), series.Hourly[0].Time)
		assert.InDelta(t, 12.0, *series.Hourly[0].Temperature, 1e-9)
		assert.InDelta(t, 1.4, *series.Hourly[2].Precipitation, 1e-9)
		assert.Nil(t, series.Hourly[0].WindSpeed)
		assert.Equal(t, "GMT", query.Get("timezone"))
		assert.ElementsMatch(t, hourlyMetrics, strings.Split(query.Get("hourly"), ","))
	})

	t.Run("null values stay missing", func(t *testing.T) {
		const withNulls = `{"hourly":{
			"time":["2026-10-18T02:00","2026-10-18T03:00"],
			"temperature_2m":[12.5,null],
			"precipitation":[null,null],
			"weather_code":[null,95]}}`
		feed := newNowcastFeed(openMeteoHourly(t, http.StatusOK, withNulls, nil), testConfig(), now)

		series, err := feed.FetchHourly(context.Background(), paris, 2)
		require.NoError(t, err)
		require.Len(t, series.Hourly, 2)
		assert.InDelta(t, 12.5, *series.Hourly[0].Temperature, 1e-9)
		assert.Nil(t, series.Hourly[0].Precipitation)
		assert.Nil(t, series.Hourly[0].WeatherCode)
		assert.Nil(t, series.Hourly[1].Temperature)
		assert.Nil(t, series.Hourly[1].Precipitation)
		assert.InDelta(t, 95.0, *series.Hourly[1].WeatherCode, 1e-9)
	})

	t.Run("upstream errors are unreachable", func(t *testing.T) {
		feed := newNowcastFeed(openMeteoHourly(t, http.StatusBadGateway, "bad gateway", nil), testConfig(), now)
		_, err := feed.FetchHourly(context.Background(), paris, 3)
		var fe *weather.FeedError
		require.True(t, errors.As(err, &fe))
		assert.Equal(t, weather.FailureUnreachable, fe.Kind)
	})

	t.Run("stale data is malformed", func(t *testing.T) {
		const stale = `{"hourly":{"time":["2026-10-18T00:00","2026-10-18T01:00"],"temperature_2m":[10,11]}}`
		feed := newNowcastFeed(openMeteoHourly(t, http.StatusOK, stale, nil), testConfig(), now)
		_, err := feed.FetchHourly(context.Background(), paris, 3)
		var fe *weather.FeedError
		require.True(t, errors.As(err, &fe))
		assert.Equal(t, weather.FailureMalformed, fe.Kind)
	})

	t.Run("undecodable body is malformed", func(t *testing.T) {
		feed := newNowcastFeed(openMeteoHourly(t, http.StatusOK, `{"hourly":{"time":"soon"}}`, nil), testConfig(), now)
		_, err := feed.FetchHourly(context.Background(), paris, 3)
		var fe *weather.FeedError
		require.True(t, errors.As(err, &fe))
		assert.Equal(t, weather.FailureMalformed, fe.Kind)
	})
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want weather.FailureKind
	}{
		{"deadline", context.DeadlineExceeded, weather.FailureTimeout},
		{"client timeout", errors.New("Get \"x\": net/http: request canceled (Client.Timeout exceeded while awaiting headers)"), weather.FailureTimeout},
		{"limiter", errors.New("rate: Wait(n=1) would exceed context deadline"), weather.FailureTimeout},
		{"refused", errors.New("dial tcp: connection refused"), weather.FailureUnreachable},
		{"circuit", errCircuitOpen, weather.FailureUnreachable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var fe *weather.FeedError
			require.True(t, errors.As(classify("m", tt.err), &fe))
			assert.Equal(t, tt.want, fe.Kind)
		})
	}
}

func unix(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}
