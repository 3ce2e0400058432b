package weather

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hourlySeries(n int, fill func(i int, s *HourlySample)) *ModelSeries {
	base := issuedAt.Truncate(time.Hour)
	s := &ModelSeries{Model: "open-meteo"}
	for i := 0; i < n; i++ {
		h := HourlySample{
			Time:                     base.Add(time.Duration(i) * time.Hour),
			Temperature:              Value(10 + float64(i)),
			Precipitation:            Value(0),
			PrecipitationProbability: Value(10),
			WeatherCode:              Value(1),
			WindSpeed:                Value(12.34),
			WindDirection:            Value(270),
		}
		if fill != nil {
			fill(i, &h)
		}
		s.Hourly = append(s.Hourly, h)
	}
	return s
}

func newTestNowcaster(t *testing.T) *Nowcaster {
	t.Helper()
	n, err := NewNowcaster(DefaultNowcastPolicy())
	require.NoError(t, err)
	return n
}

func TestNowcastHours(t *testing.T) {
	n := newTestNowcaster(t)
	series := hourlySeries(7, func(i int, s *HourlySample) {
		if i >= 2 {
			s.Precipitation = Value(1.2)
			s.WeatherCode = Value(63)
		}
	})

	hours, err := n.Nowcast(issuedAt, 6, series, fixedJitter(0.5))
	require.NoError(t, err)
	require.Len(t, hours, 7)

	for i, h := range hours {
		assert.Equal(t, i, h.LeadHour)
		assert.Equal(t, series.Hourly[i].Time, h.Time)
		assert.False(t, h.Estimated)
	}

	// Zero jitter offset: 95 minus five points per hour, floored at 60.
	assert.Equal(t, 95, hours[0].Confidence)
	assert.Equal(t, 80, hours[3].Confidence)
	assert.Equal(t, 65, hours[6].Confidence)

	assert.Equal(t, ConditionPartlyCloudy, hours[0].Condition)
	assert.Equal(t, ConditionRain, hours[2].Condition)
	assert.InDelta(t, 12.3, hours[0].WindSpeed, 1e-9)
	assert.Equal(t, 270, hours[0].WindDirection)
	assert.Equal(t, 10, hours[0].PrecipitationProbability)

	summary := SummarizeNowcast(hours, n.Policy().RainThreshold)
	require.NotNil(t, summary.RainStartsIn)
	assert.Equal(t, 2, *summary.RainStartsIn)
	assert.True(t, summary.RainExpected)
	assert.InDelta(t, 1.2, summary.MaxPrecipitation, 1e-9)
}

func TestNowcastConfidenceBounds(t *testing.T) {
	n := newTestNowcaster(t)
	series := hourlySeries(49, nil)

	for _, j := range []Jitter{fixedJitter(0), fixedJitter(0.999), NewJitter(3)} {
		hours, err := n.Nowcast(issuedAt, 48, series, j)
		require.NoError(t, err)
		for _, h := range hours {
			assert.GreaterOrEqual(t, h.Confidence, 60)
			assert.LessOrEqual(t, h.Confidence, 95)
		}
		assert.Equal(t, 60, hours[48].Confidence)
	}
}

func TestNowcastPersistence(t *testing.T) {
	n := newTestNowcaster(t)

	t.Run("gap takes the previous hour", func(t *testing.T) {
		series := hourlySeries(4, func(i int, s *HourlySample) {
			if i == 2 {
				s.Temperature = nil
			}
		})
		hours, err := n.Nowcast(issuedAt, 3, series, fixedJitter(0.5))
		require.NoError(t, err)
		assert.True(t, hours[2].Estimated)
		assert.InDelta(t, 11.0, hours[2].Temperature, 1e-9)
		assert.False(t, hours[3].Estimated)
	})

	t.Run("leading gap takes the next hour", func(t *testing.T) {
		series := hourlySeries(3, func(i int, s *HourlySample) {
			if i == 0 {
				s.WeatherCode = nil
			}
			if i == 1 {
				s.WeatherCode = Value(95)
			}
		})
		hours, err := n.Nowcast(issuedAt, 2, series, fixedJitter(0.5))
		require.NoError(t, err)
		assert.True(t, hours[0].Estimated)
		assert.Equal(t, ConditionThunderstorm, hours[0].Condition)
	})

	t.Run("short feed repeats its last hour", func(t *testing.T) {
		series := hourlySeries(2, nil)
		hours, err := n.Nowcast(issuedAt, 4, series, fixedJitter(0.5))
		require.NoError(t, err)
		require.Len(t, hours, 5)
		assert.True(t, hours[4].Estimated)
		assert.InDelta(t, 11.0, hours[4].Temperature, 1e-9)
		assert.Equal(t, issuedAt.Truncate(time.Hour).Add(4*time.Hour), hours[4].Time)
	})

	t.Run("optional metrics may be absent", func(t *testing.T) {
		series := hourlySeries(2, func(_ int, s *HourlySample) {
			s.WindSpeed = nil
			s.WindDirection = nil
			s.PrecipitationProbability = nil
		})
		hours, err := n.Nowcast(issuedAt, 1, series, fixedJitter(0.5))
		require.NoError(t, err)
		assert.True(t, hours[0].Estimated)
		assert.Zero(t, hours[0].WindSpeed)
	})
}

func TestNowcastTotalFailure(t *testing.T) {
	n := newTestNowcaster(t)

	_, err := n.Nowcast(issuedAt, 3, &ModelSeries{Model: "open-meteo"}, fixedJitter(0.5))
	assert.ErrorIs(t, err, ErrTotalUpstreamFailure)

	_, err = n.Nowcast(issuedAt, 3, nil, fixedJitter(0.5))
	assert.ErrorIs(t, err, ErrTotalUpstreamFailure)

	series := hourlySeries(4, func(_ int, s *HourlySample) { s.Temperature = nil })
	_, err = n.Nowcast(issuedAt, 3, series, fixedJitter(0.5))
	var total *TotalFailureError
	require.ErrorAs(t, err, &total)
	assert.Equal(t, []string{"open-meteo"}, total.Models)
	assert.Contains(t, total.Reason, "temperature")
}

func TestClassify(t *testing.T) {
	n := newTestNowcaster(t)

	tests := []struct {
		code int
		want Condition
	}{
		{-1, ConditionClear},
		{0, ConditionClear},
		{2, ConditionPartlyCloudy},
		{3, ConditionCloudy},
		{48, ConditionFog},
		{53, ConditionDrizzle},
		{61, ConditionRain},
		{82, ConditionHeavyRain},
		{99, ConditionThunderstorm},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, n.Classify(tt.code), "code %d", tt.code)
	}

	// Severity never decreases as the code grows.
	prev := -1
	for code := 0; code <= 99; code++ {
		sev := n.Classify(code).Severity()
		assert.GreaterOrEqual(t, sev, prev)
		prev = sev
	}
}

func TestNowcastPolicyValidate(t *testing.T) {
	assert.NoError(t, DefaultNowcastPolicy().Validate())

	tests := map[string]func(*NowcastPolicy){
		"empty table":      func(p *NowcastPolicy) { p.Conditions = nil },
		"unknown":          func(p *NowcastPolicy) { p.Conditions[1].Condition = "hail" },
		"codes not rising": func(p *NowcastPolicy) { p.Conditions[2].MinCode = 1 },
		"severity drops":   func(p *NowcastPolicy) { p.Conditions[3].Condition = ConditionClear },
		"confidence range": func(p *NowcastPolicy) { p.ConfidenceMin = 96 },
		"negative decay":   func(p *NowcastPolicy) { p.HourlyDecay = -1 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			p := DefaultNowcastPolicy()
			mutate(&p)
			assert.ErrorIs(t, p.Validate(), ErrInvalidConfiguration)
		})
	}
}
