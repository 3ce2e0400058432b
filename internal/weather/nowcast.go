package weather

import (
	"fmt"
	"time"
)

// ConditionThreshold maps every weather code >= MinCode to Condition, up to
// the next threshold.
type ConditionThreshold struct {
	MinCode   int
	Condition Condition
}

// DefaultConditionThresholds buckets WMO weather codes into conditions.
func DefaultConditionThresholds() []ConditionThreshold {
	return []ConditionThreshold{
		{MinCode: 0, Condition: ConditionClear},
		{MinCode: 1, Condition: ConditionPartlyCloudy},
		{MinCode: 3, Condition: ConditionCloudy},
		{MinCode: 45, Condition: ConditionFog},
		{MinCode: 51, Condition: ConditionDrizzle},
		{MinCode: 61, Condition: ConditionRain},
		{MinCode: 65, Condition: ConditionHeavyRain},
		{MinCode: 95, Condition: ConditionThunderstorm},
	}
}

// NowcastPolicy holds the tunable constants of the nowcaster.
type NowcastPolicy struct {
	ConfidenceBase float64
	HourlyDecay    float64
	Jitter         float64
	ConfidenceMin  float64
	ConfidenceMax  float64
	RainThreshold  float64
	Conditions     []ConditionThreshold
}

// DefaultNowcastPolicy returns the stock nowcast constants.
func DefaultNowcastPolicy() NowcastPolicy {
	return NowcastPolicy{
		ConfidenceBase: 95,
		HourlyDecay:    5,
		Jitter:         2.5,
		ConfidenceMin:  60,
		ConfidenceMax:  95,
		RainThreshold:  0.5,
		Conditions:     DefaultConditionThresholds(),
	}
}

// Validate checks ranges and the condition table. Thresholds must be strictly
// increasing in code and non-decreasing in severity.
func (p NowcastPolicy) Validate() error {
	if p.ConfidenceMin < 0 || p.ConfidenceMax > 100 || p.ConfidenceMin > p.ConfidenceMax {
		return invalidConfiguration("nowcast confidence range [%v,%v] must lie within [0,100]",
			p.ConfidenceMin, p.ConfidenceMax)
	}
	if p.HourlyDecay < 0 || p.Jitter < 0 {
		return invalidConfiguration("nowcast decay and jitter must not be negative")
	}
	if len(p.Conditions) == 0 {
		return invalidConfiguration("nowcast condition table is empty")
	}
	for i, t := range p.Conditions {
		if t.Condition.Severity() < 0 {
			return invalidConfiguration("unknown condition %q", t.Condition)
		}
		if i == 0 {
			continue
		}
		prev := p.Conditions[i-1]
		if t.MinCode <= prev.MinCode {
			return invalidConfiguration("condition thresholds must be strictly increasing (%d after %d)",
				t.MinCode, prev.MinCode)
		}
		if t.Condition.Severity() < prev.Condition.Severity() {
			return invalidConfiguration("condition %q is less severe than %q at a higher code",
				t.Condition, prev.Condition)
		}
	}
	return nil
}

// Nowcaster turns one hourly feed into hour-granularity nowcasts.
type Nowcaster struct {
	policy NowcastPolicy
}

// NewNowcaster validates policy and returns a Nowcaster.
func NewNowcaster(policy NowcastPolicy) (*Nowcaster, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	conds := make([]ConditionThreshold, len(policy.Conditions))
	copy(conds, policy.Conditions)
	policy.Conditions = conds
	return &Nowcaster{policy: policy}, nil
}

// Policy returns the nowcast policy.
func (n *Nowcaster) Policy() NowcastPolicy {
	return n.policy
}

// Classify maps a weather code to a condition using the threshold table.
// Codes below the first threshold fall into the first bucket.
func (n *Nowcaster) Classify(code int) Condition {
	cond := n.policy.Conditions[0].Condition
	for _, t := range n.policy.Conditions {
		if code < t.MinCode {
			break
		}
		cond = t.Condition
	}
	return cond
}

// Nowcast produces one record per lead hour 0..hours inclusive. Hour 0 of
// series is the current hour. Gaps are filled from the nearest earlier hour
// (or the nearest later hour when no earlier one exists) and flagged.
func (n *Nowcaster) Nowcast(start time.Time, hours int, series *ModelSeries, jitter Jitter) ([]HourlyNowcast, error) {
	if hours < 0 {
		return nil, invalidRequest("horizon must not be negative, got %d", hours)
	}
	if series == nil || len(series.Hourly) == 0 {
		return nil, n.totalFailure(series, "feed returned no hourly data")
	}

	base := start.Truncate(time.Hour)
	filled := newPersistence(series, hours+1)
	for _, metric := range hourlyMetrics {
		if !filled.complete(metric) {
			return nil, n.totalFailure(series, fmt.Sprintf("feed delivered no %s values", metric.name))
		}
	}

	out := make([]HourlyNowcast, 0, hours+1)
	for i := 0; i <= hours; i++ {
		ts := base.Add(time.Duration(i) * time.Hour)
		if sample, ok := series.Hour(i); ok && !sample.Time.IsZero() {
			ts = sample.Time
		}

		code := roundInt(filled.value(metricWeatherCode, i))
		confidence := clamp(
			n.policy.ConfidenceBase-n.policy.HourlyDecay*float64(i)+symmetric(jitter, n.policy.Jitter),
			n.policy.ConfidenceMin, n.policy.ConfidenceMax,
		)

		out = append(out, HourlyNowcast{
			Time:                     ts,
			LeadHour:                 i,
			Temperature:              round1(filled.value(metricTemperature, i)),
			Precipitation:            round1(filled.value(metricPrecipitation, i)),
			PrecipitationProbability: roundInt(filled.value(metricPrecipProbability, i)),
			WeatherCode:              code,
			Condition:                n.Classify(code),
			WindSpeed:                round1(filled.value(metricWindSpeed, i)),
			WindDirection:            roundInt(filled.value(metricWindDirection, i)),
			Confidence:               roundInt(confidence),
			Estimated:                filled.estimated(i),
		})
	}
	return out, nil
}

func (n *Nowcaster) totalFailure(series *ModelSeries, reason string) error {
	e := &TotalFailureError{Reason: reason}
	if series != nil {
		e.Models = []string{series.Model}
	}
	return e
}

type hourlyMetric struct {
	name     string
	required bool
	get      func(HourlySample) *float64
}

var (
	metricTemperature       = hourlyMetric{"temperature", true, func(s HourlySample) *float64 { return s.Temperature }}
	metricPrecipitation     = hourlyMetric{"precipitation", true, func(s HourlySample) *float64 { return s.Precipitation }}
	metricWeatherCode       = hourlyMetric{"weather code", true, func(s HourlySample) *float64 { return s.WeatherCode }}
	metricPrecipProbability = hourlyMetric{"precipitation probability", false, func(s HourlySample) *float64 { return s.PrecipitationProbability }}
	metricWindSpeed         = hourlyMetric{"wind speed", false, func(s HourlySample) *float64 { return s.WindSpeed }}
	metricWindDirection     = hourlyMetric{"wind direction", false, func(s HourlySample) *float64 { return s.WindDirection }}

	hourlyMetrics = []hourlyMetric{
		metricTemperature, metricPrecipitation, metricPrecipProbability,
		metricWeatherCode, metricWindSpeed, metricWindDirection,
	}
)

// persistence back-fills missing hourly metrics from neighbouring hours.
// Required metrics with no value anywhere in the horizon are not complete.
type persistence struct {
	values map[string][]float64
	filled map[string][]bool
	ok     map[string]bool
	hours  int
}

func newPersistence(series *ModelSeries, hours int) *persistence {
	p := &persistence{
		values: make(map[string][]float64, len(hourlyMetrics)),
		filled: make(map[string][]bool, len(hourlyMetrics)),
		ok:     make(map[string]bool, len(hourlyMetrics)),
		hours:  hours,
	}
	for _, metric := range hourlyMetrics {
		vals := make([]float64, hours)
		est := make([]bool, hours)
		have := make([]bool, hours)
		last := -1
		for i := 0; i < hours; i++ {
			if sample, ok := series.Hour(i); ok {
				if v := metric.get(sample); v != nil {
					vals[i] = *v
					have[i] = true
					last = i
					continue
				}
			}
			if last >= 0 {
				vals[i] = vals[last]
				est[i] = true
				have[i] = true
			}
		}
		// Leading gaps take the first real value that follows them.
		first := -1
		for i := 0; i < hours; i++ {
			if have[i] && !est[i] {
				first = i
				break
			}
		}
		if first < 0 {
			if metric.required {
				continue
			}
			// Optional metrics the feed never delivered read as zero.
			for i := range est {
				est[i] = true
			}
			first = 0
		}
		for i := 0; i < first; i++ {
			vals[i] = vals[first]
			est[i] = true
		}
		p.values[metric.name] = vals
		p.filled[metric.name] = est
		p.ok[metric.name] = true
	}
	return p
}

func (p *persistence) complete(metric hourlyMetric) bool {
	return p.ok[metric.name]
}

func (p *persistence) value(metric hourlyMetric, i int) float64 {
	return p.values[metric.name][i]
}

func (p *persistence) estimated(i int) bool {
	for _, est := range p.filled {
		if est[i] {
			return true
		}
	}
	return false
}
