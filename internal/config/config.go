package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kkyr/fig"

	"github.com/i474232898/ensemble-forecast/internal/weather"
)

const configEnv = "ENSEMBLE"

// Feed sources a model can be served from.
const (
	SourceOpenMeteo      = "open-meteo"
	SourceWeatherAPI     = "weatherapi"
	SourceOpenWeatherMap = "openweathermap"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

var validate = validator.New()

// ModelConfig binds one weighted model to the feed serving it.
type ModelConfig struct {
	Name   string  `fig:"name"`
	Label  string  `fig:"label"`
	Source string  `fig:"source"`
	Weight float64 `fig:"weight"`
}

// ConditionConfig is one row of the weather-code threshold table.
type ConditionConfig struct {
	MinCode   int    `fig:"min_code"`
	Condition string `fig:"condition"`
}

// LocationConfig is a named location the scheduler issues forecasts for.
type LocationConfig struct {
	ID        string  `fig:"id"`
	Latitude  float64 `fig:"lat"`
	Longitude float64 `fig:"lon"`
}

// Config represents the application's configuration structure.
type Config struct {
	// Allowed values: dev, prod
	AppEnv   string `fig:"app_env" default:"dev"`
	LogLevel string `fig:"loglevel" default:"info"`
	// Non-zero makes every request's jitter reproducible.
	JitterSeed uint64 `fig:"jitter_seed"`

	Server struct {
		Port         string        `fig:"port" default:"8080"`
		ReadTimeout  time.Duration `fig:"read_timeout" default:"10s"`
		WriteTimeout time.Duration `fig:"write_timeout" default:"10s"`
	} `fig:"server"`

	Upstream struct {
		Timeout           time.Duration `fig:"timeout" default:"8s"`
		RequestsPerSecond float64       `fig:"requests_per_second" default:"10"`
		Burst             int           `fig:"burst" default:"5"`
		MaxRetries        int           `fig:"max_retries"`
		OpenMeteoURL      string        `fig:"open_meteo_url" default:"https://api.open-meteo.com/v1/forecast"`
		WeatherAPIKey     string        `fig:"weatherapi_key"`
		OpenWeatherKey    string        `fig:"openweather_key"`
	} `fig:"upstream"`

	// Empty means DefaultModels.
	Models []ModelConfig `fig:"models"`

	Ensemble struct {
		MaxDays            int     `fig:"max_days" default:"14"`
		ConfidenceBase     float64 `fig:"confidence_base" default:"95"`
		LeadDayPenalty     float64 `fig:"lead_day_penalty" default:"3"`
		SpreadPenalty      float64 `fig:"spread_penalty" default:"5"`
		ConfidenceMin      float64 `fig:"confidence_min" default:"50"`
		ConfidenceMax      float64 `fig:"confidence_max" default:"98"`
		BandMargin         float64 `fig:"band_margin" default:"1"`
		BackfillTempJitter float64 `fig:"backfill_temp_jitter" default:"1.5"`
		BackfillPrecipMin  float64 `fig:"backfill_precip_min" default:"0.8"`
		BackfillPrecipMax  float64 `fig:"backfill_precip_max" default:"1.2"`
		RainThreshold      float64 `fig:"rain_threshold" default:"1.0"`
	} `fig:"ensemble"`

	Nowcast struct {
		MaxHours       int     `fig:"max_hours" default:"48"`
		ConfidenceBase float64 `fig:"confidence_base" default:"95"`
		HourlyDecay    float64 `fig:"hourly_decay" default:"5"`
		Jitter         float64 `fig:"jitter" default:"2.5"`
		ConfidenceMin  float64 `fig:"confidence_min" default:"60"`
		ConfidenceMax  float64 `fig:"confidence_max" default:"95"`
		RainThreshold  float64 `fig:"rain_threshold" default:"0.5"`
		// Empty means the stock WMO code table.
		Conditions []ConditionConfig `fig:"conditions"`
	} `fig:"nowcast"`

	Store struct {
		// Allowed values: memory, redis, sqlite
		Backend    string        `fig:"backend" default:"memory"`
		MaxHistory int           `fig:"max_history" default:"2000"`
		MaxAge     time.Duration `fig:"max_age" default:"168h"`
		RedisAddr  string        `fig:"redis_addr" default:"localhost:6379"`
		SQLitePath string        `fig:"sqlite_path" default:"data/forecasts.db"`
	} `fig:"store"`

	Scheduler struct {
		Enabled   bool             `fig:"enabled"`
		Interval  time.Duration    `fig:"interval" default:"1h"`
		Days      int              `fig:"days" default:"7"`
		Hours     int              `fig:"hours" default:"24"`
		Locations []LocationConfig `fig:"locations"`
	} `fig:"scheduler"`

	level slog.Level
}

// DefaultModels is the stock three-model blend, all served by Open-Meteo.
func DefaultModels() []ModelConfig {
	return []ModelConfig{
		{Name: "ecmwf_ifs025", Label: "ECMWF IFS", Source: SourceOpenMeteo, Weight: 0.40},
		{Name: "gfs_seamless", Label: "NOAA GFS", Source: SourceOpenMeteo, Weight: 0.35},
		{Name: "icon_seamless", Label: "DWD ICON", Source: SourceOpenMeteo, Weight: 0.25},
	}
}

// NewFromFile loads the configuration from path/file with environment
// overrides.
func NewFromFile(path, file string) (*Config, error) {
	loadDotEnv()
	conf := new(Config)
	_, err := os.Stat(filepath.Join(path, file))
	if err != nil {
		return conf, fmt.Errorf("failed to read config: %w", err)
	}
	if err = fig.Load(conf, fig.Dirs(path), fig.File(file), fig.UseEnv(configEnv)); err != nil {
		return conf, fmt.Errorf("failed to load config: %w", err)
	}

	return conf, conf.Validate()
}

// New loads the configuration from an optional config file in the working
// directory and the environment.
func New() (*Config, error) {
	loadDotEnv()
	conf := new(Config)
	if err := fig.Load(conf, fig.AllowNoFile(), fig.UseEnv(configEnv)); err != nil {
		return conf, fmt.Errorf("failed to load config: %w", err)
	}

	return conf, conf.Validate()
}

func loadDotEnv() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env file", slog.Any("error", err))
	}
}

// Validate fills table defaults and rejects inconsistent settings. Weight and
// policy violations wrap weather.ErrInvalidConfiguration.
func (c *Config) Validate() error {
	switch c.AppEnv {
	case "dev", "prod":
	default:
		return fmt.Errorf("invalid app_env %q (allowed: dev, prod)", c.AppEnv)
	}
	level, err := parseLogLevel(c.LogLevel)
	if err != nil {
		return err
	}
	c.level = level

	if err := validate.Var(c.Server.Port, "required,numeric"); err != nil {
		return fmt.Errorf("invalid server port %q: %w", c.Server.Port, err)
	}
	if err := validate.Var(c.Upstream.Timeout, "gt=0"); err != nil {
		return fmt.Errorf("invalid upstream timeout %s: %w", c.Upstream.Timeout, err)
	}
	if err := validate.Var(c.Upstream.RequestsPerSecond, "gt=0"); err != nil {
		return fmt.Errorf("invalid upstream requests_per_second %v: %w", c.Upstream.RequestsPerSecond, err)
	}
	if err := validate.Var(c.Upstream.Burst, "min=1"); err != nil {
		return fmt.Errorf("invalid upstream burst %d: %w", c.Upstream.Burst, err)
	}
	if err := validate.Var(c.Upstream.MaxRetries, "min=0,max=5"); err != nil {
		return fmt.Errorf("invalid upstream max_retries %d: %w", c.Upstream.MaxRetries, err)
	}
	if err := validate.Var(c.Upstream.OpenMeteoURL, "required,url"); err != nil {
		return fmt.Errorf("invalid open_meteo_url %q: %w", c.Upstream.OpenMeteoURL, err)
	}
	if err := validate.Var(c.Ensemble.MaxDays, "min=1,max=16"); err != nil {
		return fmt.Errorf("invalid ensemble max_days %d: %w", c.Ensemble.MaxDays, err)
	}
	if err := validate.Var(c.Nowcast.MaxHours, "min=1,max=168"); err != nil {
		return fmt.Errorf("invalid nowcast max_hours %d: %w", c.Nowcast.MaxHours, err)
	}

	if len(c.Models) == 0 {
		c.Models = DefaultModels()
	}
	for _, m := range c.Models {
		if err := validate.Var(m.Source, "oneof=open-meteo weatherapi openweathermap"); err != nil {
			return fmt.Errorf("%w: model %q has unknown source %q", weather.ErrInvalidConfiguration, m.Name, m.Source)
		}
		switch {
		case m.Source == SourceWeatherAPI && c.Upstream.WeatherAPIKey == "":
			return fmt.Errorf("%w: model %q needs upstream.weatherapi_key", weather.ErrInvalidConfiguration, m.Name)
		case m.Source == SourceOpenWeatherMap && c.Upstream.OpenWeatherKey == "":
			return fmt.Errorf("%w: model %q needs upstream.openweather_key", weather.ErrInvalidConfiguration, m.Name)
		}
	}
	if err := weather.ValidateWeights(c.Weights()); err != nil {
		return err
	}
	if err := c.BlendPolicy().Validate(); err != nil {
		return err
	}

	if len(c.Nowcast.Conditions) == 0 {
		for _, t := range weather.DefaultConditionThresholds() {
			c.Nowcast.Conditions = append(c.Nowcast.Conditions,
				ConditionConfig{MinCode: t.MinCode, Condition: string(t.Condition)})
		}
	}
	if err := c.NowcastPolicy().Validate(); err != nil {
		return err
	}

	if err := validate.Var(c.Store.Backend, "oneof=memory redis sqlite"); err != nil {
		return fmt.Errorf("invalid store backend %q (allowed: memory, redis, sqlite)", c.Store.Backend)
	}
	switch c.Store.Backend {
	case BackendRedis:
		if err := validate.Var(c.Store.RedisAddr, "required,hostname_port"); err != nil {
			return fmt.Errorf("invalid store redis_addr %q: %w", c.Store.RedisAddr, err)
		}
	case BackendSQLite:
		if strings.TrimSpace(c.Store.SQLitePath) == "" {
			return fmt.Errorf("store sqlite_path is required for the sqlite backend")
		}
	}

	seen := make(map[string]struct{}, len(c.Scheduler.Locations))
	for _, loc := range c.Scheduler.Locations {
		if err := validate.Var(loc.ID, "required"); err != nil {
			return fmt.Errorf("scheduler location without id: %w", err)
		}
		if _, dup := seen[loc.ID]; dup {
			return fmt.Errorf("duplicate scheduler location %q", loc.ID)
		}
		seen[loc.ID] = struct{}{}
		if err := c.location(loc).Validate(); err != nil {
			return fmt.Errorf("scheduler location %q: %w", loc.ID, err)
		}
	}
	if c.Scheduler.Enabled {
		if err := validate.Var(c.Scheduler.Interval, "gte=1m"); err != nil {
			return fmt.Errorf("invalid scheduler interval %s: %w", c.Scheduler.Interval, err)
		}
		if c.Scheduler.Days < 1 || c.Scheduler.Days > c.Ensemble.MaxDays {
			return fmt.Errorf("scheduler days %d outside [1,%d]", c.Scheduler.Days, c.Ensemble.MaxDays)
		}
		if c.Scheduler.Hours < 1 || c.Scheduler.Hours > c.Nowcast.MaxHours {
			return fmt.Errorf("scheduler hours %d outside [1,%d]", c.Scheduler.Hours, c.Nowcast.MaxHours)
		}
	}

	return nil
}

// Level returns the parsed log level.
func (c *Config) Level() slog.Level {
	return c.level
}

// Weights returns the blend weights in configuration order.
func (c *Config) Weights() []weather.ModelWeight {
	weights := make([]weather.ModelWeight, 0, len(c.Models))
	for _, m := range c.Models {
		label := m.Label
		if label == "" {
			label = m.Name
		}
		weights = append(weights, weather.ModelWeight{Name: m.Name, Label: label, Weight: m.Weight})
	}
	return weights
}

func (c *Config) BlendPolicy() weather.BlendPolicy {
	e := c.Ensemble
	return weather.BlendPolicy{
		ConfidenceBase:     e.ConfidenceBase,
		LeadDayPenalty:     e.LeadDayPenalty,
		SpreadPenalty:      e.SpreadPenalty,
		ConfidenceMin:      e.ConfidenceMin,
		ConfidenceMax:      e.ConfidenceMax,
		BandMargin:         e.BandMargin,
		BackfillTempJitter: e.BackfillTempJitter,
		BackfillPrecipMin:  e.BackfillPrecipMin,
		BackfillPrecipMax:  e.BackfillPrecipMax,
		RainThreshold:      e.RainThreshold,
	}
}

func (c *Config) NowcastPolicy() weather.NowcastPolicy {
	n := c.Nowcast
	conds := make([]weather.ConditionThreshold, 0, len(n.Conditions))
	for _, t := range n.Conditions {
		conds = append(conds, weather.ConditionThreshold{MinCode: t.MinCode, Condition: weather.Condition(t.Condition)})
	}
	return weather.NowcastPolicy{
		ConfidenceBase: n.ConfidenceBase,
		HourlyDecay:    n.HourlyDecay,
		Jitter:         n.Jitter,
		ConfidenceMin:  n.ConfidenceMin,
		ConfidenceMax:  n.ConfidenceMax,
		RainThreshold:  n.RainThreshold,
		Conditions:     conds,
	}
}

// Locations returns the configured named locations.
func (c *Config) Locations() []weather.Location {
	locs := make([]weather.Location, 0, len(c.Scheduler.Locations))
	for _, l := range c.Scheduler.Locations {
		locs = append(locs, c.location(l))
	}
	return locs
}

func (c *Config) location(l LocationConfig) weather.Location {
	return weather.Location{ID: l.ID, Latitude: l.Latitude, Longitude: l.Longitude}
}

// ServiceConfig assembles the weather service configuration.
func (c *Config) ServiceConfig() weather.ServiceConfig {
	return weather.ServiceConfig{
		Weights:     c.Weights(),
		Blend:       c.BlendPolicy(),
		Nowcast:     c.NowcastPolicy(),
		MaxDays:     c.Ensemble.MaxDays,
		MaxHours:    c.Nowcast.MaxHours,
		FeedTimeout: c.Upstream.Timeout,
		JitterSeed:  c.JitterSeed,
		Locations:   c.Locations(),
	}
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid loglevel %q (allowed: debug, info, warn, error)", s)
	}
}
