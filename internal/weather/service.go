package weather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ServiceConfig is the immutable configuration a Service is built from.
type ServiceConfig struct {
	Weights     []ModelWeight
	Blend       BlendPolicy
	Nowcast     NowcastPolicy
	MaxDays     int
	MaxHours    int
	FeedTimeout time.Duration
	// JitterSeed makes every request reproducible when non-zero.
	JitterSeed uint64
	Locations  []Location
}

// EnsembleRequest asks for a blended daily forecast.
type EnsembleRequest struct {
	Location Location
	Days     int
}

// NowcastRequest asks for an hourly nowcast covering lead hours 0..Hours.
type NowcastRequest struct {
	Location Location
	Hours    int
}

// Service orchestrates the model feeds, the blender, the nowcaster and the
// record sink.
type Service struct {
	cfg       ServiceConfig
	blender   *Blender
	nowcaster *Nowcaster
	feeds     []ModelFeed
	hourly    HourlyFeed
	store     Store
	logger    *slog.Logger
	locations map[string]Location
	now       func() time.Time
}

// ServiceOption customises a Service.
type ServiceOption func(*Service)

// WithClock replaces the wall clock used for issue times.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService validates cfg and binds one feed to every weighted model. Feeds
// are matched to weights by model name; a weighted model without a feed is a
// configuration error.
func NewService(cfg ServiceConfig, feeds []ModelFeed, hourly HourlyFeed, store Store, logger *slog.Logger,
	opts ...ServiceOption,
) (*Service, error) {
	blender, err := NewBlender(cfg.Weights, cfg.Blend)
	if err != nil {
		return nil, err
	}
	nowcaster, err := NewNowcaster(cfg.Nowcast)
	if err != nil {
		return nil, err
	}
	if cfg.MaxDays <= 0 || cfg.MaxHours <= 0 {
		return nil, invalidConfiguration("max days and max hours must be positive")
	}
	if cfg.FeedTimeout <= 0 {
		return nil, invalidConfiguration("feed timeout must be positive")
	}
	if hourly == nil {
		return nil, invalidConfiguration("no hourly feed configured")
	}
	if store == nil {
		return nil, invalidConfiguration("no record store configured")
	}
	if logger == nil {
		logger = slog.Default()
	}

	byModel := make(map[string]ModelFeed, len(feeds))
	for _, f := range feeds {
		byModel[f.Model()] = f
	}
	slots := make([]ModelFeed, 0, len(cfg.Weights))
	for _, w := range cfg.Weights {
		f, ok := byModel[w.Name]
		if !ok {
			return nil, invalidConfiguration("model %q has a weight but no feed", w.Name)
		}
		slots = append(slots, f)
	}

	locations := make(map[string]Location, len(cfg.Locations))
	for _, loc := range cfg.Locations {
		if loc.ID == "" {
			return nil, invalidConfiguration("configured location without id")
		}
		if err := loc.Validate(); err != nil {
			return nil, invalidConfiguration("location %q: %v", loc.ID, err)
		}
		locations[loc.ID] = loc
	}

	s := &Service{
		cfg:       cfg,
		blender:   blender,
		nowcaster: nowcaster,
		feeds:     slots,
		hourly:    hourly,
		store:     store,
		logger:    logger,
		locations: locations,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Locate resolves a configured named location.
func (s *Service) Locate(id string) (Location, error) {
	loc, ok := s.locations[id]
	if !ok {
		return Location{}, invalidRequest("unknown location %q", id)
	}
	return loc, nil
}

// Locations returns the configured named locations.
func (s *Service) Locations() []Location {
	out := make([]Location, 0, len(s.cfg.Locations))
	for _, loc := range s.cfg.Locations {
		out = append(out, s.locations[loc.ID])
	}
	return out
}

// Models returns the provenance of the configured blend.
func (s *Service) Models() []ModelInfo {
	return ModelInfos(s.blender.Weights())
}

// Limits returns the maximum ensemble days and nowcast hours.
func (s *Service) Limits() (maxDays, maxHours int) {
	return s.cfg.MaxDays, s.cfg.MaxHours
}

// EnsembleForecast blends every configured model into a daily forecast for
// req.Location. Individual model failures are back-filled; only a day that no
// model could supply fails the request.
func (s *Service) EnsembleForecast(ctx context.Context, req EnsembleRequest) (EnsembleResponse, error) {
	if req.Days < 1 || req.Days > s.cfg.MaxDays {
		return EnsembleResponse{}, invalidRequest("days must be between 1 and %d, got %d", s.cfg.MaxDays, req.Days)
	}
	if err := req.Location.Validate(); err != nil {
		return EnsembleResponse{}, err
	}

	issuedAt := s.now().UTC()
	results, err := s.fetchDaily(ctx, req.Location, req.Days)
	if err != nil {
		return EnsembleResponse{}, err
	}

	days, err := s.blender.Blend(issuedAt, req.Days, results, s.jitter())
	if err != nil {
		s.logger.Error("ensemble forecast failed",
			slog.String("location", req.Location.Key()),
			slog.Any("error", err))
		return EnsembleResponse{}, err
	}

	resp := AssembleEnsemble(uuid.NewString(), req.Location, issuedAt, days,
		s.blender.Weights(), s.blender.Policy().RainThreshold)
	s.emit(ctx, req.Location, EnsembleRecords(resp))
	return resp, nil
}

// Nowcast builds an hourly nowcast for lead hours 0..req.Hours from the
// hourly feed.
func (s *Service) Nowcast(ctx context.Context, req NowcastRequest) (NowcastResponse, error) {
	if req.Hours < 1 || req.Hours > s.cfg.MaxHours {
		return NowcastResponse{}, invalidRequest("hours must be between 1 and %d, got %d", s.cfg.MaxHours, req.Hours)
	}
	if err := req.Location.Validate(); err != nil {
		return NowcastResponse{}, err
	}

	issuedAt := s.now().UTC()
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.FeedTimeout)
	series, err := s.hourly.FetchHourly(callCtx, req.Location, req.Hours+1)
	cancel()
	if ctx.Err() != nil {
		return NowcastResponse{}, ctx.Err()
	}
	if err != nil {
		fe := AsFeedError(s.hourly.Name(), err)
		s.logFeedFailure(req.Location, fe)
		return NowcastResponse{}, &TotalFailureError{
			Models: []string{s.hourly.Name()},
			Causes: []error{fe},
			Reason: "nowcast feed failed",
		}
	}

	hours, err := s.nowcaster.Nowcast(issuedAt, req.Hours, series, s.jitter())
	if err != nil {
		s.logger.Error("nowcast failed",
			slog.String("location", req.Location.Key()),
			slog.Any("error", err))
		return NowcastResponse{}, err
	}

	resp := AssembleNowcast(uuid.NewString(), req.Location, issuedAt, s.hourly.Name(), hours,
		s.nowcaster.Policy().RainThreshold)
	s.emit(ctx, req.Location, NowcastRecords(resp))
	return resp, nil
}

// Records returns the forecast records issued for a location within [from, to].
func (s *Service) Records(ctx context.Context, locationID string, from, to time.Time) ([]ForecastRecord, error) {
	if locationID == "" {
		return nil, invalidRequest("location id is required")
	}
	if to.Before(from) {
		return nil, invalidRequest("range end %s is before start %s", to.Format(time.RFC3339), from.Format(time.RFC3339))
	}
	return s.store.Records(ctx, locationID, from, to)
}

// fetchDaily calls every model feed concurrently and collects the outcomes
// into one slot per model. Each call has its own timeout; a failed call only
// marks its slot. The caller's cancellation aborts the whole fan-out.
func (s *Service) fetchDaily(ctx context.Context, loc Location, days int) ([]ModelResult, error) {
	results := make([]ModelResult, len(s.feeds))

	var g errgroup.Group
	for i, feed := range s.feeds {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, s.cfg.FeedTimeout)
			defer cancel()

			series, err := feed.FetchDaily(callCtx, loc, days)
			results[i] = ModelResult{Model: feed.Model(), Series: series}
			if err != nil {
				results[i].Series = nil
				results[i].Err = AsFeedError(feed.Model(), err)
			}
			// Per-model failures stay in their slot.
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			var fe *FeedError
			if errors.As(r.Err, &fe) {
				s.logFeedFailure(loc, fe)
			}
		}
	}
	if failed == len(results) {
		e := &TotalFailureError{Reason: "every model feed failed"}
		for _, r := range results {
			e.Models = append(e.Models, r.Model)
			e.Causes = append(e.Causes, r.Err)
		}
		s.logger.Error("ensemble forecast failed",
			slog.String("location", loc.Key()),
			slog.Any("error", e))
		return nil, e
	}
	return results, nil
}

func (s *Service) jitter() Jitter {
	if s.cfg.JitterSeed != 0 {
		return NewJitter(s.cfg.JitterSeed)
	}
	return NewJitter(rand.Uint64())
}

// emit hands records to the sink. Sink failures never fail the request.
func (s *Service) emit(ctx context.Context, loc Location, records []ForecastRecord) {
	if len(records) == 0 {
		return
	}
	if err := s.store.SaveRecords(context.WithoutCancel(ctx), records); err != nil {
		s.logger.Warn("saving forecast records failed",
			slog.String("location", loc.Key()),
			slog.Int("records", len(records)),
			slog.Any("error", err))
	}
}

func (s *Service) logFeedFailure(loc Location, fe *FeedError) {
	s.logger.Warn("model feed failed",
		slog.String("model", fe.Model),
		slog.String("kind", string(fe.Kind)),
		slog.String("location", loc.Key()),
		slog.String("error", fmt.Sprint(fe.Err)))
}
