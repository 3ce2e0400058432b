package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/i474232898/ensemble-forecast/internal/logging"
	"github.com/i474232898/ensemble-forecast/internal/weather"
)

// Issuer issues forecasts. *weather.Service satisfies it.
type Issuer interface {
	EnsembleForecast(ctx context.Context, req weather.EnsembleRequest) (weather.EnsembleResponse, error)
	Nowcast(ctx context.Context, req weather.NowcastRequest) (weather.NowcastResponse, error)
}

// Scheduler periodically issues ensemble forecasts and nowcasts for the
// configured locations so their records accumulate in the store.
type Scheduler struct {
	scheduler *gocron.Scheduler
	issuer    Issuer
	logger    *slog.Logger
	locations []weather.Location
	interval  time.Duration
	days      int
	hours     int
	timeout   time.Duration
}

// New creates a new Scheduler.
func New(locations []weather.Location, interval time.Duration, days, hours int, issuer Issuer, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		issuer:    issuer,
		logger:    logger,
		locations: locations,
		interval:  interval,
		days:      days,
		hours:     hours,
		timeout:   30 * time.Second,
	}
}

// Start schedules the periodic job and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	if len(s.locations) == 0 {
		s.logger.Info("scheduler: no locations configured; nothing to schedule")
		return nil
	}

	_, err := s.scheduler.Every(s.interval).Do(func() {
		s.RunOnce(context.Background())
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	s.logger.Info("scheduler started",
		slog.Duration("interval", s.interval),
		slog.Int("locations", len(s.locations)))
	return nil
}

// RunOnce issues one ensemble forecast and one nowcast per location,
// concurrently, each bounded by the job timeout.
func (s *Scheduler) RunOnce(ctx context.Context) {
	s.logger.Debug("scheduler: running issuance job")

	var wg sync.WaitGroup
	for _, loc := range s.locations {
		wg.Add(1)
		go func() {
			defer wg.Done()

			ctx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()

			if _, err := s.issuer.EnsembleForecast(ctx, weather.EnsembleRequest{Location: loc, Days: s.days}); err != nil {
				s.logger.Warn("scheduler: ensemble issuance failed",
					slog.String("location", loc.Key()), logging.Err(err))
			}
			if _, err := s.issuer.Nowcast(ctx, weather.NowcastRequest{Location: loc, Hours: s.hours}); err != nil {
				s.logger.Warn("scheduler: nowcast issuance failed",
					slog.String("location", loc.Key()), logging.Err(err))
			}
		}()
	}
	wg.Wait()
	s.logger.Debug("scheduler: completed issuance job")
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
