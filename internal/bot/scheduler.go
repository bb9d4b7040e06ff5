package bot

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"signal-trading-bot/internal/orders"
)

// PaperBook triggers resting paper SL/TP orders against a mark price
type PaperBook interface {
	Evaluate(symbol string, mark float64) (*orders.OpenOrder, bool)
}

// PriceSource returns the latest traded price
type PriceSource interface {
	LastPrice(ctx context.Context, symbol string) (float64, error)
}

// SchedulerConfig holds the periodic job intervals. A zero interval disables the job.
type SchedulerConfig struct {
	DedupInterval     time.Duration
	ReconcileInterval time.Duration
	PaperInterval     time.Duration
	OnRollover        func() // optional, runs after the day rolls over
}

// Scheduler runs the day rollover, dedup clearing, reconcile sweeps and, in dry-run,
// the paper SL/TP monitor
type Scheduler struct {
	cfg      SchedulerConfig
	pipeline *Pipeline
	paper    PaperBook
	prices   PriceSource
	logger   zerolog.Logger
	now      func() time.Time

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewScheduler creates a scheduler. paper and prices may be nil outside dry-run.
func NewScheduler(cfg SchedulerConfig, pipeline *Pipeline, paper PaperBook, prices PriceSource, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		pipeline: pipeline,
		paper:    paper,
		prices:   prices,
		logger:   logger.With().Str("component", "scheduler").Logger(),
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

// Start launches the jobs
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.runDaily(ctx)

	s.every(ctx, "dedup", s.cfg.DedupInterval, func(context.Context) {
		s.pipeline.ClearDedup()
	})
	s.every(ctx, "reconcile", s.cfg.ReconcileInterval, func(ctx context.Context) {
		if _, err := s.pipeline.Reconcile(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Scheduled reconcile failed")
		}
	})
	if s.paper != nil && s.prices != nil {
		s.every(ctx, "paper", s.cfg.PaperInterval, s.checkPaperPositions)
	}
}

// Stop stops every job and waits for them to return
func (s *Scheduler) Stop() {
	close(s.stopChan)
	s.wg.Wait()
	s.logger.Info().Msg("Scheduler stopped")
}

func (s *Scheduler) every(ctx context.Context, name string, interval time.Duration, job func(context.Context)) {
	if interval <= 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		s.logger.Info().Str("job", name).Dur("interval", interval).Msg("Job scheduled")
		for {
			select {
			case <-ticker.C:
				job(ctx)
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			}
		}
	}()
}

// runDaily rolls the session over at every local midnight
func (s *Scheduler) runDaily(ctx context.Context) {
	defer s.wg.Done()
	for {
		timer := time.NewTimer(untilMidnight(s.now()))
		select {
		case <-timer.C:
			s.pipeline.deps.Session.RolloverDay()
			s.logger.Info().Msg("Trading day rolled over")
			if s.cfg.OnRollover != nil {
				s.cfg.OnRollover()
			}
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.stopChan:
			timer.Stop()
			return
		}
	}
}

func (s *Scheduler) checkPaperPositions(ctx context.Context) {
	session := s.pipeline.deps.Session
	for _, pos := range session.Positions() {
		price, err := s.prices.LastPrice(ctx, pos.Symbol)
		if err != nil {
			s.logger.Warn().Err(err).Str("symbol", pos.Symbol).Msg("No mark price for paper position")
			continue
		}
		order, fired := s.paper.Evaluate(pos.Symbol, price)
		if !fired {
			continue
		}
		session.ClosePosition(pos.Symbol)
		s.logger.Info().
			Str("symbol", pos.Symbol).
			Str("trigger", string(order.Kind)).
			Float64("price", price).
			Float64("entry", pos.EntryPrice).
			Msg("Paper position closed")
	}
}

func untilMidnight(now time.Time) time.Duration {
	y, m, d := now.Date()
	next := time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
	return next.Sub(now)
}
