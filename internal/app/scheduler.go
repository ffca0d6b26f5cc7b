package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bobmcallan/eodscan/internal/common"
)

// cronLogger adapts common.Logger to cron.Logger.
type cronLogger struct {
	logger *common.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}

// RunFunc performs one scheduled run.
type RunFunc func(ctx context.Context) error

// Scheduler runs scans on a cron schedule. A run still in progress when the
// next tick fires causes that tick to be skipped.
type Scheduler struct {
	cron   *cron.Cron
	run    RunFunc
	logger *common.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler registers run on the six-field, seconds-first cron expression.
func NewScheduler(cfg common.ScheduleConfig, run RunFunc, logger *common.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	adapter := cronLogger{logger: logger}
	c := cron.New(
		cron.WithSeconds(),
		cron.WithLocation(cfg.GetLocation()),
		cron.WithLogger(adapter),
		cron.WithChain(cron.Recover(adapter), cron.SkipIfStillRunning(adapter)),
	)

	s := &Scheduler{cron: c, run: run, logger: logger}
	if _, err := c.AddFunc(cfg.Cron, s.tick); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", cfg.Cron, err)
	}
	return s, nil
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	start := time.Now()
	err := s.run(ctx)
	if errors.Is(err, ErrRunInProgress) {
		s.logger.Warn().Msg("Scheduled scan skipped, another run is in progress")
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("Scheduled scan failed")
		return
	}
	s.logger.Info().Dur("elapsed", time.Since(start)).Msg("Scheduled scan complete")
}

// Next returns when the schedule next fires, zero before Start.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// Start begins firing runs. Runs receive a context derived from ctx that is
// cancelled by Stop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info().Time("next", s.Next()).Msg("Scheduler started")
}

// Stop cancels any in-flight run and waits for it to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info().Msg("Scheduler stopped")
}
