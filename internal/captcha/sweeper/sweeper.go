// Package sweeper runs captcha garbage collection in the background.
package sweeper

import (
	"context"
	"time"

	"github.com/jmerrifield20/captcha/internal/captcha/service"
	"go.uber.org/zap"
)

// collector is the part of *service.CaptchaService the sweeper drives.
type collector interface {
	Sweep(ctx context.Context) (service.Result, error)
	Reconcile(ctx context.Context) (service.Result, error)
}

// Config holds sweeper timing.
type Config struct {
	Interval time.Duration
	Timeout  time.Duration
	// Reconcile also removes orphaned images on every tick.
	Reconcile bool
}

// Sweeper periodically purges expired challenges.
type Sweeper struct {
	svc    collector
	cfg    Config
	logger *zap.Logger
}

// New creates a Sweeper. Zero durations default to a 5 minute interval and
// a 30 second per-run timeout.
func New(svc collector, cfg Config, logger *zap.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Sweeper{svc: svc, cfg: cfg, logger: logger}
}

// Run sweeps once per interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("captcha sweeper started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Bool("reconcile", s.cfg.Reconcile),
	)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("captcha sweeper stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep (and reconcile, if enabled).
func (s *Sweeper) RunOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	if _, err := s.svc.Sweep(runCtx); err != nil {
		s.logger.Warn("captcha sweep error", zap.Error(err))
	}
	if !s.cfg.Reconcile {
		return
	}
	if _, err := s.svc.Reconcile(runCtx); err != nil {
		s.logger.Warn("captcha reconcile error", zap.Error(err))
	}
}
