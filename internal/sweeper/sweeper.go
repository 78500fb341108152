package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"admin-auth-service/internal/metrics"
)

const DefaultInterval = 2 * time.Minute

type SessionSweeper interface {
	SweepExpired(ctx context.Context) int
}

type WindowSweeper interface {
	Sweep() int
}

type Redeliverer interface {
	Redeliver(ctx context.Context) int
}

// Result counts what one pass removed or delivered.
type Result struct {
	Sessions    int
	RateLimits  int
	Redelivered int
}

// Sweeper periodically evicts expired sessions, drops stale rate-limit
// windows and retries audit events that missed the sink.
type Sweeper struct {
	sessions  SessionSweeper
	limits    WindowSweeper
	audit     Redeliverer
	interval  time.Duration
	timeout   time.Duration
	scheduler *cron.Cron
	logger    *zap.Logger
}

func New(sessions SessionSweeper, limits WindowSweeper, audit Redeliverer, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	cl := cronLogger{logger.Sugar()}
	return &Sweeper{
		sessions: sessions,
		limits:   limits,
		audit:    audit,
		interval: interval,
		timeout:  interval / 2,
		scheduler: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: logger,
	}
}

// RunOnce performs a single pass. Nil collaborators are skipped.
func (s *Sweeper) RunOnce(ctx context.Context) Result {
	start := time.Now()
	var res Result

	if s.sessions != nil {
		res.Sessions = s.sessions.SweepExpired(ctx)
	}
	if s.limits != nil {
		res.RateLimits = s.limits.Sweep()
	}
	if s.audit != nil {
		res.Redelivered = s.audit.Redeliver(ctx)
	}

	metrics.ObserveSweep(time.Since(start).Seconds())
	if res != (Result{}) {
		s.logger.Info("sweep completed",
			zap.Int("sessions_expired", res.Sessions),
			zap.Int("rate_limit_windows", res.RateLimits),
			zap.Int("audit_redelivered", res.Redelivered),
			zap.Duration("took", time.Since(start)))
	}
	return res
}

func (s *Sweeper) Start() error {
	schedule := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.scheduler.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		s.RunOnce(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule sweeper: %w", err)
	}
	s.scheduler.Start()
	s.logger.Info("sweeper started", zap.Duration("interval", s.interval))
	return nil
}

// Stop waits for a running pass to finish or ctx to expire.
func (s *Sweeper) Stop(ctx context.Context) {
	done := s.scheduler.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("sweeper stop timed out")
	}
}

type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
