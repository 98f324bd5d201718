// Package keeper is the in-process trigger source: on a cron or interval
// schedule it scans for due time-triggered rules and asks the engine to
// execute them. It holds no special privileges; the engine's due-ness and
// ownership gates are the entire access-control surface.
package keeper

import (
	"context"
	"errors"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"flowvault/internal/clock"
	"flowvault/internal/model"
	"flowvault/internal/rules"
	"flowvault/pkg/logx"
)

// Config controls the keeper loop.
type Config struct {
	Enabled bool
	// Schedule is either a Go duration ("30s", "5m") or a cron expression
	// (5 or 6 fields, descriptors like "@hourly" allowed).
	Schedule string
	// RatePerSec caps rule executions per second per scan. 0 means a
	// conservative default.
	RatePerSec int
	// Identity is the caller identity presented to the engine.
	Identity model.AccountID
}

// Service drives the scan loop.
type Service struct {
	cfg    Config
	eng    *rules.Engine
	log    logx.Logger
	clk    clock.Clock
	parser cron.Parser

	mu        sync.Mutex
	c         *cron.Cron
	runCtx    context.Context
	runCancel context.CancelFunc
}

func New(cfg Config, eng *rules.Engine, log logx.Logger, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.System()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Identity.IsZero() {
		cfg.Identity = "keeper"
	}
	return &Service{
		cfg: cfg,
		eng: eng,
		log: log,
		clk: clk,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// parseSchedule accepts a plain duration or a cron spec.
func (s *Service) parseSchedule(raw string) (cron.Schedule, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = "30s"
	}
	if d, err := time.ParseDuration(raw); err == nil {
		if d < time.Second {
			return nil, errors.New("keeper: schedule interval below 1s")
		}
		return cron.Every(d), nil
	}
	return s.parser.Parse(raw)
}

func (s *Service) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.log.Info("keeper disabled")
		return nil
	}
	sched, err := s.parseSchedule(s.cfg.Schedule)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil // already running
	}
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	runCtx := s.runCtx

	s.c = cron.New()
	s.c.Schedule(sched, cron.FuncJob(func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("panic in keeper scan",
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())))
			}
		}()
		s.scanOnce(runCtx)
	}))
	s.c.Start()
	s.log.Info("keeper started", logx.String("schedule", strings.TrimSpace(s.cfg.Schedule)))
	return nil
}

func (s *Service) Stop() {
	s.mu.Lock()
	c := s.c
	cancel := s.runCancel
	s.c = nil
	s.runCancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if c != nil {
		<-c.Stop().Done()
	}
	s.log.Info("keeper stopped")
}

// scanOnce executes every currently due rule, paced by the rate limit.
// Per-rule failures are logged and skipped; retry is just the next scan.
func (s *Service) scanOnce(ctx context.Context) {
	now := s.clk.Now()
	due, err := s.eng.DueRules(ctx, now)
	if err != nil {
		s.log.Error("due-rule scan failed", logx.Err(err))
		return
	}
	if len(due) == 0 {
		return
	}

	rps := s.cfg.RatePerSec
	if rps <= 0 {
		rps = 10
	}
	lim := rate.NewLimiter(rate.Limit(rps), rps)

	executed := 0
	for _, id := range due {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		err := s.eng.ExecuteRule(ctx, s.cfg.Identity, id)
		switch {
		case err == nil:
			executed++
		case errors.Is(err, rules.ErrTriggerTimeNotReached),
			errors.Is(err, rules.ErrRuleNotActive):
			// Raced with a pause/delete or an earlier execution; drop it.
			s.log.Debug("rule no longer due", logx.Uint64("rule_id", id), logx.Err(err))
		default:
			s.log.Warn("rule execution failed", logx.Uint64("rule_id", id), logx.Err(err))
		}
	}
	s.log.Info("keeper scan complete",
		logx.Int("due", len(due)),
		logx.Int("executed", executed),
		logx.Time("at", now))
}
