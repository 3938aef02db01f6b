// Package housekeeping runs the relay's periodic jobs on a cron schedule:
// the presence keep-alive and storage compaction.
package housekeeping

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

// Compactor folds write-ahead state into the main store file.
type Compactor interface {
	Compact(ctx context.Context) error
}

type Config struct {
	Location *time.Location

	// KeepaliveSpec is a cron spec for presence pings; empty disables them.
	KeepaliveSpec string
	// Jitter adds a random delay in [0, Jitter) before each ping.
	Jitter time.Duration
	// CompactSpec is a cron spec for store compaction; empty disables it.
	CompactSpec string
	// Timeout bounds one job run.
	Timeout time.Duration
}

type Service struct {
	cfg      Config
	presence transport.Presence
	store    Compactor
	log      logx.Logger

	parser cron.Parser

	mu sync.Mutex
	c  *cron.Cron
	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) bool
}

// New builds the service. presence and store may be nil; their job is then skipped.
func New(cfg Config, presence transport.Presence, store Compactor, log logx.Logger) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Service{
		cfg:      cfg,
		presence: presence,
		store:    store,
		log:      log.With(logx.String("comp", "housekeeping")),
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		sleep:    sleepCtx,
	}
}

// Run registers the jobs, starts cron and blocks until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	c := cron.New(cron.WithParser(s.parser), cron.WithLocation(s.cfg.Location),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	jobs := 0
	if s.presence != nil && s.cfg.KeepaliveSpec != "" {
		if _, err := c.AddFunc(s.cfg.KeepaliveSpec, func() { s.Keepalive(ctx) }); err != nil {
			return err
		}
		jobs++
	}
	if s.store != nil && s.cfg.CompactSpec != "" {
		if _, err := c.AddFunc(s.cfg.CompactSpec, func() { s.Compact(ctx) }); err != nil {
			return err
		}
		jobs++
	}

	s.mu.Lock()
	s.c = c
	s.mu.Unlock()

	c.Start()
	s.log.Info("housekeeping started", logx.Int("jobs", jobs), logx.String("keepalive", s.cfg.KeepaliveSpec), logx.String("compact", s.cfg.CompactSpec))
	<-ctx.Done()
	<-c.Stop().Done()
	s.log.Info("housekeeping stopped")
	return nil
}

// Keepalive announces presence after a random jitter delay.
func (s *Service) Keepalive(ctx context.Context) {
	if s.cfg.Jitter > 0 {
		if !s.sleep(ctx, time.Duration(rand.Int64N(int64(s.cfg.Jitter)))) {
			return
		}
	}
	jctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	if err := s.presence.SendPresence(jctx); err != nil {
		s.log.Warn("keep-alive failed", logx.Err(err))
		return
	}
	s.log.Debug("keep-alive sent")
}

func (s *Service) Compact(ctx context.Context) {
	jctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	start := time.Now()
	if err := s.store.Compact(jctx); err != nil {
		s.log.Warn("store compaction failed", logx.Err(err))
		return
	}
	s.log.Debug("store compacted", logx.Duration("dur", time.Since(start)))
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
