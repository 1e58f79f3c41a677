package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	defaultSpec      = "@daily"
	defaultRetention = 30 * 24 * time.Hour
	runTimeout       = time.Minute
)

// InvitePurger removes consumed invite tokens older than retention.
type InvitePurger interface {
	PurgeUsedInvites(ctx context.Context, retention time.Duration) (int64, error)
}

// Sweeper periodically purges used invite tokens.
type Sweeper struct {
	invites   InvitePurger
	cron      *cron.Cron
	spec      string
	retention time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	started bool
}

func NewSweeper(log *slog.Logger, invites InvitePurger, spec string, retention time.Duration) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	if spec == "" {
		spec = defaultSpec
	}
	if retention <= 0 {
		retention = defaultRetention
	}
	return &Sweeper{
		invites:   invites,
		cron:      cron.New(cron.WithLogger(cron.DiscardLogger)),
		spec:      spec,
		retention: retention,
		logger:    log.With(slog.String("service", "schedule")),
	}
}

// Start registers the sweep job and launches the scheduler.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.invites == nil {
		return nil
	}
	if _, err := s.cron.AddFunc(s.spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		defer cancel()
		_, _ = s.RunOnce(ctx)
	}); err != nil {
		return err
	}
	s.cron.Start()
	s.started = true
	s.logger.Info("invite sweep scheduled", slog.String("spec", s.spec), slog.Duration("retention", s.retention))
	return nil
}

// Stop halts the scheduler and waits for a running sweep, bounded by ctx.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	s.started = false
	s.mu.Unlock()
	if !started {
		return nil
	}
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce purges immediately and reports the number of removed tokens.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	if s.invites == nil {
		return 0, nil
	}
	n, err := s.invites.PurgeUsedInvites(ctx, s.retention)
	if err != nil {
		s.logger.Warn("invite sweep failed", slog.Any("error", err))
		return 0, err
	}
	if n > 0 {
		s.logger.Info("used invites purged", slog.Int64("count", n))
	}
	return n, nil
}
