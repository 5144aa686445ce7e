package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sweeper runs SweepExpired and PurgeTerminated on a fixed interval in the background.
type Sweeper struct {
	manager  *Manager
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewSweeper returns a stopped sweeper. interval defaults to five minutes.
func NewSweeper(m *Manager, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{manager: m, interval: interval, logger: logger}
}

// Start launches the loop. Calling Start on a running sweeper is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.running = true
	go s.loop(ctx, s.done)
}

// Stop cancels the loop and waits for an in-flight pass to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	done := s.done
	s.running = false
	s.mu.Unlock()
	<-done
}

// RunOnce performs a single sweep and purge pass.
func (s *Sweeper) RunOnce(ctx context.Context) (expired, purged int, err error) {
	expired, err = s.manager.SweepExpired(ctx)
	if err != nil {
		return expired, 0, err
	}
	purged, err = s.manager.PurgeTerminated(ctx)
	return expired, purged, err
}

func (s *Sweeper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, purged, err := s.RunOnce(ctx)
			if err != nil {
				s.logger.Error("session sweep failed", zap.Error(err))
				continue
			}
			if expired > 0 || purged > 0 {
				s.logger.Info("session sweep", zap.Int("expired", expired), zap.Int("purged", purged))
			}
		}
	}
}
