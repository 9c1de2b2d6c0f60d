package session

import (
	"context"
	"fmt"
	"time"

	"github.com/AtoyanMikhail/newsauth/internal/logger"
)

// SweepExpired deletes refresh sessions that are past their expiry.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	n, err := s.sessions.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("session.SweepExpired: %w", err)
	}
	s.metrics.Swept(n)
	return n, nil
}

// RunSweeper calls SweepExpired every interval until ctx is done.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("Session sweeper started", logger.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Session sweeper stopped")
			return
		case <-ticker.C:
			n, err := s.SweepExpired(ctx)
			if err != nil {
				s.logger.Error("Session sweep failed", logger.Error(err))
				continue
			}
			if n > 0 {
				s.logger.Info("Expired sessions removed", logger.Int64("count", n))
			}
		}
	}
}
