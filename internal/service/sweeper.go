package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Hashibutogarasu/karasu-lab-auth/internal/config"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/repository"
)

// Sweeper periodically deletes expired authorization codes and granted-token
// rows. Expired rows are already dead at read time; the sweep just keeps the
// tables from growing without bound.
type Sweeper struct {
	codes    repository.CodeRepository
	tokens   repository.TokenRepository
	interval time.Duration
	logger   *zap.Logger
}

// NewSweeper wires dependencies.
func NewSweeper(codes repository.CodeRepository, tokens repository.TokenRepository, cfg config.Config, logger *zap.Logger) *Sweeper {
	return &Sweeper{codes: codes, tokens: tokens, interval: cfg.SweepInterval, logger: logger}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	now := time.Now()

	codes, err := s.codes.DeleteExpired(ctx, now)
	if err != nil {
		s.logger.Warn("sweep authorization codes", zap.Error(err))
	}
	tokens, err := s.tokens.DeleteExpired(ctx, now)
	if err != nil {
		s.logger.Warn("sweep granted tokens", zap.Error(err))
	}

	if codes > 0 || tokens > 0 {
		s.logger.Info("expiry sweep",
			zap.Int64("codes_deleted", codes),
			zap.Int64("tokens_deleted", tokens),
		)
	}
}
