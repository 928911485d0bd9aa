package enforcement

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"go.uber.org/zap"
)

// Sweeper lifts expired timed restrictions on a cron schedule.
type Sweeper struct {
	ledger *Ledger
	cron   string
	logger *zap.Logger
}

func NewSweeper(ledger *Ledger, cron string, logger *zap.Logger) (*Sweeper, error) {
	if !gronx.IsValid(cron) {
		return nil, fmt.Errorf("invalid sweep cron expression: %s", cron)
	}
	return &Sweeper{
		ledger: ledger,
		cron:   cron,
		logger: logger.Named("sweeper"),
	}, nil
}

// Run blocks until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("Sweeper started", zap.String("cron", s.cron))
	for {
		next, err := gronx.NextTickAfter(s.cron, time.Now(), false)
		if err != nil {
			s.logger.Error("Failed to compute next tick", zap.Error(err))
			next = time.Now().Add(time.Minute)
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("Sweeper stopped")
			return nil
		case <-timer.C:
		}

		if _, err := s.ledger.LiftExpired(ctx); err != nil {
			s.logger.Error("Sweep failed", zap.Error(err))
		}
	}
}
