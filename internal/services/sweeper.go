package services

import (
	"context"

	"donation-logistics-service/internal/platform/obs"

	"go.uber.org/zap"
)

// SweepSummary is what one expiry pass changed.
type SweepSummary struct {
	ExpirySummary
	Lots int
}

// Sweeper runs the time-driven transitions: request and delivery expiry
// and stock lot expiry. It is triggered from outside, by the server's
// ticker or the dbtool sweep command.
type Sweeper struct {
	requests *RequestLifecycle
	ledger   *StockLedger
	log      *zap.Logger
}

func NewSweeper(requests *RequestLifecycle, ledger *StockLedger, log *zap.Logger) *Sweeper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{requests: requests, ledger: ledger, log: log}
}

// Sweep expires requests first so that legs expired in the same pass are
// reflected on their parents, then lots.
func (s *Sweeper) Sweep(ctx context.Context) (sum SweepSummary, err error) {
	defer obs.Time(ctx, "sweeper.Sweep")(&err)

	sum.ExpirySummary, err = s.requests.ExpireRequests(ctx)
	if err != nil {
		return sum, err
	}
	sum.Lots, err = s.ledger.ExpireLots(ctx)
	if err != nil {
		return sum, err
	}

	if sum.Requests+sum.Deliveries+sum.Lots > 0 || sum.Conflicts > 0 {
		s.log.Info("expiry sweep",
			zap.Int("requests", sum.Requests),
			zap.Int("deliveries", sum.Deliveries),
			zap.Int("lots", sum.Lots),
			zap.Int("conflicts", sum.Conflicts),
		)
	}
	return sum, nil
}
