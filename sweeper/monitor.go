package sweeper

import (
	"context"
	"errors"
	"time"

	"github.com/renegade-fi/fee-sweeper/db"
	"github.com/renegade-fi/fee-sweeper/logging"
	"github.com/renegade-fi/fee-sweeper/metrics"
)

// RequeueOnce moves RetryExhausted fees that have been failed for auto_requeue_after_ms back to
// pending with a fresh attempt budget, at most max_auto_requeues times per fee. A zero
// auto_requeue_after_ms disables it.
func (s *FeeSweeper) RequeueOnce(ctx context.Context) error {
	if s.cfg.AutoRequeueAfterMs <= 0 || s.cfg.MaxAutoRequeues <= 0 {
		return nil
	}
	failedBefore := s.now().Add(-time.Duration(s.cfg.AutoRequeueAfterMs) * time.Millisecond)
	fees, err := s.feeDao.FetchRequeueCandidates(ctx, db.ReasonRetryExhausted, failedBefore, s.cfg.MaxAutoRequeues, s.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, fee := range fees {
		if err = s.feeDao.Requeue(ctx, fee.Id, true); err != nil {
			if errors.Is(err, db.ErrConflict) {
				continue
			}
			return err
		}
		metrics.FeesRequeuedCounter.Inc()
		logging.Logger.Infof("requeued fee %d, requeue=%d", fee.Id, fee.RequeueCount+1)
	}
	return nil
}

func (s *FeeSweeper) updateStatusGauges(ctx context.Context) {
	counts, err := s.feeDao.CountByStatus(ctx)
	if err != nil {
		logging.Logger.Errorf("failed to count fees by status, err=%s", err.Error())
		return
	}
	for status, n := range counts {
		metrics.FeesByStatusGauge.WithLabelValues(string(status)).Set(float64(n))
	}
}
