package sweeper

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/renegade-fi/fee-sweeper/db"
	"github.com/renegade-fi/fee-sweeper/external"
	"github.com/renegade-fi/fee-sweeper/logging"
	"github.com/renegade-fi/fee-sweeper/metrics"
)

// ConfirmOnce polls the redemptions of one batch of in-flight fees. Fees whose redemption is still
// pending, or could not be polled, are left in flight.
func (s *FeeSweeper) ConfirmOnce(ctx context.Context) error {
	fees, err := s.feeDao.FetchInFlight(ctx, s.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, fee := range fees {
		if err = s.confirmFee(ctx, fee); err != nil {
			if db.IsRetryableDBError(err) {
				logging.Logger.Warningf("transient store error confirming fee %d, err=%s", fee.Id, err.Error())
				continue
			}
			logging.Logger.Errorf("failed to confirm fee %d, err=%s", fee.Id, err.Error())
		}
	}
	return nil
}

func (s *FeeSweeper) confirmFee(ctx context.Context, fee *db.Fee) error {
	rpcCtx, cancel := context.WithTimeout(ctx, s.rpcTimeout())
	defer cancel()
	c, err := s.gateway.PollConfirmation(rpcCtx, common.HexToHash(fee.RedemptionTxHash))
	if err != nil {
		logging.Logger.Warningf("poll redemption %s of fee %d, err=%s", fee.RedemptionTxHash, fee.Id, err.Error())
		return nil
	}
	switch c.Status {
	case external.ConfirmationConfirmed:
		err = s.feeDao.MarkConfirmed(ctx, fee.Id, c.Block)
		if err == nil {
			metrics.FeesConfirmedCounter.Inc()
			logging.Logger.Infof("fee %d confirmed in block %d, redemption=%s", fee.Id, c.Block, fee.RedemptionTxHash)
		}
	case external.ConfirmationReverted:
		err = s.feeDao.MarkFailed(ctx, fee.Id, db.ReasonChainReverted, c.Reason)
		if err == nil {
			metrics.FeesFailedCounter.WithLabelValues(string(db.ReasonChainReverted)).Inc()
			logging.Logger.Warningf("fee %d redemption %s reverted", fee.Id, fee.RedemptionTxHash)
		}
	default:
		return nil
	}
	if errors.Is(err, db.ErrConflict) {
		return nil
	}
	return err
}
