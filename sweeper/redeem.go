package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/shopspring/decimal"

	"github.com/renegade-fi/fee-sweeper/commitment"
	"github.com/renegade-fi/fee-sweeper/db"
	"github.com/renegade-fi/fee-sweeper/external"
	"github.com/renegade-fi/fee-sweeper/logging"
	"github.com/renegade-fi/fee-sweeper/metrics"
	"github.com/renegade-fi/fee-sweeper/secret"
)

// processFee takes one attempt at redeeming fee. Only store failures and an unavailable signing
// key are returned, every chain or commitment outcome is recorded on the fee itself.
func (s *FeeSweeper) processFee(ctx context.Context, fee *db.Fee) error {
	claimed, err := s.feeDao.RecordAttempt(ctx, fee.Id, s.owner, s.lease())
	if err != nil {
		if errors.Is(err, db.ErrConflict) {
			logging.Logger.Debugf("fee %d claimed elsewhere, skip", fee.Id)
			return nil
		}
		return err
	}
	if minAmount, ok := s.cfg.MinRedeemAmount(claimed.Mint); ok && claimed.Amount.LessThan(minAmount) {
		return s.deferBelowMinimum(ctx, claimed, minAmount)
	}
	if claimed.AttemptCount > s.cfg.MaxAttempts {
		return s.failPending(ctx, claimed, db.ReasonRetryExhausted,
			fmt.Sprintf("attempt %d exceeds max attempts %d", claimed.AttemptCount, s.cfg.MaxAttempts))
	}

	rpcCtx, cancel := context.WithTimeout(ctx, s.rpcTimeout())
	defer cancel()

	expected, err := s.gateway.FeeCommitments(rpcCtx, claimed.TxHash)
	if err != nil {
		return s.handleChainError(ctx, claimed, err)
	}
	opening, err := s.opener.Open(noteFromFee(claimed), expected)
	if err != nil {
		return s.failPending(ctx, claimed, db.ReasonInvalidCommitment, err.Error())
	}
	utx, err := s.gateway.BuildRedemptionTx(rpcCtx, opening, opening.Receiver)
	if err != nil {
		return s.handleChainError(ctx, claimed, err)
	}
	hash, err := s.gateway.SignAndSubmit(rpcCtx, utx)
	if err != nil {
		return s.handleChainError(ctx, claimed, err)
	}

	// A crash before this update leaves the fee pending with a broadcast redemption. Once the lease
	// expires it is retried and the chain rejects the spent note.
	if err = s.feeDao.MarkInFlight(ctx, claimed.Id, s.owner, hash.Hex()); err != nil {
		if errors.Is(err, db.ErrConflict) {
			logging.Logger.Errorf("fee %d lease lost after submitting redemption %s, the chain rejects the duplicate",
				claimed.Id, hash.Hex())
			return nil
		}
		return fmt.Errorf("mark fee %d in flight with redemption %s: %w", claimed.Id, hash.Hex(), err)
	}
	metrics.FeesSubmittedCounter.Inc()
	logging.Logger.Infof("submitted redemption %s for fee %d, mint=%s, amount=%s, attempt=%d",
		hash.Hex(), claimed.Id, claimed.Mint, claimed.Amount.String(), claimed.AttemptCount)
	return nil
}

func (s *FeeSweeper) handleChainError(ctx context.Context, fee *db.Fee, err error) error {
	if errors.Is(err, secret.ErrSecretUnavailable) {
		// not the fee's fault, the attempt is refunded
		if rErr := s.feeDao.Reschedule(ctx, fee.Id, s.owner, s.now(), true); rErr != nil {
			logging.Logger.Errorf("failed to release fee %d, err=%s", fee.Id, rErr.Error())
		}
		return err
	}
	var rejected *external.RejectedByChainError
	if errors.As(err, &rejected) {
		return s.failPending(ctx, fee, db.ReasonRejectedByChain, rejected.Reason)
	}

	if fee.AttemptCount >= s.cfg.MaxAttempts {
		return s.failPending(ctx, fee, db.ReasonRetryExhausted,
			fmt.Sprintf("attempt %d/%d: %s", fee.AttemptCount, s.cfg.MaxAttempts, err.Error()))
	}
	delay := s.backoffDelay(fee.AttemptCount)
	if rErr := s.feeDao.Reschedule(ctx, fee.Id, s.owner, s.now().Add(delay), false); rErr != nil {
		if errors.Is(rErr, db.ErrConflict) {
			return nil
		}
		return rErr
	}
	metrics.FeesRetriedCounter.Inc()
	logging.Logger.Warningf("fee %d attempt %d/%d failed, retry in %s, err=%s",
		fee.Id, fee.AttemptCount, s.cfg.MaxAttempts, delay, err.Error())
	return nil
}

func (s *FeeSweeper) failPending(ctx context.Context, fee *db.Fee, reason db.FailureReason, detail string) error {
	if err := s.feeDao.FailPending(ctx, fee.Id, s.owner, reason, detail); err != nil {
		if errors.Is(err, db.ErrConflict) {
			return nil
		}
		return err
	}
	metrics.FeesFailedCounter.WithLabelValues(string(reason)).Inc()
	logging.Logger.Warningf("fee %d failed, reason=%s, detail=%s", fee.Id, reason, detail)
	return nil
}

// deferBelowMinimum releases a fee worth less than its mint's minimum without spending an attempt.
func (s *FeeSweeper) deferBelowMinimum(ctx context.Context, fee *db.Fee, minAmount decimal.Decimal) error {
	recheck := time.Duration(s.cfg.MaxBackoffMs) * time.Millisecond
	if err := s.feeDao.Reschedule(ctx, fee.Id, s.owner, s.now().Add(recheck), true); err != nil {
		if errors.Is(err, db.ErrConflict) {
			return nil
		}
		return err
	}
	logging.Logger.Debugf("fee %d amount %s below minimum %s of mint %s, recheck in %s",
		fee.Id, fee.Amount.String(), minAmount.String(), fee.Mint, recheck)
	return nil
}

// backoffDelay returns the jittered delay after the given attempt, attempt 1 waits about
// base_backoff_ms and the delay never exceeds max_backoff_ms.
func (s *FeeSweeper) backoffDelay(attempt int) time.Duration {
	maxDelay := time.Duration(s.cfg.MaxBackoffMs) * time.Millisecond
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Duration(s.cfg.BaseBackoffMs) * time.Millisecond
	b.Multiplier = 2
	b.MaxInterval = maxDelay
	b.Reset()
	delay := b.InitialInterval
	for i := 0; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

func noteFromFee(fee *db.Fee) commitment.Note {
	return commitment.Note{
		TxHash:   fee.TxHash,
		Mint:     fee.Mint,
		Amount:   fee.Amount.Decimal,
		Blinder:  fee.Blinder.Decimal,
		Receiver: fee.Receiver,
	}
}
