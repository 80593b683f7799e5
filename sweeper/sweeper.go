package sweeper

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/renegade-fi/fee-sweeper/commitment"
	"github.com/renegade-fi/fee-sweeper/config"
	"github.com/renegade-fi/fee-sweeper/db"
	"github.com/renegade-fi/fee-sweeper/external"
	"github.com/renegade-fi/fee-sweeper/logging"
	"github.com/renegade-fi/fee-sweeper/secret"
)

// FeeSweeper drives pending fees through redemption. Any number of sweepers may share a ledger, the
// store's conditional transitions decide which of them acts on a fee.
type FeeSweeper struct {
	feeDao  db.FeeDao
	gateway external.ChainGateway
	opener  *commitment.Opener
	cfg     config.SweeperConfig
	owner   string
	now     func() time.Time
}

type Option func(*FeeSweeper)

// WithClock must use the same time source as the store.
func WithClock(now func() time.Time) Option {
	return func(s *FeeSweeper) {
		s.now = now
	}
}

// WithOwner sets the lease owner id, a random uuid by default.
func WithOwner(owner string) Option {
	return func(s *FeeSweeper) {
		s.owner = owner
	}
}

func NewFeeSweeper(feeDao db.FeeDao, gateway external.ChainGateway, cfg config.SweeperConfig, opts ...Option) *FeeSweeper {
	s := &FeeSweeper{
		feeDao:  feeDao,
		gateway: gateway,
		opener:  commitment.NewOpener(),
		cfg:     cfg.WithDefaults(),
		owner:   uuid.NewString(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *FeeSweeper) Owner() string {
	return s.owner
}

// StartLoop runs the sweep and confirmation loops until ctx is done.
func (s *FeeSweeper) StartLoop(ctx context.Context) {
	logging.Logger.Infof("fee sweeper %s started, workers=%d, batch_size=%d, max_attempts=%d",
		s.owner, s.cfg.Workers, s.cfg.BatchSize, s.cfg.MaxAttempts)
	go s.loop(ctx, "sweep", time.Duration(s.cfg.ScanIntervalMs)*time.Millisecond, s.RunCycle)
	go s.loop(ctx, "confirm", time.Duration(s.cfg.ConfirmIntervalMs)*time.Millisecond, s.ConfirmOnce)
}

func (s *FeeSweeper) loop(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logging.Logger.Infof("%s loop stopped", name)
			return
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				logging.Logger.Errorf("%s cycle failed, err=%s", name, err.Error())
			}
		}
	}
}

// RunCycle requeues eligible failed fees, sweeps one batch and refreshes the status gauges.
func (s *FeeSweeper) RunCycle(ctx context.Context) error {
	if err := s.RequeueOnce(ctx); err != nil {
		logging.Logger.Errorf("auto requeue failed, err=%s", err.Error())
	}
	err := s.SweepOnce(ctx)
	s.updateStatusGauges(ctx)
	return err
}

// SweepOnce fetches one batch of redeemable fees and processes them on the worker pool. It returns
// secret.ErrSecretUnavailable, without dispatching the rest of the batch, when the signing key
// cannot be loaded.
func (s *FeeSweeper) SweepOnce(ctx context.Context) error {
	fees, err := s.feeDao.FetchPending(ctx, s.cfg.BatchSize, s.cfg.SerializePerMint)
	if err != nil {
		return err
	}
	if s.cfg.SerializePerMint {
		fees = firstPerMint(fees)
	}
	if len(fees) == 0 {
		return nil
	}
	logging.Logger.Debugf("sweeping %d fees", len(fees))

	var (
		g       errgroup.Group
		aborted atomic.Bool
	)
	g.SetLimit(s.cfg.Workers)
	for _, fee := range fees {
		if aborted.Load() {
			break
		}
		g.Go(func() error {
			if aborted.Load() {
				return nil
			}
			err := s.processFee(ctx, fee)
			if err == nil {
				return nil
			}
			if errors.Is(err, secret.ErrSecretUnavailable) {
				aborted.Store(true)
				return err
			}
			if db.IsRetryableDBError(err) {
				logging.Logger.Warningf("transient store error on fee %d, retry next scan, err=%s", fee.Id, err.Error())
				return nil
			}
			logging.Logger.Errorf("failed to process fee %d, err=%s", fee.Id, err.Error())
			return nil
		})
	}
	return g.Wait()
}

// firstPerMint keeps the first fee of every mint, preserving order.
func firstPerMint(fees []*db.Fee) []*db.Fee {
	seen := make(map[string]struct{}, len(fees))
	kept := make([]*db.Fee, 0, len(fees))
	for _, f := range fees {
		if _, ok := seen[f.Mint]; ok {
			continue
		}
		seen[f.Mint] = struct{}{}
		kept = append(kept, f)
	}
	return kept
}

func (s *FeeSweeper) rpcTimeout() time.Duration {
	return time.Duration(s.cfg.RPCTimeoutMs) * time.Millisecond
}

func (s *FeeSweeper) lease() time.Duration {
	return time.Duration(s.cfg.LeaseMs) * time.Millisecond
}
