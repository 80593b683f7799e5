package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/renegade-fi/fee-sweeper/cache"
	"github.com/renegade-fi/fee-sweeper/db"
	"github.com/renegade-fi/fee-sweeper/logging"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

type Fee interface {
	GetFee(ctx context.Context, id int64) (*db.Fee, error)
	ListFees(ctx context.Context, status string, limit, offset int) ([]*db.Fee, error)
	RequeueFee(ctx context.Context, id int64, resetAttempts bool) (*db.Fee, error)
	GetStats(ctx context.Context) (map[db.FeeStatus]int64, error)
}

type FeeService struct {
	feeDB        db.FeeDao
	cacheService cache.Cache
}

func NewFeeService(feeDB db.FeeDao, cache cache.Cache) Fee {
	return &FeeService{
		feeDB:        feeDB,
		cacheService: cache,
	}
}

// GetFee serves confirmed fees from the cache, they never change again.
func (s *FeeService) GetFee(ctx context.Context, id int64) (*db.Fee, error) {
	key := strconv.FormatInt(id, 10)
	if v, found := s.cacheService.Get(key); found {
		return v.(*db.Fee), nil
	}
	fee, err := s.feeDB.GetFee(ctx, id)
	if err != nil {
		return nil, toServiceErr(err)
	}
	if fee.Status == db.StatusConfirmed {
		s.cacheService.Set(key, fee)
	}
	return fee, nil
}

func (s *FeeService) ListFees(ctx context.Context, status string, limit, offset int) ([]*db.Fee, error) {
	var feeStatus db.FeeStatus
	if status != "" {
		parsed, err := db.ParseFeeStatus(status)
		if err != nil {
			return nil, BadRequestErr.Enrich(err.Error())
		}
		feeStatus = parsed
	}
	if limit < 0 || offset < 0 {
		return nil, BadRequestErr.Enrich("limit and offset should not be negative")
	}
	if limit == 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	fees, err := s.feeDB.ListFees(ctx, feeStatus, limit, offset)
	if err != nil {
		return nil, toServiceErr(err)
	}
	return fees, nil
}

func (s *FeeService) RequeueFee(ctx context.Context, id int64, resetAttempts bool) (*db.Fee, error) {
	if err := s.feeDB.Requeue(ctx, id, resetAttempts); err != nil {
		return nil, toServiceErr(err)
	}
	logging.Logger.Infof("fee %d requeued by operator, reset_attempts=%t", id, resetAttempts)
	return s.GetFee(ctx, id)
}

func (s *FeeService) GetStats(ctx context.Context) (map[db.FeeStatus]int64, error) {
	counts, err := s.feeDB.CountByStatus(ctx)
	if err != nil {
		return nil, toServiceErr(err)
	}
	return counts, nil
}

func toServiceErr(err error) error {
	var conflict *db.ConflictError
	switch {
	case errors.Is(err, db.ErrFeeNotFound):
		return NotFoundErr
	case errors.As(err, &conflict):
		return ConflictErr.Enrich(fmt.Sprintf("fee %d is not %s", conflict.FeeID, conflict.Expected))
	default:
		logging.Logger.Errorf("fee store error, err=%s", err.Error())
		return InternalErr
	}
}
