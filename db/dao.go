package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"
)

type FeeDao interface {
	FeeQueryDB
	FeeTransitionDB
	InsertFee(ctx context.Context, fee *Fee) error
}

type FeeSvcDB struct {
	db  *gorm.DB
	now func() time.Time
}

type Option func(*FeeSvcDB)

// WithClock overrides the time source used for leases, backoff gates and bookkeeping columns.
func WithClock(now func() time.Time) Option {
	return func(d *FeeSvcDB) {
		d.now = now
	}
}

func NewFeeSvcDB(db *gorm.DB, opts ...Option) FeeDao {
	d := &FeeSvcDB{
		db:  db,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *FeeSvcDB) InsertFee(ctx context.Context, fee *Fee) error {
	if fee.Amount.IsNegative() {
		return fmt.Errorf("%w: negative amount %s", ErrInvalidFee, fee.Amount.String())
	}
	if fee.Blinder.IsNegative() || !fee.Blinder.IsInteger() {
		return fmt.Errorf("%w: blinder must be a non-negative integer", ErrInvalidFee)
	}
	if fee.TxHash == "" || fee.Mint == "" || fee.Receiver == "" {
		return fmt.Errorf("%w: tx_hash, mint and receiver are required", ErrInvalidFee)
	}
	now := d.now()
	fee.Id = 0
	fee.Status = StatusPending
	fee.CreatedTime = now.Unix()
	fee.UpdatedTime = now.Unix()
	return d.db.WithContext(ctx).Create(fee).Error
}

type FeeQueryDB interface {
	GetFee(ctx context.Context, id int64) (*Fee, error)
	ListFees(ctx context.Context, status FeeStatus, limit, offset int) ([]*Fee, error)
	CountByStatus(ctx context.Context) (map[FeeStatus]int64, error)
	FetchPending(ctx context.Context, limit int, excludeMintsInFlight bool) ([]*Fee, error)
	FetchInFlight(ctx context.Context, limit int) ([]*Fee, error)
	FetchRequeueCandidates(ctx context.Context, reason FailureReason, failedBefore time.Time, maxRequeues, limit int) ([]*Fee, error)
}

func (d *FeeSvcDB) GetFee(ctx context.Context, id int64) (*Fee, error) {
	fee := Fee{}
	err := d.db.WithContext(ctx).Model(&Fee{}).Where("id = ?", id).Take(&fee).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrFeeNotFound
		}
		return nil, err
	}
	return &fee, nil
}

// ListFees lists fees by ascending id, status may be empty to list all of them.
func (d *FeeSvcDB) ListFees(ctx context.Context, status FeeStatus, limit, offset int) ([]*Fee, error) {
	fees := make([]*Fee, 0)
	q := d.db.WithContext(ctx).Model(&Fee{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Order("id asc").Limit(limit).Offset(offset).Find(&fees).Error; err != nil {
		return fees, err
	}
	return fees, nil
}

func (d *FeeSvcDB) CountByStatus(ctx context.Context) (map[FeeStatus]int64, error) {
	type statusCount struct {
		Status FeeStatus
		Count  int64
	}
	rows := make([]statusCount, 0)
	err := d.db.WithContext(ctx).Model(&Fee{}).Select("status, count(*) as count").Group("status").Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := map[FeeStatus]int64{
		StatusPending:   0,
		StatusInFlight:  0,
		StatusConfirmed: 0,
		StatusFailed:    0,
	}
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

// FetchPending returns redeemable fees in ascending id order: pending, past their backoff gate and not
// leased by a live worker. With excludeMintsInFlight, mints that already have an in-flight redemption
// or a fee leased by a live worker are skipped.
func (d *FeeSvcDB) FetchPending(ctx context.Context, limit int, excludeMintsInFlight bool) ([]*Fee, error) {
	nowMs := d.now().UnixMilli()
	fees := make([]*Fee, 0)
	q := d.db.WithContext(ctx).Model(&Fee{}).
		Where("status = ? AND next_attempt_at <= ?", StatusPending, nowMs).
		Where("(claimed_by = '' OR claim_expires_at <= ?)", nowMs)
	if excludeMintsInFlight {
		busyMints := d.db.Model(&Fee{}).Select("mint").
			Where("status = ? OR (status = ? AND claimed_by <> '' AND claim_expires_at > ?)", StatusInFlight, StatusPending, nowMs)
		q = q.Where("mint NOT IN (?)", busyMints)
	}
	if err := q.Order("id asc").Limit(limit).Find(&fees).Error; err != nil {
		return fees, err
	}
	return fees, nil
}

func (d *FeeSvcDB) FetchInFlight(ctx context.Context, limit int) ([]*Fee, error) {
	fees := make([]*Fee, 0)
	err := d.db.WithContext(ctx).Model(&Fee{}).Where("status = ?", StatusInFlight).
		Order("id asc").Limit(limit).Find(&fees).Error
	if err != nil {
		return fees, err
	}
	return fees, nil
}

func (d *FeeSvcDB) FetchRequeueCandidates(ctx context.Context, reason FailureReason, failedBefore time.Time, maxRequeues, limit int) ([]*Fee, error) {
	fees := make([]*Fee, 0)
	err := d.db.WithContext(ctx).Model(&Fee{}).
		Where("status = ? AND failure_reason = ?", StatusFailed, reason).
		Where("updated_time <= ? AND requeue_count < ?", failedBefore.Unix(), maxRequeues).
		Order("id asc").Limit(limit).Find(&fees).Error
	if err != nil {
		return fees, err
	}
	return fees, nil
}

// FeeTransitionDB holds the only writes to a fee after insertion. Every method is a single conditional
// UPDATE on the expected prior state, a mismatch yields a *ConflictError.
type FeeTransitionDB interface {
	RecordAttempt(ctx context.Context, id int64, owner string, lease time.Duration) (*Fee, error)
	Reschedule(ctx context.Context, id int64, owner string, nextAttemptAt time.Time, refundAttempt bool) error
	MarkInFlight(ctx context.Context, id int64, owner, redemptionTxHash string) error
	MarkConfirmed(ctx context.Context, id int64, block uint64) error
	MarkFailed(ctx context.Context, id int64, reason FailureReason, detail string) error
	FailPending(ctx context.Context, id int64, owner string, reason FailureReason, detail string) error
	Requeue(ctx context.Context, id int64, resetAttempts bool) error
}

// RecordAttempt bumps the attempt counter and leases the pending fee to owner until now+lease. It
// conflicts when the fee is not pending, is still backing off, or is leased by someone else.
func (d *FeeSvcDB) RecordAttempt(ctx context.Context, id int64, owner string, lease time.Duration) (*Fee, error) {
	now := d.now()
	nowMs := now.UnixMilli()
	res := d.db.WithContext(ctx).Model(&Fee{}).
		Where("id = ? AND status = ? AND next_attempt_at <= ?", id, StatusPending, nowMs).
		Where("(claimed_by = '' OR claimed_by = ? OR claim_expires_at <= ?)", owner, nowMs).
		Updates(map[string]interface{}{
			"attempt_count":    gorm.Expr("attempt_count + 1"),
			"last_attempt_at":  nowMs,
			"claimed_by":       owner,
			"claim_expires_at": nowMs + lease.Milliseconds(),
			"updated_time":     now.Unix(),
		})
	if err := d.checkTransition(ctx, res, id, StatusPending); err != nil {
		return nil, err
	}
	return d.GetFee(ctx, id)
}

// Reschedule releases owner's lease on a pending fee and gates its next attempt.
func (d *FeeSvcDB) Reschedule(ctx context.Context, id int64, owner string, nextAttemptAt time.Time, refundAttempt bool) error {
	updates := map[string]interface{}{
		"claimed_by":       "",
		"claim_expires_at": 0,
		"next_attempt_at":  nextAttemptAt.UnixMilli(),
		"updated_time":     d.now().Unix(),
	}
	if refundAttempt {
		updates["attempt_count"] = gorm.Expr("CASE WHEN attempt_count > 0 THEN attempt_count - 1 ELSE 0 END")
	}
	res := d.db.WithContext(ctx).Model(&Fee{}).
		Where("id = ? AND status = ? AND claimed_by = ?", id, StatusPending, owner).
		Updates(updates)
	return d.checkTransition(ctx, res, id, StatusPending)
}

// MarkInFlight records the submitted redemption of a pending fee leased to owner. An empty owner
// matches only an unleased fee.
func (d *FeeSvcDB) MarkInFlight(ctx context.Context, id int64, owner, redemptionTxHash string) error {
	res := d.db.WithContext(ctx).Model(&Fee{}).
		Where("id = ? AND status = ? AND claimed_by = ?", id, StatusPending, owner).
		Updates(map[string]interface{}{
			"status":             StatusInFlight,
			"redemption_tx_hash": redemptionTxHash,
			"claimed_by":         "",
			"claim_expires_at":   0,
			"updated_time":       d.now().Unix(),
		})
	return d.checkTransition(ctx, res, id, StatusPending)
}

func (d *FeeSvcDB) MarkConfirmed(ctx context.Context, id int64, block uint64) error {
	res := d.db.WithContext(ctx).Model(&Fee{}).
		Where("id = ? AND status = ?", id, StatusInFlight).
		Updates(map[string]interface{}{
			"status":          StatusConfirmed,
			"confirmed_block": block,
			"updated_time":    d.now().Unix(),
		})
	return d.checkTransition(ctx, res, id, StatusInFlight)
}

func (d *FeeSvcDB) MarkFailed(ctx context.Context, id int64, reason FailureReason, detail string) error {
	res := d.db.WithContext(ctx).Model(&Fee{}).
		Where("id = ? AND status = ?", id, StatusInFlight).
		Updates(failedUpdates(reason, detail, d.now()))
	return d.checkTransition(ctx, res, id, StatusInFlight)
}

// FailPending terminally fails a pending fee leased to owner that never reached the chain. An empty
// owner matches only an unleased fee.
func (d *FeeSvcDB) FailPending(ctx context.Context, id int64, owner string, reason FailureReason, detail string) error {
	res := d.db.WithContext(ctx).Model(&Fee{}).
		Where("id = ? AND status = ? AND claimed_by = ?", id, StatusPending, owner).
		Updates(failedUpdates(reason, detail, d.now()))
	return d.checkTransition(ctx, res, id, StatusPending)
}

// Requeue moves a failed fee back to pending. The previous redemption hash is kept until a new
// submission overwrites it.
func (d *FeeSvcDB) Requeue(ctx context.Context, id int64, resetAttempts bool) error {
	updates := map[string]interface{}{
		"status":          StatusPending,
		"failure_reason":  "",
		"failure_detail":  "",
		"next_attempt_at": 0,
		"requeue_count":   gorm.Expr("requeue_count + 1"),
		"updated_time":    d.now().Unix(),
	}
	if resetAttempts {
		updates["attempt_count"] = 0
	}
	res := d.db.WithContext(ctx).Model(&Fee{}).
		Where("id = ? AND status = ?", id, StatusFailed).
		Updates(updates)
	return d.checkTransition(ctx, res, id, StatusFailed)
}

func failedUpdates(reason FailureReason, detail string, now time.Time) map[string]interface{} {
	return map[string]interface{}{
		"status":           StatusFailed,
		"failure_reason":   reason,
		"failure_detail":   truncateDetail(detail),
		"claimed_by":       "",
		"claim_expires_at": 0,
		"updated_time":     now.Unix(),
	}
}

// truncateDetail drops invalid UTF-8 and cuts detail to the column size on a rune boundary.
func truncateDetail(detail string) string {
	detail = strings.ToValidUTF8(detail, "")
	if len(detail) <= maxFailureDetail {
		return detail
	}
	cut := maxFailureDetail
	for cut > 0 && !utf8.RuneStart(detail[cut]) {
		cut--
	}
	return detail[:cut]
}

func (d *FeeSvcDB) checkTransition(ctx context.Context, res *gorm.DB, id int64, expected FeeStatus) error {
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}
	if _, err := d.GetFee(ctx, id); err != nil {
		return err
	}
	return &ConflictError{FeeID: id, Expected: expected}
}

func AutoMigrateDB(db *gorm.DB) {
	if err := db.AutoMigrate(&Fee{}); err != nil {
		panic(err)
	}
}
