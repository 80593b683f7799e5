package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

var (
	ErrLockWaitTimeoutCode = 1205
	ErrDeadlockCode        = 1213
	ErrFeeNotFound         = errors.New("fee not found")
	ErrConflict            = errors.New("fee status conflict")
	ErrInvalidFee          = errors.New("invalid fee")
)

// ConflictError is returned when a conditional transition finds the fee in another state than expected,
// i.e. another worker won the race.
type ConflictError struct {
	FeeID    int64
	Expected FeeStatus
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("fee %d is not %s or is claimed by another worker", e.FeeID, e.Expected)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

func MysqlErrCode(err error) int {
	var mysqlErr *mysql.MySQLError
	if !errors.As(err, &mysqlErr) {
		return 0
	}
	return int(mysqlErr.Number)
}

// IsRetryableDBError reports whether err is a transient store failure worth retrying on the next scan.
func IsRetryableDBError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	code := MysqlErrCode(err)
	return code == ErrDeadlockCode || code == ErrLockWaitTimeoutCode
}
