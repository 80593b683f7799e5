package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/require"
)

func TestIsRetryableDBError(t *testing.T) {
	deadlock := fmt.Errorf("record attempt: %w", &mysql.MySQLError{Number: 1213, Message: "Deadlock found"})
	require.Equal(t, ErrDeadlockCode, MysqlErrCode(deadlock))
	require.True(t, IsRetryableDBError(deadlock))
	require.True(t, IsRetryableDBError(&mysql.MySQLError{Number: 1205}))
	require.True(t, IsRetryableDBError(context.DeadlineExceeded))

	require.False(t, IsRetryableDBError(&mysql.MySQLError{Number: 1062}))
	require.False(t, IsRetryableDBError(errors.New("syntax error")))
	require.Zero(t, MysqlErrCode(errors.New("syntax error")))
}

func TestConflictErrorIs(t *testing.T) {
	err := fmt.Errorf("mark: %w", &ConflictError{FeeID: 3, Expected: StatusPending})
	require.True(t, errors.Is(err, ErrConflict))
	require.False(t, errors.Is(err, ErrFeeNotFound))
}
