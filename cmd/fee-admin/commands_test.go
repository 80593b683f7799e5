package main

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/jessevdk/go-flags"
	"github.com/stretchr/testify/require"

	"github.com/renegade-fi/fee-sweeper/db"
	"github.com/renegade-fi/fee-sweeper/testutil"
)

const (
	mint     = "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1"
	receiver = "0x0000000000000000000000000000000000000fee"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	prev := out
	out = buf
	t.Cleanup(func() { out = prev })
	return buf
}

func TestInsertListShow(t *testing.T) {
	feeDB := db.NewFeeSvcDB(testutil.NewLedgerDB(t))
	buf := captureOutput(t)

	insert := &insertCommand{TxHash: "0x01", Mint: mint, Amount: "0.000000000000000001", Blinder: "987654321987654321", Receiver: receiver, feeDB: feeDB}
	require.NoError(t, insert.Execute(nil))
	require.Contains(t, buf.String(), "fee 1 inserted")

	buf.Reset()
	require.NoError(t, (&listCommand{Status: "pending", Limit: 10, feeDB: feeDB}).Execute(nil))
	require.Contains(t, buf.String(), "0.000000000000000001")

	buf.Reset()
	show := &showCommand{feeDB: feeDB}
	show.Args.ID = 1
	require.NoError(t, show.Execute(nil))
	require.Contains(t, buf.String(), `"status": "pending"`)
	require.NotContains(t, buf.String(), "987654321987654321")

	bad := &insertCommand{TxHash: "0x02", Mint: mint, Amount: "-1", Blinder: "1", Receiver: receiver, feeDB: feeDB}
	require.True(t, errors.Is(bad.Execute(nil), db.ErrInvalidFee))
}

func TestRequeueAndStats(t *testing.T) {
	feeDB := db.NewFeeSvcDB(testutil.NewLedgerDB(t))
	ctx := context.Background()
	buf := captureOutput(t)
	require.NoError(t, feeDB.InsertFee(ctx, testutil.NewFee("0x01", mint, "1", "2", receiver)))

	requeue := &requeueCommand{feeDB: feeDB}
	requeue.Args.ID = 1
	require.True(t, errors.Is(requeue.Execute(nil), db.ErrConflict))

	require.NoError(t, feeDB.FailPending(ctx, 1, "", db.ReasonRejectedByChain, "reverted"))
	require.NoError(t, requeue.Execute(nil))
	fee, err := feeDB.GetFee(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, db.StatusPending, fee.Status)

	buf.Reset()
	require.NoError(t, (&statsCommand{feeDB: feeDB}).Execute(nil))
	require.Contains(t, buf.String(), "pending    1")
	require.Contains(t, buf.String(), "failed     0")
}

func TestParserRejectsUnknownStatus(t *testing.T) {
	parser := newParser()
	parser.Options = flags.None
	_, err := parser.ParseArgs([]string{"list", "--status", "bogus"})
	var flagsErr *flags.Error
	require.True(t, errors.As(err, &flagsErr))
	require.Equal(t, flags.ErrInvalidChoice, flagsErr.Type)
}
