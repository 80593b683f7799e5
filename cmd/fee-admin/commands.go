package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/renegade-fi/fee-sweeper/db"
)

var out io.Writer = os.Stdout

type listCommand struct {
	Status string `short:"s" long:"status" description:"Only list fees in this status" choice:"pending" choice:"in_flight" choice:"confirmed" choice:"failed"`
	Limit  int    `short:"l" long:"limit" description:"Max fees to list" default:"50"`
	Offset int    `short:"o" long:"offset" description:"Fees to skip" default:"0"`

	feeDB db.FeeDao
}

func (c *listCommand) Execute(_ []string) error {
	feeDB, err := resolveFeeDB(c.feeDB)
	if err != nil {
		return err
	}
	fees, err := feeDB.ListFees(context.Background(), db.FeeStatus(c.Status), c.Limit, c.Offset)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tMINT\tAMOUNT\tATTEMPTS\tREASON\tREDEMPTION")
	for _, f := range fees {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\t%s\n",
			f.Id, f.Status, f.Mint, f.Amount.String(), f.AttemptCount, f.FailureReason, f.RedemptionTxHash)
	}
	return w.Flush()
}

type showCommand struct {
	Args struct {
		ID int64 `positional-arg-name:"id" required:"yes"`
	} `positional-args:"yes"`

	feeDB db.FeeDao
}

func (c *showCommand) Execute(_ []string) error {
	feeDB, err := resolveFeeDB(c.feeDB)
	if err != nil {
		return err
	}
	fee, err := feeDB.GetFee(context.Background(), c.Args.ID)
	if err != nil {
		return err
	}
	bz, err := json.MarshalIndent(fee, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(bz))
	return err
}

type requeueCommand struct {
	KeepAttempts bool `long:"keep-attempts" description:"Keep the attempt counter instead of resetting it"`
	Args         struct {
		ID int64 `positional-arg-name:"id" required:"yes"`
	} `positional-args:"yes"`

	feeDB db.FeeDao
}

func (c *requeueCommand) Execute(_ []string) error {
	feeDB, err := resolveFeeDB(c.feeDB)
	if err != nil {
		return err
	}
	if err = feeDB.Requeue(context.Background(), c.Args.ID, !c.KeepAttempts); err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "fee %d requeued\n", c.Args.ID)
	return err
}

type statsCommand struct {
	feeDB db.FeeDao
}

func (c *statsCommand) Execute(_ []string) error {
	feeDB, err := resolveFeeDB(c.feeDB)
	if err != nil {
		return err
	}
	counts, err := feeDB.CountByStatus(context.Background())
	if err != nil {
		return err
	}
	for _, s := range []db.FeeStatus{db.StatusPending, db.StatusInFlight, db.StatusConfirmed, db.StatusFailed} {
		fmt.Fprintf(out, "%-10s %d\n", s, counts[s])
	}
	return nil
}

type insertCommand struct {
	TxHash   string `long:"tx-hash" description:"Transaction that created the fee note" required:"yes"`
	Mint     string `long:"mint" description:"Token address" required:"yes"`
	Amount   string `long:"amount" description:"Decimal amount" required:"yes"`
	Blinder  string `long:"blinder" description:"Note blinder as a decimal integer" required:"yes"`
	Receiver string `long:"receiver" description:"Fee receiver address" required:"yes"`

	feeDB db.FeeDao
}

func (c *insertCommand) Execute(_ []string) error {
	feeDB, err := resolveFeeDB(c.feeDB)
	if err != nil {
		return err
	}
	amount, err := db.NumericFromString(c.Amount)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", c.Amount, err)
	}
	blinder, err := db.NumericFromString(c.Blinder)
	if err != nil {
		return fmt.Errorf("invalid blinder: %w", db.ErrInvalidFee)
	}
	fee := &db.Fee{
		TxHash:   c.TxHash,
		Mint:     c.Mint,
		Amount:   amount,
		Blinder:  blinder,
		Receiver: c.Receiver,
	}
	if err = feeDB.InsertFee(context.Background(), fee); err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "fee %d inserted at %s\n", fee.Id, time.Unix(fee.CreatedTime, 0).UTC().Format(time.RFC3339))
	return err
}

func resolveFeeDB(feeDB db.FeeDao) (db.FeeDao, error) {
	if feeDB != nil {
		return feeDB, nil
	}
	return openFeeDB()
}
