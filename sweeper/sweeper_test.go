package sweeper

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/renegade-fi/fee-sweeper/commitment"
	"github.com/renegade-fi/fee-sweeper/config"
	"github.com/renegade-fi/fee-sweeper/db"
	"github.com/renegade-fi/fee-sweeper/external"
	"github.com/renegade-fi/fee-sweeper/secret"
	"github.com/renegade-fi/fee-sweeper/testutil"
)

const (
	weth     = "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1"
	usdc     = "0xaf88d065e77c8cC2239327C5EDb3A432268e5831"
	receiver = "0x0000000000000000000000000000000000000fee"
)

type fakeGateway struct {
	mu            sync.Mutex
	commitments   map[string][]*big.Int
	submitErrs    []error
	submitCalls   int
	submitted     []common.Hash
	confirmations map[common.Hash]external.Confirmation
	// onSubmit runs once, unlocked, at the start of the next SignAndSubmit
	onSubmit func()
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		commitments:   make(map[string][]*big.Int),
		confirmations: make(map[common.Hash]external.Confirmation),
	}
}

func (g *fakeGateway) FeeCommitments(_ context.Context, txHash string) ([]*big.Int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.commitments[txHash], nil
}

func (g *fakeGateway) BuildRedemptionTx(_ context.Context, opening *commitment.Opening, receiver common.Address) (*external.UnsignedTx, error) {
	return &external.UnsignedTx{To: receiver, Data: opening.Commitment.Bytes()}, nil
}

func (g *fakeGateway) SignAndSubmit(context.Context, *external.UnsignedTx) (common.Hash, error) {
	g.mu.Lock()
	hook := g.onSubmit
	g.onSubmit = nil
	g.mu.Unlock()
	if hook != nil {
		hook()
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.submitCalls++
	if len(g.submitErrs) > 0 {
		err := g.submitErrs[0]
		g.submitErrs = g.submitErrs[1:]
		if err != nil {
			return common.Hash{}, err
		}
	}
	hash := common.BigToHash(big.NewInt(int64(len(g.submitted) + 1)))
	g.submitted = append(g.submitted, hash)
	return hash, nil
}

func (g *fakeGateway) PollConfirmation(_ context.Context, hash common.Hash) (external.Confirmation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.confirmations[hash]; ok {
		return c, nil
	}
	return external.Confirmation{Status: external.ConfirmationPending}, nil
}

func (g *fakeGateway) setConfirmation(hash string, c external.Confirmation) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.confirmations[common.HexToHash(hash)] = c
}

func (g *fakeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.submitCalls
}

type harness struct {
	dao     db.FeeDao
	gateway *fakeGateway
	clock   *testutil.Clock
	sweeper *FeeSweeper
	txSeq   int
}

func newHarness(t *testing.T, cfg config.SweeperConfig) *harness {
	t.Helper()
	clock := testutil.NewClock()
	dao := db.NewFeeSvcDB(testutil.NewLedgerDB(t), db.WithClock(clock.Now))
	gw := newFakeGateway()
	return &harness{
		dao:     dao,
		gateway: gw,
		clock:   clock,
		sweeper: NewFeeSweeper(dao, gw, cfg, WithClock(clock.Now), WithOwner("sweeper-1")),
	}
}

func testConfig() config.SweeperConfig {
	return config.SweeperConfig{
		MaxAttempts:   5,
		BaseBackoffMs: 1000,
		MaxBackoffMs:  4000,
		BatchSize:     10,
		Workers:       2,
	}
}

// insertFee stores a fee and, when onChain is set, publishes its commitment in the source tx.
func (h *harness) insertFee(t *testing.T, mint, amount string, onChain bool) *db.Fee {
	t.Helper()
	h.txSeq++
	fee := testutil.NewFee(fmt.Sprintf("0x%064x", h.txSeq), mint, amount, fmt.Sprintf("%d", 1000+h.txSeq), receiver)
	require.NoError(t, h.dao.InsertFee(context.Background(), fee))
	c, err := commitment.NewOpener().Commit(noteFromFee(fee))
	require.NoError(t, err)
	if !onChain {
		c = new(big.Int).Add(c, big.NewInt(1))
	}
	h.gateway.mu.Lock()
	h.gateway.commitments[fee.TxHash] = append(h.gateway.commitments[fee.TxHash], c)
	h.gateway.mu.Unlock()
	return fee
}

func (h *harness) get(t *testing.T, id int64) *db.Fee {
	t.Helper()
	fee, err := h.dao.GetFee(context.Background(), id)
	require.NoError(t, err)
	return fee
}

func retryable() error {
	return &external.RetryableNetworkError{Op: "send transaction", Err: errors.New("connection reset by peer")}
}

func TestHappyPathRedemption(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	fee := h.insertFee(t, weth, "0.25", true)

	require.NoError(t, h.sweeper.SweepOnce(ctx))
	got := h.get(t, fee.Id)
	require.Equal(t, db.StatusInFlight, got.Status)
	require.Equal(t, 1, got.AttemptCount)
	require.NotEmpty(t, got.RedemptionTxHash)

	// still pending on chain
	require.NoError(t, h.sweeper.ConfirmOnce(ctx))
	require.Equal(t, db.StatusInFlight, h.get(t, fee.Id).Status)

	h.gateway.setConfirmation(got.RedemptionTxHash, external.Confirmation{Status: external.ConfirmationConfirmed, Block: 1234})
	require.NoError(t, h.sweeper.ConfirmOnce(ctx))
	got = h.get(t, fee.Id)
	require.Equal(t, db.StatusConfirmed, got.Status)
	require.Equal(t, uint64(1234), got.ConfirmedBlock)

	// confirmed fees are never dispatched again
	h.clock.Advance(time.Hour)
	require.NoError(t, h.sweeper.SweepOnce(ctx))
	require.Equal(t, 1, h.gateway.calls())
	require.Equal(t, db.StatusConfirmed, h.get(t, fee.Id).Status)
}

func TestInvalidCommitmentFailsWithoutSubmission(t *testing.T) {
	h := newHarness(t, testConfig())
	fee := h.insertFee(t, weth, "1", false)

	require.NoError(t, h.sweeper.SweepOnce(context.Background()))
	got := h.get(t, fee.Id)
	require.Equal(t, db.StatusFailed, got.Status)
	require.Equal(t, db.ReasonInvalidCommitment, got.FailureReason)
	require.Equal(t, 1, got.AttemptCount)
	require.NotContains(t, got.FailureDetail, "1001")
	require.Equal(t, 0, h.gateway.calls())
}

func TestRetryableFailuresThenSuccess(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	fee := h.insertFee(t, weth, "2", true)
	h.gateway.submitErrs = []error{retryable(), retryable(), retryable()}

	for i := 1; i <= 3; i++ {
		require.NoError(t, h.sweeper.SweepOnce(ctx))
		got := h.get(t, fee.Id)
		require.Equal(t, db.StatusPending, got.Status)
		require.Equal(t, i, got.AttemptCount)
		require.Greater(t, got.NextAttemptAt, h.clock.Now().UnixMilli())

		// backing off
		require.NoError(t, h.sweeper.SweepOnce(ctx))
		require.Equal(t, i, h.gateway.calls())
		h.clock.Advance(5 * time.Second)
	}

	require.NoError(t, h.sweeper.SweepOnce(ctx))
	got := h.get(t, fee.Id)
	require.Equal(t, db.StatusInFlight, got.Status)
	require.Equal(t, 4, got.AttemptCount)

	h.gateway.setConfirmation(got.RedemptionTxHash, external.Confirmation{Status: external.ConfirmationConfirmed, Block: 7})
	require.NoError(t, h.sweeper.ConfirmOnce(ctx))
	got = h.get(t, fee.Id)
	require.Equal(t, db.StatusConfirmed, got.Status)
	require.Equal(t, 4, got.AttemptCount)
}

func TestRetryExhausted(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 2
	h := newHarness(t, cfg)
	ctx := context.Background()
	fee := h.insertFee(t, weth, "2", true)
	h.gateway.submitErrs = []error{retryable(), retryable()}

	require.NoError(t, h.sweeper.SweepOnce(ctx))
	require.Equal(t, db.StatusPending, h.get(t, fee.Id).Status)
	h.clock.Advance(5 * time.Second)
	require.NoError(t, h.sweeper.SweepOnce(ctx))

	got := h.get(t, fee.Id)
	require.Equal(t, db.StatusFailed, got.Status)
	require.Equal(t, db.ReasonRetryExhausted, got.FailureReason)
	require.Equal(t, 2, got.AttemptCount)

	h.clock.Advance(time.Hour)
	require.NoError(t, h.sweeper.SweepOnce(ctx))
	require.Equal(t, 2, h.gateway.calls())
}

func TestPerMintSerialization(t *testing.T) {
	cfg := testConfig()
	cfg.SerializePerMint = true
	h := newHarness(t, cfg)
	ctx := context.Background()
	first := h.insertFee(t, weth, "1", true)
	second := h.insertFee(t, weth, "1", true)
	other := h.insertFee(t, usdc, "5", true)

	require.NoError(t, h.sweeper.SweepOnce(ctx))
	require.Equal(t, db.StatusInFlight, h.get(t, first.Id).Status)
	require.Equal(t, db.StatusInFlight, h.get(t, other.Id).Status)
	got := h.get(t, second.Id)
	require.Equal(t, db.StatusPending, got.Status)
	require.Equal(t, 0, got.AttemptCount)

	require.NoError(t, h.sweeper.SweepOnce(ctx))
	require.Equal(t, db.StatusPending, h.get(t, second.Id).Status)

	hash := h.get(t, first.Id).RedemptionTxHash
	h.gateway.setConfirmation(hash, external.Confirmation{Status: external.ConfirmationConfirmed, Block: 3})
	require.NoError(t, h.sweeper.ConfirmOnce(ctx))
	require.NoError(t, h.sweeper.SweepOnce(ctx))
	require.Equal(t, db.StatusInFlight, h.get(t, second.Id).Status)
}

func TestPerMintSerializationAcrossSweepers(t *testing.T) {
	cfg := testConfig()
	cfg.SerializePerMint = true
	h := newHarness(t, cfg)
	ctx := context.Background()
	first := h.insertFee(t, weth, "1", true)
	second := h.insertFee(t, weth, "2", true)
	other := NewFeeSweeper(h.dao, h.gateway, cfg, WithClock(h.clock.Now), WithOwner("sweeper-2"))

	// the second sweeper scans while the first is submitting the first fee
	var otherErr error
	h.gateway.onSubmit = func() { otherErr = other.SweepOnce(ctx) }
	require.NoError(t, h.sweeper.SweepOnce(ctx))
	require.NoError(t, otherErr)

	require.Equal(t, 1, h.gateway.calls())
	require.Equal(t, db.StatusInFlight, h.get(t, first.Id).Status)
	got := h.get(t, second.Id)
	require.Equal(t, db.StatusPending, got.Status)
	require.Equal(t, 0, got.AttemptCount)

	fees, err := h.dao.ListFees(ctx, db.StatusInFlight, 100, 0)
	require.NoError(t, err)
	require.Len(t, fees, 1)
}

func TestExpiredLeaseCannotMarkInFlight(t *testing.T) {
	cfg := testConfig()
	cfg.LeaseMs = 1000
	h := newHarness(t, cfg)
	ctx := context.Background()
	fee := h.insertFee(t, weth, "1", true)

	// the lease runs out mid-submission and another worker takes the fee over
	var takeoverErr error
	h.gateway.onSubmit = func() {
		h.clock.Advance(2 * time.Second)
		_, takeoverErr = h.dao.RecordAttempt(ctx, fee.Id, "sweeper-2", time.Minute)
	}
	require.NoError(t, h.sweeper.SweepOnce(ctx))
	require.NoError(t, takeoverErr)

	got := h.get(t, fee.Id)
	require.Equal(t, db.StatusPending, got.Status)
	require.Equal(t, "sweeper-2", got.ClaimedBy)
	require.Equal(t, 2, got.AttemptCount)
	require.Empty(t, got.RedemptionTxHash)
}

func TestBelowMinimumIsDeferred(t *testing.T) {
	cfg := testConfig()
	cfg.MinRedeemAmounts = map[string]string{strings.ToLower(weth): "0.5"}
	h := newHarness(t, cfg)
	ctx := context.Background()
	dust := h.insertFee(t, weth, "0.1", true)
	large := h.insertFee(t, weth, "0.5", true)
	stable := h.insertFee(t, usdc, "0.1", true)

	require.NoError(t, h.sweeper.SweepOnce(ctx))
	got := h.get(t, dust.Id)
	require.Equal(t, db.StatusPending, got.Status)
	require.Equal(t, 0, got.AttemptCount)
	require.Empty(t, got.ClaimedBy)
	require.Equal(t, h.clock.Now().Add(4*time.Second).UnixMilli(), got.NextAttemptAt)
	require.Equal(t, db.StatusInFlight, h.get(t, large.Id).Status)
	require.Equal(t, db.StatusInFlight, h.get(t, stable.Id).Status)
	require.Equal(t, 2, h.gateway.calls())

	// deferred fees are not rescanned before the recheck
	require.NoError(t, h.sweeper.SweepOnce(ctx))
	require.Equal(t, 0, h.get(t, dust.Id).AttemptCount)
}

func TestRejectedAndReverted(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	rejected := h.insertFee(t, weth, "1", true)
	reverted := h.insertFee(t, usdc, "1", true)
	h.gateway.submitErrs = []error{&external.RejectedByChainError{Reason: "nullifier already spent"}}

	cfg := testConfig()
	cfg.Workers = 1
	h.sweeper = NewFeeSweeper(h.dao, h.gateway, cfg, WithClock(h.clock.Now))
	require.NoError(t, h.sweeper.SweepOnce(ctx))

	got := h.get(t, rejected.Id)
	require.Equal(t, db.StatusFailed, got.Status)
	require.Equal(t, db.ReasonRejectedByChain, got.FailureReason)
	require.Equal(t, "nullifier already spent", got.FailureDetail)

	got = h.get(t, reverted.Id)
	require.Equal(t, db.StatusInFlight, got.Status)
	h.gateway.setConfirmation(got.RedemptionTxHash, external.Confirmation{Status: external.ConfirmationReverted, Block: 9, Reason: "status 0"})
	require.NoError(t, h.sweeper.ConfirmOnce(ctx))
	got = h.get(t, reverted.Id)
	require.Equal(t, db.StatusFailed, got.Status)
	require.Equal(t, db.ReasonChainReverted, got.FailureReason)
}

func TestSecretUnavailableAbortsCycle(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = 1
	h := newHarness(t, cfg)
	h.sweeper = NewFeeSweeper(h.dao, h.gateway, cfg, WithClock(h.clock.Now))
	ctx := context.Background()
	first := h.insertFee(t, weth, "1", true)
	second := h.insertFee(t, usdc, "1", true)
	h.gateway.submitErrs = []error{fmt.Errorf("%w: access denied", secret.ErrSecretUnavailable)}

	err := h.sweeper.SweepOnce(ctx)
	require.True(t, errors.Is(err, secret.ErrSecretUnavailable))
	for _, id := range []int64{first.Id, second.Id} {
		got := h.get(t, id)
		require.Equal(t, db.StatusPending, got.Status)
		require.Equal(t, 0, got.AttemptCount)
	}
	require.Equal(t, 1, h.gateway.calls())

	require.NoError(t, h.sweeper.SweepOnce(ctx))
	require.Equal(t, db.StatusInFlight, h.get(t, first.Id).Status)
	require.Equal(t, db.StatusInFlight, h.get(t, second.Id).Status)
}

func TestConcurrentSweepersSubmitOnce(t *testing.T) {
	h := newHarness(t, testConfig())
	for i := 0; i < 6; i++ {
		h.insertFee(t, weth, fmt.Sprintf("%d", i+1), true)
	}
	other := NewFeeSweeper(h.dao, h.gateway, testConfig(), WithClock(h.clock.Now), WithOwner("sweeper-2"))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, s := range []*FeeSweeper{h.sweeper, other} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = s.SweepOnce(context.Background())
		}()
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	require.Len(t, h.gateway.submitted, 6)
	fees, err := h.dao.ListFees(context.Background(), db.StatusInFlight, 100, 0)
	require.NoError(t, err)
	require.Len(t, fees, 6)
	for _, f := range fees {
		require.Equal(t, 1, f.AttemptCount)
	}
}

func TestAutoRequeue(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 1
	cfg.AutoRequeueAfterMs = 60000
	cfg.MaxAutoRequeues = 1
	h := newHarness(t, cfg)
	ctx := context.Background()
	fee := h.insertFee(t, weth, "1", true)
	h.gateway.submitErrs = []error{retryable()}

	require.NoError(t, h.sweeper.RunCycle(ctx))
	require.Equal(t, db.ReasonRetryExhausted, h.get(t, fee.Id).FailureReason)

	require.NoError(t, h.sweeper.RequeueOnce(ctx))
	require.Equal(t, db.StatusFailed, h.get(t, fee.Id).Status)

	h.clock.Advance(61 * time.Second)
	require.NoError(t, h.sweeper.RunCycle(ctx))
	got := h.get(t, fee.Id)
	require.Equal(t, db.StatusInFlight, got.Status)
	require.Equal(t, 1, got.RequeueCount)
	require.Equal(t, 1, got.AttemptCount)
}

func TestBackoffDelayBounds(t *testing.T) {
	s := NewFeeSweeper(nil, nil, testConfig())
	for i := 0; i < 20; i++ {
		d := s.backoffDelay(1)
		require.GreaterOrEqual(t, d, 500*time.Millisecond)
		require.LessOrEqual(t, d, 1500*time.Millisecond)
		require.LessOrEqual(t, s.backoffDelay(10), 4*time.Second)
	}
}

func TestFirstPerMint(t *testing.T) {
	fees := []*db.Fee{{Id: 1, Mint: weth}, {Id: 2, Mint: weth}, {Id: 3, Mint: usdc}, {Id: 4, Mint: usdc}}
	kept := firstPerMint(fees)
	require.Len(t, kept, 2)
	require.Equal(t, int64(1), kept[0].Id)
	require.Equal(t, int64(3), kept[1].Id)
}
