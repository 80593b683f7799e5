package external

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/renegade-fi/fee-sweeper/commitment"
)

// ChainGateway is the sweeper's only view of the chain.
type ChainGateway interface {
	// FeeCommitments returns the fee note commitments posted by the darkpool in txHash.
	FeeCommitments(ctx context.Context, txHash string) ([]*big.Int, error)
	BuildRedemptionTx(ctx context.Context, opening *commitment.Opening, receiver common.Address) (*UnsignedTx, error)
	// SignAndSubmit signs tx with the configured key and broadcasts it. Errors are a SubmissionError
	// or wrap secret.ErrSecretUnavailable.
	SignAndSubmit(ctx context.Context, tx *UnsignedTx) (common.Hash, error)
	PollConfirmation(ctx context.Context, hash common.Hash) (Confirmation, error)
}

// UnsignedTx is a redemption call. Nonce and fees are chosen at signing time.
type UnsignedTx struct {
	To   common.Address
	Data []byte
	// Gas is the upper bound for the estimated gas limit.
	Gas uint64
}

type ConfirmationStatus int

const (
	ConfirmationPending ConfirmationStatus = iota
	ConfirmationConfirmed
	ConfirmationReverted
)

func (s ConfirmationStatus) String() string {
	switch s {
	case ConfirmationPending:
		return "pending"
	case ConfirmationConfirmed:
		return "confirmed"
	case ConfirmationReverted:
		return "reverted"
	default:
		return fmt.Sprintf("ConfirmationStatus(%d)", int(s))
	}
}

type Confirmation struct {
	Status ConfirmationStatus
	Block  uint64
	Reason string
}

// SubmissionError is a classified chain call failure.
type SubmissionError interface {
	error
	Retryable() bool
}

var (
	_ SubmissionError = (*RetryableNetworkError)(nil)
	_ SubmissionError = (*RejectedByChainError)(nil)
)

// RetryableNetworkError is a transient failure: timeouts, connection errors, nonce races.
type RetryableNetworkError struct {
	Op  string
	Err error
}

func (e *RetryableNetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RetryableNetworkError) Unwrap() error { return e.Err }

func (e *RetryableNetworkError) Retryable() bool { return true }

// RejectedByChainError is a deterministic refusal, e.g. a reverting redemption or an already spent
// note. Resubmitting the same opening cannot succeed.
type RejectedByChainError struct {
	Reason string
	Err    error
}

func (e *RejectedByChainError) Error() string {
	return fmt.Sprintf("rejected by chain: %s", e.Reason)
}

func (e *RejectedByChainError) Unwrap() error { return e.Err }

func (e *RejectedByChainError) Retryable() bool { return false }
