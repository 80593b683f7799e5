package db

import "fmt"

type FeeStatus string

const (
	StatusPending   FeeStatus = "pending"
	StatusInFlight  FeeStatus = "in_flight" // a redemption tx has been submitted and is awaiting confirmation
	StatusConfirmed FeeStatus = "confirmed"
	StatusFailed    FeeStatus = "failed"
)

func (s FeeStatus) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

func ParseFeeStatus(s string) (FeeStatus, error) {
	switch FeeStatus(s) {
	case StatusPending, StatusInFlight, StatusConfirmed, StatusFailed:
		return FeeStatus(s), nil
	}
	return "", fmt.Errorf("unknown fee status %q", s)
}

type FailureReason string

const (
	ReasonInvalidCommitment FailureReason = "InvalidCommitment"
	ReasonRetryExhausted    FailureReason = "RetryExhausted"
	ReasonRejectedByChain   FailureReason = "RejectedByChain"
	ReasonChainReverted     FailureReason = "ChainReverted"
)

const maxFailureDetail = 512

// Fee is a blinded protocol fee note recorded off-chain. Rows are never deleted.
type Fee struct {
	Id               int64         `json:"id"`
	TxHash           string        `gorm:"NOT NULL;index:idx_fee_tx_hash;size:66" json:"tx_hash"`
	Mint             string        `gorm:"NOT NULL;index:idx_fee_mint;index:idx_fee_mint_amount,priority:1;size:66" json:"mint"`
	Amount           Numeric       `gorm:"NOT NULL;precision:65;scale:18;index:idx_fee_amount;index:idx_fee_mint_amount,priority:2" json:"amount"`
	Blinder          Numeric       `gorm:"NOT NULL;precision:78;scale:0" json:"-"`
	Receiver         string        `gorm:"NOT NULL;size:66" json:"receiver"`
	Status           FeeStatus     `gorm:"NOT NULL;size:16;index:idx_fee_status" json:"status"`
	RedemptionTxHash string        `gorm:"size:66" json:"redemption_tx_hash,omitempty"`
	FailureReason    FailureReason `gorm:"size:32" json:"failure_reason,omitempty"`
	FailureDetail    string        `gorm:"size:512" json:"failure_detail,omitempty"`
	AttemptCount     int           `gorm:"NOT NULL;default:0" json:"attempt_count"`
	LastAttemptAt    int64         `json:"last_attempt_at"` // unix millis
	NextAttemptAt    int64         `gorm:"NOT NULL;default:0" json:"next_attempt_at"`
	ClaimedBy        string        `gorm:"NOT NULL;default:'';size:64" json:"-"`
	ClaimExpiresAt   int64         `gorm:"NOT NULL;default:0" json:"-"`
	RequeueCount     int           `gorm:"NOT NULL;default:0" json:"requeue_count"`
	ConfirmedBlock   uint64        `json:"confirmed_block,omitempty"`
	CreatedTime      int64         `gorm:"NOT NULL" json:"created_time"`
	UpdatedTime      int64         `gorm:"NOT NULL" json:"updated_time"`
}

func (*Fee) TableName() string {
	return "fee"
}
