package commitment

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

// AmountDecimals is the fixed-point scale of the amount word inside a commitment.
const AmountDecimals = 18

var (
	// ErrInvalidCommitment marks a note that cannot be reconciled with the chain. It is a data
	// integrity fault and is never retried.
	ErrInvalidCommitment = errors.New("invalid commitment")

	commitmentTag = []byte("renegade-fee-note-v1")
)

// Note is the plaintext of a fee commitment together with the transaction that created it.
type Note struct {
	TxHash   string
	Mint     string
	Amount   decimal.Decimal
	Blinder  decimal.Decimal
	Receiver string
}

// String omits the blinder.
func (n Note) String() string {
	return fmt.Sprintf("Note{tx=%s mint=%s amount=%s receiver=%s}", n.TxHash, n.Mint, n.Amount.String(), n.Receiver)
}

func (n Note) GoString() string {
	return n.String()
}

// Opening is the artifact a redemption transaction carries: the note fields in their on-chain
// encoding plus the commitment they reconstruct.
type Opening struct {
	Mint       common.Address
	Amount     *big.Int
	Blinder    *big.Int
	Receiver   common.Address
	Commitment *big.Int
}

// String omits the blinder.
func (o *Opening) String() string {
	return fmt.Sprintf("Opening{mint=%s amount=%s receiver=%s commitment=%#x}",
		o.Mint.Hex(), o.Amount.String(), o.Receiver.Hex(), o.Commitment)
}

func (o *Opening) GoString() string {
	return o.String()
}

type Opener struct{}

func NewOpener() *Opener {
	return &Opener{}
}

// Commit computes the commitment of note. It is deterministic and performs no I/O.
func (o *Opener) Commit(note Note) (*big.Int, error) {
	opening, err := o.encode(note)
	if err != nil {
		return nil, err
	}
	return opening.Commitment, nil
}

// Open reconstructs the commitment of note and returns its opening if it is one of the expected
// on-chain commitments of the note's source transaction.
func (o *Opener) Open(note Note, expected []*big.Int) (*Opening, error) {
	opening, err := o.encode(note)
	if err != nil {
		return nil, err
	}
	for _, c := range expected {
		if c != nil && c.Cmp(opening.Commitment) == 0 {
			return opening, nil
		}
	}
	return nil, fmt.Errorf("%w: fee note of tx %s matches none of %d on-chain commitments",
		ErrInvalidCommitment, note.TxHash, len(expected))
}

func (o *Opener) encode(note Note) (*Opening, error) {
	if !common.IsHexAddress(note.Mint) {
		return nil, fmt.Errorf("%w: mint %q is not an address", ErrInvalidCommitment, note.Mint)
	}
	if !common.IsHexAddress(note.Receiver) {
		return nil, fmt.Errorf("%w: receiver %q is not an address", ErrInvalidCommitment, note.Receiver)
	}

	amount, err := encodeAmount(note.Amount)
	if err != nil {
		return nil, err
	}

	if !note.Blinder.IsInteger() {
		return nil, fmt.Errorf("%w: blinder is not an integer", ErrInvalidCommitment)
	}
	blinder := note.Blinder.BigInt()
	if !InScalarField(blinder) {
		return nil, fmt.Errorf("%w: blinder is outside the scalar field", ErrInvalidCommitment)
	}

	mint := common.HexToAddress(note.Mint)
	receiver := common.HexToAddress(note.Receiver)
	digest := crypto.Keccak256(
		commitmentTag,
		mint.Bytes(),
		common.LeftPadBytes(amount.Bytes(), 32),
		common.LeftPadBytes(blinder.Bytes(), 32),
		receiver.Bytes(),
	)
	return &Opening{
		Mint:       mint,
		Amount:     amount,
		Blinder:    blinder,
		Receiver:   receiver,
		Commitment: ReduceToScalar(digest),
	}, nil
}

// encodeAmount scales a decimal amount to its integer word.
func encodeAmount(amount decimal.Decimal) (*big.Int, error) {
	if amount.IsNegative() {
		return nil, fmt.Errorf("%w: negative amount %s", ErrInvalidCommitment, amount.String())
	}
	scaled := amount.Shift(AmountDecimals)
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("%w: amount %s has more than %d decimals", ErrInvalidCommitment, amount.String(), AmountDecimals)
	}
	word := scaled.BigInt()
	if word.BitLen() > 256 {
		return nil, fmt.Errorf("%w: amount %s overflows 256 bits", ErrInvalidCommitment, amount.String())
	}
	return word, nil
}
