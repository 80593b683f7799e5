package external

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/renegade-fi/fee-sweeper/cache"
	"github.com/renegade-fi/fee-sweeper/commitment"
	"github.com/renegade-fi/fee-sweeper/config"
	"github.com/renegade-fi/fee-sweeper/logging"
	"github.com/renegade-fi/fee-sweeper/secret"
)

const executionRevertedCode = 3

// rejectedMessages are node error fragments that no resubmission of the same call can fix.
var rejectedMessages = []string{
	"execution reverted",
	"invalid opcode",
	"intrinsic gas too low",
	"exceeds block gas limit",
	"invalid sender",
	"out of gas",
}

// EthBackend is the subset of *ethclient.Client the gateway needs.
type EthBackend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

var _ EthBackend = (*ethclient.Client)(nil)

type EthGateway struct {
	backend       EthBackend
	darkpool      common.Address
	chainID       *big.Int
	gasLimit      uint64
	confirmations uint64
	maxFeeCap     *big.Int
	secrets       secret.Store
	keyID         string
	commitments   cache.Cache
}

var _ ChainGateway = (*EthGateway)(nil)

func NewEthGateway(backend EthBackend, cfg *config.ChainConfig, secrets secret.Store, keyID string, commitments cache.Cache) *EthGateway {
	return &EthGateway{
		backend:       backend,
		darkpool:      common.HexToAddress(cfg.DarkpoolAddress),
		chainID:       new(big.Int).SetUint64(cfg.ChainID),
		gasLimit:      cfg.GetGasLimit(),
		confirmations: cfg.GetConfirmations(),
		maxFeeCap:     cfg.GetMaxGasPrice(),
		secrets:       secrets,
		keyID:         keyID,
		commitments:   commitments,
	}
}

// DialEthGateway connects to the first configured RPC endpoint.
func DialEthGateway(cfg *config.ChainConfig, secrets secret.Store, keyID string, cacheSize uint64) (*EthGateway, error) {
	client, err := ethclient.Dial(cfg.RPCAddrs[0])
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.RPCAddrs[0], err)
	}
	commitments, err := cache.NewLocalCache(cacheSize)
	if err != nil {
		return nil, err
	}
	return NewEthGateway(client, cfg, secrets, keyID, commitments), nil
}

func (g *EthGateway) DarkpoolAddress() common.Address {
	return g.darkpool
}

func (g *EthGateway) FeeCommitments(ctx context.Context, txHash string) ([]*big.Int, error) {
	if v, ok := g.commitments.Get(txHash); ok {
		return v.([]*big.Int), nil
	}
	bz, err := hexutil.Decode(txHash)
	if err != nil || len(bz) != common.HashLength {
		// a malformed source hash can never be opened
		return nil, nil
	}
	receipt, err := g.backend.TransactionReceipt(ctx, common.BytesToHash(bz))
	if err != nil {
		return nil, &RetryableNetworkError{Op: "get source receipt", Err: err}
	}
	commitments := make([]*big.Int, 0)
	if receipt.Status == types.ReceiptStatusSuccessful {
		eventID := DarkpoolABI.Events[notePostedEvent].ID
		for _, l := range receipt.Logs {
			if l.Address != g.darkpool || len(l.Topics) != 2 || l.Topics[0] != eventID {
				continue
			}
			commitments = append(commitments, new(big.Int).SetBytes(l.Topics[1].Bytes()))
		}
	}
	g.commitments.Set(txHash, commitments)
	return commitments, nil
}

func (g *EthGateway) BuildRedemptionTx(_ context.Context, opening *commitment.Opening, receiver common.Address) (*UnsignedTx, error) {
	if opening == nil {
		return nil, errors.New("nil opening")
	}
	data, err := DarkpoolABI.Pack(redeemFeeMethod, opening.Mint, opening.Amount, opening.Blinder, receiver, opening.Commitment)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", redeemFeeMethod, err)
	}
	return &UnsignedTx{
		To:   g.darkpool,
		Data: data,
		Gas:  g.gasLimit,
	}, nil
}

func (g *EthGateway) SignAndSubmit(ctx context.Context, tx *UnsignedTx) (common.Hash, error) {
	key, err := g.secrets.GetSigningKey(ctx, g.keyID)
	if err != nil {
		return common.Hash{}, err
	}
	from := crypto.PubkeyToAddress(key.PublicKey)

	gas, err := g.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &tx.To, Data: tx.Data})
	if err != nil {
		return common.Hash{}, classifyError("estimate gas", err)
	}
	gas += gas / 5
	limit := tx.Gas
	if limit == 0 {
		limit = g.gasLimit
	}
	if gas > limit {
		gas = limit
	}
	nonce, err := g.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, classifyError("get nonce", err)
	}
	tip, feeCap, err := g.suggestFees(ctx)
	if err != nil {
		return common.Hash{}, err
	}

	to := tx.To
	signed, err := types.SignTx(types.NewTx(&types.DynamicFeeTx{
		ChainID:   g.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Data:      tx.Data,
	}), types.LatestSignerForChainID(g.chainID), key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign redemption: %w", err)
	}
	if err = g.backend.SendTransaction(ctx, signed); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "already known") {
			return signed.Hash(), nil
		}
		return common.Hash{}, classifyError("send transaction", err)
	}
	logging.Logger.Debugf("sent redemption tx %s, nonce=%d, gas=%d, fee_cap=%s", signed.Hash().Hex(), nonce, gas, feeCap.String())
	return signed.Hash(), nil
}

// suggestFees returns the tip and fee cap for a dynamic fee transaction, the cap allows the base fee
// to double before the transaction is priced out.
func (g *EthGateway) suggestFees(ctx context.Context) (*big.Int, *big.Int, error) {
	tip, err := g.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, nil, classifyError("suggest gas tip", err)
	}
	head, err := g.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, classifyError("get head", err)
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}
	if g.maxFeeCap != nil && feeCap.Cmp(g.maxFeeCap) > 0 {
		feeCap = new(big.Int).Set(g.maxFeeCap)
		if tip.Cmp(feeCap) > 0 {
			tip = new(big.Int).Set(feeCap)
		}
	}
	return tip, feeCap, nil
}

func (g *EthGateway) PollConfirmation(ctx context.Context, hash common.Hash) (Confirmation, error) {
	receipt, err := g.backend.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return Confirmation{Status: ConfirmationPending}, nil
		}
		return Confirmation{}, classifyError("get receipt", err)
	}
	block := receipt.BlockNumber.Uint64()
	head, err := g.backend.BlockNumber(ctx)
	if err != nil {
		return Confirmation{}, classifyError("get block number", err)
	}
	if head+1 < block+g.confirmations {
		return Confirmation{Status: ConfirmationPending, Block: block}, nil
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return Confirmation{
			Status: ConfirmationReverted,
			Block:  block,
			Reason: fmt.Sprintf("redemption %s reverted in block %d", hash.Hex(), block),
		}, nil
	}
	return Confirmation{Status: ConfirmationConfirmed, Block: block}, nil
}

func classifyError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &RetryableNetworkError{Op: op, Err: err}
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == executionRevertedCode {
		return &RejectedByChainError{Reason: revertReason(err), Err: err}
	}
	msg := strings.ToLower(err.Error())
	for _, m := range rejectedMessages {
		if strings.Contains(msg, m) {
			return &RejectedByChainError{Reason: revertReason(err), Err: err}
		}
	}
	return &RetryableNetworkError{Op: op, Err: err}
}

// revertReason decodes an Error(string) payload attached to a node error, falling back to its message.
func revertReason(err error) string {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if s, ok := dataErr.ErrorData().(string); ok {
			if bz, decodeErr := hexutil.Decode(s); decodeErr == nil {
				if reason, unpackErr := abi.UnpackRevert(bz); unpackErr == nil {
					return reason
				}
			}
		}
	}
	return err.Error()
}
