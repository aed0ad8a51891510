package web3

import (
	"context"
	"math/big"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	xerrors "FlowWallet-Chain/internal/errors"
)

// ChainClient is the subset of JSON-RPC functionality the wallet layer needs.
// Implementations must be safe for concurrent use.
type ChainClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg gethcore.CallMsg) (uint64, error)
	CallContract(ctx context.Context, msg gethcore.CallMsg) ([]byte, error)
	SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	Close()
}

// ChainInfo is the public view of a routing table entry.
type ChainInfo struct {
	ChainID     uint64 `json:"chain_id"`
	Internal    bool   `json:"internal"`
	Decimals    uint8  `json:"decimals"`
	Description string `json:"description,omitempty"`
}

const (
	CodeUnsupportedChain xerrors.Code = "UNSUPPORTED_CHAIN"
	CodeRPCFailure       xerrors.Code = "CHAIN_RPC_FAILURE"
)

func init() {
	xerrors.Register(CodeUnsupportedChain, xerrors.Attributes{
		Message:  "unsupported chain",
		Severity: xerrors.SeverityWarning,
		Business: true,
	})
	xerrors.Register(CodeRPCFailure, xerrors.Attributes{
		Message:   "chain rpc failure",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
}
