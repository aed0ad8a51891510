// Package wallet gives every handler a single abstraction over "a thing that
// can sign and send on behalf of a user". Local wallets hold a secp256k1 key
// and talk JSON-RPC themselves; custodial wallets delegate signing and
// broadcasting to the remote engine and poll for the outcome.
package wallet

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	xerrors "FlowWallet-Chain/internal/errors"
	"FlowWallet-Chain/internal/storage/walletapi"
)

// Mode selects how a wallet signs.
type Mode string

const (
	ModeLocal     Mode = "local"
	ModeCustodial Mode = "custodial"
)

// NetworkType returns the storage network type for m.
func (m Mode) NetworkType() string {
	if m == ModeCustodial {
		return walletapi.NetworkCustodial
	}
	return walletapi.NetworkLocal
}

// ModeForNetworkType maps a storage network type back to a Mode.
func ModeForNetworkType(networkType string) (Mode, bool) {
	switch networkType {
	case walletapi.NetworkLocal:
		return ModeLocal, true
	case walletapi.NetworkCustodial:
		return ModeCustodial, true
	default:
		return "", false
	}
}

// ParseMode accepts both mode names and storage network types.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case string(ModeLocal), walletapi.NetworkLocal:
		return ModeLocal, true
	case string(ModeCustodial), walletapi.NetworkCustodial:
		return ModeCustodial, true
	default:
		return "", false
	}
}

// IDType names the identity field a wallet is looked up by.
type IDType string

const (
	IDOwner         IDType = "camunda_user_id"
	IDUser          IDType = "user_id"
	IDWebappUser    IDType = "webapp_user_id"
	IDTelegramUser  IDType = "telegram_user_id"
	IDWalletAddress IDType = "wallet_address"
)

// Valid reports whether t is a known identity type.
func (t IDType) Valid() bool {
	switch t {
	case IDOwner, IDUser, IDWebappUser, IDTelegramUser, IDWalletAddress:
		return true
	}
	return false
}

// TxRequest describes a transaction to sign or send. Zero values are filled
// in by the wallet: Gas is estimated, the fee defaults to the network price
// and Nonce to the pending nonce.
type TxRequest struct {
	To       common.Address
	Value    *big.Int
	Data     []byte
	Gas      uint64
	GasPrice *big.Int
	// GasFeeCap selects a dynamic-fee transaction when set.
	GasFeeCap *big.Int
	GasTipCap *big.Int
	Nonce     *uint64
}

// TxStatus is the terminal state of a sent transaction.
type TxStatus string

const (
	TxConfirmed TxStatus = "confirmed"
	TxFailed    TxStatus = "failed"
)

// TxResult reports the outcome of a confirmed or failed send.
type TxResult struct {
	Hash        common.Hash
	Status      TxStatus
	BlockNumber uint64
	// Attempts is the number of confirmation windows waited through.
	Attempts int
	// Fee is the last fee value considered, after any escalation.
	Fee *big.Int
}

// Wallet is the capability set every handler works against.
type Wallet interface {
	Address() common.Address
	// ChainID is the chain the wallet was resolved for; 0 means the default
	// RPC endpoint.
	ChainID() uint64
	Owner() string
	Mode() Mode

	// Balance returns the native balance in whole units.
	Balance(ctx context.Context) (*big.Float, error)
	Nonce(ctx context.Context) (uint64, error)

	SignTransaction(ctx context.Context, req TxRequest) ([]byte, error)
	SendTransaction(ctx context.Context, req TxRequest) (TxResult, error)
	// SendNative transfers amount minor units of the native currency.
	SendNative(ctx context.Context, to common.Address, amount *big.Int) (TxResult, error)
	// SendERC20 transfers amount minor units of token.
	SendERC20(ctx context.Context, to common.Address, amount *big.Int, token common.Address) (TxResult, error)
	SendRawTransaction(ctx context.Context, raw []byte) (TxResult, error)
	SendBatchRawTransaction(ctx context.Context, reqs []TxRequest) (TxResult, error)
}

// Error codes produced by wallets.
const (
	CodeTransactionFailed   xerrors.Code = "TRANSACTION_FAILED"
	CodeConfirmationTimeout xerrors.Code = "CONFIRMATION_TIMEOUT"
	CodeGasEstimation       xerrors.Code = "GAS_ESTIMATION_FAILED"
	CodePersistenceFailed   xerrors.Code = "PERSISTENCE_FAILED"
	CodeInvalidKey          xerrors.Code = "INVALID_PRIVATE_KEY"
)

func init() {
	xerrors.Register(CodeTransactionFailed, xerrors.Attributes{
		Message:  "transaction failed",
		Severity: xerrors.SeverityWarning,
		Business: true,
	})
	// The transaction may still be mined later; resubmitting would risk a
	// duplicate send.
	xerrors.Register(CodeConfirmationTimeout, xerrors.Attributes{
		Message:  "transaction not confirmed in time",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
	xerrors.Register(CodeGasEstimation, xerrors.Attributes{
		Message:  "gas estimation failed",
		Severity: xerrors.SeverityInfo,
		Business: true,
	})
	xerrors.Register(CodePersistenceFailed, xerrors.Attributes{
		Message:   "failed to persist wallet",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeInvalidKey, xerrors.Attributes{
		Message:  "invalid private key",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
}
