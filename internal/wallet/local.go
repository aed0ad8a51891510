package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"

	xerrors "FlowWallet-Chain/internal/errors"
	"FlowWallet-Chain/internal/observability/metrics"
	"FlowWallet-Chain/internal/web3"
	"FlowWallet-Chain/pkg/logger"
)

const (
	// DefaultNativeGasLimit is the gas supplied for plain value transfers.
	DefaultNativeGasLimit uint64 = 21000
	// DefaultTokenGasBuffer is added to the estimate for token transfers.
	DefaultTokenGasBuffer uint64 = 5000
)

// tokenTipBump is added to the network gas price for token transfers.
var tokenTipBump = big.NewInt(2 * params.GWei)

// LocalConfig carries the optional settings of a LocalWallet.
type LocalConfig struct {
	Owner          string
	ChainID        uint64
	Decimals       uint8
	Locker         Locker
	Policy         RetryPolicy
	NativeGasLimit uint64
	// Mnemonic is only set for freshly generated wallets awaiting Save.
	Mnemonic string
}

// LocalWallet signs with a secp256k1 key held in memory and broadcasts
// through JSON-RPC.
type LocalWallet struct {
	key      *ecdsa.PrivateKey
	address  common.Address
	client   web3.ChainClient
	cfg      LocalConfig
	log      *slog.Logger
	chainMu  sync.Mutex
	signerID *big.Int
}

// ParsePrivateKey decodes a hex private key with or without 0x prefix.
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"), "0X")
	key, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, xerrors.Wrap(CodeInvalidKey, err, "decode private key")
	}
	return key, nil
}

// NewLocalWallet binds key to client.
func NewLocalWallet(key *ecdsa.PrivateKey, client web3.ChainClient, cfg LocalConfig) *LocalWallet {
	if cfg.Locker == nil {
		cfg.Locker = NewMemoryLocker()
	}
	if cfg.Policy.MaxAttempts == 0 {
		cfg.Policy = LocalConfirmationPolicy()
	}
	if cfg.NativeGasLimit == 0 {
		cfg.NativeGasLimit = DefaultNativeGasLimit
	}
	if cfg.Decimals == 0 {
		cfg.Decimals = web3.DefaultDecimals
	}
	addr := crypto.PubkeyToAddress(key.PublicKey)
	return &LocalWallet{
		key:     key,
		address: addr,
		client:  client,
		cfg:     cfg,
		log:     logger.Named("wallet").With(slog.String("address", addr.Hex())),
	}
}

func (w *LocalWallet) Address() common.Address { return w.address }
func (w *LocalWallet) ChainID() uint64          { return w.cfg.ChainID }
func (w *LocalWallet) Owner() string            { return w.cfg.Owner }
func (w *LocalWallet) Mode() Mode               { return ModeLocal }

// PrivateKeyHex returns the hex encoded key without 0x prefix.
func (w *LocalWallet) PrivateKeyHex() string {
	return common.Bytes2Hex(crypto.FromECDSA(w.key))
}

// Mnemonic returns the recovery phrase of a freshly generated wallet.
func (w *LocalWallet) Mnemonic() string { return w.cfg.Mnemonic }

func (w *LocalWallet) Balance(ctx context.Context) (*big.Float, error) {
	wei, err := w.client.BalanceAt(ctx, w.address)
	if err != nil {
		return nil, xerrors.Wrap(web3.CodeRPCFailure, err, "get balance")
	}
	return FromMinorUnits(wei, w.cfg.Decimals), nil
}

func (w *LocalWallet) Nonce(ctx context.Context) (uint64, error) {
	nonce, err := w.client.PendingNonceAt(ctx, w.address)
	if err != nil {
		return 0, xerrors.Wrap(web3.CodeRPCFailure, err, "get nonce")
	}
	return nonce, nil
}

// signingChain returns the EIP-155 chain id, asking the node when the wallet
// is bound to the default endpoint.
func (w *LocalWallet) signingChain(ctx context.Context) (*big.Int, error) {
	if w.cfg.ChainID != 0 {
		return new(big.Int).SetUint64(w.cfg.ChainID), nil
	}
	w.chainMu.Lock()
	defer w.chainMu.Unlock()
	if w.signerID != nil {
		return w.signerID, nil
	}
	id, err := w.client.ChainID(ctx)
	if err != nil {
		return nil, xerrors.Wrap(web3.CodeRPCFailure, err, "get chain id")
	}
	w.signerID = id
	return id, nil
}

func (w *LocalWallet) sign(ctx context.Context, chainID *big.Int, req TxRequest) (*types.Transaction, error) {
	value := req.Value
	if value == nil {
		value = new(big.Int)
	}

	var nonce uint64
	if req.Nonce != nil {
		nonce = *req.Nonce
	} else {
		n, err := w.Nonce(ctx)
		if err != nil {
			return nil, err
		}
		nonce = n
	}

	gas := req.Gas
	if gas == 0 {
		to := req.To
		estimated, err := w.client.EstimateGas(ctx, gethcore.CallMsg{From: w.address, To: &to, Value: value, Data: req.Data})
		if err != nil {
			return nil, xerrors.Wrap(CodeGasEstimation, err, "estimate gas")
		}
		gas = estimated
	}

	to := req.To
	var txData types.TxData
	if req.GasFeeCap != nil {
		tip := req.GasTipCap
		if tip == nil {
			tip = req.GasFeeCap
		}
		txData = &types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			GasTipCap: tip,
			GasFeeCap: req.GasFeeCap,
			Gas:       gas,
			To:        &to,
			Value:     value,
			Data:      req.Data,
		}
	} else {
		price := req.GasPrice
		if price == nil {
			suggested, err := w.client.SuggestGasPrice(ctx)
			if err != nil {
				return nil, xerrors.Wrap(web3.CodeRPCFailure, err, "get gas price")
			}
			price = suggested
		}
		txData = &types.LegacyTx{
			Nonce:    nonce,
			GasPrice: price,
			Gas:      gas,
			To:       &to,
			Value:    value,
			Data:     req.Data,
		}
	}

	signed, err := types.SignTx(types.NewTx(txData), types.LatestSignerForChainID(chainID), w.key)
	if err != nil {
		return nil, xerrors.Wrap(CodeTransactionFailed, err, "sign transaction")
	}
	return signed, nil
}

// SignTransaction signs req without broadcasting it.
func (w *LocalWallet) SignTransaction(ctx context.Context, req TxRequest) ([]byte, error) {
	chainID, err := w.signingChain(ctx)
	if err != nil {
		return nil, err
	}
	signed, err := w.sign(ctx, chainID, req)
	if err != nil {
		return nil, err
	}
	return signed.MarshalBinary()
}

// SendTransaction signs and broadcasts req, then waits for a receipt. The
// address lock is held from nonce allocation until the node accepted the
// transaction.
func (w *LocalWallet) SendTransaction(ctx context.Context, req TxRequest) (TxResult, error) {
	chainID, err := w.signingChain(ctx)
	if err != nil {
		return TxResult{}, err
	}
	unlock, err := w.cfg.Locker.Lock(ctx, LockKey(chainID.Uint64(), w.address))
	if err != nil {
		return TxResult{}, xerrors.Wrap(xerrors.CodeTimeout, err, "acquire nonce lock")
	}

	signed, err := w.sign(ctx, chainID, req)
	if err != nil {
		unlock()
		return TxResult{}, err
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		unlock()
		return TxResult{}, xerrors.Wrap(CodeTransactionFailed, err, "encode transaction")
	}
	hash, err := w.client.SendRawTransaction(ctx, raw)
	unlock()
	if err != nil {
		observe(ModeLocal, err)
		return TxResult{}, xerrors.Wrap(CodeTransactionFailed, err, "broadcast transaction")
	}
	w.log.Info("交易已广播",
		slog.String("tx_hash", hash.Hex()),
		slog.Uint64("nonce", signed.Nonce()),
		slog.String("fee", signed.GasFeeCap().String()),
	)
	return w.confirm(ctx, hash, signed.GasFeeCap(), true)
}

// SendNative sends amount wei with the fixed native gas limit at the
// current network price.
func (w *LocalWallet) SendNative(ctx context.Context, to common.Address, amount *big.Int) (TxResult, error) {
	return w.SendTransaction(ctx, TxRequest{To: to, Value: amount, Gas: w.cfg.NativeGasLimit})
}

// SendERC20 transfers amount base units of token. Gas is the estimate plus
// a fixed buffer and the price is the network price plus 2 gwei.
func (w *LocalWallet) SendERC20(ctx context.Context, to common.Address, amount *big.Int, token common.Address) (TxResult, error) {
	data := EncodeTransfer(to, amount)
	gas, err := w.client.EstimateGas(ctx, gethcore.CallMsg{From: w.address, To: &token, Value: new(big.Int), Data: data})
	if err != nil {
		return TxResult{}, xerrors.Wrap(CodeGasEstimation, err, "estimate token transfer")
	}
	price, err := w.client.SuggestGasPrice(ctx)
	if err != nil {
		return TxResult{}, xerrors.Wrap(web3.CodeRPCFailure, err, "get gas price")
	}
	return w.SendTransaction(ctx, TxRequest{
		To:       token,
		Data:     data,
		Gas:      gas + DefaultTokenGasBuffer,
		GasPrice: new(big.Int).Add(price, tokenTipBump),
	})
}

// SendRawTransaction broadcasts an already signed transaction and waits for
// it without fee escalation.
func (w *LocalWallet) SendRawTransaction(ctx context.Context, raw []byte) (TxResult, error) {
	return broadcastRaw(ctx, w.client, w.cfg.Policy, w.log, ModeLocal, raw)
}

func (w *LocalWallet) SendBatchRawTransaction(context.Context, []TxRequest) (TxResult, error) {
	return TxResult{}, xerrors.New(xerrors.CodeNotImplemented, "batch sending is not supported by local wallets")
}

func (w *LocalWallet) confirm(ctx context.Context, hash common.Hash, fee *big.Int, escalate bool) (TxResult, error) {
	res, err := awaitReceipt(ctx, w.client, w.cfg.Policy, w.log, hash, fee, escalate)
	observe(ModeLocal, err)
	return res, err
}

func broadcastRaw(ctx context.Context, client web3.ChainClient, policy RetryPolicy, log *slog.Logger, mode Mode, raw []byte) (TxResult, error) {
	hash, err := client.SendRawTransaction(ctx, raw)
	if err != nil {
		observe(mode, err)
		return TxResult{}, xerrors.Wrap(CodeTransactionFailed, err, "broadcast raw transaction")
	}
	res, err := awaitReceipt(ctx, client, policy, log, hash, nil, false)
	observe(mode, err)
	return res, err
}

func observe(mode Mode, err error) {
	outcome := "confirmed"
	switch {
	case err == nil:
	case xerrors.HasCode(err, CodeConfirmationTimeout):
		outcome = "timeout"
	default:
		outcome = "failed"
	}
	metrics.ObserveTransaction(string(mode), outcome)
}

// awaitReceipt waits policy.MaxAttempts windows of policy.Timeout for hash.
// After each expired window the fee is escalated; the broadcast itself is
// not repeated.
func awaitReceipt(ctx context.Context, client web3.ChainClient, policy RetryPolicy, log *slog.Logger, hash common.Hash, fee *big.Int, escalate bool) (TxResult, error) {
	result := TxResult{Hash: hash, Fee: fee}
	for attempt := 1; attempt <= policy.attempts(); attempt++ {
		result.Attempts = attempt
		receipt, err := web3.WaitForReceipt(ctx, client, hash, policy.Timeout, policy.Interval)
		if err == nil {
			return outcome(result, receipt)
		}
		if !errors.Is(err, web3.ErrReceiptTimeout) {
			return result, xerrors.Wrap(CodeConfirmationTimeout, err,
				fmt.Sprintf("confirmation of %s interrupted", hash.Hex()),
				xerrors.WithMetadata("tx_hash", hash.Hex()))
		}
		if escalate {
			// 只记录提价后的费用，不重新广播，继续等待同一笔交易。
			result.Fee = policy.Escalate(result.Fee)
			metrics.ObserveEscalation()
		}
		log.Warn("等待交易回执超时",
			slog.String("tx_hash", hash.Hex()),
			slog.Int("attempt", attempt),
			slog.Any("fee", result.Fee),
		)
	}
	return result, xerrors.New(CodeConfirmationTimeout,
		fmt.Sprintf("transaction %s not confirmed after %d attempts", hash.Hex(), result.Attempts),
		xerrors.WithMetadata("tx_hash", hash.Hex()))
}

func outcome(result TxResult, receipt *types.Receipt) (TxResult, error) {
	if receipt.BlockNumber != nil {
		result.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		result.Status = TxFailed
		return result, xerrors.New(CodeTransactionFailed,
			fmt.Sprintf("transaction %s reverted", result.Hash.Hex()),
			xerrors.WithMetadata("tx_hash", result.Hash.Hex()))
	}
	result.Status = TxConfirmed
	return result, nil
}
