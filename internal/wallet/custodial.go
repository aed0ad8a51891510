package wallet

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"FlowWallet-Chain/internal/custodial"
	xerrors "FlowWallet-Chain/internal/errors"
	"FlowWallet-Chain/internal/observability/metrics"
	"FlowWallet-Chain/internal/web3"
	"FlowWallet-Chain/pkg/logger"
)

// CustodialAPI is the part of the signing engine a custodial wallet needs.
type CustodialAPI interface {
	BackendWallet() string
	CreateBackendWallet(ctx context.Context) (string, error)
	SendTransaction(ctx context.Context, chainID uint64, account string, tx custodial.Transaction) (string, error)
	SendTransactionBatch(ctx context.Context, chainID uint64, txs []custodial.Transaction) (string, error)
	ERC20TransferFrom(ctx context.Context, chainID uint64, token, from, to, amount string) (string, error)
	TransactionStatus(ctx context.Context, queueID string) (custodial.JobStatus, error)
	SignTransaction(ctx context.Context, wallet string, tx map[string]any) (string, error)
	Nonce(ctx context.Context, chainID uint64, address string) (uint64, error)
	ERC20Decimals(ctx context.Context, chainID uint64, token string) (uint8, error)
}

// CustodialConfig carries the optional settings of a CustodialWallet.
type CustodialConfig struct {
	Owner    string
	ChainID  uint64
	Decimals uint8
	// Polling bounds the engine status loop and the final receipt wait.
	Polling RetryPolicy
	// Raw bounds waits for raw broadcasts.
	Raw RetryPolicy
}

// CustodialWallet delegates signing and sending to the engine. The chain
// client is used for balances, raw broadcasts and receipt confirmation.
type CustodialWallet struct {
	address common.Address
	api     CustodialAPI
	client  web3.ChainClient
	cfg     CustodialConfig
	// admin sends omit the account header and may batch.
	admin bool
	sleep func(context.Context, time.Duration) error
	log   *slog.Logger
}

// NewCustodialWallet wraps a user wallet held by the engine.
func NewCustodialWallet(address common.Address, api CustodialAPI, client web3.ChainClient, cfg CustodialConfig) *CustodialWallet {
	if cfg.Polling.MaxAttempts == 0 {
		cfg.Polling = CustodialPollingPolicy()
	}
	if cfg.Raw.MaxAttempts == 0 {
		cfg.Raw = LocalConfirmationPolicy()
	}
	if cfg.Decimals == 0 {
		cfg.Decimals = web3.DefaultDecimals
	}
	return &CustodialWallet{
		address: address,
		api:     api,
		client:  client,
		cfg:     cfg,
		sleep:   sleepContext,
		log:     logger.Named("wallet").With(slog.String("address", address.Hex())),
	}
}

// NewAdminWallet wraps the engine's backend wallet itself.
func NewAdminWallet(api CustodialAPI, client web3.ChainClient, cfg CustodialConfig) *CustodialWallet {
	w := NewCustodialWallet(common.HexToAddress(api.BackendWallet()), api, client, cfg)
	w.admin = true
	return w
}

func (w *CustodialWallet) Address() common.Address { return w.address }
func (w *CustodialWallet) ChainID() uint64          { return w.cfg.ChainID }
func (w *CustodialWallet) Owner() string            { return w.cfg.Owner }
func (w *CustodialWallet) Mode() Mode               { return ModeCustodial }

// IsAdmin reports whether the wallet is the engine's backend wallet.
func (w *CustodialWallet) IsAdmin() bool { return w.admin }

func (w *CustodialWallet) account() string {
	if w.admin {
		return ""
	}
	return w.address.Hex()
}

func (w *CustodialWallet) Balance(ctx context.Context) (*big.Float, error) {
	wei, err := w.client.BalanceAt(ctx, w.address)
	if err != nil {
		return nil, xerrors.Wrap(web3.CodeRPCFailure, err, "get balance")
	}
	return FromMinorUnits(wei, w.cfg.Decimals), nil
}

// Nonce is the engine's view, which accounts for jobs it has queued.
func (w *CustodialWallet) Nonce(ctx context.Context) (uint64, error) {
	return w.api.Nonce(ctx, w.cfg.ChainID, w.address.Hex())
}

// SignTransaction asks the engine to sign with this wallet.
func (w *CustodialWallet) SignTransaction(ctx context.Context, req TxRequest) ([]byte, error) {
	tx := map[string]any{
		"to":    req.To.Hex(),
		"value": hexValue(req.Value),
		"data":  hexutil.Encode(req.Data),
	}
	if w.cfg.ChainID != 0 {
		tx["chainId"] = w.cfg.ChainID
	}
	if req.Nonce != nil {
		tx["nonce"] = *req.Nonce
	}
	if req.Gas != 0 {
		tx["gasLimit"] = req.Gas
	}
	if req.GasPrice != nil {
		tx["gasPrice"] = req.GasPrice.String()
	}
	signed, err := w.api.SignTransaction(ctx, w.address.Hex(), tx)
	if err != nil {
		return nil, err
	}
	raw, err := hexutil.Decode(signed)
	if err != nil {
		return nil, xerrors.Wrap(custodial.CodeCustodialFailure, err, "decode signed transaction")
	}
	return raw, nil
}

// SendTransaction queues req with the engine. Gas and fee fields are left to
// the engine.
func (w *CustodialWallet) SendTransaction(ctx context.Context, req TxRequest) (TxResult, error) {
	queueID, err := w.api.SendTransaction(ctx, w.cfg.ChainID, w.account(), toEngineTx(req))
	if err != nil {
		return TxResult{}, err
	}
	return w.track(ctx, queueID)
}

func (w *CustodialWallet) SendNative(ctx context.Context, to common.Address, amount *big.Int) (TxResult, error) {
	return w.SendTransaction(ctx, TxRequest{To: to, Value: amount})
}

// SendERC20 converts amount from base units to whole tokens using the
// decimals reported by the engine and queues a transfer.
func (w *CustodialWallet) SendERC20(ctx context.Context, to common.Address, amount *big.Int, token common.Address) (TxResult, error) {
	decimals, err := w.api.ERC20Decimals(ctx, w.cfg.ChainID, token.Hex())
	if err != nil {
		return TxResult{}, err
	}
	queueID, err := w.api.ERC20TransferFrom(ctx, w.cfg.ChainID, token.Hex(), w.address.Hex(), to.Hex(), FormatUnits(amount, decimals))
	if err != nil {
		return TxResult{}, err
	}
	return w.track(ctx, queueID)
}

// SendRawTransaction broadcasts through the chain RPC and waits without fee
// escalation.
func (w *CustodialWallet) SendRawTransaction(ctx context.Context, raw []byte) (TxResult, error) {
	return broadcastRaw(ctx, w.client, w.cfg.Raw, w.log, ModeCustodial, raw)
}

// SendBatchRawTransaction queues reqs as one engine job. Only the admin
// wallet may batch. An empty batch is a no-op with a zero result.
func (w *CustodialWallet) SendBatchRawTransaction(ctx context.Context, reqs []TxRequest) (TxResult, error) {
	if !w.admin {
		return TxResult{}, xerrors.New(xerrors.CodeNotImplemented, "batch sending requires the admin wallet")
	}
	if len(reqs) == 0 {
		return TxResult{}, nil
	}
	txs := make([]custodial.Transaction, 0, len(reqs))
	for _, req := range reqs {
		txs = append(txs, toEngineTx(req))
	}
	queueID, err := w.api.SendTransactionBatch(ctx, w.cfg.ChainID, txs)
	if err != nil {
		return TxResult{}, err
	}
	return w.track(ctx, queueID)
}

// track polls the engine until the job reports a hash, then confirms the
// receipt on chain.
func (w *CustodialWallet) track(ctx context.Context, queueID string) (TxResult, error) {
	hash, err := w.waitForHash(ctx, queueID)
	if err != nil {
		observe(ModeCustodial, err)
		return TxResult{}, err
	}
	w.log.Info("托管交易已上链", slog.String("queue_id", queueID), slog.String("tx_hash", hash.Hex()))
	receiptPolicy := RetryPolicy{Interval: web3.DefaultReceiptPoll, Timeout: w.cfg.Polling.Timeout, MaxAttempts: 1}
	res, err := awaitReceipt(ctx, w.client, receiptPolicy, w.log, hash, nil, false)
	observe(ModeCustodial, err)
	return res, err
}

func (w *CustodialWallet) waitForHash(ctx context.Context, queueID string) (common.Hash, error) {
	var lastErr error
	attempts := w.cfg.Polling.attempts()
	for attempt := 1; attempt <= attempts; attempt++ {
		status, err := w.api.TransactionStatus(ctx, queueID)
		switch {
		case err != nil:
			lastErr = err
			w.log.Warn("查询托管任务状态失败", slog.String("queue_id", queueID), slog.Any("error", err))
		case status.Status == custodial.JobErrored || status.Status == custodial.JobCancelled:
			msg := status.ErrorMessage
			if msg == "" {
				msg = fmt.Sprintf("engine job %s %s", queueID, status.Status)
			}
			return common.Hash{}, xerrors.New(CodeTransactionFailed, msg,
				xerrors.WithMetadata("queue_id", queueID),
				xerrors.WithMetadata("status", string(status.Status)))
		case status.Hash() != "":
			metrics.ObserveCustodialPolls(attempt)
			return common.HexToHash(status.Hash()), nil
		}
		if attempt == attempts {
			break
		}
		if err := w.sleep(ctx, w.cfg.Polling.Interval); err != nil {
			return common.Hash{}, xerrors.Wrap(CodeConfirmationTimeout, err, "wait for engine job "+queueID,
				xerrors.WithMetadata("queue_id", queueID))
		}
	}
	msg := fmt.Sprintf("engine job %s produced no transaction after %d polls", queueID, attempts)
	if lastErr != nil {
		return common.Hash{}, xerrors.Wrap(CodeConfirmationTimeout, lastErr, msg, xerrors.WithMetadata("queue_id", queueID))
	}
	return common.Hash{}, xerrors.New(CodeConfirmationTimeout, msg, xerrors.WithMetadata("queue_id", queueID))
}

func toEngineTx(req TxRequest) custodial.Transaction {
	data := "0x"
	if len(req.Data) > 0 {
		data = hexutil.Encode(req.Data)
	}
	return custodial.Transaction{
		ToAddress: req.To.Hex(),
		Value:     hexValue(req.Value),
		Data:      data,
	}
}

func hexValue(v *big.Int) string {
	if v == nil {
		return "0x0"
	}
	return hexutil.EncodeBig(v)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
