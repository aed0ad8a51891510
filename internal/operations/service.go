// Package operations 实现钱包相关的任务处理器：生成钱包、原生币转账、代币授权、
// 国库转账与任意交易执行。处理器不持有跨调用状态，钱包统一经由 Resolver 获取。
package operations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	xerrors "FlowWallet-Chain/internal/errors"
	"FlowWallet-Chain/internal/wallet"
	"FlowWallet-Chain/internal/web3"
	"FlowWallet-Chain/pkg/logger"
)

// WalletResolver 是处理器获取钱包的唯一入口。
type WalletResolver interface {
	Resolve(ctx context.Context, idType wallet.IDType, value string, chainID uint64, override wallet.Mode) (wallet.Wallet, bool, error)
	Create(ctx context.Context, owner string, mode wallet.Mode, chainID uint64) (wallet.Wallet, error)
	Save(ctx context.Context, w wallet.Wallet) error
	FromKey(ctx context.Context, hexKey string, chainID uint64) (wallet.Wallet, error)
	Admin(ctx context.Context, chainID uint64) (wallet.Wallet, error)
}

// Chains 提供链客户端与路由表条目。
type Chains interface {
	Client(ctx context.Context, chainID uint64) (web3.ChainClient, error)
	Definition(chainID uint64) (web3.ChainDefinition, error)
}

// Service 承载全部处理器。
type Service struct {
	cfg     Config
	wallets WalletResolver
	chains  Chains
	log     *slog.Logger
}

// NewService 创建 Service，未设置的配置项取默认值。
func NewService(cfg Config, wallets WalletResolver, chains Chains) (*Service, error) {
	if wallets == nil || chains == nil {
		return nil, errors.New("operations: wallet resolver and chain provider are required")
	}
	cfg.applyDefaults()
	return &Service{cfg: cfg, wallets: wallets, chains: chains, log: logger.Named("operations")}, nil
}

// GenerateRequest 对应 wallet_generate。
type GenerateRequest struct {
	Owner    string
	Referrer string
}

// GenerateResult 是 wallet_generate 的输出。
type GenerateResult struct {
	WalletAddress    string
	RefWalletAddress string
}

// GenerateWallet 为身份创建并持久化新钱包；身份已有钱包时返回 USER_EXISTS。
func (s *Service) GenerateWallet(ctx context.Context, req GenerateRequest) (GenerateResult, error) {
	owner := strings.TrimSpace(req.Owner)
	if owner == "" {
		return GenerateResult{}, invalidData("camunda_user_id is required")
	}
	chainID := s.cfg.DefaultChainID
	mode := s.cfg.GenerationMode

	existing, found, err := s.wallets.Resolve(ctx, wallet.IDOwner, owner, chainID, mode)
	if err != nil {
		return GenerateResult{}, err
	}

	var result GenerateResult
	if ref := strings.TrimSpace(req.Referrer); ref != "" {
		refWallet, ok, err := s.wallets.Resolve(ctx, wallet.IDUser, ref, chainID, mode)
		if err != nil {
			return GenerateResult{}, err
		}
		if ok {
			result.RefWalletAddress = strings.ToLower(refWallet.Address().Hex())
		} else {
			s.log.Warn("推荐人没有钱包", slog.String("ref_user_id", ref))
		}
	}

	if found {
		result.WalletAddress = strings.ToLower(existing.Address().Hex())
		return result, businessError(CodeUserExists, "User already exists", nil, map[string]string{
			"wallet_address":     result.WalletAddress,
			"ref_wallet_address": result.RefWalletAddress,
		})
	}

	w, err := s.wallets.Create(ctx, owner, mode, chainID)
	if err != nil {
		return GenerateResult{}, err
	}
	if err := s.wallets.Save(ctx, w); err != nil {
		return GenerateResult{}, err
	}
	result.WalletAddress = strings.ToLower(w.Address().Hex())
	logger.Audit().Info("钱包已创建",
		slog.String("camunda_user_id", owner),
		slog.String("wallet_address", result.WalletAddress),
		slog.String("mode", string(w.Mode())),
	)
	return result, nil
}

// NativeTransferRequest 对应 wallet_native_transfer。Amount 为整币单位的十进制文本。
type NativeTransferRequest struct {
	ChainID uint64
	Amount  string
	Owner   string
	To      string
}

// NativeTransfer 从身份钱包向 To 转出原生币。
func (s *Service) NativeTransfer(ctx context.Context, req NativeTransferRequest) (string, error) {
	chainID := req.ChainID
	if chainID == 0 {
		chainID = s.cfg.DefaultChainID
	}
	raw := strings.TrimSpace(req.Amount)
	if raw == "" {
		return "", invalidData("transfer amount is required")
	}
	def, err := s.chains.Definition(chainID)
	if err != nil {
		return "", err
	}
	amount, err := wallet.ToMinorUnits(raw, def.NativeDecimals())
	if err != nil {
		return "", invalidData(fmt.Sprintf("transfer amount must be positive. Got: %s", raw))
	}
	if amount.Sign() <= 0 {
		return "", invalidData(fmt.Sprintf("transfer amount must be positive. Got: %s", raw))
	}
	owner := strings.TrimSpace(req.Owner)
	if owner == "" {
		return "", invalidData("Camunda user ID is required")
	}
	if strings.TrimSpace(req.To) == "" {
		return "", invalidData("Transfer to address is required")
	}
	to, err := wallet.ParseAddress(req.To)
	if err != nil {
		return "", businessError(CodeInvalidData, err.Error(), err, nil)
	}

	w, found, err := s.wallets.Resolve(ctx, wallet.IDOwner, owner, chainID, "")
	if err != nil {
		return "", err
	}
	if !found {
		return "", businessError(CodePrivateKeyNotFound, "Private key not found", nil, nil)
	}

	res, err := w.SendNative(ctx, to, amount)
	if err != nil {
		s.log.Error("原生币转账失败", slog.String("camunda_user_id", owner), slog.Any("error", err))
		return "", businessError(CodeTransferFailed, "Failed to transfer rewards: "+err.Error(), err, nil)
	}
	logger.Audit().Info("原生币转账完成",
		slog.String("from", w.Address().Hex()),
		slog.String("to", to.Hex()),
		slog.String("amount", amount.String()),
		slog.String("tx_hash", res.Hash.Hex()),
	)
	return res.Hash.Hex(), nil
}

// TreasuryRequest 对应 wallet_treasury_transfer 与 erc20_treasury_transfer。
// Amount 可以为负数，表示从用户扣回。
type TreasuryRequest struct {
	ChainID uint64
	Amount  string
	Owner   string
	ERC20   bool
}

// TreasuryTransfer 在国库与用户之间划转：正数国库→用户，负数用户→国库。
func (s *Service) TreasuryTransfer(ctx context.Context, req TreasuryRequest) (string, error) {
	raw := strings.TrimSpace(req.Amount)
	if raw == "" {
		return "", businessError(CodeInvalidAmount, "transfer amount is required", nil, nil)
	}
	negative := strings.HasPrefix(raw, "-")
	magnitude := strings.TrimPrefix(raw, "-")
	if r, ok := new(big.Rat).SetString(magnitude); !ok || r.Sign() == 0 {
		return "", businessError(CodeInvalidAmount, "transfer amount is required", nil, nil)
	}
	owner := strings.TrimSpace(req.Owner)
	if owner == "" {
		return "", invalidData("Camunda user ID is required")
	}
	chainID := req.ChainID
	if chainID == 0 {
		chainID = s.cfg.DefaultChainID
	}

	var (
		token    common.Address
		decimals = s.cfg.TreasuryTokenDecimals
	)
	if req.ERC20 {
		addr, ok := s.cfg.TreasuryTokens[chainID]
		if !ok {
			return "", xerrors.New(CodeInvalidChainID, fmt.Sprintf("Invalid chain ID: %d", chainID),
				xerrors.WithMetadata("chain_id", strconv.FormatUint(chainID, 10)))
		}
		token = addr
	} else {
		def, err := s.chains.Definition(chainID)
		if err != nil {
			return "", err
		}
		decimals = def.NativeDecimals()
	}
	amount, err := wallet.ToMinorUnits(magnitude, decimals)
	if err != nil {
		return "", businessError(CodeInvalidAmount, err.Error(), err, nil)
	}
	if amount.Sign() == 0 {
		return "", businessError(CodeInvalidAmount, "transfer amount is required", nil, nil)
	}

	if s.cfg.TreasuryKey == "" {
		return "", xerrors.New(xerrors.CodeInitializationFailure, "treasury key is not configured")
	}
	treasury, err := s.wallets.FromKey(ctx, s.cfg.TreasuryKey, chainID)
	if err != nil {
		return "", err
	}
	user, found, err := s.wallets.Resolve(ctx, wallet.IDOwner, owner, chainID, "")
	if err != nil {
		return "", err
	}
	if !found {
		return "", businessError(CodePrivateKeyNotFound, "Private key not found", nil, nil)
	}

	from, to := treasury, user
	if negative {
		from, to = user, treasury
	}
	var res wallet.TxResult
	if req.ERC20 {
		res, err = from.SendERC20(ctx, to.Address(), amount, token)
	} else {
		res, err = from.SendNative(ctx, to.Address(), amount)
	}
	if err != nil {
		s.log.Error("国库转账失败", slog.String("camunda_user_id", owner), slog.Any("error", err))
		return "", businessError(CodeTransferFailed, "Failed to transfer rewards: "+err.Error(), err,
			map[string]string{"treasury_txhash": ""})
	}
	logger.Audit().Info("国库转账完成",
		slog.String("from", from.Address().Hex()),
		slog.String("to", to.Address().Hex()),
		slog.String("amount", amount.String()),
		slog.Bool("erc20", req.ERC20),
		slog.String("tx_hash", res.Hash.Hex()),
	)
	return res.Hash.Hex(), nil
}

// ExecuteRequest 对应 execute_transaction 与 execute_admin_transaction。
// Value、Gas、GasPrice 接受十六进制、十进制或科学计数法文本。
type ExecuteRequest struct {
	Owner      string
	To         string
	Data       string
	ChainID    uint64
	Value      string
	Gas        string
	GasPrice   string
	WalletType string
	Admin      bool
}

// ExecuteTransaction 用身份钱包（或管理员钱包）发送任意交易。
func (s *Service) ExecuteTransaction(ctx context.Context, req ExecuteRequest) (string, error) {
	for _, field := range []struct{ name, value string }{
		{"camunda_user_id", req.Owner},
		{"to", req.To},
		{"data", req.Data},
	} {
		if strings.TrimSpace(field.value) == "" {
			return "", invalidData(fmt.Sprintf("Field '%s' is required", field.name))
		}
	}
	if req.ChainID == 0 {
		return "", invalidData("Field 'chain_id' is required")
	}
	to, err := wallet.ParseAddress(req.To)
	if err != nil {
		return "", businessError(CodeInvalidData, err.Error(), err, nil)
	}
	data, err := decodeCalldata(req.Data)
	if err != nil {
		return "", businessError(CodeInvalidData, "invalid data: "+err.Error(), err, nil)
	}
	value, err := wallet.ParseValue(req.Value)
	if err != nil {
		return "", businessError(CodeInvalidData, "invalid value: "+err.Error(), err, nil)
	}
	gas, err := wallet.ParseValue(req.Gas)
	if err != nil || !gas.IsUint64() {
		return "", invalidData("invalid gas: " + req.Gas)
	}
	gasPrice, err := wallet.ParseValue(req.GasPrice)
	if err != nil {
		return "", businessError(CodeInvalidData, "invalid gas_price: "+err.Error(), err, nil)
	}
	var mode wallet.Mode
	if req.WalletType != "" {
		m, ok := wallet.ParseMode(req.WalletType)
		if !ok {
			return "", invalidData("unknown wallet_type " + req.WalletType)
		}
		mode = m
	}

	var w wallet.Wallet
	if req.Admin {
		w, err = s.wallets.Admin(ctx, req.ChainID)
		if err != nil {
			return "", err
		}
	} else {
		var found bool
		w, found, err = s.wallets.Resolve(ctx, wallet.IDOwner, req.Owner, req.ChainID, mode)
		if err != nil {
			return "", err
		}
		if !found {
			s.log.Error("用户钱包不存在", slog.String("camunda_user_id", req.Owner))
			return "", businessError(CodePrivateKeyNotFound, "Private key not found.", nil, nil)
		}
	}

	client, err := s.chains.Client(ctx, req.ChainID)
	if err != nil {
		return "", err
	}
	price := gasPrice
	if price.Sign() == 0 {
		suggested, err := client.SuggestGasPrice(ctx)
		if err != nil {
			return "", businessError(wallet.CodeTransactionFailed, err.Error(), err, nil)
		}
		price = scale(suggested, s.cfg.GasPriceMultiplier)
	}
	limit := gas.Uint64()
	if limit == 0 {
		estimated, err := client.EstimateGas(ctx, gethcore.CallMsg{
			From:     w.Address(),
			To:       &to,
			GasPrice: price,
			Value:    value,
			Data:     data,
		})
		if err != nil {
			s.log.Error("估算 gas 失败", slog.Any("error", err))
			return "", businessError(wallet.CodeGasEstimation, err.Error(), err, nil)
		}
		limit = estimated
	}
	limit += s.cfg.GasBuffer

	res, err := w.SendTransaction(ctx, wallet.TxRequest{
		To:       to,
		Value:    value,
		Data:     data,
		Gas:      limit,
		GasPrice: price,
	})
	if err != nil {
		s.log.Error("交易发送失败", slog.String("camunda_user_id", req.Owner), slog.Any("error", err))
		return "", businessError(wallet.CodeTransactionFailed, err.Error(), err, nil)
	}
	logger.Audit().Info("交易执行完成",
		slog.String("from", w.Address().Hex()),
		slog.String("to", to.Hex()),
		slog.Bool("admin", req.Admin),
		slog.String("tx_hash", res.Hash.Hex()),
	)
	return res.Hash.Hex(), nil
}

func decodeCalldata(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	return hexutil.Decode(s)
}

// scale 按十进制倍数放大 v，结果向下取整。
func scale(v *big.Int, factor float64) *big.Int {
	f, ok := new(big.Rat).SetString(strconv.FormatFloat(factor, 'f', -1, 64))
	if !ok {
		return new(big.Int).Set(v)
	}
	r := new(big.Rat).Mul(new(big.Rat).SetInt(v), f)
	return new(big.Int).Quo(r.Num(), r.Denom())
}
