package operations

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"

	xerrors "FlowWallet-Chain/internal/errors"
	"FlowWallet-Chain/internal/wallet"
	"FlowWallet-Chain/internal/web3"
	"FlowWallet-Chain/pkg/logger"
)

const erc20ABIJSON = `[
	{"constant":false,"inputs":[{"name":"_spender","type":"address"},{"name":"_value","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
	{"constant":true,"inputs":[{"name":"_owner","type":"address"},{"name":"_spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

// USDT 风格的合约 approve 没有返回值。
const noReturnApproveABIJSON = `[
	{"constant":false,"inputs":[{"name":"_spender","type":"address"},{"name":"_value","type":"uint256"}],"name":"approve","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

var (
	erc20ABI           = mustParseABI(erc20ABIJSON)
	noReturnApproveABI = mustParseABI(noReturnApproveABIJSON)
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("operations: parse abi: %v", err))
	}
	return parsed
}

// ApproveRequest 对应 approve_token 与 approve_token_for_user。
type ApproveRequest struct {
	Token     string
	Spender   string
	Allowance string
	ChainID   uint64
	Owner     string
	// ForUser 为真时使用身份钱包，否则使用服务钱包。
	ForUser bool
}

// ApproveToken 确保 spender 对 token 至少有 Allowance 的额度。无需授权时返回空哈希。
func (s *Service) ApproveToken(ctx context.Context, req ApproveRequest) (string, error) {
	token, err := wallet.ParseAddress(req.Token)
	if err != nil {
		return "", businessError(CodeApproveTokenFailed, err.Error(), err, nil)
	}
	if token == s.cfg.NativePlaceholder {
		return "", nil
	}
	allowance := new(big.Int).Set(math.MaxBig256)
	if strings.TrimSpace(req.Allowance) != "" {
		allowance, err = wallet.ParseValue(req.Allowance)
		if err != nil {
			return "", businessError(CodeApproveTokenFailed, err.Error(), err, nil)
		}
	}
	spender, err := wallet.ParseAddress(req.Spender)
	if err != nil {
		return "", businessError(CodeApproveTokenFailed, err.Error(), err, nil)
	}

	w, err := s.approver(ctx, req)
	if err != nil {
		return "", err
	}
	client, err := s.chains.Client(ctx, w.ChainID())
	if err != nil {
		return "", err
	}

	current, err := readAllowance(ctx, client, token, w.Address(), spender)
	if err != nil {
		return "", businessError(CodeApproveTokenFailed, err.Error(), err, nil)
	}
	if current.Cmp(allowance) >= 0 {
		s.log.Info("授权额度充足，跳过", slog.String("token", token.Hex()), slog.String("spender", spender.Hex()))
		return "", nil
	}

	hash, err := sendApprove(ctx, w, client, erc20ABI, token, spender, allowance)
	if err != nil {
		s.log.Error("授权失败，尝试无返回值的 approve", slog.String("token", token.Hex()), slog.Any("error", err))
		hash, err = sendApprove(ctx, w, client, noReturnApproveABI, token, spender, allowance)
		if err != nil {
			s.log.Error("授权失败", slog.String("token", token.Hex()), slog.Any("error", err))
			return "", businessError(CodeApproveTokenFailed, err.Error(), err, nil)
		}
	}
	logger.Audit().Info("代币授权完成",
		slog.String("owner", w.Address().Hex()),
		slog.String("token", token.Hex()),
		slog.String("spender", spender.Hex()),
		slog.String("allowance", allowance.String()),
		slog.String("tx_hash", hash),
	)
	return hash, nil
}

func (s *Service) approver(ctx context.Context, req ApproveRequest) (wallet.Wallet, error) {
	if !req.ForUser {
		if s.cfg.ServiceKey == "" {
			return nil, xerrors.New(xerrors.CodeInitializationFailure, "service key is not configured")
		}
		return s.wallets.FromKey(ctx, s.cfg.ServiceKey, req.ChainID)
	}
	chainID := req.ChainID
	if chainID == 0 {
		chainID = s.cfg.DefaultChainID
	}
	w, found, err := s.wallets.Resolve(ctx, wallet.IDOwner, req.Owner, chainID, "")
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, businessError(CodeUserNotFound, "User not found", nil, nil)
	}
	return w, nil
}

func readAllowance(ctx context.Context, client web3.ChainClient, token, owner, spender common.Address) (*big.Int, error) {
	input, err := erc20ABI.Pack("allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	out, err := client.CallContract(ctx, gethcore.CallMsg{From: owner, To: &token, Data: input})
	if err != nil {
		return nil, xerrors.Wrap(web3.CodeRPCFailure, err, "read allowance")
	}
	values, err := erc20ABI.Unpack("allowance", out)
	if err != nil {
		return nil, fmt.Errorf("decode allowance: %w", err)
	}
	current, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected allowance type %T", values[0])
	}
	return current, nil
}

func sendApprove(ctx context.Context, w wallet.Wallet, client web3.ChainClient, contract abi.ABI, token, spender common.Address, amount *big.Int) (string, error) {
	input, err := contract.Pack("approve", spender, amount)
	if err != nil {
		return "", err
	}
	gas, err := client.EstimateGas(ctx, gethcore.CallMsg{From: w.Address(), To: &token, Data: input})
	if err != nil {
		return "", xerrors.Wrap(wallet.CodeGasEstimation, err, "estimate approve")
	}
	res, err := w.SendTransaction(ctx, wallet.TxRequest{To: token, Data: input, Gas: gas})
	if err != nil {
		return "", err
	}
	return res.Hash.Hex(), nil
}
