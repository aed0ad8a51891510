package operations

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	xerrors "FlowWallet-Chain/internal/errors"
)

// 支持的任务主题。
const (
	TopicGenerateWallet          = "wallet_generate"
	TopicNativeTransfer          = "wallet_native_transfer"
	TopicApproveToken            = "approve_token"
	TopicApproveTokenForUser     = "approve_token_for_user"
	TopicTreasuryTransfer        = "wallet_treasury_transfer"
	TopicERC20TreasuryTransfer   = "erc20_treasury_transfer"
	TopicExecuteTransaction      = "execute_transaction"
	TopicExecuteAdminTransaction = "execute_admin_transaction"
)

type handlerFunc func(ctx context.Context, vars Variables) (map[string]any, error)

// Router 将任务主题与变量翻译为对 Service 的调用。
type Router struct {
	svc      *Service
	handlers map[string]handlerFunc
}

// NewRouter 注册全部主题。
func NewRouter(svc *Service) *Router {
	r := &Router{svc: svc}
	r.handlers = map[string]handlerFunc{
		TopicGenerateWallet:          r.generate,
		TopicNativeTransfer:          r.nativeTransfer,
		TopicApproveToken:            r.approve(false),
		TopicApproveTokenForUser:     r.approve(true),
		TopicTreasuryTransfer:        r.treasury(false),
		TopicERC20TreasuryTransfer:   r.treasury(true),
		TopicExecuteTransaction:      r.execute(false),
		TopicExecuteAdminTransaction: r.execute(true),
	}
	return r
}

// Topics 返回已注册主题，按字母序排列。
func (r *Router) Topics() []string {
	topics := make([]string, 0, len(r.handlers))
	for topic := range r.handlers {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// Supports 判断主题是否已注册。
func (r *Router) Supports(topic string) bool {
	_, ok := r.handlers[topic]
	return ok
}

// Execute 执行一个任务并返回输出变量。
func (r *Router) Execute(ctx context.Context, topic string, vars map[string]any) (map[string]any, error) {
	handler, ok := r.handlers[topic]
	if !ok {
		return nil, xerrors.New(CodeUnknownTopic, "unknown topic "+topic)
	}
	return handler(ctx, Variables(vars))
}

func (r *Router) generate(ctx context.Context, vars Variables) (map[string]any, error) {
	res, err := r.svc.GenerateWallet(ctx, GenerateRequest{
		Owner:    vars.String("camunda_user_id"),
		Referrer: vars.String("ref_user_id"),
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"wallet_address":     res.WalletAddress,
		"ref_wallet_address": res.RefWalletAddress,
	}, nil
}

func (r *Router) nativeTransfer(ctx context.Context, vars Variables) (map[string]any, error) {
	chainID, err := vars.ChainID()
	if err != nil {
		return nil, err
	}
	hash, err := r.svc.NativeTransfer(ctx, NativeTransferRequest{
		ChainID: chainID,
		Amount:  vars.String("transfer_amount"),
		Owner:   vars.String("camunda_user_id"),
		To:      vars.String("transfer_to"),
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"transfer_txhash": hash}, nil
}

func (r *Router) approve(forUser bool) handlerFunc {
	return func(ctx context.Context, vars Variables) (map[string]any, error) {
		chainID, err := vars.ChainID()
		if err != nil {
			return nil, err
		}
		hash, err := r.svc.ApproveToken(ctx, ApproveRequest{
			Token:     vars.String("token_address"),
			Spender:   vars.String("spender_address"),
			Allowance: vars.String("token_allowance"),
			ChainID:   chainID,
			Owner:     vars.String("camunda_user_id"),
			ForUser:   forUser,
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"txhash_approve": hash}, nil
	}
}

func (r *Router) treasury(erc20 bool) handlerFunc {
	return func(ctx context.Context, vars Variables) (map[string]any, error) {
		chainID, err := vars.ChainID()
		if err != nil {
			return nil, err
		}
		hash, err := r.svc.TreasuryTransfer(ctx, TreasuryRequest{
			ChainID: chainID,
			Amount:  vars.String("transfer_amount"),
			Owner:   vars.String("camunda_user_id"),
			ERC20:   erc20,
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"treasury_txhash": hash}, nil
	}
}

func (r *Router) execute(admin bool) handlerFunc {
	return func(ctx context.Context, vars Variables) (map[string]any, error) {
		chainID, err := vars.ChainID()
		if err != nil {
			return nil, err
		}
		hash, err := r.svc.ExecuteTransaction(ctx, ExecuteRequest{
			Owner:      vars.String("camunda_user_id"),
			To:         vars.String("to"),
			Data:       vars.String("data"),
			ChainID:    chainID,
			Value:      vars.String("value"),
			Gas:        vars.String("gas"),
			GasPrice:   vars.String("gas_price"),
			WalletType: vars.String("wallet_type"),
			Admin:      admin,
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"tx_hash": hash}, nil
	}
}

// Variables 是任务输入变量。数值可能以 string、json.Number、float64 或整数出现。
type Variables map[string]any

// String 以文本形式返回变量，缺失或 null 时为空串。
func (v Variables) String(key string) string {
	raw, ok := v[key]
	if !ok || raw == nil {
		return ""
	}
	switch val := raw.(type) {
	case string:
		return strings.TrimSpace(val)
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprint(val)
	}
}

// ChainID 解析 chain_id，缺失时为 0。
func (v Variables) ChainID() (uint64, error) {
	raw := v.String("chain_id")
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, invalidData(fmt.Sprintf("invalid chain_id %q", raw))
	}
	return id, nil
}
