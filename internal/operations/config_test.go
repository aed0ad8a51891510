package operations

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	xerrors "FlowWallet-Chain/internal/errors"
	"FlowWallet-Chain/internal/wallet"
)

// serviceFromConfig 直接使用给定配置，不经过 DefaultConfig。
func serviceFromConfig(t *testing.T, cfg Config) (*Service, *fakeResolver, *fakeChains) {
	t.Helper()
	resolver := newFakeResolver()
	chains := newFakeChains()
	svc, err := NewService(cfg, resolver, chains)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, resolver, chains
}

func TestZeroConfigFallsBackToDefaults(t *testing.T) {
	svc, resolver, _ := serviceFromConfig(t, Config{TreasuryKey: "k", ServiceKey: "k"})
	user := newFakeWallet(userAddr, "u1")
	resolver.put(wallet.IDOwner, "u1", user)

	if _, err := svc.ExecuteTransaction(context.Background(), ExecuteRequest{
		Owner: "u1", To: otherAddr, Data: "0x", ChainID: 8453, Gas: "30000",
	}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	req := user.calls[0].req
	if req.Gas != 35000 {
		t.Fatalf("default gas buffer not applied, got gas=%d", req.Gas)
	}
	if req.GasPrice.Int64() != 1600 {
		t.Fatalf("default gas price multiplier not applied, got %s", req.GasPrice)
	}

	if _, err := svc.TreasuryTransfer(context.Background(), TreasuryRequest{Amount: "5", Owner: "u1", ERC20: true, ChainID: 8453}); err != nil {
		t.Fatalf("erc20 transfer: %v", err)
	}
	call := resolver.treasury.calls[0]
	if call.token != common.HexToAddress("0x0f1cfd0bb452db90a3bfc0848349463010419ab2") || call.amount.Cmp(eth(5)) != 0 {
		t.Fatalf("default token or decimals not applied: %+v", call)
	}

	if _, err := svc.GenerateWallet(context.Background(), GenerateRequest{Owner: "u2"}); err != nil {
		t.Fatalf("generate: %v", err)
	}
	last := resolver.resolves[len(resolver.resolves)-1]
	if last.chainID != 261 || last.mode != wallet.ModeLocal {
		t.Fatalf("default chain or generation mode not applied: %+v", last)
	}
}

func TestPartialConfigKeepsExplicitValues(t *testing.T) {
	token := common.HexToAddress("0x00000000000000000000000000000000000000C2")
	svc, resolver, _ := serviceFromConfig(t, Config{
		TreasuryKey:           "k",
		ServiceKey:            "k",
		GasBuffer:             100,
		GasPriceMultiplier:    2,
		TreasuryTokens:        map[uint64]common.Address{261: token},
		TreasuryTokenDecimals: 6,
	})
	user := newFakeWallet(userAddr, "u1")
	resolver.put(wallet.IDOwner, "u1", user)

	if _, err := svc.ExecuteTransaction(context.Background(), ExecuteRequest{
		Owner: "u1", To: otherAddr, Data: "0x", ChainID: 8453,
	}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	req := user.calls[0].req
	if req.Gas != 21100 || req.GasPrice.Int64() != 2000 {
		t.Fatalf("explicit values overridden: gas=%d price=%s", req.Gas, req.GasPrice)
	}

	if _, err := svc.TreasuryTransfer(context.Background(), TreasuryRequest{Amount: "5", Owner: "u1", ERC20: true, ChainID: 261}); err != nil {
		t.Fatalf("erc20 transfer: %v", err)
	}
	call := resolver.treasury.calls[0]
	if call.token != token || call.amount.Cmp(big.NewInt(5_000_000)) != 0 {
		t.Fatalf("configured token or decimals ignored: %+v", call)
	}
	if _, err := svc.TreasuryTransfer(context.Background(), TreasuryRequest{Amount: "5", Owner: "u1", ERC20: true, ChainID: 8453}); !xerrors.HasCode(err, CodeInvalidChainID) {
		t.Fatalf("configured token map replaces the defaults, got %v", err)
	}
}
