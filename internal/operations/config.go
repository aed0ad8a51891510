package operations

import (
	"github.com/ethereum/go-ethereum/common"

	"FlowWallet-Chain/internal/wallet"
)

// Config 汇总处理器的可调参数。
type Config struct {
	// DefaultChainID 在任务未给出 chain_id 时使用。
	DefaultChainID uint64
	// GenerationMode 决定 wallet_generate 创建的钱包类型。
	GenerationMode wallet.Mode
	// TreasuryKey 是国库钱包私钥（十六进制）。
	TreasuryKey string
	// ServiceKey 是 approve_token 使用的服务钱包私钥。
	ServiceKey string
	// TreasuryTokens 将链 ID 映射到国库 ERC-20 代币合约。
	TreasuryTokens map[uint64]common.Address
	// TreasuryTokenDecimals 是国库代币精度。
	TreasuryTokenDecimals uint8
	// GasPriceMultiplier 作用于网络建议的 gas price，只在调用方未指定时生效。
	GasPriceMultiplier float64
	// GasBuffer 会加到 execute_transaction 的 gas 上，为 0 时取默认值。
	GasBuffer uint64
	// NativePlaceholder 代表原生币，授权时直接跳过。
	NativePlaceholder common.Address
}

// DefaultConfig 返回与线上一致的默认值。
func DefaultConfig() Config {
	return Config{
		DefaultChainID: 261,
		GenerationMode: wallet.ModeLocal,
		TreasuryTokens: map[uint64]common.Address{
			1:    common.HexToAddress("0x525574c899a7c877a11865339e57376092168258"),
			8453: common.HexToAddress("0x0f1cfd0bb452db90a3bfc0848349463010419ab2"),
		},
		TreasuryTokenDecimals: 18,
		GasPriceMultiplier:    1.6,
		GasBuffer:             5000,
		NativePlaceholder:     common.HexToAddress("0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee"),
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.DefaultChainID == 0 {
		c.DefaultChainID = def.DefaultChainID
	}
	if c.GenerationMode == "" {
		c.GenerationMode = def.GenerationMode
	}
	if c.TreasuryTokens == nil {
		c.TreasuryTokens = def.TreasuryTokens
	}
	if c.TreasuryTokenDecimals == 0 {
		c.TreasuryTokenDecimals = def.TreasuryTokenDecimals
	}
	if c.GasPriceMultiplier <= 0 {
		c.GasPriceMultiplier = def.GasPriceMultiplier
	}
	// 0 视为未配置，execute_transaction 始终保留余量。
	if c.GasBuffer == 0 {
		c.GasBuffer = def.GasBuffer
	}
	if c.NativePlaceholder == (common.Address{}) {
		c.NativePlaceholder = def.NativePlaceholder
	}
}
