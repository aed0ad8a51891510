package web3

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultDecimals is the native currency precision used when a chain entry
// does not specify one.
const DefaultDecimals = 18

// ChainDefinitions models the structure of configs/chains.yaml.
type ChainDefinitions struct {
	// Default is used when the caller supplies no chain id.
	Default ChainDefinition            `yaml:"default"`
	Chains  map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition describes a single chain endpoint definition.
type ChainDefinition struct {
	RPCURL string `yaml:"rpc_url"`
	// Internal chains are served by locally held keys unless the caller
	// overrides the signing mode.
	Internal    bool   `yaml:"internal"`
	Decimals    uint8  `yaml:"decimals"`
	Description string `yaml:"description"`
}

// NativeDecimals returns the configured precision or DefaultDecimals.
func (d ChainDefinition) NativeDecimals() uint8 {
	if d.Decimals == 0 {
		return DefaultDecimals
	}
	return d.Decimals
}

// DefaultChainDefinitions returns the routing table compiled into the binary.
// Every chain id referenced elsewhere in the system must appear here.
func DefaultChainDefinitions() ChainDefinitions {
	return ChainDefinitions{
		Default: ChainDefinition{
			RPCURL:      "https://rpc-testnet-0f871sgqn2.t.conduit.xyz",
			Description: "guru testnet (conduit)",
		},
		Chains: map[string]ChainDefinition{
			"260": {
				RPCURL:      "https://rpc-guru-2k3v53llpe.t.conduit.xyz",
				Internal:    true,
				Description: "guru network",
			},
			"261": {
				RPCURL:      "https://rpc-test.gurunetwork.ai",
				Internal:    true,
				Description: "guru network testnet",
			},
			"8453": {
				RPCURL:      "https://base-rpc.publicnode.com",
				Description: "base mainnet",
			},
			"84532": {
				RPCURL:      "https://base-sepolia.drpc.org",
				Description: "base sepolia",
			},
		},
	}
}

// LoadChainDefinitions parses the YAML file containing chain metadata and
// overlays it on top of the built-in table. An empty path yields the
// built-in table unchanged.
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	defs := DefaultChainDefinitions()
	if strings.TrimSpace(path) == "" {
		return defs, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return ChainDefinitions{}, fmt.Errorf("读取链配置失败: %w", err)
	}

	var file ChainDefinitions
	if err := yaml.Unmarshal(content, &file); err != nil {
		return ChainDefinitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	if strings.TrimSpace(file.Default.RPCURL) != "" {
		defs.Default = file.Default
	}
	for key, chain := range file.Chains {
		defs.Chains[strings.TrimSpace(key)] = chain
	}
	if err := defs.Validate(); err != nil {
		return ChainDefinitions{}, err
	}
	return defs, nil
}

// Validate checks that every key is a chain id and every entry has an endpoint.
func (d ChainDefinitions) Validate() error {
	for key, chain := range d.Chains {
		if _, err := strconv.ParseUint(key, 10, 64); err != nil {
			return fmt.Errorf("链配置键 %q 不是合法的 chain id", key)
		}
		if strings.TrimSpace(chain.RPCURL) == "" {
			return fmt.Errorf("链 %s 缺少 rpc_url", key)
		}
	}
	return nil
}

// Lookup returns the definition registered for chainID.
func (d ChainDefinitions) Lookup(chainID uint64) (ChainDefinition, bool) {
	chain, ok := d.Chains[strconv.FormatUint(chainID, 10)]
	return chain, ok
}

// IDs lists the configured chain ids in ascending order.
func (d ChainDefinitions) IDs() []uint64 {
	ids := make([]uint64, 0, len(d.Chains))
	for key := range d.Chains {
		if id, err := strconv.ParseUint(key, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
