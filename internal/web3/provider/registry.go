package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	xerrors "FlowWallet-Chain/internal/errors"
	"FlowWallet-Chain/internal/web3"
	"FlowWallet-Chain/internal/web3/ethereum"
	"FlowWallet-Chain/pkg/logger"
)

// DefaultChain is the key callers pass when they have no chain id.
const DefaultChain uint64 = 0

// Dialer opens a client for a routing table entry. chainID is DefaultChain
// for the default entry.
type Dialer func(ctx context.Context, chainID uint64, def web3.ChainDefinition) (web3.ChainClient, error)

// Registry maps chain ids to lazily dialled clients.
type Registry struct {
	defs    web3.ChainDefinitions
	dial    Dialer
	mu      sync.Mutex
	clients map[uint64]web3.ChainClient
}

// Option customises a Registry.
type Option func(*Registry)

// WithDialer replaces the go-ethereum dialer, mainly for tests.
func WithDialer(d Dialer) Option {
	return func(r *Registry) {
		if d != nil {
			r.dial = d
		}
	}
}

// NewRegistry validates the routing table and prepares the registry. No
// connection is opened until a chain is first requested.
func NewRegistry(defs web3.ChainDefinitions, opts ...Option) (*Registry, error) {
	if err := defs.Validate(); err != nil {
		return nil, err
	}
	if defs.Chains == nil {
		defs.Chains = map[string]web3.ChainDefinition{}
	}
	r := &Registry{
		defs:    defs,
		dial:    dialEthereum,
		clients: make(map[uint64]web3.ChainClient),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

func dialEthereum(ctx context.Context, chainID uint64, def web3.ChainDefinition) (web3.ChainClient, error) {
	return ethereum.NewClient(ctx, ethereum.Config{
		ChainID: chainID,
		RPCURL:  def.RPCURL,
	})
}

// Definition returns the routing entry for chainID. DefaultChain resolves to
// the default entry; any other id missing from the table is unsupported.
func (r *Registry) Definition(chainID uint64) (web3.ChainDefinition, error) {
	if r == nil {
		return web3.ChainDefinition{}, xerrors.New(xerrors.CodeInitializationFailure, "未初始化的链客户端注册表")
	}
	if chainID == DefaultChain {
		if r.defs.Default.RPCURL == "" {
			return web3.ChainDefinition{}, xerrors.New(web3.CodeUnsupportedChain, "no default chain configured")
		}
		return r.defs.Default, nil
	}
	def, ok := r.defs.Lookup(chainID)
	if !ok {
		return web3.ChainDefinition{}, xerrors.New(web3.CodeUnsupportedChain,
			fmt.Sprintf("chain %d is not configured", chainID),
			xerrors.WithMetadata("chain_id", fmt.Sprint(chainID)))
	}
	return def, nil
}

// IsInternal reports whether chainID is served by locally held keys.
func (r *Registry) IsInternal(chainID uint64) bool {
	def, err := r.Definition(chainID)
	return err == nil && def.Internal
}

// Client returns the cached client for chainID, dialling it on first use.
func (r *Registry) Client(ctx context.Context, chainID uint64) (web3.ChainClient, error) {
	def, err := r.Definition(chainID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if client, ok := r.clients[chainID]; ok {
		return client, nil
	}
	client, err := r.dial(ctx, chainID, def)
	if err != nil {
		return nil, xerrors.Wrap(web3.CodeRPCFailure, err, fmt.Sprintf("dial chain %d", chainID))
	}
	r.clients[chainID] = client
	logger.L().Info("链客户端已连接",
		slog.Uint64("chain_id", chainID),
		slog.String("description", def.Description),
	)
	return client, nil
}

// Chains returns the public view of the routing table.
func (r *Registry) Chains() []web3.ChainInfo {
	if r == nil {
		return nil
	}
	ids := r.defs.IDs()
	infos := make([]web3.ChainInfo, 0, len(ids))
	for _, id := range ids {
		def, _ := r.defs.Lookup(id)
		infos = append(infos, web3.ChainInfo{
			ChainID:     id,
			Internal:    def.Internal,
			Decimals:    def.NativeDecimals(),
			Description: def.Description,
		})
	}
	return infos
}

// Close releases all clients managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, client := range r.clients {
		if client != nil {
			client.Close()
		}
		delete(r.clients, id)
	}
}

// ErrUnsupportedChain can be used with errors.Is to detect routing failures.
var ErrUnsupportedChain = xerrors.New(web3.CodeUnsupportedChain, "")

// IsUnsupportedChain reports whether err was caused by a missing routing entry.
func IsUnsupportedChain(err error) bool {
	return errors.Is(err, ErrUnsupportedChain)
}
