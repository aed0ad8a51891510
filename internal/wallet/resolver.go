package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "FlowWallet-Chain/internal/errors"
	"FlowWallet-Chain/internal/storage/walletapi"
	"FlowWallet-Chain/internal/web3"
	"FlowWallet-Chain/pkg/logger"
)

// Store is the wallet storage service.
type Store interface {
	ListWallets(ctx context.Context, idType, value string) ([]walletapi.Record, error)
	SaveUser(ctx context.Context, update walletapi.UserUpdate) error
}

// ChainProvider resolves chain ids to clients and routing entries.
type ChainProvider interface {
	Client(ctx context.Context, chainID uint64) (web3.ChainClient, error)
	Definition(chainID uint64) (web3.ChainDefinition, error)
	IsInternal(chainID uint64) bool
}

// Cipher seals key material at the storage boundary.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// Resolver is the only way handlers obtain wallets.
type Resolver struct {
	store          Store
	chains         ChainProvider
	cipher         Cipher
	custodial      CustodialAPI
	locker         Locker
	localPolicy    RetryPolicy
	pollingPolicy  RetryPolicy
	nativeGasLimit uint64
	log            *slog.Logger
}

// ResolverOption customises a Resolver.
type ResolverOption func(*Resolver)

// WithCustodial enables custodial wallets backed by api.
func WithCustodial(api CustodialAPI) ResolverOption {
	return func(r *Resolver) { r.custodial = api }
}

// WithLocker replaces the in-process nonce lock, e.g. with a Redis lock
// shared across worker replicas.
func WithLocker(l Locker) ResolverOption {
	return func(r *Resolver) {
		if l != nil {
			r.locker = l
		}
	}
}

// WithLocalPolicy overrides the local confirmation policy.
func WithLocalPolicy(p RetryPolicy) ResolverOption {
	return func(r *Resolver) { r.localPolicy = p }
}

// WithCustodialPolicy overrides the custodial polling policy.
func WithCustodialPolicy(p RetryPolicy) ResolverOption {
	return func(r *Resolver) { r.pollingPolicy = p }
}

// WithNativeGasLimit overrides the gas limit of native transfers.
func WithNativeGasLimit(limit uint64) ResolverOption {
	return func(r *Resolver) {
		if limit > 0 {
			r.nativeGasLimit = limit
		}
	}
}

// NewResolver wires the resolver. The cipher is mandatory.
func NewResolver(store Store, chains ChainProvider, cipher Cipher, opts ...ResolverOption) (*Resolver, error) {
	if store == nil || chains == nil {
		return nil, errors.New("wallet: store and chain provider are required")
	}
	if cipher == nil {
		return nil, errors.New("wallet: key cipher is required")
	}
	r := &Resolver{
		store:          store,
		chains:         chains,
		cipher:         cipher,
		locker:         NewMemoryLocker(),
		localPolicy:    LocalConfirmationPolicy(),
		pollingPolicy:  CustodialPollingPolicy(),
		nativeGasLimit: DefaultNativeGasLimit,
		log:            logger.Named("resolver"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// DesiredMode returns override when set, otherwise local for internal chains
// and custodial for the rest.
func (r *Resolver) DesiredMode(chainID uint64, override Mode) Mode {
	if override != "" {
		return override
	}
	if r.chains.IsInternal(chainID) {
		return ModeLocal
	}
	return ModeCustodial
}

// Resolve finds the wallet of identity (idType=value) for chainID. A missing
// record is reported as ok=false with a nil error; a failing lookup is an
// error.
func (r *Resolver) Resolve(ctx context.Context, idType IDType, value string, chainID uint64, override Mode) (Wallet, bool, error) {
	if !idType.Valid() {
		return nil, false, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("unknown id type %q", idType))
	}
	records, err := r.store.ListWallets(ctx, string(idType), value)
	if err != nil {
		return nil, false, err
	}
	mode := r.DesiredMode(chainID, override)
	owner := ""
	if idType == IDOwner {
		owner = value
	}
	for _, rec := range records {
		if rec.NetworkType != mode.NetworkType() {
			continue
		}
		var w Wallet
		switch mode {
		case ModeLocal:
			w, err = r.openLocal(ctx, rec, owner, chainID)
		default:
			w, err = r.openCustodial(ctx, common.HexToAddress(rec.WalletAddress), owner, chainID)
		}
		if err != nil {
			return nil, false, err
		}
		return w, true, nil
	}
	return nil, false, nil
}

func (r *Resolver) openLocal(ctx context.Context, rec walletapi.Record, owner string, chainID uint64) (*LocalWallet, error) {
	plain, err := r.cipher.Decrypt(rec.PrivateKey)
	if err != nil {
		return nil, xerrors.Wrap(CodeInvalidKey, err, "decrypt stored key",
			xerrors.WithMetadata("address", rec.WalletAddress))
	}
	key, err := ParsePrivateKey(plain)
	if err != nil {
		return nil, err
	}
	if derived := crypto.PubkeyToAddress(key.PublicKey); !strings.EqualFold(derived.Hex(), rec.WalletAddress) {
		return nil, xerrors.New(CodeInvalidKey, "stored key does not match wallet address",
			xerrors.WithMetadata("address", rec.WalletAddress))
	}
	return r.bindLocal(ctx, key, LocalConfig{Owner: owner, ChainID: chainID})
}

func (r *Resolver) openCustodial(ctx context.Context, addr common.Address, owner string, chainID uint64) (*CustodialWallet, error) {
	if r.custodial == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "custodial signing is not configured")
	}
	client, def, err := r.chain(ctx, chainID)
	if err != nil {
		return nil, err
	}
	return NewCustodialWallet(addr, r.custodial, client, CustodialConfig{
		Owner:    owner,
		ChainID:  chainID,
		Decimals: def.NativeDecimals(),
		Polling:  r.pollingPolicy,
		Raw:      r.localPolicy,
	}), nil
}

func (r *Resolver) chain(ctx context.Context, chainID uint64) (web3.ChainClient, web3.ChainDefinition, error) {
	def, err := r.chains.Definition(chainID)
	if err != nil {
		return nil, web3.ChainDefinition{}, err
	}
	client, err := r.chains.Client(ctx, chainID)
	if err != nil {
		return nil, web3.ChainDefinition{}, err
	}
	return client, def, nil
}

func (r *Resolver) bindLocal(ctx context.Context, key *ecdsa.PrivateKey, cfg LocalConfig) (*LocalWallet, error) {
	client, def, err := r.chain(ctx, cfg.ChainID)
	if err != nil {
		return nil, err
	}
	cfg.Decimals = def.NativeDecimals()
	cfg.Locker = r.locker
	cfg.Policy = r.localPolicy
	cfg.NativeGasLimit = r.nativeGasLimit
	return NewLocalWallet(key, client, cfg), nil
}

// Create builds a new, unsaved wallet for owner. Local wallets get a fresh
// mnemonic; custodial wallets are provisioned by the engine.
func (r *Resolver) Create(ctx context.Context, owner string, mode Mode, chainID uint64) (Wallet, error) {
	switch mode {
	case ModeLocal:
		mnemonic, err := NewMnemonic()
		if err != nil {
			return nil, err
		}
		key, err := KeyFromMnemonic(mnemonic)
		if err != nil {
			return nil, err
		}
		w, err := r.bindLocal(ctx, key, LocalConfig{Owner: owner, ChainID: chainID, Mnemonic: mnemonic})
		if err != nil {
			return nil, err
		}
		r.log.Info("已生成本地钱包", slog.String("owner", owner), slog.String("address", w.Address().Hex()))
		return w, nil
	case ModeCustodial:
		if r.custodial == nil {
			return nil, xerrors.New(xerrors.CodeInitializationFailure, "custodial signing is not configured")
		}
		address, err := r.custodial.CreateBackendWallet(ctx)
		if err != nil {
			return nil, err
		}
		w, err := r.openCustodial(ctx, common.HexToAddress(address), owner, chainID)
		if err != nil {
			return nil, err
		}
		r.log.Info("已创建托管钱包", slog.String("owner", owner), slog.String("address", w.Address().Hex()))
		return w, nil
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("unknown wallet mode %q", mode))
	}
}

// Save persists w. Failures are retryable and carry the address and cause.
func (r *Resolver) Save(ctx context.Context, w Wallet) error {
	update := walletapi.UserUpdate{
		WalletAddress: w.Address().Hex(),
		OwnerID:       w.Owner(),
		NetworkType:   w.Mode().NetworkType(),
	}
	if local, ok := w.(*LocalWallet); ok {
		sealed, err := r.cipher.Encrypt(local.PrivateKeyHex())
		if err != nil {
			return r.persistenceError(w, err)
		}
		update.PrivateKey = sealed
		if local.Mnemonic() != "" {
			if update.Mnemonic, err = r.cipher.Encrypt(local.Mnemonic()); err != nil {
				return r.persistenceError(w, err)
			}
		}
	}
	if err := r.store.SaveUser(ctx, update); err != nil {
		return r.persistenceError(w, err)
	}
	return nil
}

func (r *Resolver) persistenceError(w Wallet, cause error) error {
	return xerrors.Wrap(CodePersistenceFailed, cause, "save wallet",
		xerrors.WithMetadataMap(map[string]string{
			"address": strings.ToLower(w.Address().Hex()),
			"error":   cause.Error(),
		}))
}

// FromKey wraps a configured operational key. chainID 0 binds the default
// endpoint.
func (r *Resolver) FromKey(ctx context.Context, hexKey string, chainID uint64) (Wallet, error) {
	key, err := ParsePrivateKey(hexKey)
	if err != nil {
		return nil, err
	}
	w, err := r.bindLocal(ctx, key, LocalConfig{ChainID: chainID})
	if err != nil {
		return nil, err
	}
	return w, nil
}

// Admin returns the engine's backend wallet on chainID.
func (r *Resolver) Admin(ctx context.Context, chainID uint64) (Wallet, error) {
	if r.custodial == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "custodial signing is not configured")
	}
	client, def, err := r.chain(ctx, chainID)
	if err != nil {
		return nil, err
	}
	return NewAdminWallet(r.custodial, client, CustodialConfig{
		ChainID:  chainID,
		Decimals: def.NativeDecimals(),
		Polling:  r.pollingPolicy,
		Raw:      r.localPolicy,
	}), nil
}
