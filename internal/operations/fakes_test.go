package operations

import (
	"context"
	"errors"
	"math/big"
	"sync"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	xerrors "FlowWallet-Chain/internal/errors"
	"FlowWallet-Chain/internal/wallet"
	"FlowWallet-Chain/internal/web3"
)

type sendCall struct {
	kind   string
	to     common.Address
	amount *big.Int
	token  common.Address
	req    wallet.TxRequest
}

type fakeWallet struct {
	mu      sync.Mutex
	address common.Address
	owner   string
	chainID uint64
	mode    wallet.Mode
	calls   []sendCall

	// sendErrs is consumed one per send; nil entries succeed.
	sendErrs []error
	hash     common.Hash
}

func newFakeWallet(addr string, owner string) *fakeWallet {
	return &fakeWallet{
		address: common.HexToAddress(addr),
		owner:   owner,
		mode:    wallet.ModeLocal,
		hash:    common.HexToHash("0xfeed"),
	}
}

func (w *fakeWallet) Address() common.Address { return w.address }
func (w *fakeWallet) ChainID() uint64          { return w.chainID }
func (w *fakeWallet) Owner() string            { return w.owner }
func (w *fakeWallet) Mode() wallet.Mode        { return w.mode }

func (w *fakeWallet) Balance(context.Context) (*big.Float, error) { return new(big.Float), nil }
func (w *fakeWallet) Nonce(context.Context) (uint64, error)       { return 0, nil }

func (w *fakeWallet) SignTransaction(context.Context, wallet.TxRequest) ([]byte, error) {
	return nil, errors.New("not used")
}

func (w *fakeWallet) record(call sendCall) (wallet.TxResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, call)
	if len(w.sendErrs) > 0 {
		err := w.sendErrs[0]
		w.sendErrs = w.sendErrs[1:]
		if err != nil {
			return wallet.TxResult{}, err
		}
	}
	return wallet.TxResult{Hash: w.hash, Status: wallet.TxConfirmed}, nil
}

func (w *fakeWallet) SendTransaction(_ context.Context, req wallet.TxRequest) (wallet.TxResult, error) {
	return w.record(sendCall{kind: "tx", to: req.To, amount: req.Value, req: req})
}

func (w *fakeWallet) SendNative(_ context.Context, to common.Address, amount *big.Int) (wallet.TxResult, error) {
	return w.record(sendCall{kind: "native", to: to, amount: amount})
}

func (w *fakeWallet) SendERC20(_ context.Context, to common.Address, amount *big.Int, token common.Address) (wallet.TxResult, error) {
	return w.record(sendCall{kind: "erc20", to: to, amount: amount, token: token})
}

func (w *fakeWallet) SendRawTransaction(context.Context, []byte) (wallet.TxResult, error) {
	return wallet.TxResult{}, errors.New("not used")
}

func (w *fakeWallet) SendBatchRawTransaction(context.Context, []wallet.TxRequest) (wallet.TxResult, error) {
	return wallet.TxResult{}, errors.New("not used")
}

type resolveCall struct {
	idType  wallet.IDType
	value   string
	chainID uint64
	mode    wallet.Mode
}

type fakeResolver struct {
	wallets    map[string]*fakeWallet
	treasury   *fakeWallet
	admin      *fakeWallet
	next       *fakeWallet
	resolves   []resolveCall
	created    int
	saved      []wallet.Wallet
	keys       []string
	adminErr   error
	resolveErr error
	saveErr    error
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		wallets:  map[string]*fakeWallet{},
		treasury: newFakeWallet("0x00000000000000000000000000000000000000A1", ""),
		admin:    newFakeWallet("0x00000000000000000000000000000000000000AD", ""),
	}
}

func (r *fakeResolver) put(idType wallet.IDType, value string, w *fakeWallet) {
	r.wallets[string(idType)+"="+value] = w
}

func (r *fakeResolver) calls() int {
	return len(r.resolves) + r.created + len(r.keys)
}

func (r *fakeResolver) Resolve(_ context.Context, idType wallet.IDType, value string, chainID uint64, override wallet.Mode) (wallet.Wallet, bool, error) {
	r.resolves = append(r.resolves, resolveCall{idType: idType, value: value, chainID: chainID, mode: override})
	if r.resolveErr != nil {
		return nil, false, r.resolveErr
	}
	w, ok := r.wallets[string(idType)+"="+value]
	if !ok {
		return nil, false, nil
	}
	w.chainID = chainID
	return w, true, nil
}

func (r *fakeResolver) Create(_ context.Context, owner string, mode wallet.Mode, chainID uint64) (wallet.Wallet, error) {
	r.created++
	w := r.next
	if w == nil {
		w = newFakeWallet("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", owner)
	}
	w.owner, w.mode, w.chainID = owner, mode, chainID
	return w, nil
}

func (r *fakeResolver) Save(_ context.Context, w wallet.Wallet) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	r.saved = append(r.saved, w)
	r.put(wallet.IDOwner, w.Owner(), w.(*fakeWallet))
	return nil
}

func (r *fakeResolver) FromKey(_ context.Context, hexKey string, chainID uint64) (wallet.Wallet, error) {
	r.keys = append(r.keys, hexKey)
	r.treasury.chainID = chainID
	return r.treasury, nil
}

func (r *fakeResolver) Admin(_ context.Context, chainID uint64) (wallet.Wallet, error) {
	if r.adminErr != nil {
		return nil, r.adminErr
	}
	r.admin.chainID = chainID
	return r.admin, nil
}

type fakeClient struct {
	mu          sync.Mutex
	gasPrice    *big.Int
	estimate    uint64
	estimateErr error
	estimates   int
	allowance   *big.Int
	calls       int
}

func (c *fakeClient) ChainID(context.Context) (*big.Int, error) { return big.NewInt(261), nil }
func (c *fakeClient) BalanceAt(context.Context, common.Address) (*big.Int, error) {
	return new(big.Int), nil
}
func (c *fakeClient) PendingNonceAt(context.Context, common.Address) (uint64, error) { return 0, nil }
func (c *fakeClient) SuggestGasPrice(context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return new(big.Int).Set(c.gasPrice), nil
}

func (c *fakeClient) EstimateGas(context.Context, gethcore.CallMsg) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.estimates++
	if c.estimateErr != nil {
		return 0, c.estimateErr
	}
	return c.estimate, nil
}

func (c *fakeClient) CallContract(context.Context, gethcore.CallMsg) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	allowance := c.allowance
	if allowance == nil {
		allowance = new(big.Int)
	}
	return common.LeftPadBytes(allowance.Bytes(), 32), nil
}

func (c *fakeClient) SendRawTransaction(context.Context, []byte) (common.Hash, error) {
	return common.Hash{}, errors.New("not used")
}

func (c *fakeClient) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	return nil, gethcore.NotFound
}

func (c *fakeClient) Close() {}

type fakeChains struct {
	defs   web3.ChainDefinitions
	client *fakeClient
	dials  []uint64
}

func newFakeChains() *fakeChains {
	return &fakeChains{
		defs:   web3.DefaultChainDefinitions(),
		client: &fakeClient{gasPrice: big.NewInt(1000), estimate: 21000},
	}
}

func (c *fakeChains) Client(_ context.Context, chainID uint64) (web3.ChainClient, error) {
	if _, err := c.Definition(chainID); err != nil {
		return nil, err
	}
	c.dials = append(c.dials, chainID)
	return c.client, nil
}

func (c *fakeChains) Definition(chainID uint64) (web3.ChainDefinition, error) {
	if chainID == 0 {
		return c.defs.Default, nil
	}
	def, ok := c.defs.Lookup(chainID)
	if !ok {
		return web3.ChainDefinition{}, xerrors.New(web3.CodeUnsupportedChain, "unsupported chain")
	}
	return def, nil
}

func newTestService(resolver *fakeResolver, chains *fakeChains, mutate ...func(*Config)) *Service {
	cfg := DefaultConfig()
	cfg.TreasuryKey = "treasury-key"
	cfg.ServiceKey = "service-key"
	for _, m := range mutate {
		m(&cfg)
	}
	svc, err := NewService(cfg, resolver, chains)
	if err != nil {
		panic(err)
	}
	return svc
}
