package wallet

import (
	"context"
	"math/big"
	"sync"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// fakeChain is an in-memory node. Nonces follow the number of accepted
// transactions and receipts appear only when mined is set.
type fakeChain struct {
	mu          sync.Mutex
	chainID     int64
	gasPrice    *big.Int
	estimate    uint64
	estimateErr error
	balance     *big.Int
	mined       bool
	status      uint64
	sent        []*types.Transaction
	receipts    int
}

func newFakeChain(chainID int64) *fakeChain {
	return &fakeChain{
		chainID:  chainID,
		gasPrice: big.NewInt(1000),
		estimate: 50000,
		balance:  big.NewInt(0),
		mined:    true,
		status:   types.ReceiptStatusSuccessful,
	}
}

func (c *fakeChain) ChainID(context.Context) (*big.Int, error) { return big.NewInt(c.chainID), nil }

func (c *fakeChain) BalanceAt(context.Context, common.Address) (*big.Int, error) {
	return new(big.Int).Set(c.balance), nil
}

func (c *fakeChain) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return uint64(len(c.sent)), nil
}

func (c *fakeChain) SuggestGasPrice(context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.gasPrice), nil
}

func (c *fakeChain) EstimateGas(context.Context, gethcore.CallMsg) (uint64, error) {
	return c.estimate, c.estimateErr
}

func (c *fakeChain) CallContract(context.Context, gethcore.CallMsg) ([]byte, error) { return nil, nil }

func (c *fakeChain) SendRawTransaction(_ context.Context, raw []byte) (common.Hash, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return common.Hash{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, tx)
	return tx.Hash(), nil
}

func (c *fakeChain) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receipts++
	if !c.mined {
		return nil, gethcore.NotFound
	}
	return &types.Receipt{Status: c.status, TxHash: hash, BlockNumber: big.NewInt(7)}, nil
}

func (c *fakeChain) Close() {}

func (c *fakeChain) sentTxs() []*types.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*types.Transaction(nil), c.sent...)
}
