package web3

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type receiptStub struct {
	calls    atomic.Int32
	minedAt  int32
	failWith error
}

func (s *receiptStub) ChainID(context.Context) (*big.Int, error) { return big.NewInt(1), nil }
func (s *receiptStub) BalanceAt(context.Context, common.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (s *receiptStub) PendingNonceAt(context.Context, common.Address) (uint64, error) { return 0, nil }
func (s *receiptStub) SuggestGasPrice(context.Context) (*big.Int, error)               { return big.NewInt(1), nil }
func (s *receiptStub) EstimateGas(context.Context, gethcore.CallMsg) (uint64, error)   { return 21000, nil }
func (s *receiptStub) CallContract(context.Context, gethcore.CallMsg) ([]byte, error)  { return nil, nil }
func (s *receiptStub) SendRawTransaction(context.Context, []byte) (common.Hash, error) {
	return common.Hash{}, nil
}
func (s *receiptStub) Close() {}

func (s *receiptStub) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	n := s.calls.Add(1)
	if s.failWith != nil {
		return nil, s.failWith
	}
	if s.minedAt > 0 && n >= s.minedAt {
		return &types.Receipt{TxHash: hash, Status: types.ReceiptStatusSuccessful}, nil
	}
	return nil, gethcore.NotFound
}

func TestWaitForReceiptPollsUntilMined(t *testing.T) {
	stub := &receiptStub{minedAt: 3}
	hash := common.HexToHash("0x01")
	receipt, err := WaitForReceipt(context.Background(), stub, hash, time.Second, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if receipt.TxHash != hash {
		t.Fatalf("unexpected receipt hash %s", receipt.TxHash.Hex())
	}
	if stub.calls.Load() != 3 {
		t.Fatalf("expected 3 lookups, got %d", stub.calls.Load())
	}
}

func TestWaitForReceiptTimeout(t *testing.T) {
	stub := &receiptStub{}
	_, err := WaitForReceipt(context.Background(), stub, common.Hash{}, 30*time.Millisecond, 5*time.Millisecond)
	if !errors.Is(err, ErrReceiptTimeout) {
		t.Fatalf("expected ErrReceiptTimeout, got %v", err)
	}
}

func TestWaitForReceiptParentCancel(t *testing.T) {
	stub := &receiptStub{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := WaitForReceipt(ctx, stub, common.Hash{}, time.Second, 5*time.Millisecond)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestWaitForReceiptSurfacesRPCErrors(t *testing.T) {
	boom := errors.New("rpc down")
	stub := &receiptStub{failWith: boom}
	_, err := WaitForReceipt(context.Background(), stub, common.Hash{}, time.Second, 5*time.Millisecond)
	if !errors.Is(err, boom) {
		t.Fatalf("expected rpc error, got %v", err)
	}
}
