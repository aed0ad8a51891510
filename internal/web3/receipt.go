package web3

import (
	"context"
	"errors"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrReceiptTimeout is returned by WaitForReceipt when the bound elapses
// without the transaction being mined. The transaction may still land later.
var ErrReceiptTimeout = errors.New("web3: timed out waiting for receipt")

// DefaultReceiptPoll is the interval between receipt lookups.
const DefaultReceiptPoll = time.Second

// WaitForReceipt polls the chain until the receipt for hash is available or
// timeout elapses. Cancelling ctx returns ctx.Err(), not ErrReceiptTimeout.
func WaitForReceipt(ctx context.Context, client ChainClient, hash common.Hash, timeout, poll time.Duration) (*types.Receipt, error) {
	if poll <= 0 {
		poll = DefaultReceiptPoll
	}
	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		receipt, err := client.TransactionReceipt(waitCtx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, gethcore.NotFound) && waitCtx.Err() == nil {
			return nil, err
		}
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, ErrReceiptTimeout
		case <-ticker.C:
		}
	}
}
