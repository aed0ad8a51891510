package wallet

import (
	"bytes"
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "FlowWallet-Chain/internal/errors"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{Interval: time.Millisecond, Timeout: 15 * time.Millisecond, MaxAttempts: attempts, Escalation: 1.2}
}

func newTestLocal(t *testing.T, chain *fakeChain, chainID uint64) *LocalWallet {
	t.Helper()
	key, err := ParsePrivateKey("0x" + testKeyHex)
	if err != nil {
		t.Fatalf("parse key: %v", err)
	}
	return NewLocalWallet(key, chain, LocalConfig{Owner: "user-1", ChainID: chainID, Policy: fastPolicy(3)})
}

func TestLocalSendNative(t *testing.T) {
	chain := newFakeChain(261)
	w := newTestLocal(t, chain, 261)
	to := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	res, err := w.SendNative(context.Background(), to, big.NewInt(1500))
	if err != nil {
		t.Fatalf("send native: %v", err)
	}
	if res.Status != TxConfirmed || res.BlockNumber != 7 || res.Attempts != 1 {
		t.Fatalf("unexpected result %+v", res)
	}

	sent := chain.sentTxs()
	if len(sent) != 1 {
		t.Fatalf("expected one broadcast, got %d", len(sent))
	}
	tx := sent[0]
	if tx.Gas() != DefaultNativeGasLimit || tx.GasPrice().Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("unexpected gas=%d price=%s", tx.Gas(), tx.GasPrice())
	}
	if tx.Value().Cmp(big.NewInt(1500)) != 0 || *tx.To() != to || tx.Nonce() != 0 {
		t.Fatalf("unexpected tx fields")
	}
	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(261)), tx)
	if err != nil || sender != w.Address() {
		t.Fatalf("signature does not recover wallet address: %v", err)
	}
	if res.Hash != tx.Hash() {
		t.Fatalf("result hash mismatch")
	}
}

func TestLocalSendERC20(t *testing.T) {
	chain := newFakeChain(261)
	w := newTestLocal(t, chain, 261)
	to := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	token := common.HexToAddress("0x00000000000000000000000000000000000000cc")

	if _, err := w.SendERC20(context.Background(), to, big.NewInt(42), token); err != nil {
		t.Fatalf("send erc20: %v", err)
	}
	tx := chain.sentTxs()[0]
	if *tx.To() != token || tx.Value().Sign() != 0 {
		t.Fatalf("token transfer must call the token contract with zero value")
	}
	if tx.Gas() != chain.estimate+DefaultTokenGasBuffer {
		t.Fatalf("unexpected gas %d", tx.Gas())
	}
	wantPrice := new(big.Int).Add(big.NewInt(1000), tokenTipBump)
	if tx.GasPrice().Cmp(wantPrice) != 0 {
		t.Fatalf("unexpected gas price %s", tx.GasPrice())
	}
	if !bytes.Equal(tx.Data(), EncodeTransfer(to, big.NewInt(42))) {
		t.Fatalf("unexpected calldata %x", tx.Data())
	}
}

func TestLocalEscalatesWithoutRebroadcast(t *testing.T) {
	chain := newFakeChain(261)
	chain.mined = false
	w := newTestLocal(t, chain, 261)

	res, err := w.SendNative(context.Background(), common.HexToAddress("0x01"), big.NewInt(1))
	if !xerrors.HasCode(err, CodeConfirmationTimeout) {
		t.Fatalf("expected confirmation timeout, got %v", err)
	}
	if xerrors.RetryableError(err) {
		t.Fatalf("confirmation timeouts must not be retried")
	}
	if len(chain.sentTxs()) != 1 {
		t.Fatalf("escalation must not rebroadcast, got %d sends", len(chain.sentTxs()))
	}
	if res.Attempts != 3 || res.Fee.Cmp(big.NewInt(1728)) != 0 {
		t.Fatalf("unexpected attempts=%d fee=%s", res.Attempts, res.Fee)
	}
	if res.Hash != chain.sentTxs()[0].Hash() {
		t.Fatalf("timeout result should carry the broadcast hash")
	}
}

func TestLocalRevertIsTransactionFailed(t *testing.T) {
	chain := newFakeChain(261)
	chain.status = types.ReceiptStatusFailed
	w := newTestLocal(t, chain, 261)

	res, err := w.SendNative(context.Background(), common.HexToAddress("0x01"), big.NewInt(1))
	if !xerrors.HasCode(err, CodeTransactionFailed) || res.Status != TxFailed {
		t.Fatalf("expected failed transaction, got %v %+v", err, res)
	}
}

func TestLocalGasEstimationFailure(t *testing.T) {
	chain := newFakeChain(261)
	chain.estimateErr = context.DeadlineExceeded
	w := newTestLocal(t, chain, 261)

	_, err := w.SendTransaction(context.Background(), TxRequest{To: common.HexToAddress("0x01"), Data: []byte{1}})
	if !xerrors.HasCode(err, CodeGasEstimation) {
		t.Fatalf("expected gas estimation failure, got %v", err)
	}
	if len(chain.sentTxs()) != 0 {
		t.Fatalf("nothing should be broadcast")
	}
}

func TestLocalConcurrentSendsGetDistinctNonces(t *testing.T) {
	chain := newFakeChain(261)
	w := newTestLocal(t, chain, 261)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := w.SendNative(context.Background(), common.HexToAddress("0x02"), big.NewInt(1)); err != nil {
				t.Errorf("send: %v", err)
			}
		}()
	}
	wg.Wait()

	seen := map[uint64]bool{}
	for _, tx := range chain.sentTxs() {
		if seen[tx.Nonce()] {
			t.Fatalf("nonce %d used twice", tx.Nonce())
		}
		seen[tx.Nonce()] = true
	}
	if len(seen) != 8 {
		t.Fatalf("expected 8 distinct nonces, got %d", len(seen))
	}
}

func TestLocalDefaultChainAsksNode(t *testing.T) {
	chain := newFakeChain(84532)
	w := newTestLocal(t, chain, 0)

	raw, err := w.SignTransaction(context.Background(), TxRequest{To: common.HexToAddress("0x03"), Gas: 21000})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tx.ChainId().Cmp(big.NewInt(84532)) != 0 {
		t.Fatalf("signed for chain %s", tx.ChainId())
	}
	if len(chain.sentTxs()) != 0 {
		t.Fatalf("sign must not broadcast")
	}
}

func TestLocalDynamicFeeTransaction(t *testing.T) {
	chain := newFakeChain(8453)
	w := newTestLocal(t, chain, 8453)
	nonce := uint64(9)

	_, err := w.SendTransaction(context.Background(), TxRequest{
		To:        common.HexToAddress("0x04"),
		Gas:       30000,
		GasFeeCap: big.NewInt(5000),
		Nonce:     &nonce,
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	tx := chain.sentTxs()[0]
	if tx.Type() != types.DynamicFeeTxType || tx.GasFeeCap().Int64() != 5000 || tx.Nonce() != 9 {
		t.Fatalf("unexpected dynamic tx type=%d cap=%s nonce=%d", tx.Type(), tx.GasFeeCap(), tx.Nonce())
	}
}

func TestLocalBalanceAndBatch(t *testing.T) {
	chain := newFakeChain(261)
	chain.balance = new(big.Int).Mul(big.NewInt(25), big.NewInt(1e17))
	w := newTestLocal(t, chain, 261)

	bal, err := w.Balance(context.Background())
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if got, _ := bal.Float64(); got != 2.5 {
		t.Fatalf("unexpected balance %v", got)
	}
	if _, err := w.SendBatchRawTransaction(context.Background(), nil); !xerrors.HasCode(err, xerrors.CodeNotImplemented) {
		t.Fatalf("local batch should be not implemented, got %v", err)
	}
	batch := []TxRequest{{To: common.HexToAddress("0x01")}, {To: common.HexToAddress("0x02")}}
	if _, err := w.SendBatchRawTransaction(context.Background(), batch); !xerrors.HasCode(err, xerrors.CodeNotImplemented) {
		t.Fatalf("local batch should be not implemented, got %v", err)
	}
	if len(chain.sentTxs()) != 0 {
		t.Fatalf("local batch must not broadcast anything")
	}
}

func TestParsePrivateKey(t *testing.T) {
	key, err := ParsePrivateKey(testKeyHex)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	w := NewLocalWallet(key, newFakeChain(1), LocalConfig{ChainID: 1})
	if w.PrivateKeyHex() != testKeyHex {
		t.Fatalf("key round trip mismatch")
	}
	if w.Address() != crypto.PubkeyToAddress(key.PublicKey) {
		t.Fatalf("address mismatch")
	}
	if _, err := ParsePrivateKey("zz"); !xerrors.HasCode(err, CodeInvalidKey) {
		t.Fatalf("expected invalid key, got %v", err)
	}
}
