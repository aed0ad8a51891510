package ethereum

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result"`
}

// fakeNode answers a fixed set of JSON-RPC methods and records raw sends.
type fakeNode struct {
	mu   sync.Mutex
	sent []string
}

func (n *fakeNode) answer(req rpcRequest) rpcResponse {
	resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}
	switch req.Method {
	case "eth_chainId":
		resp.Result = "0x105"
	case "eth_getBalance":
		resp.Result = "0xde0b6b3a7640000"
	case "eth_getTransactionCount":
		resp.Result = "0x7"
	case "eth_gasPrice":
		resp.Result = "0x3b9aca00"
	case "eth_sendRawTransaction":
		var raw string
		_ = json.Unmarshal(req.Params[0], &raw)
		n.mu.Lock()
		n.sent = append(n.sent, raw)
		idx := len(n.sent)
		n.mu.Unlock()
		resp.Result = fmt.Sprintf("0x%064x", idx)
	default:
		resp.Result = nil
	}
	return resp
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	var req rpcRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	_ = json.NewEncoder(w).Encode(n.answer(req))
}

func TestClientReadsAndBroadcasts(t *testing.T) {
	node := &fakeNode{}
	srv := httptest.NewServer(node)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := NewClient(ctx, Config{ChainID: 261, RPCURL: srv.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(client.Close)

	id, err := client.ChainID(ctx)
	if err != nil || id.Uint64() != 261 {
		t.Fatalf("chain id: %v %v", id, err)
	}

	account := common.HexToAddress("0x000000000000000000000000000000000000dEaD")
	balance, err := client.BalanceAt(ctx, account)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.String() != "1000000000000000000" {
		t.Fatalf("unexpected balance %s", balance)
	}

	nonce, err := client.PendingNonceAt(ctx, account)
	if err != nil || nonce != 7 {
		t.Fatalf("nonce: %d %v", nonce, err)
	}

	price, err := client.SuggestGasPrice(ctx)
	if err != nil || price.Uint64() != 1_000_000_000 {
		t.Fatalf("gas price: %v %v", price, err)
	}

	hash, err := client.SendRawTransaction(ctx, []byte{0x01, 0x02})
	if err != nil {
		t.Fatalf("send raw: %v", err)
	}
	if hash == (common.Hash{}) {
		t.Fatalf("expected non-zero hash")
	}

	node.mu.Lock()
	defer node.mu.Unlock()
	if len(node.sent) != 1 || node.sent[0] != "0x0102" {
		t.Fatalf("unexpected raw payloads: %v", node.sent)
	}
}

func TestClientRejectsChainMismatch(t *testing.T) {
	srv := httptest.NewServer(&fakeNode{})
	defer srv.Close()

	_, err := NewClient(context.Background(), Config{ChainID: 8453, RPCURL: srv.URL})
	if err == nil || !strings.Contains(err.Error(), "不匹配") {
		t.Fatalf("expected chain mismatch error, got %v", err)
	}
}

func TestClientRequiresURL(t *testing.T) {
	if _, err := NewClient(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error for empty url")
	}
}
