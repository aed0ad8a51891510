package walletapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	xerrors "FlowWallet-Chain/internal/errors"
)

func TestListWallets(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/flow/api/wallets" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get(sysKeyHeader) != "sys-secret" {
			t.Fatalf("missing sys key header")
		}
		if r.URL.Query().Get("camunda_user_id") != "user-1" {
			t.Fatalf("unexpected query %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode([]Record{
			{NetworkType: NetworkLocal, WalletAddress: "0xabc", PrivateKey: "sealed"},
			{NetworkType: NetworkCustodial, WalletAddress: "0xdef"},
		})
	}))
	defer server.Close()

	client, err := NewClient(Config{BaseURL: server.URL + "/flow", SysKey: "sys-secret"}, server.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	records, err := client.ListWallets(context.Background(), "camunda_user_id", "user-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 2 || records[0].PrivateKey != "sealed" || records[1].NetworkType != NetworkCustodial {
		t.Fatalf("unexpected records %+v", records)
	}
}

func TestSaveUserSendsPut(t *testing.T) {
	var got UserUpdate
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/api/users" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client, _ := NewClient(Config{BaseURL: server.URL}, server.Client())
	update := UserUpdate{WalletAddress: "0xabc", OwnerID: "user-1", NetworkType: NetworkLocal, PrivateKey: "pk", Mnemonic: "mn"}
	if err := client.SaveUser(context.Background(), update); err != nil {
		t.Fatalf("save: %v", err)
	}
	if got != update {
		t.Fatalf("unexpected body %+v", got)
	}
}

func TestNon2xxIsStorageFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "db down", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client, _ := NewClient(Config{BaseURL: server.URL}, server.Client())
	_, err := client.ListWallets(context.Background(), "user_id", "7")
	if !xerrors.HasCode(err, xerrors.CodeStorageFailure) || !xerrors.RetryableError(err) {
		t.Fatalf("expected retryable storage failure, got %v", err)
	}
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusServiceUnavailable || httpErr.Body != "db down" {
		t.Fatalf("expected wrapped HTTPError, got %v", err)
	}
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient(Config{}, nil); err == nil {
		t.Fatalf("expected error for empty base url")
	}
}
