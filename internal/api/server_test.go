package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"FlowWallet-Chain/internal/auth"
	"FlowWallet-Chain/internal/task"
	"FlowWallet-Chain/internal/web3"
)

type staticChains []web3.ChainInfo

func (c staticChains) Chains() []web3.ChainInfo { return c }

func newTestServer(t *testing.T, opts ...Option) (*Server, *task.MemoryStore) {
	t.Helper()
	store := task.NewMemoryStore()
	svc := task.NewService(store, task.NewMemoryQueue(16), 3, task.WithTopicFilter(func(topic string) bool {
		return topic != "mint"
	}))
	return NewServer(":0", svc, opts...), store
}

func TestSubmitAndFetchTask(t *testing.T) {
	server, _ := newTestServer(t)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	body := `{"id":"job-1","topic":"wallet_native_transfer","variables":{"chain_id":8453,"value":"1000000000000000000000000"}}`
	resp, err := http.Post(ts.URL+"/api/v1/tasks", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}

	detail, err := http.Get(ts.URL + "/api/v1/tasks/job-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer detail.Body.Close()
	var got task.Task
	decoder := json.NewDecoder(detail.Body)
	decoder.UseNumber()
	if err := decoder.Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != task.StatusPending || got.Topic != "wallet_native_transfer" {
		t.Fatalf("unexpected task %+v", got)
	}
	if got.Variables["chain_id"].(json.Number).String() != "8453" {
		t.Fatalf("numbers should survive as written, got %v", got.Variables["chain_id"])
	}
}

func TestSubmitRejectsBadRequests(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()

	cases := map[string]int{
		`{"topic":"mint"}`: http.StatusBadRequest,
		`{"topic":""}`:     http.StatusBadRequest,
		`not json`:         http.StatusBadRequest,
	}
	for body, want := range cases {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/tasks", strings.NewReader(body)))
		if rec.Code != want {
			t.Fatalf("%s: got %d want %d", body, rec.Code, want)
		}
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/tasks", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestHandleTaskDetailErrors(t *testing.T) {
	server, _ := newTestServer(t)

	t.Run("invalid method", func(t *testing.T) {
		rec := httptest.NewRecorder()
		server.handleTaskDetail(rec, httptest.NewRequest(http.MethodPost, "/api/v1/tasks/task-1", nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
		}
	})

	t.Run("missing id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		server.handleTaskDetail(rec, httptest.NewRequest(http.MethodGet, "/api/v1/tasks/", nil))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})

	t.Run("not found", func(t *testing.T) {
		rec := httptest.NewRecorder()
		server.handleTaskDetail(rec, httptest.NewRequest(http.MethodGet, "/api/v1/tasks/missing", nil))
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected status %d, got %d", http.StatusNotFound, rec.Code)
		}
		var body errorResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body.Code != string(task.CodeTaskNotFound) {
			t.Fatalf("unexpected error body %s", rec.Body.String())
		}
	})
}

func TestListAndStats(t *testing.T) {
	server, store := newTestServer(t)
	ctx := context.Background()
	for _, tk := range []*task.Task{
		{ID: "a", Topic: "wallet_generate", Status: task.StatusPending, MaxRetries: 3},
		{ID: "b", Topic: "approve_token", Status: task.StatusPending, MaxRetries: 3},
		{ID: "c", Topic: "wallet_generate", Status: task.StatusPending, MaxRetries: 3},
	} {
		if err := store.Create(ctx, tk); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if err := store.MarkBusinessError(ctx, "c", "USER_EXISTS", "User already exists", map[string]any{"error": "User already exists"}); err != nil {
		t.Fatalf("mark: %v", err)
	}
	handler := server.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/tasks?topic=wallet_generate&status=business_error", nil))
	var listed []task.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if rec.Code != http.StatusOK || len(listed) != 1 || listed[0].ID != "c" || listed[0].ErrorCode != "USER_EXISTS" {
		t.Fatalf("unexpected list %d %+v", rec.Code, listed)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/tasks/stats", nil))
	var stats task.TaskStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Total != 3 || stats.Pending != 2 || stats.BusinessErrors != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	for _, query := range []string{"status=done", "limit=-1", "has_output=maybe", "order=sideways", "since=yesterday"} {
		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/tasks?"+query, nil))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", query, rec.Code)
		}
	}
}

func TestChainsAndHealth(t *testing.T) {
	server, _ := newTestServer(t, WithChains(staticChains{{ChainID: 261, Internal: true, Decimals: 18}}))
	handler := server.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/chains", nil))
	var chains []web3.ChainInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &chains); err != nil || len(chains) != 1 || chains[0].ChainID != 261 {
		t.Fatalf("unexpected chains %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ok") {
		t.Fatalf("unexpected health response %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "walletd_http_requests_total") {
		t.Fatalf("metrics endpoint should expose request counters")
	}
}

func TestAPIKeyProtectsTaskRoutes(t *testing.T) {
	authSvc, err := auth.NewService(auth.Config{Keys: []auth.KeyConfig{
		{Name: "engine", Key: "secret", Permissions: []string{auth.PermissionTaskSubmit, auth.PermissionTaskRead}},
		{Name: "viewer", Key: "view", Permissions: []string{auth.PermissionTaskRead}},
	}})
	if err != nil {
		t.Fatalf("auth: %v", err)
	}
	server, _ := newTestServer(t, WithAuth(authSvc))
	handler := server.Handler()

	submit := func(key string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", bytes.NewBufferString(`{"topic":"wallet_generate"}`))
		if key != "" {
			req.Header.Set("Authorization", "Bearer "+key)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}
	if code := submit(""); code != http.StatusUnauthorized {
		t.Fatalf("anonymous submit: %d", code)
	}
	if code := submit("view"); code != http.StatusForbidden {
		t.Fatalf("read-only submit: %d", code)
	}
	if code := submit("secret"); code != http.StatusAccepted {
		t.Fatalf("authorised submit: %d", code)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health check must stay public, got %d", rec.Code)
	}
}
