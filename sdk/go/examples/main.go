package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"FlowWallet-Chain/sdk/go/walletd"
)

// 使用本地假服务演示提交 wallet_generate 并等待结果。
func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/tasks", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(walletd.Task{ID: "task-demo", Topic: "wallet_generate", Status: walletd.StatusPending, MaxRetries: 3})
	})
	mux.HandleFunc("/api/v1/tasks/task-demo", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(walletd.Task{
			ID:         "task-demo",
			Topic:      "wallet_generate",
			Status:     walletd.StatusSucceeded,
			Attempts:   1,
			MaxRetries: 3,
			Output: map[string]any{
				"wallet_address":     "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
				"ref_wallet_address": "",
			},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := walletd.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}
	client.SetAPIKey("demo-key")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	submitted, err := client.Submit(ctx, walletd.SubmitRequest{
		Topic:     "wallet_generate",
		Variables: map[string]any{"camunda_user_id": "demo-user"},
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("submitted %s (%s)\n", submitted.ID, submitted.Status)

	done, err := client.Wait(ctx, submitted.ID, 100*time.Millisecond)
	if err != nil {
		panic(err)
	}
	fmt.Printf("task %s finished: %s wallet=%s\n", done.ID, done.Status, done.OutputString("wallet_address"))
}
