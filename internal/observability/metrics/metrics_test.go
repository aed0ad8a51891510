package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandlerExposesRecordedSeries(t *testing.T) {
	ObserveHTTPRequest("/api/v1/tasks", "POST", 202, 30*time.Millisecond)
	ObserveTask("wallet_generate", "succeeded", time.Second)
	ObserveTransaction("local", "confirmed")
	ObserveEscalation()
	ObserveCustodialPolls(3)
	ObserveQueueEvent("memory", "published")

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	text := string(body)

	for _, want := range []string{
		`walletd_http_requests_total{code="202",handler="/api/v1/tasks",method="POST"}`,
		`walletd_tasks_processed_total{outcome="succeeded",topic="wallet_generate"}`,
		`walletd_transactions_total{mode="local",outcome="confirmed"}`,
		`walletd_fee_escalations_total`,
		`walletd_custodial_status_polls_count`,
		`walletd_task_queue_events_total{driver="memory",event="published"}`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("scrape output missing %s", want)
		}
	}
}
