package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	xerrors "FlowWallet-Chain/internal/errors"
)

type recordingSender struct {
	subject string
	content string
	to      []string
}

func (s *recordingSender) Send(_ context.Context, subject, content string, to []string) error {
	s.subject, s.content, s.to = subject, content, to
	return nil
}

type failingNotifier struct{}

func (failingNotifier) Channel() Channel                     { return "broken" }
func (failingNotifier) Notify(context.Context, Event) error { return errors.New("down") }

func TestEventFromError(t *testing.T) {
	err := xerrors.New(xerrors.CodeStorageFailure, "wallet api 503", xerrors.WithMetadata("status", "503"))
	event := EventFromError(err, "t-1", "wallet_generate", 2, 3)
	if event.Code != xerrors.CodeStorageFailure || event.Metadata["status"] != "503" || event.Topic != "wallet_generate" {
		t.Fatalf("unexpected event %+v", event)
	}
	if event.Severity != xerrors.SeverityCritical {
		t.Fatalf("severity should come from the registry, got %s", event.Severity)
	}
}

func TestWebhookNotifierPostsJSON(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("missing content type")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	n := &WebhookNotifier{URL: srv.URL, Client: srv.Client()}
	event := Event{Code: "CONFIRMATION_TIMEOUT", TaskID: "t-2", Metadata: map[string]string{"tx_hash": "0xabc"}}
	if err := n.Notify(context.Background(), event); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if got["code"] != "CONFIRMATION_TIMEOUT" || !strings.Contains(got["text"].(string), "tx_hash: 0xabc") {
		t.Fatalf("unexpected payload %v", got)
	}
}

func TestWebhookNotifierReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	n := &WebhookNotifier{URL: srv.URL, Client: srv.Client()}
	if err := n.Notify(context.Background(), Event{}); err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestFanoutJoinsErrors(t *testing.T) {
	sender := &recordingSender{}
	d := NewFanout(LogNotifier{}, &EmailNotifier{Sender: sender, To: []string{"ops@example.com"}, SubjectPrefix: "[walletd]"}, failingNotifier{}, nil)

	err := d.Notify(context.Background(), Event{Code: "PERSISTENCE_FAILED", Severity: xerrors.SeverityCritical, TaskID: "t-3"})
	if err == nil || !strings.Contains(err.Error(), "channel broken") {
		t.Fatalf("expected joined error, got %v", err)
	}
	if sender.subject != "[walletd][critical] PERSISTENCE_FAILED" || len(sender.to) != 1 {
		t.Fatalf("unexpected mail %q %v", sender.subject, sender.to)
	}
}
