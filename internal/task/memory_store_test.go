package task

import (
	"context"
	"errors"
	"testing"
	"time"
)

func seedStore(t *testing.T, store *MemoryStore, tasks ...*Task) {
	t.Helper()
	for _, task := range tasks {
		if err := store.Create(context.Background(), task); err != nil {
			t.Fatalf("create task %s: %v", task.ID, err)
		}
	}
}

func TestMemoryStoreListWithFilters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Now().Add(-2 * time.Minute)

	seedStore(t, store,
		&Task{ID: "t1", Topic: "wallet_generate", Status: StatusPending, MaxRetries: 3},
		&Task{ID: "t2", Topic: "approve_token", Status: StatusPending, MaxRetries: 3},
		&Task{ID: "t3", Topic: "wallet_generate", Status: StatusPending, MaxRetries: 3},
	)

	if err := store.MarkFailed(ctx, "t2", CodeTaskProcessing, "boom", true); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "t3", map[string]any{"wallet_address": "0xabc"}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	store.mu.Lock()
	store.tasks["t1"].UpdatedAt = base.Unix()
	store.tasks["t2"].UpdatedAt = base.Add(30 * time.Second).Unix()
	store.tasks["t3"].UpdatedAt = base.Add(60 * time.Second).Unix()
	store.mu.Unlock()

	all, err := store.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 || all[0].ID != "t3" {
		t.Fatalf("expected newest task first, got %+v", all)
	}

	asc, err := store.List(ctx, buildListOptions([]ListOption{WithSortOrder(SortByUpdatedAsc), WithLimit(2), WithOffset(1)}))
	if err != nil {
		t.Fatalf("list asc: %v", err)
	}
	if len(asc) != 2 || asc[0].ID != "t2" || asc[1].ID != "t3" {
		t.Fatalf("unexpected ascending page: %+v", asc)
	}

	failed, err := store.List(ctx, buildListOptions([]ListOption{WithStatuses(StatusFailed)}))
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != "t2" {
		t.Fatalf("unexpected failed list: %+v", failed)
	}

	withOutput, err := store.List(ctx, buildListOptions([]ListOption{WithOutputPresence(true)}))
	if err != nil {
		t.Fatalf("list with output: %v", err)
	}
	if len(withOutput) != 1 || withOutput[0].ID != "t3" {
		t.Fatalf("unexpected output list: %+v", withOutput)
	}

	byTopic, err := store.List(ctx, buildListOptions([]ListOption{WithTopic("wallet_generate")}))
	if err != nil {
		t.Fatalf("list by topic: %v", err)
	}
	if len(byTopic) != 2 {
		t.Fatalf("expected 2 wallet_generate tasks, got %d", len(byTopic))
	}

	byQuery, err := store.List(ctx, buildListOptions([]ListOption{WithQuery("PROCESSING")}))
	if err != nil {
		t.Fatalf("list by query: %v", err)
	}
	if len(byQuery) != 1 || byQuery[0].ID != "t2" {
		t.Fatalf("query should match the error code, got %+v", byQuery)
	}

	recent, err := store.List(ctx, buildListOptions([]ListOption{WithUpdatedSince(base.Add(15 * time.Second))}))
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 tasks to match since filter, got %d", len(recent))
	}
}

func TestMemoryStoreStats(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Now().Add(-3 * time.Minute)

	seedStore(t, store,
		&Task{ID: "a", Topic: "wallet_generate", Status: StatusPending, MaxRetries: 3},
		&Task{ID: "b", Topic: "wallet_generate", Status: StatusPending, MaxRetries: 3},
		&Task{ID: "c", Topic: "wallet_generate", Status: StatusPending, MaxRetries: 3},
		&Task{ID: "d", Topic: "wallet_generate", Status: StatusPending, MaxRetries: 3},
	)

	if err := store.MarkFailed(ctx, "b", CodeTaskProcessing, "boom", true); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "c", map[string]any{"wallet_address": "0xabc"}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}
	if err := store.MarkBusinessError(ctx, "d", "USER_EXISTS", "User already exists", map[string]any{"error": "User already exists"}); err != nil {
		t.Fatalf("mark business error: %v", err)
	}

	store.mu.Lock()
	store.tasks["a"].UpdatedAt = base.Unix()
	store.tasks["b"].UpdatedAt = base.Add(30 * time.Second).Unix()
	store.tasks["c"].UpdatedAt = base.Add(2 * time.Minute).Unix()
	store.tasks["d"].UpdatedAt = base.Add(time.Minute).Unix()
	store.mu.Unlock()

	stats, err := store.Stats(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 4 || stats.Pending != 1 || stats.Failed != 1 || stats.Succeeded != 1 || stats.BusinessErrors != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.NewestUpdatedAt != base.Add(2*time.Minute).Unix() || stats.OldestUpdatedAt != base.Unix() {
		t.Fatalf("unexpected time range: %+v", stats)
	}

	withoutOutput, err := store.Stats(ctx, buildListOptions([]ListOption{WithOutputPresence(false)}))
	if err != nil {
		t.Fatalf("stats without output: %v", err)
	}
	if withoutOutput.Total != 2 || withoutOutput.Pending != 1 || withoutOutput.Failed != 1 {
		t.Fatalf("unexpected stats without output: %+v", withoutOutput)
	}
}

func TestMemoryStoreClaimLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	seedStore(t, store, &Task{ID: "x", Topic: "wallet_generate", Status: StatusPending, MaxRetries: 2})

	claimed, err := store.Claim(ctx, "x")
	if err != nil || claimed.Status != StatusRunning || claimed.Attempts != 1 {
		t.Fatalf("first claim: %+v %v", claimed, err)
	}
	if _, err := store.Claim(ctx, "x"); !errors.Is(err, ErrTaskConflict) {
		t.Fatalf("running task should conflict, got %v", err)
	}

	if err := store.MarkFailed(ctx, "x", CodeTaskProcessing, "rpc down", false); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if _, err := store.Claim(ctx, "x"); err != nil {
		t.Fatalf("retryable failure should be claimable: %v", err)
	}
	if err := store.MarkFailed(ctx, "x", CodeTaskProcessing, "rpc down", false); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if _, err := store.Claim(ctx, "x"); !errors.Is(err, ErrTaskExhausted) {
		t.Fatalf("expected exhausted, got %v", err)
	}
	if _, err := store.Claim(ctx, "missing"); !IsTaskError(err, CodeTaskNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStoreTerminalFailureStopsRetries(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	seedStore(t, store, &Task{ID: "y", Topic: "approve_token", Status: StatusPending, MaxRetries: 3})

	if _, err := store.Claim(ctx, "y"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.MarkFailed(ctx, "y", "CONFIRMATION_TIMEOUT", "not mined", true); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	task, err := store.Get(ctx, "y")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !task.Terminal() {
		t.Fatalf("terminal failure should end the task: %+v", task)
	}
	if _, err := store.Claim(ctx, "y"); !errors.Is(err, ErrTaskExhausted) {
		t.Fatalf("terminal task must not be claimed again, got %v", err)
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	seedStore(t, store, &Task{ID: "z", Topic: "wallet_generate", Variables: map[string]any{"camunda_user_id": "u1"}, MaxRetries: 1})

	got, _ := store.Get(ctx, "z")
	got.Variables["camunda_user_id"] = "changed"

	again, _ := store.Get(ctx, "z")
	if again.Variables["camunda_user_id"] != "u1" {
		t.Fatalf("store must not share variable maps")
	}
}
