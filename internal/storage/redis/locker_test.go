package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// fakeLockClient emulates SET NX and the compare-and-delete script.
type fakeLockClient struct {
	mu    sync.Mutex
	store map[string]string
	evals int
}

func newFakeLockClient() *fakeLockClient {
	return &fakeLockClient{store: map[string]string{}}
}

func (c *fakeLockClient) SetNX(_ context.Context, key string, value interface{}, _ time.Duration) *goredis.BoolCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.store[key]; ok {
		return goredis.NewBoolResult(false, nil)
	}
	c.store[key] = value.(string)
	return goredis.NewBoolResult(true, nil)
}

func (c *fakeLockClient) Eval(_ context.Context, _ string, keys []string, args ...interface{}) *goredis.Cmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evals++
	if c.store[keys[0]] == args[0].(string) {
		delete(c.store, keys[0])
		return goredis.NewCmdResult(int64(1), nil)
	}
	return goredis.NewCmdResult(int64(0), nil)
}

func TestLockerExcludesConcurrentHolders(t *testing.T) {
	client := newFakeLockClient()
	locker := NewLocker(client, WithLockRetry(time.Millisecond))

	unlock, err := locker.Lock(context.Background(), "wallet:nonce:261:0xabc")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := locker.Lock(ctx, "wallet:nonce:261:0xabc"); err == nil {
		t.Fatalf("second holder should time out")
	}

	unlock()
	unlock()
	if client.evals != 1 {
		t.Fatalf("unlock should release once, got %d evals", client.evals)
	}

	again, err := locker.Lock(context.Background(), "wallet:nonce:261:0xabc")
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	again()
}

func TestLockerDoesNotReleaseForeignToken(t *testing.T) {
	client := newFakeLockClient()
	locker := NewLocker(client, WithLockTTL(time.Second))

	unlock, err := locker.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	// Simulate expiry followed by another holder.
	client.store[defaultPrefix+"k"] = "someone-else"
	unlock()
	if client.store[defaultPrefix+"k"] != "someone-else" {
		t.Fatalf("release must not delete another holder's lock")
	}
}
