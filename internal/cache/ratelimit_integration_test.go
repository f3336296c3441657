//go:build integration

package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/optin/optin/internal/testutil"
)

func newCacheTestEnv(t *testing.T) (context.Context, *Cache) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration tests in short mode")
	}

	ctx := context.Background()
	redisURL := testutil.RequireEnv(t, "REDIS_URL")

	c, err := New(ctx, redisURL)
	if err != nil {
		t.Fatalf("connect redis: %v", err)
	}
	t.Cleanup(func() {
		_ = c.Close()
	})

	if err := testutil.FlushRedis(ctx, c.Client()); err != nil {
		t.Fatalf("flush redis: %v", err)
	}

	return ctx, c
}

func TestIntegrationCheckRate_DeniesOverBudget(t *testing.T) {
	ctx, c := newCacheTestEnv(t)

	limit := BucketLimit{Budget: 3, Window: time.Minute}
	clientKey := fmt.Sprintf("10.1.1.%d", time.Now().UnixNano()%250)

	for i := 0; i < limit.Budget; i++ {
		result, err := c.CheckRate(ctx, clientKey, BucketEnroll, limit)
		if err != nil {
			t.Fatalf("CheckRate failed: %v", err)
		}
		if !result.Allowed {
			t.Fatalf("request %d within budget should be allowed", i+1)
		}
	}

	result, err := c.CheckRate(ctx, clientKey, BucketEnroll, limit)
	if err != nil {
		t.Fatalf("CheckRate failed: %v", err)
	}
	if result.Allowed {
		t.Error("request over budget should be denied")
	}
	if result.RetryAfter <= 0 || result.RetryAfter > limit.Window {
		t.Errorf("RetryAfter should be within (0, window], got %v", result.RetryAfter)
	}
}

func TestIntegrationCheckRate_BucketsAreIndependent(t *testing.T) {
	ctx, c := newCacheTestEnv(t)

	limit := BucketLimit{Budget: 1, Window: time.Minute}
	clientKey := "198.51.100.7"

	if result, _ := c.CheckRate(ctx, clientKey, BucketEnroll, limit); !result.Allowed {
		t.Fatal("first enroll request should be allowed")
	}
	if result, _ := c.CheckRate(ctx, clientKey, BucketEnroll, limit); result.Allowed {
		t.Fatal("second enroll request should be denied")
	}

	// Exhausting the enroll bucket must not touch the confirm bucket.
	if result, _ := c.CheckRate(ctx, clientKey, BucketConfirm, limit); !result.Allowed {
		t.Error("confirm bucket should still have budget")
	}
}

func TestIntegrationCheckRate_WindowResets(t *testing.T) {
	ctx, c := newCacheTestEnv(t)

	limit := BucketLimit{Budget: 1, Window: time.Second}
	clientKey := "203.0.113.9"

	if result, _ := c.CheckRate(ctx, clientKey, BucketConfirm, limit); !result.Allowed {
		t.Fatal("first request should be allowed")
	}
	if result, _ := c.CheckRate(ctx, clientKey, BucketConfirm, limit); result.Allowed {
		t.Fatal("second request should be denied")
	}

	time.Sleep(1100 * time.Millisecond)

	result, err := c.CheckRate(ctx, clientKey, BucketConfirm, limit)
	if err != nil {
		t.Fatalf("CheckRate failed: %v", err)
	}
	if !result.Allowed {
		t.Error("counter should reset after the window expires")
	}
}
