package windsor

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestRedisCacheRoundTrip(t *testing.T) {
	addr := os.Getenv("SENTINEL_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SENTINEL_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	c, err := NewRedisCache(ctx, RedisOptions{Addr: addr})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()

	key := "apikey:" + time.Now().String()
	if _, ok := c.Get(ctx, key); ok {
		t.Fatal("unexpected hit")
	}
	c.Set(ctx, key, []Row{{"campaign_id": "111", "spend": 12.5}}, time.Minute)
	rows, ok := c.Get(ctx, key)
	if !ok || len(rows) != 1 || rows[0].Number("spend") != 12.5 {
		t.Fatalf("round trip = %v %v", rows, ok)
	}
	if k := c.redisKey(key); len(k) != len("sentinel:windsor:")+64 {
		t.Errorf("unexpected redis key %s", k)
	}
}
