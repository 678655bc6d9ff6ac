package storage

import (
	"context"
	"sync"
	"time"

	"github.com/rl1809/storefront/internal/port"
)

type memoryRequest struct {
	orderID   int64
	expiresAt time.Time
}

// MemoryCache is the in-process counterpart of RedisAdapter's idempotency keys.
type MemoryCache struct {
	mu       sync.Mutex
	requests map[string]memoryRequest
	now      func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		requests: make(map[string]memoryRequest),
		now:      time.Now,
	}
}

func (c *MemoryCache) ClaimRequest(ctx context.Context, key string) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if req, ok := c.requests[key]; ok && c.now().Before(req.expiresAt) {
		return req.orderID, false, nil
	}

	c.requests[key] = memoryRequest{expiresAt: c.now().Add(idempotencyKeyTTL)}
	return 0, true, nil
}

func (c *MemoryCache) CompleteRequest(ctx context.Context, key string, orderID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests[key] = memoryRequest{orderID: orderID, expiresAt: c.now().Add(idempotencyKeyTTL)}
	return nil
}

func (c *MemoryCache) ReleaseRequest(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.requests, key)
	return nil
}

var _ port.CacheRepository = (*MemoryCache)(nil)
