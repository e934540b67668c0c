// Package cache wraps the optional Redis client used for best-effort
// duplicate-delivery suppression and company slug lookups. When Redis is not
// configured every call degrades to a miss; the database stays the source of
// truth.
package cache

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	slugCacheDuration = 5 * time.Minute
	seenCacheDuration = 24 * time.Hour
	seenMessagePrefix = "webhook:seen:"
	companySlugPrefix = "company:slug:"
)

type Cache struct {
	client *redis.Client
}

// New connects to Redis. An empty addr disables the cache.
func New(addr, password string) *Cache {
	if addr == "" {
		return &Cache{}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	if _, err := client.Ping(context.Background()).Result(); err != nil {
		log.Printf("Redis connection failed, cache disabled: %v", err)
		return &Cache{}
	}
	log.Println("Redis connected successfully")
	return &Cache{client: client}
}

func (c *Cache) Enabled() bool {
	return c != nil && c.client != nil
}

// IsMessageSeen reports whether a provider message ID was already processed.
// Errors count as "not seen" so the DB-level check decides.
func (c *Cache) IsMessageSeen(ctx context.Context, wamid string) bool {
	if !c.Enabled() || wamid == "" {
		return false
	}
	n, err := c.client.Exists(ctx, seenMessagePrefix+wamid).Result()
	if err != nil {
		return false
	}
	return n > 0
}

// MarkMessageSeen records a provider message ID after its message committed.
// Marking only post-commit keeps outbox retries from skipping a message whose
// transaction rolled back.
func (c *Cache) MarkMessageSeen(ctx context.Context, wamid string) {
	if !c.Enabled() || wamid == "" {
		return
	}
	if err := c.client.Set(ctx, seenMessagePrefix+wamid, 1, seenCacheDuration).Err(); err != nil {
		log.Printf("Error marking message seen: %v", err)
	}
}

// CompanyIDBySlug returns a cached company ID for a webhook slug, "" on miss.
func (c *Cache) CompanyIDBySlug(ctx context.Context, slug string) string {
	if !c.Enabled() {
		return ""
	}
	val, err := c.client.Get(ctx, companySlugPrefix+slug).Result()
	if err != nil {
		return ""
	}
	return val
}

func (c *Cache) StoreCompanySlug(ctx context.Context, slug, companyID string) {
	if !c.Enabled() {
		return
	}
	if err := c.client.Set(ctx, companySlugPrefix+slug, companyID, slugCacheDuration).Err(); err != nil {
		log.Printf("Error caching company slug: %v", err)
	}
}
