package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/askdoc/config"
)

// AnswerCache memoizes formatted answers in Redis, keyed by document URL
// plus completed question. Purely an accelerator: every method degrades to
// a miss or a no-op when Redis is unreachable.
type AnswerCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *log.Logger
}

// New connects to Redis. A failed ping is returned so the caller can
// decide to run without a cache.
func New(ctx context.Context, cfg config.RedisConfig, ttl time.Duration) (*AnswerCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &AnswerCache{
		client: client,
		ttl:    ttl,
		logger: log.New(log.Writer(), "[CACHE] ", log.LstdFlags),
	}, nil
}

// Key hashes the document URL and question so keys stay bounded and carry
// no document content.
func Key(documentURL, question string) string {
	sum := sha256.Sum256([]byte(documentURL + "\x00" + question))
	return "askdoc:answer:" + hex.EncodeToString(sum[:])
}

// Get returns the cached answer and whether it was present.
func (c *AnswerCache) Get(ctx context.Context, documentURL, question string) (string, bool) {
	val, err := c.client.Get(ctx, Key(documentURL, question)).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		c.logger.Printf("get failed: %v", err)
		return "", false
	}
	return val, true
}

// Set stores an answer with the configured TTL, best-effort.
func (c *AnswerCache) Set(ctx context.Context, documentURL, question, answer string) {
	if err := c.client.Set(ctx, Key(documentURL, question), answer, c.ttl).Err(); err != nil {
		c.logger.Printf("set failed: %v", err)
	}
}

// Close releases the connection pool.
func (c *AnswerCache) Close() error {
	return c.client.Close()
}
