// Package dedupe suppresses webhook redeliveries. Twilio retries a webhook
// when the first attempt times out, and status callbacks can arrive more than
// once; the adapter keys each delivery and skips the pipeline for repeats.
package dedupe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL is how long a delivery key is remembered.
const DefaultTTL = 24 * time.Hour

// Store remembers delivery keys.
type Store interface {
	// MarkSeen records key and reports whether it had already been recorded.
	MarkSeen(ctx context.Context, key string) (bool, error)
	// Forget drops key so the next delivery is processed again.
	Forget(ctx context.Context, key string) error
}

// Key derives the delivery key for a webhook. Status callbacks for the same
// message share a sid, so the status is part of the key.
func Key(messageSID, status, eventType string) string {
	if strings.TrimSpace(messageSID) == "" {
		return ""
	}
	return strings.Join([]string{messageSID, strings.ToLower(status), strings.ToLower(eventType)}, "|")
}

// MemoryStore is a process-local Store with lazy expiry.
type MemoryStore struct {
	ttl time.Duration
	now func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewMemoryStore builds a MemoryStore. A non-positive ttl uses DefaultTTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{ttl: ttl, now: time.Now, seen: map[string]time.Time{}}
}

// MarkSeen implements Store.
func (m *MemoryStore) MarkSeen(_ context.Context, key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if exp, ok := m.seen[key]; ok && now.Before(exp) {
		return true, nil
	}
	m.seen[key] = now.Add(m.ttl)
	if len(m.seen)%1024 == 0 {
		m.sweep(now)
	}
	return false, nil
}

// Forget implements Store.
func (m *MemoryStore) Forget(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.seen, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) sweep(now time.Time) {
	for k, exp := range m.seen {
		if !now.Before(exp) {
			delete(m.seen, k)
		}
	}
}

// RedisStore shares delivery keys across gateway replicas.
type RedisStore struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedisStore wraps client. Keys are namespaced with prefix.
func NewRedisStore(client redis.Cmdable, prefix string, ttl time.Duration) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("dedupe: redis client is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if prefix == "" {
		prefix = "whatsapp:delivery:"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}, nil
}

// MarkSeen implements Store using SET NX.
func (r *RedisStore) MarkSeen(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	created, err := r.client.SetNX(ctx, r.prefix+key, 1, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe: redis setnx: %w", err)
	}
	return !created, nil
}

// Forget implements Store.
func (r *RedisStore) Forget(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("dedupe: redis del: %w", err)
	}
	return nil
}
