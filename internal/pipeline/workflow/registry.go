// internal/pipeline/workflow/registry.go
package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CancelRegistry records cancellation requests for in-flight workflows. The
// orchestrator polls it at stage boundaries, so a marker set mid-stage takes
// effect before the next stage starts.
type CancelRegistry interface {
	MarkCancelled(ctx context.Context, workflowID string) error
	IsCancelled(ctx context.Context, workflowID string) (bool, error)
	Clear(ctx context.Context, workflowID string) error
}

// MemoryRegistry is a process-local registry for single-instance deployments
// and tests.
type MemoryRegistry struct {
	mu        sync.Mutex
	cancelled map[string]bool
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{cancelled: make(map[string]bool)}
}

func (m *MemoryRegistry) MarkCancelled(_ context.Context, workflowID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled[workflowID] = true
	return nil
}

func (m *MemoryRegistry) IsCancelled(_ context.Context, workflowID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelled[workflowID], nil
}

func (m *MemoryRegistry) Clear(_ context.Context, workflowID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cancelled, workflowID)
	return nil
}

// RedisRegistry shares cancel markers across instances. Markers expire after
// the configured TTL so orphaned workflows cannot leak keys.
type RedisRegistry struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisRegistry(client *redis.Client, ttl time.Duration) *RedisRegistry {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisRegistry{client: client, ttl: ttl}
}

func cancelKey(workflowID string) string {
	return fmt.Sprintf("workflow:cancel:%s", workflowID)
}

func (r *RedisRegistry) MarkCancelled(ctx context.Context, workflowID string) error {
	return r.client.Set(ctx, cancelKey(workflowID), "1", r.ttl).Err()
}

func (r *RedisRegistry) IsCancelled(ctx context.Context, workflowID string) (bool, error) {
	n, err := r.client.Exists(ctx, cancelKey(workflowID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *RedisRegistry) Clear(ctx context.Context, workflowID string) error {
	return r.client.Del(ctx, cancelKey(workflowID)).Err()
}
