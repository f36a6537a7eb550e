// internal/pipeline/credentials/store_postgres.go
package credentials

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"offerflow/internal/common/logger"
)

const primaryKeyCacheTTL = 5 * time.Minute

// PostgresStore persists API keys and their usage in the api_keys and
// api_key_usage tables. Primary-key lookups are cached in Redis when a client
// is provided.
type PostgresStore struct {
	db     *sql.DB
	redis  *redis.Client
	logger logger.Logger
}

func NewPostgresStore(db *sql.DB, redisClient *redis.Client, log logger.Logger) *PostgresStore {
	return &PostgresStore{
		db:     db,
		redis:  redisClient,
		logger: log.With(map[string]interface{}{"component": "keystore"}),
	}
}

func (s *PostgresStore) GetPrimaryKey(ctx context.Context, userID, provider string) (*StoredKey, error) {
	cacheKey := fmt.Sprintf("apikey:%s:%s", userID, provider)
	if s.redis != nil {
		if val, err := s.redis.Get(ctx, cacheKey).Result(); err == nil {
			var key StoredKey
			if err := json.Unmarshal([]byte(val), &key); err == nil {
				return &key, nil
			}
		}
	}

	var key StoredKey
	query := `SELECT id, api_key FROM api_keys
		WHERE user_id = $1 AND provider = $2 AND is_active = true AND is_shared = false
		ORDER BY created_at DESC LIMIT 1`
	err := s.db.QueryRowContext(ctx, query, userID, provider).Scan(&key.ID, &key.Key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query primary key: %w", err)
	}

	if s.redis != nil {
		if data, err := json.Marshal(&key); err == nil {
			s.redis.Set(ctx, cacheKey, data, primaryKeyCacheTTL)
		}
	}

	return &key, nil
}

func (s *PostgresStore) GetSharedKey(ctx context.Context, provider string) (*StoredKey, error) {
	var key StoredKey
	query := `SELECT id, api_key FROM api_keys
		WHERE provider = $1 AND is_active = true AND is_shared = true
		ORDER BY created_at ASC LIMIT 1`
	err := s.db.QueryRowContext(ctx, query, provider).Scan(&key.ID, &key.Key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query shared key: %w", err)
	}
	key.Shared = true
	return &key, nil
}

func (s *PostgresStore) RecordUsage(ctx context.Context, keyID string, usage Usage) error {
	query := `INSERT INTO api_key_usage (id, key_id, success, latency_ms, tokens, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := s.db.ExecContext(ctx, query,
		uuid.New().String(), keyID, usage.Success, usage.LatencyMs, usage.Tokens, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert key usage: %w", err)
	}
	return nil
}

// Rotate replaces the key value behind keyID. The new record inherits the old
// one's owner, provider and rate limit; the old record is deactivated, not
// deleted, so usage attributed to it stays queryable. In-flight requests
// holding the old key value are unaffected.
func (s *PostgresStore) Rotate(ctx context.Context, keyID, newKey string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin rotation: %w", err)
	}
	defer tx.Rollback()

	var userID, provider string
	var isShared bool
	var rateLimit sql.NullInt64
	query := `SELECT user_id, provider, is_shared, rate_limit FROM api_keys WHERE id = $1 AND is_active = true`
	if err := tx.QueryRowContext(ctx, query, keyID).Scan(&userID, &provider, &isShared, &rateLimit); err != nil {
		return "", fmt.Errorf("load key for rotation: %w", err)
	}

	newID := uuid.New().String()
	insert := `INSERT INTO api_keys (id, user_id, provider, api_key, is_shared, is_active, rate_limit, created_at)
		VALUES ($1, $2, $3, $4, $5, true, $6, $7)`
	if _, err := tx.ExecContext(ctx, insert, newID, userID, provider, newKey, isShared, rateLimit, time.Now().UTC()); err != nil {
		return "", fmt.Errorf("insert replacement key: %w", err)
	}

	deactivate := `UPDATE api_keys SET is_active = false, replaced_by = $1 WHERE id = $2`
	if _, err := tx.ExecContext(ctx, deactivate, newID, keyID); err != nil {
		return "", fmt.Errorf("deactivate old key: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit rotation: %w", err)
	}

	if s.redis != nil {
		cacheKey := fmt.Sprintf("apikey:%s:%s", userID, provider)
		if err := s.redis.Del(context.WithoutCancel(ctx), cacheKey).Err(); err != nil {
			s.logger.Warn("failed to invalidate key cache", map[string]interface{}{
				"keyId": keyID,
				"error": err.Error(),
			})
		}
	}

	return newID, nil
}
