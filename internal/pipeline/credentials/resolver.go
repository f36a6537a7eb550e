// Package credentials picks the API key to use for a provider according to a
// fixed priority order and reports provenance and usage for auditing.
package credentials

import (
	"context"
	"time"

	apperrors "offerflow/internal/common/errors"
	"offerflow/internal/common/logger"
	"offerflow/internal/common/metrics"
)

// Credential sources. BYOK keys belong to the caller; env keys are the
// process-wide shared operator credential.
const (
	SourceBYOK = "byok"
	SourceEnv  = "env"
)

// Resolution is the ephemeral outcome of one resolve call. It is produced
// once per stage run and never persisted by the pipeline itself.
type Resolution struct {
	Key      string `json:"-"`
	Provider string `json:"provider"`
	Source   string `json:"source"`
	KeyID    string `json:"keyId,omitempty"`
}

// Usage is the per-call accounting recorded against a stored key.
type Usage struct {
	Success   bool  `json:"success"`
	LatencyMs int64 `json:"latencyMs"`
	Tokens    int   `json:"tokens"`
}

// StoredKey is a credential record from the key store.
type StoredKey struct {
	ID     string `json:"id"`
	Key    string `json:"key"`
	Shared bool   `json:"shared"`
}

// Store is the credential store collaborator. Lookups return (nil, nil) when
// no matching key exists.
type Store interface {
	GetPrimaryKey(ctx context.Context, userID, provider string) (*StoredKey, error)
	GetSharedKey(ctx context.Context, provider string) (*StoredKey, error)
	RecordUsage(ctx context.Context, keyID string, usage Usage) error
}

type Resolver struct {
	store        Store
	sharedEnvKey string
	logger       logger.Logger
}

// NewResolver builds a Resolver. sharedEnvKey is the operator-supplied
// fallback from config/env, consulted only when the store has nothing.
func NewResolver(store Store, sharedEnvKey string, log logger.Logger) *Resolver {
	return &Resolver{
		store:        store,
		sharedEnvKey: sharedEnvKey,
		logger:       log.With(map[string]interface{}{"component": "credentials"}),
	}
}

// Resolve picks the credential for provider in priority order: the caller's
// transient key, then the caller's stored primary key, then the shared
// operator key. When nothing resolves it returns MISSING_CREDENTIAL, the one
// failure the retry executor must never retry.
func (r *Resolver) Resolve(ctx context.Context, provider, userID, transientKey string) (*Resolution, error) {
	if transientKey != "" {
		return &Resolution{Key: transientKey, Provider: provider, Source: SourceBYOK}, nil
	}

	if userID != "" && r.store != nil {
		stored, err := r.store.GetPrimaryKey(ctx, userID, provider)
		if err != nil {
			return nil, err
		}
		if stored != nil {
			return &Resolution{Key: stored.Key, Provider: provider, Source: SourceBYOK, KeyID: stored.ID}, nil
		}
	}

	if r.store != nil {
		stored, err := r.store.GetSharedKey(ctx, provider)
		if err != nil {
			return nil, err
		}
		if stored != nil {
			return &Resolution{Key: stored.Key, Provider: provider, Source: SourceEnv, KeyID: stored.ID}, nil
		}
	}

	if r.sharedEnvKey != "" {
		return &Resolution{Key: r.sharedEnvKey, Provider: provider, Source: SourceEnv}, nil
	}

	return nil, apperrors.NewMissingCredentialError(provider)
}

// RecordUsage records usage against the resolved key without blocking the
// caller. Failures are logged and dropped; the main response never depends on
// this side effect.
func (r *Resolver) RecordUsage(res *Resolution, usage Usage) {
	if res == nil {
		return
	}

	outcome := "failure"
	if usage.Success {
		outcome = "success"
	}
	metrics.CredentialUsage.WithLabelValues(res.Provider, res.Source, outcome).Inc()

	if res.KeyID == "" || r.store == nil {
		return
	}

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Warn("usage recording panicked", map[string]interface{}{
					"keyId": res.KeyID,
					"panic": rec,
				})
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := r.store.RecordUsage(ctx, res.KeyID, usage); err != nil {
			r.logger.Warn("usage recording failed", map[string]interface{}{
				"keyId": res.KeyID,
				"error": err.Error(),
			})
		}
	}()
}
