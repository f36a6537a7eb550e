// Package offerstore loads previously saved offers by id. The pipeline never
// queries a global offer catalog; this exists only so workflows can reference
// saved batches for reconciliation.
package offerstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/elastic/go-elasticsearch/v8"

	"offerflow/internal/common/logger"
	"offerflow/internal/models"
)

// Store is the offer lookup collaborator.
type Store interface {
	FindByID(ctx context.Context, ids []string) ([]models.Offer, error)
}

// ElasticStore backs Store with an Elasticsearch index.
type ElasticStore struct {
	es     *elasticsearch.Client
	index  string
	logger logger.Logger
}

func NewElasticStore(es *elasticsearch.Client, index string, log logger.Logger) *ElasticStore {
	return &ElasticStore{
		es:     es,
		index:  index,
		logger: log.With(map[string]interface{}{"component": "offerstore"}),
	}
}

// FindByID fetches offers by document id. Missing ids are skipped silently;
// the caller decides whether a partial batch is acceptable.
func (s *ElasticStore) FindByID(ctx context.Context, ids []string) ([]models.Offer, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	body := map[string]interface{}{"ids": ids}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal mget request: %w", err)
	}

	res, err := s.es.Mget(
		bytes.NewReader(payload),
		s.es.Mget.WithContext(ctx),
		s.es.Mget.WithIndex(s.index),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch mget failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch mget error: %s", res.Status())
	}

	var parsed struct {
		Docs []struct {
			ID     string          `json:"_id"`
			Found  bool            `json:"found"`
			Source json.RawMessage `json:"_source"`
		} `json:"docs"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode mget response: %w", err)
	}

	offers := make([]models.Offer, 0, len(parsed.Docs))
	for _, doc := range parsed.Docs {
		if !doc.Found {
			s.logger.Debug("offer id not found", map[string]interface{}{"offerId": doc.ID})
			continue
		}
		var offer models.Offer
		if err := json.Unmarshal(doc.Source, &offer); err != nil {
			return nil, fmt.Errorf("decode offer %s: %w", doc.ID, err)
		}
		if offer.ID == "" {
			offer.ID = doc.ID
		}
		offers = append(offers, offer)
	}

	return offers, nil
}
