// internal/server/server_test.go
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offerflow/internal/common/logger"
	"offerflow/internal/models"
	"offerflow/internal/pipeline/stages/analyze"
	"offerflow/internal/pipeline/stages/fetch"
	"offerflow/internal/pipeline/stages/organize"
	"offerflow/internal/pipeline/workflow"
	"offerflow/pkg/registry"
)

// ==========================
// Test Helpers
// ==========================

type stubFetch struct {
	offers   []models.Offer
	gotInput *fetch.Input
}

func (s *stubFetch) Execute(_ context.Context, input *fetch.Input) ([]models.Offer, error) {
	s.gotInput = input
	return s.offers, nil
}

type stubAnalyze struct {
	gotInput *analyze.Input
}

func (s *stubAnalyze) Execute(_ context.Context, input *analyze.Input) (*models.AnalysisResponse, error) {
	s.gotInput = input
	return &models.AnalysisResponse{MarketSummary: "ok"}, nil
}

type stubOrganize struct{}

func (s *stubOrganize) Execute(_ context.Context, _ *organize.Input) (*models.OrganizedOffers, error) {
	return &models.OrganizedOffers{Template: models.TemplateGrid}, nil
}

type stubOfferStore struct {
	offers []models.Offer
	gotIDs []string
}

func (s *stubOfferStore) FindByID(_ context.Context, ids []string) ([]models.Offer, error) {
	s.gotIDs = ids
	return s.offers, nil
}

func newTestServer(t *testing.T, fetchStub *stubFetch, analyzeStub *stubAnalyze, offers *stubOfferStore) *httptest.Server {
	log := logger.NewTestLogger(t)
	orchestrator := workflow.NewOrchestrator(fetchStub, analyzeStub, &stubOrganize{}, workflow.NewMemoryRegistry(), log)

	srv := httptest.NewServer(New(orchestrator, offers, log).Handler())
	t.Cleanup(srv.Close)
	return srv
}

// ==========================
// Workflow Endpoint Tests
// ==========================

func TestHandleRun_Success(t *testing.T) {
	fetchStub := &stubFetch{offers: []models.Offer{{ID: "o1", Title: "Go Engineer"}}}
	analyzeStub := &stubAnalyze{}
	srv := newTestServer(t, fetchStub, analyzeStub, &stubOfferStore{})

	body := `{
		"workflowId": "wf-1",
		"fetch": {"domain": "jobs", "batchSize": 5},
		"analyze": {"limit": 3}
	}`
	resp, err := http.Post(srv.URL+"/v1/workflows", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var result models.WorkflowResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.True(t, result.Success)
	assert.Equal(t, "wf-1", result.WorkflowID)
	assert.Equal(t, models.StateComplete, result.State)
	assert.Equal(t, "jobs", fetchStub.gotInput.Domain)
}

func TestHandleRun_TransientKeyFromHeader(t *testing.T) {
	analyzeStub := &stubAnalyze{}
	srv := newTestServer(t, &stubFetch{offers: []models.Offer{{ID: "o1"}}}, analyzeStub, &stubOfferStore{})

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/workflows",
		strings.NewReader(`{"fetch": {"domain": "jobs"}, "analyze": {"limit": 3}}`))
	require.NoError(t, err)
	req.Header.Set("X-Api-Key", "caller-key")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "caller-key", analyzeStub.gotInput.TransientKey)
}

func TestHandleRun_HydratesOfferIDs(t *testing.T) {
	store := &stubOfferStore{offers: []models.Offer{{ID: "o7", Title: "Stored Offer"}}}
	analyzeStub := &stubAnalyze{}
	srv := newTestServer(t, &stubFetch{}, analyzeStub, store)

	body := `{"analyze": {"limit": 3}, "offerIds": ["o7"]}`
	resp, err := http.Post(srv.URL+"/v1/workflows", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"o7"}, store.gotIDs)
	require.Len(t, analyzeStub.gotInput.Offers, 1)
	assert.Equal(t, "Stored Offer", analyzeStub.gotInput.Offers[0].Title)
}

func TestHandleRun_FailureStatus(t *testing.T) {
	srv := newTestServer(t, &stubFetch{}, &stubAnalyze{}, &stubOfferStore{})

	// No stages enabled fails the workflow.
	resp, err := http.Post(srv.URL+"/v1/workflows", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	var result models.WorkflowResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.False(t, result.Success)
	assert.Equal(t, "no stages enabled", result.Error)
}

func TestHandleRun_BadBody(t *testing.T) {
	srv := newTestServer(t, &stubFetch{}, &stubAnalyze{}, &stubOfferStore{})

	resp, err := http.Post(srv.URL+"/v1/workflows", "application/json", strings.NewReader(`{not json`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleRun_MethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, &stubFetch{}, &stubAnalyze{}, &stubOfferStore{})

	resp, err := http.Get(srv.URL + "/v1/workflows")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

// ==========================
// Cancel Endpoint Tests
// ==========================

func TestHandleCancel(t *testing.T) {
	srv := newTestServer(t, &stubFetch{}, &stubAnalyze{}, &stubOfferStore{})

	resp, err := http.Post(srv.URL+"/v1/workflows/wf-1/cancel", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "wf-1", body["workflowId"])
}

func TestHandleCancel_MissingID(t *testing.T) {
	srv := newTestServer(t, &stubFetch{}, &stubAnalyze{}, &stubOfferStore{})

	resp, err := http.Post(srv.URL+"/v1/workflows/wf-1", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// ==========================
// Stage Catalog Tests
// ==========================

func TestHandleStages(t *testing.T) {
	log := logger.NewTestLogger(t)
	orchestrator := workflow.NewOrchestrator(&stubFetch{}, &stubAnalyze{}, &stubOrganize{}, workflow.NewMemoryRegistry(), log)

	handler := New(orchestrator, nil, log).WithCatalog(&registry.StageRegistry{
		Version: "1.0.0",
		Stages:  []registry.Stage{{ID: "fetch", DisplayName: "Fetch Offers"}},
	})
	srv := httptest.NewServer(handler.Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/v1/stages")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var catalog registry.StageRegistry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&catalog))
	require.Len(t, catalog.Stages, 1)
	assert.Equal(t, "fetch", catalog.Stages[0].ID)
}

func TestHandleStages_NoCatalog(t *testing.T) {
	srv := newTestServer(t, &stubFetch{}, &stubAnalyze{}, &stubOfferStore{})

	resp, err := http.Get(srv.URL + "/v1/stages")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// ==========================
// Health Endpoints
// ==========================

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t, &stubFetch{}, &stubAnalyze{}, &stubOfferStore{})

	for _, path := range []string{"/health", "/ready", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}
