// internal/server/server.go
package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"offerflow/internal/common/logger"
	"offerflow/internal/pipeline/offerstore"
	"offerflow/internal/pipeline/workflow"
	"offerflow/pkg/registry"
)

// Server exposes the workflow orchestrator over HTTP. Runs are synchronous;
// cancellation is issued from a second request against the same workflow id.
type Server struct {
	orchestrator *workflow.Orchestrator
	offers       offerstore.Store
	catalog      *registry.StageRegistry
	logger       logger.Logger
}

func New(orchestrator *workflow.Orchestrator, offers offerstore.Store, log logger.Logger) *Server {
	return &Server{
		orchestrator: orchestrator,
		offers:       offers,
		logger:       log.With(map[string]interface{}{"component": "server"}),
	}
}

// WithCatalog attaches the stage catalog served at /v1/stages.
func (s *Server) WithCatalog(catalog *registry.StageRegistry) *Server {
	s.catalog = catalog
	return s
}

// runRequest is the POST /v1/workflows body. OfferIDs references previously
// saved offers and is hydrated from the offer store before the run starts.
type runRequest struct {
	workflow.Request
	OfferIDs []string `json:"offerIds,omitempty"`
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/workflows", s.handleRun)
	mux.HandleFunc("/v1/workflows/", s.handleCancel)
	mux.HandleFunc("/v1/stages", s.handleStages)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "ready",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	req.TransientKey = strings.TrimSpace(r.Header.Get("X-Api-Key"))

	if len(req.OfferIDs) > 0 && s.offers != nil {
		hydrated, err := s.offers.FindByID(r.Context(), req.OfferIDs)
		if err != nil {
			s.logger.Error("offer hydration failed", map[string]interface{}{"error": err.Error()})
			writeError(w, http.StatusBadGateway, "offer lookup failed")
			return
		}
		req.Offers = append(req.Offers, hydrated...)
	}

	result := s.orchestrator.Run(r.Context(), &req.Request)

	status := http.StatusOK
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, result)
}

// handleCancel serves POST /v1/workflows/{id}/cancel.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/v1/workflows/")
	workflowID := strings.TrimSuffix(path, "/cancel")
	if workflowID == "" || workflowID == path {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	if err := s.orchestrator.Cancel(r.Context(), workflowID); err != nil {
		s.logger.Error("cancel request failed", map[string]interface{}{
			"workflowId": workflowID,
			"error":      err.Error(),
		})
		writeError(w, http.StatusInternalServerError, "cancel failed")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"workflowId": workflowID,
		"status":     "cancellation requested",
	})
}

func (s *Server) handleStages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.catalog == nil {
		writeError(w, http.StatusNotFound, "stage catalog not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.catalog)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
