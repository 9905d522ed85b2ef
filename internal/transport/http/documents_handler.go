package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/calyx-health/recordflow/internal/app/research"
)

// DocumentsHandler serves the research read index.
type DocumentsHandler struct {
	repo   research.IndexRepository
	logger *zap.Logger
}

func NewDocumentsHandler(repo research.IndexRepository, logger *zap.Logger) *DocumentsHandler {
	return &DocumentsHandler{repo: repo, logger: logger}
}

type documentsResponse struct {
	Documents  []research.IndexDocument `json:"documents"`
	TotalCount int                      `json:"totalCount"`
}

// ServeHTTP handles GET /api/research/documents?tenantId=...
func (h *DocumentsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var (
		docs []research.IndexDocument
		err  error
	)
	if tenantID := strings.TrimSpace(r.URL.Query().Get("tenantId")); tenantID != "" {
		docs, err = h.repo.FindByTenant(r.Context(), tenantID)
	} else {
		docs, err = h.repo.All(r.Context())
	}
	if err != nil {
		http.Error(w, "Failed to read index: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(documentsResponse{Documents: docs, TotalCount: len(docs)}); err != nil {
		h.logger.Error("failed to encode documents response", zap.Error(err))
	}
}

// HealthHandler answers liveness probes.
type HealthHandler struct{}

func (HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
