// Package http holds the thin HTTP edges of the pipeline services: the
// accept-and-return-immediately batch trigger, the SSE progress feed, and the
// read-index listing.
package http

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/calyx-health/recordflow/internal/app/load"
)

// BatchesHandler accepts batch load requests and hands them to the ingestion
// pipeline, acknowledging before the pipeline completes.
type BatchesHandler struct {
	service *load.Service
	logger  *zap.Logger
}

func NewBatchesHandler(service *load.Service, logger *zap.Logger) *BatchesHandler {
	return &BatchesHandler{service: service, logger: logger}
}

type batchRequestBody struct {
	TenantID     string `json:"tenantId"`
	BatchID      string `json:"batchId"`
	SourceSystem string `json:"sourceSystem"`
	RecordCount  int64  `json:"recordCount"`
}

// ServeHTTP handles POST /api/batches.
func (h *BatchesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body batchRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if body.TenantID == "" || body.BatchID == "" {
		http.Error(w, "tenantId and batchId are required", http.StatusBadRequest)
		return
	}

	ack, done := h.service.Accept(r.Context(), load.BatchRequest{
		TenantID:     body.TenantID,
		BatchID:      body.BatchID,
		SourceSystem: body.SourceSystem,
		RecordCount:  body.RecordCount,
	})

	// The run continues past this response; log how it ended.
	go func() {
		if err := <-done; err != nil {
			h.logger.Error("batch load pipeline ended with unpublished failure",
				zap.String("tenant_id", body.TenantID),
				zap.String("batch_id", body.BatchID),
				zap.Error(err))
			return
		}
		h.logger.Info("batch load pipeline finished",
			zap.String("tenant_id", body.TenantID),
			zap.String("batch_id", body.BatchID))
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(ack); err != nil {
		h.logger.Error("failed to encode batch ack", zap.Error(err))
	}
}
