package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/calyx-health/recordflow/internal/progress"
)

// DefaultTenantID is applied when a progress subscriber does not name one.
const DefaultTenantID = "default"

// ProgressHandler streams progress events for one tracked unit of work as
// server-sent events. The stream ends when the unit of work reaches
// COMPLETED or FAILED, or when the client disconnects.
type ProgressHandler struct {
	broadcaster *progress.Broadcaster
	logger      *zap.Logger
}

func NewProgressHandler(broadcaster *progress.Broadcaster, logger *zap.Logger) *ProgressHandler {
	return &ProgressHandler{broadcaster: broadcaster, logger: logger}
}

// ServeHTTP handles GET /api/research/progress?queryId=...&tenantId=...
func (h *ProgressHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	queryID := strings.TrimSpace(r.URL.Query().Get("queryId"))
	tenantID := strings.TrimSpace(r.URL.Query().Get("tenantId"))
	if tenantID == "" {
		tenantID = DefaultTenantID
	}
	if queryID == "" {
		http.Error(w, "queryId is required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	sub, err := h.broadcaster.Subscribe(tenantID, queryID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer sub.Cancel()

	h.logger.Info("progress stream subscribed",
		zap.String("tenant_id", tenantID),
		zap.String("query_id", queryID))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case ev, open := <-sub.Events:
			if !open {
				return
			}
			if err := writeSSE(w, ev); err != nil {
				h.logger.Debug("progress stream write failed",
					zap.String("query_id", queryID),
					zap.Error(err))
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// writeSSE emits one event frame: id, event set to the status label for
// client-side dispatch, and the JSON payload as data.
func writeSSE(w http.ResponseWriter, ev progress.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", ev.EventID, ev.Status, data)
	return err
}
