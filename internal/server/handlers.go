package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keepsakehq/keepsake/internal/gateway"
	"github.com/keepsakehq/keepsake/internal/storage"
	"github.com/keepsakehq/keepsake/pkg/types"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.opts.Version,
		"uptime":  time.Since(s.started).Seconds(),
	})
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var req gateway.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, gateway.KindInvalidRequest, "invalid json body")
		return
	}

	resp, err := s.gw.Retrieve(r.Context(), req)
	if err != nil {
		s.writeGatewayError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCompact(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Topic string `json:"topic,omitempty"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, gateway.KindInvalidRequest, "invalid json body")
			return
		}
	}

	report, err := s.compactor.Compact(r.Context(), req.Topic)
	if err != nil {
		s.writeGatewayError(w, err)
		return
	}

	// Partial failures are carried inside the report, not as an HTTP error:
	// compaction of other clusters still succeeded.
	s.hub.Broadcast(report)
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleTopicRecords(w http.ResponseWriter, r *http.Request) {
	topicID := chi.URLParam(r, "topicID")
	includeSuperseded := r.URL.Query().Get("include_superseded") == "true"

	records, err := s.store.ListByTopic(r.Context(), topicID, includeSuperseded)
	if err != nil {
		s.writeGatewayError(w, err)
		return
	}
	if records == nil {
		records = []types.MemoryRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"topic_id": topicID,
		"records":  records,
		"total":    len(records),
	})
}

// writeGatewayError maps a gateway or storage error to its HTTP status.
func (s *Server) writeGatewayError(w http.ResponseWriter, err error) {
	kind := gateway.KindOf(err)
	switch {
	case kind == "":
		// Not a gateway error; map the storage sentinels.
		switch {
		case errors.Is(err, storage.ErrInvalidInput):
			kind = gateway.KindInvalidRequest
		case errors.Is(err, storage.ErrNotFound):
			writeJSON(w, http.StatusNotFound, errorBody("not found", "NOT_FOUND"))
			return
		default:
			kind = gateway.KindBackendError
		}
	}

	s.log.Debug().Err(err).Str("kind", string(kind)).Msg("request failed")
	writeJSON(w, statusForKind(kind), errorBody(err.Error(), string(kind)))
}

func statusForKind(kind gateway.ErrorKind) int {
	switch kind {
	case gateway.KindInvalidRequest:
		return http.StatusBadRequest
	case gateway.KindRateLimited:
		return http.StatusTooManyRequests
	case gateway.KindQueueFull:
		return http.StatusServiceUnavailable
	case gateway.KindBackendTimeout:
		return http.StatusGatewayTimeout
	case gateway.KindBackendError:
		return http.StatusBadGateway
	case gateway.KindClusterWriteFailed:
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, kind gateway.ErrorKind, msg string) {
	writeJSON(w, statusForKind(kind), errorBody(msg, string(kind)))
}

func errorBody(msg, code string) map[string]string {
	return map[string]string{"error": msg, "code": code}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
