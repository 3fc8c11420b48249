package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coursechat/coursechat/internal/tool"
)

// MaxQueryLength bounds the accepted query body.
const MaxQueryLength = 10000

// QueryHandler serves the query and session endpoints.
type QueryHandler struct {
	service QueryService
	logger  *slog.Logger
}

// NewQueryHandler creates the query handler.
func NewQueryHandler(service QueryService, logger *slog.Logger) *QueryHandler {
	return &QueryHandler{service: service, logger: logger}
}

// RegisterRoutes registers query routes on the given mux.
func (h *QueryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/query", h.query)
	mux.HandleFunc("POST /api/new-session", h.newSession)
}

// QueryRequest is the body of POST /api/query.
type QueryRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id,omitempty"`
}

// SourceResponse is one citation in a query response.
type SourceResponse struct {
	Text string `json:"text"`
	Link string `json:"link,omitempty"`
}

// QueryResponse is the body of a successful POST /api/query.
type QueryResponse struct {
	Answer    string           `json:"answer"`
	Sources   []SourceResponse `json:"sources"`
	SessionID string           `json:"session_id"`
}

// SessionResponse is the body of POST /api/new-session.
type SessionResponse struct {
	SessionID string `json:"session_id"`
}

func (h *QueryHandler) query(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body must be JSON")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "query is required")
		return
	}
	if len(req.Query) > MaxQueryLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "query too long")
		return
	}

	result, err := h.service.Query(r.Context(), req.Query, req.SessionID)
	if err != nil {
		h.logger.Error("query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "query_failed", "failed to answer query")
		return
	}

	writeJSON(w, http.StatusOK, QueryResponse{
		Answer:    result.Answer,
		Sources:   sourceResponses(result.Sources),
		SessionID: result.SessionID,
	})
}

func (h *QueryHandler) newSession(w http.ResponseWriter, r *http.Request) {
	id, err := h.service.NewSession(r.Context())
	if err != nil {
		h.logger.Error("session creation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "session_failed", "failed to create session")
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{SessionID: id})
}

// sourceResponses renders citations; the slice is never nil so the
// JSON field is always an array.
func sourceResponses(sources []tool.Source) []SourceResponse {
	out := make([]SourceResponse, 0, len(sources))
	for _, s := range sources {
		out = append(out, SourceResponse{Text: s.String(), Link: s.Link})
	}
	return out
}
