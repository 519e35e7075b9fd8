//-------------------------------------------------------------------------
//
// RAG Chat Server
//
// Copyright (c) 2026, the RAG Chat Server authors
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ragchat/rag-chat-server/internal/index"
	"github.com/ragchat/rag-chat-server/internal/llm"
	"github.com/ragchat/rag-chat-server/internal/pipeline"
	"github.com/ragchat/rag-chat-server/internal/prompt"
	"github.com/ragchat/rag-chat-server/internal/session"
)

// HealthResponse is the response for the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
}

// PipelinesResponse is the response for the list pipelines endpoint.
type PipelinesResponse struct {
	Pipelines []pipeline.Info `json:"pipelines"`
}

// SessionResponse is the response for the create session endpoint.
type SessionResponse struct {
	SessionID string `json:"session_id"`
	CreatedAt string `json:"created_at"`
}

// HistoryResponse is the response for the session history endpoint.
type HistoryResponse struct {
	SessionID string         `json:"session_id"`
	Turns     []session.Turn `json:"turns"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// handleHealth handles the GET /v1/health endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

// handleListPipelines handles the GET /v1/pipelines endpoint.
func (s *Server) handleListPipelines(w http.ResponseWriter, r *http.Request) {
	pipelines := s.pipelines.List()
	s.respondJSON(w, http.StatusOK, PipelinesResponse{Pipelines: pipelines})
}

// getPipeline resolves the {name} path value to a pipeline, writing the
// error response itself when resolution fails.
func (s *Server) getPipeline(w http.ResponseWriter, r *http.Request) (*pipeline.Pipeline, bool) {
	name := r.PathValue("name")
	if name == "" {
		s.respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "pipeline name required")
		return nil, false
	}

	p, err := s.pipelines.Get(name)
	if err != nil {
		if errors.Is(err, pipeline.ErrPipelineNotFound) {
			s.respondError(w, http.StatusNotFound, "PIPELINE_NOT_FOUND",
				"pipeline not found: "+name)
			return nil, false
		}
		s.respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return nil, false
	}

	if p == nil {
		s.respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"pipeline is nil")
		return nil, false
	}

	return p, true
}

// handleConverse handles the POST /v1/pipelines/{name}/converse endpoint.
func (s *Server) handleConverse(w http.ResponseWriter, r *http.Request) {
	// Parse request body first to validate input before checking pipeline
	var req pipeline.ConverseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "INVALID_REQUEST",
			"invalid request body: "+err.Error())
		return
	}

	if req.Message == "" {
		s.respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "message is required")
		return
	}

	p, ok := s.getPipeline(w, r)
	if !ok {
		return
	}

	// Handle streaming vs non-streaming
	if req.Stream {
		s.handleStreamingConverse(w, r, p, req)
		return
	}

	resp, err := p.Converse(r.Context(), req)
	if err != nil {
		s.logger.Error("conversational turn failed",
			"pipeline", p.Name(),
			"error", err)
		s.respondTurnError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, resp)
}

// handleCreateSession handles the POST /v1/pipelines/{name}/sessions endpoint.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	p, ok := s.getPipeline(w, r)
	if !ok {
		return
	}

	sess, err := p.CreateSession(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "SESSION_ERROR", err.Error())
		return
	}

	s.respondJSON(w, http.StatusCreated, SessionResponse{
		SessionID: sess.ID,
		CreatedAt: sess.CreatedAt.Format(time.RFC3339),
	})
}

// handleHistory handles the GET /v1/pipelines/{name}/sessions/{id}/history
// endpoint. History of an unknown session is empty, not an error.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	p, ok := s.getPipeline(w, r)
	if !ok {
		return
	}

	sessionID := r.PathValue("id")
	if sessionID == "" {
		s.respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "session id required")
		return
	}

	turns, err := p.History(r.Context(), sessionID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "SESSION_ERROR", err.Error())
		return
	}
	if turns == nil {
		turns = []session.Turn{}
	}

	s.respondJSON(w, http.StatusOK, HistoryResponse{
		SessionID: sessionID,
		Turns:     turns,
	})
}

// handleDeleteSession handles the DELETE /v1/pipelines/{name}/sessions/{id}
// endpoint.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	p, ok := s.getPipeline(w, r)
	if !ok {
		return
	}

	sessionID := r.PathValue("id")
	if sessionID == "" {
		s.respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "session id required")
		return
	}

	if err := p.DeleteSession(r.Context(), sessionID); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			s.respondError(w, http.StatusNotFound, "SESSION_NOT_FOUND",
				"session not found: "+sessionID)
			return
		}
		s.respondError(w, http.StatusInternalServerError, "SESSION_ERROR", err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// respondTurnError maps a failed turn to an HTTP status and error code.
func (s *Server) respondTurnError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, index.ErrUnavailable):
		s.respondError(w, http.StatusServiceUnavailable, "INDEX_UNAVAILABLE", err.Error())
	case errors.Is(err, prompt.ErrPromptTooLarge):
		s.respondError(w, http.StatusRequestEntityTooLarge, "PROMPT_TOO_LARGE", err.Error())
	case llm.IsRefused(err):
		s.respondError(w, http.StatusUnprocessableEntity, "MODEL_REFUSED", err.Error())
	case llm.IsTimeout(err):
		s.respondError(w, http.StatusGatewayTimeout, "MODEL_TIMEOUT", err.Error())
	case llm.IsUnavailable(err):
		s.respondError(w, http.StatusServiceUnavailable, "MODEL_UNAVAILABLE", err.Error())
	default:
		s.respondError(w, http.StatusInternalServerError, "EXECUTION_ERROR", err.Error())
	}
}

// handleStreamingConverse handles a streaming turn using Server-Sent Events.
func (s *Server) handleStreamingConverse(w http.ResponseWriter, r *http.Request,
	p *pipeline.Pipeline, req pipeline.ConverseRequest) {
	// Check if the response writer supports flushing
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, http.StatusInternalServerError, "STREAMING_ERROR",
			"streaming not supported")
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	eventChan, errChan := p.ConverseStream(r.Context(), req)

	// Stream events to client
	for {
		select {
		case event, ok := <-eventChan:
			if !ok {
				// Channel closed, check for errors
				if err := <-errChan; err != nil {
					s.sendSSE(w, flusher, pipeline.StreamEvent{
						Type:  "error",
						Error: err.Error(),
					})
					return
				}
				return
			}

			s.sendSSE(w, flusher, event)

		case <-r.Context().Done():
			// Client disconnected
			s.logger.Debug("client disconnected during streaming")
			return
		}
	}
}

// sendSSE sends a Server-Sent Event.
func (s *Server) sendSSE(w http.ResponseWriter, flusher http.Flusher, event pipeline.StreamEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("failed to marshal SSE event", "error", err)
		return
	}

	// SSE format: data: {json}\n\n
	if _, err := w.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
		s.logger.Error("failed to write SSE event", "error", err)
		return
	}
	flusher.Flush()
}

// respondJSON sends a JSON response with RFC 8631 Link header for API discovery.
func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	// RFC 8631: Link header for API documentation discovery
	w.Header().Set("Link", `</v1/openapi.json>; rel="service-desc"`)
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// respondError sends an error response.
func (s *Server) respondError(w http.ResponseWriter, status int, code, message string) {
	s.respondJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}
