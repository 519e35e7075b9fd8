//-------------------------------------------------------------------------
//
// RAG Chat Server
//
// Copyright (c) 2026, the RAG Chat Server authors
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package server

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	// API v1 routes
	s.mux.HandleFunc("GET /v1/openapi.json", s.handleOpenAPI)
	s.mux.HandleFunc("GET /v1/health", s.handleHealth)
	s.mux.HandleFunc("GET /v1/pipelines", s.handleListPipelines)
	s.mux.HandleFunc("POST /v1/pipelines/{name}/converse", s.handleConverse)
	s.mux.HandleFunc("POST /v1/pipelines/{name}/sessions", s.handleCreateSession)
	s.mux.HandleFunc("GET /v1/pipelines/{name}/sessions/{id}/history", s.handleHistory)
	s.mux.HandleFunc("DELETE /v1/pipelines/{name}/sessions/{id}", s.handleDeleteSession)
}
