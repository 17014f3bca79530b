//
// Copyright (C) 2026 DeepTutor. All rights reserved.
//
// memory-go is licensed under the Apache License Version 2.0.
//

// Package server exposes the memory service over HTTP: session buffers and
// summarization, user profiles, and cross-session context assembly.
package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/deeptutor/memory-go/log"
	"github.com/deeptutor/memory-go/profile"
	"github.com/deeptutor/memory-go/retrieval"
	"github.com/deeptutor/memory-go/session"
)

// Server routes HTTP requests to the memory services.
type Server struct {
	sessions  session.Service
	profiles  profile.Service
	assembler *retrieval.Assembler

	corsAllowedOrigins []string
}

// Option configures the server.
type Option func(*Server)

// WithCORSAllowedOrigins restricts cross-origin requests to the given
// origins. Empty allows all origins.
func WithCORSAllowedOrigins(origins []string) Option {
	return func(s *Server) {
		s.corsAllowedOrigins = origins
	}
}

// New creates a server over the given services.
func New(
	sessions session.Service,
	profiles profile.Service,
	assembler *retrieval.Assembler,
	opts ...Option,
) *Server {
	s := &Server{
		sessions:  sessions,
		profiles:  profiles,
		assembler: assembler,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed HTTP handler with CORS applied.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	r.HandleFunc("/sessions", s.handleCreateSession).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{session_id}", s.handleDeleteSession).Methods(http.MethodDelete)
	r.HandleFunc("/sessions/{session_id}/messages", s.handleAppendMessage).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{session_id}/summarize", s.handleSummarize).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{session_id}/summary", s.handleGetSummary).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{session_id}/summary", s.handleDeleteSummary).Methods(http.MethodDelete)

	r.HandleFunc("/users/{user_id}/summaries", s.handleListSummaries).Methods(http.MethodGet)
	r.HandleFunc("/profiles/{user_id}", s.handleGetProfile).Methods(http.MethodGet)
	r.HandleFunc("/profiles/{user_id}", s.handleDeleteProfile).Methods(http.MethodDelete)
	r.HandleFunc("/profiles/{user_id}/preferences", s.handleUpdatePreferences).Methods(http.MethodPatch)

	r.HandleFunc("/context", s.handleAssembleContext).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins: s.corsAllowedOrigins,
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete,
		},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Errorf("write response failed: %v", err)
	}
}

// writeError maps a service error to an HTTP status and writes it.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrUserIDRequired),
		errors.Is(err, session.ErrSessionIDRequired),
		errors.Is(err, session.ErrNothingToSummarize),
		errors.Is(err, profile.ErrUserIDRequired),
		errors.Is(err, profile.ErrUnknownPreferenceKey),
		errors.Is(err, profile.ErrInvalidPreferenceValue),
		errors.Is(err, errBadRequest):
		status = http.StatusBadRequest
	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, session.ErrSummaryNotFound),
		errors.Is(err, profile.ErrProfileNotFound):
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		log.Errorf("request failed: %v", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
