//
// Copyright (C) 2026 DeepTutor. All rights reserved.
//
// memory-go is licensed under the Apache License Version 2.0.
//

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/deeptutor/memory-go/log"
	"github.com/deeptutor/memory-go/model"
	"github.com/deeptutor/memory-go/session"
	"github.com/deeptutor/memory-go/session/summarizer"
)

// errBadRequest marks request decoding and parameter errors.
var errBadRequest = errors.New("bad request")

type createSessionRequest struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id,omitempty"`
}

type appendMessageRequest struct {
	UserID  string `json:"user_id"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

type summarizeRequest struct {
	UserID string `json:"user_id"`
	Force  bool   `json:"force"`
}

func decodeBody(r *http.Request, into any) error {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err)
	}
	return nil
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	sess, err := s.sessions.CreateSession(r.Context(),
		session.Key{UserID: req.UserID, SessionID: req.SessionID})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	key := session.Key{
		UserID:    r.URL.Query().Get("user_id"),
		SessionID: mux.Vars(r)["session_id"],
	}
	if err := s.sessions.DeleteSession(r.Context(), key); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAppendMessage appends one message and, when the trigger policy
// fires, queues an asynchronous summarization pass before responding.
func (s *Server) handleAppendMessage(w http.ResponseWriter, r *http.Request) {
	var req appendMessageRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	role := model.Role(req.Role)
	if !role.IsValid() {
		writeError(w, fmt.Errorf("%w: invalid role %q", errBadRequest, req.Role))
		return
	}
	key := session.Key{UserID: req.UserID, SessionID: mux.Vars(r)["session_id"]}

	sess, err := s.sessions.AppendMessage(r.Context(), key, model.Message{
		Role:      role,
		Content:   req.Content,
		Timestamp: time.Now(),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	fire, err := s.sessions.ShouldSummarize(r.Context(), key)
	if err == nil && fire {
		if err := s.sessions.EnqueueSummaryJob(r.Context(), key, false); err != nil {
			log.Warnf("enqueue summary job for session %s failed: %v", key.SessionID, err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":       sess.ID,
		"message_count":    sess.GetMessageCount(),
		"token_count":      sess.GetTokenCount(),
		"summary_enqueued": fire,
	})
}

func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	var req summarizeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	key := session.Key{UserID: req.UserID, SessionID: mux.Vars(r)["session_id"]}

	sum, err := s.sessions.Summarize(r.Context(), key, req.Force)
	if err != nil {
		// A pass the model could not complete is an upstream failure; the
		// previously stored summary is still intact.
		if errors.Is(err, summarizer.ErrMalformedSummary) ||
			errors.Is(err, summarizer.ErrGenerationTimeout) {
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
			return
		}
		writeError(w, err)
		return
	}
	if sum == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.sessions.GetSummary(r.Context(), mux.Vars(r)["session_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleDeleteSummary(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.DeleteSummary(r.Context(), mux.Vars(r)["session_id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListSummaries(w http.ResponseWriter, r *http.Request) {
	opts := []session.ListOption{}
	if days, ok, err := queryInt(r, "days"); err != nil {
		writeError(w, err)
		return
	} else if ok {
		opts = append(opts, session.WithSince(time.Now().AddDate(0, 0, -days)))
	}
	if limit, ok, err := queryInt(r, "limit"); err != nil {
		writeError(w, err)
		return
	} else if ok {
		opts = append(opts, session.WithLimit(limit))
	}
	if subject := r.URL.Query().Get("subject"); subject != "" {
		opts = append(opts, session.WithSubject(subject))
	}
	if topic := r.URL.Query().Get("topic"); topic != "" {
		opts = append(opts, session.WithTopic(topic))
	}
	if difficulty := r.URL.Query().Get("difficulty"); difficulty != "" {
		opts = append(opts, session.WithDifficulty(difficulty))
	}

	summaries, err := s.sessions.ListSummaries(r.Context(),
		session.UserKey{UserID: mux.Vars(r)["user_id"]}, opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"summaries": summaries})
}

// handleGetProfile auto-creates a default profile for first-time users, so
// the tutoring frontend never special-cases a missing profile.
func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.profiles.GetOrCreateProfile(r.Context(), mux.Vars(r)["user_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	if err := s.profiles.DeleteProfile(r.Context(), mux.Vars(r)["user_id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpdatePreferences(w http.ResponseWriter, r *http.Request) {
	patch := map[string]any{}
	if err := decodeBody(r, &patch); err != nil {
		writeError(w, err)
		return
	}
	p, err := s.profiles.UpdatePreferences(r.Context(), mux.Vars(r)["user_id"], patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleAssembleContext(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, fmt.Errorf("%w: user_id is required", errBadRequest))
		return
	}
	days, _, err := queryInt(r, "days")
	if err != nil {
		writeError(w, err)
		return
	}
	block, err := s.assembler.AssembleWindow(r.Context(), userID, r.URL.Query().Get("query"), days)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, block)
}

// queryInt parses an optional positive integer query parameter.
func queryInt(r *http.Request, name string) (int, bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, false, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, false, fmt.Errorf("%w: %s must be a positive integer", errBadRequest, name)
	}
	return v, true, nil
}
