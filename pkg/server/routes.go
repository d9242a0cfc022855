package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/elderwise/companion/pkg/memory"
	"github.com/elderwise/companion/pkg/memory/model"
	"github.com/elderwise/companion/pkg/models"
)

// storeTimeout bounds the background persistence of a served exchange.
const storeTimeout = 30 * time.Second

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID    string `json:"user_id"`
		Message   string `json:"message"`
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.UserID == "" || strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "user_id and message are required")
		return
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	bundle := s.controller.AssembleContext(r.Context(), req.UserID, req.Message)

	resp, err := s.ai.Generate(r.Context(), bundle.ContextString)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate response")
		return
	}

	// Persist after replying; a slow store must not delay the user.
	go s.storeExchange(req.UserID, sessionID, req.Message, resp, bundle)

	writeJSON(w, http.StatusOK, map[string]any{
		"response":         resp.Text,
		"session_id":       sessionID,
		"provider":         resp.Provider,
		"model":            resp.Model,
		"response_time_ms": resp.ResponseTimeMs,
		"context_summary": map[string]any{
			"profile_loaded":          bundle.Profile.UserID != "",
			"has_history":             bundle.RecentInteractions != "",
			"relevant_memories_count": len(bundle.RelevantMemories),
			"recent_fragments_count":  len(bundle.RecentFragments),
		},
	})
}

func (s *Server) storeExchange(userID, sessionID, userMessage string, resp models.Response, bundle memory.ContextBundle) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := s.controller.StoreInteraction(ctx, userID, userMessage, resp.Text); err != nil {
		s.logf("store interaction for %s: %v", userID, err)
	}
	s.controller.LogInteraction(ctx, model.InteractionLog{
		UserID:      userID,
		SessionID:   sessionID,
		UserMessage: userMessage,
		AIResponse:  resp.Text,
		ContextUsed: map[string]any{
			"relevant_memories": len(bundle.RelevantMemories),
			"recent_fragments":  len(bundle.RecentFragments),
			"provider":          resp.Provider,
		},
		ResponseTimeMs: resp.ResponseTimeMs,
	})
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var profile model.UserProfile
	if err := json.NewDecoder(r.Body).Decode(&profile); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if profile.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	id, err := s.store.CreateProfile(r.Context(), profile)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id, "user_id": profile.UserID})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	profile, err := s.store.Profile(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	var updates map[string]any
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	matched, err := s.store.UpdateProfile(r.Context(), userID, updates)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !matched {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleUserStats(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	userStats, indexStats := s.controller.UserStatistics(r.Context(), userID)
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"store":   userStats,
		"index":   indexStats,
	})
}

func (s *Server) handleSearchMemories(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
		Query  string `json:"query"`
		TopK   int    `json:"top_k"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.UserID == "" || req.Query == "" {
		writeError(w, http.StatusBadRequest, "user_id and query are required")
		return
	}
	matches := s.controller.SearchMemories(r.Context(), req.UserID, req.Query, req.TopK)
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": req.UserID,
		"count":   len(matches),
		"results": matches,
	})
}

func (s *Server) handleRecentMemories(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	fragments, err := s.store.ActiveFragments(r.Context(), userID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":   userID,
		"count":     len(fragments),
		"fragments": fragments,
	})
}

func (s *Server) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	interactions := s.cache.Recent(r.Context(), userID, 0)
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":      userID,
		"count":        len(interactions),
		"interactions": interactions,
	})
}

func (s *Server) handleClearSession(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if err := s.controller.ClearSession(r.Context(), userID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleTriggerArchive(w http.ResponseWriter, r *http.Request) {
	if s.sched == nil {
		writeError(w, http.StatusServiceUnavailable, "retention scheduler not running")
		return
	}
	if err := s.sched.ArchiveMemories(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "archival complete"})
}
