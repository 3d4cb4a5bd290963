package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/dataprep-studio/annotation-engine/internal/feedback"
	"github.com/dataprep-studio/annotation-engine/internal/pattern"
	"github.com/dataprep-studio/annotation-engine/internal/session"
	"github.com/dataprep-studio/annotation-engine/internal/ws"
)

// sessionState is the session view returned by most session endpoints.
type sessionState struct {
	SessionID     string                `json:"sessionId"`
	Document      session.Document      `json:"document"`
	DocumentIndex int                   `json:"documentIndex"`
	DocumentCount int                   `json:"documentCount"`
	Patterns      []*pattern.Definition `json:"patterns"`
	Highlighted   string                `json:"highlighted"`
	MatchCount    int                   `json:"matchCount"`
}

func (s *Server) sessionState(id string, c *session.Controller) sessionState {
	doc, idx := c.CurrentDocument()
	return sessionState{
		SessionID:     id,
		Document:      doc,
		DocumentIndex: idx,
		DocumentCount: c.DocumentCount(),
		Patterns:      c.Patterns(),
		Highlighted:   c.HighlightedHTML(),
		MatchCount:    len(c.Matches()),
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":"%s"}`, time.Now().Format(time.RFC3339))
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	active := len(s.sessions)
	s.mu.RUnlock()

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":              "annotation-engine",
		"version":           "0.1.0",
		"feedback_mode":     s.config.Feedback.Mode,
		"detection_enabled": s.config.Detection.Enabled,
		"active_sessions":   active,
	})
}

type createSessionRequest struct {
	Documents    []session.Document `json:"documents"`
	DataSourceID string             `json:"dataSourceId"`
	Resume       bool               `json:"resume"`
}

// handleCreateSession starts a new annotation session over a document set.
// With resume set, previously saved patterns for the data source are merged
// into the predefined catalog.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var initial []*pattern.Definition
	if req.Resume && s.localStore != nil && req.DataSourceID != "" {
		saved, err := s.localStore.SavedPatterns(r.Context(), req.DataSourceID)
		if err != nil {
			s.logger.Warn("Failed to load saved patterns, starting fresh",
				zap.String("data_source", req.DataSourceID), zap.Error(err))
		} else {
			initial = saved
		}
	}

	id := generateSessionID()

	var detector session.PatternDetector
	if s.detector != nil {
		detector = s.detector
	}

	ctrl, err := session.NewController(session.Options{
		Documents:       req.Documents,
		InitialPatterns: initial,
		DataSourceID:    req.DataSourceID,
	}, detector, s.store, s.logger.WithSession(id).Logger)
	if err != nil {
		s.writeSessionError(w, err)
		return
	}

	// Refinement data is best-effort at session start
	if s.store != nil {
		if err := ctrl.RefreshRefined(r.Context()); err != nil {
			s.logger.Warn("Failed to load refinement data", zap.Error(err))
		}
	}

	s.mu.Lock()
	s.sessions[id] = ctrl
	s.mu.Unlock()

	s.broadcastHighlights(id, ctrl)
	s.writeJSON(w, http.StatusCreated, s.sessionState(id, ctrl))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, ctrl := s.sessionFromRequest(w, r)
	if ctrl == nil {
		return
	}
	s.writeJSON(w, http.StatusOK, s.sessionState(id, ctrl))
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetSelection(w http.ResponseWriter, r *http.Request) {
	id, ctrl := s.sessionFromRequest(w, r)
	if ctrl == nil {
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ctrl.SetSelection(req.Text)
	s.writeJSON(w, http.StatusOK, s.sessionState(id, ctrl))
}

func (s *Server) handleAddExample(w http.ResponseWriter, r *http.Request) {
	id, ctrl := s.sessionFromRequest(w, r)
	if ctrl == nil {
		return
	}
	var req struct {
		PatternID string `json:"patternId"`
		Text      string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := ctrl.AddExample(req.PatternID, req.Text); err != nil {
		s.writeSessionError(w, err)
		return
	}
	s.broadcastHighlights(id, ctrl)
	s.writeJSON(w, http.StatusOK, s.sessionState(id, ctrl))
}

func (s *Server) handleRemoveExample(w http.ResponseWriter, r *http.Request) {
	id, ctrl := s.sessionFromRequest(w, r)
	if ctrl == nil {
		return
	}
	var req struct {
		PatternID string `json:"patternId"`
		Index     int    `json:"index"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := ctrl.RemoveExample(req.PatternID, req.Index); err != nil {
		s.writeSessionError(w, err)
		return
	}
	s.broadcastHighlights(id, ctrl)
	s.writeJSON(w, http.StatusOK, s.sessionState(id, ctrl))
}

func (s *Server) handleAddCustomPattern(w http.ResponseWriter, r *http.Request) {
	_, ctrl := s.sessionFromRequest(w, r)
	if ctrl == nil {
		return
	}
	var req struct {
		Label string `json:"label"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	created, err := ctrl.AddCustomPattern(req.Label)
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleRemovePattern(w http.ResponseWriter, r *http.Request) {
	id, ctrl := s.sessionFromRequest(w, r)
	if ctrl == nil {
		return
	}
	if err := ctrl.RemovePattern(mux.Vars(r)["patternId"]); err != nil {
		s.writeSessionError(w, err)
		return
	}
	s.broadcastHighlights(id, ctrl)
	s.writeJSON(w, http.StatusOK, s.sessionState(id, ctrl))
}

func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	id, ctrl := s.sessionFromRequest(w, r)
	if ctrl == nil {
		return
	}
	var req struct {
		Direction string `json:"direction"` // next or previous
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	var moved bool
	switch req.Direction {
	case "next":
		moved = ctrl.NextDocument()
	case "previous":
		moved = ctrl.PreviousDocument()
	default:
		s.writeError(w, http.StatusBadRequest, "direction must be next or previous")
		return
	}
	if moved {
		s.broadcastHighlights(id, ctrl)
	}
	s.writeJSON(w, http.StatusOK, s.sessionState(id, ctrl))
}

// handleDetect runs the ML detection pass for the current document. The pass
// is synchronous; a second request while one is in flight gets 409.
func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	id, ctrl := s.sessionFromRequest(w, r)
	if ctrl == nil {
		return
	}
	if err := ctrl.RunMLDetection(r.Context()); err != nil {
		s.writeSessionError(w, err)
		return
	}

	doc, _ := ctrl.CurrentDocument()
	s.wsHub.BroadcastEvent(ws.Event{
		Type:      ws.EventTypeDetection,
		Timestamp: time.Now(),
		SessionID: id,
		Data: ws.DetectionEvent{
			SessionID:  id,
			DocumentID: doc.ID,
			Matches:    len(ctrl.Matches()),
		},
	})
	s.writeJSON(w, http.StatusOK, s.sessionState(id, ctrl))
}

func (s *Server) handleMLView(w http.ResponseWriter, r *http.Request) {
	id, ctrl := s.sessionFromRequest(w, r)
	if ctrl == nil {
		return
	}
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ctrl.SetMLView(req.Enabled)
	s.writeJSON(w, http.StatusOK, s.sessionState(id, ctrl))
}

func (s *Server) handleHighlights(w http.ResponseWriter, r *http.Request) {
	_, ctrl := s.sessionFromRequest(w, r)
	if ctrl == nil {
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"highlighted": ctrl.HighlightedHTML()})
}

func (s *Server) handleMatches(w http.ResponseWriter, r *http.Request) {
	_, ctrl := s.sessionFromRequest(w, r)
	if ctrl == nil {
		return
	}
	s.writeJSON(w, http.StatusOK, ctrl.Matches())
}

func (s *Server) handleSessionFeedback(w http.ResponseWriter, r *http.Request) {
	id, ctrl := s.sessionFromRequest(w, r)
	if ctrl == nil {
		return
	}
	var req struct {
		PatternID    string  `json:"patternId"`
		MatchedText  string  `json:"matchedText"`
		FeedbackType string  `json:"feedbackType"`
		Confidence   float64 `json:"confidence"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := ctrl.SubmitFeedback(r.Context(), req.PatternID, req.MatchedText, req.FeedbackType, req.Confidence); err != nil {
		s.writeSessionError(w, err)
		return
	}

	// Refinement data changed; drop any cached copy
	if s.cache != nil {
		if err := s.cache.Invalidate(r.Context(), req.PatternID); err != nil {
			s.logger.Warn("Failed to invalidate refinement cache", zap.Error(err))
		}
	}

	s.wsHub.BroadcastEvent(ws.Event{
		Type:      ws.EventTypeFeedback,
		Timestamp: time.Now(),
		SessionID: id,
		Data: ws.FeedbackEvent{
			SessionID:    id,
			PatternID:    req.PatternID,
			FeedbackType: req.FeedbackType,
			Confidence:   req.Confidence,
		},
	})
	s.broadcastHighlights(id, ctrl)
	s.writeJSON(w, http.StatusOK, s.sessionState(id, ctrl))
}

// handleFinalize returns the patterns that have at least one example and, in
// local mode, persists them under the session's data source for later resume.
func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	_, ctrl := s.sessionFromRequest(w, r)
	if ctrl == nil {
		return
	}
	patterns := ctrl.Finalize()

	if s.localStore != nil {
		if key := ctrl.DataSourceID(); key != "" {
			if err := s.localStore.SavePatterns(r.Context(), key, patterns); err != nil {
				s.logger.Error("Failed to persist finalized patterns",
					zap.String("data_source", key), zap.Error(err))
				s.writeError(w, http.StatusInternalServerError, "failed to persist patterns")
				return
			}
		}
	}
	s.writeJSON(w, http.StatusOK, patterns)
}

// handlePatternFeedback is the store-side endpoint: it accepts raw feedback
// records, the same shape the remote client posts.
func (s *Server) handlePatternFeedback(w http.ResponseWriter, r *http.Request) {
	if s.localStore == nil {
		s.writeError(w, http.StatusNotImplemented, "feedback store is not hosted here")
		return
	}
	var record feedback.Record
	if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !record.Valid() {
		s.writeError(w, http.StatusBadRequest, "incomplete feedback record")
		return
	}
	if err := s.localStore.Submit(r.Context(), &record); err != nil {
		s.logger.Error("Failed to store feedback", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to store feedback")
		return
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(r.Context(), record.PatternID); err != nil {
			s.logger.Warn("Failed to invalidate refinement cache", zap.Error(err))
		}
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"status": "accepted"})
}

func (s *Server) handleRefinedPatterns(w http.ResponseWriter, r *http.Request) {
	if s.localStore == nil {
		s.writeError(w, http.StatusNotImplemented, "feedback store is not hosted here")
		return
	}
	refined, err := s.localStore.FetchRefined(r.Context())
	if err != nil {
		s.logger.Error("Failed to fetch refined patterns", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to fetch refined patterns")
		return
	}
	if s.cache != nil {
		for _, rec := range refined {
			if err := s.cache.Set(r.Context(), rec); err != nil {
				s.logger.Warn("Failed to cache refinement data", zap.Error(err))
				break
			}
		}
	}
	s.writeJSON(w, http.StatusOK, refined)
}

func (s *Server) handleRefinedPattern(w http.ResponseWriter, r *http.Request) {
	if s.localStore == nil {
		s.writeError(w, http.StatusNotImplemented, "feedback store is not hosted here")
		return
	}
	patternID := mux.Vars(r)["patternId"]

	if s.cache != nil {
		if rec, ok := s.cache.Get(r.Context(), patternID); ok {
			s.writeJSON(w, http.StatusOK, rec)
			return
		}
	}

	refined, err := s.localStore.FetchRefined(r.Context())
	if err != nil {
		s.logger.Error("Failed to fetch refined patterns", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to fetch refined patterns")
		return
	}
	rec, ok := refined[patternID]
	if !ok {
		s.writeError(w, http.StatusNotFound, "no refinement data for pattern")
		return
	}
	if s.cache != nil {
		if err := s.cache.Set(r.Context(), rec); err != nil {
			s.logger.Warn("Failed to cache refinement data", zap.Error(err))
		}
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) broadcastHighlights(id string, ctrl *session.Controller) {
	doc, _ := ctrl.CurrentDocument()
	s.wsHub.BroadcastEvent(ws.Event{
		Type:      ws.EventTypeHighlights,
		Timestamp: time.Now(),
		SessionID: id,
		Data: ws.HighlightsEvent{
			SessionID:    id,
			DocumentID:   doc.ID,
			PatternCount: len(ctrl.Patterns()),
			MatchCount:   len(ctrl.Matches()),
		},
	})
}

func (s *Server) sessionFromRequest(w http.ResponseWriter, r *http.Request) (string, *session.Controller) {
	id := mux.Vars(r)["id"]
	ctrl := s.getSession(id)
	if ctrl == nil {
		s.writeError(w, http.StatusNotFound, "session not found")
		return id, nil
	}
	return id, ctrl
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// writeSessionError maps controller errors onto HTTP status codes.
func (s *Server) writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrPatternNotFound), errors.Is(err, session.ErrExampleNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrDetectionRunning):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrFeedbackDenied):
		s.writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, session.ErrEmptyText), errors.Is(err, session.ErrEmptyLabel),
		errors.Is(err, session.ErrNoDocuments):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("Session operation failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// generateSessionID generates a unique session ID
func generateSessionID() string {
	return fmt.Sprintf("session-%d", time.Now().UnixNano())
}
