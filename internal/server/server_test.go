package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dataprep-studio/annotation-engine/internal/config"
	"github.com/dataprep-studio/annotation-engine/internal/logger"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.GetDefaults()
	cfg.Feedback.Mode = "off"
	cfg.Cache.Enabled = false

	log, err := logger.New(logger.Config{Level: "error", Format: "json"})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	s, err := New(cfg, log)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return s
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func createSession(t *testing.T, s *Server) sessionState {
	t.Helper()
	rec := doJSON(t, s, "POST", "/api/sessions", map[string]interface{}{
		"documents": []map[string]string{
			{"id": "doc-1", "name": "a.txt", "text": "Call 555-123-4567 today"},
			{"id": "doc-2", "name": "b.txt", "text": "SSN 123-45-6789 on file"},
		},
		"dataSourceId": "ds-1",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Create session returned %d: %s", rec.Code, rec.Body.String())
	}
	var state sessionState
	if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
		t.Fatalf("Failed to decode session state: %v", err)
	}
	return state
}

// TestHealthAndInfo tests the unauthenticated service endpoints
func TestHealthAndInfo(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, "GET", "/health", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("Health returned %d", rec.Code)
	}

	rec = doJSON(t, s, "GET", "/info", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("Info returned %d", rec.Code)
	}
	var info map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("Info body is not JSON: %v", err)
	}
	if info["feedback_mode"] != "off" {
		t.Errorf("Info feedback_mode = %v", info["feedback_mode"])
	}
}

// TestSessionLifecycle tests the annotation flow over HTTP
func TestSessionLifecycle(t *testing.T) {
	s := newTestServer(t)
	state := createSession(t, s)

	if state.DocumentCount != 2 || state.Document.ID != "doc-1" {
		t.Fatalf("Unexpected initial state: %+v", state)
	}
	if len(state.Patterns) != 10 {
		t.Fatalf("Expected predefined catalog, got %d patterns", len(state.Patterns))
	}
	base := fmt.Sprintf("/api/sessions/%s", state.SessionID)

	t.Run("AddExample", func(t *testing.T) {
		rec := doJSON(t, s, "POST", base+"/examples", map[string]interface{}{
			"patternId": "pattern-3",
			"text":      "555-123-4567",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("Add example returned %d: %s", rec.Code, rec.Body.String())
		}
		var got sessionState
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatal(err)
		}
		if got.MatchCount == 0 {
			t.Error("No matches after tagging an example present in the document")
		}
	})

	t.Run("Highlights", func(t *testing.T) {
		rec := doJSON(t, s, "GET", base+"/highlights", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("Highlights returned %d", rec.Code)
		}
		var body map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatal(err)
		}
		if body["highlighted"] == "" {
			t.Error("Empty highlighted document")
		}
	})

	t.Run("Navigate", func(t *testing.T) {
		rec := doJSON(t, s, "POST", base+"/navigate", map[string]string{"direction": "next"})
		if rec.Code != http.StatusOK {
			t.Fatalf("Navigate returned %d", rec.Code)
		}
		var got sessionState
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatal(err)
		}
		if got.Document.ID != "doc-2" {
			t.Errorf("Document after navigate = %s", got.Document.ID)
		}

		rec = doJSON(t, s, "POST", base+"/navigate", map[string]string{"direction": "sideways"})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Invalid direction returned %d", rec.Code)
		}
	})

	t.Run("CustomPattern", func(t *testing.T) {
		rec := doJSON(t, s, "POST", base+"/patterns", map[string]string{"label": "Badge"})
		if rec.Code != http.StatusCreated {
			t.Fatalf("Custom pattern returned %d", rec.Code)
		}

		rec = doJSON(t, s, "POST", base+"/patterns", map[string]string{"label": ""})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Empty label returned %d", rec.Code)
		}
	})

	t.Run("FeedbackDeniedForPredefined", func(t *testing.T) {
		rec := doJSON(t, s, "POST", base+"/feedback", map[string]interface{}{
			"patternId":    "pattern-3",
			"matchedText":  "555-123-4567",
			"feedbackType": "negative",
			"confidence":   0.95,
		})
		if rec.Code != http.StatusForbidden {
			t.Errorf("Feedback on predefined pattern returned %d", rec.Code)
		}
	})

	t.Run("Finalize", func(t *testing.T) {
		rec := doJSON(t, s, "POST", base+"/finalize", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("Finalize returned %d", rec.Code)
		}
		var patterns []map[string]interface{}
		if err := json.Unmarshal(rec.Body.Bytes(), &patterns); err != nil {
			t.Fatal(err)
		}
		if len(patterns) != 1 {
			t.Errorf("Expected 1 finalized pattern, got %d", len(patterns))
		}
	})

	t.Run("CloseSession", func(t *testing.T) {
		rec := doJSON(t, s, "DELETE", base, nil)
		if rec.Code != http.StatusNoContent {
			t.Errorf("Close returned %d", rec.Code)
		}
		rec = doJSON(t, s, "GET", base, nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("Closed session still reachable: %d", rec.Code)
		}
	})
}

// TestUnknownSession tests the 404 path
func TestUnknownSession(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, "GET", "/api/sessions/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Unknown session returned %d", rec.Code)
	}
}

// TestStoreEndpointsWithoutLocalStore tests mode "off" behavior
func TestStoreEndpointsWithoutLocalStore(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, "GET", "/api/patterns/refined", nil)
	if rec.Code != http.StatusNotImplemented {
		t.Errorf("Refined without local store returned %d", rec.Code)
	}

	rec = doJSON(t, s, "POST", "/api/pattern-feedback", map[string]interface{}{
		"patternId": "42", "matchedText": "x", "feedbackType": "negative",
	})
	if rec.Code != http.StatusNotImplemented {
		t.Errorf("Pattern feedback without local store returned %d", rec.Code)
	}
}
