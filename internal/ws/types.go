package ws

import (
	"time"

	"github.com/gorilla/websocket"
)

// EventType represents the type of studio event.
type EventType string

const (
	// EventTypeHighlights fires whenever a session's highlights are recomputed.
	EventTypeHighlights EventType = "highlights_updated"
	// EventTypeFeedback fires when a feedback record is accepted.
	EventTypeFeedback EventType = "feedback_submitted"
	// EventTypeDetection fires when an ML detection pass completes.
	EventTypeDetection EventType = "ml_detection"
	// EventTypeConnection represents connection events.
	EventTypeConnection EventType = "connection"
)

// Event is a studio event sent to connected clients.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	SessionID string      `json:"session_id,omitempty"`
	Data      interface{} `json:"data"`
}

// HighlightsEvent carries the state of a recomputed document view.
type HighlightsEvent struct {
	SessionID    string `json:"session_id"`
	DocumentID   string `json:"document_id"`
	PatternCount int    `json:"pattern_count"`
	MatchCount   int    `json:"match_count"`
}

// FeedbackEvent reports an accepted feedback submission.
type FeedbackEvent struct {
	SessionID    string  `json:"session_id"`
	PatternID    string  `json:"pattern_id"`
	FeedbackType string  `json:"feedback_type"`
	Confidence   float64 `json:"confidence"`
}

// DetectionEvent reports a completed ML detection pass.
type DetectionEvent struct {
	SessionID  string `json:"session_id"`
	DocumentID string `json:"document_id"`
	Matches    int    `json:"matches"`
}

// ConnectionEvent represents client connect/disconnect notifications.
type ConnectionEvent struct {
	Action   string `json:"action"`
	ClientID string `json:"client_id"`
	ClientIP string `json:"client_ip"`
}

// ClientMessage represents messages sent from clients to the server.
type ClientMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// SubscriptionRequest filters which event types a client receives.
type SubscriptionRequest struct {
	Events   []EventType `json:"events"`
	Sessions []string    `json:"sessions,omitempty"`
}

// Client represents one connected studio client.
type Client struct {
	ID           string
	Conn         *websocket.Conn
	Send         chan Event
	Subscription *SubscriptionRequest
	ConnectedAt  time.Time
	LastPing     time.Time
	IP           string
}
