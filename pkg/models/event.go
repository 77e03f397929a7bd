package models

import "time"

// ProgressEvent is the immutable record fanned out to event-bus
// subscribers and WebSocket clients.
type ProgressEvent struct {
	Type      string         `json:"type"`
	TaskID    int64          `json:"task_id"`
	UserID    int64          `json:"user_id"`
	ProblemID string         `json:"problem_id"`
	Stage     string         `json:"stage,omitempty"`
	Progress  int            `json:"progress"`
	Message   string         `json:"message,omitempty"`
	Logs      []string       `json:"logs,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Extra     map[string]any `json:"extra,omitempty"`
}
