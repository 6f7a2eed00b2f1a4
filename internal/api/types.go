// File: internal/api/types.go
package api

import (
	"github.com/xkilldash9x/cdpfleet/internal/orchestrator"
)

// Response is the envelope every JSON endpoint answers with.
type Response struct {
	Status string `json:"status"` // "success", "error", "accepted"
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

// BatchRequest starts a batch. Delay is a Go duration string such as
// "1500ms"; when empty the configured launch delay is used.
type BatchRequest struct {
	Profiles []string `json:"profiles"`
	Delay    string   `json:"delay,omitempty"`
}

// CompleteRequest reports the end of a session's work.
type CompleteRequest struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

// BatchStatus is the payload of POST /batch.
type BatchStatus struct {
	BatchID  string `json:"batch_id"`
	Profiles int    `json:"profiles"`
}

// SessionsView is the payload of GET /sessions.
type SessionsView struct {
	BatchID      string                       `json:"batch_id,omitempty"`
	BatchRunning bool                         `json:"batch_running"`
	Results      []orchestrator.SessionResult `json:"results"`
	Active       []string                     `json:"active,omitempty"`
}

// StatsView is the payload of GET /stats.
type StatsView struct {
	orchestrator.Statistics
	MaxConcurrent int  `json:"max_concurrent"`
	BatchRunning  bool `json:"batch_running"`
}
