package http

import (
	"github.com/fyrsmithlabs/ralph/internal/ledger"
	"github.com/fyrsmithlabs/ralph/internal/progress"
	"github.com/fyrsmithlabs/ralph/internal/telemetry"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status    string                  `json:"status"`
	Telemetry *telemetry.HealthStatus `json:"telemetry,omitempty"`
}

// StoriesResponse is the response body for GET /stories.
type StoriesResponse struct {
	Stories []ledger.Story `json:"stories"`
	Count   int            `json:"count"`
}

// ProgressResponse is the response body for GET /progress.
type ProgressResponse struct {
	Outcomes []progress.Outcome `json:"outcomes"`
	Count    int                `json:"count"`
	// LastSeq is the cursor for the next poll.
	LastSeq int64 `json:"last_seq"`
}
