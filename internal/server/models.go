package server

import (
	"time"

	"github.com/mohammad-safakhou/compendium/internal/archive"
	"github.com/mohammad-safakhou/compendium/internal/pool"
	"github.com/mohammad-safakhou/compendium/internal/session"
)

// HTTPError is the JSON error envelope produced by the error handler.
type HTTPError struct {
	Error string `json:"error"`
}

type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

type DocumentCreateRequest struct {
	Title       string `json:"title"`
	Purpose     string `json:"purpose"`
	RefreshCron string `json:"refresh_cron,omitempty"`
}

type DocumentUpdateRequest struct {
	Purpose     *string `json:"purpose,omitempty"`
	RefreshCron *string `json:"refresh_cron,omitempty"`
}

// ResearchStartRequest optionally narrows a research session.
type ResearchStartRequest struct {
	TargetSourceCount int    `json:"target_source_count,omitempty"`
	AnalysisDepth     string `json:"analysis_depth,omitempty"`
}

type ResearchStartResponse struct {
	SessionID  string    `json:"session_id"`
	DocumentID string    `json:"document_id"`
	Jobs       int       `json:"jobs"`
	StartedAt  time.Time `json:"started_at"`
}

// SessionResponse is the live or persisted state of a session.
type SessionResponse struct {
	Snapshot session.Snapshot `json:"snapshot"`
	Live     bool             `json:"live"`
}

type RetryResponse struct {
	Requeued int `json:"requeued"`
}

type WorkersResponse struct {
	Pool pool.Status `json:"pool"`
}

type SourceSearchResponse struct {
	Query string        `json:"query"`
	Hits  []archive.Hit `json:"hits"`
}
