// Package store persists users, documents and research session history.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/mohammad-safakhou/compendium/internal/research"
	"github.com/mohammad-safakhou/compendium/internal/session"
)

type Store struct {
	DB *sql.DB
}

// Document is a writing project whose purpose drives research.
type Document struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Title       string    `json:"title"`
	Purpose     string    `json:"purpose"`
	RefreshCron string    `json:"refresh_cron,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SessionRecord is a persisted research session.
type SessionRecord struct {
	ID         string           `json:"id"`
	DocumentID string           `json:"document_id"`
	Status     string           `json:"status"`
	Progress   int              `json:"progress"`
	Snapshot   session.Snapshot `json:"snapshot"`
	CreatedAt  time.Time        `json:"created_at"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
}

// SectionResult is one persisted job outcome within a session.
type SectionResult struct {
	ID          string            `json:"id"`
	SessionID   string            `json:"session_id"`
	JobID       string            `json:"job_id"`
	Category    research.Category `json:"category"`
	Content     string            `json:"content"`
	Fallback    bool              `json:"fallback"`
	Sources     []research.Source `json:"sources"`
	Credibility float64           `json:"credibility"`
	CreatedAt   time.Time         `json:"created_at"`
}

// New constructs the Store from DATABASE_URL or POSTGRES_* env.
func New(ctx context.Context) (*Store, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		host := getenvDefault("POSTGRES_HOST", "localhost")
		port := getenvDefault("POSTGRES_PORT", "5432")
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		db := os.Getenv("POSTGRES_DB")
		ssl := getenvDefault("POSTGRES_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, ssl)
	}
	return NewWithDSN(ctx, dsn)
}

// NewWithDSN constructs the Store using an explicit Postgres DSN.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

// User operations

func (s *Store) CreateUser(ctx context.Context, email, hash string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO users (email, password_hash) VALUES ($1,$2)`, email, hash)
	return err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (id string, hash string, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT id, password_hash FROM users WHERE email=$1`, email).Scan(&id, &hash)
	return
}

// Document operations

func (s *Store) CreateDocument(ctx context.Context, userID, title, purpose string) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO documents (user_id, title, purpose) VALUES ($1,$2,$3) RETURNING id`,
		userID, title, purpose).Scan(&id)
	return id, err
}

func (s *Store) GetDocument(ctx context.Context, userID, id string) (Document, error) {
	var d Document
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, user_id, title, purpose, refresh_cron, created_at, updated_at FROM documents WHERE id=$1 AND user_id=$2`,
		id, userID).Scan(&d.ID, &d.UserID, &d.Title, &d.Purpose, &d.RefreshCron, &d.CreatedAt, &d.UpdatedAt)
	return d, err
}

func (s *Store) ListDocuments(ctx context.Context, userID string) ([]Document, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, user_id, title, purpose, refresh_cron, created_at, updated_at FROM documents WHERE user_id=$1 ORDER BY created_at DESC`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.UserID, &d.Title, &d.Purpose, &d.RefreshCron, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// SetDocumentCron sets or clears the recurring refresh schedule.
func (s *Store) SetDocumentCron(ctx context.Context, userID, id, cron string) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE documents SET refresh_cron=$1, updated_at=now() WHERE id=$2 AND user_id=$3`,
		cron, id, userID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ScheduledDocument pairs a cron-bearing document with its last session start.
type ScheduledDocument struct {
	Document
	LastRun sql.NullTime `json:"last_run"`
}

// ListScheduledDocuments returns every document with a refresh schedule and
// when its research last ran.
func (s *Store) ListScheduledDocuments(ctx context.Context) ([]ScheduledDocument, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT d.id, d.user_id, d.title, d.purpose, d.refresh_cron, d.created_at, d.updated_at,
		        (SELECT max(created_at) FROM research_sessions WHERE document_id = d.id)
		 FROM documents d WHERE d.refresh_cron <> ''`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ScheduledDocument
	for rows.Next() {
		var d ScheduledDocument
		if err := rows.Scan(&d.ID, &d.UserID, &d.Title, &d.Purpose, &d.RefreshCron, &d.CreatedAt, &d.UpdatedAt, &d.LastRun); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) UpdateDocumentPurpose(ctx context.Context, userID, id, purpose string) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE documents SET purpose=$1, updated_at=now() WHERE id=$2 AND user_id=$3`,
		purpose, id, userID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Session operations

func (s *Store) CreateSession(ctx context.Context, sessionID, documentID string) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO research_sessions (id, document_id, status, progress) VALUES ($1,$2,'running',0)`,
		sessionID, documentID)
	return err
}

// SaveSnapshot persists the latest session snapshot and roll-up fields.
func (s *Store) SaveSnapshot(ctx context.Context, snap session.Snapshot) error {
	blob, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	var finished any
	if !snap.FinishedAt.IsZero() {
		finished = snap.FinishedAt
	}
	_, err = s.DB.ExecContext(ctx,
		`UPDATE research_sessions SET status=$1, progress=$2, snapshot=$3, finished_at=$4 WHERE id=$5`,
		string(snap.Status), snap.OverallProgress, blob, finished, snap.ID)
	return err
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (SessionRecord, error) {
	var rec SessionRecord
	var blob []byte
	var finished sql.NullTime
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, document_id, status, progress, COALESCE(snapshot,'{}'::jsonb), created_at, finished_at
		 FROM research_sessions WHERE id=$1`, sessionID).
		Scan(&rec.ID, &rec.DocumentID, &rec.Status, &rec.Progress, &blob, &rec.CreatedAt, &finished)
	if err != nil {
		return rec, err
	}
	if finished.Valid {
		rec.FinishedAt = &finished.Time
	}
	if err := json.Unmarshal(blob, &rec.Snapshot); err != nil {
		return rec, fmt.Errorf("decode snapshot: %w", err)
	}
	return rec, nil
}

func (s *Store) ListSessionsByDocument(ctx context.Context, documentID string) ([]SessionRecord, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, document_id, status, progress, created_at, finished_at
		 FROM research_sessions WHERE document_id=$1 ORDER BY created_at DESC`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var finished sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.DocumentID, &rec.Status, &rec.Progress, &rec.CreatedAt, &finished); err != nil {
			return nil, err
		}
		if finished.Valid {
			rec.FinishedAt = &finished.Time
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Section result operations

func (s *Store) InsertSectionResult(ctx context.Context, sessionID string, result research.JobResult, category research.Category) error {
	sources, err := json.Marshal(result.Sources)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO section_results (session_id, job_id, category, content, fallback, sources, credibility)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		sessionID, result.JobID, string(category), result.GeneratedContent, result.Fallback, sources, result.Metadata.OverallCredibility)
	return err
}

func (s *Store) ListSectionResults(ctx context.Context, sessionID string) ([]SectionResult, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, session_id, job_id, category, content, fallback, sources, credibility, created_at
		 FROM section_results WHERE session_id=$1 ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SectionResult
	for rows.Next() {
		var r SectionResult
		var sources []byte
		var category string
		if err := rows.Scan(&r.ID, &r.SessionID, &r.JobID, &category, &r.Content, &r.Fallback, &sources, &r.Credibility, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Category = research.Category(category)
		if err := json.Unmarshal(sources, &r.Sources); err != nil {
			return nil, fmt.Errorf("decode sources: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
