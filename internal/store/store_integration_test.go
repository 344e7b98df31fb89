package store_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mohammad-safakhou/compendium/internal/research"
	"github.com/mohammad-safakhou/compendium/internal/server"
	"github.com/mohammad-safakhou/compendium/internal/session"
	"github.com/mohammad-safakhou/compendium/internal/store"
)

func TestStoreRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	pgC, err := tcPostgres.RunContainer(ctx,
		tcPostgres.WithDatabase("compendium"),
		tcPostgres.WithUsername("compendium"),
		tcPostgres.WithPassword("compendium"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("5432/tcp")),
	)
	if err != nil {
		t.Fatalf("postgres container: %v", err)
	}
	defer func() { _ = pgC.Terminate(ctx) }()

	host, err := pgC.Host(ctx)
	if err != nil {
		t.Fatalf("postgres host: %v", err)
	}
	port, err := pgC.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("postgres port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://compendium:compendium@%s:%s/compendium?sslmode=disable", host, port.Port())

	if err := server.Migrate("file://../../migrations", dsn, "up", 0); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		t.Fatalf("NewWithDSN: %v", err)
	}
	defer st.DB.Close()

	if err := st.CreateUser(ctx, "alice@example.com", "hash"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	userID, _, err := st.GetUserByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}

	docID, err := st.CreateDocument(ctx, userID, "QEC survey", "survey quantum error correction progress")
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if err := st.SetDocumentCron(ctx, userID, docID, "@daily"); err != nil {
		t.Fatalf("SetDocumentCron: %v", err)
	}
	scheduled, err := st.ListScheduledDocuments(ctx)
	if err != nil {
		t.Fatalf("ListScheduledDocuments: %v", err)
	}
	if len(scheduled) != 1 || scheduled[0].ID != docID {
		t.Fatalf("scheduled = %+v", scheduled)
	}

	sessionID := uuid.NewString()
	if err := st.CreateSession(ctx, sessionID, docID); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	result := research.JobResult{
		JobID:            uuid.NewString(),
		GeneratedContent: "## Expert Perspectives",
		Sources:          []research.Source{{URL: "https://arxiv.org/abs/1", Title: "Paper", Credibility: 8}},
		Metadata:         research.ResultMetadata{OverallCredibility: 8},
	}
	if err := st.InsertSectionResult(ctx, sessionID, result, research.CategoryExperts); err != nil {
		t.Fatalf("InsertSectionResult: %v", err)
	}

	snap := session.Snapshot{
		ID:              sessionID,
		DocumentID:      docID,
		Status:          session.StatusCompleted,
		OverallProgress: 100,
		StartedAt:       time.Now().Add(-time.Minute),
		FinishedAt:      time.Now(),
	}
	if err := st.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	rec, err := st.GetSession(ctx, sessionID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if rec.Status != "completed" || rec.Progress != 100 {
		t.Fatalf("session record = %+v", rec)
	}
	if rec.FinishedAt == nil {
		t.Fatal("expected finished_at to be set")
	}

	results, err := st.ListSectionResults(ctx, sessionID)
	if err != nil {
		t.Fatalf("ListSectionResults: %v", err)
	}
	if len(results) != 1 || results[0].Category != research.CategoryExperts {
		t.Fatalf("results = %+v", results)
	}

	sessions, err := st.ListSessionsByDocument(ctx, docID)
	if err != nil {
		t.Fatalf("ListSessionsByDocument: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != sessionID {
		t.Fatalf("sessions = %+v", sessions)
	}
}
