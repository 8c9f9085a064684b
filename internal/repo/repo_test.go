package repo_test

import (
	"context"
	"errors"
	"testing"

	"questline/internal/db"
	"questline/internal/domain"
	"questline/internal/migrate"
	"questline/internal/repo"
)

func newTestRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}
}

func TestCountSessionsByStatus(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)

	counts, err := r.CountSessionsByStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(counts) != 0 {
		t.Fatalf("empty db counts = %v", counts)
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	for i, status := range []domain.SessionStatus{domain.SessionActive, domain.SessionActive, domain.SessionCompleted} {
		s := domain.Session{
			ID:         string(rune('a' + i)),
			CampaignID: "keep",
			PlayerID:   "alice",
			Status:     status,
			State:      domain.PlayerState{CampaignID: "keep", ChapterID: "gate", EncounterID: "intro"},
			CreatedAt:  "2024-01-01T00:00:00Z",
			UpdatedAt:  "2024-01-01T00:00:00Z",
		}
		if err := r.InsertSession(ctx, tx, s); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	counts, err = r.CountSessionsByStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts[domain.SessionActive] != 2 || counts[domain.SessionCompleted] != 1 || counts[domain.SessionEnded] != 0 {
		t.Fatalf("counts = %v", counts)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	r := newTestRepo(t)
	if _, err := r.GetSession(context.Background(), "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
