package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"questline/internal/domain"
	"questline/internal/engine"
)

const campaignYAML = `
campaign: {id: tiny, title: Tiny, first_chapter: only}
chapters:
  - id: only
    first_encounter: start
    encounters:
      - {id: start, kind: linear, next_encounter: done}
      - {id: done, kind: terminal}
      - {id: orphan, kind: terminal}
`

func writeCampaigns(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "tiny.yaml"), []byte(campaignYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestOpenLoadsCampaignsAndMigrates(t *testing.T) {
	ctx := context.Background()
	a, err := Open(ctx, t.TempDir(), writeCampaigns(t))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a.Close()
	if len(a.Warnings) != 1 || a.Warnings[0].Subject != "orphan" {
		t.Fatalf("warnings = %+v", a.Warnings)
	}
	s, err := a.Engine.StartSession(ctx, engine.StartOptions{CampaignID: "tiny", PlayerID: "p1"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if s.State.EncounterID != "start" {
		t.Fatalf("session = %+v", s)
	}
}

func TestOpenRejectsBadCampaignDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("campaign: {id: x, colour: red}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(context.Background(), t.TempDir(), dir); !errors.Is(err, domain.ErrMalformedInput) {
		t.Fatalf("expected malformed input, got %v", err)
	}
	if _, err := Open(context.Background(), t.TempDir(), filepath.Join(dir, "missing")); err == nil {
		t.Fatal("expected error for missing campaign dir")
	}
}

func TestSaveStores(t *testing.T) {
	ctx := context.Background()
	router, release, err := SaveStores(ctx, "", "")
	if err != nil {
		t.Fatal(err)
	}
	release()
	if router.File == nil || router.Redis != nil {
		t.Fatalf("file-only router = %+v", router)
	}

	mr := miniredis.RunT(t)
	router, release, err = SaveStores(ctx, mr.Addr(), "")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer release()
	if router.Redis == nil {
		t.Fatal("redis store not configured")
	}
}
