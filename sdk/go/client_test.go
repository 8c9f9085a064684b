package questlinesdk

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"questline/internal/db"
	"questline/internal/definition"
	"questline/internal/domain"
	"questline/internal/engine"
	"questline/internal/migrate"
	"questline/internal/server"
)

const campaignYAML = `
campaign: {id: ridge, title: Ridge, first_chapter: climb}
chapters:
  - id: climb
    first_encounter: base
    next_chapter: summit
    encounters:
      - {id: base, kind: linear, xp_reward: 5, next_encounter: camp}
      - {id: camp, kind: linear, is_checkpoint: true, next_encounter: split}
      - id: split
        kind: fork
        choices:
          - {id: ridge, leads_to: top, is_correct: true}
          - {id: scree, leads_to: fall}
      - {id: top, kind: terminal, xp_reward: 10}
      - {id: fall, kind: terminal}
  - id: summit
    first_encounter: peak
    encounters:
      - {id: peak, kind: terminal, xp_reward: 20}
`

func newTestClient(t *testing.T) *Client {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	c, _, err := definition.FromYAML([]byte(campaignYAML))
	if err != nil {
		t.Fatalf("load campaign: %v", err)
	}
	handler, err := server.New(server.Config{
		Engine:   engine.New(conn, map[string]*domain.Campaign{c.ID(): c}),
		BasePath: "/v0",
		Auth:     server.AuthConfig{JWTSecret: "sdk-secret", DevLogin: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL)
}

func TestClientPlaysCampaign(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	if _, err := client.DevLogin(ctx, "carol"); err != nil {
		t.Fatalf("dev login: %v", err)
	}

	campaigns, err := client.Campaigns(ctx)
	if err != nil || len(campaigns) != 1 || campaigns[0].ID != "ridge" {
		t.Fatalf("campaigns = %+v, %v", campaigns, err)
	}

	s, err := client.StartSession(ctx, "ridge")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := client.RecordOutcome(ctx, s.ID, true); err != nil {
			t.Fatalf("outcome: %v", err)
		}
	}
	res, err := client.MakeChoice(ctx, s.ID, "scree")
	if err != nil {
		t.Fatalf("choice: %v", err)
	}
	if !res.Transition.GameOver() || len(res.Transition.Options) != 4 {
		t.Fatalf("expected game over with every option, got %+v", res.Transition)
	}
	if res, err = client.RetryFromCheckpoint(ctx, s.ID); err != nil || res.Session.Current.ID != "camp" {
		t.Fatalf("retry checkpoint: %+v, %v", res.Session.Current, err)
	}
	client.RecordOutcome(ctx, s.ID, true)
	client.MakeChoice(ctx, s.ID, "ridge")
	res, err = client.RecordOutcome(ctx, s.ID, true)
	if err != nil || res.Transition.Kind != "chapter_complete" || res.Session.Current.ID != "peak" {
		t.Fatalf("chapter complete: %+v, %v", res.Transition, err)
	}
	res, err = client.RecordOutcome(ctx, s.ID, true)
	if err != nil || res.Transition.Kind != "campaign_complete" || res.Session.Status != "completed" {
		t.Fatalf("campaign complete: %+v, %v", res.Transition, err)
	}

	list, err := client.Sessions(ctx, "completed")
	if err != nil || len(list) != 1 {
		t.Fatalf("sessions = %+v, %v", list, err)
	}
	evts, err := client.Events(ctx, s.ID, 3)
	if err != nil || len(evts) != 3 || evts[0].Type != "transition.campaign_complete" {
		t.Fatalf("events = %+v, %v", evts, err)
	}
}

func TestClientDecodesAPIErrors(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	if _, err := client.StartSession(ctx, "ridge"); err == nil {
		t.Fatal("expected unauthorized without credentials")
	}
	if _, err := client.DevLogin(ctx, "dave"); err != nil {
		t.Fatal(err)
	}
	s, err := client.StartSession(ctx, "ridge")
	if err != nil {
		t.Fatal(err)
	}
	_, err = client.RetryFromFork(ctx, s.ID)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != 409 || apiErr.Code != "no_fork_to_retry" {
		t.Fatalf("api error = %+v", apiErr)
	}
}
