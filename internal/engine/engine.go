package engine

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"questline/internal/domain"
	"questline/internal/events"
	"questline/internal/machine"
	"questline/internal/metrics"
	"questline/internal/repo"
	"questline/internal/save"
)

// Engine hosts play sessions: it resumes a state machine per request,
// applies one operation and commits the new state with its event.
type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Campaigns map[string]*domain.Campaign
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

func New(db *sql.DB, campaigns map[string]*domain.Campaign) Engine {
	return Engine{
		DB:        db,
		Repo:      repo.Repo{DB: db},
		Events:    events.Writer{DB: db},
		Campaigns: campaigns,
		Now:       time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) events() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

// Campaign looks up a loaded campaign.
func (e Engine) Campaign(id string) (*domain.Campaign, error) {
	c, ok := e.Campaigns[id]
	if !ok {
		return nil, domain.NewError(domain.CodeNotFound, "campaign %s not found", id)
	}
	return c, nil
}

// ListCampaigns returns loaded campaigns ordered by id.
func (e Engine) ListCampaigns() []*domain.Campaign {
	out := make([]*domain.Campaign, 0, len(e.Campaigns))
	for _, c := range e.Campaigns {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

type StartOptions struct {
	CampaignID string
	PlayerID   string
	// From resumes an exported save instead of starting fresh.
	From *domain.PlayerState
}

func (e Engine) StartSession(ctx context.Context, opts StartOptions) (domain.Session, error) {
	if opts.PlayerID == "" {
		return domain.Session{}, domain.MalformedInput("player id is required")
	}
	if opts.From != nil && opts.CampaignID == "" {
		opts.CampaignID = opts.From.CampaignID
	}
	c, err := e.Campaign(opts.CampaignID)
	if err != nil {
		return domain.Session{}, err
	}
	m := machine.New(c)
	if opts.From != nil {
		if m, err = machine.Resume(c, *opts.From); err != nil {
			return domain.Session{}, err
		}
	}
	status := domain.SessionActive
	if !m.Active() {
		status = domain.SessionCompleted
	}
	now := e.now()
	ts := now.UTC().Format(time.RFC3339)
	s := domain.Session{
		ID:         uuid.NewString(),
		CampaignID: c.ID(),
		PlayerID:   opts.PlayerID,
		Status:     status,
		State:      m.Snapshot(now),
		CreatedAt:  ts,
		UpdatedAt:  ts,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Session{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertSession(ctx, tx, s); err != nil {
		return domain.Session{}, err
	}
	payload := events.EventPayload{
		"encounter_id": s.State.EncounterID,
		"chapter_id":   s.State.ChapterID,
		"resumed":      opts.From != nil,
	}
	if err := e.events().Append(ctx, tx, events.TypeSessionStarted, c.ID(), events.EntitySession, s.ID, opts.PlayerID, payload); err != nil {
		return domain.Session{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Session{}, err
	}
	e.Metrics.SessionStarted(c.ID())
	logrus.WithFields(logrus.Fields{
		"session_id":  s.ID,
		"campaign_id": s.CampaignID,
		"player_id":   s.PlayerID,
	}).Info("session started")
	return s, nil
}

func (e Engine) GetSession(ctx context.Context, id string) (domain.Session, error) {
	s, err := e.Repo.GetSession(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return s, domain.NewError(domain.CodeNotFound, "session %s not found", id)
	}
	return s, err
}

func (e Engine) ListSessions(ctx context.Context, f repo.SessionFilters) ([]domain.Session, error) {
	return e.Repo.ListSessions(ctx, f)
}

// RecoveryOptions reports the options a session would be offered on failure.
func (e Engine) RecoveryOptions(ctx context.Context, id string) ([]domain.RecoveryOption, error) {
	s, err := e.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	c, err := e.Campaign(s.CampaignID)
	if err != nil {
		return nil, err
	}
	m, err := machine.Resume(c, s.State)
	if err != nil {
		return nil, err
	}
	return m.RecoveryOptions(), nil
}

// SessionEvents returns a session's event log, newest first.
func (e Engine) SessionEvents(ctx context.Context, id string, limit int) ([]domain.Event, error) {
	if _, err := e.GetSession(ctx, id); err != nil {
		return nil, err
	}
	return e.Repo.LatestEvents(ctx, limit, repo.EventFilters{EntityKind: events.EntitySession, EntityID: id})
}

// Export writes a session's progress through st, e.g. to a save file.
func (e Engine) Export(ctx context.Context, id string, st save.Store, dest string) (domain.PlayerState, error) {
	s, err := e.GetSession(ctx, id)
	if err != nil {
		return domain.PlayerState{}, err
	}
	if err := st.Save(ctx, s.State, dest); err != nil {
		return domain.PlayerState{}, err
	}
	return s.State, nil
}
