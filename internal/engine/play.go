package engine

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"questline/internal/domain"
	"questline/internal/events"
	"questline/internal/machine"
	"questline/internal/repo"
)

type Operation string

const (
	OpRecordOutcome       Operation = "record_outcome"
	OpMakeChoice          Operation = "make_choice"
	OpRetryFromFork       Operation = "retry_from_fork"
	OpRetryFromCheckpoint Operation = "retry_from_checkpoint"
	OpStartOver           Operation = "start_over"
	OpLeave               Operation = "leave"
)

// Action is one play operation with its argument.
type Action struct {
	Op       Operation
	Success  bool
	ChoiceID string
}

type Result struct {
	Session    domain.Session    `json:"session"`
	Transition domain.Transition `json:"transition"`
}

// Apply runs one operation against a hosted session. On error nothing is
// written: the session row and the event log are left as they were.
func (e Engine) Apply(ctx context.Context, sessionID, actorID string, a Action) (Result, error) {
	res, err := e.apply(ctx, sessionID, actorID, a)
	if err != nil {
		e.Metrics.ObserveError(string(a.Op), err)
		logrus.WithFields(logrus.Fields{
			"session_id": sessionID,
			"operation":  a.Op,
			"code":       domain.CodeOf(err),
		}).Warnf("operation rejected: %v", err)
		return Result{}, err
	}
	e.Metrics.ObserveTransition(res.Session.CampaignID, res.Transition)
	logrus.WithFields(logrus.Fields{
		"session_id": sessionID,
		"operation":  a.Op,
		"transition": res.Transition.Kind,
		"encounter":  res.Transition.To,
	}).Info("transition applied")
	return res, nil
}

func (e Engine) apply(ctx context.Context, sessionID, actorID string, a Action) (Result, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, err
	}
	defer tx.Rollback()

	s, err := e.Repo.GetSessionTx(ctx, tx, sessionID)
	if errors.Is(err, repo.ErrNotFound) {
		return Result{}, domain.NewError(domain.CodeNotFound, "session %s not found", sessionID)
	}
	if err != nil {
		return Result{}, err
	}
	c, err := e.Campaign(s.CampaignID)
	if err != nil {
		return Result{}, err
	}
	m, err := machine.Resume(c, s.State)
	if err != nil {
		return Result{}, err
	}
	if s.Status != domain.SessionActive {
		m.Leave()
	}

	t, err := run(m, a)
	if err != nil {
		return Result{}, err
	}

	now := e.now()
	s.State = m.Snapshot(now)
	s.UpdatedAt = now.UTC().Format(time.RFC3339)
	s.Status = nextStatus(s.Status, t)
	if err := e.Repo.UpdateSession(ctx, tx, s); err != nil {
		return Result{}, err
	}
	payload := events.EventPayload{
		"operation":  a.Op,
		"from":       t.From,
		"to":         t.To,
		"chapter_id": t.ChapterID,
		"xp_awarded": t.XPAwarded,
		"xp_total":   s.State.XPEarned,
		"status":     s.Status,
	}
	if a.Op == OpMakeChoice {
		payload["choice_id"] = a.ChoiceID
	}
	if t.CheckpointSet {
		payload["checkpoint_set"] = true
	}
	if len(t.AchievementsUnlocked) > 0 {
		payload["achievements_unlocked"] = t.AchievementsUnlocked
	}
	if len(t.Options) > 0 {
		payload["options"] = t.Options
	}
	if err := e.events().Append(ctx, tx, events.TypeTransitionPrefix+string(t.Kind), s.CampaignID, events.EntitySession, s.ID, actorID, payload); err != nil {
		return Result{}, err
	}
	if err := tx.Commit(); err != nil {
		return Result{}, err
	}
	return Result{Session: s, Transition: t}, nil
}

func run(m *machine.Machine, a Action) (domain.Transition, error) {
	switch a.Op {
	case OpRecordOutcome:
		return m.RecordOutcome(a.Success)
	case OpMakeChoice:
		return m.MakeChoice(a.ChoiceID)
	case OpRetryFromFork:
		return m.RetryFromFork()
	case OpRetryFromCheckpoint:
		return m.RetryFromCheckpoint()
	case OpStartOver:
		return m.StartOver()
	case OpLeave:
		return m.Leave(), nil
	default:
		return domain.Transition{}, domain.NewError(domain.CodeInvalidOperation, "unknown operation %q", a.Op)
	}
}

func nextStatus(prev domain.SessionStatus, t domain.Transition) domain.SessionStatus {
	switch t.Kind {
	case domain.TransitionCampaignComplete:
		return domain.SessionCompleted
	case domain.TransitionLeft:
		if prev == domain.SessionActive {
			return domain.SessionEnded
		}
		return prev
	default:
		return domain.SessionActive
	}
}
