// Package machine implements the adventure state machine: the transition
// rules that move one player through a validated campaign graph.
//
// Every operation either fails without touching the player state or applies
// its whole effect before returning. Nothing here blocks or performs I/O.
package machine

import (
	"fmt"
	"time"

	"questline/internal/domain"
)

// Machine owns the player state of a single play session. It is not safe for
// concurrent use; hosts run one machine per session.
type Machine struct {
	campaign *domain.Campaign
	state    domain.PlayerState
	inactive bool
}

// New starts a fresh session positioned at the campaign start.
func New(c *domain.Campaign) *Machine {
	return &Machine{campaign: c, state: domain.NewPlayerState(c)}
}

// Resume adopts a previously persisted state. The state must belong to c:
// its position and anchors must resolve in the campaign. A state saved after
// campaign completion resumes inactive.
func Resume(c *domain.Campaign, s domain.PlayerState) (*Machine, error) {
	s = s.Clone()
	s.Normalize()
	if s.CampaignID != c.ID() {
		return nil, domain.NewError(domain.CodeDeserialization, "save belongs to campaign %s, not %s", s.CampaignID, c.ID())
	}
	enc, ok := c.Encounter(s.EncounterID)
	if !ok {
		return nil, domain.NewError(domain.CodeDeserialization, "encounter %s is not part of campaign %s", s.EncounterID, c.ID())
	}
	if s.ChapterID != enc.ChapterID {
		return nil, domain.NewError(domain.CodeDeserialization, "encounter %s belongs to chapter %s, not %s", enc.ID, enc.ChapterID, s.ChapterID)
	}
	if s.XPEarned < 0 {
		return nil, domain.NewError(domain.CodeDeserialization, "negative xp_earned %d", s.XPEarned)
	}
	for name, anchor := range map[string]*string{"last_fork": s.LastFork, "last_checkpoint": s.LastCheckpoint} {
		if anchor != nil && !c.HasEncounter(*anchor) {
			return nil, domain.NewError(domain.CodeDeserialization, "%s %s is not part of campaign %s", name, *anchor, c.ID())
		}
	}
	return &Machine{campaign: c, state: s, inactive: finished(c, s)}, nil
}

// finished reports whether s was saved after the campaign's final terminal
// was completed. Such a state resumes inactive, like the machine that wrote it.
func finished(c *domain.Campaign, s domain.PlayerState) bool {
	enc, _ := c.Encounter(s.EncounterID)
	if _, ok := enc.Payload.(domain.Terminal); !ok {
		return false
	}
	if _, ok := c.NextChapter(enc.ChapterID); ok {
		return false
	}
	n := len(s.CompletedEncounters)
	return n > 0 && s.CompletedEncounters[n-1] == enc.ID
}

func (m *Machine) Campaign() *domain.Campaign { return m.campaign }

// State returns a copy of the current player state.
func (m *Machine) State() domain.PlayerState { return m.state.Clone() }

// Snapshot returns a copy stamped with the save time, ready for persistence.
func (m *Machine) Snapshot(now time.Time) domain.PlayerState {
	s := m.state.Clone()
	s.SavedAt = now.UTC().Format(time.RFC3339)
	m.state.SavedAt = s.SavedAt
	return s
}

// Current returns the encounter the player is positioned at.
func (m *Machine) Current() domain.Encounter {
	enc, _ := m.campaign.Encounter(m.state.EncounterID)
	return enc
}

// Active reports whether the session still accepts play operations.
func (m *Machine) Active() bool { return !m.inactive }

// RecoveryOptions lists the recovery paths open to the player right now.
// It is derived from the anchors on every call and never cached.
func (m *Machine) RecoveryOptions() []domain.RecoveryOption {
	return recoveryOptions(m.state)
}

func recoveryOptions(s domain.PlayerState) []domain.RecoveryOption {
	opts := make([]domain.RecoveryOption, 0, 4)
	if s.LastFork != nil {
		opts = append(opts, domain.RecoverRetryFork)
	}
	if s.LastCheckpoint != nil {
		opts = append(opts, domain.RecoverRetryCheckpoint)
	}
	return append(opts, domain.RecoverStartOver, domain.RecoverLeave)
}

// RecordOutcome applies the result of the current linear or terminal
// encounter. Forks are resolved with MakeChoice.
func (m *Machine) RecordOutcome(success bool) (domain.Transition, error) {
	if err := m.requireActive("record_outcome"); err != nil {
		return domain.Transition{}, err
	}
	cur := m.Current()
	switch p := cur.Payload.(type) {
	case domain.Linear:
		if !success {
			return m.gameOver(), nil
		}
		next, _ := m.campaign.Encounter(p.Next)
		return m.succeed(cur, next, domain.TransitionAdvanced), nil
	case domain.Fork:
		return domain.Transition{}, domain.NewError(domain.CodeInvalidOperation, "encounter %s is a fork; resolve it with a choice", cur.ID)
	case domain.Terminal:
		if !success {
			return m.gameOver(), nil
		}
		if ch, ok := m.campaign.NextChapter(cur.ChapterID); ok {
			next, _ := m.campaign.Encounter(ch.FirstEncounter)
			return m.succeed(cur, next, domain.TransitionChapterComplete), nil
		}
		t := m.succeed(cur, cur, domain.TransitionCampaignComplete)
		m.inactive = true
		return t, nil
	default:
		return domain.Transition{}, fmt.Errorf("encounter %s has unsupported payload %T", cur.ID, p)
	}
}

// MakeChoice resolves the current fork with the player's choice. Both
// correct and incorrect choices record the fork as the retry anchor.
func (m *Machine) MakeChoice(choiceID string) (domain.Transition, error) {
	if err := m.requireActive("make_choice"); err != nil {
		return domain.Transition{}, err
	}
	cur := m.Current()
	fork, ok := cur.Payload.(domain.Fork)
	if !ok {
		return domain.Transition{}, domain.NewError(domain.CodeInvalidOperation, "encounter %s is %s; only forks take a choice", cur.ID, cur.Kind())
	}
	choice, ok := fork.Choice(choiceID)
	if !ok {
		return domain.Transition{}, &domain.Error{
			Code:     domain.CodeUnknownChoice,
			Message:  fmt.Sprintf("fork %s has no choice %q", cur.ID, choiceID),
			Metadata: map[string]string{"encounter_id": cur.ID, "choice_id": choiceID},
		}
	}
	m.state.ChoiceHistory = append(m.state.ChoiceHistory, domain.ChoiceRecord{EncounterID: cur.ID, ChoiceID: choice.ID})
	forkID := cur.ID
	m.state.LastFork = &forkID
	if !choice.Correct {
		return m.gameOver(), nil
	}
	target, _ := m.campaign.Encounter(choice.Target)
	return m.succeed(cur, target, domain.TransitionAdvanced), nil
}

// RetryFromFork rewinds to the most recent fork. History and experience are
// kept, and the fork stays the retry anchor.
func (m *Machine) RetryFromFork() (domain.Transition, error) {
	if err := m.requireActive("retry_from_fork"); err != nil {
		return domain.Transition{}, err
	}
	if m.state.LastFork == nil {
		return domain.Transition{}, domain.NewError(domain.CodeNoForkToRetry, "no fork has been reached")
	}
	return m.jump(*m.state.LastFork, domain.TransitionForkRetried), nil
}

// RetryFromCheckpoint returns to the most recent checkpoint.
func (m *Machine) RetryFromCheckpoint() (domain.Transition, error) {
	if err := m.requireActive("retry_from_checkpoint"); err != nil {
		return domain.Transition{}, err
	}
	if m.state.LastCheckpoint == nil {
		return domain.Transition{}, domain.NewError(domain.CodeNoCheckpoint, "no checkpoint has been reached")
	}
	return m.jump(*m.state.LastCheckpoint, domain.TransitionCheckpointRetried), nil
}

// StartOver moves the player back to the campaign start and forgets the
// fork anchor. Experience, history, achievements and the checkpoint survive.
func (m *Machine) StartOver() (domain.Transition, error) {
	_, start := m.campaign.Start()
	m.state.LastFork = nil
	m.inactive = false
	return m.jump(start, domain.TransitionRestarted), nil
}

// Leave ends the session. Callers persist before leaving if they want to.
func (m *Machine) Leave() domain.Transition {
	m.inactive = true
	return domain.Transition{
		Kind:      domain.TransitionLeft,
		From:      m.state.EncounterID,
		To:        m.state.EncounterID,
		ChapterID: m.state.ChapterID,
	}
}

func (m *Machine) requireActive(op string) error {
	if m.inactive {
		return domain.NewError(domain.CodeInvalidOperation, "%s: session has ended", op)
	}
	return nil
}

func (m *Machine) gameOver() domain.Transition {
	return domain.Transition{
		Kind:      domain.TransitionGameOver,
		From:      m.state.EncounterID,
		To:        m.state.EncounterID,
		ChapterID: m.state.ChapterID,
		Options:   recoveryOptions(m.state),
	}
}

// succeed completes cur, awards its rewards and moves to next. The
// checkpoint anchor is recorded in the same step as the move.
func (m *Machine) succeed(cur, next domain.Encounter, kind domain.TransitionKind) domain.Transition {
	t := domain.Transition{Kind: kind, From: cur.ID, XPAwarded: cur.XPReward}
	m.state.CompletedEncounters = append(m.state.CompletedEncounters, cur.ID)
	m.state.XPEarned += cur.XPReward
	if cur.Achievement != "" && !m.state.HasAchievement(cur.Achievement) {
		m.state.Achievements = append(m.state.Achievements, cur.Achievement)
		t.AchievementsUnlocked = []string{cur.Achievement}
	}
	m.state.EncounterID = next.ID
	m.state.ChapterID = next.ChapterID
	if kind != domain.TransitionCampaignComplete && next.Checkpoint {
		id := next.ID
		m.state.LastCheckpoint = &id
		t.CheckpointSet = true
	}
	t.To = next.ID
	t.ChapterID = next.ChapterID
	return t
}

func (m *Machine) jump(to string, kind domain.TransitionKind) domain.Transition {
	enc, _ := m.campaign.Encounter(to)
	t := domain.Transition{Kind: kind, From: m.state.EncounterID, To: enc.ID, ChapterID: enc.ChapterID}
	m.state.EncounterID = enc.ID
	m.state.ChapterID = enc.ChapterID
	return t
}
