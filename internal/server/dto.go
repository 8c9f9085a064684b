package server

import (
	"encoding/json"

	"questline/internal/domain"
	"questline/internal/engine"
)

type CampaignSummary struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	FirstChapter   string `json:"first_chapter"`
	ChapterCount   int    `json:"chapter_count"`
	EncounterCount int    `json:"encounter_count"`
}

// ChoiceResponse carries neither correctness nor target; either would give
// the answer away.
type ChoiceResponse struct {
	ID    string `json:"id"`
	Label string `json:"label,omitempty"`
}

// EncounterResponse hides choice correctness and targets so clients can't
// read the answer off the wire.
type EncounterResponse struct {
	ID            string           `json:"id"`
	ChapterID     string           `json:"chapter_id"`
	Kind          string           `json:"kind" enum:"linear,fork,terminal"`
	Title         string           `json:"title,omitempty"`
	Narrative     string           `json:"narrative,omitempty"`
	Objective     string           `json:"objective,omitempty"`
	Hint          string           `json:"hint,omitempty"`
	Tier          int              `json:"tier"`
	XPReward      int              `json:"xp_reward"`
	IsCheckpoint  bool             `json:"is_checkpoint"`
	NextEncounter string           `json:"next_encounter,omitempty"`
	Choices       []ChoiceResponse `json:"choices,omitempty"`
}

type ChapterResponse struct {
	ID             string              `json:"id"`
	Title          string              `json:"title"`
	FirstEncounter string              `json:"first_encounter"`
	Encounters     []EncounterResponse `json:"encounters"`
}

type CampaignResponse struct {
	CampaignSummary
	Chapters []ChapterResponse `json:"chapters"`
}

type SessionResponse struct {
	domain.Session
	Current EncounterResponse `json:"current"`
}

type TransitionResponse struct {
	Session    SessionResponse   `json:"session"`
	Transition domain.Transition `json:"transition"`
}

type OptionsResponse struct {
	SessionID string                  `json:"session_id"`
	Options   []domain.RecoveryOption `json:"options"`
}

type EventResponse struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts" format:"date-time"`
	Type       string          `json:"type"`
	CampaignID string          `json:"campaign_id,omitempty"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	Payload    json.RawMessage `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type StartSessionRequest struct {
	CampaignID string `json:"campaign_id" minLength:"1"`
}

type OutcomeRequest struct {
	Success bool `json:"success"`
}

type ChoiceRequest struct {
	ChoiceID string `json:"choice_id" minLength:"1"`
}

type DevLoginRequest struct {
	PlayerID string   `json:"player_id"`
	Roles    []string `json:"roles,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

func campaignSummary(c *domain.Campaign) CampaignSummary {
	return CampaignSummary{
		ID:             c.ID(),
		Title:          c.Title(),
		FirstChapter:   c.FirstChapter(),
		ChapterCount:   len(c.Chapters()),
		EncounterCount: c.EncounterCount(),
	}
}

func campaignResponse(c *domain.Campaign) CampaignResponse {
	resp := CampaignResponse{CampaignSummary: campaignSummary(c), Chapters: []ChapterResponse{}}
	for _, ch := range c.Chapters() {
		cr := ChapterResponse{ID: ch.ID, Title: ch.Title, FirstEncounter: ch.FirstEncounter, Encounters: []EncounterResponse{}}
		for _, id := range ch.Encounters {
			enc, _ := c.Encounter(id)
			cr.Encounters = append(cr.Encounters, encounterResponse(enc))
		}
		resp.Chapters = append(resp.Chapters, cr)
	}
	return resp
}

func encounterResponse(enc domain.Encounter) EncounterResponse {
	resp := EncounterResponse{
		ID:           enc.ID,
		ChapterID:    enc.ChapterID,
		Kind:         string(enc.Kind()),
		Title:        enc.Title,
		Narrative:    enc.Narrative,
		Objective:    enc.Objective,
		Hint:         enc.Hint,
		Tier:         enc.Tier,
		XPReward:     enc.XPReward,
		IsCheckpoint: enc.Checkpoint,
	}
	switch p := enc.Payload.(type) {
	case domain.Linear:
		resp.NextEncounter = p.Next
	case domain.Fork:
		for _, ch := range p.Choices {
			resp.Choices = append(resp.Choices, ChoiceResponse{ID: ch.ID, Label: ch.Label})
		}
	}
	return resp
}

func sessionResponse(c *domain.Campaign, s domain.Session) SessionResponse {
	resp := SessionResponse{Session: s}
	if c != nil {
		if enc, ok := c.Encounter(s.State.EncounterID); ok {
			resp.Current = encounterResponse(enc)
		}
	}
	return resp
}

func transitionResponse(c *domain.Campaign, res engine.Result) TransitionResponse {
	t := res.Transition
	if t.Options == nil && t.Kind == domain.TransitionGameOver {
		t.Options = []domain.RecoveryOption{}
	}
	return TransitionResponse{Session: sessionResponse(c, res.Session), Transition: t}
}

func eventResponse(e domain.Event) EventResponse {
	payload := json.RawMessage("{}")
	if e.Payload != "" && json.Valid([]byte(e.Payload)) {
		payload = json.RawMessage(e.Payload)
	}
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		CampaignID: e.CampaignID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    payload,
	}
}
