package domain

type EncounterKind string

const (
	KindLinear   EncounterKind = "linear"
	KindFork     EncounterKind = "fork"
	KindTerminal EncounterKind = "terminal"
)

const (
	MinTier = 1
	MaxTier = 5
)

// Payload is the kind-specific part of an encounter. It is sealed: only
// Linear, Fork and Terminal implement it.
type Payload interface {
	Kind() EncounterKind
	sealed()
}

type Linear struct {
	Next string
}

type Fork struct {
	Choices []Choice
}

type Terminal struct{}

func (Linear) Kind() EncounterKind   { return KindLinear }
func (Fork) Kind() EncounterKind     { return KindFork }
func (Terminal) Kind() EncounterKind { return KindTerminal }
func (Linear) sealed()               {}
func (Fork) sealed()                 {}
func (Terminal) sealed()             {}

// Choice looks up a choice by id.
func (f Fork) Choice(id string) (Choice, bool) {
	for _, c := range f.Choices {
		if c.ID == id {
			return c, true
		}
	}
	return Choice{}, false
}

type Choice struct {
	ID      string `json:"id"`
	Label   string `json:"label,omitempty"`
	Target  string `json:"leads_to"`
	Correct bool   `json:"is_correct"`
}

type Encounter struct {
	ID          string
	ChapterID   string
	Title       string
	Narrative   string
	Objective   string
	Hint        string
	Tier        int
	XPReward    int
	Checkpoint  bool
	Achievement string
	Payload     Payload
}

func (e Encounter) Kind() EncounterKind {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.Kind()
}

type Chapter struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	FirstEncounter string   `json:"first_encounter"`
	NextChapter    string   `json:"next_chapter,omitempty"`
	Encounters     []string `json:"encounters"`
}

// Campaign is an immutable, validated encounter graph. Build it with
// NewCampaign after validation; it is safe for concurrent readers.
type Campaign struct {
	id           string
	title        string
	firstChapter string
	chapters     []Chapter
	chapterIndex map[string]int
	encounters   map[string]Encounter
}

// NewCampaign indexes chapters and encounters. It assumes the caller has
// already checked referential integrity.
func NewCampaign(id, title, firstChapter string, chapters []Chapter, encounters []Encounter) *Campaign {
	c := &Campaign{
		id:           id,
		title:        title,
		firstChapter: firstChapter,
		chapters:     make([]Chapter, len(chapters)),
		chapterIndex: make(map[string]int, len(chapters)),
		encounters:   make(map[string]Encounter, len(encounters)),
	}
	for i, ch := range chapters {
		ch.Encounters = append([]string(nil), ch.Encounters...)
		c.chapters[i] = ch
		c.chapterIndex[ch.ID] = i
	}
	for _, enc := range encounters {
		if f, ok := enc.Payload.(Fork); ok {
			enc.Payload = Fork{Choices: append([]Choice(nil), f.Choices...)}
		}
		c.encounters[enc.ID] = enc
	}
	return c
}

func (c *Campaign) ID() string           { return c.id }
func (c *Campaign) Title() string        { return c.title }
func (c *Campaign) FirstChapter() string { return c.firstChapter }

// Chapters returns the chapters in document order.
func (c *Campaign) Chapters() []Chapter {
	out := make([]Chapter, len(c.chapters))
	for i, ch := range c.chapters {
		ch.Encounters = append([]string(nil), ch.Encounters...)
		out[i] = ch
	}
	return out
}

func (c *Campaign) Chapter(id string) (Chapter, bool) {
	i, ok := c.chapterIndex[id]
	if !ok {
		return Chapter{}, false
	}
	ch := c.chapters[i]
	ch.Encounters = append([]string(nil), ch.Encounters...)
	return ch, true
}

// NextChapter returns the chapter played after id: its explicit next_chapter
// when set, otherwise the following chapter in document order.
func (c *Campaign) NextChapter(id string) (Chapter, bool) {
	i, ok := c.chapterIndex[id]
	if !ok {
		return Chapter{}, false
	}
	if next := c.chapters[i].NextChapter; next != "" {
		return c.Chapter(next)
	}
	if i+1 >= len(c.chapters) {
		return Chapter{}, false
	}
	return c.Chapter(c.chapters[i+1].ID)
}

func (c *Campaign) Encounter(id string) (Encounter, bool) {
	enc, ok := c.encounters[id]
	if !ok {
		return Encounter{}, false
	}
	if f, ok := enc.Payload.(Fork); ok {
		enc.Payload = Fork{Choices: append([]Choice(nil), f.Choices...)}
	}
	return enc, true
}

func (c *Campaign) HasEncounter(id string) bool {
	_, ok := c.encounters[id]
	return ok
}

func (c *Campaign) EncounterCount() int { return len(c.encounters) }

// Start is the first encounter of the first chapter.
func (c *Campaign) Start() (chapterID, encounterID string) {
	ch, _ := c.Chapter(c.firstChapter)
	return ch.ID, ch.FirstEncounter
}

type ChoiceRecord struct {
	EncounterID string `json:"encounter_id" yaml:"encounter_id"`
	ChoiceID    string `json:"choice_id" yaml:"choice_id"`
}

// PlayerState is the persisted progress record of one player in one campaign.
type PlayerState struct {
	CampaignID          string         `json:"campaign_id" yaml:"campaign_id"`
	ChapterID           string         `json:"chapter_id" yaml:"chapter_id"`
	EncounterID         string         `json:"encounter_id" yaml:"encounter_id"`
	XPEarned            int            `json:"xp_earned" yaml:"xp_earned"`
	CompletedEncounters []string       `json:"completed_encounters" yaml:"completed_encounters"`
	LastFork            *string        `json:"last_fork" yaml:"last_fork"`
	LastCheckpoint      *string        `json:"last_checkpoint" yaml:"last_checkpoint"`
	ChoiceHistory       []ChoiceRecord `json:"choice_history" yaml:"choice_history"`
	Achievements        []string       `json:"achievements" yaml:"achievements"`
	SavedAt             string         `json:"saved_at" yaml:"saved_at" format:"date-time"`
}

// NewPlayerState positions a fresh player at the campaign start.
func NewPlayerState(c *Campaign) PlayerState {
	chapterID, encounterID := c.Start()
	return PlayerState{
		CampaignID:          c.ID(),
		ChapterID:           chapterID,
		EncounterID:         encounterID,
		CompletedEncounters: []string{},
		ChoiceHistory:       []ChoiceRecord{},
		Achievements:        []string{},
	}
}

// Clone returns a deep copy.
func (s PlayerState) Clone() PlayerState {
	out := s
	out.CompletedEncounters = append([]string{}, s.CompletedEncounters...)
	out.ChoiceHistory = append([]ChoiceRecord{}, s.ChoiceHistory...)
	out.Achievements = append([]string{}, s.Achievements...)
	out.LastFork = cloneString(s.LastFork)
	out.LastCheckpoint = cloneString(s.LastCheckpoint)
	return out
}

// Normalize replaces nil sequences with empty ones so a record read from an
// older or hand-written save behaves like a fresh one.
func (s *PlayerState) Normalize() {
	if s.CompletedEncounters == nil {
		s.CompletedEncounters = []string{}
	}
	if s.ChoiceHistory == nil {
		s.ChoiceHistory = []ChoiceRecord{}
	}
	if s.Achievements == nil {
		s.Achievements = []string{}
	}
}

func (s PlayerState) HasAchievement(id string) bool {
	for _, a := range s.Achievements {
		if a == id {
			return true
		}
	}
	return false
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

type RecoveryOption string

const (
	RecoverRetryFork       RecoveryOption = "retry_fork"
	RecoverRetryCheckpoint RecoveryOption = "retry_checkpoint"
	RecoverStartOver       RecoveryOption = "start_over"
	RecoverLeave           RecoveryOption = "leave"
)

type TransitionKind string

const (
	TransitionAdvanced          TransitionKind = "advanced"
	TransitionGameOver          TransitionKind = "game_over"
	TransitionChapterComplete   TransitionKind = "chapter_complete"
	TransitionCampaignComplete  TransitionKind = "campaign_complete"
	TransitionForkRetried       TransitionKind = "fork_retried"
	TransitionCheckpointRetried TransitionKind = "checkpoint_retried"
	TransitionRestarted         TransitionKind = "restarted"
	TransitionLeft              TransitionKind = "left"
)

type Transition struct {
	Kind                 TransitionKind   `json:"kind" enum:"advanced,game_over,chapter_complete,campaign_complete,fork_retried,checkpoint_retried,restarted,left"`
	From                 string           `json:"from"`
	To                   string           `json:"to"`
	ChapterID            string           `json:"chapter_id"`
	XPAwarded            int              `json:"xp_awarded"`
	CheckpointSet        bool             `json:"checkpoint_set"`
	AchievementsUnlocked []string         `json:"achievements_unlocked,omitempty"`
	Options              []RecoveryOption `json:"options,omitempty"`
}

type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionEnded     SessionStatus = "ended"
	SessionCompleted SessionStatus = "completed"
)

// Session is a hosted play session.
type Session struct {
	ID         string        `json:"id"`
	CampaignID string        `json:"campaign_id"`
	PlayerID   string        `json:"player_id"`
	Status     SessionStatus `json:"status" enum:"active,ended,completed"`
	State      PlayerState   `json:"state"`
	CreatedAt  string        `json:"created_at" format:"date-time"`
	UpdatedAt  string        `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	CampaignID string `json:"campaign_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
