// Package definition parses campaign documents and checks their referential
// integrity. A campaign returned from this package is complete: every start,
// next and choice target resolves, so the state machine never re-validates.
package definition

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"questline/internal/domain"
)

// Document models a campaign YAML file.
type Document struct {
	Campaign struct {
		ID           string `yaml:"id"`
		Title        string `yaml:"title"`
		FirstChapter string `yaml:"first_chapter"`
	} `yaml:"campaign"`
	Chapters []ChapterDoc `yaml:"chapters"`
}

type ChapterDoc struct {
	ID             string         `yaml:"id"`
	Title          string         `yaml:"title"`
	FirstEncounter string         `yaml:"first_encounter"`
	NextChapter    string         `yaml:"next_chapter"`
	Encounters     []EncounterDoc `yaml:"encounters"`
}

type EncounterDoc struct {
	ID            string      `yaml:"id"`
	Kind          string      `yaml:"kind"`
	Tier          int         `yaml:"tier"`
	XPReward      int         `yaml:"xp_reward"`
	IsCheckpoint  bool        `yaml:"is_checkpoint"`
	Title         string      `yaml:"title"`
	Narrative     string      `yaml:"narrative"`
	Objective     string      `yaml:"objective"`
	Hint          string      `yaml:"hint"`
	Achievement   string      `yaml:"achievement"`
	NextEncounter string      `yaml:"next_encounter"`
	Choices       []ChoiceDoc `yaml:"choices"`
}

type ChoiceDoc struct {
	ID        string `yaml:"id"`
	Label     string `yaml:"label"`
	LeadsTo   string `yaml:"leads_to"`
	IsCorrect bool   `yaml:"is_correct"`
}

type WarningKind string

const (
	WarnLinearCycle     WarningKind = "linear_cycle"
	WarnNoCorrectChoice WarningKind = "no_correct_choice"
	WarnUnreachable     WarningKind = "unreachable_encounter"
)

// Warning is a non-fatal authoring problem.
type Warning struct {
	CampaignID string      `json:"campaign_id"`
	Kind       WarningKind `json:"kind"`
	Subject    string      `json:"subject"`
	Message    string      `json:"message"`
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s: %s", w.CampaignID, w.Kind, w.Message)
}

// Load decodes and validates a campaign from r.
func Load(r io.Reader) (*domain.Campaign, []Warning, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, domain.WrapError(domain.CodeMalformedInput, err, "read campaign source")
	}
	return FromYAML(data)
}

// FromYAML decodes and validates a campaign from raw YAML bytes.
func FromYAML(data []byte) (*domain.Campaign, []Warning, error) {
	doc, err := Decode(data)
	if err != nil {
		return nil, nil, err
	}
	return Build(doc)
}

// FromFile reads a campaign definition from path.
func FromFile(path string) (*domain.Campaign, []Warning, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	c, warnings, err := FromYAML(data)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, warnings, nil
}

// LoadDir loads every *.yaml / *.yml file in dir, keyed by campaign id.
func LoadDir(dir string) (map[string]*domain.Campaign, []Warning, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	campaigns := make(map[string]*domain.Campaign, len(names))
	var warnings []Warning
	for _, name := range names {
		path := filepath.Join(dir, name)
		c, w, err := FromFile(path)
		if err != nil {
			return nil, nil, err
		}
		if _, dup := campaigns[c.ID()]; dup {
			return nil, nil, fmt.Errorf("%s: %w", path, domain.DuplicateIdentifier(c.ID()))
		}
		campaigns[c.ID()] = c
		warnings = append(warnings, w...)
	}
	return campaigns, warnings, nil
}

// Decode parses YAML strictly: unknown keys are rejected.
func Decode(data []byte) (Document, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return doc, domain.MalformedInput("empty campaign definition")
		}
		return doc, domain.WrapError(domain.CodeMalformedInput, err, "invalid campaign yaml")
	}
	return doc, nil
}

// Build validates a decoded document and produces the immutable campaign.
func Build(doc Document) (*domain.Campaign, []Warning, error) {
	if err := validate(doc); err != nil {
		return nil, nil, err
	}
	chapters := make([]domain.Chapter, 0, len(doc.Chapters))
	var encounters []domain.Encounter
	for _, ch := range doc.Chapters {
		ids := make([]string, 0, len(ch.Encounters))
		for _, ed := range ch.Encounters {
			ids = append(ids, ed.ID)
			encounters = append(encounters, toEncounter(ch.ID, ed))
		}
		chapters = append(chapters, domain.Chapter{
			ID:             ch.ID,
			Title:          ch.Title,
			FirstEncounter: ch.FirstEncounter,
			NextChapter:    ch.NextChapter,
			Encounters:     ids,
		})
	}
	c := domain.NewCampaign(doc.Campaign.ID, doc.Campaign.Title, doc.Campaign.FirstChapter, chapters, encounters)
	return c, analyze(c), nil
}

func toEncounter(chapterID string, ed EncounterDoc) domain.Encounter {
	tier := ed.Tier
	if tier == 0 {
		tier = domain.MinTier
	}
	enc := domain.Encounter{
		ID:          ed.ID,
		ChapterID:   chapterID,
		Title:       ed.Title,
		Narrative:   ed.Narrative,
		Objective:   ed.Objective,
		Hint:        ed.Hint,
		Tier:        tier,
		XPReward:    ed.XPReward,
		Checkpoint:  ed.IsCheckpoint,
		Achievement: ed.Achievement,
	}
	switch domain.EncounterKind(ed.Kind) {
	case domain.KindLinear:
		enc.Payload = domain.Linear{Next: ed.NextEncounter}
	case domain.KindFork:
		choices := make([]domain.Choice, 0, len(ed.Choices))
		for _, cd := range ed.Choices {
			choices = append(choices, domain.Choice{ID: cd.ID, Label: cd.Label, Target: cd.LeadsTo, Correct: cd.IsCorrect})
		}
		enc.Payload = domain.Fork{Choices: choices}
	case domain.KindTerminal:
		enc.Payload = domain.Terminal{}
	}
	return enc
}
