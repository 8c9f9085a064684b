package definition_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"questline/internal/definition"
	"questline/internal/domain"
)

const twoStep = `
campaign:
  id: tiny
  title: Tiny
  first_chapter: one
chapters:
  - id: one
    first_encounter: A
    encounters:
      - id: A
        kind: linear
        xp_reward: 5
        next_encounter: B
      - id: B
        kind: terminal
        xp_reward: 10
`

func TestLoadValidCampaign(t *testing.T) {
	c, warnings, err := definition.FromYAML([]byte(twoStep))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if c.ID() != "tiny" || c.EncounterCount() != 2 {
		t.Fatalf("unexpected campaign %s with %d encounters", c.ID(), c.EncounterCount())
	}
	ch, enc := c.Start()
	if ch != "one" || enc != "A" {
		t.Fatalf("start = %s/%s", ch, enc)
	}
	a, _ := c.Encounter("A")
	if a.Tier != domain.MinTier {
		t.Fatalf("tier should default to %d, got %d", domain.MinTier, a.Tier)
	}
	if lin, ok := a.Payload.(domain.Linear); !ok || lin.Next != "B" {
		t.Fatalf("payload = %#v", a.Payload)
	}
}

func TestDanglingNextEncounter(t *testing.T) {
	src := `
campaign: {id: broken, first_chapter: one}
chapters:
  - id: one
    first_encounter: X
    encounters:
      - {id: X, kind: linear, next_encounter: "Y"}
`
	c, _, err := definition.FromYAML([]byte(src))
	if c != nil {
		t.Fatalf("campaign returned alongside error")
	}
	if !errors.Is(err, domain.ErrDanglingReference) {
		t.Fatalf("expected dangling reference, got %v", err)
	}
	md := domain.MetadataOf(err)
	if md["from"] != "X" || md["to"] != "Y" {
		t.Fatalf("metadata = %v", md)
	}
}

func TestValidationFailures(t *testing.T) {
	cases := []struct {
		name string
		src  string
		want *domain.Error
	}{
		{"empty", ``, domain.ErrMalformedInput},
		{"unknown field", `campaign: {id: a, first_chapter: c, colour: red}`, domain.ErrMalformedInput},
		{"missing id", `campaign: {first_chapter: c}`, domain.ErrMalformedInput},
		{"bad kind", `
campaign: {id: a, first_chapter: c}
chapters:
  - id: c
    first_encounter: e
    encounters:
      - {id: e, kind: portal}
`, domain.ErrMalformedInput},
		{"fork without choices", `
campaign: {id: a, first_chapter: c}
chapters:
  - id: c
    first_encounter: e
    encounters:
      - {id: e, kind: fork}
`, domain.ErrMalformedInput},
		{"tier out of range", `
campaign: {id: a, first_chapter: c}
chapters:
  - id: c
    first_encounter: e
    encounters:
      - {id: e, kind: terminal, tier: 9}
`, domain.ErrMalformedInput},
		{"duplicate encounter", `
campaign: {id: a, first_chapter: c}
chapters:
  - id: c
    first_encounter: e
    encounters:
      - {id: e, kind: terminal}
  - id: d
    first_encounter: e
    encounters:
      - {id: e, kind: terminal}
`, domain.ErrDuplicateIdentifier},
		{"duplicate choice", `
campaign: {id: a, first_chapter: c}
chapters:
  - id: c
    first_encounter: f
    encounters:
      - id: f
        kind: fork
        choices:
          - {id: x, leads_to: t, is_correct: true}
          - {id: x, leads_to: t}
      - {id: t, kind: terminal}
`, domain.ErrDuplicateIdentifier},
		{"unknown first chapter", `
campaign: {id: a, first_chapter: nope}
chapters:
  - id: c
    first_encounter: e
    encounters:
      - {id: e, kind: terminal}
`, domain.ErrUnreachableStart},
		{"first encounter in other chapter", `
campaign: {id: a, first_chapter: c}
chapters:
  - id: c
    first_encounter: other
    encounters:
      - {id: e, kind: terminal}
  - id: d
    first_encounter: other
    encounters:
      - {id: other, kind: terminal}
`, domain.ErrUnreachableStart},
		{"dangling choice", `
campaign: {id: a, first_chapter: c}
chapters:
  - id: c
    first_encounter: f
    encounters:
      - id: f
        kind: fork
        choices:
          - {id: x, leads_to: void, is_correct: true}
`, domain.ErrDanglingReference},
		{"dangling next chapter", `
campaign: {id: a, first_chapter: c}
chapters:
  - id: c
    first_encounter: e
    next_chapter: epilogue
    encounters:
      - {id: e, kind: terminal}
`, domain.ErrDanglingReference},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, _, err := definition.FromYAML([]byte(tc.src))
			if err == nil || c != nil {
				t.Fatalf("expected error, got campaign %v", c)
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %s, got %v", tc.want.Code, err)
			}
		})
	}
}

func TestWarnings(t *testing.T) {
	src := `
campaign: {id: warn, first_chapter: c}
chapters:
  - id: c
    first_encounter: f
    encounters:
      - id: f
        kind: fork
        choices:
          - {id: a, leads_to: end}
      - {id: end, kind: terminal}
      - {id: loop1, kind: linear, next_encounter: loop2}
      - {id: loop2, kind: linear, next_encounter: loop1}
`
	_, warnings, err := definition.FromYAML([]byte(src))
	if err != nil {
		t.Fatalf("warnings must not fail the load: %v", err)
	}
	kinds := map[definition.WarningKind]int{}
	for _, w := range warnings {
		kinds[w.Kind]++
	}
	if kinds[definition.WarnLinearCycle] != 1 {
		t.Fatalf("expected one cycle warning, got %v", warnings)
	}
	if kinds[definition.WarnNoCorrectChoice] != 1 {
		t.Fatalf("expected no-correct-choice warning, got %v", warnings)
	}
	if kinds[definition.WarnUnreachable] != 2 {
		t.Fatalf("expected two unreachable warnings, got %v", warnings)
	}
}

func TestNextChapterOrder(t *testing.T) {
	src := `
campaign: {id: order, first_chapter: a}
chapters:
  - id: a
    first_encounter: a1
    next_chapter: c
    encounters:
      - {id: a1, kind: terminal}
  - id: b
    first_encounter: b1
    encounters:
      - {id: b1, kind: terminal}
  - id: c
    first_encounter: c1
    encounters:
      - {id: c1, kind: terminal}
`
	c, _, err := definition.FromYAML([]byte(src))
	if err != nil {
		t.Fatal(err)
	}
	if next, ok := c.NextChapter("a"); !ok || next.ID != "c" {
		t.Fatalf("explicit next_chapter ignored: %v", next.ID)
	}
	if next, ok := c.NextChapter("b"); !ok || next.ID != "c" {
		t.Fatalf("document order fallback: %v", next.ID)
	}
	if _, ok := c.NextChapter("c"); ok {
		t.Fatalf("last chapter should have no successor")
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "tiny.yaml"), []byte(twoStep), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}
	campaigns, _, err := definition.LoadDir(dir)
	if err != nil {
		t.Fatalf("load dir: %v", err)
	}
	if len(campaigns) != 1 || campaigns["tiny"] == nil {
		t.Fatalf("campaigns = %v", campaigns)
	}

	if err := os.WriteFile(filepath.Join(dir, "tiny-copy.yml"), []byte(twoStep), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := definition.LoadDir(dir); !errors.Is(err, domain.ErrDuplicateIdentifier) {
		t.Fatalf("expected duplicate campaign id, got %v", err)
	}
}
