package definition

import (
	"fmt"
	"strings"

	"questline/internal/domain"
)

// validate runs the structural, uniqueness, start and reference checks in
// document order and returns the first failure.
func validate(doc Document) error {
	if strings.TrimSpace(doc.Campaign.ID) == "" {
		return domain.MalformedInput("campaign.id is required")
	}
	chapterIDs := map[string]struct{}{}
	encounterChapter := map[string]string{}
	for i, ch := range doc.Chapters {
		if strings.TrimSpace(ch.ID) == "" {
			return domain.MalformedInput("chapters[%d].id is required", i)
		}
		if _, dup := chapterIDs[ch.ID]; dup {
			return domain.DuplicateIdentifier(ch.ID)
		}
		chapterIDs[ch.ID] = struct{}{}
		for j, ed := range ch.Encounters {
			if err := validateEncounterShape(ch.ID, j, ed); err != nil {
				return err
			}
			if _, dup := encounterChapter[ed.ID]; dup {
				return domain.DuplicateIdentifier(ed.ID)
			}
			encounterChapter[ed.ID] = ch.ID
			choiceIDs := map[string]struct{}{}
			for _, cd := range ed.Choices {
				if _, dup := choiceIDs[cd.ID]; dup {
					return domain.DuplicateIdentifier(ed.ID + "/" + cd.ID)
				}
				choiceIDs[cd.ID] = struct{}{}
			}
		}
	}

	if doc.Campaign.FirstChapter == "" {
		return domain.UnreachableStart("campaign %s has no first_chapter", doc.Campaign.ID)
	}
	if _, ok := chapterIDs[doc.Campaign.FirstChapter]; !ok {
		return domain.UnreachableStart("first_chapter %s is not a chapter of campaign %s", doc.Campaign.FirstChapter, doc.Campaign.ID)
	}
	for _, ch := range doc.Chapters {
		if ch.FirstEncounter == "" {
			return domain.UnreachableStart("chapter %s has no first_encounter", ch.ID)
		}
		if owner, ok := encounterChapter[ch.FirstEncounter]; !ok || owner != ch.ID {
			return domain.UnreachableStart("first_encounter %s is not an encounter of chapter %s", ch.FirstEncounter, ch.ID)
		}
	}

	for _, ch := range doc.Chapters {
		if ch.NextChapter != "" {
			if _, ok := chapterIDs[ch.NextChapter]; !ok {
				return domain.DanglingReference(ch.ID, ch.NextChapter)
			}
		}
		for _, ed := range ch.Encounters {
			if ed.NextEncounter != "" {
				if _, ok := encounterChapter[ed.NextEncounter]; !ok {
					return domain.DanglingReference(ed.ID, ed.NextEncounter)
				}
			}
			for _, cd := range ed.Choices {
				if _, ok := encounterChapter[cd.LeadsTo]; !ok {
					return domain.DanglingReference(ed.ID, cd.LeadsTo)
				}
			}
		}
	}
	return nil
}

func validateEncounterShape(chapterID string, idx int, ed EncounterDoc) error {
	where := fmt.Sprintf("chapter %s encounters[%d]", chapterID, idx)
	if strings.TrimSpace(ed.ID) == "" {
		return domain.MalformedInput("%s: id is required", where)
	}
	if ed.Tier != 0 && (ed.Tier < domain.MinTier || ed.Tier > domain.MaxTier) {
		return domain.MalformedInput("encounter %s: tier %d outside %d..%d", ed.ID, ed.Tier, domain.MinTier, domain.MaxTier)
	}
	if ed.XPReward < 0 {
		return domain.MalformedInput("encounter %s: xp_reward must not be negative", ed.ID)
	}
	switch domain.EncounterKind(ed.Kind) {
	case domain.KindLinear:
		if ed.NextEncounter == "" {
			return domain.MalformedInput("encounter %s: linear encounter requires next_encounter", ed.ID)
		}
		if len(ed.Choices) > 0 {
			return domain.MalformedInput("encounter %s: linear encounter cannot have choices", ed.ID)
		}
	case domain.KindFork:
		if len(ed.Choices) == 0 {
			return domain.MalformedInput("encounter %s: fork encounter requires choices", ed.ID)
		}
		if ed.NextEncounter != "" {
			return domain.MalformedInput("encounter %s: fork encounter cannot have next_encounter", ed.ID)
		}
		for k, cd := range ed.Choices {
			if strings.TrimSpace(cd.ID) == "" {
				return domain.MalformedInput("encounter %s: choices[%d].id is required", ed.ID, k)
			}
			if cd.LeadsTo == "" {
				return domain.MalformedInput("encounter %s: choice %s requires leads_to", ed.ID, cd.ID)
			}
		}
	case domain.KindTerminal:
		if ed.NextEncounter != "" || len(ed.Choices) > 0 {
			return domain.MalformedInput("encounter %s: terminal encounter cannot have next_encounter or choices", ed.ID)
		}
	case "":
		return domain.MalformedInput("encounter %s: kind is required", ed.ID)
	default:
		return domain.MalformedInput("encounter %s: unknown kind %q", ed.ID, ed.Kind)
	}
	return nil
}

// analyze reports authoring problems that do not prevent play.
func analyze(c *domain.Campaign) []Warning {
	var warnings []Warning
	var order []string
	for _, ch := range c.Chapters() {
		order = append(order, ch.Encounters...)
	}

	// Cycles made only of linear edges never reach a fork or terminal.
	const (
		unvisited = iota
		walking
		done
	)
	state := make(map[string]int, len(order))
	for _, id := range order {
		var path []string
		cur := id
		for {
			enc, _ := c.Encounter(cur)
			lin, ok := enc.Payload.(domain.Linear)
			if !ok || state[cur] != unvisited {
				if ok && state[cur] == walking {
					start := indexOf(path, cur)
					cycle := append(append([]string{}, path[start:]...), cur)
					warnings = append(warnings, Warning{
						CampaignID: c.ID(),
						Kind:       WarnLinearCycle,
						Subject:    cur,
						Message:    "linear cycle " + strings.Join(cycle, " -> "),
					})
				}
				break
			}
			state[cur] = walking
			path = append(path, cur)
			cur = lin.Next
		}
		for _, p := range path {
			state[p] = done
		}
	}

	for _, id := range order {
		enc, _ := c.Encounter(id)
		fork, ok := enc.Payload.(domain.Fork)
		if !ok {
			continue
		}
		correct := false
		for _, ch := range fork.Choices {
			correct = correct || ch.Correct
		}
		if !correct {
			warnings = append(warnings, Warning{
				CampaignID: c.ID(),
				Kind:       WarnNoCorrectChoice,
				Subject:    id,
				Message:    fmt.Sprintf("fork %s has no correct choice", id),
			})
		}
	}

	reached := reachable(c)
	for _, id := range order {
		if !reached[id] {
			warnings = append(warnings, Warning{
				CampaignID: c.ID(),
				Kind:       WarnUnreachable,
				Subject:    id,
				Message:    fmt.Sprintf("encounter %s is unreachable from the campaign start", id),
			})
		}
	}
	return warnings
}

func reachable(c *domain.Campaign) map[string]bool {
	_, start := c.Start()
	seen := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		enc, _ := c.Encounter(cur)
		var next []string
		switch p := enc.Payload.(type) {
		case domain.Linear:
			next = append(next, p.Next)
		case domain.Fork:
			for _, ch := range p.Choices {
				next = append(next, ch.Target)
			}
		case domain.Terminal:
			if ch, ok := c.NextChapter(enc.ChapterID); ok {
				next = append(next, ch.FirstEncounter)
			}
		}
		for _, n := range next {
			if !seen[n] {
				seen[n] = true
				queue = append(queue, n)
			}
		}
	}
	return seen
}

func indexOf(items []string, v string) int {
	for i, it := range items {
		if it == v {
			return i
		}
	}
	return 0
}
