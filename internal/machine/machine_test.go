package machine_test

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"questline/internal/definition"
	"questline/internal/domain"
	"questline/internal/machine"
)

func loadKeep(t *testing.T) *domain.Campaign {
	t.Helper()
	c, _, err := definition.FromFile("testdata/ember_keep.yaml")
	if err != nil {
		t.Fatalf("load campaign: %v", err)
	}
	return c
}

func mustTransition(t *testing.T, tr domain.Transition, err error, want domain.TransitionKind) domain.Transition {
	t.Helper()
	if err != nil {
		t.Fatalf("expected %s, got error %v", want, err)
	}
	if tr.Kind != want {
		t.Fatalf("expected %s, got %s", want, tr.Kind)
	}
	return tr
}

func stateJSON(t *testing.T, m *machine.Machine) string {
	t.Helper()
	b, err := json.Marshal(m.State())
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

// playToStair drives a fresh machine through intro, crossroads and camp.
func playToStair(t *testing.T, m *machine.Machine) {
	t.Helper()
	tr, err := m.RecordOutcome(true)
	mustTransition(t, tr, err, domain.TransitionAdvanced)
	tr, err = m.MakeChoice("bridge")
	mustTransition(t, tr, err, domain.TransitionAdvanced)
	tr, err = m.RecordOutcome(true)
	mustTransition(t, tr, err, domain.TransitionAdvanced)
	if got := m.Current().ID; got != "stair" {
		t.Fatalf("expected stair, got %s", got)
	}
}

func TestNewStartsAtCampaignStart(t *testing.T) {
	m := machine.New(loadKeep(t))
	s := m.State()
	if s.CampaignID != "ember-keep" || s.ChapterID != "gate" || s.EncounterID != "intro" {
		t.Fatalf("unexpected start %+v", s)
	}
	if s.LastFork != nil || s.LastCheckpoint != nil || s.XPEarned != 0 {
		t.Fatalf("fresh state carries progress: %+v", s)
	}
	if !m.Active() {
		t.Fatalf("fresh machine should be active")
	}
}

func TestLinearSuccessAndFailure(t *testing.T) {
	m := machine.New(loadKeep(t))
	before := stateJSON(t, m)
	tr, err := m.RecordOutcome(false)
	tr = mustTransition(t, tr, err, domain.TransitionGameOver)
	if stateJSON(t, m) != before {
		t.Fatalf("failed outcome changed state")
	}
	want := []domain.RecoveryOption{domain.RecoverStartOver, domain.RecoverLeave}
	if !reflect.DeepEqual(tr.Options, want) {
		t.Fatalf("options = %v, want %v", tr.Options, want)
	}

	tr, err = m.RecordOutcome(true)
	tr = mustTransition(t, tr, err, domain.TransitionAdvanced)
	if tr.From != "intro" || tr.To != "crossroads" || tr.XPAwarded != 10 {
		t.Fatalf("unexpected transition %+v", tr)
	}
	s := m.State()
	if s.XPEarned != 10 || !reflect.DeepEqual(s.CompletedEncounters, []string{"intro"}) {
		t.Fatalf("unexpected state %+v", s)
	}
}

func TestWrongChoiceThenRetryFork(t *testing.T) {
	m := machine.New(loadKeep(t))
	if _, err := m.RecordOutcome(true); err != nil {
		t.Fatal(err)
	}
	before := m.State()

	tr, err := m.MakeChoice("river")
	tr = mustTransition(t, tr, err, domain.TransitionGameOver)
	want := []domain.RecoveryOption{domain.RecoverRetryFork, domain.RecoverStartOver, domain.RecoverLeave}
	if !reflect.DeepEqual(tr.Options, want) {
		t.Fatalf("options = %v, want %v", tr.Options, want)
	}
	s := m.State()
	if s.LastFork == nil || *s.LastFork != "crossroads" {
		t.Fatalf("last_fork = %v", s.LastFork)
	}
	if got := s.ChoiceHistory; len(got) != 1 || got[0] != (domain.ChoiceRecord{EncounterID: "crossroads", ChoiceID: "river"}) {
		t.Fatalf("choice history = %+v", got)
	}

	tr, err = m.RetryFromFork()
	mustTransition(t, tr, err, domain.TransitionForkRetried)
	s = m.State()
	if s.EncounterID != "crossroads" || s.LastFork == nil || *s.LastFork != "crossroads" {
		t.Fatalf("retry landed at %s, last_fork %v", s.EncounterID, s.LastFork)
	}
	if s.XPEarned != before.XPEarned || !reflect.DeepEqual(s.CompletedEncounters, before.CompletedEncounters) {
		t.Fatalf("retry changed progress: before %+v after %+v", before, s)
	}
}

func TestCheckpointAndForkRecoveryAreIndependent(t *testing.T) {
	m := machine.New(loadKeep(t))
	playToStair(t, m)
	s := m.State()
	if s.LastCheckpoint == nil || *s.LastCheckpoint != "camp" {
		t.Fatalf("checkpoint not recorded: %v", s.LastCheckpoint)
	}
	if !s.HasAchievement("first-camp") {
		t.Fatalf("achievement missing: %v", s.Achievements)
	}

	tr, err := m.MakeChoice("down")
	tr = mustTransition(t, tr, err, domain.TransitionGameOver)
	want := []domain.RecoveryOption{
		domain.RecoverRetryFork, domain.RecoverRetryCheckpoint, domain.RecoverStartOver, domain.RecoverLeave,
	}
	if !reflect.DeepEqual(tr.Options, want) {
		t.Fatalf("options = %v, want %v", tr.Options, want)
	}

	tr, err = m.RetryFromCheckpoint()
	tr = mustTransition(t, tr, err, domain.TransitionCheckpointRetried)
	if tr.To != "camp" || m.Current().ID != "camp" {
		t.Fatalf("checkpoint retry landed at %s", m.Current().ID)
	}
	if got := m.State().LastFork; got == nil || *got != "stair" {
		t.Fatalf("checkpoint retry should keep last_fork, got %v", got)
	}

	tr, err = m.RetryFromFork()
	mustTransition(t, tr, err, domain.TransitionForkRetried)
	if m.Current().ID != "stair" {
		t.Fatalf("fork retry landed at %s", m.Current().ID)
	}
}

func TestChapterAndCampaignCompletion(t *testing.T) {
	m := machine.New(loadKeep(t))
	playToStair(t, m)
	if _, err := m.MakeChoice("up"); err != nil {
		t.Fatal(err)
	}
	tr, err := m.RecordOutcome(true)
	tr = mustTransition(t, tr, err, domain.TransitionChapterComplete)
	if tr.To != "throne" || tr.ChapterID != "hall" {
		t.Fatalf("unexpected chapter transition %+v", tr)
	}

	tr, err = m.RecordOutcome(true)
	tr = mustTransition(t, tr, err, domain.TransitionCampaignComplete)
	if !reflect.DeepEqual(tr.AchievementsUnlocked, []string{"keep-cleared"}) {
		t.Fatalf("achievements unlocked = %v", tr.AchievementsUnlocked)
	}
	s := m.State()
	if s.XPEarned != 10+20+5+15+50+100 {
		t.Fatalf("xp = %d", s.XPEarned)
	}
	if m.Active() {
		t.Fatalf("completed campaign should end the session")
	}
	if _, err := m.RecordOutcome(true); !errors.Is(err, domain.ErrInvalidOperation) {
		t.Fatalf("expected invalid operation after completion, got %v", err)
	}
}

func TestOperationErrorsLeaveStateUntouched(t *testing.T) {
	m := machine.New(loadKeep(t))
	before := stateJSON(t, m)

	if _, err := m.MakeChoice("bridge"); !errors.Is(err, domain.ErrInvalidOperation) {
		t.Fatalf("make_choice on linear: %v", err)
	}
	if _, err := m.RetryFromFork(); !errors.Is(err, domain.ErrNoForkToRetry) {
		t.Fatalf("retry fork: %v", err)
	}
	if _, err := m.RetryFromCheckpoint(); !errors.Is(err, domain.ErrNoCheckpoint) {
		t.Fatalf("retry checkpoint: %v", err)
	}
	if stateJSON(t, m) != before {
		t.Fatalf("state changed on failed operations")
	}

	if _, err := m.RecordOutcome(true); err != nil {
		t.Fatal(err)
	}
	before = stateJSON(t, m)
	if _, err := m.RecordOutcome(true); !errors.Is(err, domain.ErrInvalidOperation) {
		t.Fatalf("record_outcome on fork: %v", err)
	}
	_, err := m.MakeChoice("teleport")
	if !errors.Is(err, domain.ErrUnknownChoice) {
		t.Fatalf("unknown choice: %v", err)
	}
	if md := domain.MetadataOf(err); md["choice_id"] != "teleport" {
		t.Fatalf("metadata = %v", md)
	}
	if stateJSON(t, m) != before {
		t.Fatalf("state changed on failed fork operations")
	}
}

func TestStartOverIsSoftReset(t *testing.T) {
	m := machine.New(loadKeep(t))
	playToStair(t, m)
	if _, err := m.MakeChoice("down"); err != nil {
		t.Fatal(err)
	}
	before := m.State()

	tr, err := m.StartOver()
	mustTransition(t, tr, err, domain.TransitionRestarted)
	s := m.State()
	if s.EncounterID != "intro" || s.ChapterID != "gate" {
		t.Fatalf("start over landed at %s/%s", s.ChapterID, s.EncounterID)
	}
	if s.LastFork != nil {
		t.Fatalf("start over must clear last_fork")
	}
	if s.XPEarned != before.XPEarned || len(s.ChoiceHistory) != len(before.ChoiceHistory) || !reflect.DeepEqual(s.Achievements, before.Achievements) {
		t.Fatalf("start over dropped progress: %+v", s)
	}
	if s.LastCheckpoint == nil || *s.LastCheckpoint != "camp" {
		t.Fatalf("start over should keep checkpoint, got %v", s.LastCheckpoint)
	}
}

func TestLeaveEndsSessionUntilStartOver(t *testing.T) {
	m := machine.New(loadKeep(t))
	tr := m.Leave()
	if tr.Kind != domain.TransitionLeft || m.Active() {
		t.Fatalf("leave did not end session: %+v", tr)
	}
	if _, err := m.RecordOutcome(true); !errors.Is(err, domain.ErrInvalidOperation) {
		t.Fatalf("expected invalid operation after leave, got %v", err)
	}
	if _, err := m.StartOver(); err != nil {
		t.Fatal(err)
	}
	if !m.Active() {
		t.Fatalf("start over should reactivate the session")
	}
}

func TestRecoveryOptionsIdempotent(t *testing.T) {
	m := machine.New(loadKeep(t))
	playToStair(t, m)
	a := m.RecoveryOptions()
	b := m.RecoveryOptions()
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("options differ: %v vs %v", a, b)
	}
	a[0] = "mutated"
	if reflect.DeepEqual(a, m.RecoveryOptions()) {
		t.Fatalf("options slice shared with caller")
	}
}

func TestResumeRoundTrip(t *testing.T) {
	c := loadKeep(t)
	m := machine.New(c)
	playToStair(t, m)
	snap := m.Snapshot(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	if snap.SavedAt != "2026-03-01T12:00:00Z" {
		t.Fatalf("saved_at = %q", snap.SavedAt)
	}
	resumed, err := machine.Resume(c, snap)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if !reflect.DeepEqual(resumed.State(), snap) {
		t.Fatalf("resumed state differs:\n%+v\n%+v", resumed.State(), snap)
	}
}

func TestResumeRejectsForeignState(t *testing.T) {
	c := loadKeep(t)
	cases := map[string]func(*domain.PlayerState){
		"campaign":  func(s *domain.PlayerState) { s.CampaignID = "other" },
		"encounter": func(s *domain.PlayerState) { s.EncounterID = "nowhere" },
		"chapter":   func(s *domain.PlayerState) { s.ChapterID = "hall" },
		"xp":        func(s *domain.PlayerState) { s.XPEarned = -1 },
		"fork": func(s *domain.PlayerState) {
			v := "gone"
			s.LastFork = &v
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			s := domain.NewPlayerState(c)
			mutate(&s)
			if _, err := machine.Resume(c, s); !errors.Is(err, domain.ErrDeserialization) {
				t.Fatalf("expected deserialization error, got %v", err)
			}
		})
	}
}

func TestResumeCompletedCampaignStaysEnded(t *testing.T) {
	c := loadKeep(t)
	m := machine.New(c)
	playToStair(t, m)
	tr, err := m.MakeChoice("up")
	mustTransition(t, tr, err, domain.TransitionAdvanced)
	tr, err = m.RecordOutcome(true)
	mustTransition(t, tr, err, domain.TransitionChapterComplete)

	atThrone, err := machine.Resume(c, m.State())
	if err != nil {
		t.Fatalf("resume before completion: %v", err)
	}
	if !atThrone.Active() {
		t.Fatal("a state waiting at the final terminal must resume active")
	}

	tr, err = m.RecordOutcome(true)
	mustTransition(t, tr, err, domain.TransitionCampaignComplete)
	snap := m.Snapshot(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	resumed, err := machine.Resume(c, snap)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.Active() {
		t.Fatal("completed campaign resumed active")
	}
	before := stateJSON(t, resumed)
	if _, err := resumed.RecordOutcome(true); !errors.Is(err, domain.ErrInvalidOperation) {
		t.Fatalf("expected invalid operation on replay, got %v", err)
	}
	if after := stateJSON(t, resumed); after != before {
		t.Fatalf("replay mutated state:\n%s\n%s", before, after)
	}
	if resumed.State().XPEarned != snap.XPEarned {
		t.Fatalf("xp = %d, want %d", resumed.State().XPEarned, snap.XPEarned)
	}

	tr, err = resumed.StartOver()
	mustTransition(t, tr, err, domain.TransitionRestarted)
	if !resumed.Active() || resumed.Current().ID != "intro" {
		t.Fatalf("start over should reopen the campaign at intro, got %s active=%v", resumed.Current().ID, resumed.Active())
	}
}
