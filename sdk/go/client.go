package questlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Questline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	PlayerID    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

type Choice struct {
	ID    string `json:"id"`
	Label string `json:"label,omitempty"`
}

type Encounter struct {
	ID            string   `json:"id"`
	ChapterID     string   `json:"chapter_id"`
	Kind          string   `json:"kind"`
	Title         string   `json:"title,omitempty"`
	Narrative     string   `json:"narrative,omitempty"`
	Objective     string   `json:"objective,omitempty"`
	Hint          string   `json:"hint,omitempty"`
	Tier          int      `json:"tier"`
	XPReward      int      `json:"xp_reward"`
	IsCheckpoint  bool     `json:"is_checkpoint"`
	NextEncounter string   `json:"next_encounter,omitempty"`
	Choices       []Choice `json:"choices,omitempty"`
}

type CampaignSummary struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	FirstChapter   string `json:"first_chapter"`
	ChapterCount   int    `json:"chapter_count"`
	EncounterCount int    `json:"encounter_count"`
}

// PlayerState is the portable progress record, as written to save files.
type PlayerState struct {
	CampaignID          string   `json:"campaign_id"`
	ChapterID           string   `json:"chapter_id"`
	EncounterID         string   `json:"encounter_id"`
	XPEarned            int      `json:"xp_earned"`
	CompletedEncounters []string `json:"completed_encounters"`
	LastFork            *string  `json:"last_fork"`
	LastCheckpoint      *string  `json:"last_checkpoint"`
	ChoiceHistory       []struct {
		EncounterID string `json:"encounter_id"`
		ChoiceID    string `json:"choice_id"`
	} `json:"choice_history"`
	Achievements []string `json:"achievements"`
	SavedAt      string   `json:"saved_at"`
}

type Session struct {
	ID         string      `json:"id"`
	CampaignID string      `json:"campaign_id"`
	PlayerID   string      `json:"player_id"`
	Status     string      `json:"status"`
	State      PlayerState `json:"state"`
	CreatedAt  string      `json:"created_at"`
	UpdatedAt  string      `json:"updated_at"`
	Current    Encounter   `json:"current"`
}

type Transition struct {
	Kind                 string   `json:"kind"`
	From                 string   `json:"from"`
	To                   string   `json:"to"`
	ChapterID            string   `json:"chapter_id"`
	XPAwarded            int      `json:"xp_awarded"`
	CheckpointSet        bool     `json:"checkpoint_set"`
	AchievementsUnlocked []string `json:"achievements_unlocked,omitempty"`
	Options              []string `json:"options,omitempty"`
}

// GameOver reports whether the step failed and recovery options apply.
func (t Transition) GameOver() bool { return t.Kind == "game_over" }

type TransitionResult struct {
	Session    Session    `json:"session"`
	Transition Transition `json:"transition"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	CampaignID string         `json:"campaign_id"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code is the API's error code, e.g.
// "no_checkpoint" or "unknown_choice".
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// DevLogin mints a development token and stores it on the client.
func (c *Client) DevLogin(ctx context.Context, playerID string, roles ...string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	body := map[string]any{"player_id": playerID}
	if len(roles) > 0 {
		body["roles"] = roles
	}
	if err := c.do(ctx, http.MethodPost, "auth/dev/login", body, &resp); err != nil {
		return "", err
	}
	c.BearerToken = resp.Token
	return resp.Token, nil
}

func (c *Client) Campaigns(ctx context.Context) ([]CampaignSummary, error) {
	var resp []CampaignSummary
	err := c.do(ctx, http.MethodGet, "campaigns", nil, &resp)
	return resp, err
}

// StartSession starts a session of campaignID for the authenticated player.
func (c *Client) StartSession(ctx context.Context, campaignID string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, "sessions", map[string]any{"campaign_id": campaignID}, &resp)
	return resp, err
}

func (c *Client) Session(ctx context.Context, sessionID string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodGet, sessionPath(sessionID, ""), nil, &resp)
	return resp, err
}

// Sessions lists the caller's sessions, optionally filtered by status.
func (c *Client) Sessions(ctx context.Context, status string) ([]Session, error) {
	endpoint := "sessions"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp []Session
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) Options(ctx context.Context, sessionID string) ([]string, error) {
	var resp struct {
		Options []string `json:"options"`
	}
	err := c.do(ctx, http.MethodGet, sessionPath(sessionID, "options"), nil, &resp)
	return resp.Options, err
}

func (c *Client) RecordOutcome(ctx context.Context, sessionID string, success bool) (TransitionResult, error) {
	return c.step(ctx, sessionID, "outcome", map[string]any{"success": success})
}

func (c *Client) MakeChoice(ctx context.Context, sessionID, choiceID string) (TransitionResult, error) {
	return c.step(ctx, sessionID, "choice", map[string]any{"choice_id": choiceID})
}

func (c *Client) RetryFromFork(ctx context.Context, sessionID string) (TransitionResult, error) {
	return c.step(ctx, sessionID, "retry-fork", nil)
}

func (c *Client) RetryFromCheckpoint(ctx context.Context, sessionID string) (TransitionResult, error) {
	return c.step(ctx, sessionID, "retry-checkpoint", nil)
}

func (c *Client) StartOver(ctx context.Context, sessionID string) (TransitionResult, error) {
	return c.step(ctx, sessionID, "start-over", nil)
}

func (c *Client) Leave(ctx context.Context, sessionID string) (TransitionResult, error) {
	return c.step(ctx, sessionID, "leave", nil)
}

func (c *Client) step(ctx context.Context, sessionID, action string, body any) (TransitionResult, error) {
	var resp TransitionResult
	err := c.do(ctx, http.MethodPost, sessionPath(sessionID, action), body, &resp)
	return resp, err
}

// Events returns a session's recent events.
func (c *Client) Events(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, sessionID, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, sessionID string, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := sessionPath(sessionID, "events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.PlayerID != "":
		req.Header.Set("X-Player-Id", c.PlayerID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return decodeAPIError(resp.StatusCode, b)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func decodeAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: string(body)}
	var env struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &env) == nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		apiErr.Details = env.Error.Details
	}
	return apiErr
}

func sessionPath(id, action string) string {
	p := "sessions/" + url.PathEscape(id)
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
