package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"questline/internal/config"
	"questline/internal/domain"
	"questline/internal/engine"
	"questline/internal/repo"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100

	SignatureHeader = "X-Questline-Signature"
)

// WebhookDispatcher polls the event log and posts new events to each
// configured URL. Each URL keeps its own cursor; a failed delivery is retried
// on the next tick.
type WebhookDispatcher struct {
	engine   engine.Engine
	cfg      config.WebhookConfig
	client   *http.Client
	filter   eventFilter
	mu       sync.Mutex
	cursors  map[string]int64
	interval time.Duration
}

func NewWebhookDispatcher(e engine.Engine, cfg config.WebhookConfig) *WebhookDispatcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultWebhookInterval
	}
	return &WebhookDispatcher{
		engine:   e,
		cfg:      cfg,
		client:   &http.Client{Timeout: timeout},
		filter:   newEventFilter(cfg.Events),
		cursors:  make(map[string]int64),
		interval: interval,
	}
}

// Run dispatches until ctx is done.
func (d *WebhookDispatcher) Run(ctx context.Context) {
	if len(d.cfg.URLs) == 0 {
		return
	}
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		d.DispatchAll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *WebhookDispatcher) DispatchAll(ctx context.Context) {
	for _, url := range d.cfg.URLs {
		url = strings.TrimSpace(url)
		if url == "" {
			continue
		}
		d.dispatch(ctx, url)
	}
}

func (d *WebhookDispatcher) dispatch(ctx context.Context, url string) {
	cursor, ok := d.cursorFor(ctx, url)
	if !ok {
		return
	}
	events, err := d.engine.Repo.EventsAfter(ctx, defaultWebhookBatch, cursor, repo.EventFilters{})
	if err != nil {
		logrus.Errorf("webhook: fetch events failed: %v", err)
		return
	}
	for _, evt := range events {
		if !d.filter.match(evt.Type) {
			d.setCursor(url, evt.ID)
			continue
		}
		err := d.postEvent(ctx, url, evt)
		d.engine.Metrics.WebhookDelivered(err == nil)
		if err != nil {
			logrus.WithFields(logrus.Fields{"url": url, "event_id": evt.ID}).Warnf("webhook delivery failed: %v", err)
			return
		}
		d.setCursor(url, evt.ID)
	}
}

// cursorFor starts new hooks at the current end of the log so a restart
// doesn't replay history. If the log can't be read, no cursor is stored and
// the next tick tries again.
func (d *WebhookDispatcher) cursorFor(ctx context.Context, url string) (int64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[url]; ok {
		return cur, true
	}
	cur, err := d.engine.Repo.LatestEventID(ctx)
	if err != nil {
		logrus.Errorf("webhook: init cursor failed: %v", err)
		return 0, false
	}
	d.cursors[url] = cur
	return cur, true
}

func (d *WebhookDispatcher) setCursor(url string, value int64) {
	d.mu.Lock()
	d.cursors[url] = value
	d.mu.Unlock()
}

type webhookEvent struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	CampaignID string          `json:"campaign_id,omitempty"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (d *WebhookDispatcher) postEvent(ctx context.Context, url string, evt domain.Event) error {
	r := eventResponse(evt)
	data, err := json.Marshal(webhookEvent{
		ID:         r.ID,
		Type:       r.Type,
		CampaignID: r.CampaignID,
		EntityKind: r.EntityKind,
		EntityID:   r.EntityID,
		ActorID:    r.ActorID,
		TS:         r.TS,
		Payload:    r.Payload,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Questline-Event", evt.Type)
	req.Header.Set("X-Questline-Delivery", fmt.Sprintf("%d", evt.ID))
	if evt.CampaignID != "" {
		req.Header.Set("X-Questline-Campaign", evt.CampaignID)
	}
	if strings.TrimSpace(d.cfg.Secret) != "" {
		req.Header.Set(SignatureHeader, Sign(d.cfg.Secret, data))
	}
	res, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// eventFilter matches event types exactly, or by prefix when the pattern
// ends in "*" (e.g. "transition.*").
type eventFilter struct {
	all      bool
	set      map[string]struct{}
	prefixes []string
}

func newEventFilter(events []string) eventFilter {
	f := eventFilter{set: map[string]struct{}{}}
	for _, evt := range events {
		key := strings.TrimSpace(evt)
		switch {
		case key == "":
		case strings.HasSuffix(key, "*"):
			f.prefixes = append(f.prefixes, strings.TrimSuffix(key, "*"))
		default:
			f.set[key] = struct{}{}
		}
	}
	if len(f.set) == 0 && len(f.prefixes) == 0 {
		return eventFilter{all: true}
	}
	return f
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	if _, ok := f.set[evt]; ok {
		return true
	}
	for _, p := range f.prefixes {
		if strings.HasPrefix(evt, p) {
			return true
		}
	}
	return false
}
