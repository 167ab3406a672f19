// Package notifications provides event alerting for WardClaw.
// It supports webhook and Slack transports, dispatching events like
// pending approvals, denied actions, and emergency lockdowns.
//
// Observers are notified in registration order, one event at a time.
// Transports that talk to the network queue deliveries internally so
// the decision path never waits on HTTP.
package notifications

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mackeh/WardClaw/internal/telemetry"
)

// Event represents a notification event type.
type Event string

const (
	EventApprovalRequested Event = "approval.requested"
	EventApprovalResolved  Event = "approval.resolved"
	EventActionDenied      Event = "action.denied"
	EventAuditLogged       Event = "audit.logged"
	EventPolicyUpdated     Event = "policy.updated"
	EventLockdownEngaged   Event = "lockdown.engaged"
	EventLockdownReleased  Event = "lockdown.released"
)

// Payload carries the notification data.
type Payload struct {
	Event     Event          `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	Tool      string         `json:"tool,omitempty"`
	Risk      string         `json:"risk,omitempty"`
	Decision  string         `json:"decision,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Principal string         `json:"principal,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Notifier is the interface observers implement.
type Notifier interface {
	Send(ctx context.Context, payload Payload) error
	Handles(event Event) bool
}

// Dispatcher fans out events to all registered notifiers, in
// registration order. Each notifier sees events in emission order.
type Dispatcher struct {
	mu        sync.RWMutex
	notifiers []Notifier
}

// NewDispatcher creates a dispatcher from configuration.
func NewDispatcher(configs []NotifierConfig) *Dispatcher {
	d := &Dispatcher{}
	for _, cfg := range configs {
		switch cfg.Type {
		case "webhook":
			d.Register(NewWebhookNotifier(cfg.URL, cfg.Secret, cfg.Events))
		case "slack":
			d.Register(NewSlackNotifier(cfg.WebhookURL, cfg.Events))
		}
	}
	return d
}

// Register appends an observer. Registration order is delivery order.
func (d *Dispatcher) Register(n Notifier) {
	d.mu.Lock()
	d.notifiers = append(d.notifiers, n)
	d.mu.Unlock()
}

// Notify hands the payload to every notifier subscribed to the event.
// Send errors are logged and do not stop later observers.
func (d *Dispatcher) Notify(ctx context.Context, payload Payload) {
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now().UTC()
	}

	d.mu.RLock()
	notifiers := make([]Notifier, len(d.notifiers))
	copy(notifiers, d.notifiers)
	d.mu.RUnlock()

	for _, n := range notifiers {
		if !n.Handles(payload.Event) {
			continue
		}
		if err := n.Send(ctx, payload); err != nil {
			slog.Warn("notification send failed", "event", payload.Event, "error", err)
		}
	}
}

// Close drains and stops every notifier that holds resources.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	notifiers := d.notifiers
	d.notifiers = nil
	d.mu.Unlock()

	for _, n := range notifiers {
		if c, ok := n.(interface{ Close() }); ok {
			c.Close()
		}
	}
}

// NotifierConfig represents a notification channel from config.yaml.
type NotifierConfig struct {
	Type       string  `yaml:"type"`
	URL        string  `yaml:"url,omitempty"`
	Secret     string  `yaml:"secret,omitempty"`
	WebhookURL string  `yaml:"webhook_url,omitempty"`
	Events     []Event `yaml:"events"`
}

// eventSet builds the subscription filter; empty means every event.
func eventSet(events []Event) map[Event]bool {
	m := make(map[Event]bool, len(events))
	for _, e := range events {
		m[e] = true
	}
	return m
}

// postJSON marshals v and delivers it to url, treating any 4xx/5xx as
// failure. decorate, when non-nil, can add headers before the request
// goes out; it receives the marshaled body for signing.
func postJSON(ctx context.Context, client *http.Client, transport, url string, v any, decorate func(*http.Request, []byte)) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%s: marshal failed: %w", transport, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: request creation failed: %w", transport, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if decorate != nil {
		decorate(req, body)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: send failed: %w", transport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s: server returned %d", transport, resp.StatusCode)
	}
	return nil
}

// --- Delivery queue ---

// sender serializes deliveries for one transport. Send enqueues and
// returns; a single worker preserves emission order on the wire.
type sender struct {
	name    string
	queue   chan Payload
	drained sync.WaitGroup
	once    sync.Once
}

func newSender(name string, deliver func(context.Context, Payload) error) *sender {
	s := &sender{
		name:  name,
		queue: make(chan Payload, 64),
	}
	s.drained.Add(1)
	go func() {
		defer s.drained.Done()
		for p := range s.queue {
			// Detached from the emitting call: the decision already
			// happened, delivery gets its own deadline.
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			err := deliver(ctx, p)
			cancel()
			status := "ok"
			if err != nil {
				status = "error"
				slog.Warn("notification delivery failed", "notifier", name, "event", p.Event, "error", err)
			}
			telemetry.NotificationsTotal.WithLabelValues(name, status).Inc()
		}
	}()
	return s
}

func (s *sender) enqueue(p Payload) error {
	select {
	case s.queue <- p:
		return nil
	default:
		telemetry.NotificationsTotal.WithLabelValues(s.name, "dropped").Inc()
		return fmt.Errorf("%s: queue full, dropped %s", s.name, p.Event)
	}
}

func (s *sender) close() {
	s.once.Do(func() {
		close(s.queue)
		s.drained.Wait()
	})
}

// --- Webhook Notifier ---

// WebhookNotifier sends HMAC-signed HTTP POST payloads.
type WebhookNotifier struct {
	url    string
	secret string
	events map[Event]bool
	client *http.Client
	sender *sender
}

// NewWebhookNotifier creates a new WebhookNotifier.
func NewWebhookNotifier(url, secret string, events []Event) *WebhookNotifier {
	w := &WebhookNotifier{
		url:    url,
		secret: secret,
		events: eventSet(events),
		client: &http.Client{Timeout: 10 * time.Second},
	}
	w.sender = newSender("webhook", w.deliver)
	return w
}

// Handles returns true if this notifier is subscribed to the event.
func (w *WebhookNotifier) Handles(event Event) bool {
	return len(w.events) == 0 || w.events[event]
}

// Send queues the payload for delivery and returns immediately.
func (w *WebhookNotifier) Send(ctx context.Context, payload Payload) error {
	return w.sender.enqueue(payload)
}

// Close drains the delivery queue.
func (w *WebhookNotifier) Close() {
	w.sender.close()
}

// deliver posts the payload, signing it when a secret is configured.
func (w *WebhookNotifier) deliver(ctx context.Context, payload Payload) error {
	return postJSON(ctx, w.client, "webhook", w.url, payload, func(req *http.Request, body []byte) {
		req.Header.Set("User-Agent", "WardClaw-Notification/1.0")
		if w.secret != "" {
			req.Header.Set("X-WardClaw-Signature", Sign(w.secret, body))
		}
	})
}

// Sign computes the hex HMAC-SHA256 receivers use to verify payloads.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// --- Slack Notifier ---

// SlackNotifier sends messages to a Slack incoming webhook.
type SlackNotifier struct {
	webhookURL string
	events     map[Event]bool
	client     *http.Client
	sender     *sender
}

// NewSlackNotifier creates a new SlackNotifier.
func NewSlackNotifier(webhookURL string, events []Event) *SlackNotifier {
	s := &SlackNotifier{
		webhookURL: webhookURL,
		events:     eventSet(events),
		client:     &http.Client{Timeout: 10 * time.Second},
	}
	s.sender = newSender("slack", s.deliver)
	return s
}

// Handles returns true if this notifier is subscribed to the event.
func (s *SlackNotifier) Handles(event Event) bool {
	return len(s.events) == 0 || s.events[event]
}

// Send queues the payload for delivery and returns immediately.
func (s *SlackNotifier) Send(ctx context.Context, payload Payload) error {
	return s.sender.enqueue(payload)
}

// Close drains the delivery queue.
func (s *SlackNotifier) Close() {
	s.sender.close()
}

func (s *SlackNotifier) deliver(ctx context.Context, payload Payload) error {
	return postJSON(ctx, s.client, "slack", s.webhookURL, formatSlackMessage(payload), nil)
}

type slackMessage struct {
	Text   string          `json:"text"`
	Blocks json.RawMessage `json:"blocks,omitempty"`
}

var slackHeadings = map[Event]struct{ icon, title string }{
	EventApprovalRequested: {":warning:", "Approval Requested"},
	EventApprovalResolved:  {":white_check_mark:", "Approval Resolved"},
	EventActionDenied:      {":no_entry:", "Action Denied"},
	EventPolicyUpdated:     {":gear:", "Policy Updated"},
	EventLockdownEngaged:   {":rotating_light:", "EMERGENCY LOCKDOWN"},
	EventLockdownReleased:  {":unlock:", "Lockdown Released"},
}

func formatSlackMessage(p Payload) slackMessage {
	h, ok := slackHeadings[p.Event]
	if !ok {
		h = struct{ icon, title string }{":bell:", string(p.Event)}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s *WardClaw — %s*", h.icon, h.title)
	if p.Tool != "" {
		fmt.Fprintf(&b, "\nTool: `%s`", p.Tool)
	}
	if p.Risk != "" {
		fmt.Fprintf(&b, " | Risk: `%s`", p.Risk)
	}
	if p.Decision != "" {
		fmt.Fprintf(&b, "\nDecision: `%s`", p.Decision)
	}
	if p.Reason != "" {
		fmt.Fprintf(&b, "\nReason: %s", p.Reason)
	}

	return slackMessage{Text: b.String()}
}
