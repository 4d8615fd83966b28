package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// WebhookEvent is one row of the ingress audit log. Every request that
// passes the ingress throttle is recorded, valid or not; throttled
// requests, non-POST requests and unreadable bodies are not recorded.
type WebhookEvent struct {
	WebhookID    string
	Source       string
	Payload      string
	Status       string // received, validated, dispatched, rejected, error
	ErrorMessage string
	Ticker       string
	Action       string
	Quantity     string
	Strategy     string
	IPAddress    string
	CreatedAt    time.Time
}

// NewWebhookID generates a prefixed unique webhook identifier.
func NewWebhookID() string {
	return "wh_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
}

// InsertWebhookEvent records an incoming webhook request.
func (s *Store) InsertWebhookEvent(e *WebhookEvent) error {
	if e.WebhookID == "" {
		e.WebhookID = NewWebhookID()
	}
	if e.Source == "" {
		e.Source = "tradingview"
	}
	if e.Status == "" {
		e.Status = "received"
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO webhook_events (webhook_id, source, payload, status, error_message,
			ticker, action, quantity, strategy, ip_address, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.WebhookID, e.Source, e.Payload, e.Status, e.ErrorMessage,
		e.Ticker, e.Action, e.Quantity, e.Strategy, e.IPAddress,
		e.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert webhook event: %w", err)
	}
	return nil
}

// UpdateWebhookEvent refreshes the status, parsed fields, and error of an
// existing event as it moves through validation and dispatch.
func (s *Store) UpdateWebhookEvent(e *WebhookEvent) error {
	_, err := s.db.Exec(`
		UPDATE webhook_events
		SET status = ?, error_message = ?, ticker = ?, action = ?, quantity = ?, strategy = ?
		WHERE webhook_id = ?`,
		e.Status, e.ErrorMessage, e.Ticker, e.Action, e.Quantity, e.Strategy, e.WebhookID)
	if err != nil {
		return fmt.Errorf("update webhook event: %w", err)
	}
	return nil
}
