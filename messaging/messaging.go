// Package messaging sends templated player notifications through the
// third-party messaging API. Review actions never talk to the API directly:
// they enqueue on the outbox and the dispatcher calls Client.Deliver.
package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"reviewdesk/logging"
	"reviewdesk/outbox"
)

// TopicNotification is the outbox topic for player notifications.
const TopicNotification = "player.notification"

const (
	TemplateRedeemApproved       = "redeem_approved"
	TemplateRedeemVerified       = "redeem_verified"
	TemplateRedeemPaid           = "redeem_paid"
	TemplateRedeemPartiallyPaid  = "redeem_partially_paid"
	TemplateRedeemPaused         = "redeem_paused"
	TemplateRedeemResumed        = "redeem_resumed"
	TemplateRequestRejected      = "request_rejected"
	TemplateDisputeResolved      = "dispute_resolved"
	TemplateVerificationRejected = "verification_rejected"
)

// Notification is one templated message for one recipient.
type Notification struct {
	RecipientID string         `json:"recipient_id"`
	TemplateID  string         `json:"template_id"`
	Args        map[string]any `json:"args,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
}

type enqueuer interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload any) error
}

// Publisher is the send side used by business transactions.
type Publisher struct {
	out    enqueuer
	logger *slog.Logger
}

func NewPublisher(out enqueuer, logger *slog.Logger) *Publisher {
	return &Publisher{out: out, logger: logging.OrDefault(logger).With("component", "messaging")}
}

// SendNotification enqueues n inside a savepoint on tx. A failure is logged
// and rolled back to the savepoint so the surrounding review still commits.
func (p *Publisher) SendNotification(ctx context.Context, tx pgx.Tx, n Notification) {
	if n.RecipientID == "" || n.TemplateID == "" {
		p.logger.Warn("notification skipped: missing recipient or template", "template_id", n.TemplateID)
		return
	}
	sp, err := tx.Begin(ctx)
	if err != nil {
		p.logger.Error("notification savepoint failed", "template_id", n.TemplateID, "error", err)
		return
	}
	if err := p.out.Enqueue(ctx, sp, TopicNotification, n); err != nil {
		_ = sp.Rollback(ctx)
		p.logger.Error("notification enqueue failed", "recipient_id", n.RecipientID, "template_id", n.TemplateID, "error", err)
		return
	}
	if err := sp.Commit(ctx); err != nil {
		p.logger.Error("notification savepoint release failed", "template_id", n.TemplateID, "error", err)
	}
}

// Client talks to the messaging API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
	}
}

var ErrNotConfigured = errors.New("messaging: api url not configured")

// Deliver posts one notification to the messaging API.
func (c *Client) Deliver(ctx context.Context, n Notification) error {
	if c.baseURL == "" {
		return ErrNotConfigured
	}
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("messaging: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("messaging: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("messaging: send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("messaging: api returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}

// Handler adapts the client to an outbox handler.
func (c *Client) Handler() outbox.Handler {
	return func(ctx context.Context, msg outbox.Message) error {
		var n Notification
		if err := json.Unmarshal(msg.Payload, &n); err != nil {
			return fmt.Errorf("messaging: decode outbox payload: %w", err)
		}
		return c.Deliver(ctx, n)
	}
}
