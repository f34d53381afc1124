// Package slack sends remediation outcome notifications to Slack via
// incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/remedy/internal/remediation"
)

const (
	maxDetailLen = 3000
	httpTimeout  = 10 * time.Second
)

// Notifier posts terminal job outcomes to a Slack webhook.
type Notifier struct {
	webhookURL string
	logger     log.Logger
	client     *http.Client
}

// New creates a new Slack notifier. If webhookURL is empty, Notify is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		logger:     logger,
		client:     &http.Client{Timeout: httpTimeout},
	}
}

// Notify posts a terminal job to the configured Slack webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) Notify(ctx context.Context, job *remediation.Job) error {
	if n.webhookURL == "" {
		return nil
	}

	msg := buildMessage(job)

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func buildMessage(j *remediation.Job) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(j),
			{"type": "divider"},
			fieldsBlock(j),
			{"type": "divider"},
			detailBlock(j),
			{"type": "divider"},
			contextBlock(j),
		},
	}
}

func headerBlock(j *remediation.Job) map[string]any {
	text := fmt.Sprintf("%s %s: %s", stateEmoji(j.State), stateTitle(j.State), j.Host)

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(j *remediation.Job) map[string]any {
	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*State:* %s", j.State),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Host:* %s", j.Host),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*OS:* %s", j.OSFamily),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Attempts:* %d/%d", j.Attempt, j.MaxAttempts),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Duration:* %s", jobDuration(j)),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Correlation:* %s", j.CorrelationID),
		},
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func detailBlock(j *remediation.Job) map[string]any {
	text := truncate(j.Detail, maxDetailLen)
	if text == "" {
		text = "_No detail available._"
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Detail*\n\n%s", text),
		},
	}
}

func contextBlock(j *remediation.Job) map[string]any {
	ts := j.CompletedAt
	if ts.IsZero() {
		ts = j.CreatedAt
	}

	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("remedy • job %s • %s", j.ID, ts.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func stateTitle(state remediation.State) string {
	switch state {
	case remediation.StateSucceeded:
		return "Remediation Succeeded"
	case remediation.StateFailed:
		return "Remediation Failed"
	case remediation.StateCancelled:
		return "Remediation Cancelled"
	default:
		return "Remediation " + string(state)
	}
}

func stateEmoji(state remediation.State) string {
	switch state {
	case remediation.StateSucceeded:
		return "\U0001f7e2" // green circle
	case remediation.StateCancelled:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f534" // red circle
	}
}

func jobDuration(j *remediation.Job) string {
	if j.CompletedAt.IsZero() || j.CreatedAt.IsZero() {
		return "n/a"
	}
	return j.CompletedAt.Sub(j.CreatedAt).Round(time.Second).String()
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
