// Package notify delivers the sign-in report to a Telegram chat.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const defaultAPIBase = "https://api.telegram.org"

// Config holds the bot credentials.
type Config struct {
	BotToken string
	ChatID   string
	APIBase  string
	Timeout  time.Duration
}

// Configured reports whether both the token and the chat id are set.
func (c Config) Configured() bool {
	return c.BotToken != "" && c.ChatID != ""
}

// Pacer gates outgoing messages.
type Pacer interface {
	Wait(ctx context.Context) error
}

// SendResult describes one delivery.
type SendResult struct {
	Sent    bool
	Skipped bool
	Status  int
	SentAt  time.Time
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
}

// Telegram posts messages through the Bot API.
type Telegram struct {
	config Config
	client *http.Client
	pacer  Pacer
	logger *logrus.Logger
}

// NewTelegram creates a notifier. Delivery is skipped when config is
// incomplete.
func NewTelegram(config Config, logger *logrus.Logger) *Telegram {
	if config.APIBase == "" {
		config.APIBase = defaultAPIBase
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	return &Telegram{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		logger: logger,
	}
}

// SetPacer gates every send behind p.
func (t *Telegram) SetPacer(p Pacer) {
	t.pacer = p
}

// Send posts text as Markdown to the configured chat.
func (t *Telegram) Send(ctx context.Context, text string) (*SendResult, error) {
	if !t.config.Configured() {
		t.logger.Info("Telegram not configured, skipping notification")
		return &SendResult{Skipped: true}, nil
	}

	if t.pacer != nil {
		if err := t.pacer.Wait(ctx); err != nil {
			return &SendResult{}, fmt.Errorf("notification not permitted: %w", err)
		}
	}

	body, err := json.Marshal(sendMessageRequest{
		ChatID:    t.config.ChatID,
		Text:      text,
		ParseMode: "Markdown",
	})
	if err != nil {
		return &SendResult{}, fmt.Errorf("failed to encode message: %w", err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(t.config.APIBase, "/"), t.config.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return &SendResult{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		t.logger.WithError(err).Warn("Telegram request failed")
		return &SendResult{}, fmt.Errorf("telegram request failed: %w", err)
	}
	defer resp.Body.Close()

	result := &SendResult{Status: resp.StatusCode}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return result, fmt.Errorf("failed to read telegram response: %w", err)
	}

	var reply sendMessageResponse
	_ = json.Unmarshal(raw, &reply)
	if resp.StatusCode != http.StatusOK || !reply.OK {
		t.logger.WithFields(logrus.Fields{
			"status":      resp.StatusCode,
			"description": reply.Description,
		}).Warn("Telegram rejected notification")
		return result, fmt.Errorf("telegram returned status %d: %s", resp.StatusCode, reply.Description)
	}

	result.Sent = true
	result.SentAt = time.Now()
	t.logger.WithField("chat_id", t.config.ChatID).Info("Notification sent")
	return result, nil
}
