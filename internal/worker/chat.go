package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lalithlochan/teamalerts/internal/db"
)

const (
	// MaxChatMessageRunes is the chat platform's message length limit.
	MaxChatMessageRunes = 2000

	// AnonymousLabel replaces the name of the system user in mentions.
	AnonymousLabel = "Anonymous"
)

type ChatConfig struct {
	WebhookURL   string
	SystemUserID int64
	RatePerSec   float64
	Timeout      time.Duration
}

// ChatGateway posts alerts to a chat webhook, mentioning the recipient.
type ChatGateway struct {
	client  *http.Client
	config  ChatConfig
	limiter *rate.Limiter
	logger  *zap.Logger
}

func NewChatGateway(cfg ChatConfig, logger *zap.Logger) *ChatGateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}

	return &ChatGateway{
		client:  &http.Client{Timeout: cfg.Timeout},
		config:  cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
		logger:  logger,
	}
}

type chatPayload struct {
	Content string `json:"content"`
}

func (g *ChatGateway) Send(ctx context.Context, user *db.User, msg Message) Result {
	if g.config.WebhookURL == "" {
		return notConfigured("chat webhook not configured")
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return transient(fmt.Errorf("chat rate limit wait: %w", err))
	}

	body, err := json.Marshal(chatPayload{Content: g.content(user, msg)})
	if err != nil {
		return transient(fmt.Errorf("failed to marshal chat payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.config.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return transient(fmt.Errorf("failed to create chat request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "teamalerts/1.0")

	resp, err := g.client.Do(req)
	if err != nil {
		return transient(fmt.Errorf("chat webhook request failed: %w", err))
	}
	defer resp.Body.Close()

	preview, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return transient(fmt.Errorf("chat webhook returned status %d: %s", resp.StatusCode, preview))
	}
	return delivered(fmt.Sprintf("status %d", resp.StatusCode))
}

func (g *ChatGateway) content(user *db.User, msg Message) string {
	text := fmt.Sprintf("%s: **%s**", g.mention(user), msg.Subject)
	if body := renderText(msg); body != "" {
		text += "\n" + body
	}
	if utf8.RuneCountInString(text) > MaxChatMessageRunes {
		text = string([]rune(text)[:MaxChatMessageRunes])
	}
	return text
}

func (g *ChatGateway) mention(user *db.User) string {
	if g.config.SystemUserID != 0 && user.ID == g.config.SystemUserID {
		return AnonymousLabel
	}
	if user.ChatPlatformID != "" {
		return "<@" + user.ChatPlatformID + ">"
	}
	return user.FullName()
}
