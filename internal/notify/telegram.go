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

	"go.uber.org/zap"

	"github.com/jonathan/viral-agents/internal/logging"
)

// DefaultTelegramAPI is the Bot API base URL
const DefaultTelegramAPI = "https://api.telegram.org"

// TelegramError is a non-2xx answer from the Bot API
type TelegramError struct {
	ChatID     string
	StatusCode int
	Body       string
}

func (e *TelegramError) Error() string {
	return fmt.Sprintf("telegram sendMessage to %s failed with status %d: %s", e.ChatID, e.StatusCode, e.Body)
}

// TelegramConfig configures the Bot API sender
type TelegramConfig struct {
	Token   string
	ChatIDs []string
	BaseURL string
	Timeout time.Duration
}

// Telegram posts notifications to every configured chat
type Telegram struct {
	cfg    TelegramConfig
	client *http.Client
	logger *zap.SugaredLogger
}

// NewTelegram creates a Bot API sender
func NewTelegram(cfg TelegramConfig, logger *zap.SugaredLogger) *Telegram {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultTelegramAPI
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Telegram{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logging.OrNop(logger),
	}
}

type inlineButton struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

type replyMarkup struct {
	InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
}

type sendMessageRequest struct {
	ChatID      string       `json:"chat_id"`
	Text        string       `json:"text"`
	ParseMode   string       `json:"parse_mode"`
	ReplyMarkup *replyMarkup `json:"reply_markup,omitempty"`
}

// Send implements Notifier
func (t *Telegram) Send(ctx context.Context, text string) error {
	return t.SendWithActions(ctx, text, nil)
}

// SendWithActions implements Notifier. Every chat is attempted; the first error is returned.
func (t *Telegram) SendWithActions(ctx context.Context, text string, actions []Action) error {
	var markup *replyMarkup
	if len(actions) > 0 {
		row := make([]inlineButton, 0, len(actions))
		for _, a := range actions {
			row = append(row, inlineButton{Text: a.Label, URL: a.URL})
		}
		markup = &replyMarkup{InlineKeyboard: [][]inlineButton{row}}
	}

	var firstErr error
	for _, chatID := range t.cfg.ChatIDs {
		chatID = strings.TrimSpace(chatID)
		if chatID == "" {
			continue
		}
		err := t.post(ctx, &sendMessageRequest{ChatID: chatID, Text: text, ParseMode: "HTML", ReplyMarkup: markup})
		if err != nil {
			t.logger.Warnw("telegram notification failed", "chat_id", chatID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (t *Telegram) post(ctx context.Context, payload *sendMessageRequest) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode telegram request: %w", err)
	}
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(t.cfg.BaseURL, "/"), t.cfg.Token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &TelegramError{ChatID: payload.ChatID, StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return nil
}
