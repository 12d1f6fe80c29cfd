package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"okx-funding-bot/internal/config"
	"okx-funding-bot/internal/strategy"

	"go.uber.org/zap"
)

const (
	telegramBaseURL = "https://api.telegram.org"
	sendTimeout     = 10 * time.Second
)

// APIError is a rejected sendMessage call. RetryAfter is set when Telegram
// rate limits the bot.
type APIError struct {
	Status      int
	Description string
	RetryAfter  time.Duration
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("telegram: http %d: %s", e.Status, e.Description)
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %s)", e.RetryAfter)
	}
	return msg
}

type sendMessageRequest struct {
	ChatID              string `json:"chat_id"`
	Text                string `json:"text"`
	DisableNotification bool   `json:"disable_notification,omitempty"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// Telegram posts paper trade alerts to one chat. A disabled or nil notifier
// accepts every call and sends nothing.
type Telegram struct {
	enabled  bool
	token    string
	chatID   string
	instID   string
	endpoint string
	http     *http.Client
	log      *zap.Logger
}

func NewTelegram(cfg config.TelegramConfig, instID string, log *zap.Logger) *Telegram {
	return newTelegram(cfg, instID, log, telegramBaseURL, nil)
}

func newTelegram(cfg config.TelegramConfig, instID string, log *zap.Logger, baseURL string, client *http.Client) *Telegram {
	if client == nil {
		client = &http.Client{Timeout: sendTimeout}
	}
	if log == nil {
		log = zap.NewNop()
	}
	token := strings.TrimSpace(cfg.Token)
	return &Telegram{
		enabled:  cfg.Enabled,
		token:    token,
		chatID:   strings.TrimSpace(cfg.ChatID),
		instID:   instID,
		endpoint: strings.TrimRight(baseURL, "/") + "/bot" + token + "/sendMessage",
		http:     client,
		log:      log.Named("telegram"),
	}
}

func (t *Telegram) Enabled() bool {
	return t != nil && t.enabled
}

// NotifyTrade alerts on an open or close. Opens are delivered silently; closes
// ring. Failures are logged and returned but are never trading errors.
func (t *Telegram) NotifyTrade(ctx context.Context, ev strategy.TradeEvent) error {
	if !t.Enabled() {
		return nil
	}
	err := t.send(ctx, sendMessageRequest{
		ChatID:              t.chatID,
		Text:                FormatTrade(t.instID, ev),
		DisableNotification: ev.Kind == strategy.EventOpen,
	})
	if err != nil {
		t.log.Warn("trade alert failed", zap.String("trade_id", ev.ID), zap.Error(err))
	}
	return err
}

// Send posts a free-form message.
func (t *Telegram) Send(ctx context.Context, message string) error {
	if !t.Enabled() {
		return nil
	}
	return t.send(ctx, sendMessageRequest{ChatID: t.chatID, Text: message})
}

func (t *Telegram) send(ctx context.Context, msg sendMessageRequest) error {
	if t.token == "" || t.chatID == "" {
		return errors.New("telegram token and chat_id are required")
	}
	if strings.TrimSpace(msg.Text) == "" {
		return errors.New("telegram message is empty")
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.http.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var out apiResponse
	decodeErr := json.Unmarshal(raw, &out)
	if resp.StatusCode/100 == 2 && (decodeErr != nil || out.OK) {
		return nil
	}
	apiErr := &APIError{Status: resp.StatusCode, Description: strings.TrimSpace(out.Description)}
	if decodeErr != nil || apiErr.Description == "" {
		apiErr.Description = strings.TrimSpace(string(raw))
	}
	if apiErr.Description == "" {
		apiErr.Description = "unknown telegram error"
	}
	if out.Parameters != nil && out.Parameters.RetryAfter > 0 {
		apiErr.RetryAfter = time.Duration(out.Parameters.RetryAfter) * time.Second
	}
	return apiErr
}
