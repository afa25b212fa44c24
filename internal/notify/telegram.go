package notify

import (
	"context"
	"strings"
	"time"
)

const (
	telegramAPI      = "https://api.telegram.org"
	telegramMaxChars = 4096
)

// TelegramSender delivers notifications via the Telegram Bot API.
type TelegramSender struct {
	webhook
	baseURL string
	token   string
	chatID  string
}

// NewTelegramSender creates a TelegramSender for the given bot token and chat.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		webhook: newWebhook("telegram", time.Second, 1),
		baseURL: telegramAPI,
		token:   token,
		chatID:  chatID,
	}
}

// WithBaseURL points the sender at another Bot API host.
func (t *TelegramSender) WithBaseURL(u string) *TelegramSender {
	t.baseURL = strings.TrimRight(u, "/")
	return t
}

// Send posts title and message as plain text; market ids and rationale
// contain characters Telegram markdown would reject.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	return t.post(ctx, t.baseURL+"/bot"+t.token+"/sendMessage", map[string]any{
		"chat_id":                  t.chatID,
		"text":                     truncate(title+"\n"+message, telegramMaxChars),
		"disable_web_page_preview": true,
	})
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string { return "telegram" }
