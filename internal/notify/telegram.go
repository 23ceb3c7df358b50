package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"tradedesk/internal/util"
)

// DefaultTelegramURL is the public Bot API endpoint.
const DefaultTelegramURL = "https://api.telegram.org"

// TelegramSender posts messages to a chat through the Telegram Bot API.
type TelegramSender struct {
	client *resty.Client
	token  string
	chatID string
}

// NewTelegramSender creates a TelegramSender. An empty baseURL selects
// DefaultTelegramURL.
func NewTelegramSender(baseURL, botToken, chatID string) (*TelegramSender, error) {
	if botToken == "" || chatID == "" {
		return nil, fmt.Errorf("telegram: bot token and chat id are required")
	}
	if baseURL == "" {
		baseURL = DefaultTelegramURL
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15*time.Second).
		SetHeader("Content-Type", "application/json")
	return &TelegramSender{client: client, token: botToken, chatID: chatID}, nil
}

// Name returns "telegram".
func (t *TelegramSender) Name() string { return "telegram" }

type telegramReply struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Send posts the Markdown rendering of msg. Client errors other than rate
// limiting are permanent.
func (t *TelegramSender) Send(ctx context.Context, msg Message) error {
	var reply telegramReply
	resp, err := t.client.R().
		SetContext(ctx).
		SetPathParam("token", t.token).
		SetBody(map[string]any{
			"chat_id":    t.chatID,
			"text":       msg.RenderMarkdown(),
			"parse_mode": "Markdown",
		}).
		SetResult(&reply).
		SetError(&reply).
		Post("/bot{token}/sendMessage")
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}

	code := resp.StatusCode()
	switch {
	case code/100 == 2 && reply.OK:
		return nil
	case code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("telegram: status=%d %s", code, reply.Description)
	case code/100 == 4:
		return util.Permanent(fmt.Errorf("telegram: status=%d %s", code, reply.Description))
	default:
		return fmt.Errorf("telegram: status=%d ok=%v %s", code, reply.OK, reply.Description)
	}
}
