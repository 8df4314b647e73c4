package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// botAPI is the part of tgbotapi.BotAPI the sender uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram sends messages through the Bot API. Targets are numeric chat ids
// or public channel usernames such as "@agency_feed".
type Telegram struct {
	bot botAPI
}

const telegramTimeout = 30 * time.Second

func NewTelegram(token string) (*Telegram, error) {
	return newTelegram(token, tgbotapi.APIEndpoint, &http.Client{Timeout: telegramTimeout})
}

func newTelegram(token, endpoint string, client *http.Client) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, statusClient{client: client})
	if err != nil {
		return nil, fmt.Errorf("transport: telegram login: %w", err)
	}
	return &Telegram{bot: bot}, nil
}

// maxErrorBody caps how much of a failed response is read.
const maxErrorBody = 64 << 10

// statusClient keeps the HTTP status of failed responses that carry no Bot API
// envelope, such as a proxy's 502 page. The Bot API client would otherwise
// only report the JSON decode error.
type statusClient struct {
	client *http.Client
}

func (c statusClient) Do(req *http.Request) (*http.Response, error) {
	resp, err := c.client.Do(req)
	if err != nil || resp.StatusCode < http.StatusMultipleChoices {
		return resp, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
	if err == nil && json.Valid(body) {
		resp.Body = io.NopCloser(bytes.NewReader(body))
		return resp, nil
	}
	return nil, &Error{
		StatusCode: resp.StatusCode,
		Code:       "http",
		Message:    http.StatusText(resp.StatusCode),
	}
}

func newTelegramWithBot(bot botAPI) *Telegram {
	return &Telegram{bot: bot}
}

func (t *Telegram) Send(ctx context.Context, target, text string, actions []Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg, err := newMessage(target, text)
	if err != nil {
		return err
	}
	if markup, ok := keyboard(actions); ok {
		msg.ReplyMarkup = markup
	}

	if _, err := t.bot.Send(msg); err != nil {
		return translate(err)
	}
	return nil
}

func newMessage(target, text string) (tgbotapi.MessageConfig, error) {
	target = strings.TrimSpace(target)
	if strings.HasPrefix(target, "@") && len(target) > 1 {
		return tgbotapi.NewMessageToChannel(target, text), nil
	}
	chatID, err := strconv.ParseInt(target, 10, 64)
	if err != nil || chatID == 0 {
		return tgbotapi.MessageConfig{}, fmt.Errorf("%w: %q", ErrMalformedTarget, target)
	}
	return tgbotapi.NewMessage(chatID, text), nil
}

func keyboard(actions []Action) (tgbotapi.InlineKeyboardMarkup, bool) {
	var buttons []tgbotapi.InlineKeyboardButton
	for _, a := range actions {
		if a.URL == "" {
			continue
		}
		buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonURL(a.Label, a.URL))
	}
	if len(buttons) == 0 {
		return tgbotapi.InlineKeyboardMarkup{}, false
	}
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(buttons...)), true
}

// translate turns Bot API failures into *Error. Network errors pass through unchanged.
func translate(err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return &Error{
			StatusCode: apiErr.Code,
			Code:       "telegram",
			Message:    apiErr.Message,
			RetryAfter: time.Duration(apiErr.RetryAfter) * time.Second,
		}
	}
	return err
}
