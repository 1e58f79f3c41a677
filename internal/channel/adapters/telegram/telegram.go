package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/corpai/tggateway/internal/config"
)

const (
	telegramMaxMessageLength = 4096
	telegramMaxCaptionLength = 1024
	defaultTimeout           = 10 * time.Second
)

// Identity is what the platform reports about a bot credential.
type Identity struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
}

// DisplayName prefers the bot's first name and falls back to its username.
func (i Identity) DisplayName() string {
	if name := strings.TrimSpace(i.FirstName); name != "" {
		return name
	}
	return i.Username
}

// Command is one entry of a bot's slash-command list.
type Command struct {
	Command     string `json:"command"`
	Description string `json:"description"`
}

// Adapter is the outbound side of the Telegram Bot API. BotAPI clients are
// cached per token.
type Adapter struct {
	logger   *slog.Logger
	endpoint string
	client   *http.Client
	mu       sync.RWMutex
	bots     map[string]*tgbotapi.BotAPI // keyed by bot token
}

// NewAdapter creates an Adapter. Every API call is bounded by cfg.Timeout.
func NewAdapter(log *slog.Logger, cfg config.TelegramConfig) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	endpoint := strings.TrimSpace(cfg.APIEndpoint)
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	timeout := config.Duration(cfg.Timeout, config.DefaultOutboundTimeout)
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	adapter := &Adapter{
		logger:   log.With(slog.String("adapter", "telegram")),
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		bots:     make(map[string]*tgbotapi.BotAPI),
	}
	_ = tgbotapi.SetLogger(&slogBotLogger{log: adapter.logger})
	return adapter
}

func (a *Adapter) newBot(token string) (*tgbotapi.BotAPI, error) {
	return tgbotapi.NewBotAPIWithClient(token, a.endpoint, a.client)
}

func (a *Adapter) getOrCreateBot(token string) (*tgbotapi.BotAPI, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	a.mu.RLock()
	bot, ok := a.bots[token]
	a.mu.RUnlock()
	if ok {
		return bot, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if bot, ok := a.bots[token]; ok {
		return bot, nil
	}
	bot, err := a.newBot(token)
	if err != nil {
		a.logger.Error("create bot failed", slog.Any("error", err))
		return nil, err
	}
	a.bots[token] = bot
	return bot, nil
}

// Forget drops the cached client for token.
func (a *Adapter) Forget(token string) {
	a.mu.Lock()
	delete(a.bots, strings.TrimSpace(token))
	a.mu.Unlock()
}

// Identify validates token against getMe. It always talks to the platform so
// a revoked token is detected at registration.
func (a *Adapter) Identify(ctx context.Context, token string) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, fmt.Errorf("telegram token is required")
	}
	bot, err := a.newBot(token)
	if err != nil {
		return Identity{}, fmt.Errorf("telegram getMe: %w", err)
	}
	a.mu.Lock()
	a.bots[token] = bot
	a.mu.Unlock()
	return Identity{
		ID:        bot.Self.ID,
		Username:  bot.Self.UserName,
		FirstName: bot.Self.FirstName,
	}, nil
}

// SendText delivers a text message with an optional keyboard and returns the
// platform message id.
func (a *Adapter) SendText(ctx context.Context, token string, chatID int64, text string, kb Keyboard) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	bot, err := a.getOrCreateBot(token)
	if err != nil {
		return 0, err
	}
	text = truncateTelegramText(sanitizeTelegramText(strings.TrimSpace(text)))
	if text == "" {
		return 0, fmt.Errorf("message text is required")
	}
	msg := tgbotapi.NewMessage(chatID, text)
	if markup := kb.markup(); markup != nil {
		msg.ReplyMarkup = markup
	}
	sent, err := bot.Send(msg)
	if err != nil {
		a.logger.Error("send text failed", slog.Int64("chat_id", chatID), slog.Any("error", err))
		return 0, err
	}
	return sent.MessageID, nil
}

// SetCommands replaces the bot's slash-command list.
func (a *Adapter) SetCommands(ctx context.Context, token string, commands []Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	bot, err := a.getOrCreateBot(token)
	if err != nil {
		return err
	}
	items := make([]tgbotapi.BotCommand, 0, len(commands))
	for _, c := range commands {
		items = append(items, tgbotapi.BotCommand{Command: c.Command, Description: c.Description})
	}
	var req tgbotapi.Chattable = tgbotapi.NewSetMyCommands(items...)
	if len(items) == 0 {
		req = tgbotapi.NewDeleteMyCommands()
	}
	_, err = bot.Request(req)
	return err
}

// AnswerCallback acknowledges a callback query so the client stops its spinner.
func (a *Adapter) AnswerCallback(ctx context.Context, token, callbackID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	bot, err := a.getOrCreateBot(token)
	if err != nil {
		return err
	}
	_, err = bot.Request(tgbotapi.NewCallback(callbackID, ""))
	return err
}

// FileURL resolves a file id to a download URL.
func (a *Adapter) FileURL(ctx context.Context, token, fileID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	bot, err := a.getOrCreateBot(token)
	if err != nil {
		return "", err
	}
	return bot.GetFileDirectURL(fileID)
}

// SetWebhook points the bot's updates at url. A non-empty secret is echoed by
// the platform in the X-Telegram-Bot-Api-Secret-Token header.
func (a *Adapter) SetWebhook(ctx context.Context, token, url, secret string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	bot, err := a.getOrCreateBot(token)
	if err != nil {
		return err
	}
	params := tgbotapi.Params{"url": url}
	params.AddNonEmpty("secret_token", secret)
	params["allowed_updates"] = `["message","edited_message","callback_query"]`
	resp, err := bot.MakeRequest("setWebhook", params)
	if err != nil {
		return fmt.Errorf("telegram setWebhook: %w", err)
	}
	if !resp.Ok {
		return fmt.Errorf("telegram setWebhook: %s", resp.Description)
	}
	return nil
}

// DeleteWebhook unregisters the bot's webhook.
func (a *Adapter) DeleteWebhook(ctx context.Context, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	bot, err := a.getOrCreateBot(token)
	if err != nil {
		return err
	}
	_, err = bot.Request(tgbotapi.DeleteWebhookConfig{})
	return err
}

// IsPlatformError reports whether err is an error response from the
// platform API, as opposed to a transport or local failure.
func IsPlatformError(err error) bool {
	var apiErr *tgbotapi.Error
	return errors.As(err, &apiErr)
}

// IsTooManyRequests reports whether err is a platform rate-limit response.
func IsTooManyRequests(err error) bool {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests
	}
	return false
}

// sanitizeTelegramText ensures text is valid UTF-8 for the Telegram API.
func sanitizeTelegramText(text string) string {
	if utf8.ValidString(text) {
		return text
	}
	return strings.ToValidUTF8(text, "")
}

func truncateTelegramText(text string) string {
	return truncateRunes(text, telegramMaxMessageLength, "...")
}

// truncateRunes cuts text to at most limit runes, appending suffix when it
// had to cut.
func truncateRunes(text string, limit int, suffix string) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	keep := limit - utf8.RuneCountInString(suffix)
	if keep < 0 {
		keep = 0
	}
	return string(runes[:keep]) + suffix
}

type slogBotLogger struct {
	log *slog.Logger
}

func (l *slogBotLogger) Println(v ...interface{}) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintln(v...)))
}

func (l *slogBotLogger) Printf(format string, v ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, v...))
}
