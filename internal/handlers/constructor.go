package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"gopkg.in/yaml.v3"

	"github.com/corpai/tggateway/internal/channel/adapters/telegram"
	"github.com/corpai/tggateway/internal/webhook"
)

// TokenSource resolves a bot's platform token.
type TokenSource interface {
	Token(ctx context.Context, botID int64) (string, error)
}

// Sender is the outbound part of the channel adapter.
type Sender interface {
	SendText(ctx context.Context, token string, chatID int64, text string, kb telegram.Keyboard) (int, error)
	SendMedia(ctx context.Context, token string, chatID int64, m telegram.Media, kb telegram.Keyboard) (int, error)
}

// ChatRef identifies the chat of a send request.
type ChatRef struct {
	ExternalID        string         `json:"externalId" validate:"required"`
	MessengerInstance string         `json:"messengerInstance"`
	Contact           string         `json:"contact"`
	Operator          string         `json:"operator"`
	MessengerID       string         `json:"messengerId"`
	ExtraData         map[string]any `json:"extraData,omitempty"`
}

type SendTextMessageRequest struct {
	Chat          ChatRef                   `json:"chat" validate:"required"`
	QuickReplies  [][]telegram.QuickReply   `json:"quickReplies,omitempty"`
	InlineButtons [][]telegram.InlineButton `json:"inlineButtons,omitempty"`
	Text          string                    `json:"text"`
}

type FileRef struct {
	Type string `json:"type" validate:"required"`
	URL  string `json:"url" validate:"required,url"`
	Mime string `json:"mime"`
}

type SendMediaMessageRequest struct {
	Chat          ChatRef                   `json:"chat" validate:"required"`
	QuickReplies  [][]telegram.QuickReply   `json:"quickReplies,omitempty"`
	InlineButtons [][]telegram.InlineButton `json:"inlineButtons,omitempty"`
	File          FileRef                   `json:"file" validate:"required"`
	Caption       string                    `json:"caption"`
}

// SendSystemMessageRequest carries a JSON-encoded session event in Text.
type SendSystemMessageRequest struct {
	Chat ChatRef `json:"chat" validate:"required"`
	Text string  `json:"text" validate:"required"`
}

// ConstructorHandler serves the endpoints the integration backend calls.
type ConstructorHandler struct {
	tokens     TokenSource
	sender     Sender
	router     *webhook.Router
	schemaPath string
	logger     *slog.Logger
}

func NewConstructorHandler(log *slog.Logger, tokens TokenSource, sender Sender, router *webhook.Router, schemaPath string) *ConstructorHandler {
	if log == nil {
		log = slog.Default()
	}
	return &ConstructorHandler{
		tokens:     tokens,
		sender:     sender,
		router:     router,
		schemaPath: schemaPath,
		logger:     log.With(slog.String("handler", "constructor")),
	}
}

func (h *ConstructorHandler) Register(e *echo.Echo) {
	e.GET("/schema", h.GetSchema)
	e.POST("/:id/sendTextMessage", h.SendTextMessage)
	e.POST("/:id/sendMediaMessage", h.SendMediaMessage)
	e.POST("/:id/sendSystemMessage", h.SendSystemMessage)
}

// GetSchema godoc
// @Summary Integration scheme
// @Description Returns the integration scheme as JSON, or YAML with format=yaml
// @Tags constructor
// @Param format query string false "json or yaml"
// @Success 200 {object} map[string]any
// @Failure 500 {object} ErrorResponse
// @Router /schema [get]
func (h *ConstructorHandler) GetSchema(c echo.Context) error {
	raw, err := os.ReadFile(h.schemaPath)
	if err != nil {
		h.logger.Error("read schema failed", slog.String("path", h.schemaPath), slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "schema not available")
	}
	var doc any
	switch strings.ToLower(filepath.Ext(h.schemaPath)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, &doc)
	default:
		err = json.Unmarshal(raw, &doc)
	}
	if err != nil {
		h.logger.Error("decode schema failed", slog.String("path", h.schemaPath), slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "schema is invalid")
	}
	if strings.EqualFold(c.QueryParam("format"), "yaml") {
		out, err := yaml.Marshal(doc)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.Blob(http.StatusOK, "application/yaml", out)
	}
	return c.JSON(http.StatusOK, doc)
}

// SendTextMessage godoc
// @Summary Send a text message
// @Tags constructor
// @Param id path int true "Bot ID"
// @Param payload body SendTextMessageRequest true "Message"
// @Success 200 {object} ChatEcho
// @Router /{id}/sendTextMessage [post]
func (h *ConstructorHandler) SendTextMessage(c echo.Context) error {
	var req SendTextMessageRequest
	botID, chatID, token, failure := h.prepare(c, &req, func() ChatRef { return req.Chat })
	if failure != nil {
		return c.JSON(http.StatusOK, failure)
	}
	kb := telegram.Keyboard{Reply: req.QuickReplies, Inline: req.InlineButtons}
	if _, err := h.sender.SendText(c.Request().Context(), token, chatID, req.Text, kb); err != nil {
		h.logger.Warn("send text failed", slog.Int64("bot_id", botID), slog.Any("error", err))
		return c.JSON(http.StatusOK, SoftFailure{Message: err.Error(), Code: failureCode(err)})
	}
	return c.JSON(http.StatusOK, ChatEcho{ExternalID: req.Chat.ExternalID, MessengerID: req.Chat.MessengerID})
}

// SendMediaMessage godoc
// @Summary Send a media message
// @Tags constructor
// @Param id path int true "Bot ID"
// @Param payload body SendMediaMessageRequest true "Message"
// @Success 200 {object} ChatEcho
// @Router /{id}/sendMediaMessage [post]
func (h *ConstructorHandler) SendMediaMessage(c echo.Context) error {
	var req SendMediaMessageRequest
	botID, chatID, token, failure := h.prepare(c, &req, func() ChatRef { return req.Chat })
	if failure != nil {
		return c.JSON(http.StatusOK, failure)
	}
	media := telegram.Media{Type: req.File.Type, URL: req.File.URL, Mime: req.File.Mime, Caption: req.Caption}
	kb := telegram.Keyboard{Reply: req.QuickReplies, Inline: req.InlineButtons}
	if _, err := h.sender.SendMedia(c.Request().Context(), token, chatID, media, kb); err != nil {
		h.logger.Warn("send media failed", slog.Int64("bot_id", botID), slog.String("type", req.File.Type), slog.Any("error", err))
		return c.JSON(http.StatusOK, SoftFailure{Message: err.Error(), Code: failureCode(err)})
	}
	return c.JSON(http.StatusOK, ChatEcho{ExternalID: req.Chat.ExternalID, MessengerID: req.Chat.MessengerID})
}

// SendSystemMessage godoc
// @Summary Session started/stopped notification
// @Tags constructor
// @Param id path int true "Bot ID"
// @Param payload body SendSystemMessageRequest true "Event"
// @Success 200 {object} ChatEcho
// @Router /{id}/sendSystemMessage [post]
func (h *ConstructorHandler) SendSystemMessage(c echo.Context) error {
	var req SendSystemMessageRequest
	botID, chatID, _, failure := h.prepare(c, &req, func() ChatRef { return req.Chat })
	if failure != nil {
		return c.JSON(http.StatusOK, failure)
	}
	ev, err := webhook.ParseSystemEvent(req.Text)
	if err != nil {
		return c.JSON(http.StatusOK, SoftFailure{Message: err.Error(), Code: CodeFeatureNotSupported})
	}
	res := h.router.HandleSystem(context.WithoutCancel(c.Request().Context()), botID, chatID, ev)
	if !res.OK() {
		code := CodeInternalServerError
		if errors.Is(res.Err, webhook.ErrUnsupportedEvent) {
			code = CodeFeatureNotSupported
		}
		return c.JSON(http.StatusOK, SoftFailure{Message: res.Err.Error(), Code: code})
	}
	return c.JSON(http.StatusOK, ChatEcho{ExternalID: req.Chat.ExternalID, MessengerID: req.Chat.MessengerID})
}

// prepare binds the body and resolves bot id, chat id and token. A non-nil
// SoftFailure is the response to send instead.
func (h *ConstructorHandler) prepare(c echo.Context, req any, chat func() ChatRef) (int64, int64, string, *SoftFailure) {
	botID, err := parseID(c, "id")
	if err != nil {
		return 0, 0, "", &SoftFailure{Message: "invalid bot id", Code: CodeInternalServerError}
	}
	if err := bindValid(c, req); err != nil {
		return 0, 0, "", &SoftFailure{Message: errorMessage(err), Code: CodeInternalServerError}
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(chat().ExternalID), 10, 64)
	if err != nil {
		return 0, 0, "", &SoftFailure{Message: "chat externalId must be numeric", Code: CodeInternalServerError}
	}
	token, err := h.tokens.Token(c.Request().Context(), botID)
	if err != nil {
		h.logger.Warn("resolve bot token failed", slog.Int64("bot_id", botID), slog.Any("error", err))
		return 0, 0, "", &SoftFailure{Message: "bot not registered", Code: CodeInternalServerError}
	}
	return botID, chatID, token, nil
}

// failureCode maps a send error to a soft-failure code. Rate limits are
// transient and reported as internal errors so the caller may retry later.
func failureCode(err error) string {
	switch {
	case telegram.IsTooManyRequests(err):
		return CodeInternalServerError
	case errors.Is(err, telegram.ErrUnsupportedMedia), errors.Is(err, telegram.ErrMediaTooLarge), telegram.IsPlatformError(err):
		return CodeFeatureNotSupported
	}
	return CodeInternalServerError
}

func errorMessage(err error) string {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		if s, ok := he.Message.(string); ok {
			return s
		}
	}
	return err.Error()
}
