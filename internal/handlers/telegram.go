package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/labstack/echo/v4"

	"github.com/corpai/tggateway/internal/webhook"
)

const secretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// TelegramHandler receives chat-platform webhook calls.
type TelegramHandler struct {
	router *webhook.Router
	secret string
	logger *slog.Logger
}

func NewTelegramHandler(log *slog.Logger, router *webhook.Router, secret string) *TelegramHandler {
	if log == nil {
		log = slog.Default()
	}
	return &TelegramHandler{
		router: router,
		secret: strings.TrimSpace(secret),
		logger: log.With(slog.String("handler", "telegram")),
	}
}

func (h *TelegramHandler) Register(e *echo.Echo) {
	e.POST("/webhook/:bot_id", h.HandleWebhook)
}

// HandleWebhook godoc
// @Summary Telegram webhook
// @Description Processes one update. Failures are reported in the body with HTTP 200.
// @Tags telegram
// @Param bot_id path int true "Bot ID"
// @Success 200 {object} WebhookAck
// @Failure 403 {object} ErrorResponse
// @Router /webhook/{bot_id} [post]
func (h *TelegramHandler) HandleWebhook(c echo.Context) error {
	if h.secret != "" {
		got := c.Request().Header.Get(secretTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			return echo.NewHTTPError(http.StatusForbidden, "invalid secret token")
		}
	}
	botID, err := strconv.ParseInt(strings.TrimSpace(c.Param("bot_id")), 10, 64)
	if err != nil {
		return c.JSON(http.StatusOK, WebhookAck{OK: false, Error: "invalid bot id"})
	}
	var update tgbotapi.Update
	if err := json.NewDecoder(c.Request().Body).Decode(&update); err != nil {
		h.logger.Warn("decode update failed", slog.Int64("bot_id", botID), slog.Any("error", err))
		return c.JSON(http.StatusOK, WebhookAck{OK: false, Error: "invalid update"})
	}

	// The platform may drop the connection; the update is still processed.
	ctx := context.WithoutCancel(c.Request().Context())
	res := h.router.Handle(ctx, botID, update)
	if !res.OK() {
		return c.JSON(http.StatusOK, WebhookAck{OK: false, Outcome: string(res.Outcome), Error: res.Err.Error()})
	}
	return c.JSON(http.StatusOK, WebhookAck{Status: "ok", OK: true, Outcome: string(res.Outcome)})
}
