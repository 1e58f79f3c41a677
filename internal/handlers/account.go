package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/corpai/tggateway/internal/forwarder"
)

// AccountRegistrar announces bots to the integration backend.
type AccountRegistrar interface {
	RegisterAccount(ctx context.Context, botID, name, email string) (json.RawMessage, error)
}

type IntegrateUserRequest struct {
	BotID string `json:"bot_id" validate:"required"`
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"required,email"`
}

// AccountHandler registers bots as accounts of the integration backend.
type AccountHandler struct {
	registrar AccountRegistrar
	logger    *slog.Logger
}

func NewAccountHandler(log *slog.Logger, registrar AccountRegistrar) *AccountHandler {
	if log == nil {
		log = slog.Default()
	}
	return &AccountHandler{registrar: registrar, logger: log.With(slog.String("handler", "account"))}
}

func (h *AccountHandler) Register(e *echo.Echo) {
	e.POST("/api/user", h.IntegrateUser)
}

// IntegrateUser godoc
// @Summary Register a bot with the integration backend
// @Tags api
// @Param payload body IntegrateUserRequest true "Account"
// @Success 200 {object} map[string]any
// @Failure 400 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /api/user [post]
func (h *AccountHandler) IntegrateUser(c echo.Context) error {
	var req IntegrateUserRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	body, err := h.registrar.RegisterAccount(c.Request().Context(), req.BotID, req.Name, req.Email)
	if err != nil {
		var statusErr *forwarder.StatusError
		if errors.As(err, &statusErr) {
			return echo.NewHTTPError(statusErr.StatusCode, statusErr.Body)
		}
		h.logger.Error("register account failed", slog.String("bot_id", req.BotID), slog.Any("error", err))
		return echo.NewHTTPError(http.StatusBadGateway, "integration backend unavailable")
	}
	return c.JSONBlob(http.StatusOK, body)
}
