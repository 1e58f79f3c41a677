package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

const healthTimeout = 2 * time.Second

// HealthCheck probes one dependency.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type PingHandler struct {
	checks []HealthCheck
	logger *slog.Logger
}

func NewPingHandler(log *slog.Logger, checks ...HealthCheck) *PingHandler {
	if log == nil {
		log = slog.Default()
	}
	return &PingHandler{checks: checks, logger: log.With(slog.String("handler", "ping"))}
}

func (h *PingHandler) Register(e *echo.Echo) {
	e.GET("/ping", h.Ping)
	e.HEAD("/health", h.Health)
}

func (h *PingHandler) Ping(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Health answers 503 when any dependency check fails.
func (h *PingHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
	defer cancel()
	for _, hc := range h.checks {
		if err := hc.Check(ctx); err != nil {
			h.logger.Warn("health check failed", slog.String("check", hc.Name), slog.Any("error", err))
			return c.NoContent(http.StatusServiceUnavailable)
		}
	}
	return c.NoContent(http.StatusOK)
}
