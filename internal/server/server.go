package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/corpai/tggateway/internal/auth"
	"github.com/corpai/tggateway/internal/handlers"
	"github.com/corpai/tggateway/internal/metrics"
)

type Server struct {
	echo   *echo.Echo
	addr   string
	logger *slog.Logger
}

func NewServer(log *slog.Logger, addr string, jwtSecret string, m *metrics.Metrics, pingHandler *handlers.PingHandler, telegramHandler *handlers.TelegramHandler, constructorHandler *handlers.ConstructorHandler, botsHandler *handlers.BotsHandler, accountHandler *handlers.AccountHandler, metricsHandler *handlers.MetricsHandler) *Server {
	if log == nil {
		log = slog.Default()
	}
	if addr == "" {
		addr = ":8080"
	}
	logger := log.With(slog.String("service", "server"))

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = NewValidator()
	e.Use(middleware.Recover())
	e.Use(requestLogger(logger))
	if m != nil {
		e.Use(m.Middleware())
	}
	if strings.TrimSpace(jwtSecret) != "" {
		e.Use(auth.JWTMiddleware(jwtSecret, func(c echo.Context) bool {
			return shouldSkipJWT(c.Request().Method, c.Request().URL.Path)
		}))
		e.Use(botScope)
	} else {
		logger.Warn("jwt secret not configured, api routes are unauthenticated")
	}

	if pingHandler != nil {
		pingHandler.Register(e)
	}
	if telegramHandler != nil {
		telegramHandler.Register(e)
	}
	if constructorHandler != nil {
		constructorHandler.Register(e)
	}
	if botsHandler != nil {
		botsHandler.Register(e)
	}
	if accountHandler != nil {
		accountHandler.Register(e)
	}
	if metricsHandler != nil {
		metricsHandler.Register(e)
	}

	return &Server{
		echo:   e,
		addr:   addr,
		logger: logger,
	}
}

// shouldSkipJWT lists the routes reachable without a service token: the
// platform webhook (protected by its own secret header), health probes, the
// public scheme and the scrape endpoint.
func shouldSkipJWT(method, path string) bool {
	switch path {
	case "/ping", "/health", "/schema":
		return true
	case "/metrics":
		return method == http.MethodGet
	}
	if strings.HasPrefix(path, "/webhook/") {
		return len(strings.TrimPrefix(path, "/webhook/")) > 0
	}
	return false
}

// botScope enforces bot-bound tokens on routes carrying a bot id.
func botScope(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if shouldSkipJWT(c.Request().Method, c.Request().URL.Path) {
			return next(c)
		}
		raw := c.Param("id")
		if raw == "" {
			return next(c)
		}
		botID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return next(c)
		}
		if err := auth.AuthorizeBot(c, botID); err != nil {
			return err
		}
		return next(c)
	}
}

func requestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURIPath:   true,
		LogRoutePath: true,
		LogStatus:    true,
		LogLatency:   true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("path", v.URIPath),
				slog.String("route", v.RoutePath),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
			}
			level := slog.LevelInfo
			if v.Error != nil {
				attrs = append(attrs, slog.Any("error", v.Error))
			}
			if v.Status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.LogAttrs(c.Request().Context(), level, "request", attrs...)
			return nil
		},
	})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start() error {
	s.logger.Info("http server listening", slog.String("addr", s.addr))
	if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
