package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/corpai/tggateway/internal/bots"
	"github.com/corpai/tggateway/internal/channel/adapters/telegram"
	"github.com/corpai/tggateway/internal/projects"
)

// Platform is the part of the channel adapter used to manage bots.
type Platform interface {
	Identify(ctx context.Context, token string) (telegram.Identity, error)
	SetWebhook(ctx context.Context, token, url, secret string) error
	DeleteWebhook(ctx context.Context, token string) error
	Forget(token string)
}

type RegisterBotRequest struct {
	TelegramToken string `json:"telegram_token" validate:"required"`
	WebURL        string `json:"web_url" validate:"omitempty,url"`
	Locale        string `json:"locale" validate:"omitempty,oneof=ru en"`
}

type UserStatusRequest struct {
	Status *bool `json:"status" validate:"required"`
}

type InvitesResponse struct {
	Items []bots.InviteToken `json:"items"`
}

type ProjectsResponse struct {
	Items []projects.Project `json:"items"`
}

// BotsHandler manages bot registration, members, invites and projects.
type BotsHandler struct {
	bots          *bots.Service
	projects      *projects.Service
	platform      Platform
	publicURL     string
	webhookSecret string
	logger        *slog.Logger
}

func NewBotsHandler(log *slog.Logger, botService *bots.Service, projectService *projects.Service, platform Platform, publicURL, webhookSecret string) *BotsHandler {
	if log == nil {
		log = slog.Default()
	}
	return &BotsHandler{
		bots:          botService,
		projects:      projectService,
		platform:      platform,
		publicURL:     strings.TrimRight(strings.TrimSpace(publicURL), "/"),
		webhookSecret: webhookSecret,
		logger:        log.With(slog.String("handler", "bots")),
	}
}

func (h *BotsHandler) Register(e *echo.Echo) {
	e.POST("/bot", h.RegisterBot)
	g := e.Group("/bot/:id")
	g.DELETE("", h.UnregisterBot)
	g.POST("/logout", h.Logout)
	g.GET("/invites", h.ListInvites)
	g.POST("/invites", h.CreateInvite)
	g.GET("/users", h.ListUsers)
	g.PUT("/users/:user_id/status", h.SetUserStatus)
	g.GET("/projects", h.ListProjects)
	g.POST("/projects", h.CreateProject)
	g.DELETE("/projects/:project_id", h.DeleteProject)
}

// RegisterBot godoc
// @Summary Register a bot
// @Description Validates the token, stores the bot and points its webhook at this gateway
// @Tags bots
// @Param payload body RegisterBotRequest true "Bot credentials"
// @Success 200 {object} bots.Registration
// @Failure 400 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /bot [post]
func (h *BotsHandler) RegisterBot(c echo.Context) error {
	var req RegisterBotRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	token := strings.TrimSpace(req.TelegramToken)
	identity, err := h.platform.Identify(ctx, token)
	if err != nil {
		h.logger.Warn("identify bot failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid telegram bot token")
	}
	reg, err := h.bots.Register(ctx, bots.RegisterParams{
		BotID:  identity.ID,
		Token:  token,
		Name:   identity.Username,
		WebURL: req.WebURL,
		Locale: req.Locale,
	})
	if err != nil {
		if errors.Is(err, bots.ErrInvalidToken) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if h.publicURL != "" {
		hook := h.publicURL + "/webhook/" + strconv.FormatInt(identity.ID, 10)
		if err := h.platform.SetWebhook(ctx, token, hook, h.webhookSecret); err != nil {
			h.logger.Error("set webhook failed", slog.Int64("bot_id", identity.ID), slog.Any("error", err))
			return echo.NewHTTPError(http.StatusBadGateway, "webhook registration failed")
		}
	} else {
		h.logger.Warn("public url not configured, webhook not registered", slog.Int64("bot_id", identity.ID))
	}
	return c.JSON(http.StatusOK, reg)
}

// UnregisterBot godoc
// @Summary Unregister a bot
// @Description Removes the webhook, then the bot with its members, invites and projects
// @Tags bots
// @Param id path int true "Bot ID"
// @Success 204
// @Failure 404 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /bot/{id} [delete]
func (h *BotsHandler) UnregisterBot(c echo.Context) error {
	botID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	token, err := h.bots.Token(ctx, botID)
	if err != nil {
		return h.botError(err)
	}
	if err := h.platform.DeleteWebhook(ctx, token); err != nil {
		h.logger.Error("delete webhook failed", slog.Int64("bot_id", botID), slog.Any("error", err))
		return echo.NewHTTPError(http.StatusBadGateway, "webhook removal failed")
	}
	if err := h.bots.Delete(ctx, botID); err != nil {
		return h.botError(err)
	}
	h.platform.Forget(token)
	return c.NoContent(http.StatusNoContent)
}

// Logout godoc
// @Summary Mark a bot unverified
// @Tags bots
// @Param id path int true "Bot ID"
// @Success 204
// @Router /bot/{id}/logout [post]
func (h *BotsHandler) Logout(c echo.Context) error {
	botID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if err := h.bots.SetVerified(c.Request().Context(), botID, false); err != nil {
		return h.botError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// CreateInvite godoc
// @Summary Create a single-use invite
// @Tags bots
// @Param id path int true "Bot ID"
// @Success 201 {object} bots.InviteToken
// @Router /bot/{id}/invites [post]
func (h *BotsHandler) CreateInvite(c echo.Context) error {
	botID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	bot, err := h.bots.Get(ctx, botID)
	if err != nil {
		return h.botError(err)
	}
	invite, err := h.bots.CreateInvite(ctx, botID)
	if err != nil {
		return h.botError(err)
	}
	invite.Link = deepLink(bot.Name, invite.Token)
	return c.JSON(http.StatusCreated, invite)
}

// ListInvites godoc
// @Summary List invites
// @Tags bots
// @Param id path int true "Bot ID"
// @Success 200 {object} InvitesResponse
// @Router /bot/{id}/invites [get]
func (h *BotsHandler) ListInvites(c echo.Context) error {
	botID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	bot, err := h.bots.Get(ctx, botID)
	if err != nil {
		return h.botError(err)
	}
	items, err := h.bots.ListInvites(ctx, botID)
	if err != nil {
		return h.botError(err)
	}
	for i := range items {
		if !items[i].Used {
			items[i].Link = deepLink(bot.Name, items[i].Token)
		}
	}
	return c.JSON(http.StatusOK, InvitesResponse{Items: items})
}

// ListUsers godoc
// @Summary List members
// @Tags bots
// @Param id path int true "Bot ID"
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {object} bots.UsersPage
// @Router /bot/{id}/users [get]
func (h *BotsHandler) ListUsers(c echo.Context) error {
	botID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	limit, offset := int32(0), int32(0)
	if raw := c.QueryParam("limit"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 32)
		if err != nil || v < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		limit = int32(v)
	}
	if raw := c.QueryParam("offset"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 32)
		if err != nil || v < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "offset must be a non-negative integer")
		}
		offset = int32(v)
	}
	page, err := h.bots.ListMembers(c.Request().Context(), botID, limit, offset)
	if err != nil {
		return h.botError(err)
	}
	return c.JSON(http.StatusOK, page)
}

// SetUserStatus godoc
// @Summary Activate or deactivate a member
// @Tags bots
// @Param id path int true "Bot ID"
// @Param user_id path int true "User ID"
// @Param payload body UserStatusRequest true "Status"
// @Success 200 {object} bots.Member
// @Failure 404 {object} ErrorResponse
// @Router /bot/{id}/users/{user_id}/status [put]
func (h *BotsHandler) SetUserStatus(c echo.Context) error {
	botID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	userID, err := parseID(c, "user_id")
	if err != nil {
		return err
	}
	var req UserStatusRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	m, err := h.bots.SetMemberActive(c.Request().Context(), botID, userID, *req.Status)
	if err != nil {
		return h.botError(err)
	}
	return c.JSON(http.StatusOK, m)
}

// ListProjects godoc
// @Summary List projects
// @Tags projects
// @Param id path int true "Bot ID"
// @Success 200 {object} ProjectsResponse
// @Router /bot/{id}/projects [get]
func (h *BotsHandler) ListProjects(c echo.Context) error {
	botID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	items, err := h.projects.List(c.Request().Context(), botID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, ProjectsResponse{Items: items})
}

// CreateProject godoc
// @Summary Create a project
// @Description Every current member is enrolled; a main project replaces the previous one
// @Tags projects
// @Param id path int true "Bot ID"
// @Param payload body projects.CreateParams true "Project"
// @Success 201 {object} projects.Project
// @Failure 409 {object} ErrorResponse
// @Router /bot/{id}/projects [post]
func (h *BotsHandler) CreateProject(c echo.Context) error {
	botID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req projects.CreateParams
	if err := bindValid(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	if _, err := h.bots.Get(ctx, botID); err != nil {
		return h.botError(err)
	}
	p, err := h.projects.Create(ctx, botID, req)
	if err != nil {
		return projectError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

// DeleteProject godoc
// @Summary Delete a project
// @Tags projects
// @Param id path int true "Bot ID"
// @Param project_id path int true "Project ID"
// @Success 204
// @Failure 404 {object} ErrorResponse
// @Router /bot/{id}/projects/{project_id} [delete]
func (h *BotsHandler) DeleteProject(c echo.Context) error {
	botID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	projectID, err := parseID(c, "project_id")
	if err != nil {
		return err
	}
	if err := h.projects.Delete(c.Request().Context(), botID, projectID); err != nil {
		return projectError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *BotsHandler) botError(err error) error {
	switch {
	case errors.Is(err, bots.ErrBotNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "bot not found")
	case errors.Is(err, bots.ErrMemberNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "member not found")
	}
	h.logger.Error("bot operation failed", slog.Any("error", err))
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func projectError(err error) error {
	switch {
	case errors.Is(err, projects.ErrProjectNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, projects.ErrProjectExists):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, projects.ErrInvalidProject):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func deepLink(username, token string) string {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	if username == "" {
		return ""
	}
	return "https://t.me/" + username + "?start=" + url.QueryEscape(token)
}
