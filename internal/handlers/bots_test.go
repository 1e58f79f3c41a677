package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corpai/tggateway/internal/bots"
	"github.com/corpai/tggateway/internal/channel/adapters/telegram"
	"github.com/corpai/tggateway/internal/projects"
)

type fakePlatform struct {
	identity    telegram.Identity
	identifyErr error
	webhookErr  error
	hookURL     string
	hookSecret  string
	deleted     []string
	forgotten   []string
}

func (p *fakePlatform) Identify(context.Context, string) (telegram.Identity, error) {
	return p.identity, p.identifyErr
}

func (p *fakePlatform) SetWebhook(_ context.Context, _ string, url, secret string) error {
	p.hookURL, p.hookSecret = url, secret
	return p.webhookErr
}

func (p *fakePlatform) DeleteWebhook(_ context.Context, token string) error {
	p.deleted = append(p.deleted, token)
	return nil
}

func (p *fakePlatform) Forget(token string) {
	p.forgotten = append(p.forgotten, token)
}

func newBotsAPI(t *testing.T) (*fixture, *fakePlatform, *echo.Echo) {
	t.Helper()
	f := newFixture(t)
	platform := &fakePlatform{identity: telegram.Identity{ID: 42, Username: "shop_bot", FirstName: "Shop"}}
	e := newEcho()
	NewBotsHandler(nil, f.bots, f.projects, platform, "https://gw.example/", "hook-secret").Register(e)
	return f, platform, e
}

func TestRegisterBot(t *testing.T) {
	_, platform, e := newBotsAPI(t)

	rec := doJSON(t, e, http.MethodPost, "/bot", RegisterBotRequest{TelegramToken: "42:token", Locale: "en"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	reg := decode[bots.Registration](t, rec)
	assert.Equal(t, int64(42), reg.BotID)
	assert.Equal(t, "shop_bot", reg.BotName)
	assert.NotEmpty(t, reg.PassUUID)
	assert.True(t, reg.Created)
	assert.Equal(t, "https://gw.example/webhook/42", platform.hookURL)
	assert.Equal(t, "hook-secret", platform.hookSecret)

	rec = doJSON(t, e, http.MethodPost, "/bot", RegisterBotRequest{TelegramToken: "42:token"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[bots.Registration](t, rec).Created)
}

func TestRegisterBotFailures(t *testing.T) {
	_, platform, e := newBotsAPI(t)

	rec := doJSON(t, e, http.MethodPost, "/bot", map[string]any{}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, e, http.MethodPost, "/bot", RegisterBotRequest{TelegramToken: "x", Locale: "de"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	platform.identifyErr = errors.New("unauthorized")
	rec = doJSON(t, e, http.MethodPost, "/bot", RegisterBotRequest{TelegramToken: "bad"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	platform.identifyErr = nil
	platform.webhookErr = errors.New("bad webhook url")
	rec = doJSON(t, e, http.MethodPost, "/bot", RegisterBotRequest{TelegramToken: "42:token"}, nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestInvites(t *testing.T) {
	f, _, e := newBotsAPI(t)
	f.register(t, 42, "@shop_bot")

	rec := doJSON(t, e, http.MethodPost, "/bot/42/invites", nil, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	invite := decode[bots.InviteToken](t, rec)
	assert.Equal(t, "https://t.me/shop_bot?start="+invite.Token, invite.Link)
	assert.False(t, invite.Used)

	ok, err := f.bots.UseInvite(context.Background(), 42, invite.Token, 7)
	require.NoError(t, err)
	require.True(t, ok)
	rec = doJSON(t, e, http.MethodPost, "/bot/42/invites", nil, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, e, http.MethodGet, "/bot/42/invites", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[InvitesResponse](t, rec)
	require.Len(t, list.Items, 2)
	for _, item := range list.Items {
		if item.Used {
			assert.Empty(t, item.Link)
		} else {
			assert.True(t, strings.HasPrefix(item.Link, "https://t.me/shop_bot?start="))
		}
	}

	rec = doJSON(t, e, http.MethodGet, "/bot/9/invites", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUsers(t *testing.T) {
	f, _, e := newBotsAPI(t)
	f.register(t, 42, "shop_bot")
	_, err := f.bots.AddMember(context.Background(), 42, bots.User{ID: 7, Name: "Ann"}, false)
	require.NoError(t, err)

	rec := doJSON(t, e, http.MethodPut, "/bot/42/users/7/status", map[string]any{"status": false}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.False(t, decode[bots.Member](t, rec).IsActive)

	rec = doJSON(t, e, http.MethodGet, "/bot/42/users?limit=10", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[bots.UsersPage](t, rec)
	assert.Equal(t, int64(1), page.Total)
	require.Len(t, page.Users, 1)
	assert.False(t, page.Users[0].Status)

	rec = doJSON(t, e, http.MethodPut, "/bot/42/users/8/status", map[string]any{"status": true}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, e, http.MethodPut, "/bot/42/users/7/status", map[string]any{}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, e, http.MethodGet, "/bot/42/users?limit=-1", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProjects(t *testing.T) {
	f, _, e := newBotsAPI(t)
	f.register(t, 42, "shop_bot")

	rec := doJSON(t, e, http.MethodPost, "/bot/42/projects", projects.CreateParams{Code: "main", IsMain: true}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[projects.Project](t, rec)
	assert.Equal(t, "main", created.Title)

	rec = doJSON(t, e, http.MethodPost, "/bot/42/projects", projects.CreateParams{Code: "main"}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, e, http.MethodPost, "/bot/42/projects", projects.CreateParams{}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, e, http.MethodPost, "/bot/9/projects", projects.CreateParams{Code: "x"}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, e, http.MethodGet, "/bot/42/projects", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[ProjectsResponse](t, rec).Items, 1)

	path := "/bot/42/projects/" + strconv.FormatInt(created.ID, 10)
	rec = doJSON(t, e, http.MethodDelete, path, nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = doJSON(t, e, http.MethodDelete, path, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLogoutAndUnregister(t *testing.T) {
	f, platform, e := newBotsAPI(t)
	f.register(t, 42, "shop_bot")
	ctx := context.Background()
	require.NoError(t, f.bots.SetVerified(ctx, 42, true))

	rec := doJSON(t, e, http.MethodPost, "/bot/42/logout", nil, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	bot, err := f.bots.Get(ctx, 42)
	require.NoError(t, err)
	assert.False(t, bot.Verified)

	rec = doJSON(t, e, http.MethodDelete, "/bot/42", nil, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"123:abc"}, platform.deleted)
	assert.Equal(t, []string{"123:abc"}, platform.forgotten)

	_, err = f.bots.Get(ctx, 42)
	assert.ErrorIs(t, err, bots.ErrBotNotFound)

	rec = doJSON(t, e, http.MethodDelete, "/bot/42", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, e, http.MethodDelete, "/bot/abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeepLink(t *testing.T) {
	assert.Equal(t, "https://t.me/shop_bot?start=a+b", deepLink(" @shop_bot ", "a b"))
	assert.Empty(t, deepLink("", "x"))
}
