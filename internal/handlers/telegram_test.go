package handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hookSecret = "hook-secret"

func newWebhookEcho(t *testing.T) (*fixture, *http.Header, func(path string, body any) WebhookAck) {
	t.Helper()
	f := newFixture(t)
	e := newEcho()
	NewTelegramHandler(nil, f.router(), hookSecret).Register(e)
	header := &http.Header{}
	header.Set(secretTokenHeader, hookSecret)
	post := func(path string, body any) WebhookAck {
		rec := doJSON(t, e, http.MethodPost, path, body, *header)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		return decode[WebhookAck](t, rec)
	}
	return f, header, post
}

func textUpdateJSON(userID int64, text string) map[string]any {
	return map[string]any{
		"update_id": 1,
		"message": map[string]any{
			"message_id": 10,
			"date":       1700000000,
			"from":       map[string]any{"id": userID, "first_name": "Ann"},
			"chat":       map[string]any{"id": userID, "type": "private"},
			"text":       text,
		},
	}
}

func TestTelegramWebhookRejectsBadSecret(t *testing.T) {
	f := newFixture(t)
	e := newEcho()
	NewTelegramHandler(nil, f.router(), hookSecret).Register(e)

	rec := doJSON(t, e, http.MethodPost, "/webhook/1", textUpdateJSON(5, "hi"), http.Header{secretTokenHeader: {"wrong"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, e, http.MethodPost, "/webhook/1", textUpdateJSON(5, "hi"), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestTelegramWebhookUnregisteredBot(t *testing.T) {
	_, _, post := newWebhookEcho(t)

	ack := post("/webhook/77", textUpdateJSON(5, "hi"))
	assert.False(t, ack.OK)
	assert.Equal(t, "failed", ack.Outcome)
	assert.Equal(t, "bot not registered", ack.Error)
}

func TestTelegramWebhookMalformedInput(t *testing.T) {
	_, _, post := newWebhookEcho(t)

	ack := post("/webhook/abc", textUpdateJSON(5, "hi"))
	assert.False(t, ack.OK)
	assert.Equal(t, "invalid bot id", ack.Error)

	ack = post("/webhook/1", "{not json")
	assert.False(t, ack.OK)
	assert.Equal(t, "invalid update", ack.Error)
}

func TestTelegramWebhookRepliesToStranger(t *testing.T) {
	f, _, post := newWebhookEcho(t)
	f.register(t, 1, "shop_bot")

	ack := post("/webhook/1", textUpdateJSON(5, "hello"))
	assert.True(t, ack.OK)
	assert.Equal(t, "ok", ack.Status)
	assert.Equal(t, "replied", ack.Outcome)
	assert.Equal(t, 1, f.messenger.count())
	assert.Empty(t, f.forwarder.events)
}

func TestTelegramWebhookWithoutSecret(t *testing.T) {
	f := newFixture(t)
	f.register(t, 1, "shop_bot")
	e := newEcho()
	NewTelegramHandler(nil, f.router(), "").Register(e)

	rec := doJSON(t, e, http.MethodPost, "/webhook/1", textUpdateJSON(5, "hello"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[WebhookAck](t, rec).OK)
}
