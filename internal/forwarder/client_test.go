package forwarder

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corpai/tggateway/internal/config"
)

type countingObserver struct {
	results []string
}

func (o *countingObserver) ObserveForward(result string) {
	o.results = append(o.results, result)
}

func TestNewInboxEvent(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)
	ev := NewInboxEvent(Inbound{
		BotID:       42,
		ContactID:   7,
		MessageID:   "101",
		Participant: "Anna",
		Text:        "hello",
		Project:     "sales",
	}, now)

	assert.Equal(t, EventInboxReceived, ev.EventType)
	assert.Equal(t, now.Unix(), ev.Timestamp)
	assert.Equal(t, "7", ev.Chat.ExternalID)
	assert.Equal(t, "42", ev.Chat.MessengerID)
	assert.Equal(t, "7", ev.Chat.Contact.ExternalID)
	assert.Equal(t, "09.03.2026", ev.Message.Date)
	assert.Equal(t, "text", ev.ExternalItem.ExtraData.MessageType)
	assert.Equal(t, "sales", ev.ExternalItem.ExtraData.Project)

	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"attachments":[]`)
	assert.Contains(t, string(raw), `"externalItem":{"extraData":{"messageType":"text","project":"sales"}}`)
}

func TestForwardPostsWithBearer(t *testing.T) {
	t.Parallel()
	var gotPath, gotAuth string
	var got Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	obs := &countingObserver{}
	c := NewClient(nil, config.IntegrationConfig{BaseURL: srv.URL + "/", Code: "tg", Token: "tok", Timeout: "2s"}, obs)
	ev := NewInboxEvent(Inbound{BotID: 42, ContactID: 7, MessageID: "1", Text: "hi"}, time.Now())
	require.NoError(t, c.Forward(context.Background(), 42, ev))

	assert.Equal(t, "/tg/42/event", gotPath)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "hi", got.Message.Text)
	assert.Equal(t, []string{"ok"}, obs.results)
}

func TestForwardReportsStatus(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	obs := &countingObserver{}
	c := NewClient(nil, config.IntegrationConfig{BaseURL: srv.URL, Code: "tg"}, obs)
	err := c.Forward(context.Background(), 1, Event{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrForwardFailed))
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
	assert.Equal(t, "boom", statusErr.Body)
	assert.Equal(t, []string{"error"}, obs.results)
}

func TestForwardUnreachable(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(nil, config.IntegrationConfig{BaseURL: url, Code: "tg", Timeout: "1s"}, nil)
	err := c.Forward(context.Background(), 1, Event{})
	assert.ErrorIs(t, err, ErrForwardFailed)

	empty := NewClient(nil, config.IntegrationConfig{}, nil)
	assert.ErrorIs(t, empty.Forward(context.Background(), 1, Event{}), ErrForwardFailed)
}

func TestRegisterAccount(t *testing.T) {
	t.Parallel()
	var got Account
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"id":"acc-1"}`))
	}))
	defer srv.Close()

	c := NewClient(nil, config.IntegrationConfig{AccountsURL: srv.URL, Code: "tg", Token: "tok"}, nil)
	c.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	body, err := c.RegisterAccount(context.Background(), "42", "Shop", "owner@example.com")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"acc-1"}`, string(body))
	assert.Equal(t, "/tg", gotPath)
	assert.Equal(t, "42", got.ExternalID)
	assert.Equal(t, "ru", got.Locale)
	assert.Equal(t, "+03:00", got.TimeZone)
	assert.Equal(t, "trial", got.Status.PaymentStatus)
	assert.Equal(t, "2026-01-15T00:00:00Z", got.Status.ExpiresAt)
}

func TestRegisterAccountWrapsNonJSON(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("created"))
	}))
	defer srv.Close()
	c := NewClient(nil, config.IntegrationConfig{BaseURL: srv.URL, Code: "tg"}, nil)
	body, err := c.RegisterAccount(context.Background(), "1", "n", "e")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok","raw_response":"created"}`, string(body))
}
