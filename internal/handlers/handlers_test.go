package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/corpai/tggateway/internal/bots"
	"github.com/corpai/tggateway/internal/cache"
	"github.com/corpai/tggateway/internal/channel/adapters/telegram"
	"github.com/corpai/tggateway/internal/db/dbtest"
	"github.com/corpai/tggateway/internal/forwarder"
	"github.com/corpai/tggateway/internal/projects"
	"github.com/corpai/tggateway/internal/secrets"
	"github.com/corpai/tggateway/internal/staging"
	"github.com/corpai/tggateway/internal/webhook"
)

type structValidator struct {
	v *validator.Validate
}

func (s structValidator) Validate(i any) error {
	if err := s.v.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

func newEcho() *echo.Echo {
	e := echo.New()
	e.Validator = structValidator{v: validator.New()}
	return e
}

type fixture struct {
	bots      *bots.Service
	projects  *projects.Service
	store     *cache.MemoryStore
	messenger *fakeMessenger
	forwarder *fakeForwarder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cipher, err := secrets.NewCipher("handlers-test")
	require.NoError(t, err)
	db := dbtest.New()
	mem := cache.NewMemoryStore()
	return &fixture{
		bots:      bots.NewService(nil, db, mem, cipher, time.Hour),
		projects:  projects.NewService(nil, db, mem, time.Hour),
		store:     mem,
		messenger: &fakeMessenger{},
		forwarder: &fakeForwarder{},
	}
}

func (f *fixture) register(t *testing.T, botID int64, name string) bots.Registration {
	t.Helper()
	reg, err := f.bots.Register(context.Background(), bots.RegisterParams{BotID: botID, Token: "123:abc", Name: name, Locale: "en"})
	require.NoError(t, err)
	return reg
}

func (f *fixture) router() *webhook.Router {
	return webhook.NewRouter(nil, webhook.Dependencies{
		Bots:      f.bots,
		Projects:  f.projects,
		Messenger: f.messenger,
		Forwarder: f.forwarder,
		Staging:   staging.New(f.store, time.Minute),
		Cache:     f.store,
	})
}

type fakeMessenger struct {
	mu    sync.Mutex
	texts []string
}

func (m *fakeMessenger) SendText(_ context.Context, _ string, _ int64, text string, _ telegram.Keyboard) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.texts = append(m.texts, text)
	return len(m.texts), nil
}

func (m *fakeMessenger) SetCommands(context.Context, string, []telegram.Command) error { return nil }

func (m *fakeMessenger) AnswerCallback(context.Context, string, string) error { return nil }

func (m *fakeMessenger) FileURL(_ context.Context, _ string, fileID string) (string, error) {
	return "https://files.example/" + fileID, nil
}

func (m *fakeMessenger) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.texts)
}

type fakeForwarder struct {
	mu     sync.Mutex
	events []forwarder.Event
}

func (f *fakeForwarder) Forward(_ context.Context, _ int64, ev forwarder.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func doJSON(t *testing.T, e *echo.Echo, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch v := body.(type) {
		case string:
			buf.WriteString(v)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(v))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

