package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corpai/tggateway/internal/forwarder"
)

type fakeRegistrar struct {
	body  json.RawMessage
	err   error
	calls []IntegrateUserRequest
}

func (r *fakeRegistrar) RegisterAccount(_ context.Context, botID, name, email string) (json.RawMessage, error) {
	r.calls = append(r.calls, IntegrateUserRequest{BotID: botID, Name: name, Email: email})
	return r.body, r.err
}

func TestIntegrateUser(t *testing.T) {
	registrar := &fakeRegistrar{body: json.RawMessage(`{"status":"ok","id":5}`)}
	e := newEcho()
	NewAccountHandler(nil, registrar).Register(e)

	req := IntegrateUserRequest{BotID: "42", Name: "Shop", Email: "owner@example.com"}
	rec := doJSON(t, e, http.MethodPost, "/api/user", req, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","id":5}`, rec.Body.String())
	assert.Equal(t, []IntegrateUserRequest{req}, registrar.calls)
}

func TestIntegrateUserFailures(t *testing.T) {
	registrar := &fakeRegistrar{}
	e := newEcho()
	NewAccountHandler(nil, registrar).Register(e)
	req := IntegrateUserRequest{BotID: "42", Name: "Shop", Email: "owner@example.com"}

	rec := doJSON(t, e, http.MethodPost, "/api/user", IntegrateUserRequest{BotID: "42", Name: "Shop", Email: "nope"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, registrar.calls)

	registrar.err = &forwarder.StatusError{StatusCode: http.StatusConflict, Body: "account exists"}
	rec = doJSON(t, e, http.MethodPost, "/api/user", req, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "account exists")

	registrar.err = errors.New("dial tcp: refused")
	rec = doJSON(t, e, http.MethodPost, "/api/user", req, nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
