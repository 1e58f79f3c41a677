package handlers

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPing(t *testing.T) {
	e := newEcho()
	NewPingHandler(nil).Register(e)

	rec := doJSON(t, e, http.MethodGet, "/ping", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHealth(t *testing.T) {
	healthy := HealthCheck{Name: "db", Check: func(context.Context) error { return nil }}
	broken := HealthCheck{Name: "cache", Check: func(context.Context) error { return errors.New("down") }}

	e := newEcho()
	NewPingHandler(nil, healthy).Register(e)
	rec := doJSON(t, e, http.MethodHead, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	e = newEcho()
	NewPingHandler(nil, healthy, broken).Register(e)
	rec = doJSON(t, e, http.MethodHead, "/health", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
