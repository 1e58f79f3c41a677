package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// ErrorResponse is the body of admin endpoint failures.
type ErrorResponse struct {
	Message string `json:"message"`
}

// Soft-failure codes returned with HTTP 200 by the platform-facing endpoints.
const (
	CodeFeatureNotSupported = "feature_not_supported"
	CodeInternalServerError = "internal_server_error"
)

// SoftFailure reports a failed send without an HTTP error status, so the
// integration backend does not retry.
type SoftFailure struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ChatEcho is the success body of the send endpoints.
type ChatEcho struct {
	ExternalID  string `json:"externalId"`
	MessengerID string `json:"messengerId"`
}

// WebhookAck is always sent with HTTP 200.
type WebhookAck struct {
	Status  string `json:"status,omitempty"`
	OK      bool   `json:"ok"`
	Outcome string `json:"outcome,omitempty"`
	Error   string `json:"error,omitempty"`
}

func parseID(c echo.Context, name string) (int64, error) {
	raw := strings.TrimSpace(c.Param(name))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, name+" must be a non-zero integer")
	}
	return id, nil
}

// bindValid binds the request body into dst and runs the echo validator.
func bindValid(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request payload")
	}
	if err := c.Validate(dst); err != nil {
		return err
	}
	return nil
}
