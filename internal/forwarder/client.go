// Package forwarder ships normalized events and account registrations to the
// integration backend.
package forwarder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/corpai/tggateway/internal/config"
)

var ErrForwardFailed = errors.New("downstream forward failed")

// StatusError carries a non-2xx response from the backend.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("integration backend returned %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error { return ErrForwardFailed }

// Observer is notified of every forward outcome ("ok" or "error").
type Observer interface {
	ObserveForward(result string)
}

// Client posts to the integration backend with a bearer token.
type Client struct {
	baseURL     string
	accountsURL string
	code        string
	token       string
	locale      string
	timeZone    string
	httpClient  *http.Client
	observer    Observer
	logger      *slog.Logger
	now         func() time.Time
}

func NewClient(log *slog.Logger, cfg config.IntegrationConfig, observer Observer) *Client {
	if log == nil {
		log = slog.Default()
	}
	accounts := strings.TrimRight(strings.TrimSpace(cfg.AccountsURL), "/")
	if accounts == "" {
		accounts = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	}
	locale := strings.TrimSpace(cfg.Locale)
	if locale == "" {
		locale = config.DefaultLocale
	}
	tz := strings.TrimSpace(cfg.TimeZone)
	if tz == "" {
		tz = config.DefaultTimeZone
	}
	return &Client{
		baseURL:     strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		accountsURL: accounts,
		code:        strings.Trim(strings.TrimSpace(cfg.Code), "/"),
		token:       strings.TrimSpace(cfg.Token),
		locale:      locale,
		timeZone:    tz,
		httpClient:  &http.Client{Timeout: config.Duration(cfg.Timeout, config.DefaultOutboundTimeout)},
		observer:    observer,
		logger:      log.With(slog.String("service", "forwarder")),
		now:         time.Now,
	}
}

// Now is the clock used to stamp events.
func (c *Client) Now() time.Time {
	return c.now()
}

// Forward posts ev to {base}/{code}/{botID}/event.
func (c *Client) Forward(ctx context.Context, botID int64, ev Event) error {
	if c.baseURL == "" {
		return fmt.Errorf("%w: integration url not configured", ErrForwardFailed)
	}
	url := c.baseURL + "/" + c.code + "/" + strconv.FormatInt(botID, 10) + "/event"
	_, err := c.post(ctx, url, ev)
	c.observe(err)
	if err != nil {
		return err
	}
	c.logger.Info("event forwarded",
		slog.Int64("bot_id", botID),
		slog.String("message_id", ev.Message.ExternalID),
		slog.String("message_type", ev.ExternalItem.ExtraData.MessageType),
	)
	return nil
}

// Account is the body of an account registration.
type Account struct {
	ExternalID  string        `json:"externalId"`
	Name        string        `json:"name"`
	Locale      string        `json:"locale"`
	TimeZone    string        `json:"timeZone"`
	Email       string        `json:"email"`
	PaymentType string        `json:"paymentType"`
	Status      AccountStatus `json:"status"`
}

type AccountStatus struct {
	Status        string `json:"status"`
	PaymentStatus string `json:"paymentStatus"`
	ExpiresAt     string `json:"expiresAt"`
}

const trialPeriod = 14 * 24 * time.Hour

// RegisterAccount announces a bot as an account of the integration backend
// and returns the backend's response body.
func (c *Client) RegisterAccount(ctx context.Context, botID, name, email string) (json.RawMessage, error) {
	if c.accountsURL == "" {
		return nil, fmt.Errorf("%w: integration url not configured", ErrForwardFailed)
	}
	acc := Account{
		ExternalID:  botID,
		Name:        name,
		Locale:      c.locale,
		TimeZone:    c.timeZone,
		Email:       email,
		PaymentType: "internal",
		Status: AccountStatus{
			Status:        "active",
			PaymentStatus: "trial",
			ExpiresAt:     c.now().UTC().Add(trialPeriod).Format(time.RFC3339),
		},
	}
	body, err := c.post(ctx, c.accountsURL+"/"+c.code, acc)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return json.RawMessage(`{"status":"ok","message":"No content"}`), nil
	}
	if !json.Valid(body) {
		raw, _ := json.Marshal(map[string]string{"status": "ok", "raw_response": string(body)})
		return raw, nil
	}
	return body, nil
}

func (c *Client) post(ctx context.Context, url string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Error("integration request failed", slog.String("url", url), slog.Any("error", err))
		return nil, fmt.Errorf("%w: %w", ErrForwardFailed, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", ErrForwardFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("integration error",
			slog.String("url", url),
			slog.Int("status", resp.StatusCode),
			slog.String("body_prefix", truncate(string(respBody), 300)),
		)
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	return respBody, nil
}

func (c *Client) observe(err error) {
	if c.observer == nil {
		return
	}
	if err != nil {
		c.observer.ObserveForward("error")
		return
	}
	c.observer.ObserveForward("ok")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
