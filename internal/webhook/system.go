package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/corpai/tggateway/internal/bots"
	"github.com/corpai/tggateway/internal/forwarder"
	"github.com/corpai/tggateway/internal/projects"
)

const (
	SystemStarted = "started"
	SystemStopped = "stopped"
)

// SystemEvent is the control message the integration backend sends when a
// downstream session starts or stops.
type SystemEvent struct {
	Event     string `json:"event"`
	ReqID     idText `json:"req_id"`
	SessionID idText `json:"session_id"`
}

// idText accepts both JSON strings and numbers.
type idText string

func (v *idText) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*v = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = idText(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*v = idText(n.String())
	return nil
}

// ParseSystemEvent decodes the JSON-encoded event string of a system message.
func ParseSystemEvent(raw string) (SystemEvent, error) {
	var ev SystemEvent
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &ev); err != nil {
		return SystemEvent{}, fmt.Errorf("%w: %v", ErrUnsupportedEvent, err)
	}
	ev.Event = strings.ToLower(strings.TrimSpace(ev.Event))
	return ev, nil
}

// HandleSystem applies a session started/stopped notification for contactID.
func (r *Router) HandleSystem(ctx context.Context, botID, contactID int64, ev SystemEvent) (res Result) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("system handler panicked", slog.Int64("bot_id", botID), slog.Any("panic", rec))
			res = failed(fmt.Errorf("internal error: %v", rec))
		}
		if !res.OK() {
			r.logger.Error("system event failed", slog.Int64("bot_id", botID), slog.String("event", ev.Event), slog.Any("error", res.Err))
		}
		if r.metrics != nil {
			r.metrics.ObserveUpdate(string(res.Outcome))
		}
	}()

	if _, err := r.bots.Token(ctx, botID); err != nil {
		if errors.Is(err, bots.ErrBotNotFound) {
			return failed(ErrTenantNotRegistered)
		}
		return failed(fmt.Errorf("load bot token: %w", err))
	}

	switch {
	case ev.Event == SystemStarted && ev.ReqID != "":
		return r.replay(ctx, botID, contactID, string(ev.ReqID))
	case ev.Event == SystemStarted && ev.SessionID != "":
		return r.rememberSession(ctx, botID, contactID, string(ev.SessionID))
	case ev.Event == SystemStopped && ev.SessionID != "":
		return r.closeSession(ctx, string(ev.SessionID))
	}
	return failed(fmt.Errorf("%w: %q", ErrUnsupportedEvent, ev.Event))
}

// replay forwards a staged message as ordinary content. A failed forward puts
// the message back so a repeated callback can retry it.
func (r *Router) replay(ctx context.Context, botID, contactID int64, reqID string) Result {
	msg, ok, err := r.staging.TakeAndClear(ctx, botID, contactID, reqID)
	if err != nil {
		return failed(fmt.Errorf("take staged message: %w", err))
	}
	if !ok {
		return Result{Outcome: OutcomeIgnored}
	}
	current, _, err := r.projects.Current(ctx, botID, contactID)
	if err != nil {
		r.logger.Warn("load selection failed", slog.Int64("bot_id", botID), slog.Any("error", err))
	}
	in := forwarder.Inbound{
		BotID:       botID,
		ContactID:   contactID,
		MessageID:   reqID,
		Participant: msg.Participant,
		Text:        msg.Text,
		Attachments: msg.Attachments,
		MessageType: msg.Type,
		Project:     current.Code,
	}
	if err := r.forwarder.Forward(ctx, botID, forwarder.NewInboxEvent(in, r.now())); err != nil {
		if serr := r.staging.Stage(ctx, botID, contactID, reqID, msg); serr != nil {
			r.logger.Warn("restage message failed", slog.Int64("bot_id", botID), slog.Any("error", serr))
		}
		return failed(fmt.Errorf("forward staged message: %w", err))
	}
	return Result{Outcome: OutcomeReplayed}
}

func (r *Router) rememberSession(ctx context.Context, botID, contactID int64, sessionID string) Result {
	current, selected, err := r.projects.Current(ctx, botID, contactID)
	if err != nil {
		return failed(fmt.Errorf("load selection: %w", err))
	}
	if !selected {
		return Result{Outcome: OutcomeIgnored}
	}
	if err := r.projects.Remember(ctx, sessionID, projects.Session{
		BotID:     botID,
		UserID:    contactID,
		ProjectID: current.ID,
	}); err != nil {
		return failed(fmt.Errorf("remember session: %w", err))
	}
	return Result{Outcome: OutcomeRemembered}
}

func (r *Router) closeSession(ctx context.Context, sessionID string) Result {
	sess, err := r.projects.Resolve(ctx, sessionID)
	if errors.Is(err, projects.ErrSessionUnknown) {
		return Result{Outcome: OutcomeIgnored}
	}
	if err != nil {
		return failed(fmt.Errorf("resolve session: %w", err))
	}
	if _, err := r.projects.ClearSelection(ctx, sess.BotID, sess.UserID, sess.ProjectID); err != nil {
		return failed(fmt.Errorf("clear selection: %w", err))
	}
	if err := r.projects.Forget(ctx, sessionID); err != nil {
		r.logger.Warn("forget session failed", slog.String("session_id", sessionID), slog.Any("error", err))
	}
	return Result{Outcome: OutcomeCleared}
}
