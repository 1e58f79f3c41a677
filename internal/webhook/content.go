package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/corpai/tggateway/internal/cache"
	"github.com/corpai/tggateway/internal/channel/adapters/telegram"
	"github.com/corpai/tggateway/internal/forwarder"
	"github.com/corpai/tggateway/internal/projects"
	"github.com/corpai/tggateway/internal/staging"
)

const stopCommand = "/stop"

func (r *Router) handleContent(ctx context.Context, t *turn) Result {
	if _, hasFile := pickAttachment(t.in.message); t.in.text == "" && !hasFile {
		return Result{Outcome: OutcomeIgnored}
	}

	current, selected, err := r.projects.Current(ctx, t.botID, t.in.contactID)
	if err != nil {
		return failed(fmt.Errorf("load selection: %w", err))
	}
	if !selected {
		return r.stageAndRestart(ctx, t)
	}

	if err := r.refreshCommands(ctx, t, false); err != nil {
		r.logger.Warn("refresh commands failed", slog.Int64("bot_id", t.botID), slog.Any("error", err))
	}

	if token, ok := commandToken(t.in.text); ok {
		target, found, err := r.findProject(ctx, t.botID, token)
		if err != nil {
			return failed(fmt.Errorf("match project command: %w", err))
		}
		if found {
			return r.switchProject(ctx, t, current, target)
		}
	}

	attachments, messageType := r.attachments(ctx, t.token, t.in)
	if err := r.forward(ctx, t, forwarder.Inbound{
		Text:        t.in.text,
		Attachments: attachments,
		MessageType: messageType,
		Project:     current.Code,
	}); err != nil {
		return failed(fmt.Errorf("forward message: %w", err))
	}
	return Result{Outcome: OutcomeForwarded}
}

// stageAndRestart selects the main project, parks the message until the
// downstream session reports it started and asks downstream to restart.
func (r *Router) stageAndRestart(ctx context.Context, t *turn) Result {
	mainProject, err := r.projects.SelectMain(ctx, t.botID, t.in.contactID)
	if err != nil {
		if errors.Is(err, projects.ErrNoMainProject) {
			return failed(err)
		}
		return failed(fmt.Errorf("select main project: %w", err))
	}

	attachments, messageType := r.attachments(ctx, t.token, t.in)
	if err := r.staging.Stage(ctx, t.botID, t.in.contactID, t.in.messageID, staging.Message{
		Text:        t.in.text,
		Participant: t.in.participant,
		Attachments: attachments,
		Type:        messageType,
	}); err != nil {
		return failed(fmt.Errorf("stage message: %w", err))
	}
	if err := r.forward(ctx, t, forwarder.Inbound{
		Text:    restartCommand + "_" + t.in.messageID,
		Project: mainProject.Code,
		ReqID:   t.in.messageID,
	}); err != nil {
		return failed(fmt.Errorf("forward restart: %w", err))
	}
	return Result{Outcome: OutcomeStaged}
}

// switchProject closes the session of the current project and opens one for
// target. Nothing of the command text itself is forwarded.
func (r *Router) switchProject(ctx context.Context, t *turn, current, target projects.Project) Result {
	if err := r.forward(ctx, t, forwarder.Inbound{Text: stopCommand, Project: current.Code}); err != nil {
		return failed(fmt.Errorf("forward stop: %w", err))
	}
	if err := r.projects.Select(ctx, t.botID, t.in.contactID, target.ID); err != nil {
		return failed(fmt.Errorf("select project: %w", err))
	}
	if err := r.forward(ctx, t, forwarder.Inbound{Text: startCommand, Project: target.Code}); err != nil {
		return failed(fmt.Errorf("forward start: %w", err))
	}
	r.logger.Info("project switched",
		slog.Int64("bot_id", t.botID),
		slog.Int64("user_id", t.in.contactID),
		slog.String("from", current.Code),
		slog.String("to", target.Code),
	)
	return Result{Outcome: OutcomeSwitched}
}

func (r *Router) findProject(ctx context.Context, botID int64, token string) (projects.Project, bool, error) {
	items, err := r.projects.List(ctx, botID)
	if err != nil {
		return projects.Project{}, false, err
	}
	for _, p := range items {
		if NormalizeCommand(p.Code) == token {
			return p, true, nil
		}
	}
	return projects.Project{}, false, nil
}

// forward wraps in as an inbox event for the current sender.
func (r *Router) forward(ctx context.Context, t *turn, in forwarder.Inbound) error {
	in.BotID = t.botID
	in.ContactID = t.in.contactID
	if in.MessageID == "" {
		in.MessageID = t.in.messageID
	}
	if in.Participant == "" {
		in.Participant = t.in.participant
	}
	return r.forwarder.Forward(ctx, t.botID, forwarder.NewInboxEvent(in, r.now()))
}

// projectCommands builds one slash-command per non-main project.
func projectCommands(items []projects.Project) []telegram.Command {
	seen := make(map[string]struct{}, len(items))
	out := make([]telegram.Command, 0, len(items))
	for _, p := range items {
		if p.IsMain {
			continue
		}
		name := truncateCommand(NormalizeCommand(p.Code), maxCommandLen)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		desc := strings.TrimSpace(p.Title)
		if desc == "" {
			desc = p.Code
		}
		out = append(out, telegram.Command{Command: name, Description: truncateCommand(desc, maxCommandDesc)})
	}
	return out
}

// refreshCommands pushes the bot's command list unless the same list was
// already pushed. force skips the comparison.
func (r *Router) refreshCommands(ctx context.Context, t *turn, force bool) error {
	items, err := r.projects.List(ctx, t.botID)
	if err != nil {
		return err
	}
	commands := projectCommands(items)
	raw, err := json.Marshal(commands)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(raw)
	hash := hex.EncodeToString(sum[:])
	key := cache.Key("bots", t.botID, "commands")
	if !force {
		if cached, ok, err := r.cache.Get(ctx, key); err == nil && ok && string(cached) == hash {
			return nil
		}
	}
	if err := r.messenger.SetCommands(ctx, t.token, commands); err != nil {
		return err
	}
	if err := r.cache.Set(ctx, key, []byte(hash), r.ttl); err != nil {
		r.logger.Warn("cache command list failed", slog.Int64("bot_id", t.botID), slog.Any("error", err))
	}
	return nil
}
