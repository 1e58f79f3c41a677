package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/corpai/tggateway/internal/bots"
	"github.com/corpai/tggateway/internal/channel/adapters/telegram"
	"github.com/corpai/tggateway/internal/forwarder"
	"github.com/corpai/tggateway/internal/i18n"
)

const restartCommand = "/restart"

// matchKnownContact fires when the sender shares their own contact and is
// already a member of the bot.
func (r *Router) matchKnownContact(ctx context.Context, t *turn) (bool, error) {
	if t.in.sharedContact() == nil {
		return false, nil
	}
	_, err := t.membership(ctx, r.bots)
	if errors.Is(err, bots.ErrMemberNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (r *Router) handleContact(ctx context.Context, t *turn) Result {
	c := t.in.sharedContact()
	if _, err := r.bots.UpdateContact(ctx, bots.User{
		ID:      t.in.contactID,
		Name:    c.FirstName,
		Surname: c.LastName,
		Phone:   c.PhoneNumber,
	}); err != nil {
		return failed(fmt.Errorf("update contact: %w", err))
	}
	if t.member.IsOwner {
		if err := r.bots.SetVerified(ctx, t.botID, true); err != nil {
			return failed(fmt.Errorf("verify bot: %w", err))
		}
	}
	res := r.reply(ctx, t, i18n.AllSet, telegram.RemoveKeyboard())

	_, selected, err := r.projects.Current(ctx, t.botID, t.in.contactID)
	if err != nil {
		res.Warning = errors.Join(res.Warning, err)
		return res
	}
	if selected {
		return res
	}
	mainProject, err := r.projects.SelectMain(ctx, t.botID, t.in.contactID)
	if err != nil {
		r.logger.Warn("select main project failed", slog.Int64("bot_id", t.botID), slog.Any("error", err))
		res.Warning = errors.Join(res.Warning, err)
		return res
	}
	if err := r.forward(ctx, t, forwarder.Inbound{Text: restartCommand, Project: mainProject.Code}); err != nil {
		r.logger.Warn("forward restart failed", slog.Int64("bot_id", t.botID), slog.Any("error", err))
		res.Warning = errors.Join(res.Warning, err)
	}
	return res
}

func matchStart(_ context.Context, t *turn) (bool, error) {
	_, ok := parseStartCode(t.in.text)
	return ok, nil
}

func (r *Router) handleStart(ctx context.Context, t *turn) Result {
	code, _ := parseStartCode(t.in.text)
	if code == "" {
		if m, err := t.membership(ctx, r.bots); err == nil && m.IsActive {
			return r.reply(ctx, t, i18n.AlreadyLoggedIn, telegram.Keyboard{})
		}
		return r.reply(ctx, t, i18n.Welcome, telegram.Keyboard{})
	}

	kind, err := r.bots.MatchSecret(ctx, t.botID, code)
	if err != nil {
		return failed(fmt.Errorf("match secret: %w", err))
	}
	switch kind {
	case bots.SecretOwner:
		return r.claimOwner(ctx, t)
	case bots.SecretInvite:
		// The bot-wide invite secret is reusable; nothing is consumed.
		return r.acceptInvite(ctx, t, "")
	}

	available, err := r.bots.InviteAvailable(ctx, t.botID, code)
	if err != nil {
		return failed(fmt.Errorf("check invite: %w", err))
	}
	if !available {
		return r.reply(ctx, t, i18n.CodeNotRecognized, telegram.Keyboard{})
	}
	return r.acceptInvite(ctx, t, code)
}

func (r *Router) claimOwner(ctx context.Context, t *turn) Result {
	owner, err := r.bots.Owner(ctx, t.botID)
	switch {
	case errors.Is(err, bots.ErrMemberNotFound):
	case err != nil:
		return failed(fmt.Errorf("load owner: %w", err))
	case owner.UserID != t.in.contactID:
		return r.reply(ctx, t, i18n.AlreadyHasOwner, telegram.Keyboard{})
	default:
		user, err := r.bots.GetUser(ctx, t.in.contactID)
		if err != nil && !errors.Is(err, bots.ErrUserNotFound) {
			return failed(fmt.Errorf("load owner contact: %w", err))
		}
		if user.Phone != "" {
			if err := r.bots.SetVerified(ctx, t.botID, true); err != nil {
				return failed(fmt.Errorf("verify bot: %w", err))
			}
			return r.reply(ctx, t, i18n.AlreadyLoggedIn, telegram.Keyboard{})
		}
	}

	if err := r.join(ctx, t, true); err != nil {
		if errors.Is(err, bots.ErrOwnerTaken) {
			return r.reply(ctx, t, i18n.AlreadyHasOwner, telegram.Keyboard{})
		}
		return failed(err)
	}
	r.logger.Info("owner claimed bot", slog.Int64("bot_id", t.botID), slog.Int64("user_id", t.in.contactID))
	return r.promptContact(ctx, t)
}

// acceptInvite admits the caller. A non-empty token is consumed first so two
// users racing for the same token cannot both join.
func (r *Router) acceptInvite(ctx context.Context, t *turn, token string) Result {
	if m, err := t.membership(ctx, r.bots); err == nil && m.IsActive {
		return r.reply(ctx, t, i18n.AlreadyLoggedIn, telegram.Keyboard{})
	} else if err != nil && !errors.Is(err, bots.ErrMemberNotFound) {
		return failed(fmt.Errorf("load membership: %w", err))
	}
	if token != "" {
		used, err := r.bots.UseInvite(ctx, t.botID, token, t.in.contactID)
		if err != nil {
			return failed(fmt.Errorf("use invite: %w", err))
		}
		if !used {
			return r.reply(ctx, t, i18n.CodeNotRecognized, telegram.Keyboard{})
		}
	}
	if err := r.join(ctx, t, false); err != nil {
		return failed(err)
	}
	r.logger.Info("member joined bot", slog.Int64("bot_id", t.botID), slog.Int64("user_id", t.in.contactID))

	res := r.promptContact(ctx, t)
	if err := r.refreshCommands(ctx, t, true); err != nil {
		r.logger.Warn("refresh commands failed", slog.Int64("bot_id", t.botID), slog.Any("error", err))
		res.Warning = errors.Join(res.Warning, err)
	}
	return res
}

// join records an active membership and copies the caller into every project.
func (r *Router) join(ctx context.Context, t *turn, owner bool) error {
	user := bots.User{ID: t.in.contactID}
	if t.in.from != nil {
		user.Name = t.in.from.FirstName
		user.Surname = t.in.from.LastName
	}
	if _, err := r.bots.AddMember(ctx, t.botID, user, owner); err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	if err := r.projects.Enroll(ctx, t.botID, t.in.contactID); err != nil {
		return fmt.Errorf("enroll member: %w", err)
	}
	return nil
}

func (r *Router) promptContact(ctx context.Context, t *turn) Result {
	kb := telegram.ContactRequest(i18n.T(t.locale, i18n.ShareContactButton))
	return r.reply(ctx, t, i18n.ShareContactPrompt, kb)
}
