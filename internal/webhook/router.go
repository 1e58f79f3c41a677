// Package webhook turns inbound chat-platform updates into onboarding replies,
// session bookkeeping or normalized events for the integration backend.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/corpai/tggateway/internal/bots"
	"github.com/corpai/tggateway/internal/cache"
	"github.com/corpai/tggateway/internal/channel/adapters/telegram"
	"github.com/corpai/tggateway/internal/forwarder"
	"github.com/corpai/tggateway/internal/i18n"
	"github.com/corpai/tggateway/internal/projects"
	"github.com/corpai/tggateway/internal/staging"
)

// Credentials is the credential store surface used by the router.
type Credentials interface {
	Token(ctx context.Context, botID int64) (string, error)
	Get(ctx context.Context, botID int64) (bots.Bot, error)
	MatchSecret(ctx context.Context, botID int64, code string) (bots.SecretKind, error)
	Member(ctx context.Context, botID, userID int64) (bots.Member, error)
	Owner(ctx context.Context, botID int64) (bots.Member, error)
	AddMember(ctx context.Context, botID int64, user bots.User, owner bool) (bots.Member, error)
	GetUser(ctx context.Context, userID int64) (bots.User, error)
	UpdateContact(ctx context.Context, u bots.User) (bots.User, error)
	SetVerified(ctx context.Context, botID int64, verified bool) error
	InviteAvailable(ctx context.Context, botID int64, code string) (bool, error)
	UseInvite(ctx context.Context, botID int64, code string, userID int64) (bool, error)
}

// Sessions is the project resolver surface used by the router.
type Sessions interface {
	List(ctx context.Context, botID int64) ([]projects.Project, error)
	Current(ctx context.Context, botID, userID int64) (projects.Project, bool, error)
	Select(ctx context.Context, botID, userID, projectID int64) error
	SelectMain(ctx context.Context, botID, userID int64) (projects.Project, error)
	ClearSelection(ctx context.Context, botID, userID, projectID int64) (bool, error)
	Enroll(ctx context.Context, botID, userID int64) error
	Remember(ctx context.Context, sessionID string, sess projects.Session) error
	Resolve(ctx context.Context, sessionID string) (projects.Session, error)
	Forget(ctx context.Context, sessionID string) error
}

// Messenger is the outbound channel adapter surface used by the router.
type Messenger interface {
	SendText(ctx context.Context, token string, chatID int64, text string, kb telegram.Keyboard) (int, error)
	SetCommands(ctx context.Context, token string, commands []telegram.Command) error
	AnswerCallback(ctx context.Context, token, callbackID string) error
	FileURL(ctx context.Context, token, fileID string) (string, error)
}

type Forwarder interface {
	Forward(ctx context.Context, botID int64, ev forwarder.Event) error
}

type Stager interface {
	Stage(ctx context.Context, botID, contactID int64, messageID string, msg staging.Message) error
	TakeAndClear(ctx context.Context, botID, contactID int64, messageID string) (staging.Message, bool, error)
}

// Detacher runs fire-and-forget work.
type Detacher interface {
	Go(ctx context.Context, name string, fn func(ctx context.Context) error)
}

// Observer is notified of the outcome of every update.
type Observer interface {
	ObserveUpdate(outcome string)
}

// Dependencies bundles the collaborators of a Router. Cache, Tasks, Metrics
// and Now are optional.
type Dependencies struct {
	Bots      Credentials
	Projects  Sessions
	Messenger Messenger
	Forwarder Forwarder
	Staging   Stager
	Cache     cache.Store
	Tasks     Detacher
	Metrics   Observer
	Now       func() time.Time
}

// Router runs the onboarding/authorization state machine.
type Router struct {
	bots      Credentials
	projects  Sessions
	messenger Messenger
	forwarder Forwarder
	staging   Stager
	cache     cache.Store
	tasks     Detacher
	metrics   Observer
	now       func() time.Time
	logger    *slog.Logger
	guards    []guard
	ttl       time.Duration
}

func NewRouter(log *slog.Logger, deps Dependencies) *Router {
	if log == nil {
		log = slog.Default()
	}
	r := &Router{
		bots:      deps.Bots,
		projects:  deps.Projects,
		messenger: deps.Messenger,
		forwarder: deps.Forwarder,
		staging:   deps.Staging,
		cache:     deps.Cache,
		tasks:     deps.Tasks,
		metrics:   deps.Metrics,
		now:       deps.Now,
		logger:    log.With(slog.String("service", "webhook")),
		ttl:       24 * time.Hour,
	}
	if r.cache == nil {
		r.cache = cache.NewMemoryStore()
	}
	if r.now == nil {
		r.now = time.Now
	}
	r.guards = r.orderedGuards()
	return r
}

// turn is the state of one update while it moves through the guards.
type turn struct {
	botID  int64
	token  string
	locale string
	in     inbound

	member    bots.Member
	memberErr error
	loaded    bool
}

// membership loads the caller's membership once per turn.
func (t *turn) membership(ctx context.Context, b Credentials) (bots.Member, error) {
	if !t.loaded {
		t.member, t.memberErr = b.Member(ctx, t.botID, t.in.contactID)
		t.loaded = true
	}
	return t.member, t.memberErr
}

// guard is one branch of the state machine. The first guard whose match
// returns true handles the update; its result is terminal.
type guard struct {
	name   string
	match  func(ctx context.Context, t *turn) (bool, error)
	handle func(ctx context.Context, t *turn) Result
}

// orderedGuards lists the branches in evaluation order. The order is part of
// the behavior: contact capture, then the start command, then membership
// checks, then content.
func (r *Router) orderedGuards() []guard {
	return []guard{
		{name: "contact", match: r.matchKnownContact, handle: r.handleContact},
		{name: "start", match: matchStart, handle: r.handleStart},
		{name: "not_member", match: r.matchNotMember, handle: r.handleNotMember},
		{name: "deactivated", match: r.matchDeactivated, handle: r.handleDeactivated},
		{name: "content", match: matchAlways, handle: r.handleContent},
	}
}

// Handle processes one update end to end. It never panics and never returns
// an error; failures are reported in the Result.
func (r *Router) Handle(ctx context.Context, botID int64, update tgbotapi.Update) (res Result) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("webhook handler panicked", slog.Int64("bot_id", botID), slog.Any("panic", rec))
			res = failed(fmt.Errorf("internal error: %v", rec))
		}
		if !res.OK() && !errors.Is(res.Err, ErrUnsupportedUpdate) {
			r.logger.Error("webhook update failed", slog.Int64("bot_id", botID), slog.Any("error", res.Err))
		}
		if r.metrics != nil {
			r.metrics.ObserveUpdate(string(res.Outcome))
		}
	}()

	token, err := r.bots.Token(ctx, botID)
	if err != nil {
		if errors.Is(err, bots.ErrBotNotFound) {
			return failed(ErrTenantNotRegistered)
		}
		return failed(fmt.Errorf("load bot token: %w", err))
	}
	in, err := extract(update)
	if err != nil {
		return failed(err)
	}
	if in.callbackID != "" {
		r.ackCallback(ctx, token, in.callbackID)
	}

	t := &turn{botID: botID, token: token, in: in, locale: i18n.DefaultLocale}
	if bot, err := r.bots.Get(ctx, botID); err == nil && bot.Locale != "" {
		t.locale = bot.Locale
	}

	for _, g := range r.guards {
		ok, err := g.match(ctx, t)
		if err != nil {
			return failed(fmt.Errorf("%s: %w", g.name, err))
		}
		if ok {
			return g.handle(ctx, t)
		}
	}
	return Result{Outcome: OutcomeIgnored}
}

func (r *Router) ackCallback(ctx context.Context, token, callbackID string) {
	ack := func(ctx context.Context) error {
		return r.messenger.AnswerCallback(ctx, token, callbackID)
	}
	if r.tasks == nil {
		if err := ack(ctx); err != nil {
			r.logger.Warn("answer callback failed", slog.Any("error", err))
		}
		return
	}
	r.tasks.Go(ctx, "answer_callback", ack)
}

// reply sends a localized text and reports it as the terminal outcome.
func (r *Router) reply(ctx context.Context, t *turn, key i18n.Key, kb telegram.Keyboard) Result {
	res := replied(key)
	if _, err := r.messenger.SendText(ctx, t.token, t.in.contactID, i18n.T(t.locale, key), kb); err != nil {
		r.logger.Warn("send reply failed", slog.Int64("bot_id", t.botID), slog.String("reply", string(key)), slog.Any("error", err))
		res.Warning = err
	}
	return res
}

func matchAlways(context.Context, *turn) (bool, error) { return true, nil }

func (r *Router) matchNotMember(ctx context.Context, t *turn) (bool, error) {
	_, err := t.membership(ctx, r.bots)
	if errors.Is(err, bots.ErrMemberNotFound) {
		return true, nil
	}
	return false, err
}

func (r *Router) handleNotMember(ctx context.Context, t *turn) Result {
	return r.reply(ctx, t, i18n.NotAllowed, telegram.Keyboard{})
}

func (r *Router) matchDeactivated(ctx context.Context, t *turn) (bool, error) {
	m, err := t.membership(ctx, r.bots)
	if err != nil {
		return false, err
	}
	return !m.IsActive, nil
}

func (r *Router) handleDeactivated(ctx context.Context, t *turn) Result {
	return r.reply(ctx, t, i18n.AccountDeactivated, telegram.Keyboard{})
}
