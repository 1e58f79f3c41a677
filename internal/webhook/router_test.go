package webhook

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corpai/tggateway/internal/bots"
	"github.com/corpai/tggateway/internal/cache"
	"github.com/corpai/tggateway/internal/channel/adapters/telegram"
	"github.com/corpai/tggateway/internal/db/dbtest"
	"github.com/corpai/tggateway/internal/forwarder"
	"github.com/corpai/tggateway/internal/i18n"
	"github.com/corpai/tggateway/internal/projects"
	"github.com/corpai/tggateway/internal/secrets"
	"github.com/corpai/tggateway/internal/staging"
)

const testBotID int64 = 1

type sentText struct {
	chatID int64
	text   string
	kb     telegram.Keyboard
}

type fakeMessenger struct {
	mu       sync.Mutex
	sent     []sentText
	commands [][]telegram.Command
	acks     []string
}

func (m *fakeMessenger) SendText(_ context.Context, _ string, chatID int64, text string, kb telegram.Keyboard) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentText{chatID: chatID, text: text, kb: kb})
	return len(m.sent), nil
}

func (m *fakeMessenger) SetCommands(_ context.Context, _ string, commands []telegram.Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = append(m.commands, commands)
	return nil
}

func (m *fakeMessenger) AnswerCallback(_ context.Context, _ string, callbackID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acks = append(m.acks, callbackID)
	return nil
}

func (m *fakeMessenger) FileURL(_ context.Context, _ string, fileID string) (string, error) {
	return "https://files.example/" + fileID, nil
}

func (m *fakeMessenger) last() sentText {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return sentText{}
	}
	return m.sent[len(m.sent)-1]
}

type fakeForwarder struct {
	mu     sync.Mutex
	events []forwarder.Event
	err    error
}

func (f *fakeForwarder) Forward(_ context.Context, _ int64, ev forwarder.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeForwarder) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, ev := range f.events {
		out = append(out, ev.Message.Text)
	}
	return out
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *recordingObserver) ObserveUpdate(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

type env struct {
	router    *Router
	bots      *bots.Service
	projects  *projects.Service
	staging   *staging.Cache
	messenger *fakeMessenger
	forwarder *fakeForwarder
	metrics   *recordingObserver
	ownerCode string
	main      projects.Project
	sales     projects.Project
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	cipher, err := secrets.NewCipher("test-secret")
	require.NoError(t, err)
	store := dbtest.New()
	mem := cache.NewMemoryStore()

	e := &env{
		bots:      bots.NewService(nil, store, mem, cipher, time.Hour),
		projects:  projects.NewService(nil, store, mem, time.Hour),
		staging:   staging.New(mem, time.Minute),
		messenger: &fakeMessenger{},
		forwarder: &fakeForwarder{},
		metrics:   &recordingObserver{},
	}
	reg, err := e.bots.Register(ctx, bots.RegisterParams{BotID: testBotID, Token: "1:secret", Name: "shop_bot", Locale: "en"})
	require.NoError(t, err)
	e.ownerCode = reg.PassUUID

	e.main, err = e.projects.Create(ctx, testBotID, projects.CreateParams{Code: "main", Title: "Main", IsMain: true})
	require.NoError(t, err)
	e.sales, err = e.projects.Create(ctx, testBotID, projects.CreateParams{Code: "Sales", Title: "Sales desk"})
	require.NoError(t, err)

	e.router = NewRouter(nil, Dependencies{
		Bots:      e.bots,
		Projects:  e.projects,
		Messenger: e.messenger,
		Forwarder: e.forwarder,
		Staging:   e.staging,
		Cache:     mem,
		Metrics:   e.metrics,
		Now:       func() time.Time { return time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC) },
	})
	return e
}

// member makes userID an active member enrolled in every project.
func (e *env) member(t *testing.T, userID int64) {
	t.Helper()
	ctx := context.Background()
	_, err := e.bots.AddMember(ctx, testBotID, bots.User{ID: userID, Name: "Ann"}, false)
	require.NoError(t, err)
	require.NoError(t, e.projects.Enroll(ctx, testBotID, userID))
}

func textUpdate(userID int64, messageID int, text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: messageID,
		From:      &tgbotapi.User{ID: userID, FirstName: "Ann", LastName: "Lee"},
		Chat:      &tgbotapi.Chat{ID: userID},
		Text:      text,
	}}
}

func contactUpdate(userID, contactUserID int64, messageID int, phone string) tgbotapi.Update {
	u := textUpdate(userID, messageID, "")
	u.Message.Contact = &tgbotapi.Contact{PhoneNumber: phone, FirstName: "Anna", LastName: "Lee", UserID: contactUserID}
	return u
}

func TestUnregisteredBotFails(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	res := e.router.Handle(context.Background(), 99, textUpdate(10, 1, "hi"))
	assert.ErrorIs(t, res.Err, ErrTenantNotRegistered)
	assert.Equal(t, OutcomeFailed, res.Outcome)
}

func TestUnsupportedUpdate(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	res := e.router.Handle(context.Background(), testBotID, tgbotapi.Update{})
	assert.ErrorIs(t, res.Err, ErrUnsupportedUpdate)
}

func TestOwnerClaimThenContactVerifies(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()

	res := e.router.Handle(ctx, testBotID, textUpdate(10, 1, "/start "+e.ownerCode))
	require.True(t, res.OK(), res.Err)
	assert.Equal(t, i18n.ShareContactPrompt, res.Reply)
	prompt := e.messenger.last()
	require.Len(t, prompt.kb.Reply, 1)
	assert.Equal(t, telegram.QuickReplyPhone, prompt.kb.Reply[0][0].Type)

	owner, err := e.bots.Owner(ctx, testBotID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), owner.UserID)
	bot, err := e.bots.Get(ctx, testBotID)
	require.NoError(t, err)
	assert.False(t, bot.Verified)

	res = e.router.Handle(ctx, testBotID, contactUpdate(10, 10, 2, "+100"))
	require.True(t, res.OK(), res.Err)
	assert.Equal(t, i18n.AllSet, res.Reply)
	assert.Nil(t, res.Warning)
	assert.True(t, e.messenger.last().kb.Remove)

	bot, err = e.bots.Get(ctx, testBotID)
	require.NoError(t, err)
	assert.True(t, bot.Verified)
	user, err := e.bots.GetUser(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, "+100", user.Phone)

	cur, ok, err := e.projects.Current(ctx, testBotID, 10)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, e.main.ID, cur.ID)
	assert.Equal(t, []string{"/restart"}, e.forwarder.texts())
}

func TestOwnerCodeFromSecondUser(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()

	require.True(t, e.router.Handle(ctx, testBotID, textUpdate(10, 1, "/start "+e.ownerCode)).OK())
	res := e.router.Handle(ctx, testBotID, textUpdate(11, 1, "/start="+e.ownerCode))
	assert.Equal(t, i18n.AlreadyHasOwner, res.Reply)

	_, err := e.bots.Member(ctx, testBotID, 11)
	assert.ErrorIs(t, err, bots.ErrMemberNotFound)
}

func TestOwnerWithPhoneIsAlreadyLoggedIn(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()

	require.True(t, e.router.Handle(ctx, testBotID, textUpdate(10, 1, "/start "+e.ownerCode)).OK())
	require.True(t, e.router.Handle(ctx, testBotID, contactUpdate(10, 10, 2, "+100")).OK())
	require.NoError(t, e.bots.SetVerified(ctx, testBotID, false))

	res := e.router.Handle(ctx, testBotID, textUpdate(10, 3, "/start "+e.ownerCode))
	assert.Equal(t, i18n.AlreadyLoggedIn, res.Reply)
	bot, err := e.bots.Get(ctx, testBotID)
	require.NoError(t, err)
	assert.True(t, bot.Verified)
}

func TestInviteTokenIsSingleUse(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()

	invite, err := e.bots.CreateInvite(ctx, testBotID)
	require.NoError(t, err)

	res := e.router.Handle(ctx, testBotID, textUpdate(20, 1, "/start "+invite.Token))
	require.True(t, res.OK(), res.Err)
	assert.Equal(t, i18n.ShareContactPrompt, res.Reply)

	m, err := e.bots.Member(ctx, testBotID, 20)
	require.NoError(t, err)
	assert.True(t, m.IsActive)
	assert.False(t, m.IsOwner)

	require.Len(t, e.messenger.commands, 1)
	assert.Equal(t, []telegram.Command{{Command: "sales", Description: "Sales desk"}}, e.messenger.commands[0])

	res = e.router.Handle(ctx, testBotID, textUpdate(30, 1, "/start "+invite.Token))
	assert.Equal(t, i18n.CodeNotRecognized, res.Reply)
	_, err = e.bots.Member(ctx, testBotID, 30)
	assert.ErrorIs(t, err, bots.ErrMemberNotFound)
}

func TestInviteForActiveMember(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	e.member(t, 20)

	invite, err := e.bots.CreateInvite(ctx, testBotID)
	require.NoError(t, err)
	res := e.router.Handle(ctx, testBotID, textUpdate(20, 1, "/start "+invite.Token))
	assert.Equal(t, i18n.AlreadyLoggedIn, res.Reply)

	ok, err := e.bots.InviteAvailable(ctx, testBotID, invite.Token)
	require.NoError(t, err)
	assert.True(t, ok, "token must stay unused")
}

func TestUnknownCode(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	res := e.router.Handle(context.Background(), testBotID, textUpdate(40, 1, "/start nope"))
	assert.Equal(t, i18n.CodeNotRecognized, res.Reply)
	assert.Equal(t, i18n.T("en", i18n.CodeNotRecognized), e.messenger.last().text)
}

func TestNonMemberIsNotAllowed(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	res := e.router.Handle(context.Background(), testBotID, textUpdate(50, 1, "hello"))
	assert.Equal(t, i18n.NotAllowed, res.Reply)
	assert.Empty(t, e.forwarder.texts())
}

func TestDeactivatedMember(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	e.member(t, 20)
	_, err := e.bots.SetMemberActive(ctx, testBotID, 20, false)
	require.NoError(t, err)

	res := e.router.Handle(ctx, testBotID, textUpdate(20, 1, "hello"))
	assert.Equal(t, i18n.AccountDeactivated, res.Reply)
	assert.Empty(t, e.forwarder.texts())
}

func TestStageThenReplay(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	e.member(t, 20)

	res := e.router.Handle(ctx, testBotID, textUpdate(20, 77, "hello"))
	require.True(t, res.OK(), res.Err)
	assert.Equal(t, OutcomeStaged, res.Outcome)
	assert.Equal(t, []string{"/restart_77"}, e.forwarder.texts())
	assert.Equal(t, "77", e.forwarder.events[0].ExternalItem.ExtraData.ReqID)
	assert.Equal(t, "main", e.forwarder.events[0].ExternalItem.ExtraData.Project)

	cur, ok, err := e.projects.Current(ctx, testBotID, 20)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, e.main.ID, cur.ID)

	ev, err := ParseSystemEvent(`{"event":"started","req_id":"77"}`)
	require.NoError(t, err)
	res = e.router.HandleSystem(ctx, testBotID, 20, ev)
	require.True(t, res.OK(), res.Err)
	assert.Equal(t, OutcomeReplayed, res.Outcome)
	assert.Equal(t, []string{"/restart_77", "hello"}, e.forwarder.texts())
	assert.Equal(t, "Ann Lee", e.forwarder.events[1].Participant)

	res = e.router.HandleSystem(ctx, testBotID, 20, ev)
	assert.Equal(t, OutcomeIgnored, res.Outcome)
	assert.Len(t, e.forwarder.texts(), 2)
}

func TestReplayFailureRestages(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	require.NoError(t, e.staging.Stage(ctx, testBotID, 20, "5", staging.Message{Text: "hello", Type: "text"}))

	e.forwarder.err = errors.New("down")
	res := e.router.HandleSystem(ctx, testBotID, 20, SystemEvent{Event: SystemStarted, ReqID: "5"})
	assert.False(t, res.OK())

	msg, ok, err := e.staging.TakeAndClear(ctx, testBotID, 20, "5")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello", msg.Text)
}

func TestNoMainProject(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	require.NoError(t, e.projects.Delete(ctx, testBotID, e.main.ID))
	e.member(t, 20)

	res := e.router.Handle(ctx, testBotID, textUpdate(20, 1, "hello"))
	assert.ErrorIs(t, res.Err, projects.ErrNoMainProject)
	assert.Empty(t, e.forwarder.texts())
}

func TestForwardsContentWithSelection(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	e.member(t, 20)
	require.NoError(t, e.projects.Select(ctx, testBotID, 20, e.sales.ID))

	res := e.router.Handle(ctx, testBotID, textUpdate(20, 3, "price?"))
	require.True(t, res.OK(), res.Err)
	assert.Equal(t, OutcomeForwarded, res.Outcome)

	ev := e.forwarder.events[0]
	assert.Equal(t, "price?", ev.Message.Text)
	assert.Equal(t, "3", ev.Message.ExternalID)
	assert.Equal(t, "05.03.2024", ev.Message.Date)
	assert.Equal(t, "20", ev.Chat.ExternalID)
	assert.Equal(t, strconv.FormatInt(testBotID, 10), ev.Chat.MessengerID)
	assert.Equal(t, "Sales", ev.ExternalItem.ExtraData.Project)
	assert.Equal(t, "text", ev.ExternalItem.ExtraData.MessageType)
}

func TestCommandListPushedOnce(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	e.member(t, 20)
	require.NoError(t, e.projects.Select(ctx, testBotID, 20, e.main.ID))

	for i := 1; i <= 3; i++ {
		require.True(t, e.router.Handle(ctx, testBotID, textUpdate(20, i, "msg")).OK())
	}
	assert.Len(t, e.messenger.commands, 1)

	_, err := e.projects.Create(ctx, testBotID, projects.CreateParams{Code: "Оплата Заказа"})
	require.NoError(t, err)
	require.True(t, e.router.Handle(ctx, testBotID, textUpdate(20, 4, "msg")).OK())
	require.Len(t, e.messenger.commands, 2)
	assert.Len(t, e.messenger.commands[1], 2)
}

func TestSwitchCommand(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	e.member(t, 20)
	require.NoError(t, e.projects.Select(ctx, testBotID, 20, e.main.ID))

	res := e.router.Handle(ctx, testBotID, textUpdate(20, 9, "/sales"))
	require.True(t, res.OK(), res.Err)
	assert.Equal(t, OutcomeSwitched, res.Outcome)
	assert.Equal(t, []string{"/stop", "/start"}, e.forwarder.texts())
	assert.Equal(t, "main", e.forwarder.events[0].ExternalItem.ExtraData.Project)
	assert.Equal(t, "Sales", e.forwarder.events[1].ExternalItem.ExtraData.Project)

	cur, ok, err := e.projects.Current(ctx, testBotID, 20)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, e.sales.ID, cur.ID)
}

func TestUnknownCommandIsForwarded(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	e.member(t, 20)
	require.NoError(t, e.projects.Select(ctx, testBotID, 20, e.main.ID))

	res := e.router.Handle(ctx, testBotID, textUpdate(20, 9, "/help"))
	assert.Equal(t, OutcomeForwarded, res.Outcome)
	assert.Equal(t, []string{"/help"}, e.forwarder.texts())
}

func TestPhotoAttachment(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	e.member(t, 20)
	require.NoError(t, e.projects.Select(ctx, testBotID, 20, e.main.ID))

	u := textUpdate(20, 4, "")
	u.Message.Caption = "look"
	u.Message.Photo = []tgbotapi.PhotoSize{{FileID: "small", FileSize: 10}, {FileID: "big", FileSize: 100}}
	res := e.router.Handle(ctx, testBotID, u)
	require.True(t, res.OK(), res.Err)

	ev := e.forwarder.events[0]
	assert.Equal(t, "look", ev.Message.Text)
	assert.Equal(t, "photo", ev.ExternalItem.ExtraData.MessageType)
	require.Len(t, ev.Message.Attachments, 1)
	assert.Equal(t, forwarder.Attachment{Type: forwarder.AttachmentImage, URL: "https://files.example/big", Mime: "image/jpeg"}, ev.Message.Attachments[0])
}

func TestForeignContactIsIgnored(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	e.member(t, 20)
	require.NoError(t, e.projects.Select(ctx, testBotID, 20, e.main.ID))

	res := e.router.Handle(ctx, testBotID, contactUpdate(20, 999, 5, "+200"))
	assert.Equal(t, OutcomeIgnored, res.Outcome)
	user, err := e.bots.GetUser(ctx, 20)
	require.NoError(t, err)
	assert.Empty(t, user.Phone)
}

func TestCallbackIsAcknowledged(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	e.member(t, 20)
	require.NoError(t, e.projects.Select(ctx, testBotID, 20, e.main.ID))

	res := e.router.Handle(ctx, testBotID, tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:   "cb-1",
		From: &tgbotapi.User{ID: 20, FirstName: "Ann"},
		Data: "yes",
	}})
	require.True(t, res.OK(), res.Err)
	assert.Equal(t, []string{"cb-1"}, e.messenger.acks)
	assert.Equal(t, "cb-1", e.forwarder.events[0].Message.ExternalID)
}

func TestSessionCorrelation(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	e.member(t, 20)
	require.NoError(t, e.projects.Select(ctx, testBotID, 20, e.sales.ID))

	res := e.router.HandleSystem(ctx, testBotID, 20, SystemEvent{Event: SystemStarted, SessionID: "s-1"})
	require.True(t, res.OK(), res.Err)
	assert.Equal(t, OutcomeRemembered, res.Outcome)

	res = e.router.HandleSystem(ctx, testBotID, 20, SystemEvent{Event: SystemStopped, SessionID: "s-1"})
	require.True(t, res.OK(), res.Err)
	assert.Equal(t, OutcomeCleared, res.Outcome)

	_, ok, err := e.projects.Current(ctx, testBotID, 20)
	require.NoError(t, err)
	assert.False(t, ok)

	res = e.router.HandleSystem(ctx, testBotID, 20, SystemEvent{Event: SystemStopped, SessionID: "s-1"})
	assert.Equal(t, OutcomeIgnored, res.Outcome)
}

func TestUnsupportedSystemEvent(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	res := e.router.HandleSystem(context.Background(), testBotID, 20, SystemEvent{Event: "paused"})
	assert.ErrorIs(t, res.Err, ErrUnsupportedEvent)
}

func TestParseSystemEvent(t *testing.T) {
	t.Parallel()
	ev, err := ParseSystemEvent(`{"event":"Started","req_id":5}`)
	require.NoError(t, err)
	assert.Equal(t, SystemStarted, ev.Event)
	assert.Equal(t, idText("5"), ev.ReqID)

	_, err = ParseSystemEvent("not json")
	assert.ErrorIs(t, err, ErrUnsupportedEvent)
}

func TestOutcomesAreObserved(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.router.Handle(context.Background(), testBotID, textUpdate(50, 1, "hello"))
	assert.Equal(t, []string{string(OutcomeReplied)}, e.metrics.outcomes)
}

// slowOwnerLookup widens the gap between reading and writing the owner.
type slowOwnerLookup struct {
	*bots.Service
}

func (s slowOwnerLookup) Owner(ctx context.Context, botID int64) (bots.Member, error) {
	time.Sleep(5 * time.Millisecond)
	return s.Service.Owner(ctx, botID)
}

func TestConcurrentOwnerClaimsHaveOneWinner(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	router := NewRouter(nil, Dependencies{
		Bots:      slowOwnerLookup{e.bots},
		Projects:  e.projects,
		Messenger: e.messenger,
		Forwarder: e.forwarder,
		Staging:   e.staging,
	})

	users := []int64{101, 102}
	results := make([]Result, len(users))
	var wg sync.WaitGroup
	for i, id := range users {
		wg.Add(1)
		go func(i int, id int64) {
			defer wg.Done()
			results[i] = router.Handle(ctx, testBotID, textUpdate(id, 1, "/start "+e.ownerCode))
		}(i, id)
	}
	wg.Wait()

	replies := map[i18n.Key]int{}
	for _, res := range results {
		require.True(t, res.OK(), res.Err)
		replies[res.Reply]++
	}
	assert.Equal(t, map[i18n.Key]int{i18n.ShareContactPrompt: 1, i18n.AlreadyHasOwner: 1}, replies)

	owners := 0
	for _, id := range users {
		m, err := e.bots.Member(ctx, testBotID, id)
		if errors.Is(err, bots.ErrMemberNotFound) {
			continue
		}
		require.NoError(t, err)
		if m.IsOwner {
			owners++
		}
	}
	assert.Equal(t, 1, owners)
}

func TestReRegisteredBotForgetsFormerMembers(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()

	e.member(t, 20)
	_, err := e.bots.Member(ctx, testBotID, 20)
	require.NoError(t, err)

	require.NoError(t, e.bots.Delete(ctx, testBotID))
	_, err = e.bots.Register(ctx, bots.RegisterParams{BotID: testBotID, Token: "1:secret", Name: "shop_bot", Locale: "en"})
	require.NoError(t, err)
	_, err = e.projects.Create(ctx, testBotID, projects.CreateParams{Code: "main", Title: "Main", IsMain: true})
	require.NoError(t, err)

	res := e.router.Handle(ctx, testBotID, textUpdate(20, 5, "hello"))
	require.True(t, res.OK(), res.Err)
	assert.Equal(t, OutcomeReplied, res.Outcome)
	assert.Equal(t, i18n.NotAllowed, res.Reply)
	assert.Empty(t, e.forwarder.texts())
}
