package bots

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/corpai/tggateway/internal/cache"
	"github.com/corpai/tggateway/internal/db/queries"
)

var (
	ErrBotNotFound    = errors.New("bot not registered")
	ErrUserNotFound   = errors.New("user not found")
	ErrMemberNotFound = errors.New("membership not found")
	ErrInvalidToken   = errors.New("bot token is required")
	ErrOwnerTaken     = errors.New("bot already has an owner")
)

const defaultCacheTTL = 24 * time.Hour

// TokenCipher encrypts bot tokens at rest.
type TokenCipher interface {
	Encrypt(plain string) ([]byte, error)
	Decrypt(sealed []byte) (string, error)
}

// Service is the credential store: bots, users, memberships and invites.
// Postgres is authoritative; the cache is read-through and invalidated on
// every write.
type Service struct {
	queries Queries
	cache   cache.Store
	cipher  TokenCipher
	logger  *slog.Logger
	ttl     time.Duration
}

// NewService creates a new bot service.
func NewService(log *slog.Logger, q Queries, store cache.Store, cipher TokenCipher, ttl time.Duration) *Service {
	if log == nil {
		log = slog.Default()
	}
	if store == nil {
		store = cache.NewMemoryStore()
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Service{
		queries: q,
		cache:   store,
		cipher:  cipher,
		logger:  log.With(slog.String("service", "bots")),
		ttl:     ttl,
	}
}

func tokenKey(botID int64) string   { return cache.Key("bots", botID, "token") }
func profileKey(botID int64) string { return cache.Key("bots", botID, "profile") }
func memberKey(botID, userID int64) string {
	return cache.Key("bots", botID, "users", userID, "member")
}

// botPrefix covers every cached entry derived from the bot's rows.
func botPrefix(botID int64) string { return cache.Key("bots", botID) + ":" }

// Register creates the bot or refreshes the mutable fields of an existing one.
// The owner secret is generated on first registration and kept afterwards.
func (s *Service) Register(ctx context.Context, p RegisterParams) (Registration, error) {
	if s.queries == nil {
		return Registration{}, fmt.Errorf("bot queries not configured")
	}
	token := strings.TrimSpace(p.Token)
	if token == "" {
		return Registration{}, ErrInvalidToken
	}
	if p.BotID == 0 {
		return Registration{}, fmt.Errorf("bot id is required")
	}
	created := false
	if _, err := s.queries.GetBot(ctx, p.BotID); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return Registration{}, err
		}
		created = true
	}
	sealed, err := s.seal(token)
	if err != nil {
		return Registration{}, err
	}
	locale := strings.TrimSpace(p.Locale)
	if locale == "" {
		locale = "ru"
	}
	row, err := s.queries.UpsertBot(ctx, queries.UpsertBotParams{
		BotID:        p.BotID,
		Token:        sealed,
		Name:         strings.TrimSpace(p.Name),
		OwnerSecret:  uuid.NewString(),
		InviteSecret: uuid.NewString(),
		WebURL:       strings.TrimSpace(p.WebURL),
		Locale:       locale,
	})
	if err != nil {
		return Registration{}, err
	}
	if created {
		s.purge(ctx, p.BotID)
	} else {
		s.invalidate(ctx, tokenKey(p.BotID), profileKey(p.BotID))
	}
	s.logger.Info("bot registered", slog.Int64("bot_id", row.BotID), slog.Bool("created", created))
	return Registration{
		BotID:    row.BotID,
		BotName:  row.Name,
		PassUUID: row.OwnerSecret,
		WebURL:   row.WebURL,
		Created:  created,
	}, nil
}

// Token returns the decrypted platform token of the bot.
func (s *Service) Token(ctx context.Context, botID int64) (string, error) {
	if raw, ok, err := s.cache.Get(ctx, tokenKey(botID)); err != nil {
		s.logger.Warn("token cache read failed", slog.Int64("bot_id", botID), slog.Any("error", err))
	} else if ok {
		if token, err := s.open(raw); err == nil {
			return token, nil
		}
		s.invalidate(ctx, tokenKey(botID))
	}
	if s.queries == nil {
		return "", fmt.Errorf("bot queries not configured")
	}
	row, err := s.queries.GetBot(ctx, botID)
	if err != nil {
		return "", mapNoRows(err, ErrBotNotFound)
	}
	token, err := s.open(row.Token)
	if err != nil {
		return "", fmt.Errorf("decrypt bot token: %w", err)
	}
	if err := s.cache.Set(ctx, tokenKey(botID), row.Token, s.ttl); err != nil {
		s.logger.Warn("token cache write failed", slog.Int64("bot_id", botID), slog.Any("error", err))
	}
	return token, nil
}

// Get returns the bot profile.
func (s *Service) Get(ctx context.Context, botID int64) (Bot, error) {
	var bot Bot
	if ok, err := cache.GetJSON(ctx, s.cache, profileKey(botID), &bot); err == nil && ok {
		return bot, nil
	}
	if s.queries == nil {
		return Bot{}, fmt.Errorf("bot queries not configured")
	}
	row, err := s.queries.GetBot(ctx, botID)
	if err != nil {
		return Bot{}, mapNoRows(err, ErrBotNotFound)
	}
	bot = toBot(row)
	if err := cache.SetJSON(ctx, s.cache, profileKey(botID), bot, s.ttl); err != nil {
		s.logger.Warn("profile cache write failed", slog.Int64("bot_id", botID), slog.Any("error", err))
	}
	return bot, nil
}

// Delete removes the bot. Memberships, invites and projects cascade, and so
// does every cached entry of the bot.
func (s *Service) Delete(ctx context.Context, botID int64) error {
	if s.queries == nil {
		return fmt.Errorf("bot queries not configured")
	}
	n, err := s.queries.DeleteBot(ctx, botID)
	if err != nil {
		return err
	}
	s.purge(ctx, botID)
	if n == 0 {
		return ErrBotNotFound
	}
	return nil
}

// SetVerified toggles the verified flag.
func (s *Service) SetVerified(ctx context.Context, botID int64, verified bool) error {
	if s.queries == nil {
		return fmt.Errorf("bot queries not configured")
	}
	if err := s.queries.SetBotVerified(ctx, botID, verified); err != nil {
		return err
	}
	s.invalidate(ctx, profileKey(botID))
	return nil
}

// MatchSecret reports which of the bot's secrets the code equals.
func (s *Service) MatchSecret(ctx context.Context, botID int64, code string) (SecretKind, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return SecretNone, nil
	}
	if s.queries == nil {
		return SecretNone, fmt.Errorf("bot queries not configured")
	}
	row, err := s.queries.GetBot(ctx, botID)
	if err != nil {
		return SecretNone, mapNoRows(err, ErrBotNotFound)
	}
	switch code {
	case row.OwnerSecret:
		return SecretOwner, nil
	case row.InviteSecret:
		return SecretInvite, nil
	}
	return SecretNone, nil
}

// GetUser returns a stored contact.
func (s *Service) GetUser(ctx context.Context, userID int64) (User, error) {
	if s.queries == nil {
		return User{}, fmt.Errorf("bot queries not configured")
	}
	row, err := s.queries.GetUser(ctx, userID)
	if err != nil {
		return User{}, mapNoRows(err, ErrUserNotFound)
	}
	return toUser(row), nil
}

// UpdateContact stores the contact details shared by the user. Empty values
// leave the stored field unchanged.
func (s *Service) UpdateContact(ctx context.Context, u User) (User, error) {
	if s.queries == nil {
		return User{}, fmt.Errorf("bot queries not configured")
	}
	row, err := s.queries.UpsertUser(ctx, queries.UpsertUserParams{
		UserID:  u.ID,
		Name:    optionalText(u.Name),
		Surname: optionalText(u.Surname),
		Phone:   optionalText(u.Phone),
	})
	if err != nil {
		return User{}, err
	}
	return toUser(row), nil
}

// Member returns the membership of userID in botID.
func (s *Service) Member(ctx context.Context, botID, userID int64) (Member, error) {
	var m Member
	if ok, err := cache.GetJSON(ctx, s.cache, memberKey(botID, userID), &m); err == nil && ok {
		return m, nil
	}
	if s.queries == nil {
		return Member{}, fmt.Errorf("bot queries not configured")
	}
	row, err := s.queries.GetBotUser(ctx, botID, userID)
	if err != nil {
		return Member{}, mapNoRows(err, ErrMemberNotFound)
	}
	m = toMember(row)
	s.cacheMember(ctx, m)
	return m, nil
}

// Owner returns the owner membership of the bot.
func (s *Service) Owner(ctx context.Context, botID int64) (Member, error) {
	if s.queries == nil {
		return Member{}, fmt.Errorf("bot queries not configured")
	}
	row, err := s.queries.GetBotOwner(ctx, botID)
	if err != nil {
		return Member{}, mapNoRows(err, ErrMemberNotFound)
	}
	return toMember(row), nil
}

// AddMember creates the user if needed and an active membership for it.
// Passing owner=true claims ownership: the first claim wins and later claims
// by other users fail with ErrOwnerTaken. An existing owner flag is never
// cleared.
func (s *Service) AddMember(ctx context.Context, botID int64, user User, owner bool) (Member, error) {
	if s.queries == nil {
		return Member{}, fmt.Errorf("bot queries not configured")
	}
	if _, err := s.UpdateContact(ctx, user); err != nil {
		return Member{}, fmt.Errorf("ensure user: %w", err)
	}
	var (
		row queries.BotUser
		err error
	)
	if owner {
		row, err = s.queries.ClaimBotOwner(ctx, botID, user.ID)
		if errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err) {
			s.invalidate(ctx, memberKey(botID, user.ID))
			return Member{}, ErrOwnerTaken
		}
	} else {
		row, err = s.queries.UpsertBotUser(ctx, queries.UpsertBotUserParams{
			BotID:    botID,
			UserID:   user.ID,
			IsActive: true,
		})
	}
	if err != nil {
		return Member{}, err
	}
	m := toMember(row)
	s.cacheMember(ctx, m)
	return m, nil
}

// SetMemberActive activates or deactivates a membership.
func (s *Service) SetMemberActive(ctx context.Context, botID, userID int64, active bool) (Member, error) {
	if s.queries == nil {
		return Member{}, fmt.Errorf("bot queries not configured")
	}
	row, err := s.queries.SetBotUserActive(ctx, botID, userID, active)
	if err != nil {
		s.invalidate(ctx, memberKey(botID, userID))
		return Member{}, mapNoRows(err, ErrMemberNotFound)
	}
	m := toMember(row)
	s.cacheMember(ctx, m)
	return m, nil
}

// ListMembers returns one page of the bot's members.
func (s *Service) ListMembers(ctx context.Context, botID int64, limit, offset int32) (UsersPage, error) {
	if s.queries == nil {
		return UsersPage{}, fmt.Errorf("bot queries not configured")
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.queries.ListBotUsers(ctx, botID, limit, offset)
	if err != nil {
		return UsersPage{}, err
	}
	total, err := s.queries.CountBotUsers(ctx, botID)
	if err != nil {
		return UsersPage{}, err
	}
	items := make([]UserInfo, 0, len(rows))
	for _, row := range rows {
		items = append(items, UserInfo{
			ID:      row.UserID,
			Name:    textPtr(row.Name),
			Surname: textPtr(row.Surname),
			Phone:   textPtr(row.Phone),
			IsOwner: row.IsOwner,
			Status:  row.IsActive,
		})
	}
	return UsersPage{Users: items, Total: total}, nil
}

// CreateInvite issues a new single-use invite token.
func (s *Service) CreateInvite(ctx context.Context, botID int64) (InviteToken, error) {
	if s.queries == nil {
		return InviteToken{}, fmt.Errorf("bot queries not configured")
	}
	row, err := s.queries.CreateInviteToken(ctx, botID, uuid.NewString())
	if err != nil {
		return InviteToken{}, err
	}
	return toInvite(row), nil
}

// ListInvites returns every invite token of the bot, newest first.
func (s *Service) ListInvites(ctx context.Context, botID int64) ([]InviteToken, error) {
	if s.queries == nil {
		return nil, fmt.Errorf("bot queries not configured")
	}
	rows, err := s.queries.ListInviteTokens(ctx, botID)
	if err != nil {
		return nil, err
	}
	items := make([]InviteToken, 0, len(rows))
	for _, row := range rows {
		items = append(items, toInvite(row))
	}
	return items, nil
}

// InviteAvailable reports whether code is an unused invite token of the bot.
func (s *Service) InviteAvailable(ctx context.Context, botID int64, code string) (bool, error) {
	if _, err := uuid.Parse(strings.TrimSpace(code)); err != nil {
		return false, nil
	}
	if s.queries == nil {
		return false, fmt.Errorf("bot queries not configured")
	}
	row, err := s.queries.GetInviteToken(ctx, botID, strings.TrimSpace(code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return !row.Used, nil
}

// UseInvite consumes the invite token. It returns false when the token was
// already used, including by a concurrent request.
func (s *Service) UseInvite(ctx context.Context, botID int64, code string, userID int64) (bool, error) {
	if _, err := uuid.Parse(strings.TrimSpace(code)); err != nil {
		return false, nil
	}
	if s.queries == nil {
		return false, fmt.Errorf("bot queries not configured")
	}
	if _, err := s.queries.UseInviteToken(ctx, botID, strings.TrimSpace(code), userID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// PurgeUsedInvites deletes invite tokens consumed before now-retention.
func (s *Service) PurgeUsedInvites(ctx context.Context, retention time.Duration) (int64, error) {
	if s.queries == nil {
		return 0, fmt.Errorf("bot queries not configured")
	}
	n, err := s.queries.DeleteUsedInviteTokens(ctx, time.Now().UTC().Add(-retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("purged used invites", slog.Int64("count", n))
	}
	return n, nil
}

func (s *Service) cacheMember(ctx context.Context, m Member) {
	if err := cache.SetJSON(ctx, s.cache, memberKey(m.BotID, m.UserID), m, s.ttl); err != nil {
		s.logger.Warn("member cache write failed", slog.Int64("bot_id", m.BotID), slog.Any("error", err))
	}
}

func (s *Service) invalidate(ctx context.Context, keys ...string) {
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.logger.Warn("cache invalidation failed", slog.Any("keys", keys), slog.Any("error", err))
	}
}

func (s *Service) purge(ctx context.Context, botID int64) {
	if err := s.cache.DeletePrefix(ctx, botPrefix(botID)); err != nil {
		s.logger.Warn("cache purge failed", slog.Int64("bot_id", botID), slog.Any("error", err))
	}
}

func (s *Service) seal(token string) ([]byte, error) {
	if s.cipher == nil {
		return []byte(token), nil
	}
	return s.cipher.Encrypt(token)
}

func (s *Service) open(raw []byte) (string, error) {
	if s.cipher == nil {
		return string(raw), nil
	}
	return s.cipher.Decrypt(raw)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func mapNoRows(err, target error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return target
	}
	return err
}

func toBot(row queries.Bot) Bot {
	return Bot{
		ID:       row.BotID,
		Name:     row.Name,
		WebURL:   row.WebURL,
		Locale:   row.Locale,
		Verified: row.Verified,
		Created:  row.CreatedAt,
	}
}

func toUser(row queries.User) User {
	return User{
		ID:      row.UserID,
		Name:    row.Name.String,
		Surname: row.Surname.String,
		Phone:   row.Phone.String,
	}
}

func toMember(row queries.BotUser) Member {
	return Member{
		BotID:    row.BotID,
		UserID:   row.UserID,
		IsActive: row.IsActive,
		IsOwner:  row.IsOwner,
	}
}

func toInvite(row queries.InviteToken) InviteToken {
	item := InviteToken{
		Token:     row.Token,
		Used:      row.Used,
		CreatedAt: row.CreatedAt,
	}
	if row.UsedBy.Valid {
		v := row.UsedBy.Int64
		item.UsedBy = &v
	}
	if row.UsedAt.Valid {
		v := row.UsedAt.Time
		item.UsedAt = &v
	}
	return item
}

func optionalText(v string) pgtype.Text {
	v = strings.TrimSpace(v)
	return pgtype.Text{String: v, Valid: v != ""}
}

func textPtr(v pgtype.Text) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
