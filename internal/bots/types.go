package bots

import (
	"context"
	"time"

	"github.com/corpai/tggateway/internal/db/queries"
)

// Bot is one registered chat-platform credential plus its configuration.
type Bot struct {
	ID       int64     `json:"id"`
	Name     string    `json:"name"`
	WebURL   string    `json:"web_url,omitempty"`
	Locale   string    `json:"locale"`
	Verified bool      `json:"verified"`
	Created  time.Time `json:"created_at"`
}

// Registration is returned once when a bot is registered.
type Registration struct {
	BotID    int64  `json:"botId"`
	BotName  string `json:"botName"`
	PassUUID string `json:"passUuid"`
	WebURL   string `json:"webUrl"`
	Created  bool   `json:"created"`
}

// User is a chat-platform contact.
type User struct {
	ID      int64  `json:"id"`
	Name    string `json:"name,omitempty"`
	Surname string `json:"surname,omitempty"`
	Phone   string `json:"phone,omitempty"`
}

// Member is a (bot, user) membership row.
type Member struct {
	BotID    int64 `json:"bot_id"`
	UserID   int64 `json:"user_id"`
	IsActive bool  `json:"is_active"`
	IsOwner  bool  `json:"is_owner"`
}

// UserInfo is one row of the admin members listing.
type UserInfo struct {
	ID      int64   `json:"id"`
	Name    *string `json:"name"`
	Surname *string `json:"surname"`
	Phone   *string `json:"phone"`
	IsOwner bool    `json:"isOwner"`
	Status  bool    `json:"status"`
}

// UsersPage wraps a page of members.
type UsersPage struct {
	Users []UserInfo `json:"users"`
	Total int64      `json:"total"`
}

// InviteToken is a single-use membership invitation.
type InviteToken struct {
	Token     string     `json:"token"`
	Used      bool       `json:"used"`
	UsedBy    *int64     `json:"used_by,omitempty"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	Link      string     `json:"link,omitempty"`
}

// RegisterParams is the input of Register.
type RegisterParams struct {
	BotID  int64
	Token  string
	Name   string
	WebURL string
	Locale string
}

// SecretKind classifies an onboarding code against a bot's secrets.
type SecretKind int

const (
	SecretNone SecretKind = iota
	SecretOwner
	SecretInvite
)

// Queries is the persistence surface the service depends on.
type Queries interface {
	UpsertBot(ctx context.Context, arg queries.UpsertBotParams) (queries.Bot, error)
	GetBot(ctx context.Context, botID int64) (queries.Bot, error)
	DeleteBot(ctx context.Context, botID int64) (int64, error)
	SetBotVerified(ctx context.Context, botID int64, verified bool) error
	UpsertUser(ctx context.Context, arg queries.UpsertUserParams) (queries.User, error)
	GetUser(ctx context.Context, userID int64) (queries.User, error)
	GetBotUser(ctx context.Context, botID, userID int64) (queries.BotUser, error)
	GetBotOwner(ctx context.Context, botID int64) (queries.BotUser, error)
	UpsertBotUser(ctx context.Context, arg queries.UpsertBotUserParams) (queries.BotUser, error)
	ClaimBotOwner(ctx context.Context, botID, userID int64) (queries.BotUser, error)
	SetBotUserActive(ctx context.Context, botID, userID int64, active bool) (queries.BotUser, error)
	ListBotUsers(ctx context.Context, botID int64, limit, offset int32) ([]queries.BotUserRow, error)
	CountBotUsers(ctx context.Context, botID int64) (int64, error)
	CreateInviteToken(ctx context.Context, botID int64, token string) (queries.InviteToken, error)
	GetInviteToken(ctx context.Context, botID int64, token string) (queries.InviteToken, error)
	UseInviteToken(ctx context.Context, botID int64, token string, userID int64) (queries.InviteToken, error)
	ListInviteTokens(ctx context.Context, botID int64) ([]queries.InviteToken, error)
	DeleteUsedInviteTokens(ctx context.Context, before time.Time) (int64, error)
}
