package queries

import (
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

type Bot struct {
	BotID        int64
	Token        []byte
	Name         string
	OwnerSecret  string
	InviteSecret string
	WebURL       string
	Locale       string
	Verified     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type User struct {
	UserID    int64
	Name      pgtype.Text
	Surname   pgtype.Text
	Phone     pgtype.Text
	CreatedAt time.Time
	UpdatedAt time.Time
}

type BotUser struct {
	BotID     int64
	UserID    int64
	IsActive  bool
	IsOwner   bool
	CreatedAt time.Time
}

// BotUserRow is a membership joined with its user profile.
type BotUserRow struct {
	BotUser
	Name    pgtype.Text
	Surname pgtype.Text
	Phone   pgtype.Text
}

type InviteToken struct {
	Token     string
	BotID     int64
	Used      bool
	UsedBy    pgtype.Int8
	UsedAt    pgtype.Timestamptz
	CreatedAt time.Time
}

type Project struct {
	ProjectID int64
	BotID     int64
	Code      string
	Title     string
	IsMain    bool
	CreatedAt time.Time
}
