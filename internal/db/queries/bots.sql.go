package queries

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const botColumns = `bot_id, token, name, owner_secret, invite_secret, web_url, locale, verified, created_at, updated_at`

func scanBot(row pgx.Row) (Bot, error) {
	var b Bot
	err := row.Scan(
		&b.BotID,
		&b.Token,
		&b.Name,
		&b.OwnerSecret,
		&b.InviteSecret,
		&b.WebURL,
		&b.Locale,
		&b.Verified,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	return b, err
}

const upsertBot = `
INSERT INTO bots (bot_id, token, name, owner_secret, invite_secret, web_url, locale)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (bot_id) DO UPDATE SET
    token = EXCLUDED.token,
    name = EXCLUDED.name,
    web_url = EXCLUDED.web_url,
    locale = EXCLUDED.locale,
    updated_at = now()
RETURNING ` + botColumns

type UpsertBotParams struct {
	BotID        int64
	Token        []byte
	Name         string
	OwnerSecret  string
	InviteSecret string
	WebURL       string
	Locale       string
}

// UpsertBot inserts a bot or refreshes its mutable fields. Secrets of an
// existing row are preserved.
func (q *Queries) UpsertBot(ctx context.Context, arg UpsertBotParams) (Bot, error) {
	row := q.db.QueryRow(ctx, upsertBot,
		arg.BotID,
		arg.Token,
		arg.Name,
		arg.OwnerSecret,
		arg.InviteSecret,
		arg.WebURL,
		arg.Locale,
	)
	return scanBot(row)
}

const getBot = `SELECT ` + botColumns + ` FROM bots WHERE bot_id = $1`

func (q *Queries) GetBot(ctx context.Context, botID int64) (Bot, error) {
	return scanBot(q.db.QueryRow(ctx, getBot, botID))
}

const deleteBot = `DELETE FROM bots WHERE bot_id = $1`

func (q *Queries) DeleteBot(ctx context.Context, botID int64) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteBot, botID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const setBotVerified = `UPDATE bots SET verified = $2, updated_at = now() WHERE bot_id = $1`

func (q *Queries) SetBotVerified(ctx context.Context, botID int64, verified bool) error {
	_, err := q.db.Exec(ctx, setBotVerified, botID, verified)
	return err
}

const userColumns = `user_id, name, surname, phone, created_at, updated_at`

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.UserID, &u.Name, &u.Surname, &u.Phone, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

const upsertUser = `
INSERT INTO users (user_id, name, surname, phone)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id) DO UPDATE SET
    name = COALESCE(EXCLUDED.name, users.name),
    surname = COALESCE(EXCLUDED.surname, users.surname),
    phone = COALESCE(EXCLUDED.phone, users.phone),
    updated_at = now()
RETURNING ` + userColumns

type UpsertUserParams struct {
	UserID  int64
	Name    pgtype.Text
	Surname pgtype.Text
	Phone   pgtype.Text
}

// UpsertUser creates the user or overwrites the non-null fields given.
func (q *Queries) UpsertUser(ctx context.Context, arg UpsertUserParams) (User, error) {
	row := q.db.QueryRow(ctx, upsertUser, arg.UserID, arg.Name, arg.Surname, arg.Phone)
	return scanUser(row)
}

const getUser = `SELECT ` + userColumns + ` FROM users WHERE user_id = $1`

func (q *Queries) GetUser(ctx context.Context, userID int64) (User, error) {
	return scanUser(q.db.QueryRow(ctx, getUser, userID))
}

const botUserColumns = `bot_id, user_id, is_active, is_owner, created_at`

func scanBotUser(row pgx.Row) (BotUser, error) {
	var m BotUser
	err := row.Scan(&m.BotID, &m.UserID, &m.IsActive, &m.IsOwner, &m.CreatedAt)
	return m, err
}

const getBotUser = `SELECT ` + botUserColumns + ` FROM bot_users WHERE bot_id = $1 AND user_id = $2`

func (q *Queries) GetBotUser(ctx context.Context, botID, userID int64) (BotUser, error) {
	return scanBotUser(q.db.QueryRow(ctx, getBotUser, botID, userID))
}

const getBotOwner = `SELECT ` + botUserColumns + ` FROM bot_users WHERE bot_id = $1 AND is_owner ORDER BY created_at LIMIT 1`

func (q *Queries) GetBotOwner(ctx context.Context, botID int64) (BotUser, error) {
	return scanBotUser(q.db.QueryRow(ctx, getBotOwner, botID))
}

const upsertBotUser = `
INSERT INTO bot_users (bot_id, user_id, is_active, is_owner)
VALUES ($1, $2, $3, $4)
ON CONFLICT (bot_id, user_id) DO UPDATE SET
    is_active = EXCLUDED.is_active,
    is_owner = bot_users.is_owner OR EXCLUDED.is_owner
RETURNING ` + botUserColumns

type UpsertBotUserParams struct {
	BotID    int64
	UserID   int64
	IsActive bool
	IsOwner  bool
}

// UpsertBotUser creates or re-activates a membership. The owner flag is
// sticky: an upsert never clears it.
func (q *Queries) UpsertBotUser(ctx context.Context, arg UpsertBotUserParams) (BotUser, error) {
	row := q.db.QueryRow(ctx, upsertBotUser, arg.BotID, arg.UserID, arg.IsActive, arg.IsOwner)
	return scanBotUser(row)
}

const claimBotOwner = `
INSERT INTO bot_users (bot_id, user_id, is_active, is_owner)
SELECT $1, $2, TRUE, TRUE
WHERE NOT EXISTS (
    SELECT 1 FROM bot_users WHERE bot_id = $1 AND is_owner AND user_id <> $2
)
ON CONFLICT (bot_id, user_id) DO UPDATE SET
    is_active = TRUE,
    is_owner = TRUE
RETURNING ` + botUserColumns

// ClaimBotOwner makes userID the active owner unless another user already
// owns the bot, in which case no row is returned. Concurrent claims that both
// pass the NOT EXISTS check are settled by bot_users_single_owner (23505).
func (q *Queries) ClaimBotOwner(ctx context.Context, botID, userID int64) (BotUser, error) {
	return scanBotUser(q.db.QueryRow(ctx, claimBotOwner, botID, userID))
}

const setBotUserActive = `UPDATE bot_users SET is_active = $3 WHERE bot_id = $1 AND user_id = $2 RETURNING ` + botUserColumns

func (q *Queries) SetBotUserActive(ctx context.Context, botID, userID int64, active bool) (BotUser, error) {
	return scanBotUser(q.db.QueryRow(ctx, setBotUserActive, botID, userID, active))
}

const listBotUsers = `
SELECT bu.bot_id, bu.user_id, bu.is_active, bu.is_owner, bu.created_at, u.name, u.surname, u.phone
FROM bot_users bu
JOIN users u ON u.user_id = bu.user_id
WHERE bu.bot_id = $1
ORDER BY bu.is_owner DESC, bu.created_at, bu.user_id
LIMIT $2 OFFSET $3`

func (q *Queries) ListBotUsers(ctx context.Context, botID int64, limit, offset int32) ([]BotUserRow, error) {
	rows, err := q.db.Query(ctx, listBotUsers, botID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []BotUserRow
	for rows.Next() {
		var i BotUserRow
		if err := rows.Scan(
			&i.BotID,
			&i.UserID,
			&i.IsActive,
			&i.IsOwner,
			&i.CreatedAt,
			&i.Name,
			&i.Surname,
			&i.Phone,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const countBotUsers = `SELECT count(*) FROM bot_users WHERE bot_id = $1`

func (q *Queries) CountBotUsers(ctx context.Context, botID int64) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, countBotUsers, botID).Scan(&n)
	return n, err
}

const inviteColumns = `token::text, bot_id, used, used_by, used_at, created_at`

func scanInvite(row pgx.Row) (InviteToken, error) {
	var i InviteToken
	err := row.Scan(&i.Token, &i.BotID, &i.Used, &i.UsedBy, &i.UsedAt, &i.CreatedAt)
	return i, err
}

const createInviteToken = `INSERT INTO invite_tokens (token, bot_id) VALUES ($2::text::uuid, $1) RETURNING ` + inviteColumns

func (q *Queries) CreateInviteToken(ctx context.Context, botID int64, token string) (InviteToken, error) {
	return scanInvite(q.db.QueryRow(ctx, createInviteToken, botID, token))
}

const getInviteToken = `SELECT ` + inviteColumns + ` FROM invite_tokens WHERE bot_id = $1 AND token = $2::text::uuid`

func (q *Queries) GetInviteToken(ctx context.Context, botID int64, token string) (InviteToken, error) {
	return scanInvite(q.db.QueryRow(ctx, getInviteToken, botID, token))
}

const useInviteToken = `
UPDATE invite_tokens SET used = TRUE, used_by = $3, used_at = now()
WHERE bot_id = $1 AND token = $2::text::uuid AND NOT used
RETURNING ` + inviteColumns

// UseInviteToken marks an unused token as used. It returns pgx.ErrNoRows
// when the token does not exist or was already consumed.
func (q *Queries) UseInviteToken(ctx context.Context, botID int64, token string, userID int64) (InviteToken, error) {
	return scanInvite(q.db.QueryRow(ctx, useInviteToken, botID, token, userID))
}

const listInviteTokens = `SELECT ` + inviteColumns + ` FROM invite_tokens WHERE bot_id = $1 ORDER BY created_at DESC`

func (q *Queries) ListInviteTokens(ctx context.Context, botID int64) ([]InviteToken, error) {
	rows, err := q.db.Query(ctx, listInviteTokens, botID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []InviteToken
	for rows.Next() {
		i, err := scanInvite(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const deleteUsedInviteTokens = `DELETE FROM invite_tokens WHERE used AND used_at < $1`

func (q *Queries) DeleteUsedInviteTokens(ctx context.Context, before time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteUsedInviteTokens, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
