// Package dbtest provides an in-memory implementation of the query surface
// used by the bots and projects services, for tests that do not have a
// Postgres instance available.
package dbtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/corpai/tggateway/internal/db/queries"
)

// ErrForeignKey mimics a foreign-key violation.
var ErrForeignKey = &pgconn.PgError{Code: "23503", Message: "dbtest: foreign key violation"}

// ErrUnique mimics a unique-constraint violation.
var ErrUnique = &pgconn.PgError{Code: "23505", Message: "dbtest: unique violation"}

type memberKey struct{ botID, userID int64 }

type selectionKey struct{ projectID, userID int64 }

type selection struct {
	botID    int64
	selected bool
}

// Store is a mutex-guarded set of tables with the semantics of the SQL in
// package queries.
type Store struct {
	mu            sync.Mutex
	bots          map[int64]queries.Bot
	users         map[int64]queries.User
	members       map[memberKey]queries.BotUser
	invites       map[string]queries.InviteToken
	projects      map[int64]queries.Project
	selections    map[selectionKey]selection
	nextProjectID int64
	clock         int64
}

func New() *Store {
	return &Store{
		bots:       map[int64]queries.Bot{},
		users:      map[int64]queries.User{},
		members:    map[memberKey]queries.BotUser{},
		invites:    map[string]queries.InviteToken{},
		projects:   map[int64]queries.Project{},
		selections: map[selectionKey]selection{},
	}
}

// now returns strictly increasing timestamps so ordering by creation time is
// deterministic.
func (s *Store) now() time.Time {
	s.clock++
	return time.Unix(1_700_000_000+s.clock, 0).UTC()
}

func (s *Store) UpsertBot(_ context.Context, arg queries.UpsertBotParams) (queries.Bot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	b, ok := s.bots[arg.BotID]
	if !ok {
		b = queries.Bot{
			BotID:        arg.BotID,
			OwnerSecret:  arg.OwnerSecret,
			InviteSecret: arg.InviteSecret,
			CreatedAt:    now,
		}
	}
	b.Token = append([]byte(nil), arg.Token...)
	b.Name = arg.Name
	b.WebURL = arg.WebURL
	b.Locale = arg.Locale
	b.UpdatedAt = now
	s.bots[arg.BotID] = b
	return b, nil
}

func (s *Store) GetBot(_ context.Context, botID int64) (queries.Bot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bots[botID]
	if !ok {
		return queries.Bot{}, pgx.ErrNoRows
	}
	return b, nil
}

func (s *Store) DeleteBot(_ context.Context, botID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bots[botID]; !ok {
		return 0, nil
	}
	delete(s.bots, botID)
	for k := range s.members {
		if k.botID == botID {
			delete(s.members, k)
		}
	}
	for k, v := range s.invites {
		if v.BotID == botID {
			delete(s.invites, k)
		}
	}
	for id, p := range s.projects {
		if p.BotID == botID {
			s.deleteProjectLocked(id)
		}
	}
	return 1, nil
}

func (s *Store) SetBotVerified(_ context.Context, botID int64, verified bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.bots[botID]; ok {
		b.Verified = verified
		s.bots[botID] = b
	}
	return nil
}

func (s *Store) UpsertUser(_ context.Context, arg queries.UpsertUserParams) (queries.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	u, ok := s.users[arg.UserID]
	if !ok {
		u = queries.User{UserID: arg.UserID, CreatedAt: now}
	}
	coalesce(&u.Name, arg.Name)
	coalesce(&u.Surname, arg.Surname)
	coalesce(&u.Phone, arg.Phone)
	u.UpdatedAt = now
	s.users[arg.UserID] = u
	return u, nil
}

func coalesce(dst *pgtype.Text, v pgtype.Text) {
	if v.Valid {
		*dst = v
	}
}

func (s *Store) GetUser(_ context.Context, userID int64) (queries.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return queries.User{}, pgx.ErrNoRows
	}
	return u, nil
}

func (s *Store) GetBotUser(_ context.Context, botID, userID int64) (queries.BotUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[memberKey{botID, userID}]
	if !ok {
		return queries.BotUser{}, pgx.ErrNoRows
	}
	return m, nil
}

func (s *Store) GetBotOwner(_ context.Context, botID int64) (queries.BotUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var owner *queries.BotUser
	for _, m := range s.members {
		if m.BotID != botID || !m.IsOwner {
			continue
		}
		if owner == nil || m.CreatedAt.Before(owner.CreatedAt) {
			v := m
			owner = &v
		}
	}
	if owner == nil {
		return queries.BotUser{}, pgx.ErrNoRows
	}
	return *owner, nil
}

func (s *Store) UpsertBotUser(_ context.Context, arg queries.UpsertBotUserParams) (queries.BotUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bots[arg.BotID]; !ok {
		return queries.BotUser{}, ErrForeignKey
	}
	if _, ok := s.users[arg.UserID]; !ok {
		return queries.BotUser{}, ErrForeignKey
	}
	if arg.IsOwner && s.otherOwnerLocked(arg.BotID, arg.UserID) {
		return queries.BotUser{}, ErrUnique
	}
	key := memberKey{arg.BotID, arg.UserID}
	m, ok := s.members[key]
	if !ok {
		m = queries.BotUser{BotID: arg.BotID, UserID: arg.UserID, CreatedAt: s.now()}
	}
	m.IsActive = arg.IsActive
	m.IsOwner = m.IsOwner || arg.IsOwner
	s.members[key] = m
	return m, nil
}

func (s *Store) ClaimBotOwner(_ context.Context, botID, userID int64) (queries.BotUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bots[botID]; !ok {
		return queries.BotUser{}, ErrForeignKey
	}
	if _, ok := s.users[userID]; !ok {
		return queries.BotUser{}, ErrForeignKey
	}
	if s.otherOwnerLocked(botID, userID) {
		return queries.BotUser{}, pgx.ErrNoRows
	}
	key := memberKey{botID, userID}
	m, ok := s.members[key]
	if !ok {
		m = queries.BotUser{BotID: botID, UserID: userID, CreatedAt: s.now()}
	}
	m.IsActive = true
	m.IsOwner = true
	s.members[key] = m
	return m, nil
}

// otherOwnerLocked mirrors the bot_users_single_owner partial index.
func (s *Store) otherOwnerLocked(botID, userID int64) bool {
	for k, m := range s.members {
		if k.botID == botID && k.userID != userID && m.IsOwner {
			return true
		}
	}
	return false
}

func (s *Store) SetBotUserActive(_ context.Context, botID, userID int64, active bool) (queries.BotUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := memberKey{botID, userID}
	m, ok := s.members[key]
	if !ok {
		return queries.BotUser{}, pgx.ErrNoRows
	}
	m.IsActive = active
	s.members[key] = m
	return m, nil
}

func (s *Store) ListBotUsers(_ context.Context, botID int64, limit, offset int32) ([]queries.BotUserRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []queries.BotUserRow
	for _, m := range s.members {
		if m.BotID != botID {
			continue
		}
		u := s.users[m.UserID]
		items = append(items, queries.BotUserRow{BotUser: m, Name: u.Name, Surname: u.Surname, Phone: u.Phone})
	}
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.IsOwner != b.IsOwner {
			return a.IsOwner
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.UserID < b.UserID
	})
	start := int(offset)
	if start > len(items) {
		return nil, nil
	}
	end := start + int(limit)
	if end > len(items) {
		end = len(items)
	}
	return items[start:end], nil
}

func (s *Store) CountBotUsers(_ context.Context, botID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.members {
		if m.BotID == botID {
			n++
		}
	}
	return n, nil
}

func (s *Store) CreateInviteToken(_ context.Context, botID int64, token string) (queries.InviteToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bots[botID]; !ok {
		return queries.InviteToken{}, ErrForeignKey
	}
	if _, ok := s.invites[token]; ok {
		return queries.InviteToken{}, ErrUnique
	}
	i := queries.InviteToken{Token: token, BotID: botID, CreatedAt: s.now()}
	s.invites[token] = i
	return i, nil
}

func (s *Store) GetInviteToken(_ context.Context, botID int64, token string) (queries.InviteToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.invites[token]
	if !ok || i.BotID != botID {
		return queries.InviteToken{}, pgx.ErrNoRows
	}
	return i, nil
}

func (s *Store) UseInviteToken(_ context.Context, botID int64, token string, userID int64) (queries.InviteToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.invites[token]
	if !ok || i.BotID != botID || i.Used {
		return queries.InviteToken{}, pgx.ErrNoRows
	}
	i.Used = true
	i.UsedBy = pgtype.Int8{Int64: userID, Valid: true}
	i.UsedAt = pgtype.Timestamptz{Time: s.now(), Valid: true}
	s.invites[token] = i
	return i, nil
}

func (s *Store) ListInviteTokens(_ context.Context, botID int64) ([]queries.InviteToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []queries.InviteToken
	for _, i := range s.invites {
		if i.BotID == botID {
			items = append(items, i)
		}
	}
	sort.Slice(items, func(a, b int) bool { return items[a].CreatedAt.After(items[b].CreatedAt) })
	return items, nil
}

func (s *Store) DeleteUsedInviteTokens(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, i := range s.invites {
		if i.Used && i.UsedAt.Valid && i.UsedAt.Time.Before(before) {
			delete(s.invites, k)
			n++
		}
	}
	return n, nil
}

func (s *Store) CreateProject(_ context.Context, arg queries.CreateProjectParams) (queries.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bots[arg.BotID]; !ok {
		return queries.Project{}, ErrForeignKey
	}
	for _, p := range s.projects {
		if p.BotID == arg.BotID && p.Code == arg.Code {
			return queries.Project{}, ErrUnique
		}
	}
	if arg.IsMain {
		for id, p := range s.projects {
			if p.BotID == arg.BotID && p.IsMain {
				p.IsMain = false
				s.projects[id] = p
			}
		}
	}
	s.nextProjectID++
	p := queries.Project{
		ProjectID: s.nextProjectID,
		BotID:     arg.BotID,
		Code:      arg.Code,
		Title:     arg.Title,
		IsMain:    arg.IsMain,
		CreatedAt: s.now(),
	}
	s.projects[p.ProjectID] = p
	for k := range s.members {
		if k.botID == arg.BotID {
			s.selections[selectionKey{p.ProjectID, k.userID}] = selection{botID: arg.BotID}
		}
	}
	return p, nil
}

func (s *Store) ListProjects(_ context.Context, botID int64) ([]queries.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []queries.Project
	for _, p := range s.projects {
		if p.BotID == botID {
			items = append(items, p)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].IsMain != items[j].IsMain {
			return items[i].IsMain
		}
		return items[i].ProjectID < items[j].ProjectID
	})
	return items, nil
}

func (s *Store) GetProject(_ context.Context, botID, projectID int64) (queries.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok || p.BotID != botID {
		return queries.Project{}, pgx.ErrNoRows
	}
	return p, nil
}

func (s *Store) GetMainProject(_ context.Context, botID int64) (queries.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.projects {
		if p.BotID == botID && p.IsMain {
			return p, nil
		}
	}
	return queries.Project{}, pgx.ErrNoRows
}

func (s *Store) DeleteProject(_ context.Context, botID, projectID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok || p.BotID != botID {
		return 0, nil
	}
	s.deleteProjectLocked(projectID)
	return 1, nil
}

func (s *Store) deleteProjectLocked(projectID int64) {
	delete(s.projects, projectID)
	for k := range s.selections {
		if k.projectID == projectID {
			delete(s.selections, k)
		}
	}
}

func (s *Store) AddUserToAllProjects(_ context.Context, botID, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.projects {
		if p.BotID != botID {
			continue
		}
		key := selectionKey{id, userID}
		if _, ok := s.selections[key]; !ok {
			s.selections[key] = selection{botID: botID}
		}
	}
	return nil
}

func (s *Store) SelectProject(_ context.Context, botID, userID, projectID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok || p.BotID != botID {
		return ErrForeignKey
	}
	for k, v := range s.selections {
		if v.botID == botID && k.userID == userID && v.selected {
			v.selected = false
			s.selections[k] = v
		}
	}
	s.selections[selectionKey{projectID, userID}] = selection{botID: botID, selected: true}
	return nil
}

func (s *Store) ClearProjectSelection(_ context.Context, botID, userID, projectID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := selectionKey{projectID, userID}
	v, ok := s.selections[key]
	if !ok || v.botID != botID || !v.selected {
		return 0, nil
	}
	v.selected = false
	s.selections[key] = v
	return 1, nil
}

func (s *Store) GetSelectedProject(_ context.Context, botID, userID int64) (queries.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range s.selections {
		if v.botID == botID && k.userID == userID && v.selected {
			return s.projects[k.projectID], nil
		}
	}
	return queries.Project{}, pgx.ErrNoRows
}

// SelectedCount returns how many projects are selected for the user, for
// asserting the single-selection invariant.
func (s *Store) SelectedCount(botID, userID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, v := range s.selections {
		if v.botID == botID && k.userID == userID && v.selected {
			n++
		}
	}
	return n
}
