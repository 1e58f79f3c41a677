// Package projects resolves which conversation context ("project") a member
// of a bot is currently in, and correlates downstream sessions back to the
// project they were opened for.
package projects

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/corpai/tggateway/internal/cache"
	"github.com/corpai/tggateway/internal/db/queries"
)

var (
	ErrNoMainProject   = errors.New("no main project configured")
	ErrProjectNotFound = errors.New("project not found")
	ErrProjectExists   = errors.New("project code already exists")
	ErrInvalidProject  = errors.New("project code is required")
	ErrSessionUnknown  = errors.New("session not found")
)

const defaultSessionTTL = 24 * time.Hour

// Project is a named conversation context of a bot.
type Project struct {
	ID     int64  `json:"id"`
	BotID  int64  `json:"bot_id"`
	Code   string `json:"code"`
	Title  string `json:"title"`
	IsMain bool   `json:"is_main"`
}

// CreateParams is the input of Create.
type CreateParams struct {
	Code   string `json:"code" validate:"required,max=64"`
	Title  string `json:"title" validate:"max=256"`
	IsMain bool   `json:"is_main"`
}

// Session links a downstream session id to the selection it was opened for.
type Session struct {
	BotID     int64 `json:"bot_id"`
	UserID    int64 `json:"user_id"`
	ProjectID int64 `json:"project_id"`
}

// Queries is the persistence surface the resolver depends on.
type Queries interface {
	CreateProject(ctx context.Context, arg queries.CreateProjectParams) (queries.Project, error)
	ListProjects(ctx context.Context, botID int64) ([]queries.Project, error)
	GetProject(ctx context.Context, botID, projectID int64) (queries.Project, error)
	GetMainProject(ctx context.Context, botID int64) (queries.Project, error)
	DeleteProject(ctx context.Context, botID, projectID int64) (int64, error)
	AddUserToAllProjects(ctx context.Context, botID, userID int64) error
	SelectProject(ctx context.Context, botID, userID, projectID int64) error
	ClearProjectSelection(ctx context.Context, botID, userID, projectID int64) (int64, error)
	GetSelectedProject(ctx context.Context, botID, userID int64) (queries.Project, error)
}

type Service struct {
	queries    Queries
	cache      cache.Store
	logger     *slog.Logger
	sessionTTL time.Duration
}

func NewService(log *slog.Logger, q Queries, store cache.Store, sessionTTL time.Duration) *Service {
	if log == nil {
		log = slog.Default()
	}
	if store == nil {
		store = cache.NewMemoryStore()
	}
	if sessionTTL <= 0 {
		sessionTTL = defaultSessionTTL
	}
	return &Service{
		queries:    q,
		cache:      store,
		logger:     log.With(slog.String("service", "projects")),
		sessionTTL: sessionTTL,
	}
}

func sessionKey(sessionID string) string { return cache.Key("sessions", sessionID) }

// Create adds a project to the bot and enrolls its current members.
func (s *Service) Create(ctx context.Context, botID int64, p CreateParams) (Project, error) {
	if s.queries == nil {
		return Project{}, fmt.Errorf("project queries not configured")
	}
	code := strings.TrimSpace(p.Code)
	if code == "" {
		return Project{}, ErrInvalidProject
	}
	title := strings.TrimSpace(p.Title)
	if title == "" {
		title = code
	}
	row, err := s.queries.CreateProject(ctx, queries.CreateProjectParams{
		BotID:  botID,
		Code:   code,
		Title:  title,
		IsMain: p.IsMain,
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Project{}, ErrProjectExists
		}
		return Project{}, err
	}
	s.logger.Info("project created", slog.Int64("bot_id", botID), slog.String("code", code), slog.Bool("main", p.IsMain))
	return toProject(row), nil
}

// List returns the bot's projects, main project first.
func (s *Service) List(ctx context.Context, botID int64) ([]Project, error) {
	if s.queries == nil {
		return nil, fmt.Errorf("project queries not configured")
	}
	rows, err := s.queries.ListProjects(ctx, botID)
	if err != nil {
		return nil, err
	}
	items := make([]Project, 0, len(rows))
	for _, row := range rows {
		items = append(items, toProject(row))
	}
	return items, nil
}

func (s *Service) Get(ctx context.Context, botID, projectID int64) (Project, error) {
	if s.queries == nil {
		return Project{}, fmt.Errorf("project queries not configured")
	}
	row, err := s.queries.GetProject(ctx, botID, projectID)
	if err != nil {
		return Project{}, mapNoRows(err, ErrProjectNotFound)
	}
	return toProject(row), nil
}

func (s *Service) Delete(ctx context.Context, botID, projectID int64) error {
	if s.queries == nil {
		return fmt.Errorf("project queries not configured")
	}
	n, err := s.queries.DeleteProject(ctx, botID, projectID)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrProjectNotFound
	}
	return nil
}

// Enroll adds the user to every existing project of the bot.
func (s *Service) Enroll(ctx context.Context, botID, userID int64) error {
	if s.queries == nil {
		return fmt.Errorf("project queries not configured")
	}
	return s.queries.AddUserToAllProjects(ctx, botID, userID)
}

// Select makes projectID the user's only selected project. The clear and the
// set happen in one transaction.
func (s *Service) Select(ctx context.Context, botID, userID, projectID int64) error {
	if s.queries == nil {
		return fmt.Errorf("project queries not configured")
	}
	if err := s.queries.SelectProject(ctx, botID, userID, projectID); err != nil {
		return fmt.Errorf("select project %d: %w", projectID, err)
	}
	return nil
}

// Current returns the user's selected project. ok is false when none is
// selected.
func (s *Service) Current(ctx context.Context, botID, userID int64) (Project, bool, error) {
	if s.queries == nil {
		return Project{}, false, fmt.Errorf("project queries not configured")
	}
	row, err := s.queries.GetSelectedProject(ctx, botID, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Project{}, false, nil
		}
		return Project{}, false, err
	}
	return toProject(row), true, nil
}

// Main returns the bot's designated main project.
func (s *Service) Main(ctx context.Context, botID int64) (Project, error) {
	if s.queries == nil {
		return Project{}, fmt.Errorf("project queries not configured")
	}
	row, err := s.queries.GetMainProject(ctx, botID)
	if err != nil {
		return Project{}, mapNoRows(err, ErrNoMainProject)
	}
	return toProject(row), nil
}

// SelectMain selects the bot's main project for the user.
func (s *Service) SelectMain(ctx context.Context, botID, userID int64) (Project, error) {
	main, err := s.Main(ctx, botID)
	if err != nil {
		return Project{}, err
	}
	if err := s.Select(ctx, botID, userID, main.ID); err != nil {
		return Project{}, err
	}
	return main, nil
}

// ClearSelection unselects projectID. It reports whether a selection was
// actually cleared; false means the user has moved on to another project.
func (s *Service) ClearSelection(ctx context.Context, botID, userID, projectID int64) (bool, error) {
	if s.queries == nil {
		return false, fmt.Errorf("project queries not configured")
	}
	n, err := s.queries.ClearProjectSelection(ctx, botID, userID, projectID)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Remember maps a downstream session id to the selected project.
func (s *Service) Remember(ctx context.Context, sessionID string, sess Session) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return ErrSessionUnknown
	}
	return cache.SetJSON(ctx, s.cache, sessionKey(sessionID), sess, s.sessionTTL)
}

// Resolve returns the selection a session id was opened for.
func (s *Service) Resolve(ctx context.Context, sessionID string) (Session, error) {
	var sess Session
	ok, err := cache.GetJSON(ctx, s.cache, sessionKey(strings.TrimSpace(sessionID)), &sess)
	if err != nil {
		return Session{}, err
	}
	if !ok {
		return Session{}, ErrSessionUnknown
	}
	return sess, nil
}

func (s *Service) Forget(ctx context.Context, sessionID string) error {
	return s.cache.Delete(ctx, sessionKey(strings.TrimSpace(sessionID)))
}

func mapNoRows(err, target error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return target
	}
	return err
}

func toProject(row queries.Project) Project {
	return Project{
		ID:     row.ProjectID,
		BotID:  row.BotID,
		Code:   row.Code,
		Title:  row.Title,
		IsMain: row.IsMain,
	}
}
