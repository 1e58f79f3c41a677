package queries

import (
	"context"

	"github.com/jackc/pgx/v5"
)

const projectColumns = `project_id, bot_id, code, title, is_main, created_at`

func scanProject(row pgx.Row) (Project, error) {
	var p Project
	err := row.Scan(&p.ProjectID, &p.BotID, &p.Code, &p.Title, &p.IsMain, &p.CreatedAt)
	return p, err
}

func collectProjects(rows pgx.Rows) ([]Project, error) {
	defer rows.Close()
	var items []Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

const clearMainProject = `UPDATE projects SET is_main = FALSE WHERE bot_id = $1 AND is_main`

const insertProject = `
INSERT INTO projects (bot_id, code, title, is_main)
VALUES ($1, $2, $3, $4)
RETURNING ` + projectColumns

const addAllUsersToProject = `
INSERT INTO project_users (project_id, bot_id, user_id)
SELECT $2, bot_id, user_id FROM bot_users WHERE bot_id = $1
ON CONFLICT (project_id, user_id) DO NOTHING`

type CreateProjectParams struct {
	BotID  int64
	Code   string
	Title  string
	IsMain bool
}

// CreateProject inserts a project and enrolls every current member of the
// bot into it. A new main project demotes the previous one in the same
// transaction.
func (q *Queries) CreateProject(ctx context.Context, arg CreateProjectParams) (Project, error) {
	var created Project
	err := q.inTx(ctx, func(tx *Queries) error {
		if arg.IsMain {
			if _, err := tx.db.Exec(ctx, clearMainProject, arg.BotID); err != nil {
				return err
			}
		}
		p, err := scanProject(tx.db.QueryRow(ctx, insertProject, arg.BotID, arg.Code, arg.Title, arg.IsMain))
		if err != nil {
			return err
		}
		if _, err := tx.db.Exec(ctx, addAllUsersToProject, arg.BotID, p.ProjectID); err != nil {
			return err
		}
		created = p
		return nil
	})
	return created, err
}

const listProjects = `SELECT ` + projectColumns + ` FROM projects WHERE bot_id = $1 ORDER BY is_main DESC, project_id`

func (q *Queries) ListProjects(ctx context.Context, botID int64) ([]Project, error) {
	rows, err := q.db.Query(ctx, listProjects, botID)
	if err != nil {
		return nil, err
	}
	return collectProjects(rows)
}

const getProject = `SELECT ` + projectColumns + ` FROM projects WHERE bot_id = $1 AND project_id = $2`

func (q *Queries) GetProject(ctx context.Context, botID, projectID int64) (Project, error) {
	return scanProject(q.db.QueryRow(ctx, getProject, botID, projectID))
}

const getMainProject = `SELECT ` + projectColumns + ` FROM projects WHERE bot_id = $1 AND is_main`

func (q *Queries) GetMainProject(ctx context.Context, botID int64) (Project, error) {
	return scanProject(q.db.QueryRow(ctx, getMainProject, botID))
}

const deleteProject = `DELETE FROM projects WHERE bot_id = $1 AND project_id = $2`

func (q *Queries) DeleteProject(ctx context.Context, botID, projectID int64) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteProject, botID, projectID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const addUserToAllProjects = `
INSERT INTO project_users (project_id, bot_id, user_id)
SELECT project_id, bot_id, $2 FROM projects WHERE bot_id = $1
ON CONFLICT (project_id, user_id) DO NOTHING`

func (q *Queries) AddUserToAllProjects(ctx context.Context, botID, userID int64) error {
	_, err := q.db.Exec(ctx, addUserToAllProjects, botID, userID)
	return err
}

const lockBotUser = `SELECT 1 FROM bot_users WHERE bot_id = $1 AND user_id = $2 FOR UPDATE`

const clearSelection = `UPDATE project_users SET is_selected = FALSE WHERE bot_id = $1 AND user_id = $2 AND is_selected`

const setSelection = `
INSERT INTO project_users (project_id, bot_id, user_id, is_selected)
VALUES ($3, $1, $2, TRUE)
ON CONFLICT (project_id, user_id) DO UPDATE SET is_selected = TRUE`

// SelectProject makes projectID the only selected project of the user within
// the bot. The membership row is locked first so concurrent selections for the
// same user serialize; readers observe either the old or the new selection.
func (q *Queries) SelectProject(ctx context.Context, botID, userID, projectID int64) error {
	return q.inTx(ctx, func(tx *Queries) error {
		rows, err := tx.db.Query(ctx, lockBotUser, botID, userID)
		if err != nil {
			return err
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if _, err := tx.db.Exec(ctx, clearSelection, botID, userID); err != nil {
			return err
		}
		_, err = tx.db.Exec(ctx, setSelection, botID, userID, projectID)
		return err
	})
}

const clearProjectSelection = `
UPDATE project_users SET is_selected = FALSE
WHERE bot_id = $1 AND user_id = $2 AND project_id = $3 AND is_selected`

// ClearProjectSelection unselects projectID for the user. It returns the
// number of rows changed, zero when another project is selected by now.
func (q *Queries) ClearProjectSelection(ctx context.Context, botID, userID, projectID int64) (int64, error) {
	tag, err := q.db.Exec(ctx, clearProjectSelection, botID, userID, projectID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const getSelectedProject = `
SELECT p.project_id, p.bot_id, p.code, p.title, p.is_main, p.created_at
FROM project_users pu
JOIN projects p ON p.project_id = pu.project_id
WHERE pu.bot_id = $1 AND pu.user_id = $2 AND pu.is_selected`

func (q *Queries) GetSelectedProject(ctx context.Context, botID, userID int64) (Project, error) {
	return scanProject(q.db.QueryRow(ctx, getSelectedProject, botID, userID))
}
