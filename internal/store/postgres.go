package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// --- users ---

func (s *PostgresStore) EnsureUserByName(ctx context.Context, name string) (User, error) {
	const findUser = `SELECT id, email, display_name, role, is_agent FROM users WHERE display_name = $1`
	var user User
	err := s.db.QueryRowContext(ctx, findUser, name).Scan(&user.ID, &user.Email, &user.DisplayName, &user.Role, &user.IsAgent)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}

	const insertUser = `
		INSERT INTO users (id, display_name, email, role)
		VALUES (gen_random_uuid(), $1, CONCAT(LOWER(REPLACE($1, ' ', '.')), '@local.semilla.dev'), 'editor')
		RETURNING id, email, display_name, role, is_agent
	`
	if err := s.db.QueryRowContext(ctx, insertUser, name).Scan(&user.ID, &user.Email, &user.DisplayName, &user.Role, &user.IsAgent); err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, role, is_agent, created_at FROM users WHERE id=$1
	`, userID).Scan(&user.ID, &user.Email, &user.DisplayName, &user.Role, &user.IsAgent, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, role, is_agent, COALESCE(password_hash, ''), created_at
		FROM users WHERE LOWER(email)=LOWER($1)
	`, email).Scan(&user.ID, &user.Email, &user.DisplayName, &user.Role, &user.IsAgent, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, display_name, role, password_hash, is_agent)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, user.ID, user.Email, user.DisplayName, user.Role, user.PasswordHash, user.IsAgent)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash=$2 WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update user password: %w", err)
	}
	return nil
}

// FirstUserID supports the promotion identity fallback: the oldest account
// stands in when the caller carries no usable identity.
func (s *PostgresStore) FirstUserID(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM users ORDER BY created_at ASC LIMIT 1`).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

// --- password resets ---

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at)
		VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

// --- refresh sessions / token revocation ---

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.email, u.display_name, u.role, u.is_agent
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.Email, &user.DisplayName, &user.Role, &user.IsAgent)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// --- workspaces ---

func (s *PostgresStore) ListWorkspaces(ctx context.Context) ([]Workspace, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, slug, owner_id, created_at FROM workspaces ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	defer rows.Close()

	items := make([]Workspace, 0)
	for rows.Next() {
		var item Workspace
		if err := rows.Scan(&item.ID, &item.Name, &item.Slug, &item.OwnerID, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan workspace: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workspaces: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetWorkspace(ctx context.Context, workspaceID string) (Workspace, error) {
	var item Workspace
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, slug, owner_id, created_at FROM workspaces WHERE id=$1
	`, workspaceID).Scan(&item.ID, &item.Name, &item.Slug, &item.OwnerID, &item.CreatedAt)
	if err != nil {
		return Workspace{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertWorkspace(ctx context.Context, item Workspace) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workspaces (id, name, slug, owner_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, item.ID, item.Name, item.Slug, item.OwnerID)
	if err != nil {
		return fmt.Errorf("insert workspace: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateWorkspace(ctx context.Context, workspaceID, name, slug string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE workspaces SET name=$2, slug=$3 WHERE id=$1`, workspaceID, name, slug)
	if err != nil {
		return fmt.Errorf("update workspace: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteWorkspace(ctx context.Context, workspaceID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM workspaces WHERE id=$1`, workspaceID)
	if err != nil {
		return fmt.Errorf("delete workspace: %w", err)
	}
	return nil
}

// WorkspaceItemCount counts live documents and ideas; used to guard deletion.
func (s *PostgresStore) WorkspaceItemCount(ctx context.Context, workspaceID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM documents WHERE workspace_id=$1)
			 + (SELECT COUNT(*) FROM idea_pipeline WHERE workspace_id=$1)
	`, workspaceID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count workspace items: %w", err)
	}
	return count, nil
}

// --- activity feed ---

func (s *PostgresStore) InsertActivity(ctx context.Context, entry ActivityEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activity_feed (id, action_type, description, workspace_id)
		VALUES ($1, $2, $3, $4)
	`, entry.ID, entry.ActionType, entry.Description, entry.WorkspaceID)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListActivity(ctx context.Context, workspaceID string, limit int) ([]ActivityEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, action_type, description, workspace_id, created_at
		FROM activity_feed
	`
	args := []any{}
	if workspaceID != "" {
		query += ` WHERE workspace_id=$1 ORDER BY created_at DESC LIMIT $2`
		args = append(args, workspaceID, limit)
	} else {
		query += ` ORDER BY created_at DESC LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	items := make([]ActivityEntry, 0)
	for rows.Next() {
		var item ActivityEntry
		if err := rows.Scan(&item.ID, &item.ActionType, &item.Description, &item.WorkspaceID, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity: %w", err)
	}
	return items, nil
}
