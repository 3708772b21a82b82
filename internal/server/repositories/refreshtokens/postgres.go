package refreshtokens

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/dbx"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
)

// PostgresRepository implements Repository over dbx.DBTX (satisfied by
// *sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, t *models.RefreshToken) error {
	query := `
		INSERT INTO refresh_tokens (token, user_id, session_id, created_at, expires_at, is_active, user_agent, ip_address)
		VALUES ($1, $2, $3, $4, $5, TRUE, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		t.Token, t.UserID, t.SessionID, t.CreatedAt, t.ExpiresAt, t.UserAgent, t.IPAddress)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) FindActive(ctx context.Context, token string) (*models.RefreshToken, error) {
	query := `
		SELECT token, user_id, session_id, created_at, expires_at, is_active, user_agent, ip_address
		FROM refresh_tokens
		WHERE token = $1 AND is_active
	`
	t := &models.RefreshToken{}
	err := r.db.QueryRowContext(ctx, query, token).
		Scan(&t.Token, &t.UserID, &t.SessionID, &t.CreatedAt, &t.ExpiresAt, &t.IsActive, &t.UserAgent, &t.IPAddress)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return t, nil
}

func (r *PostgresRepository) Deactivate(ctx context.Context, token string) (bool, error) {
	query := `
		UPDATE refresh_tokens
		SET is_active = FALSE
		WHERE token = $1 AND is_active
	`
	n, err := r.exec(ctx, query, token)
	return n > 0, err
}

func (r *PostgresRepository) DeactivateSession(ctx context.Context, userID, sessionID string) (int64, error) {
	query := `
		UPDATE refresh_tokens
		SET is_active = FALSE
		WHERE session_id = $1 AND user_id = $2 AND is_active
	`
	return r.exec(ctx, query, sessionID, userID)
}

func (r *PostgresRepository) DeactivateUser(ctx context.Context, userID string) (int64, error) {
	query := `
		UPDATE refresh_tokens
		SET is_active = FALSE
		WHERE user_id = $1 AND is_active
	`
	return r.exec(ctx, query, userID)
}

func (r *PostgresRepository) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return dbx.RowsAffected(res)
}
