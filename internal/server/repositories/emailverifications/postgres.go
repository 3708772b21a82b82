package emailverifications

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/dbx"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, v *models.EmailVerification) error {
	query := `
		INSERT INTO email_verifications (token, code, email, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := r.db.ExecContext(ctx, query, v.Token, v.Code, v.Email, v.CreatedAt, v.ExpiresAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, token string) (*models.EmailVerification, error) {
	query := `
		SELECT token, code, email, created_at, expires_at, is_verified, is_used
		FROM email_verifications
		WHERE token = $1
	`
	v := &models.EmailVerification{}
	err := r.db.QueryRowContext(ctx, query, token).
		Scan(&v.Token, &v.Code, &v.Email, &v.CreatedAt, &v.ExpiresAt, &v.IsVerified, &v.IsUsed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return v, nil
}

func (r *PostgresRepository) MarkVerified(ctx context.Context, token string, now time.Time) (bool, error) {
	query := `
		UPDATE email_verifications
		SET is_verified = TRUE
		WHERE token = $1 AND NOT is_verified AND expires_at > $2
	`
	return r.update(ctx, query, token, now)
}

func (r *PostgresRepository) Consume(ctx context.Context, token, email string) (bool, error) {
	query := `
		UPDATE email_verifications
		SET is_used = TRUE
		WHERE token = $1 AND email = $2 AND is_verified AND NOT is_used
	`
	return r.update(ctx, query, token, email)
}

func (r *PostgresRepository) update(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := dbx.RowsAffected(res)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
