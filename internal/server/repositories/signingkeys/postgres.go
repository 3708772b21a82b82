package signingkeys

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

// PostgresRepository implements Repository over dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const keyColumns = `key_id, private_key_path, public_key_path, created_at, expires_at, verify_until`

func (r *PostgresRepository) Create(ctx context.Context, k *models.SigningKey) error {
	query := `
		INSERT INTO signing_keys (key_id, private_key_path, public_key_path, created_at, expires_at, verify_until)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query,
		k.KeyID, k.PrivateKeyPath, k.PublicKeyPath, k.CreatedAt, k.ExpiresAt, k.VerifyUntil)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Latest(ctx context.Context) (*models.SigningKey, error) {
	query := `
		SELECT ` + keyColumns + `
		FROM signing_keys
		ORDER BY created_at DESC
		LIMIT 1
	`
	return r.getOne(ctx, query)
}

func (r *PostgresRepository) Get(ctx context.Context, keyID string) (*models.SigningKey, error) {
	query := `
		SELECT ` + keyColumns + `
		FROM signing_keys
		WHERE key_id = $1
	`
	return r.getOne(ctx, query, keyID)
}

func (r *PostgresRepository) ListVerifiable(ctx context.Context, now time.Time) ([]models.SigningKey, error) {
	query := `
		SELECT ` + keyColumns + `
		FROM signing_keys
		WHERE verify_until > $1
		ORDER BY created_at DESC
	`
	return r.list(ctx, query, now)
}

func (r *PostgresRepository) DeleteDiscarded(ctx context.Context, now time.Time) ([]models.SigningKey, error) {
	query := `
		DELETE FROM signing_keys
		WHERE verify_until <= $1
		RETURNING ` + keyColumns
	return r.list(ctx, query, now)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, args ...any) (*models.SigningKey, error) {
	k := &models.SigningKey{}
	err := r.db.QueryRowContext(ctx, query, args...).
		Scan(&k.KeyID, &k.PrivateKeyPath, &k.PublicKeyPath, &k.CreatedAt, &k.ExpiresAt, &k.VerifyUntil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return k, nil
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]models.SigningKey, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var keys []models.SigningKey
	for rows.Next() {
		var k models.SigningKey
		if err := rows.Scan(&k.KeyID, &k.PrivateKeyPath, &k.PublicKeyPath, &k.CreatedAt, &k.ExpiresAt, &k.VerifyUntil); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return keys, nil
}
