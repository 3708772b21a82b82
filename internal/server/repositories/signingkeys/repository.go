// Package signingkeys declares the repository contract for signing key
// metadata.
package signingkeys

import (
	"context"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/server/models"
)

// Repository stores signing key metadata. Rows are immutable once created.
type Repository interface {
	// Create inserts a new key row.
	Create(ctx context.Context, key *models.SigningKey) error

	// Latest returns the most recently created key, or common.ErrorNotFound
	// when the table is empty.
	Latest(ctx context.Context) (*models.SigningKey, error)

	// Get returns the key with the given id, or common.ErrorNotFound.
	Get(ctx context.Context, keyID string) (*models.SigningKey, error)

	// ListVerifiable returns keys whose VerifyUntil is after now, newest first.
	ListVerifiable(ctx context.Context, now time.Time) ([]models.SigningKey, error)

	// DeleteDiscarded removes keys whose VerifyUntil is not after now and
	// returns them so their files can be removed.
	DeleteDiscarded(ctx context.Context, now time.Time) ([]models.SigningKey, error)
}
