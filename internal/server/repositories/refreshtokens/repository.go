// Package refreshtokens declares the repository contract for persistent
// refresh token records.
package refreshtokens

import (
	"context"

	"github.com/dmitrijs2005/authkeeper/internal/server/models"
)

// Repository stores refresh token records. Records are deactivated, never
// deleted, so the history of a session chain stays auditable.
type Repository interface {
	// Create inserts a new active record.
	Create(ctx context.Context, token *models.RefreshToken) error

	// FindActive returns the active record for the stored token form, or
	// common.ErrorNotFound when it is absent or already inactive.
	FindActive(ctx context.Context, token string) (*models.RefreshToken, error)

	// Deactivate flips an active record to inactive. It reports false when
	// the record was missing or already inactive, which lets concurrent
	// rotations of the same token detect that they lost.
	Deactivate(ctx context.Context, token string) (bool, error)

	// DeactivateSession deactivates every active record of a session owned
	// by userID. Records of other subjects are never touched.
	DeactivateSession(ctx context.Context, userID, sessionID string) (int64, error)

	// DeactivateUser deactivates every active record of a subject.
	DeactivateUser(ctx context.Context, userID string) (int64, error)
}
