// Package emailverifications declares the repository contract for email
// verification records.
package emailverifications

import (
	"context"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/server/models"
)

type Repository interface {
	// Create inserts a pending verification.
	Create(ctx context.Context, v *models.EmailVerification) error

	// Get returns the verification for token, or common.ErrorNotFound.
	Get(ctx context.Context, token string) (*models.EmailVerification, error)

	// MarkVerified moves a pending, unexpired verification to verified.
	// It reports false when no row qualified.
	MarkVerified(ctx context.Context, token string, now time.Time) (bool, error)

	// Consume marks a verified, unused verification for email as used.
	// It reports false when no row qualified.
	Consume(ctx context.Context, token, email string) (bool, error)
}
