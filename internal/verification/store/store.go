// Package store persists verification attempts and user profiles. The
// orchestrator only talks to the ports declared here; PostgreSQL and
// in-memory implementations are interchangeable.
package store

import (
	"context"

	"verigate/internal/verification/models"
	id "verigate/pkg/domain"
)

// AttemptStore persists attempt records.
//
// Create must reject a second in-progress attempt for the same user and a
// reused (user, number) pair with sentinel.ErrConflict, even under
// concurrent callers. Find methods return sentinel.ErrNotFound when no
// matching attempt exists. Implementations honor a transaction carried in
// the context.
type AttemptStore interface {
	Create(ctx context.Context, attempt *models.Attempt) error
	Update(ctx context.Context, attempt *models.Attempt) error
	GetByID(ctx context.Context, attemptID id.AttemptID) (*models.Attempt, error)
	FindInProgress(ctx context.Context, userID id.UserID) (*models.Attempt, error)
	FindLatest(ctx context.Context, userID id.UserID) (*models.Attempt, error)
	// NextNumber allocates the next attempt number for a user. Callers run
	// it inside the same transaction as Create; the unique (user, number)
	// constraint backstops races.
	NextNumber(ctx context.Context, userID id.UserID) (int, error)
}

// ProfileStore persists the per-user verification summary. Set operations
// upsert; a user with no row is simply at the defaults.
type ProfileStore interface {
	Get(ctx context.Context, userID id.UserID) (*models.Profile, error)
	SetState(ctx context.Context, userID id.UserID, state models.ProfileState) error
	SetVerificationStatus(ctx context.Context, userID id.UserID, status models.VerificationStatus) error
}
