//go:build integration

package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verigate/internal/verification/models"
	id "verigate/pkg/domain"
	"verigate/pkg/platform/sentinel"
	"verigate/pkg/testutil/containers"
)

func TestPostgresAttemptStore_Integration(t *testing.T) {
	pg := containers.NewPostgresContainer(t)
	store := NewPostgresAttemptStore(pg.DB)
	runner := NewPostgresTxRunner(pg.DB)
	ctx := context.Background()

	newAttempt := func(t *testing.T, userID id.UserID, number int) *models.Attempt {
		t.Helper()
		attempt, err := models.NewAttempt(id.NewAttemptID(), userID, number, models.TierDocumentAI, time.Now().UTC())
		require.NoError(t, err)
		return attempt
	}

	t.Run("round trip preserves the full record", func(t *testing.T) {
		userID := id.UserID(uuid.New())
		dup := id.UserID(uuid.New())
		attempt := newAttempt(t, userID, 1)
		attempt.ConfidenceScore = 0.87
		attempt.Extracted = models.ExtractedFields{
			FirstName: "Maria", LastName: "Lopez",
			IDNumber: "30111222", BirthDate: "1990-04-12",
		}
		attempt.MachineReadable = models.MachineReadableFlags{PDF417: true}
		attempt.SubmittedIDNumber = "30111222"
		attempt.DuplicateOfUserID = &dup
		attempt.Assets = models.AssetReferences{Front: "a/front", Back: "a/back", Selfie: "a/selfie"}
		attempt.DocumentCheck = &models.DocumentCheck{Success: true, Reason: "automated document analysis sufficient"}
		attempt.PremiumScores = map[string]float64{"face_match": 0.91, "liveness": 0.88}
		attempt.PremiumReferenceID = "prem-123"
		attempt.RequestedComponents = []models.Component{models.ComponentSelfie}

		require.NoError(t, store.Create(ctx, attempt))

		found, err := store.GetByID(ctx, attempt.ID)
		require.NoError(t, err)
		assert.Equal(t, attempt.UserID, found.UserID)
		assert.Equal(t, attempt.Extracted, found.Extracted)
		assert.Equal(t, attempt.MachineReadable, found.MachineReadable)
		assert.Equal(t, attempt.PremiumScores, found.PremiumScores)
		assert.Equal(t, attempt.RequestedComponents, found.RequestedComponents)
		require.NotNil(t, found.DuplicateOfUserID)
		assert.Equal(t, dup, *found.DuplicateOfUserID)
		require.NotNil(t, found.DocumentCheck)
		assert.True(t, found.DocumentCheck.Success)
	})

	t.Run("schema rejects a second in-progress attempt", func(t *testing.T) {
		userID := id.UserID(uuid.New())
		require.NoError(t, store.Create(ctx, newAttempt(t, userID, 1)))

		err := store.Create(ctx, newAttempt(t, userID, 2))
		assert.ErrorIs(t, err, sentinel.ErrConflict)
	})

	t.Run("schema rejects a reused attempt number", func(t *testing.T) {
		userID := id.UserID(uuid.New())
		first := newAttempt(t, userID, 1)
		require.NoError(t, store.Create(ctx, first))
		require.NoError(t, first.SetStatus(models.StatusRejected, time.Now().UTC()))
		require.NoError(t, store.Update(ctx, first))

		err := store.Create(ctx, newAttempt(t, userID, 1))
		assert.ErrorIs(t, err, sentinel.ErrConflict)
	})

	t.Run("concurrent starts allocate distinct numbers", func(t *testing.T) {
		userID := id.UserID(uuid.New())

		// Each worker allocates and creates in one transaction; losers of the
		// unique-index race surface ErrConflict and nothing else.
		const workers = 8
		var wg sync.WaitGroup
		created := make([]error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				created[i] = runner.RunInTx(ctx, func(txCtx context.Context) error {
					number, err := store.NextNumber(txCtx, userID)
					if err != nil {
						return err
					}
					attempt, err := models.NewAttempt(id.NewAttemptID(), userID, number, models.TierHeuristic, time.Now().UTC())
					if err != nil {
						return err
					}
					return store.Create(txCtx, attempt)
				})
			}(i)
		}
		wg.Wait()

		succeeded := 0
		for _, err := range created {
			if err == nil {
				succeeded++
				continue
			}
			assert.ErrorIs(t, err, sentinel.ErrConflict)
		}
		require.GreaterOrEqual(t, succeeded, 1)

		latest, err := store.FindLatest(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, 1, latest.Number, "only attempt 1 exists while it stays open")
	})

	t.Run("update inside a rolled-back transaction leaves the row untouched", func(t *testing.T) {
		userID := id.UserID(uuid.New())
		attempt := newAttempt(t, userID, 1)
		require.NoError(t, store.Create(ctx, attempt))

		err := runner.RunInTx(ctx, func(txCtx context.Context) error {
			attempt.ConfidenceScore = 0.99
			if err := store.Update(txCtx, attempt); err != nil {
				return err
			}
			return assert.AnError
		})
		require.Error(t, err)

		found, err := store.GetByID(ctx, attempt.ID)
		require.NoError(t, err)
		assert.Zero(t, found.ConfidenceScore)
	})
}

func TestPostgresProfileStore_Integration(t *testing.T) {
	pg := containers.NewPostgresContainer(t)
	store := NewPostgresProfileStore(pg.DB)
	ctx := context.Background()

	userID := id.UserID(uuid.New())

	_, err := store.Get(ctx, userID)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	require.NoError(t, store.SetState(ctx, userID, models.ProfilePendingReview))
	require.NoError(t, store.SetVerificationStatus(ctx, userID, models.VerificationVerified))

	profile, err := store.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, models.ProfilePendingReview, profile.State)
	assert.Equal(t, models.VerificationVerified, profile.VerificationStatus)
}
