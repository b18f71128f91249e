package review

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verigate/internal/audit"
	"verigate/internal/registry"
	"verigate/internal/verification/models"
	"verigate/internal/verification/store"
	id "verigate/pkg/domain"
	dErrors "verigate/pkg/domain-errors"
)

type fixture struct {
	svc      *Service
	attempts *store.InMemoryAttemptStore
	profiles *store.InMemoryProfileStore
	regStore *registry.InMemoryStore
	sink     *audit.InMemoryStore
	reviewer id.UserID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		attempts: store.NewInMemoryAttemptStore(),
		profiles: store.NewInMemoryProfileStore(),
		regStore: registry.NewInMemoryStore(),
		sink:     audit.NewInMemoryStore(),
		reviewer: id.UserID(uuid.New()),
	}
	publisher := audit.NewStorePublisher(f.sink)
	f.svc = New(f.attempts, f.profiles, registry.New(f.regStore), store.NewMemoryTxRunner(),
		WithAuditPublisher(publisher),
	)
	return f
}

func (f *fixture) pendingAttempt(t *testing.T, userID id.UserID, submittedID string) *models.Attempt {
	t.Helper()
	attempt, err := models.NewAttempt(id.NewAttemptID(), userID, 1, models.TierDocumentAI, time.Now().UTC())
	require.NoError(t, err)
	attempt.SubmittedIDNumber = submittedID
	require.NoError(t, attempt.SetStatus(models.StatusPending, time.Now().UTC()))
	require.NoError(t, f.attempts.Create(context.Background(), attempt))
	return attempt
}

func TestDecide_Approve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := id.UserID(uuid.New())
	attempt := f.pendingAttempt(t, userID, "30111222")

	decided, err := f.svc.Decide(ctx, Decision{
		AttemptID:  attempt.ID,
		Action:     ActionApprove,
		ReviewerID: f.reviewer,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, decided.Status)
	require.NotNil(t, decided.Manual)
	assert.Equal(t, f.reviewer, decided.Manual.ReviewerID)

	entry, err := f.regStore.Find(ctx, id.NationalID("30111222"))
	require.NoError(t, err)
	assert.Equal(t, userID, entry.OwnerUserID)
	assert.Equal(t, models.VerificationVerified, entry.VerificationStatus)

	profile, err := f.profiles.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, models.ProfileValidated, profile.State)
	assert.Equal(t, models.VerificationVerified, profile.VerificationStatus)

	events, err := f.sink.ListByUser(ctx, userID.String())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.EventAttemptApproved, events[0].Action)
	assert.Equal(t, f.reviewer.String(), events[0].ActorID)
}

func TestDecide_ApproveRefusedOnConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := id.UserID(uuid.New())
	require.NoError(t, f.regStore.Upsert(ctx, registry.Entry{
		NationalID:         id.NationalID("30111222"),
		OwnerUserID:        owner,
		VerificationStatus: models.VerificationVerified,
	}))

	userID := id.UserID(uuid.New())
	attempt := f.pendingAttempt(t, userID, "30111222")

	_, err := f.svc.Decide(ctx, Decision{
		AttemptID:  attempt.ID,
		Action:     ActionApprove,
		ReviewerID: f.reviewer,
	})
	require.Error(t, err, "approval is refused, not downgraded")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))

	// Nothing moved: attempt still pending, registry owner unchanged.
	found, err := f.attempts.GetByID(ctx, attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, found.Status)

	entry, err := f.regStore.Find(ctx, id.NationalID("30111222"))
	require.NoError(t, err)
	assert.Equal(t, owner, entry.OwnerUserID)
}

func TestDecide_ApproveFallsBackToExtractedID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := id.UserID(uuid.New())
	attempt := f.pendingAttempt(t, userID, "")
	attempt.Extracted.IDNumber = "20333444"
	require.NoError(t, f.attempts.Update(ctx, attempt))

	_, err := f.svc.Decide(ctx, Decision{
		AttemptID:  attempt.ID,
		Action:     ActionApprove,
		ReviewerID: f.reviewer,
	})
	require.NoError(t, err)

	entry, err := f.regStore.Find(ctx, id.NationalID("20333444"))
	require.NoError(t, err)
	assert.Equal(t, userID, entry.OwnerUserID)
}

func TestDecide_Reject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := id.UserID(uuid.New())
	attempt := f.pendingAttempt(t, userID, "")

	_, err := f.svc.Decide(ctx, Decision{
		AttemptID:  attempt.ID,
		Action:     ActionReject,
		ReviewerID: f.reviewer,
	})
	require.Error(t, err, "rejection without a reason is invalid")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

	decided, err := f.svc.Decide(ctx, Decision{
		AttemptID:  attempt.ID,
		Action:     ActionReject,
		Reason:     "document unreadable",
		ReviewerID: f.reviewer,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, decided.Status)
	assert.Equal(t, "document unreadable", decided.Manual.Reason)

	profile, err := f.profiles.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, models.ProfileRejected, profile.State)
}

func TestDecide_RetryScopesComponents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := id.UserID(uuid.New())
	attempt := f.pendingAttempt(t, userID, "")

	decided, err := f.svc.Decide(ctx, Decision{
		AttemptID:           attempt.ID,
		Action:              ActionRetry,
		Reason:              "selfie is blurry",
		RequestedComponents: []models.Component{models.ComponentSelfie, models.ComponentFront},
		ReviewerID:          f.reviewer,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusRetryRequired, decided.Status)
	assert.Equal(t, []models.Component{models.ComponentSelfie, models.ComponentFront}, decided.RequestedComponents)

	events, err := f.sink.ListByUser(ctx, userID.String())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.EventRetryRequested, events[0].Action)
}

func TestDecide_RetryRejectsUnknownComponent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := id.UserID(uuid.New())
	attempt := f.pendingAttempt(t, userID, "")

	_, err := f.svc.Decide(ctx, Decision{
		AttemptID:           attempt.ID,
		Action:              ActionRetry,
		Reason:              "recapture",
		RequestedComponents: []models.Component{models.Component("banana")},
		ReviewerID:          f.reviewer,
	})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

	// The attempt is untouched: still pending, nothing recorded.
	found, err := f.attempts.GetByID(ctx, attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, found.Status)
	assert.Empty(t, found.RequestedComponents)
}

func TestDecide_GuardsTerminalAndUnknown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := id.UserID(uuid.New())
	attempt := f.pendingAttempt(t, userID, "")

	_, err := f.svc.Decide(ctx, Decision{
		AttemptID:  id.NewAttemptID(),
		Action:     ActionApprove,
		ReviewerID: f.reviewer,
	})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))

	_, err = f.svc.Decide(ctx, Decision{
		AttemptID:  attempt.ID,
		Action:     Action("escalate"),
		ReviewerID: f.reviewer,
	})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = f.svc.Decide(ctx, Decision{
		AttemptID:  attempt.ID,
		Action:     ActionApprove,
		ReviewerID: id.UserID{},
	})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = f.svc.Decide(ctx, Decision{AttemptID: attempt.ID, Action: ActionApprove, ReviewerID: f.reviewer})
	require.NoError(t, err)

	_, err = f.svc.Decide(ctx, Decision{AttemptID: attempt.ID, Action: ActionReject, Reason: "r", ReviewerID: f.reviewer})
	require.Error(t, err, "terminal attempts cannot be re-decided")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
}
