package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verigate/internal/audit"
	"verigate/internal/registry"
	"verigate/internal/verification/models"
	"verigate/internal/verification/providers"
	"verigate/internal/verification/store"
	id "verigate/pkg/domain"
	dErrors "verigate/pkg/domain-errors"
)

// stubProvider returns a canned result or error for any Analyze call.
type stubProvider struct {
	tier   models.ProviderTier
	result *providers.Result
	err    error
	calls  int
}

func (p *stubProvider) Tier() models.ProviderTier { return p.tier }

func (p *stubProvider) Analyze(_ context.Context, _ providers.Request) (*providers.Result, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.result, nil
}

type fixture struct {
	svc      *Service
	attempts *store.InMemoryAttemptStore
	profiles *store.InMemoryProfileStore
	regStore *registry.InMemoryStore
	sink     *audit.InMemoryStore
	provs    map[models.ProviderTier]providers.Provider
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		attempts: store.NewInMemoryAttemptStore(),
		profiles: store.NewInMemoryProfileStore(),
		regStore: registry.NewInMemoryStore(),
		sink:     audit.NewInMemoryStore(),
		provs:    make(map[models.ProviderTier]providers.Provider),
	}
	publisher := audit.NewStorePublisher(f.sink)
	regSvc := registry.New(f.regStore, registry.WithAuditPublisher(publisher))
	f.svc = New(f.attempts, f.profiles, regSvc, store.NewMemoryTxRunner(), f.provs,
		WithAuditPublisher(publisher),
	)
	return f
}

func (f *fixture) settle(t *testing.T, attempt *models.Attempt, status models.Status) {
	t.Helper()
	require.NoError(t, attempt.SetStatus(status, time.Now().UTC()))
	require.NoError(t, f.attempts.Update(context.Background(), attempt))
}

func TestStartOrResume_IdempotentResume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := id.UserID(uuid.New())

	first, resumed, err := f.svc.StartOrResume(ctx, userID)
	require.NoError(t, err)
	assert.False(t, resumed)
	assert.Equal(t, 1, first.Number)
	assert.Equal(t, models.TierHeuristic, first.Provider)

	second, resumed, err := f.svc.StartOrResume(ctx, userID)
	require.NoError(t, err)
	assert.True(t, resumed)
	assert.Equal(t, first.ID, second.ID)
}

func TestStartOrResume_EscalatesAfterTerminalDecisions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := id.UserID(uuid.New())

	expected := []models.ProviderTier{
		models.TierHeuristic,
		models.TierDocumentAI,
		models.TierPremiumBiometric,
		models.TierStaff,
		models.TierStaff,
	}
	for i, tier := range expected {
		attempt, resumed, err := f.svc.StartOrResume(ctx, userID)
		require.NoError(t, err)
		assert.False(t, resumed)
		assert.Equal(t, i+1, attempt.Number, "numbers are gapless and increasing")
		assert.Equal(t, tier, attempt.Provider)
		f.settle(t, attempt, models.StatusRejected)
	}
}

func TestStartOrResume_ConcurrentCallsConverge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := id.UserID(uuid.New())

	const callers = 16
	results := make([]*models.Attempt, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _, errs[i] = f.svc.StartOrResume(ctx, userID)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	for _, attempt := range results {
		assert.Equal(t, results[0].ID, attempt.ID, "all callers converge on one attempt")
		assert.Equal(t, 1, attempt.Number)
	}
}

func TestStartOrResume_SetsProfileProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := id.UserID(uuid.New())

	attempt, _, err := f.svc.StartOrResume(ctx, userID)
	require.NoError(t, err)

	profile, err := f.profiles.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, models.ProfilePendingAttempt1, profile.State)

	f.settle(t, attempt, models.StatusRejected)
	_, _, err = f.svc.StartOrResume(ctx, userID)
	require.NoError(t, err)

	profile, err = f.profiles.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, models.ProfilePendingAttempt2, profile.State)
}

func TestSubmitForDecision_DocumentTierAggregates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := id.UserID(uuid.New())

	attempt, _, err := f.svc.StartOrResume(ctx, userID)
	require.NoError(t, err)
	f.provs[models.TierHeuristic] = &stubProvider{
		tier: models.TierHeuristic,
		result: &providers.Result{
			OCR: &providers.OCRResult{
				Entities: []providers.OCREntity{
					{Type: "document_number", Confidence: 0.9, MentionText: "30111222"},
				},
			},
			MachineReadable: models.MachineReadableFlags{MRZ: true},
		},
	}

	updated, err := f.svc.SubmitForDecision(ctx, Submission{
		AttemptID:         attempt.ID,
		UserID:            userID,
		Assets:            models.AssetReferences{Front: "a/front", Back: "a/back", Selfie: "a/selfie"},
		SubmittedIDNumber: "30.111.222",
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatusPending, updated.Status, "automated tiers never approve")
	assert.InDelta(t, 0.99, updated.ConfidenceScore, 1e-9, "0.9 mean + 0.10 bonus, capped")
	assert.Equal(t, "30111222", updated.Extracted.IDNumber)
	assert.True(t, updated.MachineReadable.MRZ)
	require.NotNil(t, updated.DocumentCheck)
	assert.True(t, updated.DocumentCheck.Success)

	profile, err := f.profiles.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, models.ProfilePendingReview, profile.State)
}

func TestSubmitForDecision_ProviderFailureDegrades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := id.UserID(uuid.New())

	attempt, _, err := f.svc.StartOrResume(ctx, userID)
	require.NoError(t, err)
	f.provs[models.TierHeuristic] = &stubProvider{
		tier: models.TierHeuristic,
		err:  providers.ErrUnavailable,
	}

	updated, err := f.svc.SubmitForDecision(ctx, Submission{
		AttemptID: attempt.ID,
		UserID:    userID,
		Assets:    models.AssetReferences{Front: "a/front"},
	})
	require.NoError(t, err, "provider failures never fail the submission")
	assert.Equal(t, models.StatusPending, updated.Status)
	assert.Equal(t, 0.65, updated.ConfidenceScore, "conservative floor on degradation")

	events, err := f.sink.ListByUser(ctx, userID.String())
	require.NoError(t, err)
	var degraded bool
	for _, e := range events {
		if e.Action == audit.EventProviderDegraded {
			degraded = true
		}
	}
	assert.True(t, degraded)
}

func TestSubmitForDecision_AsyncTierParksPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := id.UserID(uuid.New())

	// Walk the user to attempt 3 (premium tier).
	for i := 0; i < 2; i++ {
		attempt, _, err := f.svc.StartOrResume(ctx, userID)
		require.NoError(t, err)
		f.settle(t, attempt, models.StatusRejected)
	}
	attempt, _, err := f.svc.StartOrResume(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, models.TierPremiumBiometric, attempt.Provider)

	premium := &stubProvider{
		tier:   models.TierPremiumBiometric,
		result: &providers.Result{Async: true},
	}
	f.provs[models.TierPremiumBiometric] = premium

	updated, err := f.svc.SubmitForDecision(ctx, Submission{
		AttemptID: attempt.ID,
		UserID:    userID,
		Assets:    models.AssetReferences{Front: "a/front", Selfie: "a/selfie"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, premium.calls)
	assert.Equal(t, models.StatusPending, updated.Status, "verdict arrives via webhook")
	assert.Equal(t, 0.65, updated.ConfidenceScore)
}

func TestSubmitForDecision_StaffTierSkipsProviders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := id.UserID(uuid.New())

	for i := 0; i < 3; i++ {
		attempt, _, err := f.svc.StartOrResume(ctx, userID)
		require.NoError(t, err)
		f.settle(t, attempt, models.StatusRejected)
	}
	attempt, _, err := f.svc.StartOrResume(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, models.TierStaff, attempt.Provider)

	staff := &stubProvider{tier: models.TierStaff}
	f.provs[models.TierStaff] = staff

	updated, err := f.svc.SubmitForDecision(ctx, Submission{
		AttemptID: attempt.ID,
		UserID:    userID,
		Assets:    models.AssetReferences{Front: "a/front"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, staff.calls, "manual tier runs no automated scoring")
	assert.Equal(t, models.StatusPending, updated.Status)
}

func TestSubmitForDecision_OwnershipAndState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := id.UserID(uuid.New())

	attempt, _, err := f.svc.StartOrResume(ctx, userID)
	require.NoError(t, err)

	_, err = f.svc.SubmitForDecision(ctx, Submission{
		AttemptID: attempt.ID,
		UserID:    id.UserID(uuid.New()),
	})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))

	f.settle(t, attempt, models.StatusApproved)
	_, err = f.svc.SubmitForDecision(ctx, Submission{AttemptID: attempt.ID, UserID: userID})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
}

func TestSubmitForDecision_FlagsKnownOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := id.UserID(uuid.New())
	require.NoError(t, f.regStore.Upsert(ctx, registry.Entry{
		NationalID:         id.NationalID("30111222"),
		OwnerUserID:        owner,
		VerificationStatus: models.VerificationPending,
	}))

	userID := id.UserID(uuid.New())
	attempt, _, err := f.svc.StartOrResume(ctx, userID)
	require.NoError(t, err)

	updated, err := f.svc.SubmitForDecision(ctx, Submission{
		AttemptID:         attempt.ID,
		UserID:            userID,
		Assets:            models.AssetReferences{Front: "a/front"},
		SubmittedIDNumber: "30111222",
	})
	require.NoError(t, err, "a pending owner never blocks submission")
	require.NotNil(t, updated.DuplicateOfUserID)
	assert.Equal(t, owner, *updated.DuplicateOfUserID)
	assert.Equal(t, models.StatusPending, updated.Status)
}

func TestIngestProviderResult_ApprovalClaimsRegistry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := id.UserID(uuid.New())

	attempt, _, err := f.svc.StartOrResume(ctx, userID)
	require.NoError(t, err)

	outcome, err := f.svc.IngestProviderResult(ctx, ProviderUpdate{
		UserID:      userID,
		AttemptID:   attempt.ID,
		Decision:    models.StatusApproved,
		NationalID:  id.NationalID("30111222"),
		ReferenceID: "prem-1",
		Scores:      map[string]float64{"face_match": 0.92, "liveness": 0.9},
	})
	require.NoError(t, err)
	assert.False(t, outcome.Conflict)
	assert.Equal(t, models.StatusApproved, outcome.Attempt.Status)
	assert.InDelta(t, 0.92, outcome.Attempt.ConfidenceScore, 1e-9)
	assert.Equal(t, models.TierPremiumBiometric, outcome.Attempt.Provider)
	assert.Equal(t, map[string]float64{"face_match": 0.92, "liveness": 0.9}, outcome.Attempt.PremiumScores)

	entry, err := f.regStore.Find(ctx, id.NationalID("30111222"))
	require.NoError(t, err)
	assert.Equal(t, userID, entry.OwnerUserID)
	assert.Equal(t, models.VerificationVerified, entry.VerificationStatus)

	profile, err := f.profiles.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, models.ProfileValidated, profile.State)
	assert.Equal(t, models.VerificationVerified, profile.VerificationStatus)
}

func TestIngestProviderResult_ConflictBlocksApproval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ownerA := id.UserID(uuid.New())
	require.NoError(t, f.regStore.Upsert(ctx, registry.Entry{
		NationalID:         id.NationalID("30111222"),
		OwnerUserID:        ownerA,
		VerificationStatus: models.VerificationVerified,
	}))

	userB := id.UserID(uuid.New())
	attempt, _, err := f.svc.StartOrResume(ctx, userB)
	require.NoError(t, err)

	outcome, err := f.svc.IngestProviderResult(ctx, ProviderUpdate{
		UserID:     userB,
		AttemptID:  attempt.ID,
		Decision:   models.StatusApproved,
		NationalID: id.NationalID("30111222"),
		Scores:     map[string]float64{"face_match": 0.95},
	})
	require.NoError(t, err)
	assert.True(t, outcome.Conflict)
	assert.Equal(t, models.StatusPending, outcome.Attempt.Status)
	assert.True(t, outcome.Attempt.Conflict)
	require.NotNil(t, outcome.Attempt.DuplicateOfUserID)
	assert.Equal(t, ownerA, *outcome.Attempt.DuplicateOfUserID)

	entry, err := f.regStore.Find(ctx, id.NationalID("30111222"))
	require.NoError(t, err)
	assert.Equal(t, ownerA, entry.OwnerUserID, "owner's entry must stay untouched")

	profile, err := f.profiles.Get(ctx, userB)
	require.NoError(t, err)
	assert.NotEqual(t, models.VerificationVerified, profile.VerificationStatus)
}

func TestIngestProviderResult_DefaultFaceMatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := id.UserID(uuid.New())
	attempt, _, err := f.svc.StartOrResume(ctx, userID)
	require.NoError(t, err)

	outcome, err := f.svc.IngestProviderResult(ctx, ProviderUpdate{
		UserID:    userID,
		AttemptID: attempt.ID,
		Decision:  models.StatusPending,
	})
	require.NoError(t, err)
	assert.Equal(t, 0.85, outcome.Attempt.ConfidenceScore, "missing face_match uses the premium default")
	assert.Equal(t, models.StatusPending, outcome.Attempt.Status)
}

func TestIngestProviderResult_RejectionFlipsProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := id.UserID(uuid.New())
	attempt, _, err := f.svc.StartOrResume(ctx, userID)
	require.NoError(t, err)

	outcome, err := f.svc.IngestProviderResult(ctx, ProviderUpdate{
		UserID:    userID,
		AttemptID: attempt.ID,
		Decision:  models.StatusRejected,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, outcome.Attempt.Status)

	profile, err := f.profiles.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, models.ProfileRejected, profile.State)
}

func TestIngestProviderResult_ReplayIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := id.UserID(uuid.New())
	attempt, _, err := f.svc.StartOrResume(ctx, userID)
	require.NoError(t, err)

	update := ProviderUpdate{
		UserID:     userID,
		AttemptID:  attempt.ID,
		Decision:   models.StatusApproved,
		NationalID: id.NationalID("30111222"),
		Scores:     map[string]float64{"face_match": 0.92},
	}

	first, err := f.svc.IngestProviderResult(ctx, update)
	require.NoError(t, err)
	second, err := f.svc.IngestProviderResult(ctx, update)
	require.NoError(t, err, "replaying the same webhook must be safe")

	assert.Equal(t, first.Attempt.Status, second.Attempt.Status)
	assert.Equal(t, first.Attempt.ConfidenceScore, second.Attempt.ConfidenceScore)

	entry, err := f.regStore.Find(ctx, id.NationalID("30111222"))
	require.NoError(t, err)
	assert.Equal(t, userID, entry.OwnerUserID)
}

func TestIngestProviderResult_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := id.UserID(uuid.New())
	attempt, _, err := f.svc.StartOrResume(ctx, userID)
	require.NoError(t, err)

	_, err = f.svc.IngestProviderResult(ctx, ProviderUpdate{
		UserID:    id.UserID(uuid.New()),
		AttemptID: attempt.ID,
		Decision:  models.StatusApproved,
	})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = f.svc.IngestProviderResult(ctx, ProviderUpdate{
		UserID:    userID,
		AttemptID: id.NewAttemptID(),
		Decision:  models.StatusApproved,
	})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))

	_, err = f.svc.IngestProviderResult(ctx, ProviderUpdate{
		UserID:    userID,
		AttemptID: attempt.ID,
		Decision:  models.Status("exploded"),
	})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func TestGuardUniqueness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.GuardUniqueness(ctx, "abc", id.UserID(uuid.New()))
	require.Error(t, err, "implausible id numbers are rejected up front")

	owner := id.UserID(uuid.New())
	require.NoError(t, f.regStore.Upsert(ctx, registry.Entry{
		NationalID:         id.NationalID("30111222"),
		OwnerUserID:        owner,
		VerificationStatus: models.VerificationVerified,
	}))

	conflict, err := f.svc.GuardUniqueness(ctx, "30.111.222", id.UserID(uuid.New()))
	require.NoError(t, err)
	assert.True(t, conflict)

	conflict, err = f.svc.GuardUniqueness(ctx, "30111222", owner)
	require.NoError(t, err)
	assert.False(t, conflict)
}

func TestSubmitForDecision_CircuitOpensAfterRepeatedFailures(t *testing.T) {
	flaky := &stubProvider{tier: models.TierHeuristic, err: providers.ErrUnavailable}
	svc := New(
		store.NewInMemoryAttemptStore(),
		store.NewInMemoryProfileStore(),
		registry.New(registry.NewInMemoryStore()),
		store.NewMemoryTxRunner(),
		map[models.ProviderTier]providers.Provider{models.TierHeuristic: flaky},
	)

	ctx := context.Background()
	for i := 0; i < 6; i++ {
		userID := id.UserID(uuid.New())
		attempt, _, err := svc.StartOrResume(ctx, userID)
		require.NoError(t, err)

		updated, err := svc.SubmitForDecision(ctx, Submission{
			AttemptID: attempt.ID,
			UserID:    userID,
			Assets:    models.AssetReferences{Front: "a/front"},
		})
		require.NoError(t, err)
		assert.Equal(t, 0.65, updated.ConfidenceScore)
	}

	assert.Equal(t, 5, flaky.calls, "an open circuit skips the provider call")
}
