// Package service drives the verification attempt state machine: it creates
// and resumes attempts, invokes the provider tier the escalation policy
// selects, folds provider results into the attempt record, and keeps the
// user profile and identity registry in step at decision points.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"verigate/internal/audit"
	"verigate/internal/registry"
	"verigate/internal/verification/aggregate"
	"verigate/internal/verification/metrics"
	"verigate/internal/verification/models"
	"verigate/internal/verification/policy"
	"verigate/internal/verification/providers"
	"verigate/internal/verification/store"
	id "verigate/pkg/domain"
	dErrors "verigate/pkg/domain-errors"
	"verigate/pkg/platform/circuit"
	"verigate/pkg/platform/sentinel"
	"verigate/pkg/requestcontext"
)

// Service orchestrates the attempt lifecycle. All multi-store writes go
// through the transaction runner; the registry is only written on the
// approval path.
type Service struct {
	attempts  store.AttemptStore
	profiles  store.ProfileStore
	registry  *registry.Service
	runner    store.TxRunner
	providers map[models.ProviderTier]providers.Provider
	breakers  map[models.ProviderTier]*circuit.Breaker

	logger  *slog.Logger
	metrics *metrics.Metrics
	audit   audit.Publisher
	tracer  trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithAuditPublisher(p audit.Publisher) Option {
	return func(s *Service) { s.audit = p }
}

func New(
	attempts store.AttemptStore,
	profiles store.ProfileStore,
	registrySvc *registry.Service,
	runner store.TxRunner,
	provs map[models.ProviderTier]providers.Provider,
	opts ...Option,
) *Service {
	breakers := make(map[models.ProviderTier]*circuit.Breaker, len(provs))
	for tier := range provs {
		breakers[tier] = circuit.New(string(tier))
	}
	s := &Service{
		attempts:  attempts,
		profiles:  profiles,
		registry:  registrySvc,
		runner:    runner,
		providers: provs,
		breakers:  breakers,
		logger:    slog.Default(),
		tracer:    otel.Tracer("verigate/internal/verification/service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartOrResume returns the user's open attempt, or creates the next one
// with the tier the escalation policy selects. Calling it repeatedly always
// converges on the same open attempt.
func (s *Service) StartOrResume(ctx context.Context, userID id.UserID) (*models.Attempt, bool, error) {
	if userID.IsZero() {
		return nil, false, dErrors.New(dErrors.CodeValidation, "user id is required")
	}

	if attempt, err := s.attempts.FindInProgress(ctx, userID); err == nil {
		s.metrics.RecordAttemptEvent("resumed")
		s.emit(ctx, audit.Event{
			UserID:    userID,
			Action:    audit.EventAttemptResumed,
			AttemptID: attempt.ID.String(),
			Provider:  string(attempt.Provider),
		})
		return attempt, true, nil
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, false, dErrors.Wrap(err, dErrors.CodeInternal, "find open attempt")
	}

	var attempt *models.Attempt
	err := s.runner.RunInTx(ctx, func(txCtx context.Context) error {
		number, err := s.attempts.NextNumber(txCtx, userID)
		if err != nil {
			return err
		}
		attempt, err = models.NewAttempt(
			id.NewAttemptID(), userID, number, policy.TierFor(number),
			requestcontext.Now(ctx).UTC(),
		)
		if err != nil {
			return err
		}
		if err := s.attempts.Create(txCtx, attempt); err != nil {
			return err
		}
		return s.profiles.SetState(txCtx, userID, stateForAttempt(number))
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			// Lost a concurrent start; converge on the winner's attempt.
			if existing, ferr := s.attempts.FindInProgress(ctx, userID); ferr == nil {
				s.metrics.RecordAttemptEvent("resumed")
				return existing, true, nil
			}
			return nil, false, dErrors.Wrap(err, dErrors.CodeConflict, "concurrent attempt start")
		}
		return nil, false, dErrors.Wrap(err, dErrors.CodeInternal, "start attempt")
	}

	s.metrics.RecordAttemptEvent("started")
	s.logger.InfoContext(ctx, "verification attempt started",
		"user_id", userID.String(),
		"attempt_id", attempt.ID.String(),
		"attempt_number", attempt.Number,
		"provider", string(attempt.Provider),
		"request_id", requestcontext.RequestID(ctx),
	)
	s.emit(ctx, audit.Event{
		UserID:    userID,
		Action:    audit.EventAttemptStarted,
		AttemptID: attempt.ID.String(),
		Provider:  string(attempt.Provider),
	})
	return attempt, false, nil
}

// Submission carries one submit-for-decision call.
type Submission struct {
	AttemptID id.AttemptID
	// UserID is the authenticated caller; it must own the attempt.
	UserID            id.UserID
	Assets            models.AssetReferences
	SubmittedIDNumber string
	CountryISO2       string
}

// SubmitForDecision records the captured assets, invokes the attempt's
// provider tier, aggregates the result, and parks the attempt at pending for
// review. Automated tiers never approve; a provider failure degrades to a
// conservative pending attempt instead of failing the call.
func (s *Service) SubmitForDecision(ctx context.Context, sub Submission) (*models.Attempt, error) {
	attempt, err := s.attempts.GetByID(ctx, sub.AttemptID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "attempt not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load attempt")
	}
	if !sub.UserID.IsZero() && attempt.UserID != sub.UserID {
		return nil, dErrors.New(dErrors.CodeForbidden, "attempt belongs to another user")
	}
	if attempt.Status != models.StatusInProgress && attempt.Status != models.StatusRetryRequired {
		return nil, dErrors.New(dErrors.CodeConflict, "attempt is not open for submission")
	}

	now := requestcontext.Now(ctx).UTC()
	mergeAssets(&attempt.Assets, sub.Assets)
	if sub.SubmittedIDNumber != "" {
		attempt.SubmittedIDNumber = sub.SubmittedIDNumber
	}
	s.flagKnownOwner(ctx, attempt)

	if provider, ok := s.providers[attempt.Provider]; ok && attempt.Provider != models.TierStaff {
		s.invokeProvider(ctx, provider, attempt, sub.CountryISO2)
	}
	// The staff tier (and an unconfigured provider) skips automated scoring
	// entirely; the attempt goes straight to review.
	if err := attempt.SetStatus(models.StatusPending, now); err != nil {
		return nil, err
	}

	err = s.runner.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.attempts.Update(txCtx, attempt); err != nil {
			return err
		}
		return s.profiles.SetState(txCtx, attempt.UserID, models.ProfilePendingReview)
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "record submission")
	}

	s.metrics.RecordAttemptEvent("submitted")
	s.emit(ctx, audit.Event{
		UserID:    attempt.UserID,
		Action:    audit.EventAttemptSubmitted,
		AttemptID: attempt.ID.String(),
		Provider:  string(attempt.Provider),
	})
	return attempt, nil
}

// invokeProvider runs the tier and folds its signals into the attempt.
// Errors are absorbed: the attempt keeps the conservative baseline score and
// proceeds to manual review. A tier whose circuit is open is skipped without
// a call.
func (s *Service) invokeProvider(ctx context.Context, provider providers.Provider, attempt *models.Attempt, countryISO2 string) {
	breaker := s.breakers[attempt.Provider]
	if breaker != nil && breaker.IsOpen() {
		s.degradeProvider(ctx, attempt, "circuit open")
		return
	}

	ctx, span := s.tracer.Start(ctx, "provider.analyze",
		trace.WithAttributes(
			attribute.String("tier", string(attempt.Provider)),
			attribute.String("attempt_id", attempt.ID.String()),
		),
	)
	defer span.End()

	start := time.Now()
	result, err := provider.Analyze(ctx, providers.Request{
		UserID:            attempt.UserID,
		AttemptID:         attempt.ID,
		Assets:            attempt.Assets,
		SubmittedIDNumber: attempt.SubmittedIDNumber,
		CountryISO2:       countryISO2,
	})
	s.metrics.ObserveProviderLatency(string(attempt.Provider), time.Since(start))

	if err != nil {
		span.RecordError(err)
		if breaker != nil {
			if _, change := breaker.RecordFailure(); change.Opened {
				s.logger.WarnContext(ctx, "provider circuit opened", "tier", string(attempt.Provider))
			}
		}
		s.degradeProvider(ctx, attempt, err.Error())
		return
	}
	if breaker != nil {
		if _, change := breaker.RecordSuccess(); change.Closed {
			s.logger.InfoContext(ctx, "provider circuit closed", "tier", string(attempt.Provider))
		}
	}

	if result.Async {
		// The verdict arrives through the webhook; hold the floor until then.
		attempt.ConfidenceScore = aggregate.Baseline
		return
	}

	if result.MachineReadable.Any() {
		attempt.MachineReadable = result.MachineReadable
	}
	score := aggregate.Score(aggregate.Inputs{
		Consistency: result.Consistency,
		OCR:         result.OCR,
		Flags:       attempt.MachineReadable,
	})
	attempt.ConfidenceScore = score
	if result.OCR != nil {
		attempt.Extracted = aggregate.Extract(result.OCR)
	}
	check := aggregate.DocumentCheck(score)
	attempt.DocumentCheck = &check
	s.metrics.ObserveConfidence(string(attempt.Provider), score)
}

// degradeProvider parks the attempt at the baseline score for manual review
// when a tier cannot produce signals.
func (s *Service) degradeProvider(ctx context.Context, attempt *models.Attempt, reason string) {
	s.logger.WarnContext(ctx, "provider unavailable, degrading to manual review",
		"tier", string(attempt.Provider),
		"attempt_id", attempt.ID.String(),
		"reason", reason,
	)
	s.metrics.RecordProviderDegraded(string(attempt.Provider))
	s.emit(ctx, audit.Event{
		UserID:    attempt.UserID,
		Action:    audit.EventProviderDegraded,
		AttemptID: attempt.ID.String(),
		Provider:  string(attempt.Provider),
		Reason:    reason,
	})
	attempt.ConfidenceScore = aggregate.Baseline
}

// ProviderUpdate is a decision arriving from the premium provider's webhook,
// already authenticated and mapped by the gateway.
type ProviderUpdate struct {
	UserID      id.UserID
	AttemptID   id.AttemptID
	Decision    models.Status
	NationalID  id.NationalID
	ReferenceID string
	Scores      map[string]float64
}

// IngestOutcome reports what a webhook fold-in did.
type IngestOutcome struct {
	Attempt *models.Attempt
	// Conflict is set when an approval was blocked by the identity registry
	// and the attempt was forced back to pending.
	Conflict bool
}

// IngestProviderResult folds an authenticated provider callback into the
// attempt. Replays are safe: the same update re-applies the same state. An
// approval carrying a national ID number runs the registry conflict check
// inside the same transaction that writes the attempt, registry entry, and
// profile.
func (s *Service) IngestProviderResult(ctx context.Context, update ProviderUpdate) (*IngestOutcome, error) {
	switch update.Decision {
	case models.StatusApproved, models.StatusPending, models.StatusRejected:
	default:
		return nil, dErrors.New(dErrors.CodeValidation, "unsupported decision: "+string(update.Decision))
	}

	ctx, span := s.tracer.Start(ctx, "attempt.ingest",
		trace.WithAttributes(
			attribute.String("attempt_id", update.AttemptID.String()),
			attribute.String("decision", string(update.Decision)),
		),
	)
	defer span.End()

	var outcome IngestOutcome
	err := s.runner.RunInTx(ctx, func(txCtx context.Context) error {
		attempt, err := s.attempts.GetByID(txCtx, update.AttemptID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "attempt not found")
			}
			return err
		}
		if attempt.UserID != update.UserID {
			return dErrors.New(dErrors.CodeValidation, "attempt does not belong to the given user")
		}

		now := requestcontext.Now(ctx).UTC()

		// The callback is authoritative for provider fields; overwrite them.
		attempt.Provider = models.TierPremiumBiometric
		attempt.PremiumScores = update.Scores
		attempt.PremiumReferenceID = update.ReferenceID
		if update.NationalID != "" && attempt.SubmittedIDNumber == "" {
			attempt.SubmittedIDNumber = update.NationalID.String()
		}
		faceMatch := aggregate.DefaultPremiumScore
		if v, ok := update.Scores["face_match"]; ok {
			faceMatch = v
		}
		attempt.ConfidenceScore = aggregate.Score(aggregate.Inputs{PremiumFaceMatch: &faceMatch})
		s.metrics.ObserveConfidence(string(attempt.Provider), attempt.ConfidenceScore)

		if update.Decision == models.StatusApproved && update.NationalID != "" {
			verdict, err := s.registry.CheckConflict(txCtx, update.NationalID, attempt.UserID)
			if err != nil {
				return err
			}
			if verdict.Conflict {
				owner := verdict.OwnerUserID
				attempt.Conflict = true
				attempt.DuplicateOfUserID = &owner
				if err := attempt.SetStatus(models.StatusPending, now); err != nil {
					return err
				}
				if err := s.attempts.Update(txCtx, attempt); err != nil {
					return err
				}
				if err := s.profiles.SetState(txCtx, attempt.UserID, models.ProfilePendingReview); err != nil {
					return err
				}
				outcome.Attempt = attempt
				outcome.Conflict = true
				s.metrics.RecordDecision("webhook", "conflict")
				return nil
			}
		}

		if err := s.applyDecision(txCtx, attempt, update.Decision, update.NationalID, update.ReferenceID, now); err != nil {
			return err
		}
		outcome.Attempt = attempt
		s.metrics.RecordDecision("webhook", string(update.Decision))
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, audit.Event{
		UserID:    update.UserID,
		Action:    audit.EventWebhookAccepted,
		AttemptID: update.AttemptID.String(),
		Provider:  string(models.TierPremiumBiometric),
		Decision:  string(update.Decision),
	})
	return &outcome, nil
}

// applyDecision writes a decision and its profile/registry side effects.
// Callers run it inside a transaction.
func (s *Service) applyDecision(ctx context.Context, attempt *models.Attempt, decision models.Status, nationalID id.NationalID, referenceID string, now time.Time) error {
	if err := attempt.SetStatus(decision, now); err != nil {
		return err
	}
	if err := s.attempts.Update(ctx, attempt); err != nil {
		return err
	}

	switch decision {
	case models.StatusApproved:
		if nationalID != "" {
			err := s.registry.Claim(ctx, registry.Entry{
				NationalID:         nationalID,
				OwnerUserID:        attempt.UserID,
				VerificationStatus: models.VerificationVerified,
				Provider:           attempt.Provider,
				ConfidenceScore:    attempt.ConfidenceScore,
				ReferenceID:        referenceID,
			})
			if err != nil {
				return err
			}
		}
		if err := s.profiles.SetState(ctx, attempt.UserID, models.ProfileValidated); err != nil {
			return err
		}
		if err := s.profiles.SetVerificationStatus(ctx, attempt.UserID, models.VerificationVerified); err != nil {
			return err
		}
		s.emit(ctx, audit.Event{
			UserID:    attempt.UserID,
			Action:    audit.EventAttemptApproved,
			AttemptID: attempt.ID.String(),
			Provider:  string(attempt.Provider),
		})
	case models.StatusRejected:
		if err := s.profiles.SetState(ctx, attempt.UserID, models.ProfileRejected); err != nil {
			return err
		}
		s.emit(ctx, audit.Event{
			UserID:    attempt.UserID,
			Action:    audit.EventAttemptRejected,
			AttemptID: attempt.ID.String(),
			Provider:  string(attempt.Provider),
		})
	case models.StatusPending:
		if err := s.profiles.SetState(ctx, attempt.UserID, models.ProfilePendingReview); err != nil {
			return err
		}
	}
	return nil
}

// GuardUniqueness is the read-only pre-flight check: it tells a user their
// ID number is already claimed before any capture work happens. It reserves
// nothing.
func (s *Service) GuardUniqueness(ctx context.Context, rawIDNumber string, userID id.UserID) (bool, error) {
	nationalID, err := id.ParseNationalID(rawIDNumber)
	if err != nil {
		return false, err
	}
	verdict, err := s.registry.GuardUniqueness(ctx, nationalID, userID)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "uniqueness guard")
	}
	return verdict.Conflict, nil
}

// GetAttempt loads an attempt, enforcing ownership unless the caller is
// unscoped (internal callers pass a zero user).
func (s *Service) GetAttempt(ctx context.Context, attemptID id.AttemptID, userID id.UserID) (*models.Attempt, error) {
	attempt, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "attempt not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load attempt")
	}
	if !userID.IsZero() && attempt.UserID != userID {
		return nil, dErrors.New(dErrors.CodeForbidden, "attempt belongs to another user")
	}
	return attempt, nil
}

// flagKnownOwner records the informational duplicate flag when the submitted
// ID number is already registered to another account. It never blocks the
// submission; only approvals are gated.
func (s *Service) flagKnownOwner(ctx context.Context, attempt *models.Attempt) {
	if attempt.SubmittedIDNumber == "" {
		return
	}
	nationalID, err := id.ParseNationalID(attempt.SubmittedIDNumber)
	if err != nil {
		return
	}
	verdict, err := s.registry.CheckConflict(ctx, nationalID, attempt.UserID)
	if err != nil {
		s.logger.WarnContext(ctx, "duplicate pre-check failed", "error", err)
		return
	}
	if !verdict.OwnerUserID.IsZero() && verdict.OwnerUserID != attempt.UserID {
		owner := verdict.OwnerUserID
		attempt.DuplicateOfUserID = &owner
	}
}

// stateForAttempt maps the attempt number to the profile progress state
// shown to the user while that attempt runs.
func stateForAttempt(number int) models.ProfileState {
	switch number {
	case 1:
		return models.ProfilePendingAttempt1
	case 2:
		return models.ProfilePendingAttempt2
	case 3:
		return models.ProfilePendingSelfie
	default:
		return models.ProfilePendingReview
	}
}

func mergeAssets(dst *models.AssetReferences, src models.AssetReferences) {
	if src.Front != "" {
		dst.Front = src.Front
	}
	if src.Back != "" {
		dst.Back = src.Back
	}
	if src.Selfie != "" {
		dst.Selfie = src.Selfie
	}
	if src.LicenseFront != "" {
		dst.LicenseFront = src.LicenseFront
	}
	if src.LicenseBack != "" {
		dst.LicenseBack = src.LicenseBack
	}
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.audit == nil {
		return
	}
	event.Timestamp = requestcontext.Now(ctx)
	event.Category = audit.CategoryFor(event.Action)
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	if err := s.audit.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "audit emit failed", "action", string(event.Action), "error", err)
	}
}
