// Package review is the manual-review gateway: the path a human reviewer
// uses to force a terminal decision on an attempt. It goes through the same
// stores and registry invariants as the automated paths; there is no staff
// backdoor around the uniqueness check.
package review

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"verigate/internal/audit"
	"verigate/internal/registry"
	"verigate/internal/verification/metrics"
	"verigate/internal/verification/models"
	"verigate/internal/verification/store"
	id "verigate/pkg/domain"
	dErrors "verigate/pkg/domain-errors"
	"verigate/pkg/platform/sentinel"
	"verigate/pkg/requestcontext"
)

// Action is a reviewer's call on an attempt.
type Action string

const (
	ActionApprove Action = "approved"
	ActionReject  Action = "rejected"
	ActionRetry   Action = "retry"
)

// Decision carries one reviewer call.
type Decision struct {
	AttemptID id.AttemptID
	Action    Action
	// Reason is required for rejections; it feeds user-facing feedback.
	Reason string
	// RequestedComponents scopes a retry to the assets that must be
	// recaptured.
	RequestedComponents []models.Component
	ReviewerID          id.UserID
}

type Service struct {
	attempts store.AttemptStore
	profiles store.ProfileStore
	registry *registry.Service
	runner   store.TxRunner

	logger  *slog.Logger
	metrics *metrics.Metrics
	audit   audit.Publisher
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

func New(attempts store.AttemptStore, profiles store.ProfileStore, registrySvc *registry.Service, runner store.TxRunner, opts ...Option) *Service {
	s := &Service{
		attempts: attempts,
		profiles: profiles,
		registry: registrySvc,
		runner:   runner,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Decide applies a reviewer decision. An approval runs the registry conflict
// check inside the decision transaction and is refused with a conflict error
// rather than silently downgraded; a retry marks which components must be
// recaptured so the user re-submits in place instead of restarting.
func (s *Service) Decide(ctx context.Context, decision Decision) (*models.Attempt, error) {
	switch decision.Action {
	case ActionApprove, ActionReject, ActionRetry:
	default:
		return nil, dErrors.New(dErrors.CodeValidation, "unknown review action: "+string(decision.Action))
	}
	if decision.Action == ActionReject && decision.Reason == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "rejection requires a reason")
	}
	if decision.ReviewerID.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "reviewer id is required")
	}
	for _, component := range decision.RequestedComponents {
		if _, err := models.ParseComponent(string(component)); err != nil {
			return nil, err
		}
	}

	var result *models.Attempt
	err := s.runner.RunInTx(ctx, func(txCtx context.Context) error {
		attempt, err := s.attempts.GetByID(txCtx, decision.AttemptID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "attempt not found")
			}
			return err
		}
		if attempt.Status.Terminal() {
			return dErrors.New(dErrors.CodeConflict, "attempt already decided")
		}

		now := requestcontext.Now(ctx).UTC()
		attempt.Manual = &models.ManualDecision{
			Action:     string(decision.Action),
			Reason:     decision.Reason,
			ReviewerID: decision.ReviewerID,
			DecidedAt:  now,
		}

		switch decision.Action {
		case ActionApprove:
			if err := s.approve(txCtx, attempt, now); err != nil {
				return err
			}
		case ActionReject:
			if err := attempt.SetStatus(models.StatusRejected, now); err != nil {
				return err
			}
			if err := s.attempts.Update(txCtx, attempt); err != nil {
				return err
			}
			if err := s.profiles.SetState(txCtx, attempt.UserID, models.ProfileRejected); err != nil {
				return err
			}
		case ActionRetry:
			if err := attempt.SetStatus(models.StatusRetryRequired, now); err != nil {
				return err
			}
			attempt.RequestedComponents = decision.RequestedComponents
			if err := s.attempts.Update(txCtx, attempt); err != nil {
				return err
			}
		}
		result = attempt
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordDecision("review", string(decision.Action))
	s.logger.InfoContext(ctx, "review decision applied",
		"attempt_id", result.ID.String(),
		"user_id", result.UserID.String(),
		"action", string(decision.Action),
		"reviewer_id", decision.ReviewerID.String(),
		"request_id", requestcontext.RequestID(ctx),
	)
	s.emit(ctx, audit.Event{
		UserID:    result.UserID,
		Action:    actionEvent(decision.Action),
		AttemptID: result.ID.String(),
		Provider:  string(result.Provider),
		Decision:  string(decision.Action),
		Reason:    decision.Reason,
		ActorID:   decision.ReviewerID.String(),
	})
	return result, nil
}

// approve runs the conflict-checked approval: registry check, attempt write,
// registry claim, and profile flip all commit or roll back together.
func (s *Service) approve(ctx context.Context, attempt *models.Attempt, now time.Time) error {
	nationalID, ok := attemptNationalID(attempt)
	if ok {
		verdict, err := s.registry.CheckConflict(ctx, nationalID, attempt.UserID)
		if err != nil {
			return err
		}
		if verdict.Conflict {
			return dErrors.New(dErrors.CodeConflict, "national id is owned by another verified account")
		}
	}

	if err := attempt.SetStatus(models.StatusApproved, now); err != nil {
		return err
	}
	if err := s.attempts.Update(ctx, attempt); err != nil {
		return err
	}
	if ok {
		err := s.registry.Claim(ctx, registry.Entry{
			NationalID:         nationalID,
			OwnerUserID:        attempt.UserID,
			VerificationStatus: models.VerificationVerified,
			Provider:           attempt.Provider,
			ConfidenceScore:    attempt.ConfidenceScore,
			ReferenceID:        attempt.PremiumReferenceID,
		})
		if err != nil {
			return err
		}
	}
	if err := s.profiles.SetState(ctx, attempt.UserID, models.ProfileValidated); err != nil {
		return err
	}
	return s.profiles.SetVerificationStatus(ctx, attempt.UserID, models.VerificationVerified)
}

// attemptNationalID picks the ID number an approval should claim: the
// user-submitted number first, the OCR-extracted one as fallback.
func attemptNationalID(attempt *models.Attempt) (id.NationalID, bool) {
	for _, raw := range []string{attempt.SubmittedIDNumber, attempt.Extracted.IDNumber} {
		if raw == "" {
			continue
		}
		if nationalID, err := id.ParseNationalID(raw); err == nil {
			return nationalID, true
		}
	}
	return "", false
}

func actionEvent(action Action) audit.AuditEvent {
	switch action {
	case ActionApprove:
		return audit.EventAttemptApproved
	case ActionReject:
		return audit.EventAttemptRejected
	default:
		return audit.EventRetryRequested
	}
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.audit == nil {
		return
	}
	event.Timestamp = requestcontext.Now(ctx)
	event.Category = audit.CategoryFor(event.Action)
	event.RequestID = requestcontext.RequestID(ctx)
	if err := s.audit.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "audit emit failed", "action", string(event.Action), "error", err)
	}
}
