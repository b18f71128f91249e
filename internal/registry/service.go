package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"verigate/internal/audit"
	"verigate/internal/registry/metrics"
	"verigate/internal/verification/models"
	id "verigate/pkg/domain"
	"verigate/pkg/platform/sentinel"
	"verigate/pkg/requestcontext"
)

// Service answers "who owns this national ID" questions and records claims.
type Service struct {
	store   Store
	cache   GuardCache
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

// WithGuardCache attaches a cache for the advisory pre-flight path. The
// authoritative conflict check never reads it.
func WithGuardCache(cache GuardCache) Option {
	return func(s *Service) { s.cache = cache }
}

func New(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CheckConflict is the authoritative uniqueness check, run against the store
// (inside the caller's transaction when one is in context). It gates
// approvals only; submissions and pending attempts are never blocked.
func (s *Service) CheckConflict(ctx context.Context, nationalID id.NationalID, userID id.UserID) (Conflict, error) {
	entry, err := s.store.Find(ctx, nationalID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.metrics.RecordCheck("clear")
			return Conflict{}, nil
		}
		s.metrics.RecordCheck("error")
		return Conflict{}, fmt.Errorf("check registry conflict: %w", err)
	}

	verdict := evaluate(entry, userID)
	if verdict.Conflict {
		s.metrics.RecordCheck("conflict")
		s.metrics.RecordConflict()
		s.logger.WarnContext(ctx, "identity registry conflict",
			"user_id", userID.String(),
			"owner_user_id", entry.OwnerUserID.String(),
			"owner_status", string(entry.VerificationStatus),
			"request_id", requestcontext.RequestID(ctx),
		)
		s.emit(ctx, audit.Event{
			UserID:    userID,
			Action:    audit.EventConflictDetected,
			Reason:    "national id owned by another account",
			RequestID: requestcontext.RequestID(ctx),
		})
		return verdict, nil
	}
	s.metrics.RecordCheck("clear")
	return verdict, nil
}

// GuardUniqueness is the advisory pre-flight check clients call before
// uploading captures. It may serve from cache; the answer is a hint, not a
// reservation.
func (s *Service) GuardUniqueness(ctx context.Context, nationalID id.NationalID, userID id.UserID) (Conflict, error) {
	entry, err := s.cachedFind(ctx, nationalID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.emitPreflight(ctx, userID, "clear")
			return Conflict{}, nil
		}
		return Conflict{}, err
	}

	verdict := evaluate(entry, userID)
	if verdict.Conflict {
		s.emitPreflight(ctx, userID, "conflict")
	} else {
		s.emitPreflight(ctx, userID, "clear")
	}
	return verdict, nil
}

// Claim records the approved attempt's ownership of the national ID. It runs
// inside the approval transaction; the guard cache refresh is best-effort.
func (s *Service) Claim(ctx context.Context, entry Entry) error {
	if err := s.store.Upsert(ctx, entry); err != nil {
		return fmt.Errorf("claim registry entry: %w", err)
	}
	s.metrics.RecordClaim()
	s.emit(ctx, audit.Event{
		UserID:    entry.OwnerUserID,
		Action:    audit.EventRegistryClaimed,
		Provider:  string(entry.Provider),
		RequestID: requestcontext.RequestID(ctx),
	})

	if s.cache != nil {
		if err := s.cache.Set(ctx, entry); err != nil {
			s.logger.WarnContext(ctx, "guard cache refresh failed", "error", err)
		}
	}
	return nil
}

func (s *Service) cachedFind(ctx context.Context, nationalID id.NationalID) (*Entry, error) {
	if s.cache != nil {
		entry, err := s.cache.Get(ctx, nationalID)
		if err == nil {
			s.metrics.RecordGuardCacheHit()
			return entry, nil
		}
		if !errors.Is(err, sentinel.ErrNotFound) {
			s.logger.WarnContext(ctx, "guard cache read failed", "error", err)
		}
		s.metrics.RecordGuardCacheMiss()
	}

	entry, err := s.store.Find(ctx, nationalID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("guard uniqueness lookup: %w", err)
	}
	if s.cache != nil {
		if cacheErr := s.cache.Set(ctx, *entry); cacheErr != nil {
			s.logger.WarnContext(ctx, "guard cache write failed", "error", cacheErr)
		}
	}
	return entry, nil
}

// evaluate applies the ownership rule: only a settled claim by a different
// account blocks. The owner is reported either way so callers can flag
// informational duplicates.
func evaluate(entry *Entry, userID id.UserID) Conflict {
	verdict := Conflict{
		OwnerUserID: entry.OwnerUserID,
		Status:      entry.VerificationStatus,
	}
	if entry.OwnerUserID == userID {
		return verdict
	}
	if entry.VerificationStatus == models.VerificationVerified ||
		entry.VerificationStatus == models.VerificationBanned {
		verdict.Conflict = true
	}
	return verdict
}

func (s *Service) emitPreflight(ctx context.Context, userID id.UserID, outcome string) {
	s.emit(ctx, audit.Event{
		UserID:    userID,
		Action:    audit.EventUniquenessPreflight,
		Reason:    outcome,
		RequestID: requestcontext.RequestID(ctx),
	})
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.audit == nil {
		return
	}
	event.Timestamp = requestcontext.Now(ctx)
	event.Category = audit.CategoryFor(event.Action)
	if err := s.audit.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "audit emit failed", "action", string(event.Action), "error", err)
	}
}
