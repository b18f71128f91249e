// Package handler exposes the verification flow over HTTP. It translates
// between transport shapes and the orchestrator's domain types; all policy
// lives in the service.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"verigate/internal/jwttoken"
	"verigate/internal/verification/models"
	"verigate/internal/verification/service"
	id "verigate/pkg/domain"
	dErrors "verigate/pkg/domain-errors"
	"verigate/pkg/platform/httputil"
	"verigate/pkg/requestcontext"
)

// Service defines the orchestrator operations the handler needs.
type Service interface {
	StartOrResume(ctx context.Context, userID id.UserID) (*models.Attempt, bool, error)
	SubmitForDecision(ctx context.Context, sub service.Submission) (*models.Attempt, error)
	GetAttempt(ctx context.Context, attemptID id.AttemptID, userID id.UserID) (*models.Attempt, error)
	GuardUniqueness(ctx context.Context, rawIDNumber string, userID id.UserID) (bool, error)
}

// Handler wires verification endpoints to the orchestrator.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts verification endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/verification/attempts", h.HandleStartOrResume)
	r.Get("/verification/attempts/{attemptID}", h.HandleGetAttempt)
	r.Post("/verification/attempts/{attemptID}/submit", h.HandleSubmit)
	r.Post("/verification/uniqueness-check", h.HandleUniquenessCheck)
}

// HandleStartOrResume handles POST /verification/attempts. The body is
// optional; staff callers may target another user.
func (h *Handler) HandleStartOrResume(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	userID := requestcontext.UserID(ctx)
	if userID.IsZero() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}

	target := userID
	if r.ContentLength > 0 {
		req, ok := httputil.DecodeAndPrepare[StartRequest](w, r, h.logger, ctx, requestID)
		if !ok {
			return
		}
		if override := req.ParsedTarget(); !override.IsZero() && override != userID {
			if requestcontext.Role(ctx) != jwttoken.RoleStaff {
				httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "target user override requires staff role"))
				return
			}
			target = override
		}
	}

	attempt, resumed, err := h.service.StartOrResume(ctx, target)
	if err != nil {
		h.logger.ErrorContext(ctx, "start or resume failed",
			"request_id", requestID,
			"user_id", target.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	status := http.StatusCreated
	if resumed {
		status = http.StatusOK
	}
	httputil.WriteJSON(w, status, toAttemptResponse(attempt, resumed))
}

// HandleSubmit handles POST /verification/attempts/{attemptID}/submit.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	userID := requestcontext.UserID(ctx)
	if userID.IsZero() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}

	attemptID, err := id.ParseAttemptID(chi.URLParam(r, "attemptID"))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeValidation, "invalid attempt id"))
		return
	}

	req, ok := httputil.DecodeAndPrepare[SubmitRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	attempt, err := h.service.SubmitForDecision(ctx, service.Submission{
		AttemptID:         attemptID,
		UserID:            userID,
		Assets:            req.AssetReferences(),
		SubmittedIDNumber: req.SubmittedIDNumber,
		CountryISO2:       req.CountryISO2,
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "submission failed",
			"request_id", requestID,
			"user_id", userID.String(),
			"attempt_id", attemptID.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "attempt submitted",
		"request_id", requestID,
		"user_id", userID.String(),
		"attempt_id", attemptID.String(),
		"provider", string(attempt.Provider),
		"status", string(attempt.Status),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, toSubmitResponse(attempt))
}

// HandleGetAttempt handles GET /verification/attempts/{attemptID}. Staff may
// read any attempt; other callers only their own.
func (h *Handler) HandleGetAttempt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := requestcontext.UserID(ctx)
	if userID.IsZero() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}

	attemptID, err := id.ParseAttemptID(chi.URLParam(r, "attemptID"))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeValidation, "invalid attempt id"))
		return
	}

	scope := userID
	if requestcontext.Role(ctx) == jwttoken.RoleStaff {
		scope = id.UserID{}
	}
	attempt, err := h.service.GetAttempt(ctx, attemptID, scope)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toAttemptDetailResponse(attempt))
}

// HandleUniquenessCheck handles POST /verification/uniqueness-check, the
// read-only pre-flight guard.
func (h *Handler) HandleUniquenessCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	userID := requestcontext.UserID(ctx)
	if userID.IsZero() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}

	req, ok := httputil.DecodeAndPrepare[UniquenessRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	conflict, err := h.service.GuardUniqueness(ctx, req.IDNumber, userID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, UniquenessResponse{Conflict: conflict})
}
