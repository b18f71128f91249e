// Package handler exposes the manual-review gateway over HTTP. The router
// mounts it behind staff-role middleware; the reviewer identity comes from
// the authenticated request context.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"verigate/internal/review"
	"verigate/internal/verification/models"
	id "verigate/pkg/domain"
	dErrors "verigate/pkg/domain-errors"
	"verigate/pkg/platform/httputil"
	"verigate/pkg/requestcontext"
)

// Service defines the review operation the handler needs.
type Service interface {
	Decide(ctx context.Context, decision review.Decision) (*models.Attempt, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the review endpoint on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/review/attempts/{attemptID}/decision", h.HandleDecision)
}

// DecisionRequest is a reviewer's call on one attempt.
type DecisionRequest struct {
	Action string `json:"action"`
	Reason string `json:"reason,omitempty"`
	// RequestedComponents scopes a retry to the assets the user must
	// recapture.
	RequestedComponents []string `json:"requested_components,omitempty"`

	parsedComponents []models.Component
}

func (r *DecisionRequest) Validate() error {
	if r.Action == "" {
		return dErrors.New(dErrors.CodeValidation, "action is required")
	}
	for _, raw := range r.RequestedComponents {
		component, err := models.ParseComponent(raw)
		if err != nil {
			return err
		}
		r.parsedComponents = append(r.parsedComponents, component)
	}
	return nil
}

// Components returns the validated component list.
func (r *DecisionRequest) Components() []models.Component {
	return r.parsedComponents
}

// DecisionResponse is the post-decision attempt snapshot.
type DecisionResponse struct {
	AttemptID           string   `json:"attempt_id"`
	Status              string   `json:"status"`
	RequestedComponents []string `json:"requested_components,omitempty"`
}

// HandleDecision handles POST /review/attempts/{attemptID}/decision.
func (h *Handler) HandleDecision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	reviewerID := requestcontext.UserID(ctx)
	if reviewerID.IsZero() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}

	attemptID, err := id.ParseAttemptID(chi.URLParam(r, "attemptID"))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeValidation, "invalid attempt id"))
		return
	}

	req, ok := httputil.DecodeAndPrepare[DecisionRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	attempt, err := h.service.Decide(ctx, review.Decision{
		AttemptID:           attemptID,
		Action:              review.Action(req.Action),
		Reason:              req.Reason,
		RequestedComponents: req.Components(),
		ReviewerID:          reviewerID,
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "review decision failed",
			"request_id", requestID,
			"attempt_id", attemptID.String(),
			"reviewer_id", reviewerID.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	resp := DecisionResponse{
		AttemptID: attempt.ID.String(),
		Status:    string(attempt.Status),
	}
	for _, c := range attempt.RequestedComponents {
		resp.RequestedComponents = append(resp.RequestedComponents, string(c))
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}
