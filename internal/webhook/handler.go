// Package webhook is the inbound gateway for the premium biometric
// provider's asynchronous callbacks. It authenticates the raw body with an
// HMAC signature before any parsing, maps the provider's payload onto the
// orchestrator's update type, and never mutates state on a rejected request.
package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"verigate/internal/audit"
	"verigate/internal/verification/models"
	"verigate/internal/verification/service"
	"verigate/internal/webhook/metrics"
	id "verigate/pkg/domain"
	dErrors "verigate/pkg/domain-errors"
	"verigate/pkg/platform/httputil"
	"verigate/pkg/requestcontext"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-HO-Signature"

// Ingestor folds an authenticated provider decision into an attempt.
type Ingestor interface {
	IngestProviderResult(ctx context.Context, update service.ProviderUpdate) (*service.IngestOutcome, error)
}

// Handler authenticates and parses provider callbacks.
type Handler struct {
	ingestor Ingestor
	secret   string
	logger   *slog.Logger
	metrics  *metrics.Metrics
	audit    audit.Publisher
}

type Option func(*Handler)

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

func WithAuditPublisher(p audit.Publisher) Option {
	return func(h *Handler) { h.audit = p }
}

func New(ingestor Ingestor, secret string, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{ingestor: ingestor, secret: secret, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the callback endpoint. The route is unauthenticated at the
// middleware level; the body signature is the credential.
func (h *Handler) Register(r chi.Router) {
	r.Post("/providerWebhook", h.HandleCallback)
}

// payload is the provider's callback shape. The attempt is addressed by a
// provider-side document path; only the trailing attempt ID and its owner are
// trusted after cross-checking against uid.
type payload struct {
	UID         string             `json:"uid"`
	AttemptPath string             `json:"attemptPath"`
	Decision    string             `json:"decision"`
	DNINumber   string             `json:"dniNumber,omitempty"`
	ReferenceID string             `json:"referenceId,omitempty"`
	Scores      map[string]float64 `json:"scores,omitempty"`
}

type callbackResponse struct {
	OK       bool `json:"ok"`
	Conflict bool `json:"conflict,omitempty"`
}

func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	// An unset secret must fail closed: accepting unsigned callbacks would
	// let anyone approve attempts.
	if h.secret == "" {
		h.metrics.RecordRequest("misconfigured")
		h.logger.ErrorContext(ctx, "webhook secret is not configured", "request_id", requestID)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "webhook misconfigured"))
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.metrics.RecordRequest("error")
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "read request body"))
		return
	}

	if !VerifySignature(h.secret, body, r.Header.Get(SignatureHeader)) {
		h.metrics.RecordRequest("rejected_signature")
		h.logger.WarnContext(ctx, "webhook signature rejected",
			"request_id", requestID,
			"remote_addr", r.RemoteAddr,
		)
		h.emit(ctx, audit.Event{
			Action:    audit.EventWebhookRejected,
			Reason:    "signature mismatch",
			RequestID: requestID,
		})
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "invalid signature"))
		return
	}

	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		h.metrics.RecordRequest("rejected_payload")
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeValidation, "malformed payload"))
		return
	}

	update, err := h.toUpdate(ctx, p)
	if err != nil {
		h.metrics.RecordRequest("rejected_payload")
		httputil.WriteError(w, err)
		return
	}

	outcome, err := h.ingestor.IngestProviderResult(ctx, update)
	if err != nil {
		h.metrics.RecordRequest("error")
		h.logger.ErrorContext(ctx, "webhook ingestion failed",
			"request_id", requestID,
			"attempt_id", update.AttemptID.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.metrics.RecordRequest("accepted")
	h.logger.InfoContext(ctx, "webhook accepted",
		"request_id", requestID,
		"user_id", update.UserID.String(),
		"attempt_id", update.AttemptID.String(),
		"decision", string(update.Decision),
		"conflict", outcome.Conflict,
	)
	httputil.WriteJSON(w, http.StatusOK, callbackResponse{OK: true, Conflict: outcome.Conflict})
}

// toUpdate validates the payload and maps it onto the orchestrator's shape.
func (h *Handler) toUpdate(ctx context.Context, p payload) (service.ProviderUpdate, error) {
	if p.UID == "" || p.AttemptPath == "" {
		return service.ProviderUpdate{}, dErrors.New(dErrors.CodeValidation, "uid and attemptPath are required")
	}
	userID, err := id.ParseUserID(p.UID)
	if err != nil {
		return service.ProviderUpdate{}, dErrors.Wrap(err, dErrors.CodeValidation, "invalid uid")
	}

	attemptID, err := parseAttemptPath(p.AttemptPath, p.UID)
	if err != nil {
		return service.ProviderUpdate{}, err
	}

	update := service.ProviderUpdate{
		UserID:      userID,
		AttemptID:   attemptID,
		Decision:    mapDecision(p.Decision),
		ReferenceID: p.ReferenceID,
		Scores:      p.Scores,
	}
	if p.DNINumber != "" {
		nationalID, err := id.ParseNationalID(p.DNINumber)
		if err != nil {
			// The ID number only feeds the conflict check; a garbled value
			// is treated as absent rather than bouncing the whole callback.
			h.logger.WarnContext(ctx, "webhook carried an unparseable id number",
				"attempt_id", attemptID.String(),
				"error", err,
			)
		} else {
			update.NationalID = nationalID
		}
	}
	return update, nil
}

// parseAttemptPath extracts the attempt ID from a provider document path of
// the form <collection>/<uid>/attempts/<attemptID> and refuses paths whose
// embedded owner disagrees with the payload's uid.
func parseAttemptPath(path, uid string) (id.AttemptID, error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 4 || parts[2] != "attempts" {
		return id.AttemptID{}, dErrors.New(dErrors.CodeValidation, "malformed attemptPath")
	}
	if parts[1] != uid {
		return id.AttemptID{}, dErrors.New(dErrors.CodeValidation, "attemptPath owner does not match uid")
	}
	attemptID, err := id.ParseAttemptID(parts[3])
	if err != nil {
		return id.AttemptID{}, dErrors.Wrap(err, dErrors.CodeValidation, "invalid attempt id in attemptPath")
	}
	return attemptID, nil
}

// mapDecision folds the provider's vocabulary onto attempt statuses. Unknown
// verdicts are rejections: the provider only calls back with a final answer.
func mapDecision(decision string) models.Status {
	switch decision {
	case "approved":
		return models.StatusApproved
	case "review_needed":
		return models.StatusPending
	default:
		return models.StatusRejected
	}
}

func (h *Handler) emit(ctx context.Context, event audit.Event) {
	if h.audit == nil {
		return
	}
	event.Timestamp = requestcontext.Now(ctx)
	event.Category = audit.CategoryFor(event.Action)
	if err := h.audit.Emit(ctx, event); err != nil {
		h.logger.WarnContext(ctx, "audit emit failed", "action", string(event.Action), "error", err)
	}
}
