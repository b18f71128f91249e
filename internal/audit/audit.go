// Package audit captures key verification actions as transport-agnostic
// events. Attempts are never deleted, but the attempt store alone does not
// answer "who decided what, when" across users; the audit stream does.
package audit

import (
	"time"

	id "verigate/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategoryCompliance covers events with legal/regulatory significance.
	// These require tamper-proof storage and long retention.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers events relevant to security monitoring and forensics.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers events useful for debugging and operational visibility.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so sinks can fan out.
type Event struct {
	Category  EventCategory `json:"category"`
	Timestamp time.Time     `json:"timestamp"`
	UserID    id.UserID     `json:"user_id"`
	Action    AuditEvent    `json:"action"`
	AttemptID string        `json:"attempt_id,omitempty"`
	Provider  string        `json:"provider,omitempty"`
	Decision  string        `json:"decision,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
	// ActorID tracks who performed the action when different from UserID
	// (reviewer decisions, webhook callbacks).
	ActorID string `json:"actor_id,omitempty"`
}

type AuditEvent string

const (
	EventAttemptStarted      AuditEvent = "attempt_started"
	EventAttemptResumed      AuditEvent = "attempt_resumed"
	EventAttemptSubmitted    AuditEvent = "attempt_submitted"
	EventAttemptApproved     AuditEvent = "attempt_approved"
	EventAttemptRejected     AuditEvent = "attempt_rejected"
	EventRetryRequested      AuditEvent = "retry_requested"
	EventProviderDegraded    AuditEvent = "provider_degraded"
	EventWebhookAccepted     AuditEvent = "webhook_accepted"
	EventWebhookRejected     AuditEvent = "webhook_rejected"
	EventConflictDetected    AuditEvent = "conflict_detected"
	EventRegistryClaimed     AuditEvent = "registry_claimed"
	EventUniquenessPreflight AuditEvent = "uniqueness_preflight"
)

// eventCategories maps each audit event to its category.
var eventCategories = map[AuditEvent]EventCategory{
	EventAttemptStarted:      CategoryOperations,
	EventAttemptResumed:      CategoryOperations,
	EventAttemptSubmitted:    CategoryCompliance,
	EventAttemptApproved:     CategoryCompliance,
	EventAttemptRejected:     CategoryCompliance,
	EventRetryRequested:      CategoryOperations,
	EventProviderDegraded:    CategoryOperations,
	EventWebhookAccepted:     CategorySecurity,
	EventWebhookRejected:     CategorySecurity,
	EventConflictDetected:    CategoryCompliance,
	EventRegistryClaimed:     CategoryCompliance,
	EventUniquenessPreflight: CategoryOperations,
}

// CategoryFor returns the category for an event, defaulting to operations.
func CategoryFor(event AuditEvent) EventCategory {
	if c, ok := eventCategories[event]; ok {
		return c
	}
	return CategoryOperations
}
