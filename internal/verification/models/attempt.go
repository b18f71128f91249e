// Package models defines the verification attempt record and its state
// machine. The attempt store owns these records; they are never deleted.
package models

import (
	"time"

	id "verigate/pkg/domain"
	dErrors "verigate/pkg/domain-errors"
)

// ProviderTier identifies the verification strategy bound to an attempt.
type ProviderTier string

const (
	TierHeuristic        ProviderTier = "heuristic"
	TierDocumentAI       ProviderTier = "document_ai"
	TierPremiumBiometric ProviderTier = "premium_biometric"
	TierStaff            ProviderTier = "staff"
)

// Status is the single authoritative attempt state. All writers go through
// Transition; there are no ad-hoc status fields.
type Status string

const (
	StatusInProgress    Status = "in_progress"
	StatusPending       Status = "pending"
	StatusRetryRequired Status = "retry_required"
	StatusApproved      Status = "approved"
	StatusRejected      Status = "rejected"
)

// Terminal reports whether the status ends the attempt lifecycle.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// transitions lists the legal moves. Re-applying the current status is legal
// everywhere so webhook replays and merge-style updates stay idempotent.
var transitions = map[Status]map[Status]bool{
	StatusInProgress: {
		StatusPending:       true,
		StatusRetryRequired: true,
		StatusApproved:      true,
		StatusRejected:      true,
	},
	StatusPending: {
		StatusApproved:      true,
		StatusRejected:      true,
		StatusRetryRequired: true,
	},
	StatusRetryRequired: {
		// A scoped re-submission takes the attempt back to review.
		StatusPending:  true,
		StatusApproved: true,
		StatusRejected: true,
	},
	StatusApproved: {},
	StatusRejected: {},
}

// CanTransition reports whether from → to is a legal move.
func (s Status) CanTransition(to Status) bool {
	if s == to {
		return true
	}
	allowed, ok := transitions[s]
	if !ok {
		return false
	}
	return allowed[to]
}

// Transition validates a status change. Illegal moves (approved →
// in_progress and the like) are invariant violations.
func Transition(from, to Status) error {
	if !from.CanTransition(to) {
		return dErrors.New(dErrors.CodeInvariantViolation,
			"illegal attempt status transition: "+string(from)+" -> "+string(to))
	}
	return nil
}

// MachineReadableFlags records which machine-readable features were detected
// on the document back.
type MachineReadableFlags struct {
	QR     bool `json:"qr"`
	PDF417 bool `json:"pdf417"`
	MRZ    bool `json:"mrz"`
}

// Any reports whether at least one machine-readable feature was detected.
func (f MachineReadableFlags) Any() bool {
	return f.QR || f.PDF417 || f.MRZ
}

// ExtractedFields holds structured data pulled from the document, when the
// provider tier could extract any.
type ExtractedFields struct {
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	IDNumber  string `json:"id_number,omitempty"`
	BirthDate string `json:"birth_date,omitempty"`
}

// Component names an asset the user captured. Retry decisions reference
// components so a re-submission stays scoped.
type Component string

const (
	ComponentFront        Component = "front"
	ComponentBack         Component = "back"
	ComponentSelfie       Component = "selfie"
	ComponentLicenseFront Component = "license_front"
	ComponentLicenseBack  Component = "license_back"
)

// ParseComponent validates a component name.
func ParseComponent(raw string) (Component, error) {
	switch Component(raw) {
	case ComponentFront, ComponentBack, ComponentSelfie, ComponentLicenseFront, ComponentLicenseBack:
		return Component(raw), nil
	}
	return "", dErrors.New(dErrors.CodeValidation, "unknown component: "+raw)
}

// AssetReferences are opaque storage locators. Raw bytes never cross this
// service's boundary.
type AssetReferences struct {
	Front        string `json:"front,omitempty"`
	Back         string `json:"back,omitempty"`
	Selfie       string `json:"selfie,omitempty"`
	LicenseFront string `json:"license_front,omitempty"`
	LicenseBack  string `json:"license_back,omitempty"`
}

// DocumentCheck is the advisory verdict derived from automated analysis.
// It informs staff review; it never approves on its own.
type DocumentCheck struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

// ManualDecision records a staff reviewer's terminal call on an attempt.
type ManualDecision struct {
	Action     string    `json:"action"`
	Reason     string    `json:"reason,omitempty"`
	ReviewerID id.UserID `json:"reviewer_id"`
	DecidedAt  time.Time `json:"decided_at"`
}

// Attempt is one pass through identity verification for a user, bound to
// exactly one provider tier.
type Attempt struct {
	ID     id.AttemptID
	UserID id.UserID
	// Number is monotonically increasing per user, starting at 1.
	Number   int
	Provider ProviderTier
	Status   Status

	ConfidenceScore float64
	Extracted       ExtractedFields
	MachineReadable MachineReadableFlags

	SubmittedIDNumber string
	// DuplicateOfUserID flags a pre-existing registry owner at submission
	// time. Informational for staff; it does not gate the attempt.
	DuplicateOfUserID *id.UserID

	Assets        AssetReferences
	DocumentCheck *DocumentCheck

	PremiumScores      map[string]float64
	PremiumReferenceID string

	RequestedComponents []Component
	Manual              *ManualDecision

	// Conflict marks an approval that was blocked by the identity
	// uniqueness registry and forced back to pending.
	Conflict bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewAttempt constructs an in-progress attempt, validating invariants.
func NewAttempt(attemptID id.AttemptID, userID id.UserID, number int, provider ProviderTier, now time.Time) (*Attempt, error) {
	if attemptID.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "attempt id is required")
	}
	if userID.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "user id is required")
	}
	if number < 1 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "attempt number must start at 1")
	}
	return &Attempt{
		ID:        attemptID,
		UserID:    userID,
		Number:    number,
		Provider:  provider,
		Status:    StatusInProgress,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// SetStatus applies a validated status change and bumps UpdatedAt.
func (a *Attempt) SetStatus(to Status, now time.Time) error {
	if err := Transition(a.Status, to); err != nil {
		return err
	}
	a.Status = to
	a.UpdatedAt = now
	return nil
}
