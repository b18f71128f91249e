package models

import (
	"time"

	id "verigate/pkg/domain"
)

// ProfileState is the user-facing verification progress indicator owned by
// the surrounding application's profile store. This core only flips it at
// decision points.
type ProfileState string

const (
	ProfilePendingAttempt1 ProfileState = "pending_attempt1"
	ProfilePendingAttempt2 ProfileState = "pending_attempt2"
	ProfilePendingSelfie   ProfileState = "pending_selfie"
	ProfilePendingReview   ProfileState = "pending_review"
	ProfileValidated       ProfileState = "validated"
	ProfileRejected        ProfileState = "rejected"
)

// VerificationStatus is the account-level verification outcome.
type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationVerified VerificationStatus = "verified"
	VerificationBanned   VerificationStatus = "banned"
)

// Profile is the per-user verification summary the decision points keep in
// step with the attempt record.
type Profile struct {
	UserID             id.UserID
	State              ProfileState
	VerificationStatus VerificationStatus
	UpdatedAt          time.Time
}
