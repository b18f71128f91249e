// Package registry owns the identity-uniqueness ledger: at most one account
// may hold a verified claim over a given national ID number. The verification
// orchestrator consults it before approving and claims entries inside the
// approval transaction.
package registry

import (
	"time"

	"verigate/internal/verification/models"
	id "verigate/pkg/domain"
)

// Entry is one row of the uniqueness ledger. The national ID is the key;
// the owner is the account that last claimed it.
type Entry struct {
	NationalID         id.NationalID
	OwnerUserID        id.UserID
	VerificationStatus models.VerificationStatus
	Provider           models.ProviderTier
	ConfidenceScore    float64
	ReferenceID        string
	UpdatedAt          time.Time
}

// Conflict is the verdict of a uniqueness check.
//
// A registered entry only blocks when its owner is a different account whose
// claim is settled (verified or banned). A pending claim by another account
// does not block: the first approval wins the ID, not the first attempt.
type Conflict struct {
	Conflict    bool
	OwnerUserID id.UserID
	Status      models.VerificationStatus
}
