// Package policy decides which verification tier handles a given attempt.
// This is pure domain logic - no I/O, no side effects.
package policy

import "verigate/internal/verification/models"

// TierFor maps an attempt number to the provider tier that handles it.
// Cost and rigor escalate only after cheaper tiers fail, and every user ends
// up with a human-reviewable path:
//
//	attempt 1  -> heuristic (fast, client-assisted consistency check)
//	attempt 2  -> document AI (OCR + barcode/MRZ vision analysis)
//	attempt 3  -> premium biometric (asynchronous webhook-driven face match)
//	attempt 4+ -> staff (manual-only, no automated scoring)
func TierFor(attemptNumber int) models.ProviderTier {
	switch attemptNumber {
	case 1:
		return models.TierHeuristic
	case 2:
		return models.TierDocumentAI
	case 3:
		return models.TierPremiumBiometric
	default:
		return models.TierStaff
	}
}
