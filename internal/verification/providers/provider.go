// Package providers defines the port to external verification providers and
// the boundary types their payloads are parsed into. Loosely-shaped provider
// output is validated here once, not defensively at every use site.
package providers

import (
	"context"

	"verigate/internal/verification/models"
	id "verigate/pkg/domain"
)

// Request carries everything a provider invocation needs. Assets are opaque
// storage locators; providers download what they need themselves.
type Request struct {
	UserID            id.UserID
	AttemptID         id.AttemptID
	Assets            models.AssetReferences
	SubmittedIDNumber string
	CountryISO2       string
}

// ConsistencyVerdict is the heuristic tier's output: a coarse pass/fail with
// a user-displayable reason.
type ConsistencyVerdict struct {
	Success bool
	Reason  string
}

// OCREntityProperty is a sub-field of a structured OCR entity.
type OCREntityProperty struct {
	Type        string
	MentionText string
}

// OCREntity is one structured field the OCR provider recognized.
type OCREntity struct {
	Type        string
	Confidence  float64
	MentionText string
	Properties  []OCREntityProperty
}

// OCRResult is the parsed output of the document AI tier.
type OCRResult struct {
	FullText string
	Entities []OCREntity
}

// Result is the tagged union of per-tier provider output. Exactly one of the
// payload fields is set, matching the tier that produced it.
type Result struct {
	// Async marks tiers whose verdict arrives later via webhook. An async
	// result carries no signals.
	Async bool

	Consistency     *ConsistencyVerdict
	OCR             *OCRResult
	MachineReadable models.MachineReadableFlags
}

// Provider invokes one verification tier. Implementations must honor the
// context deadline and must not hold any store locks while blocked.
type Provider interface {
	Tier() models.ProviderTier
	Analyze(ctx context.Context, req Request) (*Result, error)
}
