package providers

import "errors"

// Provider failures are recovered by the orchestrator: the attempt degrades
// to manual review instead of failing the user's request.
var (
	// ErrUnavailable indicates the provider could not be reached or timed out.
	ErrUnavailable = errors.New("provider unavailable")

	// ErrMalformedResponse indicates the provider answered with a payload
	// that does not match its documented shape.
	ErrMalformedResponse = errors.New("malformed provider response")

	// ErrNotConfigured indicates the tier has no endpoint configured.
	ErrNotConfigured = errors.New("provider not configured")
)
