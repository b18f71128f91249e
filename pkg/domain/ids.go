// Package domain defines typed identifiers shared across the service.
//
// IDs are distinct named types over uuid.UUID so the compiler rejects
// cross-type assignment (an AttemptID can never be passed where a UserID is
// expected). Parse functions enforce the trust-boundary invariant: IDs must
// be valid, non-empty, non-nil UUIDs.
package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "verigate/pkg/domain-errors"
)

// UserID identifies an account in the surrounding application.
type UserID uuid.UUID

// AttemptID identifies a single verification attempt.
type AttemptID uuid.UUID

func (id UserID) String() string    { return uuid.UUID(id).String() }
func (id AttemptID) String() string { return uuid.UUID(id).String() }

// IsZero reports whether the ID is the nil UUID.
func (id UserID) IsZero() bool    { return uuid.UUID(id) == uuid.Nil }
func (id AttemptID) IsZero() bool { return uuid.UUID(id) == uuid.Nil }

// NewAttemptID allocates a fresh attempt identifier.
func NewAttemptID() AttemptID { return AttemptID(uuid.New()) }

// ParseUserID parses and validates a user ID string.
func ParseUserID(raw string) (UserID, error) {
	u, err := parseUUID(raw, "user_id")
	return UserID(u), err
}

// ParseAttemptID parses and validates an attempt ID string.
func ParseAttemptID(raw string) (AttemptID, error) {
	u, err := parseUUID(raw, "attempt_id")
	return AttemptID(u), err
}

func parseUUID(raw, field string) (uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, field+" is required")
	}
	u, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, field+" must be a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, field+" must not be the nil UUID")
	}
	return u, nil
}

// NationalID is a normalized government ID number (digits only, no
// separators). It is a value object, not a UUID: the registry keys on it.
type NationalID string

func (n NationalID) String() string { return string(n) }

// ParseNationalID normalizes and validates a government ID number.
// Accepts 7-10 digits with optional dot/space/dash separators.
func ParseNationalID(raw string) (NationalID, error) {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == ' ':
			// separator, dropped during normalization
		default:
			return "", dErrors.New(dErrors.CodeInvalidInput, "national id contains invalid characters")
		}
	}
	normalized := b.String()
	if len(normalized) < 7 || len(normalized) > 10 {
		return "", dErrors.New(dErrors.CodeInvalidInput, "national id must be 7-10 digits")
	}
	return NationalID(normalized), nil
}
