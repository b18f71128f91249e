package registry

import (
	"context"

	id "verigate/pkg/domain"
)

// Store persists uniqueness ledger entries. Find returns
// sentinel.ErrNotFound when the national ID has never been claimed.
// Implementations must honor a transaction carried in the context so a claim
// can commit atomically with the attempt it belongs to.
type Store interface {
	Find(ctx context.Context, nationalID id.NationalID) (*Entry, error)
	Upsert(ctx context.Context, entry Entry) error
}
