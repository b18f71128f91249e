package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"verigate/internal/verification/models"
	id "verigate/pkg/domain"
	"verigate/pkg/platform/sentinel"
	"verigate/pkg/platform/tx"
)

// PostgresStore persists the uniqueness ledger in PostgreSQL. Queries run
// against the transaction in context when one is present, so registry claims
// commit atomically with the attempt decision.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Find(ctx context.Context, nationalID id.NationalID) (*Entry, error) {
	q := tx.QuerierFrom(ctx, s.db)
	row := q.QueryRowContext(ctx, `
		SELECT national_id, owner_user_id, verification_status, provider,
		       confidence_score, reference_id, updated_at
		FROM identity_registry
		WHERE national_id = $1`,
		nationalID.String(),
	)

	var (
		entry    Entry
		rawNID   string
		rawOwner string
		status   string
		provider string
	)
	err := row.Scan(&rawNID, &rawOwner, &status, &provider,
		&entry.ConfidenceScore, &entry.ReferenceID, &entry.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find registry entry: %w", err)
	}

	owner, err := id.ParseUserID(rawOwner)
	if err != nil {
		return nil, fmt.Errorf("registry entry owner: %w", err)
	}
	entry.NationalID = id.NationalID(rawNID)
	entry.OwnerUserID = owner
	entry.VerificationStatus = models.VerificationStatus(status)
	entry.Provider = models.ProviderTier(provider)
	return &entry, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, entry Entry) error {
	q := tx.QuerierFrom(ctx, s.db)
	_, err := q.ExecContext(ctx, `
		INSERT INTO identity_registry (
			national_id, owner_user_id, verification_status, provider,
			confidence_score, reference_id, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (national_id) DO UPDATE SET
			owner_user_id = EXCLUDED.owner_user_id,
			verification_status = EXCLUDED.verification_status,
			provider = EXCLUDED.provider,
			confidence_score = EXCLUDED.confidence_score,
			reference_id = EXCLUDED.reference_id,
			updated_at = NOW()`,
		entry.NationalID.String(),
		entry.OwnerUserID.String(),
		string(entry.VerificationStatus),
		string(entry.Provider),
		entry.ConfidenceScore,
		entry.ReferenceID,
	)
	if err != nil {
		return fmt.Errorf("upsert registry entry: %w", err)
	}
	return nil
}
