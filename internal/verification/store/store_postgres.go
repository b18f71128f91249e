package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"verigate/internal/verification/models"
	id "verigate/pkg/domain"
	"verigate/pkg/platform/sentinel"
	"verigate/pkg/platform/tx"
)

// PostgresAttemptStore persists attempts in the verification_attempts table.
// Uniqueness (one in-progress attempt per user, one row per (user, number))
// is enforced by the schema, so concurrent creates race safely.
type PostgresAttemptStore struct {
	db *sql.DB
}

func NewPostgresAttemptStore(db *sql.DB) *PostgresAttemptStore {
	return &PostgresAttemptStore{db: db}
}

const attemptColumns = `
	attempt_id, user_id, attempt_number, provider, status, confidence_score,
	extracted_first_name, extracted_last_name, extracted_id_number, extracted_birth_date,
	flag_qr, flag_pdf417, flag_mrz,
	submitted_id_number, duplicate_of_user_id,
	asset_front, asset_back, asset_selfie, asset_license_front, asset_license_back,
	doc_check_success, doc_check_reason,
	premium_scores, premium_reference_id, requested_components,
	manual_action, manual_reason, manual_reviewer_id, manual_decided_at,
	conflict_flag, created_at, updated_at`

func (s *PostgresAttemptStore) Create(ctx context.Context, attempt *models.Attempt) error {
	q := tx.QuerierFrom(ctx, s.db)
	args, err := attemptArgs(attempt)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO verification_attempts (`+attemptColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
		        $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28,
		        $29, $30, $31, $32)`,
		args...,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create attempt: %w", err)
	}
	return nil
}

func (s *PostgresAttemptStore) Update(ctx context.Context, attempt *models.Attempt) error {
	q := tx.QuerierFrom(ctx, s.db)
	args, err := attemptArgs(attempt)
	if err != nil {
		return err
	}
	result, err := q.ExecContext(ctx, `
		UPDATE verification_attempts SET
			user_id = $2, attempt_number = $3, provider = $4, status = $5,
			confidence_score = $6,
			extracted_first_name = $7, extracted_last_name = $8,
			extracted_id_number = $9, extracted_birth_date = $10,
			flag_qr = $11, flag_pdf417 = $12, flag_mrz = $13,
			submitted_id_number = $14, duplicate_of_user_id = $15,
			asset_front = $16, asset_back = $17, asset_selfie = $18,
			asset_license_front = $19, asset_license_back = $20,
			doc_check_success = $21, doc_check_reason = $22,
			premium_scores = $23, premium_reference_id = $24,
			requested_components = $25,
			manual_action = $26, manual_reason = $27,
			manual_reviewer_id = $28, manual_decided_at = $29,
			conflict_flag = $30, created_at = $31, updated_at = $32
		WHERE attempt_id = $1`,
		args...,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("update attempt: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update attempt: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresAttemptStore) GetByID(ctx context.Context, attemptID id.AttemptID) (*models.Attempt, error) {
	q := tx.QuerierFrom(ctx, s.db)
	row := q.QueryRowContext(ctx,
		`SELECT `+attemptColumns+` FROM verification_attempts WHERE attempt_id = $1`,
		attemptID.String(),
	)
	return scanAttempt(row)
}

func (s *PostgresAttemptStore) FindInProgress(ctx context.Context, userID id.UserID) (*models.Attempt, error) {
	q := tx.QuerierFrom(ctx, s.db)
	row := q.QueryRowContext(ctx,
		`SELECT `+attemptColumns+` FROM verification_attempts
		 WHERE user_id = $1 AND status = $2`,
		userID.String(), string(models.StatusInProgress),
	)
	return scanAttempt(row)
}

func (s *PostgresAttemptStore) FindLatest(ctx context.Context, userID id.UserID) (*models.Attempt, error) {
	q := tx.QuerierFrom(ctx, s.db)
	row := q.QueryRowContext(ctx,
		`SELECT `+attemptColumns+` FROM verification_attempts
		 WHERE user_id = $1 ORDER BY attempt_number DESC LIMIT 1`,
		userID.String(),
	)
	return scanAttempt(row)
}

func (s *PostgresAttemptStore) NextNumber(ctx context.Context, userID id.UserID) (int, error) {
	q := tx.QuerierFrom(ctx, s.db)
	var next int
	err := q.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(attempt_number), 0) + 1
		 FROM verification_attempts WHERE user_id = $1`,
		userID.String(),
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next attempt number: %w", err)
	}
	return next, nil
}

func attemptArgs(attempt *models.Attempt) ([]any, error) {
	var premiumScores any
	if attempt.PremiumScores != nil {
		raw, err := json.Marshal(attempt.PremiumScores)
		if err != nil {
			return nil, fmt.Errorf("encode premium scores: %w", err)
		}
		premiumScores = raw
	}

	var duplicateOf any
	if attempt.DuplicateOfUserID != nil {
		duplicateOf = attempt.DuplicateOfUserID.String()
	}

	var docCheckSuccess, docCheckReason any
	if attempt.DocumentCheck != nil {
		docCheckSuccess = attempt.DocumentCheck.Success
		docCheckReason = attempt.DocumentCheck.Reason
	}

	var manualAction, manualReason, manualReviewer, manualDecidedAt any
	if attempt.Manual != nil {
		manualAction = attempt.Manual.Action
		manualReason = attempt.Manual.Reason
		manualReviewer = attempt.Manual.ReviewerID.String()
		manualDecidedAt = attempt.Manual.DecidedAt
	}

	components := make([]string, 0, len(attempt.RequestedComponents))
	for _, c := range attempt.RequestedComponents {
		components = append(components, string(c))
	}

	return []any{
		attempt.ID.String(),
		attempt.UserID.String(),
		attempt.Number,
		string(attempt.Provider),
		string(attempt.Status),
		attempt.ConfidenceScore,
		nullable(attempt.Extracted.FirstName),
		nullable(attempt.Extracted.LastName),
		nullable(attempt.Extracted.IDNumber),
		nullable(attempt.Extracted.BirthDate),
		attempt.MachineReadable.QR,
		attempt.MachineReadable.PDF417,
		attempt.MachineReadable.MRZ,
		nullable(attempt.SubmittedIDNumber),
		duplicateOf,
		nullable(attempt.Assets.Front),
		nullable(attempt.Assets.Back),
		nullable(attempt.Assets.Selfie),
		nullable(attempt.Assets.LicenseFront),
		nullable(attempt.Assets.LicenseBack),
		docCheckSuccess,
		docCheckReason,
		premiumScores,
		nullable(attempt.PremiumReferenceID),
		pq.Array(components),
		manualAction,
		manualReason,
		manualReviewer,
		manualDecidedAt,
		attempt.Conflict,
		attempt.CreatedAt,
		attempt.UpdatedAt,
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row rowScanner) (*models.Attempt, error) {
	var (
		attempt models.Attempt

		rawAttemptID string
		rawUserID    string
		provider     string
		status       string

		firstName, lastName, idNumber, birthDate sql.NullString
		submittedID                              sql.NullString
		duplicateOf                              sql.NullString

		assetFront, assetBack, assetSelfie     sql.NullString
		assetLicenseFront, assetLicenseBack    sql.NullString
		docCheckSuccess                        sql.NullBool
		docCheckReason                         sql.NullString
		premiumScores                          []byte
		premiumReference                       sql.NullString
		components                             []string
		manualAction, manualReason, manualRevr sql.NullString
		manualDecidedAt                        sql.NullTime
	)

	err := row.Scan(
		&rawAttemptID, &rawUserID, &attempt.Number, &provider, &status,
		&attempt.ConfidenceScore,
		&firstName, &lastName, &idNumber, &birthDate,
		&attempt.MachineReadable.QR, &attempt.MachineReadable.PDF417, &attempt.MachineReadable.MRZ,
		&submittedID, &duplicateOf,
		&assetFront, &assetBack, &assetSelfie, &assetLicenseFront, &assetLicenseBack,
		&docCheckSuccess, &docCheckReason,
		&premiumScores, &premiumReference, pq.Array(&components),
		&manualAction, &manualReason, &manualRevr, &manualDecidedAt,
		&attempt.Conflict, &attempt.CreatedAt, &attempt.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan attempt: %w", err)
	}

	attemptID, err := id.ParseAttemptID(rawAttemptID)
	if err != nil {
		return nil, fmt.Errorf("attempt row id: %w", err)
	}
	userID, err := id.ParseUserID(rawUserID)
	if err != nil {
		return nil, fmt.Errorf("attempt row user: %w", err)
	}
	attempt.ID = attemptID
	attempt.UserID = userID
	attempt.Provider = models.ProviderTier(provider)
	attempt.Status = models.Status(status)
	attempt.Extracted = models.ExtractedFields{
		FirstName: firstName.String,
		LastName:  lastName.String,
		IDNumber:  idNumber.String,
		BirthDate: birthDate.String,
	}
	attempt.SubmittedIDNumber = submittedID.String
	attempt.Assets = models.AssetReferences{
		Front:        assetFront.String,
		Back:         assetBack.String,
		Selfie:       assetSelfie.String,
		LicenseFront: assetLicenseFront.String,
		LicenseBack:  assetLicenseBack.String,
	}
	attempt.PremiumReferenceID = premiumReference.String

	if duplicateOf.Valid {
		dup, err := id.ParseUserID(duplicateOf.String)
		if err != nil {
			return nil, fmt.Errorf("attempt row duplicate owner: %w", err)
		}
		attempt.DuplicateOfUserID = &dup
	}
	if docCheckSuccess.Valid {
		attempt.DocumentCheck = &models.DocumentCheck{
			Success: docCheckSuccess.Bool,
			Reason:  docCheckReason.String,
		}
	}
	if len(premiumScores) > 0 {
		if err := json.Unmarshal(premiumScores, &attempt.PremiumScores); err != nil {
			return nil, fmt.Errorf("decode premium scores: %w", err)
		}
	}
	for _, c := range components {
		attempt.RequestedComponents = append(attempt.RequestedComponents, models.Component(c))
	}
	if manualAction.Valid {
		reviewer, err := id.ParseUserID(manualRevr.String)
		if err != nil {
			return nil, fmt.Errorf("attempt row reviewer: %w", err)
		}
		attempt.Manual = &models.ManualDecision{
			Action:     manualAction.String,
			Reason:     manualReason.String,
			ReviewerID: reviewer,
			DecidedAt:  manualDecidedAt.Time,
		}
	}
	return &attempt, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// PostgresProfileStore persists the per-user verification summary.
type PostgresProfileStore struct {
	db *sql.DB
}

func NewPostgresProfileStore(db *sql.DB) *PostgresProfileStore {
	return &PostgresProfileStore{db: db}
}

func (s *PostgresProfileStore) Get(ctx context.Context, userID id.UserID) (*models.Profile, error) {
	q := tx.QuerierFrom(ctx, s.db)
	var (
		profile models.Profile
		state   string
		status  string
	)
	err := q.QueryRowContext(ctx, `
		SELECT profile_state, verification_status, updated_at
		FROM user_profiles WHERE user_id = $1`,
		userID.String(),
	).Scan(&state, &status, &profile.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}
	profile.UserID = userID
	profile.State = models.ProfileState(state)
	profile.VerificationStatus = models.VerificationStatus(status)
	return &profile, nil
}

func (s *PostgresProfileStore) SetState(ctx context.Context, userID id.UserID, state models.ProfileState) error {
	q := tx.QuerierFrom(ctx, s.db)
	_, err := q.ExecContext(ctx, `
		INSERT INTO user_profiles (user_id, profile_state, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			profile_state = EXCLUDED.profile_state,
			updated_at = NOW()`,
		userID.String(), string(state),
	)
	if err != nil {
		return fmt.Errorf("set profile state: %w", err)
	}
	return nil
}

func (s *PostgresProfileStore) SetVerificationStatus(ctx context.Context, userID id.UserID, status models.VerificationStatus) error {
	q := tx.QuerierFrom(ctx, s.db)
	_, err := q.ExecContext(ctx, `
		INSERT INTO user_profiles (user_id, verification_status, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			verification_status = EXCLUDED.verification_status,
			updated_at = NOW()`,
		userID.String(), string(status),
	)
	if err != nil {
		return fmt.Errorf("set verification status: %w", err)
	}
	return nil
}
