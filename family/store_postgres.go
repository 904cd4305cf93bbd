package family

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema expected by PostgresStore. The used-jti ledger cascades with its
// family so the expiry sweep reclaims both.
const Schema = `
CREATE TABLE IF NOT EXISTS session_families (
    family_id          TEXT PRIMARY KEY,
    user_id            TEXT NOT NULL,
    device_hash        TEXT NOT NULL DEFAULT '',
    user_agent         TEXT NOT NULL DEFAULT '',
    ip_address         TEXT NOT NULL DEFAULT '',
    current_jti        TEXT NOT NULL DEFAULT '',
    refresh_token_hash TEXT NOT NULL DEFAULT '',
    revoked_at         TIMESTAMPTZ,
    revocation_reason  TEXT NOT NULL DEFAULT '',
    reused_jti_of      TEXT NOT NULL DEFAULT '',
    created_at         TIMESTAMPTZ NOT NULL,
    last_used          TIMESTAMPTZ NOT NULL,
    expires_at         TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS session_families_user_idx ON session_families (user_id);
CREATE INDEX IF NOT EXISTS session_families_expires_idx ON session_families (expires_at);

CREATE TABLE IF NOT EXISTS session_family_jtis (
    jti       TEXT PRIMARY KEY,
    family_id TEXT NOT NULL REFERENCES session_families (family_id) ON DELETE CASCADE,
    used_at   TIMESTAMPTZ NOT NULL
);
`

const pgUniqueViolation = "23505"

// PostgresStore implements [Store] on a pgx connection pool. Rotation runs
// as one transaction: ledger insert first (unique violation = reuse), then a
// compare-and-swap update of the family row.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed family store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema applies the documented DDL. Intended for tests and dev setups.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, fam Family) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO session_families (
			family_id, user_id, device_hash, user_agent, ip_address,
			current_jti, refresh_token_hash,
			revoked_at, revocation_reason, reused_jti_of,
			created_at, last_used, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NULL, '', '', $8, $9, $10)
	`, fam.FamilyID, fam.UserID, fam.DeviceHash, fam.UserAgent, fam.IPAddress,
		fam.CurrentJTI, fam.RefreshTokenHash,
		fam.CreatedAt, fam.LastUsed, fam.ExpiresAt)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if fam.CurrentJTI != "" {
		_, err = tx.Exec(ctx, `
			INSERT INTO session_family_jtis (jti, family_id, used_at)
			VALUES ($1, $2, $3)
		`, fam.CurrentJTI, fam.FamilyID, fam.CreatedAt)
		if isUniqueViolation(err) {
			return ErrJTIReused
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, familyID string) (Family, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT family_id, user_id, device_hash, user_agent, ip_address,
		       current_jti, refresh_token_hash,
		       revoked_at, revocation_reason, reused_jti_of,
		       created_at, last_used, expires_at
		FROM session_families
		WHERE family_id = $1
	`, familyID)

	fam, err := scanFamily(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Family{}, ErrFamilyNotFound
	}
	if err != nil {
		return Family{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return fam, nil
}

func (s *PostgresStore) Rotate(ctx context.Context, familyID, expectedJTI, newJTI, newTokenHash string, now time.Time) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer tx.Rollback(ctx)

	// Ledger first: a unique violation is the cross-family reuse signal and
	// rolls back without touching the family row.
	_, err = tx.Exec(ctx, `
		INSERT INTO session_family_jtis (jti, family_id, used_at)
		VALUES ($1, $2, $3)
	`, newJTI, familyID, now)
	if isUniqueViolation(err) {
		return ErrJTIReused
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	// CAS swap: conditional on the expected prior jti so a writer with an
	// expired rotation lease fails here instead of corrupting state.
	tag, err := tx.Exec(ctx, `
		UPDATE session_families
		SET current_jti = $3, refresh_token_hash = $4, last_used = $5
		WHERE family_id = $1 AND current_jti = $2 AND revoked_at IS NULL
	`, familyID, expectedJTI, newJTI, newTokenHash, now)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return s.classifyRotateMiss(ctx, tx, familyID)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// classifyRotateMiss distinguishes a dead/missing family from a CAS miss.
// Runs on the same transaction; the caller's deferred rollback discards the
// ledger insert either way.
func (s *PostgresStore) classifyRotateMiss(ctx context.Context, tx pgx.Tx, familyID string) error {
	var revokedAt *time.Time
	err := tx.QueryRow(ctx, `
		SELECT revoked_at FROM session_families WHERE family_id = $1
	`, familyID).Scan(&revokedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrFamilyNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if revokedAt != nil {
		return ErrFamilyNotFound
	}
	return ErrStaleRotation
}

func (s *PostgresStore) Revoke(ctx context.Context, familyID, reason, reusedJTIOf string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE session_families
		SET revoked_at = COALESCE(revoked_at, $2),
		    revocation_reason = CASE WHEN revoked_at IS NULL THEN $3 ELSE revocation_reason END,
		    reused_jti_of = CASE WHEN revoked_at IS NULL THEN $4 ELSE reused_jti_of END
		WHERE family_id = $1
	`, familyID, at, reason, reusedJTIOf)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrFamilyNotFound
	}
	return nil
}

func (s *PostgresStore) RevokeAllForUser(ctx context.Context, userID, exceptFamilyID, reason string, at time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE session_families
		SET revoked_at = $2, revocation_reason = $3
		WHERE user_id = $1 AND revoked_at IS NULL AND family_id <> $4
	`, userID, at, reason, exceptFamilyID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string) ([]Family, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT family_id, user_id, device_hash, user_agent, ip_address,
		       current_jti, refresh_token_hash,
		       revoked_at, revocation_reason, reused_jti_of,
		       created_at, last_used, expires_at
		FROM session_families
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var families []Family
	for rows.Next() {
		fam, err := scanFamily(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		families = append(families, fam)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return families, nil
}

func (s *PostgresStore) LookupJTI(ctx context.Context, jti string) (string, error) {
	var familyID string
	err := s.pool.QueryRow(ctx, `
		SELECT family_id FROM session_family_jtis WHERE jti = $1
	`, jti).Scan(&familyID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return familyID, nil
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM session_families WHERE expires_at < $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func scanFamily(row pgx.Row) (Family, error) {
	var fam Family
	err := row.Scan(
		&fam.FamilyID,
		&fam.UserID,
		&fam.DeviceHash,
		&fam.UserAgent,
		&fam.IPAddress,
		&fam.CurrentJTI,
		&fam.RefreshTokenHash,
		&fam.RevokedAt,
		&fam.RevocationReason,
		&fam.ReusedJTIOf,
		&fam.CreatedAt,
		&fam.LastUsed,
		&fam.ExpiresAt,
	)
	if err != nil {
		return Family{}, err
	}
	return fam, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
