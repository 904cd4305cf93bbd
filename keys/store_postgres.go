package keys

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema expected by PostgresStore. Migration tooling belongs to the
// embedding application; the DDL is documented here as the contract.
const Schema = `
CREATE TABLE IF NOT EXISTS signing_keys (
    key_id            TEXT PRIMARY KEY,
    algorithm         TEXT NOT NULL,
    private_material  BYTEA NOT NULL,
    public_material   BYTEA NOT NULL,
    status            TEXT NOT NULL,
    created_at        TIMESTAMPTZ NOT NULL,
    retired_at        TIMESTAMPTZ,
    revoked_at        TIMESTAMPTZ,
    revocation_reason TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS signing_key_current (
    singleton  BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (singleton),
    key_id     TEXT NOT NULL REFERENCES signing_keys (key_id),
    updated_at TIMESTAMPTZ NOT NULL
);
`

// PostgresStore implements [Store] on a pgx connection pool.
//
// The current-key pointer lives in signing_key_current, a single-row table
// updated inside the same transaction as the record write so the pointer can
// never reference a missing record.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed key store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema applies the documented DDL. Intended for tests and dev setups;
// production deployments run migrations out of band.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("%w: %v", ErrKeyStoreUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) Insert(ctx context.Context, rec Record, makeCurrent bool) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeyStoreUnavailable, err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO signing_keys (
			key_id, algorithm, private_material, public_material,
			status, created_at, retired_at, revoked_at, revocation_reason
		) VALUES ($1, $2, $3, $4, $5, $6, NULL, NULL, '')
	`, rec.KeyID, string(rec.Algorithm), rec.PrivateMaterial, rec.PublicMaterial,
		string(rec.Status), rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeyStoreUnavailable, err)
	}

	if makeCurrent {
		_, err = tx.Exec(ctx, `
			UPDATE signing_keys
			SET status = $1, retired_at = $2
			WHERE status = $3 AND key_id <> $4
		`, string(StatusRetired), rec.CreatedAt, string(StatusActive), rec.KeyID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrKeyStoreUnavailable, err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO signing_key_current (singleton, key_id, updated_at)
			VALUES (TRUE, $1, $2)
			ON CONFLICT (singleton) DO UPDATE
			SET key_id = EXCLUDED.key_id, updated_at = EXCLUDED.updated_at
		`, rec.KeyID, rec.CreatedAt)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrKeyStoreUnavailable, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrKeyStoreUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) GetCurrent(ctx context.Context) (Record, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT k.key_id, k.algorithm, k.private_material, k.public_material,
		       k.status, k.created_at, k.retired_at, k.revoked_at, k.revocation_reason
		FROM signing_key_current c
		JOIN signing_keys k ON k.key_id = c.key_id
		WHERE k.status = $1
	`, string(StatusActive))

	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNoCurrentKey
	}
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrKeyStoreUnavailable, err)
	}
	return rec, nil
}

func (s *PostgresStore) Get(ctx context.Context, keyID string) (Record, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT key_id, algorithm, private_material, public_material,
		       status, created_at, retired_at, revoked_at, revocation_reason
		FROM signing_keys
		WHERE key_id = $1
	`, keyID)

	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrKeyNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrKeyStoreUnavailable, err)
	}
	return rec, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT key_id, algorithm, private_material, public_material,
		       status, created_at, retired_at, revoked_at, revocation_reason
		FROM signing_keys
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyStoreUnavailable, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrKeyStoreUnavailable, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyStoreUnavailable, err)
	}
	return records, nil
}

func (s *PostgresStore) MarkRevoked(ctx context.Context, keyID, reason string, at time.Time) (bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrKeyStoreUnavailable, err)
	}
	defer tx.Rollback(ctx)

	var prevStatus string
	err = tx.QueryRow(ctx, `
		SELECT status FROM signing_keys WHERE key_id = $1 FOR UPDATE
	`, keyID).Scan(&prevStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrKeyNotFound
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrKeyStoreUnavailable, err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE signing_keys
		SET status = $2, revoked_at = $3, revocation_reason = $4
		WHERE key_id = $1
	`, keyID, string(StatusRevoked), at, reason)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrKeyStoreUnavailable, err)
	}

	wasCurrent := prevStatus == string(StatusActive)
	if wasCurrent {
		if _, err := tx.Exec(ctx, `DELETE FROM signing_key_current WHERE key_id = $1`, keyID); err != nil {
			return false, fmt.Errorf("%w: %v", ErrKeyStoreUnavailable, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("%w: %v", ErrKeyStoreUnavailable, err)
	}
	return wasCurrent, nil
}

func (s *PostgresStore) DeleteRetiredBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM signing_keys
		WHERE status = $1 AND created_at < $2
	`, string(StatusRetired), cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrKeyStoreUnavailable, err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrKeyStoreUnavailable, err)
	}
	return nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec    Record
		alg    string
		status string
	)
	err := row.Scan(
		&rec.KeyID,
		&alg,
		&rec.PrivateMaterial,
		&rec.PublicMaterial,
		&status,
		&rec.CreatedAt,
		&rec.RetiredAt,
		&rec.RevokedAt,
		&rec.RevocationReason,
	)
	if err != nil {
		return Record{}, err
	}
	rec.Algorithm = Algorithm(alg)
	rec.Status = Status(status)
	return rec, nil
}
