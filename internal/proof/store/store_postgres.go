package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"sigillum/internal/proof/models"
	"sigillum/pkg/domain"
	dErrors "sigillum/pkg/domain-errors"
	"sigillum/pkg/platform/sentinel"
)

// PostgresStore persists proof records in PostgreSQL.
//
// Upsert relies on INSERT ... ON CONFLICT with COALESCE merge so partial
// updates from concurrent attempts converge at the database rather than in
// application code. Expected schema:
//
//	CREATE TABLE proof_records (
//	    registration_key TEXT PRIMARY KEY,
//	    digest           TEXT NOT NULL,
//	    owner_address    TEXT NOT NULL,
//	    storage_locator  TEXT NOT NULL DEFAULT '',
//	    storage_verified BOOLEAN NOT NULL DEFAULT FALSE,
//	    title            TEXT NOT NULL,
//	    category         TEXT NOT NULL DEFAULT '',
//	    description      TEXT NOT NULL DEFAULT '',
//	    visibility       TEXT NOT NULL DEFAULT 'private',
//	    tx_hash          TEXT,
//	    created_at       TIMESTAMPTZ NOT NULL,
//	    updated_at       TIMESTAMPTZ NOT NULL
//	);
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Upsert(ctx context.Context, key domain.RegistrationKey, fields models.RecordFields) (*models.ProofRecord, error) {
	if err := validateFields(fields); err != nil {
		return nil, err
	}

	now := time.Now()
	const q = `
		INSERT INTO proof_records (
			registration_key, digest, owner_address, storage_locator,
			storage_verified, title, category, description, visibility,
			tx_hash, created_at, updated_at
		) VALUES (
			$1, COALESCE($2, ''), COALESCE($3, ''), COALESCE($4, ''),
			COALESCE($5, FALSE), COALESCE($6, ''), COALESCE($7, ''),
			COALESCE($8, ''), COALESCE($9, 'private'), $10, $11, $11
		)
		ON CONFLICT (registration_key) DO UPDATE SET
			digest           = COALESCE($2, proof_records.digest),
			owner_address    = COALESCE($3, proof_records.owner_address),
			storage_locator  = COALESCE($4, proof_records.storage_locator),
			storage_verified = COALESCE($5, proof_records.storage_verified),
			title            = COALESCE($6, proof_records.title),
			category         = COALESCE($7, proof_records.category),
			description      = COALESCE($8, proof_records.description),
			visibility       = COALESCE($9, proof_records.visibility),
			tx_hash          = COALESCE($10, proof_records.tx_hash),
			updated_at       = $11
		RETURNING registration_key, digest, owner_address, storage_locator,
			storage_verified, title, category, description, visibility,
			COALESCE(tx_hash, ''), created_at, updated_at`

	var title, category, description, visibility *string
	if m := fields.Metadata; m != nil {
		title = &m.Title
		category = &m.Category
		description = &m.Description
		vis := string(m.Visibility)
		visibility = &vis
	}

	row := s.db.QueryRowContext(ctx, q,
		key.String(),
		nullableString(digestPtr(fields.Digest)),
		nullableString(ownerPtr(fields.Owner)),
		nullableString(fields.StorageLocator),
		nullableBool(fields.StorageVerified),
		nullableString(title),
		nullableString(category),
		nullableString(description),
		nullableString(visibility),
		nullableString(txHashPtr(fields.TxHash)),
		now,
	)

	record, err := scanRecord(row)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "upsert proof record")
	}
	return record, nil
}

func (s *PostgresStore) Get(ctx context.Context, key domain.RegistrationKey) (*models.ProofRecord, error) {
	const q = `
		SELECT registration_key, digest, owner_address, storage_locator,
			storage_verified, title, category, description, visibility,
			COALESCE(tx_hash, ''), created_at, updated_at
		FROM proof_records WHERE registration_key = $1`

	record, err := scanRecord(s.db.QueryRowContext(ctx, q, key.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "get proof record")
	}
	return record, nil
}

func (s *PostgresStore) ListByOwner(ctx context.Context, owner domain.OwnerAddress) ([]*models.ProofRecord, error) {
	const q = `
		SELECT registration_key, digest, owner_address, storage_locator,
			storage_verified, title, category, description, visibility,
			COALESCE(tx_hash, ''), created_at, updated_at
		FROM proof_records
		WHERE LOWER(owner_address) = $1
		ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, q, owner.Canonical())
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "list proof records")
	}
	defer rows.Close()

	var out []*models.ProofRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "scan proof record")
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "iterate proof records")
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.ProofRecord, error) {
	var (
		record     models.ProofRecord
		key        string
		digest     string
		owner      string
		visibility string
		txHash     string
	)
	err := row.Scan(&key, &digest, &owner, &record.StorageLocator,
		&record.StorageVerified, &record.Metadata.Title,
		&record.Metadata.Category, &record.Metadata.Description,
		&visibility, &txHash, &record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		return nil, err
	}
	record.Key = domain.RegistrationKey(key)
	record.Digest = domain.Digest(digest)
	record.Owner = domain.OwnerAddress(owner)
	record.Metadata.Visibility = models.Visibility(visibility)
	record.TxHash = domain.TxHash(txHash)
	return &record, nil
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullableBool(b *bool) any {
	if b == nil {
		return nil
	}
	return *b
}

func digestPtr(d *domain.Digest) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func ownerPtr(o *domain.OwnerAddress) *string {
	if o == nil {
		return nil
	}
	s := o.String()
	return &s
}

func txHashPtr(h *domain.TxHash) *string {
	if h == nil {
		return nil
	}
	s := h.String()
	return &s
}

// Schema is the DDL applied by migrations and integration tests.
const Schema = `
CREATE TABLE IF NOT EXISTS proof_records (
    registration_key TEXT PRIMARY KEY,
    digest           TEXT NOT NULL,
    owner_address    TEXT NOT NULL,
    storage_locator  TEXT NOT NULL DEFAULT '',
    storage_verified BOOLEAN NOT NULL DEFAULT FALSE,
    title            TEXT NOT NULL,
    category         TEXT NOT NULL DEFAULT '',
    description      TEXT NOT NULL DEFAULT '',
    visibility       TEXT NOT NULL DEFAULT 'private',
    tx_hash          TEXT,
    created_at       TIMESTAMPTZ NOT NULL,
    updated_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_proof_records_owner ON proof_records (LOWER(owner_address));

CREATE TABLE IF NOT EXISTS audit_outbox (
    id               UUID PRIMARY KEY,
    registration_key TEXT NOT NULL,
    category         TEXT NOT NULL,
    action           TEXT NOT NULL,
    payload          JSONB NOT NULL,
    created_at       TIMESTAMPTZ NOT NULL,
    published_at     TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_audit_outbox_key ON audit_outbox (registration_key);
CREATE INDEX IF NOT EXISTS idx_audit_outbox_unpublished ON audit_outbox (created_at) WHERE published_at IS NULL;
`
