package keystore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mesmerverse/maci-keyvault/internal/vaulterr"
)

// SQLiteStore implements Store on top of DB
type SQLiteStore struct {
	db *DB
}

// NewSQLiteStore creates a store over an opened database
func NewSQLiteStore(db *DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Add inserts rec
func (s *SQLiteStore) Add(ctx context.Context, rec Record) error {
	if err := validate(rec); err != nil {
		return err
	}

	return s.withTx(ctx, "keystore.add", func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM key_records WHERE public_key = ?`, rec.PublicKey).Scan(&exists)
		if err == nil {
			return vaulterr.New(vaulterr.KindConflict, "keystore.add", "Key pair already exists")
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return vaulterr.Storage("keystore.add", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO key_records (public_key, private_key, status, name, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, rec.PublicKey, rec.PrivateKey, string(rec.Status), rec.Name, formatTime(rec.CreatedAt))
		if err != nil {
			return vaulterr.Storage("keystore.add", err)
		}
		return nil
	})
}

// Get returns the record for publicKey
func (s *SQLiteStore) Get(ctx context.Context, publicKey string) (*Record, error) {
	row := s.db.Reader.QueryRowContext(ctx, `
		SELECT public_key, private_key, status, name, created_at
		FROM key_records
		WHERE public_key = ?
	`, publicKey)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, vaulterr.NotFound("keystore.get", "Key pair not found")
	}
	if err != nil {
		return nil, vaulterr.Storage("keystore.get", err)
	}
	return rec, nil
}

// List returns every record in insertion order
func (s *SQLiteStore) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.Reader.QueryContext(ctx, `
		SELECT public_key, private_key, status, name, created_at
		FROM key_records
		ORDER BY rowid ASC
	`)
	if err != nil {
		return nil, vaulterr.Storage("keystore.list", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, vaulterr.Storage("keystore.list", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, vaulterr.Storage("keystore.list", err)
	}
	return records, nil
}

// Replace overwrites the mutable fields of an existing record
func (s *SQLiteStore) Replace(ctx context.Context, rec Record) error {
	if err := validate(rec); err != nil {
		return err
	}

	return s.withTx(ctx, "keystore.replace", func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE key_records
			SET private_key = ?, status = ?, name = ?, created_at = ?
			WHERE public_key = ?
		`, rec.PrivateKey, string(rec.Status), rec.Name, formatTime(rec.CreatedAt), rec.PublicKey)
		if err != nil {
			return vaulterr.Storage("keystore.replace", err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return vaulterr.Storage("keystore.replace", err)
		}
		if rows == 0 {
			return vaulterr.NotFound("keystore.replace", "Key pair not found")
		}
		return nil
	})
}

// Remove deletes the record for publicKey if present
func (s *SQLiteStore) Remove(ctx context.Context, publicKey string) error {
	return s.withTx(ctx, "keystore.remove", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM key_records WHERE public_key = ?`, publicKey); err != nil {
			return vaulterr.Storage("keystore.remove", err)
		}
		return nil
	})
}

func (s *SQLiteStore) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return vaulterr.Storage(op, err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return vaulterr.Storage(op, fmt.Errorf("commit: %w", err))
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var status string
	var createdAt sql.NullString

	if err := row.Scan(&rec.PublicKey, &rec.PrivateKey, &status, &rec.Name, &createdAt); err != nil {
		return nil, err
	}
	rec.Status = Status(status)

	if createdAt.Valid && createdAt.String != "" {
		t, err := time.Parse(time.RFC3339Nano, createdAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		rec.CreatedAt = &t
	}
	return &rec, nil
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func validate(rec Record) error {
	if rec.PublicKey == "" {
		return vaulterr.Validation("keystore", "publicKey is required")
	}
	if rec.PrivateKey == "" {
		return vaulterr.Validation("keystore", "privateKey is required")
	}
	if !rec.Status.Valid() {
		return vaulterr.Validation("keystore", fmt.Sprintf("invalid status: %q", rec.Status))
	}
	return nil
}
