// Package keystore persists key records in SQLite, keyed by public key.
//
// The store guarantees per-call transactional isolation but not atomicity
// across calls. Read-modify-write sequences on one record must hold that
// record's lock from KeyLocks.
package keystore

import (
	"context"
	"time"
)

// Status is the lifecycle state of a key record
type Status string

const (
	StatusActive    Status = "active"
	StatusDiscarded Status = "discarded"
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	return s == StatusActive || s == StatusDiscarded
}

// Record is one managed signing identity.
// PrivateKey is base64(nonce || ciphertext); the raw secret key is never stored.
type Record struct {
	PublicKey  string     `json:"publicKey"`
	PrivateKey string     `json:"privateKey"`
	Status     Status     `json:"status"`
	Name       string     `json:"name,omitempty"`
	CreatedAt  *time.Time `json:"createdAt,omitempty"`
}

// Store is the durable key record store
type Store interface {
	// Add inserts a new record; a duplicate public key is a conflict.
	Add(ctx context.Context, rec Record) error
	// Get returns the record or a not-found error.
	Get(ctx context.Context, publicKey string) (*Record, error)
	// List returns all records. Order carries no meaning.
	List(ctx context.Context) ([]Record, error)
	// Replace overwrites an existing record.
	Replace(ctx context.Context, rec Record) error
	// Remove deletes the record. Removing a missing key is not an error.
	Remove(ctx context.Context, publicKey string) error
}
