// Package keymanager implements the key operations the router executes:
// generating, listing, signing with, and managing stored signing keys.
package keymanager

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mesmerverse/maci-keyvault/internal/crypto"
	"github.com/mesmerverse/maci-keyvault/internal/keystore"
	"github.com/mesmerverse/maci-keyvault/internal/vaulterr"
)

// KeySource yields the wrapping key for the current session
type KeySource interface {
	WrappingKey(ctx context.Context) (crypto.WrappingKey, error)
}

// Manager performs key operations against a Store
type Manager struct {
	store keystore.Store
	locks *keystore.KeyLocks
	keys  KeySource
	now   func() time.Time
}

// New creates a manager
func New(store keystore.Store, keys KeySource) *Manager {
	return &Manager{
		store: store,
		locks: keystore.NewKeyLocks(),
		keys:  keys,
		now:   time.Now,
	}
}

// GenerateKeyPair creates a signing key pair, encrypts its secret key under the
// session's wrapping key and stores it as active.
func (m *Manager) GenerateKeyPair(ctx context.Context) (*keystore.Record, error) {
	key, err := m.keys.WrappingKey(ctx)
	if err != nil {
		return nil, err
	}

	pub, secret, err := crypto.GenerateSigningKeyPair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}
	defer crypto.Wipe(secret)

	encrypted, err := crypto.Encrypt(secret, key)
	if err != nil {
		return nil, err
	}

	createdAt := m.now().UTC()
	rec := keystore.Record{
		PublicKey:  base64.StdEncoding.EncodeToString(pub),
		PrivateKey: base64.StdEncoding.EncodeToString(encrypted),
		Status:     keystore.StatusActive,
		CreatedAt:  &createdAt,
	}

	if err := m.store.Add(ctx, rec); err != nil {
		return nil, err
	}

	log.Info().Str("public_key", prefix(rec.PublicKey)).Msg("Key pair generated")
	return &rec, nil
}

// ListKeyPairs returns every stored key record
func (m *Manager) ListKeyPairs(ctx context.Context) ([]keystore.Record, error) {
	return m.store.List(ctx)
}

// SignMessage signs message and metadata with the active key publicKey.
// The signed bytes are built by SignedBytes; a missing
// metadata.context.timestamp is set to the current unix time in ms.
func (m *Manager) SignMessage(ctx context.Context, publicKey, message string, metadata Metadata) (*Signature, error) {
	unlock := m.locks.Lock(publicKey)
	defer unlock()

	rec, err := m.store.Get(ctx, publicKey)
	if err != nil {
		return nil, err
	}
	if rec.Status != keystore.StatusActive {
		return nil, vaulterr.New(vaulterr.KindState, "keymanager.sign", "Key pair is discarded")
	}

	key, err := m.keys.WrappingKey(ctx)
	if err != nil {
		return nil, err
	}

	secret, err := m.openSecret(rec, key)
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(secret)

	metadata = metadata.withTimestamp(m.now())
	signed, err := SignedBytes(message, metadata)
	if err != nil {
		return nil, vaulterr.Wrap(vaulterr.KindValidation, "keymanager.sign", "Invalid metadata", err)
	}

	sig, err := crypto.Sign(signed, secret)
	if err != nil {
		return nil, err
	}

	log.Info().Str("public_key", prefix(publicKey)).Msg("Message signed")

	return &Signature{
		Signature:     base64.StdEncoding.EncodeToString(sig),
		SignatureHash: crypto.SignatureFingerprint(sig),
		Metadata:      metadata,
	}, nil
}

// DiscardKeyPair marks publicKey as discarded. Discarding an already
// discarded key succeeds.
func (m *Manager) DiscardKeyPair(ctx context.Context, publicKey string) error {
	unlock := m.locks.Lock(publicKey)
	defer unlock()

	rec, err := m.store.Get(ctx, publicKey)
	if err != nil {
		return err
	}
	if rec.Status == keystore.StatusDiscarded {
		return nil
	}

	rec.Status = keystore.StatusDiscarded
	if err := m.store.Replace(ctx, *rec); err != nil {
		return err
	}

	log.Info().Str("public_key", prefix(publicKey)).Msg("Key pair discarded")
	return nil
}

// DeleteKeyPair removes publicKey. Deleting a missing key succeeds.
func (m *Manager) DeleteKeyPair(ctx context.Context, publicKey string) error {
	unlock := m.locks.Lock(publicKey)
	defer unlock()

	if err := m.store.Remove(ctx, publicKey); err != nil {
		return err
	}

	log.Info().Str("public_key", prefix(publicKey)).Msg("Key pair deleted")
	return nil
}

// RenameKeyPair sets the label of publicKey
func (m *Manager) RenameKeyPair(ctx context.Context, publicKey, name string) error {
	unlock := m.locks.Lock(publicKey)
	defer unlock()

	rec, err := m.store.Get(ctx, publicKey)
	if err != nil {
		return err
	}
	rec.Name = name
	return m.store.Replace(ctx, *rec)
}

// RecoverKeyPair decrypts the first active key with the session's wrapping
// key and checks it still matches its public key.
func (m *Manager) RecoverKeyPair(ctx context.Context) (string, error) {
	records, err := m.store.List(ctx)
	if err != nil {
		return "", err
	}

	var active *keystore.Record
	for i := range records {
		if records[i].Status == keystore.StatusActive {
			active = &records[i]
			break
		}
	}
	if active == nil {
		return "", vaulterr.NotFound("keymanager.recover", "No active key pair found for recovery.")
	}

	key, err := m.keys.WrappingKey(ctx)
	if err != nil {
		return "", err
	}

	secret, err := m.openSecret(active, key)
	if err != nil {
		return "", err
	}
	defer crypto.Wipe(secret)

	pub, err := crypto.PublicKeyOf(secret)
	if err != nil {
		return "", err
	}
	if base64.StdEncoding.EncodeToString(pub) != active.PublicKey {
		return "", vaulterr.New(vaulterr.KindState, "keymanager.recover", "Recovered key does not match its public key")
	}

	log.Info().Str("public_key", prefix(active.PublicKey)).Msg("Key pair recovered")
	return active.PublicKey, nil
}

func (m *Manager) openSecret(rec *keystore.Record, key crypto.WrappingKey) ([]byte, error) {
	blob, err := base64.StdEncoding.DecodeString(rec.PrivateKey)
	if err != nil {
		return nil, vaulterr.Wrap(vaulterr.KindDecryption, "keymanager.open", "Stored private key is malformed", err)
	}
	return crypto.Decrypt(blob, key)
}

func prefix(publicKey string) string {
	if len(publicKey) <= 16 {
		return publicKey
	}
	return publicKey[:16] + "..."
}
