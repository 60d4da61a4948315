// Package passwordvault holds the master password for an authenticated
// principal. The password is cached in an explicit Session for the lifetime
// of the login and backed up to a remote document store.
package passwordvault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mesmerverse/maci-keyvault/internal/crypto"
	"github.com/mesmerverse/maci-keyvault/internal/vaulterr"
)

// Principal is the authenticated identity keys and passwords are scoped to
type Principal struct {
	ID    string `json:"id" yaml:"id"`
	Email string `json:"email,omitempty" yaml:"email"`
}

// BackupRecord is the remote document holding the wrapped password
type BackupRecord struct {
	EncryptedPassword string    `json:"encryptedPassword"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// Session is the unlocked state of one login. It is created by Login and
// wiped by Logout or ClearPassword.
type Session struct {
	principal Principal
	password  []byte
	key       *crypto.WrappingKey
	startedAt time.Time
}

// Principal returns the session's principal
func (s *Session) Principal() Principal {
	return s.principal
}

func (s *Session) setPassword(password string) {
	crypto.Wipe(s.password)
	s.password = []byte(password)
	if s.key != nil {
		crypto.Wipe(s.key[:])
		s.key = nil
	}
}

func (s *Session) wipe() {
	crypto.Wipe(s.password)
	s.password = nil
	if s.key != nil {
		crypto.Wipe(s.key[:])
		s.key = nil
	}
}

// Options configures a Vault
type Options struct {
	// KeyPrefix is prepended to backup document keys.
	KeyPrefix string
	// EnforcePolicy rejects passwords that fail Requirements.
	EnforcePolicy bool
	// BindPrincipal mixes the principal id into key derivation.
	BindPrincipal bool
	// Sealer wraps backup documents; defaults to PassthroughSealer.
	Sealer Sealer
}

// Vault custodies the master password
type Vault struct {
	backup BackupStore
	opts   Options

	mu      sync.Mutex
	session *Session
}

// New creates a vault backed by backup
func New(backup BackupStore, opts Options) *Vault {
	if opts.Sealer == nil {
		opts.Sealer = PassthroughSealer{}
	}
	return &Vault{backup: backup, opts: opts}
}

// Login starts a session for principal, replacing and wiping any previous one
func (v *Vault) Login(principal Principal) (*Session, error) {
	if strings.TrimSpace(principal.ID) == "" {
		return nil, vaulterr.New(vaulterr.KindAuthentication, "vault.login", "User must be authenticated")
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.session != nil {
		v.session.wipe()
	}
	v.session = &Session{principal: principal, startedAt: time.Now()}

	log.Info().Str("principal", principal.ID).Msg("Session started")
	return v.session, nil
}

// Logout ends the session and clears every cached secret
func (v *Vault) Logout() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.session == nil {
		return
	}
	log.Info().Str("principal", v.session.principal.ID).Msg("Session ended")
	v.session.wipe()
	v.session = nil
}

// Principal returns the current principal, if any
func (v *Vault) Principal() (Principal, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.session == nil {
		return Principal{}, false
	}
	return v.session.principal, true
}

func (v *Vault) currentSession(op string) (*Session, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.session == nil {
		return nil, vaulterr.New(vaulterr.KindAuthentication, op, "User must be authenticated")
	}
	return v.session, nil
}

// SetPassword backs the password up remotely and caches it in the session
func (v *Vault) SetPassword(ctx context.Context, password string) error {
	if password == "" {
		return vaulterr.Validation("vault.set_password", "Password is required")
	}
	if v.opts.EnforcePolicy {
		if s := CheckStrength(password); !s.Valid {
			return vaulterr.Validation("vault.set_password",
				"Password does not meet requirements: "+strings.Join(s.Unmet, ", "))
		}
	}

	sess, err := v.currentSession("vault.set_password")
	if err != nil {
		return err
	}

	blob, err := crypto.SealPasswordBlob([]byte(password))
	if err != nil {
		return fmt.Errorf("failed to wrap password: %w", err)
	}

	doc, err := json.Marshal(BackupRecord{EncryptedPassword: blob, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal backup record: %w", err)
	}

	sealed, err := v.opts.Sealer.Seal(ctx, doc)
	if err != nil {
		return vaulterr.Storage("vault.set_password", err)
	}

	key := BackupKey(v.opts.KeyPrefix, sess.principal.ID)
	if err := v.backup.Put(ctx, key, sealed); err != nil {
		log.Error().Err(err).Str("principal", sess.principal.ID).Msg("Error setting password")
		return vaulterr.Storage("vault.set_password", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.session != sess {
		// Logged out (or re-logged) while the backup was in flight; the
		// remote write stands but nothing is cached.
		return vaulterr.New(vaulterr.KindAuthentication, "vault.set_password", "Session ended during password update")
	}
	sess.setPassword(password)

	log.Info().Str("principal", sess.principal.ID).Msg("Master password set")
	return nil
}

// CurrentPassword returns the cached password without any I/O
func (v *Vault) CurrentPassword() (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.session == nil || v.session.password == nil {
		return "", false
	}
	return string(v.session.password), true
}

// GetPassword returns the cached password, recovering it from the remote
// backup when the cache is empty. ok is false when no password was ever set.
func (v *Vault) GetPassword(ctx context.Context) (password string, ok bool, err error) {
	if p, ok := v.CurrentPassword(); ok {
		return p, true, nil
	}

	sess, err := v.currentSession("vault.get_password")
	if err != nil {
		return "", false, err
	}

	key := BackupKey(v.opts.KeyPrefix, sess.principal.ID)
	sealed, err := v.backup.Get(ctx, key)
	if errors.Is(err, ErrBackupNotFound) {
		return "", false, nil
	}
	if err != nil {
		log.Error().Err(err).Str("principal", sess.principal.ID).Msg("Error getting password")
		return "", false, vaulterr.Storage("vault.get_password", err)
	}

	doc, err := v.opts.Sealer.Open(ctx, sealed)
	if err != nil {
		return "", false, vaulterr.Wrap(vaulterr.KindDecryption, "vault.get_password", "Failed to decrypt password", err)
	}

	var rec BackupRecord
	if err := json.Unmarshal(doc, &rec); err != nil {
		return "", false, vaulterr.Wrap(vaulterr.KindDecryption, "vault.get_password", "Failed to decrypt password", err)
	}
	if rec.EncryptedPassword == "" {
		return "", false, nil
	}

	plain, err := crypto.OpenPasswordBlob(rec.EncryptedPassword)
	if err != nil {
		return "", false, err
	}
	password = string(plain)
	crypto.Wipe(plain)

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.session == sess && sess.password == nil {
		sess.setPassword(password)
	}
	return password, true, nil
}

// ClearPassword forgets the master password: the remote backup is deleted and
// the session's cached password and wrapping key are wiped. Stored keys stay
// encrypted and need the same password set again before they can sign.
func (v *Vault) ClearPassword(ctx context.Context) error {
	sess, err := v.currentSession("vault.clear_password")
	if err != nil {
		return err
	}

	key := BackupKey(v.opts.KeyPrefix, sess.principal.ID)
	if err := v.backup.Delete(ctx, key); err != nil && !errors.Is(err, ErrBackupNotFound) {
		log.Error().Err(err).Str("principal", sess.principal.ID).Msg("Error clearing password")
		return vaulterr.Storage("vault.clear_password", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.session == sess {
		sess.wipe()
	}

	log.Info().Str("principal", sess.principal.ID).Msg("Master password cleared")
	return nil
}

// Restore warms the session cache from the remote backup, if one exists
func (v *Vault) Restore(ctx context.Context) (bool, error) {
	_, ok, err := v.GetPassword(ctx)
	return ok, err
}

// WrappingKey returns the key that protects stored secret keys, deriving and
// caching it in the session on first use.
func (v *Vault) WrappingKey(ctx context.Context) (crypto.WrappingKey, error) {
	sess, err := v.currentSession("vault.wrapping_key")
	if err != nil {
		return crypto.WrappingKey{}, err
	}

	v.mu.Lock()
	if sess.key != nil && v.session == sess {
		key := *sess.key
		v.mu.Unlock()
		return key, nil
	}
	v.mu.Unlock()

	password, ok, err := v.GetPassword(ctx)
	if err != nil {
		return crypto.WrappingKey{}, err
	}
	if !ok {
		return crypto.WrappingKey{}, vaulterr.Validation("vault.wrapping_key", "Password not set. Please set a password first.")
	}

	var binding []byte
	if v.opts.BindPrincipal {
		binding = []byte(sess.principal.ID)
	}
	key, err := crypto.DeriveKey(password, binding)
	if err != nil {
		return crypto.WrappingKey{}, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.session == sess && string(sess.password) == password {
		cached := key
		sess.key = &cached
	}
	return key, nil
}
