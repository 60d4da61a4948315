// Package crypto implements the key vault's cryptographic primitives:
// password-based key derivation, authenticated encryption of secret keys,
// ed25519 key generation and detached signing, and hashing.
//
// All functions are pure with respect to external state and report failures
// synchronously as classified vaulterr errors.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"github.com/mesmerverse/maci-keyvault/internal/vaulterr"
)

// PBKDF2 parameters. Changing any of these makes existing records unreadable.
const (
	KDFSalt       = "amaci-key-management"
	KDFIterations = 100000
	KeySize       = 32
	NonceSize     = 12
)

// WrappingKey is the symmetric key derived from the master password
type WrappingKey [KeySize]byte

// DeriveKey runs PBKDF2-HMAC-SHA256 over the password (with the optional
// binding secret appended) using the fixed salt and iteration count.
func DeriveKey(password string, binding []byte) (WrappingKey, error) {
	var key WrappingKey
	if password == "" {
		return key, vaulterr.Validation("crypto.derive", "Password not set. Please set a password first.")
	}

	material := make([]byte, 0, len(password)+len(binding))
	material = append(material, password...)
	material = append(material, binding...)
	defer Wipe(material)

	derived := pbkdf2.Key(material, []byte(KDFSalt), KDFIterations, KeySize, sha256.New)
	copy(key[:], derived)
	Wipe(derived)
	return key, nil
}

// Equal compares two wrapping keys in constant time
func (k WrappingKey) Equal(other WrappingKey) bool {
	return subtle.ConstantTimeCompare(k[:], other[:]) == 1
}

// Encrypt seals plaintext with AES-256-GCM under key.
// A fresh random nonce is generated per call and prepended: nonce || ciphertext.
func Encrypt(plaintext []byte, key WrappingKey) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a nonce || ciphertext blob produced by Encrypt.
// A wrong key or any corruption yields a decryption error and no plaintext.
func Decrypt(blob []byte, key WrappingKey) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	if len(blob) < NonceSize+aead.Overhead() {
		return nil, vaulterr.New(vaulterr.KindDecryption, "crypto.decrypt", "ciphertext too short")
	}

	nonce := blob[:NonceSize]
	ciphertext := blob[NonceSize:]

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, vaulterr.Wrap(vaulterr.KindDecryption, "crypto.decrypt",
			"failed to decrypt private key (wrong password or corrupted data)", err)
	}
	return plaintext, nil
}

func newAEAD(key WrappingKey) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aead, nil
}

// Wipe zeroes b in place
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
