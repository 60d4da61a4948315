package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/mesmerverse/maci-keyvault/internal/vaulterr"
)

// Key sizes for the signing scheme. The secret key is the 64-byte
// seed || public key form used by NaCl.
const (
	PublicKeySize = ed25519.PublicKeySize
	SecretKeySize = ed25519.PrivateKeySize
	SignatureSize = ed25519.SignatureSize
)

// GenerateSigningKeyPair generates a fresh ed25519 keypair
func GenerateSigningKeyPair() (publicKey, secretKey []byte, err error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate signing keypair: %w", err)
	}
	return pub, priv, nil
}

// Sign produces a detached ed25519 signature over message
func Sign(message, secretKey []byte) ([]byte, error) {
	if len(secretKey) != SecretKeySize {
		return nil, vaulterr.Validation("crypto.sign",
			fmt.Sprintf("invalid secret key size: %d", len(secretKey)))
	}
	return ed25519.Sign(ed25519.PrivateKey(secretKey), message), nil
}

// Verify checks a detached signature against publicKey
func Verify(publicKey, message, signature []byte) bool {
	if len(publicKey) != PublicKeySize || len(signature) != SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), message, signature)
}

// PublicKeyOf returns the public half of a 64-byte secret key
func PublicKeyOf(secretKey []byte) ([]byte, error) {
	if len(secretKey) != SecretKeySize {
		return nil, vaulterr.Validation("crypto.public",
			fmt.Sprintf("invalid secret key size: %d", len(secretKey)))
	}
	pub := ed25519.PrivateKey(secretKey).Public().(ed25519.PublicKey)
	return []byte(pub), nil
}

// Hash returns the SHA-256 digest of b
func Hash(b []byte) [sha256.Size]byte {
	return sha256.Sum256(b)
}

// HashHex returns the lowercase hex SHA-256 digest of b
func HashHex(b []byte) string {
	sum := Hash(b)
	return hex.EncodeToString(sum[:])
}

// SignatureFingerprint is the audit fingerprint of a signature: the SHA-256 of
// the signature's lowercase hex encoding, itself hex encoded.
func SignatureFingerprint(signature []byte) string {
	return HashHex([]byte(hex.EncodeToString(signature)))
}
