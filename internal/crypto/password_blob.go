package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/mesmerverse/maci-keyvault/internal/vaulterr"
)

const (
	secretboxKeySize   = 32
	secretboxNonceSize = 24
)

// SealPasswordBlob encrypts the master password for remote backup with NaCl
// secretbox under a freshly generated key and returns
// base64(key || nonce || ciphertext).
//
// The key travels with the ciphertext, so anyone who can read the blob can
// recover the password. Callers that need confidentiality from the backup
// store must seal the blob again (see passwordvault.KMSSealer).
func SealPasswordBlob(password []byte) (string, error) {
	var key [secretboxKeySize]byte
	var nonce [secretboxNonceSize]byte
	if _, err := rand.Read(key[:]); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := make([]byte, 0, secretboxKeySize+secretboxNonceSize+len(password)+secretbox.Overhead)
	out = append(out, key[:]...)
	out = append(out, nonce[:]...)
	out = secretbox.Seal(out, password, &nonce, &key)
	Wipe(key[:])

	return base64.StdEncoding.EncodeToString(out), nil
}

// OpenPasswordBlob reverses SealPasswordBlob
func OpenPasswordBlob(blob string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, vaulterr.Wrap(vaulterr.KindDecryption, "crypto.open_password", "Failed to decrypt password", err)
	}
	if len(data) < secretboxKeySize+secretboxNonceSize+secretbox.Overhead {
		return nil, vaulterr.New(vaulterr.KindDecryption, "crypto.open_password", "Failed to decrypt password")
	}

	var key [secretboxKeySize]byte
	var nonce [secretboxNonceSize]byte
	copy(key[:], data[:secretboxKeySize])
	copy(nonce[:], data[secretboxKeySize:secretboxKeySize+secretboxNonceSize])
	defer Wipe(key[:])

	plaintext, ok := secretbox.Open(nil, data[secretboxKeySize+secretboxNonceSize:], &nonce, &key)
	if !ok {
		return nil, vaulterr.New(vaulterr.KindDecryption, "crypto.open_password", "Failed to decrypt password")
	}
	return plaintext, nil
}
