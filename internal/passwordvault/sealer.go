package passwordvault

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/rs/zerolog/log"
)

// Sealer wraps backup documents before they leave the process
type Sealer interface {
	Seal(ctx context.Context, plaintext []byte) ([]byte, error)
	Open(ctx context.Context, sealed []byte) ([]byte, error)
}

// PassthroughSealer stores documents as-is
type PassthroughSealer struct{}

func (PassthroughSealer) Seal(ctx context.Context, plaintext []byte) ([]byte, error) {
	return plaintext, nil
}

func (PassthroughSealer) Open(ctx context.Context, sealed []byte) ([]byte, error) {
	return sealed, nil
}

// kmsAPI is the subset of the KMS client used for sealing
type kmsAPI interface {
	Encrypt(ctx context.Context, in *kms.EncryptInput, optFns ...func(*kms.Options)) (*kms.EncryptOutput, error)
	Decrypt(ctx context.Context, in *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// KMSSealer envelopes backup documents with an AWS KMS key so the backup
// store alone cannot recover the password.
type KMSSealer struct {
	client kmsAPI
	keyID  string
}

// NewKMSSealer creates a sealer using keyID in region
func NewKMSSealer(ctx context.Context, keyID, region string) (*KMSSealer, error) {
	if keyID == "" {
		return nil, fmt.Errorf("KMS key id not configured")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &KMSSealer{client: kms.NewFromConfig(awsCfg), keyID: keyID}, nil
}

// Seal encrypts plaintext under the configured key
func (k *KMSSealer) Seal(ctx context.Context, plaintext []byte) ([]byte, error) {
	result, err := k.client.Encrypt(ctx, &kms.EncryptInput{
		KeyId:     &k.keyID,
		Plaintext: plaintext,
	})
	if err != nil {
		return nil, fmt.Errorf("KMS encrypt failed: %w", err)
	}

	log.Debug().
		Int("plaintext_len", len(plaintext)).
		Int("ciphertext_len", len(result.CiphertextBlob)).
		Msg("KMS encrypt successful")

	return result.CiphertextBlob, nil
}

// Open decrypts a blob produced by Seal
func (k *KMSSealer) Open(ctx context.Context, sealed []byte) ([]byte, error) {
	result, err := k.client.Decrypt(ctx, &kms.DecryptInput{
		KeyId:          &k.keyID,
		CiphertextBlob: sealed,
	})
	if err != nil {
		return nil, fmt.Errorf("KMS decrypt failed: %w", err)
	}
	return result.Plaintext, nil
}
