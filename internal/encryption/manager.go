package encryption

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/kms"
	"go.uber.org/zap"

	"otp-service/internal/util"
)

var (
	ErrDecryptionFailed = errors.New("decryption failed")
	ErrKMSUnavailable   = errors.New("kms client is not configured")
)

type kmsDecrypter interface {
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// EncryptionManager unwraps KMS-encrypted configuration secrets. Plaintexts
// are cached per ciphertext for the life of the process.
type EncryptionManager struct {
	kmsClient kmsDecrypter
	cache     sync.Map
}

func NewEncryptionManager(kmsClient kmsDecrypter) *EncryptionManager {
	return &EncryptionManager{kmsClient: kmsClient}
}

// DecryptSecret takes a base64 KMS ciphertext blob.
func (em *EncryptionManager) DecryptSecret(ctx context.Context, ciphertext string) (string, error) {
	ciphertext = strings.TrimSpace(ciphertext)
	if cached, ok := em.cache.Load(ciphertext); ok {
		return cached.(string), nil
	}
	if em.kmsClient == nil {
		return "", ErrKMSUnavailable
	}

	blob, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: invalid ciphertext encoding", ErrDecryptionFailed)
	}

	result, err := em.kmsClient.Decrypt(ctx, &kms.DecryptInput{CiphertextBlob: blob})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	if len(result.Plaintext) == 0 {
		return "", fmt.Errorf("%w: empty plaintext", ErrDecryptionFailed)
	}

	secret := string(result.Plaintext)
	em.cache.Store(ciphertext, secret)

	keyID := ""
	if result.KeyId != nil {
		keyID = *result.KeyId
	}
	util.Info("Decrypted secret with KMS", zap.String("key_id", keyID))

	return secret, nil
}

// ResolveSigningSecret prefers the KMS ciphertext when one is configured and
// falls back to the plaintext value otherwise.
func (em *EncryptionManager) ResolveSigningSecret(ctx context.Context, plaintext, ciphertext string) (string, error) {
	if ciphertext == "" {
		return plaintext, nil
	}
	return em.DecryptSecret(ctx, ciphertext)
}
