// Package services – CredentialService
//
// Owner API keys are sealed with AES-256-GCM under the server's
// CREDENTIALS_KEY before they reach the database. The stored blob is
// nonce || ciphertext.
package services

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-botrelay/internal/repo"
)

// CredentialService stores and resolves upstream API keys.
type CredentialService struct {
	DB *gorm.DB
	// Key is the 32-byte sealing key; nil disables owner-stored keys.
	Key []byte
	// PlatformKey is used when an owner has no stored key.
	PlatformKey string
}

// SetOpenRouterKey seals and stores apiKey for ownerID.
func (s *CredentialService) SetOpenRouterKey(ctx context.Context, ownerID, apiKey string) error {
	tr := otel.Tracer("services/CredentialService")
	ctx, span := tr.Start(ctx, "SetOpenRouterKey",
		trace.WithAttributes(attribute.String("owner.id", ownerID)),
	)
	defer span.End()

	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return ErrInvalidRequest
	}
	sealed, err := s.seal([]byte(apiKey))
	if err != nil {
		return err
	}
	return repo.UpsertCredential(ctx, s.DB, ownerID, repo.ProviderOpenRouter, sealed)
}

// OpenRouterKey returns the key to use for ownerID's upstream calls: the
// owner's stored key, else the platform key, else ErrCredentialMissing.
func (s *CredentialService) OpenRouterKey(ctx context.Context, ownerID string) (string, error) {
	tr := otel.Tracer("services/CredentialService")
	ctx, span := tr.Start(ctx, "OpenRouterKey",
		trace.WithAttributes(attribute.String("owner.id", ownerID)),
	)
	defer span.End()

	if len(s.Key) > 0 {
		cred, err := repo.GetCredential(ctx, s.DB, ownerID, repo.ProviderOpenRouter)
		switch {
		case err == nil:
			plain, err := s.open(cred.Ciphertext)
			if err != nil {
				return "", fmt.Errorf("open credential: %w", err)
			}
			return string(plain), nil
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return "", err
		}
	}
	if s.PlatformKey != "" {
		return s.PlatformKey, nil
	}
	return "", ErrCredentialMissing
}

func (s *CredentialService) aead() (cipher.AEAD, error) {
	if len(s.Key) == 0 {
		return nil, ErrSealing
	}
	block, err := aes.NewCipher(s.Key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func (s *CredentialService) seal(plain []byte) ([]byte, error) {
	gcm, err := s.aead()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plain, nil), nil
}

func (s *CredentialService) open(sealed []byte) ([]byte, error) {
	gcm, err := s.aead()
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, ct := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ct, nil)
}
