package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-botrelay/internal/domain"
)

// ProviderOpenRouter is the provider name under which OpenRouter keys are stored.
const ProviderOpenRouter = "openrouter"

// UpsertCredential stores ciphertext for (ownerID, provider), replacing any
// previous value.
func UpsertCredential(ctx context.Context, db *gorm.DB, ownerID, provider string, ciphertext []byte) error {
	now := time.Now().UTC()
	c := &domain.Credential{
		OwnerID:    ownerID,
		Provider:   provider,
		Ciphertext: ciphertext,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner_id"}, {Name: "provider"}},
		DoUpdates: clause.AssignmentColumns([]string{"ciphertext", "updated_at"}),
	}).Create(c).Error
}

// GetCredential returns the sealed credential or ErrNotFound.
func GetCredential(ctx context.Context, db *gorm.DB, ownerID, provider string) (*domain.Credential, error) {
	var c domain.Credential
	err := db.WithContext(ctx).
		Where("owner_id = ? AND provider = ?", ownerID, provider).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}
