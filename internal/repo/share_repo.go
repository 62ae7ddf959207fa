// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for ShareLink.
//
// Tokens are generated by the caller (see services.ShareService) so the
// repository stays free of policy. Expiry is not filtered here: callers check
// ShareLink.Expired so that an expired link and a missing one can be logged
// differently while still surfacing the same NotFound.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-botrelay/internal/domain"
)

// CreateShareLink inserts a share link for botID owned by ownerID.
// A nil expiresAt creates a link that never expires.
func CreateShareLink(ctx context.Context, db *gorm.DB, token, botID, ownerID string, expiresAt *time.Time) (*domain.ShareLink, error) {
	s := &domain.ShareLink{
		Token:     token,
		BotID:     botID,
		OwnerID:   ownerID,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Omit("Bot").Create(s).Error; err != nil {
		return nil, err
	}
	return s, nil
}

// GetShareLink looks up a share link by token. Expired links are returned as
// found; use ShareLink.Expired to reject them.
func GetShareLink(ctx context.Context, db *gorm.DB, token string) (*domain.ShareLink, error) {
	var s domain.ShareLink
	if err := db.WithContext(ctx).Where("token = ?", token).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// DeleteShareLink revokes a link owned by ownerID. It returns ErrNotFound when
// no row matched.
func DeleteShareLink(ctx context.Context, db *gorm.DB, token, ownerID string) error {
	res := db.WithContext(ctx).
		Where("token = ? AND owner_id = ?", token, ownerID).
		Delete(&domain.ShareLink{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
