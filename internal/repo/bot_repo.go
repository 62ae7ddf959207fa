// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Bot model.
//
// All functions are context-aware and accept a *gorm.DB handle, so they can
// run inside transactions. They follow the "thin repository" approach: no
// business logic, only CRUD persistence and query composition.
//
// Error semantics:
//   - When a bot is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound).
//   - Other database errors are propagated unchanged.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-botrelay/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateBot inserts b with a fresh UUID and UTC timestamps. Caller-provided
// ID and timestamps are overwritten.
func CreateBot(ctx context.Context, db *gorm.DB, b *domain.Bot) (*domain.Bot, error) {
	now := time.Now().UTC()
	b.ID = uuid.NewString()
	b.CreatedAt = now
	b.UpdatedAt = now
	if err := db.WithContext(ctx).Create(b).Error; err != nil {
		return nil, err
	}
	return b, nil
}

// GetBot fetches a bot by ID, scoped to its owner.
func GetBot(ctx context.Context, db *gorm.DB, id, ownerID string) (*domain.Bot, error) {
	var b domain.Bot
	err := db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", id, ownerID).
		First(&b).Error
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// GetBotByID fetches a bot by ID regardless of owner. It is used when a share
// link has already established which bot is being addressed.
func GetBotByID(ctx context.Context, db *gorm.DB, id string) (*domain.Bot, error) {
	var b domain.Bot
	if err := db.WithContext(ctx).Where("id = ?", id).First(&b).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

// CountBots returns the number of bots owned by ownerID.
func CountBots(ctx context.Context, db *gorm.DB, ownerID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Bot{}).
		Where("owner_id = ?", ownerID).
		Count(&total).Error
	return total, err
}

// ListBotsPage returns a page of ownerID's bots, newest first.
//
// The caller computes offset and limit (e.g., (page-1)*pageSize).
func ListBotsPage(ctx context.Context, db *gorm.DB, ownerID string, offset, limit int) ([]domain.Bot, error) {
	var out []domain.Bot
	err := db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// UpdateBot applies the non-nil column values in fields to the bot identified
// by id and owned by ownerID. It returns ErrNotFound when no row matched.
func UpdateBot(ctx context.Context, db *gorm.DB, id, ownerID string, fields map[string]any) error {
	if len(fields) == 0 {
		// Still report a missing bot so callers get a consistent 404.
		_, err := GetBot(ctx, db, id, ownerID)
		return err
	}
	fields["updated_at"] = time.Now().UTC()
	res := db.WithContext(ctx).
		Model(&domain.Bot{}).
		Where("id = ? AND owner_id = ?", id, ownerID).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
