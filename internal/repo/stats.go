// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate/statistics queries used
// primarily for conditional responses (e.g., ETag generation) in the HTTP
// layer. Each function is context-aware and safe to call from services or
// handlers.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-botrelay/internal/domain"
)

// BotsStats returns aggregate metadata for an owner's bots: the total number
// of rows and the maximum UpdatedAt timestamp among those rows.
//
// When the owner has no bots, count is 0 and maxUpdatedAt is nil.
func BotsStats(ctx context.Context, db *gorm.DB, ownerID string) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Bot{}).Where("owner_id = ?", ownerID)

	// Count
	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = q.Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}

// UsageStats returns the number of daily usage records for ownerID and the
// most recent LastUpdated among them. Usage rows only grow, so the pair
// changes whenever any counter changes.
func UsageStats(ctx context.Context, db *gorm.DB, ownerID string) (count int64, lastUpdated *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.UsageRecord{}).Where("owner_id = ?", ownerID)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	var row struct {
		LastUpdated time.Time
	}
	if err = q.Select("last_updated").Order("last_updated DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.LastUpdated, nil
}
