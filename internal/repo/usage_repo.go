// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the per-owner daily usage counters.
//
// IncrementUsage is a single INSERT ... ON CONFLICT DO UPDATE statement, so
// concurrent increments for the same (owner_id, day) never lose updates.
// Both SQLite (>= 3.24) and Postgres support this form.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-botrelay/internal/domain"
)

// DayLayout is the format of UsageRecord.Day.
const DayLayout = "2006-01-02"

// DayOf returns the UTC calendar day of t formatted with DayLayout.
func DayOf(t time.Time) string { return t.UTC().Format(DayLayout) }

// IncrementUsage adds messageDelta and tokenDelta to the (ownerID, day) row and
// bumps its API call count by one. The row is created when missing.
func IncrementUsage(ctx context.Context, db *gorm.DB, ownerID, day string, messageDelta, tokenDelta int64, now time.Time) error {
	rec := &domain.UsageRecord{
		OwnerID:      ownerID,
		Day:          day,
		MessageCount: messageDelta,
		TokenCount:   tokenDelta,
		APICallCount: 1,
		LastUpdated:  now.UTC(),
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "owner_id"}, {Name: "day"}},
		DoUpdates: clause.Assignments(map[string]any{
			"message_count":  gorm.Expr("usage_records.message_count + ?", messageDelta),
			"token_count":    gorm.Expr("usage_records.token_count + ?", tokenDelta),
			"api_call_count": gorm.Expr("usage_records.api_call_count + 1"),
			"last_updated":   now.UTC(),
		}),
	}).Create(rec).Error
}

// GetUsage returns the record for (ownerID, day). A missing row yields
// ErrNotFound; other query errors pass through.
func GetUsage(ctx context.Context, db *gorm.DB, ownerID, day string) (*domain.UsageRecord, error) {
	var u domain.UsageRecord
	err := db.WithContext(ctx).
		Where("owner_id = ? AND day = ?", ownerID, day).
		First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CountUsage returns how many daily records ownerID has.
func CountUsage(ctx context.Context, db *gorm.DB, ownerID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.UsageRecord{}).
		Where("owner_id = ?", ownerID).
		Count(&total).Error
	return total, err
}

// ListUsagePage returns a page of ownerID's records, most recent day first.
func ListUsagePage(ctx context.Context, db *gorm.DB, ownerID string, offset, limit int) ([]domain.UsageRecord, error) {
	var out []domain.UsageRecord
	err := db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("day desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
