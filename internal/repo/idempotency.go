// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the Idempotency
// model used to replay chat replies on client retries.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-botrelay/internal/domain"
)

// ErrDuplicate indicates that an idempotency record already exists for the
// given (owner_id, bot_id, key) tuple.
var ErrDuplicate = errors.New("duplicate")

// IdempotentReply is the stored outcome of a chat request.
type IdempotentReply struct {
	Reply      string
	Model      string
	TokensUsed int
	Status     int
}

// GetIdempotency returns a non-expired record or ErrNotFound.
func GetIdempotency(ctx context.Context, db *gorm.DB, ownerID, botID, key string, now time.Time) (*domain.Idempotency, error) {
	if strings.TrimSpace(botID) == "" {
		return nil, ErrNotFound
	}
	var rec domain.Idempotency
	err := db.WithContext(ctx).
		Where("owner_id = ? AND bot_id = ? AND key = ? AND expires_at > ?", ownerID, botID, key, now).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateIdempotency inserts a record and returns ErrDuplicate on unique violation.
func CreateIdempotency(ctx context.Context, db *gorm.DB, ownerID, botID, key string, out IdempotentReply, ttl time.Duration) (*domain.Idempotency, error) {
	now := time.Now().UTC()
	rec := &domain.Idempotency{
		ID:         uuid.NewString(),
		OwnerID:    ownerID,
		BotID:      botID,
		Key:        key,
		Reply:      out.Reply,
		Model:      out.Model,
		TokensUsed: out.TokensUsed,
		Status:     out.Status,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
	err := db.WithContext(ctx).Create(rec).Error
	switch {
	case err == nil:
		return rec, nil
	case isUniqueViolation(err):
		return nil, ErrDuplicate
	default:
		return nil, err
	}
}

// isUniqueViolation recognizes unique-constraint failures from both drivers.
// glebarez/sqlite reports them as plain text rather than gorm.ErrDuplicatedKey.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, frag := range []string{"unique constraint failed", "constraint failed: unique", "duplicate key value"} {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}

// DeleteIdempotencyScope removes every stored reply in the (ownerID, botID)
// slot and reports how many rows went.
func DeleteIdempotencyScope(ctx context.Context, db *gorm.DB, ownerID, botID string) (int64, error) {
	res := db.WithContext(ctx).
		Where("owner_id = ? AND bot_id = ?", ownerID, botID).
		Delete(&domain.Idempotency{})
	return res.RowsAffected, res.Error
}
