// Package services – UsageService
//
// UsageService accumulates per-owner, per-UTC-day counters. Recording is a
// single atomic upsert, so concurrent requests for the same owner never lose
// increments. Record never fails the caller: persistence problems are logged
// as warnings and swallowed, since the reply has already been produced.
package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-botrelay/internal/domain"
	"github.com/tbourn/go-botrelay/internal/repo"
	"github.com/tbourn/go-botrelay/internal/utils"
)

// UsageService records and lists daily usage.
type UsageService struct {
	DB *gorm.DB
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

func (s *UsageService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Today returns the current UTC day key.
func (s *UsageService) Today() string { return repo.DayOf(s.now()) }

// Record adds messageDelta messages and tokenDelta tokens to ownerID's row for
// day, creating it when missing, and counts one API call. It returns whether
// the write succeeded; failures are logged, never returned.
func (s *UsageService) Record(ctx context.Context, ownerID, day string, messageDelta, tokenDelta int64) bool {
	tr := otel.Tracer("services/UsageService")
	ctx, span := tr.Start(ctx, "Record",
		trace.WithAttributes(
			attribute.String("owner.id", ownerID),
			attribute.String("usage.day", day),
			attribute.Int64("usage.tokens", tokenDelta),
		),
	)
	defer span.End()

	if day == "" {
		day = s.Today()
	}
	if err := repo.IncrementUsage(ctx, s.DB, ownerID, day, messageDelta, tokenDelta, s.now()); err != nil {
		zerolog.Ctx(ctx).Warn().
			Err(err).
			Str("owner_id", ownerID).
			Str("day", day).
			Int64("tokens", tokenDelta).
			Msg("usage record failed")
		span.RecordError(err)
		return false
	}
	return true
}

// ListPage returns a page of ownerID's daily records, newest day first, and
// the total count.
func (s *UsageService) ListPage(ctx context.Context, ownerID string, page, pageSize int) ([]domain.UsageRecord, int64, error) {
	tr := otel.Tracer("services/UsageService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("owner.id", ownerID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	p := utils.NewPage(page, pageSize)

	total, err := repo.CountUsage(ctx, s.DB, ownerID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.UsageRecord{}, 0, nil
	}
	items, err := repo.ListUsagePage(ctx, s.DB, ownerID, p.Offset(), p.Size)
	return items, total, err
}
