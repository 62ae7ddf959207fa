// Package services – BotService
//
// This file implements BotService, which manages bot configurations owned by
// an account. It normalizes display text, validates the sampling temperature
// and model id, and enforces ownership on reads and updates. Service-level
// errors (ErrBotNotFound, ErrInvalidBot) let handlers map outcomes to HTTP
// results consistently.
package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/tbourn/go-botrelay/internal/domain"
	"github.com/tbourn/go-botrelay/internal/utils"
)

// BotRepo defines the repository contract required by BotService.
type BotRepo interface {
	// CreateBot inserts b with a fresh id and timestamps.
	CreateBot(ctx context.Context, db *gorm.DB, b *domain.Bot) (*domain.Bot, error)
	// GetBot fetches a bot by id, scoped to its owner.
	GetBot(ctx context.Context, db *gorm.DB, id, ownerID string) (*domain.Bot, error)
	// UpdateBot applies column updates to an owned bot.
	UpdateBot(ctx context.Context, db *gorm.DB, id, ownerID string, fields map[string]any) error
	// CountBots returns the total number of bots for pagination.
	CountBots(ctx context.Context, db *gorm.DB, ownerID string) (int64, error)
	// ListBotsPage returns a page of an owner's bots.
	ListBotsPage(ctx context.Context, db *gorm.DB, ownerID string, offset, limit int) ([]domain.Bot, error)
}

// BotInput carries the editable fields of a bot. Nil pointers leave a field
// unchanged on update and use the default on create.
type BotInput struct {
	Name           *string
	Goal           *string
	Description    *string
	Tone           *string
	PreferredModel *string
	Temperature    *float64
}

// BotService provides bot CRUD operations.
type BotService struct {
	DB   *gorm.DB
	Repo BotRepo

	// NameMaxLen caps stored names by rune length.
	NameMaxLen int
	// TextMaxLen caps goal and description by rune length.
	TextMaxLen int
	// Locale drives tone case folding.
	Locale language.Tag
}

// NewBotService constructs a BotService with default limits.
func NewBotService(db *gorm.DB, r BotRepo) *BotService {
	return &BotService{
		DB:         db,
		Repo:       r,
		NameMaxLen: 80,
		TextMaxLen: 4000,
		Locale:     language.English,
	}
}

// Create inserts a bot owned by ownerID.
func (s *BotService) Create(ctx context.Context, ownerID string, in BotInput) (*domain.Bot, error) {
	tr := otel.Tracer("services/BotService")
	ctx, span := tr.Start(ctx, "Create", trace.WithAttributes(attribute.String("owner.id", ownerID)))
	defer span.End()

	fields, err := s.normalize(in)
	if err != nil {
		return nil, err
	}
	b := &domain.Bot{OwnerID: ownerID, Name: "Untitled bot"}
	if v, ok := fields["name"].(string); ok && v != "" {
		b.Name = v
	}
	b.Goal, _ = fields["goal"].(string)
	b.Description, _ = fields["description"].(string)
	b.Tone, _ = fields["tone"].(string)
	b.PreferredModel, _ = fields["preferred_model"].(string)
	if t, ok := fields["temperature"].(float64); ok {
		b.Temperature = &t
	}
	return s.Repo.CreateBot(ctx, s.DB, b)
}

// Get returns an owned bot or ErrBotNotFound.
func (s *BotService) Get(ctx context.Context, ownerID, id string) (*domain.Bot, error) {
	b, err := s.Repo.GetBot(ctx, s.DB, id, ownerID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBotNotFound
	}
	return b, err
}

// ListPage returns a page of ownerID's bots and the total count.
func (s *BotService) ListPage(ctx context.Context, ownerID string, page, pageSize int) ([]domain.Bot, int64, error) {
	p := utils.NewPage(page, pageSize)

	total, err := s.Repo.CountBots(ctx, s.DB, ownerID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Bot{}, 0, nil
	}

	items, err := s.Repo.ListBotsPage(ctx, s.DB, ownerID, p.Offset(), p.Size)
	return items, total, err
}

// Update applies in to an owned bot and returns the new state.
func (s *BotService) Update(ctx context.Context, ownerID, id string, in BotInput) (*domain.Bot, error) {
	tr := otel.Tracer("services/BotService")
	ctx, span := tr.Start(ctx, "Update", trace.WithAttributes(
		attribute.String("owner.id", ownerID),
		attribute.String("bot.id", id),
	))
	defer span.End()

	fields, err := s.normalize(in)
	if err != nil {
		return nil, err
	}
	if v, ok := fields["name"].(string); ok && v == "" {
		fields["name"] = "Untitled bot"
	}
	if err := s.Repo.UpdateBot(ctx, s.DB, id, ownerID, fields); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBotNotFound
		}
		return nil, err
	}
	return s.Get(ctx, ownerID, id)
}

// normalize validates in and returns the column updates it implies.
func (s *BotService) normalize(in BotInput) (map[string]any, error) {
	fields := map[string]any{}
	if in.Name != nil {
		fields["name"] = clipRunes(collapseSpace(*in.Name), s.NameMaxLen)
	}
	if in.Goal != nil {
		fields["goal"] = clipRunes(strings.TrimSpace(*in.Goal), s.TextMaxLen)
	}
	if in.Description != nil {
		fields["description"] = clipRunes(strings.TrimSpace(*in.Description), s.TextMaxLen)
	}
	if in.Tone != nil {
		fields["tone"] = clipRunes(cases.Lower(s.Locale).String(collapseSpace(*in.Tone)), 64)
	}
	if in.PreferredModel != nil {
		m := strings.TrimSpace(*in.PreferredModel)
		if m != "" && !modelIDRE.MatchString(m) {
			return nil, fmt.Errorf("%w: preferred_model %q is not a model id", ErrInvalidBot, m)
		}
		fields["preferred_model"] = m
	}
	if in.Temperature != nil {
		t := *in.Temperature
		if t < 0 || t > 2 {
			return nil, fmt.Errorf("%w: temperature must be between 0 and 2", ErrInvalidBot)
		}
		fields["temperature"] = t
	}
	return fields, nil
}

// clipRunes truncates s to max runes; max <= 0 disables clipping.
func clipRunes(s string, max int) string {
	if max > 0 && utf8.RuneCountInString(s) > max {
		return string([]rune(s)[:max])
	}
	return s
}

// collapseSpace trims and collapses runs of whitespace to one space.
func collapseSpace(s string) string {
	return whitespaceRE.ReplaceAllString(strings.TrimSpace(s), " ")
}

var (
	whitespaceRE = regexp.MustCompile(`\s+`)
	// OpenRouter ids look like "vendor/model" with an optional ":variant".
	modelIDRE = regexp.MustCompile(`^[A-Za-z0-9._-]+/[A-Za-z0-9._:-]+$`)
)
