// Package services – ShareService
//
// Share links let anonymous visitors chat with one bot. Tokens are 256 random
// bits written as 64 hex characters. A link may carry an expiry; expired
// and unknown tokens are indistinguishable to callers.
package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-botrelay/internal/domain"
	"github.com/tbourn/go-botrelay/internal/repo"
)

// ShareIdempotencyOwner is the idempotency owner for share-link chat traffic;
// the slot's bot column holds the share token.
const ShareIdempotencyOwner = "share"

// ShareService creates, resolves, and revokes share links.
type ShareService struct {
	DB *gorm.DB
	// DefaultTTL applies when Create gets no ttl; 0 means links never expire.
	DefaultTTL time.Duration
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

func (s *ShareService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Create issues a link for an owned bot. A nil ttl uses DefaultTTL; a
// non-positive ttl creates a link that never expires.
func (s *ShareService) Create(ctx context.Context, ownerID, botID string, ttl *time.Duration) (*domain.ShareLink, error) {
	if _, err := repo.GetBot(ctx, s.DB, botID, ownerID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBotNotFound
		}
		return nil, err
	}

	d := s.DefaultTTL
	if ttl != nil {
		d = *ttl
	}
	var exp *time.Time
	if d > 0 {
		t := s.now().Add(d)
		exp = &t
	}
	tok, err := newShareToken()
	if err != nil {
		return nil, err
	}
	return repo.CreateShareLink(ctx, s.DB, tok, botID, ownerID, exp)
}

// Resolve returns a live link for token, or ErrShareNotFound.
func (s *ShareService) Resolve(ctx context.Context, token string) (*domain.ShareLink, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrShareNotFound
	}
	link, err := repo.GetShareLink(ctx, s.DB, token)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrShareNotFound
		}
		return nil, err
	}
	if link.Expired(s.now()) {
		zerolog.Ctx(ctx).Info().Str("bot_id", link.BotID).Msg("expired share link used")
		return nil, ErrShareNotFound
	}
	return link, nil
}

// Revoke deletes an owned link and the chat replies stored under it, so a
// retried request cannot replay them.
func (s *ShareService) Revoke(ctx context.Context, ownerID, token string) error {
	err := repo.DeleteShareLink(ctx, s.DB, token, ownerID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrShareNotFound
	}
	if err != nil {
		return err
	}
	if _, err := repo.DeleteIdempotencyScope(ctx, s.DB, ShareIdempotencyOwner, token); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("share revoked but stored replies remain")
	}
	return nil
}

// newShareToken returns 32 random bytes as 64 lowercase hex characters.
func newShareToken() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("share token: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}
