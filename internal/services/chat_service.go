// Package services – ChatService
//
// ChatService runs one chat request end to end: resolve the acting identity
// (owner token or public share link), load the bot and the upstream key, hand
// the conversation to the ModelRelay, then record usage against the bot's
// owner. Identity problems are rejected before any upstream call is made.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-botrelay/internal/domain"
	"github.com/tbourn/go-botrelay/internal/repo"
)

// Relayer produces a reply through the model-fallback loop.
type Relayer interface {
	Relay(ctx context.Context, bot *domain.Bot, apiKey, systemPrompt string, history []domain.Turn, message string) (*RelayResult, error)
}

// KeyResolver returns the upstream API key for an owner.
type KeyResolver interface {
	OpenRouterKey(ctx context.Context, ownerID string) (string, error)
}

// ShareResolver maps a share token to a live link.
type ShareResolver interface {
	Resolve(ctx context.Context, token string) (*domain.ShareLink, error)
}

// UsageRecorder accumulates daily usage. It never fails the caller.
type UsageRecorder interface {
	Record(ctx context.Context, ownerID, day string, messageDelta, tokenDelta int64) bool
}

// ChatRequest is one inbound chat turn.
type ChatRequest struct {
	// OwnerID is the authenticated caller, "" when anonymous.
	OwnerID    string
	BotID      string
	ShareToken string
	IsPublic   bool
	Message    string
	History    []domain.Turn
}

// ChatReply is the relay outcome returned to the caller.
type ChatReply struct {
	Reply      string `json:"reply"`
	Model      string `json:"model"`
	TokensUsed int    `json:"tokens_used"`
	Attempts   int    `json:"-"`
	OwnerID    string `json:"-"`
	BotID      string `json:"-"`
}

// ChatService orchestrates identity, bot, credential, relay, and usage.
type ChatService struct {
	DB          *gorm.DB
	Relay       Relayer
	Credentials KeyResolver
	Shares      ShareResolver
	Usage       UsageRecorder

	// MaxMessageRunes caps the user message; 0 disables the check.
	MaxMessageRunes int
	// MaxHistory keeps only the most recent turns; 0 keeps all.
	MaxHistory int
}

// Chat validates req, resolves the target bot, and relays the message.
func (s *ChatService) Chat(ctx context.Context, req ChatRequest) (*ChatReply, error) {
	tr := otel.Tracer("services/ChatService")
	ctx, span := tr.Start(ctx, "Chat",
		trace.WithAttributes(
			attribute.String("bot.id", req.BotID),
			attribute.Bool("chat.public", req.IsPublic || req.ShareToken != ""),
		),
	)
	defer span.End()

	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return nil, fmt.Errorf("%w: message is empty", ErrInvalidRequest)
	}
	if s.MaxMessageRunes > 0 && utf8.RuneCountInString(msg) > s.MaxMessageRunes {
		return nil, fmt.Errorf("%w: message exceeds %d characters", ErrInvalidRequest, s.MaxMessageRunes)
	}
	history, err := s.history(req.History)
	if err != nil {
		return nil, err
	}

	bot, err := s.resolveBot(ctx, req)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("owner.id", bot.OwnerID))

	key, err := s.Credentials.OpenRouterKey(ctx, bot.OwnerID)
	if err != nil {
		return nil, err
	}

	res, err := s.Relay.Relay(ctx, bot, key, BuildSystemPrompt(bot), history, msg)
	if err != nil {
		return nil, err
	}

	if s.Usage != nil {
		s.Usage.Record(ctx, bot.OwnerID, "", 1, int64(res.TokensUsed))
	}

	zerolog.Ctx(ctx).Info().
		Str("bot_id", bot.ID).
		Str("model", res.Model).
		Int("attempts", res.Attempts).
		Int("tokens", res.TokensUsed).
		Msg("chat relayed")

	return &ChatReply{
		Reply:      res.Reply,
		Model:      res.Model,
		TokensUsed: res.TokensUsed,
		Attempts:   res.Attempts,
		OwnerID:    bot.OwnerID,
		BotID:      bot.ID,
	}, nil
}

// resolveBot applies the identity rules: a share token addresses its bot for
// anyone; otherwise the caller must be authenticated and own the bot.
func (s *ChatService) resolveBot(ctx context.Context, req ChatRequest) (*domain.Bot, error) {
	token := strings.TrimSpace(req.ShareToken)
	if token != "" {
		link, err := s.Shares.Resolve(ctx, token)
		if err != nil {
			return nil, err
		}
		if req.BotID != "" && req.BotID != link.BotID {
			return nil, ErrShareNotFound
		}
		return s.loadBot(ctx, link.BotID)
	}
	if req.IsPublic {
		return nil, fmt.Errorf("%w: public chat requires a share token", ErrInvalidRequest)
	}

	if req.OwnerID == "" {
		return nil, ErrUnauthorized
	}
	if strings.TrimSpace(req.BotID) == "" {
		return nil, fmt.Errorf("%w: chatbotId is required", ErrInvalidRequest)
	}
	bot, err := s.loadBot(ctx, req.BotID)
	if err != nil {
		return nil, err
	}
	if bot.OwnerID != req.OwnerID {
		return nil, ErrUnauthorized
	}
	return bot, nil
}

func (s *ChatService) loadBot(ctx context.Context, id string) (*domain.Bot, error) {
	bot, err := repo.GetBotByID(ctx, s.DB, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBotNotFound
	}
	return bot, err
}

// history validates roles and trims to MaxHistory most recent turns.
func (s *ChatService) history(in []domain.Turn) ([]domain.Turn, error) {
	for i, t := range in {
		if t.Role != domain.RoleUser && t.Role != domain.RoleAssistant {
			return nil, fmt.Errorf("%w: history[%d].role must be user or assistant", ErrInvalidRequest, i)
		}
	}
	if s.MaxHistory > 0 && len(in) > s.MaxHistory {
		in = in[len(in)-s.MaxHistory:]
	}
	return in, nil
}
