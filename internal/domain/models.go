// Package domain defines the persistence models for bots, share links, owner
// credentials, and daily usage. These types are mapped with GORM and form the
// core data layer of the relay.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Conversation roles accepted in chat history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// DefaultTemperature is the sampling temperature used when a bot has none.
const DefaultTemperature = 0.7

// Bot is an owner's chatbot configuration. The relay reads it as an immutable
// snapshot for the duration of one chat request.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - OwnerID: identifier of the owning account; indexed.
//   - Name / Goal / Description / Tone: prompt building blocks.
//   - PreferredModel: first upstream model tried by the relay.
//   - Temperature: sampling temperature in [0,2]; nil means DefaultTemperature.
//   - DeletedAt: soft deletion marker.
type Bot struct {
	ID             string         `json:"id"              gorm:"type:char(36);primaryKey"`
	OwnerID        string         `json:"owner_id"        gorm:"type:varchar(64);not null;index:idx_owner_bots"`
	Name           string         `json:"name"            gorm:"type:varchar(255);not null;default:'Untitled bot'"`
	Goal           string         `json:"goal"            gorm:"type:text"`
	Description    string         `json:"description"     gorm:"type:text"`
	Tone           string         `json:"tone"            gorm:"type:varchar(64)"`
	PreferredModel string         `json:"preferred_model" gorm:"type:varchar(128)"`
	Temperature    *float64       `json:"temperature,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `json:"-"               gorm:"index"`
}

// TableName returns the database table name for Bot.
func (Bot) TableName() string { return "bots" }

// EffectiveTemperature returns the bot temperature or DefaultTemperature.
func (b *Bot) EffectiveTemperature() float64 {
	if b == nil || b.Temperature == nil {
		return DefaultTemperature
	}
	return *b.Temperature
}

// ShareLink grants unauthenticated chat access to one bot. A nil ExpiresAt
// never expires.
type ShareLink struct {
	Token     string     `json:"token"      gorm:"type:varchar(64);primaryKey"`
	BotID     string     `json:"bot_id"     gorm:"type:char(36);not null;index"`
	OwnerID   string     `json:"owner_id"   gorm:"type:varchar(64);not null;index"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`

	Bot Bot `json:"-" gorm:"foreignKey:BotID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for ShareLink.
func (ShareLink) TableName() string { return "share_links" }

// Expired reports whether the link is no longer valid at now.
func (s *ShareLink) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && !now.Before(*s.ExpiresAt)
}

// Credential holds an owner's upstream API key sealed at rest.
type Credential struct {
	OwnerID    string    `json:"owner_id" gorm:"type:varchar(64);primaryKey"`
	Provider   string    `json:"provider" gorm:"type:varchar(32);primaryKey"`
	Ciphertext []byte    `json:"-"        gorm:"not null"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TableName returns the database table name for Credential.
func (Credential) TableName() string { return "credentials" }

// UsageRecord is the per-owner, per-day usage counter. Day is a UTC calendar
// date formatted as YYYY-MM-DD. Counters only grow.
type UsageRecord struct {
	OwnerID      string    `json:"owner_id"       gorm:"type:varchar(64);primaryKey"`
	Day          string    `json:"day"            gorm:"type:char(10);primaryKey"`
	MessageCount int64     `json:"message_count"  gorm:"not null;default:0"`
	TokenCount   int64     `json:"token_count"    gorm:"not null;default:0"`
	APICallCount int64     `json:"api_call_count" gorm:"not null;default:0"`
	LastUpdated  time.Time `json:"last_updated"   gorm:"not null"`
}

// TableName returns the database table name for UsageRecord.
func (UsageRecord) TableName() string { return "usage_records" }

// Turn is one prior exchange in a chat history. It is not persisted.
type Turn struct {
	Role    string `json:"role"    binding:"required,oneof=user assistant" example:"user"`
	Content string `json:"content" binding:"required"                      example:"What are your opening hours?"`
}
