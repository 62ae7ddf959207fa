package domain

import "time"

// Idempotency records the reply produced for a chat request, keyed by
// (owner_id, bot_id, key). A retry with the same Idempotency-Key replays the
// stored reply instead of calling the upstream models again.
type Idempotency struct {
	ID         string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	OwnerID    string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_owner_bot_key,priority:1"`
	BotID      string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_owner_bot_key,priority:2"`
	Key        string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_owner_bot_key,priority:3"`
	Reply      string    `gorm:"type:TEXT NOT NULL"`
	Model      string    `gorm:"type:TEXT NOT NULL"`
	TokensUsed int       `gorm:"type:INTEGER NOT NULL"`
	Status     int       `gorm:"type:INTEGER NOT NULL"`
	CreatedAt  time.Time `gorm:"not null;autoCreateTime"`
	ExpiresAt  time.Time `gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
