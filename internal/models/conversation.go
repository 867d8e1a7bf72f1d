package models

import (
	"time"

	"gorm.io/datatypes"
)

type Conversation struct {
	ID           string    `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Title        string    `gorm:"column:title;type:text;not null;default:'New Chat'" json:"title"`
	SystemPrompt string    `gorm:"column:system_prompt;type:text" json:"system_prompt,omitempty"`
	CreatedAt    time.Time `gorm:"column:created_at;type:timestamptz" json:"created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at;type:timestamptz;index" json:"updated_at"`
}

func (Conversation) TableName() string { return "conversations" }

// Message is one turn entry. Seq is the append sequence within the
// conversation; history order is Seq order, never timestamps.
type Message struct {
	ID             string         `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	ConversationID string         `gorm:"column:conversation_id;type:uuid;index" json:"conversation_id"`
	Seq            int64          `gorm:"column:seq;type:bigint;not null" json:"seq"`
	Role           string         `gorm:"column:role;type:text;not null" json:"role"` // "system" | "user" | "assistant"
	Content        string         `gorm:"column:content;type:text;not null" json:"content"`
	Parts          datatypes.JSON `gorm:"column:parts;type:jsonb" json:"parts,omitempty"` // multimodal parts, null for plain text

	// Provenance, denormalized: survives deletion of the provider.
	Provider string `gorm:"column:provider;type:text" json:"provider,omitempty"`
	Model    string `gorm:"column:model;type:text" json:"model,omitempty"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz" json:"created_at"`
}

func (Message) TableName() string { return "messages" }

// ConversationSummary is the list-view projection.
type ConversationSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Preview      string    `json:"preview,omitempty"`
	MessageCount int64     `json:"message_count"`
}
