package models

import (
	"time"

	"gorm.io/datatypes"
)

type Prompt struct {
	ID         string         `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Title      string         `gorm:"column:title;type:text;not null" json:"title"`
	Content    string         `gorm:"column:content;type:text;not null" json:"content"`
	Category   string         `gorm:"column:category;type:text;not null;default:'General';index" json:"category"`
	Tags       datatypes.JSON `gorm:"column:tags;type:jsonb" json:"tags"`
	IsFavorite bool           `gorm:"column:is_favorite;not null;default:false" json:"is_favorite"`
	CreatedAt  time.Time      `gorm:"column:created_at;type:timestamptz" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"column:updated_at;type:timestamptz;index" json:"updated_at"`
}

func (Prompt) TableName() string { return "prompts" }
