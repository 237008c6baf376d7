package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PostModel struct {
	ID           string     `gorm:"type:uuid;primary_key"`
	UserID       string     `gorm:"type:uuid;not null;index"`
	AccountID    string     `gorm:"type:uuid;not null;index"`
	Platform     string     `gorm:"type:varchar(20);not null"`
	Content      string     `gorm:"type:varchar(500);not null"`
	ScheduledAt  time.Time  `gorm:"not null;index"`
	PublishedAt  *time.Time `gorm:"index"`
	Status       string     `gorm:"type:varchar(20);not null;default:'scheduled';index"`
	RetryCount   int        `gorm:"not null;default:0"`
	LastError    string     `gorm:"type:text"`
	PublishedURL string     `gorm:"type:text"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (PostModel) TableName() string {
	return "posts"
}

func (p *PostModel) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	return nil
}
