package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AccountModel struct {
	ID                   string `gorm:"type:uuid;primary_key"`
	UserID               string `gorm:"type:uuid;not null;index"`
	Platform             string `gorm:"type:varchar(20);not null"`
	AccountID            string `gorm:"not null"`
	DisplayName          string
	AvatarURL            string
	InstanceURL          string
	EncryptedCredentials string `gorm:"type:text;not null"`
	IsActive             bool   `gorm:"not null;default:true"`
	LastSyncedAt         *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (AccountModel) TableName() string {
	return "accounts"
}

func (a *AccountModel) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	return nil
}

type OAuthStateModel struct {
	ID           string `gorm:"type:uuid;primary_key"`
	StateToken   string `gorm:"uniqueIndex;not null"`
	UserID       string `gorm:"type:uuid;not null;index"`
	InstanceURL  string `gorm:"not null"`
	ClientID     string `gorm:"not null"`
	ClientSecret string `gorm:"not null"`
	CreatedAt    time.Time
}

func (OAuthStateModel) TableName() string {
	return "mastodon_oauth_states"
}

func (s *OAuthStateModel) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	return nil
}
