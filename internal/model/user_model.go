package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type UserModel struct {
	ID           string `gorm:"type:uuid;primary_key"`
	Username     string `gorm:"uniqueIndex;not null;size:50"`
	Email        string `gorm:"index"`
	PasswordHash string `gorm:"not null;size:60"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (UserModel) TableName() string {
	return "users"
}

func (u *UserModel) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	return nil
}
