package persistent

import (
	"tootplan/internal/entity"
	"tootplan/internal/model"
)

// ToPostEntity validates the stored status so a row with an unknown state
// never reaches the engine.
func ToPostEntity(m *model.PostModel) (*entity.Post, error) {
	if m == nil {
		return nil, nil
	}

	status, err := entity.ParsePostStatus(m.Status)
	if err != nil {
		return nil, err
	}

	return &entity.Post{
		ID:           m.ID,
		UserID:       m.UserID,
		AccountID:    m.AccountID,
		Platform:     m.Platform,
		Content:      m.Content,
		ScheduledAt:  m.ScheduledAt,
		PublishedAt:  m.PublishedAt,
		Status:       status,
		RetryCount:   m.RetryCount,
		LastError:    m.LastError,
		PublishedURL: m.PublishedURL,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}, nil
}

func ToPostModel(e *entity.Post) *model.PostModel {
	if e == nil {
		return nil
	}

	return &model.PostModel{
		ID:           e.ID,
		UserID:       e.UserID,
		AccountID:    e.AccountID,
		Platform:     e.Platform,
		Content:      e.Content,
		ScheduledAt:  e.ScheduledAt,
		PublishedAt:  e.PublishedAt,
		Status:       string(e.Status),
		RetryCount:   e.RetryCount,
		LastError:    e.LastError,
		PublishedURL: e.PublishedURL,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}
}

func ToAccountEntity(m *model.AccountModel) *entity.Account {
	if m == nil {
		return nil
	}

	return &entity.Account{
		ID:                   m.ID,
		UserID:               m.UserID,
		Platform:             m.Platform,
		AccountID:            m.AccountID,
		DisplayName:          m.DisplayName,
		AvatarURL:            m.AvatarURL,
		InstanceURL:          m.InstanceURL,
		EncryptedCredentials: m.EncryptedCredentials,
		IsActive:             m.IsActive,
		LastSyncedAt:         m.LastSyncedAt,
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
	}
}

func ToAccountModel(e *entity.Account) *model.AccountModel {
	if e == nil {
		return nil
	}

	return &model.AccountModel{
		ID:                   e.ID,
		UserID:               e.UserID,
		Platform:             e.Platform,
		AccountID:            e.AccountID,
		DisplayName:          e.DisplayName,
		AvatarURL:            e.AvatarURL,
		InstanceURL:          e.InstanceURL,
		EncryptedCredentials: e.EncryptedCredentials,
		IsActive:             e.IsActive,
		LastSyncedAt:         e.LastSyncedAt,
		CreatedAt:            e.CreatedAt,
		UpdatedAt:            e.UpdatedAt,
	}
}

func ToOAuthStateEntity(m *model.OAuthStateModel) *entity.OAuthState {
	if m == nil {
		return nil
	}

	return &entity.OAuthState{
		ID:           m.ID,
		StateToken:   m.StateToken,
		UserID:       m.UserID,
		InstanceURL:  m.InstanceURL,
		ClientID:     m.ClientID,
		ClientSecret: m.ClientSecret,
		CreatedAt:    m.CreatedAt,
	}
}

func ToOAuthStateModel(e *entity.OAuthState) *model.OAuthStateModel {
	if e == nil {
		return nil
	}

	return &model.OAuthStateModel{
		ID:           e.ID,
		StateToken:   e.StateToken,
		UserID:       e.UserID,
		InstanceURL:  e.InstanceURL,
		ClientID:     e.ClientID,
		ClientSecret: e.ClientSecret,
		CreatedAt:    e.CreatedAt,
	}
}

func ToUserEntity(m *model.UserModel) *entity.User {
	if m == nil {
		return nil
	}

	return &entity.User{
		ID:           m.ID,
		Username:     m.Username,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func ToUserModel(e *entity.User) *model.UserModel {
	if e == nil {
		return nil
	}

	return &model.UserModel{
		ID:           e.ID,
		Username:     e.Username,
		Email:        e.Email,
		PasswordHash: e.PasswordHash,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}
}
