package entity

import "time"

// Supported platform identifiers. The dispatch registry is keyed by these.
const (
	PlatformMastodon = "mastodon"
	PlatformBluesky  = "bluesky"
)

type Account struct {
	ID                   string     `json:"id"`
	UserID               string     `json:"user_id"`
	Platform             string     `json:"platform"`
	AccountID            string     `json:"account_id"`
	DisplayName          string     `json:"display_name,omitempty"`
	AvatarURL            string     `json:"avatar_url,omitempty"`
	InstanceURL          string     `json:"instance_url,omitempty"`
	EncryptedCredentials string     `json:"-"`
	IsActive             bool       `json:"is_active"`
	LastSyncedAt         *time.Time `json:"last_synced_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// OAuthState holds Mastodon client credentials between the connect and
// callback steps of the OAuth flow. Rows older than 15 minutes are expired.
type OAuthState struct {
	ID           string    `json:"id"`
	StateToken   string    `json:"state_token"`
	UserID       string    `json:"user_id"`
	InstanceURL  string    `json:"instance_url"`
	ClientID     string    `json:"client_id"`
	ClientSecret string    `json:"client_secret"`
	CreatedAt    time.Time `json:"created_at"`
}
