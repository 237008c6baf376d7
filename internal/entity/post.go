package entity

import (
	"fmt"
	"time"
)

// PostStatus is the closed set of states a scheduled post can be in.
type PostStatus string

const (
	// StatusScheduled means the post is waiting for its scheduled_at to pass.
	StatusScheduled PostStatus = "scheduled"
	// StatusPublishing marks a post claimed by an in-flight publish attempt.
	// A row still in this state at process startup is a crash artifact.
	StatusPublishing PostStatus = "publishing"
	// StatusPublished is terminal: the post reached the platform.
	StatusPublished PostStatus = "published"
	// StatusFailed is terminal: all retries were exhausted.
	StatusFailed PostStatus = "failed"
)

// ParsePostStatus rejects anything outside the four known states so invalid
// values cannot cross the storage boundary.
func ParsePostStatus(s string) (PostStatus, error) {
	switch PostStatus(s) {
	case StatusScheduled, StatusPublishing, StatusPublished, StatusFailed:
		return PostStatus(s), nil
	}
	return "", fmt.Errorf("unknown post status %q", s)
}

// MaxContentLength is the cap shared by both supported platforms.
const MaxContentLength = 500

type Post struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	AccountID    string     `json:"account_id"`
	Platform     string     `json:"platform"`
	Content      string     `json:"content"`
	ScheduledAt  time.Time  `json:"scheduled_at"`
	PublishedAt  *time.Time `json:"published_at,omitempty"`
	Status       PostStatus `json:"status"`
	RetryCount   int        `json:"retry_count"`
	LastError    string     `json:"last_error,omitempty"`
	PublishedURL string     `json:"published_url,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
