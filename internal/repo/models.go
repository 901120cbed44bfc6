package repo

import "time"

// User represents the users table row.
type User struct {
	ID          string
	TelegramID  string
	DisplayName *string
	IsShop      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// UserProfile carries data used to upsert a user.
type UserProfile struct {
	TelegramID  string
	DisplayName *string
	IsShop      *bool
}

// MessageRecord is used to persist conversation logs.
type MessageRecord struct {
	TelegramID string
	Direction  string
	Kind       string
	Content    *string
	CreatedAt  time.Time
}

// WebhookEventRecord stores a received webhook notification for auditing.
type WebhookEventRecord struct {
	ID         string
	Type       string
	Status     string
	RawPayload []byte
	CreatedAt  time.Time
}
