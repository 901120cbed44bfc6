package repo

import (
	"context"
	"io/fs"
)

// Repository defines the interface for the audit data store.
type Repository interface {
	// Lifecycle
	Close()
	Ping(ctx context.Context) error
	RunMigrations(ctx context.Context, filesystem fs.FS) error

	// Users
	UpsertUserByTelegram(ctx context.Context, profile UserProfile) (*User, error)

	// Audit trail
	InsertMessage(ctx context.Context, msg MessageRecord) error
	InsertWebhookEvent(ctx context.Context, event WebhookEventRecord) error
}
