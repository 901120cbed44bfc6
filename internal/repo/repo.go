package repo

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository provides typed access to the audit database.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New opens a new connection pool to the database.
func New(ctx context.Context, databaseURL string, logger *slog.Logger) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	r := &PostgresRepository{
		pool:   pool,
		logger: logger.With("component", "repo"),
	}

	if err := r.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

// Close releases the connection pool.
func (r *PostgresRepository) Close() {
	if r.pool != nil {
		r.pool.Close()
	}
}

// Ping ensures the database is reachable.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// UpsertUserByTelegram stores or updates the user profile based on Telegram ID.
func (r *PostgresRepository) UpsertUserByTelegram(ctx context.Context, profile UserProfile) (*User, error) {
	const q = `
INSERT INTO users (telegram_id, display_name, is_shop, updated_at)
VALUES ($1, $2, COALESCE($3, FALSE), NOW())
ON CONFLICT (telegram_id) DO UPDATE SET
    display_name = COALESCE(EXCLUDED.display_name, users.display_name),
    is_shop = COALESCE($3, users.is_shop),
    updated_at = NOW()
RETURNING id, telegram_id, display_name, is_shop, created_at, updated_at;
`
	row := r.pool.QueryRow(ctx, q,
		profile.TelegramID,
		profile.DisplayName,
		profile.IsShop,
	)

	var u User
	if err := row.Scan(&u.ID, &u.TelegramID, &u.DisplayName, &u.IsShop, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return &u, nil
}

// InsertMessage stores a message record for auditing purposes.
func (r *PostgresRepository) InsertMessage(ctx context.Context, msg MessageRecord) error {
	const q = `
INSERT INTO messages (telegram_id, direction, kind, content)
VALUES ($1, $2, $3, $4);
`
	_, err := r.pool.Exec(ctx, q,
		msg.TelegramID,
		msg.Direction,
		msg.Kind,
		msg.Content,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// InsertWebhookEvent stores a received webhook notification.
func (r *PostgresRepository) InsertWebhookEvent(ctx context.Context, event WebhookEventRecord) error {
	const q = `
INSERT INTO webhook_events (id, event_type, status, raw_payload)
VALUES ($1, $2, $3, $4);
`
	_, err := r.pool.Exec(ctx, q,
		event.ID,
		event.Type,
		event.Status,
		string(event.RawPayload),
	)
	if err != nil {
		return fmt.Errorf("insert webhook event: %w", err)
	}
	return nil
}
