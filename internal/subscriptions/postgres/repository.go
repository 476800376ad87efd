// Package postgres provides PostgreSQL implementation of the subscriptions
// repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/beaconhq/beacon/internal/domain"
	"github.com/beaconhq/beacon/internal/subscriptions"
)

const uniqueViolation = "23505"

// activeIdentityIndex is the partial unique index guarding one active
// subscription per (page, channel, identity).
const activeIdentityIndex = "uniq_subscribers_active"

const subscriberColumns = `
	id, page_id, channel_type,
	COALESCE(email, ''), COALESCE(webhook_url, ''), COALESCE(channel_config::text, ''),
	token, accepted_at, expires_at, unsubscribed_at, created_at, updated_at`

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Repository implements subscriptions.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Create inserts the subscriber and its component scope in one transaction.
func (r *Repository) Create(ctx context.Context, sub *domain.Subscriber) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	query := `
		INSERT INTO subscribers (id, page_id, channel_type, email, webhook_url, channel_config, token, expires_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, '')::jsonb, $7, $8)
		RETURNING created_at, updated_at
	`
	err = tx.QueryRow(ctx, query,
		sub.ID, sub.PageID, sub.Channel, sub.Email, sub.WebhookURL,
		sub.ChannelConfig, sub.Token, sub.ExpiresAt,
	).Scan(&sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == activeIdentityIndex {
			return subscriptions.ErrDuplicateActive
		}
		return fmt.Errorf("insert subscriber: %w", err)
	}

	if err := insertComponents(ctx, tx, sub.ID, sub.ComponentIDs); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// GetByToken retrieves a subscriber by its management token.
func (r *Repository) GetByToken(ctx context.Context, token string) (*domain.Subscriber, error) {
	return r.getOne(ctx, r.db, `WHERE token = $1`, token)
}

// FindActive retrieves the not-unsubscribed row for the identity, matching
// case-insensitively.
func (r *Repository) FindActive(ctx context.Context, pageID int64, channel domain.ChannelType, identity string) (*domain.Subscriber, error) {
	where := `
		WHERE page_id = $1 AND channel_type = $2
		  AND LOWER(COALESCE(email, webhook_url)) = LOWER($3)
		  AND unsubscribed_at IS NULL`
	return r.getOne(ctx, r.db, where, pageID, channel, identity)
}

// MergeComponents replaces the scope with the merged set and refreshes the
// verification deadline atomically.
func (r *Repository) MergeComponents(ctx context.Context, id string, componentIDs []int64, expiresAt time.Time) (*domain.Subscriber, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, `
		UPDATE subscribers SET expires_at = $2, updated_at = NOW()
		WHERE id = $1
	`, id, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("refresh deadline: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, subscriptions.ErrSubscriptionNotFound
	}

	if err := replaceComponents(ctx, tx, id, componentIDs); err != nil {
		return nil, err
	}
	sub, err := r.getOne(ctx, tx, `WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return sub, nil
}

// Accept sets accepted_at once and clears the verification deadline.
func (r *Repository) Accept(ctx context.Context, id string) (*domain.Subscriber, error) {
	_, err := r.db.Exec(ctx, `
		UPDATE subscribers
		SET accepted_at = NOW(), expires_at = NULL, updated_at = NOW()
		WHERE id = $1 AND accepted_at IS NULL
	`, id)
	if err != nil {
		return nil, fmt.Errorf("accept subscriber: %w", err)
	}
	return r.getOne(ctx, r.db, `WHERE id = $1`, id)
}

// ReplaceComponents swaps the full component scope in one transaction.
func (r *Repository) ReplaceComponents(ctx context.Context, id string, componentIDs []int64) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, `UPDATE subscribers SET updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("touch subscriber: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return subscriptions.ErrSubscriptionNotFound
	}

	if err := replaceComponents(ctx, tx, id, componentIDs); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Unsubscribe sets unsubscribed_at once.
func (r *Repository) Unsubscribe(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE subscribers SET unsubscribed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND unsubscribed_at IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("unsubscribe subscriber: %w", err)
	}
	return nil
}

// HasPendingUnexpired reports whether a live pending subscription exists for
// the identity.
func (r *Repository) HasPendingUnexpired(ctx context.Context, pageID int64, channel domain.ChannelType, identity string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM subscribers
			WHERE page_id = $1 AND channel_type = $2
			  AND LOWER(COALESCE(email, webhook_url)) = LOWER($3)
			  AND accepted_at IS NULL AND unsubscribed_at IS NULL
			  AND expires_at > NOW()
		)
	`
	var exists bool
	if err := r.db.QueryRow(ctx, query, pageID, channel, identity).Scan(&exists); err != nil {
		return false, fmt.Errorf("check pending subscription: %w", err)
	}
	return exists, nil
}

// ListAcceptedForPage returns all accepted, active subscribers of a page
// with their component scope loaded.
func (r *Repository) ListAcceptedForPage(ctx context.Context, pageID int64) ([]domain.Subscriber, error) {
	query := `
		SELECT ` + subscriberColumns + `
		FROM subscribers
		WHERE page_id = $1 AND accepted_at IS NOT NULL AND unsubscribed_at IS NULL
		ORDER BY created_at, id
	`
	rows, err := r.db.Query(ctx, query, pageID)
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	defer rows.Close()

	subs := make([]domain.Subscriber, 0)
	index := make(map[string]int)
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, err
		}
		index[sub.ID] = len(subs)
		subs = append(subs, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return subs, nil
	}

	ids := make([]string, 0, len(subs))
	for _, sub := range subs {
		ids = append(ids, sub.ID)
	}
	crows, err := r.db.Query(ctx, `
		SELECT subscriber_id, component_id
		FROM subscriber_components
		WHERE subscriber_id = ANY($1::uuid[])
		ORDER BY component_id
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("list subscriber components: %w", err)
	}
	defer crows.Close()

	for crows.Next() {
		var subID string
		var componentID int64
		if err := crows.Scan(&subID, &componentID); err != nil {
			return nil, fmt.Errorf("scan subscriber component: %w", err)
		}
		if i, ok := index[subID]; ok {
			subs[i].ComponentIDs = append(subs[i].ComponentIDs, componentID)
		}
	}
	return subs, crows.Err()
}

func (r *Repository) getOne(ctx context.Context, q querier, where string, args ...any) (*domain.Subscriber, error) {
	query := `SELECT ` + subscriberColumns + ` FROM subscribers ` + where

	sub, err := scanSubscriber(q.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, subscriptions.ErrSubscriptionNotFound
		}
		return nil, err
	}

	rows, err := q.Query(ctx, `
		SELECT component_id FROM subscriber_components
		WHERE subscriber_id = $1
		ORDER BY component_id
	`, sub.ID)
	if err != nil {
		return nil, fmt.Errorf("load subscriber components: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan subscriber component: %w", err)
		}
		sub.ComponentIDs = append(sub.ComponentIDs, id)
	}
	return sub, rows.Err()
}

func scanSubscriber(row pgx.Row) (*domain.Subscriber, error) {
	var sub domain.Subscriber
	err := row.Scan(
		&sub.ID,
		&sub.PageID,
		&sub.Channel,
		&sub.Email,
		&sub.WebhookURL,
		&sub.ChannelConfig,
		&sub.Token,
		&sub.AcceptedAt,
		&sub.ExpiresAt,
		&sub.UnsubscribedAt,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan subscriber: %w", err)
	}
	return &sub, nil
}

func insertComponents(ctx context.Context, tx pgx.Tx, subscriberID string, componentIDs []int64) error {
	if len(componentIDs) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO subscriber_components (subscriber_id, component_id)
		SELECT $1, unnest($2::bigint[])
	`, subscriberID, componentIDs)
	if err != nil {
		return fmt.Errorf("insert subscriber components: %w", err)
	}
	return nil
}

func replaceComponents(ctx context.Context, tx pgx.Tx, subscriberID string, componentIDs []int64) error {
	if _, err := tx.Exec(ctx, `
		DELETE FROM subscriber_components WHERE subscriber_id = $1
	`, subscriberID); err != nil {
		return fmt.Errorf("clear subscriber components: %w", err)
	}
	return insertComponents(ctx, tx, subscriberID, componentIDs)
}
