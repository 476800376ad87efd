// Package subscriptions owns the subscriber lifecycle: creation, merge,
// verification, scope updates and unsubscription.
package subscriptions

import (
	"context"
	"time"

	"github.com/beaconhq/beacon/internal/domain"
)

// Repository defines the interface for subscriber data access.
//
// Mutations that follow a read-then-write pattern (Create with components,
// MergeComponents, ReplaceComponents) must execute as a single transaction;
// the store's partial unique index on (page, channel, lower(identity)) for
// rows with unsubscribed_at IS NULL is the final arbiter under races and is
// surfaced as ErrDuplicateActive.
type Repository interface {
	// Create inserts a new subscriber row together with its component scope.
	Create(ctx context.Context, sub *domain.Subscriber) error

	// GetByToken returns the subscriber owning the management token.
	GetByToken(ctx context.Context, token string) (*domain.Subscriber, error)

	// FindActive returns the not-unsubscribed row for the identity on the
	// given page and channel. Identities compare case-insensitively.
	FindActive(ctx context.Context, pageID int64, channel domain.ChannelType, identity string) (*domain.Subscriber, error)

	// MergeComponents unions the given component ids into the subscriber's
	// scope and refreshes the verification deadline, atomically.
	MergeComponents(ctx context.Context, id string, componentIDs []int64, expiresAt time.Time) (*domain.Subscriber, error)

	// Accept sets accepted_at once; already-accepted rows are returned
	// unchanged.
	Accept(ctx context.Context, id string) (*domain.Subscriber, error)

	// ReplaceComponents atomically swaps the subscriber's full scope.
	ReplaceComponents(ctx context.Context, id string, componentIDs []int64) error

	// Unsubscribe sets unsubscribed_at once; already-unsubscribed rows are
	// left untouched.
	Unsubscribe(ctx context.Context, id string) error

	// HasPendingUnexpired reports whether a pending, unexpired subscription
	// exists for the identity.
	HasPendingUnexpired(ctx context.Context, pageID int64, channel domain.ChannelType, identity string) (bool, error)

	// ListAcceptedForPage returns all accepted, not-unsubscribed
	// subscribers of a page with their component scope.
	ListAcceptedForPage(ctx context.Context, pageID int64) ([]domain.Subscriber, error)
}
