// Package dispatch resolves matching subscribers for page events and fans
// delivery out across notification channels.
package dispatch

import (
	"context"

	"github.com/beaconhq/beacon/internal/domain"
)

// PageUpdateEvent is the canonical event record handed to channels. It is
// built fresh for every dispatch and has no lifecycle of its own.
type PageUpdateEvent struct {
	ID             int64
	PageID         int64
	PageName       string
	Title          string
	Status         domain.ReportStatus
	Message        string
	ComponentIDs   []int64
	ComponentNames []string
	Date           string
}

// Channel is a delivery transport for subscriber notifications.
type Channel interface {
	// Type returns the channel discriminant this implementation serves.
	Type() domain.ChannelType

	// ValidateConfig checks a channel-specific configuration value supplied
	// at subscribe time.
	ValidateConfig(raw string) error

	// SendVerification delivers a one-off verification message for a
	// pending subscription on the given page.
	SendVerification(ctx context.Context, sub *domain.Subscriber, page *domain.Page, verifyURL string) error

	// SendNotifications delivers the event to a batch of subscribers. One
	// recipient's failure must not prevent delivery to the rest; the
	// returned error aggregates what went wrong and is only ever logged.
	SendNotifications(ctx context.Context, subs []domain.Subscriber, event PageUpdateEvent) error
}
