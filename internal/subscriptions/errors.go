package subscriptions

import (
	"errors"
	"fmt"
)

// Lifecycle errors.
var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrSubscriptionExpired  = errors.New("subscription verification window has expired")
	ErrNotVerified          = errors.New("subscription is not verified")
	ErrUnsubscribed         = errors.New("subscription is unsubscribed")

	// ErrDuplicateActive surfaces the store-level partial uniqueness
	// constraint when two writers race on the same identity.
	ErrDuplicateActive = errors.New("an active subscription already exists")
)

// ComponentValidationError reports component ids that do not belong to the
// subscription's page.
type ComponentValidationError struct {
	PageID     int64
	MissingIDs []int64
}

func (e *ComponentValidationError) Error() string {
	return fmt.Sprintf("components %v do not belong to page %d", e.MissingIDs, e.PageID)
}

// ConfigValidationError reports an invalid channel-specific configuration
// value supplied at subscribe time.
type ConfigValidationError struct {
	Channel string
	Reason  error
}

func (e *ConfigValidationError) Error() string {
	return fmt.Sprintf("invalid %s subscription: %v", e.Channel, e.Reason)
}

func (e *ConfigValidationError) Unwrap() error { return e.Reason }
