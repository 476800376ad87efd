package domain

import (
	"strings"
	"time"
)

// ChannelType discriminates subscriber delivery channels.
type ChannelType string

// Channel types.
const (
	ChannelTypeEmail   ChannelType = "email"
	ChannelTypeWebhook ChannelType = "webhook"
)

// IsValid checks if the channel type is valid.
func (t ChannelType) IsValid() bool {
	return t == ChannelTypeEmail || t == ChannelTypeWebhook
}

// Subscriber represents one (identity, page, channel) subscription row.
// The storage layer keeps a single wide row with mutually exclusive
// Email/WebhookURL columns; business logic must branch on Channel, not on
// field presence.
type Subscriber struct {
	ID             string      `json:"id"`
	PageID         int64       `json:"page_id"`
	Channel        ChannelType `json:"channel"`
	Email          string      `json:"email,omitempty"`
	WebhookURL     string      `json:"webhook_url,omitempty"`
	ChannelConfig  string      `json:"-"`
	Token          string      `json:"-"`
	AcceptedAt     *time.Time  `json:"accepted_at,omitempty"`
	ExpiresAt      *time.Time  `json:"expires_at,omitempty"`
	UnsubscribedAt *time.Time  `json:"unsubscribed_at,omitempty"`
	ComponentIDs   []int64     `json:"component_ids"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Identity returns the channel-specific identity of the subscriber.
func (s *Subscriber) Identity() string {
	switch s.Channel {
	case ChannelTypeEmail:
		return s.Email
	case ChannelTypeWebhook:
		return s.WebhookURL
	}
	return ""
}

// IsAccepted reports whether the subscription has been verified.
func (s *Subscriber) IsAccepted() bool {
	return s.AcceptedAt != nil
}

// IsUnsubscribed reports whether the subscription reached its terminal state.
func (s *Subscriber) IsUnsubscribed() bool {
	return s.UnsubscribedAt != nil
}

// IsExpired reports whether a pending subscription's verification deadline
// has passed. Accepted subscriptions never expire.
func (s *Subscriber) IsExpired(now time.Time) bool {
	if s.IsAccepted() || s.ExpiresAt == nil {
		return false
	}
	return now.After(*s.ExpiresAt)
}

// MatchesComponents implements the scope rule: an empty scope matches every
// event on the page; a non-empty scope matches iff it intersects the event's
// affected component set.
func (s *Subscriber) MatchesComponents(affected []int64) bool {
	if len(s.ComponentIDs) == 0 {
		return true
	}
	for _, want := range s.ComponentIDs {
		for _, got := range affected {
			if want == got {
				return true
			}
		}
	}
	return false
}

func equalFold(a, b string) bool {
	return strings.EqualFold(a, b)
}
