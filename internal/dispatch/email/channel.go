// Package email provides subscriber notification delivery via email.
package email

import (
	"context"
	"errors"
	"fmt"
	"net/mail"

	"github.com/beaconhq/beacon/internal/dispatch"
	"github.com/beaconhq/beacon/internal/domain"
	"github.com/beaconhq/beacon/internal/pkg/ctxlog"
)

// Channel implements email notification delivery on top of an injected
// Mailer.
type Channel struct {
	mailer Mailer
}

// NewChannel creates a new email channel.
func NewChannel(mailer Mailer) *Channel {
	return &Channel{mailer: mailer}
}

// Type returns the channel type.
func (c *Channel) Type() domain.ChannelType {
	return domain.ChannelTypeEmail
}

// ValidateConfig checks the subscriber's own address: valid iff it parses
// as a syntactically valid email address.
func (c *Channel) ValidateConfig(raw string) error {
	addr, err := mail.ParseAddress(raw)
	if err != nil {
		return fmt.Errorf("invalid email address: %w", err)
	}
	if addr.Name != "" {
		return errors.New("invalid email address: display name not allowed")
	}
	return nil
}

// SendVerification sends a single verification message containing the
// verify link and the page's display name.
func (c *Channel) SendVerification(ctx context.Context, sub *domain.Subscriber, page *domain.Page, verifyURL string) error {
	if sub.Email == "" {
		return errors.New("subscriber has no email address")
	}

	msg := VerificationMessage{
		To:        sub.Email,
		VerifyURL: verifyURL,
	}
	if page != nil {
		msg.PageName = page.Name
	}

	return c.mailer.SendVerification(ctx, msg)
}

// SendNotifications sends one batched mailer call covering every subscriber
// that has both an address and a management token. Subscribers missing
// either are skipped; if none remain this is a no-op.
func (c *Channel) SendNotifications(ctx context.Context, subs []domain.Subscriber, event dispatch.PageUpdateEvent) error {
	recipients := make([]Recipient, 0, len(subs))
	for _, sub := range subs {
		if sub.Email == "" || sub.Token == "" {
			ctxlog.FromContext(ctx).Warn("skipping email subscriber without address or token",
				"subscriber_id", sub.ID,
			)
			continue
		}
		recipients = append(recipients, Recipient{Address: sub.Email, Token: sub.Token})
	}

	if len(recipients) == 0 {
		return nil
	}

	return c.mailer.SendStatusUpdate(ctx, StatusUpdateMessage{
		Recipients: recipients,
		PageName:   event.PageName,
		Title:      event.Title,
		Status:     string(event.Status),
		Message:    event.Message,
		Components: event.ComponentNames,
		Date:       event.Date,
	})
}
