package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/beaconhq/beacon/internal/dispatch"
	"github.com/beaconhq/beacon/internal/domain"
	"github.com/beaconhq/beacon/internal/pages"
	"github.com/beaconhq/beacon/internal/pkg/ctxlog"
)

// verificationTTL is the window a pending subscription has to be verified
// before its token expires. Re-subscribing refreshes the window.
const verificationTTL = 7 * 24 * time.Hour

// Outcome classifies what an upsert actually did.
type Outcome string

// Upsert outcomes.
const (
	OutcomeCreated   Outcome = "created"
	OutcomeMerged    Outcome = "merged"
	OutcomeUnchanged Outcome = "unchanged"
)

// UpsertResult is returned by the subscribe operations.
type UpsertResult struct {
	Subscriber *domain.Subscriber
	Outcome    Outcome
}

// Projection is the masked management view of a subscription. It never
// exposes the raw identity.
type Projection struct {
	PageID         int64              `json:"page_id"`
	PageName       string             `json:"page_name"`
	Channel        domain.ChannelType `json:"channel"`
	MaskedIdentity string             `json:"identity"`
	ComponentIDs   []int64            `json:"component_ids"`
	Accepted       bool               `json:"accepted"`
	Unsubscribed   bool               `json:"unsubscribed"`
}

// Service implements the subscription lifecycle.
type Service struct {
	repo     Repository
	pages    pages.Repository
	registry *dispatch.Registry
}

// NewService creates a subscription service.
func NewService(repo Repository, pagesRepo pages.Repository, registry *dispatch.Registry) *Service {
	return &Service{repo: repo, pages: pagesRepo, registry: registry}
}

// UpsertEmailSubscription subscribes an email address to a page, merging
// scope into an existing active subscription when one exists.
func (s *Service) UpsertEmailSubscription(ctx context.Context, pageID int64, email string, componentIDs []int64) (*UpsertResult, error) {
	identity := strings.ToLower(strings.TrimSpace(email))
	if ch, ok := s.registry.Get(domain.ChannelTypeEmail); ok {
		if err := ch.ValidateConfig(identity); err != nil {
			return nil, &ConfigValidationError{Channel: "email", Reason: err}
		}
	} else if _, err := mail.ParseAddress(identity); err != nil {
		return nil, &ConfigValidationError{Channel: "email", Reason: err}
	}

	return s.upsert(ctx, pageID, &domain.Subscriber{
		PageID:  pageID,
		Channel: domain.ChannelTypeEmail,
		Email:   identity,
	}, componentIDs)
}

// UpsertWebhookSubscription subscribes a webhook endpoint to a page. The raw
// config blob (headers, signing secret) is validated by the webhook channel
// but stored opaquely.
func (s *Service) UpsertWebhookSubscription(ctx context.Context, pageID int64, webhookURL, channelConfig string, componentIDs []int64) (*UpsertResult, error) {
	identity := strings.TrimSpace(webhookURL)
	if err := validateWebhookURL(identity); err != nil {
		return nil, &ConfigValidationError{Channel: "webhook", Reason: err}
	}
	if ch, ok := s.registry.Get(domain.ChannelTypeWebhook); ok {
		if err := ch.ValidateConfig(channelConfig); err != nil {
			return nil, &ConfigValidationError{Channel: "webhook", Reason: err}
		}
	}

	return s.upsert(ctx, pageID, &domain.Subscriber{
		PageID:        pageID,
		Channel:       domain.ChannelTypeWebhook,
		WebhookURL:    identity,
		ChannelConfig: channelConfig,
	}, componentIDs)
}

// upsert is the shared subscribe core. An active subscription for the same
// (page, channel, identity) is merged into instead of duplicated; an
// unsubscribed one is terminal and a fresh row is created next to it.
func (s *Service) upsert(ctx context.Context, pageID int64, tmpl *domain.Subscriber, componentIDs []int64) (*UpsertResult, error) {
	if _, err := s.pages.GetPage(ctx, pageID); err != nil {
		return nil, err
	}
	componentIDs = dedupe(componentIDs)
	if err := s.validateComponents(ctx, pageID, componentIDs); err != nil {
		return nil, err
	}

	existing, err := s.repo.FindActive(ctx, pageID, tmpl.Channel, tmpl.Identity())
	switch {
	case err == nil:
		return s.mergeInto(ctx, existing, componentIDs)
	case errors.Is(err, ErrSubscriptionNotFound):
		// fall through to create
	default:
		return nil, fmt.Errorf("find active subscription: %w", err)
	}

	now := time.Now().UTC()
	expires := now.Add(verificationTTL)
	sub := *tmpl
	sub.ID = uuid.NewString()
	sub.Token = newToken()
	sub.ExpiresAt = &expires
	sub.ComponentIDs = componentIDs

	if err := s.repo.Create(ctx, &sub); err != nil {
		if errors.Is(err, ErrDuplicateActive) {
			// lost a race with a concurrent subscribe; merge into the winner
			winner, ferr := s.repo.FindActive(ctx, pageID, tmpl.Channel, tmpl.Identity())
			if ferr != nil {
				return nil, fmt.Errorf("find racing subscription: %w", ferr)
			}
			return s.mergeInto(ctx, winner, componentIDs)
		}
		return nil, fmt.Errorf("create subscription: %w", err)
	}
	return &UpsertResult{Subscriber: &sub, Outcome: OutcomeCreated}, nil
}

func (s *Service) mergeInto(ctx context.Context, existing *domain.Subscriber, componentIDs []int64) (*UpsertResult, error) {
	if existing.IsAccepted() {
		// scope of a verified subscription is only changed through an
		// explicit UpdateScope; the caller surfaces "already subscribed"
		return &UpsertResult{Subscriber: existing, Outcome: OutcomeUnchanged}, nil
	}

	// pending: union the scope and refresh the verification deadline so the
	// latest confirmation email carries a live link
	union := unionComponents(existing.ComponentIDs, componentIDs)
	expires := time.Now().UTC().Add(verificationTTL)
	merged, err := s.repo.MergeComponents(ctx, existing.ID, union, expires)
	if err != nil {
		return nil, fmt.Errorf("merge components: %w", err)
	}
	return &UpsertResult{Subscriber: merged, Outcome: OutcomeMerged}, nil
}

// Verify accepts a pending subscription by its token. Accepting twice is a
// no-op. The host, when non-empty, must belong to the subscription's page.
func (s *Service) Verify(ctx context.Context, token, host string) (*domain.Subscriber, error) {
	sub, page, err := s.lookup(ctx, token, host)
	if err != nil {
		return nil, err
	}
	if sub.IsUnsubscribed() {
		return nil, ErrSubscriptionNotFound
	}
	if sub.IsAccepted() {
		return sub, nil
	}
	if sub.IsExpired(time.Now().UTC()) {
		return nil, ErrSubscriptionExpired
	}

	accepted, err := s.repo.Accept(ctx, sub.ID)
	if err != nil {
		return nil, fmt.Errorf("accept subscription: %w", err)
	}
	ctxlog.FromContext(ctx).Info("subscription verified",
		"subscriber_id", accepted.ID, "page", page.Slug, "channel", accepted.Channel)
	return accepted, nil
}

// UpdateScope replaces the component scope of an accepted subscription.
// An empty scope means the whole page.
func (s *Service) UpdateScope(ctx context.Context, token, host string, componentIDs []int64) (*domain.Subscriber, error) {
	sub, _, err := s.lookup(ctx, token, host)
	if err != nil {
		return nil, err
	}
	if !sub.IsAccepted() {
		return nil, ErrNotVerified
	}
	if sub.IsUnsubscribed() {
		return nil, ErrUnsubscribed
	}

	componentIDs = dedupe(componentIDs)
	if err := s.validateComponents(ctx, sub.PageID, componentIDs); err != nil {
		return nil, err
	}
	if err := s.repo.ReplaceComponents(ctx, sub.ID, componentIDs); err != nil {
		return nil, fmt.Errorf("replace components: %w", err)
	}
	sub.ComponentIDs = componentIDs
	return sub, nil
}

// Unsubscribe moves the subscription to its terminal state. Unsubscribing
// twice is a no-op.
func (s *Service) Unsubscribe(ctx context.Context, token, host string) error {
	sub, page, err := s.lookup(ctx, token, host)
	if err != nil {
		return err
	}
	if sub.IsUnsubscribed() {
		return nil
	}
	if err := s.repo.Unsubscribe(ctx, sub.ID); err != nil {
		return fmt.Errorf("unsubscribe: %w", err)
	}
	ctxlog.FromContext(ctx).Info("subscriber unsubscribed",
		"subscriber_id", sub.ID, "page", page.Slug, "channel", sub.Channel)
	return nil
}

// GetByToken returns the masked management view of a subscription.
func (s *Service) GetByToken(ctx context.Context, token, host string) (*Projection, error) {
	sub, page, err := s.lookup(ctx, token, host)
	if err != nil {
		return nil, err
	}
	return &Projection{
		PageID:         sub.PageID,
		PageName:       page.Name,
		Channel:        sub.Channel,
		MaskedIdentity: maskIdentity(sub),
		ComponentIDs:   sub.ComponentIDs,
		Accepted:       sub.IsAccepted(),
		Unsubscribed:   sub.IsUnsubscribed(),
	}, nil
}

// HasPendingUnexpired reports whether the identity already has a pending,
// unexpired subscription on the page. Used to suppress duplicate
// verification sends.
func (s *Service) HasPendingUnexpired(ctx context.Context, pageID int64, channel domain.ChannelType, identity string) (bool, error) {
	if channel == domain.ChannelTypeEmail {
		identity = strings.ToLower(strings.TrimSpace(identity))
	} else {
		identity = strings.TrimSpace(identity)
	}
	return s.repo.HasPendingUnexpired(ctx, pageID, channel, identity)
}

// lookup resolves a token to its subscriber and page, enforcing the page
// domain binding when a host is supplied.
func (s *Service) lookup(ctx context.Context, token, host string) (*domain.Subscriber, *domain.Page, error) {
	if token == "" {
		return nil, nil, ErrSubscriptionNotFound
	}
	sub, err := s.repo.GetByToken(ctx, token)
	if err != nil {
		return nil, nil, err
	}
	page, err := s.pages.GetPage(ctx, sub.PageID)
	if err != nil {
		if errors.Is(err, pages.ErrPageNotFound) {
			return nil, nil, ErrSubscriptionNotFound
		}
		return nil, nil, err
	}
	if !page.MatchesDomain(host) {
		// a valid token used against the wrong page domain is
		// indistinguishable from an unknown token
		return nil, nil, ErrSubscriptionNotFound
	}
	return sub, page, nil
}

func (s *Service) validateComponents(ctx context.Context, pageID int64, componentIDs []int64) error {
	if len(componentIDs) == 0 {
		return nil
	}
	missing, err := s.pages.MissingComponents(ctx, pageID, componentIDs)
	if err != nil {
		return fmt.Errorf("validate components: %w", err)
	}
	if len(missing) > 0 {
		return &ComponentValidationError{PageID: pageID, MissingIDs: missing}
	}
	return nil
}

func validateWebhookURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("url host is empty")
	}
	return nil
}

// unionComponents merges two scopes with set semantics. An empty scope
// means the whole page and absorbs the other side, regardless of which side
// it appears on: repeated upserts must converge to the same union in any
// call order.
func unionComponents(base, extra []int64) []int64 {
	if len(base) == 0 || len(extra) == 0 {
		return nil
	}
	return dedupe(append(append([]int64(nil), base...), extra...))
}

func dedupe(ids []int64) []int64 {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// maskIdentity hides most of the identity so a leaked management page does
// not expose the full address.
func maskIdentity(sub *domain.Subscriber) string {
	switch sub.Channel {
	case domain.ChannelTypeEmail:
		at := strings.LastIndex(sub.Email, "@")
		if at <= 0 {
			return "***"
		}
		return sub.Email[:1] + "***" + sub.Email[at:]
	case domain.ChannelTypeWebhook:
		u, err := url.Parse(sub.WebhookURL)
		if err != nil || u.Host == "" {
			return "***"
		}
		return u.Scheme + "://" + u.Host + "/***"
	}
	return "***"
}
