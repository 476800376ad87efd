package subscriptions

import (
	"context"
	"net/mail"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beaconhq/beacon/internal/dispatch"
	"github.com/beaconhq/beacon/internal/domain"
	"github.com/beaconhq/beacon/internal/pages"
)

// fakeRepo is an in-memory Repository mirroring the store's semantics,
// including the partial uniqueness constraint on active identities.
type fakeRepo struct {
	mu   sync.Mutex
	subs map[string]*domain.Subscriber
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{subs: make(map[string]*domain.Subscriber)}
}

func (r *fakeRepo) Create(_ context.Context, sub *domain.Subscriber) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs {
		if s.PageID == sub.PageID && s.Channel == sub.Channel &&
			strings.EqualFold(s.Identity(), sub.Identity()) && !s.IsUnsubscribed() {
			return ErrDuplicateActive
		}
	}
	now := time.Now().UTC()
	sub.CreatedAt = now
	sub.UpdatedAt = now
	clone := *sub
	r.subs[sub.ID] = &clone
	return nil
}

func (r *fakeRepo) GetByToken(_ context.Context, token string) (*domain.Subscriber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs {
		if s.Token == token {
			clone := *s
			return &clone, nil
		}
	}
	return nil, ErrSubscriptionNotFound
}

func (r *fakeRepo) FindActive(_ context.Context, pageID int64, channel domain.ChannelType, identity string) (*domain.Subscriber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs {
		if s.PageID == pageID && s.Channel == channel &&
			strings.EqualFold(s.Identity(), identity) && !s.IsUnsubscribed() {
			clone := *s
			return &clone, nil
		}
	}
	return nil, ErrSubscriptionNotFound
}

func (r *fakeRepo) MergeComponents(_ context.Context, id string, componentIDs []int64, expiresAt time.Time) (*domain.Subscriber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	s.ComponentIDs = componentIDs
	s.ExpiresAt = &expiresAt
	s.UpdatedAt = time.Now().UTC()
	clone := *s
	return &clone, nil
}

func (r *fakeRepo) Accept(_ context.Context, id string) (*domain.Subscriber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	if s.AcceptedAt == nil {
		now := time.Now().UTC()
		s.AcceptedAt = &now
		s.ExpiresAt = nil
	}
	clone := *s
	return &clone, nil
}

func (r *fakeRepo) ReplaceComponents(_ context.Context, id string, componentIDs []int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if !ok {
		return ErrSubscriptionNotFound
	}
	s.ComponentIDs = componentIDs
	return nil
}

func (r *fakeRepo) Unsubscribe(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if !ok {
		return ErrSubscriptionNotFound
	}
	if s.UnsubscribedAt == nil {
		now := time.Now().UTC()
		s.UnsubscribedAt = &now
	}
	return nil
}

func (r *fakeRepo) HasPendingUnexpired(_ context.Context, pageID int64, channel domain.ChannelType, identity string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	for _, s := range r.subs {
		if s.PageID == pageID && s.Channel == channel &&
			strings.EqualFold(s.Identity(), identity) &&
			!s.IsAccepted() && !s.IsUnsubscribed() &&
			s.ExpiresAt != nil && s.ExpiresAt.After(now) {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeRepo) ListAcceptedForPage(_ context.Context, pageID int64) ([]domain.Subscriber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Subscriber, 0)
	for _, s := range r.subs {
		if s.PageID == pageID && s.IsAccepted() && !s.IsUnsubscribed() {
			out = append(out, *s)
		}
	}
	return out, nil
}

// count returns the number of stored rows, including unsubscribed ones.
func (r *fakeRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// get returns the raw stored row.
func (r *fakeRepo) get(id string) *domain.Subscriber {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subs[id]
}

// fakePages serves a fixed page catalog.
type fakePages struct {
	pages      map[int64]*domain.Page
	components map[int64]int64 // component id -> page id
}

func newFakePages() *fakePages {
	custom := "status.acme.dev"
	return &fakePages{
		pages: map[int64]*domain.Page{
			1: {ID: 1, Name: "Acme Cloud", Slug: "acme", CustomDomain: &custom},
			2: {ID: 2, Name: "Other", Slug: "other"},
		},
		components: map[int64]int64{10: 1, 11: 1, 12: 1, 20: 2},
	}
}

func (p *fakePages) GetPage(_ context.Context, id int64) (*domain.Page, error) {
	page, ok := p.pages[id]
	if !ok {
		return nil, pages.ErrPageNotFound
	}
	return page, nil
}

func (p *fakePages) GetPageBySlug(_ context.Context, slug string) (*domain.Page, error) {
	for _, page := range p.pages {
		if page.Slug == slug {
			return page, nil
		}
	}
	return nil, pages.ErrPageNotFound
}

func (p *fakePages) ListComponents(_ context.Context, pageID int64) ([]domain.Component, error) {
	out := make([]domain.Component, 0)
	for id, pid := range p.components {
		if pid == pageID {
			out = append(out, domain.Component{ID: id, PageID: pid})
		}
	}
	return out, nil
}

func (p *fakePages) MissingComponents(_ context.Context, pageID int64, ids []int64) ([]int64, error) {
	missing := make([]int64, 0)
	for _, id := range ids {
		if p.components[id] != pageID {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

func (p *fakePages) ComponentNames(_ context.Context, ids []int64) ([]string, error) {
	names := make([]string, 0, len(ids))
	for range ids {
		names = append(names, "component")
	}
	return names, nil
}

// stubChannel validates like the real channels but never sends.
type stubChannel struct {
	channelType domain.ChannelType
	validate    func(string) error
}

func (c *stubChannel) Type() domain.ChannelType { return c.channelType }

func (c *stubChannel) ValidateConfig(raw string) error {
	if c.validate != nil {
		return c.validate(raw)
	}
	return nil
}

func (c *stubChannel) SendVerification(context.Context, *domain.Subscriber, *domain.Page, string) error {
	return nil
}

func (c *stubChannel) SendNotifications(context.Context, []domain.Subscriber, dispatch.PageUpdateEvent) error {
	return nil
}

func newTestService() (*Service, *fakeRepo) {
	repo := newFakeRepo()
	registry := dispatch.NewRegistry(
		&stubChannel{channelType: domain.ChannelTypeEmail, validate: func(raw string) error {
			_, err := mail.ParseAddress(raw)
			return err
		}},
		&stubChannel{channelType: domain.ChannelTypeWebhook},
	)
	return NewService(repo, newFakePages(), registry), repo
}

func TestUpsertEmailSubscription_CreatesPending(t *testing.T) {
	svc, repo := newTestService()

	result, err := svc.UpsertEmailSubscription(context.Background(), 1, "user@example.com", []int64{10, 11})
	require.NoError(t, err)

	assert.Equal(t, OutcomeCreated, result.Outcome)
	assert.Len(t, result.Subscriber.Token, 64)
	assert.False(t, result.Subscriber.IsAccepted())
	assert.Equal(t, []int64{10, 11}, result.Subscriber.ComponentIDs)
	require.NotNil(t, result.Subscriber.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(verificationTTL), *result.Subscriber.ExpiresAt, time.Minute)
	assert.Equal(t, 1, repo.count())
}

func TestUpsertEmailSubscription_NormalizesAddress(t *testing.T) {
	svc, _ := newTestService()

	result, err := svc.UpsertEmailSubscription(context.Background(), 1, "  User@Example.COM ", nil)
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", result.Subscriber.Email)
}

func TestUpsertEmailSubscription_PendingMergesScope(t *testing.T) {
	svc, repo := newTestService()

	first, err := svc.UpsertEmailSubscription(context.Background(), 1, "user@example.com", []int64{10})
	require.NoError(t, err)

	second, err := svc.UpsertEmailSubscription(context.Background(), 1, "User@Example.com", []int64{11})
	require.NoError(t, err)

	assert.Equal(t, OutcomeMerged, second.Outcome)
	assert.Equal(t, first.Subscriber.ID, second.Subscriber.ID)
	assert.Equal(t, first.Subscriber.Token, second.Subscriber.Token, "merge must not issue a new token")
	assert.ElementsMatch(t, []int64{10, 11}, second.Subscriber.ComponentIDs)
	assert.Equal(t, 1, repo.count(), "merge must not create a second row")
}

func TestUpsertEmailSubscription_PendingIdempotent(t *testing.T) {
	svc, repo := newTestService()

	for i := 0; i < 3; i++ {
		_, err := svc.UpsertEmailSubscription(context.Background(), 1, "user@example.com", []int64{10, 11})
		require.NoError(t, err)
	}

	assert.Equal(t, 1, repo.count())
	sub, err := svc.repo.FindActive(context.Background(), 1, domain.ChannelTypeEmail, "user@example.com")
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{10, 11}, sub.ComponentIDs)
}

func TestUpsertEmailSubscription_PendingMergeRefreshesDeadline(t *testing.T) {
	svc, repo := newTestService()

	first, err := svc.UpsertEmailSubscription(context.Background(), 1, "user@example.com", []int64{10})
	require.NoError(t, err)

	// simulate a nearly expired pending subscription
	soon := time.Now().UTC().Add(time.Hour)
	repo.get(first.Subscriber.ID).ExpiresAt = &soon

	second, err := svc.UpsertEmailSubscription(context.Background(), 1, "user@example.com", []int64{10})
	require.NoError(t, err)
	require.NotNil(t, second.Subscriber.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(verificationTTL), *second.Subscriber.ExpiresAt, time.Minute)
}

func TestUpsertEmailSubscription_WholePageScopeAbsorbsMerge(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.UpsertEmailSubscription(context.Background(), 1, "user@example.com", nil)
	require.NoError(t, err)

	second, err := svc.UpsertEmailSubscription(context.Background(), 1, "user@example.com", []int64{10})
	require.NoError(t, err)
	assert.Empty(t, second.Subscriber.ComponentIDs, "whole-page scope must stay whole-page")

	// The merge is order-independent: asking for the whole page widens an
	// existing component scope just the same.
	_, err = svc.UpsertEmailSubscription(context.Background(), 1, "other@example.com", []int64{10})
	require.NoError(t, err)

	widened, err := svc.UpsertEmailSubscription(context.Background(), 1, "other@example.com", nil)
	require.NoError(t, err)
	assert.Empty(t, widened.Subscriber.ComponentIDs,
		"merging a whole-page request must widen a component scope")
}

func TestUpsertEmailSubscription_AcceptedReturnedUnchanged(t *testing.T) {
	svc, repo := newTestService()

	created, err := svc.UpsertEmailSubscription(context.Background(), 1, "user@example.com", []int64{10})
	require.NoError(t, err)
	_, err = repo.Accept(context.Background(), created.Subscriber.ID)
	require.NoError(t, err)

	again, err := svc.UpsertEmailSubscription(context.Background(), 1, "user@example.com", []int64{11})
	require.NoError(t, err)

	assert.Equal(t, OutcomeUnchanged, again.Outcome)
	assert.Equal(t, []int64{10}, repo.get(created.Subscriber.ID).ComponentIDs,
		"upsert must never mutate an accepted subscription's scope")
}

func TestUpsertEmailSubscription_AfterUnsubscribeCreatesNewRow(t *testing.T) {
	svc, repo := newTestService()

	old, err := svc.UpsertEmailSubscription(context.Background(), 1, "user@example.com", []int64{10})
	require.NoError(t, err)
	_, err = repo.Accept(context.Background(), old.Subscriber.ID)
	require.NoError(t, err)
	require.NoError(t, repo.Unsubscribe(context.Background(), old.Subscriber.ID))

	fresh, err := svc.UpsertEmailSubscription(context.Background(), 1, "user@example.com", nil)
	require.NoError(t, err)

	assert.Equal(t, OutcomeCreated, fresh.Outcome)
	assert.NotEqual(t, old.Subscriber.ID, fresh.Subscriber.ID)
	assert.NotEqual(t, old.Subscriber.Token, fresh.Subscriber.Token)
	assert.False(t, fresh.Subscriber.IsAccepted(), "re-subscribe requires a fresh verification cycle")
	assert.Equal(t, 2, repo.count(), "unsubscribed row must be preserved")
	assert.NotNil(t, repo.get(old.Subscriber.ID).UnsubscribedAt)
}

func TestUpsertEmailSubscription_Validation(t *testing.T) {
	svc, _ := newTestService()

	tests := []struct {
		name         string
		pageID       int64
		email        string
		componentIDs []int64
		wantErr      error
	}{
		{"invalid email", 1, "not-an-email", nil, &ConfigValidationError{}},
		{"unknown page", 99, "user@example.com", nil, pages.ErrPageNotFound},
		{"foreign components", 1, "user@example.com", []int64{10, 20}, &ComponentValidationError{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.UpsertEmailSubscription(context.Background(), tt.pageID, tt.email, tt.componentIDs)
			require.Error(t, err)

			switch want := tt.wantErr.(type) {
			case *ConfigValidationError:
				var got *ConfigValidationError
				assert.ErrorAs(t, err, &got)
			case *ComponentValidationError:
				var got *ComponentValidationError
				assert.ErrorAs(t, err, &got)
				assert.Equal(t, []int64{20}, got.MissingIDs)
			default:
				assert.ErrorIs(t, err, want)
			}
		})
	}
}

func TestUpsertWebhookSubscription(t *testing.T) {
	svc, _ := newTestService()

	t.Run("creates with config", func(t *testing.T) {
		result, err := svc.UpsertWebhookSubscription(context.Background(), 1,
			"https://hooks.example.com/status", `{"secret":"s3cret"}`, []int64{10})
		require.NoError(t, err)
		assert.Equal(t, OutcomeCreated, result.Outcome)
		assert.Equal(t, "https://hooks.example.com/status", result.Subscriber.WebhookURL)
		assert.Equal(t, `{"secret":"s3cret"}`, result.Subscriber.ChannelConfig)
	})

	t.Run("rejects non-http scheme", func(t *testing.T) {
		_, err := svc.UpsertWebhookSubscription(context.Background(), 1, "ftp://example.com", "", nil)
		var cfgErr *ConfigValidationError
		assert.ErrorAs(t, err, &cfgErr)
	})

	t.Run("same url is one active subscription per channel", func(t *testing.T) {
		again, err := svc.UpsertWebhookSubscription(context.Background(), 1,
			"HTTPS://HOOKS.EXAMPLE.COM/status", "", nil)
		require.NoError(t, err)
		assert.Equal(t, OutcomeMerged, again.Outcome)
	})
}

func TestVerify(t *testing.T) {
	svc, repo := newTestService()

	created, err := svc.UpsertEmailSubscription(context.Background(), 1, "user@example.com", []int64{10})
	require.NoError(t, err)
	token := created.Subscriber.Token

	t.Run("accepts pending", func(t *testing.T) {
		sub, err := svc.Verify(context.Background(), token, "")
		require.NoError(t, err)
		assert.True(t, sub.IsAccepted())
	})

	t.Run("idempotent once accepted", func(t *testing.T) {
		first, err := svc.Verify(context.Background(), token, "")
		require.NoError(t, err)
		second, err := svc.Verify(context.Background(), token, "")
		require.NoError(t, err)
		assert.Equal(t, first.AcceptedAt, second.AcceptedAt)
	})

	t.Run("custom domain binding", func(t *testing.T) {
		_, err := svc.Verify(context.Background(), token, "status.acme.dev")
		assert.NoError(t, err)
	})

	t.Run("mismatched domain behaves like unknown token", func(t *testing.T) {
		_, err := svc.Verify(context.Background(), token, "evil.example.com")
		assert.ErrorIs(t, err, ErrSubscriptionNotFound)
	})

	t.Run("unknown token", func(t *testing.T) {
		_, err := svc.Verify(context.Background(), "deadbeef", "")
		assert.ErrorIs(t, err, ErrSubscriptionNotFound)
	})

	t.Run("expired pending", func(t *testing.T) {
		other, err := svc.UpsertEmailSubscription(context.Background(), 1, "late@example.com", nil)
		require.NoError(t, err)
		past := time.Now().UTC().Add(-time.Hour)
		repo.get(other.Subscriber.ID).ExpiresAt = &past

		_, err = svc.Verify(context.Background(), other.Subscriber.Token, "")
		assert.ErrorIs(t, err, ErrSubscriptionExpired)
	})

	t.Run("unsubscribed token is gone", func(t *testing.T) {
		gone, err := svc.UpsertEmailSubscription(context.Background(), 1, "gone@example.com", nil)
		require.NoError(t, err)
		require.NoError(t, repo.Unsubscribe(context.Background(), gone.Subscriber.ID))

		_, err = svc.Verify(context.Background(), gone.Subscriber.Token, "")
		assert.ErrorIs(t, err, ErrSubscriptionNotFound)
	})
}

func TestUpdateScope(t *testing.T) {
	svc, repo := newTestService()

	created, err := svc.UpsertEmailSubscription(context.Background(), 1, "user@example.com", []int64{10})
	require.NoError(t, err)
	token := created.Subscriber.Token

	t.Run("pending cannot change scope", func(t *testing.T) {
		_, err := svc.UpdateScope(context.Background(), token, "", []int64{11})
		assert.ErrorIs(t, err, ErrNotVerified)
	})

	_, err = svc.Verify(context.Background(), token, "")
	require.NoError(t, err)

	t.Run("replaces scope", func(t *testing.T) {
		sub, err := svc.UpdateScope(context.Background(), token, "", []int64{11, 12})
		require.NoError(t, err)
		assert.ElementsMatch(t, []int64{11, 12}, sub.ComponentIDs)
	})

	t.Run("empty scope means whole page", func(t *testing.T) {
		sub, err := svc.UpdateScope(context.Background(), token, "", nil)
		require.NoError(t, err)
		assert.Empty(t, sub.ComponentIDs)
	})

	t.Run("foreign components rejected", func(t *testing.T) {
		_, err := svc.UpdateScope(context.Background(), token, "", []int64{20})
		var compErr *ComponentValidationError
		assert.ErrorAs(t, err, &compErr)
	})

	t.Run("unsubscribed is terminal", func(t *testing.T) {
		require.NoError(t, repo.Unsubscribe(context.Background(), created.Subscriber.ID))
		_, err := svc.UpdateScope(context.Background(), token, "", []int64{11})
		assert.ErrorIs(t, err, ErrUnsubscribed)
	})
}

func TestUnsubscribe(t *testing.T) {
	svc, repo := newTestService()

	created, err := svc.UpsertEmailSubscription(context.Background(), 1, "user@example.com", nil)
	require.NoError(t, err)
	token := created.Subscriber.Token

	require.NoError(t, svc.Unsubscribe(context.Background(), token, ""))
	first := *repo.get(created.Subscriber.ID).UnsubscribedAt

	// second call is a no-op and preserves the original timestamp
	require.NoError(t, svc.Unsubscribe(context.Background(), token, ""))
	assert.Equal(t, first, *repo.get(created.Subscriber.ID).UnsubscribedAt)
}

func TestGetByToken_MasksIdentity(t *testing.T) {
	svc, _ := newTestService()

	email, err := svc.UpsertEmailSubscription(context.Background(), 1, "subscriber@example.com", nil)
	require.NoError(t, err)

	projection, err := svc.GetByToken(context.Background(), email.Subscriber.Token, "")
	require.NoError(t, err)
	assert.Equal(t, "s***@example.com", projection.MaskedIdentity)
	assert.Equal(t, "Acme Cloud", projection.PageName)
	assert.NotContains(t, projection.MaskedIdentity, "subscriber")

	hook, err := svc.UpsertWebhookSubscription(context.Background(), 1,
		"https://hooks.example.com/secret-path/abc", "", nil)
	require.NoError(t, err)

	projection, err = svc.GetByToken(context.Background(), hook.Subscriber.Token, "")
	require.NoError(t, err)
	assert.Equal(t, "https://hooks.example.com/***", projection.MaskedIdentity)
	assert.NotContains(t, projection.MaskedIdentity, "secret-path")
}

func TestHasPendingUnexpired(t *testing.T) {
	svc, _ := newTestService()

	created, err := svc.UpsertEmailSubscription(context.Background(), 1, "user@example.com", nil)
	require.NoError(t, err)

	pending, err := svc.HasPendingUnexpired(context.Background(), 1, domain.ChannelTypeEmail, "USER@example.com")
	require.NoError(t, err)
	assert.True(t, pending)

	_, err = svc.Verify(context.Background(), created.Subscriber.Token, "")
	require.NoError(t, err)

	pending, err = svc.HasPendingUnexpired(context.Background(), 1, domain.ChannelTypeEmail, "user@example.com")
	require.NoError(t, err)
	assert.False(t, pending)
}
