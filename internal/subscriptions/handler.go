package subscriptions

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/beaconhq/beacon/internal/dispatch"
	"github.com/beaconhq/beacon/internal/domain"
	"github.com/beaconhq/beacon/internal/pages"
	"github.com/beaconhq/beacon/internal/pkg/ctxlog"
	"github.com/beaconhq/beacon/internal/pkg/httputil"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrSubscriptionNotFound, Status: http.StatusNotFound, Message: "subscription not found"},
	{Error: ErrSubscriptionExpired, Status: http.StatusGone, Message: "verification link has expired, subscribe again"},
	{Error: ErrNotVerified, Status: http.StatusConflict, Message: "subscription is not verified yet"},
	{Error: ErrUnsubscribed, Status: http.StatusGone, Message: "subscription has been cancelled"},
	{Error: pages.ErrPageNotFound, Status: http.StatusNotFound, Message: "page not found"},
}

const verificationSendTimeout = 30 * time.Second

// Handler handles HTTP requests for the subscriptions module.
type Handler struct {
	service   *Service
	pages     pages.Repository
	registry  *dispatch.Registry
	baseURL   string
	validator *validator.Validate
}

// NewHandler creates a new subscriptions handler. baseURL is the public
// origin used to build verification links.
func NewHandler(service *Service, pagesRepo pages.Repository, registry *dispatch.Registry, baseURL string) *Handler {
	return &Handler{
		service:   service,
		pages:     pagesRepo,
		registry:  registry,
		baseURL:   baseURL,
		validator: validator.New(),
	}
}

// RegisterRoutes registers the public subscription routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/pages/{slug}/subscriptions", func(r chi.Router) {
		r.Use(httputil.RateLimitMiddleware(5, 20))
		r.Post("/", h.SubscribeEmail)
		r.Post("/webhook", h.SubscribeWebhook)
	})

	r.Route("/subscriptions", func(r chi.Router) {
		r.Get("/verify", h.Verify)
		r.Get("/{token}", h.Get)
		r.Put("/{token}/components", h.UpdateComponents)
		r.Post("/{token}/unsubscribe", h.Unsubscribe)
	})
}

// SubscribeEmailRequest represents request body for an email subscription.
type SubscribeEmailRequest struct {
	Email        string  `json:"email" validate:"required,email"`
	ComponentIDs []int64 `json:"component_ids" validate:"dive,gt=0"`
}

// SubscribeWebhookRequest represents request body for a webhook subscription.
type SubscribeWebhookRequest struct {
	URL          string          `json:"url" validate:"required,url"`
	ComponentIDs []int64         `json:"component_ids" validate:"dive,gt=0"`
	Config       json.RawMessage `json:"config"`
}

// SubscribeResponse is returned by the subscribe endpoints. The token is
// present only when this call created or refreshed a pending subscription.
type SubscribeResponse struct {
	Outcome      Outcome `json:"outcome"`
	Token        string  `json:"token,omitempty"`
	Accepted     bool    `json:"accepted"`
	ComponentIDs []int64 `json:"component_ids"`
}

// SubscribeEmail handles POST /pages/{slug}/subscriptions.
func (h *Handler) SubscribeEmail(w http.ResponseWriter, r *http.Request) {
	var req SubscribeEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	page, err := h.resolvePage(r)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	hadPending := h.hasPendingUnexpired(r.Context(), page.ID, domain.ChannelTypeEmail, req.Email)

	result, err := h.service.UpsertEmailSubscription(r.Context(), page.ID, req.Email, req.ComponentIDs)
	if err != nil {
		h.handleError(r.Context(), w, err)
		return
	}

	h.afterUpsert(r.Context(), page, result, hadPending)
	httputil.Success(w, upsertStatus(result), subscribeResponse(result))
}

// SubscribeWebhook handles POST /pages/{slug}/subscriptions/webhook.
func (h *Handler) SubscribeWebhook(w http.ResponseWriter, r *http.Request) {
	var req SubscribeWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	page, err := h.resolvePage(r)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	hadPending := h.hasPendingUnexpired(r.Context(), page.ID, domain.ChannelTypeWebhook, req.URL)

	result, err := h.service.UpsertWebhookSubscription(r.Context(), page.ID, req.URL, string(req.Config), req.ComponentIDs)
	if err != nil {
		h.handleError(r.Context(), w, err)
		return
	}

	h.afterUpsert(r.Context(), page, result, hadPending)
	httputil.Success(w, upsertStatus(result), subscribeResponse(result))
}

// Verify handles GET /subscriptions/verify?token=...
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")

	sub, err := h.service.Verify(r.Context(), token, scopeDomain(r))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]interface{}{
		"accepted":      true,
		"channel":       sub.Channel,
		"component_ids": sub.ComponentIDs,
	})
}

// Get handles GET /subscriptions/{token}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	projection, err := h.service.GetByToken(r.Context(), token, scopeDomain(r))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, projection)
}

// UpdateComponentsRequest represents request body for a scope update. An
// empty list subscribes to the whole page.
type UpdateComponentsRequest struct {
	ComponentIDs []int64 `json:"component_ids" validate:"dive,gt=0"`
}

// UpdateComponents handles PUT /subscriptions/{token}/components.
func (h *Handler) UpdateComponents(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	var req UpdateComponentsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	sub, err := h.service.UpdateScope(r.Context(), token, scopeDomain(r), req.ComponentIDs)
	if err != nil {
		h.handleError(r.Context(), w, err)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]interface{}{
		"component_ids": sub.ComponentIDs,
	})
}

// Unsubscribe handles POST /subscriptions/{token}/unsubscribe.
func (h *Handler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	if err := h.service.Unsubscribe(r.Context(), token, scopeDomain(r)); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) resolvePage(r *http.Request) (*domain.Page, error) {
	page, err := h.pages.GetPageBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		return nil, err
	}
	if !page.MatchesDomain(scopeDomain(r)) {
		return nil, pages.ErrPageNotFound
	}
	return page, nil
}

// handleError adds the typed validation errors on top of the sentinel
// mappings.
func (h *Handler) handleError(ctx context.Context, w http.ResponseWriter, err error) {
	var compErr *ComponentValidationError
	if errors.As(err, &compErr) {
		httputil.ValidationError(w, compErr)
		return
	}
	var cfgErr *ConfigValidationError
	if errors.As(err, &cfgErr) {
		httputil.ValidationError(w, cfgErr)
		return
	}
	httputil.HandleError(ctx, w, err, errorMappings)
}

// hasPendingUnexpired is the anti-spam guard consulted before the upsert:
// while a still-valid pending subscription exists, merging into it must not
// re-issue the verification message. Fails open.
func (h *Handler) hasPendingUnexpired(ctx context.Context, pageID int64, channel domain.ChannelType, identity string) bool {
	pending, err := h.service.HasPendingUnexpired(ctx, pageID, channel, identity)
	if err != nil {
		ctxlog.FromContext(ctx).Error("pending subscription check failed", "error", err)
		return false
	}
	return pending
}

// afterUpsert sends the verification message for freshly created pending
// subscriptions, or for merges whose previous pending row had already
// expired. The send happens off the request path; failures are logged,
// never surfaced.
func (h *Handler) afterUpsert(ctx context.Context, page *domain.Page, result *UpsertResult, hadPending bool) {
	if result.Outcome == OutcomeUnchanged || result.Subscriber.IsAccepted() {
		return
	}
	if result.Outcome == OutcomeMerged && hadPending {
		return
	}

	sub := result.Subscriber
	verifyURL := h.verifyURL(sub.Token)
	logger := ctxlog.FromContext(ctx)

	ch, ok := h.registry.Get(sub.Channel)
	if !ok {
		logger.Error("no channel for verification send", "channel_type", sub.Channel)
		return
	}

	sendCtx := context.WithoutCancel(ctx)
	go func() {
		sendCtx, cancel := context.WithTimeout(sendCtx, verificationSendTimeout)
		defer cancel()

		if err := ch.SendVerification(sendCtx, sub, page, verifyURL); err != nil {
			logger.Error("verification send failed",
				"subscriber_id", sub.ID, "channel_type", sub.Channel, "error", err)
		}
	}()
}

func (h *Handler) verifyURL(token string) string {
	return h.baseURL + "/api/v1/subscriptions/verify?token=" + url.QueryEscape(token)
}

func upsertStatus(result *UpsertResult) int {
	if result.Outcome == OutcomeCreated {
		return http.StatusCreated
	}
	return http.StatusOK
}

func subscribeResponse(result *UpsertResult) *SubscribeResponse {
	resp := &SubscribeResponse{
		Outcome:      result.Outcome,
		Accepted:     result.Subscriber.IsAccepted(),
		ComponentIDs: result.Subscriber.ComponentIDs,
	}
	if result.Outcome != OutcomeUnchanged {
		resp.Token = result.Subscriber.Token
	}
	return resp
}

// scopeDomain returns the optional page-domain binding of the request. A
// token used under an explicit domain that does not belong to its page is
// treated as unknown.
func scopeDomain(r *http.Request) string {
	return r.URL.Query().Get("domain")
}
