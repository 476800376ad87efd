// Package webhook provides subscriber notification delivery via outbound
// HTTP POSTs.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/beaconhq/beacon/internal/dispatch"
	"github.com/beaconhq/beacon/internal/domain"
	"github.com/beaconhq/beacon/internal/pkg/ctxlog"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultUserAgent = "beacon-notify/1.0"
)

// Config holds webhook channel configuration.
type Config struct {
	Timeout   time.Duration // per-request timeout
	UserAgent string
}

// Channel implements webhook notification delivery. Each subscriber's row
// carries the destination URL plus an optional SubscriberConfig blob with
// custom headers and a signing secret.
type Channel struct {
	config     Config
	httpClient *http.Client
}

// NewChannel creates a new webhook channel.
func NewChannel(config Config) *Channel {
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	if config.UserAgent == "" {
		config.UserAgent = defaultUserAgent
	}

	return &Channel{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Type returns the channel type.
func (c *Channel) Type() domain.ChannelType {
	return domain.ChannelTypeWebhook
}

// SubscriberConfig is the channel-specific configuration blob stored per
// subscriber.
type SubscriberConfig struct {
	Headers []Header `json:"headers,omitempty"`
	Secret  string   `json:"secret,omitempty"`
}

// Header is a custom request header pair.
type Header struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ValidateConfig checks a subscriber-supplied configuration blob: an
// optional list of {key, value} header pairs with non-empty keys and an
// optional secret string. An empty value is valid.
func (c *Channel) ValidateConfig(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()

	var cfg SubscriberConfig
	if err := dec.Decode(&cfg); err != nil {
		return fmt.Errorf("webhook config is not valid JSON: %w", err)
	}

	for i, h := range cfg.Headers {
		if h.Key == "" {
			return fmt.Errorf("webhook config: header %d has an empty key", i)
		}
	}

	return nil
}

type verificationPayload struct {
	Type      string `json:"type"`
	Token     string `json:"token"`
	VerifyURL string `json:"verifyUrl"`
}

type notificationPayload struct {
	Type   string        `json:"type"`
	Page   payloadPage   `json:"page"`
	Update payloadUpdate `json:"update"`
}

type payloadPage struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type payloadUpdate struct {
	ID             int64    `json:"id"`
	Title          string   `json:"title"`
	Status         string   `json:"status"`
	Message        string   `json:"message"`
	PageComponents []string `json:"pageComponents"`
	Date           string   `json:"date"`
}

// SendVerification POSTs a verification message to the subscriber's URL.
// The page is not part of the verification wire format.
func (c *Channel) SendVerification(ctx context.Context, sub *domain.Subscriber, _ *domain.Page, verifyURL string) error {
	if sub.WebhookURL == "" {
		return errors.New("subscriber has no webhook URL")
	}

	body, err := json.Marshal(verificationPayload{
		Type:      "verification",
		Token:     sub.Token,
		VerifyURL: verifyURL,
	})
	if err != nil {
		return fmt.Errorf("marshal verification payload: %w", err)
	}

	return c.post(ctx, sub, body)
}

// SendNotifications POSTs the event to every subscriber with a webhook URL,
// concurrently. One target's failure (network error or non-2xx) is logged
// and does not prevent the remaining POSTs; the joined error is returned
// for the dispatcher's log only.
func (c *Channel) SendNotifications(ctx context.Context, subs []domain.Subscriber, event dispatch.PageUpdateEvent) error {
	log := ctxlog.FromContext(ctx)

	targets := make([]domain.Subscriber, 0, len(subs))
	for _, sub := range subs {
		if sub.WebhookURL == "" {
			continue
		}
		targets = append(targets, sub)
	}
	if len(targets) == 0 {
		return nil
	}

	components := event.ComponentNames
	if components == nil {
		components = []string{}
	}

	body, err := json.Marshal(notificationPayload{
		Type: "page_update",
		Page: payloadPage{ID: event.PageID, Name: event.PageName},
		Update: payloadUpdate{
			ID:             event.ID,
			Title:          event.Title,
			Status:         string(event.Status),
			Message:        event.Message,
			PageComponents: components,
			Date:           event.Date,
		},
	})
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)

	for _, sub := range targets {
		wg.Add(1)
		go func(sub domain.Subscriber) {
			defer wg.Done()

			if err := c.post(ctx, &sub, body); err != nil {
				log.Warn("webhook delivery failed",
					"subscriber_id", sub.ID,
					"url", maskURL(sub.WebhookURL),
					"error", err,
				)
				mu.Lock()
				errs = append(errs, fmt.Errorf("subscriber %s: %w", sub.ID, err))
				mu.Unlock()
			}
		}(sub)
	}
	wg.Wait()

	return errors.Join(errs...)
}

// post issues a single timeout-bounded POST with the fixed headers, the
// subscriber's custom headers layered on top, and an HMAC signature when a
// secret is configured.
func (c *Channel) post(ctx context.Context, sub *domain.Subscriber, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.config.UserAgent)

	cfg := c.parseSubscriberConfig(ctx, sub)
	for _, h := range cfg.Headers {
		req.Header.Set(h.Key, h.Value)
	}
	if cfg.Secret != "" {
		req.Header.Set("X-Beacon-Signature", sign(cfg.Secret, body))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// parseSubscriberConfig decodes the stored channel config. A malformed blob
// is logged and treated as empty configuration, never as a delivery failure.
func (c *Channel) parseSubscriberConfig(ctx context.Context, sub *domain.Subscriber) SubscriberConfig {
	if strings.TrimSpace(sub.ChannelConfig) == "" {
		return SubscriberConfig{}
	}

	var cfg SubscriberConfig
	if err := json.Unmarshal([]byte(sub.ChannelConfig), &cfg); err != nil {
		ctxlog.FromContext(ctx).Warn("malformed webhook config, ignoring",
			"subscriber_id", sub.ID,
			"error", err,
		)
		return SubscriberConfig{}
	}
	return cfg
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// maskURL hides the path of a webhook URL for logging.
func maskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "invalid-url"
	}
	return u.Scheme + "://" + u.Host + "/..."
}
