//go:build integration

package integration

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// webhookTarget collects deliveries for one subscriber endpoint.
type webhookTarget struct {
	srv *httptest.Server

	mu       sync.Mutex
	payloads [][]byte
	headers  []http.Header
}

func newWebhookTarget(t *testing.T) *webhookTarget {
	t.Helper()

	target := &webhookTarget{}
	target.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		target.mu.Lock()
		target.payloads = append(target.payloads, body)
		target.headers = append(target.headers, r.Header.Clone())
		target.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(target.srv.Close)
	return target
}

func (wt *webhookTarget) count() int {
	wt.mu.Lock()
	defer wt.mu.Unlock()
	return len(wt.payloads)
}

// delivery returns the i-th payload decoded plus its headers.
func (wt *webhookTarget) delivery(t *testing.T, i int) (map[string]interface{}, http.Header, []byte) {
	t.Helper()

	wt.mu.Lock()
	defer wt.mu.Unlock()
	require.Greater(t, len(wt.payloads), i)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(wt.payloads[i], &payload))
	return payload, wt.headers[i], wt.payloads[i]
}

func TestWebhookSubscriptionReceivesReportUpdates(t *testing.T) {
	client := newTestClient(t)
	operator := newOperatorClient(t)

	slug := "webhook-e2e-" + unique()
	pageID := seedPage(t, "Webhook Page", slug, "")
	api := seedComponent(t, pageID, "API")
	db := seedComponent(t, pageID, "Database")

	scoped := newWebhookTarget(t)
	wholePage := newWebhookTarget(t)
	unrelated := newWebhookTarget(t)

	// Verification goes out over the webhook channel itself.
	code, scopedSub := subscribeWebhook(t, client, slug, scoped.srv.URL, `{"secret":"e2e-secret"}`, []int64{api})
	require.Equal(t, http.StatusCreated, code)

	require.Eventually(t, func() bool { return scoped.count() >= 1 }, 10*time.Second, 50*time.Millisecond,
		"verification webhook not delivered")

	verification, _, _ := scoped.delivery(t, 0)
	assert.Equal(t, "verification", verification["type"])
	assert.Equal(t, scopedSub.Data.Token, verification["token"])
	assert.Contains(t, verification["verifyUrl"], scopedSub.Data.Token)

	verifySubscription(t, client, scopedSub.Data.Token)

	code, wholePageSub := subscribeWebhook(t, client, slug, wholePage.srv.URL, "", nil)
	require.Equal(t, http.StatusCreated, code)
	verifySubscription(t, client, wholePageSub.Data.Token)

	code, unrelatedSub := subscribeWebhook(t, client, slug, unrelated.srv.URL, "", []int64{db})
	require.Equal(t, http.StatusCreated, code)
	verifySubscription(t, client, unrelatedSub.Data.Token)

	createReport(t, operator, pageID, "API outage", "investigating",
		"Elevated error rates on the API.", []int64{api})

	require.Eventually(t, func() bool { return scoped.count() >= 2 }, 10*time.Second, 50*time.Millisecond,
		"scoped subscriber did not receive the report")
	require.Eventually(t, func() bool { return wholePage.count() >= 2 }, 10*time.Second, 50*time.Millisecond,
		"whole-page subscriber did not receive the report")

	payload, headers, raw := scoped.delivery(t, 1)
	assert.Equal(t, "page_update", payload["type"])

	page := payload["page"].(map[string]interface{})
	assert.Equal(t, "Webhook Page", page["name"])

	update := payload["update"].(map[string]interface{})
	assert.Equal(t, "API outage", update["title"])
	assert.Equal(t, "investigating", update["status"])
	assert.Equal(t, "Elevated error rates on the API.", update["message"])
	assert.Equal(t, []interface{}{"API"}, update["pageComponents"])

	mac := hmac.New(sha256.New, []byte("e2e-secret"))
	mac.Write(raw)
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), headers.Get("X-Beacon-Signature"))
	assert.Equal(t, "beacon-notify/1.0", headers.Get("User-Agent"))

	// The subscriber scoped to an unaffected component only ever saw its
	// verification message.
	time.Sleep(500 * time.Millisecond)
	assert.Equal(t, 1, unrelated.count())
}

func TestSubscribeWebhook_Validation(t *testing.T) {
	client := newTestClient(t)

	slug := "webhook-validation-" + unique()
	seedPage(t, "Webhook Validation Page", slug, "")

	t.Run("rejects non-http scheme", func(t *testing.T) {
		resp, err := client.POST("/api/v1/pages/"+slug+"/subscriptions/webhook",
			map[string]interface{}{"url": "ftp://example.com/hook"})
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("rejects malformed config", func(t *testing.T) {
		resp, err := client.POST("/api/v1/pages/"+slug+"/subscriptions/webhook", map[string]interface{}{
			"url":    "https://example.com/hook",
			"config": json.RawMessage(`{"headers":[{"key":"","value":"x"}]}`),
		})
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("url identity is case-insensitive", func(t *testing.T) {
		hookURL := "https://Hooks.Example.com/" + unique()

		code, first := subscribeWebhook(t, client, slug, hookURL, "", nil)
		require.Equal(t, http.StatusCreated, code)

		code, second := subscribeWebhook(t, client, slug, strings.ToLower(hookURL), "", nil)
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, first.Data.Token, second.Data.Token)
	})
}
