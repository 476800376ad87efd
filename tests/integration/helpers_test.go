//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/beaconhq/beacon/internal/testutil"
)

var seq atomic.Int64

// unique returns a process-unique suffix so tests can run in any order
// without colliding on slugs or subscriber identities.
func unique() string {
	return fmt.Sprintf("%d-%d", time.Now().UnixNano(), seq.Add(1))
}

func uniqueEmail(prefix string) string {
	return fmt.Sprintf("%s-%s@example.com", prefix, unique())
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

// Pages and components have no write API; tests seed them directly.

func seedPage(t *testing.T, name, slug, customDomain string) int64 {
	t.Helper()

	var id int64
	err := testDB.QueryRow(context.Background(),
		`INSERT INTO pages (name, slug, custom_domain) VALUES ($1, $2, NULLIF($3, '')) RETURNING id`,
		name, slug, customDomain,
	).Scan(&id)
	require.NoError(t, err)
	return id
}

func seedComponent(t *testing.T, pageID int64, name string) int64 {
	t.Helper()

	var id int64
	err := testDB.QueryRow(context.Background(),
		`INSERT INTO components (page_id, name) VALUES ($1, $2) RETURNING id`,
		pageID, name,
	).Scan(&id)
	require.NoError(t, err)
	return id
}

// expireSubscription moves a pending subscription's verification deadline
// into the past.
func expireSubscription(t *testing.T, token string) {
	t.Helper()

	tag, err := testDB.Exec(context.Background(),
		`UPDATE subscribers SET expires_at = NOW() - INTERVAL '1 hour' WHERE token = $1`, token)
	require.NoError(t, err)
	require.EqualValues(t, 1, tag.RowsAffected())
}

// subscribeResponse mirrors the subscribe endpoint's data envelope.
type subscribeResponse struct {
	Data struct {
		Outcome      string  `json:"outcome"`
		Token        string  `json:"token"`
		Accepted     bool    `json:"accepted"`
		ComponentIDs []int64 `json:"component_ids"`
	} `json:"data"`
}

func subscribeEmail(t *testing.T, client *testutil.Client, slug, email string, componentIDs []int64) (int, subscribeResponse) {
	t.Helper()

	resp, err := client.POST("/api/v1/pages/"+slug+"/subscriptions", map[string]interface{}{
		"email":         email,
		"component_ids": componentIDs,
	})
	require.NoError(t, err)

	var result subscribeResponse
	testutil.DecodeJSON(t, resp, &result)
	return resp.StatusCode, result
}

func subscribeWebhook(t *testing.T, client *testutil.Client, slug, url, config string, componentIDs []int64) (int, subscribeResponse) {
	t.Helper()

	payload := map[string]interface{}{
		"url":           url,
		"component_ids": componentIDs,
	}
	if config != "" {
		payload["config"] = json.RawMessage(config)
	}

	resp, err := client.POST("/api/v1/pages/"+slug+"/subscriptions/webhook", payload)
	require.NoError(t, err)

	var result subscribeResponse
	testutil.DecodeJSON(t, resp, &result)
	return resp.StatusCode, result
}

// verifySubscription confirms a pending subscription and asserts success.
func verifySubscription(t *testing.T, client *testutil.Client, token string) {
	t.Helper()

	resp, err := client.GET("/api/v1/subscriptions/verify?token=" + token)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

// createReport files a status report as an operator and returns its ID.
func createReport(t *testing.T, client *testutil.Client, pageID int64, title, status, message string, componentIDs []int64) int64 {
	t.Helper()

	resp, err := client.POST("/api/v1/reports", map[string]interface{}{
		"page_id":       pageID,
		"title":         title,
		"status":        status,
		"message":       message,
		"component_ids": componentIDs,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var result struct {
		Data struct {
			ID int64 `json:"id"`
		} `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	return result.Data.ID
}
