//go:build integration

package integration

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beaconhq/beacon/internal/testutil"
)

func TestReports_RequireOperatorAuth(t *testing.T) {
	client := newTestClient(t)

	resp, err := client.POST("/api/v1/reports", map[string]interface{}{
		"page_id": 1, "title": "x", "status": "investigating", "message": "x",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	client.Token = "not-a-jwt"
	resp, err = client.POST("/api/v1/reports", map[string]interface{}{
		"page_id": 1, "title": "x", "status": "investigating", "message": "x",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestCreateReport(t *testing.T) {
	operator := newOperatorClient(t)

	slug := "reports-" + unique()
	pageID := seedPage(t, "Reports Page", slug, "")
	api := seedComponent(t, pageID, "API")

	resp, err := operator.POST("/api/v1/reports", map[string]interface{}{
		"page_id":       pageID,
		"title":         "Elevated error rates",
		"status":        "investigating",
		"message":       "We are looking into increased 5xx responses.",
		"component_ids": []int64{api},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created struct {
		Data struct {
			ID           int64   `json:"id"`
			Title        string  `json:"title"`
			Status       string  `json:"status"`
			ComponentIDs []int64 `json:"component_ids"`
		} `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &created)
	assert.NotZero(t, created.Data.ID)
	assert.Equal(t, "investigating", created.Data.Status)
	assert.Equal(t, []int64{api}, created.Data.ComponentIDs)

	// Appending an update moves the report's current status.
	resp, err = operator.POST("/api/v1/reports/"+itoa(created.Data.ID)+"/updates", map[string]interface{}{
		"status":  "resolved",
		"message": "All clear.",
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var update struct {
		Data struct {
			ID     int64  `json:"id"`
			Status string `json:"status"`
		} `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &update)
	assert.Equal(t, "resolved", update.Data.Status)

	var reportStatus string
	err = testDB.QueryRow(t.Context(),
		`SELECT status FROM status_reports WHERE id = $1`, created.Data.ID).Scan(&reportStatus)
	require.NoError(t, err)
	assert.Equal(t, "resolved", reportStatus)
}

func TestCreateReport_Validation(t *testing.T) {
	operator := newOperatorClient(t)

	slug := "reports-validation-" + unique()
	pageID := seedPage(t, "Reports Validation Page", slug, "")
	seedComponent(t, pageID, "API")

	tests := []struct {
		name     string
		payload  map[string]interface{}
		wantCode int
	}{
		{
			name: "maintenance is not a report status",
			payload: map[string]interface{}{
				"page_id": pageID, "title": "x", "status": "maintenance", "message": "x",
			},
			wantCode: http.StatusBadRequest,
		},
		{
			name: "unknown page",
			payload: map[string]interface{}{
				"page_id": int64(999999), "title": "x", "status": "investigating", "message": "x",
			},
			wantCode: http.StatusNotFound,
		},
		{
			name: "unknown component",
			payload: map[string]interface{}{
				"page_id": pageID, "title": "x", "status": "investigating", "message": "x",
				"component_ids": []int64{999999},
			},
			wantCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := operator.POST("/api/v1/reports", tt.payload)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCode, resp.StatusCode)
			resp.Body.Close()
		})
	}

	t.Run("update on unknown report", func(t *testing.T) {
		resp, err := operator.POST("/api/v1/reports/999999/updates", map[string]interface{}{
			"status": "resolved", "message": "x",
		})
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		resp.Body.Close()
	})
}

func TestMaintenances(t *testing.T) {
	operator := newOperatorClient(t)

	slug := "maintenance-" + unique()
	pageID := seedPage(t, "Maintenance Page", slug, "")
	db := seedComponent(t, pageID, "Database")

	startsAt := time.Now().Add(24 * time.Hour).UTC().Truncate(time.Second)
	endsAt := startsAt.Add(2 * time.Hour)

	resp, err := operator.POST("/api/v1/maintenances", map[string]interface{}{
		"page_id":       pageID,
		"title":         "Database upgrade",
		"message":       "Primary failover during the window.",
		"component_ids": []int64{db},
		"starts_at":     startsAt.Format(time.RFC3339),
		"ends_at":       endsAt.Format(time.RFC3339),
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created struct {
		Data struct {
			ID int64 `json:"id"`
		} `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &created)

	// Announcing the window is an explicit operator action.
	resp, err = operator.POST("/api/v1/maintenances/"+itoa(created.Data.ID)+"/notify", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	t.Run("inverted window rejected", func(t *testing.T) {
		resp, err := operator.POST("/api/v1/maintenances", map[string]interface{}{
			"page_id":   pageID,
			"title":     "Bad window",
			"message":   "x",
			"starts_at": endsAt.Format(time.RFC3339),
			"ends_at":   startsAt.Format(time.RFC3339),
		})
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("notify unknown maintenance", func(t *testing.T) {
		resp, err := operator.POST("/api/v1/maintenances/999999/notify", nil)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		resp.Body.Close()
	})
}
