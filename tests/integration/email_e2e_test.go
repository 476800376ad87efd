//go:build integration

package integration

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Exercises the full email path over real SMTP: verification mail on
// subscribe, status update mail on report creation.
func TestEmailDelivery(t *testing.T) {
	client := newTestClient(t)
	operator := newOperatorClient(t)

	slug := "email-e2e-" + unique()
	pageID := seedPage(t, "Email Page", slug, "")
	api := seedComponent(t, pageID, "API")

	address := uniqueEmail("smtp")

	code, created := subscribeEmail(t, client, slug, address, []int64{api})
	require.Equal(t, http.StatusCreated, code)

	verification := waitForMessage(t, address, 1)
	assert.Equal(t, "Confirm your subscription to Email Page", verification[0].Subject)

	body, err := mailpitClient.MessageText(verification[0].ID)
	require.NoError(t, err)
	assert.Contains(t, body, created.Data.Token, "verification mail must carry the confirm link")

	verifySubscription(t, client, created.Data.Token)

	createReport(t, operator, pageID, "API outage", "investigating",
		"Elevated error rates on the API.", []int64{api})

	messages := waitForMessage(t, address, 2)

	var updateSubject, updateID string
	for _, m := range messages {
		if m.Subject != verification[0].Subject {
			updateSubject, updateID = m.Subject, m.ID
		}
	}
	require.NotEmpty(t, updateID, "status update mail not delivered")
	assert.Equal(t, "[Email Page] Investigating: API outage", updateSubject)

	body, err = mailpitClient.MessageText(updateID)
	require.NoError(t, err)
	assert.Contains(t, body, "Elevated error rates on the API.")
	assert.Contains(t, body, created.Data.Token, "status mail must carry manage and unsubscribe links")
}

// A subscriber who never verified gets no status update mail.
func TestEmailDelivery_PendingSubscriberExcluded(t *testing.T) {
	client := newTestClient(t)
	operator := newOperatorClient(t)

	slug := "email-pending-" + unique()
	pageID := seedPage(t, "Email Pending Page", slug, "")

	address := uniqueEmail("pending")

	code, _ := subscribeEmail(t, client, slug, address, nil)
	require.Equal(t, http.StatusCreated, code)
	waitForMessage(t, address, 1)

	createReport(t, operator, pageID, "Outage", "investigating", "Details.", nil)

	// Give dispatch a moment, then confirm only the verification mail exists.
	assertNoMoreMail(t, address, 1)
}
