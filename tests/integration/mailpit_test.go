//go:build integration

package integration

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// MailpitClient queries the Mailpit REST API to inspect delivered mail.
type MailpitClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewMailpitClient(baseURL string) *MailpitClient {
	return &MailpitClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// MailpitMessage is a message summary from the search API.
type MailpitMessage struct {
	ID      string `json:"ID"`
	Subject string `json:"Subject"`
	To      []struct {
		Address string `json:"Address"`
	} `json:"To"`
}

// SearchByRecipient returns messages addressed to the given address.
func (c *MailpitClient) SearchByRecipient(address string) ([]MailpitMessage, error) {
	query := url.QueryEscape(fmt.Sprintf("to:%q", address))
	resp, err := c.httpClient.Get(c.baseURL + "/api/v1/search?query=" + query)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mailpit search: unexpected status %d", resp.StatusCode)
	}

	var result struct {
		Messages []MailpitMessage `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return result.Messages, nil
}

// MessageText returns the plain-text body of a message.
func (c *MailpitClient) MessageText(id string) (string, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/api/v1/message/" + id)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("mailpit message: unexpected status %d", resp.StatusCode)
	}

	var result struct {
		Text string `json:"Text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.Text, nil
}

// assertNoMoreMail waits briefly and asserts the address received exactly n
// messages.
func assertNoMoreMail(t *testing.T, address string, n int) {
	t.Helper()

	time.Sleep(2 * time.Second)
	messages, err := mailpitClient.SearchByRecipient(address)
	require.NoError(t, err)
	require.Len(t, messages, n)
}

// waitForMessage polls until at least n messages for the address arrive.
func waitForMessage(t *testing.T, address string, n int) []MailpitMessage {
	t.Helper()

	var messages []MailpitMessage
	require.Eventually(t, func() bool {
		var err error
		messages, err = mailpitClient.SearchByRecipient(address)
		return err == nil && len(messages) >= n
	}, 15*time.Second, 100*time.Millisecond, "expected %d messages for %s", n, address)
	return messages
}
