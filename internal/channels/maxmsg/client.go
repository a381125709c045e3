// Package maxmsg implements the second platform adapter (spec §4.7,
// `max.enabled`/`max.bot_token` in §6) for the Max messenger's Bot API.
//
// No Go SDK for this API exists anywhere in the retrieval pack, so the HTTP
// client is hand-rolled in the teacher's net/http client idiom — grounded on
// vanducng-goclaw's internal/channels/feishu/larkclient.go: a small struct
// wrapping *http.Client and one do helper that sends the bot token as the
// access_token query parameter, decodes a successful response body directly
// into the caller's type, and turns an error status carrying a
// {code, message} body into an apiError.
package maxmsg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const defaultBaseURL = "https://botapi.max.ru"

// client is a minimal HTTP client for the Max Bot API.
type client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func newClient(baseURL, token string) *client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 45 * time.Second},
	}
}

type apiError struct {
	Code        string `json:"code"`
	Description string `json:"message"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("maxmsg api error: %s: %s", e.Code, e.Description)
}

// do performs an authenticated JSON request against path, with query
// appended to the access_token auth parameter, and decodes the response
// body into out (when non-nil).
func (c *client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("access_token", c.token)

	u := c.baseURL + path + "?" + query.Encode()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("maxmsg: marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("maxmsg: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("maxmsg: request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("maxmsg: read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if jsonErr := json.Unmarshal(raw, &apiErr); jsonErr == nil && apiErr.Description != "" {
			return &apiErr
		}
		return fmt.Errorf("maxmsg: %s %s returned status %d", method, path, resp.StatusCode)
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("maxmsg: decode response: %w", err)
	}
	return nil
}

// updatesResponse mirrors Max Bot API's long-polling /updates envelope.
type updatesResponse struct {
	Updates []update `json:"updates"`
	Marker  int64    `json:"marker"`
}

// getUpdates polls for new events since marker (0 for "from now"),
// blocking up to timeoutSeconds server-side.
func (c *client) getUpdates(ctx context.Context, marker int64, timeoutSeconds int) (updatesResponse, error) {
	q := url.Values{}
	if marker != 0 {
		q.Set("marker", strconv.FormatInt(marker, 10))
	}
	q.Set("timeout", strconv.Itoa(timeoutSeconds))

	var resp updatesResponse
	err := c.do(ctx, http.MethodGet, "/updates", q, nil, &resp)
	return resp, err
}

type sendMessageRequest struct {
	Text       string      `json:"text"`
	Attachments []attachment `json:"attachments,omitempty"`
}

type attachment struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type sendMessageResponse struct {
	Message struct {
		Body struct {
			MID string `json:"mid"`
		} `json:"body"`
	} `json:"message"`
}

func (c *client) sendMessage(ctx context.Context, chatID int64, req sendMessageRequest) (string, error) {
	q := url.Values{"chat_id": []string{strconv.FormatInt(chatID, 10)}}
	var resp sendMessageResponse
	if err := c.do(ctx, http.MethodPost, "/messages", q, req, &resp); err != nil {
		return "", err
	}
	return resp.Message.Body.MID, nil
}

func (c *client) editMessage(ctx context.Context, messageID, text string) error {
	q := url.Values{"message_id": []string{messageID}}
	return c.do(ctx, http.MethodPut, "/messages", q, sendMessageRequest{Text: text}, nil)
}

func (c *client) deleteMessage(ctx context.Context, messageID string) error {
	q := url.Values{"message_id": []string{messageID}}
	return c.do(ctx, http.MethodDelete, "/messages", q, nil, nil)
}

func (c *client) sendAction(ctx context.Context, chatID int64, action string) error {
	q := url.Values{"chat_id": []string{strconv.FormatInt(chatID, 10)}}
	return c.do(ctx, http.MethodPost, "/chats/actions", q, map[string]string{"action": action}, nil)
}

func (c *client) answerCallback(ctx context.Context, callbackID, text string) error {
	body := map[string]interface{}{"callback_id": callbackID}
	if text != "" {
		body["notification"] = text
	}
	return c.do(ctx, http.MethodPost, "/answers", nil, body, nil)
}

func (c *client) subscribeWebhook(ctx context.Context, webhookURL, secret string) error {
	body := map[string]string{"url": webhookURL, "secret": secret}
	return c.do(ctx, http.MethodPost, "/subscriptions", nil, body, nil)
}
