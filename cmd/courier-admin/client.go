// ABOUTME: Minimal HTTP client for the courier admin API
// ABOUTME: Adds the bearer token and decodes JSON responses and error bodies

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type userView struct {
	UserID       string `json:"user_id"`
	Name         string `json:"name"`
	RegisteredAt int64  `json:"registered_at"`
}

type recipientView struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

type announcementView struct {
	MessageID  string          `json:"message_id"`
	Content    string          `json:"content"`
	SentAt     int64           `json:"sent_at"`
	Format     string          `json:"format"`
	Recipients []recipientView `json:"recipients"`
	Pending    int             `json:"pending"`
}

type createAnnouncementRequest struct {
	Content    string   `json:"content"`
	Format     string   `json:"format,omitempty"`
	Recipients []string `json:"recipients,omitempty"`
}

type historyView struct {
	Name       string `json:"name"`
	MessageID  string `json:"message_id"`
	SentAt     int64  `json:"sent_at"`
	Recipients int    `json:"recipients"`
}

type deliveryView struct {
	UserID      string    `json:"user_id"`
	UserName    string    `json:"user_name"`
	Status      string    `json:"status"`
	Error       string    `json:"error"`
	AttemptedAt time.Time `json:"attempted_at"`
}

type relayView struct {
	SenderID      string    `json:"sender_id"`
	SenderName    string    `json:"sender_name"`
	RecipientID   string    `json:"recipient_id"`
	RecipientName string    `json:"recipient_name"`
	Body          string    `json:"body"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

// apiError is a non-2xx answer from the server.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

type adminClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newAdminClient(baseURL, token string) *adminClient {
	return &adminClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *adminClient) do(method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.HasPrefix(path, "/api/") {
		if c.token == "" {
			return nil, fmt.Errorf("COURIER_TOKEN environment variable is required")
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, decodeAPIError(resp)
	}
	return resp, nil
}

func decodeAPIError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(data))
	if err := json.Unmarshal(data, &payload); err == nil && payload.Error != "" {
		msg = payload.Error
	}
	return &apiError{Status: resp.StatusCode, Message: msg}
}

func (c *adminClient) getJSON(path string, out any) error {
	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (c *adminClient) postJSON(path string, body, out any) error {
	resp, err := c.do(http.MethodPost, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (c *adminClient) getText(path string) (string, error) {
	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
