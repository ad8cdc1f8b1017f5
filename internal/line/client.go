// ABOUTME: LINE Messaging API client for reply and push delivery
// ABOUTME: JSON over HTTPS with bearer auth, retry keys on push and client-side rate limiting

package line

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the production Messaging API host.
const DefaultBaseURL = "https://api.line.me"

// requestTimeout bounds a single API call.
const requestTimeout = 30 * time.Second

// APIError is a non-2xx response from the Messaging API.
type APIError struct {
	StatusCode int
	Message    string
	Details    []APIErrorDetail
}

// APIErrorDetail is one entry of the "details" array of an error response.
type APIErrorDetail struct {
	Message  string `json:"message"`
	Property string `json:"property"`
}

func (e *APIError) Error() string {
	if len(e.Details) > 0 {
		return fmt.Sprintf("line api error (%d): %s: %s %s", e.StatusCode, e.Message, e.Details[0].Property, e.Details[0].Message)
	}
	return fmt.Sprintf("line api error (%d): %s", e.StatusCode, e.Message)
}

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL     string
	AccessToken string
	PushRate    float64 // pushes per second, 0 means unlimited
	PushBurst   int
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// Client sends messages through the Messaging API.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewClient creates a new Messaging API client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.PushRate > 0 {
		burst := cfg.PushBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.PushRate), burst)
	}

	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   cfg.AccessToken,
		client:  httpClient,
		limiter: limiter,
		logger:  logger.With("component", "line-client"),
	}
}

type replyRequest struct {
	ReplyToken string    `json:"replyToken"`
	Messages   []Message `json:"messages"`
}

type pushRequest struct {
	To       string    `json:"to"`
	Messages []Message `json:"messages"`
}

// Reply answers an inbound event using its one-shot reply token.
func (c *Client) Reply(ctx context.Context, replyToken string, msgs ...Message) error {
	if replyToken == "" {
		return fmt.Errorf("reply token is required")
	}
	if len(msgs) == 0 {
		return fmt.Errorf("at least one message is required")
	}
	return c.post(ctx, "/v2/bot/message/reply", replyRequest{ReplyToken: replyToken, Messages: msgs}, "")
}

// Push sends messages to a user outside of a reply. Each call carries a fresh
// retry key so the platform can discard duplicates of the same request.
func (c *Client) Push(ctx context.Context, to string, msgs ...Message) error {
	if to == "" {
		return fmt.Errorf("recipient is required")
	}
	if len(msgs) == 0 {
		return fmt.Errorf("at least one message is required")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for push rate limit: %w", err)
	}
	return c.post(ctx, "/v2/bot/message/push", pushRequest{To: to, Messages: msgs}, uuid.New().String())
}

func (c *Client) post(ctx context.Context, path string, payload any, retryKey string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	if retryKey != "" {
		req.Header.Set("X-Line-Retry-Key", retryKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.handleErrorResponse(resp)
	}

	// Drain so the connection can be reused
	_, _ = io.Copy(io.Discard, resp.Body)
	c.logger.Debug("api call succeeded", "path", path, "status", resp.StatusCode)
	return nil
}

// handleErrorResponse extracts the error message from non-2xx responses.
func (c *Client) handleErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var errResp struct {
		Message string           `json:"message"`
		Details []APIErrorDetail `json:"details"`
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Message != "" {
		return &APIError{StatusCode: resp.StatusCode, Message: errResp.Message, Details: errResp.Details}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
}

// Gateway is the outbound half of the messaging platform. Client implements
// it; tests substitute fakes.
type Gateway interface {
	Reply(ctx context.Context, replyToken string, msgs ...Message) error
	Push(ctx context.Context, to string, msgs ...Message) error
}

var _ Gateway = (*Client)(nil)
