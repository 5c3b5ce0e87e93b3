// Package botapi is a minimal client for a chat bot HTTP API exposing a
// Telegram-style sendMessage method.
package botapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultEndpoint is the public Bot API base URL.
const DefaultEndpoint = "https://api.telegram.org"

// maxResponseBody bounds how much of a response is read.
const maxResponseBody = 64 << 10

// ClientConfig holds the opaque credentials and destination.
type ClientConfig struct {
	Endpoint string
	Token    string
	ChatID   string
	// HTTPClient defaults to one with a 15s timeout; per-request deadlines
	// come from the caller's context.
	HTTPClient *http.Client
}

// Client submits text messages to one chat.
type Client struct {
	baseURL    string
	token      string
	chatID     string
	httpClient *http.Client
}

// NewClient validates config and returns a Client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.Token == "" {
		return nil, errors.New("botapi: token is required")
	}
	if config.ChatID == "" {
		return nil, errors.New("botapi: chat id is required")
	}
	endpoint := config.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("botapi: invalid endpoint %q", endpoint)
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(endpoint, "/"),
		token:      config.Token,
		chatID:     config.ChatID,
		httpClient: httpClient,
	}, nil
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// Send renders text per format and submits it to the configured chat.
func (c *Client) Send(ctx context.Context, text string, f Format) error {
	return c.SendMessage(ctx, c.chatID, text, f)
}

// SendMessage submits one message to chatID. It returns nil on success, an
// *APIError when the server rejected the request, or an error wrapping
// ErrUnreachable when no response was received.
func (c *Client) SendMessage(ctx context.Context, chatID, text string, f Format) error {
	body, mode := Render(text, f)
	encoded, err := json.Marshal(sendMessageRequest{
		ChatID:                chatID,
		Text:                  body,
		ParseMode:             mode,
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("botapi: encode request: %w", err)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/bot"+c.token+"/sendMessage", bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("botapi: build request: %s", c.redact(err.Error()))
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		// url.Error carries the request URL, which embeds the token.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			return fmt.Errorf("%w: %w", ErrUnreachable, uerr.Err)
		}
		return fmt.Errorf("%w: %s", ErrUnreachable, c.redact(err.Error()))
	}
	defer response.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("%w: read response: %s", ErrUnreachable, c.redact(err.Error()))
	}

	var decoded apiResponse
	if jsonErr := json.Unmarshal(raw, &decoded); jsonErr != nil {
		if response.StatusCode >= 200 && response.StatusCode < 300 {
			return nil
		}
		return &APIError{
			Code:        response.StatusCode,
			Description: strings.TrimSpace(string(raw)),
			StatusCode:  response.StatusCode,
		}
	}
	if response.StatusCode >= 200 && response.StatusCode < 300 && decoded.OK {
		return nil
	}
	apiErr := &APIError{
		Code:        decoded.ErrorCode,
		Description: decoded.Description,
		StatusCode:  response.StatusCode,
	}
	if apiErr.Code == 0 {
		apiErr.Code = response.StatusCode
	}
	if decoded.Parameters != nil && decoded.Parameters.RetryAfter > 0 {
		apiErr.RetryAfter = time.Duration(decoded.Parameters.RetryAfter) * time.Second
	}
	return apiErr
}

// Host returns host:port of the endpoint for reachability probes.
func (c *Client) Host() string { return ProbeAddr(c.baseURL) }

// ProbeAddr derives host:port from an endpoint URL (443 for https, 80 for http
// when no port is given). It returns "" for an unparsable endpoint.
func ProbeAddr(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	port := u.Port()
	if port == "" {
		port = "443"
		if u.Scheme == "http" {
			port = "80"
		}
	}
	return net.JoinHostPort(u.Hostname(), port)
}

func (c *Client) redact(s string) string {
	return strings.ReplaceAll(s, c.token, "<redacted>")
}
