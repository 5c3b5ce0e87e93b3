package botapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, endpoint string) *Client {
	t.Helper()
	c, err := NewClient(ClientConfig{Endpoint: endpoint, Token: "123:SECRET", ChatID: "-10042"})
	require.NoError(t, err)
	return c
}

func TestSendMessageSuccess(t *testing.T) {
	var got sendMessageRequest
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":7}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	require.NoError(t, c.Send(context.Background(), "boot ok", Plain))
	assert.Equal(t, "/bot123:SECRET/sendMessage", path)
	assert.Equal(t, "-10042", got.ChatID)
	assert.Equal(t, "boot ok", got.Text)
	assert.Empty(t, got.ParseMode)
	assert.True(t, got.DisableWebPagePreview)
}

func TestSendMessageMonospace(t *testing.T) {
	var got sendMessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"ok":true,"result":{}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	require.NoError(t, c.Send(context.Background(), "a`b", Monospace))
	assert.Equal(t, "MarkdownV2", got.ParseMode)
	assert.Equal(t, "```\na\\`b\n```", got.Text)
}

func TestSendMessageAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
	}))
	defer srv.Close()

	err := newTestClient(t, srv.URL).Send(context.Background(), "x", Plain)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.Code)
	assert.Equal(t, "Bad Request: chat not found", apiErr.Description)
	assert.True(t, IsPermanent(err))
	assert.False(t, errors.Is(err, ErrUnreachable))
}

func TestSendMessageRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 5","parameters":{"retry_after":5}}`))
	}))
	defer srv.Close()

	err := newTestClient(t, srv.URL).Send(context.Background(), "x", Plain)
	d, ok := RetryAfter(err)
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, d)
	assert.False(t, IsPermanent(err))
}

func TestSendMessageNonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := newTestClient(t, srv.URL).Send(context.Background(), "x", Plain)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.False(t, apiErr.Permanent())
}

func TestSendMessageUnreachableRedactsToken(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	err = newTestClient(t, "http://"+addr).Send(context.Background(), "x", Plain)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.False(t, strings.Contains(err.Error(), "SECRET"), "token leaked: %v", err)
}

func TestSendMessageHonoursContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := newTestClient(t, srv.URL).Send(ctx, "x", Plain)
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(ClientConfig{ChatID: "1"})
	assert.Error(t, err)
	_, err = NewClient(ClientConfig{Token: "t"})
	assert.Error(t, err)
	_, err = NewClient(ClientConfig{Token: "t", ChatID: "1", Endpoint: "::nope"})
	assert.Error(t, err)
}

func TestProbeAddr(t *testing.T) {
	assert.Equal(t, "api.telegram.org:443", ProbeAddr(DefaultEndpoint))
	assert.Equal(t, "127.0.0.1:8080", ProbeAddr("http://127.0.0.1:8080"))
	assert.Equal(t, "example.com:80", ProbeAddr("http://example.com/"))
	assert.Equal(t, "[::1]:443", ProbeAddr("https://[::1]"))
	assert.Equal(t, "", ProbeAddr("::nope"))
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("Mono")
	require.NoError(t, err)
	assert.Equal(t, Monospace, f)
	_, err = ParseFormat("html")
	assert.Error(t, err)
}
