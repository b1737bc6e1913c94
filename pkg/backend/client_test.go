package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chatstream/pkg/chat"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL + "/api/"
	cfg.HealthTimeout = 1
	return NewClient(cfg)
}

func TestOpenCompletion_PostsPayloadAndStreams(t *testing.T) {
	var got chat.CompletionRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/chat", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		f := w.(http.Flusher)
		for _, chunk := range []string{"Hel", "lo, wor", "ld!"} {
			_, _ = io.WriteString(w, chunk)
			f.Flush()
		}
	})

	req := chat.Settings{APIKey: "sk-x", Model: "gpt-4", DeveloperMessage: "sys"}.BuildRequest("hi")
	resp, err := c.OpenCompletion(context.Background(), req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, "text/plain; charset=utf-8", resp.ContentType)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "Hello, world!", string(body))
	require.Equal(t, req, got)
}

func TestOpenCompletion_NonSuccessStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusInternalServerError)
	})
	_, err := c.OpenCompletion(context.Background(), chat.CompletionRequest{})
	var re *chat.RequestError
	require.True(t, errors.As(err, &re))
	require.Equal(t, 500, re.StatusCode)
	require.Equal(t, "upstream exploded", re.Body)
}

func TestOpenCompletion_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(Config{BaseURL: url})
	_, err := c.OpenCompletion(context.Background(), chat.CompletionRequest{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "send completion request")
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr string
	}{
		{
			name: "ok",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, `{"status":"ok"}`)
			},
		},
		{
			name: "wrong status value",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, `{"status":"degraded"}`)
			},
			wantErr: "unexpected health status",
		},
		{
			name: "not json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, `<html>`)
			},
			wantErr: "decode health response",
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = io.WriteString(w, `{"status":"ok"}`)
			},
			wantErr: "health status 503",
		},
		{
			name: "timeout",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(3 * time.Second):
				}
			},
			wantErr: "health request",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, "/api/health", r.URL.Path)
				tt.handler(w, r)
			})
			err := c.Health(context.Background())
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigEndpoint(t *testing.T) {
	require.Equal(t, "http://h/api/chat", Config{BaseURL: "http://h/api/"}.endpoint("/chat"))
	require.Equal(t, "/api/health", Config{}.endpoint("/health"))
	require.Equal(t, 30*time.Second, DefaultConfig().RequestTimeoutDuration())
}
