package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatstream/pkg/chat"
	"github.com/go-go-golems/chatstream/pkg/stream"
)

const (
	SectionSlug = "api"

	DefaultBaseURL        = "http://localhost:8000/api"
	DefaultRequestTimeout = 30
	DefaultHealthTimeout  = 5

	maxErrorBody = 512
)

// Config locates the completion backend. Timeouts are in seconds.
type Config struct {
	BaseURL        string `glazed:"api-url"`
	RequestTimeout int    `glazed:"request-timeout"`
	HealthTimeout  int    `glazed:"health-timeout"`
}

func DefaultConfig() Config {
	return Config{
		BaseURL:        DefaultBaseURL,
		RequestTimeout: DefaultRequestTimeout,
		HealthTimeout:  DefaultHealthTimeout,
	}
}

// NewSection returns the glazed section for backend settings. With the env
// source enabled, api-url can be set through CHATSTREAM_API_URL.
func NewSection() (schema.Section, error) {
	return schema.NewSection(
		SectionSlug,
		"Completion backend",
		schema.WithFields(
			fields.New("api-url", fields.TypeString,
				fields.WithHelp("Base URL of the completion backend (POST /chat, GET /health)"),
				fields.WithDefault(DefaultBaseURL)),
			fields.New("request-timeout", fields.TypeInteger,
				fields.WithHelp("Seconds to wait for response headers before failing a send (0 disables)"),
				fields.WithDefault(DefaultRequestTimeout)),
			fields.New("health-timeout", fields.TypeInteger,
				fields.WithHelp("Seconds before a health check counts as failed"),
				fields.WithDefault(DefaultHealthTimeout)),
		),
	)
}

func (c Config) RequestTimeoutDuration() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

func (c Config) HealthTimeoutDuration() time.Duration {
	return time.Duration(c.HealthTimeout) * time.Second
}

func (c Config) endpoint(path string) string {
	base := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if base == "" {
		base = "/api"
	}
	return base + path
}

type Client struct {
	cfg  Config
	http *http.Client
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func NewClient(cfg Config, opts ...ClientOption) *Client {
	c := &Client{
		cfg: cfg,
		// no client-wide timeout, it would cut long streams
		http: &http.Client{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) Config() Config {
	return c.cfg
}

// OpenCompletion posts req to {base}/chat and returns the raw body stream once
// the headers arrived. Non-2xx statuses come back as *chat.RequestError.
func (c *Client) OpenCompletion(ctx context.Context, req chat.CompletionRequest) (*stream.Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "marshal completion request")
	}
	url := c.cfg.endpoint("/chat")
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "build completion request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/plain, */*")

	log.Debug().Str("component", "backend").Str("url", url).Str("model", req.Model).Msg("posting completion request")
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "send completion request")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer func() { _ = resp.Body.Close() }()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &chat.RequestError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return &stream.Response{Body: resp.Body, ContentType: resp.Header.Get("Content-Type")}, nil
}

// CompletionOpener binds req for a stream.Session.
func (c *Client) CompletionOpener(req chat.CompletionRequest) stream.OpenFunc {
	return func(ctx context.Context) (*stream.Response, error) {
		return c.OpenCompletion(ctx, req)
	}
}

type healthResponse struct {
	Status string `json:"status"`
}

// Health calls {base}/health and returns nil when it answers {"status":"ok"}.
func (c *Client) Health(ctx context.Context) error {
	if d := c.cfg.HealthTimeoutDuration(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.endpoint("/health"), nil)
	if err != nil {
		return errors.Wrap(err, "build health request")
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return errors.Wrap(err, "health request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Errorf("health status %d", resp.StatusCode)
	}
	var hr healthResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&hr); err != nil {
		return errors.Wrap(err, "decode health response")
	}
	if hr.Status != "ok" {
		return errors.Errorf("unexpected health status %q", hr.Status)
	}
	return nil
}
