package suggest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/erpdb/pkg/types"
)

// Default local inference settings.
const (
	DefaultURL     = "http://localhost:11434"
	DefaultModel   = "llama3.2"
	DefaultTimeout = 60 * time.Second
)

const providerName = "ollama"

// defaultOptions are sent with every generate call unless the request
// overrides them.
var defaultOptions = map[string]any{
	"temperature": 0.7,
	"top_p":       0.9,
}

// Client talks to a local Ollama server. Calls go through a circuit breaker
// so a stopped server fails fast during a batch instead of waiting out the
// timeout for every item.
type Client struct {
	baseURL string
	model   string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithModel sets the model used when a request names none.
func WithModel(m string) ClientOption {
	return func(c *Client) {
		if m != "" {
			c.model = m
		}
	}
}

// NewClient returns a client for the server at baseURL.
func NewClient(baseURL string, timeout time.Duration, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   DefaultModel,
		http:    &http.Client{Timeout: timeout},
		logger:  zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        providerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return c
}

// Model returns the default model name.
func (c *Client) Model() string { return c.model }

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Models lists the models installed on the server.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	var tags tagsResponse
	err := c.call(ctx, http.MethodGet, "/api/tags", nil, &tags)
	if err != nil {
		return nil, &types.ProviderError{Provider: providerName, Err: err}
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Generate runs one non-streaming completion and returns the reply text.
func (c *Client) Generate(ctx context.Context, model, prompt string, params map[string]any) (string, error) {
	if model == "" {
		model = c.model
	}
	opts := make(map[string]any, len(defaultOptions)+len(params))
	for k, v := range defaultOptions {
		opts[k] = v
	}
	for k, v := range params {
		opts[k] = v
	}
	var out generateResponse
	body := generateRequest{Model: model, Prompt: prompt, Options: opts}
	if err := c.call(ctx, http.MethodPost, "/api/generate", body, &out); err != nil {
		return "", &types.ProviderError{Provider: providerName, Err: err}
	}
	return out.Response, nil
}

// Suggest asks the model for candidate ERP names.
func (c *Client) Suggest(ctx context.Context, req Request) ([]string, error) {
	text, err := c.Generate(ctx, req.Model, BuildPrompt(req), req.Parameters)
	if err != nil {
		return nil, err
	}
	names := ParseCandidates(text, req.count())
	if len(names) == 0 {
		return nil, &types.ProviderError{Provider: providerName, Err: errors.New("reply contained no candidates")}
	}
	return names, nil
}

func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.do(ctx, method, path, in, out)
	})
	return err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	c.logger.Debug("provider call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
