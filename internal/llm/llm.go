// Package llm provides minimal completion clients for the Anthropic Messages
// API and the OpenAI Chat Completions API.
//
// Both vendors share one transport: a local token bucket (50 requests per
// minute, burst 5) and exponential backoff over 429, 5xx and network
// failures. Other statuses fail at once with the vendor's error message.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/seer/internal/config"
)

const (
	anthropicURL   = "https://api.anthropic.com"
	anthropicModel = "claude-3-5-sonnet-20241022"
	openAIURL      = "https://api.openai.com"
	openAIModel    = "gpt-4o-mini"

	defaultMaxTokens   = 2048
	defaultTemperature = 0.3
	requestTimeout     = time.Minute
	retryLimit         = 3
	firstBackoff       = time.Second

	requestsPerSecond = 50.0 / 60.0
	requestBurst      = 5
)

// ErrEmptyResponse is returned when the API answers without any text.
var ErrEmptyResponse = errors.New("empty response from API")

// Client generates a completion for a single user prompt.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Name() string
}

// Config configures a completion client.
type Config struct {
	Provider  string // "anthropic" or "openai"
	APIKey    string
	BaseURL   string
	Model     string
	Timeout   time.Duration
	MaxTokens int

	// BaseBackoff overrides the first retry delay. Zero uses 1s.
	BaseBackoff time.Duration
}

// FromSettings builds a client config from the loaded configuration.
func FromSettings(provider string, s config.LLMConfig) Config {
	return Config{
		Provider: provider,
		APIKey:   s.APIKey.Value(),
		BaseURL:  s.BaseURL,
		Model:    s.Model,
		Timeout:  s.Timeout.Duration(),
	}
}

// New returns the client for cfg.Provider.
func New(cfg Config) (Client, error) {
	var d dialect
	switch cfg.Provider {
	case "anthropic", "":
		d = anthropicDialect{model: or(cfg.Model, anthropicModel)}
		cfg.BaseURL = or(cfg.BaseURL, anthropicURL)
		cfg.Provider = "anthropic"
	case "openai":
		d = openAIDialect{model: or(cfg.Model, openAIModel)}
		cfg.BaseURL = or(cfg.BaseURL, openAIURL)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s API key required", cfg.Provider)
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = requestTimeout
	}
	base := cfg.BaseBackoff
	if base <= 0 {
		base = firstBackoff
	}
	return &client{
		name:    cfg.Provider,
		dialect: d,
		cfg:     cfg,
		transport: &transport{
			http:    &http.Client{Timeout: timeout},
			limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), requestBurst),
			retries: retryLimit,
			backoff: base,
		},
	}, nil
}

// dialect is the vendor-specific half of a client.
type dialect interface {
	path() string
	headers(h http.Header, apiKey string)
	body(prompt string, maxTokens int) any
	// text extracts the completion from a 200 response.
	text(body []byte) (string, error)
}

type client struct {
	name      string
	dialect   dialect
	cfg       Config
	transport *transport
}

func (c *client) Name() string { return c.name }

func (c *client) Complete(ctx context.Context, prompt string) (string, error) {
	payload := c.dialect.body(prompt, c.cfg.MaxTokens)
	body, err := c.transport.post(ctx, c.cfg.BaseURL+c.dialect.path(), payload, func(h http.Header) {
		c.dialect.headers(h, c.cfg.APIKey)
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", c.name, err)
	}
	return c.dialect.text(body)
}

func or(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
