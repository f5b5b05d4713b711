// Package llm defines the text-generation capability used by the interview
// engine and its OpenAI and Gemini implementations.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Role tags a message in the conversation replay.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged entry of a generation request.
type Message struct {
	Role    Role
	Content string
}

// Provider generates the next assistant text for an ordered message list.
type Provider interface {
	Name() string
	Generate(ctx context.Context, messages []Message) (string, error)
}

var (
	// ErrMissingCredential is returned by New when no API key is configured.
	ErrMissingCredential = errors.New("llm: missing credential")
	// ErrEmptyCompletion is returned when the backend answers without text.
	ErrEmptyCompletion = errors.New("llm: empty completion")
)

const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 500
)

// Config selects and parameterizes a provider.
type Config struct {
	Provider    string // openai | gemini
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float64
	MaxTokens   int
	HTTPClient  *http.Client
}

// New builds the configured provider. It returns ErrMissingCredential when no
// key is set so callers can run in placeholder mode.
func New(ctx context.Context, cfg Config) (Provider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingCredential
	}
	opts := []Option{WithTemperature(cfg.Temperature), WithMaxTokens(cfg.MaxTokens)}
	if cfg.BaseURL != "" {
		opts = append(opts, WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, WithHTTPClient(cfg.HTTPClient))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "openai":
		return NewOpenAI(cfg.APIKey, cfg.Model, opts...), nil
	case "gemini":
		return NewGemini(ctx, cfg.APIKey, cfg.Model, opts...)
	default:
		return nil, fmt.Errorf("llm: unsupported provider %q", cfg.Provider)
	}
}

type options struct {
	baseURL     string
	httpClient  *http.Client
	temperature float64
	maxTokens   int
}

func defaultOptions() options {
	return options{
		temperature: DefaultTemperature,
		maxTokens:   DefaultMaxTokens,
	}
}

// Option configures a provider.
type Option func(*options)

// WithBaseURL sets a custom endpoint (for testing or proxying).
func WithBaseURL(url string) Option {
	return func(o *options) {
		o.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithTemperature sets the sampling temperature. Non-positive values keep the default.
func WithTemperature(t float64) Option {
	return func(o *options) {
		if t > 0 {
			o.temperature = t
		}
	}
}

// WithMaxTokens caps the completion length. Non-positive values keep the default.
func WithMaxTokens(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxTokens = n
		}
	}
}
