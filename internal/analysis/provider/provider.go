package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Provider names
const (
	Gemini = "gemini"
	OpenAI = "openai"
)

var (
	ErrUnsupportedProvider = errors.New("unsupported ai provider")
	ErrMissingAPIKey       = errors.New("ai provider api key is not configured")
)

// AIProvider sends one prompt to a model and returns the raw text it answered
type AIProvider interface {
	Name() string
	Complete(ctx context.Context, prompt string) (string, error)
}

// Config selects and parameterises a provider
type Config struct {
	Provider string
	Model    string
	APIKey   string
	Endpoint string
	Timeout  time.Duration
	Limiter  *rate.Limiter
	Client   *http.Client
}

// StatusError is returned for any non-2xx provider response
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error %d: %s", e.Provider, e.StatusCode, e.Body)
}

// TransportError wraps failures to reach the provider at all
type TransportError struct {
	Provider string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// New builds the provider named in cfg
func New(cfg Config) (AIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: %w", cfg.Provider, ErrMissingAPIKey)
	}

	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 300 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	base := caller{client: client, limiter: cfg.Limiter}

	switch strings.ToLower(cfg.Provider) {
	case Gemini:
		ep := "https://generativelanguage.googleapis.com/v1beta"
		if cfg.Endpoint != "" {
			ep = strings.TrimRight(cfg.Endpoint, "/")
		}
		model := cfg.Model
		if model == "" {
			model = "gemini-2.0-flash"
		}
		base.name = Gemini
		return &GeminiProvider{caller: base, apiKey: cfg.APIKey, model: model, endpoint: ep}, nil
	case OpenAI:
		ep := "https://api.openai.com/v1"
		if cfg.Endpoint != "" {
			ep = strings.TrimRight(cfg.Endpoint, "/")
		}
		model := cfg.Model
		if model == "" {
			model = "gpt-4o-mini"
		}
		base.name = OpenAI
		return &OpenAIProvider{caller: base, apiKey: cfg.APIKey, model: model, endpoint: ep}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, cfg.Provider)
	}
}

// NewLimiter returns a limiter allowing rpm requests per minute, or nil when
// rpm is not positive.
func NewLimiter(rpm int) *rate.Limiter {
	if rpm <= 0 {
		return nil
	}
	burst := rpm / 10
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), burst)
}

// Supported reports whether name is a known provider
func Supported(name string) bool {
	switch strings.ToLower(name) {
	case Gemini, OpenAI:
		return true
	}
	return false
}

type caller struct {
	name    string
	client  *http.Client
	limiter *rate.Limiter
}

func (c caller) Name() string { return c.name }

// do waits for the limiter, sends req and returns the body of a 2xx response
func (c caller) do(req *http.Request) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return nil, fmt.Errorf("%s rate limiter: %w", c.name, err)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		// url.Error embeds the request URL, which carries the gemini key
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return nil, &TransportError{Provider: c.name, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Provider: c.name, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Provider: c.name, StatusCode: resp.StatusCode, Body: truncateAPIError(body)}
	}
	return body, nil
}

// truncateAPIError keeps at most 512 bytes of an error body
func truncateAPIError(body []byte) string {
	const maxLen = 512
	if len(body) <= maxLen {
		return string(body)
	}
	return string(body[:maxLen]) + "... (truncated)"
}
