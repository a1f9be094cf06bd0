package service

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/GoSim-25-26J-441/adsec-backend/config"
	"github.com/GoSim-25-26J-441/adsec-backend/internal/analysis/provider"
	"golang.org/x/time/rate"
)

// system_config keys
const (
	configKeyProvider  = "ai_provider"
	configKeyModel     = "ai_model"
	configKeyGeminiKey = "gemini_api_key"
	configKeyOpenAIKey = "openai_api_key"
)

var aiConfigKeys = []string{configKeyProvider, configKeyModel, configKeyGeminiKey, configKeyOpenAIKey}

// ConfigStore is the key/value system_config table
type ConfigStore interface {
	GetMany(ctx context.Context, keys []string) (map[string]string, error)
	SetMany(ctx context.Context, values map[string]string) error
}

// AISettings are the effective provider settings
type AISettings struct {
	Provider string
	Model    string
	APIKeys  map[string]string
}

// AIConfigView is what the API shows. Keys are previews only.
type AIConfigView struct {
	Provider  string            `json:"provider"`
	Model     string            `json:"model"`
	Keys      map[string]string `json:"keys"`
	Providers []string          `json:"providers"`
}

// AIConfigUpdate changes provider settings. Empty fields are left unchanged.
type AIConfigUpdate struct {
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	GeminiAPIKey string `json:"geminiApiKey"`
	OpenAIAPIKey string `json:"openaiApiKey"`
}

// AIConfigService resolves provider settings from system_config with the
// environment as fallback, and builds providers from them at run start.
type AIConfigService struct {
	store   ConfigStore
	env     config.AIConfig
	limiter *rate.Limiter
	client  *http.Client
}

// NewAIConfigService creates a new AIConfigService. All providers it builds
// share one rate limiter and HTTP client.
func NewAIConfigService(store ConfigStore, env config.AIConfig) *AIConfigService {
	return &AIConfigService{
		store:   store,
		env:     env,
		limiter: provider.NewLimiter(env.RateRPM),
		client:  &http.Client{Timeout: env.Timeout},
	}
}

// Settings merges stored values over the environment
func (s *AIConfigService) Settings(ctx context.Context) (AISettings, error) {
	stored, err := s.store.GetMany(ctx, aiConfigKeys)
	if err != nil {
		return AISettings{}, fmt.Errorf("failed to load ai config: %w", err)
	}

	settings := AISettings{
		Provider: strings.ToLower(firstNonEmpty(stored[configKeyProvider], s.env.Provider, provider.Gemini)),
		APIKeys: map[string]string{
			provider.Gemini: firstNonEmpty(stored[configKeyGeminiKey], s.env.GeminiAPIKey),
			provider.OpenAI: firstNonEmpty(stored[configKeyOpenAIKey], s.env.OpenAIAPIKey),
		},
	}
	// A stored model, even a cleared one, belongs to the stored provider.
	// The environment model only applies to the environment provider.
	if m, ok := stored[configKeyModel]; ok {
		settings.Model = strings.TrimSpace(m)
	} else if strings.EqualFold(strings.TrimSpace(s.env.Provider), settings.Provider) {
		settings.Model = strings.TrimSpace(s.env.Model)
	}
	return settings, nil
}

// Provider builds the configured provider
func (s *AIConfigService) Provider(ctx context.Context) (provider.AIProvider, error) {
	settings, err := s.Settings(ctx)
	if err != nil {
		return nil, err
	}
	if !provider.Supported(settings.Provider) {
		return nil, fmt.Errorf("%w: %q", provider.ErrUnsupportedProvider, settings.Provider)
	}
	return provider.New(provider.Config{
		Provider: settings.Provider,
		Model:    settings.Model,
		APIKey:   settings.APIKeys[settings.Provider],
		Endpoint: s.env.Endpoint,
		Timeout:  s.env.Timeout,
		Limiter:  s.limiter,
		Client:   s.client,
	})
}

// View returns the settings with keys reduced to previews
func (s *AIConfigService) View(ctx context.Context) (*AIConfigView, error) {
	settings, err := s.Settings(ctx)
	if err != nil {
		return nil, err
	}
	keys := make(map[string]string, len(settings.APIKeys))
	for name, key := range settings.APIKeys {
		keys[name] = KeyPreview(key)
	}
	return &AIConfigView{
		Provider:  settings.Provider,
		Model:     settings.Model,
		Keys:      keys,
		Providers: []string{provider.Gemini, provider.OpenAI},
	}, nil
}

// Update stores the supplied settings. Switching provider without naming a
// model clears the stored model so the new provider uses its default.
func (s *AIConfigService) Update(ctx context.Context, req AIConfigUpdate) error {
	values := map[string]string{}
	model := strings.TrimSpace(req.Model)

	if p := strings.ToLower(strings.TrimSpace(req.Provider)); p != "" {
		if !provider.Supported(p) {
			return fmt.Errorf("%w: %q", provider.ErrUnsupportedProvider, req.Provider)
		}
		values[configKeyProvider] = p
		if model == "" {
			current, err := s.Settings(ctx)
			if err != nil {
				return err
			}
			if current.Provider != p {
				values[configKeyModel] = ""
			}
		}
	}
	if model != "" {
		values[configKeyModel] = model
	}
	if k := strings.TrimSpace(req.GeminiAPIKey); k != "" {
		values[configKeyGeminiKey] = k
	}
	if k := strings.TrimSpace(req.OpenAIAPIKey); k != "" {
		values[configKeyOpenAIKey] = k
	}
	if len(values) == 0 {
		return nil
	}
	return s.store.SetMany(ctx, values)
}

// KeyPreview shows the first four characters of a key
func KeyPreview(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 4 {
		return "..."
	}
	return key[:4] + "..."
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
