package classifier

import (
	"net/http"
	"strings"

	apperrors "github.com/your-org/blipguard/pkg/errors"
)

// BackendConfig selects and configures a chat backend.
type BackendConfig struct {
	Provider    string
	BaseURL     string
	Model       string
	APIKey      string
	Temperature float64
	HTTPClient  *http.Client
}

// NewBackend builds the backend named by cfg.Provider.
func NewBackend(cfg BackendConfig) (Backend, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "ollama":
		return NewOllamaBackend(cfg), nil
	case "openai":
		backend, err := NewOpenAIBackend(cfg)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindConfig, "classifier.backend", "init openai backend", err)
		}
		return backend, nil
	default:
		return nil, apperrors.New(apperrors.KindConfig, "classifier.backend", "unsupported classifier provider: "+cfg.Provider)
	}
}
