package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OllamaBackend talks to the native Ollama /api/chat endpoint.
type OllamaBackend struct {
	baseURL    string
	model      string
	options    map[string]any
	httpClient *http.Client
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"` // raw base64, no data URL prefix
}

type ollamaResponse struct {
	Model   string `json:"model"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error,omitempty"`
}

// NewOllamaBackend constructs an Ollama backend.
func NewOllamaBackend(cfg BackendConfig) *OllamaBackend {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}

	var options map[string]any
	if cfg.Temperature > 0 {
		options = map[string]any{"temperature": cfg.Temperature}
	}

	return &OllamaBackend{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		model:      cfg.Model,
		options:    options,
		httpClient: client,
	}
}

// Chat implements Backend.
func (b *OllamaBackend) Chat(ctx context.Context, system string, turns []Turn) (string, error) {
	messages := make([]ollamaMessage, 0, len(turns)+1)
	messages = append(messages, ollamaMessage{Role: "system", Content: system})
	for _, turn := range turns {
		msg := ollamaMessage{Role: "user", Content: turn.Text}
		for _, img := range turn.Images {
			msg.Images = append(msg.Images, img.Base64)
		}
		messages = append(messages, msg)
	}

	body, err := json.Marshal(ollamaRequest{
		Model:    b.model,
		Messages: messages,
		Stream:   false,
		Options:  b.options,
	})
	if err != nil {
		return "", fmt.Errorf("marshal ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("call ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("ollama returned %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	var decoded ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode ollama response: %w", err)
	}
	if decoded.Error != "" {
		return "", fmt.Errorf("ollama error: %s", decoded.Error)
	}
	return strings.TrimSpace(decoded.Message.Content), nil
}
