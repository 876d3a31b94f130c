package classifier

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// OpenAIBackend talks to any OpenAI-compatible chat completion API with vision support.
type OpenAIBackend struct {
	client      *openai.Client
	model       string
	temperature float32
}

// NewOpenAIBackend constructs an OpenAI-compatible backend.
func NewOpenAIBackend(cfg BackendConfig) (*OpenAIBackend, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		clientConfig.HTTPClient = cfg.HTTPClient
	}

	return &OpenAIBackend{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       cfg.Model,
		temperature: float32(cfg.Temperature),
	}, nil
}

// Chat implements Backend.
func (b *OpenAIBackend) Chat(ctx context.Context, system string, turns []Turn) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(turns)+1)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: system,
	})

	for _, turn := range turns {
		parts := []openai.ChatMessagePart{{
			Type: openai.ChatMessagePartTypeText,
			Text: turn.Text,
		}}
		for _, img := range turn.Images {
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL: dataURL(img),
				},
			})
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:         openai.ChatMessageRoleUser,
			MultiContent: parts,
		})
	}

	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       b.model,
		Messages:    messages,
		Temperature: b.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func dataURL(img Image) string {
	contentType := img.ContentType
	if contentType == "" {
		contentType = "image/jpeg"
	}
	return fmt.Sprintf("data:%s;base64,%s", contentType, img.Base64)
}
