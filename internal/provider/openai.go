package provider

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

const openAIEndpoint = "https://api.openai.com/v1"

// OpenAIProvider talks to any OpenAI-compatible chat completions API.
type OpenAIProvider struct {
	httpBackend
}

// NewOpenAIProvider creates an OpenAI-compatible provider. An empty
// endpoint means the public API.
func NewOpenAIProvider(cfg ProviderConfig, logger *zap.Logger) *OpenAIProvider {
	return &OpenAIProvider{newHTTPBackend("openai", openAIEndpoint, cfg, logger)}
}

// chatURL builds the completions URL. Gateways that route by path set
// Extra["path_model"] to "true" to put the model in the URL.
func (p *OpenAIProvider) chatURL(model string) string {
	if p.config.Extra["path_model"] == "true" && model != "" {
		return p.config.Endpoint + "/" + model + "/chat/completions"
	}
	return p.config.Endpoint + "/chat/completions"
}

type openAIChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

// Chat sends one non-streaming request and keeps the first choice.
func (p *OpenAIProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	var out openAIChatResponse
	headers := map[string]string{"Authorization": "Bearer " + p.config.APIKey}
	if err := p.postJSON(ctx, p.chatURL(req.Model), headers, req, &out); err != nil {
		return nil, fmt.Errorf("openai %s: %w", req.Model, err)
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("openai %s: %w", req.Model, ErrEmptyResponse)
	}
	choice := out.Choices[0]
	content := strings.TrimSpace(choice.Message.Content)
	if content == "" {
		return nil, fmt.Errorf("openai %s: %w", req.Model, ErrEmptyResponse)
	}

	p.logger.Debug("openai chat complete",
		zap.String("model", out.Model),
		zap.Int("tokens", out.Usage.TotalTokens))
	return &ChatResponse{
		ID:           out.ID,
		Model:        out.Model,
		Content:      content,
		FinishReason: choice.FinishReason,
		Usage:        out.Usage,
	}, nil
}
