package provider

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

const (
	anthropicEndpoint = "https://api.anthropic.com/v1"
	anthropicVersion  = "2023-06-01"
	// The messages API rejects requests without max_tokens.
	anthropicMaxTokens = 1024
)

// AnthropicProvider talks to the Anthropic messages API.
type AnthropicProvider struct {
	httpBackend
}

// NewAnthropicProvider creates an Anthropic provider. An empty endpoint
// means the public API.
func NewAnthropicProvider(cfg ProviderConfig, logger *zap.Logger) *AnthropicProvider {
	return &AnthropicProvider{newHTTPBackend("anthropic", anthropicEndpoint, cfg, logger)}
}

type anthropicRequest struct {
	Model       string         `json:"model"`
	Messages    []anthropicMsg `json:"messages"`
	System      string         `json:"system,omitempty"`
	MaxTokens   int            `json:"max_tokens"`
	Temperature float64        `json:"temperature,omitempty"`
}

type anthropicMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicResponse struct {
	ID         string           `json:"id"`
	Model      string           `json:"model"`
	Content    []anthropicBlock `json:"content"`
	StopReason string           `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Chat sends one non-streaming request. System messages are joined into the
// top-level system field; only text blocks of the answer are kept.
func (p *AnthropicProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	in := anthropicRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if in.MaxTokens <= 0 {
		in.MaxTokens = anthropicMaxTokens
	}
	var system []string
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = append(system, m.Content)
			continue
		}
		in.Messages = append(in.Messages, anthropicMsg{Role: m.Role, Content: m.Content})
	}
	in.System = strings.Join(system, "\n\n")

	var out anthropicResponse
	headers := map[string]string{
		"x-api-key":         p.config.APIKey,
		"anthropic-version": anthropicVersion,
	}
	if err := p.postJSON(ctx, p.config.Endpoint+"/messages", headers, in, &out); err != nil {
		return nil, fmt.Errorf("anthropic %s: %w", req.Model, err)
	}

	var text strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	content := strings.TrimSpace(text.String())
	if content == "" {
		return nil, fmt.Errorf("anthropic %s: %w", req.Model, ErrEmptyResponse)
	}

	usage := Usage{
		PromptTokens:     out.Usage.InputTokens,
		CompletionTokens: out.Usage.OutputTokens,
		TotalTokens:      out.Usage.InputTokens + out.Usage.OutputTokens,
	}
	p.logger.Debug("anthropic chat complete",
		zap.String("model", out.Model),
		zap.Int("tokens", usage.TotalTokens))
	return &ChatResponse{
		ID:           out.ID,
		Model:        out.Model,
		Content:      content,
		FinishReason: out.StopReason,
		Usage:        usage,
	}, nil
}
